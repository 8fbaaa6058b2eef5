package tgui

import (
	"fmt"
	"strings"
)

// Data formats inline callback data as "menu:action:payload".
// The payload is kept as-is and may itself contain ':'.
func Data(menu, action, payload string) string {
	menu = strings.TrimSpace(menu)
	action = strings.TrimSpace(action)
	if payload == "" {
		return menu + ":" + action
	}
	return menu + ":" + action + ":" + payload
}

// CheckedData is Data with the Telegram size limit enforced.
func CheckedData(menu, action, payload string) (string, error) {
	d := Data(menu, action, payload)
	if len(d) > MaxCallbackDataLen {
		return "", fmt.Errorf("%w: %d bytes", ErrCallbackDataTooLong, len(d))
	}
	return d, nil
}

// ParseData splits callback data produced by Data.
func ParseData(data string) (menu, action, payload string, ok bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}
