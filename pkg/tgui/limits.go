package tgui

import "errors"

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
// It applies to the full "menu:action:payload" string.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")
