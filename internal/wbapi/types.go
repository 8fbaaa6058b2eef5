package wbapi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingAPIKey is returned by New when no API key is configured.
var ErrMissingAPIKey = errors.New("wbapi: api key is required")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("wbapi: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("wbapi: unexpected status %d: %s", e.Code, e.Body)
}

// Temporary reports whether retrying later may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == 429 || e.Code >= 500
}

// rawCoefficient is one element of the acceptance/coefficients response.
type rawCoefficient struct {
	Date          string      `json:"date"`
	Coefficient   json.Number `json:"coefficient"`
	WarehouseID   int64       `json:"warehouseID"`
	WarehouseName string      `json:"warehouseName"`
	BoxTypeName   string      `json:"boxTypeName"`
}
