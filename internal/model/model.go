// Package model holds the data types shared by the upstream client,
// the session store and the change detector.
package model

import (
	"strconv"
	"strings"
	"time"
)

// WarehouseID is the upstream warehouse identifier.
type WarehouseID int64

func (id WarehouseID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseWarehouseID parses a decimal warehouse identifier.
func ParseWarehouseID(s string) (WarehouseID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return WarehouseID(n), nil
}

// DateLayout is the calendar-date format used as history keys.
const DateLayout = "2006-01-02"

// Record is one upstream coefficient observation. Produced fresh on every
// poll and not retained beyond one detection pass.
type Record struct {
	WarehouseID WarehouseID
	// Date is the calendar day (YYYY-MM-DD) the coefficient applies to.
	Date        string
	Coefficient int
	BoxType     string
}

// Valid reports whether r carries enough data to be matched against history.
func (r Record) Valid() bool {
	if r.WarehouseID == 0 {
		return false
	}
	_, err := time.Parse(DateLayout, r.Date)
	return err == nil
}

// DateFromTimestamp truncates an ISO-8601 timestamp ("2024-01-01T00:00:00Z")
// to its calendar date. A bare date passes through.
func DateFromTimestamp(ts string) (string, bool) {
	ts = strings.TrimSpace(ts)
	if i := strings.IndexByte(ts, 'T'); i >= 0 {
		ts = ts[:i]
	}
	if _, err := time.Parse(DateLayout, ts); err != nil {
		return "", false
	}
	return ts, true
}
