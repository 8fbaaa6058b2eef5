package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": append-only JSON Lines file
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Audit entry kinds.
const (
	KindCommand      = "command"
	KindNotification = "notification"
)

// AuditEntry is one line of the audit trail. Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	UserID int64     `json:"user_id"`
	// Action is the session command name or "sent"/"failed"/"dropped".
	Action string `json:"action"`
	// Target is the warehouse for commands, the alert key for notifications.
	Target   string `json:"target,omitempty"`
	Error    string `json:"error,omitempty"`
	MetaJSON string `json:"meta,omitempty"`
}
