// Package storage is the optional audit trail: session commands and
// notification deliveries appended to a JSONL file or a SQLite table.
//
// Sessions themselves are never persisted here.
package storage
