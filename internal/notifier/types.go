package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Key    string
}

// NotificationEvent is the payload of notifier.* bus events.
type NotificationEvent struct {
	ChatID   int64     `json:"chat_id"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// RetryAfterError is implemented by transport errors that carry a
// server-mandated wait (Telegram 429).
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}
