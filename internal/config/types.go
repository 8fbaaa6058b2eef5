package config

import (
	"coefbot/internal/catalog"
	logx "coefbot/pkg/logx"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Upstream UpstreamConfig `json:"upstream"`
	Poller   PollerConfig   `json:"poller"`
	Catalog  CatalogConfig  `json:"catalog,omitempty"`
	Notifier NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Systemd  SystemdConfig  `json:"systemd,omitempty"`
	Debug    *DebugConfig   `json:"debug,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and supplied via TELEGRAM_BOT_TOKEN.
	Token string `json:"token"`
	// AllowedUserIDs is the allow-list; everyone else is denied.
	AllowedUserIDs []int64 `json:"allowed_user_ids"`
	// AdminUserIDs may additionally use /status.
	AdminUserIDs []int64 `json:"admin_user_ids,omitempty"`
	// LogChatID receives WARN+ log lines when logging.telegram.enabled is set.
	LogChatID int64 `json:"log_chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// HandlerTimeout bounds a single command/callback handler.
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// UpstreamConfig points at the supplies API.
//
// Defaults:
//   - api_url: "https://supplies-api.wildberries.ru/api/v1"
//   - timeout: "5s"
//   - rate_per_sec: 1 (burst 1)
type UpstreamConfig struct {
	APIURL string `json:"api_url,omitempty"`
	// APIKey may be supplied via WB_API_KEY instead.
	APIKey     string  `json:"api_key,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	UserAgent  string  `json:"user_agent,omitempty"`
}

// PollerConfig controls the fetch-and-detect loop.
//
// Schedule accepts "@every 10s" style or a cron expression; when empty,
// Interval (default "10s") is used.
type PollerConfig struct {
	Interval string `json:"interval,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	// RestartBackoff is the fixed delay before a crashed loop is restarted.
	RestartBackoff string `json:"restart_backoff,omitempty"`
	// HistoryRetention prunes history dates older than now-retention.
	// Empty or "0s" keeps history forever.
	HistoryRetention string `json:"history_retention,omitempty"`
}

type CatalogConfig struct {
	Warehouses   []catalog.Warehouse `json:"warehouses,omitempty"`
	Coefficients []int               `json:"coefficients,omitempty"`
}

// NotifierConfig controls the async delivery pipeline.
type NotifierConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// StorageConfig controls the optional audit trail.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/coefbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SystemdConfig toggles sd_notify integration. It is a no-op when the
// process is not started by systemd.
type SystemdConfig struct {
	Notify bool `json:"notify,omitempty"`
}

// Logx converts the logging section for logx.New / Service.Apply.
func (c LoggingConfig) Logx(chatID int64) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Telegram.Enabled,
			ChatID:     chatID,
			MinLevel:   c.Telegram.MinLevel,
			RatePerSec: c.Telegram.RatePerSec,
		},
	}
}

// DebugConfig enables the local pprof and /healthz listener.
//
// A non-loopback addr requires a token unless allow_insecure is set.
type DebugConfig struct {
	Addr          string `json:"addr"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
