package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"coefbot/internal/catalog"

	"github.com/robfig/cron/v3"
)

const (
	DefaultAPIURL         = "https://supplies-api.wildberries.ru/api/v1"
	DefaultUserAgent      = "coefbot/1.0"
	DefaultPollInterval   = 10 * time.Second
	DefaultUpstreamTO     = 5 * time.Second
	DefaultRestartBackoff = 5 * time.Second
	DefaultTGPollTimeout  = 10 * time.Second
	DefaultHandlerTO      = 15 * time.Second
)

// ErrMissingToken is returned when neither the file nor the environment
// provides a bot token.
var ErrMissingToken = errors.New("telegram token is required (telegram.token or " + EnvTelegramToken + ")")

// Settings is a Config with defaults applied and every duration parsed.
type Settings struct {
	TelegramToken  string
	AllowedUserIDs []int64
	AdminUserIDs   []int64
	LogChatID      int64
	PollTimeout    time.Duration
	HandlerTimeout time.Duration

	APIURL      string
	APIKey      string
	UpstreamTO  time.Duration
	UpstreamRPS float64
	UserAgent   string

	// Schedule is always a robfig/cron spec ("@every 10s" when only an interval is given).
	Schedule         string
	RestartBackoff   time.Duration
	HistoryRetention time.Duration

	Catalog *catalog.Catalog

	Notifier NotifierSettings
	Storage  *StorageSettings
	Systemd  bool
	// Debug is nil when the debug listener is off.
	Debug *DebugSettings
}

type DebugSettings struct {
	Addr          string
	Token         string
	AllowInsecure bool
}

type NotifierSettings struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

type StorageSettings struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// Resolve validates cfg and returns its typed form.
func Resolve(cfg *Config) (*Settings, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	s := &Settings{
		TelegramToken:  strings.TrimSpace(cfg.Telegram.Token),
		AllowedUserIDs: append([]int64(nil), cfg.Telegram.AllowedUserIDs...),
		AdminUserIDs:   append([]int64(nil), cfg.Telegram.AdminUserIDs...),
		LogChatID:      cfg.Telegram.LogChatID,
		APIKey:         strings.TrimSpace(cfg.Upstream.APIKey),
		UpstreamRPS:    cfg.Upstream.RatePerSec,
		UserAgent:      strings.TrimSpace(cfg.Upstream.UserAgent),
		Systemd:        cfg.Systemd.Notify,
	}
	if s.TelegramToken == "" {
		return nil, ErrMissingToken
	}
	if cfg.Logging.Telegram.Enabled && s.LogChatID == 0 {
		return nil, errors.New("logging.telegram.enabled requires telegram.log_chat_id")
	}

	var err error
	if s.PollTimeout, err = ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, DefaultTGPollTimeout); err != nil {
		return nil, err
	}
	if s.HandlerTimeout, err = ParseDurationOrDefault("telegram.handler_timeout", cfg.Telegram.HandlerTimeout, DefaultHandlerTO); err != nil {
		return nil, err
	}

	s.APIURL = strings.TrimRight(strings.TrimSpace(cfg.Upstream.APIURL), "/")
	if s.APIURL == "" {
		s.APIURL = DefaultAPIURL
	}
	if u, perr := url.Parse(s.APIURL); perr != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream.api_url: invalid url %q", s.APIURL)
	}
	if s.UpstreamTO, err = ParseDurationOrDefault("upstream.timeout", cfg.Upstream.Timeout, DefaultUpstreamTO); err != nil {
		return nil, err
	}
	if s.UpstreamRPS < 0 {
		return nil, errors.New("upstream.rate_per_sec must be >= 0")
	}
	if s.UpstreamRPS == 0 {
		s.UpstreamRPS = 1
	}
	if s.UserAgent == "" {
		s.UserAgent = DefaultUserAgent
	}

	if s.Schedule, err = resolveSchedule(cfg.Poller); err != nil {
		return nil, err
	}
	if s.RestartBackoff, err = ParseDurationOrDefault("poller.restart_backoff", cfg.Poller.RestartBackoff, DefaultRestartBackoff); err != nil {
		return nil, err
	}
	if s.HistoryRetention, err = ParseDurationField("poller.history_retention", cfg.Poller.HistoryRetention); err != nil {
		return nil, err
	}

	if len(cfg.Catalog.Warehouses) == 0 && len(cfg.Catalog.Coefficients) == 0 {
		s.Catalog = catalog.Default()
	} else {
		ws := cfg.Catalog.Warehouses
		if len(ws) == 0 {
			ws = catalog.DefaultWarehouses()
		}
		if s.Catalog, err = catalog.New(ws, cfg.Catalog.Coefficients); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
	}

	if s.Notifier, err = resolveNotifier(cfg.Notifier); err != nil {
		return nil, err
	}
	if s.Storage, err = resolveStorage(cfg.Storage); err != nil {
		return nil, err
	}
	if s.Debug, err = resolveDebug(cfg.Debug); err != nil {
		return nil, err
	}
	return s, nil
}

func resolveSchedule(p PollerConfig) (string, error) {
	if spec := strings.TrimSpace(p.Schedule); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return "", fmt.Errorf("poller.schedule: %w", err)
		}
		return spec, nil
	}
	every, err := ParseDurationOrDefault("poller.interval", p.Interval, DefaultPollInterval)
	if err != nil {
		return "", err
	}
	if every < time.Second {
		return "", errors.New("poller.interval must be >= 1s")
	}
	return "@every " + every.String(), nil
}

func resolveNotifier(n NotifierConfig) (NotifierSettings, error) {
	out := NotifierSettings{
		Workers:    n.Workers,
		QueueSize:  n.QueueSize,
		RatePerSec: n.RatePerSec,
		RetryMax:   n.RetryMax,
	}
	if out.Workers < 0 || out.QueueSize < 0 || out.RatePerSec < 0 || out.RetryMax < 0 {
		return out, errors.New("notifier: values must be >= 0")
	}
	if out.Workers == 0 {
		out.Workers = 4
	}
	if out.QueueSize == 0 {
		out.QueueSize = 1024
	}
	if out.RatePerSec == 0 {
		out.RatePerSec = 20
	}
	if out.RetryMax == 0 {
		out.RetryMax = 3
	}
	var err error
	if out.RetryBase, err = ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second); err != nil {
		return out, err
	}
	return out, nil
}

func resolveStorage(sc *StorageConfig) (*StorageSettings, error) {
	if sc == nil {
		return nil, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return nil, nil
	case "file", "sqlite":
	default:
		return nil, fmt.Errorf("storage.driver: unsupported %q (file|sqlite)", sc.Driver)
	}
	if path == "" {
		return nil, errors.New("storage.path is required")
	}
	bt, err := ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &StorageSettings{Driver: driver, Path: path, BusyTimeout: bt}, nil
}

func resolveDebug(dc *DebugConfig) (*DebugSettings, error) {
	if dc == nil || strings.TrimSpace(dc.Addr) == "" {
		return nil, nil
	}
	addr := strings.TrimSpace(dc.Addr)
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("debug.addr: %w", err)
	}
	return &DebugSettings{Addr: addr, Token: strings.TrimSpace(dc.Token), AllowInsecure: dc.AllowInsecure}, nil
}

// Validate is suitable for Manager.SetValidator.
func Validate(cfg *Config) error {
	_, err := Resolve(cfg)
	return err
}
