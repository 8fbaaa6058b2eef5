package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalJSON = `{
  "telegram": {"token": "123:abc", "allowed_user_ids": [42]},
  "logging": {"level": "info", "console": true},
  "upstream": {"api_key": "k"},
  "poller": {}
}`

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := Decode("cfg.json", []byte(`{"telegram": {"tokn": "x"}}`))
	if err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("err = %v, want unknown field", err)
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	t.Parallel()
	if _, err := Decode("cfg.json", []byte(minimalJSON+` {}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	src := `
telegram:
  token: "1:x"
  allowed_user_ids: [7, 8]
poller:
  interval: 30s
catalog:
  warehouses:
    - id: 507
      name: Koledino
    - id: 1733
  coefficients: [0, 1, 2]
`
	cfg, err := Decode("cfg.yaml", []byte(src))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	s, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := s.AllowedUserIDs; len(got) != 2 || got[0] != 7 || got[1] != 8 {
		t.Fatalf("AllowedUserIDs = %v", got)
	}
	if s.Schedule != "@every 30s" {
		t.Fatalf("Schedule = %q", s.Schedule)
	}
	if n := len(s.Catalog.All()); n != 2 {
		t.Fatalf("catalog size = %d, want 2", n)
	}
	if got := s.Catalog.NameOf(1733); got != "#1733" {
		t.Fatalf("NameOf(1733) = %q", got)
	}
	if got := s.Catalog.Coefficients(); len(got) != 3 {
		t.Fatalf("Coefficients = %v", got)
	}
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("cfg.json", []byte(minimalJSON))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	s, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.APIURL != DefaultAPIURL {
		t.Fatalf("APIURL = %q", s.APIURL)
	}
	if s.Schedule != "@every 10s" {
		t.Fatalf("Schedule = %q", s.Schedule)
	}
	if s.UpstreamTO != 5*time.Second || s.RestartBackoff != 5*time.Second {
		t.Fatalf("timeouts = %v / %v", s.UpstreamTO, s.RestartBackoff)
	}
	if s.HistoryRetention != 0 {
		t.Fatalf("HistoryRetention = %v, want 0 (keep forever)", s.HistoryRetention)
	}
	if s.Storage != nil {
		t.Fatalf("Storage = %+v, want nil", s.Storage)
	}
	if len(s.Catalog.All()) != 7 {
		t.Fatalf("default catalog size = %d", len(s.Catalog.All()))
	}
	if s.Notifier.Workers != 4 || s.Notifier.RetryMax != 3 {
		t.Fatalf("Notifier = %+v", s.Notifier)
	}
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, want: "token"},
		{name: "bad interval", mutate: func(c *Config) { c.Poller.Interval = "soon" }, want: "poller.interval"},
		{name: "interval too small", mutate: func(c *Config) { c.Poller.Interval = "100ms" }, want: ">= 1s"},
		{name: "bad cron", mutate: func(c *Config) { c.Poller.Schedule = "* *" }, want: "poller.schedule"},
		{name: "bad url", mutate: func(c *Config) { c.Upstream.APIURL = "not a url" }, want: "api_url"},
		{name: "storage driver", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "redis", Path: "x"} }, want: "unsupported"},
		{name: "storage path", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, want: "storage.path"},
		{name: "log chat", mutate: func(c *Config) { c.Logging.Telegram.Enabled = true }, want: "log_chat_id"},
		{name: "debug addr", mutate: func(c *Config) { c.Debug = &DebugConfig{Addr: "6060"} }, want: "debug.addr"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode("cfg.json", []byte(minimalJSON))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			tt.mutate(cfg)
			_, err = Resolve(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestResolveMissingTokenSentinel(t *testing.T) {
	t.Parallel()
	_, err := Resolve(&Config{})
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err = %v, want ErrMissingToken", err)
	}
}

func TestParseAppliesEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"telegram":{"token":""},"upstream":{}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvTelegramToken, "env-token")
	t.Setenv(EnvAPIKey, "env-key")

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "env-token" || cfg.Upstream.APIKey != "env-key" {
		t.Fatalf("env not applied: %+v / %+v", cfg.Telegram, cfg.Upstream)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	t.Parallel()
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadDotEnv missing file: %v", err)
	}
}

func TestManagerReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(minimalJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if m.reload(context.Background()) {
		t.Fatal("unchanged file must not publish")
	}

	updated := strings.Replace(minimalJSON, `"level": "info"`, `"level": "debug"`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	if !m.reload(context.Background()) {
		t.Fatal("changed file must publish")
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	default:
		t.Fatal("no config published")
	}

	// A config that fails validation keeps the previous snapshot.
	if err := os.WriteFile(path, []byte(`{"telegram":{"token":"x"},"poller":{"interval":"soon"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if m.reload(context.Background()) {
		t.Fatal("invalid config must be rejected")
	}
	if got := m.Get().Logging.Level; got != "debug" {
		t.Fatalf("current level = %q, want debug", got)
	}
}
