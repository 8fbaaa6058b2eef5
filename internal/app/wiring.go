package app

import (
	"slices"

	"coefbot/internal/catalog"
	"coefbot/internal/config"
	"coefbot/internal/notifier"
	"coefbot/internal/transport/telegram/router"
)

func aclOf(s *config.Settings) router.ACL {
	return router.NewACL(s.AllowedUserIDs, s.AdminUserIDs)
}

func notifierConfig(s *config.Settings) notifier.Config {
	n := s.Notifier
	return notifier.Config{
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     n.RetryBase,
		RetryMaxDelay: n.RetryMaxDelay,
	}
}

// restartSections names the config sections that changed but are only read at startup.
func restartSections(prev, next *config.Settings) []string {
	var out []string
	if prev.TelegramToken != next.TelegramToken || prev.PollTimeout != next.PollTimeout || prev.HandlerTimeout != next.HandlerTimeout {
		out = append(out, "telegram")
	}
	if prev.APIURL != next.APIURL || prev.APIKey != next.APIKey || prev.UpstreamTO != next.UpstreamTO ||
		prev.UpstreamRPS != next.UpstreamRPS || prev.UserAgent != next.UserAgent {
		out = append(out, "upstream")
	}
	if prev.Schedule != next.Schedule || prev.RestartBackoff != next.RestartBackoff || prev.HistoryRetention != next.HistoryRetention {
		out = append(out, "poller")
	}
	if !sameCatalog(prev.Catalog, next.Catalog) {
		out = append(out, "catalog")
	}
	if prev.Notifier.Workers != next.Notifier.Workers || prev.Notifier.QueueSize != next.Notifier.QueueSize {
		out = append(out, "notifier.workers")
	}
	if !samePtr(prev.Storage, next.Storage) {
		out = append(out, "storage")
	}
	if prev.Systemd != next.Systemd {
		out = append(out, "systemd")
	}
	if !samePtr(prev.Debug, next.Debug) {
		out = append(out, "debug")
	}
	return out
}

func sameCatalog(a, b *catalog.Catalog) bool {
	if a == nil || b == nil {
		return a == b
	}
	return slices.Equal(a.All(), b.All()) && slices.Equal(a.Coefficients(), b.Coefficients())
}

func samePtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
