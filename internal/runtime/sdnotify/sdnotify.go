// Package sdnotify reports service state to systemd (Type=notify units).
// Outside systemd every call is a no-op.
package sdnotify

import (
	"context"
	"time"

	logx "coefbot/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

type Notifier struct {
	enabled bool
	log     logx.Logger

	notify   func(unsetEnv bool, state string) (bool, error)
	watchdog func(unsetEnv bool) (time.Duration, error)
}

func New(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{enabled: enabled, log: log, notify: daemon.SdNotify, watchdog: daemon.SdWatchdogEnabled}
}

func (n *Notifier) Ready()             { n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping()          { n.send(daemon.SdNotifyStopping) }
func (n *Notifier) Status(text string) { n.send("STATUS=" + text) }

func (n *Notifier) send(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := n.notify(false, state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case !sent:
		n.log.Debug("sd_notify skipped: NOTIFY_SOCKET not set", logx.String("state", state))
	}
}

// Watchdog pings systemd at half the unit's WatchdogSec until ctx is done.
// It returns immediately when the watchdog is not configured.
func (n *Notifier) Watchdog(ctx context.Context) {
	if n == nil || !n.enabled {
		return
	}
	every, err := n.watchdog(false)
	if err != nil {
		n.log.Warn("sd watchdog lookup failed", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	every /= 2
	n.log.Info("sd watchdog enabled", logx.Duration("every", every))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
