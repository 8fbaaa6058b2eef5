package sdnotify

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "coefbot/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(_ bool, state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func newTestNotifier(enabled bool, wd time.Duration) (*Notifier, *recorder) {
	rec := &recorder{}
	n := New(enabled, logx.Nop())
	n.notify = rec.notify
	n.watchdog = func(bool) (time.Duration, error) { return wd, nil }
	return n, rec
}

func TestDisabledIsNoop(t *testing.T) {
	t.Parallel()
	n, rec := newTestNotifier(false, 10*time.Millisecond)
	n.Ready()
	n.Stopping()
	n.Watchdog(context.Background())
	if len(rec.states) != 0 {
		t.Fatalf("states = %v", rec.states)
	}
	var nilN *Notifier
	nilN.Ready()
}

func TestReadyAndStopping(t *testing.T) {
	t.Parallel()
	n, rec := newTestNotifier(true, 0)
	n.Ready()
	n.Status("polling")
	n.Stopping()
	want := []string{daemon.SdNotifyReady, "STATUS=polling", daemon.SdNotifyStopping}
	if len(rec.states) != len(want) {
		t.Fatalf("states = %v", rec.states)
	}
	for i := range want {
		if rec.states[i] != want[i] {
			t.Fatalf("states[%d] = %q, want %q", i, rec.states[i], want[i])
		}
	}
	// Without a configured watchdog the loop returns at once.
	n.Watchdog(context.Background())
}

func TestWatchdogPings(t *testing.T) {
	t.Parallel()
	n, rec := newTestNotifier(true, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Watchdog(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for rec.count(daemon.SdNotifyWatchdog) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("no watchdog pings")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
