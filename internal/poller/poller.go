// Package poller runs the fetch-and-detect loop: one upstream request per
// cycle for the union of tracked warehouses, then per-user change detection
// and fan-out to the notification sink.
package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"coefbot/internal/detect"
	"coefbot/internal/eventbus"
	"coefbot/internal/model"
	"coefbot/internal/session"
	logx "coefbot/pkg/logx"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Fetcher is the upstream coefficient source.
type Fetcher interface {
	FetchCoefficients(ctx context.Context, ids []model.WarehouseID) ([]model.Record, error)
}

// Sink receives a user's notifications for one cycle, in detection order.
// Implementations must not block for long; the cycle is sequential.
type Sink interface {
	Notify(ctx context.Context, userID int64, ns []detect.Notification)
}

type Options struct {
	// Schedule is a cron spec; "@every 10s" style descriptors are accepted.
	Schedule     string
	FetchTimeout time.Duration
	// Retention prunes history dates older than now-Retention after each
	// detection pass. Zero keeps history forever.
	Retention time.Duration
	Bus       eventbus.Bus
	Log       logx.Logger
	Now       func() time.Time
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	ID            string
	StartedAt     time.Time
	Duration      time.Duration
	Warehouses    int
	Records       int
	Users         int
	Notifications int
	Skipped       int
	Pruned        int
	// Idle is set when no session tracks any warehouse and the fetch was skipped.
	Idle bool
	Err  error
}

type Poller struct {
	store    session.Store
	fetch    Fetcher
	sink     Sink
	schedule cron.Schedule
	spec     string
	timeout  time.Duration
	keep     time.Duration
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time

	last atomic.Pointer[CycleReport]
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(store session.Store, fetch Fetcher, sink Sink, opts Options) (*Poller, error) {
	if store == nil || fetch == nil || sink == nil {
		return nil, errors.New("poller: store, fetcher and sink are required")
	}
	spec := opts.Schedule
	if spec == "" {
		spec = "@every 10s"
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("poller: schedule %q: %w", spec, err)
	}
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Poller{
		store:    store,
		fetch:    fetch,
		sink:     sink,
		schedule: sched,
		spec:     spec,
		timeout:  timeout,
		keep:     opts.Retention,
		bus:      opts.Bus,
		log:      opts.Log.With(logx.String("comp", "poller")),
		now:      now,
	}, nil
}

// Last returns the most recent cycle report.
func (p *Poller) Last() (CycleReport, bool) {
	r := p.last.Load()
	if r == nil {
		return CycleReport{}, false
	}
	return *r, true
}

// Run polls once immediately and then on the schedule until ctx is done.
// Overlapping ticks are skipped. A panicking cycle stops Run with an error
// so the caller can restart the loop.
func (p *Poller) Run(ctx context.Context) error {
	fault := make(chan error, 1)
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				select {
				case fault <- fmt.Errorf("poll cycle panic: %v\n%s", r, debug.Stack()):
				default:
				}
			}
		}()
		p.RunCycle(ctx)
	}

	job()
	select {
	case err := <-fault:
		return err
	default:
	}

	cl := cronLogger{log: p.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(p.schedule, cron.FuncJob(job))
	c.Start()
	defer func() { <-c.Stop().Done() }()
	p.log.Info("poller started", logx.String("schedule", p.spec))

	select {
	case <-ctx.Done():
		p.log.Info("poller stopped")
		return nil
	case err := <-fault:
		return err
	}
}

// RunCycle performs one fetch-and-detect pass. A fetch failure skips the
// cycle without touching any session.
func (p *Poller) RunCycle(ctx context.Context) CycleReport {
	rep := CycleReport{ID: uuid.NewString(), StartedAt: p.now()}
	log := p.log.With(logx.String("cycle_id", rep.ID))
	defer func() {
		rep.Duration = p.now().Sub(rep.StartedAt)
		r := rep
		p.last.Store(&r)
		if p.bus != nil {
			p.bus.Publish(eventbus.Event{Type: eventbus.TypePollCycle, Time: p.now(), Data: r})
		}
	}()

	ids := session.TrackedWarehouses(p.store)
	rep.Warehouses = len(ids)
	if len(ids) == 0 {
		rep.Idle = true
		log.Debug("no tracked warehouses; skipping fetch")
		return rep
	}

	fctx, cancel := context.WithTimeout(ctx, p.timeout)
	records, err := p.fetch.FetchCoefficients(fctx, ids)
	cancel()
	if err != nil {
		rep.Err = err
		log.Warn("fetch coefficients failed; skipping cycle", logx.Err(err), logx.Int("warehouses", len(ids)))
		return rep
	}
	rep.Records = len(records)
	for _, r := range records {
		if !r.Valid() {
			rep.Skipped++
		}
	}

	cutoff := ""
	if p.keep > 0 {
		// Upstream dates are UTC calendar days.
		cutoff = p.now().UTC().Add(-p.keep).Format(model.DateLayout)
	}

	for _, uid := range p.store.UserIDs() {
		if ctx.Err() != nil {
			rep.Err = ctx.Err()
			return rep
		}
		var res detect.Result
		err := p.store.Update(uid, func(s *session.Session) error {
			res = detect.Detect(&s.Sub, s.History, records)
			if cutoff != "" {
				rep.Pruned += s.History.PruneBefore(cutoff)
			}
			return nil
		})
		if err != nil {
			// Session vanished between UserIDs and Update.
			continue
		}
		rep.Users++
		if len(res.Notifications) == 0 {
			continue
		}
		rep.Notifications += len(res.Notifications)
		p.sink.Notify(ctx, uid, res.Notifications)
	}

	if rep.Skipped > 0 {
		log.Warn("poll cycle done; malformed records skipped",
			logx.Int("records", rep.Records),
			logx.Int("skipped", rep.Skipped),
			logx.Int("users", rep.Users),
			logx.Int("notifications", rep.Notifications),
			logx.Int("pruned", rep.Pruned),
		)
	} else if rep.Notifications > 0 || rep.Pruned > 0 {
		log.Info("poll cycle done",
			logx.Int("records", rep.Records),
			logx.Int("users", rep.Users),
			logx.Int("notifications", rep.Notifications),
			logx.Int("pruned", rep.Pruned),
		)
	} else {
		log.Debug("poll cycle done", logx.Int("records", rep.Records), logx.Int("users", rep.Users))
	}
	return rep
}

// cronLogger routes robfig/cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Warn("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
