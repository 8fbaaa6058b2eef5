package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coefbot/internal/audit"
	"coefbot/internal/config"
	"coefbot/internal/eventbus"
	"coefbot/internal/menu"
	"coefbot/internal/notifier"
	"coefbot/internal/observability/debug"
	"coefbot/internal/poller"
	"coefbot/internal/runtime/sdnotify"
	rtsup "coefbot/internal/runtime/supervisor"
	"coefbot/internal/session"
	"coefbot/internal/storage"
	kit "coefbot/internal/transport"
	telegram "coefbot/internal/transport/telegram/adapter"
	"coefbot/internal/transport/telegram/router"
	"coefbot/internal/wbapi"
	logx "coefbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	set  *config.Settings

	sup *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  *telegram.Adapter
	router   *router.Router
	sessions *session.Service
	poller   *poller.Poller
	notif    *notifier.Service
	recorder *audit.Recorder
	sd       *sdnotify.Notifier

	updates   chan kit.Update
	startedAt time.Time
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	set, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: set.TelegramToken, PollTimeout: set.PollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.Logx(set.LogChatID), ad)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc := set.Storage; sc != nil {
		st, err := storage.Open(storage.Config{Driver: sc.Driver, Path: sc.Path, BusyTimeout: sc.BusyTimeout},
			log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	client, err := wbapi.New(wbapi.Options{
		BaseURL:    set.APIURL,
		APIKey:     set.APIKey,
		UserAgent:  set.UserAgent,
		RatePerSec: set.UpstreamRPS,
		Log:        log.With(logx.String("comp", "wbapi")),
	})
	if err != nil {
		return nil, err
	}

	sessions := session.NewService(session.NewMemoryStore(), set.Catalog, bus, log.With(logx.String("comp", "session")))
	notif := notifier.New(notifierConfig(set), ad, log, bus)
	sink := notifier.NewCoefficientSink(notif, set.Catalog, log.With(logx.String("comp", "sink")))

	pl, err := poller.New(sessions.Store(), client, sink, poller.Options{
		Schedule:     set.Schedule,
		FetchTimeout: set.UpstreamTO,
		Retention:    set.HistoryRetention,
		Bus:          bus,
		Log:          log.With(logx.String("comp", "poller")),
	})
	if err != nil {
		return nil, err
	}

	rt := router.New(log.With(logx.String("comp", "router")), ad, aclOf(set), router.Options{HandlerTimeout: set.HandlerTimeout})

	a := &App{
		cfgm:     cfgm,
		set:      set,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		router:   rt,
		sessions: sessions,
		poller:   pl,
		notif:    notif,
		sd:       sdnotify.New(set.Systemd, log.With(logx.String("comp", "systemd"))),
		updates:  make(chan kit.Update, 256),

		startedAt: time.Now(),
	}
	if store != nil {
		a.recorder = audit.NewRecorder(store, bus, log.With(logx.String("comp", "audit")))
	}

	m := menu.New(sessions, menu.Status{
		StartedAt:   a.startedAt,
		Cycles:      pl,
		Queue:       notif,
		Supervisors: a.supervisors,
	}, log.With(logx.String("comp", "menu")))
	rt.SetRegistry(m.Routes())
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) supervisors() []*rtsup.Supervisor {
	return []*rtsup.Supervisor{a.sup, a.adapter.Supervisor(), a.router.Supervisor(), a.notif.Supervisor()}
}

func (a *App) health() debug.Health {
	h := debug.Health{
		Status:   debug.StatusOK,
		Uptime:   time.Since(a.startedAt).Truncate(time.Second).String(),
		Sessions: len(a.sessions.Store().UserIDs()),
		Pending:  a.notif.Pending(),
	}
	if r, ok := a.poller.Last(); ok {
		h.LastCycleAt, h.LastCycleIdle = r.StartedAt, r.Idle
		if r.Err != nil {
			h.Status, h.LastCycleErr = debug.StatusDegraded, r.Err.Error()
		}
	}
	return h
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional reload: a file that does not resolve is never committed.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.notif.Start(a.sup.Context())

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	// A panicking cycle is restarted after a fixed pause; the bot keeps serving menus meanwhile.
	a.sup.GoRestart("poller", a.poller.Run,
		rtsup.WithRestartBackoff(a.set.RestartBackoff, a.set.RestartBackoff),
		rtsup.WithPublishFirstError(false),
	)

	if a.recorder != nil {
		a.sup.Go("audit.recorder", a.recorder.Run)
	}

	if d := a.set.Debug; d != nil {
		srv := debug.New(debug.Config{Addr: d.Addr, Token: d.Token, AllowInsecure: d.AllowInsecure},
			a.health, a.log.With(logx.String("comp", "debug")))
		// Optional observability; a bind failure must not stop the bot.
		a.sup.GoRestart("debug.http", srv.Run,
			rtsup.WithRestartBackoff(time.Second, 30*time.Second),
			rtsup.WithPublishFirstError(false),
		)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(newCfg)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)
	a.sd.Ready()
	a.log.Info("app started",
		logx.String("schedule", a.set.Schedule),
		logx.Int("warehouses", len(a.set.Catalog.All())),
		logx.Int("allowed_users", len(a.set.AllowedUserIDs)),
	)
	return nil
}

// applyConfig swaps the live parts of a reloaded config: logging, the
// allow-list and notifier pacing. Everything else waits for a restart.
func (a *App) applyConfig(cfg *config.Config) {
	next, err := config.Resolve(cfg)
	if err != nil {
		a.log.Warn("reloaded config does not resolve; keeping previous", logx.Err(err))
		return
	}
	prev := a.set

	a.logs.Apply(cfg.Logging.Logx(next.LogChatID))
	a.router.SetACL(aclOf(next))
	a.notif.Apply(notifierConfig(next))

	if sections := restartSections(prev, next); len(sections) > 0 {
		a.log.Warn("config changed; restart required for these sections", logx.String("sections", strings.Join(sections, ",")))
	}
	// Live fields only; restart-bound values stay as started.
	applied := *prev
	applied.AllowedUserIDs, applied.AdminUserIDs, applied.LogChatID = next.AllowedUserIDs, next.AdminUserIDs, next.LogChatID
	applied.Notifier = next.Notifier
	a.set = &applied
	a.log.Info("config applied", logx.Int("allowed_users", len(next.AllowedUserIDs)))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		// Respect the caller's deadline; never extend it.
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// fn must honor stepCtx; a late return is only logged.
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("adapter", 2*time.Second, a.adapter.Stop)
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
