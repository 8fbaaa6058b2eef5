package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"coefbot/internal/eventbus"
	rtsup "coefbot/internal/runtime/supervisor"
	kit "coefbot/internal/transport"
	logx "coefbot/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historyCap = 300

type job struct {
	n kit.Notification
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	// shards[i] is drained by worker i only.
	shards   []chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{}

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
	}
	s.applyLocked(cfg)
	return s
}

// Apply updates rate and retry policy. Worker and queue sizes take effect
// on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	s.cfg = cfg
	// burst = rate so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.shards != nil {
		s.mu.Unlock()
		return
	}

	workers := s.cfg.Workers
	perShard := max(1, s.cfg.QueueSize/workers)
	s.shards = make([]chan job, workers)
	for i := range s.shards {
		s.shards[i] = make(chan job, perShard)
	}
	s.accepting = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// delivery failures never take the bot down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	shards := s.shards
	s.mu.Unlock()

	for i, q := range shards {
		q := q
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("notifier started", logx.Int("workers", len(shards)), logx.Int("queue_per_worker", perShard))
}

// Supervisor owns the workers; nil until Start.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Stop stops intake and drains the queues best-effort until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	shards := s.shards
	sup := s.sup
	if shards == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// In-flight enqueues finish before the queues close.
		s.sendWG.Wait()
		for _, q := range shards {
			close(q)
		}
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.shards = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Enqueue schedules n for delivery. It never blocks on a full queue.
func (s *Service) Enqueue(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.accepting || s.shards == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.shards[shardOf(n.Target.ChatID, len(s.shards))]
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- job{n: n}:
		return nil
	default:
		s.publish(eventbus.TypeNotifierDropped, NotificationEvent{ChatID: n.Target.ChatID, Key: n.Key, At: time.Now(), Error: ErrQueueFull.Error()})
		return ErrQueueFull
	}
}

// Snapshot returns recently delivered notifications, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// Pending reports queued jobs across all shards.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.shards {
		n += len(q)
	}
	return n
}

func (s *Service) appendHistory(n kit.Notification) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), ChatID: n.Target.ChatID, Key: n.Key})
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if s.adapter == nil || j.n.Text == "" {
		return
	}
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := s.adapter.SendText(callCtx, j.n.Target, j.n.Text, j.n.Options)
		cancel()
		if err == nil {
			s.appendHistory(j.n)
			s.publish(eventbus.TypeNotifierSent, NotificationEvent{ChatID: j.n.Target.ChatID, Key: j.n.Key, At: time.Now(), Attempts: attempt})
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt >= maxAttempts {
			break
		}

		delay := retryDelay(cfg, attempt)
		var ra RetryAfterError
		if errors.As(err, &ra) && ra.RetryAfter() > 0 {
			delay = ra.RetryAfter()
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.log.Warn("notification dropped after retries",
		logx.Int64("chat_id", j.n.Target.ChatID),
		logx.String("key", j.n.Key),
		logx.Err(lastErr),
	)
	s.publish(eventbus.TypeNotifierFailed, NotificationEvent{
		ChatID:   j.n.Target.ChatID,
		Key:      j.n.Key,
		At:       time.Now(),
		Attempts: min(attempt, maxAttempts),
		Error:    lastErr.Error(),
	})
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

func shardOf(chatID int64, n int) int {
	if n <= 1 {
		return 0
	}
	if chatID < 0 {
		chatID = -chatID
	}
	return int(chatID % int64(n))
}

// retryDelay is the wait before attempt+1: base*2^(attempt-1), jittered
// by 0.7..1.3 and capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
