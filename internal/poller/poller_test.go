package poller

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"coefbot/internal/catalog"
	"coefbot/internal/detect"
	"coefbot/internal/eventbus"
	"coefbot/internal/model"
	"coefbot/internal/session"
	logx "coefbot/pkg/logx"
)

type fakeFetcher struct {
	mu      sync.Mutex
	records []model.Record
	err     error
	calls   [][]model.WarehouseID
	panicky bool
}

func (f *fakeFetcher) FetchCoefficients(_ context.Context, ids []model.WarehouseID) ([]model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]model.WarehouseID(nil), ids...))
	if f.panicky {
		panic("boom")
	}
	return f.records, f.err
}

func (f *fakeFetcher) set(records []model.Record, err error) {
	f.mu.Lock()
	f.records, f.err = records, err
	f.mu.Unlock()
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSink struct {
	mu  sync.Mutex
	got map[int64][]detect.Notification
}

func (s *fakeSink) Notify(_ context.Context, uid int64, ns []detect.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.got == nil {
		s.got = map[int64][]detect.Notification{}
	}
	s.got[uid] = append(s.got[uid], ns...)
}

func (s *fakeSink) count(uid int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got[uid])
}

// subscribe creates a completed session tracking id with the given values.
func subscribe(t *testing.T, svc *session.Service, uid int64, id model.WarehouseID, values ...int) {
	t.Helper()
	if _, err := svc.ToggleWarehouse(uid, id); err != nil {
		t.Fatalf("ToggleWarehouse: %v", err)
	}
	for _, v := range values {
		if _, err := svc.ToggleCoefficient(uid, id, v); err != nil {
			t.Fatalf("ToggleCoefficient: %v", err)
		}
	}
	if err := svc.CompleteSetup(uid); err != nil {
		t.Fatalf("CompleteSetup: %v", err)
	}
}

func setup(t *testing.T) (*session.Service, *fakeFetcher, *fakeSink, *Poller) {
	t.Helper()
	store := session.NewMemoryStore()
	svc := session.NewService(store, catalog.Default(), nil, logx.Nop())
	f := &fakeFetcher{}
	s := &fakeSink{}
	p, err := New(store, f, s, Options{Schedule: "@every 1s", Log: logx.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, f, s, p
}

func TestRunCycleIdleSkipsFetch(t *testing.T) {
	t.Parallel()
	svc, f, _, p := setup(t)
	svc.Start(1) // session exists but tracks nothing

	rep := p.RunCycle(context.Background())
	if !rep.Idle || f.callCount() != 0 {
		t.Fatalf("idle=%v calls=%d, want idle with no fetch", rep.Idle, f.callCount())
	}
}

func TestRunCycleFetchesUnionOnce(t *testing.T) {
	t.Parallel()
	svc, f, _, p := setup(t)
	svc.Start(1)
	svc.Start(2)
	svc.Start(3)
	subscribe(t, svc, 1, 507, 0)
	subscribe(t, svc, 2, 1733, 2)
	// Incomplete sessions still contribute to the union.
	if _, err := svc.ToggleWarehouse(3, 117986); err != nil {
		t.Fatal(err)
	}

	p.RunCycle(context.Background())
	if f.callCount() != 1 {
		t.Fatalf("fetch calls = %d, want 1", f.callCount())
	}
	want := []model.WarehouseID{507, 1733, 117986}
	got := f.calls[0]
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}

func TestRunCycleFanOut(t *testing.T) {
	t.Parallel()
	svc, f, sink, p := setup(t)
	svc.Start(1)
	svc.Start(2)
	subscribe(t, svc, 1, 507, 0, 2)
	subscribe(t, svc, 2, 507, 4)

	f.set([]model.Record{
		{WarehouseID: 507, Date: "2024-05-01", Coefficient: 0, BoxType: "Boxes"},
		{WarehouseID: 507, Date: "2024-05-02", Coefficient: 4, BoxType: "Boxes"},
	}, nil)

	rep := p.RunCycle(context.Background())
	if rep.Err != nil {
		t.Fatalf("cycle err: %v", rep.Err)
	}
	if sink.count(1) != 1 || sink.count(2) != 1 {
		t.Fatalf("user1=%d user2=%d, want 1 each", sink.count(1), sink.count(2))
	}
	if rep.Notifications != 2 || rep.Users != 2 {
		t.Fatalf("report = %+v", rep)
	}

	// Same data again: nothing new.
	p.RunCycle(context.Background())
	if sink.count(1) != 1 || sink.count(2) != 1 {
		t.Fatalf("repeat cycle produced notifications")
	}

	// Change for user 1 only.
	f.set([]model.Record{{WarehouseID: 507, Date: "2024-05-01", Coefficient: 2}}, nil)
	p.RunCycle(context.Background())
	if sink.count(1) != 2 {
		t.Fatalf("user1 = %d, want 2", sink.count(1))
	}
	last := sink.got[1][1]
	if last.Kind != detect.KindChanged || last.Old != 0 || last.New != 2 {
		t.Fatalf("notification = %+v", last)
	}
}

func TestRunCycleUpstreamFailureLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	svc, f, sink, p := setup(t)
	svc.Start(1)
	subscribe(t, svc, 1, 507, 0)
	f.set([]model.Record{{WarehouseID: 507, Date: "2024-05-01", Coefficient: 0}}, nil)
	p.RunCycle(context.Background())

	before, _ := svc.History(1)
	f.set(nil, errors.New("upstream down"))
	rep := p.RunCycle(context.Background())
	if rep.Err == nil {
		t.Fatal("expected cycle error")
	}
	after, _ := svc.History(1)
	if before.Len() != after.Len() || sink.count(1) != 1 {
		t.Fatalf("state changed on failed cycle: %d -> %d, notifications %d", before.Len(), after.Len(), sink.count(1))
	}
	if last, ok := p.Last(); !ok || last.Err == nil {
		t.Fatalf("Last() = %+v, %v", last, ok)
	}
}

func TestRunCyclePrunesHistory(t *testing.T) {
	t.Parallel()
	store := session.NewMemoryStore()
	svc := session.NewService(store, catalog.Default(), nil, logx.Nop())
	f := &fakeFetcher{}
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	p, err := New(store, f, &fakeSink{}, Options{
		Retention: 48 * time.Hour,
		Log:       logx.Nop(),
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	svc.Start(1)
	subscribe(t, svc, 1, 507, 0)
	f.set([]model.Record{
		{WarehouseID: 507, Date: "2024-05-01", Coefficient: 0},
		{WarehouseID: 507, Date: "2024-05-09", Coefficient: 0},
	}, nil)

	rep := p.RunCycle(context.Background())
	if rep.Pruned != 1 {
		t.Fatalf("Pruned = %d, want 1", rep.Pruned)
	}
	h, _ := svc.History(1)
	if _, ok := h.Lookup(507, "2024-05-01", ""); ok {
		t.Fatal("old date not pruned")
	}
	if _, ok := h.Lookup(507, "2024-05-09", ""); !ok {
		t.Fatal("recent date pruned")
	}
}

func TestRetentionCutoffUsesUTCDate(t *testing.T) {
	t.Parallel()
	store := session.NewMemoryStore()
	svc := session.NewService(store, catalog.Default(), nil, logx.Nop())
	f := &fakeFetcher{}
	// 01:00 on May 10 at UTC+5 is still May 9 in UTC.
	now := time.Date(2024, 5, 10, 1, 0, 0, 0, time.FixedZone("UTC+5", 5*3600))
	p, err := New(store, f, &fakeSink{}, Options{
		Retention: 24 * time.Hour,
		Log:       logx.Nop(),
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	svc.Start(1)
	subscribe(t, svc, 1, 507, 0)
	f.set([]model.Record{
		{WarehouseID: 507, Date: "2024-05-07", Coefficient: 0},
		{WarehouseID: 507, Date: "2024-05-08", Coefficient: 0},
	}, nil)

	if rep := p.RunCycle(context.Background()); rep.Pruned != 1 {
		t.Fatalf("Pruned = %d, want 1", rep.Pruned)
	}
	h, _ := svc.History(1)
	if _, ok := h.Lookup(507, "2024-05-08", ""); !ok {
		t.Fatal("2024-05-08 pruned; cutoff computed in local time")
	}
}

func TestRunCycleLogsSkippedRecords(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	store := session.NewMemoryStore()
	svc := session.NewService(store, catalog.Default(), nil, logx.Nop())
	f := &fakeFetcher{}
	p, err := New(store, f, &fakeSink{}, Options{Log: logx.NewWriter(&buf, "debug")})
	if err != nil {
		t.Fatal(err)
	}
	svc.Start(1)
	subscribe(t, svc, 1, 507, 2)
	f.set([]model.Record{
		{WarehouseID: 507, Coefficient: 2},
		{WarehouseID: 507, Date: "2024-05-01", Coefficient: 2},
	}, nil)

	rep := p.RunCycle(context.Background())
	if rep.Skipped != 1 || rep.Notifications != 1 {
		t.Fatalf("report = %+v, want 1 skipped and 1 notification", rep)
	}
	if out := buf.String(); !strings.Contains(out, `"skipped":1`) || !strings.Contains(out, "malformed records skipped") {
		t.Fatalf("skipped count not logged: %s", out)
	}
}

func TestRunCyclePublishesEvent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, eventbus.TypePollCycle)
	defer unsub()

	store := session.NewMemoryStore()
	p, err := New(store, &fakeFetcher{}, &fakeSink{}, Options{Bus: bus, Log: logx.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	p.RunCycle(context.Background())
	select {
	case ev := <-ch:
		rep, ok := ev.Data.(CycleReport)
		if !ok || rep.ID == "" || !rep.Idle {
			t.Fatalf("event data = %#v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no poll.cycle event")
	}
}

func TestRunStopsOnContextAndRecoversPanics(t *testing.T) {
	t.Parallel()
	svc, f, _, p := setup(t)
	svc.Start(1)
	subscribe(t, svc, 1, 507, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for f.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first cycle did not run immediately")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run err = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	f.mu.Lock()
	f.panicky = true
	f.mu.Unlock()
	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected panic to surface as error")
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	_, err := New(session.NewMemoryStore(), &fakeFetcher{}, &fakeSink{}, Options{Schedule: "every now and then"})
	if err == nil {
		t.Fatal("expected schedule error")
	}
}
