package session

import (
	"errors"
	"sync"
	"testing"

	"coefbot/internal/catalog"
	"coefbot/internal/eventbus"
	"coefbot/internal/model"
)

func newTestService(t *testing.T) (*Service, <-chan eventbus.Event) {
	t.Helper()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64)
	t.Cleanup(unsub)
	return NewService(NewMemoryStore(), catalog.Default(), bus, logxNop()), ch
}

func TestUntrackingWarehouseCascadesCoefficients(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	const uid = 1
	svc.Start(uid)

	if added, err := svc.ToggleWarehouse(uid, 507); err != nil || !added {
		t.Fatalf("ToggleWarehouse add = %v, %v", added, err)
	}
	for _, v := range []int{2, 4} {
		if _, err := svc.ToggleCoefficient(uid, 507, v); err != nil {
			t.Fatalf("ToggleCoefficient(%d): %v", v, err)
		}
	}
	if added, err := svc.ToggleWarehouse(uid, 507); err != nil || added {
		t.Fatalf("ToggleWarehouse remove = %v, %v", added, err)
	}
	sub, _ := svc.Subscription(uid)
	if _, ok := sub.Coefficients[507]; ok {
		t.Fatal("coefficient entry survived warehouse removal")
	}

	if _, err := svc.ToggleWarehouse(uid, 507); err != nil {
		t.Fatal(err)
	}
	sub, _ = svc.Subscription(uid)
	if len(sub.Coefficients[507]) != 0 {
		t.Fatalf("re-tracked warehouse should start empty, got %v", sub.Coefficients[507])
	}
}

func TestToggleCoefficientRequiresTrackedWarehouse(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	svc.Start(1)
	if _, err := svc.ToggleCoefficient(1, 507, 2); !errors.Is(err, ErrWarehouseNotTracked) {
		t.Fatalf("err = %v, want ErrWarehouseNotTracked", err)
	}
	if _, err := svc.ToggleWarehouse(1, 42); !errors.Is(err, ErrUnknownWarehouse) {
		t.Fatalf("err = %v, want ErrUnknownWarehouse", err)
	}
	if _, err := svc.ToggleWarehouse(2, 507); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestToggleCoefficientTwiceRemoves(t *testing.T) {
	t.Parallel()
	var sub Subscription
	sub.ToggleWarehouse(507)
	if added, _ := sub.ToggleCoefficient(507, 8); !added {
		t.Fatal("first toggle should add")
	}
	if !sub.Wants(507, 8) {
		t.Fatal("8 should be tracked")
	}
	if added, _ := sub.ToggleCoefficient(507, 8); added {
		t.Fatal("second toggle should remove")
	}
	if sub.Wants(507, 8) {
		t.Fatal("8 should no longer be tracked")
	}
}

func TestStartResetsState(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	svc.Start(1)
	_, _ = svc.ToggleWarehouse(1, 507)
	_, _ = svc.ToggleCoefficient(1, 507, 4)
	_ = svc.CompleteSetup(1)
	_ = svc.Store().Update(1, func(s *Session) error {
		s.History.Set(507, "2024-01-01", "Boxes", 4)
		return nil
	})

	svc.Start(1)
	sub, _ := svc.Subscription(1)
	hist, _ := svc.History(1)
	if sub.Complete || len(sub.Warehouses) != 0 || len(sub.Coefficients) != 0 || hist.Len() != 0 {
		t.Fatalf("Start did not reset: sub=%+v hist=%v", sub, hist)
	}
}

func TestReconfigureKeepsWarehousesAndHistory(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	svc.Start(1)
	_, _ = svc.ToggleWarehouse(1, 507)
	_, _ = svc.ToggleCoefficient(1, 507, 4)
	_ = svc.CompleteSetup(1)
	_ = svc.Store().Update(1, func(s *Session) error {
		s.History.Set(507, "2024-01-01", "Boxes", 4)
		return nil
	})

	if err := svc.Reconfigure(1); err != nil {
		t.Fatal(err)
	}
	sub, _ := svc.Subscription(1)
	hist, _ := svc.History(1)
	if sub.Complete {
		t.Fatal("reconfigure must clear completion flag")
	}
	if !sub.Tracks(507) || len(sub.Coefficients) != 0 {
		t.Fatalf("unexpected subscription %+v", sub)
	}
	if hist.Len() != 1 {
		t.Fatalf("history len = %d, want 1", hist.Len())
	}
}

func TestHistorySnapshotIsDetached(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	svc.Start(1)
	_ = svc.Store().Update(1, func(s *Session) error {
		s.History.Set(507, "2024-01-01", "Boxes", 4)
		return nil
	})
	snap, _ := svc.History(1)
	snap.Set(507, "2024-01-01", "Boxes", 99)

	again, _ := svc.History(1)
	if v, _ := again.Lookup(507, "2024-01-01", "Boxes"); v != 4 {
		t.Fatalf("snapshot mutation leaked into store: %d", v)
	}
}

func TestPruneBefore(t *testing.T) {
	t.Parallel()
	h := History{}
	h.Set(507, "2024-01-01", "Boxes", 1)
	h.Set(507, "2024-01-05", "Boxes", 2)
	h.Set(1733, "2023-12-31", "Boxes", 3)

	if n := h.PruneBefore("2024-01-02"); n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	if _, ok := h[1733]; ok {
		t.Fatal("empty warehouse map should be dropped")
	}
	if v, ok := h.Lookup(507, "2024-01-05", "Boxes"); !ok || v != 2 {
		t.Fatal("recent entry must survive")
	}
}

func TestTrackedWarehousesUnion(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	svc.Start(1)
	svc.Start(2)
	_, _ = svc.ToggleWarehouse(1, 507)
	_, _ = svc.ToggleWarehouse(1, 1733)
	_, _ = svc.ToggleWarehouse(2, 507)

	got := svc.TrackedWarehouses()
	want := []model.WarehouseID{507, 1733}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("TrackedWarehouses() = %v, want %v", got, want)
	}
}

func TestCommandsPublishEvents(t *testing.T) {
	t.Parallel()
	svc, events := newTestService(t)
	svc.Start(7)
	_, _ = svc.ToggleWarehouse(7, 507)

	var cmds []string
	for len(events) > 0 {
		e := <-events
		cmds = append(cmds, e.Data.(CommandEvent).Command)
	}
	if len(cmds) != 2 || cmds[0] != CmdStart || cmds[1] != CmdToggleWarehouse {
		t.Fatalf("published commands = %v", cmds)
	}
}

func TestMemoryStoreSerializesPerSession(t *testing.T) {
	t.Parallel()
	st := NewMemoryStore()
	st.Reset(1)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = st.Update(1, func(s *Session) error {
				v, _ := s.History.Lookup(507, "2024-01-01", "Boxes")
				s.History.Set(507, "2024-01-01", "Boxes", v+1)
				return nil
			})
		}(i)
	}
	wg.Wait()
	_ = st.View(1, func(s *Session) {
		if v, _ := s.History.Lookup(507, "2024-01-01", "Boxes"); v != 50 {
			t.Fatalf("counter = %d, want 50", v)
		}
	})
}

func TestMoveCursorClamps(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	const uid = 3
	svc.Start(uid)
	if _, moved, err := svc.MoveCursor(uid, 1); err != nil || moved {
		t.Fatalf("empty subscription: moved=%v err=%v", moved, err)
	}
	for _, id := range []model.WarehouseID{507, 1733} {
		if _, err := svc.ToggleWarehouse(uid, id); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		delta     int
		wantIdx   int
		wantMoved bool
	}{
		{-1, 0, false},
		{1, 1, true},
		{1, 1, false},
		{-1, 0, true},
	}
	for i, tc := range tests {
		got, moved, err := svc.MoveCursor(uid, tc.delta)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != tc.wantIdx || moved != tc.wantMoved {
			t.Fatalf("step %d: MoveCursor(%d) = %d,%v want %d,%v", i, tc.delta, got, moved, tc.wantIdx, tc.wantMoved)
		}
	}

	if err := svc.SetMenuMessage(uid, 77); err != nil {
		t.Fatal(err)
	}
	_, ui, err := svc.Snapshot(uid)
	if err != nil || ui.MessageID != 77 {
		t.Fatalf("Snapshot ui = %+v, %v", ui, err)
	}
	if err := svc.CompleteSetup(uid); err != nil {
		t.Fatal(err)
	}
	if _, ui, _ := svc.Snapshot(uid); ui != (UIState{}) {
		t.Fatalf("CompleteSetup should reset the ui, got %+v", ui)
	}
	if _, _, err := svc.MoveCursor(99, 1); !errors.Is(err, ErrNoSession) {
		t.Fatalf("unknown user err = %v", err)
	}
}
