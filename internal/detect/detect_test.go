package detect

import (
	"testing"

	"coefbot/internal/model"
	"coefbot/internal/session"
)

func subscription(complete bool, tracked map[model.WarehouseID][]int) *session.Subscription {
	s := &session.Subscription{Complete: complete, Coefficients: map[model.WarehouseID][]int{}}
	for id, vals := range tracked {
		s.ToggleWarehouse(id)
		for _, v := range vals {
			_, _ = s.ToggleCoefficient(id, v)
		}
	}
	return s
}

func rec(id model.WarehouseID, date string, v int) model.Record {
	return model.Record{WarehouseID: id, Date: date, Coefficient: v, BoxType: "Boxes"}
}

func TestUntrackedRecordsAreIgnored(t *testing.T) {
	t.Parallel()
	sub := subscription(true, map[model.WarehouseID][]int{507: {2}})
	hist := session.History{}
	records := []model.Record{
		rec(1733, "2024-01-01", 2), // warehouse not tracked
		rec(507, "2024-01-01", 4),  // value not tracked
		rec(507, "2024-01-01", -1), // unavailable sentinel, not tracked
	}
	res := Detect(sub, hist, records)
	if len(res.Notifications) != 0 {
		t.Fatalf("got %d notifications, want 0", len(res.Notifications))
	}
	if hist.Len() != 0 {
		t.Fatalf("history mutated: %v", hist)
	}
}

func TestIncompleteSetupIsNoop(t *testing.T) {
	t.Parallel()
	sub := subscription(false, map[model.WarehouseID][]int{507: {2}})
	hist := session.History{}
	res := Detect(sub, hist, []model.Record{rec(507, "2024-01-01", 2)})
	if len(res.Notifications) != 0 || hist.Len() != 0 {
		t.Fatalf("incomplete setup produced %v / history %v", res.Notifications, hist)
	}
}

func TestSameBatchTwiceNotifiesOnce(t *testing.T) {
	t.Parallel()
	sub := subscription(true, map[model.WarehouseID][]int{507: {2, 4}})
	hist := session.History{}
	batch := []model.Record{rec(507, "2024-01-01", 2), rec(507, "2024-01-02", 4)}

	if got := len(Detect(sub, hist, batch).Notifications); got != 2 {
		t.Fatalf("first pass: %d notifications, want 2", got)
	}
	if got := len(Detect(sub, hist, batch).Notifications); got != 0 {
		t.Fatalf("second pass: %d notifications, want 0", got)
	}
}

func TestChangedValue(t *testing.T) {
	t.Parallel()
	sub := subscription(true, map[model.WarehouseID][]int{507: {4, 8}})
	hist := session.History{}
	hist.Set(507, "2024-01-01", "Boxes", 4)

	res := Detect(sub, hist, []model.Record{rec(507, "2024-01-01", 8)})
	if len(res.Notifications) != 1 {
		t.Fatalf("got %d notifications, want 1", len(res.Notifications))
	}
	n := res.Notifications[0]
	if n.Kind != KindChanged || n.Old != 4 || n.New != 8 {
		t.Fatalf("unexpected notification %+v", n)
	}
	if v, _ := hist.Lookup(507, "2024-01-01", "Boxes"); v != 8 {
		t.Fatalf("history = %d, want 8", v)
	}
}

func TestNewValue(t *testing.T) {
	t.Parallel()
	sub := subscription(true, map[model.WarehouseID][]int{507: {2}})
	hist := session.History{}
	hist.Set(507, "2024-01-01", "Boxes", 2)

	res := Detect(sub, hist, []model.Record{rec(507, "2024-01-02", 2)})
	if len(res.Notifications) != 1 || res.Notifications[0].Kind != KindNew || res.Notifications[0].New != 2 {
		t.Fatalf("unexpected result %+v", res.Notifications)
	}
	if v, ok := hist.Lookup(507, "2024-01-02", "Boxes"); !ok || v != 2 {
		t.Fatalf("history = %d, %v; want 2, true", v, ok)
	}
}

func TestFanOutToTwoUsersFromOneBatch(t *testing.T) {
	t.Parallel()
	batch := []model.Record{rec(507, "2024-01-01", 2), rec(507, "2024-01-02", 8)}

	userA := subscription(true, map[model.WarehouseID][]int{507: {2}})
	userB := subscription(true, map[model.WarehouseID][]int{507: {8}})
	histA, histB := session.History{}, session.History{}

	resA := Detect(userA, histA, batch)
	resB := Detect(userB, histB, batch)
	if len(resA.Notifications) != 1 || resA.Notifications[0].New != 2 {
		t.Fatalf("user A got %+v", resA.Notifications)
	}
	if len(resB.Notifications) != 1 || resB.Notifications[0].New != 8 {
		t.Fatalf("user B got %+v", resB.Notifications)
	}
	if _, ok := histA.Lookup(507, "2024-01-02", "Boxes"); ok {
		t.Fatal("user A history holds user B's value")
	}
}

// Quirk kept for compatibility: multiple records for one (warehouse, date)
// in a single batch are applied in order, each producing its own event.
func TestIntraBatchTransitionsApplySequentially(t *testing.T) {
	t.Parallel()
	sub := subscription(true, map[model.WarehouseID][]int{507: {2, 4, 8}})
	hist := session.History{}
	batch := []model.Record{
		rec(507, "2024-01-01", 2),
		rec(507, "2024-01-01", 4),
		rec(507, "2024-01-01", 4),
		rec(507, "2024-01-01", 8),
	}
	res := Detect(sub, hist, batch)
	want := []struct {
		kind     Kind
		old, new int
	}{
		{KindNew, 0, 2},
		{KindChanged, 2, 4},
		{KindChanged, 4, 8},
	}
	if len(res.Notifications) != len(want) {
		t.Fatalf("got %d notifications, want %d: %+v", len(res.Notifications), len(want), res.Notifications)
	}
	for i, w := range want {
		n := res.Notifications[i]
		if n.Kind != w.kind || n.Old != w.old || n.New != w.new {
			t.Fatalf("notification %d = %+v, want %+v", i, n, w)
		}
	}
	if v, _ := hist.Lookup(507, "2024-01-01", "Boxes"); v != 8 {
		t.Fatalf("final history = %d, want 8", v)
	}
}

func TestUntrackedValueDoesNotTouchHistory(t *testing.T) {
	t.Parallel()
	// The stored value stays at the last tracked one even if an untracked
	// value shows up in between.
	sub := subscription(true, map[model.WarehouseID][]int{507: {4}})
	hist := session.History{}
	hist.Set(507, "2024-01-01", "Boxes", 4)

	res := Detect(sub, hist, []model.Record{rec(507, "2024-01-01", 6), rec(507, "2024-01-01", 4)})
	if len(res.Notifications) != 0 {
		t.Fatalf("got %+v, want none", res.Notifications)
	}
}

func TestMalformedRecordsAreSkipped(t *testing.T) {
	t.Parallel()
	sub := subscription(true, map[model.WarehouseID][]int{507: {2}})
	hist := session.History{}
	res := Detect(sub, hist, []model.Record{
		{WarehouseID: 507, Coefficient: 2},
		rec(507, "2024-01-01", 2),
	})
	if res.Skipped != 1 {
		t.Fatalf("Skipped = %d, want 1", res.Skipped)
	}
	if len(res.Notifications) != 1 {
		t.Fatalf("valid record after a malformed one must still be processed")
	}
}

func TestBoxTypesOnOneDateAreTrackedSeparately(t *testing.T) {
	t.Parallel()
	sub := subscription(true, map[model.WarehouseID][]int{507: {2, 4}})
	hist := session.History{}
	batch := []model.Record{
		{WarehouseID: 507, Date: "2024-01-01", Coefficient: 2, BoxType: "Boxes"},
		{WarehouseID: 507, Date: "2024-01-01", Coefficient: 4, BoxType: "Pallets"},
	}

	res := Detect(sub, hist, batch)
	if len(res.Notifications) != 2 {
		t.Fatalf("first pass: got %+v, want two new notifications", res.Notifications)
	}
	for _, n := range res.Notifications {
		if n.Kind != KindNew {
			t.Fatalf("first pass: %+v is not new", n)
		}
	}
	for pass := 2; pass <= 3; pass++ {
		if got := Detect(sub, hist, batch).Notifications; len(got) != 0 {
			t.Fatalf("pass %d: got %+v, want none", pass, got)
		}
	}
	if v, _ := hist.Lookup(507, "2024-01-01", "Pallets"); v != 4 {
		t.Fatalf("Pallets history = %d, want 4", v)
	}
}
