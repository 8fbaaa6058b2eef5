package session

import (
	"errors"
	"maps"
	"slices"
	"time"

	"coefbot/internal/model"
)

var (
	ErrNoSession           = errors.New("session not started")
	ErrUnknownWarehouse    = errors.New("warehouse not in catalog")
	ErrWarehouseNotTracked = errors.New("warehouse is not tracked")
)

// Subscription is what a user asked to be notified about.
//
// Invariant: every key of Coefficients is present in Warehouses.
type Subscription struct {
	// Warehouses keeps selection order; the menu walks it by index.
	Warehouses []model.WarehouseID
	// Coefficients maps a tracked warehouse to its tracked values, in selection order.
	Coefficients map[model.WarehouseID][]int
	// Complete is false while the user is still configuring; no
	// notifications are produced until it is set.
	Complete bool
}

func (s *Subscription) Tracks(id model.WarehouseID) bool {
	return slices.Contains(s.Warehouses, id)
}

// Wants reports whether value is tracked for warehouse id (exact membership).
func (s *Subscription) Wants(id model.WarehouseID, value int) bool {
	if !s.Tracks(id) {
		return false
	}
	return slices.Contains(s.Coefficients[id], value)
}

// ToggleWarehouse adds or removes id. Removing cascades to the warehouse's
// coefficient selection. Reports whether the warehouse is now tracked.
func (s *Subscription) ToggleWarehouse(id model.WarehouseID) bool {
	if i := slices.Index(s.Warehouses, id); i >= 0 {
		s.Warehouses = slices.Delete(s.Warehouses, i, i+1)
		delete(s.Coefficients, id)
		return false
	}
	s.Warehouses = append(s.Warehouses, id)
	return true
}

// ToggleCoefficient adds or removes value for a tracked warehouse.
// Reports whether the value is now tracked.
func (s *Subscription) ToggleCoefficient(id model.WarehouseID, value int) (bool, error) {
	if !s.Tracks(id) {
		return false, ErrWarehouseNotTracked
	}
	if s.Coefficients == nil {
		s.Coefficients = map[model.WarehouseID][]int{}
	}
	vals := s.Coefficients[id]
	if i := slices.Index(vals, value); i >= 0 {
		vals = slices.Delete(vals, i, i+1)
		if len(vals) == 0 {
			delete(s.Coefficients, id)
		} else {
			s.Coefficients[id] = vals
		}
		return false, nil
	}
	s.Coefficients[id] = append(vals, value)
	return true, nil
}

func (s Subscription) Clone() Subscription {
	out := Subscription{
		Warehouses: slices.Clone(s.Warehouses),
		Complete:   s.Complete,
	}
	if s.Coefficients != nil {
		out.Coefficients = make(map[model.WarehouseID][]int, len(s.Coefficients))
		for k, v := range s.Coefficients {
			out.Coefficients[k] = slices.Clone(v)
		}
	}
	return out
}

// Slot identifies one upstream series within a warehouse: the API reports a
// separate coefficient per box type for every calendar date.
type Slot struct {
	Date    string
	BoxType string
}

// History maps warehouse -> (date, box type) -> last notified coefficient.
// Only the change detector writes to it.
type History map[model.WarehouseID]map[Slot]int

func (h History) Lookup(id model.WarehouseID, date, boxType string) (int, bool) {
	v, ok := h[id][Slot{Date: date, BoxType: boxType}]
	return v, ok
}

func (h History) Set(id model.WarehouseID, date, boxType string, value int) {
	slots := h[id]
	if slots == nil {
		slots = map[Slot]int{}
		h[id] = slots
	}
	slots[Slot{Date: date, BoxType: boxType}] = value
}

// Len returns the number of (warehouse, date, box type) entries.
func (h History) Len() int {
	n := 0
	for _, slots := range h {
		n += len(slots)
	}
	return n
}

// PruneBefore drops entries dated strictly before cutoff (YYYY-MM-DD) and
// returns how many were removed.
func (h History) PruneBefore(cutoff string) int {
	removed := 0
	for id, slots := range h {
		for k := range slots {
			if k.Date < cutoff {
				delete(slots, k)
				removed++
			}
		}
		if len(slots) == 0 {
			delete(h, id)
		}
	}
	return removed
}

func (h History) Clone() History {
	out := make(History, len(h))
	for id, slots := range h {
		out[id] = maps.Clone(slots)
	}
	return out
}

// UIState is the menu cursor: the message carrying the picker keyboard and
// the index into Subscription.Warehouses being configured.
type UIState struct {
	MessageID int
	Cursor    int
}

// Session is all per-user state.
type Session struct {
	UserID    int64
	StartedAt time.Time
	Sub       Subscription
	History   History
	UI        UIState
}

func newSession(userID int64) *Session {
	return &Session{
		UserID:    userID,
		StartedAt: time.Now(),
		Sub:       Subscription{Coefficients: map[model.WarehouseID][]int{}},
		History:   History{},
	}
}
