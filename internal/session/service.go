package session

import (
	"slices"
	"time"

	"coefbot/internal/catalog"
	"coefbot/internal/eventbus"
	"coefbot/internal/model"
	logx "coefbot/pkg/logx"
)

// Command names carried by CommandEvent.
const (
	CmdStart             = "start"
	CmdToggleWarehouse   = "toggle_warehouse"
	CmdToggleCoefficient = "toggle_coefficient"
	CmdCompleteSetup     = "complete_setup"
	CmdReconfigure       = "reconfigure"
)

// CommandEvent is published on the bus after every successful session command.
type CommandEvent struct {
	UserID      int64             `json:"user_id"`
	Command     string            `json:"command"`
	WarehouseID model.WarehouseID `json:"warehouse_id,omitempty"`
	Value       *int              `json:"value,omitempty"`
	Added       *bool             `json:"added,omitempty"`
}

// Service is the command surface the menu flow drives. The poller only
// reads subscriptions through the same Store.
type Service struct {
	store Store
	cat   *catalog.Catalog
	bus   eventbus.Bus
	log   logx.Logger
}

func NewService(store Store, cat *catalog.Catalog, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cat == nil {
		cat = catalog.Default()
	}
	return &Service{store: store, cat: cat, bus: bus, log: log}
}

func (s *Service) Store() Store              { return s.store }
func (s *Service) Catalog() *catalog.Catalog { return s.cat }

// Start resets the user's subscription and history; setup is incomplete.
func (s *Service) Start(userID int64) {
	s.store.Reset(userID)
	s.log.Info("session started", logx.Int64("user_id", userID))
	s.publish(CommandEvent{UserID: userID, Command: CmdStart})
}

// ToggleWarehouse adds or removes a catalog warehouse. Removal also drops
// the warehouse's tracked coefficients.
func (s *Service) ToggleWarehouse(userID int64, id model.WarehouseID) (bool, error) {
	if !s.cat.Has(id) {
		return false, ErrUnknownWarehouse
	}
	var added bool
	err := s.store.Update(userID, func(sess *Session) error {
		added = sess.Sub.ToggleWarehouse(id)
		if !added && sess.UI.Cursor >= len(sess.Sub.Warehouses) {
			sess.UI.Cursor = max(0, len(sess.Sub.Warehouses)-1)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	s.publish(CommandEvent{UserID: userID, Command: CmdToggleWarehouse, WarehouseID: id, Added: &added})
	return added, nil
}

// ToggleCoefficient adds or removes value for an already tracked warehouse.
func (s *Service) ToggleCoefficient(userID int64, id model.WarehouseID, value int) (bool, error) {
	var added bool
	err := s.store.Update(userID, func(sess *Session) error {
		var err error
		added, err = sess.Sub.ToggleCoefficient(id, value)
		return err
	})
	if err != nil {
		return false, err
	}
	s.publish(CommandEvent{UserID: userID, Command: CmdToggleCoefficient, WarehouseID: id, Value: &value, Added: &added})
	return added, nil
}

// CompleteSetup marks the subscription ready; from the next poll cycle on
// the user receives notifications. Input validation is the menu's job.
func (s *Service) CompleteSetup(userID int64) error {
	err := s.store.Update(userID, func(sess *Session) error {
		sess.Sub.Complete = true
		sess.UI = UIState{}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(CommandEvent{UserID: userID, Command: CmdCompleteSetup})
	return nil
}

// Reconfigure re-enters setup: tracked warehouses are kept, coefficient
// selections are cleared and notifications are suspended. History is kept.
func (s *Service) Reconfigure(userID int64) error {
	err := s.store.Update(userID, func(sess *Session) error {
		sess.Sub.Coefficients = map[model.WarehouseID][]int{}
		sess.Sub.Complete = false
		sess.UI.Cursor = 0
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(CommandEvent{UserID: userID, Command: CmdReconfigure})
	return nil
}

// Subscription returns a copy of the user's subscription.
func (s *Service) Subscription(userID int64) (Subscription, error) {
	var out Subscription
	err := s.store.View(userID, func(sess *Session) { out = sess.Sub.Clone() })
	return out, err
}

// History returns a read-only snapshot of the user's observation history.
func (s *Service) History(userID int64) (History, error) {
	var out History
	err := s.store.View(userID, func(sess *Session) { out = sess.History.Clone() })
	return out, err
}

// Snapshot returns the subscription together with the menu cursor.
func (s *Service) Snapshot(userID int64) (Subscription, UIState, error) {
	var (
		sub Subscription
		ui  UIState
	)
	err := s.store.View(userID, func(sess *Session) {
		sub = sess.Sub.Clone()
		ui = sess.UI
	})
	return sub, ui, err
}

// SetMenuMessage remembers which message carries the picker keyboard.
func (s *Service) SetMenuMessage(userID int64, msgID int) error {
	return s.store.Update(userID, func(sess *Session) error {
		sess.UI.MessageID = msgID
		return nil
	})
}

// MoveCursor shifts the picker cursor by delta and returns the new index.
// moved is false when the cursor was already at the edge.
func (s *Service) MoveCursor(userID int64, delta int) (cursor int, moved bool, err error) {
	err = s.store.Update(userID, func(sess *Session) error {
		n := len(sess.Sub.Warehouses)
		if n == 0 {
			sess.UI.Cursor = 0
			return nil
		}
		next := min(max(sess.UI.Cursor+delta, 0), n-1)
		moved = next != sess.UI.Cursor
		sess.UI.Cursor = next
		cursor = next
		return nil
	})
	return cursor, moved, err
}

// ResetCursor puts the picker back on the first tracked warehouse.
func (s *Service) ResetCursor(userID int64) error {
	return s.store.Update(userID, func(sess *Session) error {
		sess.UI.Cursor = 0
		return nil
	})
}

// TrackedWarehouses is the sorted union of tracked warehouses over all sessions.
func (s *Service) TrackedWarehouses() []model.WarehouseID {
	return TrackedWarehouses(s.store)
}

func TrackedWarehouses(store Store) []model.WarehouseID {
	seen := map[model.WarehouseID]struct{}{}
	for _, uid := range store.UserIDs() {
		_ = store.View(uid, func(sess *Session) {
			for _, id := range sess.Sub.Warehouses {
				seen[id] = struct{}{}
			}
		})
	}
	out := make([]model.WarehouseID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (s *Service) publish(ev CommandEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionCommand, Time: time.Now(), Data: ev})
}
