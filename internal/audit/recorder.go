// Package audit persists session commands and notification outcomes from
// the event bus into the audit store.
package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"coefbot/internal/eventbus"
	"coefbot/internal/notifier"
	"coefbot/internal/session"
	"coefbot/internal/storage"
	logx "coefbot/pkg/logx"
)

const writeTimeout = 2 * time.Second

type Recorder struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRecorder(store storage.Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, log: log}
}

// Run consumes bus events until ctx is done. Write failures are logged and
// never stop the loop.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(256, "session.", "notifier.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			e, ok := Entry(ev)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
			if err := r.store.AppendAudit(wctx, e); err != nil {
				r.log.Warn("audit append failed", logx.String("kind", e.Kind), logx.Err(err))
			}
			cancel()
		}
	}
}

// Entry maps a bus event to an audit entry.
func Entry(ev eventbus.Event) (storage.AuditEntry, bool) {
	switch d := ev.Data.(type) {
	case session.CommandEvent:
		e := storage.AuditEntry{At: ev.Time, Kind: storage.KindCommand, UserID: d.UserID, Action: d.Command}
		if d.WarehouseID != 0 {
			e.Target = d.WarehouseID.String()
		}
		if d.Value != nil || d.Added != nil {
			if b, err := json.Marshal(struct {
				Value *int  `json:"value,omitempty"`
				Added *bool `json:"added,omitempty"`
			}{d.Value, d.Added}); err == nil {
				e.MetaJSON = string(b)
			}
		}
		return e, true
	case notifier.NotificationEvent:
		at := d.At
		if at.IsZero() {
			at = ev.Time
		}
		e := storage.AuditEntry{
			At:     at,
			Kind:   storage.KindNotification,
			UserID: d.ChatID,
			Action: strings.TrimPrefix(ev.Type, "notifier."),
			Target: d.Key,
			Error:  d.Error,
		}
		if d.Attempts > 0 {
			e.MetaJSON = `{"attempts":` + strconv.Itoa(d.Attempts) + `}`
		}
		return e, true
	}
	return storage.AuditEntry{}, false
}
