package notifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"coefbot/internal/catalog"
	"coefbot/internal/detect"
	kit "coefbot/internal/transport"
	logx "coefbot/pkg/logx"
	"coefbot/pkg/tgui"
)

// FormatAlert renders one detected change as an HTML message.
func FormatAlert(cat *catalog.Catalog, n detect.Notification) tgui.Message {
	b := tgui.New()
	coef := strconv.Itoa(n.New)
	if n.Kind == detect.KindChanged {
		b.Title("🔄", "Coefficient changed!")
		coef = fmt.Sprintf("%d → %d", n.Old, n.New)
	} else {
		b.Title("📢", "New coefficient!")
	}
	b.KV("🏢", "Warehouse", cat.NameOf(n.WarehouseID)).
		KV("📅", "Date", n.Date).
		KV("📊", "Coefficient", coef)
	if n.BoxType != "" {
		b.KV("📦", "Box type", n.BoxType)
	}
	return b.Build()
}

// AlertKey identifies an alert in logs and the audit trail.
func AlertKey(userID int64, n detect.Notification) string {
	return fmt.Sprintf("%d:%s:%s:%s:%d", userID, n.Kind, n.WarehouseID, n.Date, n.New)
}

// CoefficientSink formats detector output and queues it on a Service.
type CoefficientSink struct {
	svc *Service
	cat *catalog.Catalog
	log logx.Logger
}

func NewCoefficientSink(svc *Service, cat *catalog.Catalog, log logx.Logger) *CoefficientSink {
	return &CoefficientSink{svc: svc, cat: cat, log: log}
}

// Notify queues one message per notification. Sessions are private chats,
// so the user ID doubles as the chat ID.
func (s *CoefficientSink) Notify(ctx context.Context, userID int64, ns []detect.Notification) {
	for _, n := range ns {
		msg := FormatAlert(s.cat, n)
		err := s.svc.Enqueue(ctx, kit.Notification{
			Target:  kit.ChatTarget{ChatID: userID},
			Text:    msg.Text,
			Options: msg.Opt,
			Key:     AlertKey(userID, n),
		})
		if err == nil {
			continue
		}
		s.log.Warn("alert not queued",
			logx.Int64("user_id", userID),
			logx.String("warehouse", n.WarehouseID.String()),
			logx.String("date", n.Date),
			logx.Err(err),
		)
		if errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled) {
			return
		}
	}
}
