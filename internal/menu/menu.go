// Package menu is the conversational setup flow: warehouse selection, the
// per-warehouse coefficient picker and the read-only commands. All state
// lives in the session service; views are pure functions of it.
package menu

import (
	"context"
	"errors"
	"time"

	"coefbot/internal/catalog"
	"coefbot/internal/model"
	"coefbot/internal/poller"
	"coefbot/internal/runtime/supervisor"
	"coefbot/internal/session"
	kit "coefbot/internal/transport"
	"coefbot/internal/transport/telegram/router"
	logx "coefbot/pkg/logx"
	"coefbot/pkg/tgui"
)

// Status feeds the admin /status command. Nil members are skipped.
type Status struct {
	StartedAt   time.Time
	Cycles      interface{ Last() (poller.CycleReport, bool) }
	Queue       interface{ Pending() int }
	// Supervisors is called per request; components create theirs on Start.
	Supervisors func() []*supervisor.Supervisor
}

type Menu struct {
	svc    *session.Service
	cat    *catalog.Catalog
	log    logx.Logger
	status Status
}

func New(svc *session.Service, status Status, log logx.Logger) *Menu {
	if log.IsZero() {
		log = logx.Nop()
	}
	if status.StartedAt.IsZero() {
		status.StartedAt = time.Now()
	}
	return &Menu{svc: svc, cat: svc.Catalog(), log: log, status: status}
}

// Routes returns the registry for router.SetRegistry.
func (m *Menu) Routes() ([]router.Command, []router.TextRoute, []router.CallbackRoute) {
	cmds := []router.Command{
		{Name: "start", Description: "set up warehouse notifications", Handle: m.start},
		{Name: "history", Description: "show observed coefficients", Handle: m.history},
		{Name: "status", Description: "poller and queue status", Access: router.AccessAdmin, Handle: m.statusCmd},
	}
	texts := []router.TextRoute{
		{Text: LabelConfirmWarehouses, Handle: m.confirmWarehouses},
		{Text: LabelChangeWarehouses, Handle: m.change},
	}
	cbs := []router.CallbackRoute{
		{Menu: menuName, Action: actWarehouse, Handle: m.toggleWarehouse},
		{Menu: menuName, Action: actCoefficient, Handle: m.toggleCoefficient},
		{Menu: menuName, Action: actNext, Handle: m.next},
		{Menu: menuName, Action: actPrev, Handle: m.prev},
		{Menu: menuName, Action: actDone, Handle: m.done},
	}
	return cmds, texts, cbs
}

func (m *Menu) start(ctx context.Context, req *router.Request) error {
	m.svc.Start(req.FromID)
	return m.showWarehousePicker(ctx, req)
}

// showWarehousePicker sends a fresh picker and the confirm reply keyboard.
func (m *Menu) showWarehousePicker(ctx context.Context, req *router.Request) error {
	sub, err := m.svc.Subscription(req.FromID)
	if err != nil {
		return err
	}
	ref, err := req.Reply(ctx, warehousePicker(m.cat, sub))
	if err != nil {
		return err
	}
	if err := m.svc.SetMenuMessage(req.FromID, ref.MessageID); err != nil {
		return err
	}
	_, err = req.Reply(ctx, confirmKeyboard())
	return err
}

func (m *Menu) toggleWarehouse(ctx context.Context, req *router.Request, payload string) error {
	id, err := model.ParseWarehouseID(payload)
	if err != nil {
		req.Answer(textStaleButton, false)
		return nil
	}
	added, err := m.svc.ToggleWarehouse(req.FromID, id)
	switch {
	case errors.Is(err, session.ErrNoSession):
		req.Answer(textStartFirst, true)
		return nil
	case errors.Is(err, session.ErrUnknownWarehouse):
		req.Answer(textStaleButton, false)
		return nil
	case err != nil:
		return err
	}
	if added {
		req.Answer(textWarehouseAdded, false)
	} else {
		req.Answer(textWarehouseRemoved, false)
	}
	sub, err := m.svc.Subscription(req.FromID)
	if err != nil {
		return err
	}
	return m.editPicker(ctx, req, warehousePicker(m.cat, sub))
}

func (m *Menu) confirmWarehouses(ctx context.Context, req *router.Request) error {
	sub, ui, err := m.svc.Snapshot(req.FromID)
	if errors.Is(err, session.ErrNoSession) {
		return req.ReplyText(ctx, textStartFirst)
	}
	if err != nil {
		return err
	}
	if len(sub.Warehouses) == 0 {
		return req.ReplyText(ctx, textNoWarehouses)
	}
	if err := m.svc.ResetCursor(req.FromID); err != nil {
		return err
	}
	m.deleteMenuMessage(ctx, req, ui.MessageID)

	view, _ := coefficientPicker(m.cat, sub, 0)
	ref, err := req.Reply(ctx, view)
	if err != nil {
		return err
	}
	return m.svc.SetMenuMessage(req.FromID, ref.MessageID)
}

func (m *Menu) toggleCoefficient(ctx context.Context, req *router.Request, payload string) error {
	id, v, ok := parseCoefficientPayload(payload)
	if !ok {
		req.Answer(textStaleButton, false)
		return nil
	}
	added, err := m.svc.ToggleCoefficient(req.FromID, id, v)
	switch {
	case errors.Is(err, session.ErrNoSession):
		req.Answer(textStartFirst, true)
		return nil
	case errors.Is(err, session.ErrWarehouseNotTracked):
		req.Answer(textStaleButton, false)
		return nil
	case err != nil:
		return err
	}
	req.Answer(coefficientAnswer(v, added), false)
	return m.refreshCoefficients(ctx, req)
}

func (m *Menu) next(ctx context.Context, req *router.Request, _ string) error {
	ok, err := m.requireCoefficient(req)
	if err != nil || !ok {
		return err
	}
	return m.step(ctx, req, 1, textLastWarehouse)
}

func (m *Menu) prev(ctx context.Context, req *router.Request, _ string) error {
	return m.step(ctx, req, -1, textFirstWarehouse)
}

func (m *Menu) step(ctx context.Context, req *router.Request, delta int, edge string) error {
	_, moved, err := m.svc.MoveCursor(req.FromID, delta)
	if errors.Is(err, session.ErrNoSession) {
		req.Answer(textStartFirst, true)
		return nil
	}
	if err != nil {
		return err
	}
	if !moved {
		req.Answer(edge, true)
		return nil
	}
	return m.refreshCoefficients(ctx, req)
}

func (m *Menu) done(ctx context.Context, req *router.Request, _ string) error {
	ok, err := m.requireCoefficient(req)
	if err != nil || !ok {
		return err
	}
	sub, err := m.svc.Subscription(req.FromID)
	if err != nil {
		return err
	}
	if _, err := req.Reply(ctx, summary(m.cat, sub)); err != nil {
		return err
	}
	if err := m.svc.CompleteSetup(req.FromID); err != nil {
		return err
	}
	m.deleteMenuMessage(ctx, req, req.MessageID)
	_, err = req.Reply(ctx, changeKeyboard())
	return err
}

func (m *Menu) change(ctx context.Context, req *router.Request) error {
	err := m.svc.Reconfigure(req.FromID)
	if errors.Is(err, session.ErrNoSession) {
		return req.ReplyText(ctx, textStartFirst)
	}
	if err != nil {
		return err
	}
	return m.showWarehousePicker(ctx, req)
}

func (m *Menu) history(ctx context.Context, req *router.Request) error {
	h, err := m.svc.History(req.FromID)
	if errors.Is(err, session.ErrNoSession) {
		return req.ReplyText(ctx, textStartFirst)
	}
	if err != nil {
		return err
	}
	_, err = req.Reply(ctx, historyView(m.cat, h))
	return err
}

func (m *Menu) statusCmd(ctx context.Context, req *router.Request) error {
	v := statusView{
		Uptime:   time.Since(m.status.StartedAt),
		Sessions: len(m.svc.Store().UserIDs()),
	}
	if m.status.Cycles != nil {
		v.Last, v.HasLast = m.status.Cycles.Last()
	}
	if m.status.Queue != nil {
		v.Pending = m.status.Queue.Pending()
	}
	if m.status.Supervisors != nil {
		for _, s := range m.status.Supervisors() {
			if s != nil {
				v.Goroutines = append(v.Goroutines, s.Snapshot()...)
			}
		}
	}
	_, err := req.Reply(ctx, v.render())
	return err
}

// requireCoefficient answers with an alert and reports false when the
// warehouse under the cursor has no selected coefficient.
func (m *Menu) requireCoefficient(req *router.Request) (bool, error) {
	sub, ui, err := m.svc.Snapshot(req.FromID)
	if errors.Is(err, session.ErrNoSession) {
		req.Answer(textStartFirst, true)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(sub.Warehouses) == 0 || ui.Cursor >= len(sub.Warehouses) {
		req.Answer(textStaleButton, false)
		return false, nil
	}
	if len(sub.Coefficients[sub.Warehouses[ui.Cursor]]) == 0 {
		req.Answer(textNeedCoefficient, true)
		return false, nil
	}
	return true, nil
}

func (m *Menu) refreshCoefficients(ctx context.Context, req *router.Request) error {
	sub, ui, err := m.svc.Snapshot(req.FromID)
	if err != nil {
		return err
	}
	view, ok := coefficientPicker(m.cat, sub, ui.Cursor)
	if !ok {
		return nil
	}
	return m.editPicker(ctx, req, view)
}

// editPicker re-renders the message that carried the pressed button.
func (m *Menu) editPicker(ctx context.Context, req *router.Request, view tgui.Message) error {
	ref := kit.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.MessageID}
	if err := view.Edit(ctx, req.Adapter, ref); err != nil {
		req.Logger.Warn("menu edit failed", logx.Err(err))
	}
	return nil
}

func (m *Menu) deleteMenuMessage(ctx context.Context, req *router.Request, msgID int) {
	if msgID == 0 {
		return
	}
	if err := req.Adapter.Delete(ctx, kit.MessageRef{ChatID: req.Chat.ChatID, MessageID: msgID}); err != nil {
		req.Logger.Debug("menu message not deleted", logx.Int("message_id", msgID), logx.Err(err))
	}
}
