package menu

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"coefbot/internal/catalog"
	"coefbot/internal/model"
	"coefbot/internal/poller"
	"coefbot/internal/runtime/supervisor"
	"coefbot/internal/session"
	"coefbot/pkg/tgui"

	tele "gopkg.in/telebot.v4"
)

// Callback routing: "menu:<action>[:payload]".
const (
	menuName = "menu"

	actWarehouse   = "wh"
	actCoefficient = "coef"
	actNext        = "next"
	actPrev        = "prev"
	actDone        = "done"
)

// Reply keyboard labels. Pressing one sends the label back as text.
const (
	LabelConfirmWarehouses = "✅ Confirm warehouses"
	LabelChangeWarehouses  = "🔄 Change tracked warehouses"
)

const (
	textPickWarehouses   = "🏢 Select the warehouses to track:"
	textConfirmPrompt    = "📋 Press the button to confirm the warehouse selection"
	textNoWarehouses     = "You haven't selected any warehouse"
	textNeedCoefficient  = "❗️ Please select at least one coefficient"
	textLastWarehouse    = "You are at the last warehouse"
	textFirstWarehouse   = "You are at the first warehouse"
	textWarehouseAdded   = "📦 Warehouse added"
	textWarehouseRemoved = "📦 Warehouse removed"
	textChangePrompt     = "📝 You can change the tracked warehouses and coefficients."
	textHistoryEmpty     = "🔍 History is empty."
	textStartFirst       = "👋 Send /start to set up notifications first."
	textStaleButton      = "This menu is outdated, send /start"
)

func coefficientAnswer(v int, added bool) string {
	if added {
		return fmt.Sprintf("➕ Coefficient %d added", v)
	}
	return fmt.Sprintf("➖ Coefficient %d removed", v)
}

func warehouseKeyboard(cat *catalog.Catalog, sub session.Subscription) *tgui.Inline {
	kb := tgui.NewInline()
	for _, w := range cat.All() {
		label := w.Name
		if sub.Tracks(w.ID) {
			label = "✅ " + label
		}
		kb.Row(tgui.Btn(label, tgui.Data(menuName, actWarehouse, w.ID.String())))
	}
	return kb
}

// warehousePicker lists the catalog with tracked warehouses ticked.
func warehousePicker(cat *catalog.Catalog, sub session.Subscription) tgui.Message {
	return tgui.New().
		Line(textPickWarehouses).
		Inline(warehouseKeyboard(cat, sub)).
		Build()
}

func confirmKeyboard() tgui.Message {
	return tgui.New().Line(textConfirmPrompt).Markup(tgui.ReplyKeyboard(LabelConfirmWarehouses)).Build()
}

func changeKeyboard() tgui.Message {
	return tgui.New().Line(textChangePrompt).Markup(tgui.ReplyKeyboard(LabelChangeWarehouses)).Build()
}

func coefficientPayload(id model.WarehouseID, v int) string {
	return id.String() + "_" + strconv.Itoa(v)
}

func parseCoefficientPayload(p string) (model.WarehouseID, int, bool) {
	ws, vs, ok := strings.Cut(p, "_")
	if !ok {
		return 0, 0, false
	}
	id, err := model.ParseWarehouseID(ws)
	if err != nil {
		return 0, 0, false
	}
	v, err := strconv.Atoi(vs)
	if err != nil {
		return 0, 0, false
	}
	return id, v, true
}

// coefficientPicker renders the value grid for the warehouse at cursor.
// ok is false when the subscription has no warehouses.
func coefficientPicker(cat *catalog.Catalog, sub session.Subscription, cursor int) (tgui.Message, bool) {
	if len(sub.Warehouses) == 0 {
		return tgui.Message{}, false
	}
	cursor = min(max(cursor, 0), len(sub.Warehouses)-1)
	id := sub.Warehouses[cursor]

	btns := make([]tele.Btn, 0, len(cat.Coefficients()))
	for _, v := range cat.Coefficients() {
		mark := "❌"
		if sub.Wants(id, v) {
			mark = "✅"
		}
		btns = append(btns, tgui.Btn(fmt.Sprintf("%s %d", mark, v), tgui.Data(menuName, actCoefficient, coefficientPayload(id, v))))
	}
	kb := tgui.NewInline().Grid(2, btns).
		Row(
			tgui.Btn("⬅️ Back", tgui.Data(menuName, actPrev, "")),
			tgui.Btn("➡️ Next", tgui.Data(menuName, actNext, "")),
		).
		Row(tgui.Btn("✔️ Confirm", tgui.Data(menuName, actDone, "")))

	return tgui.New().
		HTML(tgui.JoinH(" ", tgui.Esc("🏢"), tgui.B(cat.NameOf(id)), tgui.Esc(fmt.Sprintf("(%d/%d)", cursor+1, len(sub.Warehouses))))).
		Line("🔢 Select the coefficients to track:").
		Inline(kb).
		Build(), true
}

// summary lists every tracked warehouse with its selected coefficients.
func summary(cat *catalog.Catalog, sub session.Subscription) tgui.Message {
	b := tgui.New().Line("✅ Your selection:")
	for _, id := range sub.Warehouses {
		b.Blank().
			HTML(tgui.JoinH(" ", tgui.Esc("🏢"), tgui.B(cat.NameOf(id)))).
			KV("🔢", "Coefficients", joinInts(sub.Coefficients[id]))
	}
	return b.Build()
}

func historyView(cat *catalog.Catalog, h session.History) tgui.Message {
	if h.Len() == 0 {
		return tgui.New().Line(textHistoryEmpty).Build()
	}
	ids := make([]model.WarehouseID, 0, len(h))
	for id := range h {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	b := tgui.New().HTML(tgui.JoinH(" ", tgui.Esc("📜"), tgui.B("Coefficient history:")))
	for _, id := range ids {
		slots := slices.SortedFunc(maps.Keys(h[id]), func(a, b session.Slot) int {
			return cmp.Or(cmp.Compare(a.Date, b.Date), cmp.Compare(a.BoxType, b.BoxType))
		})
		b.Blank().HTML(tgui.JoinH(" ", tgui.Esc("🏢"), tgui.B(cat.NameOf(id))))
		for _, k := range slots {
			line := fmt.Sprintf("📅 %s: %d", k.Date, h[id][k])
			if k.BoxType != "" {
				line += " (" + k.BoxType + ")"
			}
			b.Line(line)
		}
	}
	return b.Build()
}

type statusView struct {
	Uptime     time.Duration
	Sessions   int
	Last       poller.CycleReport
	HasLast    bool
	Pending    int
	Goroutines []supervisor.GoroutineStats
}

func (v statusView) render() tgui.Message {
	b := tgui.New().Title("🩺", "Bot status").
		Line("━━━━━━━━━━━━━━━━━━━━").
		KV("⏱", "Uptime", v.Uptime.Truncate(time.Second).String()).
		KV("👥", "Sessions", strconv.Itoa(v.Sessions)).
		KV("📨", "Queued notifications", strconv.Itoa(v.Pending))

	b.Blank()
	switch {
	case !v.HasLast:
		b.KV("🔁", "Last poll", "not run yet")
	case v.Last.Idle:
		b.KV("🔁", "Last poll", v.Last.StartedAt.Format(time.DateTime)+" (idle)")
	default:
		b.KV("🔁", "Last poll", v.Last.StartedAt.Format(time.DateTime)).
			KV("🏢", "Warehouses", strconv.Itoa(v.Last.Warehouses)).
			KV("📊", "Records", strconv.Itoa(v.Last.Records)).
			KV("📢", "Notifications", strconv.Itoa(v.Last.Notifications))
		if v.Last.Err != nil {
			b.KV("⚠️", "Error", v.Last.Err.Error())
		}
	}

	if len(v.Goroutines) > 0 {
		b.Blank().Title("🧵", "Workers")
		for _, g := range v.Goroutines {
			ln := fmt.Sprintf("%s: active=%d restarts=%d panics=%d", g.Name, g.Active, g.Restarts, g.Panics)
			if g.LastErr != "" {
				ln += " err=" + tgui.TruncRunes(g.LastErr, 80)
			}
			b.Line(ln)
		}
	}
	return b.Build()
}

func joinInts(vs []int) string {
	if len(vs) == 0 {
		return "-"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
