package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline is a small builder for inline keyboards.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row of buttons. Empty rows are ignored.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Grid appends buttons split into rows of cols.
func (i *Inline) Grid(cols int, buttons []tele.Btn) *Inline {
	if cols <= 0 {
		cols = 1
	}
	for _, r := range i.rm.Split(cols, buttons) {
		i.Row(r...)
	}
	return i
}

// Rows reports how many rows were added.
func (i *Inline) Rows() int { return len(i.rows) }

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// ReplyKeyboard builds a resized single-column reply keyboard. Pressing a
// button sends its label as a plain text message.
func ReplyKeyboard(labels ...string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	rows := make([]tele.Row, 0, len(labels))
	for _, l := range labels {
		rows = append(rows, rm.Row(rm.Text(l)))
	}
	rm.Reply(rows...)
	return rm
}

// RemoveKeyboard hides a previously shown reply keyboard.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}
