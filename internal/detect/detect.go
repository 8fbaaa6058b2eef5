// Package detect decides which upstream coefficient records are news for
// a given user.
package detect

import (
	"coefbot/internal/model"
	"coefbot/internal/session"
)

type Kind int

const (
	// KindNew: first time this (warehouse, date, box type) matched a tracked value.
	KindNew Kind = iota + 1
	// KindChanged: a previously notified (warehouse, date, box type) now has another tracked value.
	KindChanged
)

func (k Kind) String() string {
	switch k {
	case KindNew:
		return "new"
	case KindChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// Notification is one new-or-changed fact for a user.
type Notification struct {
	Kind        Kind
	WarehouseID model.WarehouseID
	Date        string
	// Old is only meaningful for KindChanged.
	Old     int
	New     int
	BoxType string
}

// Result of one detection pass for one user.
type Result struct {
	Notifications []Notification
	// Skipped counts records dropped as malformed (no warehouse or date).
	Skipped int
}

// Detect filters records down to the ones sub tracks and compares them with
// hist, recording every emitted value in hist.
//
// Records are applied one after another in the given order, each against the
// value stored at that moment. Two records for the same (warehouse, date,
// box type) in one batch therefore produce one notification per transition.
// Box types are tracked independently, so differing values across box types
// on one date never count as a change.
//
// If sub.Complete is false nothing is emitted and hist is left untouched.
func Detect(sub *session.Subscription, hist session.History, records []model.Record) Result {
	var res Result
	if sub == nil || !sub.Complete || hist == nil {
		return res
	}
	for _, r := range records {
		if !r.Valid() {
			res.Skipped++
			continue
		}
		if !sub.Wants(r.WarehouseID, r.Coefficient) {
			continue
		}
		prev, seen := hist.Lookup(r.WarehouseID, r.Date, r.BoxType)
		switch {
		case !seen:
			res.Notifications = append(res.Notifications, Notification{
				Kind: KindNew, WarehouseID: r.WarehouseID, Date: r.Date, New: r.Coefficient, BoxType: r.BoxType,
			})
		case prev != r.Coefficient:
			res.Notifications = append(res.Notifications, Notification{
				Kind: KindChanged, WarehouseID: r.WarehouseID, Date: r.Date, Old: prev, New: r.Coefficient, BoxType: r.BoxType,
			})
		default:
			continue
		}
		hist.Set(r.WarehouseID, r.Date, r.BoxType, r.Coefficient)
	}
	return res
}
