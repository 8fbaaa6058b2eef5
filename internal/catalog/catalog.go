// Package catalog is the static warehouse reference data, loaded once at
// startup and read-only afterwards.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"coefbot/internal/model"
)

// UnknownName is shown for warehouse IDs missing from the catalog.
const UnknownName = "Unknown warehouse"

var ErrDuplicateWarehouse = errors.New("duplicate warehouse id")

type Warehouse struct {
	ID        model.WarehouseID `json:"id"`
	Name      string            `json:"name"`
	Address   string            `json:"address,omitempty"`
	WorkTime  string            `json:"work_time,omitempty"`
	AcceptsQR bool              `json:"accepts_qr,omitempty"`
}

// Catalog is safe for concurrent reads.
type Catalog struct {
	list         []Warehouse
	byID         map[model.WarehouseID]Warehouse
	coefficients []int
}

// DefaultCoefficients are the values offered in the coefficient picker.
var DefaultCoefficients = []int{0, 2, 4, 6, 8, 10, 12, 14, 16, 18, 20}

// New builds a catalog, keeping the given order for display. Empty
// coefficients fall back to DefaultCoefficients.
func New(ws []Warehouse, coefficients []int) (*Catalog, error) {
	c := &Catalog{
		list: make([]Warehouse, 0, len(ws)),
		byID: make(map[model.WarehouseID]Warehouse, len(ws)),
	}
	for _, w := range ws {
		if w.ID == 0 {
			return nil, fmt.Errorf("warehouse %q: id is required", w.Name)
		}
		if _, dup := c.byID[w.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateWarehouse, w.ID)
		}
		if strings.TrimSpace(w.Name) == "" {
			w.Name = "#" + w.ID.String()
		}
		c.list = append(c.list, w)
		c.byID[w.ID] = w
	}
	if len(coefficients) == 0 {
		coefficients = DefaultCoefficients
	}
	seen := map[int]bool{}
	for _, v := range coefficients {
		if seen[v] {
			return nil, fmt.Errorf("duplicate coefficient %d", v)
		}
		seen[v] = true
	}
	c.coefficients = append([]int(nil), coefficients...)
	return c, nil
}

// Default returns the built-in catalog used when the config has none.
func Default() *Catalog {
	c, _ := New(DefaultWarehouses(), nil)
	return c
}

func DefaultWarehouses() []Warehouse {
	return []Warehouse{
		{ID: 117456, Name: "📦 SC Tver", Address: "Volokolamskoe sh., 51B", WorkTime: "24/7"},
		{ID: 117986, Name: "📦 Kazan", Address: "Zelenodolsk industrial park, 20", WorkTime: "24/7"},
		{ID: 208277, Name: "📦 Nevinnomyssk", Address: "Timiryazeva st., 16", WorkTime: "24/7", AcceptsQR: true},
		{ID: 507, Name: "📦 Koledino", Address: "Koledino, Troitskaya st., 20", WorkTime: "24/7", AcceptsQR: true},
		{ID: 1733, Name: "📦 Yekaterinburg - Ispytateley 14g", Address: "Ispytateley st., 14G", WorkTime: "24/7", AcceptsQR: true},
		{ID: 161520, Name: "📦 SC Novosibirsk Pasechnaya", Address: "Sadovy, Pasechnaya st., 11/1 bld. 2", WorkTime: "24/7", AcceptsQR: true},
		{ID: 206348, Name: "📦 Tula", Address: "Aleksin municipality, 1", WorkTime: "24/7", AcceptsQR: true},
	}
}

// All returns the warehouses in display order.
func (c *Catalog) All() []Warehouse { return append([]Warehouse(nil), c.list...) }

// Coefficients returns the selectable coefficient values.
func (c *Catalog) Coefficients() []int { return append([]int(nil), c.coefficients...) }

func (c *Catalog) Lookup(id model.WarehouseID) (Warehouse, bool) {
	w, ok := c.byID[id]
	return w, ok
}

func (c *Catalog) Has(id model.WarehouseID) bool {
	_, ok := c.byID[id]
	return ok
}

// NameOf returns the display name, or UnknownName for IDs outside the catalog.
func (c *Catalog) NameOf(id model.WarehouseID) string {
	if c == nil {
		return UnknownName
	}
	if w, ok := c.byID[id]; ok {
		return w.Name
	}
	return UnknownName
}
