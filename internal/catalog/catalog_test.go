package catalog

import (
	"errors"
	"testing"
)

func TestNameOfFallsBackForUnknownIDs(t *testing.T) {
	t.Parallel()
	c := Default()
	if got := c.NameOf(507); got != "📦 Koledino" {
		t.Fatalf("NameOf(507) = %q", got)
	}
	if got := c.NameOf(42); got != UnknownName {
		t.Fatalf("NameOf(42) = %q, want %q", got, UnknownName)
	}
	var nilCat *Catalog
	if got := nilCat.NameOf(507); got != UnknownName {
		t.Fatalf("nil catalog NameOf = %q", got)
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	t.Parallel()
	_, err := New([]Warehouse{{ID: 1, Name: "a"}, {ID: 1, Name: "b"}}, nil)
	if !errors.Is(err, ErrDuplicateWarehouse) {
		t.Fatalf("err = %v, want ErrDuplicateWarehouse", err)
	}
	if _, err := New([]Warehouse{{ID: 1}}, []int{2, 2}); err == nil {
		t.Fatal("expected duplicate coefficient error")
	}
	if _, err := New([]Warehouse{{Name: "no id"}}, nil); err == nil {
		t.Fatal("expected missing id error")
	}
}

func TestNewKeepsOrderAndDefaults(t *testing.T) {
	t.Parallel()
	c, err := New([]Warehouse{{ID: 3, Name: "c"}, {ID: 1}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	all := c.All()
	if len(all) != 2 || all[0].ID != 3 || all[1].Name != "#1" {
		t.Fatalf("unexpected catalog order/names: %+v", all)
	}
	if len(c.Coefficients()) != len(DefaultCoefficients) {
		t.Fatalf("coefficients = %v", c.Coefficients())
	}
}
