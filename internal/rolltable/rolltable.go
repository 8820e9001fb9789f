package rolltable

import (
	"errors"
	"fmt"
	"strings"

	"partyledger/internal/currency"
)

var (
	ErrTableNotFound      = errors.New("rolltable not found")
	ErrItemNotFound       = errors.New("item not found")
	ErrInsufficientUnique = errors.New("not enough distinct entries in rolltable")
)

// Entry is one weighted line of a rolltable. ItemRef addresses an item
// definition either directly or inside a named compendium as
// "compendium.item".
type Entry struct {
	ItemRef string
	Weight  int
}

type Table struct {
	Name    string
	Entries []Entry
}

// TotalWeight sums entry weights, treating anything below 1 as 1.
func (t *Table) TotalWeight() int {
	total := 0
	for _, e := range t.Entries {
		total += weightOf(e)
	}
	return total
}

func weightOf(e Entry) int {
	if e.Weight < 1 {
		return 1
	}
	return e.Weight
}

type Provider interface {
	ResolveTable(name string) (*Table, error)
}

// StaticProvider serves tables from a fixed map.
type StaticProvider map[string]*Table

func (p StaticProvider) ResolveTable(name string) (*Table, error) {
	t, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	return t, nil
}

type ItemDefinition struct {
	ID     string
	Name   string
	Type   string
	Price  currency.Price
	Weight float64
}

type ItemResolver interface {
	ResolveItem(ref string) (*ItemDefinition, error)
	ConvertSpellToConsumable(def *ItemDefinition) (*ItemDefinition, error)
}

// Registry resolves item references against a direct table first, then
// against named compendium collections.
type Registry struct {
	Items     map[string]*ItemDefinition
	Compendia map[string]map[string]*ItemDefinition
}

func (r *Registry) ResolveItem(ref string) (*ItemDefinition, error) {
	if def, ok := r.Items[ref]; ok {
		return def, nil
	}
	if pack, name, found := strings.Cut(ref, "."); found {
		if coll, ok := r.Compendia[pack]; ok {
			if def, ok := coll[name]; ok {
				return def, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrItemNotFound, ref)
}

// ConvertSpellToConsumable rewrites a spell definition as a scroll so it
// can sit in an inventory like any other item. Non-spell definitions
// pass through untouched.
func (r *Registry) ConvertSpellToConsumable(def *ItemDefinition) (*ItemDefinition, error) {
	if def.Type != "spell" {
		return def, nil
	}
	scroll := *def
	scroll.ID = "scroll-" + def.ID
	scroll.Name = "Scroll of " + def.Name
	scroll.Type = "consumable"
	return &scroll, nil
}
