package restock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"partyledger/internal/dice"
	"partyledger/internal/inventory"
	"partyledger/internal/rolltable"
	"partyledger/internal/store"
	"partyledger/pkg"
)

// Engine populates a container's inventory from its configured
// rolltable. Table and formula errors abort before anything is written;
// a single entry that fails to resolve is skipped and logged so one bad
// table line cannot sink an otherwise good restock. The container's
// lock is held from the inventory read through the write, shared with
// every other path that mutates that container.
type Engine struct {
	store  store.Store
	tables rolltable.Provider
	items  rolltable.ItemResolver
	locks  *store.ContainerLocks
	log    pkg.Logger
	rng    *rand.Rand
}

func NewEngine(st store.Store, tables rolltable.Provider, items rolltable.ItemResolver, locks *store.ContainerLocks, log pkg.Logger, src rand.Source) *Engine {
	return &Engine{
		store:  st,
		tables: tables,
		items:  items,
		locks:  locks,
		log:    log,
		rng:    rand.New(&lockedSource{src: src}),
	}
}

// lockedSource guards a rand.Source; the bare sources math/rand hands
// out are not safe for the concurrent rolls handler goroutines make.
type lockedSource struct {
	mu  sync.Mutex
	src rand.Source
}

func (s *lockedSource) Int63() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Int63()
}

func (s *lockedSource) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src.Seed(seed)
}

func (e *Engine) Restock(ctx context.Context, containerID string) error {
	cont, err := e.store.Container(ctx, containerID)
	if err != nil {
		return err
	}

	table, err := e.tables.ResolveTable(cont.RolltableName)
	if err != nil {
		return err
	}

	n, err := dice.Eval(cont.ShopQtyFormula, e.rng)
	if err != nil {
		return fmt.Errorf("shop quantity formula: %w", err)
	}
	if cont.UniqueOnly && n > len(table.Entries) {
		return fmt.Errorf("%w: want %d of %d", rolltable.ErrInsufficientUnique, n, len(table.Entries))
	}

	lock := e.locks.For(containerID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.store.ReadInventory(ctx, containerID)
	if err != nil {
		return err
	}

	var plan inventory.Plan
	current := make(map[string]int)
	stackID := make(map[string]string)
	if cont.ClearFirst {
		for _, st := range existing {
			plan.Deletes = append(plan.Deletes, st.ID)
		}
	} else {
		for _, st := range existing {
			current[st.Name] = st.Quantity
			stackID[st.Name] = st.ID
		}
	}

	var entries []rolltable.Entry
	if cont.UniqueOnly {
		entries, err = rolltable.DrawUnique(table, n, e.rng)
		if err != nil {
			return err
		}
	} else {
		entries = rolltable.Draw(table, n, e.rng)
	}

	var (
		updated     = make(map[string]bool)
		updateOrder []string
		creates     = make(map[string]*inventory.Stack)
		createOrder []string
	)
	for _, entry := range entries {
		def, err := e.items.ResolveItem(entry.ItemRef)
		if err != nil {
			e.log.Warn("skipping rolltable entry",
				zap.String("container", containerID),
				zap.String("ref", entry.ItemRef),
				zap.Error(err))
			continue
		}
		def, err = e.items.ConvertSpellToConsumable(def)
		if err != nil {
			e.log.Warn("skipping spell conversion",
				zap.String("container", containerID),
				zap.String("ref", entry.ItemRef),
				zap.Error(err))
			continue
		}

		rolled, err := dice.Eval(cont.ItemQtyFormula, e.rng)
		if err != nil {
			e.log.Warn("skipping entry with bad quantity formula",
				zap.String("container", containerID),
				zap.String("formula", cont.ItemQtyFormula),
				zap.Error(err))
			continue
		}
		if rolled <= 0 {
			continue
		}

		if _, exists := stackID[def.Name]; exists {
			q := current[def.Name]
			if cont.ItemQtyCap > 0 && q == cont.ItemQtyCap {
				continue
			}
			newQty := q + rolled
			if cont.ItemQtyCap > 0 && newQty > cont.ItemQtyCap {
				newQty = cont.ItemQtyCap
			}
			current[def.Name] = newQty
			if !updated[def.Name] {
				updated[def.Name] = true
				updateOrder = append(updateOrder, def.Name)
			}
		} else if pending, started := creates[def.Name]; started {
			newQty := pending.Quantity + rolled
			if cont.ItemQtyCap > 0 && newQty > cont.ItemQtyCap {
				newQty = cont.ItemQtyCap
			}
			pending.Quantity = newQty
		} else {
			q := rolled
			if cont.ItemQtyCap > 0 && q > cont.ItemQtyCap {
				q = cont.ItemQtyCap
			}
			creates[def.Name] = &inventory.Stack{
				ID:       def.ID,
				Name:     def.Name,
				Quantity: q,
				Price:    def.Price,
				Weight:   def.Weight,
			}
			createOrder = append(createOrder, def.Name)
		}
	}

	for _, name := range updateOrder {
		plan.Updates = append(plan.Updates, inventory.QuantityUpdate{ID: stackID[name], Quantity: current[name]})
	}
	for _, name := range createOrder {
		plan.Creates = append(plan.Creates, *creates[name])
	}

	if plan.Empty() {
		return nil
	}
	return e.store.ApplyInventoryOps(ctx, containerID, plan)
}
