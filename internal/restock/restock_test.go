package restock

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"go.uber.org/zap"

	"partyledger/internal/authority"
	"partyledger/internal/currency"
	"partyledger/internal/inventory"
	"partyledger/internal/models"
	"partyledger/internal/protocol"
	"partyledger/internal/rolltable"
	"partyledger/internal/store"
	"partyledger/pkg"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, fields ...zap.Field)  {}
func (nopLogger) Warn(msg string, fields ...zap.Field)  {}
func (nopLogger) Error(msg string, fields ...zap.Field) {}
func (nopLogger) Sync() error                           { return nil }

var _ pkg.Logger = nopLogger{}

func testCatalog() (rolltable.StaticProvider, *rolltable.Registry) {
	tables := rolltable.StaticProvider{
		"shop-goods": {
			Name: "shop-goods",
			Entries: []rolltable.Entry{
				{ItemRef: "potion", Weight: 4},
				{ItemRef: "srd.rope", Weight: 2},
				{ItemRef: "fireball", Weight: 1},
			},
		},
		"spell-goods": {
			Name: "spell-goods",
			Entries: []rolltable.Entry{
				{ItemRef: "fireball", Weight: 1},
			},
		},
		"broken-goods": {
			Name: "broken-goods",
			Entries: []rolltable.Entry{
				{ItemRef: "potion", Weight: 1},
				{ItemRef: "no-such-item", Weight: 1},
			},
		},
	}
	registry := &rolltable.Registry{
		Items: map[string]*rolltable.ItemDefinition{
			"potion": {ID: "potion", Name: "Healing Potion", Type: "consumable",
				Price: currency.Price{Amount: 50, Denomination: currency.Gold}},
			"fireball": {ID: "fireball", Name: "Fireball", Type: "spell",
				Price: currency.Price{Amount: 150, Denomination: currency.Gold}},
		},
		Compendia: map[string]map[string]*rolltable.ItemDefinition{
			"srd": {
				"rope": {ID: "rope", Name: "Rope", Type: "gear",
					Price: currency.Price{Amount: 1, Denomination: currency.Gold}},
			},
		},
	}
	return tables, registry
}

func testEngine(t *testing.T, seed int64, cont *models.Container) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	st.PutContainer(cont)
	tables, registry := testCatalog()
	return NewEngine(st, tables, registry, store.NewContainerLocks(), nopLogger{}, rand.NewSource(seed)), st
}

func baseContainer() *models.Container {
	return &models.Container{
		ID:             "shop-1",
		Name:           "General Store",
		Scene:          "town",
		PriceModifier:  1,
		RolltableName:  "shop-goods",
		ShopQtyFormula: "3",
		ItemQtyFormula: "2",
	}
}

func TestRestockStocksContainer(t *testing.T) {
	eng, st := testEngine(t, 1, baseContainer())
	if err := eng.Restock(context.Background(), "shop-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stacks, _ := st.ReadInventory(context.Background(), "shop-1")
	if len(stacks) == 0 {
		t.Fatal("restock added nothing")
	}
	total := 0
	for _, s := range stacks {
		if s.Quantity <= 0 {
			t.Errorf("stack %q has quantity %d", s.Name, s.Quantity)
		}
		total += s.Quantity
	}
	if total != 6 { // 3 draws of a constant "2" formula
		t.Errorf("total stocked quantity %d, want 6", total)
	}
}

func TestRestockConvertsSpells(t *testing.T) {
	cont := baseContainer()
	cont.RolltableName = "spell-goods"
	cont.ShopQtyFormula = "2"
	eng, st := testEngine(t, 7, cont)
	if err := eng.Restock(context.Background(), "shop-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stacks, _ := st.ReadInventory(context.Background(), "shop-1")
	if len(stacks) != 1 || stacks[0].Name != "Scroll of Fireball" {
		t.Fatalf("expected the spell stocked as a scroll, got %+v", stacks)
	}
	if stacks[0].Quantity != 4 { // two draws of a constant "2" formula, merged
		t.Errorf("scroll quantity %d, want 4", stacks[0].Quantity)
	}
}

func TestRestockUniqueOnlyPreflight(t *testing.T) {
	cont := baseContainer()
	cont.ShopQtyFormula = "5"
	cont.UniqueOnly = true
	cont.ClearFirst = true
	eng, st := testEngine(t, 1, cont)
	st.PutStacks("shop-1", []inventory.Stack{{ID: "old", Name: "Old Stock", Quantity: 1}})

	err := eng.Restock(context.Background(), "shop-1")
	if !errors.Is(err, rolltable.ErrInsufficientUnique) {
		t.Fatalf("got %v, want ErrInsufficientUnique", err)
	}
	stacks, _ := st.ReadInventory(context.Background(), "shop-1")
	if len(stacks) != 1 || stacks[0].ID != "old" {
		t.Errorf("failed preflight must not mutate inventory, got %+v", stacks)
	}
}

func TestRestockUniqueOnlyDistinctNames(t *testing.T) {
	cont := baseContainer()
	cont.ShopQtyFormula = "3"
	cont.UniqueOnly = true
	eng, st := testEngine(t, 3, cont)
	if err := eng.Restock(context.Background(), "shop-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stacks, _ := st.ReadInventory(context.Background(), "shop-1")
	if len(stacks) != 3 {
		t.Fatalf("expected 3 distinct stacks, got %+v", stacks)
	}
}

func TestRestockClearFirst(t *testing.T) {
	cont := baseContainer()
	cont.ClearFirst = true
	eng, st := testEngine(t, 1, cont)
	st.PutStacks("shop-1", []inventory.Stack{{ID: "stale", Name: "Stale Bread", Quantity: 9}})

	if err := eng.Restock(context.Background(), "shop-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stacks, _ := st.ReadInventory(context.Background(), "shop-1")
	for _, s := range stacks {
		if s.ID == "stale" {
			t.Error("clear-first left the old stock behind")
		}
	}
}

func TestRestockCapEnforcement(t *testing.T) {
	cont := baseContainer()
	cont.ShopQtyFormula = "10"
	cont.ItemQtyFormula = "3"
	cont.ItemQtyCap = 4
	eng, st := testEngine(t, 5, cont)
	st.PutStacks("shop-1", []inventory.Stack{{ID: "hp", Name: "Healing Potion", Quantity: 4}})

	if err := eng.Restock(context.Background(), "shop-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stacks, _ := st.ReadInventory(context.Background(), "shop-1")
	for _, s := range stacks {
		if s.Quantity > 4 {
			t.Errorf("stack %q exceeds cap: %d", s.Name, s.Quantity)
		}
	}
}

func TestRestockMergesWithExisting(t *testing.T) {
	eng, st := testEngine(t, 2, baseContainer())
	st.PutStacks("shop-1", []inventory.Stack{{ID: "hp", Name: "Healing Potion", Quantity: 1}})

	if err := eng.Restock(context.Background(), "shop-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stacks, _ := st.ReadInventory(context.Background(), "shop-1")
	count := 0
	for _, s := range stacks {
		if s.Name == "Healing Potion" {
			count++
		}
	}
	if count > 1 {
		t.Errorf("existing stack should merge, found %d potion stacks", count)
	}
}

func TestRestockUnknownTable(t *testing.T) {
	cont := baseContainer()
	cont.RolltableName = "no-such-table"
	eng, _ := testEngine(t, 1, cont)
	if err := eng.Restock(context.Background(), "shop-1"); !errors.Is(err, rolltable.ErrTableNotFound) {
		t.Fatalf("got %v, want ErrTableNotFound", err)
	}
}

func TestRestockBadShopFormulaAborts(t *testing.T) {
	cont := baseContainer()
	cont.ShopQtyFormula = "banana"
	eng, st := testEngine(t, 1, cont)
	if err := eng.Restock(context.Background(), "shop-1"); err == nil {
		t.Fatal("expected an error for a bad shop formula")
	}
	stacks, _ := st.ReadInventory(context.Background(), "shop-1")
	if len(stacks) != 0 {
		t.Errorf("aborted restock must not mutate inventory: %+v", stacks)
	}
}

func TestRestockSkipsUnresolvableEntries(t *testing.T) {
	cont := baseContainer()
	cont.RolltableName = "broken-goods"
	cont.ShopQtyFormula = "20"
	eng, st := testEngine(t, 9, cont)

	if err := eng.Restock(context.Background(), "shop-1"); err != nil {
		t.Fatalf("one bad entry must not abort the restock: %v", err)
	}
	stacks, _ := st.ReadInventory(context.Background(), "shop-1")
	if len(stacks) != 1 || stacks[0].Name != "Healing Potion" {
		t.Errorf("expected only the resolvable entry stocked, got %+v", stacks)
	}
}

func TestRestockMissingContainer(t *testing.T) {
	eng, _ := testEngine(t, 1, baseContainer())
	if err := eng.Restock(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want store.ErrNotFound", err)
	}
}

// pausingStore parks the first inventory read until released, holding
// the caller mid-restock so another mutation can be attempted against
// the same container.
type pausingStore struct {
	*store.MemoryStore
	reached chan struct{}
	resume  chan struct{}
	once    sync.Once
}

func (s *pausingStore) ReadInventory(ctx context.Context, holderID string) ([]inventory.Stack, error) {
	stacks, err := s.MemoryStore.ReadInventory(ctx, holderID)
	s.once.Do(func() {
		close(s.reached)
		<-s.resume
	})
	return stacks, err
}

type fixedRoster map[string]models.Participant

func (r fixedRoster) ActiveAuthority(scene string) (models.Participant, bool) {
	for _, p := range r {
		if p.GM && p.Scene == scene {
			return p, true
		}
	}
	return models.Participant{}, false
}

func (r fixedRoster) Participant(id string) (models.Participant, bool) {
	p, ok := r[id]
	return p, ok
}

func (r fixedRoster) Participants(scene string) []models.Participant {
	var out []models.Participant
	for _, p := range r {
		if p.Scene == scene {
			out = append(out, p)
		}
	}
	return out
}

type nopChannel struct{}

func (nopChannel) Broadcast(p protocol.Packet)       {}
func (nopChannel) Send(id string, p protocol.Packet) {}

func TestRestockSerializesWithConcurrentBuy(t *testing.T) {
	mem := store.NewMemoryStore()
	cont := &models.Container{
		ID: "shop-1", Name: "General Store", Scene: "town",
		PriceModifier: 1, RolltableName: "potions",
		ShopQtyFormula: "2", ItemQtyFormula: "1",
	}
	mem.PutContainer(cont)
	mem.PutStacks("shop-1", []inventory.Stack{{
		ID: "stock-potion", Name: "Healing Potion", Quantity: 4,
		Price: currency.Price{Amount: 2, Denomination: currency.Gold},
	}})
	mem.PutLedger("actor-1", currency.Ledger{currency.Gold: 10})

	ps := &pausingStore{
		MemoryStore: mem,
		reached:     make(chan struct{}),
		resume:      make(chan struct{}),
	}
	tables := rolltable.StaticProvider{
		"potions": {Name: "potions", Entries: []rolltable.Entry{{ItemRef: "potion", Weight: 1}}},
	}
	registry := &rolltable.Registry{Items: map[string]*rolltable.ItemDefinition{
		"potion": {ID: "potion", Name: "Healing Potion", Type: "consumable",
			Price: currency.Price{Amount: 2, Denomination: currency.Gold}},
	}}

	locks := store.NewContainerLocks()
	eng := NewEngine(ps, tables, registry, locks, nopLogger{}, rand.NewSource(1))
	roster := fixedRoster{
		"gm": {ID: "gm", ActorID: "actor-gm", Scene: "town", GM: true},
		"p1": {ID: "p1", ActorID: "actor-1", Scene: "town"},
	}
	proc := authority.NewProcessor(ps, roster, nopChannel{}, locks, nopLogger{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := eng.Restock(context.Background(), "shop-1"); err != nil {
			t.Errorf("restock failed: %v", err)
		}
	}()

	<-ps.reached
	go func() {
		defer wg.Done()
		proc.Handle(context.Background(), protocol.Buy{
			BuyerID: "p1", ContainerID: "shop-1",
			ItemID: "stock-potion", Quantity: 2, AuthorityID: "gm",
		})
	}()
	close(ps.resume)
	wg.Wait()

	// The restock raised the stack from 4 to 6 under the container
	// lock; the buy then took 2 from the fresh count.
	shop, _ := mem.ReadInventory(context.Background(), "shop-1")
	if len(shop) != 1 || shop[0].Quantity != 4 {
		t.Errorf("shop should hold 4 potions after restock then buy, got %+v", shop)
	}
	buyer, _ := mem.ReadInventory(context.Background(), "actor-1")
	if len(buyer) != 1 || buyer[0].Quantity != 2 {
		t.Errorf("buyer should hold 2 potions, got %+v", buyer)
	}
}

func TestConcurrentRestocksAcrossContainers(t *testing.T) {
	mem := store.NewMemoryStore()
	tables, registry := testCatalog()
	for _, id := range []string{"shop-a", "shop-b"} {
		mem.PutContainer(&models.Container{
			ID: id, Scene: "town", PriceModifier: 1,
			RolltableName: "shop-goods", ShopQtyFormula: "2d4", ItemQtyFormula: "1d6",
		})
	}
	eng := NewEngine(mem, tables, registry, store.NewContainerLocks(), nopLogger{}, rand.NewSource(7))

	var wg sync.WaitGroup
	for _, id := range []string{"shop-a", "shop-b"} {
		wg.Add(1)
		go func(container string) {
			defer wg.Done()
			if err := eng.Restock(context.Background(), container); err != nil {
				t.Errorf("restock of %s failed: %v", container, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"shop-a", "shop-b"} {
		stacks, _ := mem.ReadInventory(context.Background(), id)
		if len(stacks) == 0 {
			t.Errorf("container %s was not stocked", id)
		}
	}
}
