package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"partyledger/internal/currency"
	"partyledger/internal/inventory"
	"partyledger/internal/models"
)

func TestPostgresReadLedger(t *testing.T) {
	dbConn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer dbConn.Close()

	mock.ExpectQuery("SELECT denomination, amount FROM ledgers WHERE holder_id=\\$1").
		WithArgs("actor-1").
		WillReturnRows(sqlmock.NewRows([]string{"denomination", "amount"}).
			AddRow("gp", 12).
			AddRow("sp", 4))

	st := NewPostgresStore(dbConn)
	l, err := st.ReadLedger(context.Background(), "actor-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l[currency.Gold] != 12 || l[currency.Silver] != 4 {
		t.Errorf("unexpected ledger: %v", l)
	}
	if l[currency.Copper] != 0 {
		t.Errorf("missing denominations should read as zero, got %v", l[currency.Copper])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresWriteLedger(t *testing.T) {
	dbConn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer dbConn.Close()

	mock.ExpectBegin()
	for _, denom := range currency.Descending {
		if denom == currency.Gold {
			// No existing row for gold: the update misses and the
			// store falls back to an insert.
			mock.ExpectExec("UPDATE ledgers SET amount=\\$1 WHERE holder_id=\\$2 AND denomination=\\$3").
				WithArgs(int64(7), "actor-1", "gp").
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec("INSERT INTO ledgers").
				WithArgs("actor-1", "gp", int64(7)).
				WillReturnResult(sqlmock.NewResult(1, 1))
			continue
		}
		mock.ExpectExec("UPDATE ledgers SET amount=\\$1 WHERE holder_id=\\$2 AND denomination=\\$3").
			WithArgs(int64(0), "actor-1", string(denom)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	st := NewPostgresStore(dbConn)
	if err := st.WriteLedger(context.Background(), "actor-1", currency.Ledger{currency.Gold: 7}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresApplyInventoryOps(t *testing.T) {
	dbConn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer dbConn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM stacks WHERE holder_id=\\$1 AND id=\\$2").
		WithArgs("chest", "old-sword").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE stacks SET quantity=\\$1 WHERE holder_id=\\$2 AND id=\\$3").
		WithArgs(3, "chest", "potion").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The create misses the merge update and falls through to insert.
	mock.ExpectExec("UPDATE stacks SET quantity = quantity \\+ \\$1 WHERE holder_id=\\$2 AND name=\\$3").
		WithArgs(2, "chest", "Rope").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO stacks").
		WithArgs("rope", "chest", "Rope", 2, float64(1), "gp", 5.0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	plan := inventory.Plan{
		Deletes: []string{"old-sword"},
		Updates: []inventory.QuantityUpdate{{ID: "potion", Quantity: 3}},
		Creates: []inventory.Stack{{
			ID: "rope", Name: "Rope", Quantity: 2,
			Price:  currency.Price{Amount: 1, Denomination: currency.Gold},
			Weight: 5.0,
		}},
	}

	st := NewPostgresStore(dbConn)
	if err := st.ApplyInventoryOps(context.Background(), "chest", plan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresApplyInventoryOpsEmptyPlan(t *testing.T) {
	dbConn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer dbConn.Close()

	st := NewPostgresStore(dbConn)
	if err := st.ApplyInventoryOps(context.Background(), "chest", inventory.Plan{}); err != nil {
		t.Fatalf("empty plan should be a no-op, got %v", err)
	}

	// No transaction should have been opened.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresContainer(t *testing.T) {
	dbConn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer dbConn.Close()

	mock.ExpectQuery("SELECT name, scene, price_modifier, rolltable, shop_qty_formula").
		WithArgs("chest").
		WillReturnRows(sqlmock.NewRows([]string{
			"name", "scene", "price_modifier", "rolltable", "shop_qty_formula",
			"item_qty_formula", "item_qty_cap", "clear_first", "unique_only",
		}).AddRow("Chest", "dungeon", 1.5, "treasure", "1d4", "1d6", 10, true, false))

	mock.ExpectQuery("SELECT participant_id, level FROM container_permissions WHERE container_id=\\$1").
		WithArgs("chest").
		WillReturnRows(sqlmock.NewRows([]string{"participant_id", "level"}).
			AddRow("p1", int(models.PermissionObserver)).
			AddRow("p2", int(models.PermissionOwner)))

	st := NewPostgresStore(dbConn)
	c, err := st.Container(context.Background(), "chest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Name != "Chest" || c.Scene != "dungeon" || c.PriceModifier != 1.5 {
		t.Errorf("unexpected container: %+v", c)
	}
	if !c.ClearFirst || c.UniqueOnly {
		t.Errorf("unexpected flags: %+v", c)
	}
	if c.Permissions["p1"] != models.PermissionObserver || c.Permissions["p2"] != models.PermissionOwner {
		t.Errorf("unexpected permissions: %v", c.Permissions)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresContainerNotFound(t *testing.T) {
	dbConn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer dbConn.Close()

	mock.ExpectQuery("SELECT name, scene, price_modifier, rolltable, shop_qty_formula").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	st := NewPostgresStore(dbConn)
	if _, err := st.Container(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresParticipantAuth(t *testing.T) {
	dbConn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer dbConn.Close()

	mock.ExpectQuery("SELECT id, username, actor_id, scene, is_gm, password_hash").
		WithArgs("keeper").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "username", "actor_id", "scene", "is_gm", "password_hash",
		}).AddRow("gm", "keeper", "actor-gm", "dungeon", true, "secret"))

	st := NewPostgresStore(dbConn).(AuthStore)
	p, hash, err := st.ParticipantAuth(context.Background(), "keeper")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "gm" || !p.GM || hash != "secret" {
		t.Errorf("unexpected auth data: %+v %q", p, hash)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
