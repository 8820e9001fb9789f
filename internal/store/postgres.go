package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"partyledger/internal/config"
	"partyledger/internal/currency"
	"partyledger/internal/inventory"
	"partyledger/internal/models"
)

func Connect(cfg *config.Config) (*sql.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DatabaseHost,
		cfg.DatabasePort,
		cfg.DatabaseUser,
		cfg.DatabasePassword,
		cfg.DatabaseName,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *sql.DB, migrationsDir string) {
	if err := goose.Up(db, migrationsDir); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
}

type postgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dbConn *sql.DB) Store {
	return &postgresStore{db: dbConn}
}

func (s *postgresStore) ReadLedger(ctx context.Context, holderID string) (currency.Ledger, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT denomination, amount FROM ledgers WHERE holder_id=$1", holderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger for %q: %w", holderID, err)
	}
	defer rows.Close()

	l := currency.New()
	for rows.Next() {
		var (
			denom  string
			amount int64
		)
		if e2 := rows.Scan(&denom, &amount); e2 != nil {
			continue
		}
		l[currency.Denomination(denom)] = float64(amount)
	}
	return l, nil
}

func (s *postgresStore) WriteLedger(ctx context.Context, holderID string, l currency.Ledger) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, denom := range currency.Descending {
		amount := int64(l[denom])
		res, err := tx.ExecContext(ctx,
			"UPDATE ledgers SET amount=$1 WHERE holder_id=$2 AND denomination=$3",
			amount, holderID, string(denom))
		if err != nil {
			return fmt.Errorf("failed to update ledger: %w", err)
		}
		rowsAffected, _ := res.RowsAffected()
		if rowsAffected == 0 {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO ledgers (holder_id, denomination, amount) VALUES ($1, $2, $3)",
				holderID, string(denom), amount)
			if err != nil {
				return fmt.Errorf("failed to insert ledger row: %w", err)
			}
		}
	}
	return tx.Commit()
}

func (s *postgresStore) ReadInventory(ctx context.Context, holderID string) ([]inventory.Stack, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, name, quantity, price_amount, price_denomination, weight
        FROM stacks
        WHERE holder_id=$1
    `, holderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory for %q: %w", holderID, err)
	}
	defer rows.Close()

	var stacks []inventory.Stack
	for rows.Next() {
		var (
			st    inventory.Stack
			denom string
		)
		if e2 := rows.Scan(&st.ID, &st.Name, &st.Quantity, &st.Price.Amount, &denom, &st.Weight); e2 != nil {
			continue
		}
		st.Price.Denomination = currency.Denomination(denom)
		stacks = append(stacks, st)
	}
	return stacks, nil
}

// ApplyInventoryOps runs one holder's plan in a single transaction,
// phase by phase: deletes, then updates, then creates. Creates merge
// into an existing same-name stack when one appeared since planning.
func (s *postgresStore) ApplyInventoryOps(ctx context.Context, holderID string, plan inventory.Plan) error {
	if plan.Empty() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range plan.Deletes {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM stacks WHERE holder_id=$1 AND id=$2", holderID, id); err != nil {
			return fmt.Errorf("failed to delete stack %q: %w", id, err)
		}
	}
	for _, u := range plan.Updates {
		if _, err := tx.ExecContext(ctx,
			"UPDATE stacks SET quantity=$1 WHERE holder_id=$2 AND id=$3",
			u.Quantity, holderID, u.ID); err != nil {
			return fmt.Errorf("failed to update stack %q: %w", u.ID, err)
		}
	}
	for _, st := range plan.Creates {
		res, err := tx.ExecContext(ctx,
			"UPDATE stacks SET quantity = quantity + $1 WHERE holder_id=$2 AND name=$3",
			st.Quantity, holderID, st.Name)
		if err != nil {
			return fmt.Errorf("failed to merge stack %q: %w", st.Name, err)
		}
		rowsAffected, _ := res.RowsAffected()
		if rowsAffected == 0 {
			_, err = tx.ExecContext(ctx, `
INSERT INTO stacks (id, holder_id, name, quantity, price_amount, price_denomination, weight)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, st.ID, holderID, st.Name, st.Quantity, st.Price.Amount, string(st.Price.Denomination), st.Weight)
			if err != nil {
				return fmt.Errorf("failed to insert stack %q: %w", st.Name, err)
			}
		}
	}
	return tx.Commit()
}

func (s *postgresStore) Container(ctx context.Context, containerID string) (*models.Container, error) {
	c := &models.Container{ID: containerID, Permissions: map[string]models.Permission{}}
	err := s.db.QueryRowContext(ctx, `
        SELECT name, scene, price_modifier, rolltable, shop_qty_formula,
               item_qty_formula, item_qty_cap, clear_first, unique_only
        FROM containers
        WHERE id=$1
    `, containerID).Scan(&c.Name, &c.Scene, &c.PriceModifier, &c.RolltableName,
		&c.ShopQtyFormula, &c.ItemQtyFormula, &c.ItemQtyCap, &c.ClearFirst, &c.UniqueOnly)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("container %q: %w", containerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query container %q: %w", containerID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT participant_id, level FROM container_permissions WHERE container_id=$1", containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions for %q: %w", containerID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pid   string
			level int
		)
		if e2 := rows.Scan(&pid, &level); e2 != nil {
			continue
		}
		c.Permissions[pid] = models.Permission(level)
	}
	return c, nil
}

func (s *postgresStore) ParticipantAuth(ctx context.Context, username string) (models.Participant, string, error) {
	var (
		p    models.Participant
		hash string
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT id, username, actor_id, scene, is_gm, password_hash
        FROM participants
        WHERE username=$1
    `, username).Scan(&p.ID, &p.Name, &p.ActorID, &p.Scene, &p.GM, &hash)
	if err != nil {
		return models.Participant{}, "", fmt.Errorf("failed to get auth data for %q: %w", username, err)
	}
	return p, hash, nil
}
