package order

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGStore persists the ledger in Postgres. It keeps the same full-rewrite
// contract as the JSON store: every Save replaces the whole record set in
// one transaction. Unlike the JSON store it survives restarts, so the order
// number sequence continues across runs.
type PGStore struct {
	db *sql.DB
}

// OpenPGStore connects, verifies the connection, and applies pending
// migrations.
func OpenPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("order: postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("order: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("order: ping postgres: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("order: apply migrations: %w", err)
	}
	return &PGStore{db: db}, nil
}

// Load reads every order in creation order.
func (s *PGStore) Load(ctx context.Context) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM orders ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var o Order
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("decode order row: %w", err)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// Save replaces the full record set transactionally.
func (s *PGStore) Save(ctx context.Context, orders []*Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM orders`); err != nil {
		return err
	}
	for i, o := range orders {
		payload, err := json.Marshal(o)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO orders (number, position, payload) VALUES ($1, $2, $3)`,
			o.Number, i, payload,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close releases the connection pool.
func (s *PGStore) Close() error { return s.db.Close() }
