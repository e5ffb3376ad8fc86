// Package store persists settlements, ledger rows, and the reserve pools in
// Postgres. All monetary effects of a hand are applied in a single database
// transaction, and the hands table's primary key doubles as the idempotency
// guard against double settlement.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	_ "github.com/lib/pq"
)

// Advisory lock held while bootstrapping the schema, so concurrent instances
// don't race on DDL.
const migrateLockID int64 = 730114982

// Store wraps a Postgres connection pool.
type Store struct {
	db     *sql.DB
	clock  quartz.Clock
	logger *log.Logger
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db, quartz.NewReal(), logger), nil
}

// New wraps an existing connection pool. The clock stamps created_at and
// updated_at columns and is injectable for tests.
func New(db *sql.DB, clock quartz.Clock, logger *log.Logger) *Store {
	return &Store{
		db:     db,
		clock:  clock,
		logger: logger.WithPrefix("store"),
	}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS hands (
		hand_id      TEXT PRIMARY KEY,
		table_id     TEXT NOT NULL,
		status       TEXT NOT NULL CHECK (status IN ('settled', 'cancelled')),
		completed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pot_settlements (
		hand_id       TEXT PRIMARY KEY REFERENCES hands (hand_id),
		table_id      TEXT NOT NULL,
		pot           BIGINT NOT NULL CHECK (pot >= 0),
		rake          BIGINT NOT NULL CHECK (rake >= 0),
		treasury      BIGINT NOT NULL CHECK (treasury >= 0),
		jackpot       BIGINT NOT NULL CHECK (jackpot >= 0),
		winner_amount BIGINT NOT NULL CHECK (winner_amount >= 0),
		unclaimed     BIGINT NOT NULL DEFAULT 0 CHECK (unclaimed >= 0),
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chip_transactions (
		id         BIGSERIAL PRIMARY KEY,
		user_id    TEXT NOT NULL,
		kind       TEXT NOT NULL CHECK (kind IN ('winning', 'refund')),
		amount     BIGINT NOT NULL CHECK (amount > 0),
		hand_id    TEXT NOT NULL REFERENCES hands (hand_id),
		table_id   TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chip_transactions_user
		ON chip_transactions (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_chip_transactions_hand
		ON chip_transactions (hand_id)`,
	`CREATE TABLE IF NOT EXISTS treasury_pool (
		id         INT PRIMARY KEY CHECK (id = 1),
		amount     BIGINT NOT NULL CHECK (amount >= 0),
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS jackpot_pool (
		id         INT PRIMARY KEY CHECK (id = 1),
		amount     BIGINT NOT NULL CHECK (amount >= 0),
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS players (
		user_id    TEXT PRIMARY KEY,
		balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`INSERT INTO treasury_pool (id, amount, updated_at)
		VALUES (1, 0, NOW()) ON CONFLICT (id) DO NOTHING`,
	`INSERT INTO jackpot_pool (id, amount, updated_at)
		VALUES (1, 0, NOW()) ON CONFLICT (id) DO NOTHING`,
}

// Migrate bootstraps the schema. Safe to run on every start; a pg advisory
// lock serializes instances that come up together.
func (s *Store) Migrate(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrateLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, migrateLockID)
	}()

	for _, stmt := range schema {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	s.logger.Debug("schema up to date", "statements", len(schema))
	return nil
}
