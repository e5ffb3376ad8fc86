package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cardroom/settled/internal/settle"
)

// ErrNotFound indicates a lookup for a hand that has no settlement record.
var ErrNotFound = errors.New("not found")

// SettlementRecord is a stored pot settlement as read back from the ledger.
type SettlementRecord struct {
	HandID    string    `json:"handId"`
	TableID   string    `json:"tableId"`
	Pot       int64     `json:"pot"`
	Rake      int64     `json:"rake"`
	Treasury  int64     `json:"treasury"`
	Jackpot   int64     `json:"jackpot"`
	Winner    int64     `json:"winnerAmount"`
	Unclaimed int64     `json:"unclaimed"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChipTransaction is one append-only ledger row.
type ChipTransaction struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	Kind      string    `json:"kind"`
	Amount    int64     `json:"amount"`
	HandID    string    `json:"handId"`
	TableID   string    `json:"tableId"`
	CreatedAt time.Time `json:"createdAt"`
}

// PoolBalances is a snapshot of the two reserve pools.
type PoolBalances struct {
	Treasury          int64     `json:"treasury"`
	TreasuryUpdatedAt time.Time `json:"treasuryUpdatedAt"`
	Jackpot           int64     `json:"jackpot"`
	JackpotUpdatedAt  time.Time `json:"jackpotUpdatedAt"`
}

// Settlement returns the stored settlement for a hand.
func (s *Store) Settlement(ctx context.Context, handID string) (*SettlementRecord, error) {
	var rec SettlementRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT hand_id, table_id, pot, rake, treasury, jackpot, winner_amount, unclaimed, created_at
		FROM pot_settlements
		WHERE hand_id = $1
	`, handID).Scan(&rec.HandID, &rec.TableID, &rec.Pot, &rec.Rake, &rec.Treasury, &rec.Jackpot, &rec.Winner, &rec.Unclaimed, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("settlement %s: %w", handID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load settlement %s: %w", handID, err)
	}
	return &rec, nil
}

// HandTransactions returns the ledger rows written for a hand, oldest first.
func (s *Store) HandTransactions(ctx context.Context, handID string) ([]ChipTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, amount, hand_id, table_id, created_at
		FROM chip_transactions
		WHERE hand_id = $1
		ORDER BY id
	`, handID)
	if err != nil {
		return nil, fmt.Errorf("load transactions for %s: %w", handID, err)
	}
	defer rows.Close()

	var txs []ChipTransaction
	for rows.Next() {
		var t ChipTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.Amount, &t.HandID, &t.TableID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// Pools returns the current reserve pool balances.
func (s *Store) Pools(ctx context.Context) (PoolBalances, error) {
	var b PoolBalances
	if err := s.db.QueryRowContext(ctx, `
		SELECT amount, updated_at FROM treasury_pool WHERE id = 1
	`).Scan(&b.Treasury, &b.TreasuryUpdatedAt); err != nil {
		return PoolBalances{}, fmt.Errorf("load treasury pool: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT amount, updated_at FROM jackpot_pool WHERE id = 1
	`).Scan(&b.Jackpot, &b.JackpotUpdatedAt); err != nil {
		return PoolBalances{}, fmt.Errorf("load jackpot pool: %w", err)
	}
	return b, nil
}

// EnsurePlayer creates a player account row if it doesn't exist yet. Account
// creation is owned by the wallet subsystem; this exists for local
// development and tests.
func (s *Store) EnsurePlayer(ctx context.Context, userID string, balance int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (user_id, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, balance, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("ensure player %s: %w", userID, err)
	}
	return nil
}

// PlayerBalance reads a player's balance.
func (s *Store) PlayerBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM players WHERE user_id = $1
	`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("player %s: %w", userID, settle.ErrUserNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("load balance for %s: %w", userID, err)
	}
	return balance, nil
}
