package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cardroom/settled/internal/settle"
)

// ApplySettlement writes one hand's settlement as a single transaction: the
// terminal hand row, the settlement record, the winning transactions, the
// balance credits, and the pool increments all commit together. A duplicate
// hand_id surfaces as settle.ErrAlreadySettled and leaves the original
// settlement untouched.
func (s *Store) ApplySettlement(ctx context.Context, sm *settle.Settlement) error {
	now := s.clock.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settlement: %w", err)
	}
	defer tx.Rollback()

	// The hands primary key is the idempotency guard: the first terminal
	// insert wins, every later attempt hits the unique violation.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO hands (hand_id, table_id, status, completed_at)
		VALUES ($1, $2, 'settled', $3)
	`, sm.HandID, sm.TableID, now); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("hand %s: %w", sm.HandID, settle.ErrAlreadySettled)
		}
		return fmt.Errorf("record hand: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pot_settlements (hand_id, table_id, pot, rake, treasury, jackpot, winner_amount, unclaimed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sm.HandID, sm.TableID, sm.Pot, sm.Rake, sm.Treasury, sm.Jackpot, sm.Winner, sm.Unclaimed, now); err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}

	// Unclaimed winner money is treasury revenue on top of the rake share.
	if treasury := sm.Treasury + sm.Unclaimed; treasury > 0 {
		if err := addToPool(ctx, tx, "treasury_pool", treasury, now); err != nil {
			return err
		}
	}
	if sm.Jackpot > 0 {
		if err := addToPool(ctx, tx, "jackpot_pool", sm.Jackpot, now); err != nil {
			return err
		}
	}

	for _, p := range sm.Payouts {
		if err := creditPlayer(ctx, tx, p.UserID, p.Amount, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chip_transactions (user_id, kind, amount, hand_id, table_id, created_at)
			VALUES ($1, 'winning', $2, $3, $4, $5)
		`, p.UserID, p.Amount, sm.HandID, sm.TableID, now); err != nil {
			return fmt.Errorf("record winning for %s: %w", p.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settlement: %w", err)
	}

	s.logger.Debug("settlement applied",
		"hand", sm.HandID,
		"pot", sm.Pot,
		"payouts", len(sm.Payouts))
	return nil
}

// ApplyRefund writes a cancelled hand's refunds as a single transaction. The
// same hands-table guard rejects a hand that already reached a terminal state.
func (s *Store) ApplyRefund(ctx context.Context, r *settle.Refund) error {
	now := s.clock.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin refund: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO hands (hand_id, table_id, status, completed_at)
		VALUES ($1, $2, 'cancelled', $3)
	`, r.HandID, r.TableID, now); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("hand %s: %w", r.HandID, settle.ErrAlreadySettled)
		}
		return fmt.Errorf("record hand: %w", err)
	}

	for _, p := range r.Refunds {
		if err := creditPlayer(ctx, tx, p.UserID, p.Amount, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chip_transactions (user_id, kind, amount, hand_id, table_id, created_at)
			VALUES ($1, 'refund', $2, $3, $4, $5)
		`, p.UserID, p.Amount, r.HandID, r.TableID, now); err != nil {
			return fmt.Errorf("record refund for %s: %w", p.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit refund: %w", err)
	}

	s.logger.Debug("refund applied", "hand", r.HandID, "refunds", len(r.Refunds))
	return nil
}

// creditPlayer increments a player balance. The balance is never computed
// here, only a delta applied; a missing row means the account doesn't exist.
func creditPlayer(ctx context.Context, tx *sql.Tx, userID string, amount int64, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE players SET balance = balance + $1, updated_at = $2
		WHERE user_id = $3
	`, amount, now, userID)
	if err != nil {
		return fmt.Errorf("credit %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credit %s: %w", userID, err)
	}
	if n == 0 {
		return fmt.Errorf("credit %s: %w", userID, settle.ErrUserNotFound)
	}
	return nil
}

// addToPool applies an additive increment to a singleton pool row.
func addToPool(ctx context.Context, tx *sql.Tx, table string, amount int64, now time.Time) error {
	// table is one of two compile-time constants, never user input.
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET amount = amount + $1, updated_at = $2
		WHERE id = 1
	`, table), amount, now)
	if err != nil {
		return fmt.Errorf("increment %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment %s: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("increment %s: singleton row missing", table)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
