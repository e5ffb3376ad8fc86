package settle

import (
	"context"
	"fmt"
	"math"

	"github.com/charmbracelet/log"
)

// WinnerShare is one winner's relative claim on a pot. Shares are weights,
// normalized against their sum; they do not need to add up to any fixed total.
type WinnerShare struct {
	UserID string
	Share  int64
}

// Bet is one player's contribution to a cancelled hand, to be returned.
type Bet struct {
	UserID string
	Amount int64
}

// Payout is a single credit to a player's balance.
type Payout struct {
	UserID string
	Amount int64
}

// Settlement is the full bookkeeping record for one settled hand.
type Settlement struct {
	HandID  string
	TableID string

	Pot      int64
	Rake     int64
	Treasury int64
	Jackpot  int64
	Winner   int64

	// Unclaimed is the winner money routed to the treasury when the hand
	// ended with no winners (everyone folded or the pot was voided).
	Unclaimed int64

	Payouts []Payout
}

// Refund is the record for a cancelled hand whose bets were returned.
type Refund struct {
	HandID  string
	TableID string
	Refunds []Payout
}

// Ledger applies the monetary effects of a settlement as one atomic unit:
// pool increments, balance credits, and bookkeeping rows all commit together
// or not at all. Implementations must reject a hand that already reached a
// terminal state with ErrAlreadySettled.
type Ledger interface {
	ApplySettlement(ctx context.Context, s *Settlement) error
	ApplyRefund(ctx context.Context, r *Refund) error
}

// Distributor turns completed hands into payouts and ledger entries.
type Distributor struct {
	policy RakePolicy
	ledger Ledger
	logger *log.Logger
}

// NewDistributor creates a distributor that settles hands against the given
// ledger using the given rake policy.
func NewDistributor(policy RakePolicy, ledger Ledger, logger *log.Logger) *Distributor {
	return &Distributor{
		policy: policy,
		ledger: ledger,
		logger: logger.WithPrefix("settle"),
	}
}

// DistributePot settles a completed hand: it allocates rake, treasury, and
// jackpot shares from the pot, splits the remainder between the winners in
// proportion to their shares, and applies the whole settlement atomically.
//
// With no winners the entire winner amount is routed to the treasury as an
// unclaimed-pot allocation and no player balances change.
func (d *Distributor) DistributePot(ctx context.Context, handID, tableID string, pot int64, winners []WinnerShare) (*Settlement, error) {
	var totalShares int64
	for _, w := range winners {
		if w.Share <= 0 {
			return nil, fmt.Errorf("%w: share %d for user %s", ErrInvalidAmount, w.Share, w.UserID)
		}
		if totalShares > math.MaxInt64-w.Share {
			return nil, fmt.Errorf("%w: winner shares sum overflows", ErrInvalidAmount)
		}
		totalShares += w.Share
	}

	alloc, err := d.policy.Allocate(pot)
	if err != nil {
		return nil, err
	}

	s := &Settlement{
		HandID:   handID,
		TableID:  tableID,
		Pot:      alloc.Pot,
		Rake:     alloc.Rake,
		Treasury: alloc.Treasury,
		Jackpot:  alloc.Jackpot,
		Winner:   alloc.Winner,
	}

	if len(winners) == 0 {
		s.Unclaimed = alloc.Winner
	} else {
		s.Payouts = splitWinnings(alloc.Winner, winners, totalShares)
	}

	if err := d.ledger.ApplySettlement(ctx, s); err != nil {
		return nil, err
	}

	d.logger.Info("hand settled",
		"hand", handID,
		"table", tableID,
		"pot", s.Pot,
		"rake", s.Rake,
		"winners", len(s.Payouts),
		"unclaimed", s.Unclaimed)

	return s, nil
}

// ReturnBets refunds each player's contribution for a cancelled hand. No rake
// applies; the pot was never won. Zero-amount entries are skipped.
func (d *Distributor) ReturnBets(ctx context.Context, handID, tableID string, bets []Bet) (*Refund, error) {
	refunds := make([]Payout, 0, len(bets))
	for _, b := range bets {
		if b.Amount < 0 {
			return nil, fmt.Errorf("%w: bet %d for user %s", ErrInvalidAmount, b.Amount, b.UserID)
		}
		if b.Amount == 0 {
			continue
		}
		refunds = append(refunds, Payout{UserID: b.UserID, Amount: b.Amount})
	}

	r := &Refund{HandID: handID, TableID: tableID, Refunds: refunds}

	if err := d.ledger.ApplyRefund(ctx, r); err != nil {
		return nil, err
	}

	d.logger.Info("hand cancelled, bets returned",
		"hand", handID,
		"table", tableID,
		"refunds", len(r.Refunds))

	return r, nil
}

// splitWinnings divides the winner amount between winners proportionally to
// their shares, flooring each cut. The leftover remainder goes to the
// largest-share winner (first in input order on a tie) so no chips are ever
// burned. Winners whose floored cut is zero are dropped.
//
// The caller has already verified every share is positive and that
// totalShares is their non-overflowing sum; the cuts themselves use 128-bit
// intermediates, so arbitrarily large share weights cannot corrupt the split.
func splitWinnings(amount int64, winners []WinnerShare, totalShares int64) []Payout {
	cuts := make([]int64, len(winners))
	var paid int64
	largest := 0
	for i, w := range winners {
		cuts[i] = mulDivFloor(amount, w.Share, totalShares)
		paid += cuts[i]
		if w.Share > winners[largest].Share {
			largest = i
		}
	}
	cuts[largest] += amount - paid

	payouts := make([]Payout, 0, len(winners))
	for i, w := range winners {
		if cuts[i] > 0 {
			payouts = append(payouts, Payout{UserID: w.UserID, Amount: cuts[i]})
		}
	}
	return payouts
}
