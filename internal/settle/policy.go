package settle

import (
	"fmt"
	"math/bits"
)

// RakePolicy holds the fixed house percentages applied when a pot is settled.
// All amounts are in the smallest chip unit.
type RakePolicy struct {
	// RakePercent is the percentage of the pot taken as rake.
	RakePercent int64

	// MinPotForRake is the smallest pot that gets raked at all. Pots below
	// this threshold are paid out in full.
	MinPotForRake int64

	// MaxRakePerPot caps the rake taken from any single pot.
	MaxRakePerPot int64

	// JackpotPercentOfRake is the share of the rake contributed to the
	// jackpot pool. The remainder of the rake is treasury revenue.
	JackpotPercentOfRake int64
}

// DefaultRakePolicy returns the standard house policy.
func DefaultRakePolicy() RakePolicy {
	return RakePolicy{
		RakePercent:          5,
		MinPotForRake:        100,
		MaxRakePerPot:        500,
		JackpotPercentOfRake: 20,
	}
}

// Validate checks the policy is internally consistent.
func (p RakePolicy) Validate() error {
	if p.RakePercent < 0 || p.RakePercent > 100 {
		return fmt.Errorf("rake percent must be between 0 and 100, got %d", p.RakePercent)
	}
	if p.JackpotPercentOfRake < 0 || p.JackpotPercentOfRake > 100 {
		return fmt.Errorf("jackpot percent must be between 0 and 100, got %d", p.JackpotPercentOfRake)
	}
	if p.MinPotForRake < 0 {
		return fmt.Errorf("minimum pot for rake must be non-negative, got %d", p.MinPotForRake)
	}
	if p.MaxRakePerPot < 0 {
		return fmt.Errorf("maximum rake per pot must be non-negative, got %d", p.MaxRakePerPot)
	}
	return nil
}

// Allocation is the split of a single pot into rake and winner money, with
// the rake sub-split into treasury and jackpot contributions.
//
// Invariants: Rake+Winner == Pot and Treasury+Jackpot == Rake.
type Allocation struct {
	Pot      int64
	Rake     int64
	Treasury int64
	Jackpot  int64
	Winner   int64
}

// Allocate splits a pot per the policy. Percentage arithmetic is integer and
// truncates toward zero, so the sum of the parts never exceeds the whole.
func (p RakePolicy) Allocate(pot int64) (Allocation, error) {
	if pot < 0 {
		return Allocation{}, fmt.Errorf("%w: pot %d", ErrInvalidAmount, pot)
	}

	var rake int64
	if pot >= p.MinPotForRake {
		rake = mulDivFloor(pot, p.RakePercent, 100)
		if rake > p.MaxRakePerPot {
			rake = p.MaxRakePerPot
		}
	}

	jackpot := mulDivFloor(rake, p.JackpotPercentOfRake, 100)

	return Allocation{
		Pot:      pot,
		Rake:     rake,
		Treasury: rake - jackpot,
		Jackpot:  jackpot,
		Winner:   pot - rake,
	}, nil
}

// mulDivFloor returns floor(a*b/d) using 128-bit intermediate arithmetic, so
// the product cannot overflow for pots or shares anywhere near the int64
// range. Requires a >= 0 and 0 <= b <= d, which keeps the quotient <= a.
func mulDivFloor(a, b, d int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	quo, _ := bits.Div64(hi, lo, uint64(d))
	return int64(quo)
}
