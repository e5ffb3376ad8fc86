package main

import (
	"fmt"

	"github.com/cardroom/settled/internal/settle"
)

// AllocateCmd computes a rake allocation without touching the database,
// useful for sanity-checking a policy against a pot amount.
type AllocateCmd struct {
	Pot            int64 `kong:"arg,help='Pot amount in chips'"`
	Percent        int64 `kong:"default='5',help='Rake percentage'"`
	MinPot         int64 `kong:"default='100',help='Minimum pot that gets raked'"`
	MaxPerPot      int64 `kong:"default='500',help='Rake cap per pot'"`
	JackpotPercent int64 `kong:"default='20',help='Jackpot share of the rake'"`
}

func (c *AllocateCmd) Run() error {
	policy := settle.RakePolicy{
		RakePercent:          c.Percent,
		MinPotForRake:        c.MinPot,
		MaxRakePerPot:        c.MaxPerPot,
		JackpotPercentOfRake: c.JackpotPercent,
	}
	if err := policy.Validate(); err != nil {
		return err
	}

	alloc, err := policy.Allocate(c.Pot)
	if err != nil {
		return err
	}

	fmt.Printf("pot:      %d\n", alloc.Pot)
	fmt.Printf("rake:     %d\n", alloc.Rake)
	fmt.Printf("treasury: %d\n", alloc.Treasury)
	fmt.Printf("jackpot:  %d\n", alloc.Jackpot)
	fmt.Printf("winner:   %d\n", alloc.Winner)
	return nil
}
