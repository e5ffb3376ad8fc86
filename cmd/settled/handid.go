package main

import (
	"fmt"

	"github.com/cardroom/settled/internal/handid"
)

// HandIDCmd mints hand IDs, one per line. Engines posting settlements need
// well-formed IDs, and this is the quickest way to get some for curl tests
// and fixtures.
type HandIDCmd struct {
	Count int `kong:"default='1',help='Number of IDs to mint'"`
}

func (c *HandIDCmd) Run() error {
	if c.Count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", c.Count)
	}
	for i := 0; i < c.Count; i++ {
		fmt.Println(handid.New())
	}
	return nil
}
