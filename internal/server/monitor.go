package server

import "github.com/cardroom/settled/internal/settle"

// SettlementMonitor receives notifications about hand outcomes after they
// have been durably applied.
type SettlementMonitor interface {
	// OnHandSettled is called after a pot has been distributed.
	OnHandSettled(s *settle.Settlement)

	// OnHandCancelled is called after a cancelled hand's bets were returned.
	OnHandCancelled(r *settle.Refund)
}

// NullSettlementMonitor is a no-op implementation.
type NullSettlementMonitor struct{}

func (NullSettlementMonitor) OnHandSettled(*settle.Settlement) {}
func (NullSettlementMonitor) OnHandCancelled(*settle.Refund)   {}

// MultiSettlementMonitor fans events out to multiple monitors.
type MultiSettlementMonitor struct {
	monitors []SettlementMonitor
}

// NewMultiSettlementMonitor builds a composite monitor, automatically pruning
// nil entries and returning a NullSettlementMonitor when none are provided.
func NewMultiSettlementMonitor(monitors ...SettlementMonitor) SettlementMonitor {
	filtered := make([]SettlementMonitor, 0, len(monitors))
	for _, monitor := range monitors {
		if monitor != nil {
			filtered = append(filtered, monitor)
		}
	}

	switch len(filtered) {
	case 0:
		return NullSettlementMonitor{}
	case 1:
		return filtered[0]
	default:
		return &MultiSettlementMonitor{monitors: filtered}
	}
}

func (m *MultiSettlementMonitor) OnHandSettled(s *settle.Settlement) {
	for _, monitor := range m.monitors {
		monitor.OnHandSettled(s)
	}
}

func (m *MultiSettlementMonitor) OnHandCancelled(r *settle.Refund) {
	for _, monitor := range m.monitors {
		monitor.OnHandCancelled(r)
	}
}
