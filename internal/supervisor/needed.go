package supervisor

import (
	"fmt"
	"sync"

	"marketfeed/internal/market"
)

// NeededSet is the declared set of feeds that should be live. Entries are unique by stream id.
type NeededSet struct {
	mu    sync.Mutex
	specs []market.StreamSpec
}

// NewNeededSet seeds the set with initial. An invalid initial spec is an error; duplicates are
// collapsed.
func NewNeededSet(initial ...market.StreamSpec) (*NeededSet, error) {
	s := &NeededSet{specs: make([]market.StreamSpec, 0, len(initial))}
	for _, spec := range initial {
		if _, err := s.Add(spec); err != nil {
			return nil, fmt.Errorf("needed stream %q: %w", spec.Symbol, err)
		}
	}
	return s, nil
}

// Add declares spec as needed. Adding an id that is already present is a no-op and reports false.
func (s *NeededSet) Add(spec market.StreamSpec) (bool, error) {
	spec = spec.Normalize()
	if err := spec.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := spec.ID()
	for _, existing := range s.specs {
		if existing.ID() == id {
			return false, nil
		}
	}
	s.specs = append(s.specs, spec)
	return true, nil
}

// Remove drops every entry matching symbol and interval. An empty interval matches the ticker
// entry. Live feeds are left alone; it only stops them from being re-opened.
func (s *NeededSet) Remove(symbol, interval string) int {
	id := market.StreamID(symbol, interval)

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.specs[:0]
	removed := 0
	for _, spec := range s.specs {
		if spec.ID() == id {
			removed++
			continue
		}
		kept = append(kept, spec)
	}
	s.specs = kept
	return removed
}

// List returns a copy in insertion order.
func (s *NeededSet) List() []market.StreamSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]market.StreamSpec, len(s.specs))
	copy(out, s.specs)
	return out
}
