package stream

import (
	"time"

	"marketfeed/internal/market"
)

// StreamMeta is the runtime record of an open feed. The manager owns it; callers only ever see
// copies.
type StreamMeta struct {
	ID         string            `json:"id"`
	SourceURL  string            `json:"source_url"`
	Symbol     string            `json:"symbol"`
	Kind       market.StreamKind `json:"kind"`
	Interval   string            `json:"interval,omitempty"`
	Status     State             `json:"status"`
	RunID      string            `json:"run_id"` // changes every time the id is (re)opened
	Failures   int               `json:"failures"`
	LastUpdate time.Time         `json:"last_update"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Spec returns the StreamSpec the feed was opened with.
func (m StreamMeta) Spec() market.StreamSpec {
	return market.StreamSpec{Symbol: m.Symbol, Kind: m.Kind, Interval: m.Interval}
}
