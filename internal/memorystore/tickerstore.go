package memorystore

import "marketfeed/internal/market"

// IngestTicker replaces the previous ticker of the symbol. No history is kept.
func (c *MarketCache) IngestTicker(t market.Ticker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickers[market.TickerKey(t.Symbol)] = t
}

func (c *MarketCache) LatestTicker(symbol string) (market.Ticker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tickers[market.TickerKey(symbol)]
	return t, ok
}
