package stream

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"marketfeed/internal/market"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrStopped = errors.New("stream manager stopped")

// URLProvider is implemented by feed sources that can tell where a stream is read from.
type URLProvider interface {
	SourceURL(spec market.StreamSpec) string
}

// Config controls the poll loop of every feed.
type Config struct {
	PollInterval time.Duration
	FetchTimeout time.Duration
	Retry        RetryPolicy
}

func (c Config) withDefaults() Config {
	out := c
	if out.PollInterval <= 0 {
		out.PollInterval = time.Second
	}
	if out.FetchTimeout <= 0 {
		out.FetchTimeout = 5 * time.Second
	}
	if out.Retry == nil {
		out.Retry = DefaultRetryPolicy()
	}
	return out
}

// Manager owns the set of open feeds. Each feed is a goroutine polling the source and pushing
// results onto the shared update channel.
type Manager struct {
	source market.FeedSource
	out    chan<- market.MarketMessage
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	feeds map[string]*feed
}

type feed struct {
	meta   StreamMeta // guarded by Manager.mu
	cancel context.CancelFunc

	// held by the task while it hands a message to the channel
	sendMu sync.Mutex
}

func NewManager(source market.FeedSource, out chan<- market.MarketMessage, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		source: source,
		out:    out,
		cfg:    cfg.withDefaults(),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		feeds:  make(map[string]*feed),
	}
}

// Open starts a feed for spec unless one with the same id is already tracked. It returns the
// stream id either way.
func (m *Manager) Open(spec market.StreamSpec) (string, error) {
	spec = spec.Normalize()
	if err := spec.Validate(); err != nil {
		return "", err
	}
	id := spec.ID()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.feeds[id]; ok {
		return id, nil
	}
	if m.ctx.Err() != nil {
		return "", ErrStopped
	}

	var url string
	if p, ok := m.source.(URLProvider); ok {
		url = p.SourceURL(spec)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	f := &feed{
		meta: StreamMeta{
			ID:        id,
			SourceURL: url,
			Symbol:    spec.Symbol,
			Kind:      spec.Kind,
			Interval:  spec.Interval,
			Status:    StatePolling,
			RunID:     uuid.NewString(),
			CreatedAt: time.Now(),
		},
		cancel: cancel,
	}
	m.feeds[id] = f

	m.wg.Add(1)
	go m.run(ctx, f, spec)

	m.logger.Info("stream opened",
		zap.String("stream_id", id),
		zap.String("kind", spec.Kind.String()),
		zap.String("run_id", f.meta.RunID))
	return id, nil
}

// Close cancels the feed and forgets it. The task is abandoned mid-poll, not drained.
func (m *Manager) Close(id string) (StreamMeta, bool) {
	m.mu.Lock()
	f, ok := m.feeds[id]
	if !ok {
		m.mu.Unlock()
		return StreamMeta{}, false
	}
	delete(m.feeds, id)
	f.cancel()
	f.meta.Status = StateCancelled
	meta := f.meta
	m.mu.Unlock()

	// wait out a send already in progress so nothing from this task lands after Close returns
	f.sendMu.Lock()
	f.sendMu.Unlock()

	m.logger.Info("stream closed", zap.String("stream_id", id), zap.String("run_id", meta.RunID))
	return meta, true
}

// Get returns a copy of the metadata of one feed.
func (m *Manager) Get(id string) (StreamMeta, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[id]
	if !ok {
		return StreamMeta{}, false
	}
	return f.meta, true
}

// List returns a snapshot of every tracked feed, ordered by id.
func (m *Manager) List() []StreamMeta {
	m.mu.Lock()
	out := make([]StreamMeta, 0, len(m.feeds))
	for _, f := range m.feeds {
		out = append(out, f.meta)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop cancels every feed and waits for the tasks to exit. Open fails afterwards.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.cancel()
	for id := range m.feeds {
		delete(m.feeds, id)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, f *feed, spec market.StreamSpec) {
	defer m.wg.Done()

	id := spec.ID()
	failures := 0
	for {
		msg, err := m.fetch(ctx, spec)
		if ctx.Err() != nil {
			return
		}

		var delay time.Duration
		if err != nil {
			failures++
			d, retry := m.cfg.Retry.Next(failures)
			if !retry {
				m.logger.Error("giving up on stream",
					zap.String("stream_id", id), zap.Int("failures", failures), zap.Error(err))
				m.forget(f)
				return
			}
			m.logger.Warn("stream fetch failed",
				zap.String("stream_id", id),
				zap.Int("failures", failures),
				zap.Duration("retry_in", d),
				zap.Error(err))
			m.update(f, StateBackingOff, failures, false)
			delay = d
		} else {
			if !m.send(ctx, f, msg) {
				return
			}
			failures = 0
			m.update(f, StatePolling, 0, true)
			delay = m.cfg.PollInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) send(ctx context.Context, f *feed, msg market.MarketMessage) bool {
	f.sendMu.Lock()
	defer f.sendMu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	select {
	case m.out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) fetch(ctx context.Context, spec market.StreamSpec) (market.MarketMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	switch spec.Kind {
	case market.KindKline:
		k, err := m.source.FetchKline(ctx, spec.Symbol, spec.Interval)
		if err != nil {
			return nil, err
		}
		return market.UpdateKline{Kline: k}, nil
	default:
		t, err := m.source.FetchTicker(ctx, spec.Symbol)
		if err != nil {
			return nil, err
		}
		return market.UpdateTicker{Ticker: t}, nil
	}
}

// update records the outcome of one poll, unless the feed was closed or replaced meanwhile.
func (m *Manager) update(f *feed, state State, failures int, touched bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.feeds[f.meta.ID] != f {
		return
	}
	f.meta.Status = state
	f.meta.Failures = failures
	if touched {
		f.meta.LastUpdate = time.Now()
	}
}

func (m *Manager) forget(f *feed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.feeds[f.meta.ID] == f {
		delete(m.feeds, f.meta.ID)
	}
	f.cancel()
}
