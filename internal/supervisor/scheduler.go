package supervisor

import (
	"context"
	"fmt"
	"time"

	"marketfeed/internal/market"
	"marketfeed/internal/stream"

	"go.uber.org/zap"
)

const DefaultInterval = 3 * time.Second

// Orchestrator is the part of the stream manager the supervisor drives.
type Orchestrator interface {
	Open(spec market.StreamSpec) (string, error)
	List() []stream.StreamMeta
}

type Option func(*Supervisor)

func WithInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMatchByID compares needed and live feeds by stream id instead of symbol, so a ticker and a
// kline feed on the same symbol are kept alive independently.
func WithMatchByID(on bool) Option {
	return func(s *Supervisor) { s.matchByID = on }
}

// Supervisor re-opens needed feeds that are not live. It only ever opens; shrinking the needed
// set never closes anything.
type Supervisor struct {
	needed    *NeededSet
	streams   Orchestrator
	interval  time.Duration
	matchByID bool
	logger    *zap.Logger
}

func New(needed *NeededSet, streams Orchestrator, logger *zap.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{
		needed:   needed,
		streams:  streams,
		interval: DefaultInterval,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reconciles immediately and then on every tick until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started", zap.Duration("interval", s.interval), zap.Bool("match_by_id", s.matchByID))

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("reconcile panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	if n := s.Reconcile(ctx); n > 0 {
		s.logger.Info("reopened streams", zap.Int("count", n))
	}
}

// Reconcile opens every needed spec that has no live match and returns how many were opened.
func (s *Supervisor) Reconcile(ctx context.Context) int {
	live := make(map[string]struct{})
	for _, meta := range s.streams.List() {
		live[s.matchKey(meta.Spec())] = struct{}{}
	}

	opened := 0
	for _, spec := range s.needed.List() {
		if ctx.Err() != nil {
			return opened
		}
		key := s.matchKey(spec)
		if _, ok := live[key]; ok {
			continue
		}
		id, err := s.streams.Open(spec)
		if err != nil {
			s.logger.Warn("failed to open needed stream",
				zap.String("stream_id", spec.ID()), zap.Error(fmt.Errorf("reconcile: %w", err)))
			continue
		}
		live[key] = struct{}{}
		opened++
		s.logger.Debug("opened needed stream", zap.String("stream_id", id))
	}
	return opened
}

func (s *Supervisor) matchKey(spec market.StreamSpec) string {
	if s.matchByID {
		return spec.ID()
	}
	return spec.Symbol
}
