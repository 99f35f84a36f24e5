package weather

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"rescuelink/internal/geo"
)

const DefaultRefreshInterval = 10 * time.Minute

// Service keeps the current snapshot. Live data is fetched only while
// online; offline it serves the cached fallback.
type Service struct {
	fetcher  Fetcher
	online   func() bool
	location func() geo.Location
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger

	// started numbers refreshes; committed is the newest one stored.
	started atomic.Uint64

	mu        sync.RWMutex
	current   Snapshot
	committed uint64
	subs      []func(Snapshot)
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l.Named("weather")
		}
	}
}

// NewService builds a weather service. A nil fetcher always yields Mock.
func NewService(fetcher Fetcher, online func() bool, location func() geo.Location, opts ...Option) *Service {
	s := &Service{
		fetcher:  fetcher,
		online:   online,
		location: location,
		interval: DefaultRefreshInterval,
		clock:    clock.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// OnUpdate registers fn for every refreshed snapshot. Register before Run.
func (s *Service) OnUpdate(fn func(Snapshot)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Refresh builds a new snapshot and stores it. Concurrent refreshes may
// finish out of order; only the most recently started one is kept, and a
// live fetch that returns after the network went away is replaced by the
// offline snapshot.
func (s *Service) Refresh(ctx context.Context) Snapshot {
	seq := s.started.Add(1)
	var snap Snapshot
	switch {
	case !s.online():
		snap = s.offline()
	case s.fetcher == nil:
		snap = Mock()
	default:
		live, err := s.fetcher.Fetch(ctx, s.location())
		switch {
		case !s.online():
			snap = s.offline()
		case err != nil:
			s.logger.Warn("weather fetch failed, using fallback", zap.Error(err))
			snap = fallback()
		default:
			snap = live
		}
	}
	snap.FetchedAt = s.clock.Now()

	s.mu.Lock()
	if seq < s.committed {
		cur := s.current
		s.mu.Unlock()
		s.logger.Debug("dropping superseded weather refresh", zap.Uint64("seq", seq))
		return cur
	}
	s.committed = seq
	s.current = snap
	subs := append([]func(Snapshot){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
	return snap
}

func (s *Service) offline() Snapshot {
	snap := Offline()
	snap.Alerts = s.Current().Alerts
	return snap
}

// Run refreshes immediately and then on every interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	t := s.clock.Ticker(s.interval)
	defer t.Stop()
	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.Refresh(ctx)
		}
	}
}
