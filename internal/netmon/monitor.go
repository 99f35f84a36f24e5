package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const DefaultPollInterval = 5 * time.Second

// Monitor turns a level-triggered Signal into edge events. Only transitions
// reach subscribers; repeated identical samples are dropped.
type Monitor struct {
	signal   Signal
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger

	// emit serializes Observe so subscribers see transitions in order.
	emit sync.Mutex

	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(online bool)
}

type Option func(*Monitor)

func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a monitor over signal. A nil signal is allowed: the monitor
// then stays online until Observe is called.
func New(signal Signal, opts ...Option) *Monitor {
	m := &Monitor{
		signal:   signal,
		interval: DefaultPollInterval,
		clock:    clock.New(),
		logger:   zap.NewNop(),
		online:   true,
		subs:     map[int]func(bool){},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("netmon")
	return m
}

// Start samples the signal once and then polls it until ctx is done. The
// initial sample never blocks startup for longer than one probe and defaults
// to online on error. Subscribers registered before Start see an offline
// initial sample as a transition.
func (m *Monitor) Start(ctx context.Context) {
	online := m.sample(ctx)
	m.logger.Info("initial connectivity", zap.Bool("online", online))
	m.Observe(online)

	if m.signal == nil {
		return
	}
	go m.poll(ctx, m.clock.Ticker(m.interval))
}

func (m *Monitor) poll(ctx context.Context, ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online, err := m.signal.Online(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.logger.Debug("connectivity probe failed", zap.Error(err))
				continue
			}
			m.Observe(online)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) bool {
	if m.signal == nil {
		return true
	}
	online, err := m.signal.Online(ctx)
	if err != nil {
		m.logger.Warn("connectivity signal unavailable, assuming online", zap.Error(err))
		return true
	}
	return online
}

// Observe feeds one signal reading. Subscribers are notified only when it
// differs from the previous reading.
func (m *Monitor) Observe(online bool) {
	m.emit.Lock()
	defer m.emit.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed", zap.Bool("online", online))
	for _, fn := range subs {
		fn(online)
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn for transition events and returns its cancel func.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
