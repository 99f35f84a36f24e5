package mesh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rescuelink/internal/geo"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectDelay    = 5 * time.Second
)

type ClientState int

const (
	Idle ClientState = iota
	Connecting
	Connected
	Closed
)

func (s ClientState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type Options struct {
	Endpoint          string
	PeerID            string
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	// ReconnectMaxDelay enables doubling backoff up to this ceiling when it
	// is larger than ReconnectDelay.
	ReconnectMaxDelay time.Duration
	SimulateOnFailure bool
}

// session is one connection attempt and everything it owns. A new session
// replaces the old one on every reconnect.
type session struct {
	gen       uint64
	peerID    string
	conn      Conn
	ctx       context.Context
	cancel    context.CancelFunc
	heartbeat *clock.Ticker
	startedAt time.Time
	simulated bool
}

type reconnectToken struct{}

// Client keeps at most one mesh session alive and reconnects after losses
// while the guard reports the process is offline.
type Client struct {
	opts    Options
	router  *Router
	dialer  Dialer
	clock   clock.Clock
	logger  *zap.Logger
	offline func() bool

	mu        sync.Mutex
	state     ClientState
	gen       uint64
	sess      *session
	reconnect *clock.Timer
	token     *reconnectToken
	failures  int

	obsMu     sync.Mutex
	nextObs   int
	observers map[int]func(ClientState)
}

type ClientOption func(*Client)

func WithDialer(d Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

func WithClock(cl clock.Clock) ClientOption {
	return func(c *Client) { c.clock = cl }
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l.Named("mesh")
		}
	}
}

// WithOfflineGuard is consulted whenever a reconnect is scheduled or fires.
// It must not block or take locks the caller of the Client may hold.
func WithOfflineGuard(fn func() bool) ClientOption {
	return func(c *Client) { c.offline = fn }
}

func NewClient(opts Options, router *Router, optFns ...ClientOption) *Client {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.PeerID == "" {
		opts.PeerID = NewPeerID()
	}
	c := &Client{
		opts:      opts,
		router:    router,
		dialer:    NewWebSocketDialer(0, 0),
		clock:     clock.New(),
		logger:    zap.NewNop(),
		offline:   func() bool { return true },
		observers: map[int]func(ClientState){},
	}
	for _, fn := range optFns {
		fn(c)
	}
	return c
}

// NewPeerID returns a short random mesh identity such as "peer_3f9a1c2b7".
func NewPeerID() string {
	return "peer_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

func (c *Client) PeerID() string { return c.opts.PeerID }

func (c *Client) Router() *Router { return c.router }

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Simulated reports whether the live session is the local stand-in.
func (c *Client) Simulated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && c.sess.simulated
}

// ReconnectPending reports whether a reconnect timer is armed.
func (c *Client) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != nil
}

// SetOfflineGuard replaces the reconnect guard. The guard is read under the
// client lock, so it must be lock-free.
func (c *Client) SetOfflineGuard(fn func() bool) {
	c.mu.Lock()
	c.offline = fn
	c.mu.Unlock()
}

func (c *Client) SetLocation(loc geo.Location) {
	c.router.SetLocation(loc)
}

// OnStateChange registers fn for every state transition. fn runs outside the
// client lock, possibly on a dial, reader or timer goroutine; deliveries from
// different goroutines may interleave, so observers needing the current
// value should call State.
func (c *Client) OnStateChange(fn func(ClientState)) func() {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		delete(c.observers, id)
	}
}

func (c *Client) emit(s ClientState) {
	c.obsMu.Lock()
	obs := make([]func(ClientState), 0, len(c.observers))
	for _, fn := range c.observers {
		obs = append(obs, fn)
	}
	c.obsMu.Unlock()
	for _, fn := range obs {
		fn(s)
	}
}

// Connect starts a session unless one is already connecting or connected.
// The dial runs in the background.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state == Connecting || c.state == Connected {
		c.mu.Unlock()
		return
	}
	c.startLocked()
	c.mu.Unlock()
	c.emit(Connecting)
}

// Disconnect tears down the session and any pending reconnect. All timers
// are stopped before it returns. Calling it while idle does nothing.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopReconnectLocked()
	c.teardownLocked()
	prev := c.state
	c.state = Idle
	c.failures = 0
	c.mu.Unlock()
	if prev != Idle {
		c.logger.Info("mesh disconnected", zap.Stringer("from", prev))
		c.emit(Idle)
	}
}

// BroadcastEmergency sends content to the mesh and records it in the local
// log. It reports false when no session is connected or the write fails.
func (c *Client) BroadcastEmergency(content string) bool {
	c.mu.Lock()
	s := c.sess
	if c.state != Connected || s == nil {
		c.mu.Unlock()
		return false
	}
	loc := c.router.Location()
	msg := Message{
		Type:      TypeEmergencyBroadcast,
		Content:   content,
		Location:  &loc,
		Timestamp: c.clock.Now().UnixMilli(),
		SenderID:  s.peerID,
	}
	c.mu.Unlock()
	if !s.simulated {
		if err := c.write(s, msg); err != nil {
			c.logger.Warn("broadcast failed", zap.Error(err))
			return false
		}
	}
	c.router.record(msg)
	return true
}

func (c *Client) startLocked() {
	c.stopReconnectLocked()
	c.gen++
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		gen:       c.gen,
		peerID:    c.opts.PeerID,
		ctx:       ctx,
		cancel:    cancel,
		startedAt: c.clock.Now(),
	}
	c.sess = s
	c.state = Connecting
	c.logger.Info("mesh connecting", zap.String("endpoint", c.opts.Endpoint), zap.Uint64("gen", s.gen))
	go c.dial(s)
}

func (c *Client) dial(s *session) {
	conn, err := c.dialer.Dial(s.ctx, c.opts.Endpoint)

	c.mu.Lock()
	if c.sess != s || c.state != Connecting {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		if c.opts.SimulateOnFailure {
			// Peers go in before the state flips so Connected always has them.
			c.mu.Unlock()
			c.router.State().ReplacePeers(simulatedPeers())
			c.mu.Lock()
			if c.sess != s || c.state != Connecting {
				c.mu.Unlock()
				return
			}
			s.simulated = true
			c.state = Connected
			c.failures = 0
			c.mu.Unlock()
			c.logger.Warn("mesh endpoint unreachable, running simulated mesh", zap.Error(err))
			c.emit(Connected)
			return
		}
		c.logger.Warn("mesh dial failed", zap.Error(err), zap.Uint64("gen", s.gen))
		c.teardownLocked()
		c.state = Closed
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.emit(Closed)
		return
	}

	s.conn = conn
	c.mu.Unlock()

	// The handshake may block on a slow peer; Disconnect closes conn to
	// unblock it and the session check below discards the result.
	loc := c.router.Location()
	err = c.write(s, Message{
		Type:      TypeHandshake,
		PeerID:    s.peerID,
		Location:  &loc,
		Timestamp: c.clock.Now().UnixMilli(),
	})

	c.mu.Lock()
	if c.sess != s || c.state != Connecting {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.logger.Warn("mesh handshake failed", zap.Error(err))
		c.teardownLocked()
		c.state = Closed
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.emit(Closed)
		return
	}
	c.state = Connected
	c.failures = 0
	s.heartbeat = c.clock.Ticker(c.opts.HeartbeatInterval)
	go c.heartbeatLoop(s)
	go c.readLoop(s)
	c.mu.Unlock()

	c.logger.Info("mesh connected", zap.String("peer_id", s.peerID), zap.Uint64("gen", s.gen))
	c.emit(Connected)
}

func (c *Client) heartbeatLoop(s *session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.heartbeat.C:
		}
		c.mu.Lock()
		live := c.sess == s && c.state == Connected
		c.mu.Unlock()
		if !live {
			return
		}
		err := c.write(s, Message{
			Type:      TypeHeartbeat,
			PeerID:    s.peerID,
			Timestamp: c.clock.Now().UnixMilli(),
		})
		if err != nil {
			c.lost(s, err)
			return
		}
	}
}

// readLoop is the only reader of a session, so frames reach the Router in
// wire order.
func (c *Client) readLoop(s *session) {
	for {
		data, err := s.conn.ReadFrame()
		if err != nil {
			c.lost(s, err)
			return
		}
		msg, err := decodeMessage(data)
		if err != nil {
			c.logger.Warn("discarding malformed mesh frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		if s.ctx.Err() != nil {
			return
		}
		c.router.Route(msg)
	}
}

func (c *Client) lost(s *session, cause error) {
	c.mu.Lock()
	if c.sess != s || c.state != Connected {
		c.mu.Unlock()
		return
	}
	if unexpectedClose(cause) {
		c.logger.Warn("mesh connection lost", zap.Error(cause), zap.Uint64("gen", s.gen))
	} else {
		c.logger.Info("mesh connection closed", zap.Error(cause), zap.Uint64("gen", s.gen))
	}
	c.teardownLocked()
	c.state = Closed
	c.scheduleReconnectLocked()
	c.mu.Unlock()
	c.emit(Closed)
}

// write sends msg on the session's connection without holding c.mu. s.conn
// is set before the session is published to any writer and never changes.
func (c *Client) write(s *session, msg Message) error {
	if s.conn == nil {
		return errors.New("mesh session has no connection")
	}
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return s.conn.WriteFrame(data)
}

func (c *Client) teardownLocked() {
	s := c.sess
	if s == nil {
		return
	}
	c.sess = nil
	s.cancel()
	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (c *Client) scheduleReconnectLocked() {
	if c.token != nil {
		return
	}
	if !c.offline() {
		c.logger.Debug("online again, not reconnecting")
		return
	}
	delay := c.backoffLocked()
	c.failures++
	tok := &reconnectToken{}
	c.token = tok
	c.reconnect = c.clock.AfterFunc(delay, func() { c.fireReconnect(tok) })
	c.logger.Info("mesh reconnect scheduled", zap.Duration("delay", delay))
}

func (c *Client) fireReconnect(tok *reconnectToken) {
	c.mu.Lock()
	if c.token != tok {
		c.mu.Unlock()
		return
	}
	c.token, c.reconnect = nil, nil
	if c.state != Closed {
		c.mu.Unlock()
		return
	}
	if !c.offline() {
		c.mu.Unlock()
		c.logger.Debug("online at reconnect time, staying closed")
		return
	}
	c.startLocked()
	c.mu.Unlock()
	c.emit(Connecting)
}

func (c *Client) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
	}
	c.reconnect, c.token = nil, nil
}

func (c *Client) backoffLocked() time.Duration {
	base, ceiling := c.opts.ReconnectDelay, c.opts.ReconnectMaxDelay
	if ceiling <= base {
		return base
	}
	d := base
	for i := 0; i < c.failures && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}
