package connectivity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"rescuelink/internal/mesh"
)

type State int32

const (
	Online State = iota
	OfflineSearching
	OfflineMeshConnected
)

func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case OfflineSearching:
		return "offline-searching"
	case OfflineMeshConnected:
		return "offline-mesh-connected"
	default:
		return "unknown"
	}
}

func (s State) Offline() bool { return s != Online }

// Transport is the mesh client as the orchestrator drives it.
type Transport interface {
	Connect()
	Disconnect()
	BroadcastEmergency(content string) bool
	State() mesh.ClientState
	Simulated() bool
	OnStateChange(fn func(mesh.ClientState)) func()
	SetOfflineGuard(fn func() bool)
}

// Monitor is the online/offline signal source.
type Monitor interface {
	Online() bool
	Subscribe(fn func(online bool)) func()
}

// Snapshot is what the UI reads.
type Snapshot struct {
	State     State
	Simulated bool
	Peers     []mesh.PeerRecord
	Messages  []mesh.Message
	Resources map[string]mesh.Resource
}

func (s Snapshot) CanBroadcast() bool { return s.State == OfflineMeshConnected }

// Banner is the one-line status shown above everything else.
func (s Snapshot) Banner() string {
	switch s.State {
	case Online:
		return "Online"
	case OfflineSearching:
		return "Offline · searching for mesh"
	default:
		n := len(s.Peers)
		if n == 1 {
			return "Mesh Network Active · 1 peer"
		}
		return fmt.Sprintf("Mesh Network Active · %d peers", n)
	}
}

// Orchestrator ties the network signal to the mesh client. While online no
// mesh session exists; while offline the client is connecting, connected or
// waiting to reconnect.
type Orchestrator struct {
	client Transport
	mesh   *mesh.State
	logger *zap.Logger

	// signalMu serializes whole signal transitions, including the client
	// calls they make. mu only guards state changes and is never held across
	// Connect or Disconnect, since those report back synchronously.
	signalMu sync.Mutex
	mu       sync.Mutex
	state    atomic.Int32

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Snapshot)

	unwatch []func()
}

type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l.Named("connectivity")
		}
	}
}

func New(client Transport, state *mesh.State, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client: client,
		mesh:   state,
		logger: zap.NewNop(),
		subs:   map[int]func(Snapshot){},
	}
	for _, opt := range opts {
		opt(o)
	}
	client.SetOfflineGuard(o.Offline)
	o.unwatch = append(o.unwatch,
		client.OnStateChange(o.onClientState),
		state.Subscribe(o.publish),
	)
	return o
}

// Start follows m until ctx is done, then tears the mesh session down.
func (o *Orchestrator) Start(ctx context.Context, m Monitor) {
	unsub := m.Subscribe(o.HandleSignal)
	o.HandleSignal(m.Online())
	go func() {
		<-ctx.Done()
		unsub()
		o.signalMu.Lock()
		o.client.Disconnect()
		o.signalMu.Unlock()
	}()
}

// Close detaches from the client and mesh state.
func (o *Orchestrator) Close() {
	for _, fn := range o.unwatch {
		fn()
	}
	o.unwatch = nil
}

func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Offline is safe to call from any goroutine without locks.
func (o *Orchestrator) Offline() bool { return o.State().Offline() }

func (o *Orchestrator) CanBroadcastOverMesh() bool { return o.State() == OfflineMeshConnected }

// Broadcast sends an emergency message over the mesh. It reports false
// unless a mesh session is connected.
func (o *Orchestrator) Broadcast(content string) bool {
	if !o.CanBroadcastOverMesh() {
		return false
	}
	return o.client.BroadcastEmergency(content)
}

func (o *Orchestrator) HandleSignal(online bool) {
	o.signalMu.Lock()
	defer o.signalMu.Unlock()

	cur := o.State()
	switch {
	case !online && cur == Online:
		o.transition(Online, OfflineSearching)
		o.client.Connect()
		// A mesh that connected before we flipped is picked up here.
		o.onClientState(o.client.State())
	case online && cur.Offline():
		o.client.Disconnect()
		o.transition(cur, Online)
	}
}

func (o *Orchestrator) onClientState(mesh.ClientState) {
	o.mu.Lock()
	cur := State(o.state.Load())
	var next State
	switch cs := o.client.State(); {
	case cur == OfflineSearching && cs == mesh.Connected:
		next = OfflineMeshConnected
	case cur == OfflineMeshConnected && cs != mesh.Connected:
		next = OfflineSearching
	default:
		o.mu.Unlock()
		return
	}
	o.state.Store(int32(next))
	o.mu.Unlock()
	o.logger.Info("connectivity changed", zap.Stringer("from", cur), zap.Stringer("to", next))
	o.publish()
}

func (o *Orchestrator) transition(from, to State) {
	o.mu.Lock()
	if State(o.state.Load()) != from {
		// A client event moved us between offline states meanwhile.
		if from.Offline() && to == Online {
			from = State(o.state.Load())
		} else {
			o.mu.Unlock()
			return
		}
	}
	o.state.Store(int32(to))
	o.mu.Unlock()
	o.logger.Info("connectivity changed", zap.Stringer("from", from), zap.Stringer("to", to))
	o.publish()
}

func (o *Orchestrator) Snapshot() Snapshot {
	return Snapshot{
		State:     o.State(),
		Simulated: o.client.Simulated(),
		Peers:     o.mesh.Peers(),
		Messages:  o.mesh.Messages(),
		Resources: o.mesh.Resources(),
	}
}

// Subscribe calls fn with a fresh snapshot after every connectivity or mesh
// state change. fn must not block.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) func() {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	return func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		delete(o.subs, id)
	}
}

func (o *Orchestrator) publish() {
	o.subMu.Lock()
	if len(o.subs) == 0 {
		o.subMu.Unlock()
		return
	}
	subs := make([]func(Snapshot), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.subMu.Unlock()
	snap := o.Snapshot()
	for _, fn := range subs {
		fn(snap)
	}
}
