package mesh

import (
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"rescuelink/internal/geo"
	"rescuelink/internal/notify"
)

const AlertTitle = "Emergency Alert via Mesh"

// Router applies inbound mesh messages to State. It is the single writer of
// peers, the message log and resources.
type Router struct {
	state    *State
	notifier notify.Notifier
	clock    clock.Clock
	logger   *zap.Logger

	locMu sync.RWMutex
	self  geo.Location
}

type RouterOption func(*Router)

func WithNotifier(n notify.Notifier) RouterOption {
	return func(r *Router) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithLocation sets our own starting position.
func WithLocation(loc geo.Location) RouterOption {
	return func(r *Router) { r.self = loc }
}

func WithRouterClock(c clock.Clock) RouterOption {
	return func(r *Router) { r.clock = c }
}

func WithRouterLogger(l *zap.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l.Named("router")
		}
	}
}

func NewRouter(state *State, opts ...RouterOption) *Router {
	r := &Router{
		state:    state,
		notifier: notify.Nop(),
		clock:    clock.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) State() *State { return r.state }

// Location is our own position, used for handshakes, broadcasts and peer
// distances.
func (r *Router) Location() geo.Location {
	r.locMu.RLock()
	defer r.locMu.RUnlock()
	return r.self
}

func (r *Router) SetLocation(loc geo.Location) {
	r.locMu.Lock()
	r.self = loc
	r.locMu.Unlock()
}

func (r *Router) Route(msg Message) {
	switch msg.Type {
	case TypePeerList:
		r.state.ReplacePeers(msg.Peers)
		r.logger.Debug("peer list replaced", zap.Int("peers", len(msg.Peers)))
	case TypeEmergencyBroadcast:
		r.state.AppendMessage(msg)
		r.logger.Info("emergency broadcast received",
			zap.String("sender", msg.Sender()),
			zap.String("content", msg.Content))
		r.alert(msg)
	case TypeResourceShare:
		r.state.SetResource(Resource{
			SenderID:  msg.Sender(),
			Payload:   append([]byte(nil), msg.Resource...),
			UpdatedAt: r.clock.Now(),
		})
		r.logger.Info("resource shared", zap.String("sender", msg.Sender()))
	case TypeLocationUpdate:
		if msg.Location == nil {
			r.logger.Debug("location update without location", zap.String("sender", msg.Sender()))
			return
		}
		if !r.state.PatchPeerLocation(msg.Sender(), *msg.Location, r.Location()) {
			r.logger.Debug("location update for unknown peer", zap.String("sender", msg.Sender()))
		}
	case TypeHeartbeat, TypeHandshake:
		// Echoes from the endpoint carry nothing for us.
	default:
		r.logger.Warn("unrecognized mesh message", zap.String("type", string(msg.Type)))
	}
}

func (r *Router) alert(msg Message) {
	if !r.notifier.Permitted() {
		return
	}
	if err := r.notifier.Notify(AlertTitle, msg.Content); err != nil {
		r.logger.Warn("alert failed", zap.Error(err))
	}
}

// record appends a locally originated broadcast. Simulated and real sessions
// both land here so the log looks the same either way.
func (r *Router) record(msg Message) {
	r.state.AppendMessage(msg)
}
