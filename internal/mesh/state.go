package mesh

import (
	"encoding/json"
	"sync"
	"time"

	"rescuelink/internal/geo"
)

// Resource is the latest availability record a peer shared.
type Resource struct {
	SenderID  string
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// State holds the peer collection, the emergency message log and shared
// resources. The Router is the only writer; readers get copies.
type State struct {
	mu        sync.RWMutex
	peers     []PeerRecord
	messages  []Message
	resources map[string]Resource

	subMu  sync.Mutex
	nextID int
	subs   map[int]func()
}

func NewState() *State {
	return &State{
		resources: map[string]Resource{},
		subs:      map[int]func(){},
	}
}

func (s *State) ReplacePeers(peers []PeerRecord) {
	next := make([]PeerRecord, 0, len(peers))
	seen := make(map[string]int, len(peers))
	for _, p := range peers {
		if i, ok := seen[p.ID]; ok {
			next[i] = clonePeer(p)
			continue
		}
		seen[p.ID] = len(next)
		next = append(next, clonePeer(p))
	}
	s.mu.Lock()
	s.peers = next
	s.mu.Unlock()
	s.changed()
}

// PatchPeerLocation moves peer id to loc and recomputes its distance from
// self when self is known. It reports false for unknown peers.
func (s *State) PatchPeerLocation(id string, loc geo.Location, self geo.Location) bool {
	s.mu.Lock()
	found := false
	for i := range s.peers {
		if s.peers[i].ID != id {
			continue
		}
		l := loc
		s.peers[i].LastLocation = &l
		if !self.IsZero() {
			s.peers[i].DistanceKm = geo.DistanceKm(self, loc)
		}
		found = true
		break
	}
	s.mu.Unlock()
	if found {
		s.changed()
	}
	return found
}

func (s *State) AppendMessage(msg Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.changed()
}

func (s *State) SetResource(r Resource) {
	s.mu.Lock()
	s.resources[r.SenderID] = r
	s.mu.Unlock()
	s.changed()
}

func (s *State) Peers() []PeerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PeerRecord, len(s.peers))
	for i, p := range s.peers {
		out[i] = clonePeer(p)
	}
	return out
}

func (s *State) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

func (s *State) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *State) Resources() map[string]Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Resource, len(s.resources))
	for k, v := range s.resources {
		out[k] = v
	}
	return out
}

// Subscribe calls fn after every mutation. fn runs on the writer's
// goroutine and must not block.
func (s *State) Subscribe(fn func()) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *State) changed() {
	s.subMu.Lock()
	subs := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func clonePeer(p PeerRecord) PeerRecord {
	if p.LastLocation != nil {
		l := *p.LastLocation
		p.LastLocation = &l
	}
	return p
}
