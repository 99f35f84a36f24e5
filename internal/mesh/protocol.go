package mesh

import (
	"encoding/json"
	"errors"

	"rescuelink/internal/geo"
)

const maxFrameSize = 64 * 1024

type MessageType string

const (
	TypeHandshake          MessageType = "handshake"
	TypeHeartbeat          MessageType = "heartbeat"
	TypePeerList           MessageType = "peer_list"
	TypeEmergencyBroadcast MessageType = "emergency_broadcast"
	TypeResourceShare      MessageType = "resource_share"
	TypeLocationUpdate     MessageType = "location_update"
)

// Message is one mesh wire record. Which fields are set depends on Type.
type Message struct {
	Type      MessageType     `json:"type"`
	PeerID    string          `json:"peerId,omitempty"`
	SenderID  string          `json:"senderId,omitempty"`
	Location  *geo.Location   `json:"location,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Content   string          `json:"content,omitempty"`
	Peers     []PeerRecord    `json:"peers,omitempty"`
	Resource  json.RawMessage `json:"resource,omitempty"`
}

// Sender identifies the originating peer. location_update frames from older
// nodes carry only peerId.
func (m Message) Sender() string {
	if m.SenderID != "" {
		return m.SenderID
	}
	return m.PeerID
}

// PeerRecord is a nearby mesh participant.
type PeerRecord struct {
	ID           string        `json:"id"`
	DisplayName  string        `json:"name"`
	Role         string        `json:"type,omitempty"`
	DistanceKm   float64       `json:"distance"`
	LastLocation *geo.Location `json:"location,omitempty"`
}

var (
	ErrFrameTooLarge = errors.New("mesh frame too large")
	ErrMissingType   = errors.New("mesh frame has no type")
)

func encodeMessage(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(data) > maxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return data, nil
}

func decodeMessage(data []byte) (Message, error) {
	if len(data) > maxFrameSize {
		return Message{}, ErrFrameTooLarge
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	if msg.Type == "" {
		return Message{}, ErrMissingType
	}
	return msg, nil
}
