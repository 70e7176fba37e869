package event

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Envelope is the canonical event object moving through the broadcasting
// pipeline. It is created once per game event, consumed once by routing,
// and must not be mutated after creation.
type Envelope struct {
	// EventType names the event (chat_message, player_entered, pong, ...).
	EventType string `json:"event_type"`
	// Data is the event payload.
	Data map[string]any `json:"data"`
	// Timestamp is the creation time, serialized as ISO-8601.
	Timestamp time.Time `json:"timestamp"`
	// SequenceNumber is monotonic per sender so clients can detect
	// gaps and reordering.
	SequenceNumber uint64 `json:"sequence_number"`
	// SenderID is the originating player id; empty for server events.
	SenderID string `json:"player_id,omitempty"`
	// Channel is the delivery semantics. Not serialized on the client
	// wire; the bus codec carries it separately.
	Channel Channel `json:"-"`
}

// wireEnvelope is the cross-process bus encoding, which must carry the
// channel so the remote coordinator can re-resolve routing.
type wireEnvelope struct {
	EventType      string         `json:"event_type"`
	Data           map[string]any `json:"data"`
	Timestamp      time.Time      `json:"timestamp"`
	SequenceNumber uint64         `json:"sequence_number"`
	SenderID       string         `json:"player_id,omitempty"`
	Channel        string         `json:"channel"`
	RoomID         string         `json:"room_id,omitempty"`
}

// EncodeWire serializes the envelope for bus transport.
//
// Postcondition: Returns JSON bytes decodable by DecodeWire, or an error.
func EncodeWire(env *Envelope, roomID string) ([]byte, error) {
	w := wireEnvelope{
		EventType:      env.EventType,
		Data:           env.Data,
		Timestamp:      env.Timestamp,
		SequenceNumber: env.SequenceNumber,
		SenderID:       env.SenderID,
		Channel:        env.Channel.Raw,
		RoomID:         roomID,
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

// DecodeWire deserializes a bus message produced by EncodeWire.
//
// Postcondition: Returns the envelope, the room id it was published
// for (empty for non-room subjects), or an error.
func DecodeWire(data []byte) (*Envelope, string, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, "", fmt.Errorf("decoding envelope: %w", err)
	}
	env := &Envelope{
		EventType:      w.EventType,
		Data:           w.Data,
		Timestamp:      w.Timestamp,
		SequenceNumber: w.SequenceNumber,
		SenderID:       w.SenderID,
		Channel:        ParseChannel(w.Channel),
	}
	return env, w.RoomID, nil
}

// Sequencer assigns per-sender monotonic sequence numbers.
// Safe for concurrent use.
type Sequencer struct {
	mu   sync.Mutex
	next map[string]uint64
}

// NewSequencer creates an empty Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{next: make(map[string]uint64)}
}

// Next returns the next sequence number for the given sender.
//
// Postcondition: Successive calls for the same sender return strictly
// increasing values, starting at 1.
func (s *Sequencer) Next(senderID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[senderID]++
	return s.next[senderID]
}

// New creates an envelope for the given channel, stamping the current
// time and the sender's next sequence number.
//
// Precondition: eventType must be non-empty; seq must be non-nil.
// Postcondition: Returns an envelope with a non-nil Data map.
func New(seq *Sequencer, eventType string, channel Channel, senderID string, data map[string]any) *Envelope {
	if data == nil {
		data = make(map[string]any)
	}
	return &Envelope{
		EventType:      eventType,
		Data:           data,
		Timestamp:      time.Now().UTC(),
		SequenceNumber: seq.Next(senderID),
		SenderID:       senderID,
		Channel:        channel,
	}
}
