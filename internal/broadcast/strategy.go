// Package broadcast routes envelopes to the right set of connections:
// per-channel strategies, the strategy factory, and the coordinator
// that ties local fan-out to the distributed bus.
package broadcast

import (
	"sync"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/event"
)

// Route carries the routing arguments resolved by game logic alongside
// an envelope. Strategies read only the fields their channel needs.
type Route struct {
	// RoomID targets room-local delivery.
	RoomID string
	// PartyID targets party delivery (not yet implemented).
	PartyID string
	// TargetPlayerID targets whisper delivery.
	TargetPlayerID string
	// SenderID is excluded from fan-out.
	SenderID string
}

// Publisher is the slice of the bus a strategy uses to republish for
// other processes.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NopPublisher satisfies Publisher without a broker; used on the
// remote-delivery path to prevent republish loops.
type NopPublisher struct{}

// Publish discards the envelope.
func (NopPublisher) Publish(string, []byte) error { return nil }

// Strategy decides which connections receive an envelope for one
// channel type. Strategies are stateless; misuse of routing arguments
// is logged and skipped, never raised.
type Strategy interface {
	// ChannelType is the channel string this strategy serves.
	ChannelType() string
	// Broadcast delivers the envelope locally and republishes on the
	// bus when the channel crosses processes. The returned error is
	// reserved for producer-side defects (payload size violations);
	// distribution failures are logged, not returned.
	Broadcast(env *event.Envelope, route Route, pub Publisher) error
}

// StrategyFactory resolves channel type strings to strategies.
// Strategies are registered at startup and may be overridden; an
// unrecognized channel type resolves to an UnknownChannelStrategy that
// logs and drops, so a malformed channel never crashes delivery.
type StrategyFactory struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	unknown    func(raw string) Strategy
}

// NewStrategyFactory creates an empty factory whose fallback produces
// unknown-channel strategies with the given constructor.
//
// Precondition: unknown must be non-nil.
func NewStrategyFactory(unknown func(raw string) Strategy) *StrategyFactory {
	return &StrategyFactory{
		strategies: make(map[string]Strategy),
		unknown:    unknown,
	}
}

// Register installs or overrides the strategy for a channel type.
//
// Precondition: name must be non-empty; s must be non-nil.
func (f *StrategyFactory) Register(name string, s Strategy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strategies[name] = s
}

// Get resolves the strategy for a channel type string.
//
// Postcondition: Never returns nil; unknown types yield a fallback
// strategy whose ChannelType equals the input.
func (f *StrategyFactory) Get(channelType string) Strategy {
	f.mu.RLock()
	s, ok := f.strategies[channelType]
	f.mu.RUnlock()
	if ok {
		return s
	}
	return f.unknown(channelType)
}

// Known returns the registered channel type strings.
func (f *StrategyFactory) Known() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.strategies))
	for name := range f.strategies {
		names = append(names, name)
	}
	return names
}
