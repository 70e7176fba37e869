package broadcast

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/bus"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/event"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/mutes"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/observability"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/registry"
)

// roomSub is a reference-counted bus subscription shared by every room
// mapping onto the same zone/sub-zone subject.
type roomSub struct {
	sub  bus.Subscription
	refs int
}

// Coordinator is the single entry point game logic uses to publish
// events. It resolves the strategy, fans out locally, republishes on
// the bus, and delivers envelopes arriving from other processes. Room
// bus subscriptions follow occupancy: subscribed while the process
// hosts at least one player in the subject's sub-zone, dropped when
// the last one leaves.
type Coordinator struct {
	factory  *StrategyFactory
	deliver  *Deliverer
	registry *registry.Registry
	bus      bus.Bus
	seq      *event.Sequencer
	logger   *zap.Logger
	metrics  *observability.Metrics

	mu       sync.Mutex
	roomSubs map[string]*roomSub
	global   bus.Subscription
	system   bus.Subscription
}

// NewCoordinator wires the coordinator and registers the default
// strategy set in its factory.
//
// Precondition: all arguments must be non-nil.
func NewCoordinator(reg *registry.Registry, b bus.Bus, deliver *Deliverer, muteList mutes.Lookup, logger *zap.Logger, metrics *observability.Metrics) *Coordinator {
	c := &Coordinator{
		deliver:  deliver,
		registry: reg,
		bus:      b,
		seq:      event.NewSequencer(),
		logger:   logger,
		metrics:  metrics,
		roomSubs: make(map[string]*roomSub),
	}
	c.factory = NewStrategyFactory(func(raw string) Strategy {
		return NewUnknownChannelStrategy(raw, logger)
	})
	for _, subtype := range []string{"say", "local", "emote", "pose"} {
		c.factory.Register(subtype, NewRoomBasedStrategy(subtype, deliver, muteList, logger))
	}
	c.factory.Register("global", NewGlobalStrategy(deliver, logger))
	c.factory.Register("party", NewPartyStrategy(logger))
	c.factory.Register("whisper", NewWhisperStrategy(deliver, muteList, logger))
	for _, subtype := range []string{"system", "admin"} {
		c.factory.Register(subtype, NewSystemAdminStrategy(subtype, deliver, logger))
	}
	return c
}

// Factory exposes the strategy factory so callers can override or
// extend the channel set.
func (c *Coordinator) Factory() *StrategyFactory { return c.factory }

// Start subscribes the reserved subjects and installs the registry
// room hooks that track room subscriptions by occupancy.
//
// Postcondition: On success the coordinator receives global, system,
// and occupied-room traffic from other processes.
func (c *Coordinator) Start() error {
	global, err := c.bus.Subscribe(event.SubjectGlobal, c.onBusMessage)
	if err != nil {
		return fmt.Errorf("subscribing %s: %w", event.SubjectGlobal, err)
	}
	system, err := c.bus.Subscribe(event.SubjectSystem, c.onBusMessage)
	if err != nil {
		_ = global.Unsubscribe()
		return fmt.Errorf("subscribing %s: %w", event.SubjectSystem, err)
	}

	c.mu.Lock()
	c.global = global
	c.system = system
	c.mu.Unlock()

	c.registry.SetRoomHooks(c.roomOccupied, c.roomEmptied)
	return nil
}

// Stop drops every bus subscription the coordinator holds. The bus
// itself is closed by its owner.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.global != nil {
		_ = c.global.Unsubscribe()
		c.global = nil
	}
	if c.system != nil {
		_ = c.system.Unsubscribe()
		c.system = nil
	}
	for subject, rs := range c.roomSubs {
		_ = rs.sub.Unsubscribe()
		delete(c.roomSubs, subject)
	}
}

// Compose creates an envelope stamped with the current time and the
// sender's next sequence number.
func (c *Coordinator) Compose(eventType, channel, senderID string, data map[string]any) *event.Envelope {
	return event.New(c.seq, eventType, event.ParseChannel(channel), senderID, data)
}

// Publish routes an envelope through its channel strategy: local
// fan-out plus bus republish.
//
// Postcondition: Returns an error only for producer-side defects
// (payload size violations); distribution failures are logged and
// counted, never returned.
func (c *Coordinator) Publish(env *event.Envelope, route Route) error {
	c.metrics.EnvelopesPublished.WithLabelValues(env.Channel.Kind.String()).Inc()
	strat := c.factory.Get(env.Channel.Raw)
	return strat.Broadcast(env, route, c.bus)
}

// MovePlayer records a player's room change and emits presence notices
// to both rooms. Presence events carry the server's voice: they are
// room-local and exclude the moving player like any other room event.
func (c *Coordinator) MovePlayer(playerID, roomID string) {
	previous := c.registry.SetRoom(playerID, roomID)
	if previous == roomID {
		return
	}
	if previous != "" {
		env := c.Compose("player_left", "local", playerID, map[string]any{
			"player_id": playerID,
			"room_id":   previous,
		})
		if err := c.Publish(env, Route{RoomID: previous, SenderID: playerID}); err != nil {
			c.logger.Warn("publishing player_left", zap.Error(err))
		}
	}
	if roomID != "" {
		env := c.Compose("player_entered", "local", playerID, map[string]any{
			"player_id": playerID,
			"room_id":   roomID,
		})
		if err := c.Publish(env, Route{RoomID: roomID, SenderID: playerID}); err != nil {
			c.logger.Warn("publishing player_entered", zap.Error(err))
		}
	}
}

// onBusMessage delivers an envelope published by another process.
// Remote delivery is local-only: the publisher is a no-op so an
// envelope can never bounce between processes.
func (c *Coordinator) onBusMessage(subject string, data []byte) {
	env, roomID, err := event.DecodeWire(data)
	if err != nil {
		c.logger.Warn("undecodable bus message, dropping",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return
	}
	route := Route{RoomID: roomID, SenderID: env.SenderID}
	strat := c.factory.Get(env.Channel.Raw)
	if err := strat.Broadcast(env, route, NopPublisher{}); err != nil {
		c.logger.Warn("delivering bus message",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err),
		)
	}
}

// roomOccupied runs when a room gains its first local occupant. Rooms
// sharing a sub-zone share one subject, so subscriptions are
// reference-counted per subject.
func (c *Coordinator) roomOccupied(roomID string) {
	subject, err := event.RoomSubject(roomID)
	if err != nil {
		c.logger.Warn("room id not subscribable", zap.String("room_id", roomID), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rs, ok := c.roomSubs[subject]; ok {
		rs.refs++
		return
	}
	sub, err := c.bus.Subscribe(subject, c.onBusMessage)
	if err != nil {
		c.logger.Error("subscribing room subject",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return
	}
	c.roomSubs[subject] = &roomSub{sub: sub, refs: 1}
	c.logger.Debug("room subject subscribed", zap.String("subject", subject))
}

// roomEmptied runs when a room loses its last local occupant.
func (c *Coordinator) roomEmptied(roomID string) {
	subject, err := event.RoomSubject(roomID)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.roomSubs[subject]
	if !ok {
		return
	}
	rs.refs--
	if rs.refs > 0 {
		return
	}
	_ = rs.sub.Unsubscribe()
	delete(c.roomSubs, subject)
	c.logger.Debug("room subject unsubscribed", zap.String("subject", subject))
}
