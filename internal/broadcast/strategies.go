package broadcast

import (
	"go.uber.org/zap"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/event"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/mutes"
)

// RoomBasedStrategy delivers to the occupants of the sender's room,
// filtered by mutes, and republishes on the room's bus subject for
// occupants hosted on other processes. One instance serves each
// room-local subtype (say, local, emote, pose).
type RoomBasedStrategy struct {
	subtype string
	deliver *Deliverer
	mutes   mutes.Lookup
	logger  *zap.Logger
}

// NewRoomBasedStrategy creates a room strategy for one subtype.
func NewRoomBasedStrategy(subtype string, deliver *Deliverer, muteList mutes.Lookup, logger *zap.Logger) *RoomBasedStrategy {
	return &RoomBasedStrategy{subtype: subtype, deliver: deliver, mutes: muteList, logger: logger}
}

// ChannelType returns the room-local subtype.
func (s *RoomBasedStrategy) ChannelType() string { return s.subtype }

// Broadcast fans out to the room. A missing room id is an upstream
// event bug: it is logged and skipped, with zero side effects.
func (s *RoomBasedStrategy) Broadcast(env *event.Envelope, route Route, pub Publisher) error {
	if route.RoomID == "" {
		s.logger.Warn("room broadcast without room id, skipping",
			zap.String("channel", s.subtype),
			zap.String("event_type", env.EventType),
			zap.String("sender_id", route.SenderID),
		)
		return nil
	}

	frame, err := s.deliver.Frame(env)
	if err != nil {
		return err
	}

	for _, playerID := range s.deliver.Occupants(route.RoomID) {
		if playerID == route.SenderID {
			continue
		}
		if s.mutes.IsMuted(playerID, route.SenderID, s.subtype) {
			continue
		}
		s.deliver.SendTo(playerID, frame)
	}

	subject, err := event.RoomSubject(route.RoomID)
	if err != nil {
		s.logger.Warn("unroutable room id, skipping bus publish",
			zap.String("room_id", route.RoomID),
			zap.Error(err),
		)
		return nil
	}
	wire, err := event.EncodeWire(env, route.RoomID)
	if err != nil {
		s.logger.Error("encoding room envelope for bus", zap.Error(err))
		return nil
	}
	if err := pub.Publish(subject, wire); err != nil {
		s.logger.Warn("staging room publish failed",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
	return nil
}

// GlobalStrategy delivers to every connected player except the sender
// and republishes on the global subject.
type GlobalStrategy struct {
	deliver *Deliverer
	logger  *zap.Logger
}

// NewGlobalStrategy creates the global strategy.
func NewGlobalStrategy(deliver *Deliverer, logger *zap.Logger) *GlobalStrategy {
	return &GlobalStrategy{deliver: deliver, logger: logger}
}

// ChannelType returns "global".
func (s *GlobalStrategy) ChannelType() string { return "global" }

// Broadcast fans out to everyone connected locally and republishes.
func (s *GlobalStrategy) Broadcast(env *event.Envelope, route Route, pub Publisher) error {
	frame, err := s.deliver.Frame(env)
	if err != nil {
		return err
	}
	s.deliver.SendAllExcept(frame, route.SenderID)

	wire, err := event.EncodeWire(env, "")
	if err != nil {
		s.logger.Error("encoding global envelope for bus", zap.Error(err))
		return nil
	}
	if err := pub.Publish(event.SubjectGlobal, wire); err != nil {
		s.logger.Warn("staging global publish failed", zap.Error(err))
	}
	return nil
}

// PartyStrategy is a stub: the party system is not implemented. It
// logs and drops so callers cannot mistake it for a completed
// broadcast, and it must never raise.
type PartyStrategy struct {
	logger *zap.Logger
}

// NewPartyStrategy creates the party stub.
func NewPartyStrategy(logger *zap.Logger) *PartyStrategy {
	return &PartyStrategy{logger: logger}
}

// ChannelType returns "party".
func (s *PartyStrategy) ChannelType() string { return "party" }

// Broadcast drops the envelope.
func (s *PartyStrategy) Broadcast(env *event.Envelope, route Route, _ Publisher) error {
	s.logger.Warn("party broadcasting not implemented, dropping",
		zap.String("event_type", env.EventType),
		zap.String("party_id", route.PartyID),
	)
	return nil
}

// WhisperStrategy delivers to exactly one named player. Whispers stay
// process-local: no bus publish. Cross-process whisper relay is the
// registry's concern, if it ever lands.
type WhisperStrategy struct {
	deliver *Deliverer
	mutes   mutes.Lookup
	logger  *zap.Logger
}

// NewWhisperStrategy creates the whisper strategy.
func NewWhisperStrategy(deliver *Deliverer, muteList mutes.Lookup, logger *zap.Logger) *WhisperStrategy {
	return &WhisperStrategy{deliver: deliver, mutes: muteList, logger: logger}
}

// ChannelType returns "whisper".
func (s *WhisperStrategy) ChannelType() string { return "whisper" }

// Broadcast sends to the target only. A missing target is logged and
// skipped.
func (s *WhisperStrategy) Broadcast(env *event.Envelope, route Route, _ Publisher) error {
	if route.TargetPlayerID == "" {
		s.logger.Warn("whisper without target, skipping",
			zap.String("sender_id", route.SenderID),
		)
		return nil
	}
	if s.mutes.IsMuted(route.TargetPlayerID, route.SenderID, "whisper") {
		return nil
	}

	frame, err := s.deliver.Frame(env)
	if err != nil {
		return err
	}
	s.deliver.SendTo(route.TargetPlayerID, frame)
	return nil
}

// SystemAdminStrategy behaves like Global but carries audit priority:
// every system or admin broadcast is logged at Info with the sender
// attached. One instance serves each subtype (system, admin).
type SystemAdminStrategy struct {
	subtype string
	deliver *Deliverer
	logger  *zap.Logger
}

// NewSystemAdminStrategy creates the system/admin strategy for one subtype.
func NewSystemAdminStrategy(subtype string, deliver *Deliverer, logger *zap.Logger) *SystemAdminStrategy {
	return &SystemAdminStrategy{subtype: subtype, deliver: deliver, logger: logger}
}

// ChannelType returns the subtype (system or admin).
func (s *SystemAdminStrategy) ChannelType() string { return s.subtype }

// Broadcast fans out to everyone and republishes on the system subject.
func (s *SystemAdminStrategy) Broadcast(env *event.Envelope, route Route, pub Publisher) error {
	s.logger.Info("system broadcast",
		zap.String("channel", s.subtype),
		zap.String("event_type", env.EventType),
		zap.String("sender_id", route.SenderID),
	)

	frame, err := s.deliver.Frame(env)
	if err != nil {
		return err
	}
	s.deliver.SendAllExcept(frame, route.SenderID)

	wire, err := event.EncodeWire(env, "")
	if err != nil {
		s.logger.Error("encoding system envelope for bus", zap.Error(err))
		return nil
	}
	if err := pub.Publish(event.SubjectSystem, wire); err != nil {
		s.logger.Warn("staging system publish failed", zap.Error(err))
	}
	return nil
}

// UnknownChannelStrategy is the fail-open fallback for unrecognized
// channel strings: it logs and drops so a malformed channel never
// crashes delivery or retries forever.
type UnknownChannelStrategy struct {
	raw    string
	logger *zap.Logger
}

// NewUnknownChannelStrategy creates the fallback for one raw channel string.
func NewUnknownChannelStrategy(raw string, logger *zap.Logger) *UnknownChannelStrategy {
	return &UnknownChannelStrategy{raw: raw, logger: logger}
}

// ChannelType returns the unrecognized input string.
func (s *UnknownChannelStrategy) ChannelType() string { return s.raw }

// Broadcast drops the envelope.
func (s *UnknownChannelStrategy) Broadcast(env *event.Envelope, route Route, _ Publisher) error {
	s.logger.Warn("unknown channel type, dropping",
		zap.String("channel", s.raw),
		zap.String("event_type", env.EventType),
		zap.String("sender_id", route.SenderID),
	)
	return nil
}
