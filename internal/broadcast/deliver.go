package broadcast

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/event"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/payload"
)

// LocalRegistry is the slice of the connection registry the broadcast
// layer consumes.
type LocalRegistry interface {
	SendLocal(playerID string, frame []byte) bool
	BroadcastLocal(frame []byte, excludePlayerID string) int
	RoomOccupants(roomID string) []string
}

// Deliverer turns envelopes into client wire frames, running the
// payload optimizer just before the transport write, and hands them to
// the registry.
type Deliverer struct {
	registry  LocalRegistry
	optimizer *payload.Optimizer
	logger    *zap.Logger
}

// NewDeliverer creates a Deliverer.
//
// Precondition: registry, optimizer, and logger must be non-nil.
func NewDeliverer(registry LocalRegistry, optimizer *payload.Optimizer, logger *zap.Logger) *Deliverer {
	return &Deliverer{
		registry:  registry,
		optimizer: optimizer,
		logger:    logger,
	}
}

// Frame encodes an envelope into its outbound wire form with the
// payload optimized. One frame serves every recipient of the envelope.
//
// Postcondition: Returns the JSON frame, or payload.ErrPayloadTooLarge
// (wrapped) when the payload violates the size contract.
func (d *Deliverer) Frame(env *event.Envelope) ([]byte, error) {
	data, err := d.optimizer.Optimize(env.Data, false)
	if err != nil {
		return nil, fmt.Errorf("optimizing %s payload: %w", env.EventType, err)
	}

	wire := *env
	wire.Data = data
	frame, err := json.Marshal(&wire)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", env.EventType, err)
	}
	return frame, nil
}

// SendTo delivers a frame to one player's live handles.
func (d *Deliverer) SendTo(playerID string, frame []byte) bool {
	return d.registry.SendLocal(playerID, frame)
}

// SendAllExcept delivers a frame to every connected player but one.
func (d *Deliverer) SendAllExcept(frame []byte, excludePlayerID string) int {
	return d.registry.BroadcastLocal(frame, excludePlayerID)
}

// Occupants snapshots the players currently in a room.
func (d *Deliverer) Occupants(roomID string) []string {
	return d.registry.RoomOccupants(roomID)
}
