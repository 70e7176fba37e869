// Package registry tracks live per-player transport handles and room
// occupancy for the delivery subsystem.
package registry

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/observability"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/transport"
)

// MaxHandlesPerPlayer caps live handles per player: one primary
// WebSocket plus one fallback stream.
const MaxHandlesPerPlayer = 2

// Connection pairs a player with one live transport handle.
type Connection struct {
	// PlayerID is the authenticated owner of the handle.
	PlayerID string
	// Handle is the live transport attachment.
	Handle transport.Handle
	// CreatedAt is when the handle registered.
	CreatedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

// Touch refreshes the connection's last-seen time.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// LastSeen returns the time of the last inbound activity.
func (c *Connection) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Registry owns all live connections, indexed by player id, plus the
// room occupancy index used for room-local fan-out.
// All methods are safe for concurrent use; no lock is held across a
// transport write.
type Registry struct {
	mu       sync.RWMutex
	players  map[string][]*Connection   // playerID → live handles
	rooms    map[string]map[string]bool // roomID → set of playerIDs
	roomOf   map[string]string          // playerID → roomID
	logger  *zap.Logger
	metrics *observability.Metrics
	onEmpty func(roomID string)
	onFirst func(roomID string)
}

// NewRegistry creates an empty Registry.
//
// Precondition: logger and metrics must be non-nil.
func NewRegistry(logger *zap.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		players: make(map[string][]*Connection),
		rooms:   make(map[string]map[string]bool),
		roomOf:  make(map[string]string),
		logger:  logger,
		metrics: metrics,
	}
}

// SetRoomHooks installs callbacks fired when a room gains its first
// occupant and when it loses its last one. The bus layer uses these to
// open and drain room subject subscriptions.
//
// Precondition: Must be called before connections register.
func (r *Registry) SetRoomHooks(onFirst, onEmpty func(roomID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFirst = onFirst
	r.onEmpty = onEmpty
}

// Register attaches a live handle to a player.
//
// Precondition: playerID must be non-empty; h must be non-nil.
// Postcondition: Returns the Connection, or an error if the player is
// already at MaxHandlesPerPlayer.
func (r *Registry) Register(playerID string, h transport.Handle) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.players[playerID]) >= MaxHandlesPerPlayer {
		return nil, fmt.Errorf("player %q already has %d live handles", playerID, MaxHandlesPerPlayer)
	}

	conn := &Connection{
		PlayerID:  playerID,
		Handle:    h,
		CreatedAt: time.Now(),
		lastSeen:  time.Now(),
	}
	r.players[playerID] = append(r.players[playerID], conn)
	r.metrics.ConnectionsActive.Inc()

	r.logger.Info("connection registered",
		zap.String("player_id", playerID),
		zap.String("handle_id", h.ID()),
		zap.String("transport", h.Kind()),
	)
	return conn, nil
}

// Unregister detaches a handle from a player and closes it. Detaching
// the player's last handle also removes them from their room.
//
// Postcondition: The handle is closed and no longer referenced.
func (r *Registry) Unregister(playerID, handleID string) {
	r.mu.Lock()
	var closing transport.Handle
	conns := r.players[playerID]
	for i, conn := range conns {
		if conn.Handle.ID() == handleID {
			closing = conn.Handle
			r.players[playerID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	var emptiedRoom string
	if len(r.players[playerID]) == 0 {
		delete(r.players, playerID)
		if prev, emptied := r.leaveRoomLocked(playerID); emptied {
			emptiedRoom = prev
		}
	}
	onEmpty := r.onEmpty
	r.mu.Unlock()

	if closing != nil {
		_ = closing.Close()
		r.metrics.ConnectionsActive.Dec()
		r.logger.Info("connection unregistered",
			zap.String("player_id", playerID),
			zap.String("handle_id", handleID),
		)
	}
	if emptiedRoom != "" && onEmpty != nil {
		onEmpty(emptiedRoom)
	}
}

// SetRoom moves a player to a room, updating the occupancy index.
//
// Postcondition: Returns the previous room id ("" if none).
func (r *Registry) SetRoom(playerID, roomID string) string {
	r.mu.Lock()
	if current, ok := r.roomOf[playerID]; ok && current == roomID {
		r.mu.Unlock()
		return current
	}
	previous, emptied := r.leaveRoomLocked(playerID)
	var first bool
	if roomID != "" {
		if r.rooms[roomID] == nil {
			r.rooms[roomID] = make(map[string]bool)
			first = true
		}
		r.rooms[roomID][playerID] = true
		r.roomOf[playerID] = roomID
	}
	onFirst, onEmpty := r.onFirst, r.onEmpty
	r.mu.Unlock()

	if first && onFirst != nil {
		onFirst(roomID)
	}
	if emptied && onEmpty != nil {
		onEmpty(previous)
	}
	return previous
}

// leaveRoomLocked removes the player from their current room. Returns
// the previous room id and whether the room is now empty.
func (r *Registry) leaveRoomLocked(playerID string) (string, bool) {
	roomID, ok := r.roomOf[playerID]
	if !ok {
		return "", false
	}
	delete(r.roomOf, playerID)
	if occupants, ok := r.rooms[roomID]; ok {
		delete(occupants, playerID)
		if len(occupants) == 0 {
			delete(r.rooms, roomID)
			return roomID, true
		}
	}
	return roomID, false
}

// RoomOf returns the player's current room id, if any.
func (r *Registry) RoomOf(playerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.roomOf[playerID]
	return roomID, ok
}

// RoomOccupants returns a point-in-time snapshot of the player ids in
// the given room. Players joining or leaving concurrently may or may
// not appear; at-most-once delivery to them is acceptable for
// ephemeral events.
func (r *Registry) RoomOccupants(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	occupants := make([]string, 0, len(r.rooms[roomID]))
	for playerID := range r.rooms[roomID] {
		occupants = append(occupants, playerID)
	}
	return occupants
}

// PlayerIDs returns a snapshot of all connected player ids.
func (r *Registry) PlayerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.players))
	for playerID := range r.players {
		ids = append(ids, playerID)
	}
	return ids
}

// PlayerCount returns the number of connected players.
func (r *Registry) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// HandleCount returns the number of live handles for a player.
func (r *Registry) HandleCount(playerID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players[playerID])
}

// SendLocal delivers a frame to every live handle of the given player.
// A push failure on one handle drops only that handle; the player's
// other handle still receives the frame.
//
// Postcondition: Returns true if at least one handle accepted the frame.
func (r *Registry) SendLocal(playerID string, frame []byte) bool {
	r.mu.RLock()
	conns := make([]*Connection, len(r.players[playerID]))
	copy(conns, r.players[playerID])
	r.mu.RUnlock()

	delivered := false
	for _, conn := range conns {
		if err := conn.Handle.Push(frame); err != nil {
			r.metrics.DeliveriesDropped.Inc()
			r.logger.Warn("dropping dead handle",
				zap.String("player_id", playerID),
				zap.String("handle_id", conn.Handle.ID()),
				zap.Error(err),
			)
			r.Unregister(playerID, conn.Handle.ID())
			continue
		}
		r.metrics.EnvelopesDelivered.Inc()
		delivered = true
	}
	return delivered
}

// CloseAll closes every live handle, for shutdown drain. Handles
// unregister themselves as their pumps observe the close.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0)
	for _, list := range r.players {
		conns = append(conns, list...)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Handle.Close(); err != nil {
			r.logger.Debug("closing handle",
				zap.String("player_id", conn.PlayerID),
				zap.String("handle_id", conn.Handle.ID()),
				zap.Error(err),
			)
		}
	}
}

// BroadcastLocal delivers a frame to every connected player except
// excludePlayerID. Per-player failures never abort the rest of the
// fan-out.
//
// Postcondition: Returns the number of players that accepted the frame.
func (r *Registry) BroadcastLocal(frame []byte, excludePlayerID string) int {
	delivered := 0
	for _, playerID := range r.PlayerIDs() {
		if playerID == excludePlayerID {
			continue
		}
		if r.SendLocal(playerID, frame) {
			delivered++
		}
	}
	return delivered
}
