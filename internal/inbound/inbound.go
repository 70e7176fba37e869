// Package inbound dispatches client frames to type-specific handlers:
// commands forward to game logic, chat enters the broadcast pipeline,
// pings are answered, and anything else earns a structured rejection.
package inbound

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/broadcast"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/event"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/observability"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/registry"
)

// Message is the inbound client frame.
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Broadcaster is the slice of the coordinator inbound handlers use.
type Broadcaster interface {
	Compose(eventType, channel, senderID string, data map[string]any) *event.Envelope
	Publish(env *event.Envelope, route broadcast.Route) error
}

// Handler processes one inbound message type for a connection.
type Handler func(conn *registry.Connection, data map[string]any) error

// HandlerFactory resolves inbound frame types to handlers. Unknown
// types are rejected back to the sender. Outbound routing fails
// silently toward clients, but inbound rejection must be visible to
// the client that caused it.
type HandlerFactory struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	aliases  map[string]string

	coord    Broadcaster
	registry *registry.Registry
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewHandlerFactory creates a factory with the built-in handlers
// registered: command (aliased by game_command), chat, and ping.
//
// Precondition: all arguments must be non-nil.
func NewHandlerFactory(coord Broadcaster, reg *registry.Registry, logger *zap.Logger, metrics *observability.Metrics) *HandlerFactory {
	f := &HandlerFactory{
		handlers: make(map[string]Handler),
		aliases:  make(map[string]string),
		coord:    coord,
		registry: reg,
		logger:   logger,
		metrics:  metrics,
	}
	f.RegisterHandler("command", f.handleCommand)
	f.RegisterAlias("game_command", "command")
	f.RegisterHandler("chat", f.handleChat)
	f.RegisterHandler("ping", f.handlePing)
	return f
}

// RegisterHandler installs or overrides the handler for a frame type.
// Game logic overrides the built-in command echo this way.
func (f *HandlerFactory) RegisterHandler(frameType string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[frameType] = h
}

// RegisterAlias maps an alternate frame type onto an existing one.
func (f *HandlerFactory) RegisterAlias(alias, canonical string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliases[alias] = canonical
}

// resolve looks up a handler by frame type or alias.
func (f *HandlerFactory) resolve(frameType string) (Handler, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if h, ok := f.handlers[frameType]; ok {
		return h, true
	}
	if canonical, ok := f.aliases[frameType]; ok {
		h, ok := f.handlers[canonical]
		return h, ok
	}
	return nil, false
}

// Handle dispatches one raw frame from a connection.
//
// Postcondition: A frame with an unknown or missing type yields exactly
// one INVALID_COMMAND response to the sender and no handler invocation.
// A missing data field dispatches with an empty map.
func (f *HandlerFactory) Handle(conn *registry.Connection, frame []byte) {
	conn.Touch()

	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		f.reject(conn, "malformed_frame", "frame is not valid JSON")
		return
	}

	handler, ok := f.resolve(msg.Type)
	if !ok {
		f.reject(conn, "unknown_type", fmt.Sprintf("unknown message type %q", msg.Type))
		return
	}

	if msg.Data == nil {
		msg.Data = make(map[string]any)
	}
	if err := handler(conn, msg.Data); err != nil {
		f.logger.Warn("inbound handler failed",
			zap.String("type", msg.Type),
			zap.String("player_id", conn.PlayerID),
			zap.Error(err),
		)
	}
}

// handleCommand is the built-in command echo. Deployments register
// their command processor over it; standalone it acknowledges the
// parsed command so clients can verify the round trip.
func (f *HandlerFactory) handleCommand(conn *registry.Connection, data map[string]any) error {
	command, _ := data["command"].(string)
	if command == "" {
		f.reject(conn, "missing_command", "command frame without a command")
		return nil
	}

	args := make([]string, 0)
	if rawArgs, ok := data["args"].([]any); ok {
		for _, a := range rawArgs {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}

	f.logger.Debug("command received",
		zap.String("player_id", conn.PlayerID),
		zap.String("command", command),
		zap.Strings("args", args),
	)
	env := f.coord.Compose("command_echo", "", conn.PlayerID, map[string]any{
		"command": command,
		"args":    args,
	})
	return f.replyTo(conn, env)
}

// handleChat enqueues a chat message into the broadcast pipeline. The
// channel defaults to say; whisper frames name their target in data.
func (f *HandlerFactory) handleChat(conn *registry.Connection, data map[string]any) error {
	message, _ := data["message"].(string)
	if message == "" {
		f.reject(conn, "empty_message", "chat frame without a message")
		return nil
	}
	channel, _ := data["channel"].(string)
	if channel == "" {
		channel = "say"
	}
	target, _ := data["target_player_id"].(string)

	roomID, _ := f.registry.RoomOf(conn.PlayerID)
	env := f.coord.Compose("chat_message", channel, conn.PlayerID, map[string]any{
		"message": message,
		"channel": channel,
	})
	route := broadcast.Route{
		RoomID:         roomID,
		TargetPlayerID: target,
		SenderID:       conn.PlayerID,
	}
	if err := f.coord.Publish(env, route); err != nil {
		// Size violations are the sender's own defect and must be
		// visible to it.
		f.sendError(conn, "PAYLOAD_TOO_LARGE", "payload_too_large", "message exceeds the payload size limit")
		return fmt.Errorf("publishing chat from %s: %w", conn.PlayerID, err)
	}
	return nil
}

// handlePing answers with a pong envelope carrying empty data.
func (f *HandlerFactory) handlePing(conn *registry.Connection, _ map[string]any) error {
	env := f.coord.Compose("pong", "", conn.PlayerID, nil)
	return f.replyTo(conn, env)
}

// replyTo sends an envelope to the originating player only.
func (f *HandlerFactory) replyTo(conn *registry.Connection, env *event.Envelope) error {
	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding %s reply: %w", env.EventType, err)
	}
	f.registry.SendLocal(conn.PlayerID, frame)
	return nil
}

// reject sends one structured INVALID_COMMAND error to the sender and
// counts the rejection.
func (f *HandlerFactory) reject(conn *registry.Connection, reason, detail string) {
	f.sendError(conn, "INVALID_COMMAND", reason, detail)
}

func (f *HandlerFactory) sendError(conn *registry.Connection, errorType, reason, detail string) {
	f.metrics.InboundRejected.WithLabelValues(reason).Inc()
	env := f.coord.Compose("error", "", conn.PlayerID, map[string]any{
		"error_type": errorType,
		"reason":     reason,
		"message":    detail,
	})
	if err := f.replyTo(conn, env); err != nil {
		f.logger.Warn("sending rejection", zap.String("player_id", conn.PlayerID), zap.Error(err))
	}
}
