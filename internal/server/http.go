package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/broadcast"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/config"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/inbound"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/registry"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/transport"
)

// BusHealth is the slice of the bus the health endpoint reads.
type BusHealth interface {
	Healthy() bool
}

// HTTPService exposes the client transports and operational endpoints:
// /ws (WebSocket upgrade), /stream (long-lived HTTP stream fallback),
// /healthz, and /metrics.
type HTTPService struct {
	cfg      config.Config
	registry *registry.Registry
	coord    *broadcast.Coordinator
	inbound  *inbound.HandlerFactory
	auth     Authenticator
	busHlth  BusHealth
	logger   *zap.Logger

	upgrader websocket.Upgrader
	srv      *http.Server
}

// NewHTTPService wires the HTTP service and its routes.
//
// Precondition: all arguments must be non-nil.
func NewHTTPService(
	cfg config.Config,
	reg *registry.Registry,
	coord *broadcast.Coordinator,
	handlers *inbound.HandlerFactory,
	auth Authenticator,
	busHealth BusHealth,
	promReg *prometheus.Registry,
	logger *zap.Logger,
) *HTTPService {
	s := &HTTPService{
		cfg:      cfg,
		registry: reg,
		coord:    coord,
		inbound:  handlers,
		auth:     auth,
		busHlth:  busHealth,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The game client is served from another origin; the
			// bearer token is the access control.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/stream", s.handleStream)
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves HTTP until Stop is called.
func (s *HTTPService) Start() error {
	s.logger.Info("http service listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down gracefully, then closes every live
// transport handle so their pumps exit.
func (s *HTTPService) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	s.registry.CloseAll()
}

// authenticate resolves the player or writes the error response.
func (s *HTTPService) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	playerID, err := s.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return "", false
	}
	return playerID, true
}

// handleWebSocket upgrades the connection and runs its pumps. The
// optional room query parameter places the player immediately; game
// logic moves them afterwards.
func (s *HTTPService) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	playerID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("player_id", playerID),
			zap.Error(err),
		)
		return
	}

	handle := transport.NewWebSocketHandle(wsConn, s.cfg.Transport, s.logger)
	conn, err := s.registry.Register(playerID, handle)
	if err != nil {
		s.logger.Warn("registering websocket handle",
			zap.String("player_id", playerID),
			zap.Error(err),
		)
		_ = handle.Close()
		return
	}
	if room := r.URL.Query().Get("room"); room != "" {
		s.coord.MovePlayer(playerID, room)
	}

	go handle.WritePump()
	go func() {
		handle.ReadPump(func(frame []byte) {
			s.inbound.Handle(conn, frame)
		})
		s.disconnect(playerID, handle.ID())
	}()
}

// handleStream serves the long-lived HTTP stream fallback. Serve
// blocks for the connection's lifetime.
func (s *HTTPService) handleStream(w http.ResponseWriter, r *http.Request) {
	playerID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	handle := transport.NewStreamHandle(s.cfg.Transport, s.logger)
	if _, err := s.registry.Register(playerID, handle); err != nil {
		s.logger.Warn("registering stream handle",
			zap.String("player_id", playerID),
			zap.Error(err),
		)
		http.Error(w, "connection limit reached", http.StatusConflict)
		return
	}
	if room := r.URL.Query().Get("room"); room != "" {
		s.coord.MovePlayer(playerID, room)
	}

	if err := handle.Serve(w, r); err != nil {
		s.logger.Debug("stream ended",
			zap.String("player_id", playerID),
			zap.Error(err),
		)
	}
	s.disconnect(playerID, handle.ID())
}

// disconnect tears down one handle. When it was the player's last, the
// player leaves their room first so occupants see the departure.
func (s *HTTPService) disconnect(playerID, handleID string) {
	if s.registry.HandleCount(playerID) == 1 {
		s.coord.MovePlayer(playerID, "")
	}
	s.registry.Unregister(playerID, handleID)
}

// handleHealthz reports bus connectivity and connection counts.
func (s *HTTPService) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	busOK := s.busHlth.Healthy()
	status := http.StatusOK
	state := "ok"
	if !busOK {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":        state,
		"bus_connected": busOK,
		"players":       s.registry.PlayerCount(),
	})
}
