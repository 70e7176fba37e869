package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/broadcast"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/bus"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/config"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/inbound"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/mutes"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/observability"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/payload"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/registry"
)

// noopBus satisfies bus.Bus without a broker.
type noopBus struct{}

func (noopBus) Publish(string, []byte) error { return nil }
func (noopBus) Subscribe(string, bus.MsgHandler) (bus.Subscription, error) {
	return noopSub{}, nil
}
func (noopBus) Close() {}

type noopSub struct{}

func (noopSub) Unsubscribe() error { return nil }

type fakeBusHealth struct{ healthy bool }

func (f fakeBusHealth) Healthy() bool { return f.healthy }

func newTestService(t *testing.T, busHealthy bool) (*HTTPService, *registry.Registry) {
	t.Helper()
	cfg := config.Default()
	logger := zap.NewNop()
	metrics := observability.NewTestMetrics()
	reg := registry.NewRegistry(logger, metrics)
	opt := payload.NewOptimizer(cfg.Payload)
	deliver := broadcast.NewDeliverer(reg, opt, logger)
	coord := broadcast.NewCoordinator(reg, noopBus{}, deliver, mutes.None{}, logger, metrics)
	require.NoError(t, coord.Start())
	t.Cleanup(coord.Stop)
	handlers := inbound.NewHandlerFactory(coord, reg, logger, metrics)
	auth := NewStaticTokenAuthenticator(map[string]string{"t1": "p1"})
	svc := NewHTTPService(cfg, reg, coord, handlers, auth, fakeBusHealth{healthy: busHealthy}, prometheus.NewRegistry(), logger)
	return svc, reg
}

func TestStaticTokenAuthenticator(t *testing.T) {
	auth := NewStaticTokenAuthenticator(map[string]string{"secret": "p1"})

	tests := []struct {
		name    string
		build   func() *http.Request
		want    string
		wantErr bool
	}{
		{
			name: "query token",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/ws?token=secret", nil)
			},
			want: "p1",
		},
		{
			name: "bearer header",
			build: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/ws", nil)
				r.Header.Set("Authorization", "Bearer secret")
				return r
			},
			want: "p1",
		},
		{
			name: "wrong token",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/ws?token=nope", nil)
			},
			wantErr: true,
		},
		{
			name: "no credential",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/ws", nil)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			playerID, err := auth.Authenticate(tt.build())
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthenticated)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, playerID)
		})
	}
}

func TestHealthz(t *testing.T) {
	svc, _ := newTestService(t, true)
	ts := httptest.NewServer(svc.srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["bus_connected"])
}

func TestHealthz_DegradedWhenBusDown(t *testing.T) {
	svc, _ := newTestService(t, false)
	ts := httptest.NewServer(svc.srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	svc, _ := newTestService(t, true)
	ts := httptest.NewServer(svc.srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocket_RejectsUnauthenticated(t *testing.T) {
	svc, _ := newTestService(t, true)
	ts := httptest.NewServer(svc.srv.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_PingPongRoundTrip(t *testing.T) {
	svc, reg := newTestService(t, true)
	ts := httptest.NewServer(svc.srv.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=t1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, "pong", env["event_type"])
	assert.Equal(t, 1, reg.PlayerCount())
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	svc, reg := newTestService(t, true)
	ts := httptest.NewServer(svc.srv.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=t1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return reg.PlayerCount() == 0
	}, 2*time.Second, 20*time.Millisecond)
}
