package server

import (
	"errors"
	"net/http"
	"strings"
	"sync"
)

// ErrUnauthenticated reports a connection attempt without a valid
// credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the player id behind an upgrade request. The
// session layer owns credentials; this subsystem only needs the id.
type Authenticator interface {
	// Authenticate returns the player id for the request or
	// ErrUnauthenticated.
	Authenticate(r *http.Request) (string, error)
}

// StaticTokenAuthenticator maps bearer tokens to player ids. Meant for
// development and tests; production deployments plug in the real
// session layer.
type StaticTokenAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewStaticTokenAuthenticator creates an authenticator over a
// token -> player id map. A nil map starts empty.
func NewStaticTokenAuthenticator(tokens map[string]string) *StaticTokenAuthenticator {
	if tokens == nil {
		tokens = make(map[string]string)
	}
	return &StaticTokenAuthenticator{tokens: tokens}
}

// AddToken registers a token for a player id.
func (a *StaticTokenAuthenticator) AddToken(token, playerID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = playerID
}

// Authenticate reads the token from the Authorization header (Bearer
// scheme) or the token query parameter. Browser WebSocket and
// EventSource clients cannot set headers, so the query form stays.
func (a *StaticTokenAuthenticator) Authenticate(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); auth != "" {
		if t, ok := strings.CutPrefix(auth, "Bearer "); ok {
			token = t
		}
	}
	if token == "" {
		return "", ErrUnauthenticated
	}

	a.mu.RLock()
	playerID, ok := a.tokens[token]
	a.mu.RUnlock()
	if !ok {
		return "", ErrUnauthenticated
	}
	return playerID, nil
}
