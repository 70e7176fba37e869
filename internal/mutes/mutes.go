// Package mutes provides the mute-list lookup consulted during
// per-recipient fan-out filtering.
package mutes

import "sync"

// Lookup answers whether a listener has muted a speaker on a channel.
// The delivery layer only ever consults this; the store itself is
// maintained by game logic.
type Lookup interface {
	// IsMuted reports whether listener should not receive speaker's
	// messages on the given channel.
	IsMuted(listenerID, speakerID, channel string) bool
}

// None is a Lookup that mutes nobody.
type None struct{}

// IsMuted always returns false.
func (None) IsMuted(_, _, _ string) bool { return false }

// Store is an in-memory Lookup supporting per-speaker, per-channel,
// and global mutes. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	players  map[string]map[string]bool // listener → muted speakers
	channels map[string]map[string]bool // listener → muted channels
	globals  map[string]bool            // globally muted speakers
}

// NewStore creates an empty mute Store.
func NewStore() *Store {
	return &Store{
		players:  make(map[string]map[string]bool),
		channels: make(map[string]map[string]bool),
		globals:  make(map[string]bool),
	}
}

// MutePlayer records that listener no longer hears speaker.
func (s *Store) MutePlayer(listenerID, speakerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.players[listenerID] == nil {
		s.players[listenerID] = make(map[string]bool)
	}
	s.players[listenerID][speakerID] = true
}

// UnmutePlayer reverses MutePlayer.
func (s *Store) UnmutePlayer(listenerID, speakerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.players[listenerID], speakerID)
}

// MuteChannel silences an entire channel for a listener.
func (s *Store) MuteChannel(listenerID, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels[listenerID] == nil {
		s.channels[listenerID] = make(map[string]bool)
	}
	s.channels[listenerID][channel] = true
}

// UnmuteChannel reverses MuteChannel.
func (s *Store) UnmuteChannel(listenerID, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels[listenerID], channel)
}

// MuteGlobal silences a speaker for everyone (moderation action).
func (s *Store) MuteGlobal(speakerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals[speakerID] = true
}

// UnmuteGlobal reverses MuteGlobal.
func (s *Store) UnmuteGlobal(speakerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.globals, speakerID)
}

// IsMuted implements Lookup.
func (s *Store) IsMuted(listenerID, speakerID, channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.globals[speakerID] {
		return true
	}
	if s.players[listenerID][speakerID] {
		return true
	}
	return s.channels[listenerID][channel]
}
