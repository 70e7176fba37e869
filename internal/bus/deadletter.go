package bus

import (
	"sync"
	"time"
)

// DeadLetterEntry records an envelope whose publish attempts were
// exhausted. Dead letters are retained for inspection and never
// auto-redelivered.
type DeadLetterEntry struct {
	// Subject is the bus subject the publish targeted.
	Subject string
	// Data is the encoded envelope.
	Data []byte
	// Attempts is the number of publish attempts made.
	Attempts int
	// LastError describes the final failure.
	LastError string
	// FirstFailedAt is when the first attempt failed.
	FirstFailedAt time.Time
}

// DeadLetterStore holds dead letters in memory, bounded by a limit;
// beyond the limit the oldest entries are discarded first.
// Safe for concurrent use.
type DeadLetterStore struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	limit   int
}

// NewDeadLetterStore creates a store bounded to limit entries.
//
// Precondition: limit must be >= 1.
func NewDeadLetterStore(limit int) *DeadLetterStore {
	return &DeadLetterStore{limit: limit}
}

// Add appends an entry, evicting the oldest when the store is full.
func (s *DeadLetterStore) Add(entry DeadLetterEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) >= s.limit {
		s.entries = s.entries[1:]
	}
	s.entries = append(s.entries, entry)
}

// Entries returns a snapshot of the stored dead letters, oldest first.
func (s *DeadLetterStore) Entries() []DeadLetterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeadLetterEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Size returns the number of stored dead letters.
func (s *DeadLetterStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
