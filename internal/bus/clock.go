// Package bus provides the broker-backed pub/sub layer that fans
// envelopes out across server processes, with bounded retry and
// dead-letter handling on the publish path.
package bus

import "time"

// Clock abstracts time for the retry worker so backoff is testable
// without real sleeps.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After fires once after d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the production Clock backed by the time package.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// After returns time.After(d).
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
