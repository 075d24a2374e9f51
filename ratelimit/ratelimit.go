// Package ratelimit provides a sliding window byte counter used as an advisory admission check
// before committing to a transfer.
package ratelimit

import (
	"sync"
	"time"
)

type item struct {
	at   time.Time
	size int64
}

// Throttle sums the bytes recorded within the last Window. It never blocks: callers poll Limited
// and stop issuing transfers for the pass when it reports true.
type Throttle struct {
	MaxBytes int64
	Window   time.Duration
	// Defaults to time.Now.
	Now func() time.Time

	lock  sync.Mutex
	items []item
}

func NewThrottle(maxBytes int64, window time.Duration) *Throttle {
	return &Throttle{
		MaxBytes: maxBytes,
		Window:   window,
	}
}

func (t *Throttle) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Records a transfer of size bytes now.
func (t *Throttle) Record(size int) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.items = append(t.items, item{t.now(), int64(size)})
}

// Drops expired items and returns the sum of the rest. Must hold the lock.
func (t *Throttle) prune() (sum int64) {
	cutoff := t.now().Add(-t.Window)
	i := 0
	for i < len(t.items) && !t.items[i].at.After(cutoff) {
		i++
	}
	t.items = t.items[i:]
	for _, it := range t.items {
		sum += it.size
	}
	return
}

// Whether the bytes recorded within the window have reached MaxBytes.
func (t *Throttle) Limited() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.prune() >= t.MaxBytes
}

// The bytes recorded within the window.
func (t *Throttle) Used() int64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.prune()
}
