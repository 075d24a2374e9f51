package torrent

import (
	"context"
	"sync/atomic"
	"time"
)

// A periodic pass of which at most one instance runs at a time. Ticks that find a pass running are
// dropped. Pokes arriving during a pass cause one more pass after it.
type guardedLoop struct {
	name     string
	interval time.Duration
	body     func()
	running  atomic.Bool
	poke     chan struct{}
}

func newGuardedLoop(name string, interval time.Duration, body func()) *guardedLoop {
	return &guardedLoop{
		name:     name,
		interval: interval,
		body:     body,
		poke:     make(chan struct{}, 1),
	}
}

// Runs the body unless a pass is already underway. Returns whether it ran.
func (l *guardedLoop) tryRun() bool {
	if !l.running.CompareAndSwap(false, true) {
		loopPassesSkipped.WithLabelValues(l.name).Inc()
		return false
	}
	defer l.running.Store(false)
	l.body()
	return true
}

// Requests a pass as soon as possible without blocking.
func (l *guardedLoop) trigger() {
	select {
	case l.poke <- struct{}{}:
	default:
	}
}

func (l *guardedLoop) run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-l.poke:
		}
		l.tryRun()
		select {
		case <-ticker.C:
			loopPassesSkipped.WithLabelValues(l.name).Inc()
		default:
		}
	}
}
