package torrent

import (
	"fmt"

	"github.com/anacrolix/sync"
)

// A block a peer asked us for.
type DataRequest struct {
	Peer   *PeerConn
	Piece  int
	Begin  int64
	Length int64
}

func (me DataRequest) String() string {
	return fmt.Sprintf("request %v/%v:%v from %v", me.Piece, me.Begin, me.Length, me.Peer)
}

// A block a peer sent us.
type DataPackage struct {
	Peer  *PeerConn
	Piece int
	Block int
	Data  []byte
}

func (me DataPackage) String() string {
	return fmt.Sprintf("block %v/%v (%v bytes) from %v", me.Piece, me.Block, len(me.Data), me.Peer)
}

// FIFO shared between peer read loops (producers) and a single scheduler loop (consumer).
type queue[T any] struct {
	mu    sync.Mutex
	items []T
}

func (q *queue[T]) push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

func (q *queue[T]) pop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	v = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Drops every queued item for which f returns true, and returns how many there were.
func (q *queue[T]) remove(f func(T) bool) (n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, v := range q.items {
		if f(v) {
			n++
			continue
		}
		kept = append(kept, v)
	}
	var zero T
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = zero
	}
	q.items = kept
	return
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
