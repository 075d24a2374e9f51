package storage

import (
	"sync"

	g "github.com/anacrolix/generics"
)

type mapPieceCompletion struct {
	// Map of InfoHash to *memoryTorrentJustComplete.
	m sync.Map
}

type (
	justComplete              = g.Option[bool]
	memoryTorrentJustComplete struct {
		mu    sync.RWMutex
		state []justComplete
	}
)

func (me *memoryTorrentJustComplete) Get(i int) justComplete {
	me.mu.RLock()
	defer me.mu.RUnlock()
	if i >= len(me.state) {
		return g.None[bool]()
	}
	return me.state[i]
}

func (me *memoryTorrentJustComplete) Set(i int, complete bool) {
	me.mu.Lock()
	defer me.mu.Unlock()
	for i >= len(me.state) {
		me.state = append(me.state, g.None[bool]())
	}
	me.state[i].Set(complete)
}

var _ PieceCompletion = (*mapPieceCompletion)(nil)

func NewMapPieceCompletion() PieceCompletion {
	return &mapPieceCompletion{}
}

func (me *mapPieceCompletion) Close() error {
	me.m.Clear()
	return nil
}

func (me *mapPieceCompletion) Get(pk PieceKey) (c Completion, err error) {
	v, ok := me.m.Load(pk.InfoHash)
	if !ok {
		return
	}
	jcs := v.(*memoryTorrentJustComplete)
	c.Complete, c.Ok = jcs.Get(pk.Index).AsTuple()
	return
}

func (me *mapPieceCompletion) Set(pk PieceKey, complete bool) error {
	v, ok := me.m.Load(pk.InfoHash)
	if !ok {
		v, _ = me.m.LoadOrStore(pk.InfoHash, &memoryTorrentJustComplete{})
	}
	t := v.(*memoryTorrentJustComplete)
	t.Set(pk.Index, complete)
	return nil
}
