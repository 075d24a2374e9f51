package torrent

import (
	"sync"
	"testing"

	"github.com/bradfitz/iter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	var q queue[int]
	for i := range iter.N(5) {
		q.push(i)
	}
	v, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, 0, v)
	assert.Equal(t, 2, q.remove(func(i int) bool { return i%2 == 1 }))
	var got []int
	for {
		v, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 4}, got)
	assert.Zero(t, q.len())
}

func TestQueueConcurrentProducers(t *testing.T) {
	var q queue[int]
	var wg sync.WaitGroup
	for range iter.N(8) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range iter.N(100) {
				q.push(i)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, q.len())
}
