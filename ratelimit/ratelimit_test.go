package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/bradfitz/iter"
	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
}

func (me *fakeClock) Now() time.Time {
	return me.now
}

func newTestThrottle(max int64) (*Throttle, *fakeClock) {
	clock := &fakeClock{time.Unix(1000, 0)}
	th := NewThrottle(max, time.Second)
	th.Now = clock.Now
	return th, clock
}

func TestLimitedAtExactlyMax(t *testing.T) {
	th, _ := newTestThrottle(16384)
	th.Record(16383)
	assert.False(t, th.Limited())
	th.Record(1)
	assert.True(t, th.Limited())
	assert.EqualValues(t, 16384, th.Used())
}

func TestWindowElapses(t *testing.T) {
	th, clock := newTestThrottle(100)
	th.Record(60)
	clock.now = clock.now.Add(500 * time.Millisecond)
	th.Record(40)
	assert.True(t, th.Limited())
	clock.now = clock.now.Add(500 * time.Millisecond)
	// The first record is exactly one window old.
	assert.False(t, th.Limited())
	assert.EqualValues(t, 40, th.Used())
	clock.now = clock.now.Add(time.Second)
	assert.False(t, th.Limited())
	assert.EqualValues(t, 0, th.Used())
}

func TestConcurrentRecord(t *testing.T) {
	th := NewThrottle(1<<20, time.Minute)
	var wg sync.WaitGroup
	for range iter.N(8) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range iter.N(100) {
				th.Record(10)
				th.Limited()
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 8000, th.Used())
}
