package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_StartsAtGivenInstant(t *testing.T) {
	start := time.Unix(1700000000, 0)
	clock := NewClock(start)
	assert.True(t, clock.Now().Equal(start))
	assert.Equal(t, int64(1700000000), clock.Unix())
}

func TestClock_DoesNotMoveOnItsOwn(t *testing.T) {
	clock := NewClock(time.Unix(100, 0))
	first := clock.Now()
	time.Sleep(5 * time.Millisecond)
	assert.True(t, clock.Now().Equal(first))
}

func TestClock_Advance(t *testing.T) {
	clock := NewClock(time.Unix(100, 0))

	got := clock.Advance(30 * time.Second)
	assert.Equal(t, int64(130), got.Unix())
	assert.Equal(t, int64(130), clock.Unix())
}

func TestClock_Set(t *testing.T) {
	clock := NewClock(time.Unix(100, 0))
	clock.Set(time.Unix(50, 0))
	assert.Equal(t, int64(50), clock.Unix())
}

func TestClock_ConcurrentAdvance(t *testing.T) {
	clock := NewClock(time.Unix(0, 0))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), clock.Unix())
}
