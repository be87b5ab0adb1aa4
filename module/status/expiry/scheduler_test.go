package expiry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusbridge/tools/clock"
)

var t0 = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func nextNow(t *testing.T, s *Scheduler) (Expiration, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	exp, err := s.Next(ctx)
	if err != nil {
		return Expiration{}, false
	}
	return exp, true
}

func TestFireEnqueues(t *testing.T) {
	c := clock.Fake(t0)
	s := New(c)

	s.Arm("u", 1, t0.Add(30*time.Minute))
	exp, ok := s.Pending("u")
	require.True(t, ok)
	assert.Equal(t, int64(1), exp.Generation)

	c.Advance(29 * time.Minute)
	_, ok = nextNow(t, s)
	assert.False(t, ok, "nothing due yet")

	c.Advance(time.Minute)
	exp, ok = nextNow(t, s)
	require.True(t, ok)
	assert.Equal(t, Expiration{ChatUserID: "u", Generation: 1, FireAt: t0.Add(30 * time.Minute)}, exp)
	assert.Equal(t, 0, s.Len())
}

func TestRearmSupersedes(t *testing.T) {
	c := clock.Fake(t0)
	s := New(c)

	s.Arm("u", 1, t0.Add(10*time.Minute))
	s.Arm("u", 2, t0.Add(20*time.Minute))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, c.Pending(), "the first timer was stopped")

	c.Advance(15 * time.Minute)
	_, ok := nextNow(t, s)
	assert.False(t, ok)

	c.Advance(5 * time.Minute)
	exp, ok := nextNow(t, s)
	require.True(t, ok)
	assert.Equal(t, int64(2), exp.Generation)
}

func TestOutOfOrderArmKeepsNewest(t *testing.T) {
	c := clock.Fake(t0)
	s := New(c)

	s.Arm("u", 2, t0.Add(20*time.Minute))
	s.Arm("u", 1, t0.Add(10*time.Minute))
	exp, ok := s.Pending("u")
	require.True(t, ok)
	assert.Equal(t, int64(2), exp.Generation)

	s.CancelThrough("u", 1)
	_, ok = s.Pending("u")
	assert.True(t, ok, "a put at generation 1 must not cancel generation 2")

	s.CancelThrough("u", 2)
	_, ok = s.Pending("u")
	assert.False(t, ok)
}

func TestCancel(t *testing.T) {
	c := clock.Fake(t0)
	s := New(c)

	s.Arm("u", 1, t0.Add(time.Minute))
	s.Cancel("u")
	s.Cancel("nobody")
	_, ok := s.Pending("u")
	assert.False(t, ok)

	c.Advance(time.Hour)
	_, ok = nextNow(t, s)
	assert.False(t, ok)
}

func TestPastDeadlineFiresAtOnce(t *testing.T) {
	c := clock.Fake(t0)
	s := New(c)

	s.Arm("u", 3, t0.Add(-time.Second))
	exp, ok := nextNow(t, s)
	require.True(t, ok)
	assert.Equal(t, int64(3), exp.Generation)
	assert.Equal(t, 0, s.Len())
}

func TestUsersAreIndependent(t *testing.T) {
	c := clock.Fake(t0)
	s := New(c)
	s.Arm("a", 1, t0.Add(time.Minute))
	s.Arm("b", 4, t0.Add(2*time.Minute))
	s.Arm("c", 2, t0.Add(time.Hour))

	c.Advance(5 * time.Minute)
	first, ok := nextNow(t, s)
	require.True(t, ok)
	second, ok := nextNow(t, s)
	require.True(t, ok)
	assert.Equal(t, "a", first.ChatUserID)
	assert.Equal(t, "b", second.ChatUserID)

	_, ok = s.Pending("c")
	assert.True(t, ok)
}

func TestWorkersDrainQueue(t *testing.T) {
	c := clock.Fake(t0)
	s := New(c)
	const n = 50
	for i := 0; i < n; i++ {
		s.Arm(string(rune('A'+i)), int64(i+1), t0.Add(time.Second))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	got := map[string]bool{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				exp, err := s.Next(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				got[exp.ChatUserID] = true
				mu.Unlock()
			}
		}()
	}

	c.Advance(time.Second)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	wg.Wait()
}

func TestStop(t *testing.T) {
	c := clock.Fake(t0)
	s := New(c)
	s.Arm("u", 1, t0.Add(time.Minute))

	errc := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		errc <- err
	}()

	s.Stop()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Stop")
	}

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, c.Pending())
	s.Arm("u", 2, t0.Add(time.Minute))
	assert.Equal(t, 0, s.Len(), "arming after stop is ignored")
	s.Stop()
}
