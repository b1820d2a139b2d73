package checkout

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemainingNeverNegative(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.Equal(t, 90*time.Second, Remaining(now.Add(90*time.Second), now))
	assert.Zero(t, Remaining(now, now))
	assert.Zero(t, Remaining(now.Add(-time.Hour), now))
}

func TestFormatCountdown(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00"},
		{-5 * time.Second, "00:00"},
		{500 * time.Millisecond, "00:01"},
		{59 * time.Second, "00:59"},
		{2 * time.Minute, "02:00"},
		{119*time.Second + 1, "02:00"},
		{15*time.Minute + 7*time.Second, "15:07"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatCountdown(tc.in), "FormatCountdown(%s)", tc.in)
	}
}

// steppingClock advances one second every time it is read, so each tick
// observes exactly one second less remaining.
type steppingClock struct {
	base  time.Time
	reads atomic.Int64
}

func (c *steppingClock) Now() time.Time {
	n := c.reads.Add(1) - 1
	return c.base.Add(time.Duration(n) * time.Second)
}

func TestExpiryTimerFiresExactlyOnce(t *testing.T) {
	clock := &steppingClock{base: time.Unix(1_700_000_000, 0)}
	timer := NewExpiryTimer(time.Millisecond, clock.Now)

	var (
		mu      sync.Mutex
		ticks   []time.Duration
		expired atomic.Int32
	)
	done := make(chan struct{})
	timer.Start(clock.base.Add(121*time.Second),
		func(left time.Duration) {
			mu.Lock()
			ticks = append(ticks, left)
			mu.Unlock()
		},
		func() {
			if expired.Add(1) == 1 {
				close(done)
			}
		},
	)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timer never expired")
	}
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(1), expired.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ticks, 122)
	assert.Equal(t, 121*time.Second, ticks[0])
	assert.Equal(t, time.Duration(0), ticks[len(ticks)-1])
	for i := 1; i < len(ticks); i++ {
		assert.Less(t, ticks[i], ticks[i-1])
	}
}

func TestExpiryTimerStop(t *testing.T) {
	timer := NewExpiryTimer(time.Millisecond, time.Now)

	var ticks, expired atomic.Int32
	timer.Start(time.Now().Add(time.Hour), func(time.Duration) { ticks.Add(1) }, func() { expired.Add(1) })
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	timer.Stop()
	time.Sleep(5 * time.Millisecond)
	after := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ticks.Load())
	assert.Zero(t, expired.Load())
}

func TestExpiryTimerAlreadyExpired(t *testing.T) {
	timer := NewExpiryTimer(time.Millisecond, time.Now)

	var ticks []time.Duration
	done := make(chan struct{})
	timer.Start(time.Now().Add(-time.Minute), func(left time.Duration) { ticks = append(ticks, left) }, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never expired")
	}
	assert.Equal(t, []time.Duration{0}, ticks)
}
