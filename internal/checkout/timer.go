package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ExpiryTimer counts down to a session's expiry. Remaining time is always
// derived from the clock, so a delayed tick never drifts.
type ExpiryTimer struct {
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewExpiryTimer(interval time.Duration, now func() time.Time) *ExpiryTimer {
	if now == nil {
		now = time.Now
	}
	return &ExpiryTimer{interval: interval, now: now}
}

// Start ticks immediately and then once per interval. onExpired runs exactly
// once, after a tick that observed zero remaining, and the timer then stops.
// Starting again replaces the previous countdown.
func (t *ExpiryTimer) Start(expiresAt time.Time, onTick func(time.Duration), onExpired func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.run(ctx, expiresAt, onTick, onExpired)
}

func (t *ExpiryTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *ExpiryTimer) stopLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *ExpiryTimer) run(ctx context.Context, expiresAt time.Time, onTick func(time.Duration), onExpired func()) {
	ticker := newTicker(t.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		left := Remaining(expiresAt, t.now())
		onTick(left)
		if left == 0 {
			onExpired()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Remaining is max(0, expiresAt - now).
func Remaining(expiresAt, now time.Time) time.Duration {
	if d := expiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// FormatCountdown renders d as MM:SS, rounding partial seconds up.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func newTicker(d time.Duration) *time.Ticker {
	if d <= 0 {
		d = time.Second
	}
	return time.NewTicker(d)
}
