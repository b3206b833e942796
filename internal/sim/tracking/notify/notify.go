package notify

import (
	"sync"
	"sync/atomic"
	"time"
)

// Renotifier rate-limits a user-facing notification. After a notification
// is taken, the flag re-arms on a wall-clock timer. It never touches engine
// state.
type Renotifier struct {
	delay time.Duration
	ready atomic.Bool

	mu    sync.Mutex
	timer *time.Timer
}

func NewRenotifier(delay time.Duration) *Renotifier {
	r := &Renotifier{delay: delay}
	r.ready.Store(true)
	return r
}

// TryNotify reports whether a notification may be shown now.
func (r *Renotifier) TryNotify() bool {
	if !r.ready.CompareAndSwap(true, false) {
		return false
	}
	if r.delay <= 0 {
		r.ready.Store(true)
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.delay, func() { r.ready.Store(true) })
	return true
}

func (r *Renotifier) Ready() bool { return r.ready.Load() }

func (r *Renotifier) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
