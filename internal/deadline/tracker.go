package deadline

import (
	"sync"
	"time"

	"advanced_rps/internal/game"
)

// Expired is delivered once per armed deadline.
type Expired struct {
	Phase     game.Phase
	ExpiresAt time.Time
}

// Deadline is the currently armed expiry.
type Deadline struct {
	Phase     game.Phase
	ExpiresAt time.Time
	ArmedAt   time.Time
}

// Tracker holds at most one deadline. Arming replaces the previous one, and
// a replaced or cancelled deadline never fires.
type Tracker struct {
	mu       sync.Mutex
	onExpire func(Expired)
	timer    *time.Timer
	gen      uint64
	current  *Deadline
	now      func() time.Time
}

func NewTracker(onExpire func(Expired)) *Tracker {
	return &Tracker{
		onExpire: onExpire,
		now:      time.Now,
	}
}

// Arm schedules expiry at expiresAt. An instant in the past fires right away.
func (t *Tracker) Arm(expiresAt time.Time, phase game.Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	gen := t.gen
	now := t.now()
	t.current = &Deadline{Phase: phase, ExpiresAt: expiresAt, ArmedAt: now}

	wait := expiresAt.Sub(now)
	if wait < 0 {
		wait = 0
	}
	t.timer = time.AfterFunc(wait, func() { t.fire(gen) })
}

func (t *Tracker) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.current == nil {
		t.mu.Unlock()
		return
	}
	ev := Expired{Phase: t.current.Phase, ExpiresAt: t.current.ExpiresAt}
	t.current = nil
	t.timer = nil
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(ev)
	}
}

// Cancel clears the active deadline, if any.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.gen++
	t.current = nil
}

func (t *Tracker) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Active returns a copy of the armed deadline.
func (t *Tracker) Active() (Deadline, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return Deadline{}, false
	}
	return *t.current, true
}

// Remaining is zero once the deadline has passed or when nothing is armed.
func (t *Tracker) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return 0
	}
	if d := t.current.ExpiresAt.Sub(t.now()); d > 0 {
		return d
	}
	return 0
}

// Elapsed is the time since the active deadline was armed.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return 0
	}
	return t.now().Sub(t.current.ArmedAt)
}
