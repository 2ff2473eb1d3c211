package deadline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"advanced_rps/internal/game"
)

type recorder struct {
	mu     sync.Mutex
	events []Expired
	times  []time.Time
}

func (r *recorder) record(e Expired) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	r.times = append(r.times, time.Now())
}

func (r *recorder) snapshot() ([]Expired, []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Expired(nil), r.events...), append([]time.Time(nil), r.times...)
}

func TestTrackerFiresOnce(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec.record)

	tr.Arm(time.Now().Add(20*time.Millisecond), game.AwaitingOpponentStake)
	require.Eventually(t, func() bool {
		ev, _ := rec.snapshot()
		return len(ev) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	ev, _ := rec.snapshot()
	require.Len(t, ev, 1)
	assert.Equal(t, game.AwaitingOpponentStake, ev[0].Phase)

	_, ok := tr.Active()
	assert.False(t, ok)
}

func TestTrackerRearmSamePhase(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec.record)

	start := time.Now()
	tr.Arm(start.Add(40*time.Millisecond), game.AwaitingReveal)
	time.Sleep(10 * time.Millisecond)
	second := time.Now().Add(120 * time.Millisecond)
	tr.Arm(second, game.AwaitingReveal)

	require.Eventually(t, func() bool {
		ev, _ := rec.snapshot()
		return len(ev) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	ev, at := rec.snapshot()
	require.Len(t, ev, 1)
	assert.Equal(t, second, ev[0].ExpiresAt)
	assert.False(t, at[0].Before(second), "fired before the latest arm expired")
}

func TestTrackerPastInstantFiresImmediately(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec.record)

	tr.Arm(time.Now().Add(-time.Minute), game.AwaitingOpponentWeapon)
	require.Eventually(t, func() bool {
		ev, _ := rec.snapshot()
		return len(ev) == 1
	}, 200*time.Millisecond, 2*time.Millisecond)
	assert.Zero(t, tr.Remaining())
}

func TestTrackerCancel(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec.record)

	tr.Arm(time.Now().Add(20*time.Millisecond), game.AwaitingOpponentStake)
	tr.Cancel()
	time.Sleep(60 * time.Millisecond)

	ev, _ := rec.snapshot()
	assert.Empty(t, ev)
	assert.Zero(t, tr.Remaining())
	assert.Zero(t, tr.Elapsed())
}

func TestTrackerRemainingAndElapsed(t *testing.T) {
	tr := NewTracker(nil)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	tr.now = func() time.Time { return now }

	tr.Arm(base.Add(5*time.Minute), game.AwaitingOpponentStake)
	now = base.Add(2 * time.Minute)

	assert.Equal(t, 3*time.Minute, tr.Remaining())
	assert.Equal(t, 2*time.Minute, tr.Elapsed())

	d, ok := tr.Active()
	require.True(t, ok)
	assert.Equal(t, game.AwaitingOpponentStake, d.Phase)
	tr.Cancel()
}
