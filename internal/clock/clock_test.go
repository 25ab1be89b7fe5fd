package clock

import (
	"testing"
	"time"
)

type manualClock struct {
	t time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *manualClock) Now() time.Time          { return m.t }
func (m *manualClock) Advance(d time.Duration) { m.t = m.t.Add(d) }

func TestNewIsPausedAtZero(t *testing.T) {
	t.Parallel()

	mc := newManualClock()
	c := New(mc.Now)
	if !c.Paused() {
		t.Error("new controller should be paused")
	}
	mc.Advance(time.Second)
	if got := c.CurrentPosition(0); got != 0 {
		t.Errorf("CurrentPosition while paused: got %d, want 0", got)
	}
}

func TestRunningPositionAdvances(t *testing.T) {
	t.Parallel()

	mc := newManualClock()
	c := New(mc.Now)
	c.Sync(1_000_000)
	c.SetPaused(false)

	mc.Advance(500 * time.Millisecond)
	if got := c.CurrentPosition(0); got != 1_500_000 {
		t.Errorf("position: got %d, want 1500000", got)
	}

	c.SetPaused(true)
	mc.Advance(time.Second)
	if got := c.CurrentPosition(0); got != 1_500_000 {
		t.Errorf("position after pause: got %d, want 1500000", got)
	}

	c.SetPaused(false)
	mc.Advance(100 * time.Millisecond)
	if got := c.CurrentPosition(0); got != 1_600_000 {
		t.Errorf("position after resume: got %d, want 1600000", got)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	for _, rate := range []float64{1, 2, 0.5, 3, 1.5, 0.75, 1.1, 0.3, 7} {
		mc := newManualClock()
		c := New(mc.Now)
		c.SetPaused(false)
		c.SetPlaybackRate(rate)
		c.Sync(3_000_000)
		mc.Advance(250 * time.Millisecond)

		for _, p := range []int64{0, 1, 40_000, 3_000_000, 3_000_001, 99_999_998, -500_000} {
			tp := c.TimeFromPosition(p, false)
			if got := c.PositionFromTime(tp, false); got != p {
				t.Errorf("rate %v: round trip of %d gave %d", rate, p, got)
			}
		}
	}
}

func TestPlaybackRateAppliesGoingForward(t *testing.T) {
	t.Parallel()

	mc := newManualClock()
	c := New(mc.Now)
	c.SetPaused(false)
	mc.Advance(time.Second)
	c.SetPlaybackRate(2)
	if got := c.CurrentPosition(0); got != 1_000_000 {
		t.Fatalf("position at rate change: got %d, want 1000000", got)
	}
	mc.Advance(time.Second)
	if got := c.CurrentPosition(0); got != 3_000_000 {
		t.Errorf("position after 1s at 2x: got %d, want 3000000", got)
	}

	c.SetPlaybackRate(0)
	if c.PlaybackRate() != 2 {
		t.Errorf("non-positive rate should be ignored, got %v", c.PlaybackRate())
	}
}

func TestSyncSoftConverges(t *testing.T) {
	t.Parallel()

	mc := newManualClock()
	c := New(mc.Now)
	c.SetPaused(false)
	c.Sync(0)
	mc.Advance(time.Second)

	before := c.CurrentPosition(0)
	tp := mc.Now()
	const pos = int64(1_200_000) // 200ms ahead of the current line
	c.SyncSoft(tp, pos, DefaultFixingTime)

	if got := c.CurrentPosition(0); got != before {
		t.Errorf("soft sync jumped: got %d, want %d", got, before)
	}
	if !c.Softening() {
		t.Fatal("expected soft sync in progress")
	}

	dst := tp.Add(DefaultFixingTime)
	want := pos + DefaultFixingTime.Microseconds()
	if got := c.PositionFromTime(dst, false); got != want {
		t.Errorf("position at fixing deadline: got %d, want %d", got, want)
	}

	mid := c.PositionFromTime(tp.Add(DefaultFixingTime/2), false)
	if mid <= before+DefaultFixingTime.Microseconds()/2 || mid >= want {
		t.Errorf("midpoint %d should be between nominal line and target", mid)
	}

	mc.Advance(DefaultFixingTime + time.Millisecond)
	c.SetPaused(true)
	if c.Softening() {
		t.Error("soft sync should be dropped once the deadline passed")
	}
}

func TestSyncDropsSoftSync(t *testing.T) {
	t.Parallel()

	mc := newManualClock()
	c := New(mc.Now)
	c.SetPaused(false)
	c.SyncSoft(mc.Now(), 100_000, time.Second)
	c.Sync(42)
	if c.Softening() {
		t.Error("Sync should drop the soft sync")
	}
	if got := c.CurrentPosition(0); got != 42 {
		t.Errorf("position: got %d, want 42", got)
	}
}

func TestPauseShiftsSoftSyncWindow(t *testing.T) {
	t.Parallel()

	mc := newManualClock()
	c := New(mc.Now)
	c.SetPaused(false)
	start := mc.Now()
	c.SyncSoft(start, 500_000, 2*time.Second)

	mc.Advance(time.Second)
	atPause := c.CurrentPosition(0)
	c.SetPaused(true)

	mc.Advance(10 * time.Second)
	if got := c.CurrentPosition(0); got != atPause {
		t.Errorf("paused position: got %d, want %d", got, atPause)
	}

	c.SetPaused(false)
	if !c.Softening() {
		t.Fatal("pause must not consume the soft sync window")
	}
	if got := c.CurrentPosition(0); got != atPause {
		t.Errorf("resumed position: got %d, want %d", got, atPause)
	}

	mc.Advance(time.Second)
	want := int64(500_000) + 2_000_000
	if got := c.CurrentPosition(0); got != want {
		t.Errorf("position at shifted deadline: got %d, want %d", got, want)
	}
}

func TestSoftSyncSurvivesRateChange(t *testing.T) {
	t.Parallel()

	mc := newManualClock()
	c := New(mc.Now)
	c.SetPaused(false)
	c.SyncSoft(mc.Now(), 300_000, 4*time.Second)
	mc.Advance(time.Second)

	before := c.CurrentPosition(0)
	c.SetPlaybackRate(2)
	if got := c.CurrentPosition(0); got != before {
		t.Errorf("rate change jumped: got %d, want %d", got, before)
	}
	if !c.Softening() {
		t.Fatal("soft sync should be re-derived, not dropped")
	}

	mc.Advance(3 * time.Second)
	// The reference line at 2x from the rate change onwards.
	want := int64(300_000) + 1_000_000 + 6_000_000
	if got := c.CurrentPosition(0); got != want {
		t.Errorf("position at deadline: got %d, want %d", got, want)
	}
}

func TestTimeFromPositionWhilePaused(t *testing.T) {
	t.Parallel()

	mc := newManualClock()
	c := New(mc.Now)
	c.Sync(2_000_000)
	anchor := mc.Now()

	if got := c.TimeFromPosition(9_000_000, false); !got.Equal(anchor) {
		t.Errorf("paused TimeFromPosition: got %v, want anchor %v", got, anchor)
	}
	want := anchor.Add(time.Second)
	if got := c.TimeFromPosition(3_000_000, true); !got.Equal(want) {
		t.Errorf("TimeFromPosition ignoring pause: got %v, want %v", got, want)
	}
}

func TestClone(t *testing.T) {
	t.Parallel()

	mc := newManualClock()
	c := New(mc.Now)
	c.SetPaused(false)
	c.SyncSoft(mc.Now(), 1_000, time.Second)

	cp := c.Clone()
	cp.Sync(77)
	if !c.Softening() {
		t.Error("clone must not share soft sync state")
	}
	if got := c.CurrentPosition(0); got == 77 {
		t.Error("clone must not share the anchor")
	}
}
