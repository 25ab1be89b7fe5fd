// Package clock maps between wall-clock instants and media positions under
// a playback rate and pause state, with soft resynchronization that corrects
// drift over a bounded window instead of jumping.
package clock

import (
	"math"
	"time"
)

// DefaultFixingTime is the window over which SyncSoft converges.
const DefaultFixingTime = 4 * time.Second

// Controller is a media clock. Positions are microseconds.
//
// A Controller is not safe for concurrent use; each renderer owns its own
// copy and the engine keeps one more for the shared timeline.
type Controller struct {
	now func() time.Time

	paused    bool
	rate      float64
	position  int64
	timePoint time.Time
	soft      *softSync
}

// softSync describes a temporary internal rate that moves the position from
// srcPos at srcTime onto the reference line by dstTime.
type softSync struct {
	srcTime      time.Time
	srcPos       int64
	dstTime      time.Time
	dstPos       int64
	internalRate float64
}

// New returns a paused controller at position 0 with rate 1. A nil now
// uses time.Now.
func New(now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	c := &Controller{now: now, paused: true, rate: 1}
	c.Sync(0)
	return c
}

// Clone returns an independent copy sharing the time source.
func (c *Controller) Clone() *Controller {
	cp := *c
	if c.soft != nil {
		s := *c.soft
		cp.soft = &s
	}
	return &cp
}

// Now returns the current wall-clock time of the controller's time source.
func (c *Controller) Now() time.Time { return c.now() }

// Paused reports whether the clock is frozen.
func (c *Controller) Paused() bool { return c.paused }

// PlaybackRate returns the nominal rate.
func (c *Controller) PlaybackRate() float64 { return c.rate }

// Softening reports whether a soft synchronization is in progress.
func (c *Controller) Softening() bool { return c.soft != nil }

// SetPaused freezes or resumes the clock. Elapsed wall time is folded into
// the position before pausing; while paused, a pending soft sync window is
// shifted so it neither advances nor rewinds.
func (c *Controller) SetPaused(paused bool) {
	if c.paused == paused {
		return
	}
	c.scrollTimeTillNow()
	c.paused = paused
}

// Sync anchors position pos at the current instant.
func (c *Controller) Sync(pos int64) {
	c.SyncAt(c.now(), pos)
}

// SyncAt anchors position pos at tp and drops any soft sync.
func (c *Controller) SyncAt(tp time.Time, pos int64) {
	c.soft = nil
	c.position = pos
	c.timePoint = tp
}

// SyncSoft moves the reference line so that pos is presented at tp, but
// keeps the reported position continuous: from now on the position runs at
// an internal rate that reaches the new line exactly after fixing.
func (c *Controller) SyncSoft(tp time.Time, pos int64, fixing time.Duration) {
	srcTime := c.now()
	srcPos := c.PositionFromTime(srcTime, true)
	dstTime := srcTime.Add(fixing)

	c.position = pos
	c.timePoint = tp
	c.soft = c.makeSoftSync(srcTime, srcPos, dstTime)
}

// SetPlaybackRate changes the nominal rate from now on. rate must be > 0.
func (c *Controller) SetPlaybackRate(rate float64) {
	if rate == c.rate || rate <= 0 {
		return
	}

	now := c.now()
	cur := c.PositionFromTime(now, true)
	c.scrollTimeTillNow()
	c.rate = rate

	if c.soft != nil {
		c.soft = c.makeSoftSync(now, cur, c.soft.dstTime)
	}
}

// CurrentPosition returns the position at now+offset.
func (c *Controller) CurrentPosition(offset time.Duration) int64 {
	return c.PositionFromTime(c.now().Add(offset), false)
}

// PositionFromTime returns the position presented at tp. While paused the
// position is frozen at the anchor unless ignorePause is set.
func (c *Controller) PositionFromTime(tp time.Time, ignorePause bool) int64 {
	if c.paused && !ignorePause {
		tp = c.timePoint
	}

	if s := c.soft; s != nil && tp.Before(s.dstTime) {
		rate := c.rate
		if tp.After(s.srcTime) {
			rate = s.internalRate
		}
		return s.srcPos + toTrackTime(tp.Sub(s.srcTime), rate)
	}

	return c.positionFromTimeInternal(tp)
}

// TimeFromPosition returns the instant at which pos is presented. While
// paused the anchor position is used unless ignorePause is set.
func (c *Controller) TimeFromPosition(pos int64, ignorePause bool) time.Time {
	if c.paused && !ignorePause {
		pos = c.position
	}

	if s := c.soft; s != nil && pos < s.dstPos {
		rate := c.rate
		if pos > s.srcPos {
			rate = s.internalRate
		}
		return s.srcTime.Add(toClockTime(pos-s.srcPos, rate))
	}

	return c.timeFromPositionInternal(pos)
}

func (c *Controller) makeSoftSync(srcTime time.Time, srcPos int64, dstTime time.Time) *softSync {
	s := &softSync{
		srcTime: srcTime,
		srcPos:  srcPos,
		dstTime: dstTime,
		dstPos:  c.positionFromTimeInternal(dstTime),
	}
	span := dstTime.Sub(srcTime)
	if span <= 0 {
		return nil
	}
	s.internalRate = float64(s.dstPos-srcPos) * float64(time.Microsecond) / float64(span)
	if s.internalRate <= 0 {
		// The target lies behind the current position; there is no forward
		// rate that converges, so snap instead.
		return nil
	}
	return s
}

func (c *Controller) positionFromTimeInternal(tp time.Time) int64 {
	return c.position + toTrackTime(tp.Sub(c.timePoint), c.rate)
}

func (c *Controller) timeFromPositionInternal(pos int64) time.Time {
	return c.timePoint.Add(toClockTime(pos-c.position, c.rate))
}

func (c *Controller) scrollTimeTillNow() {
	now := c.now()
	if !c.paused {
		c.position = c.positionFromTimeInternal(now)
		if c.soft != nil && !c.soft.dstTime.After(now) {
			c.soft = nil
		}
	} else if c.soft != nil {
		shift := now.Sub(c.timePoint)
		c.soft.srcTime = c.soft.srcTime.Add(shift)
		c.soft.dstTime = c.soft.dstTime.Add(shift)
	}
	c.timePoint = now
}

// toTrackTime converts a wall duration into microseconds of media at rate.
func toTrackTime(d time.Duration, rate float64) int64 {
	if rate == 1 {
		return int64(d.Round(time.Microsecond) / time.Microsecond)
	}
	return int64(math.Round(float64(d) * rate / float64(time.Microsecond)))
}

// toClockTime converts microseconds of media at rate into a wall duration.
func toClockTime(us int64, rate float64) time.Duration {
	if rate == 1 {
		return time.Duration(us) * time.Microsecond
	}
	return time.Duration(math.Round(float64(us) * float64(time.Microsecond) / rate))
}
