package playback

import (
	"sync/atomic"
	"time"

	"github.com/zsiec/reel/internal/clock"
	"github.com/zsiec/reel/internal/media"
)

// renderResult is the outcome of handing a frame to a sink: done, or retry
// after recheck.
type renderResult struct {
	done    bool
	recheck time.Duration
}

var renderDone = renderResult{done: true}

// rendererVariant is implemented by the audio, video and subtitle
// renderers.
type rendererVariant interface {
	renderInternal(f media.Frame) renderResult
	// adjustInterval may shorten the wait before the next step.
	adjustInterval(d time.Duration) time.Duration
	onPauseChanged()
	onPlaybackRateChanged()
	release()
}

// loopEvent reports that rendering entered a new loop pass.
type loopEvent struct {
	id     uint64
	offset int64
	index  int
}

// Renderer presents the frames of one track in order, each at the wall
// clock time its clock assigns to it. The highest presented position is the
// floor below which newly decoded frames are stale.
type Renderer struct {
	object
	env

	trackType media.TrackType
	variant   rendererVariant
	clock     *clock.Controller
	// lead renders frames this much before their presentation time.
	lead time.Duration

	frames       []media.Frame
	lastFrameEnd int64
	loopIndex    int
	explicitNext time.Time

	lastPosition atomic.Int64
	seekPos      atomic.Int64
	stepForced   atomic.Bool

	frameProcessedSig signal[media.Frame]
	synchronizedSig   signal[syncPoint]
	loopChangedSig    signal[loopEvent]
}

func (r *Renderer) initRenderer(v rendererVariant, t media.TrackType, w *worker, e env, tc *clock.Controller) {
	r.env = e
	r.trackType = t
	r.variant = v
	r.clock = tc.Clone()
	r.lastFrameEnd = r.clock.CurrentPosition(0)
	r.lastPosition.Store(r.lastFrameEnd)
	r.seekPos.Store(r.clock.CurrentPosition(-time.Microsecond))
	r.init(r, rendererRole(t), w, e.baseLog)
}

// TrackType returns the type of the rendered track.
func (r *Renderer) TrackType() media.TrackType { return r.trackType }

// LastPosition is the highest presented position on the looped timeline.
func (r *Renderer) LastPosition() int64 { return r.lastPosition.Load() }

// SeekPosition is the position below which incoming frames are stale.
func (r *Renderer) SeekPosition() int64 { return r.seekPos.Load() }

// Render queues f; the invalid frame marks the end of the track.
func (r *Renderer) Render(f media.Frame) {
	if f.IsValid() && f.AbsoluteEnd() < r.SeekPosition() {
		r.log.Debug("dropping outdated frame", "pts", f.AbsolutePTS())
		r.stats.framesDropped.Add(1)
		r.frameProcessedSig.emit(f)
		return
	}
	r.frames = append(r.frames, f)
	if len(r.frames) == 1 {
		r.scheduleNextStep(true)
	}
}

// OnFinalFrameReceived queues the end of the track.
func (r *Renderer) OnFinalFrameReceived() { r.Render(media.Frame{}) }

// SyncSoft converges the renderer's clock onto pos at tp.
func (r *Renderer) SyncSoft(tp time.Time, pos int64) {
	r.invoke(func() {
		r.clock.SyncSoft(tp, pos, r.cfg.SoftSyncFixingTime)
		r.scheduleNextStep(true)
	})
}

// SetPlaybackRate changes the rate of the renderer's clock.
func (r *Renderer) SetPlaybackRate(rate float64) {
	r.invoke(func() {
		r.clock.SetPlaybackRate(rate)
		r.variant.onPlaybackRateChanged()
		r.scheduleNextStep(true)
	})
}

// DoForceStep renders the next frame even while paused.
func (r *Renderer) DoForceStep() {
	if !r.stepForced.CompareAndSwap(false, true) {
		return
	}
	r.invoke(func() {
		if r.isAtEnd() {
			r.setForceStepDone()
			return
		}
		r.explicitNext = r.now()
		r.scheduleNextStep(true)
	})
}

// setInitialPosition anchors the clock of a stream with no defined start.
func (r *Renderer) setInitialPosition(sp syncPoint) {
	r.loopIndex = 0
	r.lastPosition.Store(sp.pos)
	r.seekPos.Store(sp.pos)
	r.clock.SyncAt(sp.tp, sp.pos)
}

func (r *Renderer) onPauseChanged() {
	r.applyPause()
	r.baseOnPauseChanged()
}

// applyPause brings the clock in line with the pause flag. The flag flips
// on the caller's goroutine, so steps queued before onPauseChanged can
// see it first.
func (r *Renderer) applyPause() {
	paused := r.isPaused()
	if r.clock.Paused() == paused {
		return
	}
	r.clock.SetPaused(paused)
	r.variant.onPauseChanged()
}

func (r *Renderer) onKill() {
	r.frames = nil
	r.variant.release()
}

func (r *Renderer) canDoNextStep() bool {
	return len(r.frames) > 0 && (r.stepForced.Load() || r.baseCanDoNextStep())
}

func (r *Renderer) timerInterval() time.Duration {
	r.applyPause()
	if len(r.frames) == 0 {
		return 0
	}
	var next time.Time
	switch f := r.frames[0]; {
	case !r.explicitNext.IsZero():
		next = r.explicitNext
	case f.IsValid():
		next = r.clock.TimeFromPosition(f.AbsolutePTS(), false).Add(-r.lead)
	case r.lastFrameEnd > 0:
		next = r.clock.TimeFromPosition(r.lastFrameEnd, false)
	default:
		return 0
	}
	return r.variant.adjustInterval(max(next.Sub(r.now()), 0))
}

func (r *Renderer) setForceStepDone() bool {
	if !r.stepForced.CompareAndSwap(true, false) {
		return false
	}
	r.explicitNext = time.Time{}
	return true
}

func (r *Renderer) doNextStep() {
	r.applyPause()
	f := r.frames[0]
	r.setForceStepDone()

	res := r.variant.renderInternal(f)
	if res.done {
		r.explicitNext = time.Time{}
		r.frames[0] = media.Frame{}
		r.frames = r.frames[1:]

		if f.IsValid() {
			r.lastPosition.Store(max(f.AbsolutePTS(), r.LastPosition()))
			r.lastFrameEnd = f.AbsoluteEnd()
			r.seekPos.Store(r.lastFrameEnd)
			r.stats.framesRendered.Add(1)

			if off := f.LoopOffset(); r.loopIndex < off.Index {
				r.loopIndex = off.Index
				r.loopChangedSig.emit(loopEvent{id: r.id, offset: off.Pos, index: off.Index})
			}
			r.frameProcessedSig.emit(f)
		} else {
			r.lastPosition.Store(max(r.lastFrameEnd, r.LastPosition()))
		}
	} else {
		r.explicitNext = r.now().Add(res.recheck)
	}

	r.setAtEnd(res.done && !f.IsValid())
	r.scheduleNextStep(false)
}

// frameDelay is how late tp is for presenting f.
func (r *Renderer) frameDelay(f media.Frame, tp time.Time) time.Duration {
	return tp.Sub(r.clock.TimeFromPosition(f.AbsolutePTS(), false))
}

// changeRendererTime shifts the clock so that the current position is
// presented offset later, and tells the other renderers.
func (r *Renderer) changeRendererTime(offset time.Duration) {
	now := r.now()
	pos := r.clock.PositionFromTime(now, false)
	r.clock.SyncAt(now.Add(offset), pos)
	r.synchronizedSig.emit(syncPoint{id: r.id, tp: now.Add(offset), pos: pos})
}
