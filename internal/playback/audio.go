package playback

import (
	"time"

	"github.com/zsiec/reel/internal/clock"
	"github.com/zsiec/reel/internal/media"
)

// bufferLoading classifies how much unplayed audio the sink holds.
type bufferLoading int

const (
	loadingLow bufferLoading = iota
	loadingModerate
	loadingHigh
)

func (l bufferLoading) String() string {
	switch l {
	case loadingLow:
		return "low"
	case loadingModerate:
		return "moderate"
	}
	return "high"
}

const (
	// durationBias avoids waking up just before the sink frees space.
	durationBias = 2 * time.Millisecond
	// maxFixableInterval is the largest wait skipped when the sink starves.
	maxFixableInterval = 50 * time.Millisecond
)

// syncStamp is the sink state sampled before a write.
type syncStamp struct {
	state    AudioState
	buffered time.Duration
	loading  bufferLoading
	tp       time.Time
}

// AudioRenderer writes PCM to an AudioSink. It is the master clock: the
// moment a frame will actually be heard, given the audio the sink already
// holds, defines the timeline the other renderers follow.
type AudioRenderer struct {
	Renderer

	sink      AudioSink
	format    media.AudioFormat
	resampler *resampler
	pending   []byte

	firstFrame bool
	drained    bool
}

func newAudioRenderer(w *worker, e env, tc *clock.Controller, sink AudioSink) *AudioRenderer {
	a := &AudioRenderer{firstFrame: true}
	a.initRenderer(a, media.Audio, w, e, tc)
	a.lead = e.cfg.AudioLead
	a.setSink(sink)
	return a
}

// SetOutput swaps the sink and waits until the renderer uses it. Queued
// frames are kept; PCM already converted for the old sink is kept when the
// formats match.
func (a *AudioRenderer) SetOutput(sink AudioSink) {
	a.invokeSync(func() {
		a.setSink(sink)
		a.scheduleNextStep(true)
	})
}

func (a *AudioRenderer) setSink(sink AudioSink) {
	a.sink = sink
	a.resampler = nil
	a.firstFrame = true
	a.drained = false
	if sink == nil {
		a.pending = nil
		return
	}
	if f := sink.Format(); f != a.format {
		a.format = f
		a.pending = nil
	}
}

func (a *AudioRenderer) renderInternal(f media.Frame) renderResult {
	if a.sink == nil || !a.format.Valid() {
		return renderDone
	}
	stamp := a.stamp()

	if len(a.pending) == 0 {
		if !f.IsValid() {
			// Wait once for the sink to play out what it holds.
			if a.drained {
				return renderDone
			}
			a.drained = true
			d := a.bufferLoadingTime(stamp)
			a.log.Debug("draining", "buffered", d)
			return renderResult{done: d == 0, recheck: d}
		}
		raw := f.Raw()
		if raw == nil || raw.Audio == nil {
			return renderDone
		}
		if a.resampler == nil || a.resampler.in != raw.Audio.Format {
			a.resampler = newResampler(raw.Audio.Format, a.format, a.clock.PlaybackRate())
		}
		a.pending = a.resampler.resample(raw.Audio)
		a.updateSynchronization(stamp, f)
	}

	n := a.sink.Write(a.pending)
	a.pending = a.pending[n:]
	if len(a.pending) == 0 {
		a.pending = nil
		return renderDone
	}
	remaining := a.format.DurationOfBytes(len(a.pending))
	return renderResult{recheck: min(remaining+durationBias, a.bufferDuration()/2)}
}

func (a *AudioRenderer) stamp() syncStamp {
	s := syncStamp{state: a.sink.State(), tp: a.now()}
	s.buffered = a.format.DurationOfBytes(max(a.sink.BufferSize()-a.sink.BytesFree(), 0))
	switch {
	case s.state != AudioActive || s.buffered < a.cfg.AudioMinBuffer:
		s.loading = loadingLow
	case s.buffered > a.cfg.AudioMaxBuffer:
		s.loading = loadingHigh
	default:
		s.loading = loadingModerate
	}
	return s
}

// bufferLoadingTime is how long until the sink plays what it holds. A
// starved sink holds nothing worth waiting for.
func (a *AudioRenderer) bufferLoadingTime(s syncStamp) time.Duration {
	if s.state == AudioIdle || s.state == AudioStopped {
		return 0
	}
	return s.buffered
}

func (a *AudioRenderer) bufferDuration() time.Duration {
	return a.format.DurationOfBytes(a.sink.BufferSize())
}

// updateSynchronization compares when f will be heard with when the clock
// wants it presented, and moves the clock when they drift apart.
func (a *AudioRenderer) updateSynchronization(s syncStamp, f media.Frame) {
	heardAt := s.tp.Add(a.bufferLoadingTime(s))
	delay := a.frameDelay(f, heardAt)

	switch {
	case a.firstFrame:
	case s.state == AudioIdle:
		a.stats.audioUnderruns.Add(1)
	case delay > a.cfg.AudioSyncTolerance || delay < -a.cfg.AudioSyncTolerance:
	default:
		return
	}

	a.log.Debug("synchronizing",
		"delay", delay,
		"loading", s.loading,
		"state", s.state,
		"first", a.firstFrame,
	)
	a.firstFrame = false
	a.stats.audioResyncs.Add(1)
	a.changeRendererTime(delay)
}

func (a *AudioRenderer) adjustInterval(d time.Duration) time.Duration {
	if a.firstFrame || a.sink == nil || d > maxFixableInterval {
		return d
	}
	if a.stamp().loading == loadingLow {
		return 0
	}
	return d
}

func (a *AudioRenderer) onPauseChanged() { a.firstFrame = true }

func (a *AudioRenderer) onPlaybackRateChanged() { a.resampler = nil }

func (a *AudioRenderer) release() {
	a.sink = nil
	a.pending = nil
}
