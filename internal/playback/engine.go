package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/reel/internal/clock"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/source"
)

// State is the playback state of an Engine.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return "unknown"
}

// Notifications are the engine's callbacks. They run one at a time on a
// dedicated goroutine and may call back into the engine.
type Notifications struct {
	OnStateChanged func(State)
	OnEndOfStream  func()
	OnError        func(*Error)
	// OnLoopChanged reports the index of the pass now being presented.
	OnLoopChanged func(index int)
	// OnBuffered fires once per demuxer when read-ahead first fills up or
	// the input ends.
	OnBuffered func()
}

// Options configures New.
type Options struct {
	Config        Config
	Notifications Notifications
	// Source is used by SetMedia to open inputs.
	Source source.Options
	Logger *slog.Logger
}

// Engine plays one media at a time. It owns the demuxer, a decoder per
// active track and a renderer per track with a sink, recreating them on
// every seek, track switch or stop. All methods are safe for concurrent
// use.
type Engine struct {
	log     *slog.Logger
	env     env
	notify  Notifications
	srcOpts source.Options

	w        *worker
	notifier *worker
	workers  *workers
	closed   atomic.Bool
	counters counters

	// Fields below are owned by w.
	media     *Media
	demuxer   *Demuxer
	decoders  [media.NumTrackTypes]*StreamDecoder
	renderers [media.NumTrackTypes]*Renderer
	codecs    [media.NumTrackTypes]*media.Codec

	clock        *clock.Controller
	state        State
	loops        int
	loopOffset   media.LoopOffset
	videoSink    VideoSink
	audioSink    AudioSink
	workersDirty bool
}

// New returns a stopped engine with no media.
func New(opts Options) *Engine {
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	e := &Engine{
		log:      base.With("component", "engine"),
		notify:   opts.Notifications,
		srcOpts:  opts.Source,
		w:        newWorker("engine"),
		notifier: newWorker("notify"),
		workers:  newWorkers(base),
		clock:    clock.New(nil),
		loops:    1,
	}
	e.env = env{
		cfg:     opts.Config.withDefaults(),
		now:     e.clock.Now,
		stats:   &e.counters,
		baseLog: base,
	}
	if e.srcOpts.Logger == nil {
		e.srcOpts.Logger = base
	}
	return e
}

func (e *Engine) invoke(fn func()) { e.w.post(fn) }

func (e *Engine) dead() bool { return e.closed.Load() }

// do runs fn on the engine worker and reports whether it ran.
func (e *Engine) do(fn func()) bool {
	if e.closed.Load() {
		return false
	}
	return e.w.call(fn)
}

// SetMedia tears down the current media and opens url (or reads r, with url
// naming it). Open failures are also reported through OnError.
func (e *Engine) SetMedia(ctx context.Context, url string, r io.Reader) error {
	if !e.do(e.unloadMedia) {
		return ErrClosed
	}
	c, err := e.Open(ctx, url, r)
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			e.notifyError(perr)
		}
		return err
	}
	return e.SetContainer(c)
}

// Open opens url (or reads r, with url naming it) with the engine's source
// options without making it current. Failures other than a done context
// are *Error.
func (e *Engine) Open(ctx context.Context, url string, r io.Reader) (media.Container, error) {
	c, err := source.Open(ctx, url, r, e.srcOpts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		perr := openError(err)
		e.log.Error("open failed", "url", url, "code", perr.Code, "error", err)
		return nil, perr
	}
	return c, nil
}

// Unload stops playback and closes the current media.
func (e *Engine) Unload() { e.do(e.unloadMedia) }

// SetContainer makes c the current media. The engine closes c when it is
// replaced or the engine is closed.
func (e *Engine) SetContainer(c media.Container) error {
	if c == nil {
		return ErrNoMedia
	}
	if !e.do(func() { e.loadMedia(c) }) {
		c.Close()
		return ErrClosed
	}
	return nil
}

func (e *Engine) loadMedia(c media.Container) {
	e.unloadMedia()
	e.media = NewMedia(c)
	e.updateVideoSinkSize(nil)
	e.log.Info("media loaded",
		"duration_us", e.media.Duration(),
		"seekable", e.media.Seekable(),
		"video_tracks", len(e.media.Tracks(media.Video)),
		"audio_tracks", len(e.media.Tracks(media.Audio)),
		"subtitle_tracks", len(e.media.Tracks(media.Subtitle)))
}

// unloadMedia stops playback and closes the current media once every
// object has released it.
func (e *Engine) unloadMedia() {
	if e.media == nil {
		return
	}
	prev := e.state
	e.state = Stopped
	e.finalizeOutputs()
	e.killObjects()
	e.workers.retain(nil)
	e.workersDirty = false
	for t, c := range e.codecs {
		if c != nil {
			c.Release()
			e.codecs[t] = nil
		}
	}
	if err := e.media.Container().Close(); err != nil {
		e.log.Warn("closing media", "error", err)
	}
	e.media = nil
	e.loopOffset = media.LoopOffset{}
	e.clock.SetPaused(true)
	e.clock.Sync(0)
	if prev != Stopped {
		e.notifyState(Stopped)
	}
}

// Play starts or resumes playback.
func (e *Engine) Play() { e.SetState(Playing) }

// Pause holds the current picture. From Stopped it prepares playback at the
// start and shows the first frame.
func (e *Engine) Pause() { e.SetState(Paused) }

// Stop ends playback and rewinds to the start.
func (e *Engine) Stop() { e.SetState(Stopped) }

// SetState changes the playback state. It does nothing without media.
func (e *Engine) SetState(s State) { e.do(func() { e.setState(s) }) }

func (e *Engine) setState(s State) {
	if e.media == nil || s == e.state {
		return
	}
	prev := e.state
	e.state = s
	e.log.Info("state changed", "from", prev, "to", s)

	if s == Stopped {
		e.finalizeOutputs()
		e.finalizeTime(0)
	}
	if prev == Stopped || s == Stopped {
		e.recreateObjects()
	}
	e.triggerStepIfNeeded()
	e.updateObjectsPausedState()
	e.notifyState(s)
}

// Seek moves playback to pos microseconds, clamped to the media duration.
// Non-seekable media ignore it.
func (e *Engine) Seek(pos int64) {
	e.do(func() {
		if e.media == nil || !e.media.Seekable() {
			return
		}
		pos = e.boundPosition(pos)
		e.log.Debug("seek", "position_us", pos)
		e.clock.SetPaused(true)
		e.clock.Sync(e.loopOffset.Pos + pos)
		e.forceUpdate()
	})
}

// SetPlaybackRate scales the speed of playback. Rates <= 0 are ignored.
func (e *Engine) SetPlaybackRate(rate float64) {
	e.do(func() {
		if rate <= 0 {
			e.log.Warn("ignoring playback rate", "rate", rate)
			return
		}
		if rate == e.clock.PlaybackRate() {
			return
		}
		e.clock.SetPlaybackRate(rate)
		for _, r := range e.renderers {
			if r != nil {
				r.SetPlaybackRate(rate)
			}
		}
	})
}

// SetLoops sets the number of passes over the media, -1 for infinite.
// It is refused for non-seekable media.
func (e *Engine) SetLoops(loops int) {
	e.do(func() {
		if loops == 0 || loops < -1 {
			e.log.Warn("ignoring loop count", "loops", loops)
			return
		}
		if e.media == nil || !e.media.Seekable() {
			e.log.Warn("cannot set loops for non-seekable source")
			return
		}
		if loops == e.loops {
			return
		}
		e.loops = loops
		if e.demuxer != nil {
			e.demuxer.SetLoops(loops)
		}
	})
}

// SetActiveTrack selects track n of type t, -1 to disable it. Playback
// continues from the current position.
func (e *Engine) SetActiveTrack(t media.TrackType, n int) {
	e.do(func() {
		if e.media == nil || !e.media.SetActiveTrack(t, n) {
			return
		}
		e.log.Info("active track changed", "type", t, "track", n)
		if c := e.codecs[t]; c != nil {
			c.Release()
			e.codecs[t] = nil
		}
		if r := e.renderers[t]; r != nil {
			e.resetObject(&r.object)
			e.renderers[t] = nil
		}
		for i, d := range e.decoders {
			if d != nil {
				e.resetObject(&d.object)
				e.decoders[i] = nil
			}
		}
		if e.demuxer != nil {
			e.resetObject(&e.demuxer.object)
			e.demuxer = nil
		}
		e.updateVideoSinkSize(nil)
		e.createObjectsIfNeeded()
		e.updateObjectsPausedState()
	})
}

// SetVideoSink routes pictures and subtitles to s, nil for none.
func (e *Engine) SetVideoSink(s VideoSink) {
	e.do(func() {
		prev := e.videoSink
		if prev == s {
			return
		}
		e.videoSink = s
		e.updateVideoSinkSize(prev)
		e.updateActiveVideoOutput(s, false)
		if s == nil || prev == nil {
			e.forceUpdate()
		}
	})
}

// SetAudioSink routes audio to s, nil for none.
func (e *Engine) SetAudioSink(s AudioSink) {
	e.do(func() {
		prev := e.audioSink
		if prev == s {
			return
		}
		e.audioSink = s
		if a := e.audioRenderer(); a != nil {
			a.SetOutput(s)
		}
		if s == nil || prev == nil {
			e.forceUpdate()
		}
	})
}

// Position is the current position in microseconds within the current
// pass.
func (e *Engine) Position() int64 {
	var pos int64
	e.do(func() { pos = e.currentPosition(false) })
	return pos
}

// Duration is the media duration in microseconds, 0 when unknown.
func (e *Engine) Duration() int64 {
	var d int64
	e.do(func() {
		if e.media != nil {
			d = e.media.Duration()
		}
	})
	return d
}

// IsSeekable reports whether the media supports Seek and SetLoops.
func (e *Engine) IsSeekable() bool {
	var ok bool
	e.do(func() { ok = e.media != nil && e.media.Seekable() })
	return ok
}

func (e *Engine) State() State {
	s := Stopped
	e.do(func() { s = e.state })
	return s
}

func (e *Engine) PlaybackRate() float64 {
	rate := 1.0
	e.do(func() { rate = e.clock.PlaybackRate() })
	return rate
}

func (e *Engine) Loops() int {
	loops := 1
	e.do(func() { loops = e.loops })
	return loops
}

// Tracks lists the tracks of type t.
func (e *Engine) Tracks(t media.TrackType) []TrackInfo {
	var tracks []TrackInfo
	e.do(func() {
		if e.media != nil {
			tracks = e.media.Tracks(t)
		}
	})
	return tracks
}

// ActiveTrack is the selected track of type t, -1 for none.
func (e *Engine) ActiveTrack(t media.TrackType) int {
	n := -1
	e.do(func() {
		if e.media != nil {
			n = e.media.ActiveTrack(t)
		}
	})
	return n
}

func (e *Engine) Metadata() media.Metadata {
	var m media.Metadata
	e.do(func() {
		if e.media != nil {
			m = e.media.Metadata()
		}
	})
	return m
}

func (e *Engine) Stats() Stats {
	s := e.counters.snapshot()
	e.do(func() {
		s.State = e.state.String()
		s.Position = e.currentPosition(false)
		if e.media != nil {
			s.Duration = e.media.Duration()
		}
		s.Loop = e.loopOffset.Index
	})
	s.Workers = len(e.workers.roles())
	return s
}

// Close stops playback, closes the media and stops every goroutine except
// a notification callback that may be running.
func (e *Engine) Close() error {
	if !e.do(func() {
		e.unloadMedia()
		e.closed.Store(true)
	}) {
		return nil
	}
	e.workers.retain(nil)
	e.w.stop()
	e.w.wait()
	e.notifier.stop()
	return nil
}

func (e *Engine) forceUpdate() {
	e.recreateObjects()
	e.triggerStepIfNeeded()
	e.updateObjectsPausedState()
}

func (e *Engine) recreateObjects() {
	e.clock.SetPaused(true)
	e.killObjects()
	e.createObjectsIfNeeded()
}

func (e *Engine) killObjects() {
	for t, r := range e.renderers {
		if r != nil {
			e.resetObject(&r.object)
			e.renderers[t] = nil
		}
	}
	for t, d := range e.decoders {
		if d != nil {
			e.resetObject(&d.object)
			e.decoders[t] = nil
		}
	}
	if e.demuxer != nil {
		e.resetObject(&e.demuxer.object)
		e.demuxer = nil
	}
}

func (e *Engine) createObjectsIfNeeded() {
	if e.state == Stopped || e.media == nil {
		return
	}
	for _, t := range media.TrackTypes {
		if e.decoders[t] == nil {
			e.createStreamAndRenderer(t)
		}
	}
	if e.demuxer == nil {
		e.createDemuxer()
	}
}

func (e *Engine) createStreamAndRenderer(t media.TrackType) {
	codec := e.codecForTrack(t)
	if codec == nil {
		return
	}
	r := e.renderers[t]
	if r == nil {
		if r = e.createRenderer(t); r == nil {
			return
		}
		e.registerObject(&r.object)
		r.synchronizedSig.connect(e, e.onRendererSynchronized)
		r.loopChangedSig.connect(e, e.onRendererLoopChanged)
		r.atEndSig.connect(e, func(struct{}) { e.onRendererFinished() })
		e.renderers[t] = r
	}

	d := newStreamDecoder(e.workers.get(decoderRole(t)), e.env, codec.Retain(), r.SeekPosition())
	e.registerObject(&d.object)
	d.frameSig.connect(r, r.Render)
	d.atEndSig.connect(r, func(struct{}) { r.OnFinalFrameReceived() })
	r.frameProcessedSig.connect(d, d.OnFrameProcessed)
	e.decoders[t] = d
}

// createRenderer returns nil when the track type has no sink.
func (e *Engine) createRenderer(t media.TrackType) *Renderer {
	w := e.workers.get(rendererRole(t))
	switch t {
	case media.Video:
		if e.videoSink != nil {
			return &newVideoRenderer(w, e.env, e.clock, e.videoSink, e.media.Transformation()).Renderer
		}
	case media.Audio:
		if e.audioSink != nil {
			return &newAudioRenderer(w, e.env, e.clock, e.audioSink).Renderer
		}
	case media.Subtitle:
		if e.videoSink != nil {
			return &newSubtitleRenderer(w, e.env, e.clock, e.videoSink).Renderer
		}
	}
	return nil
}

// codecForTrack opens, or returns the cached, decoder of the active track
// of type t.
func (e *Engine) codecForTrack(t media.TrackType) *media.Codec {
	if e.codecs[t] != nil {
		return e.codecs[t]
	}
	idx := e.media.CurrentStreamIndex(t)
	if idx < 0 {
		return nil
	}
	c, err := media.NewCodec(e.media.Container(), idx)
	if err != nil {
		e.log.Warn("cannot open decoder", "type", t, "stream", idx, "error", err)
		e.notifyError(&Error{Code: FormatError, Message: "cannot open " + t.String() + " decoder", Err: err})
		return nil
	}
	e.codecs[t] = c
	return c
}

func (e *Engine) createDemuxer() {
	indexes := [media.NumTrackTypes]int{-1, -1, -1}
	found := false
	for t, d := range e.decoders {
		if d != nil {
			indexes[t] = e.media.CurrentStreamIndex(media.TrackType(t))
			found = true
		}
	}
	if !found {
		return
	}

	pos := media.PositionWithOffset{Pos: e.currentPosition(false), Offset: e.loopOffset}
	dm := newDemuxer(e.workers.get(demuxerRole), e.env, e.media.Container(), pos, indexes, e.loops)
	e.registerObject(&dm.object)
	dm.bufferedSig.connect(e, func(struct{}) { e.notifyBuffered() })

	for _, d := range e.decoders {
		if d == nil {
			continue
		}
		dm.packetSig[d.trackType].connect(d, d.Decode)
		dm.atEndSig.connect(d, func(struct{}) { d.OnFinalPacketReceived() })
		d.packetProcessedSig.connect(dm, dm.OnPacketProcessed)
	}

	if !e.media.Seekable() || e.media.Duration() <= 0 {
		for _, d := range e.decoders {
			if d != nil {
				dm.firstPacketSig.connect(d, d.setInitialPosition)
			}
		}
		for _, r := range e.renderers {
			if r != nil {
				dm.firstPacketSig.connect(r, r.setInitialPosition)
			}
		}
		dm.firstPacketSig.connect(e, func(sp syncPoint) { e.clock.SyncAt(sp.tp, sp.pos) })
	}
	e.demuxer = dm
}

func (e *Engine) registerObject(o *object) {
	o.errorSig.connect(e, func(ev errorEvent) {
		e.notifyError(&Error{Code: ev.code, Message: ev.msg})
	})
}

// resetObject kills o and frees the workers left without objects.
func (e *Engine) resetObject(o *object) {
	o.kill()
	if !e.workersDirty {
		e.workersDirty = true
		e.w.post(e.deleteFreeWorkers)
	}
}

func (e *Engine) deleteFreeWorkers() {
	e.workersDirty = false
	var keep []string
	if e.demuxer != nil {
		keep = append(keep, e.demuxer.role)
	}
	for _, d := range e.decoders {
		if d != nil {
			keep = append(keep, d.role)
		}
	}
	for _, r := range e.renderers {
		if r != nil {
			keep = append(keep, r.role)
		}
	}
	e.workers.retain(keep)
}

func (e *Engine) hasRenderer(id uint64) bool {
	for _, r := range e.renderers {
		if r != nil && r.id == id {
			return true
		}
	}
	return false
}

func (e *Engine) rendererAtEnd(t media.TrackType) bool {
	r := e.renderers[t]
	return r == nil || r.isAtEnd()
}

func (e *Engine) hasMediaStream() bool {
	return e.renderers[media.Video] != nil || e.renderers[media.Audio] != nil
}

// onRendererFinished stops playback once every renderer is at its end. A
// subtitle renderer only counts when it is the only one.
func (e *Engine) onRendererFinished() {
	if !e.rendererAtEnd(media.Video) || !e.rendererAtEnd(media.Audio) {
		return
	}
	if !e.rendererAtEnd(media.Subtitle) && !e.hasMediaStream() {
		return
	}
	if e.state == Stopped {
		return
	}
	e.log.Info("end of stream")
	e.state = Stopped
	e.finalizeTime(e.media.Duration())
	e.forceUpdate()
	e.notifyState(Stopped)
	if fn := e.notify.OnEndOfStream; fn != nil {
		e.notifier.post(fn)
	}
}

func (e *Engine) onRendererLoopChanged(ev loopEvent) {
	if !e.hasRenderer(ev.id) {
		return
	}
	switch {
	case ev.index > e.loopOffset.Index:
		e.loopOffset = media.LoopOffset{Pos: ev.offset, Index: ev.index}
		e.log.Debug("loop changed", "index", ev.index, "offset_us", ev.offset)
		if fn := e.notify.OnLoopChanged; fn != nil {
			e.notifier.post(func() { fn(ev.index) })
		}
	case ev.index == e.loopOffset.Index && ev.offset != e.loopOffset.Pos:
		e.log.Warn("inconsistent loop offset", "index", ev.index,
			"offset_us", ev.offset, "previous_us", e.loopOffset.Pos)
		e.loopOffset.Pos = ev.offset
	}
}

// onRendererSynchronized adopts a renderer's timing and converges the
// other renderers onto it.
func (e *Engine) onRendererSynchronized(sp syncPoint) {
	if !e.hasRenderer(sp.id) {
		return
	}
	e.clock.SyncAt(sp.tp, sp.pos)
	for _, r := range e.renderers {
		if r != nil && r.id != sp.id {
			r.SyncSoft(sp.tp, sp.pos)
		}
	}
}

// triggerStepIfNeeded shows a picture while paused.
func (e *Engine) triggerStepIfNeeded() {
	if e.state != Paused {
		return
	}
	if r := e.renderers[media.Video]; r != nil {
		r.DoForceStep()
	}
}

func (e *Engine) updateObjectsPausedState() {
	paused := e.state != Playing
	e.clock.SetPaused(paused)
	for _, r := range e.renderers {
		if r != nil {
			r.setPaused(paused)
		}
	}
	if e.demuxer != nil {
		e.demuxer.setPaused(false)
	}
	for _, d := range e.decoders {
		if d != nil {
			d.setPaused(false)
		}
	}
}

func (e *Engine) finalizeTime(pos int64) {
	e.clock.SetPaused(true)
	e.clock.Sync(pos)
	e.loopOffset = media.LoopOffset{}
}

func (e *Engine) finalizeOutputs() {
	if a := e.audioRenderer(); a != nil {
		a.SetOutput(nil)
	}
	e.updateActiveVideoOutput(nil, true)
}

func (e *Engine) updateActiveVideoOutput(s VideoSink, clean bool) {
	if r := e.renderers[media.Subtitle]; r != nil {
		r.variant.(*SubtitleRenderer).SetOutput(s, clean)
	}
	if r := e.renderers[media.Video]; r != nil {
		r.variant.(*VideoRenderer).SetOutput(s, clean)
	}
}

func (e *Engine) audioRenderer() *AudioRenderer {
	if r := e.renderers[media.Audio]; r != nil {
		return r.variant.(*AudioRenderer)
	}
	return nil
}

// updateVideoSinkSize carries the native size over from the previous sink,
// or sets it from the media.
func (e *Engine) updateVideoSinkSize(prev VideoSink) {
	if e.videoSink == nil {
		return
	}
	if prev != nil {
		w, h := prev.NativeSize()
		e.videoSink.SetNativeSize(w, h)
		return
	}
	if e.media == nil {
		return
	}
	if w, h, ok := e.media.NativeSize(); ok {
		e.videoSink.SetNativeSize(w, h)
	}
}

// currentPosition reads the renderers' positions: the lowest, or the
// highest when top is set. A subtitle renderer only counts for top or when
// it is the only one.
func (e *Engine) currentPosition(top bool) int64 {
	var pos int64
	found := false
	for t, r := range e.renderers {
		if r == nil {
			continue
		}
		if !top && media.TrackType(t) == media.Subtitle && e.hasMediaStream() {
			continue
		}
		p := r.LastPosition()
		switch {
		case !found:
			pos = p
			found = true
		case top:
			pos = max(pos, p)
		default:
			pos = min(pos, p)
		}
	}
	if !found {
		pos = e.clock.CurrentPosition(0)
	}
	return e.boundPosition(pos - e.loopOffset.Pos)
}

// boundPosition clamps pos to [0, duration]; unknown durations only clamp
// below.
func (e *Engine) boundPosition(pos int64) int64 {
	pos = max(pos, 0)
	if e.media != nil && e.media.Duration() > 0 {
		pos = min(pos, e.media.Duration())
	}
	return pos
}

func (e *Engine) notifyState(s State) {
	if fn := e.notify.OnStateChanged; fn != nil {
		e.notifier.post(func() { fn(s) })
	}
}

func (e *Engine) notifyError(err *Error) {
	if fn := e.notify.OnError; fn != nil {
		e.notifier.post(func() { fn(err) })
	}
}

func (e *Engine) notifyBuffered() {
	if fn := e.notify.OnBuffered; fn != nil {
		e.notifier.post(fn)
	}
}
