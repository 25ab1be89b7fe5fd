// Package player wraps a playback.Engine in the controls of a media player:
// asynchronous loading, a media status, play requests made while loading,
// restart after the end of media and periodic position reports.
package player

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/playback"
	"github.com/zsiec/reel/internal/source"
)

// MediaStatus is the loading and buffering status of the current media.
type MediaStatus int

const (
	NoMedia MediaStatus = iota
	LoadingMedia
	LoadedMedia
	BufferingMedia
	BufferedMedia
	EndOfMedia
	InvalidMedia
)

func (s MediaStatus) String() string {
	switch s {
	case NoMedia:
		return "no media"
	case LoadingMedia:
		return "loading"
	case LoadedMedia:
		return "loaded"
	case BufferingMedia:
		return "buffering"
	case BufferedMedia:
		return "buffered"
	case EndOfMedia:
		return "end of media"
	case InvalidMedia:
		return "invalid media"
	}
	return "unknown"
}

// DefaultPositionInterval is how often position is reported while playing.
const DefaultPositionInterval = 50 * time.Millisecond

// Events are the player's callbacks. They are called with the player's
// lock held and must not call back into the Player.
type Events struct {
	OnStatusChanged   func(MediaStatus)
	OnStateChanged    func(playback.State)
	OnPositionChanged func(time.Duration)
	OnDurationChanged func(time.Duration)
	OnError           func(*playback.Error)
}

// Options configures New.
type Options struct {
	Engine           playback.Config
	Source           source.Options
	Events           Events
	PositionInterval time.Duration
	Logger           *slog.Logger
}

// Player controls one engine. All methods are safe for concurrent use.
type Player struct {
	log      *slog.Logger
	ev       Events
	interval time.Duration
	engine   *playback.Engine
	loads    sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	status    MediaStatus
	state     playback.State
	requested playback.State
	gen       uint64
	cancel    context.CancelFunc
	tickStop  chan struct{}
	rate      float64
	loops     int
	lastPos   time.Duration
}

// New creates a player with no media.
func New(opts Options) *Player {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.PositionInterval <= 0 {
		opts.PositionInterval = DefaultPositionInterval
	}
	p := &Player{
		log:      log.With("component", "player"),
		ev:       opts.Events,
		interval: opts.PositionInterval,
		rate:     1,
		loops:    1,
		lastPos:  -1,
	}
	p.engine = playback.New(playback.Options{
		Config: opts.Engine,
		Notifications: playback.Notifications{
			OnStateChanged: p.onEngineState,
			OnEndOfStream:  p.onEndOfStream,
			OnError:        p.onError,
			OnLoopChanged:  p.onLoopChanged,
			OnBuffered:     p.onBuffered,
		},
		Source: opts.Source,
		Logger: log,
	})
	return p
}

// SetMedia starts loading url (or r, with url naming it) and returns at
// once. A load still in progress is abandoned. Empty url and nil r unload
// the current media.
func (p *Player) SetMedia(url string, r io.Reader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.gen++
	p.stopPositionUpdates()
	p.engine.Unload()
	p.setState(playback.Stopped)
	p.lastPos = -1

	if url == "" && r == nil {
		p.setStatus(NoMedia)
		return
	}
	p.setStatus(LoadingMedia)
	p.requested = playback.Stopped

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	gen := p.gen
	p.loads.Add(1)
	go func() {
		defer p.loads.Done()
		defer cancel()
		c, err := p.engine.Open(ctx, url, r)
		p.finishLoad(gen, url, c, err)
	}()
}

// SetContainer makes an already opened container the current media.
func (p *Player) SetContainer(c media.Container) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		c.Close()
		return
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.gen++
	p.stopPositionUpdates()
	p.setState(playback.Stopped)
	p.lastPos = -1
	p.requested = playback.Stopped
	p.setStatus(LoadingMedia)
	p.installLocked(c, "")
}

func (p *Player) finishLoad(gen uint64, url string, c media.Container, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || p.closed {
		// Abandoned loads report nothing.
		if c != nil {
			c.Close()
		}
		return
	}
	p.cancel = nil
	if err != nil {
		var perr *playback.Error
		if !errors.As(err, &perr) {
			perr = &playback.Error{Code: playback.ResourceError, Message: "could not open media", Err: err}
		}
		p.log.Warn("media invalid", "url", url, "error", err)
		if p.ev.OnError != nil {
			p.ev.OnError(perr)
		}
		p.setStatus(InvalidMedia)
		return
	}
	p.installLocked(c, url)
}

func (p *Player) installLocked(c media.Container, url string) {
	if err := p.engine.SetContainer(c); err != nil {
		p.setStatus(InvalidMedia)
		return
	}
	if p.loops != 1 {
		p.engine.SetLoops(p.loops)
	}
	if p.rate != 1 && p.rate > 0 {
		p.engine.SetPlaybackRate(p.rate)
	}
	if p.ev.OnDurationChanged != nil {
		p.ev.OnDurationChanged(usToDuration(p.engine.Duration()))
	}
	p.log.Info("media loaded", "url", url, "duration", usToDuration(p.engine.Duration()))
	p.setStatus(LoadedMedia)

	switch p.requested {
	case playback.Playing:
		p.playLocked()
	case playback.Paused:
		p.pauseLocked()
	}
}

// Play starts or resumes playback. While loading, the request is kept and
// applied once the media is loaded.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == LoadingMedia {
		p.requested = playback.Playing
		return
	}
	p.playLocked()
}

func (p *Player) playLocked() {
	if !p.hasMedia() {
		return
	}
	p.rewindIfEnded()
	p.engine.Play()
	p.startPositionUpdates()
	p.setState(playback.Playing)
	if p.status == LoadedMedia || p.status == EndOfMedia {
		p.setStatus(BufferingMedia)
	}
}

// Pause pauses playback, showing the current picture.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == LoadingMedia {
		p.requested = playback.Paused
		return
	}
	p.pauseLocked()
}

func (p *Player) pauseLocked() {
	if !p.hasMedia() {
		return
	}
	p.rewindIfEnded()
	p.engine.Pause()
	p.stopPositionUpdates()
	p.setState(playback.Paused)
	if p.status == LoadedMedia || p.status == EndOfMedia {
		p.setStatus(BufferingMedia)
	}
}

// Stop stops playback and rewinds to the start.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == LoadingMedia {
		p.requested = playback.Stopped
		return
	}
	if !p.hasMedia() {
		return
	}
	p.engine.Stop()
	p.stopPositionUpdates()
	if p.engine.IsSeekable() {
		p.engine.Seek(0)
	}
	p.emitPosition(0)
	p.setState(playback.Stopped)
	p.setStatus(LoadedMedia)
}

// SetPosition seeks to pos. Seeks while loading are ignored.
func (p *Player) SetPosition(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == LoadingMedia || !p.hasMedia() {
		return
	}
	p.engine.Seek(pos.Microseconds())
	p.emitPosition(usToDuration(p.engine.Position()))
	if p.state == playback.Stopped {
		p.setStatus(LoadedMedia)
	} else {
		p.setStatus(BufferingMedia)
	}
}

// SetPlaybackRate sets the speed factor. Negative rates are treated as
// zero, which the engine ignores.
func (p *Player) SetPlaybackRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rate = max(rate, 0)
	if rate == p.rate {
		return
	}
	p.rate = rate
	if p.hasMedia() && rate > 0 {
		p.engine.SetPlaybackRate(rate)
	}
}

// SetLoops sets how many times the media plays; -1 loops forever. The
// count applies to the current and later media.
func (p *Player) SetLoops(loops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if loops == 0 || loops < -1 {
		p.log.Warn("invalid loop count", "loops", loops)
		return
	}
	p.loops = loops
	if p.hasMedia() {
		p.engine.SetLoops(loops)
	}
}

func (p *Player) SetVideoSink(s playback.VideoSink) { p.engine.SetVideoSink(s) }
func (p *Player) SetAudioSink(s playback.AudioSink) { p.engine.SetAudioSink(s) }

// SetActiveTrack selects track n of type t; -1 disables the type.
func (p *Player) SetActiveTrack(t media.TrackType, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasMedia() {
		p.log.Warn("cannot set active track without media", "track", t)
		return
	}
	p.engine.SetActiveTrack(t, n)
}

func (p *Player) Status() MediaStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Player) State() playback.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// BufferProgress is 1 once enough is read ahead, a fraction while buffering
// and 0 otherwise.
func (p *Player) BufferProgress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.status {
	case BufferingMedia:
		return 0.25
	case BufferedMedia:
		return 1
	}
	return 0
}

func (p *Player) Position() time.Duration  { return usToDuration(p.engine.Position()) }
func (p *Player) Duration() time.Duration  { return usToDuration(p.engine.Duration()) }
func (p *Player) IsSeekable() bool         { return p.engine.IsSeekable() }
func (p *Player) Metadata() media.Metadata { return p.engine.Metadata() }
func (p *Player) Stats() playback.Stats    { return p.engine.Stats() }
func (p *Player) PlaybackRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

func (p *Player) Loops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loops
}

func (p *Player) Tracks(t media.TrackType) []playback.TrackInfo { return p.engine.Tracks(t) }
func (p *Player) ActiveTrack(t media.TrackType) int             { return p.engine.ActiveTrack(t) }

// HasAudio reports whether the media has an audio track.
func (p *Player) HasAudio() bool { return len(p.engine.Tracks(media.Audio)) > 0 }

// HasVideo reports whether the media has a video track.
func (p *Player) HasVideo() bool { return len(p.engine.Tracks(media.Video)) > 0 }

// Close abandons loading, stops playback and releases the engine.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.stopPositionUpdates()
	p.mu.Unlock()

	p.loads.Wait()
	return p.engine.Close()
}

func (p *Player) hasMedia() bool {
	switch p.status {
	case NoMedia, LoadingMedia, InvalidMedia:
		return false
	}
	return true
}

// rewindIfEnded restarts media that played to its end.
func (p *Player) rewindIfEnded() {
	if p.status == EndOfMedia && p.state == playback.Stopped && p.engine.IsSeekable() {
		p.engine.Seek(0)
		p.emitPosition(0)
	}
}

func (p *Player) setStatus(s MediaStatus) {
	if s == p.status {
		return
	}
	p.log.Debug("media status", "from", p.status.String(), "to", s.String())
	p.status = s
	if p.ev.OnStatusChanged != nil {
		p.ev.OnStatusChanged(s)
	}
}

func (p *Player) setState(s playback.State) {
	if s == p.state {
		return
	}
	p.state = s
	if p.ev.OnStateChanged != nil {
		p.ev.OnStateChanged(s)
	}
}

func (p *Player) emitPosition(pos time.Duration) {
	if pos == p.lastPos {
		return
	}
	p.lastPos = pos
	if p.ev.OnPositionChanged != nil {
		p.ev.OnPositionChanged(pos)
	}
}

func (p *Player) startPositionUpdates() {
	if p.tickStop != nil {
		return
	}
	stop := make(chan struct{})
	p.tickStop = stop
	go func() {
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				p.mu.Lock()
				if p.tickStop == stop {
					p.emitPosition(usToDuration(p.engine.Position()))
				}
				p.mu.Unlock()
			}
		}
	}()
}

func (p *Player) stopPositionUpdates() {
	if p.tickStop != nil {
		close(p.tickStop)
		p.tickStop = nil
	}
}

// Engine notifications.

func (p *Player) onEngineState(s playback.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed && p.hasMedia() {
		p.setState(s)
	}
}

func (p *Player) onEndOfStream() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.hasMedia() {
		return
	}
	p.stopPositionUpdates()
	p.emitPosition(usToDuration(p.engine.Duration()))
	p.setState(playback.Stopped)
	p.setStatus(EndOfMedia)
	p.log.Info("end of media")
}

func (p *Player) onLoopChanged(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	// Both ends of the timeline are reported so observers see the wrap.
	p.emitPosition(usToDuration(p.engine.Duration()))
	p.emitPosition(0)
	p.log.Debug("loop", "index", index)
}

func (p *Player) onBuffered() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed && p.status == BufferingMedia {
		p.setStatus(BufferedMedia)
	}
}

func (p *Player) onError(err *playback.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.ev.OnError != nil {
		p.ev.OnError(err)
	}
}

func usToDuration(us int64) time.Duration { return time.Duration(us) * time.Microsecond }
