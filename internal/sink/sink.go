// Package sink provides outputs for the playback engine that need no
// window or sound card: an audio sink that consumes PCM in real time and a
// video sink that logs what it is shown.
package sink

import (
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/playback"
)

// DefaultAudioBuffer is the buffer length of a NullAudio created with a
// zero buffer duration.
const DefaultAudioBuffer = 200 * time.Millisecond

// NullAudio discards PCM at the rate a sound card would play it, so audio
// still paces playback.
type NullAudio struct {
	mu       sync.Mutex
	now      func() time.Time
	format   media.AudioFormat
	size     int
	buffered int
	last     time.Time
	written  int64
	started  bool
}

// NewNullAudio creates a sink for format holding buffer worth of audio.
func NewNullAudio(format media.AudioFormat, buffer time.Duration) *NullAudio {
	if buffer <= 0 {
		buffer = DefaultAudioBuffer
	}
	size := format.BytesForDuration(buffer)
	size -= size % format.BytesPerFrame()
	return &NullAudio{now: time.Now, format: format, size: size}
}

func (a *NullAudio) Format() media.AudioFormat { return a.format }
func (a *NullAudio) BufferSize() int           { return a.size }

// drain drops what played since the last call.
func (a *NullAudio) drain() {
	now := a.now()
	if !a.last.IsZero() {
		played := a.format.BytesForDuration(now.Sub(a.last))
		played -= played % a.format.BytesPerFrame()
		if played == 0 {
			return
		}
		a.buffered = max(a.buffered-played, 0)
	}
	a.last = now
}

func (a *NullAudio) Write(pcm []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drain()
	n := min(len(pcm), a.size-a.buffered)
	n -= n % a.format.BytesPerFrame()
	a.buffered += n
	a.written += int64(n)
	a.started = a.started || n > 0
	return n
}

func (a *NullAudio) BytesFree() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drain()
	return a.size - a.buffered
}

func (a *NullAudio) State() playback.AudioState {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drain()
	if a.started && a.buffered == 0 {
		return playback.AudioIdle
	}
	return playback.AudioActive
}

// Written returns the number of bytes accepted so far.
func (a *NullAudio) Written() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.written
}

// LogVideo records the pictures it is given and logs changes of picture
// size and subtitle text.
type LogVideo struct {
	log *slog.Logger

	mu       sync.Mutex
	width    int
	height   int
	frames   int64
	last     playback.VideoFrame
	text     string
	subtitle int64
}

// NewLogVideo creates a video sink. If log is nil, slog.Default() is used.
func NewLogVideo(log *slog.Logger) *LogVideo {
	if log == nil {
		log = slog.Default()
	}
	return &LogVideo{log: log.With("component", "video-sink")}
}

func (v *LogVideo) SetVideoFrame(f playback.VideoFrame) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !f.IsValid() {
		if v.last.IsValid() {
			v.log.Debug("picture cleared")
		}
		v.last = f
		return
	}
	if f.Width != v.last.Width || f.Height != v.last.Height || f.PixelFormat != v.last.PixelFormat {
		v.log.Info("picture format",
			"width", f.Width,
			"height", f.Height,
			"pixel_format", string(f.PixelFormat),
			"rotation", f.Rotation,
			"hwaccel", f.HWAccel,
		)
	}
	v.frames++
	v.last = f
}

func (v *LogVideo) SetSubtitleText(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if text == v.text {
		return
	}
	v.text = text
	if text != "" {
		v.subtitle++
		v.log.Info("subtitle", "text", text)
	}
}

func (v *LogVideo) SetNativeSize(width, height int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.width, v.height = width, height
}

func (v *LogVideo) NativeSize() (width, height int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.width, v.height
}

// VideoStats is a snapshot of what a LogVideo has shown.
type VideoStats struct {
	Frames    int64
	Subtitles int64
	LastPTS   int64
	Text      string
}

// Stats returns the pictures and subtitles shown so far.
func (v *LogVideo) Stats() VideoStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return VideoStats{
		Frames:    v.frames,
		Subtitles: v.subtitle,
		LastPTS:   v.last.PTS,
		Text:      v.text,
	}
}
