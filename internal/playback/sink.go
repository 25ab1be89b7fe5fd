package playback

import "github.com/zsiec/reel/internal/media"

// VideoFrame is a picture handed to a VideoSink. The zero VideoFrame
// clears the sink.
type VideoFrame struct {
	// PTS and Duration are microseconds on the looped playback timeline.
	PTS      int64
	Duration int64

	Width       int
	Height      int
	PixelFormat media.PixelFormat
	Planes      [][]byte
	HWAccel     string
	PixelAspect media.Rational

	Color    media.ColorInfo
	Rotation int
	Mirrored bool
}

// IsValid reports whether f carries a picture.
func (f VideoFrame) IsValid() bool { return f.Width > 0 && f.Height > 0 }

// VideoSink displays pictures and subtitle text. Methods are called from
// several goroutines and must not call back into the engine.
type VideoSink interface {
	SetVideoFrame(f VideoFrame)
	// SetSubtitleText shows text; an empty string clears it.
	SetSubtitleText(text string)
	SetNativeSize(width, height int)
	NativeSize() (width, height int)
}

// AudioState is the playback state reported by an AudioSink.
type AudioState int

const (
	// AudioIdle means the sink ran out of data.
	AudioIdle AudioState = iota
	AudioActive
	AudioStopped
)

func (s AudioState) String() string {
	switch s {
	case AudioIdle:
		return "idle"
	case AudioActive:
		return "active"
	case AudioStopped:
		return "stopped"
	}
	return "unknown"
}

// AudioSink plays interleaved signed 16-bit PCM in a fixed format. Write
// must not block: it accepts at most BytesFree bytes and returns how many
// it took.
type AudioSink interface {
	Format() media.AudioFormat
	Write(pcm []byte) int
	BytesFree() int
	BufferSize() int
	State() AudioState
}
