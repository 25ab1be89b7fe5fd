package media

import (
	"errors"
	"math"
)

// NoTimestamp marks an unknown timestamp.
const NoTimestamp int64 = math.MinInt64

// Sentinel errors shared by container and codec backends.
var (
	// ErrAgain is returned by Decoder.SendPacket when decoded output must be
	// drained before more input is accepted, and by Decoder.ReceiveFrame when
	// more input is needed before another frame can be produced.
	ErrAgain = errors.New("media: resource temporarily unavailable")

	ErrNoDecoder     = errors.New("media: no decoder for stream")
	ErrInvalidStream = errors.New("media: invalid stream index")
	ErrNotSeekable   = errors.New("media: container is not seekable")
)

// RawPacket is one compressed packet as read from a container. Timestamps
// are microseconds relative to the container start.
type RawPacket struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	Duration    int64
	Keyframe    bool
	Pos         int64 // byte position in the container, -1 if unknown
	Data        []byte
}

// End returns PTS+Duration, or NoTimestamp when PTS is unknown.
func (p *RawPacket) End() int64 {
	if p.PTS == NoTimestamp {
		return NoTimestamp
	}
	return p.PTS + p.Duration
}

// PixelFormat names the memory layout of a decoded picture.
type PixelFormat string

const (
	PixelFormatYUV420P PixelFormat = "yuv420p"
	PixelFormatNV12    PixelFormat = "nv12"
	PixelFormatRGBA    PixelFormat = "rgba"

	// PixelFormatAnnexB is an undecoded H.264/H.265 access unit handed to a
	// sink that decodes on its own.
	PixelFormatAnnexB PixelFormat = "annexb"
)

// VideoData is a decoded (or pass-through) picture.
type VideoData struct {
	Width       int
	Height      int
	PixelFormat PixelFormat
	Planes      [][]byte
	Color       ColorInfo
	Keyframe    bool
	// HWAccel names the hardware context backing the planes, empty for
	// system memory.
	HWAccel string
}

// AudioData is a block of decoded PCM.
type AudioData struct {
	Format AudioFormat
	PCM    []byte
}

// RawFrame is a decoded audio or video frame as produced by a Decoder.
// Timestamps are microseconds relative to the container start.
type RawFrame struct {
	PTS      int64
	Duration int64
	Audio    *AudioData
	Video    *VideoData
}

// SubtitleCue is one decoded subtitle. When PTS is NoTimestamp the cue
// carries no timing of its own and the packet timestamps apply. Otherwise
// the display window is [PTS+Start, PTS+End).
type SubtitleCue struct {
	PTS   int64
	Start int64
	End   int64
	Text  string
}

// Container is a demuxing backend: an opened media resource that yields
// packets and opens decoders for its streams.
type Container interface {
	Streams() []StreamInfo
	// Duration in microseconds, 0 if unknown.
	Duration() int64
	Seekable() bool
	Metadata() Metadata
	// ReadPacket returns the next packet in container order, or io.EOF.
	ReadPacket() (*RawPacket, error)
	// Seek positions the container at the last random access point at or
	// before pos (microseconds).
	Seek(pos int64) error
	OpenDecoder(streamIndex int) (Decoder, error)
	Close() error
}

// Decoder decodes the packets of one stream.
//
// SendPacket(nil) signals end of input: the decoder drains its internal
// buffers and ReceiveFrame then returns io.EOF once empty.
type Decoder interface {
	SendPacket(p *RawPacket) error
	ReceiveFrame() (*RawFrame, error)
	Flush()
	Close() error
}

// SubtitleDecoder is implemented by decoders of subtitle streams. Each call
// consumes one packet and returns the subtitles completed by it.
type SubtitleDecoder interface {
	DecodeSubtitle(p *RawPacket) ([]SubtitleCue, error)
}

// HWAccelerated is implemented by decoders backed by a hardware context.
type HWAccelerated interface {
	HWAccel() string
}
