package media

import "time"

// Rational is a fraction such as a pixel aspect ratio or frame rate.
type Rational struct {
	Num int
	Den int
}

// Valid reports whether r has a positive numerator and denominator.
func (r Rational) Valid() bool { return r.Num > 0 && r.Den > 0 }

// Float returns r as a float64, or 0 for an invalid fraction.
func (r Rational) Float() float64 {
	if !r.Valid() {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// ColorRange is the quantization range of video samples.
type ColorRange int

const (
	ColorRangeUnknown ColorRange = iota
	ColorRangeVideo              // limited / studio swing
	ColorRangeFull
)

// Color transfer characteristics that mark HDR content (ISO/IEC 23091-2).
const (
	TransferSMPTE2084 = 16
	TransferHLG       = 18
)

// ColorInfo describes how video samples map to light. Primaries, Transfer
// and Matrix carry ISO/IEC 23091-2 code points; 2 means unspecified.
type ColorInfo struct {
	Range        ColorRange
	Primaries    int
	Transfer     int
	Matrix       int
	MaxLuminance float64 // nits, 0 if unknown
}

// HDR reports whether the transfer characteristics support high dynamic range.
func (c ColorInfo) HDR() bool {
	return c.Transfer == TransferSMPTE2084 || c.Transfer == TransferHLG
}

// Transformation is the display transform of a video stream: a clockwise
// rotation in degrees (0, 90, 180, 270) and an optional horizontal mirror
// applied before rotating.
type Transformation struct {
	Rotation int
	Mirrored bool
}

// RotatedSize returns the display size of a w×h picture after rotation.
func (t Transformation) RotatedSize(w, h int) (int, int) {
	if t.Rotation%180 != 0 {
		return h, w
	}
	return w, h
}

// AudioFormat describes interleaved signed 16-bit little-endian PCM.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// Valid reports whether the format can carry samples.
func (f AudioFormat) Valid() bool { return f.SampleRate > 0 && f.Channels > 0 }

// BytesPerFrame is the size of one sample across all channels.
func (f AudioFormat) BytesPerFrame() int { return 2 * f.Channels }

// BytesForDuration returns the byte length of d worth of audio, rounded
// down to a whole frame.
func (f AudioFormat) BytesForDuration(d time.Duration) int {
	if !f.Valid() || d <= 0 {
		return 0
	}
	frames := int64(d) * int64(f.SampleRate) / int64(time.Second)
	return int(frames) * f.BytesPerFrame()
}

// DurationOfBytes returns the playback duration of n bytes.
func (f AudioFormat) DurationOfBytes(n int) time.Duration {
	if !f.Valid() || n <= 0 {
		return 0
	}
	frames := int64(n / f.BytesPerFrame())
	return time.Duration(frames * int64(time.Second) / int64(f.SampleRate))
}

// Metadata is free-form key/value information about a container or stream.
type Metadata map[string]string

// Well-known metadata keys.
const (
	MetaTitle       = "title"
	MetaLanguage    = "language"
	MetaFileFormat  = "file_format"
	MetaDuration    = "duration"
	MetaVideoCodec  = "video_codec"
	MetaAudioCodec  = "audio_codec"
	MetaResolution  = "resolution"
	MetaFrameRate   = "frame_rate"
	MetaBitRate     = "bit_rate"
	MetaHDR         = "hdr"
	MetaOrientation = "orientation"
)

// StreamInfo describes one elementary stream of a container.
type StreamInfo struct {
	Index int
	Type  TrackType

	CodecName       string
	Default         bool
	AttachedPicture bool
	Language        string
	Title           string

	// Duration and StartTime are in microseconds; 0 when unknown.
	Duration  int64
	StartTime int64
	BitRate   int64

	// Video.
	Width       int
	Height      int
	FrameRate   Rational
	PixelAspect Rational
	Color       ColorInfo
	Transform   Transformation

	// Audio.
	Audio AudioFormat
}
