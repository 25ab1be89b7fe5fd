package media

// Frame is a copy-cheap handle to one decoded unit: an audio or video frame
// produced by a Codec, or a subtitle text span. The zero Frame is invalid and
// is used as the end-of-stream marker on a renderer queue.
type Frame struct {
	d *frameData
}

type frameData struct {
	raw      *RawFrame
	codec    *Codec
	text     string
	subtitle bool
	pts      int64
	duration int64
	offset   LoopOffset
	sourceID uint64
}

// NewFrame wraps a decoded frame. Timestamps are taken from raw.
func NewFrame(offset LoopOffset, raw *RawFrame, codec *Codec, sourceID uint64) Frame {
	return Frame{d: &frameData{
		raw:      raw,
		codec:    codec,
		pts:      raw.PTS,
		duration: raw.Duration,
		offset:   offset,
		sourceID: sourceID,
	}}
}

// NewSubtitleFrame creates a subtitle span. An empty text clears the
// currently shown subtitle.
func NewSubtitleFrame(offset LoopOffset, text string, pts, duration int64, sourceID uint64) Frame {
	return Frame{d: &frameData{
		text:     text,
		subtitle: true,
		pts:      pts,
		duration: duration,
		offset:   offset,
		sourceID: sourceID,
	}}
}

// IsValid reports whether f refers to a frame.
func (f Frame) IsValid() bool { return f.d != nil }

// IsSubtitle reports whether f is a subtitle span.
func (f Frame) IsSubtitle() bool { return f.d.subtitle }

// Raw returns the decoded frame, nil for subtitles.
func (f Frame) Raw() *RawFrame { return f.d.raw }

// Codec returns the codec that produced the frame, nil for subtitles.
func (f Frame) Codec() *Codec { return f.d.codec }

// Text returns the subtitle text.
func (f Frame) Text() string { return f.d.text }

// PTS is the presentation timestamp in microseconds.
func (f Frame) PTS() int64 { return f.d.pts }

// Duration in microseconds.
func (f Frame) Duration() int64 { return f.d.duration }

// End is PTS+Duration.
func (f Frame) End() int64 { return f.d.pts + f.d.duration }

// LoopOffset returns the loop iteration the frame belongs to.
func (f Frame) LoopOffset() LoopOffset { return f.d.offset }

// AbsolutePTS is the presentation timestamp on the looped timeline.
func (f Frame) AbsolutePTS() int64 { return f.d.pts + f.d.offset.Pos }

// AbsoluteEnd is the end of the frame on the looped timeline.
func (f Frame) AbsoluteEnd() int64 { return f.End() + f.d.offset.Pos }

// SourceID returns the identity of the stream decoder that produced f.
func (f Frame) SourceID() uint64 { return f.d.sourceID }
