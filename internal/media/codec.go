package media

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Codec is shared ownership of an opened decoder for one stream of a
// container. It is created with one reference; every additional owner calls
// Retain and every owner calls Release exactly once. The decoder is closed
// when the last reference is released.
//
// Decoder state is not synchronized: only one goroutine may drive the
// decoder at a time.
type Codec struct {
	refs      atomic.Int32
	closeOnce sync.Once

	decoder     Decoder
	stream      StreamInfo
	hwAccel     string
	pixelAspect Rational
}

// NewCodec opens a decoder for the stream with the given index.
func NewCodec(c Container, streamIndex int) (*Codec, error) {
	streams := c.Streams()
	if streamIndex < 0 || streamIndex >= len(streams) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStream, streamIndex)
	}
	dec, err := c.OpenDecoder(streamIndex)
	if err != nil {
		return nil, fmt.Errorf("open decoder for stream %d: %w", streamIndex, err)
	}
	return newCodec(dec, streams[streamIndex]), nil
}

func newCodec(dec Decoder, stream StreamInfo) *Codec {
	c := &Codec{
		decoder:     dec,
		stream:      stream,
		pixelAspect: stream.PixelAspect,
	}
	if !c.pixelAspect.Valid() {
		c.pixelAspect = Rational{Num: 1, Den: 1}
	}
	if hw, ok := dec.(HWAccelerated); ok {
		c.hwAccel = hw.HWAccel()
	}
	c.refs.Store(1)
	return c
}

// Retain adds a reference and returns c.
func (c *Codec) Retain() *Codec {
	c.refs.Add(1)
	return c
}

// Release drops a reference, closing the decoder with the last one.
func (c *Codec) Release() {
	if c.refs.Add(-1) == 0 {
		c.closeOnce.Do(func() { c.decoder.Close() })
	}
}

// Decoder returns the underlying decoder.
func (c *Codec) Decoder() Decoder { return c.decoder }

// Stream returns the description of the decoded stream.
func (c *Codec) Stream() StreamInfo { return c.stream }

// TrackType returns the track type of the decoded stream.
func (c *Codec) TrackType() TrackType { return c.stream.Type }

// HWAccel names the hardware context of the decoder, empty for software.
func (c *Codec) HWAccel() string { return c.hwAccel }

// PixelAspectRatio returns the sample aspect ratio of the stream, 1:1 when
// the stream does not declare one.
func (c *Codec) PixelAspectRatio() Rational { return c.pixelAspect }
