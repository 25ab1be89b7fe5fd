package tsfile

import (
	"fmt"
	"io"
	"slices"

	"github.com/zsiec/reel/internal/bitstream"
	"github.com/zsiec/reel/internal/media"
)

// reorderDepth is how many access units the video decoder holds back to
// put B-frames into presentation order.
const reorderDepth = 2

// videoDecoder passes access units through as PixelFormatAnnexB frames in
// presentation order, leaving the picture decode to the sink.
type videoDecoder struct {
	info     media.StreamInfo
	queue    []*media.RawFrame
	draining bool
}

func newVideoDecoder(info media.StreamInfo) *videoDecoder {
	return &videoDecoder{info: info}
}

func (d *videoDecoder) SendPacket(p *media.RawPacket) error {
	if p == nil {
		d.draining = true
		return nil
	}
	if len(d.queue) > reorderDepth {
		return media.ErrAgain
	}
	d.draining = false
	f := &media.RawFrame{
		PTS:      p.PTS,
		Duration: p.Duration,
		Video: &media.VideoData{
			Width:       d.info.Width,
			Height:      d.info.Height,
			PixelFormat: media.PixelFormatAnnexB,
			Planes:      [][]byte{p.Data},
			Color:       d.info.Color,
			Keyframe:    p.Keyframe,
		},
	}
	i := slices.IndexFunc(d.queue, func(q *media.RawFrame) bool { return q.PTS > f.PTS })
	if i < 0 {
		i = len(d.queue)
	}
	d.queue = slices.Insert(d.queue, i, f)
	return nil
}

func (d *videoDecoder) ReceiveFrame() (*media.RawFrame, error) {
	if len(d.queue) == 0 {
		if d.draining {
			return nil, io.EOF
		}
		return nil, media.ErrAgain
	}
	if !d.draining && len(d.queue) <= reorderDepth {
		return nil, media.ErrAgain
	}
	f := d.queue[0]
	d.queue = d.queue[1:]
	return f, nil
}

func (d *videoDecoder) Flush() {
	d.queue = nil
	d.draining = false
}

func (d *videoDecoder) Close() error {
	d.Flush()
	return nil
}

// maxQueuedAudio bounds the decoded frames held by the AAC decoder.
const maxQueuedAudio = 4

// aacDecoder produces silence of the length of each ADTS frame. It keeps
// audio timing and sink scheduling exact without an AAC implementation.
type aacDecoder struct {
	format   media.AudioFormat
	queue    []*media.RawFrame
	draining bool
}

func newAACDecoder(format media.AudioFormat) *aacDecoder {
	return &aacDecoder{format: format}
}

func (d *aacDecoder) SendPacket(p *media.RawPacket) error {
	if p == nil {
		d.draining = true
		return nil
	}
	if len(d.queue) >= maxQueuedAudio {
		return media.ErrAgain
	}
	d.draining = false

	frames, err := bitstream.ParseADTS(p.Data)
	if err != nil {
		return fmt.Errorf("tsfile: decode AAC: %w", err)
	}
	format := d.format
	samples := 0
	for _, f := range frames {
		samples += f.Samples()
		format.SampleRate = f.SampleRate
		if f.Channels > 0 {
			format.Channels = f.Channels
		}
	}
	if samples == 0 || !format.Valid() {
		return nil
	}
	d.format = format
	d.queue = append(d.queue, &media.RawFrame{
		PTS:      p.PTS,
		Duration: int64(samples) * 1_000_000 / int64(format.SampleRate),
		Audio: &media.AudioData{
			Format: format,
			PCM:    make([]byte, samples*format.BytesPerFrame()),
		},
	})
	return nil
}

func (d *aacDecoder) ReceiveFrame() (*media.RawFrame, error) {
	if len(d.queue) == 0 {
		if d.draining {
			return nil, io.EOF
		}
		return nil, media.ErrAgain
	}
	f := d.queue[0]
	d.queue = d.queue[1:]
	return f, nil
}

func (d *aacDecoder) Flush() {
	d.queue = nil
	d.draining = false
}

func (d *aacDecoder) Close() error {
	d.Flush()
	return nil
}
