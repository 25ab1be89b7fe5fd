//go:build ffmpeg

package ffmpeg

import (
	"errors"
	"fmt"
	"io"

	astiav "github.com/asticode/go-astiav"

	"github.com/zsiec/reel/internal/media"
)

// decoder wraps an FFmpeg codec context. Audio is converted to interleaved
// S16 in the stream's AudioFormat; video is copied out as yuv420p or nv12,
// other pixel formats are scaled to RGBA.
type decoder struct {
	info  media.StreamInfo
	cc    *astiav.CodecContext
	pkt   *astiav.Packet
	frame *astiav.Frame

	swr *astiav.SoftwareResampleContext
	sws *astiav.SoftwareScaleContext
	rgb *astiav.Frame

	frameDur int64
}

func newDecoder(s *astiav.Stream, info media.StreamInfo) (*decoder, error) {
	par := s.CodecParameters()
	codec := astiav.FindDecoder(par.CodecID())
	if codec == nil {
		return nil, fmt.Errorf("%w: %s", media.ErrNoDecoder, info.CodecName)
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, errors.New("ffmpeg: allocating codec context failed")
	}
	if err := par.ToCodecContext(cc); err != nil {
		cc.Free()
		return nil, fmt.Errorf("ffmpeg: copying codec parameters: %w", err)
	}
	cc.SetPktTimebase(astiav.NewRational(1, 1_000_000))
	if info.Type == media.Video {
		cc.SetThreadCount(0)
	}
	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return nil, fmt.Errorf("%w: opening %s: %w", media.ErrNoDecoder, info.CodecName, err)
	}

	d := &decoder{
		info:  info,
		cc:    cc,
		pkt:   astiav.AllocPacket(),
		frame: astiav.AllocFrame(),
	}
	if info.FrameRate.Valid() {
		d.frameDur = 1_000_000 * int64(info.FrameRate.Den) / int64(info.FrameRate.Num)
	}
	if info.Type == media.Audio {
		d.swr = astiav.AllocSoftwareResampleContext()
	}
	return d, nil
}

func (d *decoder) SendPacket(p *media.RawPacket) error {
	if p == nil {
		return mapError(d.cc.SendPacket(nil))
	}
	if err := d.pkt.FromData(p.Data); err != nil {
		return fmt.Errorf("ffmpeg: packet: %w", err)
	}
	defer d.pkt.Unref()
	d.pkt.SetPts(timestamp(p.PTS))
	d.pkt.SetDts(timestamp(p.DTS))
	d.pkt.SetDuration(p.Duration)
	if p.Keyframe {
		d.pkt.SetFlags(d.pkt.Flags().Add(astiav.PacketFlagKey))
	}
	return mapError(d.cc.SendPacket(d.pkt))
}

func (d *decoder) ReceiveFrame() (*media.RawFrame, error) {
	if err := mapError(d.cc.ReceiveFrame(d.frame)); err != nil {
		return nil, err
	}
	defer d.frame.Unref()

	f := &media.RawFrame{PTS: d.frame.Pts()}
	if f.PTS == astiav.NoPtsValue {
		f.PTS = media.NoTimestamp
	}
	var err error
	switch d.info.Type {
	case media.Audio:
		f.Audio, err = d.audio()
		if err == nil && d.info.Audio.SampleRate > 0 {
			f.Duration = int64(d.frame.NbSamples()) * 1_000_000 / int64(d.info.Audio.SampleRate)
		}
	case media.Video:
		f.Video, err = d.video()
		f.Duration = d.frameDur
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (d *decoder) audio() (*media.AudioData, error) {
	out := astiav.AllocFrame()
	defer out.Free()
	layout := astiav.ChannelLayoutStereo
	if d.info.Audio.Channels == 1 {
		layout = astiav.ChannelLayoutMono
	}
	out.SetChannelLayout(layout)
	out.SetSampleRate(d.info.Audio.SampleRate)
	out.SetSampleFormat(astiav.SampleFormatS16)

	if err := d.swr.ConvertFrame(d.frame, out); err != nil {
		return nil, fmt.Errorf("ffmpeg: resampling: %w", err)
	}
	b, err := out.Data().Bytes(1)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: audio data: %w", err)
	}
	n := min(out.NbSamples()*d.info.Audio.BytesPerFrame(), len(b))
	return &media.AudioData{Format: d.info.Audio, PCM: append([]byte(nil), b[:n]...)}, nil
}

func (d *decoder) video() (*media.VideoData, error) {
	src := d.frame
	w, h := src.Width(), src.Height()
	v := &media.VideoData{
		Width:    w,
		Height:   h,
		Color:    d.info.Color,
		Keyframe: src.KeyFrame(),
	}
	switch src.PixelFormat() {
	case astiav.PixelFormatYuv420P:
		v.PixelFormat = media.PixelFormatYUV420P
	case astiav.PixelFormatNv12:
		v.PixelFormat = media.PixelFormatNV12
	default:
		var err error
		if src, err = d.toRGBA(src); err != nil {
			return nil, err
		}
		v.PixelFormat = media.PixelFormatRGBA
	}

	size, err := src.ImageBufferSize(1)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: image size: %w", err)
	}
	buf := make([]byte, size)
	if _, err := src.ImageCopyToBuffer(buf, 1); err != nil {
		return nil, fmt.Errorf("ffmpeg: image copy: %w", err)
	}
	v.Planes = splitPlanes(v.PixelFormat, w, h, buf)
	return v, nil
}

func (d *decoder) toRGBA(src *astiav.Frame) (*astiav.Frame, error) {
	w, h := src.Width(), src.Height()
	if d.sws == nil || d.rgb.Width() != w || d.rgb.Height() != h {
		d.freeScaler()
		sws, err := astiav.CreateSoftwareScaleContext(w, h, src.PixelFormat(), w, h,
			astiav.PixelFormatRgba, astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear))
		if err != nil {
			return nil, fmt.Errorf("ffmpeg: scaler: %w", err)
		}
		d.sws = sws
		d.rgb = astiav.AllocFrame()
		d.rgb.SetWidth(w)
		d.rgb.SetHeight(h)
		d.rgb.SetPixelFormat(astiav.PixelFormatRgba)
		if err := d.rgb.AllocBuffer(1); err != nil {
			return nil, fmt.Errorf("ffmpeg: rgba buffer: %w", err)
		}
	}
	if err := d.sws.ScaleFrame(src, d.rgb); err != nil {
		return nil, fmt.Errorf("ffmpeg: scaling: %w", err)
	}
	return d.rgb, nil
}

func (d *decoder) freeScaler() {
	if d.sws != nil {
		d.sws.Free()
		d.sws = nil
	}
	if d.rgb != nil {
		d.rgb.Free()
		d.rgb = nil
	}
}

func (d *decoder) Flush() {
	d.cc.FlushBuffers()
}

func (d *decoder) Close() error {
	d.freeScaler()
	if d.swr != nil {
		d.swr.Free()
	}
	d.frame.Free()
	d.pkt.Free()
	d.cc.Free()
	return nil
}

func timestamp(ts int64) int64 {
	if ts == media.NoTimestamp {
		return astiav.NoPtsValue
	}
	return ts
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, astiav.ErrEagain):
		return media.ErrAgain
	case errors.Is(err, astiav.ErrEof):
		return io.EOF
	}
	return fmt.Errorf("ffmpeg: %w", err)
}
