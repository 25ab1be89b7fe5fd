//go:build ffmpeg

// Package ffmpeg is a media.Container backend built on FFmpeg through
// go-astiav. It registers itself as the preferred source format when the
// binary is built with the ffmpeg tag.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	astiav "github.com/asticode/go-astiav"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/source"
)

// Format is the name the backend registers under.
const Format = "ffmpeg"

const ioBufferSize = 64 << 10

var microseconds = astiav.NewRational(1, 1_000_000)

func init() {
	source.Register(Format, 10, Open)
}

// Container is an FFmpeg demuxer.
type Container struct {
	log     *slog.Logger
	fc      *astiav.FormatContext
	ioc     *astiav.IOContext
	input   io.Reader
	pkt     *astiav.Packet
	streams []media.StreamInfo
	bases   []astiav.Rational
	start   int64
	live    bool
}

// Open opens in with FFmpeg. Local files are opened by path; other inputs
// are read through a custom I/O context.
func Open(ctx context.Context, in source.Input, log *slog.Logger) (media.Container, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Container{
		log:   log.With("component", "ffmpeg"),
		fc:    astiav.AllocFormatContext(),
		input: in.Reader,
		live:  in.Live,
	}
	if c.fc == nil {
		return nil, errors.New("ffmpeg: allocating format context failed")
	}

	url := in.Path
	if url == "" {
		ioc, err := astiav.AllocIOContext(ioBufferSize, false, c.read, c.seekFunc(), nil)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("ffmpeg: allocating io context: %w", err)
		}
		c.ioc = ioc
		c.fc.SetPb(ioc)
	}

	if err := c.fc.OpenInput(url, nil, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: opening input: %w", source.ErrInvalidData, err)
	}
	if ctx.Err() != nil {
		c.Close()
		return nil, ctx.Err()
	}
	if err := c.fc.FindStreamInfo(nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: finding stream info: %w", source.ErrInvalidData, err)
	}

	c.start = c.fc.StartTime()
	if c.start == astiav.NoPtsValue {
		c.start = 0
	}
	for _, s := range c.fc.Streams() {
		c.streams = append(c.streams, c.streamInfo(s))
		c.bases = append(c.bases, s.TimeBase())
	}
	c.pkt = astiav.AllocPacket()

	c.log.Info("opened input",
		"format", c.fc.InputFormat().Name(),
		"streams", len(c.streams),
		"duration_us", c.Duration(),
	)
	return c, nil
}

func (c *Container) read(b []byte) (int, error) {
	n, err := c.input.Read(b)
	if n > 0 {
		return n, nil
	}
	return n, err
}

func (c *Container) seekFunc() astiav.IOContextSeekFunc {
	rs, ok := c.input.(io.Seeker)
	if !ok || c.live {
		return nil
	}
	return func(offset int64, whence int) (int64, error) {
		return rs.Seek(offset, whence)
	}
}

func (c *Container) streamInfo(s *astiav.Stream) media.StreamInfo {
	par := s.CodecParameters()
	info := media.StreamInfo{
		Index:     s.Index(),
		Type:      trackType(par.MediaType()),
		CodecName: par.CodecID().Name(),
		BitRate:   par.BitRate(),
	}
	disp := s.DispositionFlags()
	info.Default = disp.Has(astiav.StreamDispositionFlagDefault)
	info.AttachedPicture = disp.Has(astiav.StreamDispositionFlagAttachedPic)
	info.Language = dictValue(s.Metadata(), "language")
	info.Title = dictValue(s.Metadata(), "title")

	tb := s.TimeBase()
	if d := s.Duration(); d != astiav.NoPtsValue && d > 0 {
		info.Duration = astiav.RescaleQ(d, tb, microseconds)
	}
	if st := s.StartTime(); st != astiav.NoPtsValue {
		info.StartTime = astiav.RescaleQ(st, tb, microseconds) - c.start
	}

	switch info.Type {
	case media.Video:
		info.Width, info.Height = par.Width(), par.Height()
		if fr := s.AvgFrameRate(); fr.Num() > 0 && fr.Den() > 0 {
			info.FrameRate = media.Rational{Num: fr.Num(), Den: fr.Den()}
		}
		if sar := par.SampleAspectRatio(); sar.Num() > 0 && sar.Den() > 0 {
			info.PixelAspect = media.Rational{Num: sar.Num(), Den: sar.Den()}
		}
		info.Color = media.ColorInfo{
			Range:     colorRange(par.ColorRange()),
			Primaries: int(par.ColorPrimaries()),
			Transfer:  int(par.ColorTransferCharacteristic()),
			Matrix:    int(par.ColorSpace()),
		}
		if r, err := strconv.Atoi(dictValue(s.Metadata(), "rotate")); err == nil {
			info.Transform.Rotation = ((r % 360) + 360) % 360
		}
	case media.Audio:
		info.Audio = media.AudioFormat{
			SampleRate: par.SampleRate(),
			Channels:   min(max(par.ChannelLayout().Channels(), 1), 2),
		}
	}
	return info
}

func trackType(t astiav.MediaType) media.TrackType {
	switch t {
	case astiav.MediaTypeVideo:
		return media.Video
	case astiav.MediaTypeAudio:
		return media.Audio
	case astiav.MediaTypeSubtitle:
		return media.Subtitle
	}
	return media.NumTrackTypes
}

func colorRange(r astiav.ColorRange) media.ColorRange {
	switch r {
	case astiav.ColorRangeJpeg:
		return media.ColorRangeFull
	case astiav.ColorRangeMpeg:
		return media.ColorRangeVideo
	}
	return media.ColorRangeUnknown
}

func dictValue(d *astiav.Dictionary, key string) string {
	if d == nil {
		return ""
	}
	if e := d.Get(key, nil, astiav.NewDictionaryFlags()); e != nil {
		return e.Value()
	}
	return ""
}

func (c *Container) Streams() []media.StreamInfo { return c.streams }

func (c *Container) Duration() int64 {
	if d := c.fc.Duration(); d != astiav.NoPtsValue && d > 0 {
		return d
	}
	return 0
}

func (c *Container) Seekable() bool {
	return !c.live && c.Duration() > 0
}

func (c *Container) Metadata() media.Metadata {
	m := media.Metadata{media.MetaFileFormat: c.fc.InputFormat().Name()}
	if t := dictValue(c.fc.Metadata(), "title"); t != "" {
		m[media.MetaTitle] = t
	}
	if br := c.fc.BitRate(); br > 0 {
		m[media.MetaBitRate] = strconv.FormatInt(br, 10)
	}
	for _, s := range c.streams {
		switch {
		case s.Type == media.Video && m[media.MetaVideoCodec] == "" && !s.AttachedPicture:
			m[media.MetaVideoCodec] = s.CodecName
			m[media.MetaResolution] = fmt.Sprintf("%dx%d", s.Width, s.Height)
			if s.FrameRate.Valid() {
				m[media.MetaFrameRate] = strconv.FormatFloat(s.FrameRate.Float(), 'f', -1, 64)
			}
			if s.Color.HDR() {
				m[media.MetaHDR] = "true"
			}
		case s.Type == media.Audio && m[media.MetaAudioCodec] == "":
			m[media.MetaAudioCodec] = s.CodecName
		}
	}
	return m
}

// ReadPacket returns the next packet with timestamps rescaled to
// microseconds from the container start.
func (c *Container) ReadPacket() (*media.RawPacket, error) {
	if err := c.fc.ReadFrame(c.pkt); err != nil {
		if errors.Is(err, astiav.ErrEof) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("ffmpeg: reading frame: %w", err)
	}
	defer c.pkt.Unref()

	idx := c.pkt.StreamIndex()
	if idx < 0 || idx >= len(c.bases) {
		return nil, fmt.Errorf("%w: %d", media.ErrInvalidStream, idx)
	}
	tb := c.bases[idx]
	p := &media.RawPacket{
		StreamIndex: idx,
		PTS:         c.timestamp(c.pkt.Pts(), tb),
		DTS:         c.timestamp(c.pkt.Dts(), tb),
		Keyframe:    c.pkt.Flags().Has(astiav.PacketFlagKey),
		Pos:         c.pkt.Pos(),
		Data:        append([]byte(nil), c.pkt.Data()...),
	}
	if d := c.pkt.Duration(); d > 0 {
		p.Duration = astiav.RescaleQ(d, tb, microseconds)
	}
	if p.PTS == media.NoTimestamp {
		p.PTS = p.DTS
	}
	return p, nil
}

func (c *Container) timestamp(ts int64, tb astiav.Rational) int64 {
	if ts == astiav.NoPtsValue {
		return media.NoTimestamp
	}
	return astiav.RescaleQ(ts, tb, microseconds) - c.start
}

// Seek goes to the last keyframe at or before pos.
func (c *Container) Seek(pos int64) error {
	if !c.Seekable() {
		return media.ErrNotSeekable
	}
	if err := c.fc.SeekFrame(-1, pos+c.start, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return fmt.Errorf("ffmpeg: seeking to %d: %w", pos, err)
	}
	return nil
}

func (c *Container) OpenDecoder(streamIndex int) (media.Decoder, error) {
	if streamIndex < 0 || streamIndex >= len(c.streams) {
		return nil, fmt.Errorf("%w: %d", media.ErrInvalidStream, streamIndex)
	}
	info := c.streams[streamIndex]
	if info.Type == media.Subtitle {
		if d := NewTextDecoder(info.CodecName); d != nil {
			return d, nil
		}
		return nil, fmt.Errorf("%w: %s", media.ErrNoDecoder, info.CodecName)
	}
	return newDecoder(c.fc.Streams()[streamIndex], info)
}

func (c *Container) Close() error {
	if c.pkt != nil {
		c.pkt.Free()
		c.pkt = nil
	}
	if c.fc != nil {
		c.fc.CloseInput()
		c.fc.Free()
		c.fc = nil
	}
	if c.ioc != nil {
		c.ioc.Free()
		c.ioc = nil
	}
	if cl, ok := c.input.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}
