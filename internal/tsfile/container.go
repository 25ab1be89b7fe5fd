// Package tsfile is a pure-Go media.Container for MPEG transport streams
// carrying H.264/H.265 video, ADTS AAC audio and CEA-608 captions.
//
// Seekable inputs are scanned once when opened to index random access
// points, stream durations and caption channels. Other inputs are analyzed
// for a short window and then played as live streams.
package tsfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/mpegts"
)

var (
	ErrNoProgram = errors.New("tsfile: no program map table")
	ErrNoStreams = errors.New("tsfile: no playable streams")
)

const (
	clockRate = 90000

	defaultAnalyzeDuration = time.Second
	defaultAnalyzeSize     = 4 << 20
	readBufferSize         = 64 << 10
)

// Options configures Open.
type Options struct {
	// Live disables indexing even when the input can seek.
	Live bool
	// AnalyzeDuration is how much media is read from a live input to discover
	// its streams. Default 1s.
	AnalyzeDuration time.Duration
	// AnalyzeSize bounds the bytes read while analyzing. Default 4 MiB.
	AnalyzeSize int64
	// PacketSize is 188, 192 or 204. Default 188.
	PacketSize int
	Logger     *slog.Logger
}

// Container is an opened transport stream. It is not safe for concurrent
// use.
type Container struct {
	log    *slog.Logger
	opts   Options
	cancel context.CancelFunc
	r      io.Reader
	rs     io.ReadSeeker
	br     *bufio.Reader
	dmx    *mpegts.Demuxer

	hasPMT   bool
	es       []*elementary
	byPID    map[uint16]*elementary
	video    *elementary // first H.264/H.265 stream, carries the captions
	indexed  *elementary // stream whose random access points are indexed
	captions []*captionStream
	streams  []media.StreamInfo

	start    int64 // 90 kHz timestamp of position 0
	duration int64
	index    []accessPoint
	meta     media.Metadata

	ahead   []*mpegts.DemuxerData
	pending []*media.RawPacket
	cc      captionFilter
}

type accessPoint struct {
	pts    int64 // 90 kHz while scanning, microseconds afterwards
	offset int64
}

// Open reads enough of r to describe its streams. If r is an io.ReadSeeker
// (and Options.Live is unset) the whole input is indexed and the container
// is seekable. Close closes r if it is an io.Closer.
func Open(ctx context.Context, r io.Reader, opts Options) (*Container, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AnalyzeDuration <= 0 {
		opts.AnalyzeDuration = defaultAnalyzeDuration
	}
	if opts.AnalyzeSize <= 0 {
		opts.AnalyzeSize = defaultAnalyzeSize
	}
	if opts.PacketSize == 0 {
		opts.PacketSize = 188
	}

	// ctx bounds opening only; the demuxer lives until Close.
	life, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	c := &Container{
		log:    opts.Logger.With("component", "tsfile"),
		opts:   opts,
		cancel: cancel,
		r:      r,
		br:     bufio.NewReaderSize(r, readBufferSize),
		byPID:  make(map[uint16]*elementary),
	}
	if rs, ok := r.(io.ReadSeeker); ok && !opts.Live {
		if _, err := rs.Seek(0, io.SeekStart); err == nil {
			c.rs = rs
		}
	}
	c.dmx = mpegts.NewDemuxer(life, c.br, mpegts.WithPacketSize(opts.PacketSize))

	var err error
	if c.rs != nil {
		err = c.scan()
	} else {
		err = c.analyze()
	}
	if !stop() {
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		return nil, err
	}

	c.log.Debug("opened transport stream",
		"streams", len(c.streams),
		"seekable", c.Seekable(),
		"duration", time.Duration(c.duration)*time.Microsecond,
		"accessPoints", len(c.index),
	)
	return c, nil
}

// Streams describes the streams in stream index order: the elementary
// streams of the program map, then one subtitle stream per caption channel.
func (c *Container) Streams() []media.StreamInfo { return c.streams }

// Duration in microseconds, 0 for live inputs.
func (c *Container) Duration() int64 { return c.duration }

// Seekable reports whether the input was indexed.
func (c *Container) Seekable() bool { return c.rs != nil }

// Metadata describes the container.
func (c *Container) Metadata() media.Metadata { return c.meta }

// ReadPacket returns the next packet in stream order. Timestamps are
// microseconds relative to the earliest timestamp of the input.
func (c *Container) ReadPacket() (*media.RawPacket, error) {
	for len(c.pending) == 0 {
		d, err := c.nextData()
		if err != nil {
			return nil, err
		}
		if d.PES != nil {
			c.pending = c.packets(d)
		}
	}
	p := c.pending[0]
	c.pending = c.pending[1:]
	return p, nil
}

func (c *Container) nextData() (*mpegts.DemuxerData, error) {
	if len(c.ahead) > 0 {
		d := c.ahead[0]
		c.ahead = c.ahead[1:]
		return d, nil
	}
	return c.dmx.NextData()
}

// Seek positions the input at the last random access point at or before
// pos.
func (c *Container) Seek(pos int64) error {
	if c.rs == nil {
		return media.ErrNotSeekable
	}
	var off int64
	i, found := slices.BinarySearchFunc(c.index, pos, func(ap accessPoint, pos int64) int {
		switch {
		case ap.pts < pos:
			return -1
		case ap.pts > pos:
			return 1
		}
		return 0
	})
	if !found {
		i--
	}
	if i >= 0 {
		off = c.index[i].offset
	}
	if err := c.rewind(off); err != nil {
		return err
	}
	c.log.Debug("seek", "pos", pos, "offset", off)
	return nil
}

func (c *Container) rewind(off int64) error {
	if _, err := c.rs.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("tsfile: seek to offset %d: %w", off, err)
	}
	c.br.Reset(c.rs)
	c.dmx.Reset(off)
	c.pending = nil
	c.cc = captionFilter{}
	for _, e := range c.es {
		e.nextPTS = -1
	}
	for _, cs := range c.captions {
		cs.lastSent = -1
	}
	return nil
}

// OpenDecoder opens a decoder for the stream with the given index.
func (c *Container) OpenDecoder(streamIndex int) (media.Decoder, error) {
	if streamIndex < 0 || streamIndex >= len(c.streams) {
		return nil, fmt.Errorf("%w: %d", media.ErrInvalidStream, streamIndex)
	}
	info := c.streams[streamIndex]
	for _, cs := range c.captions {
		if cs.index == streamIndex {
			return newCaptionDecoder(), nil
		}
	}
	for _, e := range c.es {
		if e.index != streamIndex {
			continue
		}
		switch e.kind {
		case kindH264, kindH265:
			return newVideoDecoder(info), nil
		case kindAAC:
			return newAACDecoder(info.Audio), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", media.ErrNoDecoder, info.CodecName)
}

// Close stops reading and closes the input if it is an io.Closer.
func (c *Container) Close() error {
	c.cancel()
	if cl, ok := c.r.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// us converts a 90 kHz timestamp to microseconds relative to the start.
func (c *Container) us(ts int64) int64 {
	return (ts - c.start) * 100 / 9
}

func ticksToUs(ticks int64) int64 {
	return ticks * 100 / 9
}
