package playback

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/reel/internal/media"
)

var testAudioFormat = media.AudioFormat{SampleRate: 48000, Channels: 2}

func testEnv(cfg Config) env {
	return env{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		stats:   &counters{},
		baseLog: slog.New(slog.DiscardHandler),
	}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %v waiting for %s", timeout, what)
		}
		time.Sleep(time.Millisecond)
	}
}

// settle gives workers time to run anything still queued.
func settle() { time.Sleep(50 * time.Millisecond) }

// directReceiver runs slots on the emitting goroutine.
type directReceiver struct{}

func (directReceiver) invoke(fn func()) { fn() }
func (directReceiver) dead() bool       { return false }

// collector records emitted values.
type collector[T any] struct {
	mu   sync.Mutex
	vals []T
}

func (c *collector[T]) add(v T) {
	c.mu.Lock()
	c.vals = append(c.vals, v)
	c.mu.Unlock()
}

func (c *collector[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.vals)
}

func (c *collector[T]) all() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.vals...)
}

// fakeContainer serves a fixed packet list. Every packet is a keyframe
// unless marked otherwise.
type fakeContainer struct {
	mu       sync.Mutex
	streams  []media.StreamInfo
	packets  []*media.RawPacket
	next     int
	duration int64
	seekable bool
	seekErr  error
	seeks    []int64
	closed   bool
	decoders map[int]*fakeDecoder
	subs     map[int]*fakeSubtitleDecoder
}

func (c *fakeContainer) Streams() []media.StreamInfo { return c.streams }
func (c *fakeContainer) Duration() int64             { return c.duration }
func (c *fakeContainer) Seekable() bool              { return c.seekable }
func (c *fakeContainer) Metadata() media.Metadata    { return media.Metadata{} }

func (c *fakeContainer) ReadPacket() (*media.RawPacket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= len(c.packets) {
		return nil, io.EOF
	}
	p := *c.packets[c.next]
	c.next++
	return &p, nil
}

func (c *fakeContainer) Seek(pos int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seeks = append(c.seeks, pos)
	if c.seekErr != nil {
		return c.seekErr
	}
	c.next = 0
	for i, p := range c.packets {
		if p.Keyframe && p.PTS <= pos {
			c.next = i
		}
	}
	return nil
}

func (c *fakeContainer) OpenDecoder(idx int) (media.Decoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.streams) {
		return nil, media.ErrInvalidStream
	}
	if c.streams[idx].Type == media.Subtitle {
		d := &fakeSubtitleDecoder{}
		if c.subs == nil {
			c.subs = map[int]*fakeSubtitleDecoder{}
		}
		c.subs[idx] = d
		return d, nil
	}
	d := &fakeDecoder{stream: c.streams[idx]}
	if c.decoders == nil {
		c.decoders = map[int]*fakeDecoder{}
	}
	c.decoders[idx] = d
	return d, nil
}

func (c *fakeContainer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeContainer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDecoder turns each packet into one frame. With lag set it holds
// that many frames back until drained.
type fakeDecoder struct {
	mu      sync.Mutex
	stream  media.StreamInfo
	lag     int
	queue   []*media.RawFrame
	eof     bool
	flushes int
	closed  int
	failAt  int64
}

func (d *fakeDecoder) SendPacket(p *media.RawPacket) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p == nil {
		d.eof = true
		return nil
	}
	if len(d.queue) > d.lag {
		return media.ErrAgain
	}
	f := &media.RawFrame{PTS: p.PTS, Duration: p.Duration}
	switch d.stream.Type {
	case media.Video:
		f.Video = &media.VideoData{Width: 16, Height: 16, PixelFormat: media.PixelFormatYUV420P, Planes: [][]byte{p.Data}}
	case media.Audio:
		f.Audio = &media.AudioData{
			Format: testAudioFormat,
			PCM:    make([]byte, testAudioFormat.BytesForDuration(time.Duration(p.Duration)*time.Microsecond)),
		}
	}
	d.queue = append(d.queue, f)
	return nil
}

func (d *fakeDecoder) ReceiveFrame() (*media.RawFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 || (!d.eof && len(d.queue) <= d.lag) {
		if d.eof {
			return nil, io.EOF
		}
		return nil, media.ErrAgain
	}
	f := d.queue[0]
	d.queue = d.queue[1:]
	if d.failAt != 0 && f.PTS == d.failAt {
		return nil, errors.New("corrupt frame")
	}
	return f, nil
}

func (d *fakeDecoder) Flush() {
	d.mu.Lock()
	d.queue = nil
	d.eof = false
	d.flushes++
	d.mu.Unlock()
}

func (d *fakeDecoder) Close() error {
	d.mu.Lock()
	d.closed++
	d.mu.Unlock()
	return nil
}

func (d *fakeDecoder) flushCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushes
}

// fakeSubtitleDecoder decodes packet data as untimed text unless subs is
// set.
type fakeSubtitleDecoder struct {
	subs func(p *media.RawPacket) []media.SubtitleCue
}

func (d *fakeSubtitleDecoder) DecodeSubtitle(p *media.RawPacket) ([]media.SubtitleCue, error) {
	if p == nil {
		return nil, nil
	}
	if d.subs != nil {
		return d.subs(p), nil
	}
	return []media.SubtitleCue{{PTS: media.NoTimestamp, Text: string(p.Data)}}, nil
}

func (d *fakeSubtitleDecoder) SendPacket(*media.RawPacket) error      { return nil }
func (d *fakeSubtitleDecoder) ReceiveFrame() (*media.RawFrame, error) { return nil, io.EOF }
func (d *fakeSubtitleDecoder) Flush()                                 {}
func (d *fakeSubtitleDecoder) Close() error                           { return nil }

// mediaPackets returns count packets of stream idx, step microseconds
// apart starting at 0.
func mediaPackets(idx, count int, step int64) []*media.RawPacket {
	out := make([]*media.RawPacket, count)
	for i := range out {
		out[i] = &media.RawPacket{
			StreamIndex: idx,
			PTS:         int64(i) * step,
			DTS:         int64(i) * step,
			Duration:    step,
			Keyframe:    true,
			Pos:         -1,
			Data:        []byte{byte(i)},
		}
	}
	return out
}

// videoContainer is a seekable container with one video stream of count
// 40ms frames.
func videoContainer(count int) *fakeContainer {
	const step = 40_000
	return &fakeContainer{
		streams: []media.StreamInfo{{
			Index:     0,
			Type:      media.Video,
			CodecName: "h264",
			Default:   true,
			Duration:  int64(count) * step,
			Width:     16,
			Height:    16,
		}},
		packets:  mediaPackets(0, count, step),
		duration: int64(count) * step,
		seekable: true,
	}
}

type testVideoSink struct {
	mu     sync.Mutex
	frames []VideoFrame
	texts  []string
	w, h   int
}

func (s *testVideoSink) SetVideoFrame(f VideoFrame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
}

func (s *testVideoSink) SetSubtitleText(text string) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
}

func (s *testVideoSink) SetNativeSize(w, h int) {
	s.mu.Lock()
	s.w, s.h = w, h
	s.mu.Unlock()
}

func (s *testVideoSink) NativeSize() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w, s.h
}

// pictures returns the valid frames shown so far.
func (s *testVideoSink) pictures() []VideoFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []VideoFrame
	for _, f := range s.frames {
		if f.IsValid() {
			out = append(out, f)
		}
	}
	return out
}

func (s *testVideoSink) subtitles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *testVideoSink) reset() {
	s.mu.Lock()
	s.frames = nil
	s.texts = nil
	s.mu.Unlock()
}

// testAudioSink plays its buffer out in real time.
type testAudioSink struct {
	mu       sync.Mutex
	format   media.AudioFormat
	size     int
	buffered int
	last     time.Time
	written  int
	started  bool
}

func newTestAudioSink() *testAudioSink {
	return &testAudioSink{
		format: testAudioFormat,
		size:   testAudioFormat.BytesForDuration(200 * time.Millisecond),
	}
}

func (s *testAudioSink) drain() {
	now := time.Now()
	if !s.last.IsZero() {
		played := s.format.BytesForDuration(now.Sub(s.last))
		s.buffered = max(s.buffered-played, 0)
	}
	s.last = now
}

func (s *testAudioSink) Format() media.AudioFormat { return s.format }
func (s *testAudioSink) BufferSize() int           { return s.size }

func (s *testAudioSink) Write(pcm []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drain()
	n := min(len(pcm), s.size-s.buffered)
	n -= n % s.format.BytesPerFrame()
	s.buffered += n
	s.written += n
	s.started = s.started || n > 0
	return n
}

func (s *testAudioSink) BytesFree() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drain()
	return s.size - s.buffered
}

func (s *testAudioSink) State() AudioState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drain()
	if s.started && s.buffered == 0 {
		return AudioIdle
	}
	return AudioActive
}

func (s *testAudioSink) bytesWritten() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
