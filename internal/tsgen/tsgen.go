// Package tsgen synthesizes MPEG transport streams with H.264 video, AAC
// audio and CEA-608 captions. The elementary streams are syntactically
// valid (parsable SPS, IDR/non-IDR slices, ADTS framing, A/53 caption SEI)
// but carry no real picture or sound, which is all the playback tests and
// the demo generator need.
package tsgen

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zsiec/reel/internal/bitstream"
)

// PIDs and program number used by generated streams.
const (
	PMTPID        = 0x1000
	VideoPID      = 0x100
	AudioPID      = 0x101
	ProgramNumber = 1
)

const clockRate = 90000

// ErrInvalidConfig is returned by Generate for an unusable Config.
var ErrInvalidConfig = errors.New("tsgen: invalid config")

// Caption is one CEA-608 roll-up caption shown on CC1 from Start to End.
type Caption struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Config describes the stream to generate.
type Config struct {
	Duration time.Duration
	// StartPTS is the timestamp of the first frame.
	StartPTS time.Duration

	Video     bool
	Width     int
	Height    int
	FrameRate int
	// GOP is the keyframe interval.
	GOP       time.Duration
	SARNum    int
	SARDen    int
	FullRange bool
	Primaries int
	Transfer  int
	Matrix    int

	Audio         bool
	SampleRate    int
	Channels      int
	AudioLanguage string

	Captions []Caption
}

// DefaultConfig returns 10 seconds of 640x360 25fps video with stereo
// 48 kHz audio.
func DefaultConfig() Config {
	return Config{
		Duration:      10 * time.Second,
		StartPTS:      time.Second,
		Video:         true,
		Width:         640,
		Height:        360,
		FrameRate:     25,
		GOP:           time.Second,
		Primaries:     1,
		Transfer:      1,
		Matrix:        1,
		Audio:         true,
		SampleRate:    48000,
		Channels:      2,
		AudioLanguage: "eng",
	}
}

func (c Config) validate() error {
	switch {
	case c.Duration <= 0:
		return fmt.Errorf("%w: duration %v", ErrInvalidConfig, c.Duration)
	case !c.Video && !c.Audio:
		return fmt.Errorf("%w: no streams", ErrInvalidConfig)
	case c.Video && (c.Width <= 0 || c.Height <= 0 || c.FrameRate <= 0):
		return fmt.Errorf("%w: video %dx%d@%d", ErrInvalidConfig, c.Width, c.Height, c.FrameRate)
	case c.Audio && (c.SampleRate <= 0 || c.Channels <= 0):
		return fmt.Errorf("%w: audio %d Hz %d channels", ErrInvalidConfig, c.SampleRate, c.Channels)
	case len(c.Captions) > 0 && !c.Video:
		return fmt.Errorf("%w: captions need a video stream", ErrInvalidConfig)
	}
	return nil
}

// FrameDuration is the duration of one video frame.
func (c Config) FrameDuration() time.Duration {
	return time.Second / time.Duration(c.FrameRate)
}

// AudioFrameDuration is the duration of one AAC frame.
func (c Config) AudioFrameDuration() time.Duration {
	return time.Duration(bitstream.SamplesPerAACFrame) * time.Second / time.Duration(c.SampleRate)
}

// Bytes generates the stream into memory.
func Bytes(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := Generate(&buf, cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Generate writes the stream described by cfg to w.
func Generate(w io.Writer, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	g := &generator{
		cfg:   cfg,
		w:     bw,
		cc:    map[uint16]byte{},
		start: toClock(cfg.StartPTS),
		end:   toClock(cfg.StartPTS + cfg.Duration),
	}
	if cfg.Video {
		g.sps = bitstream.WriteSPS(bitstream.SPSParams{
			Width:      cfg.Width,
			Height:     cfg.Height,
			ProfileIDC: 100,
			LevelIDC:   31,
			SARNum:     cfg.SARNum,
			SARDen:     cfg.SARDen,
			FullRange:  cfg.FullRange,
			Primaries:  cfg.Primaries,
			Transfer:   cfg.Transfer,
			Matrix:     cfg.Matrix,
			FrameRate:  cfg.FrameRate,
		})
		g.captions = scheduleCaptions(cfg.Captions, cfg.FrameRate, g.frameCount())
	}

	if cfg.Video {
		g.writeVideoStream()
	} else {
		g.writeAudioStream()
	}
	if g.err != nil {
		return g.err
	}
	return bw.Flush()
}

func toClock(d time.Duration) int64 {
	return int64(d) * clockRate / int64(time.Second)
}

type generator struct {
	cfg Config
	w   *bufio.Writer
	err error

	cc         map[uint16]byte
	start, end int64
	audioIndex int64

	sps      []byte
	captions map[int]ccPair
}

func (g *generator) frameCount() int {
	return int(int64(g.cfg.Duration) * int64(g.cfg.FrameRate) / int64(time.Second))
}

func (g *generator) writeVideoStream() {
	fps := int64(g.cfg.FrameRate)
	gop := max(1, int(int64(g.cfg.GOP)*fps/int64(time.Second)))

	for i := range g.frameCount() {
		pts := g.start + int64(i)*clockRate/fps
		key := i%gop == 0
		if key {
			g.writePSI()
		}
		g.writeVideoFrame(i, pts, key)
		g.writeAudioUntil(g.start + int64(i+1)*clockRate/fps)
	}
}

func (g *generator) writeAudioStream() {
	for t := g.start; t < g.end; t += clockRate {
		g.writePSI()
		g.writeAudioUntil(t + clockRate)
	}
}

func (g *generator) writePSI() {
	g.writeSection(0, patSection())
	g.writeSection(PMTPID, g.pmtSection())
}

func (g *generator) writeVideoFrame(i int, pts int64, key bool) {
	au := bitstream.AppendAnnexB(nil, []byte{bitstream.NALTypeAUD, 0xF0})
	if key {
		au = bitstream.AppendAnnexB(au, g.sps)
		au = bitstream.AppendAnnexB(au, pps)
	}
	if len(g.cfg.Captions) > 0 {
		au = bitstream.AppendAnnexB(au, captionSEI(g.captions[i]))
	}
	au = bitstream.AppendAnnexB(au, slice(i, key))

	af := adaptationField(pts, key)
	g.write(VideoPID, buildPES(0xE0, pts, au), af)
}

// writeAudioUntil writes the AAC frames that start before limit.
func (g *generator) writeAudioUntil(limit int64) {
	if !g.cfg.Audio {
		return
	}
	limit = min(limit, g.end)
	for {
		pts := g.start + g.audioIndex*bitstream.SamplesPerAACFrame*clockRate/int64(g.cfg.SampleRate)
		if pts >= limit {
			return
		}
		frame, err := bitstream.AppendADTS(nil, 1, g.cfg.SampleRate, g.cfg.Channels, silentAAC)
		if err != nil {
			g.fail(err)
			return
		}
		var af []byte
		if !g.cfg.Video {
			af = adaptationField(pts, true)
		}
		g.write(AudioPID, buildPES(0xC0, pts, frame), af)
		g.audioIndex++
	}
}

func (g *generator) write(pid uint16, payload, af []byte) {
	if g.err != nil {
		return
	}
	cc := g.cc[pid]
	_, err := g.w.Write(packetize(nil, pid, &cc, payload, af))
	g.cc[pid] = cc
	g.fail(err)
}

func (g *generator) writeSection(pid uint16, section []byte) {
	g.write(pid, append([]byte{0}, section...), nil)
}

func (g *generator) fail(err error) {
	if g.err == nil && err != nil {
		g.err = err
	}
}

// pps is a minimal picture parameter set referencing SPS 0.
var pps = []byte{0x68, 0xCE, 0x3C, 0x80}

// silentAAC is one AAC-LC raw data block of digital silence.
var silentAAC = []byte{0x21, 0x10, 0x04, 0x60, 0x8C, 0x1C}

// slice builds an I (IDR) or P slice NAL unit. Only the start of the slice
// header is written, followed by the frame counter.
func slice(i int, key bool) []byte {
	w := &bitstream.BitWriter{}
	w.WriteUE(0) // first_mb_in_slice
	header := byte(0x41)
	if key {
		header = 0x65
		w.WriteUE(7)
	} else {
		w.WriteUE(5)
	}
	w.WriteUE(0) // pic_parameter_set_id
	w.WriteBits(uint(i), 16)
	return append([]byte{header}, bitstream.Escape(w.RBSP())...)
}
