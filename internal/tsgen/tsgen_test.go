package tsgen

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/zsiec/ccx"
	"github.com/zsiec/reel/internal/bitstream"
	"github.com/zsiec/reel/internal/mpegts"
)

type parsed struct {
	pmts      int
	streams   map[uint16]*mpegts.PMTElementaryStream
	video     []*mpegts.DemuxerData
	audio     []*mpegts.DemuxerData
	keyframes int
}

func parse(t *testing.T, data []byte) *parsed {
	t.Helper()

	if len(data)%packetSize != 0 {
		t.Fatalf("output length %d is not a multiple of %d", len(data), packetSize)
	}

	p := &parsed{streams: map[uint16]*mpegts.PMTElementaryStream{}}
	dmx := mpegts.NewDemuxer(context.Background(), bytes.NewReader(data))
	for {
		d, err := dmx.NextData()
		if errors.Is(err, io.EOF) {
			return p
		}
		if err != nil {
			t.Fatalf("NextData: %v", err)
		}
		switch {
		case d.PMT != nil:
			p.pmts++
			for _, es := range d.PMT.ElementaryStreams {
				p.streams[es.ElementaryPID] = es
			}
		case d.PES != nil && d.FirstPacket.Header.PID == VideoPID:
			p.video = append(p.video, d)
			if bitstream.IsKeyframe(d.PES.Data) {
				p.keyframes++
				if !d.FirstPacket.Header.RandomAccessIndicator {
					t.Errorf("keyframe at %d without random access indicator", d.FirstPacket.Offset)
				}
			}
		case d.PES != nil && d.FirstPacket.Header.PID == AudioPID:
			p.audio = append(p.audio, d)
		}
	}
}

func TestGenerateDefault(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Duration = 2 * time.Second
	data, err := Bytes(cfg)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	p := parse(t, data)

	if got := len(p.video); got != 50 {
		t.Errorf("video frames: got %d, want 50", got)
	}
	if p.keyframes != 2 {
		t.Errorf("keyframes: got %d, want 2", p.keyframes)
	}
	if p.pmts != 2 {
		t.Errorf("PMTs: got %d, want 2", p.pmts)
	}
	// 2s at 48 kHz is 93.75 AAC frames.
	if got := len(p.audio); got != 94 {
		t.Errorf("audio frames: got %d, want 94", got)
	}

	if es := p.streams[AudioPID]; es == nil || es.Language != "eng" || es.StreamType != mpegts.StreamTypeAAC {
		t.Errorf("audio stream: got %+v", es)
	}
	if es := p.streams[VideoPID]; es == nil || es.StreamType != mpegts.StreamTypeH264 {
		t.Errorf("video stream: got %+v", es)
	}

	first := p.video[0].PES.Header.OptionalHeader.PTS.Base
	if first != 90000 {
		t.Errorf("first video PTS: got %d, want 90000", first)
	}
	second := p.video[1].PES.Header.OptionalHeader.PTS.Base
	if second-first != 3600 {
		t.Errorf("frame spacing: got %d, want 3600", second-first)
	}

	var prev int64 = -1
	for _, a := range p.audio {
		pts := a.PES.Header.OptionalHeader.PTS.Base
		if pts <= prev {
			t.Fatalf("audio PTS not increasing: %d after %d", pts, prev)
		}
		prev = pts
		frames, err := bitstream.ParseADTS(a.PES.Data)
		if err != nil || len(frames) != 1 {
			t.Fatalf("ParseADTS: %d frames, err %v", len(frames), err)
		}
		if frames[0].SampleRate != 48000 || frames[0].Channels != 2 {
			t.Errorf("ADTS format: got %d Hz %d ch", frames[0].SampleRate, frames[0].Channels)
		}
	}
}

func TestGenerateSPS(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Duration = time.Second
	cfg.Audio = false
	cfg.Width, cfg.Height = 720, 480
	cfg.SARNum, cfg.SARDen = 8, 9
	cfg.FullRange = true
	cfg.Transfer = 16
	data, err := Bytes(cfg)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	p := parse(t, data)
	if len(p.video) == 0 {
		t.Fatal("no video")
	}

	var sps *bitstream.SPS
	for _, nal := range bitstream.ParseAnnexB(p.video[0].PES.Data) {
		if nal.Type == bitstream.NALTypeSPS {
			s, err := bitstream.ParseSPS(nal.Data)
			if err != nil {
				t.Fatalf("ParseSPS: %v", err)
			}
			sps = &s
		}
	}
	if sps == nil {
		t.Fatal("keyframe without SPS")
	}
	if sps.Width != 720 || sps.Height != 480 {
		t.Errorf("size: got %dx%d, want 720x480", sps.Width, sps.Height)
	}
	if sps.VUI.SARNum != 8 || sps.VUI.SARDen != 9 {
		t.Errorf("SAR: got %d:%d, want 8:9", sps.VUI.SARNum, sps.VUI.SARDen)
	}
	if !sps.VUI.VideoFullRange || sps.VUI.TransferFunction != 16 {
		t.Errorf("colour: got %+v", sps.VUI)
	}
	if num, den := sps.VUI.FrameRate(); num != 25*den {
		t.Errorf("frame rate: got %d/%d, want 25", num, den)
	}
}

func TestGenerateAudioOnly(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Video = false
	cfg.Duration = 3 * time.Second
	cfg.SampleRate = 44100
	cfg.Channels = 1
	data, err := Bytes(cfg)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	p := parse(t, data)
	if len(p.video) != 0 {
		t.Errorf("video frames: got %d, want 0", len(p.video))
	}
	if p.pmts != 3 {
		t.Errorf("PMTs: got %d, want 3", p.pmts)
	}
	// 3s * 44100 / 1024 = 129.2
	if got := len(p.audio); got != 130 {
		t.Errorf("audio frames: got %d, want 130", got)
	}
}

func TestGenerateCaptions(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Duration = 2 * time.Second
	cfg.Audio = false
	cfg.Captions = []Caption{{Start: 200 * time.Millisecond, End: 1500 * time.Millisecond, Text: "HI\tTHERE"}}
	data, err := Bytes(cfg)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	p := parse(t, data)

	var pairs [][2]byte
	var seis int
	for _, v := range p.video {
		for _, nal := range bitstream.ParseAnnexB(v.PES.Data) {
			if nal.Type != bitstream.NALTypeSEI {
				continue
			}
			seis++
			// Frames without a caption carry a null pair, which yields
			// no caption data.
			cd := ccx.ExtractCaptions(nal.Data)
			if cd == nil {
				continue
			}
			for _, pair := range cd.CC608Pairs {
				if pair.Data[0]&0x7F == 0 && pair.Data[1]&0x7F == 0 {
					continue
				}
				if pair.Channel != 1 {
					t.Errorf("channel: got %d, want 1", pair.Channel)
				}
				pairs = append(pairs, pair.Data)
			}
		}
	}

	if seis != len(p.video) {
		t.Errorf("caption SEIs: got %d, want one per picture (%d)", seis, len(p.video))
	}

	want := [][2]byte{
		{0x14, 0x25}, {0x14, 0x25},
		{0x14, 0x2C}, {0x14, 0x2C},
		{0x14, 0x60}, {0x14, 0x60},
		{'H', 'I'}, {' ', 'T'}, {'H', 'E'}, {'R', 'E'},
		{0x14, 0x2C}, {0x14, 0x2C},
	}
	if len(pairs) != len(want) {
		t.Fatalf("pairs: got %d %x, want %d", len(pairs), pairs, len(want))
	}
	for i := range want {
		if pairs[i][0]&0x7F != want[i][0] || pairs[i][1]&0x7F != want[i][1] {
			t.Errorf("pair %d: got %x, want %x", i, pairs[i], want[i])
		}
	}
}

func TestNormalizeCaption(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"hello", "hello"},
		{"  two\n lines ", "two lines"},
		{"café", "caf?"},
		{"0123456789012345678901234567890123456789", "01234567890123456789012345678901"},
	}
	for _, tt := range tests {
		if got := NormalizeCaption(tt.in); got != tt.want {
			t.Errorf("NormalizeCaption(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAddParity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want byte
	}{
		{0x00, 0x80},
		{0x14, 0x94},
		{0x2C, 0x2C},
		{0x25, 0x25},
		{'A', 0xC1},
	}
	for _, tt := range tests {
		if got := addParity(tt.in); got != tt.want {
			t.Errorf("addParity(0x%02X): got 0x%02X, want 0x%02X", tt.in, got, tt.want)
		}
	}
}

func TestPacketizeStuffing(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 182, 183, 184, 185, 400} {
		var cc byte
		payload := bytes.Repeat([]byte{0xAB}, n)
		out := packetize(nil, 0x100, &cc, payload, nil)
		if len(out)%packetSize != 0 {
			t.Fatalf("n=%d: length %d", n, len(out))
		}
		var got []byte
		for off := 0; off < len(out); off += packetSize {
			pkt := out[off : off+packetSize]
			start := 4
			if pkt[3]&0x20 != 0 {
				start = 5 + int(pkt[4])
			}
			got = append(got, pkt[start:]...)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("n=%d: payload mismatch, got %d bytes", n, len(got))
		}
		if want := byte((n + 183) / 184); cc != want&0x0F {
			t.Errorf("n=%d: continuity counter %d, want %d", n, cc, want)
		}
	}
}

func TestInvalidConfig(t *testing.T) {
	t.Parallel()

	bad := []func(*Config){
		func(c *Config) { c.Duration = 0 },
		func(c *Config) { c.Video, c.Audio = false, false },
		func(c *Config) { c.FrameRate = 0 },
		func(c *Config) { c.SampleRate = 0 },
		func(c *Config) {
			c.Video = false
			c.Captions = []Caption{{Text: "x"}}
		},
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := Generate(io.Discard, cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("case %d: got %v, want ErrInvalidConfig", i, err)
		}
	}
}
