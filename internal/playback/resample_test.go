package playback

import (
	"encoding/binary"
	"slices"
	"testing"

	"github.com/zsiec/reel/internal/media"
)

func pcm(vals ...int16) []byte {
	out := make([]byte, 0, 2*len(vals))
	for _, s := range vals {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

func samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

func TestResamplerPassthrough(t *testing.T) {
	t.Parallel()

	f := media.AudioFormat{SampleRate: 48000, Channels: 2}
	r := newResampler(f, f, 1)
	in := pcm(1, 2, 3, 4)
	out := r.resample(&media.AudioData{Format: f, PCM: in})
	if string(out) != string(in) {
		t.Errorf("passthrough: got %v, want %v", out, in)
	}
	in[0] = 99
	if out[0] == 99 {
		t.Error("passthrough output aliases the input")
	}
}

func TestResamplerLength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in, out media.AudioFormat
		rate    float64
	}{
		{"upsample", media.AudioFormat{SampleRate: 44100, Channels: 2}, media.AudioFormat{SampleRate: 48000, Channels: 2}, 1},
		{"downsample", media.AudioFormat{SampleRate: 48000, Channels: 1}, media.AudioFormat{SampleRate: 16000, Channels: 1}, 1},
		{"double speed", media.AudioFormat{SampleRate: 48000, Channels: 2}, media.AudioFormat{SampleRate: 48000, Channels: 2}, 2},
		{"half speed", media.AudioFormat{SampleRate: 48000, Channels: 2}, media.AudioFormat{SampleRate: 48000, Channels: 2}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newResampler(tt.in, tt.out, tt.rate)
			const blocks, blockFrames = 50, 1024
			total := 0
			for range blocks {
				block := make([]byte, blockFrames*tt.in.BytesPerFrame())
				out := r.resample(&media.AudioData{Format: tt.in, PCM: block})
				total += len(out) / tt.out.BytesPerFrame()
			}
			want := float64(blocks*blockFrames) * float64(tt.out.SampleRate) / float64(tt.in.SampleRate) / tt.rate
			if diff := float64(total) - want; diff < -2 || diff > 2 {
				t.Errorf("frames: got %d, want %.0f", total, want)
			}
		})
	}
}

func TestResamplerChannels(t *testing.T) {
	t.Parallel()

	// Matching rates with a channel change keep every frame.
	mono := media.AudioFormat{SampleRate: 8000, Channels: 1}
	stereo := media.AudioFormat{SampleRate: 8000, Channels: 2}

	up := newResampler(mono, stereo, 1)
	got := samples(up.resample(&media.AudioData{Format: mono, PCM: pcm(100, 200, 300)}))
	// The last input frame is carried into the next block.
	want := []int16{100, 100, 200, 200}
	if !slices.Equal(got, want) {
		t.Errorf("mono to stereo: got %v, want %v", got, want)
	}

	down := newResampler(stereo, mono, 1)
	got = samples(down.resample(&media.AudioData{Format: stereo, PCM: pcm(100, 300, -50, 50, 0, 0)}))
	want = []int16{200, 0}
	if !slices.Equal(got, want) {
		t.Errorf("stereo to mono: got %v, want %v", got, want)
	}
}

func TestResamplerJoinsBlocks(t *testing.T) {
	t.Parallel()

	f := media.AudioFormat{SampleRate: 8000, Channels: 1}
	r := newResampler(f, f, 2)
	var got []int16
	for _, block := range [][]int16{{0, 10, 20}, {30, 40, 50}, {60, 70, 80}} {
		got = append(got, samples(r.resample(&media.AudioData{Format: f, PCM: pcm(block...)}))...)
	}
	want := []int16{0, 20, 40, 60}
	if !slices.Equal(got, want) {
		t.Errorf("double speed: got %v, want %v", got, want)
	}
}

func TestMixChannel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		frame []int16
		c     int
		outCh int
		want  int16
	}{
		{[]int16{7}, 1, 2, 7},
		{[]int16{10, 20}, 0, 1, 15},
		{[]int16{1, 2, 3, 4, 5, 6}, 1, 2, 2},
		{[]int16{1, 2}, 2, 3, 2},
	}
	for _, tt := range tests {
		if got := mixChannel(tt.frame, tt.c, tt.outCh); got != tt.want {
			t.Errorf("mixChannel(%v, %d, %d): got %d, want %d", tt.frame, tt.c, tt.outCh, got, tt.want)
		}
	}
}
