package bitstream

import (
	"bytes"
	"errors"
	"testing"
)

func TestAppendParseADTS(t *testing.T) {
	t.Parallel()

	var stream []byte
	payloads := [][]byte{{0x21, 0x10, 0x05}, bytes.Repeat([]byte{0xAB}, 300), {0x01}}
	for _, p := range payloads {
		var err error
		stream, err = AppendADTS(stream, 1, 48000, 2, p)
		if err != nil {
			t.Fatalf("AppendADTS: %v", err)
		}
	}

	frames, err := ParseADTS(stream)
	if err != nil {
		t.Fatalf("ParseADTS: %v", err)
	}
	if len(frames) != len(payloads) {
		t.Fatalf("frames: got %d, want %d", len(frames), len(payloads))
	}
	for i, f := range frames {
		if f.SampleRate != 48000 || f.Channels != 2 || f.Profile != 1 {
			t.Errorf("frame %d: got %d Hz %d ch profile %d", i, f.SampleRate, f.Channels, f.Profile)
		}
		if !bytes.Equal(f.Data[7:], payloads[i]) {
			t.Errorf("frame %d payload mismatch", i)
		}
		if f.Samples() != SamplesPerAACFrame {
			t.Errorf("frame %d samples: got %d, want %d", i, f.Samples(), SamplesPerAACFrame)
		}
	}
}

func TestParseADTSSkipsGarbage(t *testing.T) {
	t.Parallel()

	frame, err := AppendADTS(nil, 1, 44100, 1, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	stream := append([]byte{0x00, 0x12, 0x34}, frame...)
	frames, err := ParseADTS(stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 || frames[0].SampleRate != 44100 || frames[0].Channels != 1 {
		t.Errorf("got %+v", frames)
	}
}

func TestParseADTSTruncatedAndInvalid(t *testing.T) {
	t.Parallel()

	frame, _ := AppendADTS(nil, 1, 48000, 2, bytes.Repeat([]byte{0x55}, 64))
	frames, err := ParseADTS(frame[:len(frame)-10])
	if err != nil || len(frames) != 0 {
		t.Errorf("truncated: got %d frames, %v", len(frames), err)
	}

	bad := append([]byte(nil), frame...)
	bad[2] = bad[2]&^0x3C | 0x0F<<2 // sampling_frequency_index 15
	if _, err := ParseADTS(bad); !errors.Is(err, ErrInvalidADTS) {
		t.Errorf("bad rate: got %v, want ErrInvalidADTS", err)
	}

	if frames, _ := ParseADTS(nil); len(frames) != 0 {
		t.Error("empty input should yield no frames")
	}
}

func TestAppendADTSRejects(t *testing.T) {
	t.Parallel()

	if _, err := AppendADTS(nil, 1, 12345, 2, nil); !errors.Is(err, ErrInvalidADTS) {
		t.Errorf("unknown rate: got %v", err)
	}
	if _, err := AppendADTS(nil, 1, 48000, 0, nil); !errors.Is(err, ErrInvalidADTS) {
		t.Errorf("zero channels: got %v", err)
	}
	if _, err := AppendADTS(nil, 1, 48000, 2, make([]byte, 1<<13)); !errors.Is(err, ErrInvalidADTS) {
		t.Errorf("oversized frame: got %v", err)
	}
}
