package sink

import (
	"log/slog"
	"testing"
	"time"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/playback"
)

var stereo = media.AudioFormat{SampleRate: 48000, Channels: 2}

// fakeClock is advanced by hand.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func nullAudio(c *fakeClock) *NullAudio {
	a := NewNullAudio(stereo, 0)
	a.now = c.now
	return a
}

func bytesOf(d time.Duration) int { return stereo.BytesForDuration(d) }

func TestNullAudioBuffer(t *testing.T) {
	t.Parallel()

	a := NewNullAudio(stereo, 0)
	if got, want := a.BufferSize(), bytesOf(DefaultAudioBuffer); got != want {
		t.Errorf("buffer size: got %d, want %d", got, want)
	}
	if got := a.BufferSize() / stereo.BytesPerFrame(); got != 9600 {
		t.Errorf("buffer frames: got %d, want 9600", got)
	}
	if a.Format() != stereo {
		t.Errorf("format: got %+v", a.Format())
	}
}

func TestNullAudioDrainsInRealTime(t *testing.T) {
	t.Parallel()

	c := &fakeClock{t: time.Unix(1000, 0)}
	a := nullAudio(c)
	if got := a.State(); got != playback.AudioActive {
		t.Errorf("state before writing: got %v, want active", got)
	}

	n := a.Write(make([]byte, a.BufferSize()+100))
	if n != a.BufferSize() {
		t.Fatalf("write: got %d, want %d", n, a.BufferSize())
	}
	if got := a.BytesFree(); got != 0 {
		t.Errorf("free after filling: got %d, want 0", got)
	}

	c.advance(50 * time.Millisecond)
	if got, want := a.BytesFree(), bytesOf(50*time.Millisecond); got != want {
		t.Errorf("free after 50ms: got %d, want %d", got, want)
	}
	if got := a.Write(make([]byte, 3)); got != 0 {
		t.Errorf("partial frame write: got %d, want 0", got)
	}

	c.advance(time.Second)
	if got := a.BytesFree(); got != a.BufferSize() {
		t.Errorf("free after draining: got %d, want %d", got, a.BufferSize())
	}
	if got := a.State(); got != playback.AudioIdle {
		t.Errorf("state after draining: got %v, want idle", got)
	}
	if got := a.Written(); got != int64(n) {
		t.Errorf("written: got %d, want %d", got, n)
	}
}

func TestLogVideo(t *testing.T) {
	t.Parallel()

	v := NewLogVideo(slog.New(slog.DiscardHandler))
	v.SetNativeSize(1280, 720)
	if w, h := v.NativeSize(); w != 1280 || h != 720 {
		t.Errorf("native size: got %dx%d", w, h)
	}

	for i := range 3 {
		v.SetVideoFrame(playback.VideoFrame{PTS: int64(i) * 40_000, Width: 64, Height: 36})
	}
	v.SetVideoFrame(playback.VideoFrame{})
	v.SetSubtitleText("hello")
	v.SetSubtitleText("hello")
	v.SetSubtitleText("")
	v.SetSubtitleText("world")

	st := v.Stats()
	if st.Frames != 3 {
		t.Errorf("frames: got %d, want 3", st.Frames)
	}
	if st.Subtitles != 2 || st.Text != "world" {
		t.Errorf("subtitles: got %d %q, want 2 \"world\"", st.Subtitles, st.Text)
	}
}
