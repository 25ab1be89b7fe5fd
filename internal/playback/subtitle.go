package playback

import (
	"time"

	"github.com/zsiec/reel/internal/clock"
	"github.com/zsiec/reel/internal/media"
)

// SubtitleRenderer shows subtitle text on a VideoSink.
type SubtitleRenderer struct {
	Renderer

	sink VideoSink
}

func newSubtitleRenderer(w *worker, e env, tc *clock.Controller, sink VideoSink) *SubtitleRenderer {
	s := &SubtitleRenderer{sink: sink}
	s.initRenderer(s, media.Subtitle, w, e, tc)
	return s
}

// SetOutput swaps the sink and waits until the renderer uses it. With
// clean the old sink's text is cleared.
func (s *SubtitleRenderer) SetOutput(sink VideoSink, clean bool) {
	s.invokeSync(func() {
		prev := s.sink
		s.sink = sink
		if clean && prev != nil {
			prev.SetSubtitleText("")
		}
	})
}

func (s *SubtitleRenderer) renderInternal(f media.Frame) renderResult {
	if s.sink != nil {
		text := ""
		if f.IsValid() {
			text = f.Text()
		}
		s.sink.SetSubtitleText(text)
	}
	return renderDone
}

func (s *SubtitleRenderer) adjustInterval(d time.Duration) time.Duration { return d }

func (s *SubtitleRenderer) onPauseChanged() {}

func (s *SubtitleRenderer) onPlaybackRateChanged() {}

func (s *SubtitleRenderer) release() {
	if s.sink != nil {
		s.sink.SetSubtitleText("")
		s.sink = nil
	}
}
