package playback

import (
	"time"

	"github.com/zsiec/reel/internal/clock"
	"github.com/zsiec/reel/internal/media"
)

// VideoRenderer hands pictures to a VideoSink.
type VideoRenderer struct {
	Renderer

	sink      VideoSink
	transform media.Transformation
	current   VideoFrame
}

func newVideoRenderer(w *worker, e env, tc *clock.Controller, sink VideoSink, t media.Transformation) *VideoRenderer {
	v := &VideoRenderer{sink: sink, transform: t}
	v.initRenderer(v, media.Video, w, e, tc)
	return v
}

// SetOutput swaps the sink and waits until the renderer uses it. The new
// sink gets the picture currently shown; with clean the old one is cleared.
func (v *VideoRenderer) SetOutput(sink VideoSink, clean bool) {
	v.invokeSync(func() {
		prev := v.sink
		v.sink = sink
		if sink != nil && v.current.IsValid() {
			sink.SetVideoFrame(v.current)
		}
		if clean && prev != nil {
			prev.SetVideoFrame(VideoFrame{})
		}
	})
}

func (v *VideoRenderer) renderInternal(f media.Frame) renderResult {
	if v.sink == nil {
		return renderDone
	}
	if !f.IsValid() {
		v.current = VideoFrame{}
		v.sink.SetVideoFrame(v.current)
		return renderDone
	}
	raw := f.Raw()
	if raw == nil || raw.Video == nil {
		return renderDone
	}
	v.current = v.videoFrame(f, raw.Video)
	v.sink.SetVideoFrame(v.current)
	return renderDone
}

func (v *VideoRenderer) videoFrame(f media.Frame, d *media.VideoData) VideoFrame {
	vf := VideoFrame{
		PTS:         f.AbsolutePTS(),
		Duration:    f.Duration(),
		Width:       d.Width,
		Height:      d.Height,
		PixelFormat: d.PixelFormat,
		Planes:      d.Planes,
		HWAccel:     d.HWAccel,
		Color:       d.Color,
		Rotation:    v.transform.Rotation,
		Mirrored:    v.transform.Mirrored,
	}
	if c := f.Codec(); c != nil {
		vf.PixelAspect = c.PixelAspectRatio()
		if vf.HWAccel == "" {
			vf.HWAccel = c.HWAccel()
		}
	}
	return vf
}

func (v *VideoRenderer) adjustInterval(d time.Duration) time.Duration { return d }

func (v *VideoRenderer) onPauseChanged() {}

func (v *VideoRenderer) onPlaybackRateChanged() {}

func (v *VideoRenderer) release() { v.sink = nil }
