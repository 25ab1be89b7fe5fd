//go:build !oto

package otosink

import (
	"errors"
	"log/slog"
	"time"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/playback"
)

// Available reports whether the device output is built in.
const Available = false

// ErrNotBuilt is returned by Open in builds without the oto tag.
var ErrNotBuilt = errors.New("audio output not built in (build with -tags oto)")

// Output is a playback.AudioSink on the default sound device.
type Output struct{}

// Open always fails without the oto build tag.
func Open(media.AudioFormat, time.Duration, *slog.Logger) (*Output, error) {
	return nil, ErrNotBuilt
}

func (*Output) Format() media.AudioFormat  { return media.AudioFormat{} }
func (*Output) BufferSize() int            { return 0 }
func (*Output) Write([]byte) int           { return 0 }
func (*Output) BytesFree() int             { return 0 }
func (*Output) State() playback.AudioState { return playback.AudioStopped }
func (*Output) Close() error               { return nil }
