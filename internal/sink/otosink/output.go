//go:build oto

package otosink

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hajimehoshi/oto/v2"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/playback"
)

// Available reports whether the device output is built in.
const Available = true

var (
	ctxOnce sync.Once
	ctx     *oto.Context
	ctxFmt  media.AudioFormat
	ctxErr  error
)

// deviceContext returns the process-wide oto context. oto allows one per
// process, so every Output must share its format.
func deviceContext(format media.AudioFormat) (*oto.Context, error) {
	ctxOnce.Do(func() {
		c, ready, err := oto.NewContext(format.SampleRate, format.Channels, 2)
		if err != nil {
			ctxErr = fmt.Errorf("opening audio device: %w", err)
			return
		}
		<-ready
		ctx, ctxFmt = c, format
	})
	if ctxErr != nil {
		return nil, ctxErr
	}
	if format != ctxFmt {
		return nil, fmt.Errorf("audio device already opened at %d Hz, %d channels", ctxFmt.SampleRate, ctxFmt.Channels)
	}
	return ctx, nil
}

// Output is a playback.AudioSink on the default sound device.
type Output struct {
	log    *slog.Logger
	format media.AudioFormat
	ring   *ring
	player oto.Player

	mu     sync.Mutex
	closed bool
}

// Open starts a device output for format holding buffer worth of audio.
// If log is nil, slog.Default() is used.
func Open(format media.AudioFormat, buffer time.Duration, log *slog.Logger) (*Output, error) {
	if log == nil {
		log = slog.Default()
	}
	if !format.Valid() {
		return nil, errors.New("invalid audio format")
	}
	c, err := deviceContext(format)
	if err != nil {
		return nil, err
	}
	if buffer <= 0 {
		buffer = 200 * time.Millisecond
	}
	o := &Output{
		log:    log.With("component", "oto-output"),
		format: format,
		ring:   newRing(format.BytesForDuration(buffer), format.BytesPerFrame()),
	}
	o.player = c.NewPlayer(o.ring)
	o.player.Play()
	o.log.Info("audio output opened",
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
		"buffer", buffer,
	)
	return o, nil
}

func (o *Output) Format() media.AudioFormat { return o.format }
func (o *Output) BufferSize() int           { return o.ring.size() }
func (o *Output) Write(pcm []byte) int      { return o.ring.Write(pcm) }

// BytesFree counts the device's own queue as used so positions derived
// from it match what is heard.
func (o *Output) BytesFree() int {
	return max(o.ring.size()-o.ring.len()-o.player.UnplayedBufferSize(), 0)
}

func (o *Output) State() playback.AudioState {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	switch {
	case closed:
		return playback.AudioStopped
	case o.player.Err() != nil:
		return playback.AudioStopped
	case o.ring.idle():
		return playback.AudioIdle
	}
	return playback.AudioActive
}

// Close stops the output. The device context stays open for later
// outputs.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.ring.reset()
	if err := o.player.Err(); err != nil {
		o.log.Warn("audio output failed", "error", err)
	}
	return o.player.Close()
}
