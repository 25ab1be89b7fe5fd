package playback

import (
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zsiec/reel/internal/media"
)

// StreamDecoder decodes the packets of one track into frames for its
// renderer, keeping at most framesCap frames in flight.
type StreamDecoder struct {
	object
	env

	codec     *media.Codec
	trackType media.TrackType
	framesCap int

	packets    []media.Packet
	offset     media.LoopOffset
	absSeekPos int64
	nextPTS    int64
	pending    atomic.Int32

	// receiving is set while the cap holds decoded output back; draining
	// while the end of input has been sent and output remains.
	receiving bool
	draining  bool

	frameSig           signal[media.Frame]
	packetProcessedSig signal[media.Packet]
}

// newStreamDecoder takes ownership of one reference to codec. Frames
// ending before absSeekPos are dropped.
func newStreamDecoder(w *worker, e env, codec *media.Codec, absSeekPos int64) *StreamDecoder {
	d := &StreamDecoder{
		env:        e,
		codec:      codec,
		trackType:  codec.TrackType(),
		framesCap:  e.cfg.framesCap(codec.TrackType()),
		absSeekPos: absSeekPos,
		nextPTS:    media.NoTimestamp,
	}
	d.init(d, decoderRole(d.trackType), w, e.baseLog)
	return d
}

// TrackType returns the type of the decoded track.
func (d *StreamDecoder) TrackType() media.TrackType { return d.trackType }

// PendingFrames is the number of frames sent to the renderer and not yet
// reported processed.
func (d *StreamDecoder) PendingFrames() int { return int(d.pending.Load()) }

// Decode queues a packet; the invalid packet marks the end of input.
func (d *StreamDecoder) Decode(p media.Packet) {
	d.packets = append(d.packets, p)
	d.scheduleNextStep(true)
}

// OnFinalPacketReceived marks the end of input.
func (d *StreamDecoder) OnFinalPacketReceived() { d.Decode(media.Packet{}) }

// setInitialPosition moves the drop floor for streams that start at an
// arbitrary timestamp.
func (d *StreamDecoder) setInitialPosition(sp syncPoint) { d.absSeekPos = sp.pos }

// OnFrameProcessed frees the in-flight slot of f.
func (d *StreamDecoder) OnFrameProcessed(f media.Frame) {
	if f.SourceID() != d.id {
		return
	}
	if d.pending.Add(-1) < 0 {
		d.log.Error("frame processed twice")
		d.pending.Store(0)
	}
	d.scheduleNextStep(true)
}

func (d *StreamDecoder) canDoNextStep() bool {
	return (len(d.packets) > 0 || d.receiving) && d.hasRoom() && d.baseCanDoNextStep()
}

// hasRoom reports whether the frames of one more decoding call fit under
// the cap. A subtitle yields its text and the frame clearing it.
func (d *StreamDecoder) hasRoom() bool {
	n := 1
	if d.trackType == media.Subtitle {
		n = 2
	}
	return int(d.pending.Load())+n <= d.framesCap
}

func (d *StreamDecoder) timerInterval() time.Duration { return 0 }

func (d *StreamDecoder) onPauseChanged() { d.baseOnPauseChanged() }

func (d *StreamDecoder) onKill() {
	d.codec.Decoder().Flush()
	d.codec.Release()
	d.packets = nil
}

// doNextStep handles the first queued packet. A packet stays queued until
// the decoder accepts it; output held back by the cap is collected first.
func (d *StreamDecoder) doNextStep() {
	if d.receiving && !d.receiveFrames() {
		return
	}
	if len(d.packets) == 0 {
		return
	}
	p := d.packets[0]

	if !p.IsValid() || p.LoopOffset().Index != d.offset.Index {
		if !d.drain() {
			return
		}
		if !p.IsValid() {
			d.popPacket()
			d.setAtEnd(true)
			return
		}
		d.log.Debug("flushing decoder for new loop", "loop_index", p.LoopOffset().Index)
		d.codec.Decoder().Flush()
		d.offset = p.LoopOffset()
		d.nextPTS = media.NoTimestamp
		if !d.hasRoom() {
			return
		}
	}

	if !d.decode(p) {
		return
	}
	d.popPacket()
	d.setAtEnd(false)
	d.packetProcessedSig.emit(p)
	d.scheduleNextStep(false)
}

func (d *StreamDecoder) popPacket() {
	d.packets[0] = media.Packet{}
	d.packets = d.packets[1:]
}

// decode feeds p to the decoder. It reports false when the packet was not
// accepted yet.
func (d *StreamDecoder) decode(p media.Packet) bool {
	if d.trackType == media.Subtitle {
		d.decodeSubtitle(p)
		return true
	}
	return d.send(p.Raw())
}

// drain signals the end of input and collects the remaining output. It
// reports false while the cap holds output back.
func (d *StreamDecoder) drain() bool {
	if d.trackType == media.Subtitle {
		d.decodeSubtitle(media.Packet{})
		return true
	}
	if !d.draining {
		if !d.send(nil) {
			return false
		}
		d.draining = true
	}
	if d.receiving {
		return false
	}
	d.draining = false
	return true
}

// send passes raw, nil for end of input, to the decoder and collects the
// frames it produces. It reports false when the decoder refused raw and
// the cap stopped the collection that would make room for it.
func (d *StreamDecoder) send(raw *media.RawPacket) bool {
	dec := d.codec.Decoder()

	err := dec.SendPacket(raw)
	if errors.Is(err, media.ErrAgain) {
		if !d.receiveFrames() {
			return false
		}
		err = dec.SendPacket(raw)
		if errors.Is(err, media.ErrAgain) {
			d.log.Warn("decoder refused packet after draining its output")
		}
	}
	switch {
	case err == nil:
		d.receiveFrames()
	case errors.Is(err, media.ErrAgain), errors.Is(err, io.EOF):
	default:
		d.log.Warn("send packet failed", "error", err)
	}
	return true
}

// receiveFrames collects frames until the decoder has no more, reporting
// true, or the cap is reached, reporting false.
func (d *StreamDecoder) receiveFrames() bool {
	dec := d.codec.Decoder()
	for {
		if int(d.pending.Load()) >= d.framesCap {
			d.receiving = true
			return false
		}
		raw, err := dec.ReceiveFrame()
		if err != nil {
			d.receiving = false
			if !errors.Is(err, media.ErrAgain) && !errors.Is(err, io.EOF) {
				d.emitError(FormatError, err.Error())
			}
			return true
		}
		if raw.PTS == media.NoTimestamp {
			raw.PTS = max(d.nextPTS, 0)
		}
		d.nextPTS = raw.PTS + raw.Duration
		d.onFrameFound(media.NewFrame(d.offset, raw, d.codec, d.id))
	}
}

func (d *StreamDecoder) decodeSubtitle(p media.Packet) {
	sd, ok := d.codec.Decoder().(media.SubtitleDecoder)
	if !ok {
		return
	}
	var raw *media.RawPacket
	if p.IsValid() {
		raw = p.Raw()
	}
	subs, err := sd.DecodeSubtitle(raw)
	if err != nil {
		d.log.Warn("subtitle decoding failed", "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	// Subtitles without timestamps of their own take the packet's.
	var start, end int64
	if first := subs[0]; first.PTS == media.NoTimestamp {
		if raw == nil || raw.PTS == media.NoTimestamp {
			return
		}
		start = raw.PTS
		end = start + raw.Duration
	} else {
		start = first.PTS + first.Start
		end = first.PTS + first.End
	}
	if end <= start {
		d.log.Warn("dropping subtitle with invalid timing", "start", start, "end", end)
		d.stats.subtitlesDropped.Add(1)
		return
	}

	texts := make([]string, len(subs))
	for i, s := range subs {
		texts[i] = s.Text
	}
	d.onFrameFound(media.NewSubtitleFrame(d.offset, normalizeSubtitle(strings.Join(texts, "\n")), start, end-start, d.id))
	d.onFrameFound(media.NewSubtitleFrame(d.offset, "", end, 0, d.id))
}

// normalizeSubtitle turns markup line breaks into newlines and drops one
// trailing newline.
func normalizeSubtitle(text string) string {
	text = strings.NewReplacer(`\N`, "\n", `\n`, "\n", "\r\n", "\n").Replace(text)
	return strings.TrimSuffix(text, "\n")
}

func (d *StreamDecoder) onFrameFound(f media.Frame) {
	if f.IsValid() && f.AbsoluteEnd() < d.absSeekPos {
		d.stats.framesDropped.Add(1)
		return
	}
	d.pending.Add(1)
	d.stats.framesDecoded.Add(1)
	d.frameSig.emit(f)
}
