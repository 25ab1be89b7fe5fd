package playback

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/zsiec/reel/internal/media"
)

// syncPoint anchors a media position at a wall-clock instant.
type syncPoint struct {
	id  uint64
	tp  time.Time
	pos int64
}

// streamData is the read-ahead accounting of one routed stream.
type streamData struct {
	trackType media.TrackType

	bufferedDuration int64
	bufferedSize     int

	maxSentPacketsPos     int64
	maxProcessedPacketPos int64
	dataLimitReached      bool
}

// Demuxer reads container packets, routes those of the active streams to
// their stream decoders and stops reading ahead once any stream has
// MaxBufferedDuration (or MaxBufferedSize) of undecoded packets. At the end
// of the container it either finishes or rewinds for the next loop.
type Demuxer struct {
	object
	env

	c         media.Container
	durations []int64

	posWithOffset media.PositionWithOffset
	loops         atomic.Int64
	streams       map[int]*streamData

	seeked           bool
	firstPacketFound bool
	buffered         bool
	maxPacketsEndPos int64
	passPackets      int

	packetSig      [media.NumTrackTypes]signal[media.Packet]
	firstPacketSig signal[syncPoint]
	bufferedSig    signal[struct{}]
}

// newDemuxer routes the container streams in indexes (by track type, -1
// for none). Reading starts at pos with loops passes in total, -1 for
// infinite.
func newDemuxer(w *worker, e env, c media.Container, pos media.PositionWithOffset,
	indexes [media.NumTrackTypes]int, loops int,
) *Demuxer {
	d := &Demuxer{
		env:           e,
		c:             c,
		posWithOffset: pos,
		streams:       make(map[int]*streamData),
	}
	d.init(d, demuxerRole, w, e.baseLog)
	d.loops.Store(int64(loops))

	for _, s := range c.Streams() {
		var end int64
		if s.Duration > 0 {
			end = s.StartTime + s.Duration
		}
		d.durations = append(d.durations, end)
	}
	for _, t := range media.TrackTypes {
		if idx := indexes[t]; idx >= 0 {
			d.streams[idx] = &streamData{trackType: t}
			d.log.Debug("routing stream", "stream", idx, "track", t)
		}
	}
	d.log.Debug("created",
		"pos", pos.Pos,
		"loop_offset", pos.Offset.Pos,
		"loop_index", pos.Offset.Index,
		"loops", loops,
	)
	return d
}

// SetLoops changes the number of passes; it may be called from any
// goroutine.
func (d *Demuxer) SetLoops(loops int) {
	d.log.Debug("set loops", "loops", loops)
	d.loops.Store(int64(loops))
}

func (d *Demuxer) canDoNextStep() bool {
	if !d.baseCanDoNextStep() || d.isAtEnd() || len(d.streams) == 0 {
		return false
	}
	for _, s := range d.streams {
		if s.dataLimitReached {
			return false
		}
	}
	return true
}

func (d *Demuxer) timerInterval() time.Duration { return 0 }

func (d *Demuxer) onPauseChanged() { d.baseOnPauseChanged() }

func (d *Demuxer) onKill() {}

func (d *Demuxer) doNextStep() {
	d.ensureSeeked()

	raw, err := d.c.ReadPacket()
	if err == nil && !d.withinStreamDuration(raw) {
		err = io.EOF
	}
	if err != nil {
		if !errors.Is(err, io.EOF) {
			d.log.Warn("read failed, treating as end of input", "error", err)
		}
		d.onEndOfInput()
		return
	}

	d.passPackets++
	if s, ok := d.streams[raw.StreamIndex]; ok {
		p := media.NewPacket(d.posWithOffset.Offset, raw, d.id)
		endPos := packetEndPos(p)
		d.maxPacketsEndPos = max(d.maxPacketsEndPos, endPos)

		s.bufferedDuration += raw.Duration
		s.bufferedSize += len(raw.Data)
		s.maxSentPacketsPos = max(s.maxSentPacketsPos, endPos)
		d.updateDataLimit(s)

		if !d.buffered && s.dataLimitReached {
			d.buffered = true
			d.bufferedSig.emit(struct{}{})
		}
		if !d.firstPacketFound {
			d.firstPacketFound = true
			d.firstPacketSig.emit(syncPoint{id: d.id, tp: d.now(), pos: packetPTS(raw)})
		}

		d.stats.packetsDemuxed.Add(1)
		d.packetSig[s.trackType].emit(p)
	}

	d.scheduleNextStep(false)
}

// onEndOfInput finishes demuxing or rewinds for the next loop.
func (d *Demuxer) onEndOfInput() {
	d.posWithOffset.Offset.Index++

	loops := d.loops.Load()
	finished := loops >= 0 && int64(d.posWithOffset.Offset.Index) >= loops
	if !finished && d.passPackets == 0 {
		d.log.Warn("no packets in loop pass, stopping")
		finished = true
	}
	if finished {
		d.log.Debug("finished demuxing", "loop_index", d.posWithOffset.Offset.Index)
		if !d.buffered {
			d.buffered = true
			d.bufferedSig.emit(struct{}{})
		}
		d.setAtEnd(true)
		return
	}

	d.seeked = false
	d.passPackets = 0
	d.posWithOffset.Pos = 0
	d.posWithOffset.Offset.Pos = d.maxPacketsEndPos
	d.maxPacketsEndPos = 0

	d.ensureSeeked()

	d.log.Debug("loop changed",
		"loop_index", d.posWithOffset.Offset.Index,
		"loop_offset", d.posWithOffset.Offset.Pos,
	)
	d.scheduleNextStep(false)
}

// OnPacketProcessed releases the read-ahead held by p. Packets of another
// demuxer are ignored.
func (d *Demuxer) OnPacketProcessed(p media.Packet) {
	if p.SourceID() != d.id {
		return
	}
	raw := p.Raw()
	if s, ok := d.streams[raw.StreamIndex]; ok {
		s.bufferedDuration -= raw.Duration
		s.bufferedSize -= len(raw.Data)
		s.maxProcessedPacketPos = max(s.maxProcessedPacketPos, packetEndPos(p))
		d.updateDataLimit(s)
	}
	d.scheduleNextStep(true)
}

// ensureSeeked positions the container once per loop pass. A seek failure
// is reported but playback goes on from where the container is.
func (d *Demuxer) ensureSeeked() {
	if d.seeked {
		return
	}
	d.seeked = true

	if d.c.Seekable() {
		if err := d.c.Seek(d.posWithOffset.Pos); err != nil {
			d.log.Warn("seek failed", "pos", d.posWithOffset.Pos, "error", err)
			d.stats.seekErrors.Add(1)
			if d.posWithOffset.Pos != 0 || d.c.Duration() > 0 {
				d.emitError(ResourceError, "failed to seek: "+err.Error())
			}
		}
	}
	d.setAtEnd(false)
}

func (d *Demuxer) updateDataLimit(s *streamData) {
	maxDur := d.cfg.MaxBufferedDuration.Microseconds()
	posDiff := s.maxSentPacketsPos - s.maxProcessedPacketPos
	s.dataLimitReached = s.bufferedDuration >= maxDur ||
		(s.bufferedDuration == 0 && posDiff >= maxDur) ||
		s.bufferedSize >= d.cfg.MaxBufferedSize
}

// withinStreamDuration reports false for packets starting after the
// declared end of their stream.
func (d *Demuxer) withinStreamDuration(p *media.RawPacket) bool {
	if p.StreamIndex < 0 || p.StreamIndex >= len(d.durations) || p.PTS == media.NoTimestamp {
		return true
	}
	end := d.durations[p.StreamIndex]
	if end <= 0 || !d.c.Seekable() {
		return true
	}
	return p.PTS <= end
}

func packetPTS(p *media.RawPacket) int64 {
	switch {
	case p.PTS != media.NoTimestamp:
		return p.PTS
	case p.DTS != media.NoTimestamp:
		return p.DTS
	}
	return 0
}

func packetEndPos(p media.Packet) int64 {
	raw := p.Raw()
	return p.LoopOffset().Pos + packetPTS(raw) + raw.Duration
}
