package tsfile

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/zsiec/reel/internal/bitstream"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/mpegts"
)

type kind int

const (
	kindOther kind = iota
	kindH264
	kindH265
	kindAAC
)

const (
	// audioIndexInterval spaces the access points of audio-only inputs.
	audioIndexInterval = clockRate / 2
	// defaultFrameTicks is assumed for video without timing information
	// until two frames have been seen.
	defaultFrameTicks = clockRate / 25
)

// elementary tracks one PMT elementary stream.
type elementary struct {
	pid        uint16
	streamType uint8
	kind       kind
	language   string
	index      int

	info      media.StreamInfo
	described bool
	codecTag  string // RFC 6381 codec string

	firstPTS  int64 // 90 kHz, -1 until seen
	lastPTS   int64
	lastDur   int64
	frameDur  int64 // 90 kHz, 0 until known
	nextPTS   int64 // predicted timestamp of a unit without its own, -1 if unknown
	bytes     int64
	lastIndex int64 // timestamp of the last indexed access point
}

func newElementary(es *mpegts.PMTElementaryStream) *elementary {
	e := &elementary{
		pid:        es.ElementaryPID,
		streamType: es.StreamType,
		language:   es.Language,
		firstPTS:   -1,
		lastPTS:    -1,
		nextPTS:    -1,
		lastIndex:  -1,
	}
	switch es.StreamType {
	case mpegts.StreamTypeH264:
		e.kind = kindH264
		e.info.Type, e.info.CodecName = media.Video, "h264"
	case mpegts.StreamTypeH265:
		e.kind = kindH265
		e.info.Type, e.info.CodecName = media.Video, "hevc"
	case mpegts.StreamTypeAAC:
		e.kind = kindAAC
		e.info.Type, e.info.CodecName = media.Audio, "aac"
	case mpegts.StreamTypeMPEG1Audio, mpegts.StreamTypeMPEG2Audio:
		e.info.Type, e.info.CodecName = media.NumTrackTypes, "mp2"
	case mpegts.StreamTypeAACLATM:
		e.info.Type, e.info.CodecName = media.NumTrackTypes, "aac_latm"
	default:
		e.info.Type, e.info.CodecName = media.NumTrackTypes, fmt.Sprintf("0x%02x", es.StreamType)
	}
	e.info.Language = es.Language
	return e
}

func (e *elementary) video() bool { return e.kind == kindH264 || e.kind == kindH265 }

// timestamps returns the PES timestamps in 90 kHz units.
func timestamps(pes *mpegts.PESData) (pts, dts int64, ok bool) {
	if pes.Header == nil || pes.Header.OptionalHeader == nil || pes.Header.OptionalHeader.PTS == nil {
		return 0, 0, false
	}
	oh := pes.Header.OptionalHeader
	pts, dts = oh.PTS.Base, oh.PTS.Base
	if oh.DTS != nil {
		dts = oh.DTS.Base
	}
	return pts, dts, true
}

func (e *elementary) keyframe(d *mpegts.DemuxerData) bool {
	switch e.kind {
	case kindH264:
		return bitstream.IsKeyframe(d.PES.Data)
	case kindH265:
		return bitstream.IsHEVCKeyframe(d.PES.Data)
	}
	return d.FirstPacket.Header.RandomAccessIndicator
}

// describe fills the codec parameters from the first parameter set or
// ADTS header of the stream.
func (e *elementary) describe(data []byte) {
	if e.described {
		return
	}
	switch e.kind {
	case kindH264:
		for _, nal := range bitstream.ParseAnnexB(data) {
			if nal.Type != bitstream.NALTypeSPS {
				continue
			}
			sps, err := bitstream.ParseSPS(nal.Data)
			if err != nil {
				continue
			}
			e.described = true
			e.codecTag = sps.CodecString()
			e.info.Width, e.info.Height = sps.Width, sps.Height
			if sps.VUI.SARNum > 0 && sps.VUI.SARDen > 0 {
				e.info.PixelAspect = media.Rational{Num: sps.VUI.SARNum, Den: sps.VUI.SARDen}
			}
			if num, den := sps.VUI.FrameRate(); num > 0 && den > 0 {
				e.info.FrameRate = media.Rational{Num: num, Den: den}
				e.frameDur = int64(den) * clockRate / int64(num)
			}
			rng := media.ColorRangeVideo
			if sps.VUI.VideoFullRange {
				rng = media.ColorRangeFull
			}
			e.info.Color = media.ColorInfo{
				Range:     rng,
				Primaries: sps.VUI.ColourPrimaries,
				Transfer:  sps.VUI.TransferFunction,
				Matrix:    sps.VUI.MatrixCoeffs,
			}
			return
		}
	case kindH265:
		for _, nal := range bitstream.ParseAnnexBHEVC(data) {
			if nal.Type != bitstream.HEVCNALSPS {
				continue
			}
			sps, err := bitstream.ParseHEVCSPS(nal.Data)
			if err != nil {
				continue
			}
			e.described = true
			e.codecTag = sps.CodecString()
			e.info.Width, e.info.Height = sps.Width, sps.Height
			return
		}
	case kindAAC:
		frames, err := bitstream.ParseADTS(data)
		if err != nil || len(frames) == 0 {
			return
		}
		f := frames[0]
		e.described = true
		e.codecTag = "mp4a.40." + strconv.Itoa(f.Profile+1)
		ch := f.Channels
		if ch == 0 {
			ch = 2
		}
		e.info.Audio = media.AudioFormat{SampleRate: f.SampleRate, Channels: ch}
	}
}

// unitTicks is the duration of one PES unit on the 90 kHz clock.
func (e *elementary) unitTicks(data []byte) int64 {
	if e.kind != kindAAC {
		return e.frameDur
	}
	frames, err := bitstream.ParseADTS(data)
	if err != nil {
		return 0
	}
	var ticks int64
	for _, f := range frames {
		if f.SampleRate > 0 {
			ticks += int64(f.Samples()) * clockRate / int64(f.SampleRate)
		}
	}
	return ticks
}

type captionStream struct {
	channel  int
	index    int
	lastSent int64 // 90 kHz timestamp of the last packet, -1 if none
}

func (c *Container) onPMT(pmt *mpegts.PMTData) {
	if c.hasPMT {
		return
	}
	c.hasPMT = true
	for _, es := range pmt.ElementaryStreams {
		if _, dup := c.byPID[es.ElementaryPID]; dup {
			continue
		}
		e := newElementary(es)
		c.es = append(c.es, e)
		c.byPID[e.pid] = e
		if e.video() && c.video == nil {
			c.video = e
		}
	}
	c.indexed = c.video
	if c.indexed == nil {
		for _, e := range c.es {
			if e.kind == kindAAC {
				c.indexed = e
				break
			}
		}
	}
	c.log.Debug("program map", "program", pmt.ProgramNumber, "streams", len(c.es))
}

// observe records what a unit tells about its stream while scanning or
// probing.
func (c *Container) observe(d *mpegts.DemuxerData, scanFilter *captionFilter) {
	if d.PMT != nil {
		c.onPMT(d.PMT)
		return
	}
	if d.PES == nil {
		return
	}
	e := c.byPID[d.FirstPacket.Header.PID]
	if e == nil {
		return
	}
	e.describe(d.PES.Data)
	e.bytes += int64(len(d.PES.Data))

	pts, _, ok := timestamps(d.PES)
	if !ok {
		return
	}
	if e.firstPTS < 0 || pts < e.firstPTS {
		e.firstPTS = pts
	}
	if e.video() && !e.info.FrameRate.Valid() && e.lastPTS >= 0 {
		if delta := pts - e.lastPTS; delta > 0 && (e.frameDur == 0 || delta < e.frameDur) {
			e.frameDur = delta
		}
	}
	if pts >= e.lastPTS {
		e.lastPTS = pts
		e.lastDur = e.unitTicks(d.PES.Data)
	}

	if e == c.indexed && e.keyframe(d) {
		if e.video() || e.lastIndex < 0 || pts-e.lastIndex >= audioIndexInterval {
			c.index = append(c.index, accessPoint{pts: pts, offset: d.FirstPacket.Offset})
			e.lastIndex = pts
		}
	}

	if e == c.video && e.kind == kindH264 {
		for ch := range scanFilter.extract(d.PES.Data) {
			c.addCaptionChannel(ch)
		}
	}
}

func (c *Container) addCaptionChannel(ch int) {
	if ch < 1 || ch > 4 {
		return
	}
	for _, cs := range c.captions {
		if cs.channel == ch {
			return
		}
	}
	c.captions = append(c.captions, &captionStream{channel: ch, lastSent: -1})
	slices.SortFunc(c.captions, func(a, b *captionStream) int { return a.channel - b.channel })
}

// scan reads the whole input once and rewinds it.
func (c *Container) scan() error {
	var filter captionFilter
	for {
		d, err := c.dmx.NextData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("tsfile: scan: %w", err)
		}
		c.observe(d, &filter)
	}
	if err := c.finalize(); err != nil {
		return err
	}
	return c.rewind(0)
}

// analyze reads ahead until every stream has started and AnalyzeDuration of
// media is buffered. The units read are replayed by ReadPacket.
func (c *Container) analyze() error {
	var filter captionFilter
	limit := c.dmx.Offset() + c.opts.AnalyzeSize
	window := int64(c.opts.AnalyzeDuration) * clockRate / int64(time.Second)
	for {
		d, err := c.dmx.NextData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("tsfile: analyze: %w", err)
		}
		c.ahead = append(c.ahead, d)
		c.observe(d, &filter)
		if c.analyzed(window) || c.dmx.Offset() >= limit {
			break
		}
	}
	return c.finalize()
}

func (c *Container) analyzed(window int64) bool {
	if !c.hasPMT {
		return false
	}
	first, last := int64(-1), int64(-1)
	for _, e := range c.es {
		if e.kind == kindOther {
			continue
		}
		if e.firstPTS < 0 || !e.described {
			return false
		}
		if first < 0 || e.firstPTS < first {
			first = e.firstPTS
		}
		last = max(last, e.lastPTS)
	}
	return first >= 0 && last-first >= window
}

// finalize turns the observations into stream descriptions.
func (c *Container) finalize() error {
	if !c.hasPMT {
		return ErrNoProgram
	}
	c.start = -1
	for _, e := range c.es {
		if e.kind != kindOther && e.firstPTS >= 0 && (c.start < 0 || e.firstPTS < c.start) {
			c.start = e.firstPTS
		}
	}
	if c.start < 0 {
		return ErrNoStreams
	}

	live := c.rs == nil
	var end int64
	var defaults [media.NumTrackTypes]bool
	for _, e := range c.es {
		if e.video() && e.frameDur == 0 {
			e.frameDur = defaultFrameTicks
		}
		e.index = len(c.streams)
		info := e.info
		info.Index = e.index
		if info.Type.Valid() && !defaults[info.Type] {
			info.Default = true
			defaults[info.Type] = true
		}
		if e.firstPTS >= 0 {
			info.StartTime = c.us(e.firstPTS)
			streamEnd := e.lastPTS + max(e.lastDur, e.frameDur)
			end = max(end, streamEnd)
			if !live {
				info.Duration = ticksToUs(streamEnd - e.firstPTS)
				if info.Duration > 0 {
					info.BitRate = e.bytes * 8 * 1_000_000 / info.Duration
				}
			}
		}
		c.streams = append(c.streams, info)
	}
	for _, cs := range c.captions {
		cs.index = len(c.streams)
		info := media.StreamInfo{
			Index:     cs.index,
			Type:      media.Subtitle,
			CodecName: "eia_608",
			Title:     "CC" + strconv.Itoa(cs.channel),
			Language:  c.video.language,
			StartTime: c.streams[c.video.index].StartTime,
			Duration:  c.streams[c.video.index].Duration,
		}
		if !defaults[media.Subtitle] {
			info.Default = true
			defaults[media.Subtitle] = true
		}
		c.streams = append(c.streams, info)
	}

	if !live {
		c.duration = c.us(end)
	}
	for i := range c.index {
		c.index[i].pts = c.us(c.index[i].pts)
	}
	c.meta = c.metadata()
	return nil
}

func (c *Container) metadata() media.Metadata {
	m := media.Metadata{media.MetaFileFormat: "mpegts"}
	if c.duration > 0 {
		m[media.MetaDuration] = (time.Duration(c.duration) * time.Microsecond).String()
	}
	var bitRate int64
	for _, e := range c.es {
		info := c.streams[e.index]
		bitRate += info.BitRate
		switch {
		case e.video() && m[media.MetaVideoCodec] == "":
			m[media.MetaVideoCodec] = e.codecTag
			if info.Width > 0 {
				m[media.MetaResolution] = fmt.Sprintf("%dx%d", info.Width, info.Height)
			}
			if info.FrameRate.Valid() {
				m[media.MetaFrameRate] = strconv.FormatFloat(info.FrameRate.Float(), 'f', -1, 64)
			}
			if info.Color.HDR() {
				m[media.MetaHDR] = "true"
			}
		case e.kind == kindAAC && m[media.MetaAudioCodec] == "":
			m[media.MetaAudioCodec] = e.codecTag
			if e.language != "" {
				m[media.MetaLanguage] = e.language
			}
		}
	}
	if bitRate > 0 {
		m[media.MetaBitRate] = strconv.FormatInt(bitRate, 10)
	}
	return m
}

// packets converts one PES unit into container packets.
func (c *Container) packets(d *mpegts.DemuxerData) []*media.RawPacket {
	e := c.byPID[d.FirstPacket.Header.PID]
	if e == nil {
		return nil
	}
	pts, dts, ok := timestamps(d.PES)
	if !ok {
		if e.nextPTS < 0 {
			return nil
		}
		pts, dts = e.nextPTS, e.nextPTS
	}
	off := d.FirstPacket.Offset

	// TODO: unwrap 33-bit timestamp rollover for captures longer than 26h.
	switch e.kind {
	case kindAAC:
		frames, err := bitstream.ParseADTS(d.PES.Data)
		if err != nil {
			c.log.Warn("failed to parse ADTS", "error", err)
			return nil
		}
		out := make([]*media.RawPacket, 0, len(frames))
		t := pts
		for _, f := range frames {
			if f.SampleRate == 0 {
				continue
			}
			out = append(out, &media.RawPacket{
				StreamIndex: e.index,
				PTS:         c.us(t),
				DTS:         c.us(t),
				Duration:    int64(f.Samples()) * 1_000_000 / int64(f.SampleRate),
				Keyframe:    true,
				Pos:         off,
				Data:        f.Data,
			})
			t += int64(f.Samples()) * clockRate / int64(f.SampleRate)
		}
		e.nextPTS = t
		return out

	case kindH264, kindH265:
		out := []*media.RawPacket{{
			StreamIndex: e.index,
			PTS:         c.us(pts),
			DTS:         c.us(dts),
			Duration:    ticksToUs(e.frameDur),
			Keyframe:    e.keyframe(d),
			Pos:         off,
			Data:        d.PES.Data,
		}}
		e.nextPTS = pts + e.frameDur
		if e == c.video && len(c.captions) > 0 {
			out = c.captionPackets(out, d.PES.Data, pts, e.frameDur, off)
		}
		return out
	}

	return []*media.RawPacket{{
		StreamIndex: e.index,
		PTS:         c.us(pts),
		DTS:         c.us(dts),
		Keyframe:    true,
		Pos:         off,
		Data:        d.PES.Data,
	}}
}
