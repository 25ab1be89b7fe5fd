package tsfile

import (
	"io"

	"github.com/zsiec/ccx"
	"github.com/zsiec/reel/internal/bitstream"
	"github.com/zsiec/reel/internal/media"
)

const (
	// captionHeartbeat is the longest gap between two packets of a caption
	// stream, so decoders can close long captions without new data.
	captionHeartbeat = clockRate / 2
	// maxCaptionSpan splits captions that stay on screen longer than this.
	maxCaptionSpan = 2_000_000
)

// captionFilter extracts CEA-608 byte pairs from H.264 access units. Control
// codes are transmitted twice; the repeat is dropped as are padding pairs.
type captionFilter struct {
	frames        int64
	lastCtrl      [2][2]byte
	lastWasCtrl   [2]bool
	lastCtrlFrame [2]int64
}

// extract returns the pairs of the access unit by channel, parity intact.
func (f *captionFilter) extract(au []byte) map[int][]byte {
	f.frames++
	var out map[int][]byte
	for _, nal := range bitstream.ParseAnnexB(au) {
		if nal.Type != bitstream.NALTypeSEI {
			continue
		}
		cd := ccx.ExtractCaptions(nal.Data)
		if cd == nil {
			continue
		}
		for _, pair := range cd.CC608Pairs {
			if !f.keep(int(pair.Field), pair.Data) {
				continue
			}
			if out == nil {
				out = make(map[int][]byte)
			}
			out[pair.Channel] = append(out[pair.Channel], pair.Data[0], pair.Data[1])
		}
	}
	return out
}

func (f *captionFilter) keep(field int, data [2]byte) bool {
	field &= 1
	cc1, cc2 := data[0]&0x7F, data[1]&0x7F
	if cc1 >= 0x10 && cc1 <= 0x1F {
		cp := [2]byte{cc1, cc2}
		if f.lastWasCtrl[field] && f.lastCtrl[field] == cp && f.frames-f.lastCtrlFrame[field] <= 2 {
			f.lastWasCtrl[field] = false
			return false
		}
		f.lastCtrl[field] = cp
		f.lastWasCtrl[field] = true
		f.lastCtrlFrame[field] = f.frames
		return true
	}
	f.lastWasCtrl[field] = false
	return cc1 != 0 || cc2 != 0
}

// captionPackets appends one packet per caption channel that has data in
// the access unit, or whose last packet is older than the heartbeat.
func (c *Container) captionPackets(out []*media.RawPacket, au []byte, pts, frameDur, off int64) []*media.RawPacket {
	pairs := c.cc.extract(au)
	for _, cs := range c.captions {
		data := pairs[cs.channel]
		if len(data) == 0 && cs.lastSent >= 0 && pts-cs.lastSent < captionHeartbeat {
			continue
		}
		cs.lastSent = pts
		out = append(out, &media.RawPacket{
			StreamIndex: cs.index,
			PTS:         c.us(pts),
			DTS:         c.us(pts),
			Duration:    ticksToUs(frameDur),
			Keyframe:    true,
			Pos:         off,
			Data:        data,
		})
	}
	return out
}

// isEraseDisplay matches Erase Displayed Memory on any channel or field.
func isEraseDisplay(cc1, cc2 byte) bool {
	return cc1&0x76 == 0x14 && cc2&0x7F == 0x2C
}

// captionDecoder turns the pairs of one caption channel into timed text.
// A caption lasts until the displayed text changes or is erased; captions
// longer than maxCaptionSpan are split so they show up without waiting for
// their end.
type captionDecoder struct {
	dec   *ccx.CEA608Decoder
	text  string
	start int64
	last  int64
}

func newCaptionDecoder() *captionDecoder {
	return &captionDecoder{dec: ccx.NewCEA608Decoder(), last: media.NoTimestamp}
}

func (d *captionDecoder) DecodeSubtitle(p *media.RawPacket) ([]media.SubtitleCue, error) {
	if p == nil {
		out := d.cut(d.last)
		d.text = ""
		return out, nil
	}
	if p.PTS == media.NoTimestamp {
		return nil, nil
	}

	text, changed := d.text, false
	for i := 0; i+1 < len(p.Data); i += 2 {
		cc1, cc2 := p.Data[i], p.Data[i+1]
		t := d.dec.Decode(cc1, cc2)
		switch {
		case isEraseDisplay(cc1, cc2):
			text, changed = "", true
		case t != "":
			text, changed = t, true
		}
	}

	var out []media.SubtitleCue
	switch {
	case changed && text != d.text:
		out = d.cut(p.PTS)
		d.text = text
		d.start = p.PTS
	case d.text != "" && p.PTS-d.start >= maxCaptionSpan:
		out = d.cut(p.PTS)
		d.start = p.PTS
	}
	d.last = p.End()
	return out, nil
}

func (d *captionDecoder) cut(end int64) []media.SubtitleCue {
	if d.text == "" || end == media.NoTimestamp || end <= d.start {
		return nil
	}
	return []media.SubtitleCue{{PTS: d.start, End: end - d.start, Text: d.text}}
}

func (d *captionDecoder) SendPacket(*media.RawPacket) error { return nil }

func (d *captionDecoder) ReceiveFrame() (*media.RawFrame, error) { return nil, io.EOF }

func (d *captionDecoder) Flush() {
	d.dec = ccx.NewCEA608Decoder()
	d.text = ""
	d.last = media.NoTimestamp
}

func (d *captionDecoder) Close() error { return nil }
