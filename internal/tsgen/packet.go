package tsgen

import (
	"encoding/binary"

	"github.com/zsiec/reel/internal/mpegts"
)

const packetSize = 188

// packetize splits payload into transport packets on pid. af is the body of
// the adaptation field of the first packet (flags onwards), nil for none.
// The last packet is padded with adaptation field stuffing.
func packetize(dst []byte, pid uint16, cc *byte, payload, af []byte) []byte {
	for first := true; first || len(payload) > 0; first = false {
		var pkt [packetSize]byte
		pkt[0] = 0x47
		pkt[1] = byte(pid>>8) & 0x1F
		pkt[2] = byte(pid)
		if first {
			pkt[1] |= 0x40
		}
		pkt[3] = 0x10 | *cc&0x0F
		*cc = (*cc + 1) & 0x0F

		var field []byte
		if first {
			field = af
		}
		hasAF := field != nil
		afLen := len(field)
		room := packetSize - 4
		if hasAF {
			room -= 1 + afLen
		}
		n := min(room, len(payload))
		if stuff := room - n; stuff > 0 {
			if hasAF {
				afLen += stuff
			} else {
				hasAF = true
				afLen = stuff - 1
			}
		}

		pos := 4
		if hasAF {
			pkt[3] |= 0x20
			pkt[4] = byte(afLen)
			pos = 5
			if afLen > 0 {
				if field == nil {
					field = []byte{0}
				}
				copy(pkt[5:], field)
				for i := 5 + len(field); i < 5+afLen; i++ {
					pkt[i] = 0xFF
				}
			}
			pos += afLen
		}
		copy(pkt[pos:], payload[:n])
		payload = payload[n:]
		dst = append(dst, pkt[:]...)
	}
	return dst
}

// adaptationField returns the adaptation field body carrying a PCR slightly
// behind pts, flagged as a random access point when key is set.
func adaptationField(pts int64, key bool) []byte {
	flags := byte(0x10)
	if key {
		flags |= 0x40
	}
	pcr := max(0, pts-clockRate/10)
	return []byte{
		flags,
		byte(pcr >> 25),
		byte(pcr >> 17),
		byte(pcr >> 9),
		byte(pcr >> 1),
		byte(pcr&1)<<7 | 0x7E,
		0,
	}
}

// buildPES wraps data in a PES packet with a PTS. Video PES packets use the
// unbounded zero length.
func buildPES(streamID byte, pts int64, data []byte) []byte {
	n := 3 + 5 + len(data)
	if streamID&0xF0 == 0xE0 || n > 0xFFFF {
		n = 0
	}
	pes := make([]byte, 0, 14+len(data))
	pes = append(pes, 0, 0, 1, streamID, byte(n>>8), byte(n), 0x84, 0x80, 5)
	pes = appendTimestamp(pes, 0x2, pts)
	return append(pes, data...)
}

func appendTimestamp(dst []byte, prefix byte, ts int64) []byte {
	return append(dst,
		prefix<<4|byte(ts>>29)&0x0E|1,
		byte(ts>>22),
		byte(ts>>14)|1,
		byte(ts>>7),
		byte(ts<<1)|1,
	)
}

func patSection() []byte {
	sec := []byte{
		0x00, 0xB0, 0,
		0x00, 0x01, // transport_stream_id
		0xC1, 0x00, 0x00,
		byte(ProgramNumber >> 8), byte(ProgramNumber),
		0xE0 | byte(PMTPID>>8), byte(PMTPID & 0xFF),
	}
	return finishSection(sec)
}

func (g *generator) pmtSection() []byte {
	pcrPID := uint16(VideoPID)
	if !g.cfg.Video {
		pcrPID = AudioPID
	}
	sec := []byte{
		0x02, 0xB0, 0,
		byte(ProgramNumber >> 8), byte(ProgramNumber),
		0xC1, 0x00, 0x00,
		0xE0 | byte(pcrPID>>8), byte(pcrPID),
		0xF0, 0x00,
	}
	if g.cfg.Video {
		sec = appendES(sec, mpegts.StreamTypeH264, VideoPID, nil)
	}
	if g.cfg.Audio {
		var desc []byte
		if lang := g.cfg.AudioLanguage; len(lang) == 3 {
			desc = append([]byte{mpegts.DescriptorLanguage, 4}, lang...)
			desc = append(desc, 0)
		}
		sec = appendES(sec, mpegts.StreamTypeAAC, AudioPID, desc)
	}
	return finishSection(sec)
}

func appendES(dst []byte, streamType byte, pid uint16, desc []byte) []byte {
	return append(append(dst,
		streamType,
		0xE0|byte(pid>>8), byte(pid),
		0xF0|byte(len(desc)>>8), byte(len(desc)),
	), desc...)
}

// finishSection fills in section_length and appends the CRC.
func finishSection(sec []byte) []byte {
	n := len(sec) - 3 + 4
	sec[1] |= byte(n>>8) & 0x0F
	sec[2] = byte(n)
	return binary.BigEndian.AppendUint32(sec, mpegts.CRC32(sec))
}
