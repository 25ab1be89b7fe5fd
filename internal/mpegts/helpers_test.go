package mpegts

import "encoding/binary"

func makePacket(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	buf := make([]byte, packetSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x10 | cc&0x0F
	if pusi {
		buf[1] |= 0x40
	}
	copy(buf[4:], payload)
	return buf
}

func makePacketWithAF(pid uint16, cc uint8, afFlags byte, afLen int, payload []byte) []byte {
	buf := make([]byte, packetSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x20 | cc&0x0F
	if len(payload) > 0 {
		buf[3] |= 0x10
	}
	buf[4] = byte(afLen)
	if afLen > 0 {
		buf[5] = afFlags
	}
	if off := 5 + afLen; off < packetSize {
		copy(buf[off:], payload)
	}
	return buf
}

type program struct{ num, pid uint16 }

type esEntry struct {
	streamType uint8
	pid        uint16
	lang       string
}

func withCRC(data []byte) []byte {
	return binary.BigEndian.AppendUint32(data, CRC32(data))
}

func buildPAT(tsID uint16, programs []program) []byte {
	sectionLength := 5 + 4*len(programs) + 4
	data := []byte{
		tableIDPAT,
		0xB0 | byte(sectionLength>>8)&0x0F, byte(sectionLength),
		byte(tsID >> 8), byte(tsID),
		0xC1, 0x00, 0x00,
	}
	for _, p := range programs {
		data = append(data, byte(p.num>>8), byte(p.num), 0xE0|byte(p.pid>>8)&0x1F, byte(p.pid))
	}
	return withCRC(data)
}

func buildPMT(programNum, pcrPID uint16, streams []esEntry) []byte {
	var body []byte
	for _, s := range streams {
		var info []byte
		if s.lang != "" {
			info = append(info, DescriptorLanguage, 4)
			info = append(info, s.lang...)
			info = append(info, 0x00) // audio_type
		}
		body = append(body, s.streamType, 0xE0|byte(s.pid>>8)&0x1F, byte(s.pid),
			0xF0|byte(len(info)>>8)&0x0F, byte(len(info)))
		body = append(body, info...)
	}
	sectionLength := 9 + len(body) + 4
	data := []byte{
		tableIDPMT,
		0xB0 | byte(sectionLength>>8)&0x0F, byte(sectionLength),
		byte(programNum >> 8), byte(programNum),
		0xC1, 0x00, 0x00,
		0xE0 | byte(pcrPID>>8)&0x1F, byte(pcrPID),
		0xF0, 0x00,
	}
	return withCRC(append(data, body...))
}

// withPointer prefixes a section with a zero pointer field.
func withPointer(section []byte) []byte {
	return append([]byte{0x00}, section...)
}

func encodeTimestamp(marker byte, v int64) []byte {
	return []byte{
		marker<<4 | byte(v>>29)&0x0E | 0x01,
		byte(v >> 22),
		byte(v>>14)&0xFE | 0x01,
		byte(v >> 7),
		byte(v<<1)&0xFE | 0x01,
	}
}

func buildPESPacket(streamID byte, pts, dts int64, hasPTS, hasDTS bool, data []byte) []byte {
	var opt []byte
	var flags byte
	switch {
	case hasPTS && hasDTS:
		flags = 0b11
		opt = append(encodeTimestamp(0x03, pts), encodeTimestamp(0x01, dts)...)
	case hasPTS:
		flags = 0b10
		opt = encodeTimestamp(0x02, pts)
	}

	length := 3 + len(opt) + len(data)
	if streamID&0xF0 == 0xE0 {
		length = 0
	}
	buf := []byte{0x00, 0x00, 0x01, streamID, byte(length >> 8), byte(length), 0x84, flags << 6, byte(len(opt))}
	buf = append(buf, opt...)
	return append(buf, data...)
}
