package mpegts

import (
	"bytes"
	"fmt"
)

var pesStartCode = []byte{0x00, 0x00, 0x01}

func isPESPayload(data []byte) bool {
	return bytes.HasPrefix(data, pesStartCode)
}

// hasPESOptionalHeader reports whether packets with the stream ID carry the
// optional header with flags and timestamps.
func hasPESOptionalHeader(streamID uint8) bool {
	switch streamID {
	case 0xBC, // program_stream_map
		0xBE, // padding_stream
		0xBF, // private_stream_2
		0xF0, // ECM
		0xF1, // EMM
		0xF2, // DSMCC
		0xF8, // H.222.1 type E
		0xFF: // program_stream_directory
		return false
	}
	return true
}

func parsePES(payload []byte) (*PESData, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPESPayload(payload) {
		return nil, fmt.Errorf("mpegts: invalid PES start code")
	}

	h := &PESHeader{
		StreamID:     payload[3],
		PacketLength: uint16(payload[4])<<8 | uint16(payload[5]),
	}
	pes := &PESData{Header: h}

	// A zero length is only legal for video and means "until the next unit".
	end := len(payload)
	if h.PacketLength > 0 {
		end = min(6+int(h.PacketLength), len(payload))
	}

	if !hasPESOptionalHeader(h.StreamID) {
		pes.Data = payload[6:end]
		return pes, nil
	}
	if len(payload) < 9 {
		return nil, fmt.Errorf("mpegts: PES optional header too short")
	}

	// [6] '10' scrambling(2) priority alignment copyright original
	// [7] PTS_DTS_flags(2) ESCR ES_rate trick additional_copy CRC extension
	// [8] PES_header_data_length
	opt := &PESOptionalHeader{DataAlignment: payload[6]&0x04 != 0}
	h.OptionalHeader = opt

	fields := payload[9:]
	switch payload[7] >> 6 {
	case 0b10:
		if len(fields) >= 5 {
			opt.PTS = parseTimestamp(fields[:5])
		}
	case 0b11:
		if len(fields) >= 10 {
			opt.PTS = parseTimestamp(fields[:5])
			opt.DTS = parseTimestamp(fields[5:10])
		}
	}

	start := min(9+int(payload[8]), end)
	pes.Data = payload[start:end]
	return pes, nil
}

// parseTimestamp decodes the 33-bit value spread over 5 bytes with marker
// bits.
func parseTimestamp(b []byte) *ClockReference {
	if len(b) < 5 {
		return nil
	}
	v := int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1)
	return &ClockReference{Base: v}
}
