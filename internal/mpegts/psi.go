package mpegts

import (
	"errors"
	"fmt"
)

const (
	pidPAT = 0x0000

	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

var errShortSection = errors.New("mpegts: section too short")

// parsePSI walks the sections in a reassembled PSI payload.
func parsePSI(payload []byte, first *Packet) ([]*DemuxerData, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("mpegts: PSI payload too short")
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer field out of range")
	}

	var out []*DemuxerData
	for _, section := range splitSections(payload[off:]) {
		switch section[0] {
		case tableIDPAT:
			pat, err := parsePATSection(section)
			if err != nil {
				return out, err
			}
			out = append(out, &DemuxerData{FirstPacket: first, PAT: pat})
		case tableIDPMT:
			pmt, err := parsePMTSection(section)
			if err != nil {
				return out, err
			}
			out = append(out, &DemuxerData{FirstPacket: first, PMT: pmt})
		}
	}
	return out, nil
}

// splitSections cuts b into complete long-form sections, stopping at
// stuffing, at zero padding or at a truncated section.
func splitSections(b []byte) [][]byte {
	var sections [][]byte
	for len(b) >= 3 && b[0] != 0xFF && b[1]&0x80 != 0 {
		n := 3 + (int(b[1]&0x0F)<<8 | int(b[2]))
		if n > len(b) {
			break
		}
		sections = append(sections, b[:n])
		b = b[n:]
	}
	return sections
}

// sectionComplete reports whether a PSI payload holds every section it
// starts.
func sectionComplete(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return false
	}
	b := payload[off:]
	for len(b) > 0 && b[0] != 0xFF {
		if len(b) < 3 {
			return false
		}
		if b[1]&0x80 == 0 {
			return true
		}
		n := 3 + (int(b[1]&0x0F)<<8 | int(b[2]))
		if n > len(b) {
			return false
		}
		b = b[n:]
	}
	return true
}

// parsePATSection decodes
//
//	table_id(8) flags+section_length(16) transport_stream_id(16)
//	version(8) section_number(8) last_section_number(8)
//	{program_number(16) reserved(3) PID(13)}... CRC32
func parsePATSection(s []byte) (*PATData, error) {
	if err := verifyCRC32(s); err != nil {
		return nil, fmt.Errorf("mpegts: PAT %w", err)
	}
	if len(s) < 12 {
		return nil, fmt.Errorf("mpegts: PAT %w", errShortSection)
	}

	pat := &PATData{TransportStreamID: uint16(s[3])<<8 | uint16(s[4])}
	entries := s[8 : len(s)-4]
	for ; len(entries) >= 4; entries = entries[4:] {
		num := uint16(entries[0])<<8 | uint16(entries[1])
		if num == 0 {
			continue // network PID
		}
		pat.Programs = append(pat.Programs, &PATProgram{
			ProgramNumber: num,
			ProgramMapID:  uint16(entries[2]&0x1F)<<8 | uint16(entries[3]),
		})
	}
	return pat, nil
}

// parsePMTSection decodes
//
//	table_id(8) flags+section_length(16) program_number(16)
//	version(8) section_number(8) last_section_number(8)
//	reserved(3) PCR_PID(13) reserved(4) program_info_length(12) descriptors
//	{stream_type(8) reserved(3) PID(13) reserved(4) ES_info_length(12)
//	 descriptors}... CRC32
func parsePMTSection(s []byte) (*PMTData, error) {
	if err := verifyCRC32(s); err != nil {
		return nil, fmt.Errorf("mpegts: PMT %w", err)
	}
	if len(s) < 16 {
		return nil, fmt.Errorf("mpegts: PMT %w", errShortSection)
	}

	pmt := &PMTData{
		ProgramNumber: uint16(s[3])<<8 | uint16(s[4]),
		PCRPID:        uint16(s[8]&0x1F)<<8 | uint16(s[9]),
	}

	body := s[:len(s)-4]
	off := 12 + (int(s[10]&0x0F)<<8 | int(s[11]))
	for off+5 <= len(body) {
		es := &PMTElementaryStream{
			StreamType:    body[off],
			ElementaryPID: uint16(body[off+1]&0x1F)<<8 | uint16(body[off+2]),
		}
		infoLen := int(body[off+3]&0x0F)<<8 | int(body[off+4])
		off += 5
		info := body[off:min(off+infoLen, len(body))]
		es.Descriptors = parseDescriptors(info)
		for _, d := range es.Descriptors {
			if d.Tag == DescriptorLanguage && len(d.Data) >= 3 && es.Language == "" {
				es.Language = string(d.Data[:3])
			}
		}
		pmt.ElementaryStreams = append(pmt.ElementaryStreams, es)
		off += infoLen
	}
	return pmt, nil
}

func parseDescriptors(b []byte) []Descriptor {
	var ds []Descriptor
	for len(b) >= 2 {
		n := int(b[1])
		if 2+n > len(b) {
			break
		}
		ds = append(ds, Descriptor{Tag: b[0], Data: b[2 : 2+n]})
		b = b[2+n:]
	}
	return ds
}
