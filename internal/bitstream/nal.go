package bitstream

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// H.265 NAL unit types (ITU-T H.265 Table 7-1).
const (
	HEVCNALBlaWLP    = 16
	HEVCNALIDRWRadl  = 19
	HEVCNALIDRNlp    = 20
	HEVCNALCraNut    = 21
	HEVCNALVPS       = 32
	HEVCNALSPS       = 33
	HEVCNALPPS       = 34
	HEVCNALAUD       = 35
	HEVCNALSEIPrefix = 39
)

// NALUnit is one NAL unit without its start code.
type NALUnit struct {
	Type byte
	Data []byte // including the NAL header
}

// HEVCNALType extracts the type from the first byte of an H.265 NAL header.
func HEVCNALType(b byte) byte { return (b >> 1) & 0x3F }

// ParseAnnexB splits an H.264 Annex B stream into NAL units.
func ParseAnnexB(data []byte) []NALUnit {
	return splitAnnexB(data, 1, func(d []byte) byte { return d[0] & 0x1F })
}

// ParseAnnexBHEVC splits an H.265 Annex B stream into NAL units.
func ParseAnnexBHEVC(data []byte) []NALUnit {
	return splitAnnexB(data, 2, func(d []byte) byte { return HEVCNALType(d[0]) })
}

// splitAnnexB finds 3- and 4-byte start codes and returns the units between
// them that are at least minLen bytes long.
func splitAnnexB(data []byte, minLen int, typeOf func([]byte) byte) []NALUnit {
	type bounds struct{ sc, start int }
	var marks []bounds
	for i := 0; i+2 < len(data); {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}
		switch {
		case data[i+2] == 1:
			marks = append(marks, bounds{i, i + 3})
			i += 3
		case data[i+2] == 0 && i+3 < len(data) && data[i+3] == 1:
			marks = append(marks, bounds{i, i + 4})
			i += 4
		default:
			i++
		}
	}

	var units []NALUnit
	for k, m := range marks {
		end := len(data)
		if k+1 < len(marks) {
			end = marks[k+1].sc
		}
		if end-m.start < minLen {
			continue
		}
		nal := data[m.start:end]
		units = append(units, NALUnit{Type: typeOf(nal), Data: nal})
	}
	return units
}

// IsKeyframe reports whether the H.264 access unit contains an IDR slice.
func IsKeyframe(au []byte) bool {
	for _, nal := range ParseAnnexB(au) {
		if nal.Type == NALTypeIDR {
			return true
		}
	}
	return false
}

// IsHEVCKeyframe reports whether the H.265 access unit contains an IRAP
// picture.
func IsHEVCKeyframe(au []byte) bool {
	for _, nal := range ParseAnnexBHEVC(au) {
		if nal.Type >= HEVCNALBlaWLP && nal.Type <= HEVCNALCraNut {
			return true
		}
	}
	return false
}

// AppendAnnexB appends nal to dst behind a 4-byte start code.
func AppendAnnexB(dst []byte, nal []byte) []byte {
	return append(append(dst, 0, 0, 0, 1), nal...)
}
