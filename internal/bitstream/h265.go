package bitstream

import (
	"fmt"
	"math/bits"
	"strings"
)

// HEVCSPS holds the fields of an H.265 sequence parameter set that describe
// the decoded picture.
type HEVCSPS struct {
	Width      int
	Height     int
	ProfileIDC byte
	TierFlag   byte
	LevelIDC   byte

	ProfileCompatibilityFlags uint32
	ConstraintIndicatorFlags  uint64

	ChromaFormatIDC uint
	BitDepthLuma    int
}

// CodecString returns the RFC 6381 codec parameter, e.g. "hev1.1.6.L93.B0".
func (s HEVCSPS) CodecString() string {
	tier := "L"
	if s.TierFlag == 1 {
		tier = "H"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "hev1.%d.%X.%s%d", s.ProfileIDC, bits.Reverse32(s.ProfileCompatibilityFlags), tier, s.LevelIDC)

	var constraints [6]byte
	last := -1
	for i := range constraints {
		constraints[i] = byte(s.ConstraintIndicatorFlags >> (8 * (5 - i)))
		if constraints[i] != 0 {
			last = i
		}
	}
	for _, c := range constraints[:last+1] {
		fmt.Fprintf(&b, ".%X", c)
	}
	return b.String()
}

// ParseHEVCSPS parses an H.265 SPS NAL unit, 2-byte header included, start
// code excluded.
func ParseHEVCSPS(nal []byte) (HEVCSPS, error) {
	if len(nal) < 4 {
		return HEVCSPS{}, errSPSTooShort
	}
	p := &spsParser{br: newBitReader(Unescape(nal[2:]))}

	var s HEVCSPS
	p.u(4) // sps_video_parameter_set_id
	subLayers := p.u(3)
	p.u(1) // sps_temporal_id_nesting_flag
	p.profileTierLevel(&s, subLayers)
	p.ue() // sps_seq_parameter_set_id

	s.ChromaFormatIDC = p.ue()
	if s.ChromaFormatIDC == 3 {
		p.u(1) // separate_colour_plane_flag
	}
	s.Width = int(p.ue())
	s.Height = int(p.ue())
	if p.err != nil {
		return HEVCSPS{}, p.err
	}

	if p.flag() { // conformance_window_flag
		l, r, t, b := p.ue(), p.ue(), p.ue(), p.ue()
		subW, subH := uint(1), uint(1)
		switch s.ChromaFormatIDC {
		case 1:
			subW, subH = 2, 2
		case 2:
			subW = 2
		}
		if p.err == nil {
			s.Width -= int((l + r) * subW)
			s.Height -= int((t + b) * subH)
		}
	}
	s.BitDepthLuma = 8 + int(p.ue())
	if p.err != nil {
		s.BitDepthLuma = 8
	}
	return s, nil
}

func (p *spsParser) profileTierLevel(s *HEVCSPS, subLayers uint) {
	p.u(2) // general_profile_space
	s.TierFlag = byte(p.u(1))
	s.ProfileIDC = byte(p.u(5))
	s.ProfileCompatibilityFlags = uint32(p.u(32))
	s.ConstraintIndicatorFlags = uint64(p.u(24))<<24 | uint64(p.u(24))
	s.LevelIDC = byte(p.u(8))

	if subLayers == 0 {
		return
	}
	var profilePresent, levelPresent [8]bool
	for i := range subLayers {
		profilePresent[i] = p.flag()
		levelPresent[i] = p.flag()
	}
	for range 8 - subLayers {
		p.u(2) // reserved_zero_2bits
	}
	for i := range subLayers {
		if profilePresent[i] {
			p.u(32)
			p.u(32)
			p.u(24)
		}
		if levelPresent[i] {
			p.u(8)
		}
	}
}
