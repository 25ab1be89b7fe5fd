package bitstream

import (
	"errors"
	"fmt"
)

var errSPSTooShort = errors.New("bitstream: SPS too short")

// SPS holds the fields of an H.264 sequence parameter set that describe the
// decoded picture.
type SPS struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
	ChromaFormatIDC uint
	BitDepthLuma    int

	VUI VUI
}

// VUI holds the video usability information relevant to presentation.
type VUI struct {
	SARNum, SARDen int // zero when unspecified

	VideoFullRange   bool
	ColourPrimaries  int // 2 (unspecified) when absent
	TransferFunction int
	MatrixCoeffs     int

	// NumUnitsInTick and TimeScale are zero without timing info.
	NumUnitsInTick uint32
	TimeScale      uint32
}

// FrameRate returns the nominal frame rate as a fraction, zero if unknown.
func (v VUI) FrameRate() (num, den int) {
	if v.NumUnitsInTick == 0 || v.TimeScale == 0 {
		return 0, 0
	}
	return int(v.TimeScale), 2 * int(v.NumUnitsInTick)
}

// CodecString returns the RFC 6381 codec parameter, e.g. "avc1.42E01E".
func (s SPS) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// sampleAspectRatios is H.264 Table E-1, indexed by aspect_ratio_idc.
var sampleAspectRatios = [...][2]int{
	{0, 0}, {1, 1}, {12, 11}, {10, 11}, {16, 11}, {40, 33}, {24, 11}, {20, 11},
	{32, 11}, {80, 33}, {18, 11}, {15, 11}, {64, 33}, {160, 99}, {4, 3}, {3, 2},
	{2, 1},
}

const extendedSAR = 255

func highProfile(idc uint) bool {
	switch idc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

// ParseSPS parses an H.264 SPS NAL unit, header byte included, start code
// excluded.
func ParseSPS(nal []byte) (SPS, error) {
	if len(nal) < 4 {
		return SPS{}, errSPSTooShort
	}
	p := &spsParser{br: newBitReader(Unescape(nal[1:]))}
	s := p.parse()
	if p.err != nil {
		return SPS{}, p.err
	}
	return s, nil
}

// spsParser records the first read error so the syntax walk reads straight
// through; every read after a failure returns zero.
type spsParser struct {
	br  *bitReader
	err error
}

func (p *spsParser) u(n int) uint {
	if p.err != nil {
		return 0
	}
	v, err := p.br.readBits(n)
	p.err = err
	return v
}

func (p *spsParser) flag() bool { return p.u(1) == 1 }

func (p *spsParser) ue() uint {
	if p.err != nil {
		return 0
	}
	v, err := p.br.readUE()
	p.err = err
	return v
}

func (p *spsParser) se() int {
	if p.err != nil {
		return 0
	}
	v, err := p.br.readSE()
	p.err = err
	return v
}

func (p *spsParser) scalingList(size int) {
	last, next := 8, 8
	for range size {
		if next != 0 {
			next = (last + p.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

func (p *spsParser) parse() SPS {
	var s SPS
	profile := p.u(8)
	s.ProfileIDC = byte(profile)
	s.ConstraintFlags = byte(p.u(8))
	s.LevelIDC = byte(p.u(8))
	p.ue() // seq_parameter_set_id

	s.ChromaFormatIDC = 1
	s.BitDepthLuma = 8
	separatePlanes := false
	if highProfile(profile) {
		s.ChromaFormatIDC = p.ue()
		if s.ChromaFormatIDC == 3 {
			separatePlanes = p.flag()
		}
		s.BitDepthLuma = 8 + int(p.ue())
		p.ue() // bit_depth_chroma_minus8
		p.u(1) // qpprime_y_zero_transform_bypass_flag
		if p.flag() {
			lists := 8
			if s.ChromaFormatIDC == 3 {
				lists = 12
			}
			for i := range lists {
				if p.flag() {
					if i < 6 {
						p.scalingList(16)
					} else {
						p.scalingList(64)
					}
				}
			}
		}
	}

	p.ue() // log2_max_frame_num_minus4
	switch p.ue() { // pic_order_cnt_type
	case 0:
		p.ue()
	case 1:
		p.u(1)
		p.se()
		p.se()
		for range p.ue() {
			p.se()
		}
	}
	p.ue() // max_num_ref_frames
	p.u(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := p.ue() + 1
	heightMapUnits := p.ue() + 1
	frameMbsOnly := p.u(1)
	if frameMbsOnly == 0 {
		p.u(1) // mb_adaptive_frame_field_flag
	}
	p.u(1) // direct_8x8_inference_flag

	var cropL, cropR, cropT, cropB uint
	if p.flag() {
		cropL, cropR, cropT, cropB = p.ue(), p.ue(), p.ue(), p.ue()
	}
	if p.err != nil {
		return s
	}

	subW, subH := uint(2), uint(2)
	switch {
	case separatePlanes, s.ChromaFormatIDC == 0, s.ChromaFormatIDC == 3:
		subW, subH = 1, 1
	case s.ChromaFormatIDC == 2:
		subH = 1
	}
	cropUnitY := subH * (2 - frameMbsOnly)
	s.Width = int(widthMbs*16 - subW*(cropL+cropR))
	s.Height = int(heightMapUnits*16*(2-frameMbsOnly) - cropUnitY*(cropT+cropB))

	s.VUI.ColourPrimaries, s.VUI.TransferFunction, s.VUI.MatrixCoeffs = 2, 2, 2
	if p.flag() {
		s.VUI = p.vui()
	}
	// A truncated VUI leaves the picture description usable.
	p.err = nil
	return s
}

func (p *spsParser) vui() VUI {
	v := VUI{ColourPrimaries: 2, TransferFunction: 2, MatrixCoeffs: 2}

	if p.flag() { // aspect_ratio_info_present_flag
		idc := p.u(8)
		switch {
		case idc == extendedSAR:
			v.SARNum, v.SARDen = int(p.u(16)), int(p.u(16))
		case idc < uint(len(sampleAspectRatios)):
			v.SARNum, v.SARDen = sampleAspectRatios[idc][0], sampleAspectRatios[idc][1]
		}
	}
	if p.flag() { // overscan_info_present_flag
		p.u(1)
	}
	if p.flag() { // video_signal_type_present_flag
		p.u(3) // video_format
		v.VideoFullRange = p.flag()
		if p.flag() {
			v.ColourPrimaries = int(p.u(8))
			v.TransferFunction = int(p.u(8))
			v.MatrixCoeffs = int(p.u(8))
		}
	}
	if p.flag() { // chroma_loc_info_present_flag
		p.ue()
		p.ue()
	}
	if p.flag() { // timing_info_present_flag
		units, scale := p.u(32), p.u(32)
		p.u(1) // fixed_frame_rate_flag
		if p.err == nil {
			v.NumUnitsInTick, v.TimeScale = uint32(units), uint32(scale)
		}
	}
	return v
}

// SPSParams describes an SPS to synthesize with WriteSPS.
type SPSParams struct {
	Width, Height  int
	ProfileIDC     byte
	LevelIDC       byte
	SARNum, SARDen int
	FullRange      bool
	Primaries      int
	Transfer       int
	Matrix         int
	FrameRate      int // frames per second; zero omits timing info
}

// WriteSPS builds a progressive 4:2:0 H.264 SPS NAL unit, header included,
// start code excluded. Dimensions not divisible by 16 are cropped.
func WriteSPS(sp SPSParams) []byte {
	w := &BitWriter{}
	w.WriteBits(uint(sp.ProfileIDC), 8)
	w.WriteBits(0, 8) // constraint flags
	w.WriteBits(uint(sp.LevelIDC), 8)
	w.WriteUE(0) // seq_parameter_set_id
	if highProfile(uint(sp.ProfileIDC)) {
		w.WriteUE(1) // chroma_format_idc
		w.WriteUE(0)
		w.WriteUE(0)
		w.WriteFlag(false)
		w.WriteFlag(false) // no scaling matrix
	}
	w.WriteUE(0) // log2_max_frame_num_minus4
	w.WriteUE(2) // pic_order_cnt_type
	w.WriteUE(1) // max_num_ref_frames
	w.WriteFlag(false)

	mbW, mbH := (sp.Width+15)/16, (sp.Height+15)/16
	w.WriteUE(uint(mbW - 1))
	w.WriteUE(uint(mbH - 1))
	w.WriteFlag(true) // frame_mbs_only_flag
	w.WriteFlag(true) // direct_8x8_inference_flag

	cropR, cropB := mbW*16-sp.Width, mbH*16-sp.Height
	if cropR > 0 || cropB > 0 {
		w.WriteFlag(true)
		w.WriteUE(0)
		w.WriteUE(uint(cropR / 2))
		w.WriteUE(0)
		w.WriteUE(uint(cropB / 2))
	} else {
		w.WriteFlag(false)
	}

	w.WriteFlag(true) // vui_parameters_present_flag
	if sp.SARNum > 0 && sp.SARDen > 0 {
		w.WriteFlag(true)
		w.WriteBits(extendedSAR, 8)
		w.WriteBits(uint(sp.SARNum), 16)
		w.WriteBits(uint(sp.SARDen), 16)
	} else {
		w.WriteFlag(false)
	}
	w.WriteFlag(false) // overscan
	w.WriteFlag(true)  // video_signal_type_present_flag
	w.WriteBits(5, 3)  // unspecified video_format
	w.WriteFlag(sp.FullRange)
	w.WriteFlag(true)
	w.WriteBits(uint(sp.Primaries), 8)
	w.WriteBits(uint(sp.Transfer), 8)
	w.WriteBits(uint(sp.Matrix), 8)
	w.WriteFlag(false) // chroma_loc
	if sp.FrameRate > 0 {
		w.WriteFlag(true)
		w.WriteBits(1000, 32)
		w.WriteBits(uint(sp.FrameRate)*2000, 32)
		w.WriteFlag(true)
	} else {
		w.WriteFlag(false)
	}
	w.WriteFlag(false) // nal_hrd_parameters_present_flag
	w.WriteFlag(false) // vcl_hrd_parameters_present_flag
	w.WriteFlag(false) // pic_struct_present_flag
	w.WriteFlag(false) // bitstream_restriction_flag

	return append([]byte{0x67}, Escape(w.RBSP())...)
}
