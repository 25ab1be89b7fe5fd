package bitstream

import "errors"

// ErrInvalidADTS is returned for a malformed ADTS header.
var ErrInvalidADTS = errors.New("bitstream: invalid ADTS header")

// SamplesPerAACFrame is the number of PCM samples per channel in one raw AAC
// data block.
const SamplesPerAACFrame = 1024

// aacSampleRates is indexed by sampling_frequency_index (ISO 14496-3).
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// ADTSFrame is one ADTS frame.
type ADTSFrame struct {
	Data       []byte // header and payload
	Profile    int    // audio object type minus 1
	SampleRate int
	Channels   int
	Blocks     int // raw data blocks in the frame
}

// Samples returns the number of samples per channel the frame decodes to.
func (f ADTSFrame) Samples() int { return f.Blocks * SamplesPerAACFrame }

// ParseADTS splits an ADTS stream into frames, skipping garbage between
// sync words. A truncated trailing frame is dropped.
func ParseADTS(data []byte) ([]ADTSFrame, error) {
	var frames []ADTSFrame
	for off := 0; len(data)-off >= 7; {
		h := data[off:]
		if h[0] != 0xFF || h[1]&0xF0 != 0xF0 {
			off++
			continue
		}

		hdrLen := 7
		if h[1]&0x01 == 0 {
			hdrLen = 9 // CRC present
		}
		rateIdx := int(h[2]>>2) & 0x0F
		if rateIdx >= len(aacSampleRates) {
			return frames, ErrInvalidADTS
		}
		frameLen := int(h[3]&0x03)<<11 | int(h[4])<<3 | int(h[5]>>5)
		if frameLen < hdrLen || frameLen > len(h) {
			break
		}

		frames = append(frames, ADTSFrame{
			Data:       h[:frameLen],
			Profile:    int(h[2] >> 6),
			SampleRate: aacSampleRates[rateIdx],
			Channels:   int(h[2]&0x01)<<2 | int(h[3]>>6),
			Blocks:     int(h[6]&0x03) + 1,
		})
		off += frameLen
	}
	return frames, nil
}

// AppendADTS appends an ADTS header without CRC and the raw AAC payload.
func AppendADTS(dst []byte, profile, sampleRate, channels int, payload []byte) ([]byte, error) {
	idx := -1
	for i, r := range aacSampleRates {
		if r == sampleRate {
			idx = i
			break
		}
	}
	if idx < 0 || channels < 1 || channels > 7 {
		return dst, ErrInvalidADTS
	}
	n := 7 + len(payload)
	if n >= 1<<13 {
		return dst, ErrInvalidADTS
	}
	dst = append(dst,
		0xFF,
		0xF1, // MPEG-4, layer 0, no CRC
		byte(profile&0x03)<<6|byte(idx)<<2|byte(channels>>2),
		byte(channels&0x03)<<6|byte(n>>11),
		byte(n>>3),
		byte(n&0x07)<<5|0x1F,
		0xFC, // buffer fullness 0x7FF, one raw data block
	)
	return append(dst, payload...), nil
}
