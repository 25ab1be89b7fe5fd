package tsgen

import (
	"strings"
	"time"

	"github.com/zsiec/reel/internal/bitstream"
)

// ccPair is one CEA-608 byte pair on field 1, without parity.
type ccPair struct {
	cc1, cc2 byte
}

// CEA-608 control codes for data channel 1.
var (
	ccRollUp2      = ccPair{0x14, 0x25}
	ccEraseDisplay = ccPair{0x14, 0x2C}
	ccPreamble     = ccPair{0x14, 0x60} // bottom row, white, column 0
)

// MaxCaptionLength is the number of characters that fit on one caption
// row; longer captions are truncated.
const MaxCaptionLength = 32

// scheduleCaptions assigns one byte pair per video frame. Each caption
// starts a two-row roll-up, clears the display, positions the cursor and
// types the text; the display is cleared again at the caption end.
// Control codes are sent twice, as broadcasters do.
func scheduleCaptions(captions []Caption, fps, frames int) map[int]ccPair {
	if len(captions) == 0 {
		return nil
	}
	out := make(map[int]ccPair)
	frameOf := func(d time.Duration) int {
		return int(int64(d) * int64(fps) / int64(time.Second))
	}

	for _, c := range captions {
		start, end := frameOf(c.Start), frameOf(c.End)
		if start >= frames {
			continue
		}

		pairs := []ccPair{
			ccRollUp2, ccRollUp2,
			ccEraseDisplay, ccEraseDisplay,
			ccPreamble, ccPreamble,
		}
		text := NormalizeCaption(c.Text)
		for i := 0; i < len(text); i += 2 {
			p := ccPair{text[i], 0x00}
			if i+1 < len(text) {
				p.cc2 = text[i+1]
			}
			pairs = append(pairs, p)
		}
		for i, p := range pairs {
			out[start+i] = p
		}

		if end < frames {
			out[end] = ccEraseDisplay
			out[end+1] = ccEraseDisplay
		}
	}
	return out
}

// NormalizeCaption maps text to what a generated caption displays: one
// row of printable ASCII with other characters replaced by '?'.
func NormalizeCaption(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	var b strings.Builder
	for _, r := range text {
		if b.Len() == MaxCaptionLength {
			break
		}
		if r >= 0x20 && r <= 0x7E {
			b.WriteRune(r)
		} else {
			b.WriteByte('?')
		}
	}
	return b.String()
}

// captionSEI builds an SEI NAL unit carrying p as ATSC A/53 cc_data in a
// registered ITU-T T.35 user data message.
func captionSEI(p ccPair) []byte {
	payload := []byte{
		0xB5,       // itu_t_t35_country_code
		0x00, 0x31, // itu_t_t35_provider_code (ATSC)
		'G', 'A', '9', '4',
		0x03,     // user_data_type_code: cc_data
		0x40 | 1, // process_cc_data_flag, cc_count
		0xFF,     // em_data
		0xFC,     // marker, cc_valid, cc_type 0 (field 1)
		addParity(p.cc1),
		addParity(p.cc2),
		0xFF,
	}

	msg := append([]byte{4, byte(len(payload))}, payload...)
	msg = append(msg, 0x80) // rbsp_trailing_bits
	return append([]byte{bitstream.NALTypeSEI}, bitstream.Escape(msg)...)
}

// addParity sets the top bit so the byte has odd parity.
func addParity(b byte) byte {
	b &= 0x7F
	ones := 0
	for v := b; v != 0; v >>= 1 {
		ones += int(v & 1)
	}
	if ones%2 == 0 {
		return b | 0x80
	}
	return b
}
