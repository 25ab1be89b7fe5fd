package ffmpeg

import (
	"io"
	"regexp"
	"strings"

	"github.com/zsiec/reel/internal/media"
)

var (
	assOverride = regexp.MustCompile(`\{[^}]*\}`)
	markupTag   = regexp.MustCompile(`</?[A-Za-z][^>]*>`)
)

// TextDecoder decodes text subtitle packets. The packet timestamps define
// the display window.
type TextDecoder struct {
	ass bool
}

// NewTextDecoder returns a decoder for a text subtitle codec, nil for
// bitmap and unknown codecs.
func NewTextDecoder(codec string) *TextDecoder {
	switch codec {
	case "subrip", "srt", "webvtt", "text", "mov_text":
		return &TextDecoder{}
	case "ass", "ssa":
		return &TextDecoder{ass: true}
	}
	return nil
}

func (d *TextDecoder) DecodeSubtitle(p *media.RawPacket) ([]media.SubtitleCue, error) {
	if p == nil || len(p.Data) == 0 {
		return nil, nil
	}
	data := p.Data
	if !d.ass && len(data) >= 2 && int(data[0])<<8|int(data[1]) == len(data)-2 {
		// mov_text: 16-bit length prefix.
		data = data[2:]
	}
	var text string
	if d.ass {
		text = assText(string(data))
	} else {
		text = markupTag.ReplaceAllString(string(data), "")
	}
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil, nil
	}
	return []media.SubtitleCue{{PTS: media.NoTimestamp, Text: text}}, nil
}

// assText extracts the text field of an ASS event: everything after the
// eighth comma, without override blocks.
func assText(event string) string {
	fields := strings.SplitN(event, ",", 9)
	if len(fields) < 9 {
		return ""
	}
	text := assOverride.ReplaceAllString(fields[8], "")
	text = strings.ReplaceAll(text, `\N`, "\n")
	return strings.ReplaceAll(text, `\n`, "\n")
}

func (d *TextDecoder) SendPacket(*media.RawPacket) error      { return nil }
func (d *TextDecoder) ReceiveFrame() (*media.RawFrame, error) { return nil, io.EOF }
func (d *TextDecoder) Flush()                                 {}
func (d *TextDecoder) Close() error                           { return nil }
