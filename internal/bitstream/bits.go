package bitstream

import "errors"

// ErrTruncated is returned when a syntax element runs past the end of the
// data.
var ErrTruncated = errors.New("bitstream: truncated")

type bitReader struct {
	data []byte
	pos  int // bit position
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) readBit() (uint, error) {
	if br.pos>>3 >= len(br.data) {
		return 0, ErrTruncated
	}
	v := uint(br.data[br.pos>>3]>>(7-br.pos&7)) & 1
	br.pos++
	return v, nil
}

func (br *bitReader) readBits(n int) (uint, error) {
	var v uint
	for range n {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | b
	}
	return v, nil
}

func (br *bitReader) readFlag() (bool, error) {
	b, err := br.readBit()
	return b == 1, err
}

func (br *bitReader) skip(n int) error {
	_, err := br.readBits(n)
	return err
}

// readUE reads an unsigned Exp-Golomb code.
func (br *bitReader) readUE() (uint, error) {
	zeros := 0
	for {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		if zeros++; zeros > 31 {
			return 0, ErrTruncated
		}
	}
	suffix, err := br.readBits(zeros)
	if err != nil {
		return 0, err
	}
	return 1<<zeros - 1 + suffix, nil
}

// readSE reads a signed Exp-Golomb code.
func (br *bitReader) readSE() (int, error) {
	v, err := br.readUE()
	if err != nil {
		return 0, err
	}
	if v%2 == 0 {
		return -int(v / 2), nil
	}
	return int(v+1) / 2, nil
}

// BitWriter assembles an RBSP bit by bit.
type BitWriter struct {
	buf  []byte
	nbit int
}

// WriteBits writes the low n bits of v, most significant first.
func (w *BitWriter) WriteBits(v uint, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.nbit&7 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>i&1 == 1 {
			w.buf[len(w.buf)-1] |= 0x80 >> (w.nbit & 7)
		}
		w.nbit++
	}
}

// WriteFlag writes a single bit.
func (w *BitWriter) WriteFlag(b bool) {
	if b {
		w.WriteBits(1, 1)
	} else {
		w.WriteBits(0, 1)
	}
}

// WriteUE writes an unsigned Exp-Golomb code.
func (w *BitWriter) WriteUE(v uint) {
	v++
	n := 0
	for x := v; x > 1; x >>= 1 {
		n++
	}
	w.WriteBits(0, n)
	w.WriteBits(v, n+1)
}

// WriteSE writes a signed Exp-Golomb code.
func (w *BitWriter) WriteSE(v int) {
	if v > 0 {
		w.WriteUE(uint(2*v - 1))
	} else {
		w.WriteUE(uint(-2 * v))
	}
}

// RBSP terminates the payload with rbsp_trailing_bits and returns it.
func (w *BitWriter) RBSP() []byte {
	w.WriteBits(1, 1)
	for w.nbit&7 != 0 {
		w.WriteBits(0, 1)
	}
	return w.buf
}

// Unescape removes emulation prevention bytes (00 00 03 -> 00 00).
func Unescape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for i, b := range data {
		if zeros >= 2 && b == 0x03 && (i+1 == len(data) || data[i+1] <= 0x03) {
			zeros = 0
			continue
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// Escape inserts emulation prevention bytes so that no start code prefix
// appears inside a NAL unit payload.
func Escape(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/64)
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}
