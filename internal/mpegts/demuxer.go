package mpegts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// Demuxer reads transport packets from a reader and yields parsed PAT, PMT
// and PES units.
type Demuxer struct {
	ctx     context.Context
	r       io.Reader
	pktSize int
	prefix  int
	buf     []byte
	offset  int64

	pm      programMap
	pool    *packetPool
	pending []*DemuxerData
	eof     bool
}

// DemuxerOption configures a Demuxer.
type DemuxerOption func(*Demuxer)

// WithPacketSize sets the size of a packet on the wire: 188, 192 for
// streams with a 4-byte timecode prefix, or 204 for streams with trailing
// Reed-Solomon parity.
func WithPacketSize(size int) DemuxerOption {
	return func(d *Demuxer) {
		d.pktSize = size
	}
}

// WithStartOffset sets the byte offset reported for the first packet, for
// readers that are already positioned inside the input.
func WithStartOffset(off int64) DemuxerOption {
	return func(d *Demuxer) {
		d.offset = off
	}
}

// NewDemuxer returns a demuxer reading from r. NextData fails with the
// context's error once ctx is done.
func NewDemuxer(ctx context.Context, r io.Reader, opts ...DemuxerOption) *Demuxer {
	pm := programMap{}
	d := &Demuxer{
		ctx:     ctx,
		r:       r,
		pktSize: packetSize,
		pm:      pm,
		pool:    newPacketPool(pm),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.pktSize == 192 {
		d.prefix = 4
	}
	d.buf = make([]byte, d.pktSize)
	return d
}

// Offset returns the byte offset of the next packet to be read.
func (d *Demuxer) Offset() int64 { return d.offset }

// Reset discards partial units and buffered results after the caller has
// repositioned the reader at off. Known PMT PIDs are kept.
func (d *Demuxer) Reset(off int64) {
	d.pool.reset()
	d.pending = nil
	d.eof = false
	d.offset = off
}

// NextData returns the next parsed unit, or io.EOF once the input and all
// partial units are exhausted.
func (d *Demuxer) NextData() (*DemuxerData, error) {
	for {
		if len(d.pending) > 0 {
			data := d.pending[0]
			d.pending = d.pending[1:]
			return data, nil
		}
		if d.eof {
			return nil, io.EOF
		}
		if err := d.ctx.Err(); err != nil {
			return nil, err
		}

		pkt, err := d.readPacket()
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			d.eof = true
			for _, unit := range d.pool.dump() {
				d.queue(unit)
			}
			continue
		case err != nil:
			return nil, err
		case pkt == nil:
			continue
		}

		if unit := d.pool.add(pkt); unit != nil {
			d.queue(unit)
		}
	}
}

// readPacket reads one packet, re-aligning on the next sync byte when the
// input lost sync. It returns a nil packet for data it had to skip.
func (d *Demuxer) readPacket() (*Packet, error) {
	start := d.offset
	n, err := io.ReadFull(d.r, d.buf)
	d.offset += int64(n)
	if err != nil {
		return nil, err
	}

	if d.buf[d.prefix] != syncByte {
		i := bytes.IndexByte(d.buf[d.prefix+1:], syncByte)
		if i < 0 {
			return nil, nil
		}
		shift := i + 1
		copy(d.buf, d.buf[shift:])
		n, err := io.ReadFull(d.r, d.buf[len(d.buf)-shift:])
		d.offset += int64(n)
		if err != nil {
			return nil, err
		}
		start += int64(shift)
	}

	pkt, err := parsePacket(d.buf[d.prefix : d.prefix+packetSize], start)
	if err != nil {
		return nil, nil
	}
	return pkt, nil
}

func (d *Demuxer) queue(unit []*Packet) {
	results, err := d.parseUnit(unit)
	if err != nil {
		return
	}
	for _, r := range results {
		if r.PAT != nil {
			d.pm.learn(r.PAT)
		}
	}
	d.pending = append(d.pending, results...)
}

func (d *Demuxer) parseUnit(unit []*Packet) ([]*DemuxerData, error) {
	first := unit[0]
	payload := concatPayloads(unit)
	if len(payload) == 0 {
		return nil, nil
	}

	if d.pm.isPSI(first.Header.PID) {
		return parsePSI(payload, first)
	}
	if !isPESPayload(payload) {
		return nil, nil
	}
	pes, err := parsePES(payload)
	if err != nil {
		return nil, fmt.Errorf("pid 0x%x at %d: %w", first.Header.PID, first.Offset, err)
	}
	return []*DemuxerData{{FirstPacket: first, PES: pes}}, nil
}
