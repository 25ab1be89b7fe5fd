package mpegts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

// syntheticStream returns PAT, PMT, two video and two audio PES packets.
func syntheticStream() []byte {
	var b bytes.Buffer
	b.Write(makePacket(pidPAT, 0, true, withPointer(buildPAT(1, []program{{1, 0x1000}}))))
	b.Write(makePacket(0x1000, 0, true, withPointer(buildPMT(1, 0x100, []esEntry{
		{streamType: StreamTypeH264, pid: 0x100},
		{streamType: StreamTypeAAC, pid: 0x101, lang: "spa"},
	}))))
	idr := []byte{0x00, 0x00, 0x00, 0x01, 0x65}
	adts := []byte{0xFF, 0xF1, 0x50, 0x40}
	b.Write(makePacket(0x100, 0, true, buildPESPacket(0xE0, 90000, 0, true, false, idr)))
	b.Write(makePacket(0x101, 0, true, buildPESPacket(0xC0, 90000, 0, true, false, adts)))
	b.Write(makePacket(0x100, 1, true, buildPESPacket(0xE0, 93754, 0, true, false, idr)))
	b.Write(makePacket(0x101, 1, true, buildPESPacket(0xC0, 97680, 0, true, false, adts)))
	return b.Bytes()
}

type unitSummary struct {
	pid    uint16
	pts    int64
	offset int64
}

func collect(t *testing.T, dmx *Demuxer) (pmts []*PMTData, pes []unitSummary) {
	t.Helper()
	for {
		data, err := dmx.NextData()
		if errors.Is(err, io.EOF) {
			return pmts, pes
		}
		if err != nil {
			t.Fatalf("NextData: %v", err)
		}
		if data.PMT != nil {
			pmts = append(pmts, data.PMT)
		}
		if data.PES != nil {
			s := unitSummary{pid: data.FirstPacket.Header.PID, offset: data.FirstPacket.Offset}
			if opt := data.PES.Header.OptionalHeader; opt != nil && opt.PTS != nil {
				s.pts = opt.PTS.Base
			}
			pes = append(pes, s)
		}
	}
}

func TestDemuxerSynthetic(t *testing.T) {
	t.Parallel()

	dmx := NewDemuxer(context.Background(), bytes.NewReader(syntheticStream()))
	pmts, pes := collect(t, dmx)

	if len(pmts) != 1 {
		t.Fatalf("PMTs: got %d, want 1", len(pmts))
	}
	if lang := pmts[0].ElementaryStreams[1].Language; lang != "spa" {
		t.Errorf("audio language: got %q, want spa", lang)
	}

	want := []unitSummary{
		{0x100, 90000, 2 * packetSize},
		{0x101, 90000, 3 * packetSize},
		{0x100, 93754, 4 * packetSize},
		{0x101, 97680, 5 * packetSize},
	}
	if len(pes) != len(want) {
		t.Fatalf("PES units: got %d, want %d", len(pes), len(want))
	}
	for i, w := range want {
		if pes[i] != w {
			t.Errorf("unit %d: got %+v, want %+v", i, pes[i], w)
		}
	}
	if dmx.Offset() != 6*packetSize {
		t.Errorf("Offset: got %d, want %d", dmx.Offset(), 6*packetSize)
	}
}

func TestDemuxerPrefixedPackets(t *testing.T) {
	t.Parallel()

	src := syntheticStream()
	var b bytes.Buffer
	for off := 0; off < len(src); off += packetSize {
		b.Write([]byte{0x01, 0x02, 0x03, 0x04})
		b.Write(src[off : off+packetSize])
	}

	dmx := NewDemuxer(context.Background(), &b, WithPacketSize(192))
	_, pes := collect(t, dmx)
	if len(pes) != 4 {
		t.Fatalf("PES units: got %d, want 4", len(pes))
	}
	if pes[0].offset != 2*192 {
		t.Errorf("first PES offset: got %d, want %d", pes[0].offset, 2*192)
	}
}

func TestDemuxerResync(t *testing.T) {
	t.Parallel()

	src := syntheticStream()
	var b bytes.Buffer
	b.Write(src[:2*packetSize])
	b.Write([]byte{0x00, 0x11, 0x22}) // garbage between packets
	b.Write(src[2*packetSize:])

	dmx := NewDemuxer(context.Background(), &b)
	_, pes := collect(t, dmx)
	if len(pes) != 4 {
		t.Fatalf("PES units: got %d, want 4", len(pes))
	}
	if pes[0].offset != 2*packetSize+3 {
		t.Errorf("offset after resync: got %d, want %d", pes[0].offset, 2*packetSize+3)
	}
}

func TestDemuxerCorruptPacketSkipped(t *testing.T) {
	t.Parallel()

	pat := withPointer(buildPAT(1, []program{{1, 0x1000}}))
	var b bytes.Buffer
	b.Write(makePacket(pidPAT, 0, true, pat))
	b.Write(make([]byte, packetSize))
	b.Write(makePacket(pidPAT, 1, true, pat))

	dmx := NewDemuxer(context.Background(), &b)
	pats := 0
	for {
		data, err := dmx.NextData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if data.PAT != nil {
			pats++
		}
	}
	if pats != 2 {
		t.Errorf("PATs: got %d, want 2", pats)
	}
}

func TestDemuxerReset(t *testing.T) {
	t.Parallel()

	src := syntheticStream()
	r := bytes.NewReader(src)
	dmx := NewDemuxer(context.Background(), r)

	// Read up to the first PES so the program tables are known.
	for {
		data, err := dmx.NextData()
		if err != nil {
			t.Fatalf("NextData: %v", err)
		}
		if data.PES != nil {
			break
		}
	}

	off := int64(4 * packetSize)
	if _, err := r.Seek(off, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	dmx.Reset(off)

	_, pes := collect(t, dmx)
	if len(pes) != 2 {
		t.Fatalf("PES after reset: got %d, want 2", len(pes))
	}
	if pes[0].pts != 93754 || pes[0].offset != off {
		t.Errorf("first unit after reset: got %+v", pes[0])
	}
}

func TestDemuxerEOF(t *testing.T) {
	t.Parallel()

	dmx := NewDemuxer(context.Background(), bytes.NewReader(nil))
	if _, err := dmx.NextData(); !errors.Is(err, io.EOF) {
		t.Errorf("got %v, want io.EOF", err)
	}
	if _, err := dmx.NextData(); !errors.Is(err, io.EOF) {
		t.Errorf("second call: got %v, want io.EOF", err)
	}
}

func TestDemuxerContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dmx := NewDemuxer(ctx, bytes.NewReader(syntheticStream()))
	if _, err := dmx.NextData(); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
