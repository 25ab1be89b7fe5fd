package mpegts

import "testing"

func pkt(pid uint16, cc uint8, pusi bool, b byte) *Packet {
	return &Packet{
		Header: PacketHeader{
			PID:                       pid,
			ContinuityCounter:         cc,
			HasPayload:                true,
			PayloadUnitStartIndicator: pusi,
		},
		Payload: []byte{b},
	}
}

func TestAccumulator(t *testing.T) {
	t.Parallel()

	discontinuity := pkt(0x100, 9, false, 3)
	discontinuity.Header.DiscontinuityIndicator = true
	tei := pkt(0x100, 1, false, 2)
	tei.Header.TransportErrorIndicator = true
	afOnly := &Packet{Header: PacketHeader{PID: 0x100, HasAdaptationField: true}}

	tests := []struct {
		name    string
		packets []*Packet
		want    []int // unit sizes returned after each packet, -1 for none
	}{
		{
			"unit start flushes",
			[]*Packet{pkt(0x100, 0, true, 1), pkt(0x100, 1, false, 2), pkt(0x100, 2, true, 3)},
			[]int{-1, -1, 2},
		},
		{
			"lost packets drop the unit",
			[]*Packet{pkt(0x100, 0, true, 1), pkt(0x100, 1, false, 2), pkt(0x100, 5, false, 3), pkt(0x100, 6, true, 4)},
			[]int{-1, -1, -1, -1},
		},
		{
			"duplicate dropped",
			[]*Packet{pkt(0x100, 3, true, 1), pkt(0x100, 3, false, 1), pkt(0x100, 4, true, 2)},
			[]int{-1, -1, 1},
		},
		{
			"transport error clears",
			[]*Packet{pkt(0x100, 0, true, 1), tei, pkt(0x100, 2, true, 3)},
			[]int{-1, -1, -1},
		},
		{
			"adaptation only ignored",
			[]*Packet{pkt(0x100, 0, true, 1), afOnly, pkt(0x100, 1, true, 2)},
			[]int{-1, -1, 1},
		},
		{
			"counter wraps",
			[]*Packet{pkt(0x100, 15, true, 1), pkt(0x100, 0, false, 2), pkt(0x100, 1, true, 3)},
			[]int{-1, -1, 2},
		},
		{
			"signaled discontinuity keeps the unit",
			[]*Packet{pkt(0x100, 0, true, 1), pkt(0x100, 1, false, 2), discontinuity, pkt(0x100, 10, true, 4)},
			[]int{-1, -1, -1, 3},
		},
		{
			"continuation without start",
			[]*Packet{pkt(0x100, 4, false, 1), pkt(0x100, 5, true, 2), pkt(0x100, 6, true, 3)},
			[]int{-1, -1, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			acc := &accumulator{pid: 0x100, pm: programMap{}}
			for i, p := range tt.packets {
				unit := acc.add(p)
				got := -1
				if unit != nil {
					got = len(unit)
				}
				if got != tt.want[i] {
					t.Errorf("packet %d: got unit of %d, want %d", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestAccumulatorCompletesPSI(t *testing.T) {
	t.Parallel()

	acc := &accumulator{pid: pidPAT, pm: programMap{}}
	p := &Packet{
		Header:  PacketHeader{PID: pidPAT, HasPayload: true, PayloadUnitStartIndicator: true},
		Payload: withPointer(buildPAT(1, []program{{1, 0x1000}})),
	}
	if unit := acc.add(p); len(unit) != 1 {
		t.Errorf("complete section should flush immediately, got %d packets", len(unit))
	}
}

func TestPacketPool(t *testing.T) {
	t.Parallel()

	pp := newPacketPool(programMap{})
	pp.add(pkt(0x200, 0, true, 2))
	pp.add(pkt(0x100, 0, true, 1))

	units := pp.dump()
	if len(units) != 2 {
		t.Fatalf("dump: got %d units, want 2", len(units))
	}
	if units[0][0].Header.PID != 0x100 {
		t.Errorf("dump order: got 0x%x first, want 0x100", units[0][0].Header.PID)
	}
	if len(pp.dump()) != 0 {
		t.Error("second dump should be empty")
	}

	pp.add(pkt(0x100, 1, true, 1))
	pp.reset()
	if len(pp.dump()) != 0 {
		t.Error("reset should drop partial units")
	}
}
