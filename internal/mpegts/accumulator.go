package mpegts

import (
	"maps"
	"slices"
)

// programMap records which PIDs carry PMT sections.
type programMap map[uint16]struct{}

func (pm programMap) isPSI(pid uint16) bool {
	if pid == pidPAT {
		return true
	}
	_, ok := pm[pid]
	return ok
}

func (pm programMap) learn(pat *PATData) {
	for _, p := range pat.Programs {
		pm[p.ProgramMapID] = struct{}{}
	}
}

// accumulator gathers the packets of one PID into units.
type accumulator struct {
	pid     uint16
	pm      programMap
	packets []*Packet
}

// add appends p and returns the previous unit if p completes it.
func (a *accumulator) add(p *Packet) []*Packet {
	if p.Header.TransportErrorIndicator {
		a.packets = nil
		return nil
	}
	if !p.Header.HasPayload {
		return nil
	}

	if n := len(a.packets); n > 0 && !p.Header.DiscontinuityIndicator {
		prev := a.packets[n-1].Header.ContinuityCounter
		switch p.Header.ContinuityCounter {
		case (prev + 1) & 0x0F:
		case prev:
			return nil // duplicate
		default:
			a.packets = nil // lost packets; the unit is unusable
		}
	}

	var unit []*Packet
	if p.Header.PayloadUnitStartIndicator && len(a.packets) > 0 {
		unit, a.packets = a.packets, nil
	} else if !p.Header.PayloadUnitStartIndicator && len(a.packets) == 0 {
		// Continuation of a unit whose start we never saw.
		return nil
	}
	a.packets = append(a.packets, p)

	if unit == nil && a.pm.isPSI(a.pid) && sectionComplete(concatPayloads(a.packets)) {
		unit, a.packets = a.packets, nil
	}
	return unit
}

func (a *accumulator) flush() []*Packet {
	unit := a.packets
	a.packets = nil
	return unit
}

func concatPayloads(ps []*Packet) []byte {
	n := 0
	for _, p := range ps {
		n += len(p.Payload)
	}
	b := make([]byte, 0, n)
	for _, p := range ps {
		b = append(b, p.Payload...)
	}
	return b
}

// packetPool holds one accumulator per PID.
type packetPool struct {
	accs map[uint16]*accumulator
	pm   programMap
}

func newPacketPool(pm programMap) *packetPool {
	return &packetPool{accs: make(map[uint16]*accumulator), pm: pm}
}

func (pp *packetPool) add(p *Packet) []*Packet {
	a, ok := pp.accs[p.Header.PID]
	if !ok {
		a = &accumulator{pid: p.Header.PID, pm: pp.pm}
		pp.accs[p.Header.PID] = a
	}
	return a.add(p)
}

// dump flushes every partial unit in PID order, which puts the PAT first.
func (pp *packetPool) dump() [][]*Packet {
	var units [][]*Packet
	for _, pid := range slices.Sorted(maps.Keys(pp.accs)) {
		if unit := pp.accs[pid].flush(); len(unit) > 0 {
			units = append(units, unit)
		}
	}
	return units
}

// reset drops every partial unit.
func (pp *packetPool) reset() {
	clear(pp.accs)
}
