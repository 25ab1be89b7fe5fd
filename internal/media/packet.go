package media

// Packet is a copy-cheap handle to one compressed packet, stamped with the
// loop iteration it was read in and the identity of the demuxer that read
// it. The zero Packet is invalid.
type Packet struct {
	d *packetData
}

type packetData struct {
	raw      *RawPacket
	offset   LoopOffset
	sourceID uint64
}

// NewPacket wraps raw. The packet must not be modified afterwards.
func NewPacket(offset LoopOffset, raw *RawPacket, sourceID uint64) Packet {
	return Packet{d: &packetData{raw: raw, offset: offset, sourceID: sourceID}}
}

// IsValid reports whether p refers to a packet.
func (p Packet) IsValid() bool { return p.d != nil && p.d.raw != nil }

// Raw returns the wrapped container packet.
func (p Packet) Raw() *RawPacket { return p.d.raw }

// LoopOffset returns the loop iteration the packet belongs to.
func (p Packet) LoopOffset() LoopOffset { return p.d.offset }

// SourceID returns the identity of the demuxer that produced the packet.
func (p Packet) SourceID() uint64 { return p.d.sourceID }

// AbsolutePTS returns the packet timestamp on the looped timeline.
func (p Packet) AbsolutePTS() int64 { return p.d.raw.PTS + p.d.offset.Pos }

// AbsoluteEnd returns the packet end on the looped timeline.
func (p Packet) AbsoluteEnd() int64 { return p.d.raw.End() + p.d.offset.Pos }
