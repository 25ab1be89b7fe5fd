// Package mpegts parses MPEG transport streams into program tables and
// reassembled PES payloads. Every unit carries the byte offset of the
// transport packet that started it so callers can index and seek.
package mpegts

// Stream types carried in the PMT that the player understands.
const (
	StreamTypeMPEG1Audio = 0x03
	StreamTypeMPEG2Audio = 0x04
	StreamTypePrivatePES = 0x06
	StreamTypeAAC        = 0x0F
	StreamTypeAACLATM    = 0x11
	StreamTypeH264       = 0x1B
	StreamTypeH265       = 0x24
)

// Descriptor tags.
const (
	DescriptorLanguage = 0x0A
)

// Packet is one transport packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
	// Offset is the position of the packet's first byte in the input.
	Offset int64
}

// PacketHeader holds the header fields of a transport packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
}

// DemuxerData is one parsed unit. Exactly one of PAT, PMT or PES is set.
type DemuxerData struct {
	FirstPacket *Packet
	PAT         *PATData
	PMT         *PMTData
	PES         *PESData
}

// PATData is a Program Association Table.
type PATData struct {
	TransportStreamID uint16
	Programs          []*PATProgram
}

// PATProgram maps a program number to the PID of its PMT.
type PATProgram struct {
	ProgramMapID  uint16
	ProgramNumber uint16
}

// PMTData is a Program Map Table.
type PMTData struct {
	ProgramNumber     uint16
	PCRPID            uint16
	ElementaryStreams []*PMTElementaryStream
}

// PMTElementaryStream describes one elementary stream of a program.
type PMTElementaryStream struct {
	ElementaryPID uint16
	StreamType    uint8
	// Language is the ISO 639 code from the language descriptor, if any.
	Language    string
	Descriptors []Descriptor
}

// Descriptor is a raw tag/length/value descriptor.
type Descriptor struct {
	Tag  uint8
	Data []byte
}

// PESData is a reassembled PES packet.
type PESData struct {
	Data   []byte
	Header *PESHeader
}

// PESHeader is the fixed PES header.
type PESHeader struct {
	OptionalHeader *PESOptionalHeader
	StreamID       uint8
	PacketLength   uint16
}

// PESOptionalHeader carries the PES timestamps.
type PESOptionalHeader struct {
	DataAlignment bool
	PTS           *ClockReference
	DTS           *ClockReference
}

// ClockReference is a 33-bit timestamp on the 90 kHz clock.
type ClockReference struct {
	Base int64
}

// Microseconds converts the 90 kHz base to microseconds.
func (c *ClockReference) Microseconds() int64 {
	return c.Base * 100 / 9
}
