// Package media defines the value types that flow through the playback
// engine, from container packets through decoded frames, plus the contract
// a container/codec backend has to satisfy.
package media

import "fmt"

// TrackType identifies the kind of media carried by a track.
type TrackType int

const (
	Video TrackType = iota
	Audio
	Subtitle

	// NumTrackTypes is the number of supported track types. It doubles as
	// the type of streams the engine cannot play (data, attachments).
	NumTrackTypes
)

// TrackTypes lists the playable track types in engine order.
var TrackTypes = [NumTrackTypes]TrackType{Video, Audio, Subtitle}

func (t TrackType) String() string {
	switch t {
	case Video:
		return "video"
	case Audio:
		return "audio"
	case Subtitle:
		return "subtitle"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Valid reports whether t is one of the playable track types.
func (t TrackType) Valid() bool {
	return t >= Video && t < NumTrackTypes
}

// LoopOffset places a packet or frame on the continuous playback timeline of
// a looped container. Pos is added to every timestamp of the loop iteration
// Index, so replaying a finite container appears as one monotonic timeline.
type LoopOffset struct {
	Pos   int64
	Index int
}

// PositionWithOffset is a position inside the current loop iteration
// together with the iteration's offset.
type PositionWithOffset struct {
	Pos    int64
	Offset LoopOffset
}
