package playback

import "sync/atomic"

// counters are updated by the engine objects from their workers.
type counters struct {
	packetsDemuxed   atomic.Int64
	framesDecoded    atomic.Int64
	framesRendered   atomic.Int64
	framesDropped    atomic.Int64
	subtitlesDropped atomic.Int64
	audioResyncs     atomic.Int64
	audioUnderruns   atomic.Int64
	seekErrors       atomic.Int64
}

// Stats is a snapshot of engine telemetry.
type Stats struct {
	State    string `json:"state"`
	Position int64  `json:"positionUs"`
	Duration int64  `json:"durationUs"`
	Loop     int    `json:"loop"`
	Workers  int    `json:"workers"`

	PacketsDemuxed   int64 `json:"packetsDemuxed"`
	FramesDecoded    int64 `json:"framesDecoded"`
	FramesRendered   int64 `json:"framesRendered"`
	FramesDropped    int64 `json:"framesDropped"`
	SubtitlesDropped int64 `json:"subtitlesDropped"`
	AudioResyncs     int64 `json:"audioResyncs"`
	AudioUnderruns   int64 `json:"audioUnderruns"`
	SeekErrors       int64 `json:"seekErrors"`
}

func (c *counters) snapshot() Stats {
	return Stats{
		PacketsDemuxed:   c.packetsDemuxed.Load(),
		FramesDecoded:    c.framesDecoded.Load(),
		FramesRendered:   c.framesRendered.Load(),
		FramesDropped:    c.framesDropped.Load(),
		SubtitlesDropped: c.subtitlesDropped.Load(),
		AudioResyncs:     c.audioResyncs.Load(),
		AudioUnderruns:   c.audioUnderruns.Load(),
		SeekErrors:       c.seekErrors.Load(),
	}
}
