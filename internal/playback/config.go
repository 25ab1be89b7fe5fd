// Package playback is a concurrent media playback engine. A Demuxer reads
// container packets, one StreamDecoder per active track turns them into
// frames and one Renderer per track presents the frames at the right
// wall-clock time. The Engine wires these objects together, each running on
// its own worker goroutine and talking to the others only through queued
// messages.
package playback

import (
	"time"

	"github.com/zsiec/reel/internal/clock"
	"github.com/zsiec/reel/internal/media"
)

// Config holds the engine's tuning constants.
type Config struct {
	// MaxBufferedDuration stops the demuxer once any track has this much
	// media read but not yet decoded.
	MaxBufferedDuration time.Duration `yaml:"max_buffered_duration"`
	// MaxBufferedSize is the same limit in bytes.
	MaxBufferedSize int `yaml:"max_buffered_size"`

	// Frames a stream decoder may have in flight towards its renderer.
	AudioFramesCap    int `yaml:"audio_frames_cap"`
	VideoFramesCap    int `yaml:"video_frames_cap"`
	SubtitleFramesCap int `yaml:"subtitle_frames_cap"`

	// SoftSyncFixingTime is the window over which non-audio renderers
	// converge onto the audio clock.
	SoftSyncFixingTime time.Duration `yaml:"soft_sync_fixing_time"`

	// AudioLead is how far ahead of its presentation time audio is handed
	// to the sink.
	AudioLead time.Duration `yaml:"audio_lead"`
	// AudioSyncTolerance is the drift between the audio clock and the
	// sink's actual playback position that triggers a resync.
	AudioSyncTolerance time.Duration `yaml:"audio_sync_tolerance"`
	// AudioMinBuffer and AudioMaxBuffer bound the Moderate sink loading
	// band; below is Low, above is High.
	AudioMinBuffer time.Duration `yaml:"audio_min_buffer"`
	AudioMaxBuffer time.Duration `yaml:"audio_max_buffer"`
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		MaxBufferedDuration: 4 * time.Second,
		MaxBufferedSize:     32 << 20,
		AudioFramesCap:      9,
		VideoFramesCap:      3,
		SubtitleFramesCap:   6,
		SoftSyncFixingTime:  clock.DefaultFixingTime,
		AudioLead:           100 * time.Millisecond,
		AudioSyncTolerance:  40 * time.Millisecond,
		AudioMinBuffer:      20 * time.Millisecond,
		AudioMaxBuffer:      250 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBufferedDuration <= 0 {
		c.MaxBufferedDuration = d.MaxBufferedDuration
	}
	if c.MaxBufferedSize <= 0 {
		c.MaxBufferedSize = d.MaxBufferedSize
	}
	if c.AudioFramesCap <= 0 {
		c.AudioFramesCap = d.AudioFramesCap
	}
	if c.VideoFramesCap <= 0 {
		c.VideoFramesCap = d.VideoFramesCap
	}
	if c.SubtitleFramesCap <= 0 {
		c.SubtitleFramesCap = d.SubtitleFramesCap
	}
	if c.SoftSyncFixingTime <= 0 {
		c.SoftSyncFixingTime = d.SoftSyncFixingTime
	}
	if c.AudioLead <= 0 {
		c.AudioLead = d.AudioLead
	}
	if c.AudioSyncTolerance <= 0 {
		c.AudioSyncTolerance = d.AudioSyncTolerance
	}
	if c.AudioMinBuffer <= 0 {
		c.AudioMinBuffer = d.AudioMinBuffer
	}
	if c.AudioMaxBuffer <= c.AudioMinBuffer {
		c.AudioMaxBuffer = max(d.AudioMaxBuffer, 2*c.AudioMinBuffer)
	}
	return c
}

// framesCap returns the in-flight frame limit for a track type. Subtitles
// take two frames per packet: the text span and the clearing frame at its
// end.
func (c Config) framesCap(t media.TrackType) int {
	switch t {
	case media.Audio:
		return c.AudioFramesCap
	case media.Video:
		return c.VideoFramesCap
	case media.Subtitle:
		return c.SubtitleFramesCap
	}
	return 0
}
