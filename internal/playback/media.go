package playback

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/zsiec/reel/internal/media"
)

// TrackInfo describes one selectable track.
type TrackInfo struct {
	StreamIndex int
	Default     bool
	Stream      media.StreamInfo
}

// Media is an opened container with its track selection.
type Media struct {
	c media.Container

	tracks    [media.NumTrackTypes][]TrackInfo
	requested [media.NumTrackTypes]int
	current   [media.NumTrackTypes]int

	duration int64
	seekable bool
	meta     media.Metadata
}

// NewMedia lists the playable tracks of c. Attached pictures are skipped.
// The default video and audio tracks are selected; subtitles start
// disabled.
func NewMedia(c media.Container) *Media {
	m := &Media{
		c:         c,
		requested: [media.NumTrackTypes]int{-1, -1, -1},
		current:   [media.NumTrackTypes]int{-1, -1, -1},
		seekable:  c.Seekable(),
	}

	for _, s := range c.Streams() {
		t := s.Type
		if !t.Valid() || s.AttachedPicture {
			continue
		}
		if t != media.Subtitle && s.Default && m.requested[t] < 0 {
			m.requested[t] = len(m.tracks[t])
		}
		m.duration = max(m.duration, s.Duration)
		m.tracks[t] = append(m.tracks[t], TrackInfo{StreamIndex: s.Index, Default: s.Default, Stream: s})
	}
	if m.duration == 0 {
		m.duration = c.Duration()
	}

	for _, t := range []media.TrackType{media.Video, media.Audio} {
		if m.requested[t] < 0 && len(m.tracks[t]) > 0 {
			m.requested[t] = 0
		}
		if n := m.requested[t]; n >= 0 {
			m.current[t] = m.tracks[t][n].StreamIndex
		}
	}
	m.updateMetadata()
	return m
}

// Container returns the opened container.
func (m *Media) Container() media.Container { return m.c }

// Duration in microseconds, 0 for live or unknown.
func (m *Media) Duration() int64 { return m.duration }

func (m *Media) Seekable() bool { return m.seekable }

// Metadata returns a copy of the media metadata for the active tracks.
func (m *Media) Metadata() media.Metadata { return maps.Clone(m.meta) }

// Tracks lists the tracks of type t.
func (m *Media) Tracks(t media.TrackType) []TrackInfo {
	if !t.Valid() {
		return nil
	}
	return slices.Clone(m.tracks[t])
}

// ActiveTrack returns the selected track number of type t, -1 if none.
func (m *Media) ActiveTrack(t media.TrackType) int {
	if !t.Valid() {
		return -1
	}
	return m.requested[t]
}

// CurrentStreamIndex returns the container stream index playing for t, -1
// if none.
func (m *Media) CurrentStreamIndex(t media.TrackType) int {
	if !t.Valid() {
		return -1
	}
	return m.current[t]
}

// SetActiveTrack selects track number n of type t; an out of range n
// disables the type. It reports whether the selection changed.
func (m *Media) SetActiveTrack(t media.TrackType, n int) bool {
	if !t.Valid() {
		return false
	}
	if n < 0 || n >= len(m.tracks[t]) {
		n = -1
	}
	if m.requested[t] == n {
		return false
	}
	m.requested[t] = n
	m.current[t] = -1
	if n >= 0 {
		m.current[t] = m.tracks[t][n].StreamIndex
	}
	m.updateMetadata()
	return true
}

// Transformation returns the rotation and mirroring of the active video
// track.
func (m *Media) Transformation() media.Transformation {
	if s, ok := m.currentStream(media.Video); ok {
		return s.Transform
	}
	return media.Transformation{}
}

// NativeSize is the display size of the active video track: coded size
// stretched by the pixel aspect ratio, then rotated.
func (m *Media) NativeSize() (int, int, bool) {
	s, ok := m.currentStream(media.Video)
	if !ok || s.Width <= 0 || s.Height <= 0 {
		return 0, 0, false
	}
	w, h := frameSize(s.Width, s.Height, s.PixelAspect)
	w, h = s.Transform.RotatedSize(w, h)
	return w, h, true
}

func frameSize(w, h int, par media.Rational) (int, int) {
	if !par.Valid() {
		return w, h
	}
	switch r := par.Float(); {
	case r > 1:
		w = int(float64(w)*r + 0.5)
	case r < 1:
		h = int(float64(h)/r + 0.5)
	}
	return w, h
}

func (m *Media) currentStream(t media.TrackType) (media.StreamInfo, bool) {
	idx := m.current[t]
	for _, ti := range m.tracks[t] {
		if ti.StreamIndex == idx {
			return ti.Stream, true
		}
	}
	return media.StreamInfo{}, false
}

func (m *Media) updateMetadata() {
	meta := maps.Clone(m.c.Metadata())
	if meta == nil {
		meta = media.Metadata{}
	}
	if m.duration > 0 {
		meta[media.MetaDuration] = (time.Duration(m.duration) * time.Microsecond).String()
	}
	if s, ok := m.currentStream(media.Video); ok {
		meta[media.MetaVideoCodec] = s.CodecName
		meta[media.MetaResolution] = fmt.Sprintf("%dx%d", s.Width, s.Height)
		if s.FrameRate.Valid() {
			meta[media.MetaFrameRate] = strconv.FormatFloat(s.FrameRate.Float(), 'f', -1, 64)
		}
		delete(meta, media.MetaHDR)
		if s.Color.HDR() {
			meta[media.MetaHDR] = "true"
		}
		if s.Transform.Rotation != 0 {
			meta[media.MetaOrientation] = strconv.Itoa(s.Transform.Rotation)
		}
	}
	if s, ok := m.currentStream(media.Audio); ok {
		meta[media.MetaAudioCodec] = s.CodecName
		if s.Language != "" {
			meta[media.MetaLanguage] = s.Language
		}
	}
	m.meta = meta
}
