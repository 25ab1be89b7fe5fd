package playback

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zsiec/reel/internal/media"
)

type demuxerFixture struct {
	w       *worker
	d       *Demuxer
	packets collector[media.Packet]
	ends    atomic.Int32
	errs    collector[errorEvent]
	env     env
}

func newDemuxerFixture(t *testing.T, c media.Container, cfg Config, pos int64, loops int) *demuxerFixture {
	t.Helper()
	f := &demuxerFixture{w: newWorker("demuxer"), env: testEnv(cfg)}
	t.Cleanup(func() {
		f.d.kill()
		f.w.stop()
		f.w.wait()
	})
	indexes := [media.NumTrackTypes]int{-1, -1, -1}
	for _, s := range c.Streams() {
		if indexes[s.Type] < 0 {
			indexes[s.Type] = s.Index
		}
	}
	f.d = newDemuxer(f.w, f.env, c, media.PositionWithOffset{Pos: pos}, indexes, loops)
	for _, tt := range media.TrackTypes {
		f.d.packetSig[tt].connect(directReceiver{}, f.packets.add)
	}
	f.d.atEndSig.connect(directReceiver{}, func(struct{}) { f.ends.Add(1) })
	f.d.errorSig.connect(directReceiver{}, f.errs.add)
	return f
}

// ack reports p decoded, the way a stream decoder does.
func (f *demuxerFixture) ack(p media.Packet) {
	f.d.invoke(func() { f.d.OnPacketProcessed(p) })
}

func TestDemuxerStopsAtBufferLimit(t *testing.T) {
	t.Parallel()

	// 10s of 40ms packets against a 1s read-ahead limit.
	f := newDemuxerFixture(t, videoContainer(250), Config{MaxBufferedDuration: time.Second}, 0, 1)
	f.d.setPaused(false)

	waitFor(t, time.Second, "read-ahead", func() bool { return f.packets.len() >= 25 })
	settle()
	if got := f.packets.len(); got != 25 {
		t.Fatalf("packets before decoding: got %d, want 25", got)
	}

	sent := f.packets.all()
	for _, p := range sent[:5] {
		f.ack(p)
	}
	waitFor(t, time.Second, "more packets", func() bool { return f.packets.len() >= 30 })
	settle()
	if got := f.packets.len(); got != 30 {
		t.Errorf("packets after 5 acks: got %d, want 30", got)
	}
	if got := f.ends.Load(); got != 0 {
		t.Errorf("end signals: got %d, want 0", got)
	}
}

func TestDemuxerLoopsExactly(t *testing.T) {
	t.Parallel()

	c := videoContainer(25)
	f := newDemuxerFixture(t, c, Config{MaxBufferedDuration: time.Hour}, 0, 2)
	f.d.setPaused(false)

	waitFor(t, time.Second, "end of input", func() bool { return f.ends.Load() > 0 })
	settle()

	got := f.packets.all()
	if len(got) != 50 {
		t.Fatalf("packets: got %d, want 50", len(got))
	}
	for i, p := range got {
		wantIndex := i / 25
		if off := p.LoopOffset(); off.Index != wantIndex {
			t.Fatalf("packet %d: loop index %d, want %d", i, off.Index, wantIndex)
		}
	}
	if off := got[25].LoopOffset(); off.Pos != 1_000_000 {
		t.Errorf("second pass offset: got %d, want 1000000", off.Pos)
	}
	if abs := got[25].AbsolutePTS(); abs != 1_000_000 {
		t.Errorf("second pass first packet: got %d, want 1000000", abs)
	}
	if got := f.ends.Load(); got != 1 {
		t.Errorf("end signals: got %d, want 1", got)
	}
}

func TestDemuxerInfiniteLoop(t *testing.T) {
	t.Parallel()

	// Five passes fit in the read-ahead limit.
	f := newDemuxerFixture(t, videoContainer(5), Config{MaxBufferedDuration: time.Second}, 0, -1)
	f.d.setPaused(false)

	waitFor(t, time.Second, "fourth pass", func() bool {
		ps := f.packets.all()
		return len(ps) > 0 && ps[len(ps)-1].LoopOffset().Index >= 3
	})
	settle()
	if got := f.ends.Load(); got != 0 {
		t.Errorf("end signals: got %d, want 0", got)
	}

	// Dropping to a finite count ends at the next pass boundary.
	f.d.SetLoops(1)
	for _, p := range f.packets.all() {
		f.ack(p)
	}
	waitFor(t, time.Second, "end of input", func() bool { return f.ends.Load() > 0 })
}

func TestDemuxerEmptyPassEnds(t *testing.T) {
	t.Parallel()

	c := videoContainer(0)
	c.duration = 0
	c.streams[0].Duration = 0
	f := newDemuxerFixture(t, c, Config{}, 0, -1)
	f.d.setPaused(false)

	waitFor(t, time.Second, "end of input", func() bool { return f.ends.Load() > 0 })
	if got := f.packets.len(); got != 0 {
		t.Errorf("packets: got %d, want 0", got)
	}
}

func TestDemuxerStartsAtPosition(t *testing.T) {
	t.Parallel()

	c := videoContainer(50)
	f := newDemuxerFixture(t, c, Config{MaxBufferedDuration: time.Hour}, 1_000_000, 1)
	f.d.setPaused(false)

	waitFor(t, time.Second, "end of input", func() bool { return f.ends.Load() > 0 })
	got := f.packets.all()
	if len(got) != 25 {
		t.Fatalf("packets: got %d, want 25", len(got))
	}
	if pts := got[0].Raw().PTS; pts != 1_000_000 {
		t.Errorf("first packet: got %d, want 1000000", pts)
	}
}

func TestDemuxerSeekError(t *testing.T) {
	t.Parallel()

	c := videoContainer(10)
	c.seekErr = errors.New("broken index")
	f := newDemuxerFixture(t, c, Config{}, 200_000, 1)
	f.d.setPaused(false)

	waitFor(t, time.Second, "end of input", func() bool { return f.ends.Load() > 0 })
	errs := f.errs.all()
	if len(errs) != 1 || errs[0].code != ResourceError {
		t.Fatalf("errors: got %+v, want one ResourceError", errs)
	}
	// Playback goes on from where the container was.
	if got := f.packets.len(); got != 10 {
		t.Errorf("packets: got %d, want 10", got)
	}
	if got := f.env.stats.seekErrors.Load(); got != 1 {
		t.Errorf("seek errors: got %d, want 1", got)
	}
}

func TestDemuxerFirstPacket(t *testing.T) {
	t.Parallel()

	c := videoContainer(10)
	for _, p := range c.packets {
		p.PTS += 5_000_000
	}
	c.seekable = false
	c.duration = 0
	c.streams[0].Duration = 0

	f := newDemuxerFixture(t, c, Config{}, 0, 1)
	var first collector[syncPoint]
	f.d.firstPacketSig.connect(directReceiver{}, first.add)
	f.d.setPaused(false)

	waitFor(t, time.Second, "end of input", func() bool { return f.ends.Load() > 0 })
	got := first.all()
	if len(got) != 1 {
		t.Fatalf("first packet signals: got %d, want 1", len(got))
	}
	if got[0].pos != 5_000_000 {
		t.Errorf("first packet pos: got %d, want 5000000", got[0].pos)
	}
	if len(c.seeks) != 0 {
		t.Errorf("seeks on a non-seekable container: %v", c.seeks)
	}
}

func TestDemuxerIgnoresForeignPackets(t *testing.T) {
	t.Parallel()

	f := newDemuxerFixture(t, videoContainer(250), Config{MaxBufferedDuration: time.Second}, 0, 1)
	f.d.setPaused(false)
	waitFor(t, time.Second, "read-ahead", func() bool { return f.packets.len() >= 25 })

	raw := &media.RawPacket{StreamIndex: 0, PTS: 0, Duration: 40_000}
	foreign := media.NewPacket(media.LoopOffset{}, raw, f.d.ID()+1000)
	for range 10 {
		f.ack(foreign)
	}
	settle()
	if got := f.packets.len(); got != 25 {
		t.Errorf("packets after foreign acks: got %d, want 25", got)
	}
}
