package playback

import (
	"encoding/binary"

	"github.com/zsiec/reel/internal/media"
)

// resampler converts interleaved S16 PCM between sample rates and channel
// counts by linear interpolation. Speeding playback up by rate is done by
// resampling to outRate/rate and playing the result at outRate.
type resampler struct {
	in, out media.AudioFormat
	step    float64

	phase float64
	prev  []int16
}

func newResampler(in, out media.AudioFormat, rate float64) *resampler {
	if rate <= 0 {
		rate = 1
	}
	target := float64(out.SampleRate) / rate
	return &resampler{
		in:   in,
		out:  out,
		step: float64(in.SampleRate) / target,
	}
}

// passthrough reports whether input is copied unchanged.
func (r *resampler) passthrough() bool {
	return r.in == r.out && r.step == 1
}

// resample converts one block. The interpolation phase carries over to the
// next block so consecutive blocks join without clicks.
func (r *resampler) resample(a *media.AudioData) []byte {
	if a == nil || len(a.PCM) == 0 || !r.in.Valid() || !r.out.Valid() {
		return nil
	}
	if r.passthrough() {
		return append([]byte(nil), a.PCM...)
	}

	inCh := r.in.Channels
	frames := len(a.PCM) / r.in.BytesPerFrame()
	seq := make([]int16, 0, len(r.prev)+frames*inCh)
	seq = append(seq, r.prev...)
	for i := 0; i < frames*inCh; i++ {
		seq = append(seq, int16(binary.LittleEndian.Uint16(a.PCM[2*i:])))
	}
	n := len(seq) / inCh
	if n < 2 {
		r.prev = seq
		return nil
	}

	outCh := r.out.Channels
	out := make([]byte, 0, int(float64(n)/r.step+1)*r.out.BytesPerFrame())
	frame := make([]int16, inCh)
	pos := r.phase
	for ; int(pos)+1 < n; pos += r.step {
		i := int(pos)
		frac := pos - float64(i)
		for c := range inCh {
			s0 := float64(seq[i*inCh+c])
			s1 := float64(seq[(i+1)*inCh+c])
			frame[c] = int16(s0 + (s1-s0)*frac)
		}
		for c := range outCh {
			out = binary.LittleEndian.AppendUint16(out, uint16(mixChannel(frame, c, outCh)))
		}
	}
	r.phase = pos - float64(n-1)
	r.prev = append(r.prev[:0], seq[(n-1)*inCh:]...)
	return out
}

// mixChannel returns output channel c of outCh from one input frame. Mono
// input is duplicated, stereo is averaged down to mono, other layouts keep
// the leading channels and repeat the last one.
func mixChannel(frame []int16, c, outCh int) int16 {
	inCh := len(frame)
	switch {
	case inCh == outCh:
		return frame[c]
	case outCh == 1:
		var sum int
		for _, s := range frame {
			sum += int(s)
		}
		return int16(sum / inCh)
	case c < inCh:
		return frame[c]
	}
	return frame[inCh-1]
}
