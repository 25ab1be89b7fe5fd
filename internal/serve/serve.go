// Package serve publishes one transport stream to network players, over
// SRT in listener mode and over HTTP/3. Each client receives the stream
// from the start, paced at its playback rate.
package serve

import (
	"context"
	"io"
	"time"
)

// chunkSize is the write unit: ten SRT payloads of seven transport packets.
const chunkSize = 1316 * 10

// Media is the stream being served.
type Media struct {
	Data []byte
	// Duration paces delivery: Data is spread evenly over it. Zero sends as
	// fast as the client reads.
	Duration time.Duration
	// Loop restarts the stream at its end until the client goes away.
	Loop bool
}

// Send sends m to w until it ends, the context is done or a write
// fails.
func (m Media) Send(ctx context.Context, w io.Writer) (int64, error) {
	var written int64
	start := time.Now()
	for {
		for off := 0; off < len(m.Data); off += chunkSize {
			if err := ctx.Err(); err != nil {
				return written, err
			}
			if m.Duration > 0 {
				due := start.Add(time.Duration(int64(m.Duration) * int64(off) / int64(len(m.Data))))
				if wait := time.Until(due); wait > 0 {
					t := time.NewTimer(wait)
					select {
					case <-t.C:
					case <-ctx.Done():
						t.Stop()
						return written, ctx.Err()
					}
				}
			}
			n, err := w.Write(m.Data[off:min(off+chunkSize, len(m.Data))])
			written += int64(n)
			if err != nil {
				return written, err
			}
		}
		if !m.Loop || len(m.Data) == 0 {
			return written, nil
		}
		start = start.Add(m.Duration)
	}
}
