package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// srtPacketSize is the standard SRT payload: seven transport packets.
const srtPacketSize = 1316

// srtLatencyNs is the SRT receiver latency in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// srtStreamID returns the stream ID for u: the streamid query parameter,
// else the URL path without its leading slash.
func srtStreamID(u *url.URL, override string) string {
	if override != "" {
		return override
	}
	if id := u.Query().Get("streamid"); id != "" {
		return id
	}
	return strings.TrimPrefix(u.Path, "/")
}

// srtConn adapts an SRT connection to io.ReadCloser. SRT delivers whole
// messages, so reads into short buffers go through a staging buffer.
type srtConn struct {
	conn *srtgo.Conn
	buf  []byte
	rest []byte
}

func (c *srtConn) Read(p []byte) (int, error) {
	if len(c.rest) == 0 {
		if len(p) >= srtPacketSize {
			return c.conn.Read(p)
		}
		n, err := c.conn.Read(c.buf)
		if err != nil {
			return 0, err
		}
		c.rest = c.buf[:n]
	}
	n := copy(p, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}

func (c *srtConn) Close() error { return c.conn.Close() }

// dialSRT connects to an SRT listener in caller mode. The connection is
// live: it cannot seek.
func dialSRT(ctx context.Context, u *url.URL, opts Options, log *slog.Logger) (Input, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = srtStreamID(u, opts.SRTStreamID)

	log.Info("dialing", "address", u.Host, "stream_id", cfg.StreamID)

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(u.Host, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(opts.DialTimeout)
	defer timer.Stop()

	abandon := func() {
		// Close any connection that completes after we gave up.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return Input{}, fmt.Errorf("%w: SRT dial %s: %w", ErrNetwork, u.Host, res.err)
		}
		log.Info("connected", "address", u.Host)
		return Input{
			URL:    u,
			Reader: &srtConn{conn: res.conn, buf: make([]byte, srtPacketSize*10)},
			Live:   true,
		}, nil
	case <-timer.C:
		abandon()
		return Input{}, fmt.Errorf("%w: SRT dial timed out after %s", ErrNetwork, opts.DialTimeout)
	case <-ctx.Done():
		abandon()
		return Input{}, ctx.Err()
	}
}
