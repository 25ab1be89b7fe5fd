package serve

import (
	"context"
	"fmt"
	"log/slog"

	srtgo "github.com/zsiec/srtgo"
)

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// SRTServer accepts SRT callers and streams the media to each of them.
type SRTServer struct {
	log   *slog.Logger
	addr  string
	media Media
}

// NewSRTServer creates an SRT server that listens on addr. If log is nil,
// slog.Default() is used.
func NewSRTServer(addr string, m Media, log *slog.Logger) *SRTServer {
	if log == nil {
		log = slog.Default()
	}
	return &SRTServer{
		log:   log.With("component", "srt-server"),
		addr:  addr,
		media: m,
	}
}

// Start accepts connections until the context is cancelled.
func (s *SRTServer) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		s.log.Info("play", "stream_id", conn.StreamID(), "remote", conn.RemoteAddr())
		go s.handleConnection(ctx, conn)
	}
}

func (s *SRTServer) handleConnection(ctx context.Context, conn *srtgo.Conn) {
	defer conn.Close()
	n, err := s.media.Send(ctx, conn)
	s.log.Info("connection closed", "remote", conn.RemoteAddr(), "bytes", n, "error", err)
}
