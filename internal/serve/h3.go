package serve

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// H3Server serves the media at every path over HTTP/3.
type H3Server struct {
	log   *slog.Logger
	media Media
	srv   *http3.Server
}

// NewH3Server creates an HTTP/3 server on addr. If log is nil,
// slog.Default() is used.
func NewH3Server(addr string, tlsConfig *tls.Config, m Media, log *slog.Logger) *H3Server {
	if log == nil {
		log = slog.Default()
	}
	s := &H3Server{
		log:   log.With("component", "h3-server"),
		media: m,
	}
	s.srv = &http3.Server{
		Addr:      addr,
		Handler:   http.HandlerFunc(s.handle),
		TLSConfig: tlsConfig,
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
		},
	}
	return s
}

// Start listens on the configured address until the context is cancelled.
func (s *H3Server) Start(ctx context.Context) error {
	s.log.Info("HTTP/3 server listening", "addr", s.srv.Addr)

	stop := context.AfterFunc(ctx, func() { s.srv.Close() })
	defer stop()

	err := s.srv.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Serve serves on an existing UDP socket until the context is cancelled.
func (s *H3Server) Serve(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { s.srv.Close() })
	defer stop()

	err := s.srv.Serve(conn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *H3Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	if !s.media.Loop {
		w.Header().Set("Content-Length", strconv.Itoa(len(s.media.Data)))
	}
	s.log.Info("play", "path", r.URL.Path, "remote", r.RemoteAddr)

	fw := flushWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.f = f
	}
	n, err := s.media.Send(r.Context(), fw)
	s.log.Debug("request done", "remote", r.RemoteAddr, "bytes", n, "error", err)
}

type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}
