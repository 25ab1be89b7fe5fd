package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/zsiec/reel/internal/certs"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/serve"
	"github.com/zsiec/reel/internal/tsgen"
)

func fixture(t *testing.T) []byte {
	t.Helper()
	cfg := tsgen.DefaultConfig()
	cfg.Duration = 2 * time.Second
	data, err := tsgen.Bytes(cfg)
	if err != nil {
		t.Fatalf("tsgen.Bytes: %v", err)
	}
	return data
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clip.ts")
	if err := os.WriteFile(path, fixture(t), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, u := range []string{path, "file://" + path} {
		c, err := Open(context.Background(), u, nil, Options{})
		if err != nil {
			t.Fatalf("Open(%q): %v", u, err)
		}
		if !c.Seekable() || len(c.Streams()) != 2 {
			t.Errorf("Open(%q): seekable %v, %d streams", u, c.Seekable(), len(c.Streams()))
		}
		if err := c.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.ts")
	if err := os.WriteFile(garbage, bytes.Repeat([]byte{0xFF}, 4096), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		url  string
		opts Options
		want error
	}{
		{"missing file", filepath.Join(dir, "missing.ts"), Options{}, ErrNotFound},
		{"directory", dir, Options{}, ErrInvalidData},
		{"not a transport stream", garbage, Options{}, ErrInvalidData},
		{"unsupported scheme", "rtmp://example.com/live", Options{}, ErrUnsupportedScheme},
		{"unknown format", garbage, Options{Format: "matroska"}, ErrUnknownFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Open(context.Background(), tc.url, nil, tc.opts)
			if !errors.Is(err, tc.want) {
				t.Errorf("Open(%q): got %v, want %v", tc.url, err, tc.want)
			}
		})
	}
}

type liveReader struct{ io.Reader }

func TestOpenReader(t *testing.T) {
	t.Parallel()

	data := fixture(t)
	c, err := Open(context.Background(), "memory://clip", bytes.NewReader(data), Options{})
	if err != nil {
		t.Fatalf("Open seekable reader: %v", err)
	}
	if !c.Seekable() {
		t.Error("seekable reader opened as live")
	}
	c.Close()

	c, err = Open(context.Background(), "memory://clip", liveReader{bytes.NewReader(data)}, Options{})
	if err != nil {
		t.Fatalf("Open live reader: %v", err)
	}
	if c.Seekable() {
		t.Error("live reader opened as seekable")
	}
	c.Close()
}

func TestRegister(t *testing.T) {
	// Not parallel: the registry is global.
	called := false
	Register("test-format", -10, func(ctx context.Context, in Input, log *slog.Logger) (media.Container, error) {
		called = true
		return nil, ErrInvalidData
	})
	defer func() {
		mu.Lock()
		formats = slices.DeleteFunc(formats, func(f format) bool { return f.name == "test-format" })
		mu.Unlock()
	}()

	if got := Formats(); got[0] != FormatMPEGTS || !slices.Contains(got, "test-format") {
		t.Errorf("Formats: got %v", got)
	}
	_, err := Open(context.Background(), "x", bytes.NewReader(nil), Options{Format: "test-format"})
	if !called || !errors.Is(err, ErrInvalidData) {
		t.Errorf("registered opener: called %v, err %v", called, err)
	}
}

func TestSRTStreamID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url, override, want string
	}{
		{"srt://host:6000?streamid=live/cam1", "", "live/cam1"},
		{"srt://host:6000/cam2", "", "cam2"},
		{"srt://host:6000", "", ""},
		{"srt://host:6000?streamid=a", "b", "b"},
	}
	for _, tc := range tests {
		u, err := url.Parse(tc.url)
		if err != nil {
			t.Fatal(err)
		}
		if got := srtStreamID(u, tc.override); got != tc.want {
			t.Errorf("srtStreamID(%q, %q) = %q, want %q", tc.url, tc.override, got, tc.want)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		want error
	}{
		{200, nil},
		{206, nil},
		{401, ErrAccessDenied},
		{403, ErrAccessDenied},
		{404, ErrNotFound},
		{500, ErrNetwork},
	}
	for _, tc := range tests {
		if got := classifyStatus(tc.code); !errors.Is(got, tc.want) || (tc.want == nil && got != nil) {
			t.Errorf("classifyStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestOpenHTTP3(t *testing.T) {
	t.Parallel()

	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatalf("certs.Generate: %v", err)
	}
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no UDP socket: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := serve.NewH3Server("", cert.ServerTLS(), serve.Media{Data: fixture(t)}, nil)
	go srv.Serve(ctx, conn)

	u := "https://localhost:" + strconv.Itoa(conn.LocalAddr().(*net.UDPAddr).Port) + "/clip.ts"
	openCtx, cancelOpen := context.WithCancel(ctx)
	c, err := Open(openCtx, u, nil, Options{TLSConfig: cert.ClientTLS(), DialTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Open(%q): %v", u, err)
	}
	defer c.Close()
	// The stream outlives the context it was opened with.
	cancelOpen()

	if c.Seekable() {
		t.Error("HTTP/3 source opened as seekable")
	}
	var packets int
	for {
		_, err := c.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		packets++
	}
	if packets == 0 {
		t.Error("no packets received over HTTP/3")
	}
}
