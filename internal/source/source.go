// Package source turns a media URL (or a caller-supplied byte stream) into
// an opened media.Container. Inputs are opened by scheme: local paths and
// file:// URLs are seekable files, srt:// is pulled as an SRT caller and
// https:// is fetched over HTTP/3. The container format is handled by a
// registered Opener.
package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/tsfile"
)

// Errors classifying why an input could not be opened.
var (
	ErrUnsupportedScheme = errors.New("source: unsupported URL scheme")
	ErrUnknownFormat     = errors.New("source: unknown container format")
	ErrNotFound          = errors.New("source: resource not found")
	ErrAccessDenied      = errors.New("source: access denied")
	ErrNetwork           = errors.New("source: network error")
	ErrInvalidData       = errors.New("source: invalid data")
)

// FormatMPEGTS is the built-in pure-Go transport stream format.
const FormatMPEGTS = "mpegts"

const defaultDialTimeout = 10 * time.Second

// Input is an opened byte stream handed to an Opener.
type Input struct {
	URL *url.URL
	// Reader also implements io.Seeker for seekable inputs and io.Closer
	// when the container owns it.
	Reader io.Reader
	// Path is the local file path, empty for other inputs.
	Path string
	Live bool
}

// Opener opens a container on an input. It owns in.Reader from then on.
type Opener func(ctx context.Context, in Input, log *slog.Logger) (media.Container, error)

type format struct {
	name     string
	priority int
	open     Opener
}

var (
	mu      sync.RWMutex
	formats []format
)

func init() {
	Register(FormatMPEGTS, 0, openMPEGTS)
}

// Register makes a container format available. When no format is
// requested, the one with the highest priority is used.
func Register(name string, priority int, open Opener) {
	mu.Lock()
	defer mu.Unlock()
	formats = slices.DeleteFunc(formats, func(f format) bool { return f.name == name })
	formats = append(formats, format{name: name, priority: priority, open: open})
	slices.SortStableFunc(formats, func(a, b format) int { return b.priority - a.priority })
}

// Formats lists the registered formats, preferred first.
func Formats() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.name
	}
	return names
}

func lookup(name string) (format, error) {
	mu.RLock()
	defer mu.RUnlock()
	if len(formats) == 0 {
		return format{}, ErrUnknownFormat
	}
	if name == "" {
		return formats[0], nil
	}
	for _, f := range formats {
		if f.name == name {
			return f, nil
		}
	}
	return format{}, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Options configures Open.
type Options struct {
	// Format names a registered container format; empty picks the preferred
	// one.
	Format string
	// DialTimeout bounds connecting to network sources. Default 10s.
	DialTimeout time.Duration
	// SRTStreamID overrides the streamid query parameter of srt:// URLs.
	SRTStreamID string
	// TLSConfig is used for https:// sources.
	TLSConfig *tls.Config
	Logger    *slog.Logger
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
}

// Open opens the media at rawURL. A non-nil r is read instead of the URL,
// which then only names the media; r is treated as live unless it can
// seek.
func Open(ctx context.Context, rawURL string, r io.Reader, opts Options) (media.Container, error) {
	opts.setDefaults()
	log := opts.Logger.With("component", "source")

	f, err := lookup(opts.Format)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	var in Input
	switch {
	case r != nil:
		_, seekable := r.(io.ReadSeeker)
		in = Input{URL: u, Reader: r, Live: !seekable}
	case u.Scheme == "" || u.Scheme == "file":
		in, err = openFile(u)
	case u.Scheme == "srt":
		in, err = dialSRT(ctx, u, opts, log)
	case u.Scheme == "https":
		in, err = fetchHTTP3(ctx, u, opts)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	log.Debug("input opened", "url", u.Redacted(), "format", f.name, "live", in.Live)
	c, err := f.open(ctx, in, opts.Logger)
	if err != nil {
		if cl, ok := in.Reader.(io.Closer); ok && r == nil {
			cl.Close()
		}
		return nil, err
	}
	return c, nil
}

func openMPEGTS(ctx context.Context, in Input, log *slog.Logger) (media.Container, error) {
	c, err := tsfile.Open(ctx, in.Reader, tsfile.Options{Live: in.Live, Logger: log})
	if err != nil {
		if errors.Is(err, tsfile.ErrNoProgram) || errors.Is(err, tsfile.ErrNoStreams) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidData, err)
		}
		return nil, err
	}
	return c, nil
}
