// Command reel-gen writes a synthetic MPEG transport stream and can serve
// it to players over SRT and HTTP/3.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reel/internal/certs"
	"github.com/zsiec/reel/internal/serve"
	"github.com/zsiec/reel/internal/tsgen"
)

type options struct {
	gen      tsgen.Config
	out      string
	srtAddr  string
	h3Addr   string
	loop     bool
	certOut  string
	hosts    []string
	realtime bool
}

func parseOptions(args []string) (options, error) {
	o := options{gen: tsgen.DefaultConfig()}
	fs := pflag.NewFlagSet("reel-gen", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: reel-gen [flags]\n")
		fs.PrintDefaults()
	}
	fs.StringVarP(&o.out, "output", "o", "", "file to write, - for stdout")
	fs.DurationVarP(&o.gen.Duration, "duration", "t", o.gen.Duration, "stream duration")
	size := fs.String("size", fmt.Sprintf("%dx%d", o.gen.Width, o.gen.Height), "picture size WxH")
	fs.IntVar(&o.gen.FrameRate, "fps", o.gen.FrameRate, "frames per second")
	fs.DurationVar(&o.gen.GOP, "gop", o.gen.GOP, "keyframe interval")
	noVideo := fs.Bool("no-video", false, "omit the video stream")
	noAudio := fs.Bool("no-audio", false, "omit the audio stream")
	fs.IntVar(&o.gen.SampleRate, "sample-rate", o.gen.SampleRate, "audio sample rate")
	fs.IntVar(&o.gen.Channels, "channels", o.gen.Channels, "audio channels")
	fs.StringVar(&o.gen.AudioLanguage, "language", o.gen.AudioLanguage, "audio language (ISO 639-2)")
	captions := fs.StringArray("caption", nil, "CC1 caption as start-end:text, e.g. 1s-3s:hello (repeatable)")
	fs.StringVar(&o.srtAddr, "srt", "", "serve over SRT on this address, e.g. :6000")
	fs.StringVar(&o.h3Addr, "h3", "", "serve over HTTP/3 on this address, e.g. :4443")
	fs.BoolVar(&o.loop, "loop", false, "restart the stream at its end while serving")
	fs.BoolVar(&o.realtime, "realtime", true, "pace served streams at playback speed")
	fs.StringVar(&o.certOut, "cert-out", "", "write the HTTP/3 certificate here for players to trust")
	fs.StringSliceVar(&o.hosts, "host", nil, "extra certificate host names or IPs")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	w, h, ok := strings.Cut(*size, "x")
	width, werr := strconv.Atoi(w)
	height, herr := strconv.Atoi(h)
	if !ok || werr != nil || herr != nil {
		return o, fmt.Errorf("invalid size %q", *size)
	}
	o.gen.Width, o.gen.Height = width, height
	o.gen.Video = !*noVideo
	o.gen.Audio = !*noAudio
	for _, s := range *captions {
		c, err := parseCaption(s)
		if err != nil {
			return o, err
		}
		o.gen.Captions = append(o.gen.Captions, c)
	}
	if o.out == "" && o.srtAddr == "" && o.h3Addr == "" {
		return o, errors.New("nothing to do: give -o, --srt or --h3")
	}
	return o, nil
}

// parseCaption parses "start-end:text".
func parseCaption(s string) (tsgen.Caption, error) {
	span, text, ok := strings.Cut(s, ":")
	if !ok || text == "" {
		return tsgen.Caption{}, fmt.Errorf("invalid caption %q: want start-end:text", s)
	}
	from, to, ok := strings.Cut(span, "-")
	if !ok {
		return tsgen.Caption{}, fmt.Errorf("invalid caption span %q", span)
	}
	start, err := time.ParseDuration(from)
	if err != nil {
		return tsgen.Caption{}, fmt.Errorf("caption start: %w", err)
	}
	end, err := time.ParseDuration(to)
	if err != nil {
		return tsgen.Caption{}, fmt.Errorf("caption end: %w", err)
	}
	if end <= start {
		return tsgen.Caption{}, fmt.Errorf("caption %q ends before it starts", s)
	}
	return tsgen.Caption{Start: start, End: end, Text: text}, nil
}

func main() {
	o, err := parseOptions(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "reel-gen:", err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	data, err := tsgen.Bytes(o.gen)
	if err != nil {
		slog.Error("failed to generate stream", "error", err)
		os.Exit(1)
	}
	slog.Info("stream generated",
		"bytes", len(data),
		"duration", o.gen.Duration,
		"video", o.gen.Video,
		"audio", o.gen.Audio,
		"captions", len(o.gen.Captions),
	)

	if o.out != "" {
		if err := writeOutput(o.out, data); err != nil {
			slog.Error("failed to write stream", "error", err)
			os.Exit(1)
		}
	}
	if o.srtAddr == "" && o.h3Addr == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := serveStream(ctx, o, data); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func writeOutput(path string, data []byte) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	_, err := w.Write(data)
	return err
}

func serveStream(ctx context.Context, o options, data []byte) error {
	m := serve.Media{Data: data, Loop: o.loop}
	if o.realtime {
		m.Duration = o.gen.Duration
	}

	g, ctx := errgroup.WithContext(ctx)

	if o.srtAddr != "" {
		srv := serve.NewSRTServer(o.srtAddr, m, nil)
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	if o.h3Addr != "" {
		cert, err := certs.Generate(0, o.hosts...)
		if err != nil {
			return fmt.Errorf("generate certificate: %w", err)
		}
		slog.Info("certificate generated",
			"fingerprint", cert.FingerprintHex(),
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
		if o.certOut != "" {
			if err := cert.WriteCertFile(o.certOut); err != nil {
				return err
			}
			slog.Info("certificate written", "path", o.certOut)
		}
		srv := serve.NewH3Server(o.h3Addr, cert.ServerTLS(), m, nil)
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	return g.Wait()
}
