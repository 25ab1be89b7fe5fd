package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reel/internal/certs"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/playback"
	"github.com/zsiec/reel/internal/player"
	"github.com/zsiec/reel/internal/sink"
	"github.com/zsiec/reel/internal/sink/otosink"
	"github.com/zsiec/reel/internal/source"
)

var version = "dev"

// outputFormat is the PCM format handed to audio outputs.
var outputFormat = media.AudioFormat{SampleRate: 48000, Channels: 2}

func main() {
	cfg, err := loadConfig(os.Args[1:], os.Getenv)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "reel:", err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("reel starting",
		"version", version,
		"url", cfg.URL,
		"formats", source.Formats(),
		"audio", cfg.Audio,
	)
	if err := run(ctx, cfg); err != nil {
		slog.Error("playback failed", "error", err)
		os.Exit(1)
	}
}

// run plays cfg.URL until it ends, fails or ctx is done.
func run(ctx context.Context, cfg config) error {
	srcOpts := source.Options{
		Format:      cfg.Format,
		DialTimeout: cfg.DialTimeout,
		SRTStreamID: cfg.SRTStreamID,
	}
	if cfg.CAFile != "" {
		tlsConfig, err := certs.ClientTLSFromFile(cfg.CAFile)
		if err != nil {
			return err
		}
		srcOpts.TLSConfig = tlsConfig
	}

	statuses := make(chan player.MediaStatus, 64)
	p := player.New(player.Options{
		Engine: cfg.Engine,
		Source: srcOpts,
		Events: player.Events{
			OnStatusChanged: func(s player.MediaStatus) {
				select {
				case statuses <- s:
				default:
					slog.Warn("media status dropped", "status", s.String())
				}
			},
			OnError: func(err *playback.Error) {
				slog.Error("playback error", "code", err.Code.String(), "error", err)
			},
		},
	})
	defer p.Close()

	video := sink.NewLogVideo(nil)
	p.SetVideoSink(video)
	audio, closeAudio, err := openAudio(cfg)
	if err != nil {
		return err
	}
	defer closeAudio()
	if audio != nil {
		p.SetAudioSink(audio)
	}
	p.SetLoops(cfg.Loops)
	p.SetPlaybackRate(cfg.Rate)

	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		return control(ctx, p, cfg, statuses)
	})

	if cfg.StatusInterval > 0 {
		g.Go(func() error {
			t := time.NewTicker(cfg.StatusInterval)
			defer t.Stop()
			for {
				select {
				case <-done:
					return nil
				case <-t.C:
					logStatus(p, video)
				}
			}
		})
	}

	p.SetMedia(cfg.URL, nil)
	err = g.Wait()
	logStatus(p, video)
	if cfg.PrintStats {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(p.Stats()); err != nil {
			slog.Warn("failed to print stats", "error", err)
		}
	}
	return err
}

// control reacts to media status changes: it starts playback once the
// media is loaded and returns at its end.
func control(ctx context.Context, p *player.Player, cfg config, statuses <-chan player.MediaStatus) error {
	started := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-statuses:
			slog.Debug("media status", "status", s.String())
			switch s {
			case player.LoadedMedia:
				if started {
					continue
				}
				started = true
				start(p, cfg)
			case player.EndOfMedia:
				slog.Info("end of media", "position", p.Position())
				return nil
			case player.InvalidMedia:
				return fmt.Errorf("cannot play %s", cfg.URL)
			}
		}
	}
}

func start(p *player.Player, cfg config) {
	for _, t := range media.TrackTypes {
		for i, tr := range p.Tracks(t) {
			slog.Info("track",
				"type", t.String(),
				"number", i,
				"codec", tr.Stream.CodecName,
				"language", tr.Stream.Language,
				"default", tr.Default,
			)
		}
	}
	slog.Info("media loaded",
		"duration", p.Duration(),
		"seekable", p.IsSeekable(),
		"title", p.Metadata()[media.MetaTitle],
	)

	if cfg.AudioTrack >= 0 {
		p.SetActiveTrack(media.Audio, cfg.AudioTrack)
	}
	if cfg.SubtitleTrack >= 0 {
		p.SetActiveTrack(media.Subtitle, cfg.SubtitleTrack)
	}
	if cfg.Start > 0 {
		if p.IsSeekable() {
			p.SetPosition(cfg.Start)
		} else {
			slog.Warn("cannot start at a position in a live stream", "start", cfg.Start)
		}
	}
	p.Play()
}

func openAudio(cfg config) (playback.AudioSink, func(), error) {
	switch cfg.Audio {
	case audioDevice:
		out, err := otosink.Open(outputFormat, cfg.AudioBuffer, nil)
		if err != nil {
			return nil, nil, err
		}
		return out, func() { out.Close() }, nil
	case audioNone:
		return nil, func() {}, nil
	}
	return sink.NewNullAudio(outputFormat, cfg.AudioBuffer), func() {}, nil
}

func logStatus(p *player.Player, video *sink.LogVideo) {
	st := p.Stats()
	vs := video.Stats()
	slog.Info("status",
		"state", st.State,
		"position", time.Duration(st.Position)*time.Microsecond,
		"duration", time.Duration(st.Duration)*time.Microsecond,
		"loop", st.Loop,
		"pictures", vs.Frames,
		"subtitles", vs.Subtitles,
		"dropped", st.FramesDropped,
		"buffer", p.BufferProgress(),
	)
}
