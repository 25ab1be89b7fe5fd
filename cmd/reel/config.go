package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/zsiec/reel/internal/playback"
)

// Audio outputs.
const (
	audioNull   = "null"
	audioDevice = "device"
	audioNone   = "none"
)

// config is the player configuration. Sources in increasing precedence:
// defaults, the YAML file, REEL_* environment variables, flags.
type config struct {
	URL string `yaml:"-"`

	Format      string        `yaml:"format"`
	SRTStreamID string        `yaml:"srt_stream_id"`
	CAFile      string        `yaml:"ca_file"`
	DialTimeout time.Duration `yaml:"dial_timeout"`

	Loops         int           `yaml:"loops"`
	Rate          float64       `yaml:"rate"`
	Start         time.Duration `yaml:"start"`
	AudioTrack    int           `yaml:"audio_track"`
	SubtitleTrack int           `yaml:"subtitle_track"`

	Audio       string        `yaml:"audio"`
	AudioBuffer time.Duration `yaml:"audio_buffer"`

	StatusInterval time.Duration `yaml:"status_interval"`
	PrintStats     bool          `yaml:"print_stats"`
	Debug          bool          `yaml:"debug"`

	Engine playback.Config `yaml:"engine"`
}

func defaultConfig() config {
	return config{
		DialTimeout:    10 * time.Second,
		Loops:          1,
		Rate:           1,
		AudioTrack:     -1,
		SubtitleTrack:  -1,
		Audio:          audioNull,
		AudioBuffer:    200 * time.Millisecond,
		StatusInterval: 5 * time.Second,
		Engine:         playback.DefaultConfig(),
	}
}

func (c config) validate() error {
	switch {
	case c.URL == "":
		return errors.New("no media URL given")
	case c.Loops == 0 || c.Loops < -1:
		return fmt.Errorf("loops must be positive or -1, got %d", c.Loops)
	case c.Rate <= 0:
		return fmt.Errorf("rate must be positive, got %v", c.Rate)
	case c.Audio != audioNull && c.Audio != audioDevice && c.Audio != audioNone:
		return fmt.Errorf("unknown audio output %q", c.Audio)
	}
	return nil
}

// loadConfig builds the configuration from args and the environment.
func loadConfig(args []string, getenv func(string) string) (config, error) {
	cfg := defaultConfig()

	fs := pflag.NewFlagSet("reel", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: reel [flags] <url|path>\n")
		fs.PrintDefaults()
	}
	configFile := fs.StringP("config", "c", envOr(getenv, "REEL_CONFIG", ""), "YAML configuration file")
	format := fs.String("format", "", "container format (mpegts, ffmpeg); empty picks the best available")
	streamID := fs.String("srt-streamid", "", "SRT stream ID for srt:// sources")
	caFile := fs.String("ca", "", "PEM certificate to trust for https:// sources")
	dialTimeout := fs.Duration("dial-timeout", cfg.DialTimeout, "timeout for connecting to network sources")
	loops := fs.IntP("loops", "l", cfg.Loops, "times to play the media, -1 for forever")
	rate := fs.Float64P("rate", "r", cfg.Rate, "playback rate")
	start := fs.DurationP("start", "s", 0, "position to start at")
	audioTrack := fs.Int("audio-track", cfg.AudioTrack, "audio track number, -1 for the default")
	subTrack := fs.Int("subtitles", cfg.SubtitleTrack, "subtitle track number to show, -1 for none")
	audio := fs.String("audio", cfg.Audio, "audio output: null, device or none")
	audioBuffer := fs.Duration("audio-buffer", cfg.AudioBuffer, "audio output buffer")
	status := fs.Duration("status-interval", cfg.StatusInterval, "interval between status lines, 0 to disable")
	printStats := fs.Bool("stats", false, "print engine statistics as JSON on exit")
	debug := fs.BoolP("debug", "d", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *configFile != "" {
		if err := cfg.loadFile(*configFile); err != nil {
			return cfg, err
		}
	}
	if err := cfg.loadEnv(getenv); err != nil {
		return cfg, err
	}

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("format", func() { cfg.Format = *format })
	set("srt-streamid", func() { cfg.SRTStreamID = *streamID })
	set("ca", func() { cfg.CAFile = *caFile })
	set("dial-timeout", func() { cfg.DialTimeout = *dialTimeout })
	set("loops", func() { cfg.Loops = *loops })
	set("rate", func() { cfg.Rate = *rate })
	set("start", func() { cfg.Start = *start })
	set("audio-track", func() { cfg.AudioTrack = *audioTrack })
	set("subtitles", func() { cfg.SubtitleTrack = *subTrack })
	set("audio", func() { cfg.Audio = *audio })
	set("audio-buffer", func() { cfg.AudioBuffer = *audioBuffer })
	set("status-interval", func() { cfg.StatusInterval = *status })
	set("stats", func() { cfg.PrintStats = *printStats })
	set("debug", func() { cfg.Debug = *debug })

	if fs.NArg() > 0 {
		cfg.URL = fs.Arg(0)
	}
	return cfg, cfg.validate()
}

func (c *config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *config) loadEnv(getenv func(string) string) error {
	c.URL = envOr(getenv, "REEL_URL", c.URL)
	c.Format = envOr(getenv, "REEL_FORMAT", c.Format)
	c.Audio = envOr(getenv, "REEL_AUDIO", c.Audio)
	if getenv("DEBUG") != "" {
		c.Debug = true
	}
	if v := getenv("REEL_LOOPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REEL_LOOPS: %w", err)
		}
		c.Loops = n
	}
	if v := getenv("REEL_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("REEL_RATE: %w", err)
		}
		c.Rate = r
	}
	return nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}
