//go:build ffmpeg

package main

// FFmpeg registers itself as the preferred container format.
import _ "github.com/zsiec/reel/internal/ffmpeg"
