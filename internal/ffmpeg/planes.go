package ffmpeg

import "github.com/zsiec/reel/internal/media"

// splitPlanes slices a tightly packed picture (alignment 1) into its planes.
// A buffer too short for the format is returned as a single plane.
func splitPlanes(pf media.PixelFormat, w, h int, buf []byte) [][]byte {
	luma := w * h
	cw, ch := (w+1)/2, (h+1)/2
	switch pf {
	case media.PixelFormatYUV420P:
		chroma := cw * ch
		if len(buf) < luma+2*chroma {
			break
		}
		return [][]byte{
			buf[:luma],
			buf[luma : luma+chroma],
			buf[luma+chroma : luma+2*chroma],
		}
	case media.PixelFormatNV12:
		chroma := 2 * cw * ch
		if len(buf) < luma+chroma {
			break
		}
		return [][]byte{buf[:luma], buf[luma : luma+chroma]}
	}
	return [][]byte{buf}
}
