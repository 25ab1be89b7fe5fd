// Package bitstream parses the elementary stream syntax the TS backend needs:
// Annex B NAL unit framing, H.264 and H.265 sequence parameter sets, and
// ADTS-framed AAC. It also writes the same syntax for synthetic streams.
package bitstream
