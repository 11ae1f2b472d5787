package apng

import (
	"image"
	"image/png"
	"log/slog"
)

// FrameDecoder decodes one standalone single-frame PNG stream. The stream
// buffer is reused after the call returns and must not be retained.
type FrameDecoder func(pngStream []byte) (image.Image, error)

// Config configures a Decoder. The zero value is usable.
type Config struct {
	// MaxDataSize caps the total number of bytes a Decoder buffers. Chunks
	// claiming to extend past it are treated as malformed. 0 = no limit.
	MaxDataSize int64

	// Logger receives scan progress at Debug and recorded checksum and
	// sequence errors at Warn. Defaults to slog.Default().
	Logger *slog.Logger

	// DecodeFrame overrides the single-frame pixel decoder.
	// Defaults to image/png.
	DecodeFrame FrameDecoder
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.DecodeFrame == nil {
		c.DecodeFrame = decodePNG
	}
}

// EncoderOptions configures an Encoder.
type EncoderOptions struct {
	// StoreDefaultImage writes a separate default image that is not part of
	// the animation. DefaultImage selects it; nil repeats the first frame.
	StoreDefaultImage bool
	DefaultImage      image.Image

	CompressionLevel png.CompressionLevel

	Logger *slog.Logger
}
