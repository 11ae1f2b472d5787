package apng

import (
	"bytes"
	"image"
	"time"

	"github.com/deepteams/apng/animation"
)

// Encoder builds an animated PNG from full bitmaps. The first bitmap fixes
// the canvas size.
type Encoder struct {
	buf bytes.Buffer
	enc *animation.AnimEncoder
}

// NewEncoder returns an Encoder whose animation plays loopCount times
// (0 = forever). opts may be nil.
func NewEncoder(loopCount int, opts *EncoderOptions) *Encoder {
	e := &Encoder{}
	ao := animation.EncodeOptions{LoopCount: loopCount}
	if opts != nil {
		ao.StoreDefaultImage = opts.StoreDefaultImage
		ao.DefaultImage = opts.DefaultImage
		ao.CompressionLevel = opts.CompressionLevel
		ao.Logger = opts.Logger
	}
	e.enc = animation.NewEncoder(&e.buf, &ao)
	return e
}

// AddFrame appends img, shown for d. Bitmaps smaller than the canvas are
// placed at their bounds origin; larger ones fail with
// ErrInconsistentFrameSize.
func (e *Encoder) AddFrame(img image.Image, d time.Duration, dispose DisposeMethod, blend BlendMethod) error {
	return e.enc.AddFrame(img, d, dispose, blend)
}

// NumFrames returns the number of frames added so far.
func (e *Encoder) NumFrames() int {
	return e.enc.NumFrames()
}

// Finish encodes the frames and returns the complete file. The Encoder
// cannot be used afterwards.
func (e *Encoder) Finish() ([]byte, error) {
	if err := e.enc.Close(); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}
