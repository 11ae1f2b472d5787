package apng

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/deepteams/apng/animation"
	"github.com/deepteams/apng/internal/container"
)

func init() {
	// Frame pixels are plain PNG streams; image/png does the inflating.
	animation.FrameDecoderFunc = decodePNG
	animation.FrameEncoderFunc = encodePNG
}

// Frame metadata and compositing types, shared with the animation package.
type (
	Header        = container.Header
	FrameControl  = container.FrameControl
	DisposeMethod = animation.DisposeMethod
	BlendMethod   = animation.BlendMethod
)

const (
	DisposeNone       = animation.DisposeNone
	DisposeBackground = animation.DisposeBackground
	DisposePrevious   = animation.DisposePrevious

	BlendSource = animation.BlendSource
	BlendOver   = animation.BlendOver
)

func decodePNG(stream []byte) (image.Image, error) {
	return png.Decode(bytes.NewReader(stream))
}

func encodePNG(img image.Image, level png.CompressionLevel) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: level}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readAll reads all data from r, using a single allocation when r reports
// its length.
func readAll(r io.Reader) ([]byte, error) {
	if lr, ok := r.(interface{ Len() int }); ok {
		if n := lr.Len(); n > 0 {
			data := make([]byte, n)
			_, err := io.ReadFull(r, data)
			return data, err
		}
	}
	return io.ReadAll(r)
}

// openAll reads r to EOF and returns a finalized Decoder over it.
func openAll(r io.Reader) (*Decoder, error) {
	data, err := readAll(r)
	if err != nil {
		return nil, fmt.Errorf("apng: reading data: %w", err)
	}
	d, err := Open(nil, nil)
	if err != nil {
		return nil, err
	}
	if err := d.Update(data, true); err != nil {
		return nil, err
	}
	return d, nil
}

// Decode reads an APNG or PNG from r and returns the first frame as
// displayed, composited onto a canvas the size of the image.
func Decode(r io.Reader) (image.Image, error) {
	d, err := openAll(r)
	if err != nil {
		return nil, err
	}
	return d.Render(0, true)
}

// DecodeConfig returns the canvas dimensions without decoding pixels.
func DecodeConfig(r io.Reader) (image.Config, error) {
	data, err := readAll(r)
	if err != nil {
		return image.Config{}, fmt.Errorf("apng: reading data: %w", err)
	}
	d, err := Open(data, nil)
	if err != nil {
		return image.Config{}, err
	}
	if d.State() < StateHeaderKnown {
		return image.Config{}, ErrIncompleteContainer
	}
	w, h := d.CanvasSize()
	return image.Config{ColorModel: color.RGBAModel, Width: w, Height: h}, nil
}

// DecodeAll reads an APNG or PNG from r and returns every frame composited
// as displayed. Each returned frame covers the full canvas, is drawn with
// BlendSource and needs no disposal.
func DecodeAll(r io.Reader) (*animation.Animation, error) {
	data, err := readAll(r)
	if err != nil {
		return nil, fmt.Errorf("apng: reading data: %w", err)
	}
	anim, err := animation.DecodeBytes(data)
	if err != nil {
		return nil, err
	}
	if err := anim.DecodeFramesParallel(); err != nil {
		return nil, err
	}

	out := &animation.Animation{
		Frames:       make([]animation.Frame, 0, len(anim.Frames)),
		LoopCount:    anim.LoopCount,
		CanvasWidth:  anim.CanvasWidth,
		CanvasHeight: anim.CanvasHeight,
		Default:      anim.Default,
	}
	dec := animation.NewAnimDecoder(anim)
	for dec.HasNext() {
		img, d, err := dec.NextFrame()
		if err != nil {
			return nil, err
		}
		out.Frames = append(out.Frames, animation.Frame{
			Image:      img,
			Duration:   d,
			Width:      anim.CanvasWidth,
			Height:     anim.CanvasHeight,
			IsKeyframe: true,
			HasAlpha:   true,
		})
	}
	return out, nil
}
