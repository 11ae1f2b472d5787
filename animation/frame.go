// Package animation provides types and canvas logic for animated PNG images.
//
// It defines Frame/Animation structs and canvas reconstruction (blending,
// disposal) per the APNG frame control rules. Actual pixel decoding and
// encoding is handled by a single-image codec; this package deals with
// container-level animation semantics only.
package animation

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"golang.org/x/image/draw"

	"github.com/deepteams/apng/internal/container"
)

// DisposeMethod controls how the frame region is treated after rendering.
type DisposeMethod int

const (
	// DisposeNone leaves the canvas as-is after this frame is rendered.
	DisposeNone DisposeMethod = DisposeMethod(container.DisposeNone)
	// DisposeBackground clears the frame region to transparent black
	// before the next frame is rendered.
	DisposeBackground DisposeMethod = DisposeMethod(container.DisposeBackground)
	// DisposePrevious restores the frame region to what it was before
	// this frame was rendered.
	DisposePrevious DisposeMethod = DisposeMethod(container.DisposePrevious)
)

func (d DisposeMethod) String() string {
	switch d {
	case DisposeNone:
		return "none"
	case DisposeBackground:
		return "background"
	case DisposePrevious:
		return "previous"
	}
	return fmt.Sprintf("dispose(%d)", int(d))
}

// ParseDisposeMethod parses the names returned by DisposeMethod.String.
// The empty string selects DisposeNone.
func ParseDisposeMethod(s string) (DisposeMethod, error) {
	switch s {
	case "", "none":
		return DisposeNone, nil
	case "background":
		return DisposeBackground, nil
	case "previous":
		return DisposePrevious, nil
	}
	return 0, fmt.Errorf("animation: unknown dispose method %q", s)
}

// BlendMethod controls how a frame is composited onto the canvas.
type BlendMethod int

const (
	// BlendSource overwrites the frame region, alpha included.
	BlendSource BlendMethod = BlendMethod(container.BlendSource)
	// BlendOver alpha-composites the frame over the existing canvas.
	BlendOver BlendMethod = BlendMethod(container.BlendOver)
)

func (b BlendMethod) String() string {
	switch b {
	case BlendSource:
		return "source"
	case BlendOver:
		return "over"
	}
	return fmt.Sprintf("blend(%d)", int(b))
}

// ParseBlendMethod parses the names returned by BlendMethod.String.
// The empty string selects BlendSource.
func ParseBlendMethod(s string) (BlendMethod, error) {
	switch s {
	case "", "source":
		return BlendSource, nil
	case "over":
		return BlendOver, nil
	}
	return 0, fmt.Errorf("animation: unknown blend method %q", s)
}

// Frame holds a decoded animation frame and its rendering parameters.
type Frame struct {
	// Image is the decoded image for this frame.
	// May be nil if the frame has not been decoded yet.
	Image image.Image

	// Duration is the display duration for this frame.
	Duration time.Duration

	// OffsetX and OffsetY place the frame region on the canvas.
	OffsetX int
	OffsetY int

	// Width and Height are the frame region size declared by its fcTL.
	Width  int
	Height int

	Dispose DisposeMethod
	Blend   BlendMethod

	// IsKeyframe indicates whether rendering can start at this frame on a
	// transparent canvas.
	IsKeyframe bool

	// HasAlpha indicates whether the PNG format can carry transparency
	// (alpha color type or a tRNS chunk). It is used for keyframe detection
	// without scanning pixel data.
	HasAlpha bool

	// Data holds the frame as a standalone PNG stream for lazy decoding.
	// May be nil after decoding.
	Data []byte
}

// Bounds returns the frame's rectangle on the canvas.
func (f *Frame) Bounds() image.Rectangle {
	w, h := f.Width, f.Height
	if w == 0 && h == 0 && f.Image != nil {
		b := f.Image.Bounds()
		w, h = b.Dx(), b.Dy()
	}
	return image.Rect(f.OffsetX, f.OffsetY, f.OffsetX+w, f.OffsetY+h)
}

// HasImage reports whether the frame image has been decoded.
func (f *Frame) HasImage() bool {
	return f.Image != nil
}

// frameFromControl builds frame metadata from an fcTL block.
func frameFromControl(fc container.FrameControl) Frame {
	return Frame{
		Duration: fc.Delay(),
		OffsetX:  int(fc.XOffset),
		OffsetY:  int(fc.YOffset),
		Width:    int(fc.Width),
		Height:   int(fc.Height),
		Dispose:  DisposeMethod(fc.DisposeOp),
		Blend:    BlendMethod(fc.BlendOp),
	}
}

// toNRGBA converts any image.Image to an *image.NRGBA anchored at (0,0).
func toNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	if nrgba, ok := src.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return nrgba
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// colorToNRGBA converts any color.Color to an NRGBA value.
func colorToNRGBA(c color.Color) color.NRGBA {
	return color.NRGBAModel.Convert(c).(color.NRGBA)
}
