package animation

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/deepteams/apng/internal/pool"
)

var (
	ErrFrameDecodeFailed = errors.New("animation: frame decode failed")
)

// DecodeError reports a frame whose pixels could not be decoded. It
// matches ErrFrameDecodeFailed and unwraps to the underlying cause.
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("animation: frame %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrFrameDecodeFailed.
func (e *DecodeError) Is(target error) bool { return target == ErrFrameDecodeFailed }

// Canvas is a premultiplied RGBA canvas plus the saved region needed to
// undo a frame that disposes to previous.
type Canvas struct {
	img *image.RGBA

	saved     []byte // pooled row copy of savedRect
	savedRect image.Rectangle
}

// NewCanvas returns a transparent w x h canvas.
func NewCanvas(w, h int) *Canvas {
	return &Canvas{img: image.NewRGBA(image.Rect(0, 0, w, h))}
}

// Image returns the canvas bitmap (not a copy).
func (c *Canvas) Image() *image.RGBA {
	return c.img
}

// Clear resets the canvas to transparent black.
func (c *Canvas) Clear() {
	clear(c.img.Pix)
	c.release()
}

// Draw composites f onto the canvas according to its blend method. When f
// disposes to previous, the region it covers is saved first.
func (c *Canvas) Draw(f *Frame) {
	rect := f.Bounds().Intersect(c.img.Bounds())
	if rect.Empty() || f.Image == nil {
		return
	}
	if f.Dispose == DisposePrevious {
		c.save(rect)
	}

	op := draw.Over
	if f.Blend == BlendSource {
		op = draw.Src
	}
	// Source point corresponding to rect.Min inside the frame image.
	sp := f.Image.Bounds().Min.Add(rect.Min.Sub(f.Bounds().Min))
	draw.Draw(c.img, rect, f.Image, sp, op)
}

// Dispose applies f's dispose method to the canvas.
func (c *Canvas) Dispose(f *Frame) {
	rect := f.Bounds().Intersect(c.img.Bounds())
	if rect.Empty() {
		return
	}
	switch f.Dispose {
	case DisposeBackground:
		draw.Draw(c.img, rect, image.Transparent, image.Point{}, draw.Src)
	case DisposePrevious:
		c.restore()
	}
}

// save copies rect's rows into a pooled buffer.
func (c *Canvas) save(rect image.Rectangle) {
	c.release()
	rowLen := rect.Dx() * 4
	buf := pool.Get(rowLen * rect.Dy())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		off := c.img.PixOffset(rect.Min.X, y)
		copy(buf[(y-rect.Min.Y)*rowLen:], c.img.Pix[off:off+rowLen])
	}
	c.saved = buf
	c.savedRect = rect
}

// restore writes the saved rows back and releases the buffer. Without a
// saved region the canvas is left unchanged.
func (c *Canvas) restore() {
	if c.saved == nil {
		return
	}
	rect := c.savedRect
	rowLen := rect.Dx() * 4
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		off := c.img.PixOffset(rect.Min.X, y)
		copy(c.img.Pix[off:off+rowLen], c.saved[(y-rect.Min.Y)*rowLen:])
	}
	c.release()
}

func (c *Canvas) release() {
	if c.saved != nil {
		pool.Put(c.saved)
		c.saved = nil
	}
}

// Release returns pooled buffers. The canvas image stays valid.
func (c *Canvas) Release() {
	c.release()
}

// PlanStart returns the latest frame index s <= target such that rendering
// frames s..target onto a transparent canvas yields the same image as
// rendering 0..target. Only frame metadata is consulted: regions, dispose
// and blend methods, and the format-level HasAlpha flag.
func PlanStart(canvas image.Rectangle, frames []Frame, target int) int {
	if target <= 0 {
		return 0
	}
	// clean[k]: the canvas is known transparent before frame k is drawn.
	clean := make([]bool, target+1)
	clean[0] = true
	for k := 0; k < target; k++ {
		f := &frames[k]
		switch f.Dispose {
		case DisposeBackground:
			clean[k+1] = clean[k] || f.Bounds() == canvas
		case DisposePrevious:
			clean[k+1] = clean[k]
		}
	}
	for s := target; s > 0; s-- {
		if clean[s] || coversCanvas(canvas, &frames[s], s == target) {
			return s
		}
	}
	return 0
}

// coversCanvas reports whether drawing f fully determines the canvas
// regardless of its prior content, and f leaves that content in place for
// the frames that follow.
func coversCanvas(canvas image.Rectangle, f *Frame, isTarget bool) bool {
	if f.Bounds() != canvas {
		return false
	}
	if f.Blend != BlendSource && f.HasAlpha {
		return false
	}
	return f.Dispose != DisposePrevious || isTarget
}

// markKeyframes sets IsKeyframe on every frame that PlanStart would start
// from when asked to render it.
func markKeyframes(canvas image.Rectangle, frames []Frame) {
	for i := range frames {
		frames[i].IsKeyframe = PlanStart(canvas, frames, i) == i
	}
}

// Render reconstructs the canvas as displayed at frame target: frames are
// composited from the planned start index, every frame before target is
// disposed, and target itself is drawn but not yet disposed.
//
// decode supplies the pixels of frame i; frames carries the metadata for
// every index up to target. The returned bitmap is owned by the caller.
func Render(width, height int, frames []Frame, target int, decode func(i int) (image.Image, error)) (*image.RGBA, error) {
	if target < 0 || target >= len(frames) {
		return nil, fmt.Errorf("animation: frame %d out of range [0,%d)", target, len(frames))
	}
	canvas := NewCanvas(width, height)
	defer canvas.Release()

	start := PlanStart(canvas.img.Bounds(), frames, target)
	for i := start; i <= target; i++ {
		img, err := decode(i)
		if err != nil {
			return nil, &DecodeError{Index: i, Err: err}
		}
		f := frames[i]
		f.Image = img
		canvas.Draw(&f)
		if i < target {
			canvas.Dispose(&f)
		}
	}
	return canvas.Image(), nil
}
