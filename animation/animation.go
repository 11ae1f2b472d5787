package animation

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/deepteams/apng/internal/container"
	"github.com/deepteams/apng/mux"
)

// Animation holds all frames and parameters of an animated PNG image.
type Animation struct {
	// Frames holds the ordered animation frames.
	Frames []Frame

	// LoopCount is the number of times to loop the animation.
	// 0 means infinite looping.
	LoopCount int

	// CanvasWidth is the canvas width in pixels.
	CanvasWidth int

	// CanvasHeight is the canvas height in pixels.
	CanvasHeight int

	// Default holds the default image as a standalone PNG stream when it is
	// not part of the animation (nil otherwise).
	Default []byte
}

// FrameDecoderFunc decodes a standalone single-frame PNG stream.
// It will be set by the root package once available.
var FrameDecoderFunc func(pngStream []byte) (image.Image, error)

// FrameEncoderFunc encodes an image as a standalone single-frame PNG stream.
// It will be set by the root package once available.
var FrameEncoderFunc func(img image.Image, level png.CompressionLevel) ([]byte, error)

var (
	ErrNoFrames              = errors.New("animation: no frames")
	ErrCanvasSize            = errors.New("animation: invalid canvas dimensions")
	ErrNilImage              = errors.New("animation: frame image is nil")
	ErrNoDecoder             = errors.New("animation: no frame decoder available")
	ErrNoEncoder             = errors.New("animation: no frame encoder available")
	ErrEncoderClosed         = errors.New("animation: encoder already closed")
	ErrInconsistentFrameSize = mux.ErrInconsistentFrameSize
)

// Decode parses an animated PNG from r, extracting container structure and
// frames. Pixel data is kept as standalone PNG streams; decoding is deferred
// until DecodeFrames or an AnimDecoder is used.
func Decode(r io.Reader) (*Animation, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeBytes(data)
}

// DecodeBytes parses an animated PNG from raw bytes. A still PNG yields a
// single full-canvas frame.
func DecodeBytes(data []byte) (*Animation, error) {
	res, err := container.Scan(data, 0, int64(len(data)))
	if err != nil {
		return nil, err
	}
	if res.Checksum != nil {
		return nil, res.Checksum
	}
	info, err := mux.Build(data, res.Chunks)
	if err != nil {
		return nil, err
	}
	return FromInfo(info, data)
}

// FromInfo builds an Animation from a container structure and the buffer it
// indexes. Frame streams are reassembled eagerly.
func FromInfo(info *mux.Info, data []byte) (*Animation, error) {
	anim := &Animation{
		CanvasWidth:  int(info.Header.Width),
		CanvasHeight: int(info.Header.Height),
		LoopCount:    info.LoopCount,
	}
	if info.Animated && !info.FirstFrameIsCover && info.DefaultDone {
		def, err := info.AppendDefaultStream(nil, data)
		if err != nil {
			return nil, err
		}
		anim.Default = def
	}

	anim.Frames = FramesOf(info)
	if len(anim.Frames) == 0 {
		return nil, ErrNoFrames
	}
	for i := range anim.Frames {
		fi, err := info.Frame(i)
		if err != nil {
			return nil, err
		}
		stream, err := info.AppendFrameStream(make([]byte, 0, info.StreamSize(fi)), data, i)
		if err != nil {
			return nil, err
		}
		anim.Frames[i].Data = stream
	}
	return anim, nil
}

// FramesOf returns the metadata of every renderable frame in info, with
// keyframes marked. Image and Data are left nil.
func FramesOf(info *mux.Info) []Frame {
	n := info.NumFrames()
	if n == 0 {
		return nil
	}
	hasAlpha := info.HasTransparency()
	frames := make([]Frame, n)
	for i := range frames {
		fi, _ := info.Frame(i)
		frames[i] = frameFromControl(fi.Control)
		frames[i].HasAlpha = hasAlpha
	}
	markKeyframes(image.Rect(0, 0, int(info.Header.Width), int(info.Header.Height)), frames)
	return frames
}

// TotalDuration returns the sum of all frame durations.
func (a *Animation) TotalDuration() time.Duration {
	var total time.Duration
	for i := range a.Frames {
		total += a.Frames[i].Duration
	}
	return total
}

// DecodeFrames decodes all frames using FrameDecoderFunc.
// Frames that already have a non-nil Image are skipped.
func (a *Animation) DecodeFrames() error {
	if FrameDecoderFunc == nil {
		return ErrNoDecoder
	}
	for i := range a.Frames {
		f := &a.Frames[i]
		if f.Image != nil || f.Data == nil {
			continue
		}
		img, err := FrameDecoderFunc(f.Data)
		if err != nil {
			return &DecodeError{Index: i, Err: err}
		}
		f.Image = img
	}
	return nil
}

// DecodeFramesParallel decodes all frames using FrameDecoderFunc in parallel.
// Each frame's PNG stream is decoded independently on a separate goroutine.
// The number of concurrent decoders is limited to GOMAXPROCS.
// For small frame counts (<= 2), falls back to sequential DecodeFrames.
func (a *Animation) DecodeFramesParallel() error {
	if FrameDecoderFunc == nil {
		return ErrNoDecoder
	}

	var toDecodeIdx []int
	for i := range a.Frames {
		if a.Frames[i].Image == nil && a.Frames[i].Data != nil {
			toDecodeIdx = append(toDecodeIdx, i)
		}
	}
	if len(toDecodeIdx) == 0 {
		return nil
	}
	if len(toDecodeIdx) <= 2 {
		return a.DecodeFrames()
	}

	numWorkers := min(runtime.GOMAXPROCS(0), len(toDecodeIdx))

	type decodeResult struct {
		idx int
		img image.Image
		err error
	}

	work := make(chan int, len(toDecodeIdx))
	for _, idx := range toDecodeIdx {
		work <- idx
	}
	close(work)

	results := make(chan decodeResult, len(toDecodeIdx))
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				img, err := FrameDecoderFunc(a.Frames[idx].Data)
				results <- decodeResult{idx: idx, img: img, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil || r.idx < firstErr.(*DecodeError).Index {
				firstErr = &DecodeError{Index: r.idx, Err: r.err}
			}
			continue
		}
		a.Frames[r.idx].Image = r.img
	}
	return firstErr
}

// --- AnimDecoder: canvas reconstruction ---

// AnimDecoder provides frame-by-frame canvas reconstruction.
type AnimDecoder struct {
	anim   *Animation
	canvas *Canvas
	pos    int
}

// NewAnimDecoder creates an AnimDecoder from an Animation whose frames have
// been decoded. The canvas starts fully transparent.
func NewAnimDecoder(anim *Animation) *AnimDecoder {
	return &AnimDecoder{
		anim:   anim,
		canvas: NewCanvas(anim.CanvasWidth, anim.CanvasHeight),
	}
}

// HasNext reports whether more frames are available.
func (d *AnimDecoder) HasNext() bool {
	return d.pos < len(d.anim.Frames)
}

// NextFrame applies the next frame to the canvas and returns a snapshot of
// the displayed canvas. The caller owns the snapshot.
func (d *AnimDecoder) NextFrame() (*image.RGBA, time.Duration, error) {
	if !d.HasNext() {
		return nil, 0, ErrNoFrames
	}
	f := &d.anim.Frames[d.pos]
	if f.Image == nil {
		return nil, 0, fmt.Errorf("%w: frame %d", ErrNilImage, d.pos)
	}

	d.canvas.Draw(f)

	cur := d.canvas.Image()
	snap := image.NewRGBA(cur.Bounds())
	copy(snap.Pix, cur.Pix)

	d.canvas.Dispose(f)
	d.pos++
	return snap, f.Duration, nil
}

// Reset rewinds the decoder to the first frame and clears the canvas.
func (d *AnimDecoder) Reset() {
	d.pos = 0
	d.canvas.Clear()
}

// Canvas returns the current canvas state (not a copy).
func (d *AnimDecoder) Canvas() *image.RGBA {
	return d.canvas.Image()
}

// --- AnimEncoder: mux-based encoder ---

// EncodeOptions configures the AnimEncoder.
type EncodeOptions struct {
	LoopCount int

	// StoreDefaultImage writes a separate default image ahead of the
	// animation. DefaultImage selects it; nil repeats the first frame.
	StoreDefaultImage bool
	DefaultImage      image.Image

	CompressionLevel png.CompressionLevel
	Logger           *slog.Logger
}

type encFrame struct {
	img      *image.NRGBA
	duration time.Duration
	dispose  DisposeMethod
	blend    BlendMethod
}

// AnimEncoder assembles an animated PNG from full-canvas bitmaps. Frames
// are buffered until Close so that every frame can share one pixel format.
type AnimEncoder struct {
	w      io.Writer
	opts   EncodeOptions
	log    *slog.Logger
	frames []encFrame
	width  int
	height int
	closed bool
}

// NewEncoder creates an AnimEncoder writing to w. The canvas size is taken
// from the first frame.
func NewEncoder(w io.Writer, opts *EncodeOptions) *AnimEncoder {
	e := &AnimEncoder{w: w}
	if opts != nil {
		e.opts = *opts
	}
	e.log = e.opts.Logger
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// AddFrame appends a bitmap shown for duration. The first bitmap fixes the
// canvas size; later bitmaps are placed at their bounds origin on a
// transparent canvas-sized frame and must fit inside it.
func (e *AnimEncoder) AddFrame(img image.Image, duration time.Duration, dispose DisposeMethod, blend BlendMethod) error {
	if e.closed {
		return ErrEncoderClosed
	}
	if img == nil {
		return ErrNilImage
	}
	b := img.Bounds()
	if b.Empty() {
		return fmt.Errorf("%w: frame %d is empty", ErrCanvasSize, len(e.frames))
	}
	if duration < 0 {
		duration = 0
	}

	var frame *image.NRGBA
	if len(e.frames) == 0 {
		e.width, e.height = b.Dx(), b.Dy()
		frame = toNRGBA(img)
		if frame == img {
			frame = cloneNRGBA(frame)
		}
	} else {
		canvas := image.Rect(0, 0, e.width, e.height)
		if !b.In(canvas) {
			return fmt.Errorf("%w: frame %d bounds %v do not fit the %dx%d canvas",
				ErrInconsistentFrameSize, len(e.frames), b, e.width, e.height)
		}
		frame = image.NewNRGBA(canvas)
		draw.Draw(frame, b, img, b.Min, draw.Src)
	}

	e.frames = append(e.frames, encFrame{img: frame, duration: duration, dispose: dispose, blend: blend})
	return nil
}

// NumFrames returns the number of frames added so far.
func (e *AnimEncoder) NumFrames() int {
	return len(e.frames)
}

// Close encodes every frame and writes the assembled APNG to w.
func (e *AnimEncoder) Close() error {
	if e.closed {
		return ErrEncoderClosed
	}
	e.closed = true
	if len(e.frames) == 0 {
		return ErrNoFrames
	}
	if FrameEncoderFunc == nil {
		return ErrNoEncoder
	}

	var def *image.NRGBA
	if e.opts.StoreDefaultImage && e.opts.DefaultImage != nil {
		b := e.opts.DefaultImage.Bounds()
		if b.Dx() != e.width || b.Dy() != e.height {
			return fmt.Errorf("%w: default image %dx%d, canvas %dx%d",
				ErrInconsistentFrameSize, b.Dx(), b.Dy(), e.width, e.height)
		}
		def = toNRGBA(e.opts.DefaultImage)
	}

	// Every frame must share the canvas IHDR, so a single transparent frame
	// forces an alpha channel on all of them.
	alpha := def != nil && !def.Opaque()
	for _, f := range e.frames {
		if alpha {
			break
		}
		alpha = !f.img.Opaque()
	}

	m := mux.NewMuxer()
	m.SetLoopCount(e.opts.LoopCount)
	m.SetStoreDefaultImage(e.opts.StoreDefaultImage)

	if def != nil {
		stream, err := e.encode(def, alpha)
		if err != nil {
			return fmt.Errorf("animation: encoding default image: %w", err)
		}
		if err := m.SetDefaultImage(stream); err != nil {
			return err
		}
	}

	for i, f := range e.frames {
		stream, err := e.encode(f.img, alpha)
		if err != nil {
			return fmt.Errorf("animation: encoding frame %d: %w", i, err)
		}
		opts := mux.FrameOptions{
			Delay:   f.duration,
			Dispose: mux.DisposeOp(f.dispose),
			Blend:   mux.BlendOp(f.blend),
		}
		if err := m.AddFrame(stream, &opts); err != nil {
			return err
		}
		e.log.Debug("animation: frame muxed", "index", i, "bytes", len(stream), "delay", f.duration)
	}

	var buf bytes.Buffer
	if err := m.Assemble(&buf); err != nil {
		return err
	}
	_, err := e.w.Write(buf.Bytes())
	return err
}

func (e *AnimEncoder) encode(img *image.NRGBA, alpha bool) ([]byte, error) {
	var src image.Image = img
	if alpha {
		src = translucent{img}
	}
	return FrameEncoderFunc(src, e.opts.CompressionLevel)
}

// translucent reports itself as non-opaque so that PNG encoders keep the
// alpha channel even when every pixel is opaque.
type translucent struct {
	*image.NRGBA
}

func (translucent) Opaque() bool { return false }

// cloneNRGBA creates a deep copy of an NRGBA image.
func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}
