package animation

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	FrameDecoderFunc = func(stream []byte) (image.Image, error) {
		return png.Decode(bytes.NewReader(stream))
	}
	FrameEncoderFunc = func(img image.Image, level png.CompressionLevel) ([]byte, error) {
		var buf bytes.Buffer
		enc := png.Encoder{CompressionLevel: level}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	os.Exit(m.Run())
}

var (
	red         = color.NRGBA{R: 255, A: 255}
	green       = color.NRGBA{G: 255, A: 255}
	blue        = color.NRGBA{B: 255, A: 255}
	transparent = color.NRGBA{}
)

func solidNRGBA(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}

func pixel(img image.Image, x, y int) color.NRGBA {
	return colorToNRGBA(img.At(x, y))
}

// --- Frame tests ---

func TestFrameBounds(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 100, 200))
	f := Frame{Image: img, OffsetX: 10, OffsetY: 20}
	if b := f.Bounds(); b != image.Rect(10, 20, 110, 220) {
		t.Errorf("Bounds() = %v, want (10,20)-(110,220)", b)
	}

	// The declared region wins over the decoded image size.
	f.Width, f.Height = 5, 6
	if b := f.Bounds(); b != image.Rect(10, 20, 15, 26) {
		t.Errorf("Bounds() = %v, want (10,20)-(15,26)", b)
	}
}

func TestFrameBoundsNilImage(t *testing.T) {
	f := Frame{OffsetX: 5, OffsetY: 10}
	if b := f.Bounds(); b.Dx() != 0 || b.Dy() != 0 {
		t.Errorf("Bounds() with nil image = %v, want zero-size", b)
	}
}

func TestParseMethods(t *testing.T) {
	for _, d := range []DisposeMethod{DisposeNone, DisposeBackground, DisposePrevious} {
		got, err := ParseDisposeMethod(d.String())
		if err != nil || got != d {
			t.Errorf("ParseDisposeMethod(%q) = %v, %v", d.String(), got, err)
		}
	}
	for _, b := range []BlendMethod{BlendSource, BlendOver} {
		got, err := ParseBlendMethod(b.String())
		if err != nil || got != b {
			t.Errorf("ParseBlendMethod(%q) = %v, %v", b.String(), got, err)
		}
	}
	if _, err := ParseDisposeMethod("sideways"); err == nil {
		t.Error("expected error for unknown dispose method")
	}
	if _, err := ParseBlendMethod("multiply"); err == nil {
		t.Error("expected error for unknown blend method")
	}
}

// --- Canvas tests ---

func TestCanvasBlendOver(t *testing.T) {
	halfRed := color.NRGBA{R: 255, A: 128}
	c := NewCanvas(4, 4)
	c.Draw(&Frame{Image: solidNRGBA(4, 4, blue), Blend: BlendSource})
	c.Draw(&Frame{Image: solidNRGBA(4, 4, halfRed), Blend: BlendOver})

	got := c.Image().RGBAAt(1, 1)
	if got.R < 126 || got.R > 130 {
		t.Errorf("R = %d, expected ~128", got.R)
	}
	if got.B < 125 || got.B > 129 {
		t.Errorf("B = %d, expected ~127", got.B)
	}
	if got.A != 255 {
		t.Errorf("A = %d, want 255", got.A)
	}
}

func TestCanvasBlendSource(t *testing.T) {
	halfRed := color.NRGBA{R: 255, A: 128}
	c := NewCanvas(4, 4)
	c.Draw(&Frame{Image: solidNRGBA(4, 4, blue), Blend: BlendSource})
	c.Draw(&Frame{Image: solidNRGBA(4, 4, halfRed), Blend: BlendSource})

	got := pixel(c.Image(), 1, 1)
	if got.A != 128 || got.B != 0 || got.R < 254 {
		t.Errorf("pixel = %v, want ~%v (source replaces alpha too)", got, halfRed)
	}
}

func TestCanvasClipsToBounds(t *testing.T) {
	c := NewCanvas(4, 4)
	c.Draw(&Frame{Image: solidNRGBA(4, 4, red), OffsetX: 2, OffsetY: 2})
	if got := pixel(c.Image(), 3, 3); got != red {
		t.Errorf("(3,3) = %v, want red", got)
	}
	if got := pixel(c.Image(), 1, 1); got != transparent {
		t.Errorf("(1,1) = %v, want transparent", got)
	}
}

// --- Scenario tests ---

// Frame 0 is a 10x10 red frame that disposes to background; frame 1 is a
// 5x5 blue square blended over the cleared canvas.
func disposeBackgroundScenario() *Animation {
	return &Animation{
		CanvasWidth:  10,
		CanvasHeight: 10,
		Frames: []Frame{
			{Image: solidNRGBA(10, 10, red), Blend: BlendSource, Dispose: DisposeBackground, Duration: 100 * time.Millisecond},
			{Image: solidNRGBA(5, 5, blue), Blend: BlendOver, Dispose: DisposeNone, Duration: 100 * time.Millisecond, HasAlpha: true},
		},
	}
}

func checkBlueSquare(t *testing.T, img image.Image) {
	t.Helper()
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			want := transparent
			if x < 5 && y < 5 {
				want = blue
			}
			if got := pixel(img, x, y); got != want {
				t.Fatalf("(%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestAnimDecoderDisposeBackground(t *testing.T) {
	dec := NewAnimDecoder(disposeBackgroundScenario())
	first, _, err := dec.NextFrame()
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if got := pixel(first, 9, 9); got != red {
		t.Fatalf("frame 0 (9,9) = %v, want red", got)
	}
	snap, _, err := dec.NextFrame()
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	checkBlueSquare(t, snap)
}

func TestRenderDisposeBackground(t *testing.T) {
	anim := disposeBackgroundScenario()
	img, err := Render(10, 10, anim.Frames, 1, func(i int) (image.Image, error) {
		return anim.Frames[i].Image, nil
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	checkBlueSquare(t, img)
}

func TestAnimDecoderDisposePrevious(t *testing.T) {
	anim := &Animation{
		CanvasWidth:  6,
		CanvasHeight: 6,
		Frames: []Frame{
			{Image: solidNRGBA(6, 6, red), Blend: BlendSource, Dispose: DisposeNone},
			{Image: solidNRGBA(4, 4, green), OffsetX: 2, OffsetY: 2, Blend: BlendSource, Dispose: DisposePrevious},
			{Image: solidNRGBA(1, 1, blue), Blend: BlendOver, Dispose: DisposeNone},
		},
	}
	dec := NewAnimDecoder(anim)
	dec.NextFrame()
	mid, _, err := dec.NextFrame()
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if got := pixel(mid, 3, 3); got != green {
		t.Fatalf("frame 1 (3,3) = %v, want green", got)
	}
	last, _, err := dec.NextFrame()
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if got := pixel(last, 0, 0); got != blue {
		t.Errorf("(0,0) = %v, want blue", got)
	}
	if got := pixel(last, 3, 3); got != red {
		t.Errorf("(3,3) = %v, want red restored after dispose-previous", got)
	}
}

func TestAnimDecoderReset(t *testing.T) {
	dec := NewAnimDecoder(disposeBackgroundScenario())
	dec.NextFrame()
	dec.NextFrame()
	if dec.HasNext() {
		t.Fatal("HasNext() = true after last frame")
	}
	if _, _, err := dec.NextFrame(); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("expected ErrNoFrames, got %v", err)
	}
	dec.Reset()
	if !dec.HasNext() {
		t.Fatal("HasNext() = false after Reset")
	}
	if got := pixel(dec.Canvas(), 0, 0); got != transparent {
		t.Fatalf("canvas after Reset = %v, want transparent", got)
	}
}

func TestAnimDecoderNilImage(t *testing.T) {
	anim := &Animation{CanvasWidth: 2, CanvasHeight: 2, Frames: []Frame{{Width: 2, Height: 2}}}
	if _, _, err := NewAnimDecoder(anim).NextFrame(); !errors.Is(err, ErrNilImage) {
		t.Fatalf("expected ErrNilImage, got %v", err)
	}
}

// --- Start planning ---

func TestPlanStart(t *testing.T) {
	canvas := image.Rect(0, 0, 4, 4)
	full := func(d DisposeMethod, b BlendMethod, alpha bool) Frame {
		return Frame{Width: 4, Height: 4, Dispose: d, Blend: b, HasAlpha: alpha}
	}
	part := func(d DisposeMethod) Frame {
		return Frame{OffsetX: 1, OffsetY: 1, Width: 2, Height: 2, Dispose: d, Blend: BlendOver, HasAlpha: true}
	}

	tests := []struct {
		name   string
		frames []Frame
		target int
		want   int
	}{
		{"first frame", []Frame{full(DisposeNone, BlendOver, true)}, 0, 0},
		{"partial frames replay", []Frame{full(DisposeNone, BlendSource, true), part(DisposeNone), part(DisposeNone)}, 2, 0},
		{"full source frame", []Frame{full(DisposeNone, BlendSource, true), part(DisposeNone), full(DisposeNone, BlendSource, true), part(DisposeNone)}, 3, 2},
		{"full over with alpha", []Frame{full(DisposeNone, BlendSource, true), full(DisposeNone, BlendOver, true)}, 1, 0},
		{"full over opaque format", []Frame{full(DisposeNone, BlendSource, false), full(DisposeNone, BlendOver, false)}, 1, 1},
		{"after full background dispose", []Frame{full(DisposeNone, BlendSource, true), full(DisposeBackground, BlendOver, true), part(DisposeNone)}, 2, 2},
		{"after partial background on clean canvas", []Frame{part(DisposeBackground), part(DisposeNone)}, 1, 1},
		{"after partial background on dirty canvas", []Frame{full(DisposeNone, BlendSource, true), part(DisposeBackground), part(DisposeNone)}, 2, 0},
		{"full previous is not a start for later frames", []Frame{full(DisposeNone, BlendSource, true), full(DisposePrevious, BlendSource, true), part(DisposeNone)}, 2, 0},
		{"full previous as the target", []Frame{full(DisposeNone, BlendSource, true), full(DisposePrevious, BlendSource, true)}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlanStart(canvas, tt.frames, tt.target); got != tt.want {
				t.Fatalf("PlanStart = %d, want %d", got, tt.want)
			}
		})
	}
}

// Rendering any frame directly must match sequential playback.
func TestRenderMatchesSequential(t *testing.T) {
	halfGreen := color.NRGBA{G: 255, A: 128}
	anim := &Animation{
		CanvasWidth:  6,
		CanvasHeight: 6,
		Frames: []Frame{
			{Image: solidNRGBA(6, 6, red), Blend: BlendSource, Dispose: DisposeNone, HasAlpha: true},
			{Image: solidNRGBA(3, 3, halfGreen), OffsetX: 1, OffsetY: 1, Blend: BlendOver, Dispose: DisposePrevious, HasAlpha: true},
			{Image: solidNRGBA(2, 2, blue), OffsetX: 4, OffsetY: 4, Blend: BlendOver, Dispose: DisposeBackground, HasAlpha: true},
			{Image: solidNRGBA(6, 6, halfGreen), Blend: BlendSource, Dispose: DisposeNone, HasAlpha: true},
			{Image: solidNRGBA(2, 2, red), OffsetX: 0, OffsetY: 3, Blend: BlendOver, Dispose: DisposeBackground, HasAlpha: true},
			{Image: solidNRGBA(6, 6, blue), Blend: BlendOver, Dispose: DisposePrevious, HasAlpha: true},
			{Image: solidNRGBA(1, 1, green), OffsetX: 5, OffsetY: 0, Blend: BlendOver, Dispose: DisposeNone, HasAlpha: true},
		},
	}
	markKeyframes(image.Rect(0, 0, 6, 6), anim.Frames)

	dec := NewAnimDecoder(anim)
	for i := range anim.Frames {
		want, _, err := dec.NextFrame()
		if err != nil {
			t.Fatalf("NextFrame %d: %v", i, err)
		}
		got, err := Render(6, 6, anim.Frames, i, func(j int) (image.Image, error) {
			return anim.Frames[j].Image, nil
		})
		if err != nil {
			t.Fatalf("Render %d: %v", i, err)
		}
		if !bytes.Equal(got.Pix, want.Pix) {
			t.Fatalf("frame %d: Render differs from sequential playback", i)
		}
	}
	if !anim.Frames[0].IsKeyframe || !anim.Frames[3].IsKeyframe {
		t.Fatalf("keyframes = %v/%v, want frames 0 and 3 marked", anim.Frames[0].IsKeyframe, anim.Frames[3].IsKeyframe)
	}
}

func TestRenderDecodeError(t *testing.T) {
	anim := disposeBackgroundScenario()
	boom := errors.New("boom")
	_, err := Render(10, 10, anim.Frames, 1, func(i int) (image.Image, error) {
		if i == 1 {
			return nil, boom
		}
		return anim.Frames[i].Image, nil
	})
	if !errors.Is(err, ErrFrameDecodeFailed) {
		t.Fatalf("expected ErrFrameDecodeFailed, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected cause to be wrapped, got %v", err)
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Index != 1 {
		t.Fatalf("DecodeError = %+v, want index 1", de)
	}
	if want := "animation: frame 1: boom"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestRenderOutOfRange(t *testing.T) {
	anim := disposeBackgroundScenario()
	if _, err := Render(10, 10, anim.Frames, 2, nil); err == nil {
		t.Fatal("expected error for target past the last frame")
	}
}

// --- Encoder / decoder round trip ---

func encodeAnimation(t *testing.T, opts *EncodeOptions, frames ...encFrame) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := NewEncoder(&buf, opts)
	for _, f := range frames {
		if err := enc.AddFrame(f.img, f.duration, f.dispose, f.blend); err != nil {
			t.Fatalf("AddFrame: %v", err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func TestAnimEncoderRoundtrip(t *testing.T) {
	data := encodeAnimation(t, &EncodeOptions{LoopCount: 3},
		encFrame{solidNRGBA(8, 8, red), 100 * time.Millisecond, DisposeBackground, BlendSource},
		encFrame{solidNRGBA(8, 8, green), 250 * time.Millisecond, DisposePrevious, BlendOver},
		encFrame{solidNRGBA(8, 8, blue), 2 * time.Second, DisposeNone, BlendSource},
	)

	anim, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if anim.CanvasWidth != 8 || anim.CanvasHeight != 8 || anim.LoopCount != 3 {
		t.Fatalf("canvas %dx%d loop %d, want 8x8 loop 3", anim.CanvasWidth, anim.CanvasHeight, anim.LoopCount)
	}
	want := []struct {
		d       time.Duration
		dispose DisposeMethod
		blend   BlendMethod
		c       color.NRGBA
	}{
		{100 * time.Millisecond, DisposeBackground, BlendSource, red},
		{250 * time.Millisecond, DisposePrevious, BlendOver, green},
		{2 * time.Second, DisposeNone, BlendSource, blue},
	}
	if len(anim.Frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(anim.Frames), len(want))
	}
	if err := anim.DecodeFramesParallel(); err != nil {
		t.Fatalf("DecodeFramesParallel: %v", err)
	}
	for i, w := range want {
		f := anim.Frames[i]
		if f.Duration != w.d || f.Dispose != w.dispose || f.Blend != w.blend {
			t.Errorf("frame %d = %v/%v/%v, want %v/%v/%v", i, f.Duration, f.Dispose, f.Blend, w.d, w.dispose, w.blend)
		}
		if got := pixel(f.Image, 4, 4); got != w.c {
			t.Errorf("frame %d pixel = %v, want %v", i, got, w.c)
		}
	}
	if got := anim.TotalDuration(); got != 2350*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 2.35s", got)
	}
}

func TestAnimEncoderMixedOpacity(t *testing.T) {
	translucent := color.NRGBA{R: 255, A: 64}
	data := encodeAnimation(t, nil,
		encFrame{solidNRGBA(4, 4, red), 0, DisposeNone, BlendSource},
		encFrame{solidNRGBA(4, 4, translucent), 0, DisposeNone, BlendSource},
	)
	anim, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if err := anim.DecodeFrames(); err != nil {
		t.Fatalf("DecodeFrames: %v", err)
	}
	if got := pixel(anim.Frames[0].Image, 0, 0); got != red {
		t.Errorf("frame 0 = %v, want %v", got, red)
	}
	if got := pixel(anim.Frames[1].Image, 0, 0); got != translucent {
		t.Errorf("frame 1 = %v, want %v", got, translucent)
	}
}

func TestAnimEncoderSmallerFramePlaced(t *testing.T) {
	data := encodeAnimation(t, nil,
		encFrame{solidNRGBA(4, 4, red), 0, DisposeNone, BlendSource},
		encFrame{solidNRGBA(2, 2, blue), 0, DisposeNone, BlendSource},
	)
	anim, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if err := anim.DecodeFrames(); err != nil {
		t.Fatalf("DecodeFrames: %v", err)
	}
	f := anim.Frames[1]
	if f.Bounds() != image.Rect(0, 0, 4, 4) {
		t.Fatalf("frame 1 bounds = %v, want full canvas", f.Bounds())
	}
	if got := pixel(f.Image, 1, 1); got != blue {
		t.Errorf("(1,1) = %v, want blue", got)
	}
	if got := pixel(f.Image, 3, 3); got != transparent {
		t.Errorf("(3,3) = %v, want transparent padding", got)
	}
}

func TestAnimEncoderFrameTooLarge(t *testing.T) {
	enc := NewEncoder(&bytes.Buffer{}, nil)
	if err := enc.AddFrame(solidNRGBA(4, 4, red), 0, DisposeNone, BlendSource); err != nil {
		t.Fatal(err)
	}
	err := enc.AddFrame(solidNRGBA(5, 4, red), 0, DisposeNone, BlendSource)
	if !errors.Is(err, ErrInconsistentFrameSize) {
		t.Fatalf("expected ErrInconsistentFrameSize, got %v", err)
	}
}

func TestAnimEncoderStoredDefault(t *testing.T) {
	data := encodeAnimation(t, &EncodeOptions{StoreDefaultImage: true, DefaultImage: solidNRGBA(4, 4, green)},
		encFrame{solidNRGBA(4, 4, red), 0, DisposeNone, BlendSource},
	)
	anim, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if anim.Default == nil {
		t.Fatal("default image missing")
	}
	img, err := FrameDecoderFunc(anim.Default)
	if err != nil {
		t.Fatalf("decoding default image: %v", err)
	}
	if got := pixel(img, 0, 0); got != green {
		t.Errorf("default pixel = %v, want green", got)
	}
}

func TestAnimEncoderCloseTwice(t *testing.T) {
	enc := NewEncoder(&bytes.Buffer{}, nil)
	if err := enc.AddFrame(solidNRGBA(1, 1, red), 0, DisposeNone, BlendSource); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := enc.Close(); !errors.Is(err, ErrEncoderClosed) {
		t.Fatalf("second Close: expected ErrEncoderClosed, got %v", err)
	}
	if err := enc.AddFrame(solidNRGBA(1, 1, red), 0, DisposeNone, BlendSource); !errors.Is(err, ErrEncoderClosed) {
		t.Fatalf("AddFrame after Close: expected ErrEncoderClosed, got %v", err)
	}
}

func TestAnimEncoderNoFrames(t *testing.T) {
	if err := NewEncoder(&bytes.Buffer{}, nil).Close(); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("expected ErrNoFrames, got %v", err)
	}
}

func TestAnimEncoderNilImage(t *testing.T) {
	err := NewEncoder(&bytes.Buffer{}, nil).AddFrame(nil, 0, DisposeNone, BlendSource)
	if !errors.Is(err, ErrNilImage) {
		t.Fatalf("expected ErrNilImage, got %v", err)
	}
}

func TestDecodeFramesNoDecoder(t *testing.T) {
	old := FrameDecoderFunc
	FrameDecoderFunc = nil
	defer func() { FrameDecoderFunc = old }()

	anim := &Animation{Frames: []Frame{{Data: []byte{1}}}}
	if err := anim.DecodeFrames(); !errors.Is(err, ErrNoDecoder) {
		t.Fatalf("expected ErrNoDecoder, got %v", err)
	}
	if err := anim.DecodeFramesParallel(); !errors.Is(err, ErrNoDecoder) {
		t.Fatalf("expected ErrNoDecoder, got %v", err)
	}
}

func TestDecodeFramesParallelReportsFirstFailure(t *testing.T) {
	old := FrameDecoderFunc
	FrameDecoderFunc = func(stream []byte) (image.Image, error) {
		if stream[0] >= 2 {
			return nil, errors.New("bad frame")
		}
		return solidNRGBA(1, 1, red), nil
	}
	defer func() { FrameDecoderFunc = old }()

	anim := &Animation{}
	for i := 0; i < 5; i++ {
		anim.Frames = append(anim.Frames, Frame{Data: []byte{byte(i)}})
	}
	err := anim.DecodeFramesParallel()
	var de *DecodeError
	if !errors.As(err, &de) || de.Index != 2 {
		t.Fatalf("error = %v, want DecodeError for frame 2", err)
	}
	if !anim.Frames[0].HasImage() || !anim.Frames[1].HasImage() {
		t.Fatal("frames before the failure should be decoded")
	}
}
