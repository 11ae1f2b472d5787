// Command gapng inspects, decodes and assembles animated PNG files.
//
// Usage:
//
//	gapng [-v] info <input>              Display container metadata
//	gapng [-v] dec [options] <input>     APNG → GIF, or one frame → PNG/JPEG/GIF/BMP/TIFF/WebP
//	gapng [-v] enc [options] <input...>  Images or an animated GIF → APNG
//	gapng [-v] enc -config anim.yaml     Frames described by a YAML manifest → APNG
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deepteams/apng"
	"github.com/deepteams/apng/animation"
	"github.com/deepteams/apng/codec"
	"github.com/deepteams/apng/mux"
)

func main() {
	global := flag.NewFlagSet("gapng", flag.ContinueOnError)
	verbose := global.Bool("v", false, "verbose logging")
	global.Usage = printUsage
	if err := global.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	args := global.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	var err error
	switch args[0] {
	case "enc":
		err = runEnc(args[1:], log)
	case "dec":
		err = runDec(args[1:], log)
	case "info":
		err = runInfo(args[1:], log)
	case "-h", "-help", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "gapng: unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "gapng: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  gapng [-v] info <input>              Display container metadata
  gapng [-v] dec [options] <input>     Decode an APNG to GIF, or one frame to an image
  gapng [-v] enc [options] <input...>  Assemble images or an animated GIF into an APNG

Use "-" as input to read from stdin, "-o -" to write to stdout.

Run "gapng <command> -h" for command-specific options.
`)
}

// openInput returns an io.ReadCloser for the given path.
// If path is "-", stdin is returned (caller should not close).
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// stdin can only be consumed once; enc may look at it twice.
var stdinData []byte

func readInput(path string) ([]byte, error) {
	if path == "-" && stdinData != nil {
		return stdinData, nil
	}
	in, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err == nil && path == "-" {
		stdinData = data
	}
	return data, err
}

// outputName derives a default output path from the input path.
func outputName(inputPath, ext string) string {
	if inputPath == "-" {
		return "output" + ext
	}
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return base + ext
}

// writeOutput creates path (or uses stdout for "-") and runs write against
// it. A partially written file is removed on failure.
func writeOutput(path string, write func(io.Writer) error) error {
	if path == "-" {
		return write(os.Stdout)
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(out); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

func parseCompression(s string) (png.CompressionLevel, error) {
	switch s {
	case "", "default":
		return png.DefaultCompression, nil
	case "none":
		return png.NoCompression, nil
	case "fast":
		return png.BestSpeed, nil
	case "best":
		return png.BestCompression, nil
	}
	return 0, fmt.Errorf("unknown compression level %q (use none/fast/default/best)", s)
}

// --- enc ---

func runEnc(args []string, log *slog.Logger) error {
	fs := flag.NewFlagSet("enc", flag.ContinueOnError)
	output := fs.String("o", "", `output path (default: <input>.png, "-" for stdout)`)
	loop := fs.Int("loop", 0, "loop count (0 = forever)")
	delay := fs.Duration("d", 100*time.Millisecond, "frame duration")
	dispose := fs.String("dispose", "none", "dispose method: none/background/previous")
	blend := fs.String("blend", "source", "blend method: source/over")
	storeDefault := fs.Bool("default", false, "store a separate default image (the first frame)")
	manifest := fs.String("config", "", "YAML frame manifest")
	level := fs.String("z", "default", "PNG compression: none/fast/default/best")

	if err := fs.Parse(args); err != nil {
		return err
	}
	compression, err := parseCompression(*level)
	if err != nil {
		return fmt.Errorf("enc: %w", err)
	}

	if *manifest != "" {
		m, err := LoadConfig(*manifest)
		if err != nil {
			return fmt.Errorf("enc: %w", err)
		}
		out := *output
		if out == "" {
			out = outputName(*manifest, ".png")
		}
		return encodeManifest(m, out, compression, log)
	}

	if fs.NArg() < 1 {
		return fmt.Errorf("enc: missing input file\nUsage: gapng enc [options] <input...>")
	}
	out := *output
	if out == "" {
		out = outputName(fs.Arg(0), ".png")
	}
	opts := &apng.EncoderOptions{
		StoreDefaultImage: *storeDefault,
		CompressionLevel:  compression,
		Logger:            log,
	}

	if fs.NArg() == 1 {
		data, err := readInput(fs.Arg(0))
		if err != nil {
			return err
		}
		if codec.DetectType(data) == codec.GIF {
			return encodeGIF(data, out, opts, log)
		}
	}

	d, err := animation.ParseDisposeMethod(*dispose)
	if err != nil {
		return fmt.Errorf("enc: %w", err)
	}
	b, err := animation.ParseBlendMethod(*blend)
	if err != nil {
		return fmt.Errorf("enc: %w", err)
	}
	frames := make([]FrameSpec, fs.NArg())
	for i, path := range fs.Args() {
		frames[i] = FrameSpec{File: path, Duration: *delay, Dispose: d.String(), Blend: b.String()}
	}
	m := &Manifest{LoopCount: *loop, StoreDefaultImage: *storeDefault, DefaultDuration: *delay, Frames: frames}
	return encodeManifest(m, out, compression, log)
}

func decodeFile(path string) (image.Image, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	img, _, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func encodeManifest(m *Manifest, outputPath string, level png.CompressionLevel, log *slog.Logger) error {
	opts := &apng.EncoderOptions{
		StoreDefaultImage: m.StoreDefaultImage,
		CompressionLevel:  level,
		Logger:            log,
	}
	if m.DefaultImage != "" {
		img, err := decodeFile(m.DefaultImage)
		if err != nil {
			return fmt.Errorf("enc: default image: %w", err)
		}
		opts.DefaultImage = img
	}

	enc := apng.NewEncoder(m.LoopCount, opts)
	for i, f := range m.Frames {
		img, err := decodeFile(f.File)
		if err != nil {
			return fmt.Errorf("enc: %w", err)
		}
		dispose, _ := animation.ParseDisposeMethod(f.Dispose)
		blend, _ := animation.ParseBlendMethod(f.Blend)
		if err := enc.AddFrame(img, m.FrameDuration(i), dispose, blend); err != nil {
			return fmt.Errorf("enc: frame %d (%s): %w", i, f.File, err)
		}
	}
	return finishEncode(enc, outputPath)
}

func finishEncode(enc *apng.Encoder, outputPath string) error {
	n := enc.NumFrames()
	data, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("enc: %w", err)
	}
	err = writeOutput(outputPath, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return err
	}
	if outputPath != "-" {
		fmt.Fprintf(os.Stderr, "Encoded %s (%d frames, %d bytes)\n", outputPath, n, len(data))
	}
	return nil
}

// gifDispose maps GIF disposal codes onto APNG dispose methods.
func gifDispose(d byte) animation.DisposeMethod {
	switch d {
	case gif.DisposalBackground:
		return animation.DisposeBackground
	case gif.DisposalPrevious:
		return animation.DisposePrevious
	}
	return animation.DisposeNone
}

// encodeGIF converts an animated GIF. GIF frames are composited onto a
// running canvas and each displayed canvas becomes one full APNG frame.
func encodeGIF(data []byte, outputPath string, opts *apng.EncoderOptions, log *slog.Logger) error {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("enc: decoding GIF: %w", err)
	}
	if len(g.Image) == 0 {
		return fmt.Errorf("enc: GIF has no frames")
	}

	canvasW, canvasH := g.Config.Width, g.Config.Height
	if canvasW == 0 || canvasH == 0 {
		canvasW = g.Image[0].Bounds().Dx()
		canvasH = g.Image[0].Bounds().Dy()
	}
	canvas := animation.NewCanvas(canvasW, canvasH)
	defer canvas.Release()

	// GIF counts restarts: -1 plays once, n > 0 plays n+1 times.
	loop := g.LoopCount
	switch {
	case loop < 0:
		loop = 1
	case loop > 0:
		loop++
	}
	enc := apng.NewEncoder(loop, opts)

	for i, frame := range g.Image {
		b := frame.Bounds()
		var disposal byte
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		f := &animation.Frame{
			Image:   frame,
			OffsetX: b.Min.X,
			OffsetY: b.Min.Y,
			Width:   b.Dx(),
			Height:  b.Dy(),
			Dispose: gifDispose(disposal),
			Blend:   animation.BlendOver,
		}
		canvas.Draw(f)
		snap := image.NewRGBA(canvas.Image().Bounds())
		copy(snap.Pix, canvas.Image().Pix)
		canvas.Dispose(f)

		delay := 100 * time.Millisecond
		if i < len(g.Delay) && g.Delay[i] > 0 {
			delay = time.Duration(g.Delay[i]) * 10 * time.Millisecond
		}
		if err := enc.AddFrame(snap, delay, apng.DisposeNone, apng.BlendSource); err != nil {
			return fmt.Errorf("enc: frame %d: %w", i, err)
		}
		log.Debug("gapng: gif frame", "index", i, "bounds", b, "disposal", disposal, "delay", delay)
	}
	return finishEncode(enc, outputPath)
}

// --- dec ---

func runDec(args []string, log *slog.Logger) error {
	fs := flag.NewFlagSet("dec", flag.ContinueOnError)
	output := fs.String("o", "", `output path (default: <input>.gif for animations, else .png; "-" for stdout)`)
	fmtFlag := fs.String("fmt", "", "output format: png/jpeg/gif/bmp/tiff/webp (default: from extension)")
	frame := fs.Int("frame", -1, "decode only this frame, composited as displayed")
	framesDir := fs.String("frames", "", "write every composited frame into this directory")
	quality := fs.Int("q", 90, "quality for JPEG and lossy WebP")
	lossless := fs.Bool("lossless", false, "lossless WebP")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("dec: missing input file\nUsage: gapng dec [options] <input>")
	}
	inputPath := fs.Arg(0)

	data, err := readInput(inputPath)
	if err != nil {
		return fmt.Errorf("dec: reading input: %w", err)
	}
	d, err := openDecoder(data, log)
	if err != nil {
		return fmt.Errorf("dec: %w", err)
	}
	copts := &codec.Options{Quality: *quality, Lossless: *lossless}

	if *framesDir != "" {
		t, err := outputType(*fmtFlag, "")
		if err != nil {
			return fmt.Errorf("dec: %w", err)
		}
		return decodeFrames(d, *framesDir, t, copts)
	}

	// Animations become GIFs unless a single frame or another format was
	// asked for.
	asGIF := d.FrameCount() > 1 && *frame < 0
	switch {
	case *fmtFlag != "":
		asGIF = asGIF && strings.EqualFold(*fmtFlag, "gif")
	case *output != "" && *output != "-":
		asGIF = asGIF && strings.EqualFold(filepath.Ext(*output), ".gif")
	}
	if asGIF {
		out := *output
		if out == "" {
			out = outputName(inputPath, ".gif")
		}
		if err := writeOutput(out, func(w io.Writer) error { return encodeAnimatedGIF(w, d) }); err != nil {
			return fmt.Errorf("dec: %w", err)
		}
		if out != "-" {
			fmt.Fprintf(os.Stderr, "Decoded %s → %s (%d frames)\n", inputPath, out, d.FrameCount())
		}
		return nil
	}

	index := max(*frame, 0)
	img, err := d.Render(index, true)
	if err != nil {
		return fmt.Errorf("dec: %w", err)
	}
	t, err := outputType(*fmtFlag, *output)
	if err != nil {
		return fmt.Errorf("dec: %w", err)
	}
	out := *output
	if out == "" {
		out = outputName(inputPath, "."+t.Extension())
	}
	if err := writeOutput(out, func(w io.Writer) error { return codec.Encode(w, img, t, copts) }); err != nil {
		return fmt.Errorf("dec: %w", err)
	}
	if out != "-" {
		fmt.Fprintf(os.Stderr, "Decoded %s → %s\n", inputPath, out)
	}
	return nil
}

// openDecoder decodes data as a finished stream. A truncated stream is
// accepted when at least one frame is usable.
func openDecoder(data []byte, log *slog.Logger) (*apng.Decoder, error) {
	d, err := apng.Open(nil, &apng.Config{Logger: log})
	if err != nil {
		return nil, err
	}
	err = d.Update(data, true)
	switch {
	case err == nil:
	case errors.Is(err, apng.ErrTruncatedContainer) && d.FrameCount() > 0:
		log.Warn("gapng: input is truncated", "frames", d.FrameCount())
	default:
		return nil, err
	}
	if d.FrameCount() == 0 {
		if e := d.Err(); e != nil {
			return nil, e
		}
		return nil, apng.ErrNoFrames
	}
	if e := d.Err(); e != nil {
		log.Warn("gapng: damaged input", "frames", d.FrameCount(), "error", e)
	}
	return d, nil
}

// outputType picks the output format from -fmt, then the output extension,
// then PNG.
func outputType(fmtFlag, outputPath string) (codec.Type, error) {
	if fmtFlag != "" {
		return codec.ParseType(strings.ToLower(fmtFlag))
	}
	if outputPath != "" && outputPath != "-" {
		if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(outputPath)), "."); ext != "" {
			if t, err := codec.ParseType(ext); err == nil {
				return t, nil
			}
		}
	}
	return codec.PNG, nil
}

func decodeFrames(d *apng.Decoder, dir string, t codec.Type, opts *codec.Options) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("dec: %w", err)
	}
	for i := 0; i < d.FrameCount(); i++ {
		img, err := d.Render(i, true)
		if err != nil {
			return fmt.Errorf("dec: %w", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("frame_%03d.%s", i, t.Extension()))
		if err := writeOutput(path, func(w io.Writer) error { return codec.Encode(w, img, t, opts) }); err != nil {
			return fmt.Errorf("dec: frame %d: %w", i, err)
		}
	}
	fmt.Fprintf(os.Stderr, "Decoded %d frames → %s\n", d.FrameCount(), dir)
	return nil
}

func encodeAnimatedGIF(w io.Writer, d *apng.Decoder) error {
	// acTL counts plays, GIF counts restarts.
	g := &gif.GIF{}
	switch plays := d.LoopCount(); plays {
	case 0:
	case 1:
		g.LoopCount = -1
	default:
		g.LoopCount = plays - 1
	}
	for i := 0; i < d.FrameCount(); i++ {
		frame, err := d.Render(i, true)
		if err != nil {
			return err
		}
		// Quantize to paletted image using Plan9 palette + Floyd-Steinberg dithering.
		b := frame.Bounds()
		paletted := image.NewPaletted(b, palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, b, frame, b.Min)
		g.Image = append(g.Image, paletted)

		// GIF delay is in 1/100th of a second.
		delay := int(d.FrameDuration(i) / (10 * time.Millisecond))
		if delay < 1 {
			delay = 10
		}
		g.Delay = append(g.Delay, delay)
	}
	return gif.EncodeAll(w, g)
}

// --- info ---

// textChunk is the tEXt chunk type; the first one is shown by info.
var textChunk = mux.ChunkID('t'<<24 | 'E'<<16 | 'X'<<8 | 't')

func runInfo(args []string, log *slog.Logger) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	listChunks := fs.Bool("chunks", false, "list every chunk")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("info: missing input file\nUsage: gapng info [-chunks] <input>")
	}
	inputPath := fs.Arg(0)
	data, err := readInput(inputPath)
	if err != nil {
		return err
	}

	name := inputPath
	if inputPath == "-" {
		name = "<stdin>"
	}
	fmt.Printf("File:       %s\n", name)

	t := codec.DetectType(data)
	if t != codec.PNG {
		fmt.Printf("Format:     %s\n", t)
		img, _, err := codec.Decode(data)
		if err != nil {
			return fmt.Errorf("info: %w", err)
		}
		b := img.Bounds()
		fmt.Printf("Dimensions: %d x %d\n", b.Dx(), b.Dy())
		fmt.Printf("File size:  %d bytes\n", len(data))
		return nil
	}

	d, err := apng.Open(nil, &apng.Config{Logger: log})
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}
	if err := d.Update(data, true); err != nil && !errors.Is(err, apng.ErrTruncatedContainer) {
		return fmt.Errorf("info: %w", err)
	}
	info := d.Info()
	if info == nil {
		return fmt.Errorf("info: %w", apng.ErrIncompleteContainer)
	}

	format := "png"
	if info.Animated {
		format = "apng"
	}
	fmt.Printf("Format:     %s\n", format)
	fmt.Printf("Dimensions: %d x %d\n", info.Header.Width, info.Header.Height)
	fmt.Printf("Color:      type %d, %d-bit\n", info.Header.ColorType, info.Header.BitDepth)
	fmt.Printf("Alpha:      %v\n", info.HasTransparency())
	fmt.Printf("Chunks:     %d\n", len(info.Chunks))
	if info.Animated {
		fmt.Printf("Frames:     %d (declared %d)\n", d.FrameCount(), info.DeclaredFrames)
		loop := "infinite"
		if info.LoopCount > 0 {
			loop = fmt.Sprintf("%d", info.LoopCount)
		}
		fmt.Printf("Loop count: %s\n", loop)
		fmt.Printf("Cover:      %v\n", info.FirstFrameIsCover)
		for i := 0; i < d.FrameCount(); i++ {
			fc, err := d.Frame(i)
			if err != nil {
				return fmt.Errorf("info: %w", err)
			}
			fmt.Printf("  frame %d: %dx%d+%d+%d %v dispose=%v blend=%v\n", i,
				fc.Width, fc.Height, fc.XOffset, fc.YOffset, fc.Delay(),
				animation.DisposeMethod(fc.DisposeOp), animation.BlendMethod(fc.BlendOp))
		}
	}
	if c, err := info.GetChunk(data, textChunk); err == nil {
		if keyword, text, ok := bytes.Cut(c.Data, []byte{0}); ok {
			fmt.Printf("Text:       %s: %s\n", keyword, text)
		}
	}
	if *listChunks {
		for _, rec := range info.Chunks {
			mark := ""
			if rec.Corrupt {
				mark = " (bad CRC)"
			}
			fmt.Printf("  %-4s @%d len=%d%s\n", mux.FourCCString(rec.FourCC), rec.Offset, rec.Length, mark)
		}
	}
	fmt.Printf("File size:  %d bytes\n", len(data))
	if err := d.Err(); err != nil {
		fmt.Printf("Errors:     %v\n", err)
	}
	return nil
}
