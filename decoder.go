package apng

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/deepteams/apng/animation"
	"github.com/deepteams/apng/internal/container"
	"github.com/deepteams/apng/internal/pool"
	"github.com/deepteams/apng/mux"
)

// State is the lifecycle stage of a Decoder.
type State int

const (
	// StateEmpty: no bytes have been supplied.
	StateEmpty State = iota
	// StateScanning: bytes are buffered but the header is not known yet.
	StateScanning
	// StateHeaderKnown: the IHDR chunk was parsed; frames appear as their
	// data arrives.
	StateHeaderKnown
	// StateFinalized: the last Update was final. The structure is immutable.
	StateFinalized
	// StateFailed: a fatal malformation was found. Every Update returns it.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateScanning:
		return "scanning"
	case StateHeaderKnown:
		return "header-known"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Decoder decodes an APNG (or plain PNG) whose bytes arrive incrementally.
// It is safe for concurrent use: Update is serialized, and Render decodes
// frames without holding the lock so slow pixel decoding does not block
// metadata queries.
type Decoder struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	state  State
	buf    []byte
	chunks []container.ChunkRecord
	next   int  // scan resume offset
	done   bool // IEND recorded
	info   *mux.Info
	frames []animation.Frame // metadata for info's frames

	fatal    error // set with StateFailed
	buildErr error // last structure error; frames before it stay usable
	checkErr error // checksum errors seen by the scanner
	truncErr error // final update without IEND
}

// Open returns a Decoder primed with initial, which may be empty. cfg may
// be nil. A malformed initial buffer is reported immediately.
func Open(initial []byte, cfg *Config) (*Decoder, error) {
	d := &Decoder{}
	if cfg != nil {
		d.cfg = *cfg
	}
	d.cfg.defaults()
	d.log = d.cfg.Logger
	if len(initial) > 0 {
		if err := d.Update(initial, false); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Update appends p to the buffered stream and indexes any chunks it
// completes. final marks the end of the stream: the last chunk must then be
// IEND, otherwise ErrTruncatedContainer is returned. The Decoder is
// finalized either way and later updates fail with ErrDataAlreadyFinalized.
//
// A stream that is still incomplete is not an error. Checksum, sequence and
// frame-level errors are recorded and reported by Err and by Render of the
// frames they affect.
func (d *Decoder) Update(p []byte, final bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(p, final)
}

// UpdateAll is the whole-buffer form of Update: all must begin with every
// byte supplied so far. Passing the same bytes again is a no-op.
func (d *Decoder) UpdateAll(all []byte, final bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(all) < len(d.buf) || !bytes.Equal(all[:len(d.buf)], d.buf) {
		if d.state == StateFailed {
			return d.fatal
		}
		if d.state == StateFinalized {
			return ErrDataAlreadyFinalized
		}
		return ErrDataMismatch
	}
	return d.update(all[len(d.buf):], final)
}

func (d *Decoder) update(p []byte, final bool) error {
	switch d.state {
	case StateFailed:
		return d.fatal
	case StateFinalized:
		return ErrDataAlreadyFinalized
	}
	if lim := d.cfg.MaxDataSize; lim > 0 && int64(len(d.buf))+int64(len(p)) > lim {
		return fmt.Errorf("%w: %d bytes", ErrDataTooLarge, int64(len(d.buf))+int64(len(p)))
	}

	d.buf = append(d.buf, p...)
	if d.state == StateEmpty && len(d.buf) > 0 {
		d.state = StateScanning
	}

	if !d.done && len(p) > 0 {
		if err := d.scan(); err != nil {
			return err
		}
	}

	if final {
		d.state = StateFinalized
		if !d.done {
			d.truncErr = fmt.Errorf("%w: %d bytes, last complete chunk ends at %d", ErrTruncatedContainer, len(d.buf), d.next)
			return d.truncErr
		}
	}
	return nil
}

// scan indexes new chunks and rebuilds the structure when any were added.
func (d *Decoder) scan() error {
	res, err := container.Scan(d.buf, d.next, d.cfg.MaxDataSize)
	d.chunks = append(d.chunks, res.Chunks...)
	d.next = res.Next
	d.done = d.done || res.Done
	if res.Checksum != nil {
		d.checkErr = errors.Join(d.checkErr, res.Checksum)
		d.log.Warn("apng: chunk checksum mismatch", "error", res.Checksum)
	}
	if err != nil {
		return d.fail(err)
	}
	if len(res.Chunks) == 0 {
		return nil
	}
	d.log.Debug("apng: scanned chunks", "added", len(res.Chunks), "total", len(d.chunks), "next", d.next)
	return d.rebuild()
}

func (d *Decoder) rebuild() error {
	info, err := mux.Build(d.buf, d.chunks)
	if info == nil {
		if errors.Is(err, mux.ErrIncomplete) {
			return nil
		}
		return d.fail(err)
	}
	if d.info == nil || info.NumFrames() >= d.info.NumFrames() {
		d.info = info
		d.frames = animation.FramesOf(info)
	}
	d.state = StateHeaderKnown

	if err != nil && (d.buildErr == nil || err.Error() != d.buildErr.Error()) {
		if errors.Is(err, ErrChecksum) || errors.Is(err, ErrSequence) {
			d.log.Warn("apng: frame structure error", "frames", info.NumFrames(), "error", err)
		} else {
			d.log.Debug("apng: frame structure error", "frames", info.NumFrames(), "error", err)
		}
	}
	d.buildErr = err
	return nil
}

func (d *Decoder) fail(err error) error {
	d.state = StateFailed
	d.fatal = err
	d.log.Debug("apng: decoder failed", "error", err)
	return err
}

// State returns the current lifecycle stage.
func (d *Decoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Finalized reports whether a final Update has been applied.
func (d *Decoder) Finalized() bool {
	return d.State() == StateFinalized
}

// Err returns the first recorded structure error, or else the recorded
// checksum errors, or else the truncation error. It is nil for a clean
// stream, complete or not.
func (d *Decoder) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.fatal != nil:
		return d.fatal
	case d.buildErr != nil:
		return d.buildErr
	case d.checkErr != nil:
		return d.checkErr
	}
	return d.truncErr
}

// Info returns the current container structure, or nil before the header
// is known. The returned value must not be modified.
func (d *Decoder) Info() *mux.Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// FrameCount returns the number of frames that can currently be rendered.
// It never decreases as more data arrives.
func (d *Decoder) FrameCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

// LoopCount returns the acTL play count; 0 means loop forever.
func (d *Decoder) LoopCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.info == nil {
		return 0
	}
	return d.info.LoopCount
}

// CanvasSize returns the IHDR dimensions, or zeros before the header is known.
func (d *Decoder) CanvasSize() (width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.info == nil {
		return 0, 0
	}
	return int(d.info.Header.Width), int(d.info.Header.Height)
}

// FrameDuration returns the display time of frame i, or 0 when i is not a
// renderable frame.
func (d *Decoder) FrameDuration(i int) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.frames) {
		return 0
	}
	return d.frames[i].Duration
}

// Frame returns the control block of frame i. A plain PNG reports one
// full-canvas frame with a zero delay.
func (d *Decoder) Frame(i int) (FrameControl, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkIndex(i); err != nil {
		return FrameControl{}, err
	}
	fi, err := d.info.Frame(i)
	if err != nil {
		return FrameControl{}, err
	}
	return fi.Control, nil
}

// checkIndex explains why i is not renderable. The lock must be held.
func (d *Decoder) checkIndex(i int) error {
	if i >= 0 && i < len(d.frames) {
		return nil
	}
	if d.fatal != nil {
		return d.fatal
	}
	outOfRange := i < 0
	if d.info != nil {
		declared := 1
		if d.info.Animated {
			declared = d.info.DeclaredFrames
		}
		outOfRange = outOfRange || i >= declared
	}
	if outOfRange {
		return fmt.Errorf("%w: %d (have %d)", ErrFrameIndexOutOfRange, i, len(d.frames))
	}
	switch {
	case d.buildErr != nil:
		return fmt.Errorf("%w: frame %d: %w", ErrFrameUnavailable, i, d.buildErr)
	case d.truncErr != nil:
		return fmt.Errorf("%w: frame %d: %w", ErrFrameUnavailable, i, d.truncErr)
	case d.state == StateFinalized:
		return fmt.Errorf("%w: frame %d: stream ended after %d frames", ErrFrameUnavailable, i, len(d.frames))
	}
	return fmt.Errorf("%w: frame %d not yet received", ErrIncompleteContainer, i)
}

// snapshot captures what a render needs. The buffer is append-only, so
// the captured slice stays valid after the lock is released.
type snapshot struct {
	info   *mux.Info
	data   []byte
	frames []animation.Frame
}

func (d *Decoder) snapshot(i int) (snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkIndex(i); err != nil {
		return snapshot{}, err
	}
	return snapshot{info: d.info, data: d.buf, frames: d.frames[:i+1]}, nil
}

// Render decodes frame i. With forDisplay set, the result is the full canvas
// as shown while frame i is on screen: earlier frames are composited and
// disposed as needed. Without it, the result is frame i's own pixels at its
// own size; its placement is reported by Frame.
//
// A frame that cannot be decoded yields a *FrameDecodeError, which matches
// ErrFrameDecodeFailed and, for a corrupt chunk, ErrChecksum. Frames past a
// recorded structure error fail with ErrFrameUnavailable. Each call uses its
// own canvas, so concurrent renders do not interfere.
func (d *Decoder) Render(i int, forDisplay bool) (image.Image, error) {
	s, err := d.snapshot(i)
	if err != nil {
		return nil, err
	}
	decode := func(j int) (image.Image, error) {
		return d.decodeFrame(s, j)
	}
	if !forDisplay {
		img, err := decode(i)
		if err != nil {
			return nil, &FrameDecodeError{Index: i, Err: err}
		}
		return img, nil
	}
	w, h := int(s.info.Header.Width), int(s.info.Header.Height)
	return animation.Render(w, h, s.frames, i, decode)
}

// decodeFrame reassembles frame j as a standalone PNG in a pooled buffer
// and hands it to the pixel decoder.
func (d *Decoder) decodeFrame(s snapshot, j int) (image.Image, error) {
	fi, err := s.info.Frame(j)
	if err != nil {
		return nil, err
	}
	buf := pool.Get(s.info.StreamSize(fi))
	stream, err := s.info.AppendFrameStream(buf[:0], s.data, j)
	if err != nil {
		pool.Put(buf)
		return nil, err
	}
	img, err := d.cfg.DecodeFrame(stream)
	pool.Put(stream)
	return img, err
}

// DefaultImage decodes the image a plain PNG decoder would show. For a
// file whose first frame is the cover this is frame 0's own bitmap.
func (d *Decoder) DefaultImage() (image.Image, error) {
	d.mu.Lock()
	info, data, fatal := d.info, d.buf, d.fatal
	d.mu.Unlock()
	if fatal != nil {
		return nil, fatal
	}
	if info == nil {
		return nil, ErrIncompleteContainer
	}
	buf := pool.Get(info.StreamSize(info.Default))
	stream, err := info.AppendDefaultStream(buf[:0], data)
	if err != nil {
		pool.Put(buf)
		return nil, err
	}
	img, err := d.cfg.DecodeFrame(stream)
	pool.Put(stream)
	if err != nil {
		return nil, &FrameDecodeError{Index: -1, Err: err}
	}
	return img, nil
}
