package mux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/deepteams/apng/internal/container"
)

// FrameOptions specifies per-frame parameters for an APNG frame.
type FrameOptions struct {
	Delay   time.Duration
	OffsetX int
	OffsetY int
	Dispose DisposeOp
	Blend   BlendOp
}

// rawChunk is a chunk taken from a single-frame PNG stream.
type rawChunk struct {
	id   ChunkID
	data []byte
}

// muxImage is a single-frame PNG stream split into the parts the muxer
// needs. Slices point into the caller's stream.
type muxImage struct {
	header    container.Header
	ancillary []rawChunk // chunks before the first IDAT (PLTE, tRNS, gAMA, ...)
	idat      [][]byte
}

type muxFrame struct {
	img  muxImage
	opts FrameOptions
}

// Muxer assembles an APNG file from single-frame PNG streams.
type Muxer struct {
	frames       []muxFrame
	defaultImage *muxImage
	storeDefault bool
	loopCount    uint32
}

const maxLoopCount = container.MaxLoopCount

var (
	ErrNoFrames                = errors.New("mux: no frames to assemble")
	ErrFrameEmpty              = errors.New("mux: frame data is empty")
	ErrNoImageData             = errors.New("mux: frame stream has no IDAT chunk")
	ErrInconsistentFrameSize   = errors.New("mux: inconsistent frame size")
	ErrInconsistentFrameFormat = errors.New("mux: inconsistent frame pixel format")
)

// NewMuxer creates a new Muxer.
func NewMuxer() *Muxer {
	return &Muxer{}
}

// SetLoopCount sets the animation loop count (0 = infinite).
// Values are clamped to [0, 2^32-1].
func (m *Muxer) SetLoopCount(count int) {
	m.loopCount = uint32(max(0, min(int64(count), maxLoopCount)))
}

// SetStoreDefaultImage controls whether a separate default image precedes
// the animation. When false, frame 0 is written as the IDAT cover image.
func (m *Muxer) SetStoreDefaultImage(store bool) {
	m.storeDefault = store
}

// SetDefaultImage sets the PNG stream shown by decoders without APNG
// support. It implies SetStoreDefaultImage(true). Without it, a stored
// default image repeats frame 0.
func (m *Muxer) SetDefaultImage(pngStream []byte) error {
	img, err := splitStream(pngStream)
	if err != nil {
		return fmt.Errorf("default image: %w", err)
	}
	m.defaultImage = &img
	m.storeDefault = true
	return nil
}

// AddFrame adds a frame. pngStream is a complete single-frame PNG file.
// opts may be nil for a full-canvas frame with no delay.
func (m *Muxer) AddFrame(pngStream []byte, opts *FrameOptions) error {
	img, err := splitStream(pngStream)
	if err != nil {
		return fmt.Errorf("frame %d: %w", len(m.frames), err)
	}
	fo := FrameOptions{}
	if opts != nil {
		fo = *opts
	}
	if fo.Delay < 0 {
		fo.Delay = 0
	}
	m.frames = append(m.frames, muxFrame{img: img, opts: fo})
	return nil
}

// SetFrameDispose updates the dispose op of an already-added frame.
func (m *Muxer) SetFrameDispose(index int, op DisposeOp) {
	if index >= 0 && index < len(m.frames) {
		m.frames[index].opts.Dispose = op
	}
}

// SetFrameDelay updates the delay of an already-added frame.
func (m *Muxer) SetFrameDelay(index int, d time.Duration) {
	if index >= 0 && index < len(m.frames) && d >= 0 {
		m.frames[index].opts.Delay = d
	}
}

// FrameDelay returns the delay of the frame at the given 0-based index.
// Returns 0 if the index is out of range.
func (m *Muxer) FrameDelay(index int) time.Duration {
	if index >= 0 && index < len(m.frames) {
		return m.frames[index].opts.Delay
	}
	return 0
}

// NumFrames returns the number of frames added so far.
func (m *Muxer) NumFrames() int {
	return len(m.frames)
}

// splitStream scans a single-frame PNG stream and picks out its header,
// its ancillary chunks and its IDAT payloads.
func splitStream(pngStream []byte) (muxImage, error) {
	if len(pngStream) == 0 {
		return muxImage{}, ErrFrameEmpty
	}
	res, err := container.Scan(pngStream, 0, int64(len(pngStream)))
	if err != nil {
		return muxImage{}, err
	}
	if res.Checksum != nil {
		return muxImage{}, res.Checksum
	}
	if len(res.Chunks) == 0 || res.Chunks[0].FourCC != FourCCIHDR {
		return muxImage{}, fmt.Errorf("%w: stream does not start with IHDR", container.ErrMalformed)
	}

	var img muxImage
	img.header, err = container.ParseHeader(res.Chunks[0].Payload(pngStream))
	if err != nil {
		return muxImage{}, err
	}
	for _, rec := range res.Chunks[1:] {
		switch {
		case rec.FourCC == FourCCIDAT:
			img.idat = append(img.idat, rec.Payload(pngStream))
		case rec.FourCC == FourCCIEND:
		case container.IsStructural(rec.FourCC):
			return muxImage{}, fmt.Errorf("%w: unexpected %s chunk in a single-frame stream",
				container.ErrMalformed, FourCCString(rec.FourCC))
		case len(img.idat) == 0:
			img.ancillary = append(img.ancillary, rawChunk{id: rec.FourCC, data: rec.Payload(pngStream)})
		}
	}
	if len(img.idat) == 0 {
		return muxImage{}, ErrNoImageData
	}
	return img, nil
}

// canvasSize returns the first frame's size.
func (m *Muxer) canvasSize() (int, int) {
	if len(m.frames) == 0 {
		return 0, 0
	}
	h := m.frames[0].img.header
	return int(h.Width), int(h.Height)
}

// validate checks the muxer state for consistency before assembling.
func (m *Muxer) validate() error {
	if len(m.frames) == 0 {
		return ErrNoFrames
	}
	canvasW, canvasH := m.canvasSize()
	first := m.frames[0].img
	for i, f := range m.frames {
		if !f.img.header.SameFormat(first.header) {
			return fmt.Errorf("%w: frame %d has color type %d depth %d, want color type %d depth %d",
				ErrInconsistentFrameFormat, i, f.img.header.ColorType, f.img.header.BitDepth,
				first.header.ColorType, first.header.BitDepth)
		}
		if i > 0 && !samePalette(first, f.img) {
			return fmt.Errorf("%w: frame %d PLTE or tRNS differs from frame 0", ErrInconsistentFrameFormat, i)
		}
		fw, fh := int(f.img.header.Width), int(f.img.header.Height)
		if f.opts.OffsetX < 0 || f.opts.OffsetY < 0 ||
			f.opts.OffsetX+fw > canvasW || f.opts.OffsetY+fh > canvasH {
			return fmt.Errorf("%w: frame %d (%dx%d at %d,%d) exceeds canvas (%dx%d)",
				ErrInconsistentFrameSize, i, fw, fh, f.opts.OffsetX, f.opts.OffsetY, canvasW, canvasH)
		}
	}
	if m.storeDefault {
		def := m.defaultImg()
		if int(def.header.Width) != canvasW || int(def.header.Height) != canvasH {
			return fmt.Errorf("%w: default image %dx%d, canvas %dx%d",
				ErrInconsistentFrameSize, def.header.Width, def.header.Height, canvasW, canvasH)
		}
		if !def.header.SameFormat(first.header) {
			return fmt.Errorf("%w: default image format differs from frame 0", ErrInconsistentFrameFormat)
		}
		if !samePalette(first, def) {
			return fmt.Errorf("%w: default image PLTE or tRNS differs from frame 0", ErrInconsistentFrameFormat)
		}
	} else {
		f := m.frames[0]
		if f.opts.OffsetX != 0 || f.opts.OffsetY != 0 ||
			int(f.img.header.Width) != canvasW || int(f.img.header.Height) != canvasH {
			return fmt.Errorf("%w: frame 0 must cover the canvas when it is the default image", ErrInconsistentFrameSize)
		}
	}
	return nil
}

func (m *Muxer) defaultImg() muxImage {
	if m.defaultImage != nil {
		return *m.defaultImage
	}
	return m.frames[0].img
}

// samePalette reports whether two images share PLTE and tRNS. Only frame
// 0's copies are written, so any difference would change the other's pixels.
func samePalette(a, b muxImage) bool {
	for _, id := range []ChunkID{FourCCPLTE, FourCCtRNS} {
		if !bytes.Equal(findChunk(a.ancillary, id), findChunk(b.ancillary, id)) {
			return false
		}
	}
	return true
}

func findChunk(chunks []rawChunk, id ChunkID) []byte {
	for _, c := range chunks {
		if c.id == id {
			return c.data
		}
	}
	return nil
}

// Assemble writes the complete APNG file to w. Sequence numbers are
// assigned densely from 0 across every fcTL and fdAT chunk, and every
// chunk's CRC is computed on emission.
func (m *Muxer) Assemble(w io.Writer) error {
	if err := m.validate(); err != nil {
		return err
	}
	canvasW, canvasH := m.canvasSize()

	if _, err := w.Write(container.Signature[:]); err != nil {
		return fmt.Errorf("mux: writing signature: %w", err)
	}

	hdr := m.frames[0].img.header
	hdr.Width = uint32(canvasW)
	hdr.Height = uint32(canvasH)
	if err := container.WriteChunk(w, FourCCIHDR, hdr.Bytes()); err != nil {
		return err
	}

	// Ancillary chunks of frame 0 are shared by all frames.
	for _, c := range m.frames[0].img.ancillary {
		if err := container.WriteChunk(w, c.id, c.data); err != nil {
			return err
		}
	}

	actl := container.AnimControl{NumFrames: uint32(len(m.frames)), NumPlays: m.loopCount}
	if err := container.WriteChunk(w, FourCCacTL, actl.Bytes()); err != nil {
		return err
	}

	if m.storeDefault {
		for _, p := range m.defaultImg().idat {
			if err := container.WriteChunk(w, FourCCIDAT, p); err != nil {
				return err
			}
		}
	}

	var seq uint32
	var fdat []byte
	for i, f := range m.frames {
		num, den := container.DelayFraction(f.opts.Delay)
		fc := container.FrameControl{
			SequenceNumber: seq,
			Width:          f.img.header.Width,
			Height:         f.img.header.Height,
			XOffset:        uint32(f.opts.OffsetX),
			YOffset:        uint32(f.opts.OffsetY),
			DelayNum:       num,
			DelayDen:       den,
			DisposeOp:      f.opts.Dispose,
			BlendOp:        f.opts.Blend,
		}
		seq++
		if err := container.WriteChunk(w, FourCCfcTL, fc.Bytes()); err != nil {
			return err
		}

		if i == 0 && !m.storeDefault {
			for _, p := range f.img.idat {
				if err := container.WriteChunk(w, FourCCIDAT, p); err != nil {
					return err
				}
			}
			continue
		}
		for _, p := range f.img.idat {
			fdat = append(fdat[:0], 0, 0, 0, 0)
			container.PutBE32(fdat, seq)
			fdat = append(fdat, p...)
			seq++
			if err := container.WriteChunk(w, FourCCfdAT, fdat); err != nil {
				return err
			}
		}
	}

	return container.WriteChunk(w, FourCCIEND, nil)
}
