package mux

import (
	"errors"
	"fmt"

	"github.com/deepteams/apng/internal/container"
)

// FrameInfo holds the control block and data location of one animation
// frame.
type FrameInfo struct {
	Control      container.FrameControl
	ControlIndex int // index of the fcTL chunk, -1 for a still image
	ChunkIndex   int // first data chunk (IDAT or fdAT)
	ChunkNum     int // number of contiguous data chunks
	Size         int // total image data bytes, excluding fdAT sequence numbers
	Corrupt      bool
}

// Info is the structure of a PNG or APNG container built from its chunk
// records. It refers to the records and the byte buffer by index and never
// copies payloads.
type Info struct {
	Header container.Header
	Chunks []container.ChunkRecord

	// Animated is set when an acTL chunk precedes the image data.
	Animated       bool
	DeclaredFrames int // acTL num_frames
	LoopCount      int // acTL num_plays, 0 = infinite
	Frames         []FrameInfo

	Shared []int // ancillary chunks before the first data chunk
	Other  []int // ancillary chunks after the image data begins

	// Default is the IDAT run that makes up the image a plain PNG decoder
	// shows. DefaultDone is set once a following chunk terminates the run.
	Default     FrameInfo
	DefaultDone bool

	// FirstFrameIsCover is set when the first fcTL precedes the IDAT run, so
	// the default image doubles as frame 0.
	FirstFrameIsCover bool

	// Complete is set once IEND has been classified.
	Complete bool
}

// maxFrames is the maximum number of animation frames accepted to bound
// memory on hostile inputs.
const maxFrames = 1 << 20

var (
	ErrIncomplete    = errors.New("mux: incomplete container")
	ErrSequence      = errors.New("mux: sequence number out of order")
	ErrFrameOutRange = errors.New("mux: frame index out of range")
	ErrChunkNotFound = errors.New("mux: chunk not found")
)

// SequenceError reports an fcTL or fdAT chunk whose sequence number breaks
// the dense 0,1,2,... ordering.
type SequenceError struct {
	Frame  int    // frame being built when the gap was found
	FourCC uint32 // fcTL or fdAT
	Want   uint32
	Got    uint32
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("mux: frame %d: %s sequence number %d, want %d",
		e.Frame, container.FourCCString(e.FourCC), e.Got, e.Want)
}

// Unwrap lets errors.Is match ErrSequence.
func (e *SequenceError) Unwrap() error { return ErrSequence }

// NumFrames returns the number of frames that can be rendered. A still PNG
// counts its default image once the IDAT run is complete.
func (in *Info) NumFrames() int {
	if in.Animated {
		return len(in.Frames)
	}
	if in.DefaultDone {
		return 1
	}
	return 0
}

// Frame returns frame info for the given 0-based index. For a still PNG,
// index 0 is the default image covering the whole canvas.
func (in *Info) Frame(index int) (FrameInfo, error) {
	if index < 0 || index >= in.NumFrames() {
		return FrameInfo{}, fmt.Errorf("%w: %d (have %d)", ErrFrameOutRange, index, in.NumFrames())
	}
	if in.Animated {
		return in.Frames[index], nil
	}
	return in.Default, nil
}

// GetChunk returns the first chunk with the given ID.
func (in *Info) GetChunk(data []byte, id ChunkID) (Chunk, error) {
	for _, rec := range in.Chunks {
		if rec.FourCC == id {
			return chunkAt(data, rec), nil
		}
	}
	return Chunk{}, fmt.Errorf("%w: %s", ErrChunkNotFound, FourCCString(id))
}

// HasTransparency reports whether the image format can carry transparent
// pixels: an alpha channel or a tRNS chunk.
func (in *Info) HasTransparency() bool {
	if in.Header.HasAlpha() {
		return true
	}
	for _, i := range in.Shared {
		if in.Chunks[i].FourCC == FourCCtRNS {
			return true
		}
	}
	return false
}

// builder walks chunk records once, classifying each of them.
type builder struct {
	data []byte
	info *Info

	seq       uint32 // next expected sequence number
	seenData  bool   // an IDAT or fdAT has been seen
	acTL      bool
	pending   *FrameInfo
	idatStart int
	idatDone  bool
}

// Build classifies chunks into a container Info. It is a pure function of
// its inputs and can be called again on a longer record list.
//
// The returned Info is non-nil whenever the IHDR chunk was parsed, even if
// an error is also returned: frames classified before a checksum, sequence
// or frame-level malformation remain usable. A nil Info means the header
// itself is unusable.
func Build(data []byte, chunks []container.ChunkRecord) (*Info, error) {
	if len(chunks) == 0 {
		return nil, ErrIncomplete
	}
	first := chunks[0]
	if first.FourCC != FourCCIHDR {
		return nil, fmt.Errorf("%w: first chunk is %s, want IHDR", container.ErrMalformed, FourCCString(first.FourCC))
	}
	if first.Corrupt {
		return nil, fmt.Errorf("%w: IHDR checksum mismatch", container.ErrMalformed)
	}
	hdr, err := container.ParseHeader(first.Payload(data))
	if err != nil {
		return nil, err
	}

	b := &builder{
		data:      data,
		info:      &Info{Header: hdr, Chunks: chunks},
		idatStart: -1,
	}
	b.info.Default = FrameInfo{
		Control: container.FrameControl{
			Width:  hdr.Width,
			Height: hdr.Height,
		},
		ControlIndex: -1,
	}
	for i := 1; i < len(chunks); i++ {
		done, err := b.visit(i, chunks[i])
		if err != nil {
			return b.info, err
		}
		if done {
			break
		}
	}
	return b.info, nil
}

// visit classifies chunk i. It reports done once IEND is reached.
func (b *builder) visit(i int, rec container.ChunkRecord) (bool, error) {
	in := b.info

	// Any chunk other than IDAT ends the IDAT run.
	if rec.FourCC != FourCCIDAT && b.idatStart >= 0 && !b.idatDone {
		b.idatDone = true
		in.DefaultDone = true
	}
	// Any chunk other than the frame's own data terminates a pending frame.
	if b.pending != nil && !b.continuesPending(rec) {
		if err := b.closePending(); err != nil {
			return false, err
		}
	}

	switch rec.FourCC {
	case FourCCIHDR:
		return false, fmt.Errorf("%w: duplicate IHDR at chunk %d", container.ErrMalformed, i)

	case FourCCacTL:
		if b.acTL || b.seenData {
			// Only an acTL before the image data makes the file animated.
			in.Other = append(in.Other, i)
			return false, nil
		}
		if rec.Corrupt {
			return false, fmt.Errorf("%w: acTL checksum mismatch", container.ErrMalformed)
		}
		ac, err := container.ParseAnimControl(rec.Payload(b.data))
		if err != nil {
			return false, err
		}
		b.acTL = true
		in.Animated = true
		in.DeclaredFrames = int(ac.NumFrames)
		in.LoopCount = int(ac.NumPlays)

	case FourCCfcTL:
		if !in.Animated || len(in.Frames) >= min(in.DeclaredFrames, maxFrames) {
			in.Other = append(in.Other, i)
			return false, nil
		}
		if rec.Corrupt {
			return false, b.checksumErr(rec)
		}
		fc, err := container.ParseFrameControl(rec.Payload(b.data))
		if err != nil {
			return false, fmt.Errorf("frame %d: %w", len(in.Frames), err)
		}
		if err := b.checkSeq(rec.FourCC, fc.SequenceNumber); err != nil {
			return false, err
		}
		if !fc.FitsCanvas(in.Header.Width, in.Header.Height) {
			return false, fmt.Errorf("%w: frame %d region %dx%d+%d+%d outside %dx%d canvas",
				container.ErrMalformed, len(in.Frames), fc.Width, fc.Height, fc.XOffset, fc.YOffset,
				in.Header.Width, in.Header.Height)
		}
		b.pending = &FrameInfo{Control: fc, ControlIndex: i, ChunkIndex: -1}

	case FourCCIDAT:
		if b.idatDone {
			return false, fmt.Errorf("%w: IDAT chunk %d after the IDAT run ended", container.ErrMalformed, i)
		}
		if b.idatStart < 0 {
			b.idatStart = i
			in.Default.ChunkIndex = i
			if b.pending != nil && len(in.Frames) == 0 {
				if !b.pending.Control.IsFullCanvas(in.Header.Width, in.Header.Height) {
					return false, fmt.Errorf("%w: cover frame does not span the canvas", container.ErrMalformed)
				}
				in.FirstFrameIsCover = true
			}
		}
		b.seenData = true
		in.Default.ChunkNum++
		in.Default.Size += int(rec.Length)
		if rec.Corrupt {
			in.Default.Corrupt = true
		}
		if in.FirstFrameIsCover && b.pending != nil {
			b.appendData(i, int(rec.Length))
			if rec.Corrupt {
				return false, b.failPending(rec)
			}
		} else if rec.Corrupt && !in.Animated {
			return false, b.checksumErr(rec)
		}

	case FourCCfdAT:
		if !in.Animated {
			in.Other = append(in.Other, i)
			return false, nil
		}
		if b.pending == nil {
			if len(in.Frames) >= min(in.DeclaredFrames, maxFrames) {
				in.Other = append(in.Other, i)
				return false, nil
			}
			return false, fmt.Errorf("%w: fdAT chunk %d without a frame control", container.ErrMalformed, i)
		}
		if rec.Length < container.SeqNumSize {
			return false, fmt.Errorf("%w: fdAT chunk %d shorter than its sequence number", container.ErrMalformed, i)
		}
		b.seenData = true
		b.appendData(i, int(rec.Length)-container.SeqNumSize)
		if rec.Corrupt {
			return false, b.failPending(rec)
		}
		seq := container.ReadBE32(rec.Payload(b.data))
		if err := b.checkSeq(rec.FourCC, seq); err != nil {
			return false, err
		}

	case FourCCIEND:
		in.Complete = true
		return true, nil

	default:
		if !b.seenData {
			in.Shared = append(in.Shared, i)
		} else {
			in.Other = append(in.Other, i)
		}
		if rec.Corrupt && container.IsCritical(rec.FourCC) {
			return false, b.checksumErr(rec)
		}
	}
	return false, nil
}

// continuesPending reports whether rec extends the pending frame's data run.
func (b *builder) continuesPending(rec container.ChunkRecord) bool {
	switch rec.FourCC {
	case FourCCfdAT:
		return !b.info.FirstFrameIsCover || len(b.info.Frames) > 0
	case FourCCIDAT:
		return len(b.info.Frames) == 0 && !b.idatDone
	}
	// A frame with no data yet is still waiting for its first data chunk;
	// only another fcTL or IEND ends it early.
	return b.pending.ChunkNum == 0 && rec.FourCC != FourCCfcTL && rec.FourCC != FourCCIEND
}

func (b *builder) appendData(i, size int) {
	if b.pending.ChunkIndex < 0 {
		b.pending.ChunkIndex = i
	}
	b.pending.ChunkNum++
	b.pending.Size += size
}

// closePending exposes the pending frame once its data run is terminated.
func (b *builder) closePending() error {
	f := b.pending
	b.pending = nil
	if f.ChunkNum == 0 {
		return fmt.Errorf("%w: frame %d has no image data", container.ErrMalformed, len(b.info.Frames))
	}
	b.info.Frames = append(b.info.Frames, *f)
	return nil
}

// failPending exposes the pending frame flagged corrupt and reports the
// checksum error that stops the walk.
func (b *builder) failPending(rec container.ChunkRecord) error {
	f := b.pending
	b.pending = nil
	f.Corrupt = true
	b.info.Frames = append(b.info.Frames, *f)
	return fmt.Errorf("frame %d: %w", len(b.info.Frames)-1, b.checksumErr(rec))
}

func (b *builder) checkSeq(fourcc, got uint32) error {
	if got != b.seq {
		return &SequenceError{Frame: len(b.info.Frames), FourCC: fourcc, Want: b.seq, Got: got}
	}
	b.seq++
	return nil
}

func (b *builder) checksumErr(rec container.ChunkRecord) error {
	payload := rec.Payload(b.data)
	return &container.ChecksumError{
		Offset:   rec.Offset,
		FourCC:   rec.FourCC,
		Stored:   rec.CRC,
		Computed: container.ChunkCRC(rec.FourCC, payload),
	}
}
