package apng

import (
	"errors"

	"github.com/deepteams/apng/animation"
	"github.com/deepteams/apng/internal/container"
	"github.com/deepteams/apng/mux"
)

// Errors returned by the decoder and encoder. Container-level errors are
// shared with the packages that detect them, so errors.Is works across
// package boundaries.
var (
	// ErrMalformedContainer reports a bad signature, an impossible chunk
	// length or an unusable header. It is fatal for a Decoder.
	ErrMalformedContainer = container.ErrMalformed

	// ErrChecksum reports a chunk whose stored CRC32 does not match its
	// contents. Use errors.As with *ChecksumError for the location.
	ErrChecksum = container.ErrChecksum

	// ErrSequence reports a gap or reordering in fcTL/fdAT sequence numbers.
	ErrSequence = mux.ErrSequence

	// ErrIncompleteContainer means more data is needed; retry after Update.
	ErrIncompleteContainer = mux.ErrIncomplete

	// ErrTruncatedContainer means the data was finalized without an IEND.
	ErrTruncatedContainer = errors.New("apng: truncated container")

	ErrFrameIndexOutOfRange = errors.New("apng: frame index out of range")
	ErrFrameUnavailable     = errors.New("apng: frame unavailable")
	ErrDataAlreadyFinalized = errors.New("apng: data already finalized")
	ErrDataMismatch         = errors.New("apng: data does not extend the buffered stream")
	ErrDataTooLarge         = errors.New("apng: data exceeds the configured size limit")

	ErrFrameDecodeFailed = animation.ErrFrameDecodeFailed

	ErrNoFrames                = animation.ErrNoFrames
	ErrNilImage                = animation.ErrNilImage
	ErrEncoderClosed           = animation.ErrEncoderClosed
	ErrInconsistentFrameSize   = mux.ErrInconsistentFrameSize
	ErrInconsistentFrameFormat = mux.ErrInconsistentFrameFormat
)

type (
	// ChecksumError locates a corrupt chunk.
	ChecksumError = container.ChecksumError
	// SequenceError locates a sequence number gap.
	SequenceError = mux.SequenceError
	// FrameDecodeError reports a frame whose pixels could not be decoded.
	FrameDecodeError = animation.DecodeError
)
