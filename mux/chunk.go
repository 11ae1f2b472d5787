// Package mux provides muxing and demuxing for the APNG chunk container.
//
// The demuxer classifies the chunk records produced by the container scanner
// into a header, shared ancillary chunks, animation frames and a default
// image. Each frame can be reassembled into a standalone PNG stream for a
// single-image decoder. The muxer assembles single-frame PNG streams back
// into a valid APNG file.
package mux

import (
	"github.com/deepteams/apng/internal/container"
)

// ChunkID is a FourCC identifier for a PNG chunk.
type ChunkID = uint32

// Chunk FourCC identifiers re-exported from the container package.
var (
	FourCCIHDR = container.FourCCIHDR
	FourCCPLTE = container.FourCCPLTE
	FourCCtRNS = container.FourCCtRNS
	FourCCIDAT = container.FourCCIDAT
	FourCCIEND = container.FourCCIEND
	FourCCacTL = container.FourCCacTL
	FourCCfcTL = container.FourCCfcTL
	FourCCfdAT = container.FourCCfdAT
)

// DisposeOp and BlendOp re-export the fcTL operation types.
type (
	DisposeOp = container.DisposeOp
	BlendOp   = container.BlendOp
)

const (
	DisposeNone       = container.DisposeNone
	DisposeBackground = container.DisposeBackground
	DisposePrevious   = container.DisposePrevious
	BlendSource       = container.BlendSource
	BlendOver         = container.BlendOver
)

// Chunk is a view of a single chunk inside a buffer. Data is a sub-slice of
// the original input (zero-copy).
type Chunk struct {
	ID      ChunkID
	Offset  int
	Data    []byte
	Corrupt bool
}

// chunkAt returns the view for record rec of data.
func chunkAt(data []byte, rec container.ChunkRecord) Chunk {
	return Chunk{
		ID:      rec.FourCC,
		Offset:  int(rec.Offset),
		Data:    rec.Payload(data),
		Corrupt: rec.Corrupt,
	}
}

// FourCCString returns a human-readable string for a FourCC value.
func FourCCString(id ChunkID) string {
	return container.FourCCString(id)
}
