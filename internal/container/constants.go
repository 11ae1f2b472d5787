// Package container defines the PNG chunk stream layout used by APNG files,
// including the signature, FourCC values, structure sizes, and the chunk
// scanner that indexes a byte buffer into chunk records.
package container

import "encoding/binary"

// FourCC creates a FourCC value from four bytes (big-endian, network order).
func FourCC(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

// Signature is the 8-byte magic that starts every PNG stream.
var Signature = [SignatureSize]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Chunk FourCC values.
var (
	FourCCIHDR = FourCC('I', 'H', 'D', 'R')
	FourCCPLTE = FourCC('P', 'L', 'T', 'E')
	FourCCtRNS = FourCC('t', 'R', 'N', 'S')
	FourCCIDAT = FourCC('I', 'D', 'A', 'T')
	FourCCIEND = FourCC('I', 'E', 'N', 'D')
	FourCCacTL = FourCC('a', 'c', 'T', 'L')
	FourCCfcTL = FourCC('f', 'c', 'T', 'L')
	FourCCfdAT = FourCC('f', 'd', 'A', 'T')
	FourCCgAMA = FourCC('g', 'A', 'M', 'A')
	FourCCiCCP = FourCC('i', 'C', 'C', 'P')
	FourCCsRGB = FourCC('s', 'R', 'G', 'B')
	FourCCtEXt = FourCC('t', 'E', 'X', 't')
)

// Container structure sizes.
const (
	SignatureSize   = 8  // PNG signature
	TagSize         = 4  // Size of a chunk tag (e.g. "IDAT")
	ChunkSizeBytes  = 4  // Size needed to store chunk's length
	ChunkHeaderSize = 8  // length + tag
	CRCSize         = 4  // trailing CRC32
	ChunkOverhead   = 12 // header + CRC
	IHDRChunkSize   = 13 // Size of an IHDR payload
	ACTLChunkSize   = 8  // Size of an acTL payload
	FCTLChunkSize   = 26 // Size of an fcTL payload
	SeqNumSize      = 4  // fdAT sequence number prefix
)

// Limits.
const (
	MaxChunkLength  = 1<<31 - 1 // PNG caps chunk lengths at 2^31-1
	MaxDimension    = 1<<31 - 1
	MaxImageArea    = uint64(1) << 32
	MaxLoopCount    = 1<<32 - 1
	MaxDelayValue   = 1<<16 - 1
	DefaultDelayDen = 100 // used when an fcTL declares a zero denominator
)

// IHDR color type bits.
const (
	ColorPalette = 1
	ColorColor   = 2
	ColorAlpha   = 4
)

// IHDR color types.
const (
	ColorTypeGray      = 0
	ColorTypeRGB       = ColorColor
	ColorTypePaletted  = ColorPalette | ColorColor
	ColorTypeGrayAlpha = ColorAlpha
	ColorTypeRGBA      = ColorColor | ColorAlpha
)

// IsCritical reports whether a chunk type is critical (uppercase first letter).
func IsCritical(fourcc uint32) bool {
	return fourcc&0x20000000 == 0
}

// IsStructural reports whether fourcc is one of the chunks that define the
// container structure rather than ancillary data shared by every frame.
func IsStructural(fourcc uint32) bool {
	switch fourcc {
	case FourCCIHDR, FourCCacTL, FourCCfcTL, FourCCIDAT, FourCCfdAT, FourCCIEND:
		return true
	}
	return false
}

// ReadBE16 reads a big-endian uint16 from b.
func ReadBE16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// ReadBE32 reads a big-endian uint32 from b.
func ReadBE32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// PutBE16 writes v as big-endian into b.
func PutBE16(b []byte, v uint16) {
	binary.BigEndian.PutUint16(b, v)
}

// PutBE32 writes v as big-endian into b.
func PutBE32(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b, v)
}
