package container

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Common errors.
var (
	ErrMalformed = errors.New("apng: malformed container")
	ErrTruncated = errors.New("apng: truncated data")
	ErrChecksum  = errors.New("apng: chunk checksum mismatch")
	ErrTooLarge  = errors.New("apng: chunk too large")
)

// ChunkRecord locates one chunk inside a byte buffer. The payload lives at
// data[Offset+8 : Offset+8+Length] and is never copied.
type ChunkRecord struct {
	Offset  uint32 // offset of the length field
	FourCC  uint32
	Length  uint32 // payload length
	CRC     uint32 // stored CRC
	Corrupt bool   // stored CRC does not match the computed one
}

// End returns the offset just past the chunk's CRC.
func (c ChunkRecord) End() int {
	return int(c.Offset) + ChunkOverhead + int(c.Length)
}

// Payload returns the chunk payload as a sub-slice of data.
func (c ChunkRecord) Payload(data []byte) []byte {
	start := int(c.Offset) + ChunkHeaderSize
	return data[start : start+int(c.Length)]
}

// Raw returns the complete chunk (length, tag, payload, CRC) as a sub-slice
// of data.
func (c ChunkRecord) Raw(data []byte) []byte {
	return data[c.Offset:c.End()]
}

// String returns a short description used in diagnostics.
func (c ChunkRecord) String() string {
	return fmt.Sprintf("%s@%d+%d", FourCCString(c.FourCC), c.Offset, c.Length)
}

// ChecksumError reports a chunk whose stored CRC disagrees with its content.
type ChecksumError struct {
	Offset   uint32
	FourCC   uint32
	Stored   uint32
	Computed uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("apng: %s chunk at offset %d: crc 0x%08x, want 0x%08x",
		FourCCString(e.FourCC), e.Offset, e.Stored, e.Computed)
}

// Unwrap lets errors.Is match ErrChecksum.
func (e *ChecksumError) Unwrap() error { return ErrChecksum }

// ReadChunkHeader reads a chunk's length and FourCC tag from data.
func ReadChunkHeader(data []byte) (length uint32, fourcc uint32, err error) {
	if len(data) < ChunkHeaderSize {
		return 0, 0, ErrTruncated
	}
	length = ReadBE32(data[0:4])
	fourcc = ReadBE32(data[4:8])
	if length > MaxChunkLength {
		return 0, 0, ErrTooLarge
	}
	return length, fourcc, nil
}

// ChunkCRC computes the PNG CRC32 over a chunk tag and payload.
func ChunkCRC(fourcc uint32, payload []byte) uint32 {
	var tag [TagSize]byte
	PutBE32(tag[:], fourcc)
	crc := crc32.Update(0, crc32.IEEETable, tag[:])
	return crc32.Update(crc, crc32.IEEETable, payload)
}

// FourCCString returns a human-readable string for a FourCC value.
func FourCCString(fourcc uint32) string {
	b := [4]byte{
		byte(fourcc >> 24),
		byte(fourcc >> 16),
		byte(fourcc >> 8),
		byte(fourcc),
	}
	return string(b[:])
}

// ParseFourCC converts a 4-character tag to its FourCC value. Tags of any
// other length yield 0.
func ParseFourCC(s string) uint32 {
	if len(s) != TagSize {
		return 0
	}
	return FourCC(s[0], s[1], s[2], s[3])
}

// AppendChunk appends a complete chunk with a freshly computed CRC to dst.
func AppendChunk(dst []byte, fourcc uint32, payload []byte) []byte {
	var hdr [ChunkHeaderSize]byte
	PutBE32(hdr[0:4], uint32(len(payload)))
	PutBE32(hdr[4:8], fourcc)
	dst = append(dst, hdr[:]...)
	dst = append(dst, payload...)
	var crc [CRCSize]byte
	PutBE32(crc[:], ChunkCRC(fourcc, payload))
	return append(dst, crc[:]...)
}

// WriteChunk writes a complete chunk with a freshly computed CRC to w.
func WriteChunk(w io.Writer, fourcc uint32, payload []byte) error {
	if len(payload) > MaxChunkLength {
		return ErrTooLarge
	}
	var hdr [ChunkHeaderSize]byte
	PutBE32(hdr[0:4], uint32(len(payload)))
	PutBE32(hdr[4:8], fourcc)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("apng: writing %s header: %w", FourCCString(fourcc), err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("apng: writing %s payload: %w", FourCCString(fourcc), err)
	}
	var crc [CRCSize]byte
	PutBE32(crc[:], ChunkCRC(fourcc, payload))
	if _, err := w.Write(crc[:]); err != nil {
		return fmt.Errorf("apng: writing %s crc: %w", FourCCString(fourcc), err)
	}
	return nil
}
