package container

import (
	"bytes"
	"errors"
	"fmt"
)

// ScanResult holds the records produced by one Scan call.
type ScanResult struct {
	Chunks []ChunkRecord
	// Next is the offset where the following Scan should resume. It points
	// at the first byte that was not consumed by a complete chunk.
	Next int
	// Done is set once IEND has been recorded; bytes after it are ignored.
	Done bool
	// Checksum joins a *ChecksumError for every corrupt chunk recorded by
	// this call. Corrupt chunks are still returned, flagged.
	Checksum error
}

// Scan indexes complete chunks in data starting at resume. When resume is 0
// the PNG signature is validated first; a short buffer that is a prefix of
// the signature is reported as needing more data rather than an error.
//
// limit caps the end offset any chunk may claim; zero means no limit beyond
// MaxChunkLength. A chunk header exceeding either bound returns ErrMalformed
// together with the records gathered before it.
//
// Scan is a pure function of (data, resume): calling it again with the same
// arguments yields the same result.
func Scan(data []byte, resume int, limit int64) (ScanResult, error) {
	res := ScanResult{Next: resume}
	if resume < 0 || resume > len(data) {
		return res, fmt.Errorf("%w: resume offset %d outside buffer of %d bytes", ErrMalformed, resume, len(data))
	}

	if resume == 0 {
		if !HasSignaturePrefix(data) {
			return res, fmt.Errorf("%w: bad signature", ErrMalformed)
		}
		if len(data) < SignatureSize {
			return res, nil
		}
		res.Next = SignatureSize
	}

	var checksumErrs []error
	pos := res.Next
	for len(data)-pos >= ChunkHeaderSize {
		length, fourcc, err := ReadChunkHeader(data[pos:])
		if err != nil {
			res.Checksum = errors.Join(checksumErrs...)
			return res, fmt.Errorf("%w: chunk at offset %d: %v", ErrMalformed, pos, err)
		}
		end := int64(pos) + ChunkOverhead + int64(length)
		if limit > 0 && end > limit {
			res.Checksum = errors.Join(checksumErrs...)
			return res, fmt.Errorf("%w: %s chunk at offset %d claims %d bytes", ErrMalformed, FourCCString(fourcc), pos, length)
		}
		if end > int64(len(data)) {
			break
		}

		payload := data[pos+ChunkHeaderSize : pos+ChunkHeaderSize+int(length)]
		stored := ReadBE32(data[pos+ChunkHeaderSize+int(length):])
		computed := ChunkCRC(fourcc, payload)
		rec := ChunkRecord{
			Offset: uint32(pos),
			FourCC: fourcc,
			Length: length,
			CRC:    stored,
		}
		if stored != computed {
			rec.Corrupt = true
			checksumErrs = append(checksumErrs, &ChecksumError{
				Offset:   rec.Offset,
				FourCC:   fourcc,
				Stored:   stored,
				Computed: computed,
			})
		}
		res.Chunks = append(res.Chunks, rec)
		pos = int(end)
		res.Next = pos

		if fourcc == FourCCIEND {
			res.Done = true
			break
		}
	}

	res.Checksum = errors.Join(checksumErrs...)
	return res, nil
}

// HasSignaturePrefix reports whether data starts with the PNG signature, or,
// when data is shorter than the signature, whether it is a prefix of it.
func HasSignaturePrefix(data []byte) bool {
	n := min(len(data), SignatureSize)
	return bytes.Equal(data[:n], Signature[:n])
}

// HasSignature reports whether data begins with the complete PNG signature.
func HasSignature(data []byte) bool {
	return len(data) >= SignatureSize && bytes.Equal(data[:SignatureSize], Signature[:])
}
