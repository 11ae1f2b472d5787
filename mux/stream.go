package mux

import (
	"fmt"

	"github.com/deepteams/apng/internal/container"
)

// StreamSize returns the exact size of the standalone PNG stream that
// AppendFrameStream produces for f.
func (in *Info) StreamSize(f FrameInfo) int {
	n := container.SignatureSize + container.ChunkOverhead + container.IHDRChunkSize
	for _, i := range in.Shared {
		if in.carryShared(i) {
			n += container.ChunkOverhead + int(in.Chunks[i].Length)
		}
	}
	n += f.ChunkNum*container.ChunkOverhead + f.Size
	return n + container.ChunkOverhead // IEND
}

// carryShared reports whether shared chunk i is copied into reassembled
// streams. A corrupt ancillary chunk is left out so it only fails itself.
func (in *Info) carryShared(i int) bool {
	rec := in.Chunks[i]
	return !rec.Corrupt || container.IsCritical(rec.FourCC)
}

// AppendFrameStream appends a standalone single-frame PNG for frame index
// to dst. The stream carries an IHDR with the frame's dimensions, the
// intact shared chunks verbatim, the frame's data as IDAT chunks and an IEND.
func (in *Info) AppendFrameStream(dst, data []byte, index int) ([]byte, error) {
	f, err := in.Frame(index)
	if err != nil {
		return dst, err
	}
	if f.Corrupt {
		return dst, fmt.Errorf("frame %d: %w", index, container.ErrChecksum)
	}
	return in.appendStream(dst, data, f), nil
}

// AppendDefaultStream appends the default image as a standalone PNG to dst.
func (in *Info) AppendDefaultStream(dst, data []byte) ([]byte, error) {
	if !in.DefaultDone {
		return dst, fmt.Errorf("%w: default image not yet complete", ErrIncomplete)
	}
	if in.Default.Corrupt {
		return dst, fmt.Errorf("default image: %w", container.ErrChecksum)
	}
	return in.appendStream(dst, data, in.Default), nil
}

func (in *Info) appendStream(dst, data []byte, f FrameInfo) []byte {
	dst = append(dst, container.Signature[:]...)

	hdr := in.Header
	hdr.Width = f.Control.Width
	hdr.Height = f.Control.Height
	dst = container.AppendChunk(dst, container.FourCCIHDR, hdr.Bytes())

	for _, i := range in.Shared {
		if in.carryShared(i) {
			dst = append(dst, in.Chunks[i].Raw(data)...)
		}
	}

	for i := f.ChunkIndex; i < f.ChunkIndex+f.ChunkNum; i++ {
		rec := in.Chunks[i]
		if rec.FourCC == FourCCIDAT {
			dst = append(dst, rec.Raw(data)...)
			continue
		}
		// fdAT: drop the sequence number and re-tag as IDAT.
		payload := rec.Payload(data)[container.SeqNumSize:]
		dst = container.AppendChunk(dst, container.FourCCIDAT, payload)
	}
	return container.AppendChunk(dst, container.FourCCIEND, nil)
}
