package container

import (
	"fmt"
	"time"
)

// DisposeOp specifies how a frame's region is treated before the next frame
// is rendered.
type DisposeOp uint8

const (
	DisposeNone       DisposeOp = 0 // leave the canvas as is
	DisposeBackground DisposeOp = 1 // clear the region to transparent black
	DisposePrevious   DisposeOp = 2 // restore the region to its prior content
)

// BlendOp specifies how a frame is combined with the canvas.
type BlendOp uint8

const (
	BlendSource BlendOp = 0 // replace the region, alpha included
	BlendOver   BlendOp = 1 // alpha-composite over the region
)

// Header holds the parsed IHDR chunk.
type Header struct {
	Width       uint32
	Height      uint32
	BitDepth    uint8
	ColorType   uint8
	Compression uint8
	Filter      uint8
	Interlace   uint8
}

// HasAlpha reports whether the color type stores an alpha channel.
func (h Header) HasAlpha() bool { return h.ColorType&ColorAlpha != 0 }

// SameFormat reports whether h and o differ at most in their dimensions.
func (h Header) SameFormat(o Header) bool {
	return h.BitDepth == o.BitDepth && h.ColorType == o.ColorType &&
		h.Compression == o.Compression && h.Filter == o.Filter && h.Interlace == o.Interlace
}

// ParseHeader decodes and validates a 13-byte IHDR payload.
func ParseHeader(p []byte) (Header, error) {
	if len(p) != IHDRChunkSize {
		return Header{}, fmt.Errorf("%w: IHDR length %d", ErrMalformed, len(p))
	}
	h := Header{
		Width:       ReadBE32(p[0:4]),
		Height:      ReadBE32(p[4:8]),
		BitDepth:    p[8],
		ColorType:   p[9],
		Compression: p[10],
		Filter:      p[11],
		Interlace:   p[12],
	}
	if h.Width == 0 || h.Height == 0 || h.Width > MaxDimension || h.Height > MaxDimension {
		return Header{}, fmt.Errorf("%w: invalid dimensions %dx%d", ErrMalformed, h.Width, h.Height)
	}
	if !validDepth(h.ColorType, h.BitDepth) {
		return Header{}, fmt.Errorf("%w: bit depth %d invalid for color type %d", ErrMalformed, h.BitDepth, h.ColorType)
	}
	if h.Compression != 0 || h.Filter != 0 || h.Interlace > 1 {
		return Header{}, fmt.Errorf("%w: unsupported IHDR method fields", ErrMalformed)
	}
	return h, nil
}

func validDepth(colorType, depth uint8) bool {
	switch colorType {
	case ColorTypeGray:
		return depth == 1 || depth == 2 || depth == 4 || depth == 8 || depth == 16
	case ColorTypePaletted:
		return depth == 1 || depth == 2 || depth == 4 || depth == 8
	case ColorTypeRGB, ColorTypeGrayAlpha, ColorTypeRGBA:
		return depth == 8 || depth == 16
	}
	return false
}

// Bytes serializes h as a 13-byte IHDR payload.
func (h Header) Bytes() []byte {
	p := make([]byte, IHDRChunkSize)
	PutBE32(p[0:4], h.Width)
	PutBE32(p[4:8], h.Height)
	p[8] = h.BitDepth
	p[9] = h.ColorType
	p[10] = h.Compression
	p[11] = h.Filter
	p[12] = h.Interlace
	return p
}

// AnimControl holds the parsed acTL chunk.
type AnimControl struct {
	NumFrames uint32
	NumPlays  uint32 // 0 = loop forever
}

// ParseAnimControl decodes an 8-byte acTL payload.
func ParseAnimControl(p []byte) (AnimControl, error) {
	if len(p) != ACTLChunkSize {
		return AnimControl{}, fmt.Errorf("%w: acTL length %d", ErrMalformed, len(p))
	}
	ac := AnimControl{
		NumFrames: ReadBE32(p[0:4]),
		NumPlays:  ReadBE32(p[4:8]),
	}
	if ac.NumFrames == 0 {
		return AnimControl{}, fmt.Errorf("%w: acTL declares zero frames", ErrMalformed)
	}
	return ac, nil
}

// Bytes serializes ac as an 8-byte acTL payload.
func (ac AnimControl) Bytes() []byte {
	p := make([]byte, ACTLChunkSize)
	PutBE32(p[0:4], ac.NumFrames)
	PutBE32(p[4:8], ac.NumPlays)
	return p
}

// FrameControl holds the parsed fcTL chunk.
type FrameControl struct {
	SequenceNumber uint32
	Width          uint32
	Height         uint32
	XOffset        uint32
	YOffset        uint32
	DelayNum       uint16
	DelayDen       uint16
	DisposeOp      DisposeOp
	BlendOp        BlendOp
}

// ParseFrameControl decodes a 26-byte fcTL payload. Region bounds are
// checked against the canvas separately by FitsCanvas.
func ParseFrameControl(p []byte) (FrameControl, error) {
	if len(p) != FCTLChunkSize {
		return FrameControl{}, fmt.Errorf("%w: fcTL length %d", ErrMalformed, len(p))
	}
	fc := FrameControl{
		SequenceNumber: ReadBE32(p[0:4]),
		Width:          ReadBE32(p[4:8]),
		Height:         ReadBE32(p[8:12]),
		XOffset:        ReadBE32(p[12:16]),
		YOffset:        ReadBE32(p[16:20]),
		DelayNum:       ReadBE16(p[20:22]),
		DelayDen:       ReadBE16(p[22:24]),
		DisposeOp:      DisposeOp(p[24]),
		BlendOp:        BlendOp(p[25]),
	}
	if fc.Width == 0 || fc.Height == 0 {
		return FrameControl{}, fmt.Errorf("%w: fcTL %d has empty region", ErrMalformed, fc.SequenceNumber)
	}
	if fc.DisposeOp > DisposePrevious {
		return FrameControl{}, fmt.Errorf("%w: fcTL %d dispose op %d", ErrMalformed, fc.SequenceNumber, fc.DisposeOp)
	}
	if fc.BlendOp > BlendOver {
		return FrameControl{}, fmt.Errorf("%w: fcTL %d blend op %d", ErrMalformed, fc.SequenceNumber, fc.BlendOp)
	}
	return fc, nil
}

// FitsCanvas reports whether the frame region lies inside a w x h canvas.
func (fc FrameControl) FitsCanvas(w, h uint32) bool {
	return uint64(fc.XOffset)+uint64(fc.Width) <= uint64(w) &&
		uint64(fc.YOffset)+uint64(fc.Height) <= uint64(h)
}

// IsFullCanvas reports whether the frame region covers an entire w x h
// canvas.
func (fc FrameControl) IsFullCanvas(w, h uint32) bool {
	return fc.XOffset == 0 && fc.YOffset == 0 && fc.Width == w && fc.Height == h
}

// Delay returns the frame delay. A zero denominator is read as 100.
func (fc FrameControl) Delay() time.Duration {
	den := fc.DelayDen
	if den == 0 {
		den = DefaultDelayDen
	}
	return time.Duration(fc.DelayNum) * time.Second / time.Duration(den)
}

// Bytes serializes fc as a 26-byte fcTL payload.
func (fc FrameControl) Bytes() []byte {
	p := make([]byte, FCTLChunkSize)
	PutBE32(p[0:4], fc.SequenceNumber)
	PutBE32(p[4:8], fc.Width)
	PutBE32(p[8:12], fc.Height)
	PutBE32(p[12:16], fc.XOffset)
	PutBE32(p[16:20], fc.YOffset)
	PutBE16(p[20:22], fc.DelayNum)
	PutBE16(p[22:24], fc.DelayDen)
	p[24] = byte(fc.DisposeOp)
	p[25] = byte(fc.BlendOp)
	return p
}

// DelayFraction converts d into an fcTL num/den pair. The finest
// denominator that still fits the numerator in 16 bits is chosen, so any
// duration that is a whole number of milliseconds up to 65.535s round-trips
// exactly. Longer durations saturate at 65535 seconds.
func DelayFraction(d time.Duration) (num, den uint16) {
	if d <= 0 {
		return 0, 1000
	}
	if d >= MaxDelayValue*time.Second {
		return MaxDelayValue, 1
	}
	for _, scale := range [...]int64{1000, 100, 10, 1} {
		n := (int64(d)*scale + int64(time.Second)/2) / int64(time.Second)
		if n <= MaxDelayValue {
			return uint16(n), uint16(scale)
		}
	}
	return MaxDelayValue, 1
}
