// Package apng decodes and encodes animated PNG (APNG) files in pure Go.
//
// An APNG is a PNG whose acTL chunk announces an animation. Each frame is
// described by an fcTL chunk (region, delay, dispose and blend operations)
// followed by its image data in IDAT or fdAT chunks. Frames are composited
// onto a canvas the size of the IHDR image.
//
// A Decoder accepts data incrementally and exposes frames as soon as their
// data is complete:
//
//	d, err := apng.Open(nil, nil)
//	for chunk := range input {
//		err = d.Update(chunk, false)
//	}
//	err = d.Update(nil, true)
//	img, err := d.Render(d.FrameCount()-1, true)
//
// Corrupt chunks do not abort decoding. Frames before the damage remain
// available; the error is reported by Decoder.Err and by Render for the
// frames it affects.
//
// Encoding muxes one PNG stream per frame:
//
//	enc := apng.NewEncoder(0, nil)
//	enc.AddFrame(img1, 100*time.Millisecond, apng.DisposeNone, apng.BlendSource)
//	enc.AddFrame(img2, 100*time.Millisecond, apng.DisposeNone, apng.BlendSource)
//	data, err := enc.Finish()
//
// Pixel data is compressed and inflated by image/png. The codec subpackage
// covers still images in other formats.
package apng
