package apng

import (
	"bytes"
	"image"
	"testing"
	"time"

	"github.com/deepteams/apng/mux"
)

// addMinimalSeeds adds small well-formed files to the corpus.
func addMinimalSeeds(f *testing.F) {
	f.Helper()
	{
		enc := NewEncoder(0, nil)
		enc.AddFrame(solidNRGBA(2, 2, red), 10*time.Millisecond, DisposeBackground, BlendSource)
		enc.AddFrame(solidNRGBA(2, 2, blue), 10*time.Millisecond, DisposePrevious, BlendOver)
		if data, err := enc.Finish(); err == nil {
			f.Add(data, uint16(20))
		}
	}
	{
		enc := NewEncoder(1, &EncoderOptions{StoreDefaultImage: true})
		enc.AddFrame(solidNRGBA(3, 1, transparent), 0, DisposeNone, BlendOver)
		if data, err := enc.Finish(); err == nil {
			f.Add(data, uint16(0))
		}
	}
	{
		m := mux.NewMuxer()
		frames := []image.Image{solidNRGBA(4, 4, green), solidNRGBA(1, 1, red)}
		for i, img := range frames {
			if stream, err := encodePNG(img, 0); err == nil {
				m.AddFrame(stream, &mux.FrameOptions{OffsetX: i, OffsetY: i, Blend: mux.BlendOver})
			}
		}
		var buf bytes.Buffer
		if err := m.Assemble(&buf); err == nil {
			f.Add(buf.Bytes(), uint16(40))
		}
	}
	f.Add([]byte("\x89PNG\r\n\x1a\n"), uint16(3))
}

// FuzzDecoderUpdate feeds arbitrary data in two parts and renders every
// exposed frame. It must never panic.
func FuzzDecoderUpdate(f *testing.F) {
	addMinimalSeeds(f)
	f.Fuzz(func(t *testing.T, data []byte, split uint16) {
		d, err := Open(nil, &Config{MaxDataSize: 1 << 20})
		if err != nil {
			t.Fatal(err)
		}
		k := min(int(split), len(data))
		if err := d.Update(data[:k], false); err != nil {
			return
		}
		d.Update(data[k:], true)

		w, h := d.CanvasSize()
		if w*h > 1<<16 {
			return
		}
		for i := 0; i < d.FrameCount(); i++ {
			d.Render(i, true)
			d.Render(i, false)
		}
		d.DefaultImage()
		_ = d.Err()
	})
}
