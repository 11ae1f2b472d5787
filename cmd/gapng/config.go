package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deepteams/apng/animation"
)

// Manifest describes an animation to assemble with "gapng enc -config".
type Manifest struct {
	LoopCount         int           `yaml:"loop_count"`
	StoreDefaultImage bool          `yaml:"store_default_image"`
	DefaultImage      string        `yaml:"default_image"` // optional still shown by non-APNG viewers
	DefaultDuration   time.Duration `yaml:"default_duration"`
	Frames            []FrameSpec   `yaml:"frames"`
}

// FrameSpec is one manifest frame. Dispose and blend use the names
// none|background|previous and source|over.
type FrameSpec struct {
	File     string        `yaml:"file"`
	Duration time.Duration `yaml:"duration"`
	Dispose  string        `yaml:"dispose"`
	Blend    string        `yaml:"blend"`
}

// DefaultConfig returns the manifest defaults.
func DefaultConfig() *Manifest {
	return &Manifest{
		DefaultDuration: 100 * time.Millisecond,
	}
}

// LoadConfig reads a YAML manifest. Relative frame paths are resolved
// against the manifest's directory.
func LoadConfig(path string) (*Manifest, error) {
	m := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range m.Frames {
		if f := m.Frames[i].File; f != "" && !filepath.IsAbs(f) {
			m.Frames[i].File = filepath.Join(dir, f)
		}
	}
	if m.DefaultImage != "" && !filepath.IsAbs(m.DefaultImage) {
		m.DefaultImage = filepath.Join(dir, m.DefaultImage)
	}
	return m, m.Validate()
}

// Validate checks that every frame names a file and uses known dispose and
// blend methods.
func (m *Manifest) Validate() error {
	if m.LoopCount < 0 {
		return fmt.Errorf("loop_count must be >= 0")
	}
	if m.DefaultDuration < 0 {
		return fmt.Errorf("default_duration must be >= 0")
	}
	if len(m.Frames) == 0 {
		return fmt.Errorf("at least one frame is required")
	}
	if m.DefaultImage != "" && !m.StoreDefaultImage {
		return fmt.Errorf("default_image requires store_default_image")
	}
	for i, f := range m.Frames {
		if f.File == "" {
			return fmt.Errorf("frames[%d]: file is required", i)
		}
		if f.Duration < 0 {
			return fmt.Errorf("frames[%d]: duration must be >= 0", i)
		}
		if _, err := animation.ParseDisposeMethod(f.Dispose); err != nil {
			return fmt.Errorf("frames[%d]: %w", i, err)
		}
		if _, err := animation.ParseBlendMethod(f.Blend); err != nil {
			return fmt.Errorf("frames[%d]: %w", i, err)
		}
	}
	return nil
}

// FrameDuration returns the duration of frame i, falling back to the
// manifest default.
func (m *Manifest) FrameDuration(i int) time.Duration {
	if d := m.Frames[i].Duration; d > 0 {
		return d
	}
	return m.DefaultDuration
}
