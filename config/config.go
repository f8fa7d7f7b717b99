// Package config holds the engine's tunable thresholds. Defaults work out
// of the box; hosts can override individual fields from a YAML document.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultProbeTimeout  = 3 * time.Second
	DefaultWindowSize    = 60
	DefaultCheckInterval = 30
	DefaultComputeMinFPS = 20.0
	DefaultRasterMinFPS  = 25.0
)

// Tuning controls backend probing and the performance monitor. The FPS
// floors are per tier: a GPU tier that cannot sustain its floor is demoted
// even when it produces correct results.
type Tuning struct {
	// ProbeTimeout bounds a single backend's Init during selection.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// WindowSize is the number of recent frame durations averaged for the
	// FPS estimate.
	WindowSize int `yaml:"window_size"`

	// CheckInterval is the number of ticks between FPS evaluations.
	CheckInterval int `yaml:"check_interval"`

	// ComputeMinFPS is the sustained FPS floor for the compute tier.
	ComputeMinFPS float64 `yaml:"compute_min_fps"`

	// RasterMinFPS is the sustained FPS floor for the raster tier.
	RasterMinFPS float64 `yaml:"raster_min_fps"`
}

// Default returns the stock tuning.
func Default() *Tuning {
	return &Tuning{
		ProbeTimeout:  DefaultProbeTimeout,
		WindowSize:    DefaultWindowSize,
		CheckInterval: DefaultCheckInterval,
		ComputeMinFPS: DefaultComputeMinFPS,
		RasterMinFPS:  DefaultRasterMinFPS,
	}
}

// Parse unmarshals a YAML document over the defaults, so a document only
// needs the fields it overrides.
func Parse(data []byte) (*Tuning, error) {
	t := Default()
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Load reads and parses a tuning file.
func Load(path string) (*Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Validate reports the first invalid field.
func (t *Tuning) Validate() error {
	if t.ProbeTimeout <= 0 {
		return fmt.Errorf("config: probe_timeout must be positive, got %v", t.ProbeTimeout)
	}
	if t.WindowSize <= 0 {
		return fmt.Errorf("config: window_size must be positive, got %d", t.WindowSize)
	}
	if t.CheckInterval <= 0 {
		return fmt.Errorf("config: check_interval must be positive, got %d", t.CheckInterval)
	}
	if t.ComputeMinFPS <= 0 {
		return fmt.Errorf("config: compute_min_fps must be positive, got %v", t.ComputeMinFPS)
	}
	if t.RasterMinFPS <= 0 {
		return fmt.Errorf("config: raster_min_fps must be positive, got %v", t.RasterMinFPS)
	}
	return nil
}
