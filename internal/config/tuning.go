package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for the field engine. Every field is
// optional; the Get* accessors fall back to built-in defaults so a partial
// file is safe.
type TuningConfig struct {
	// Detection
	NoiseMargin   *float64 `json:"noise_margin,omitempty"`   // metres a live reading must be nearer than baseline
	MinSeparation *int     `json:"min_separation,omitempty"` // pixels on either axis before a point counts as new
	DetectWorkers *int     `json:"detect_workers,omitempty"`

	// Geometry
	DisplayScale *float64 `json:"display_scale,omitempty"` // display units per frame pixel
	FrameWidth   *int     `json:"frame_width,omitempty"`
	FrameHeight  *int     `json:"frame_height,omitempty"`

	// Scheduling
	CycleInterval  *string `json:"cycle_interval,omitempty"` // duration string like "33ms"
	FrameTimeout   *string `json:"frame_timeout,omitempty"`  // empty disables the timeout
	DispatchBuffer *int    `json:"dispatch_buffer,omitempty"`

	// Actuator link
	SerialBaudRate *int    `json:"serial_baud_rate,omitempty"`
	SerialParity   *string `json:"serial_parity,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the built-in defaults. Useful when no file is available.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		NoiseMargin:    ptrFloat64(e.GetNoiseMargin()),
		MinSeparation:  ptrInt(e.GetMinSeparation()),
		DetectWorkers:  ptrInt(e.GetDetectWorkers()),
		DisplayScale:   ptrFloat64(e.GetDisplayScale()),
		FrameWidth:     ptrInt(e.GetFrameWidth()),
		FrameHeight:    ptrInt(e.GetFrameHeight()),
		CycleInterval:  ptrString("33ms"),
		FrameTimeout:   ptrString(""),
		DispatchBuffer: ptrInt(e.GetDispatchBuffer()),
		SerialBaudRate: ptrInt(e.GetSerialBaudRate()),
		SerialParity:   ptrString(e.GetSerialParity()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.NoiseMargin != nil && *c.NoiseMargin < 0 {
		return fmt.Errorf("noise_margin must be non-negative, got %f", *c.NoiseMargin)
	}
	if c.MinSeparation != nil && *c.MinSeparation < 0 {
		return fmt.Errorf("min_separation must be non-negative, got %d", *c.MinSeparation)
	}
	if c.DetectWorkers != nil && *c.DetectWorkers < 0 {
		return fmt.Errorf("detect_workers must be non-negative, got %d", *c.DetectWorkers)
	}
	if c.DisplayScale != nil && *c.DisplayScale <= 0 {
		return fmt.Errorf("display_scale must be positive, got %f", *c.DisplayScale)
	}
	if c.FrameWidth != nil && *c.FrameWidth <= 0 {
		return fmt.Errorf("frame_width must be positive, got %d", *c.FrameWidth)
	}
	if c.FrameHeight != nil && *c.FrameHeight <= 0 {
		return fmt.Errorf("frame_height must be positive, got %d", *c.FrameHeight)
	}
	if c.CycleInterval != nil && *c.CycleInterval != "" {
		d, err := time.ParseDuration(*c.CycleInterval)
		if err != nil {
			return fmt.Errorf("invalid cycle_interval '%s': %w", *c.CycleInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("cycle_interval must be positive, got %v", d)
		}
	}
	if c.FrameTimeout != nil && *c.FrameTimeout != "" {
		if _, err := time.ParseDuration(*c.FrameTimeout); err != nil {
			return fmt.Errorf("invalid frame_timeout '%s': %w", *c.FrameTimeout, err)
		}
	}
	if c.DispatchBuffer != nil && *c.DispatchBuffer < 0 {
		return fmt.Errorf("dispatch_buffer must be non-negative, got %d", *c.DispatchBuffer)
	}
	if c.SerialBaudRate != nil && *c.SerialBaudRate < 0 {
		return fmt.Errorf("serial_baud_rate must be non-negative, got %d", *c.SerialBaudRate)
	}
	return nil
}

// GetNoiseMargin returns the noise_margin value or the default.
func (c *TuningConfig) GetNoiseMargin() float64 {
	if c.NoiseMargin == nil {
		return 0.01
	}
	return *c.NoiseMargin
}

// GetMinSeparation returns the min_separation value or the default.
func (c *TuningConfig) GetMinSeparation() int {
	if c.MinSeparation == nil {
		return 5
	}
	return *c.MinSeparation
}

// GetDetectWorkers returns the detect_workers value or the default.
// Zero and one both mean a single-threaded scan.
func (c *TuningConfig) GetDetectWorkers() int {
	if c.DetectWorkers == nil || *c.DetectWorkers == 0 {
		return 1
	}
	return *c.DetectWorkers
}

// GetDisplayScale returns the display_scale value or the default.
func (c *TuningConfig) GetDisplayScale() float64 {
	if c.DisplayScale == nil {
		return 2.0
	}
	return *c.DisplayScale
}

// GetFrameWidth returns the frame_width value or the default.
func (c *TuningConfig) GetFrameWidth() int {
	if c.FrameWidth == nil {
		return 320
	}
	return *c.FrameWidth
}

// GetFrameHeight returns the frame_height value or the default.
func (c *TuningConfig) GetFrameHeight() int {
	if c.FrameHeight == nil {
		return 240
	}
	return *c.FrameHeight
}

// GetCycleInterval parses and returns the CycleInterval as a time.Duration.
func (c *TuningConfig) GetCycleInterval() time.Duration {
	if c.CycleInterval == nil || *c.CycleInterval == "" {
		return 33 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.CycleInterval)
	if err != nil || d <= 0 {
		return 33 * time.Millisecond
	}
	return d
}

// GetFrameTimeout returns the per-frame timeout, or zero when disabled.
func (c *TuningConfig) GetFrameTimeout() time.Duration {
	if c.FrameTimeout == nil || *c.FrameTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.FrameTimeout)
	if err != nil {
		return 0
	}
	return d
}

// GetDispatchBuffer returns the dispatch_buffer value or the default.
func (c *TuningConfig) GetDispatchBuffer() int {
	if c.DispatchBuffer == nil {
		return 256
	}
	return *c.DispatchBuffer
}

// GetSerialBaudRate returns the serial_baud_rate value or the default.
func (c *TuningConfig) GetSerialBaudRate() int {
	if c.SerialBaudRate == nil || *c.SerialBaudRate == 0 {
		return 9600
	}
	return *c.SerialBaudRate
}

// GetSerialParity returns the serial_parity value or the default.
func (c *TuningConfig) GetSerialParity() string {
	if c.SerialParity == nil || *c.SerialParity == "" {
		return "N"
	}
	return *c.SerialParity
}
