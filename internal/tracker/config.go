package tracker

import (
	"fmt"
	"math"
	"strings"
)

// Strategy selects how the crop window follows the subject.
type Strategy string

const (
	// KeepInFrame moves the crop only when the subject leaves the safe zone.
	KeepInFrame Strategy = "keep_in_frame"
	// Centered re-centres the crop on the subject on every update.
	Centered Strategy = "centered"
)

// ParseStrategy accepts the canonical names plus a few spellings used on the command line.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep_in_frame", "keep-in-frame", "keepinframe", "keep":
		return KeepInFrame, nil
	case "centered", "centred", "center", "centre":
		return Centered, nil
	default:
		return "", fmt.Errorf("unknown tracking strategy %q (want keep_in_frame or centered)", s)
	}
}

// UnmarshalText lets yaml and flag decoding go through ParseStrategy.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Strategy) String() string { return string(s) }

// Config is the immutable per-run tracking configuration.
type Config struct {
	// SampleRate runs detection on every Nth frame.
	SampleRate int `yaml:"sample_rate"`
	// SafeZoneMargin is the fraction of the crop width on each side that
	// triggers a reposition when the subject enters it.
	SafeZoneMargin float64 `yaml:"safe_zone_margin"`
	// DetectionConfidenceThreshold drops weaker candidates before selection.
	DetectionConfidenceThreshold float64 `yaml:"detection_confidence_threshold"`
	Strategy                     Strategy `yaml:"strategy"`
	// MaxPanSpeed caps crop movement in pixels per second. Zero disables the cap.
	MaxPanSpeed         float64 `yaml:"max_pan_speed"`
	SmoothingWindowSize int     `yaml:"smoothing_window_size"`
	PredictionEnabled   bool    `yaml:"prediction_enabled"`
	// PredictionLookaheadSeconds is both the velocity window and how far ahead
	// the subject position is extrapolated.
	PredictionLookaheadSeconds float64 `yaml:"prediction_lookahead_seconds"`
	// PredictionMinSamples is the fewest position samples a velocity is
	// estimated from.
	PredictionMinSamples int `yaml:"prediction_min_samples"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:                   3,
		SafeZoneMargin:               0.15,
		DetectionConfidenceThreshold: 0.5,
		Strategy:                     KeepInFrame,
		MaxPanSpeed:                  300,
		SmoothingWindowSize:          10,
		PredictionEnabled:            true,
		PredictionLookaheadSeconds:   2.0,
		PredictionMinSamples:         3,
	}
}

// Validate reports configuration values that make no sense. The tracker
// itself tolerates them (see normalized), this is for user-facing input.
func (c Config) Validate() error {
	if c.SampleRate < 1 {
		return fmt.Errorf("sample_rate must be >= 1, got %d", c.SampleRate)
	}
	if c.SafeZoneMargin < 0 || c.SafeZoneMargin >= 0.5 {
		return fmt.Errorf("safe_zone_margin must be in [0, 0.5), got %f", c.SafeZoneMargin)
	}
	if c.DetectionConfidenceThreshold < 0 || c.DetectionConfidenceThreshold > 1 {
		return fmt.Errorf("detection_confidence_threshold must be in [0, 1], got %f", c.DetectionConfidenceThreshold)
	}
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	if c.MaxPanSpeed < 0 {
		return fmt.Errorf("max_pan_speed cannot be negative, got %f", c.MaxPanSpeed)
	}
	if c.SmoothingWindowSize < 1 {
		return fmt.Errorf("smoothing_window_size must be >= 1, got %d", c.SmoothingWindowSize)
	}
	if c.PredictionEnabled && c.PredictionLookaheadSeconds <= 0 {
		return fmt.Errorf("prediction_lookahead_seconds must be > 0 when prediction is enabled, got %f", c.PredictionLookaheadSeconds)
	}
	return nil
}

// normalized coerces out-of-range values into something the update loop can
// use without failing.
func (c Config) normalized() Config {
	if c.SampleRate < 1 {
		c.SampleRate = 1
	}
	if math.IsNaN(c.SafeZoneMargin) || c.SafeZoneMargin < 0 {
		c.SafeZoneMargin = 0
	}
	if c.SafeZoneMargin >= 0.5 {
		c.SafeZoneMargin = 0.49
	}
	if s, err := ParseStrategy(string(c.Strategy)); err == nil {
		c.Strategy = s
	} else {
		c.Strategy = KeepInFrame
	}
	if math.IsNaN(c.MaxPanSpeed) || c.MaxPanSpeed <= 0 {
		c.MaxPanSpeed = math.Inf(1)
	}
	if c.SmoothingWindowSize < 1 {
		c.SmoothingWindowSize = 1
	}
	if math.IsNaN(c.PredictionLookaheadSeconds) || c.PredictionLookaheadSeconds <= 0 {
		c.PredictionEnabled = false
	}
	if c.PredictionMinSamples < 2 {
		c.PredictionMinSamples = 2
	}
	return c
}
