package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kikiluvv/reframer/internal/detect"
	"github.com/kikiluvv/reframer/internal/ffmpeg"
	"github.com/kikiluvv/reframer/internal/pipeline"
	"github.com/kikiluvv/reframer/internal/tracker"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Environment overrides applied after the file is read.
const (
	EnvModelPath = "REFRAMER_MODEL_PATH"
	EnvFFmpeg    = "REFRAMER_FFMPEG"
	EnvFFprobe   = "REFRAMER_FFPROBE"
)

// Config holds all application configuration
type Config struct {
	// Core settings
	WorkDir     string `yaml:"work_dir"`
	TempDir     string `yaml:"temp_dir"`
	Concurrency int    `yaml:"concurrency"`

	Tracker  tracker.Config `yaml:"tracker"`
	Detector detect.Config  `yaml:"detector"`
	FFmpeg   FFmpegConfig   `yaml:"ffmpeg"`
	Output   OutputConfig   `yaml:"output"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path"`
	ProbePath  string `yaml:"probe_path"`
	Threads    int    `yaml:"threads"`
	Preset     string `yaml:"preset"`
	CRF        int    `yaml:"crf"`
	// Codecs lists encoder candidates in preference order.
	Codecs       []string `yaml:"codecs"`
	CloseTimeout Duration `yaml:"close_timeout"`
}

type OutputConfig struct {
	Aspect      string `yaml:"aspect"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	KeepPartial bool   `yaml:"keep_partial"`
	// FallbackStatic renders a centered static crop when retargeting fails
	// for a reason other than cancellation or a bad request.
	FallbackStatic bool `yaml:"fallback_static"`
}

// Duration is a time.Duration written as "30s" in YAML.
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(v)
	return nil
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []error
	if c.Concurrency < 1 {
		problems = append(problems, fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency))
	}
	if err := c.Tracker.Validate(); err != nil {
		problems = append(problems, fmt.Errorf("tracker: %w", err))
	}
	if err := c.Detector.Validate(); err != nil {
		problems = append(problems, err)
	}
	if c.FFmpeg.Threads < 0 {
		problems = append(problems, fmt.Errorf("ffmpeg.threads cannot be negative, got %d", c.FFmpeg.Threads))
	}
	if c.FFmpeg.CRF < 0 || c.FFmpeg.CRF > 51 {
		problems = append(problems, fmt.Errorf("ffmpeg.crf must be in [0, 51], got %d", c.FFmpeg.CRF))
	}
	if c.FFmpeg.CloseTimeout < 0 {
		problems = append(problems, errors.New("ffmpeg.close_timeout cannot be negative"))
	}
	if _, err := pipeline.ParseAspect(c.Output.Aspect); err != nil {
		problems = append(problems, fmt.Errorf("output.aspect: %w", err))
	}
	if c.Output.Width < 0 || c.Output.Height < 0 {
		problems = append(problems, errors.New("output size cannot be negative"))
	}
	return errors.Join(problems...)
}

// Profiles returns the encoder candidates for the ffmpeg section.
func (c *Config) Profiles() []ffmpeg.Profile {
	if len(c.FFmpeg.Codecs) == 0 {
		return ffmpeg.DefaultProfiles(c.FFmpeg.Preset, c.FFmpeg.CRF)
	}
	return ffmpeg.ProfilesFor(c.FFmpeg.Codecs, c.FFmpeg.Preset, c.FFmpeg.CRF)
}

// PipelineConfig derives the engine-wide pipeline settings.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Profiles:     c.Profiles(),
		CloseTimeout: time.Duration(c.FFmpeg.CloseTimeout),
	}
}

// ExecutorOptions derives the ffmpeg binary settings.
func (c *Config) ExecutorOptions() ffmpeg.Options {
	return ffmpeg.Options{
		FFmpegPath:  c.FFmpeg.BinaryPath,
		FFprobePath: c.FFmpeg.ProbePath,
		Threads:     c.FFmpeg.Threads,
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvModelPath); v != "" {
		c.Detector.ModelPath = v
	}
	if v := os.Getenv(EnvFFmpeg); v != "" {
		c.FFmpeg.BinaryPath = v
	}
	if v := os.Getenv(EnvFFprobe); v != "" {
		c.FFmpeg.ProbePath = v
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		WorkDir:     "./work",
		TempDir:     "./temp",
		Concurrency: 2,
		Tracker:     tracker.DefaultConfig(),
		Detector: detect.Config{
			Backend:      detect.BackendNone,
			InputWidth:   320,
			InputHeight:  240,
			NMSThreshold: 0.3,
		},
		FFmpeg: FFmpegConfig{
			BinaryPath:   "ffmpeg",
			ProbePath:    "ffprobe",
			Threads:      0,
			Preset:       ffmpeg.DefaultPreset,
			CRF:          ffmpeg.DefaultCRF,
			CloseTimeout: Duration(ffmpeg.DefaultCloseTimeout),
		},
		Output: OutputConfig{
			Aspect: "portrait",
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./reframer.yaml",
		"./config.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".reframer", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
