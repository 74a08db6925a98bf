package detect

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Backend names accepted by New.
const (
	BackendONNX   = "onnx"
	BackendWorker = "worker"
	BackendNone   = "none"
)

// Config selects and configures a detection backend.
type Config struct {
	Backend       string   `yaml:"backend"`
	ModelPath     string   `yaml:"model_path"`
	LibraryPath   string   `yaml:"library_path"`
	WorkerCommand []string `yaml:"worker_command"`
	InputWidth    int      `yaml:"input_width"`
	InputHeight   int      `yaml:"input_height"`
	NMSThreshold  float64  `yaml:"nms_threshold"`
}

// Validate checks that the chosen backend has what it needs.
func (c Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case BackendONNX:
		if c.ModelPath == "" {
			return fmt.Errorf("detector.model_path is required for the onnx backend")
		}
	case BackendWorker:
		if len(c.WorkerCommand) == 0 {
			return fmt.Errorf("detector.worker_command is required for the worker backend")
		}
	case BackendNone, "":
	default:
		return fmt.Errorf("unknown detector backend %q (want onnx, worker or none)", c.Backend)
	}
	return nil
}

// New builds the configured backend. Each run should own its detector.
func New(logger zerolog.Logger, cfg Config) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Backend) {
	case BackendONNX:
		return NewONNXDetector(logger, cfg)
	case BackendWorker:
		return NewWorkerDetector(logger, cfg.WorkerCommand)
	default:
		return StaticDetector{}, nil
	}
}
