package runner

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"k8s.io/examples/AI/trainloop/pkg/engine"
)

// Config is what the runner consumes from the surrounding configuration.
type Config struct {
	Mode            Mode   `yaml:"mode" validate:"required,oneof=train eval infer"`
	BatchSizePerGPU int    `yaml:"batchSizePerGPU" validate:"min=1"`
	NumGPU          int    `yaml:"numGPU" validate:"min=0"`
	NumClasses      int    `yaml:"numClasses" validate:"min=1"`
	DataFormat      string `yaml:"dataFormat" validate:"omitempty,oneof=channels_first channels_last"`

	// SummaryNames lists the outputs eligible for summary collection in train mode.
	SummaryNames []string `yaml:"summaryNames"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid run config: %w", err)
	}
	return nil
}

// BatchSize is the effective batch size across devices. A CPU-only run
// (NumGPU 0) counts as a single device.
func (c *Config) BatchSize() int {
	return c.BatchSizePerGPU * max(c.NumGPU, 1)
}

// NewSessionConfig returns the execution policy used for every run.
func NewSessionConfig(numGPU int) engine.SessionConfig {
	return engine.SessionConfig{
		NumGPU:                      numGPU,
		PerProcessGPUMemoryFraction: 0.95,
		AllowGrowth:                 true,
		AllowSoftPlacement:          true,
		LogDevicePlacement:          false,
	}
}
