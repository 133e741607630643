// Package config loads the YAML run file read by the trainloop binary.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"k8s.io/examples/AI/trainloop/pkg/checkpoint"
	"k8s.io/examples/AI/trainloop/pkg/inputter"
	"k8s.io/examples/AI/trainloop/pkg/modeler/classification"
	"k8s.io/examples/AI/trainloop/pkg/runner"
)

type Config struct {
	Run   runner.Config         `yaml:"run"`
	Model classification.Config `yaml:"model"`

	// Datasets is keyed by mode; only the configured mode's entry is read.
	Datasets map[runner.Mode]inputter.Config `yaml:"datasets" validate:"required,dive"`

	Checkpoint Checkpoint `yaml:"checkpoint"`
	Summary    Summary    `yaml:"summary"`
	Blobs      Blobs      `yaml:"blobs"`
}

// Checkpoint selects a checkpoint store: JSON files under Dir, or badger.
type Checkpoint struct {
	Dir    string                   `yaml:"dir" validate:"required_without=Badger,excluded_with=Badger"`
	Badger *checkpoint.BadgerConfig `yaml:"badger"`
	// Keep bounds the number of local checkpoint files; 0 keeps all.
	Keep int `yaml:"keep" validate:"min=0"`
	// Every is the save interval in steps; 0 saves only at the end of training.
	Every int64 `yaml:"every" validate:"min=0"`

	// UploadBucket copies every file checkpoint to GCS.
	UploadBucket string `yaml:"uploadBucket" validate:"excluded_with=Badger"`
	UploadPrefix string `yaml:"uploadPrefix"`
}

type Summary struct {
	// Dir receives events.jsonl; empty disables summaries.
	Dir   string `yaml:"dir"`
	Every int64  `yaml:"every" validate:"min=0"`
}

// Blobs configures where datasets referenced by hash come from.
type Blobs struct {
	CacheDir string `yaml:"cacheDir"`
	// Server is a blobserver URL; Bucket reads GCS directly. At most one is set.
	Server      string `yaml:"server" validate:"omitempty,url,excluded_with=Bucket"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	MaxAttempts int    `yaml:"maxAttempts" validate:"min=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and parses path. Call Validate after applying any overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return c, nil
}

// Validate checks the whole file and copies the run settings the model
// needs into Model.
func (c *Config) Validate() error {
	if err := c.Run.Validate(); err != nil {
		return err
	}
	c.Model.Mode = c.Run.Mode
	c.Model.NumClasses = c.Run.NumClasses
	c.Model.BatchSize = c.Run.BatchSize()
	c.Model.DataFormat = c.Run.DataFormat

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for mode := range c.Datasets {
		if _, err := runner.ParseMode(string(mode)); err != nil {
			return fmt.Errorf("datasets: %w", err)
		}
	}
	if _, ok := c.Datasets[c.Run.Mode]; !ok {
		return fmt.Errorf("no dataset configured for %s mode", c.Run.Mode)
	}
	if c.Blobs.CacheDir == "" && c.needsBlobs() {
		return fmt.Errorf("dataset referenced by hash needs blobs.cacheDir")
	}
	return nil
}

// Dataset returns the dataset for the configured mode.
func (c *Config) Dataset() inputter.Config {
	return c.Datasets[c.Run.Mode]
}

func (c *Config) needsBlobs() bool {
	return c.Dataset().Hash != ""
}
