package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k8s.io/examples/AI/trainloop/pkg/checkpoint"
	"k8s.io/examples/AI/trainloop/pkg/inputter"
	"k8s.io/examples/AI/trainloop/pkg/runner"
)

var checkpointBadger = checkpoint.BadgerConfig{InMemory: true}

const example = `
run:
  mode: train
  batchSizePerGPU: 16
  numGPU: 2
  numClasses: 3
  dataFormat: channels_last
  summaryNames: [loss, accuracy, learning_rate]
model:
  epochs: 5
  learningRates: [0.1, 0.01]
  learningRateBoundaries: [3]
  weightDecay: 0.0005
  movingAverageDecay: 0.9
datasets:
  train:
    path: /data/train.csv
    hasHeader: true
    labelled: true
  infer:
    hash: infer-v1.csv
checkpoint:
  dir: /tmp/ckpt
  keep: 3
  every: 100
summary:
  dir: /tmp/summaries
  every: 10
blobs:
  cacheDir: /tmp/blobs
  server: http://blobserver
`

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(p, []byte(example), 0644))

	c, err := Load(p)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, runner.ModeTrain, c.Run.Mode)
	assert.Equal(t, 32, c.Model.BatchSize)
	assert.Equal(t, 3, c.Model.NumClasses)
	assert.Equal(t, runner.ModeTrain, c.Model.Mode)
	assert.Equal(t, []float32{0.1, 0.01}, c.Model.LearningRates)
	assert.Equal(t, "/data/train.csv", c.Dataset().Path)
	assert.Equal(t, int64(100), c.Checkpoint.Every)
	assert.Equal(t, "http://blobserver", c.Blobs.Server)

	c.Run.Mode = runner.ModeInfer
	require.NoError(t, c.Validate())
	assert.Equal(t, "infer-v1.csv", c.Dataset().Hash)
	assert.Equal(t, runner.ModeInfer, c.Model.Mode)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	grid := []struct {
		name   string
		modify func(c *Config)
		errs   string
	}{
		{name: "unknown mode", modify: func(c *Config) { c.Run.Mode = "predict" }, errs: "unknown mode"},
		{name: "no dataset for mode", modify: func(c *Config) { c.Run.Mode = runner.ModeEval }, errs: "no dataset configured for eval"},
		{name: "dataset key", modify: func(c *Config) { c.Datasets["test"] = c.Datasets[runner.ModeTrain] }, errs: "unknown mode"},
		{name: "both stores", modify: func(c *Config) { c.Checkpoint.Badger = &checkpointBadger }, errs: "Dir"},
		{name: "no store", modify: func(c *Config) { c.Checkpoint.Dir = "" }, errs: "Dir"},
		{name: "both blob sources", modify: func(c *Config) { c.Blobs.Bucket = "b" }, errs: "Server"},
		{name: "hash without cache", modify: func(c *Config) {
			c.Run.Mode = runner.ModeInfer
			c.Blobs.CacheDir = ""
		}, errs: "blobs.cacheDir"},
		{name: "model config", modify: func(c *Config) { c.Model.Epochs = 0 }, errs: "Epochs"},
		{name: "dataset without source", modify: func(c *Config) { c.Datasets[runner.ModeTrain] = inputter.Config{Labelled: true} }, errs: "Path"},
	}

	for _, g := range grid {
		t.Run(g.name, func(t *testing.T) {
			c, err := Parse([]byte(example))
			require.NoError(t, err)
			g.modify(c)
			err = c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), g.errs)
		})
	}
}

func TestBadgerCheckpointConfig(t *testing.T) {
	c, err := Parse([]byte(example))
	require.NoError(t, err)
	c.Checkpoint = Checkpoint{Badger: &checkpointBadger}
	require.NoError(t, c.Validate())
}
