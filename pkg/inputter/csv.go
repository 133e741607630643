// Package inputter loads CSV datasets and exposes them to the runner as
// in-graph batch iterators.
package inputter

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/blobs"
	"k8s.io/examples/AI/trainloop/pkg/graph"
	"k8s.io/examples/AI/trainloop/pkg/runner"
)

// Config describes where a dataset comes from. Exactly one of Path or Hash is set.
type Config struct {
	// Path is a local CSV file.
	Path string `yaml:"path" validate:"required_without=Hash,excluded_with=Hash"`
	// Hash names a blob fetched through the blob cache.
	Hash string `yaml:"hash" validate:"required_without=Path"`

	// HasHeader skips the first row.
	HasHeader bool `yaml:"hasHeader"`
	// Labelled means the last column holds the integer class. Infer datasets may omit it.
	Labelled bool `yaml:"labelled"`
}

// CSV is a dataset of float features with an optional trailing class label.
type CSV struct {
	numClasses int
	dataFormat string

	features    []float32
	labels      []int
	numSamples  int
	numFeatures int
}

var _ runner.InputSource = &CSV{}

// Load reads the dataset. cache may be nil when config.Path is set.
func Load(ctx context.Context, config Config, cache *blobs.Cache, numClasses int, dataFormat string) (*CSV, error) {
	log := klog.FromContext(ctx)

	path := config.Path
	if path == "" {
		if cache == nil {
			return nil, fmt.Errorf("dataset %q needs a blob cache", config.Hash)
		}
		p, err := cache.Get(ctx, blobs.BlobInfo{Hash: config.Hash})
		if err != nil {
			return nil, fmt.Errorf("fetching dataset %q: %w", config.Hash, err)
		}
		path = p
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	d, err := Parse(f, config.HasHeader, config.Labelled, numClasses)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}
	d.dataFormat = dataFormat
	log.Info("loaded dataset", "path", path, "samples", d.numSamples, "features", d.numFeatures, "labelled", d.labels != nil)
	return d, nil
}

// Parse reads CSV rows. With labelled set, the last column is a class in [0, numClasses).
func Parse(r io.Reader, hasHeader, labelled bool, numClasses int) (*CSV, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	d := &CSV{numClasses: numClasses, numFeatures: -1}
	if hasHeader {
		if _, err := reader.Read(); err != nil {
			return nil, fmt.Errorf("reading header: %w", err)
		}
	}

	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		width := len(record)
		if labelled {
			width--
		}
		if width <= 0 {
			return nil, fmt.Errorf("row %d has no features", line)
		}
		if d.numFeatures == -1 {
			d.numFeatures = width
		}

		for i := 0; i < width; i++ {
			v, err := strconv.ParseFloat(record[i], 32)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", line, i, err)
			}
			d.features = append(d.features, float32(v))
		}
		if labelled {
			label, err := strconv.Atoi(record[width])
			if err != nil {
				return nil, fmt.Errorf("row %d label: %w", line, err)
			}
			if label < 0 || label >= numClasses {
				return nil, fmt.Errorf("row %d label %d out of range [0, %d)", line, label, numClasses)
			}
			d.labels = append(d.labels, label)
		}
		d.numSamples++
	}

	if d.numSamples == 0 {
		return nil, fmt.Errorf("dataset has no rows")
	}
	return d, nil
}

func (d *CSV) NumSamples() int  { return d.numSamples }
func (d *CSV) NumFeatures() int { return d.numFeatures }

// InputFn adds constant-backed iterators that share one cursor, so inputs and
// labels stay aligned. In channels_first format the inputs are [features, batch].
func (d *CSV) InputFn(g *graph.Graph, mode runner.Mode, batchSize int) (runner.Batch, error) {
	if batchSize <= 0 {
		return runner.Batch{}, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	cursor, err := g.LocalVariable("input_cursor", api.NewScalar(0))
	if err != nil {
		return runner.Batch{}, err
	}

	features := g.Constant("features", &api.InlineData{
		Dimensions: []int32{int32(d.numSamples), int32(d.numFeatures)},
		Values:     d.features,
	})
	var batch runner.Batch
	batch.Inputs = g.IteratorNext(features, cursor, batchSize)
	if d.dataFormat == "channels_first" {
		batch.Inputs = g.Transpose(batch.Inputs)
	}

	if mode == runner.ModeInfer {
		return batch, nil
	}
	if d.labels == nil {
		return runner.Batch{}, fmt.Errorf("%s mode needs a labelled dataset", mode)
	}
	batch.Labels = g.IteratorNext(g.Constant("labels", d.oneHot()), cursor, batchSize)
	return batch, nil
}

func (d *CSV) oneHot() *api.InlineData {
	out := &api.InlineData{
		Dimensions: []int32{int32(d.numSamples), int32(d.numClasses)},
		Values:     make([]float32, d.numSamples*d.numClasses),
	}
	for i, label := range d.labels {
		out.Values[i*d.numClasses+label] = 1
	}
	return out
}

