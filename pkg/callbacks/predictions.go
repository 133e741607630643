package callbacks

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"k8s.io/examples/AI/trainloop/pkg/graph"
	"k8s.io/examples/AI/trainloop/pkg/runner"
)

// Predictions writes one CSV row per inferred sample: the class followed by
// the probability of every class.
type Predictions struct {
	runner.BaseCallback

	w    *csv.Writer
	rows int
}

func NewPredictions(out io.Writer) *Predictions {
	return &Predictions{w: csv.NewWriter(out)}
}

func (p *Predictions) AfterStep(ctx context.Context, sess *graph.Session, outputs runner.Outputs, saver runner.Saver, summary runner.SummaryWriter, feeds graph.Feeds) (map[string]string, error) {
	classes, ok := outputs[runner.OutputClasses]
	if !ok {
		return nil, nil
	}
	probs := outputs[runner.OutputProbabilities]

	n := len(classes.GetValues())
	if n == 0 {
		return nil, nil
	}
	width := len(probs.GetValues()) / n
	if width*n != len(probs.GetValues()) {
		return nil, fmt.Errorf("probabilities do not match %d classes", n)
	}

	record := make([]string, 1+width)
	for i := 0; i < n; i++ {
		record[0] = strconv.Itoa(int(classes.Values[i]))
		for j := 0; j < width; j++ {
			record[1+j] = strconv.FormatFloat(float64(probs.Values[i*width+j]), 'g', 6, 32)
		}
		if err := p.w.Write(record); err != nil {
			return nil, fmt.Errorf("writing prediction: %w", err)
		}
	}
	p.rows += n
	return map[string]string{"predictions": fmt.Sprintf("predicted: %d", p.rows)}, nil
}

func (p *Predictions) AfterRun(ctx context.Context, sess *graph.Session, saver runner.Saver, summary runner.SummaryWriter) error {
	p.w.Flush()
	return p.w.Error()
}
