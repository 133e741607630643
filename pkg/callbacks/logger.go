package callbacks

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"k8s.io/examples/AI/trainloop/pkg/graph"
	"k8s.io/examples/AI/trainloop/pkg/runner"
)

// Logger shows scalar outputs on the progress line and logs their run
// averages when the run ends.
type Logger struct {
	runner.BaseCallback

	Names []string

	sums  map[string]float64
	steps int
}

// NewLogger picks the outputs worth showing for the mode.
func NewLogger(mode runner.Mode) *Logger {
	switch mode {
	case runner.ModeTrain:
		return &Logger{Names: []string{runner.OutputLoss, runner.OutputAccuracy, runner.OutputLearningRate}}
	case runner.ModeEval:
		return &Logger{Names: []string{runner.OutputLoss, runner.OutputAccuracy}}
	default:
		return &Logger{}
	}
}

func (l *Logger) BeforeRun(ctx context.Context, sess *graph.Session, saver runner.Saver) error {
	l.sums = make(map[string]float64, len(l.Names))
	l.steps = 0
	return nil
}

func (l *Logger) AfterStep(ctx context.Context, sess *graph.Session, outputs runner.Outputs, saver runner.Saver, summary runner.SummaryWriter, feeds graph.Feeds) (map[string]string, error) {
	l.steps++
	display := make(map[string]string, len(l.Names))
	for _, name := range l.Names {
		v, ok := outputs.Scalar(name)
		if !ok {
			continue
		}
		l.sums[name] += float64(v)
		display[name] = fmt.Sprintf("%s: %.4f", name, v)
	}
	return display, nil
}

func (l *Logger) AfterRun(ctx context.Context, sess *graph.Session, saver runner.Saver, summary runner.SummaryWriter) error {
	log := klog.FromContext(ctx)
	if l.steps == 0 {
		return nil
	}
	kv := make([]any, 0, 2*len(l.Names)+2)
	kv = append(kv, "steps", l.steps)
	for _, name := range l.Names {
		if sum, ok := l.sums[name]; ok {
			kv = append(kv, name, sum/float64(l.steps))
		}
	}
	log.Info("run averages", kv...)
	return nil
}

// Averages returns the mean of each shown output over the run so far.
func (l *Logger) Averages() map[string]float64 {
	out := make(map[string]float64, len(l.sums))
	if l.steps == 0 {
		return out
	}
	for name, sum := range l.sums {
		out[name] = sum / float64(l.steps)
	}
	return out
}
