package callbacks

import (
	"context"

	"k8s.io/examples/AI/trainloop/pkg/graph"
	"k8s.io/examples/AI/trainloop/pkg/runner"
)

// Summary writes the merged "summary" output every Every steps.
type Summary struct {
	runner.BaseCallback
	stepCounter

	Every int64
}

func NewSummary(globalStep graph.Node, every int64) *Summary {
	return &Summary{stepCounter: stepCounter{globalStep: globalStep}, Every: every}
}

func (s *Summary) BeforeRun(ctx context.Context, sess *graph.Session, saver runner.Saver) error {
	return s.start(ctx, sess)
}

func (s *Summary) AfterStep(ctx context.Context, sess *graph.Session, outputs runner.Outputs, saver runner.Saver, summary runner.SummaryWriter, feeds graph.Feeds) (map[string]string, error) {
	s.step++
	merged, ok := outputs[runner.OutputSummary]
	if !ok || summary == nil {
		return nil, nil
	}
	if s.Every > 1 && s.step%s.Every != 0 {
		return nil, nil
	}
	return nil, summary.WriteSummary(ctx, s.step, merged)
}

func (s *Summary) AfterRun(ctx context.Context, sess *graph.Session, saver runner.Saver, summary runner.SummaryWriter) error {
	if summary == nil {
		return nil
	}
	return summary.Flush()
}
