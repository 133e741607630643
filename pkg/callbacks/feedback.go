package callbacks

import (
	"context"
	"fmt"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/graph"
	"k8s.io/examples/AI/trainloop/pkg/runner"
)

// TransformFunc maps a step output to the next step's feed value.
type TransformFunc func(output *api.InlineData) (*api.InlineData, error)

// Feedback routes one step output into a sequential feed for the next step.
// The feed must already be declared by the model.
type Feedback struct {
	runner.BaseCallback

	Output    string
	Feed      string
	Transform TransformFunc
}

func (f *Feedback) AfterStep(ctx context.Context, sess *graph.Session, outputs runner.Outputs, saver runner.Saver, summary runner.SummaryWriter, feeds graph.Feeds) (map[string]string, error) {
	if _, ok := feeds[f.Feed]; !ok {
		return nil, fmt.Errorf("feedback target %q is not a declared feed", f.Feed)
	}
	out, ok := outputs[f.Output]
	if !ok {
		return nil, fmt.Errorf("feedback source %q is not a step output", f.Output)
	}
	next := out.Clone()
	if f.Transform != nil {
		var err error
		if next, err = f.Transform(next); err != nil {
			return nil, fmt.Errorf("transforming %q into %q: %w", f.Output, f.Feed, err)
		}
	}
	feeds[f.Feed] = next
	return nil, nil
}
