package runner

import (
	"context"
	"sort"
	"strings"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/graph"
)

// Saver persists and restores session variables.
type Saver interface {
	Save(ctx context.Context, sess *graph.Session, step int64) error
	// Restore loads the latest checkpoint, reporting false if there is none.
	Restore(ctx context.Context, sess *graph.Session) (bool, error)
}

// SummaryWriter records merged summaries.
type SummaryWriter interface {
	WriteSummary(ctx context.Context, step int64, summary *api.InlineData) error
	Flush() error
}

// Callback hooks into the run loop. Hooks are called in registration order.
//
// AfterStep may modify feeds in place; the modified values are used from the
// next step on. This is the only channel through which a step's outputs flow
// into later steps. The returned strings are appended to the progress line.
//
// Saver and SummaryWriter may be nil when the runner has none configured.
type Callback interface {
	BeforeRun(ctx context.Context, sess *graph.Session, saver Saver) error
	BeforeStep(ctx context.Context, sess *graph.Session) error
	AfterStep(ctx context.Context, sess *graph.Session, outputs Outputs, saver Saver, summary SummaryWriter, feeds graph.Feeds) (map[string]string, error)
	AfterRun(ctx context.Context, sess *graph.Session, saver Saver, summary SummaryWriter) error
}

// BaseCallback implements every hook as a no-op, for embedding.
type BaseCallback struct{}

var _ Callback = BaseCallback{}

func (BaseCallback) BeforeRun(ctx context.Context, sess *graph.Session, saver Saver) error {
	return nil
}

func (BaseCallback) BeforeStep(ctx context.Context, sess *graph.Session) error {
	return nil
}

func (BaseCallback) AfterStep(ctx context.Context, sess *graph.Session, outputs Outputs, saver Saver, summary SummaryWriter, feeds graph.Feeds) (map[string]string, error) {
	return nil, nil
}

func (BaseCallback) AfterRun(ctx context.Context, sess *graph.Session, saver Saver, summary SummaryWriter) error {
	return nil
}

func (r *Runner) beforeRun(ctx context.Context, sess *graph.Session) error {
	for i, callback := range r.callbacks {
		if err := callback.BeforeRun(ctx, sess, r.saver); err != nil {
			return &CallbackError{Hook: "before_run", Index: i, Err: err}
		}
	}
	return nil
}

func (r *Runner) beforeStep(ctx context.Context, sess *graph.Session) error {
	for i, callback := range r.callbacks {
		if err := callback.BeforeStep(ctx, sess); err != nil {
			return &CallbackError{Hook: "before_step", Index: i, Err: err}
		}
	}
	return nil
}

// afterStep runs the hooks and returns the progress line built from their display strings.
func (r *Runner) afterStep(ctx context.Context, sess *graph.Session, outputs Outputs) (string, error) {
	var line strings.Builder
	for i, callback := range r.callbacks {
		display, err := callback.AfterStep(ctx, sess, outputs, r.saver, r.summaryWriter, r.feeds)
		if err != nil {
			return "", &CallbackError{Hook: "after_step", Index: i, Err: err}
		}
		keys := make([]string, 0, len(display))
		for key := range display {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			line.WriteString(display[key])
			line.WriteString(" ")
		}
	}
	return line.String(), nil
}

func (r *Runner) afterRun(ctx context.Context, sess *graph.Session) error {
	for i, callback := range r.callbacks {
		if err := callback.AfterRun(ctx, sess, r.saver, r.summaryWriter); err != nil {
			return &CallbackError{Hook: "after_run", Index: i, Err: err}
		}
	}
	return nil
}
