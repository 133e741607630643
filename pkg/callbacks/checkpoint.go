// Package callbacks holds the stock callbacks wired by the trainloop binary.
package callbacks

import (
	"context"
	"fmt"
	"math"

	"k8s.io/klog/v2"

	"k8s.io/examples/AI/trainloop/pkg/graph"
	"k8s.io/examples/AI/trainloop/pkg/runner"
)

// stepCounter tracks the global step without an engine round trip per step.
// It reads the starting value once in BeforeRun. A zero globalStep means the
// session graph's "global_step" variable, if it has one.
type stepCounter struct {
	globalStep graph.Node
	step       int64
}

func (c *stepCounter) start(ctx context.Context, sess *graph.Session) error {
	c.step = 0
	node := c.globalStep
	if !node.Valid() {
		node, _ = sess.Graph().LookupVariable(graph.GlobalStepName)
	}
	if !node.Valid() {
		return nil
	}
	v, err := sess.Run1(ctx, node, nil)
	if err != nil {
		return fmt.Errorf("reading global step: %w", err)
	}
	f, err := v.Scalar()
	if err != nil {
		return fmt.Errorf("reading global step: %w", err)
	}
	c.step = int64(math.Round(float64(f)))
	return nil
}

// Checkpoint restores variables before the run and, in train mode, saves them
// every Every steps and once more at the end.
type Checkpoint struct {
	runner.BaseCallback
	stepCounter

	Mode runner.Mode
	// Required fails the run with ErrNoCheckpoint when there is nothing to
	// restore, as eval and infer runs need trained variables.
	Required bool
	// Every is the save interval in steps; 0 saves only at the end.
	Every int64

	lastSaved int64
}

// NewCheckpoint accepts a zero globalStep when the graph is not built yet.
func NewCheckpoint(mode runner.Mode, globalStep graph.Node, every int64) *Checkpoint {
	return &Checkpoint{
		stepCounter: stepCounter{globalStep: globalStep},
		Mode:        mode,
		Required:    mode != runner.ModeTrain,
		Every:       every,
	}
}

func (c *Checkpoint) BeforeRun(ctx context.Context, sess *graph.Session, saver runner.Saver) error {
	log := klog.FromContext(ctx)

	restored := false
	if saver != nil {
		ok, err := saver.Restore(ctx, sess)
		if err != nil {
			return err
		}
		restored = ok
	}
	if !restored {
		if c.Required {
			return fmt.Errorf("%s run: %w", c.Mode, runner.ErrNoCheckpoint)
		}
		log.Info("no checkpoint to restore, starting from initial values")
	}

	if err := c.start(ctx, sess); err != nil {
		return err
	}
	c.lastSaved = c.step
	return nil
}

func (c *Checkpoint) AfterStep(ctx context.Context, sess *graph.Session, outputs runner.Outputs, saver runner.Saver, summary runner.SummaryWriter, feeds graph.Feeds) (map[string]string, error) {
	c.step++
	if c.Mode != runner.ModeTrain || saver == nil || c.Every <= 0 || c.step%c.Every != 0 {
		return nil, nil
	}
	if err := saver.Save(ctx, sess, c.step); err != nil {
		return nil, err
	}
	c.lastSaved = c.step
	return nil, nil
}

func (c *Checkpoint) AfterRun(ctx context.Context, sess *graph.Session, saver runner.Saver, summary runner.SummaryWriter) error {
	if c.Mode != runner.ModeTrain || saver == nil || c.lastSaved == c.step {
		return nil
	}
	return saver.Save(ctx, sess, c.step)
}
