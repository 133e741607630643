// Package checkpoint saves and restores session variables.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/graph"
	"k8s.io/examples/AI/trainloop/pkg/runner"
)

// Checkpoint is the serialized form of every global variable at one step.
type Checkpoint struct {
	Step      int64                      `json:"step"`
	CreatedAt time.Time                  `json:"createdAt"`
	Variables map[string]*api.InlineData `json:"variables"`
}

type Store interface {
	Put(ctx context.Context, ckpt *Checkpoint) error
	// Latest returns the most recent checkpoint, or nil if there is none.
	Latest(ctx context.Context) (*Checkpoint, error)
}

// Saver implements runner.Saver over a Store.
type Saver struct {
	Store Store
}

var _ runner.Saver = &Saver{}

func (s *Saver) Save(ctx context.Context, sess *graph.Session, step int64) error {
	log := klog.FromContext(ctx)

	vars, err := sess.Variables(ctx)
	if err != nil {
		return fmt.Errorf("reading variables: %w", err)
	}
	ckpt := &Checkpoint{Step: step, CreatedAt: time.Now().UTC(), Variables: vars}
	if err := s.Store.Put(ctx, ckpt); err != nil {
		return fmt.Errorf("storing checkpoint for step %d: %w", step, err)
	}
	log.Info("saved checkpoint", "step", step, "variables", len(vars))
	return nil
}

func (s *Saver) Restore(ctx context.Context, sess *graph.Session) (bool, error) {
	log := klog.FromContext(ctx)

	ckpt, err := s.Store.Latest(ctx)
	if err != nil {
		return false, fmt.Errorf("finding latest checkpoint: %w", err)
	}
	if ckpt == nil {
		return false, nil
	}
	if err := sess.SetVariables(ctx, ckpt.Variables); err != nil {
		return false, fmt.Errorf("restoring checkpoint for step %d: %w", ckpt.Step, err)
	}
	log.Info("restored checkpoint", "step", ckpt.Step, "createdAt", ckpt.CreatedAt)
	return true, nil
}
