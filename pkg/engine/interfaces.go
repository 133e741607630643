package engine

import (
	"context"
	"errors"
	"io"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
)

type TensorID int32

var (
	ErrTensorNotFound = errors.New("tensor not found")
	ErrUnreachable    = errors.New("tensor unreachable in computation graph")
	ErrNotVariable    = errors.New("tensor is not a variable")
)

// Scope holds registered tensor definitions and the variable state that
// persists between evaluations.
type Scope interface {
	io.Closer

	RegisterTensors(tensors []*api.Tensor) error
	AllTensors() map[TensorID]Tensor

	// Evaluate binds feeds to placeholders (matched by tensor id) and computes wantTensors.
	// Variable writes made during the evaluation become visible only once it completes.
	Evaluate(ctx context.Context, feeds []*api.Tensor, wantTensors []TensorID) error

	ReadVariable(ctx context.Context, id TensorID) (*api.InlineData, error)
	WriteVariable(ctx context.Context, id TensorID, data *api.InlineData) error
}

type Tensor interface {
	TensorID() TensorID
	Dependencies() []TensorID
	CopyDataTo(result *api.Tensor) error
}

// Engine creates scopes honouring an execution policy.
type Engine interface {
	NewScope(ctx context.Context, config SessionConfig) (Scope, error)
}

// SessionConfig is the execution policy for one scope.
type SessionConfig struct {
	// NumGPU is the number of accelerator devices exposed to the engine.
	NumGPU int
	// PerProcessGPUMemoryFraction bounds device memory use.
	PerProcessGPUMemoryFraction float64
	// AllowGrowth allocates device memory incrementally.
	AllowGrowth bool
	// AllowSoftPlacement lets the engine fall back to another device.
	AllowSoftPlacement bool
	LogDevicePlacement bool
}

func (c SessionConfig) ToAPI() *api.SessionConfig {
	return &api.SessionConfig{
		NumGpu:                      int32(c.NumGPU),
		PerProcessGpuMemoryFraction: float32(c.PerProcessGPUMemoryFraction),
		AllowGrowth:                 c.AllowGrowth,
		AllowSoftPlacement:          c.AllowSoftPlacement,
		LogDevicePlacement:          c.LogDevicePlacement,
	}
}

func SessionConfigFromAPI(c *api.SessionConfig) SessionConfig {
	if c == nil {
		return SessionConfig{}
	}
	return SessionConfig{
		NumGPU:                      int(c.NumGpu),
		PerProcessGPUMemoryFraction: float64(c.PerProcessGpuMemoryFraction),
		AllowGrowth:                 c.AllowGrowth,
		AllowSoftPlacement:          c.AllowSoftPlacement,
		LogDevicePlacement:          c.LogDevicePlacement,
	}
}
