package fallback

import (
	"context"
	"fmt"
	"sort"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/engine"
	"k8s.io/klog/v2"
)

type TensorID = engine.TensorID

// Engine evaluates graphs in-process on the CPU.
type Engine struct{}

var _ engine.Engine = Engine{}

func (Engine) NewScope(ctx context.Context, config engine.SessionConfig) (engine.Scope, error) {
	return NewCalculationScope(ctx, config)
}

type CalculationScope struct {
	log    klog.Logger
	config engine.SessionConfig

	tensors map[TensorID]*tensor

	// variables holds the committed value of every variable.
	variables map[TensorID]*api.InlineData
}

var _ engine.Scope = (*CalculationScope)(nil)

func NewCalculationScope(ctx context.Context, config engine.SessionConfig) (*CalculationScope, error) {
	if config.NumGPU > 0 && !config.AllowSoftPlacement {
		return nil, fmt.Errorf("%d GPU devices requested but only CPU is available and soft placement is disabled", config.NumGPU)
	}
	return &CalculationScope{
		log:       klog.FromContext(ctx),
		config:    config,
		tensors:   make(map[TensorID]*tensor),
		variables: make(map[TensorID]*api.InlineData),
	}, nil
}

func (c *CalculationScope) Close() error {
	c.tensors = nil
	c.variables = nil
	return nil
}

func (c *CalculationScope) AllTensors() map[TensorID]engine.Tensor {
	tensors := make(map[TensorID]engine.Tensor, len(c.tensors))
	for _, tensor := range c.tensors {
		tensors[tensor.id] = tensor
	}
	return tensors
}

func (c *CalculationScope) RegisterTensors(tensors []*api.Tensor) error {
	for _, definition := range tensors {
		id := TensorID(definition.GetId())
		if _, ok := c.tensors[id]; ok {
			return fmt.Errorf("tensor %d already registered", definition.GetId())
		}

		t, err := newTensor(definition)
		if err != nil {
			return err
		}
		if t.isVariable() {
			initial := definition.GetComputation().Variable.Initial
			if initial == nil {
				return fmt.Errorf("variable %d (%s) has no initial value", id, definition.GetName())
			}
			c.variables[id] = initial.Clone()
		}
		if c.config.LogDevicePlacement {
			c.log.Info("placing tensor", "id", id, "name", definition.GetName(), "device", "/cpu:0")
		}

		c.tensors[id] = t
	}
	return nil
}

func (c *CalculationScope) ReadVariable(ctx context.Context, id TensorID) (*api.InlineData, error) {
	value, ok := c.variables[id]
	if !ok {
		return nil, fmt.Errorf("tensor %d: %w", id, engine.ErrNotVariable)
	}
	return value.Clone(), nil
}

func (c *CalculationScope) WriteVariable(ctx context.Context, id TensorID, data *api.InlineData) error {
	if _, ok := c.variables[id]; !ok {
		return fmt.Errorf("tensor %d: %w", id, engine.ErrNotVariable)
	}
	c.variables[id] = data.Clone()
	return nil
}

func (c *CalculationScope) Evaluate(ctx context.Context, feeds []*api.Tensor, wantTensors []TensorID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, t := range c.tensors {
		if !t.constant {
			t.inlineData = nil
		}
	}

	for _, feed := range feeds {
		id := TensorID(feed.GetId())
		t, ok := c.tensors[id]
		if !ok {
			return fmt.Errorf("feed for tensor %d: %w", id, engine.ErrTensorNotFound)
		}
		if !t.isPlaceholder() {
			return fmt.Errorf("tensor %d (%s) is fed but is not a placeholder", id, t.definition.GetName())
		}
		if feed.GetInlineData() == nil {
			return fmt.Errorf("feed for placeholder %d has no data", id)
		}
		t.inlineData = feed.GetInlineData()
	}

	evaluationOrder, err := engine.BuildDAG(c, wantTensors)
	if err != nil {
		return err
	}

	run := &evaluation{
		scope:  c,
		writes: make(map[TensorID]*api.InlineData),
	}
	for _, tensorID := range evaluationOrder {
		tensor, ok := c.tensors[tensorID]
		if !ok {
			return fmt.Errorf("tensor %d: %w", tensorID, engine.ErrTensorNotFound)
		}
		if err := run.evaluateTensor(tensor); err != nil {
			return fmt.Errorf("evaluating tensor %d (%s): %w", tensorID, tensor.definition.GetName(), err)
		}
	}

	// Commit in id order so logs are stable; the last write to a variable wins.
	ids := make([]TensorID, 0, len(run.writes))
	for id := range run.writes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		c.variables[id] = run.writes[id]
	}
	c.log.V(4).Info("evaluated tensors", "want", wantTensors, "evaluated", len(evaluationOrder), "variableWrites", len(ids))

	return nil
}

// evaluation is one call to Evaluate. Reads see the committed variable
// values; writes are collected and committed once every tensor succeeded.
type evaluation struct {
	scope  *CalculationScope
	writes map[TensorID]*api.InlineData
}

func (e *evaluation) value(id int32) (*api.InlineData, error) {
	source, found := e.scope.tensors[TensorID(id)]
	if !found {
		return nil, fmt.Errorf("source tensor %d not found", id)
	}
	if source.inlineData == nil {
		return nil, fmt.Errorf("source tensor %d has not been evaluated", id)
	}
	return source.inlineData, nil
}

func (e *evaluation) values(ids []int32, want int) ([]*api.InlineData, error) {
	if want > 0 && len(ids) != want {
		return nil, fmt.Errorf("expected %d source tensors, got %d", want, len(ids))
	}
	out := make([]*api.InlineData, len(ids))
	for i, id := range ids {
		v, err := e.value(id)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *evaluation) variable(id int32) (*api.InlineData, error) {
	value, ok := e.scope.variables[TensorID(id)]
	if !ok {
		return nil, fmt.Errorf("tensor %d: %w", id, engine.ErrNotVariable)
	}
	return value, nil
}

func (e *evaluation) write(id int32, value *api.InlineData) {
	e.writes[TensorID(id)] = value
}

func (e *evaluation) evaluateTensor(tensor *tensor) error {
	if tensor.inlineData != nil {
		return nil
	}

	if tensor.isVariable() {
		value, err := e.variable(int32(tensor.id))
		if err != nil {
			return err
		}
		tensor.inlineData = value
		return nil
	}

	computation := tensor.definition.GetComputation()
	if computation == nil {
		return fmt.Errorf("tensor %d has no computation", tensor.definition.GetId())
	}

	result, err := e.compute(computation.GetOperation())
	if err != nil {
		return err
	}
	tensor.inlineData = result
	return nil
}

func (e *evaluation) compute(operation any) (*api.InlineData, error) {
	switch operation := operation.(type) {
	case *api.Placeholder:
		return nil, fmt.Errorf("placeholder %q was not fed", operation.Name)

	case *api.LinearScale:
		source, err := e.value(operation.Source)
		if err != nil {
			return nil, err
		}
		return linearScale(source, operation.Scale), nil

	case *api.RMSNorm:
		source, err := e.value(operation.GetSource())
		if err != nil {
			return nil, err
		}
		epsilon := float32(1e-5)
		if v := operation.GetEpsilon(); v != 0 {
			epsilon = v
		}
		return rmsNorm(source, epsilon), nil

	case *api.Add:
		sources, err := e.values(operation.Sources, 2)
		if err != nil {
			return nil, err
		}
		return broadcast(sources[0], sources[1], func(x, y float32) float32 { return x + y })

	case *api.Sub:
		sources, err := e.values(operation.Sources, 2)
		if err != nil {
			return nil, err
		}
		return broadcast(sources[0], sources[1], func(x, y float32) float32 { return x - y })

	case *api.DotMultiply:
		sources, err := e.values(operation.Sources, 2)
		if err != nil {
			return nil, err
		}
		return broadcast(sources[0], sources[1], func(x, y float32) float32 { return x * y })

	case *api.Equal:
		sources, err := e.values(operation.Sources, 2)
		if err != nil {
			return nil, err
		}
		return broadcast(sources[0], sources[1], func(x, y float32) float32 {
			if x == y {
				return 1
			}
			return 0
		})

	case *api.MatMul:
		a, err := e.value(operation.A)
		if err != nil {
			return nil, err
		}
		b, err := e.value(operation.B)
		if err != nil {
			return nil, err
		}
		return matMul(a, b, operation.TransposeA, operation.TransposeB)

	case *api.Transpose:
		source, err := e.value(operation.Source)
		if err != nil {
			return nil, err
		}
		return transpose(source)

	case *api.Softmax:
		source, err := e.value(operation.Source)
		if err != nil {
			return nil, err
		}
		return softmax(source)

	case *api.Log:
		source, err := e.value(operation.Source)
		if err != nil {
			return nil, err
		}
		return logOf(source, operation.Epsilon), nil

	case *api.ReduceSum:
		source, err := e.value(operation.Source)
		if err != nil {
			return nil, err
		}
		return reduceSum(source, operation.Axis)

	case *api.ReduceMean:
		source, err := e.value(operation.Source)
		if err != nil {
			return nil, err
		}
		return reduceMean(source, operation.Axis)

	case *api.ArgMax:
		source, err := e.value(operation.Source)
		if err != nil {
			return nil, err
		}
		return argMax(source)

	case *api.PiecewiseConstant:
		source, err := e.value(operation.Source)
		if err != nil {
			return nil, err
		}
		return piecewiseConstant(source, operation.Boundaries, operation.Values)

	case *api.IteratorNext:
		source, err := e.value(operation.Source)
		if err != nil {
			return nil, err
		}
		cursor, err := e.variable(operation.Cursor)
		if err != nil {
			return nil, err
		}
		batch, next, err := iteratorNext(source, cursor, int(operation.BatchSize))
		if err != nil {
			return nil, err
		}
		e.write(operation.Cursor, next)
		return batch, nil

	case *api.Assign:
		if _, err := e.variable(operation.Variable); err != nil {
			return nil, err
		}
		value, err := e.value(operation.Value)
		if err != nil {
			return nil, err
		}
		e.write(operation.Variable, value.Clone())
		return value, nil

	case *api.AssignAdd:
		current, err := e.variable(operation.Variable)
		if err != nil {
			return nil, err
		}
		delta, err := e.value(operation.Value)
		if err != nil {
			return nil, err
		}
		updated, err := broadcast(current, delta, func(x, y float32) float32 { return x + y })
		if err != nil {
			return nil, err
		}
		e.write(operation.Variable, updated)
		return updated, nil

	case *api.ApplyGradientDescent:
		current, err := e.variable(operation.Variable)
		if err != nil {
			return nil, err
		}
		gradient, err := e.value(operation.Gradient)
		if err != nil {
			return nil, err
		}
		learningRate, err := e.value(operation.LearningRate)
		if err != nil {
			return nil, err
		}
		lr, err := learningRate.Scalar()
		if err != nil {
			return nil, fmt.Errorf("learning rate: %w", err)
		}
		updated, err := broadcast(current, gradient, func(x, g float32) float32 { return x - lr*g })
		if err != nil {
			return nil, err
		}
		e.write(operation.Variable, updated)
		return updated, nil

	case *api.Group:
		if _, err := e.values(operation.Sources, 0); err != nil {
			return nil, err
		}
		return &api.InlineData{}, nil

	case *api.ScalarSummary:
		source, err := e.value(operation.Source)
		if err != nil {
			return nil, err
		}
		v, err := source.Scalar()
		if err != nil {
			return nil, fmt.Errorf("summary %q: %w", operation.Tag, err)
		}
		return &api.InlineData{Summaries: []*api.Summary{{Tag: operation.Tag, Value: v}}}, nil

	case *api.MergeSummary:
		sources, err := e.values(operation.Sources, 0)
		if err != nil {
			return nil, err
		}
		merged := &api.InlineData{}
		for _, source := range sources {
			merged.Summaries = append(merged.Summaries, source.GetSummaries()...)
		}
		return merged, nil

	default:
		return nil, fmt.Errorf("unsupported operation: %T %+v", operation, operation)
	}
}
