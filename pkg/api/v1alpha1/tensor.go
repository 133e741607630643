// Package v1alpha1 holds the wire types exchanged with a tensor engine.
//
// The types follow protobuf conventions (nil-safe getters, one-of operations)
// so that they read the same whether the engine runs in-process or behind the
// BigCalculator gRPC service.
package v1alpha1

import "fmt"

type Tensor struct {
	Id   int32  `json:"id"`
	Name string `json:"name,omitempty"`

	InlineData  *InlineData      `json:"inlineData,omitempty"`
	Computation *TensorOperation `json:"computation,omitempty"`
}

func (t *Tensor) GetId() int32 {
	if t == nil {
		return 0
	}
	return t.Id
}

func (t *Tensor) GetName() string {
	if t == nil {
		return ""
	}
	return t.Name
}

func (t *Tensor) GetInlineData() *InlineData {
	if t == nil {
		return nil
	}
	return t.InlineData
}

func (t *Tensor) GetComputation() *TensorOperation {
	if t == nil {
		return nil
	}
	return t.Computation
}

// InlineData is a dense float32 tensor in row-major order.
// A scalar has no dimensions.
type InlineData struct {
	Dimensions []int32   `json:"dimensions,omitempty"`
	Values     []float32 `json:"values,omitempty"`

	// Summaries is set instead of Values by summary operations.
	Summaries []*Summary `json:"summaries,omitempty"`
}

func (d *InlineData) GetDimensions() []int32 {
	if d == nil {
		return nil
	}
	return d.Dimensions
}

func (d *InlineData) GetValues() []float32 {
	if d == nil {
		return nil
	}
	return d.Values
}

func (d *InlineData) GetSummaries() []*Summary {
	if d == nil {
		return nil
	}
	return d.Summaries
}

// Clone returns a deep copy.
func (d *InlineData) Clone() *InlineData {
	if d == nil {
		return nil
	}
	out := &InlineData{
		Dimensions: append([]int32(nil), d.Dimensions...),
		Values:     append([]float32(nil), d.Values...),
	}
	for _, s := range d.Summaries {
		out.Summaries = append(out.Summaries, &Summary{Tag: s.Tag, Value: s.Value})
	}
	return out
}

// Scalar returns the single value of a one-element tensor.
func (d *InlineData) Scalar() (float32, error) {
	values := d.GetValues()
	if len(values) != 1 {
		return 0, fmt.Errorf("expected scalar, got %d values", len(values))
	}
	return values[0], nil
}

func (d *InlineData) String() string {
	if d == nil {
		return "<nil>"
	}
	if len(d.Summaries) != 0 {
		return fmt.Sprintf("summaries%v", d.Summaries)
	}
	if len(d.Dimensions) == 0 && len(d.Values) == 1 {
		return fmt.Sprintf("%g", d.Values[0])
	}
	return fmt.Sprintf("%v%v", d.Dimensions, d.Values)
}

// NewScalar builds a scalar tensor.
func NewScalar(v float32) *InlineData {
	return &InlineData{Values: []float32{v}}
}

type Summary struct {
	Tag   string  `json:"tag"`
	Value float32 `json:"value"`
}

func (s *Summary) String() string {
	return fmt.Sprintf("%s=%g", s.Tag, s.Value)
}
