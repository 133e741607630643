package v1alpha1

// TensorOperation is a one-of: exactly one field is expected to be set.
type TensorOperation struct {
	Placeholder *Placeholder `json:"placeholder,omitempty"`
	Variable    *Variable    `json:"variable,omitempty"`

	LinearScale       *LinearScale       `json:"linearScale,omitempty"`
	RmsNorm           *RMSNorm           `json:"rmsNorm,omitempty"`
	Add               *Add               `json:"add,omitempty"`
	Sub               *Sub               `json:"sub,omitempty"`
	DotMultiply       *DotMultiply       `json:"dotMultiply,omitempty"`
	MatMul            *MatMul            `json:"matMul,omitempty"`
	Softmax           *Softmax           `json:"softmax,omitempty"`
	Log               *Log               `json:"log,omitempty"`
	ReduceSum         *ReduceSum         `json:"reduceSum,omitempty"`
	ReduceMean        *ReduceMean        `json:"reduceMean,omitempty"`
	ArgMax            *ArgMax            `json:"argMax,omitempty"`
	Equal             *Equal             `json:"equal,omitempty"`
	Transpose         *Transpose         `json:"transpose,omitempty"`
	PiecewiseConstant *PiecewiseConstant `json:"piecewiseConstant,omitempty"`

	IteratorNext         *IteratorNext         `json:"iteratorNext,omitempty"`
	Assign               *Assign               `json:"assign,omitempty"`
	AssignAdd            *AssignAdd            `json:"assignAdd,omitempty"`
	ApplyGradientDescent *ApplyGradientDescent `json:"applyGradientDescent,omitempty"`
	Group                *Group                `json:"group,omitempty"`

	ScalarSummary *ScalarSummary `json:"scalarSummary,omitempty"`
	MergeSummary  *MergeSummary  `json:"mergeSummary,omitempty"`
}

// GetOperation returns the operation that is set, or nil.
func (o *TensorOperation) GetOperation() any {
	if o == nil {
		return nil
	}
	switch {
	case o.Placeholder != nil:
		return o.Placeholder
	case o.Variable != nil:
		return o.Variable
	case o.LinearScale != nil:
		return o.LinearScale
	case o.RmsNorm != nil:
		return o.RmsNorm
	case o.Add != nil:
		return o.Add
	case o.Sub != nil:
		return o.Sub
	case o.DotMultiply != nil:
		return o.DotMultiply
	case o.MatMul != nil:
		return o.MatMul
	case o.Softmax != nil:
		return o.Softmax
	case o.Log != nil:
		return o.Log
	case o.ReduceSum != nil:
		return o.ReduceSum
	case o.ReduceMean != nil:
		return o.ReduceMean
	case o.ArgMax != nil:
		return o.ArgMax
	case o.Equal != nil:
		return o.Equal
	case o.Transpose != nil:
		return o.Transpose
	case o.PiecewiseConstant != nil:
		return o.PiecewiseConstant
	case o.IteratorNext != nil:
		return o.IteratorNext
	case o.Assign != nil:
		return o.Assign
	case o.AssignAdd != nil:
		return o.AssignAdd
	case o.ApplyGradientDescent != nil:
		return o.ApplyGradientDescent
	case o.Group != nil:
		return o.Group
	case o.ScalarSummary != nil:
		return o.ScalarSummary
	case o.MergeSummary != nil:
		return o.MergeSummary
	}
	return nil
}

// Placeholder is an input supplied by name on every evaluation.
type Placeholder struct {
	Name string `json:"name"`
}

// Variable is state that persists across evaluations within one scope.
type Variable struct {
	Initial   *InlineData `json:"initial,omitempty"`
	Trainable bool        `json:"trainable,omitempty"`
}

type LinearScale struct {
	Source int32   `json:"source"`
	Scale  float32 `json:"scale"`
}

type RMSNorm struct {
	Source  int32   `json:"source"`
	Epsilon float32 `json:"epsilon,omitempty"`
}

func (o *RMSNorm) GetSource() int32 {
	if o == nil {
		return 0
	}
	return o.Source
}

func (o *RMSNorm) GetEpsilon() float32 {
	if o == nil {
		return 0
	}
	return o.Epsilon
}

type Add struct {
	Sources []int32 `json:"sources"`
}

type Sub struct {
	Sources []int32 `json:"sources"`
}

type DotMultiply struct {
	Sources []int32 `json:"sources"`
}

type MatMul struct {
	A          int32 `json:"a"`
	B          int32 `json:"b"`
	TransposeA bool  `json:"transposeA,omitempty"`
	TransposeB bool  `json:"transposeB,omitempty"`
}

// Softmax is computed along the last dimension.
type Softmax struct {
	Source int32 `json:"source"`
}

// Log is the natural logarithm, clamped away from zero by Epsilon.
type Log struct {
	Source  int32   `json:"source"`
	Epsilon float32 `json:"epsilon,omitempty"`
}

// AllAxes reduces every dimension down to a scalar.
const AllAxes int32 = -1

type ReduceSum struct {
	Source int32 `json:"source"`
	Axis   int32 `json:"axis"`
}

type ReduceMean struct {
	Source int32 `json:"source"`
	Axis   int32 `json:"axis"`
}

// ArgMax is computed along the last dimension.
type ArgMax struct {
	Source int32 `json:"source"`
}

// Equal yields 1 where the sources match and 0 elsewhere.
type Equal struct {
	Sources []int32 `json:"sources"`
}

type Transpose struct {
	Source int32 `json:"source"`
}

// PiecewiseConstant maps a scalar source onto Values, switching at each
// boundary. len(Values) must be len(Boundaries)+1.
type PiecewiseConstant struct {
	Source     int32     `json:"source"`
	Boundaries []float32 `json:"boundaries,omitempty"`
	Values     []float32 `json:"values"`
}

// IteratorNext yields BatchSize consecutive rows of Source starting at the
// row held by the Cursor variable, wrapping around, and advances the cursor.
type IteratorNext struct {
	Source    int32 `json:"source"`
	Cursor    int32 `json:"cursor"`
	BatchSize int32 `json:"batchSize"`
}

type Assign struct {
	Variable int32 `json:"variable"`
	Value    int32 `json:"value"`
}

type AssignAdd struct {
	Variable int32 `json:"variable"`
	Value    int32 `json:"value"`
}

type ApplyGradientDescent struct {
	Variable     int32 `json:"variable"`
	Gradient     int32 `json:"gradient"`
	LearningRate int32 `json:"learningRate"`
}

// Group evaluates all sources as one unit and has no value of its own.
type Group struct {
	Sources []int32 `json:"sources"`
}

type ScalarSummary struct {
	Tag    string `json:"tag"`
	Source int32  `json:"source"`
}

type MergeSummary struct {
	Sources []int32 `json:"sources,omitempty"`
}
