package graph

import (
	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
)

func (g *Graph) op(name string, operation *api.TensorOperation) Node {
	return g.add(name, nil, operation)
}

func ids(nodes ...Node) []int32 {
	out := make([]int32, len(nodes))
	for i, n := range nodes {
		out[i] = n.id
	}
	return out
}

func (g *Graph) LinearScale(x Node, scale float32) Node {
	return g.op("linear_scale", &api.TensorOperation{LinearScale: &api.LinearScale{Source: x.id, Scale: scale}})
}

func (g *Graph) RMSNorm(x Node, epsilon float32) Node {
	return g.op("rms_norm", &api.TensorOperation{RmsNorm: &api.RMSNorm{Source: x.id, Epsilon: epsilon}})
}

func (g *Graph) Add(a, b Node) Node {
	return g.op("add", &api.TensorOperation{Add: &api.Add{Sources: ids(a, b)}})
}

func (g *Graph) Sub(a, b Node) Node {
	return g.op("sub", &api.TensorOperation{Sub: &api.Sub{Sources: ids(a, b)}})
}

// Mul is the elementwise product.
func (g *Graph) Mul(a, b Node) Node {
	return g.op("mul", &api.TensorOperation{DotMultiply: &api.DotMultiply{Sources: ids(a, b)}})
}

func (g *Graph) MatMul(a, b Node, transposeA, transposeB bool) Node {
	return g.op("matmul", &api.TensorOperation{MatMul: &api.MatMul{A: a.id, B: b.id, TransposeA: transposeA, TransposeB: transposeB}})
}

func (g *Graph) Transpose(x Node) Node {
	return g.op("transpose", &api.TensorOperation{Transpose: &api.Transpose{Source: x.id}})
}

func (g *Graph) Softmax(x Node) Node {
	return g.op("softmax", &api.TensorOperation{Softmax: &api.Softmax{Source: x.id}})
}

func (g *Graph) Log(x Node) Node {
	return g.op("log", &api.TensorOperation{Log: &api.Log{Source: x.id}})
}

// ReduceSum sums along axis, or over everything with api.AllAxes.
func (g *Graph) ReduceSum(x Node, axis int32) Node {
	return g.op("reduce_sum", &api.TensorOperation{ReduceSum: &api.ReduceSum{Source: x.id, Axis: axis}})
}

func (g *Graph) ReduceMean(x Node, axis int32) Node {
	return g.op("reduce_mean", &api.TensorOperation{ReduceMean: &api.ReduceMean{Source: x.id, Axis: axis}})
}

func (g *Graph) ArgMax(x Node) Node {
	return g.op("argmax", &api.TensorOperation{ArgMax: &api.ArgMax{Source: x.id}})
}

func (g *Graph) Equal(a, b Node) Node {
	return g.op("equal", &api.TensorOperation{Equal: &api.Equal{Sources: ids(a, b)}})
}

func (g *Graph) PiecewiseConstant(x Node, boundaries, values []float32) Node {
	return g.op("piecewise_constant", &api.TensorOperation{PiecewiseConstant: &api.PiecewiseConstant{
		Source:     x.id,
		Boundaries: boundaries,
		Values:     values,
	}})
}

// IteratorNext yields the next batchSize rows of source on every evaluation.
// Iterators sharing a cursor advance in lockstep.
func (g *Graph) IteratorNext(source, cursor Node, batchSize int) Node {
	return g.op("iterator_next", &api.TensorOperation{IteratorNext: &api.IteratorNext{
		Source:    source.id,
		Cursor:    cursor.id,
		BatchSize: int32(batchSize),
	}})
}

func (g *Graph) Assign(variable, value Node) Node {
	return g.op("assign", &api.TensorOperation{Assign: &api.Assign{Variable: variable.id, Value: value.id}})
}

func (g *Graph) AssignAdd(variable, value Node) Node {
	return g.op("assign_add", &api.TensorOperation{AssignAdd: &api.AssignAdd{Variable: variable.id, Value: value.id}})
}

func (g *Graph) ApplyGradientDescent(variable, gradient, learningRate Node) Node {
	return g.op("apply_gradient_descent", &api.TensorOperation{ApplyGradientDescent: &api.ApplyGradientDescent{
		Variable:     variable.id,
		Gradient:     gradient.id,
		LearningRate: learningRate.id,
	}})
}

// Group runs all nodes as one unit. It has no value of its own.
func (g *Graph) Group(nodes ...Node) Node {
	return g.op("group", &api.TensorOperation{Group: &api.Group{Sources: ids(nodes...)}})
}

func (g *Graph) ScalarSummary(tag string, x Node) Node {
	return g.op("summary_"+tag, &api.TensorOperation{ScalarSummary: &api.ScalarSummary{Tag: tag, Source: x.id}})
}

// MergeSummary merges summaries. Merging nothing is allowed and yields an empty summary.
func (g *Graph) MergeSummary(summaries ...Node) Node {
	return g.op("merged_summary", &api.TensorOperation{MergeSummary: &api.MergeSummary{Sources: ids(summaries...)}})
}
