package runner

import "k8s.io/examples/AI/trainloop/pkg/graph"

// Batch is one step's worth of model input. Labels is not valid in infer mode.
type Batch struct {
	Inputs graph.Node
	Labels graph.Node
}

// InputSource supplies data to a model.
type InputSource interface {
	NumSamples() int
	// InputFn adds the nodes producing a new batch on every evaluation.
	InputFn(g *graph.Graph, mode Mode, batchSize int) (Batch, error)
}

// ModelStrategy builds the computation for one problem. The runner only
// relies on the per-mode output contract (see Mode.RequiredOutputs).
type ModelStrategy interface {
	// GetDatasetInfo is called once, before the graph is built.
	GetDatasetInfo(source InputSource) error

	// CreateNonReplicated builds state shared by every replica: the global
	// step, the learning rate schedule and the step limit.
	CreateNonReplicated(g *graph.Graph) error

	// ModelFn builds the forward computation (and, outside infer mode, the
	// loss; in train mode the gradients) and returns the mode's outputs.
	ModelFn(g *graph.Graph, mode Mode, batch Batch) (*NamedOutputs, error)

	// Optimizer applies the "grads" output. It may be nil outside train mode.
	Optimizer() graph.Optimizer

	GlobalStep() graph.Node
	MaxStep() graph.Node

	// FeedPre entries are evaluated once before the loop.
	FeedPre() FeedEntries
	// FeedSeq entries may be replaced between steps by callbacks.
	FeedSeq() FeedEntries
}
