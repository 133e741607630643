package runner

import (
	"fmt"
	"slices"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/graph"
)

type namedOutput struct {
	name  string
	node  graph.Node
	grads graph.GradientSet
}

func (o namedOutput) isGradients() bool {
	return o.grads != nil
}

// NamedOutputs is the ordered set of outputs a model declares for one mode.
// Declaration order is the order the runner fetches and reports them in.
type NamedOutputs struct {
	entries []namedOutput
	index   map[string]int
}

func NewNamedOutputs() *NamedOutputs {
	return &NamedOutputs{index: make(map[string]int)}
}

func (o *NamedOutputs) put(entry namedOutput) {
	if i, ok := o.index[entry.name]; ok {
		o.entries[i] = entry
		return
	}
	o.index[entry.name] = len(o.entries)
	o.entries = append(o.entries, entry)
}

// Set declares a plain operation output. Redeclaring a name replaces it in place.
func (o *NamedOutputs) Set(name string, node graph.Node) *NamedOutputs {
	o.put(namedOutput{name: name, node: node})
	return o
}

// SetGradients declares a gradient set; only "grads" may hold one.
func (o *NamedOutputs) SetGradients(name string, grads graph.GradientSet) *NamedOutputs {
	if grads == nil {
		grads = graph.GradientSet{}
	}
	o.put(namedOutput{name: name, grads: grads})
	return o
}

func (o *NamedOutputs) Names() []string {
	names := make([]string, len(o.entries))
	for i, e := range o.entries {
		names[i] = e.name
	}
	return names
}

func (o *NamedOutputs) Len() int {
	return len(o.entries)
}

// Node returns the operation declared under name.
func (o *NamedOutputs) Node(name string) (graph.Node, bool) {
	i, ok := o.index[name]
	if !ok || o.entries[i].isGradients() {
		return graph.Node{}, false
	}
	return o.entries[i].node, true
}

// validateOutputs checks the declared names are exactly the mode's required set.
func validateOutputs(mode Mode, outputs *NamedOutputs) error {
	if outputs == nil {
		return contractViolation(mode, "model returned no outputs")
	}
	required := mode.RequiredOutputs()
	if required == nil {
		return contractViolation(mode, "no output contract for mode")
	}

	for _, name := range required {
		if _, ok := outputs.index[name]; !ok {
			return contractViolation(mode, "missing required output %q", name)
		}
	}
	for _, e := range outputs.entries {
		if !slices.Contains(required, e.name) {
			return contractViolation(mode, "unexpected output %q", e.name)
		}
		switch {
		case e.name == OutputGrads && !e.isGradients():
			return contractViolation(mode, "output %q must be a gradient set", e.name)
		case e.name != OutputGrads && e.isGradients():
			return contractViolation(mode, "output %q is a gradient set but only %q may be", e.name, OutputGrads)
		case !e.isGradients() && !e.node.Valid():
			return contractViolation(mode, "output %q has no operation", e.name)
		}
	}
	return nil
}

// Outputs is the name to value view of one step's execution.
type Outputs map[string]*api.InlineData

func zipOutputs(names []string, values []*api.InlineData) (Outputs, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("engine returned %d values for %d operations", len(values), len(names))
	}
	out := make(Outputs, len(names))
	for i, name := range names {
		out[name] = values[i]
	}
	return out, nil
}

// Scalar returns the named output as a single number.
func (o Outputs) Scalar(name string) (float32, bool) {
	v, ok := o[name]
	if !ok {
		return 0, false
	}
	f, err := v.Scalar()
	if err != nil {
		return 0, false
	}
	return f, true
}
