// Package graph builds computation graphs for an engine.Scope and runs them
// through a Session.
//
// A Graph is an explicit value owned by whoever builds it; there is no
// process-wide default graph.
package graph

import (
	"fmt"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
)

// Well-known collection keys.
const (
	// UpdateOps holds operations that must run together with every optimizer step
	// (for example moving statistics).
	UpdateOps = "update_ops"
	// GlobalVariables holds every variable.
	GlobalVariables = "variables"
	// TrainableVariables holds variables updated by the optimizer.
	TrainableVariables = "trainable_variables"
)

// Node is a handle to one tensor in a Graph.
type Node struct {
	id   int32
	name string
}

func (n Node) ID() int32      { return n.id }
func (n Node) Name() string   { return n.name }
func (n Node) Valid() bool    { return n.id != 0 }
func (n Node) String() string { return fmt.Sprintf("%s:%d", n.name, n.id) }

type Graph struct {
	tensors      []*api.Tensor
	nextID       int32
	names        map[string]int
	placeholders map[string]Node
	variables    map[string]Node
	collections  map[string][]Node
}

func New() *Graph {
	return &Graph{
		nextID:       1,
		names:        make(map[string]int),
		placeholders: make(map[string]Node),
		variables:    make(map[string]Node),
		collections:  make(map[string][]Node),
	}
}

// Tensors returns the tensor definitions in creation order.
func (g *Graph) Tensors() []*api.Tensor {
	return g.tensors
}

// Len is the number of tensors in the graph.
func (g *Graph) Len() int {
	return len(g.tensors)
}

func (g *Graph) uniqueName(name string) string {
	n := g.names[name]
	g.names[name] = n + 1
	if n == 0 {
		return name
	}
	return fmt.Sprintf("%s_%d", name, n)
}

func (g *Graph) add(name string, inlineData *api.InlineData, computation *api.TensorOperation) Node {
	node := Node{id: g.nextID, name: g.uniqueName(name)}
	g.nextID++
	g.tensors = append(g.tensors, &api.Tensor{
		Id:          node.id,
		Name:        node.name,
		InlineData:  inlineData,
		Computation: computation,
	})
	return node
}

func (g *Graph) AddToCollection(key string, nodes ...Node) {
	g.collections[key] = append(g.collections[key], nodes...)
}

func (g *Graph) Collection(key string) []Node {
	return append([]Node(nil), g.collections[key]...)
}

// Placeholder returns a named input. Placeholder names are unique within a graph.
func (g *Graph) Placeholder(name string) (Node, error) {
	if _, exists := g.placeholders[name]; exists {
		return Node{}, fmt.Errorf("placeholder %q already defined", name)
	}
	node := g.add(name, nil, &api.TensorOperation{Placeholder: &api.Placeholder{Name: name}})
	g.placeholders[name] = node
	return node, nil
}

func (g *Graph) LookupPlaceholder(name string) (Node, bool) {
	node, ok := g.placeholders[name]
	return node, ok
}

// Variable creates a persistent variable. Variable names are unique within a graph.
func (g *Graph) Variable(name string, initial *api.InlineData, trainable bool) (Node, error) {
	if _, exists := g.variables[name]; exists {
		return Node{}, fmt.Errorf("variable %q already defined", name)
	}
	if initial == nil {
		return Node{}, fmt.Errorf("variable %q needs an initial value", name)
	}
	node := g.add(name, nil, &api.TensorOperation{Variable: &api.Variable{Initial: initial, Trainable: trainable}})
	g.variables[name] = node
	g.AddToCollection(GlobalVariables, node)
	if trainable {
		g.AddToCollection(TrainableVariables, node)
	}
	return node, nil
}

// LocalVariable creates a variable that is not part of GlobalVariables and
// therefore not checkpointed (for example input cursors).
func (g *Graph) LocalVariable(name string, initial *api.InlineData) (Node, error) {
	if _, exists := g.variables[name]; exists {
		return Node{}, fmt.Errorf("variable %q already defined", name)
	}
	if initial == nil {
		return Node{}, fmt.Errorf("variable %q needs an initial value", name)
	}
	node := g.add(name, nil, &api.TensorOperation{Variable: &api.Variable{Initial: initial}})
	g.variables[name] = node
	return node, nil
}

func (g *Graph) LookupVariable(name string) (Node, bool) {
	node, ok := g.variables[name]
	return node, ok
}

// GetOrCreateGlobalStep returns the "global_step" scalar variable.
func (g *Graph) GetOrCreateGlobalStep() Node {
	if node, ok := g.variables[GlobalStepName]; ok {
		return node
	}
	node, _ := g.Variable(GlobalStepName, api.NewScalar(0), false)
	return node
}

const GlobalStepName = "global_step"

func (g *Graph) Constant(name string, data *api.InlineData) Node {
	return g.add(name, data, nil)
}

func (g *Graph) Scalar(name string, v float32) Node {
	return g.Constant(name, api.NewScalar(v))
}
