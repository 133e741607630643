package graph

import (
	"context"
	"fmt"
	"sort"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/engine"
	"k8s.io/klog/v2"
)

// Feeds maps placeholder names to the values bound on each Run.
type Feeds map[string]*api.InlineData

// Session runs a Graph on an engine scope. Variable state lives in the scope
// and persists across calls to Run until Close.
type Session struct {
	graph *Graph
	scope engine.Scope

	// registered is how many of the graph's tensors the scope already knows about.
	registered int
}

func NewSession(ctx context.Context, g *Graph, eng engine.Engine, config engine.SessionConfig) (*Session, error) {
	log := klog.FromContext(ctx)

	scope, err := eng.NewScope(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating engine scope: %w", err)
	}
	s := &Session{graph: g, scope: scope}
	if err := s.register(); err != nil {
		scope.Close()
		return nil, err
	}
	log.V(2).Info("opened session", "tensors", s.registered, "numGPU", config.NumGPU)
	return s, nil
}

func (s *Session) Graph() *Graph {
	return s.graph
}

// register sends tensors added to the graph since the last call.
func (s *Session) register() error {
	pending := s.graph.Tensors()[s.registered:]
	if len(pending) == 0 {
		return nil
	}
	if err := s.scope.RegisterTensors(pending); err != nil {
		return fmt.Errorf("registering tensors: %w", err)
	}
	s.registered += len(pending)
	return nil
}

// Run evaluates fetches with feeds bound and returns their values in fetch order.
func (s *Session) Run(ctx context.Context, fetches []Node, feeds Feeds) ([]*api.InlineData, error) {
	if err := s.register(); err != nil {
		return nil, err
	}

	feedTensors, err := s.feedTensors(feeds)
	if err != nil {
		return nil, err
	}

	want := make([]engine.TensorID, len(fetches))
	for i, fetch := range fetches {
		if !fetch.Valid() {
			return nil, fmt.Errorf("fetch %d is not a valid node", i)
		}
		want[i] = engine.TensorID(fetch.id)
	}

	results, err := engine.EvaluateTensors(ctx, s.scope, feedTensors, want)
	if err != nil {
		return nil, err
	}
	values := make([]*api.InlineData, len(results))
	for i, result := range results {
		values[i] = result.GetInlineData()
	}
	return values, nil
}

// Run1 evaluates a single node.
func (s *Session) Run1(ctx context.Context, fetch Node, feeds Feeds) (*api.InlineData, error) {
	values, err := s.Run(ctx, []Node{fetch}, feeds)
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

func (s *Session) feedTensors(feeds Feeds) ([]*api.Tensor, error) {
	names := make([]string, 0, len(feeds))
	for name := range feeds {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*api.Tensor, 0, len(feeds))
	for _, name := range names {
		placeholder, ok := s.graph.LookupPlaceholder(name)
		if !ok {
			return nil, fmt.Errorf("feed %q does not match any placeholder", name)
		}
		out = append(out, &api.Tensor{Id: placeholder.id, Name: name, InlineData: feeds[name]})
	}
	return out, nil
}

// Variables reads the current value of every global variable, keyed by name.
func (s *Session) Variables(ctx context.Context) (map[string]*api.InlineData, error) {
	if err := s.register(); err != nil {
		return nil, err
	}
	globals := s.graph.Collection(GlobalVariables)
	out := make(map[string]*api.InlineData, len(globals))
	for _, node := range globals {
		value, err := s.scope.ReadVariable(ctx, engine.TensorID(node.id))
		if err != nil {
			return nil, fmt.Errorf("reading variable %q: %w", node.name, err)
		}
		out[node.name] = value
	}
	return out, nil
}

// SetVariables overwrites global variables by name. Every name must exist in the graph.
func (s *Session) SetVariables(ctx context.Context, values map[string]*api.InlineData) error {
	if err := s.register(); err != nil {
		return err
	}
	globals := make(map[string]Node)
	for _, node := range s.graph.Collection(GlobalVariables) {
		globals[node.name] = node
	}
	for name, value := range values {
		node, ok := globals[name]
		if !ok {
			return fmt.Errorf("variable %q not found in graph", name)
		}
		if err := s.scope.WriteVariable(ctx, engine.TensorID(node.id), value); err != nil {
			return fmt.Errorf("writing variable %q: %w", name, err)
		}
	}
	return nil
}

func (s *Session) Close() error {
	return s.scope.Close()
}
