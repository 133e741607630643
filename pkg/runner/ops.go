package runner

import (
	"fmt"
	"slices"

	"k8s.io/examples/AI/trainloop/pkg/graph"
)

// collectOps flattens the model outputs into the ops fetched every step.
// The gradient set becomes one grouped update (optimizer step plus the
// graph's update ops); in train mode a merged summary op is appended last.
// names[i] always labels ops[i].
func collectOps(g *graph.Graph, mode Mode, outputs *NamedOutputs, optimizer graph.Optimizer, globalStep graph.Node, summaryNames []string) ([]graph.Node, []string, error) {
	ops := make([]graph.Node, 0, outputs.Len()+1)
	names := make([]string, 0, outputs.Len()+1)

	for _, entry := range outputs.entries {
		op := entry.node
		if entry.name == OutputGrads {
			if optimizer == nil {
				return nil, nil, contractViolation(mode, "model declares %q but has no optimizer", OutputGrads)
			}
			minimize, err := optimizer.ApplyGradients(g, entry.grads, globalStep)
			if err != nil {
				return nil, nil, fmt.Errorf("applying gradients: %w", err)
			}
			op = g.Group(append([]graph.Node{minimize}, g.Collection(graph.UpdateOps)...)...)
		}
		ops = append(ops, op)
		names = append(names, entry.name)
	}

	if mode == ModeTrain {
		ops = append(ops, collectSummary(g, names, ops, summaryNames))
		names = append(names, OutputSummary)
	}

	return ops, names, nil
}

// collectSummary merges a scalar summary for every collected op whose name is
// allow-listed. The grouped optimizer step has no value and is skipped.
func collectSummary(g *graph.Graph, names []string, ops []graph.Node, summaryNames []string) graph.Node {
	var summaries []graph.Node
	for i, name := range names {
		if name == OutputGrads || !slices.Contains(summaryNames, name) {
			continue
		}
		summaries = append(summaries, g.ScalarSummary(name, ops[i]))
	}
	return g.MergeSummary(summaries...)
}
