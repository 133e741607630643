package runner

import (
	"context"
	"fmt"
	"sort"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/graph"
)

// FeedValue is either an operation evaluated once before the loop, or a
// concrete value copied as-is.
type FeedValue struct {
	node     graph.Node
	constant *api.InlineData
}

func FeedNode(node graph.Node) FeedValue {
	return FeedValue{node: node}
}

func FeedConstant(value *api.InlineData) FeedValue {
	return FeedValue{constant: value}
}

func (v FeedValue) IsNode() bool {
	return v.node.Valid()
}

// FeedEntries maps placeholder names to their initial values.
type FeedEntries map[string]FeedValue

func validateFeeds(mode Mode, pre, seq FeedEntries) error {
	for name := range pre {
		if _, ok := seq[name]; ok {
			return contractViolation(mode, "feed %q is declared both precomputed and sequential", name)
		}
	}
	for _, entries := range []FeedEntries{pre, seq} {
		for name, v := range entries {
			if !v.IsNode() && v.constant == nil {
				return contractViolation(mode, "feed %q has neither an operation nor a value", name)
			}
		}
	}
	return nil
}

// prepareFeeds builds the initial feed mapping. Operation entries are
// evaluated once through the session; constants are copied unchanged.
func prepareFeeds(ctx context.Context, sess *graph.Session, pre, seq FeedEntries) (graph.Feeds, error) {
	feeds := make(graph.Feeds, len(pre)+len(seq))
	for _, entries := range []FeedEntries{pre, seq} {
		names := make([]string, 0, len(entries))
		for name := range entries {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			v := entries[name]
			if !v.IsNode() {
				feeds[name] = v.constant
				continue
			}
			value, err := sess.Run1(ctx, v.node, nil)
			if err != nil {
				return nil, fmt.Errorf("evaluating feed %q: %w", name, err)
			}
			feeds[name] = value
		}
	}
	return feeds, nil
}
