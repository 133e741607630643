package graph

import (
	"fmt"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
)

// GradientVar pairs a gradient with the variable it updates.
type GradientVar struct {
	Gradient Node
	Variable Node
}

// GradientSet is what a model declares as its "grads" output. It is not
// runnable by itself; an Optimizer turns it into an update operation.
type GradientSet []GradientVar

type Optimizer interface {
	// ApplyGradients returns one operation that updates every variable and
	// increments globalStep.
	ApplyGradients(g *Graph, grads GradientSet, globalStep Node) (Node, error)
}

// GradientDescent is plain SGD: v -= learning_rate * gradient.
type GradientDescent struct {
	LearningRate Node
}

var _ Optimizer = GradientDescent{}

func (o GradientDescent) ApplyGradients(g *Graph, grads GradientSet, globalStep Node) (Node, error) {
	if !o.LearningRate.Valid() {
		return Node{}, fmt.Errorf("gradient descent has no learning rate")
	}
	if len(grads) == 0 {
		return Node{}, fmt.Errorf("no gradients to apply")
	}
	updates := make([]Node, 0, len(grads)+1)
	for _, gv := range grads {
		if !gv.Gradient.Valid() || !gv.Variable.Valid() {
			return Node{}, fmt.Errorf("gradient set has an empty entry")
		}
		updates = append(updates, g.ApplyGradientDescent(gv.Variable, gv.Gradient, o.LearningRate))
	}
	if globalStep.Valid() {
		updates = append(updates, g.AssignAdd(globalStep, g.Constant("global_step_increment", api.NewScalar(1))))
	}
	return g.Group(updates...), nil
}
