package fallback

import (
	"fmt"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/engine"
)

type tensor struct {
	id         TensorID
	definition *api.Tensor

	// inlineData is the value computed by the latest evaluation, or the constant value.
	inlineData *api.InlineData
	constant   bool

	dependencies []TensorID
}

func newTensor(definition *api.Tensor) (*tensor, error) {
	id := TensorID(definition.GetId())
	t := &tensor{
		id:         id,
		definition: definition,
	}
	if inlineData := definition.GetInlineData(); inlineData != nil {
		t.inlineData = inlineData
		t.constant = true
	}

	if computation := definition.GetComputation(); computation != nil {
		dependencies, err := engine.GetDependencies(computation)
		if err != nil {
			return nil, fmt.Errorf("tensor %d: %w", id, err)
		}
		t.dependencies = append(t.dependencies, dependencies...)
	} else if !t.constant {
		return nil, fmt.Errorf("tensor %d has neither inline data nor computation", id)
	}

	return t, nil
}

func (t *tensor) isVariable() bool {
	return t.definition.GetComputation() != nil && t.definition.GetComputation().Variable != nil
}

func (t *tensor) isPlaceholder() bool {
	return t.definition.GetComputation() != nil && t.definition.GetComputation().Placeholder != nil
}

func (t *tensor) CopyDataTo(result *api.Tensor) error {
	if t.inlineData == nil {
		return fmt.Errorf("tensor %d has no inline data", t.definition.GetId())
	}
	result.InlineData = t.inlineData.Clone()
	return nil
}

func (t *tensor) Dependencies() []TensorID {
	return t.dependencies
}

func (t *tensor) TensorID() TensorID {
	return t.id
}
