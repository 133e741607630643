package engine

import "fmt"

// BuildDAG returns an evaluation order covering wantTensors and everything
// they depend on. Tensors not needed by wantTensors are left out.
func BuildDAG(scope Scope, wantTensors []TensorID) ([]TensorID, error) {
	allTensors := scope.AllTensors()

	needed := make(map[TensorID]bool)
	pending := append([]TensorID(nil), wantTensors...)
	for len(pending) > 0 {
		id := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if needed[id] {
			continue
		}
		tensor, found := allTensors[id]
		if !found {
			return nil, fmt.Errorf("tensor %d: %w", id, ErrTensorNotFound)
		}
		needed[id] = true
		pending = append(pending, tensor.Dependencies()...)
	}

	evaluationOrder := make([]TensorID, 0, len(needed))
	done := make(map[TensorID]bool, len(needed))

	for {
		progress := false
		for id := range needed {
			if done[id] {
				continue
			}

			ready := true
			for _, dep := range allTensors[id].Dependencies() {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				done[id] = true
				evaluationOrder = append(evaluationOrder, id)
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	for _, id := range wantTensors {
		if !done[id] {
			return nil, fmt.Errorf("tensor %d could not be computed: %w", id, ErrUnreachable)
		}
	}

	return evaluationOrder, nil
}
