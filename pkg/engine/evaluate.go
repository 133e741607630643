package engine

import (
	"context"
	"fmt"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Evaluate registers the request's tensors and computes its output tensors in one shot.
func Evaluate(ctx context.Context, scope Scope, req *api.CalculateRequest) (*api.CalculateResponse, error) {
	if err := scope.RegisterTensors(req.GetTensors()); err != nil {
		return nil, err
	}

	results, err := EvaluateTensors(ctx, scope, nil, ToTensorIDs(req.GetOutputTensors()))
	if err != nil {
		return nil, err
	}
	return &api.CalculateResponse{Results: results}, nil
}

// EvaluateTensors evaluates wantTensors with feeds bound and copies out their values.
func EvaluateTensors(ctx context.Context, scope Scope, feeds []*api.Tensor, wantTensors []TensorID) ([]*api.Tensor, error) {
	if err := scope.Evaluate(ctx, feeds, wantTensors); err != nil {
		return nil, err
	}

	allTensors := scope.AllTensors()
	results := make([]*api.Tensor, 0, len(wantTensors))
	for _, id := range wantTensors {
		tensor, found := allTensors[id]
		if !found {
			return nil, status.Errorf(codes.InvalidArgument, "tensor %d not found", id)
		}
		result := &api.Tensor{
			Id: int32(id),
		}
		if err := tensor.CopyDataTo(result); err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// GetDependencies lists the tensors an operation reads.
func GetDependencies(computation *api.TensorOperation) ([]TensorID, error) {
	switch operation := computation.GetOperation().(type) {
	case *api.Placeholder, *api.Variable:
		return nil, nil

	case *api.LinearScale:
		return ToTensorIDs([]int32{operation.Source}), nil
	case *api.RMSNorm:
		return ToTensorIDs([]int32{operation.GetSource()}), nil
	case *api.Softmax:
		return ToTensorIDs([]int32{operation.Source}), nil
	case *api.Log:
		return ToTensorIDs([]int32{operation.Source}), nil
	case *api.ReduceSum:
		return ToTensorIDs([]int32{operation.Source}), nil
	case *api.ReduceMean:
		return ToTensorIDs([]int32{operation.Source}), nil
	case *api.ArgMax:
		return ToTensorIDs([]int32{operation.Source}), nil
	case *api.Transpose:
		return ToTensorIDs([]int32{operation.Source}), nil
	case *api.PiecewiseConstant:
		return ToTensorIDs([]int32{operation.Source}), nil
	case *api.ScalarSummary:
		return ToTensorIDs([]int32{operation.Source}), nil

	case *api.Add:
		return ToTensorIDs(operation.Sources), nil
	case *api.Sub:
		return ToTensorIDs(operation.Sources), nil
	case *api.DotMultiply:
		return ToTensorIDs(operation.Sources), nil
	case *api.Equal:
		return ToTensorIDs(operation.Sources), nil
	case *api.Group:
		return ToTensorIDs(operation.Sources), nil
	case *api.MergeSummary:
		return ToTensorIDs(operation.Sources), nil

	case *api.MatMul:
		return ToTensorIDs([]int32{operation.A, operation.B}), nil
	case *api.IteratorNext:
		return ToTensorIDs([]int32{operation.Source, operation.Cursor}), nil
	case *api.Assign:
		return ToTensorIDs([]int32{operation.Variable, operation.Value}), nil
	case *api.AssignAdd:
		return ToTensorIDs([]int32{operation.Variable, operation.Value}), nil
	case *api.ApplyGradientDescent:
		return ToTensorIDs([]int32{operation.Variable, operation.Gradient, operation.LearningRate}), nil

	default:
		return nil, fmt.Errorf("unsupported operation: %T %+v", operation, operation)
	}
}

func ToTensorIDs(ids []int32) []TensorID {
	tensorIDs := make([]TensorID, len(ids))
	for i, id := range ids {
		tensorIDs[i] = TensorID(id)
	}
	return tensorIDs
}
