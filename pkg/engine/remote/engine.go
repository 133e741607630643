// Package remote runs scopes on a tensorserver over gRPC.
package remote

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/engine"
)

type TensorID = engine.TensorID

// Engine opens one server-side session per scope.
type Engine struct {
	Client api.BigCalculatorClient
}

var _ engine.Engine = Engine{}

func (e Engine) NewScope(ctx context.Context, config engine.SessionConfig) (engine.Scope, error) {
	log := klog.FromContext(ctx)

	resp, err := e.Client.OpenSession(ctx, &api.OpenSessionRequest{Config: config.ToAPI()})
	if err != nil {
		return nil, fmt.Errorf("opening remote session: %w", err)
	}
	log.V(2).Info("opened remote session", "session", resp.SessionId)
	return &Scope{
		client:    e.Client,
		sessionID: resp.SessionId,
		tensors:   make(map[TensorID]*tensor),
	}, nil
}

// Scope mirrors a server-side session. Tensor definitions are buffered and
// sent with the next call; results are cached locally so AllTensors can
// serve them.
type Scope struct {
	client    api.BigCalculatorClient
	sessionID string

	pending []*api.Tensor
	tensors map[TensorID]*tensor
}

var _ engine.Scope = &Scope{}

func (s *Scope) SessionID() string {
	return s.sessionID
}

func (s *Scope) RegisterTensors(tensors []*api.Tensor) error {
	for _, t := range tensors {
		id := TensorID(t.GetId())
		if _, exists := s.tensors[id]; exists {
			return fmt.Errorf("tensor %d already registered", id)
		}
		var deps []TensorID
		if t.GetComputation() != nil {
			d, err := engine.GetDependencies(t.GetComputation())
			if err != nil {
				return fmt.Errorf("tensor %d: %w", id, err)
			}
			deps = d
		}
		s.tensors[id] = &tensor{id: id, dependencies: deps, data: t.GetInlineData()}
		s.pending = append(s.pending, t)
	}
	return nil
}

func (s *Scope) AllTensors() map[TensorID]engine.Tensor {
	out := make(map[TensorID]engine.Tensor, len(s.tensors))
	for id, t := range s.tensors {
		out[id] = t
	}
	return out
}

func (s *Scope) Evaluate(ctx context.Context, feeds []*api.Tensor, wantTensors []TensorID) error {
	want := make([]int32, len(wantTensors))
	for i, id := range wantTensors {
		want[i] = int32(id)
	}
	resp, err := s.client.Run(ctx, &api.RunRequest{
		SessionId:     s.sessionID,
		Tensors:       s.pending,
		Feeds:         feeds,
		OutputTensors: want,
	})
	if err != nil {
		return fmt.Errorf("running remote session %s: %w", s.sessionID, err)
	}
	s.pending = nil

	for _, result := range resp.Results {
		t, ok := s.tensors[TensorID(result.GetId())]
		if !ok {
			return fmt.Errorf("server returned unknown tensor %d", result.GetId())
		}
		t.data = result.GetInlineData()
	}
	return nil
}

// flush sends buffered definitions so variable reads and writes can find them.
func (s *Scope) flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	return s.Evaluate(ctx, nil, nil)
}

func (s *Scope) ReadVariable(ctx context.Context, id TensorID) (*api.InlineData, error) {
	if err := s.flush(ctx); err != nil {
		return nil, err
	}
	resp, err := s.client.ReadVariables(ctx, &api.ReadVariablesRequest{SessionId: s.sessionID, Variables: []int32{int32(id)}})
	if err != nil {
		return nil, fmt.Errorf("reading variable %d: %w", id, err)
	}
	if len(resp.Variables) != 1 {
		return nil, fmt.Errorf("reading variable %d: got %d results", id, len(resp.Variables))
	}
	return resp.Variables[0].GetInlineData(), nil
}

func (s *Scope) WriteVariable(ctx context.Context, id TensorID, data *api.InlineData) error {
	if err := s.flush(ctx); err != nil {
		return err
	}
	_, err := s.client.WriteVariables(ctx, &api.WriteVariablesRequest{
		SessionId: s.sessionID,
		Variables: []*api.Tensor{{Id: int32(id), InlineData: data}},
	})
	if err != nil {
		return fmt.Errorf("writing variable %d: %w", id, err)
	}
	return nil
}

func (s *Scope) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.client.CloseSession(ctx, &api.CloseSessionRequest{SessionId: s.sessionID}); err != nil {
		return fmt.Errorf("closing remote session %s: %w", s.sessionID, err)
	}
	return nil
}

type tensor struct {
	id           TensorID
	dependencies []TensorID
	data         *api.InlineData
}

var _ engine.Tensor = &tensor{}

func (t *tensor) TensorID() TensorID       { return t.id }
func (t *tensor) Dependencies() []TensorID { return t.dependencies }

func (t *tensor) CopyDataTo(result *api.Tensor) error {
	if t.data == nil {
		return fmt.Errorf("tensor %d has no value: %w", t.id, engine.ErrUnreachable)
	}
	result.InlineData = t.data.Clone()
	return nil
}
