package remote

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/engine"
)

// Server hosts sessions on a local engine. Calls on one session are
// serialized; different sessions run concurrently.
type Server struct {
	api.UnimplementedBigCalculatorServer

	Engine engine.Engine

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu    sync.Mutex
	scope engine.Scope
}

var _ api.BigCalculatorServer = &Server{}

func NewServer(e engine.Engine) *Server {
	return &Server{Engine: e, sessions: make(map[string]*session)}
}

// Calculate is the one-shot path: a fresh scope per request.
func (s *Server) Calculate(ctx context.Context, req *api.CalculateRequest) (*api.CalculateResponse, error) {
	scope, err := s.Engine.NewScope(ctx, engine.SessionConfig{AllowSoftPlacement: true})
	if err != nil {
		return nil, toStatus(err)
	}
	defer scope.Close()

	response, err := engine.Evaluate(ctx, scope, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return response, nil
}

func (s *Server) OpenSession(ctx context.Context, req *api.OpenSessionRequest) (*api.OpenSessionResponse, error) {
	log := klog.FromContext(ctx)

	scope, err := s.Engine.NewScope(ctx, engine.SessionConfigFromAPI(req.Config))
	if err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "creating scope: %v", err)
	}
	id := uuid.NewString()

	s.mu.Lock()
	s.sessions[id] = &session{scope: scope}
	n := len(s.sessions)
	s.mu.Unlock()

	log.Info("opened session", "session", id, "sessions", n)
	return &api.OpenSessionResponse{SessionId: id}, nil
}

func (s *Server) lookup(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "session %q not found", id)
	}
	return sess, nil
}

func (s *Server) Run(ctx context.Context, req *api.RunRequest) (*api.RunResponse, error) {
	sess, err := s.lookup(req.SessionId)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if len(req.Tensors) != 0 {
		if err := sess.scope.RegisterTensors(req.Tensors); err != nil {
			return nil, toStatus(err)
		}
	}
	results, err := engine.EvaluateTensors(ctx, sess.scope, req.Feeds, engine.ToTensorIDs(req.OutputTensors))
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.RunResponse{Results: results}, nil
}

func (s *Server) ReadVariables(ctx context.Context, req *api.ReadVariablesRequest) (*api.ReadVariablesResponse, error) {
	sess, err := s.lookup(req.SessionId)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	resp := &api.ReadVariablesResponse{}
	for _, id := range req.Variables {
		data, err := sess.scope.ReadVariable(ctx, engine.TensorID(id))
		if err != nil {
			return nil, toStatus(err)
		}
		resp.Variables = append(resp.Variables, &api.Tensor{Id: id, InlineData: data})
	}
	return resp, nil
}

func (s *Server) WriteVariables(ctx context.Context, req *api.WriteVariablesRequest) (*api.WriteVariablesResponse, error) {
	sess, err := s.lookup(req.SessionId)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	for _, v := range req.Variables {
		if err := sess.scope.WriteVariable(ctx, engine.TensorID(v.GetId()), v.GetInlineData()); err != nil {
			return nil, toStatus(err)
		}
	}
	return &api.WriteVariablesResponse{}, nil
}

func (s *Server) CloseSession(ctx context.Context, req *api.CloseSessionRequest) (*api.CloseSessionResponse, error) {
	log := klog.FromContext(ctx)

	s.mu.Lock()
	sess, ok := s.sessions[req.SessionId]
	delete(s.sessions, req.SessionId)
	s.mu.Unlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "session %q not found", req.SessionId)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.scope.Close(); err != nil {
		return nil, toStatus(err)
	}
	log.Info("closed session", "session", req.SessionId)
	return &api.CloseSessionResponse{}, nil
}

// Shutdown closes every open session.
func (s *Server) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		sess.scope.Close()
		sess.mu.Unlock()
	}
}

// NumSessions is the number of open sessions.
func (s *Server) NumSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, engine.ErrTensorNotFound), errors.Is(err, engine.ErrNotVariable):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, engine.ErrUnreachable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
