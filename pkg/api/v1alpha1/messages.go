package v1alpha1

type CalculateRequest struct {
	Tensors       []*Tensor `json:"tensors,omitempty"`
	OutputTensors []int32   `json:"outputTensors,omitempty"`
}

func (r *CalculateRequest) GetTensors() []*Tensor {
	if r == nil {
		return nil
	}
	return r.Tensors
}

func (r *CalculateRequest) GetOutputTensors() []int32 {
	if r == nil {
		return nil
	}
	return r.OutputTensors
}

type CalculateResponse struct {
	Results []*Tensor `json:"results,omitempty"`
}

// SessionConfig is the execution policy requested for a session.
type SessionConfig struct {
	NumGpu                      int32   `json:"numGpu,omitempty"`
	PerProcessGpuMemoryFraction float32 `json:"perProcessGpuMemoryFraction,omitempty"`
	AllowGrowth                 bool    `json:"allowGrowth,omitempty"`
	AllowSoftPlacement          bool    `json:"allowSoftPlacement,omitempty"`
	LogDevicePlacement          bool    `json:"logDevicePlacement,omitempty"`
}

type OpenSessionRequest struct {
	Config *SessionConfig `json:"config,omitempty"`
}

type OpenSessionResponse struct {
	SessionId string `json:"sessionId"`
}

// RunRequest registers any new Tensors, binds Feeds (by tensor id) and
// evaluates OutputTensors.
type RunRequest struct {
	SessionId     string    `json:"sessionId"`
	Tensors       []*Tensor `json:"tensors,omitempty"`
	Feeds         []*Tensor `json:"feeds,omitempty"`
	OutputTensors []int32   `json:"outputTensors,omitempty"`
}

type RunResponse struct {
	Results []*Tensor `json:"results,omitempty"`
}

type ReadVariablesRequest struct {
	SessionId string  `json:"sessionId"`
	Variables []int32 `json:"variables,omitempty"`
}

type ReadVariablesResponse struct {
	Variables []*Tensor `json:"variables,omitempty"`
}

type WriteVariablesRequest struct {
	SessionId string    `json:"sessionId"`
	Variables []*Tensor `json:"variables,omitempty"`
}

type WriteVariablesResponse struct{}

type CloseSessionRequest struct {
	SessionId string `json:"sessionId"`
}

type CloseSessionResponse struct{}
