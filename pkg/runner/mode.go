package runner

import "fmt"

// Mode selects which outputs a model declares and which loop branches run.
// It is fixed for the lifetime of a Runner.
type Mode string

const (
	ModeTrain Mode = "train"
	ModeEval  Mode = "eval"
	ModeInfer Mode = "infer"
)

// Output names used by the model contract.
const (
	OutputLoss          = "loss"
	OutputGrads         = "grads"
	OutputAccuracy      = "accuracy"
	OutputLearningRate  = "learning_rate"
	OutputClasses       = "classes"
	OutputProbabilities = "probabilities"

	// OutputSummary is appended by the runner in train mode.
	OutputSummary = "summary"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeTrain, ModeEval, ModeInfer:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// RequiredOutputs is the exact set of output names a model must declare for the mode.
func (m Mode) RequiredOutputs() []string {
	switch m {
	case ModeTrain:
		return []string{OutputLoss, OutputGrads, OutputAccuracy, OutputLearningRate}
	case ModeEval:
		return []string{OutputLoss, OutputAccuracy}
	case ModeInfer:
		return []string{OutputClasses, OutputProbabilities}
	default:
		return nil
	}
}

func (m Mode) String() string {
	return string(m)
}
