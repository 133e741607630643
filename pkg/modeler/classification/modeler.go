// Package classification is a softmax classifier that satisfies the runner's
// model contract in all three modes.
package classification

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/go-playground/validator/v10"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/graph"
	"k8s.io/examples/AI/trainloop/pkg/runner"
)

const (
	// WeightDecayFeed is the placeholder fed once before the loop.
	WeightDecayFeed = "weight_decay"

	DataFormatChannelsFirst = "channels_first"
	DataFormatChannelsLast  = "channels_last"
)

// FeatureSource is implemented by input sources that know their row width.
type FeatureSource interface {
	NumFeatures() int
}

type Config struct {
	Mode       runner.Mode `yaml:"-" validate:"required"`
	NumClasses int         `yaml:"-" validate:"min=2"`
	BatchSize  int         `yaml:"-" validate:"min=1"`
	DataFormat string      `yaml:"-" validate:"omitempty,oneof=channels_first channels_last"`

	Epochs int `yaml:"epochs" validate:"min=1"`
	// LearningRates[i] applies until LearningRateBoundaries[i] epochs have passed;
	// the last rate applies afterwards.
	LearningRates          []float32 `yaml:"learningRates" validate:"required,min=1,dive,gt=0"`
	LearningRateBoundaries []float32 `yaml:"learningRateBoundaries" validate:"dive,gt=0"`
	WeightDecay            float32   `yaml:"weightDecay" validate:"min=0"`
	MovingAverageDecay     float32   `yaml:"movingAverageDecay" validate:"min=0,lt=1"`
	Seed                   uint64    `yaml:"seed"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type outputsFn func(m *Modeler, g *graph.Graph, batch runner.Batch) (*runner.NamedOutputs, error)

type Modeler struct {
	config Config

	numSamples  int
	numFeatures int

	globalStep   graph.Node
	learningRate graph.Node
	maxStep      graph.Node
	weightDecay  graph.Node
	optimizer    graph.Optimizer

	outputs outputsFn
}

var _ runner.ModelStrategy = &Modeler{}

func New(config Config) (*Modeler, error) {
	if err := validate.Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid classification config: %w", err)
	}
	if len(config.LearningRates) != len(config.LearningRateBoundaries)+1 {
		return nil, fmt.Errorf("need exactly one more learning rate than boundaries, got %d rates and %d boundaries",
			len(config.LearningRates), len(config.LearningRateBoundaries))
	}
	m := &Modeler{config: config}
	switch config.Mode {
	case runner.ModeTrain:
		m.outputs = (*Modeler).trainOutputs
	case runner.ModeEval:
		m.outputs = (*Modeler).evalOutputs
	case runner.ModeInfer:
		m.outputs = (*Modeler).inferOutputs
	default:
		return nil, fmt.Errorf("%w: %q", runner.ErrUnknownMode, config.Mode)
	}
	return m, nil
}

func (m *Modeler) GetDatasetInfo(source runner.InputSource) error {
	m.numSamples = source.NumSamples()
	if m.numSamples <= 0 {
		return fmt.Errorf("dataset is empty")
	}
	fs, ok := source.(FeatureSource)
	if !ok {
		return fmt.Errorf("input source %T does not report its feature count", source)
	}
	m.numFeatures = fs.NumFeatures()
	if m.numFeatures <= 0 {
		return fmt.Errorf("dataset has no features")
	}
	return nil
}

func (m *Modeler) CreateNonReplicated(g *graph.Graph) error {
	m.globalStep = g.GetOrCreateGlobalStep()

	stepsPerEpoch := float64(m.numSamples) / float64(m.config.BatchSize)
	boundaries := make([]float32, len(m.config.LearningRateBoundaries))
	for i, epochs := range m.config.LearningRateBoundaries {
		boundaries[i] = float32(math.Round(float64(epochs) * stepsPerEpoch))
	}
	m.learningRate = g.PiecewiseConstant(m.globalStep, boundaries, m.config.LearningRates)
	m.optimizer = graph.GradientDescent{LearningRate: m.learningRate}

	maxStep := math.Ceil(stepsPerEpoch)
	if m.config.Mode == runner.ModeTrain {
		maxStep = math.Ceil(float64(m.config.Epochs) * stepsPerEpoch)
	}
	m.maxStep = g.Scalar("max_step", float32(maxStep))

	wd, err := g.Placeholder(WeightDecayFeed)
	if err != nil {
		return err
	}
	m.weightDecay = wd
	return nil
}

func (m *Modeler) ModelFn(g *graph.Graph, mode runner.Mode, batch runner.Batch) (*runner.NamedOutputs, error) {
	if mode != m.config.Mode {
		return nil, fmt.Errorf("modeler built for %s cannot build a %s graph", m.config.Mode, mode)
	}
	return m.outputs(m, g, batch)
}

func (m *Modeler) Optimizer() graph.Optimizer { return m.optimizer }
func (m *Modeler) GlobalStep() graph.Node     { return m.globalStep }
func (m *Modeler) MaxStep() graph.Node        { return m.maxStep }

func (m *Modeler) FeedPre() runner.FeedEntries {
	return runner.FeedEntries{
		WeightDecayFeed: runner.FeedConstant(api.NewScalar(m.config.WeightDecay)),
	}
}

func (m *Modeler) FeedSeq() runner.FeedEntries {
	return runner.FeedEntries{}
}

func (m *Modeler) trainOutputs(g *graph.Graph, batch runner.Batch) (*runner.NamedOutputs, error) {
	net, err := m.network(g, batch.Inputs, true)
	if err != nil {
		return nil, err
	}
	loss := m.loss(g, net, batch.Labels)
	return runner.NewNamedOutputs().
		Set(runner.OutputLoss, loss).
		SetGradients(runner.OutputGrads, m.gradients(g, net, batch.Labels)).
		Set(runner.OutputAccuracy, m.accuracy(g, net, batch.Labels)).
		Set(runner.OutputLearningRate, m.learningRate), nil
}

func (m *Modeler) evalOutputs(g *graph.Graph, batch runner.Batch) (*runner.NamedOutputs, error) {
	net, err := m.network(g, batch.Inputs, false)
	if err != nil {
		return nil, err
	}
	return runner.NewNamedOutputs().
		Set(runner.OutputLoss, m.loss(g, net, batch.Labels)).
		Set(runner.OutputAccuracy, m.accuracy(g, net, batch.Labels)), nil
}

func (m *Modeler) inferOutputs(g *graph.Graph, batch runner.Batch) (*runner.NamedOutputs, error) {
	net, err := m.network(g, batch.Inputs, false)
	if err != nil {
		return nil, err
	}
	return runner.NewNamedOutputs().
		Set(runner.OutputClasses, net.classes).
		Set(runner.OutputProbabilities, net.probabilities), nil
}

// network holds the nodes the loss, gradient and metric builders share.
type network struct {
	inputs        graph.Node // centred, [batch, features]
	weights       graph.Node
	bias          graph.Node
	logits        graph.Node
	probabilities graph.Node
	classes       graph.Node
}

func (m *Modeler) network(g *graph.Graph, inputs graph.Node, isTraining bool) (*network, error) {
	if !inputs.Valid() {
		return nil, fmt.Errorf("batch has no inputs")
	}
	x := inputs
	if m.config.DataFormat == DataFormatChannelsFirst {
		x = g.Transpose(x)
	}

	movingMean, err := g.Variable("moving_mean", zeros(m.numFeatures), false)
	if err != nil {
		return nil, err
	}
	var centred graph.Node
	if isTraining {
		batchMean := g.ReduceMean(x, 0)
		centred = g.Sub(x, batchMean)
		decay := m.config.MovingAverageDecay
		update := g.Assign(movingMean, g.Add(g.LinearScale(movingMean, decay), g.LinearScale(batchMean, 1-decay)))
		g.AddToCollection(graph.UpdateOps, update)
	} else {
		centred = g.Sub(x, movingMean)
	}

	weights, err := g.Variable("weights", m.initialWeights(), true)
	if err != nil {
		return nil, err
	}
	bias, err := g.Variable("bias", zeros(m.config.NumClasses), true)
	if err != nil {
		return nil, err
	}

	logits := g.Add(g.MatMul(centred, weights, false, false), bias)
	return &network{
		inputs:        centred,
		weights:       weights,
		bias:          bias,
		logits:        logits,
		probabilities: g.Softmax(logits),
		classes:       g.ArgMax(logits),
	}, nil
}

// loss is mean softmax cross entropy plus weight_decay * ||W||² / 2.
func (m *Modeler) loss(g *graph.Graph, net *network, labels graph.Node) graph.Node {
	batch := float32(m.config.BatchSize)
	crossEntropy := g.LinearScale(g.ReduceSum(g.Mul(labels, g.Log(net.probabilities)), api.AllAxes), -1/batch)
	l2 := g.LinearScale(g.ReduceSum(g.Mul(net.weights, net.weights), api.AllAxes), 0.5)
	return g.Add(crossEntropy, g.Mul(l2, m.weightDecay))
}

func (m *Modeler) gradients(g *graph.Graph, net *network, labels graph.Node) graph.GradientSet {
	dLogits := g.LinearScale(g.Sub(net.probabilities, labels), 1/float32(m.config.BatchSize))
	gradWeights := g.Add(g.MatMul(net.inputs, dLogits, true, false), g.Mul(net.weights, m.weightDecay))
	gradBias := g.ReduceSum(dLogits, 0)
	return graph.GradientSet{
		{Gradient: gradWeights, Variable: net.weights},
		{Gradient: gradBias, Variable: net.bias},
	}
}

func (m *Modeler) accuracy(g *graph.Graph, net *network, labels graph.Node) graph.Node {
	return g.ReduceMean(g.Equal(net.classes, g.ArgMax(labels)), api.AllAxes)
}

func (m *Modeler) initialWeights() *api.InlineData {
	rng := rand.New(rand.NewPCG(m.config.Seed, uint64(m.numFeatures)))
	scale := 1 / math.Sqrt(float64(m.numFeatures))
	values := make([]float32, m.numFeatures*m.config.NumClasses)
	for i := range values {
		values[i] = float32(rng.NormFloat64() * scale * 0.1)
	}
	return &api.InlineData{
		Dimensions: []int32{int32(m.numFeatures), int32(m.config.NumClasses)},
		Values:     values,
	}
}

func zeros(n int) *api.InlineData {
	return &api.InlineData{Dimensions: []int32{int32(n)}, Values: make([]float32, n)}
}
