package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/engine"
	"k8s.io/examples/AI/trainloop/pkg/engine/fallback"
	"k8s.io/examples/AI/trainloop/pkg/graph"
)

type fakeInput struct{}

func (fakeInput) NumSamples() int { return 4 }

func (fakeInput) InputFn(g *graph.Graph, mode Mode, batchSize int) (Batch, error) {
	batch := Batch{Inputs: g.Constant("x", &api.InlineData{Dimensions: []int32{2}, Values: []float32{1, 2}})}
	if mode != ModeInfer {
		batch.Labels = g.Constant("y", &api.InlineData{Dimensions: []int32{2}, Values: []float32{0, 1}})
	}
	return batch, nil
}

// fakeModel has one trainable scalar w and loss = 3*w*scale + offset, where
// "offset" is computed once before the loop and "scale" is sequential.
type fakeModel struct {
	// tweak, if set, edits the outputs before they are returned.
	tweak   func(g *graph.Graph, outputs *NamedOutputs)
	feedPre FeedEntries

	globalStep   graph.Node
	maxStep      graph.Node
	learningRate graph.Node
	offsetOp     graph.Node
}

func (m *fakeModel) GetDatasetInfo(source InputSource) error {
	if source.NumSamples() == 0 {
		return fmt.Errorf("empty")
	}
	return nil
}

func (m *fakeModel) CreateNonReplicated(g *graph.Graph) error {
	m.globalStep = g.GetOrCreateGlobalStep()
	m.learningRate = g.Scalar("learning_rate", 0.5)
	m.maxStep = g.Scalar("max_step", 3)

	evaluations, err := g.Variable("feed_evaluations", api.NewScalar(0), false)
	if err != nil {
		return err
	}
	m.offsetOp = g.AssignAdd(evaluations, g.Scalar("one", 1))

	if _, err := g.Placeholder("offset"); err != nil {
		return err
	}
	_, err = g.Placeholder("scale")
	return err
}

func (m *fakeModel) ModelFn(g *graph.Graph, mode Mode, batch Batch) (*NamedOutputs, error) {
	w, err := g.Variable("w", api.NewScalar(1), true)
	if err != nil {
		return nil, err
	}
	offset, _ := g.LookupPlaceholder("offset")
	scale, _ := g.LookupPlaceholder("scale")
	loss := g.Add(g.Mul(g.ReduceSum(g.Mul(w, batch.Inputs), api.AllAxes), scale), offset)
	accuracy := g.Scalar("accuracy", 0.75)

	outputs := NewNamedOutputs()
	switch mode {
	case ModeTrain:
		outputs.Set(OutputLoss, loss).
			SetGradients(OutputGrads, graph.GradientSet{{Gradient: g.Scalar("grad_w", 1), Variable: w}}).
			Set(OutputAccuracy, accuracy).
			Set(OutputLearningRate, m.learningRate)
	case ModeEval:
		outputs.Set(OutputLoss, loss).Set(OutputAccuracy, accuracy)
	case ModeInfer:
		outputs.Set(OutputClasses, g.ArgMax(batch.Inputs)).Set(OutputProbabilities, g.Softmax(batch.Inputs))
	}
	if m.tweak != nil {
		m.tweak(g, outputs)
	}
	return outputs, nil
}

func (m *fakeModel) Optimizer() graph.Optimizer {
	return graph.GradientDescent{LearningRate: m.learningRate}
}

func (m *fakeModel) GlobalStep() graph.Node { return m.globalStep }
func (m *fakeModel) MaxStep() graph.Node    { return m.maxStep }

func (m *fakeModel) FeedPre() FeedEntries {
	if m.feedPre != nil {
		return m.feedPre
	}
	return FeedEntries{"offset": FeedNode(m.offsetOp)}
}

func (m *fakeModel) FeedSeq() FeedEntries {
	return FeedEntries{"scale": FeedConstant(api.NewScalar(1))}
}

// recorder logs every hook it sees into a log shared between recorders.
type recorder struct {
	name string
	log  *[]string

	failHook string
	failStep int

	steps     int
	outputs   []Outputs
	onStep    func(feeds graph.Feeds)
	variables map[string]*api.InlineData
}

func (r *recorder) record(hook string) {
	*r.log = append(*r.log, r.name+":"+hook)
}

func (r *recorder) fail(hook string) error {
	if r.failHook == hook && r.failStep == r.steps {
		return errBoom
	}
	return nil
}

var errBoom = errors.New("boom")

func (r *recorder) BeforeRun(ctx context.Context, sess *graph.Session, saver Saver) error {
	r.record("before_run")
	return r.fail("before_run")
}

func (r *recorder) BeforeStep(ctx context.Context, sess *graph.Session) error {
	r.record("before_step")
	return r.fail("before_step")
}

func (r *recorder) AfterStep(ctx context.Context, sess *graph.Session, outputs Outputs, saver Saver, summary SummaryWriter, feeds graph.Feeds) (map[string]string, error) {
	r.record("after_step")
	r.steps++
	r.outputs = append(r.outputs, outputs)
	if r.onStep != nil {
		r.onStep(feeds)
	}
	if err := r.fail("after_step"); err != nil {
		return nil, err
	}
	return map[string]string{"b": r.name + "-b", "a": r.name + "-a"}, nil
}

func (r *recorder) AfterRun(ctx context.Context, sess *graph.Session, saver Saver, summary SummaryWriter) error {
	r.record("after_run")
	vars, err := sess.Variables(ctx)
	if err != nil {
		return err
	}
	r.variables = vars
	return nil
}

func (r *recorder) losses(t *testing.T) []float32 {
	t.Helper()
	var out []float32
	for _, o := range r.outputs {
		v, ok := o.Scalar(OutputLoss)
		require.True(t, ok)
		out = append(out, v)
	}
	return out
}

type countingEngine struct {
	engine.Engine
	scopes int
}

func (e *countingEngine) NewScope(ctx context.Context, config engine.SessionConfig) (engine.Scope, error) {
	e.scopes++
	return e.Engine.NewScope(ctx, config)
}

func testConfig(mode Mode) Config {
	return Config{
		Mode:            mode,
		BatchSizePerGPU: 2,
		NumClasses:      2,
		SummaryNames:    []string{OutputLoss, OutputAccuracy, OutputLearningRate},
	}
}

func TestRunTrain(t *testing.T) {
	var log []string
	rec := &recorder{name: "rec", log: &log}
	var progress bytes.Buffer

	r, err := New(testConfig(ModeTrain), fakeInput{}, &fakeModel{}, WithCallbacks(rec), WithProgressWriter(&progress))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{OutputLoss, OutputGrads, OutputAccuracy, OutputLearningRate, OutputSummary}, r.RunOps())

	out := progress.String()
	assert.Equal(t, 3, strings.Count(out, "\r"))
	assert.NotContains(t, out, "\n")
	assert.Contains(t, out, "\rrec-a rec-b ")

	// w starts at 1 and drops by 0.5 per step.
	assert.InDeltaSlice(t, []float32{4, 2.5, 1}, rec.losses(t), 1e-5)

	summary := rec.outputs[0][OutputSummary]
	require.NotNil(t, summary)
	var tags []string
	for _, s := range summary.GetSummaries() {
		tags = append(tags, s.Tag)
	}
	assert.Equal(t, []string{OutputLoss, OutputAccuracy, OutputLearningRate}, tags)

	assert.Equal(t, []float32{3}, rec.variables[graph.GlobalStepName].Values)
	assert.InDeltaSlice(t, []float32{-0.5}, rec.variables["w"].Values, 1e-5)
	assert.Equal(t, []float32{1}, rec.variables["feed_evaluations"].Values, "precomputed feeds are evaluated exactly once")
}

// resumeAt moves global_step as a restored checkpoint would.
type resumeAt struct {
	BaseCallback
	step float32
}

func (c *resumeAt) BeforeRun(ctx context.Context, sess *graph.Session, saver Saver) error {
	return sess.SetVariables(ctx, map[string]*api.InlineData{graph.GlobalStepName: api.NewScalar(c.step)})
}

func TestRunResumesAndSkipsLoop(t *testing.T) {
	grid := []struct {
		start int
		steps int
	}{
		{start: 1, steps: 2},
		{start: 3, steps: 0},
		{start: 5, steps: 0},
	}
	for _, g := range grid {
		t.Run(fmt.Sprintf("start=%d", g.start), func(t *testing.T) {
			var log []string
			rec := &recorder{name: "rec", log: &log}
			var progress bytes.Buffer

			r, err := New(testConfig(ModeTrain), fakeInput{}, &fakeModel{},
				WithCallbacks(&resumeAt{step: float32(g.start)}, rec), WithProgressWriter(&progress))
			require.NoError(t, err)
			require.NoError(t, r.Run(context.Background()))

			assert.Equal(t, g.steps, rec.steps)
			assert.Equal(t, g.steps, strings.Count(progress.String(), "\r"))
			assert.Equal(t, "rec:before_run", log[0])
			assert.Equal(t, "rec:after_run", log[len(log)-1])
			assert.Equal(t, 1, countOf(log, "rec:after_run"))

			wantStep := float32(max(g.start, 3))
			assert.Equal(t, []float32{wantStep}, rec.variables[graph.GlobalStepName].Values)
		})
	}
}

func countOf(log []string, entry string) int {
	n := 0
	for _, l := range log {
		if l == entry {
			n++
		}
	}
	return n
}

func TestRunTrainAlwaysHasSummary(t *testing.T) {
	grid := []struct {
		name         string
		summaryNames []string
	}{
		{name: "no allow-list", summaryNames: nil},
		{name: "nothing matches", summaryNames: []string{"perplexity"}},
	}
	for _, g := range grid {
		t.Run(g.name, func(t *testing.T) {
			var log []string
			rec := &recorder{name: "rec", log: &log}
			config := testConfig(ModeTrain)
			config.SummaryNames = g.summaryNames

			r, err := New(config, fakeInput{}, &fakeModel{}, WithCallbacks(rec), WithProgressWriter(&bytes.Buffer{}))
			require.NoError(t, err)
			require.NoError(t, r.Run(context.Background()))

			ops := r.RunOps()
			assert.Equal(t, OutputSummary, ops[len(ops)-1])
			require.Len(t, rec.outputs, 3)
			for _, o := range rec.outputs {
				require.Contains(t, o, OutputSummary)
				assert.Empty(t, o[OutputSummary].GetSummaries())
			}
		})
	}
}

func TestRunEvalHasNoSummary(t *testing.T) {
	var log []string
	rec := &recorder{name: "rec", log: &log}

	r, err := New(testConfig(ModeEval), fakeInput{}, &fakeModel{}, WithCallbacks(rec), WithProgressWriter(&bytes.Buffer{}))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{OutputLoss, OutputAccuracy}, r.RunOps())
	for _, o := range rec.outputs {
		assert.NotContains(t, o, OutputSummary)
	}
	assert.InDeltaSlice(t, []float32{4, 4, 4}, rec.losses(t), 1e-5)
}

func TestRunInfer(t *testing.T) {
	var log []string
	rec := &recorder{name: "rec", log: &log}

	r, err := New(testConfig(ModeInfer), fakeInput{}, &fakeModel{}, WithCallbacks(rec), WithProgressWriter(&bytes.Buffer{}))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{OutputClasses, OutputProbabilities}, r.RunOps())
	require.Len(t, rec.outputs, 3)
	classes, ok := rec.outputs[0].Scalar(OutputClasses)
	require.True(t, ok)
	assert.Equal(t, float32(1), classes)
}

func TestCallbacksModifyFeeds(t *testing.T) {
	var log []string
	rec := &recorder{name: "rec", log: &log}
	rec.onStep = func(feeds graph.Feeds) {
		scale, err := feeds["scale"].Scalar()
		require.NoError(t, err)
		feeds["scale"] = api.NewScalar(scale + 1)
	}

	r, err := New(testConfig(ModeEval), fakeInput{}, &fakeModel{}, WithCallbacks(rec), WithProgressWriter(&bytes.Buffer{}))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	assert.InDeltaSlice(t, []float32{4, 7, 10}, rec.losses(t), 1e-5)
}

func TestCallbackOrder(t *testing.T) {
	var log []string
	first := &recorder{name: "first", log: &log}
	second := &recorder{name: "second", log: &log}
	var progress bytes.Buffer

	r, err := New(testConfig(ModeEval), fakeInput{}, &fakeModel{}, WithCallbacks(first, second), WithProgressWriter(&progress))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	expected := []string{"first:before_run", "second:before_run"}
	for i := 0; i < 3; i++ {
		expected = append(expected, "first:before_step", "second:before_step", "first:after_step", "second:after_step")
	}
	expected = append(expected, "first:after_run", "second:after_run")
	assert.Equal(t, expected, log)
	assert.Contains(t, progress.String(), "\rfirst-a first-b second-a second-b ")
}

func TestCallbackErrorAbortsRun(t *testing.T) {
	var log []string
	first := &recorder{name: "first", log: &log}
	second := &recorder{name: "second", log: &log, failHook: "after_step", failStep: 2}
	var progress bytes.Buffer

	r, err := New(testConfig(ModeTrain), fakeInput{}, &fakeModel{}, WithCallbacks(first, second), WithProgressWriter(&progress))
	require.NoError(t, err)
	err = r.Run(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, err, errBoom)
	var callbackErr *CallbackError
	require.ErrorAs(t, err, &callbackErr)
	assert.Equal(t, "after_step", callbackErr.Hook)
	assert.Equal(t, 1, callbackErr.Index)

	assert.NotContains(t, log, "first:after_run")
	assert.Equal(t, 1, strings.Count(progress.String(), "\r"))
}

func TestBeforeRunErrorSkipsLoop(t *testing.T) {
	var log []string
	rec := &recorder{name: "rec", log: &log, failHook: "before_run"}

	r, err := New(testConfig(ModeEval), fakeInput{}, &fakeModel{}, WithCallbacks(rec), WithProgressWriter(&bytes.Buffer{}))
	require.NoError(t, err)
	err = r.Run(context.Background())

	var callbackErr *CallbackError
	require.ErrorAs(t, err, &callbackErr)
	assert.Equal(t, "before_run", callbackErr.Hook)
	assert.Equal(t, []string{"rec:before_run"}, log)
}

func TestContractViolations(t *testing.T) {
	grid := []struct {
		name    string
		mode    Mode
		model   *fakeModel
		message string
	}{
		{
			name: "infer missing probabilities",
			mode: ModeInfer,
			model: &fakeModel{tweak: func(g *graph.Graph, o *NamedOutputs) {
				*o = *NewNamedOutputs().Set(OutputClasses, g.Scalar("c", 0))
			}},
			message: `missing required output "probabilities"`,
		},
		{
			name: "eval declares grads",
			mode: ModeEval,
			model: &fakeModel{tweak: func(g *graph.Graph, o *NamedOutputs) {
				o.SetGradients(OutputGrads, graph.GradientSet{})
			}},
			message: `unexpected output "grads"`,
		},
		{
			name: "train grads is a plain op",
			mode: ModeTrain,
			model: &fakeModel{tweak: func(g *graph.Graph, o *NamedOutputs) {
				o.Set(OutputGrads, g.Scalar("g", 0))
			}},
			message: "must be a gradient set",
		},
		{
			name: "loss declared as gradients",
			mode: ModeEval,
			model: &fakeModel{tweak: func(g *graph.Graph, o *NamedOutputs) {
				o.SetGradients(OutputLoss, graph.GradientSet{})
			}},
			message: "only \"grads\" may be",
		},
		{
			name: "feed declared twice",
			mode: ModeEval,
			model: &fakeModel{feedPre: FeedEntries{
				"offset": FeedConstant(api.NewScalar(0)),
				"scale":  FeedConstant(api.NewScalar(1)),
			}},
			message: `feed "scale" is declared both`,
		},
		{
			name:    "empty feed",
			mode:    ModeEval,
			model:   &fakeModel{feedPre: FeedEntries{"offset": {}}},
			message: "neither an operation nor a value",
		},
	}

	for _, g := range grid {
		t.Run(g.name, func(t *testing.T) {
			var log []string
			rec := &recorder{name: "rec", log: &log}
			eng := &countingEngine{Engine: fallback.Engine{}}

			r, err := New(testConfig(g.mode), fakeInput{}, g.model, WithEngine(eng), WithCallbacks(rec), WithProgressWriter(&bytes.Buffer{}))
			require.NoError(t, err)
			err = r.Run(context.Background())

			assert.ErrorIs(t, err, ErrContractViolation)
			assert.ErrorContains(t, err, g.message)
			var violation *ContractViolationError
			require.ErrorAs(t, err, &violation)
			assert.Equal(t, g.mode, violation.Mode)

			// Violations surface while building the graph, before any session exists.
			assert.Equal(t, 0, eng.scopes)
			assert.Empty(t, log)
		})
	}
}

func TestCollectOpsGroupsUpdateOps(t *testing.T) {
	g := graph.New()
	step := g.GetOrCreateGlobalStep()
	w, err := g.Variable("w", api.NewScalar(1), true)
	require.NoError(t, err)
	ema, err := g.Variable("ema", api.NewScalar(0), false)
	require.NoError(t, err)
	g.AddToCollection(graph.UpdateOps, g.Assign(ema, g.Scalar("ten", 10)))

	outputs := NewNamedOutputs().
		Set(OutputLoss, g.Scalar("loss", 2)).
		SetGradients(OutputGrads, graph.GradientSet{{Gradient: g.Scalar("grad", 1), Variable: w}}).
		Set(OutputAccuracy, g.Scalar("acc", 1)).
		Set(OutputLearningRate, g.Scalar("lr", 0.25))
	optimizer := graph.GradientDescent{LearningRate: g.Scalar("rate", 0.25)}

	ops, names, err := collectOps(g, ModeTrain, outputs, optimizer, step, []string{OutputLoss, OutputGrads})
	require.NoError(t, err)
	require.Len(t, ops, 5)
	assert.Equal(t, OutputSummary, names[4])

	ctx := context.Background()
	sess, err := graph.NewSession(ctx, g, fallback.Engine{}, NewSessionConfig(0))
	require.NoError(t, err)
	defer sess.Close()

	values, err := sess.Run(ctx, ops, nil)
	require.NoError(t, err)
	require.Len(t, values[4].GetSummaries(), 1, "grads is never summarized")
	assert.Equal(t, OutputLoss, values[4].GetSummaries()[0].Tag)

	vars, err := sess.Variables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.75}, vars["w"].Values)
	assert.Equal(t, []float32{10}, vars["ema"].Values)
	assert.Equal(t, []float32{1}, vars[graph.GlobalStepName].Values)
}

func TestCollectOpsNeedsOptimizer(t *testing.T) {
	g := graph.New()
	w, err := g.Variable("w", api.NewScalar(1), true)
	require.NoError(t, err)
	outputs := NewNamedOutputs().SetGradients(OutputGrads, graph.GradientSet{{Gradient: g.Scalar("grad", 1), Variable: w}})

	_, _, err = collectOps(g, ModeTrain, outputs, nil, graph.Node{}, nil)
	assert.ErrorIs(t, err, ErrContractViolation)
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"train", "eval", "infer"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, s, m.String())
	}
	_, err := ParseMode("predict")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestConfig(t *testing.T) {
	c := testConfig(ModeTrain)
	require.NoError(t, c.Validate())
	assert.Equal(t, 2, c.BatchSize())

	c.NumGPU = 4
	assert.Equal(t, 8, c.BatchSize())

	c.Mode = "predict"
	assert.ErrorIs(t, c.Validate(), ErrUnknownMode)

	c = testConfig(ModeEval)
	c.BatchSizePerGPU = 0
	assert.Error(t, c.Validate())

	c = testConfig(ModeEval)
	c.DataFormat = "nhwc"
	assert.Error(t, c.Validate())
}

func TestNewAsksModelForDatasetInfo(t *testing.T) {
	_, err := New(testConfig(ModeTrain), emptyInput{}, &fakeModel{})
	assert.ErrorContains(t, err, "getting dataset info")
}

type emptyInput struct{ fakeInput }

func (emptyInput) NumSamples() int { return 0 }
