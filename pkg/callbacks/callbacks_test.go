package callbacks

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/engine/fallback"
	"k8s.io/examples/AI/trainloop/pkg/graph"
	"k8s.io/examples/AI/trainloop/pkg/runner"
)

type fakeSaver struct {
	hasCheckpoint bool
	restoreErr    error
	saved         []int64
}

func (s *fakeSaver) Save(ctx context.Context, sess *graph.Session, step int64) error {
	s.saved = append(s.saved, step)
	return nil
}

func (s *fakeSaver) Restore(ctx context.Context, sess *graph.Session) (bool, error) {
	return s.hasCheckpoint, s.restoreErr
}

func newSession(t *testing.T, initialStep float32) (*graph.Session, graph.Node) {
	t.Helper()
	ctx := context.Background()
	g := graph.New()
	step := g.GetOrCreateGlobalStep()
	sess, err := graph.NewSession(ctx, g, fallback.Engine{}, runner.NewSessionConfig(0))
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	require.NoError(t, sess.SetVariables(ctx, map[string]*api.InlineData{graph.GlobalStepName: api.NewScalar(initialStep)}))
	return sess, step
}

func runSteps(t *testing.T, cb runner.Callback, sess *graph.Session, saver runner.Saver, summary runner.SummaryWriter, n int, outputs runner.Outputs) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, cb.BeforeRun(ctx, sess, saver))
	for i := 0; i < n; i++ {
		require.NoError(t, cb.BeforeStep(ctx, sess))
		_, err := cb.AfterStep(ctx, sess, outputs, saver, summary, graph.Feeds{})
		require.NoError(t, err)
	}
	require.NoError(t, cb.AfterRun(ctx, sess, saver, summary))
}

func TestCheckpointSavesEveryNAndAtEnd(t *testing.T) {
	sess, step := newSession(t, 10)
	saver := &fakeSaver{hasCheckpoint: true}
	cb := NewCheckpoint(runner.ModeTrain, step, 2)

	runSteps(t, cb, sess, saver, nil, 5, runner.Outputs{})
	assert.Equal(t, []int64{12, 14, 15}, saver.saved)
}

func TestCheckpointNoDuplicateFinalSave(t *testing.T) {
	sess, step := newSession(t, 0)
	saver := &fakeSaver{}
	cb := NewCheckpoint(runner.ModeTrain, step, 2)

	runSteps(t, cb, sess, saver, nil, 4, runner.Outputs{})
	assert.Equal(t, []int64{2, 4}, saver.saved)
}

func TestCheckpointRequiredOutsideTrain(t *testing.T) {
	ctx := context.Background()
	sess, step := newSession(t, 0)

	cb := NewCheckpoint(runner.ModeEval, step, 0)
	err := cb.BeforeRun(ctx, sess, &fakeSaver{})
	assert.ErrorIs(t, err, runner.ErrNoCheckpoint)

	err = cb.BeforeRun(ctx, sess, nil)
	assert.ErrorIs(t, err, runner.ErrNoCheckpoint)

	saver := &fakeSaver{hasCheckpoint: true}
	runSteps(t, cb, sess, saver, nil, 3, runner.Outputs{})
	assert.Empty(t, saver.saved, "eval never saves")

	boom := errors.New("boom")
	err = cb.BeforeRun(ctx, sess, &fakeSaver{restoreErr: boom})
	assert.ErrorIs(t, err, boom)
}

func TestLoggerDisplayAndAverages(t *testing.T) {
	ctx := context.Background()
	l := NewLogger(runner.ModeEval)
	require.NoError(t, l.BeforeRun(ctx, nil, nil))

	display, err := l.AfterStep(ctx, nil, runner.Outputs{
		runner.OutputLoss:     api.NewScalar(1),
		runner.OutputAccuracy: api.NewScalar(0.5),
	}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"loss":     "loss: 1.0000",
		"accuracy": "accuracy: 0.5000",
	}, display)

	_, err = l.AfterStep(ctx, nil, runner.Outputs{
		runner.OutputLoss:     api.NewScalar(3),
		runner.OutputAccuracy: api.NewScalar(1),
	}, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, l.AfterRun(ctx, nil, nil, nil))
	assert.InDeltaMapValues(t, map[string]float64{"loss": 2, "accuracy": 0.75}, l.Averages(), 1e-6)
}

type recordingSummary struct {
	steps   []int64
	flushed bool
}

func (r *recordingSummary) WriteSummary(ctx context.Context, step int64, summary *api.InlineData) error {
	r.steps = append(r.steps, step)
	return nil
}

func (r *recordingSummary) Flush() error {
	r.flushed = true
	return nil
}

func TestSummaryEveryN(t *testing.T) {
	sess, step := newSession(t, 0)
	w := &recordingSummary{}
	cb := NewSummary(step, 2)
	runSteps(t, cb, sess, nil, w, 5, runner.Outputs{runner.OutputSummary: &api.InlineData{}})
	assert.Equal(t, []int64{2, 4}, w.steps)
	assert.True(t, w.flushed)
}

func TestSummaryWithoutSummaryOutput(t *testing.T) {
	sess, step := newSession(t, 0)
	w := &recordingSummary{}
	runSteps(t, NewSummary(step, 1), sess, nil, w, 3, runner.Outputs{})
	assert.Empty(t, w.steps)
}

func TestPredictions(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	p := NewPredictions(&buf)

	display, err := p.AfterStep(ctx, nil, runner.Outputs{
		runner.OutputClasses:       {Dimensions: []int32{2}, Values: []float32{1, 0}},
		runner.OutputProbabilities: {Dimensions: []int32{2, 2}, Values: []float32{0.25, 0.75, 0.5, 0.5}},
	}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "predicted: 2", display["predictions"])
	require.NoError(t, p.AfterRun(ctx, nil, nil, nil))
	assert.Equal(t, "1,0.25,0.75\n0,0.5,0.5\n", buf.String())
}

func TestFeedback(t *testing.T) {
	ctx := context.Background()
	feeds := graph.Feeds{"state": api.NewScalar(0)}
	f := &Feedback{
		Output: "loss",
		Feed:   "state",
		Transform: func(in *api.InlineData) (*api.InlineData, error) {
			v, err := in.Scalar()
			return api.NewScalar(v * 2), err
		},
	}
	_, err := f.AfterStep(ctx, nil, runner.Outputs{"loss": api.NewScalar(3)}, nil, nil, feeds)
	require.NoError(t, err)
	assert.Equal(t, []float32{6}, feeds["state"].Values)

	f.Feed = "undeclared"
	_, err = f.AfterStep(ctx, nil, runner.Outputs{"loss": api.NewScalar(3)}, nil, nil, feeds)
	assert.ErrorContains(t, err, "not a declared feed")
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, runner.ModeTrain)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.BeforeStep(ctx, nil))
		_, err := m.AfterStep(ctx, nil, runner.Outputs{
			runner.OutputLoss:    api.NewScalar(float32(i)),
			runner.OutputSummary: &api.InlineData{},
		}, nil, nil, nil)
		require.NoError(t, err)
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				byName[mf.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				byName[mf.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 3.0, byName["trainloop_steps_total"])
	assert.Equal(t, 2.0, byName["trainloop_output"], "only the scalar loss is exported")
}
