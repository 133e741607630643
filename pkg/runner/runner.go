// Package runner drives the train, eval and infer loop around a model
// strategy, an input source, and an ordered chain of callbacks.
package runner

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/trainloop/pkg/engine"
	"k8s.io/examples/AI/trainloop/pkg/engine/fallback"
	"k8s.io/examples/AI/trainloop/pkg/graph"
)

var tracer = otel.Tracer("k8s.io/examples/AI/trainloop/pkg/runner")

type Runner struct {
	config   Config
	inputter InputSource
	modeler  ModelStrategy

	engine        engine.Engine
	sessionConfig engine.SessionConfig
	callbacks     []Callback
	saver         Saver
	summaryWriter SummaryWriter
	progress      io.Writer

	// Built by createGraph; fixed for the rest of the run.
	graph       *graph.Graph
	runOps      []graph.Node
	runOpsNames []string

	// feeds is threaded through the loop; callbacks may modify it in AfterStep.
	feeds graph.Feeds
}

type Option func(*Runner)

// WithCallbacks appends callbacks; they are invoked in the order given.
func WithCallbacks(callbacks ...Callback) Option {
	return func(r *Runner) {
		r.callbacks = append(r.callbacks, callbacks...)
	}
}

func WithSaver(saver Saver) Option {
	return func(r *Runner) {
		r.saver = saver
	}
}

func WithSummaryWriter(w SummaryWriter) Option {
	return func(r *Runner) {
		r.summaryWriter = w
	}
}

// WithEngine replaces the default in-process engine.
func WithEngine(e engine.Engine) Option {
	return func(r *Runner) {
		r.engine = e
	}
}

// WithProgressWriter sets where per-step progress lines go (stdout by default).
func WithProgressWriter(w io.Writer) Option {
	return func(r *Runner) {
		r.progress = w
	}
}

// New builds a runner and lets the model inspect the input source.
func New(config Config, inputter InputSource, modeler ModelStrategy, opts ...Option) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if inputter == nil || modeler == nil {
		return nil, fmt.Errorf("runner needs both an input source and a model strategy")
	}

	r := &Runner{
		config:        config,
		inputter:      inputter,
		modeler:       modeler,
		engine:        fallback.Engine{},
		sessionConfig: NewSessionConfig(config.NumGPU),
		progress:      os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.modeler.GetDatasetInfo(r.inputter); err != nil {
		return nil, fmt.Errorf("getting dataset info: %w", err)
	}
	return r, nil
}

func (r *Runner) Mode() Mode {
	return r.config.Mode
}

// RunOps returns the names of the ops fetched each step, once the graph is built.
func (r *Runner) RunOps() []string {
	return append([]string(nil), r.runOpsNames...)
}

// createGraph builds the whole graph for the configured mode. It runs once per Run.
func (r *Runner) createGraph(ctx context.Context) error {
	log := klog.FromContext(ctx)
	mode := r.config.Mode

	g := graph.New()
	if err := r.modeler.CreateNonReplicated(g); err != nil {
		return fmt.Errorf("creating non-replicated graph: %w", err)
	}
	batch, err := r.inputter.InputFn(g, mode, r.config.BatchSize())
	if err != nil {
		return fmt.Errorf("creating input pipeline: %w", err)
	}
	outputs, err := r.modeler.ModelFn(g, mode, batch)
	if err != nil {
		return fmt.Errorf("building model: %w", err)
	}
	if err := validateOutputs(mode, outputs); err != nil {
		return err
	}
	if err := validateFeeds(mode, r.modeler.FeedPre(), r.modeler.FeedSeq()); err != nil {
		return err
	}
	if !r.modeler.MaxStep().Valid() || (mode == ModeTrain && !r.modeler.GlobalStep().Valid()) {
		return contractViolation(mode, "model does not define its step counters")
	}

	runOps, runOpsNames, err := collectOps(g, mode, outputs, r.modeler.Optimizer(), r.modeler.GlobalStep(), r.config.SummaryNames)
	if err != nil {
		return err
	}

	r.graph = g
	r.runOps = runOps
	r.runOpsNames = runOpsNames
	log.Info("built graph", "mode", mode, "tensors", g.Len(), "runOps", runOpsNames)
	log.V(2).Info("graph variables",
		"trainable", nodeNames(g.Collection(graph.TrainableVariables)),
		"global", nodeNames(g.Collection(graph.GlobalVariables)))
	return nil
}

func nodeNames(nodes []graph.Node) []string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name()
	}
	return names
}

// Run executes the loop to completion. Any engine or callback failure ends
// the run immediately and skips the after-run hooks; the session is always closed.
func (r *Runner) Run(ctx context.Context) (err error) {
	log := klog.FromContext(ctx)
	mode := r.config.Mode

	ctx, span := tracer.Start(ctx, "Runner.Run", trace.WithAttributes(attribute.String("mode", string(mode))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		span.End()
	}()

	if err := r.createGraph(ctx); err != nil {
		return err
	}

	sess, err := graph.NewSession(ctx, r.graph, r.engine, r.sessionConfig)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			log.Error(closeErr, "closing session")
		}
	}()

	if err := r.beforeRun(ctx, sess); err != nil {
		return err
	}

	r.feeds, err = prepareFeeds(ctx, sess, r.modeler.FeedPre(), r.modeler.FeedSeq())
	if err != nil {
		return err
	}

	globalStep := int64(0)
	if mode == ModeTrain {
		globalStep, err = r.readCounter(ctx, sess, r.modeler.GlobalStep())
		if err != nil {
			return fmt.Errorf("reading global step: %w", err)
		}
	}
	maxStep, err := r.readCounter(ctx, sess, r.modeler.MaxStep())
	if err != nil {
		return fmt.Errorf("reading max step: %w", err)
	}
	log.Info("starting loop", "mode", mode, "globalStep", globalStep, "maxStep", maxStep)

	for globalStep < maxStep {
		if err := r.step(ctx, sess, globalStep); err != nil {
			return err
		}
		globalStep++
	}

	if err := r.afterRun(ctx, sess); err != nil {
		return err
	}
	log.Info("finished run", "mode", mode, "globalStep", globalStep)
	return nil
}

func (r *Runner) step(ctx context.Context, sess *graph.Session, globalStep int64) error {
	ctx, span := tracer.Start(ctx, "Runner.step", trace.WithAttributes(attribute.Int64("step", globalStep)))
	defer span.End()

	if err := r.beforeStep(ctx, sess); err != nil {
		return err
	}

	values, err := sess.Run(ctx, r.runOps, r.feeds)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("executing step %d: %w", globalStep, err)
	}
	outputs, err := zipOutputs(r.runOpsNames, values)
	if err != nil {
		return err
	}

	line, err := r.afterStep(ctx, sess, outputs)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(r.progress, "\r"+line); err != nil {
		return fmt.Errorf("writing progress: %w", err)
	}
	return nil
}

func (r *Runner) readCounter(ctx context.Context, sess *graph.Session, node graph.Node) (int64, error) {
	value, err := sess.Run1(ctx, node, r.feeds)
	if err != nil {
		return 0, err
	}
	v, err := value.Scalar()
	if err != nil {
		return 0, err
	}
	return int64(math.Round(float64(v))), nil
}
