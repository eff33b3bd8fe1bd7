package pipeline

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/logger"
	"github.com/rowflow/rowflow/pkg/metrics"
	"github.com/rowflow/rowflow/pkg/row"
)

const tracerName = "github.com/rowflow/rowflow/pkg/pipeline"

// Pipeline pulls batches from a source and threads them through pipes.
// A Pipeline runs on the calling goroutine; State may be read concurrently.
type Pipeline struct {
	name      string
	source    Source
	pipes     []Pipe
	optimizer *Optimizer
	optimized bool

	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
	state   atomic.Int32
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPipes appends pipes in execution order.
func WithPipes(pipes ...Pipe) Option {
	return func(p *Pipeline) { p.pipes = append(p.pipes, pipes...) }
}

// WithOptimizer replaces the default optimizer. A nil optimizer disables
// optimization.
func WithOptimizer(o *Optimizer) Option {
	return func(p *Pipeline) { p.optimizer = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics reports batches and run durations to c.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// WithTracer sets the tracer used for run spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// New creates a pipeline. Every pipe must be a Transformer, an Expander or
// a Loader.
func New(name string, source Source, opts ...Option) (*Pipeline, error) {
	if source == nil {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "pipeline source cannot be nil")
	}
	p := &Pipeline{
		name:      name,
		source:    source,
		optimizer: DefaultOptimizer(),
		logger:    logger.Get(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	for i, pipe := range p.pipes {
		if !validPipe(pipe) {
			return nil, errors.Newf(errors.ErrorTypeInvalidArgument,
				"pipe %d (%T) is neither a transformer, an expander nor a loader", i, pipe).
				WithDetail("pipe", i)
		}
	}
	return p, nil
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Source returns the source, possibly rewritten by the optimizer.
func (p *Pipeline) Source() Source { return p.source }

// Pipes returns the pipes, possibly rewritten by the optimizer.
func (p *Pipeline) Pipes() []Pipe { return p.pipes }

// State returns the current state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

func (p *Pipeline) setState(log *zap.Logger, s State) {
	if old := State(p.state.Swap(int32(s))); old != s {
		log.Debug("pipeline state changed",
			zap.Stringer("from", old),
			zap.Stringer("to", s))
	}
}

// Run drains the pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	for _, err := range p.Process(ctx) {
		if err != nil {
			return err
		}
	}
	return nil
}

// Process runs the pipeline lazily, yielding every non-empty batch that
// leaves the last pipe. An error is yielded at most once, as the last
// element. Breaking out of the sequence stops the run.
func (p *Pipeline) Process(ctx context.Context) iter.Seq2[row.Rows, error] {
	return func(yield func(row.Rows, error) bool) {
		ctx := ctx
		if !p.optimized && p.optimizer != nil {
			p.source, p.pipes = p.optimizer.Optimize(p.source, p.pipes, p.logger)
		}
		p.optimized = true

		runID := uuid.NewString()
		ctx = logger.WithPipeline(ctx, p.name, runID)
		ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
			attribute.String("pipeline", p.name),
			attribute.String("run_id", runID),
			attribute.Int("pipes", len(p.pipes)),
		))
		defer span.End()

		log := logger.FromContext(ctx, p.logger)
		timer := metrics.NewTimer()
		log.Info("starting pipeline", zap.Int("pipes", len(p.pipes)))

		r := &run{
			p:       p,
			log:     log,
			yield:   yield,
			engaged: make(map[int]bool),
			stopAt:  -1,
		}
		err := r.execute(ctx)
		if ferr := r.finalize(context.WithoutCancel(ctx), err == nil); ferr != nil {
			err = errors.Join(err, ferr)
		}
		if derr := r.discard(context.WithoutCancel(ctx)); derr != nil {
			err = errors.Join(err, derr)
		}

		duration := timer.Stop()
		p.metrics.ObserveRun(p.name, duration)
		span.SetAttributes(attribute.Int("batches", r.batch))
		if err != nil {
			p.setState(log, StateStopped)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("pipeline failed", zap.Error(err), zap.Duration("duration", duration))
			if !r.consumed {
				yield(row.Rows{}, err)
			}
			return
		}
		if r.stopped {
			p.setState(log, StateStopped)
		} else {
			p.setState(log, StateDone)
		}
		log.Info("pipeline finished",
			zap.Int("batches", r.batch),
			zap.Bool("stopped", r.stopped),
			zap.Duration("duration", duration))
	}
}

// run holds the state of one execution.
type run struct {
	p     *Pipeline
	log   *zap.Logger
	yield func(row.Rows, error) bool

	batch    int
	engaged  map[int]bool
	stopAt   int
	stopped  bool
	consumed bool // consumer broke out of Process
}

func (r *run) execute(ctx context.Context) error {
	r.p.setState(r.log, StateExtracting)
	for rows, err := range r.p.source.Extract(ctx) {
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeRuntime, "source failed").
				WithDetail("batch", r.batch)
		}
		r.p.metrics.ObserveBatch(r.p.name, metrics.StageExtract, rows.Len())
		stop, err := r.thread(ctx, rows, 0)
		r.batch++
		if err != nil {
			return err
		}
		if stop {
			break
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeRuntime, "pipeline cancelled").
				WithDetail("batch", r.batch)
		}
		r.p.setState(r.log, StateExtracting)
	}
	if r.consumed {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeRuntime, "pipeline cancelled")
	}
	return r.flush(ctx)
}

// flush drains Flushers in pipe order. After a stop only the pipes behind
// the one that stopped are flushed.
func (r *run) flush(ctx context.Context) error {
	for i := r.stopAt + 1; i < len(r.p.pipes); i++ {
		f, ok := r.p.pipes[i].(Flusher)
		if !ok {
			continue
		}
		for rows, err := range f.Flush(ctx) {
			if err != nil {
				return r.pipeError(err, i)
			}
			stop, err := r.thread(ctx, rows, i+1)
			if err != nil {
				return err
			}
			if r.consumed {
				return nil
			}
			if stop {
				i = r.stopAt
				break
			}
		}
	}
	return nil
}

// thread passes rows through the pipes starting at from and yields the
// result. It reports whether the run has to stop.
func (r *run) thread(ctx context.Context, rows row.Rows, from int) (bool, error) {
	if rows.Empty() {
		return false, nil
	}
	if from == len(r.p.pipes) {
		if !r.yield(rows, nil) {
			r.consumed, r.stopped = true, true
			return true, nil
		}
		return false, nil
	}

	outs, err := r.apply(ctx, rows, from)
	stop := false
	if err != nil {
		if !IsStop(err) {
			return false, r.pipeError(err, from)
		}
		r.log.Debug("pipe requested stop",
			zap.Int("pipe", from),
			zap.String("type", fmt.Sprintf("%T", r.p.pipes[from])),
			zap.Error(err))
		stop, r.stopped, r.stopAt = true, true, from
	}
	for _, out := range outs {
		s, err := r.thread(ctx, out, from+1)
		if err != nil || s {
			return s, err
		}
	}
	return stop, nil
}

func (r *run) apply(ctx context.Context, rows row.Rows, i int) ([]row.Rows, error) {
	switch pipe := r.p.pipes[i].(type) {
	case Loader:
		r.p.setState(r.log, StateLoading)
		r.engaged[i] = true
		err := pipe.Load(ctx, rows)
		r.p.metrics.ObserveBatch(r.p.name, metrics.StageLoad, rows.Len())
		return []row.Rows{rows}, err
	case Expander:
		r.p.setState(r.log, StateTransforming)
		out, err := pipe.Expand(ctx, rows)
		r.p.metrics.ObserveBatch(r.p.name, metrics.StageTransform, rows.Len())
		return out, err
	case Transformer:
		r.p.setState(r.log, StateTransforming)
		out, err := pipe.Transform(ctx, rows)
		r.p.metrics.ObserveBatch(r.p.name, metrics.StageTransform, rows.Len())
		return []row.Rows{out}, err
	}
	return nil, errors.Newf(errors.ErrorTypeInvalidLogic, "unsupported pipe %T", r.p.pipes[i])
}

func (r *run) pipeError(err error, i int) error {
	return errors.Wrap(err, errors.ErrorTypeRuntime, fmt.Sprintf("pipe %d (%T) failed", i, r.p.pipes[i])).
		WithDetail("pipe", i).
		WithDetail("batch", r.batch)
}

// finalize calls Finalize once on loaders: all of them after success, only
// engaged ones after a failure.
func (r *run) finalize(ctx context.Context, success bool) error {
	var errs []error
	for i, pipe := range r.p.pipes {
		f, ok := pipe.(Finalizer)
		if !ok {
			continue
		}
		if _, isLoader := pipe.(Loader); !isLoader {
			continue
		}
		if !success && !r.engaged[i] {
			continue
		}
		if err := f.Finalize(ctx); err != nil {
			r.log.Error("loader finalize failed", zap.Int("pipe", i), zap.Error(err))
			errs = append(errs, errors.Wrap(err, errors.ErrorTypeRuntime, "finalize failed").
				WithDetail("pipe", i))
		}
	}
	return errors.Join(errs...)
}

// discard releases the external state of every Discarder pipe.
func (r *run) discard(ctx context.Context) error {
	var errs []error
	for i, pipe := range r.p.pipes {
		d, ok := pipe.(Discarder)
		if !ok {
			continue
		}
		if err := d.Discard(ctx); err != nil {
			r.log.Error("pipe discard failed", zap.Int("pipe", i), zap.Error(err))
			errs = append(errs, errors.Wrap(err, errors.ErrorTypeRuntime, "discard failed").
				WithDetail("pipe", i))
		}
	}
	return errors.Join(errs...)
}
