package experiment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rankeval/rankeval/internal/analysis"
	"github.com/rankeval/rankeval/internal/bus"
	"github.com/rankeval/rankeval/internal/classify"
	"github.com/rankeval/rankeval/internal/config"
	"github.com/rankeval/rankeval/internal/observability"
	"github.com/rankeval/rankeval/internal/pkg/errors"
	"github.com/rankeval/rankeval/internal/pkg/hash"
	"github.com/rankeval/rankeval/internal/pkg/logger"
	"github.com/rankeval/rankeval/internal/store"
	"github.com/rankeval/rankeval/internal/tensor"
)

const eventSource = "rankeval.experiment"

// Runner executes manifests.
type Runner struct {
	engine   *analysis.Engine
	results  *store.Service
	bus      bus.Bus
	runs     *observability.RunLog
	log      *logger.Logger
	defaults config.AnalysisConfig
	scoring  config.ScoringConfig
}

// Option configures a Runner.
type Option func(*Runner)

// WithBus publishes lifecycle events on b.
func WithBus(b bus.Bus) Option {
	return func(r *Runner) { r.bus = b }
}

// WithRunLog records every finished analysis in l.
func WithRunLog(l *observability.RunLog) Option {
	return func(r *Runner) { r.runs = l }
}

// WithLogger sets the runner logger.
func WithLogger(log *logger.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithDefaults sets the analysis parameters used when a manifest leaves
// them out.
func WithDefaults(cfg config.AnalysisConfig) Option {
	return func(r *Runner) { r.defaults = cfg }
}

// WithScoring configures remote models.
func WithScoring(cfg config.ScoringConfig) Option {
	return func(r *Runner) { r.scoring = cfg }
}

// NewRunner creates a runner that saves results to results.
func NewRunner(engine *analysis.Engine, results *store.Service, opts ...Option) *Runner {
	r := &Runner{
		engine:  engine,
		results: results,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Discard()
	}
	return r
}

// Run executes every analysis of m. A failing analysis is recorded and the
// run continues; Run itself fails only when the inputs cannot be loaded,
// the context ends or the run record cannot be saved.
func (r *Runner) Run(ctx context.Context, m *Manifest) (*store.RunRecord, error) {
	in, classes, err := m.build(r.scoring)
	if err != nil {
		return nil, err
	}

	rec := &store.RunRecord{
		ID:          uuid.NewString(),
		Experiment:  m.Name,
		Fingerprint: hash.Fingerprint(m.raw),
		StartedAt:   time.Now().UTC(),
		Analyses:    make([]store.AnalysisRecord, 0, len(m.Analyses)),
	}
	log := r.log.WithRun(rec.ID)
	log.Info("Run started",
		"experiment", m.Name,
		"fingerprint", rec.Fingerprint,
		"datasets", len(in.Datasets),
		"models", len(in.Models),
		"analyses", len(m.Analyses),
	)

	for _, spec := range m.Analyses {
		if err := ctx.Err(); err != nil {
			return rec, err
		}
		ar := r.runAnalysis(ctx, log, rec, spec, in, classes)
		rec.Analyses = append(rec.Analyses, ar)
	}

	rec.FinishedAt = time.Now().UTC()
	if err := r.results.SaveRun(ctx, rec); err != nil {
		return rec, err
	}

	duration := rec.FinishedAt.Sub(rec.StartedAt)
	r.publish(ctx, log, bus.TopicRunCompleted, rec.ID, bus.RunPayload{
		Experiment: m.Name,
		Analyses:   len(rec.Analyses),
		Failed:     rec.Failed(),
		DurationMs: duration.Milliseconds(),
	})
	log.Info("Run completed", "failed", rec.Failed(), "duration", duration)
	return rec, nil
}

func (r *Runner) runAnalysis(ctx context.Context, log *logger.Logger, rec *store.RunRecord,
	spec AnalysisSpec, in analysis.Input, classes *classify.Assignment) store.AnalysisRecord {
	start := time.Now()
	out, err := r.execute(ctx, spec, in, classes)

	ar := store.AnalysisRecord{Name: spec.Name, Kind: spec.Kind}
	if err == nil {
		key := store.TensorKey(rec.ID, spec.Name)
		if err = r.results.SaveTensor(ctx, key, out); err == nil {
			ar.Key = key
			ar.Shape = out.Shape()
			ar.Computed = out.ValidCount()
		}
	}
	ar.Duration = time.Since(start)

	payload := bus.AnalysisPayload{
		Analysis:   spec.Name,
		Key:        ar.Key,
		Computed:   ar.Computed,
		Shape:      ar.Shape,
		DurationMs: ar.Duration.Milliseconds(),
	}
	entry := observability.RunLogEntry{
		RunID:      rec.ID,
		Experiment: rec.Experiment,
		Analysis:   spec.Name,
		Status:     observability.StatusOK,
		Computed:   ar.Computed,
		DurationMs: ar.Duration.Milliseconds(),
	}

	topic := bus.TopicAnalysisCompleted
	if err != nil {
		ar.Error = err.Error()
		payload.Error = ar.Error
		entry.Status = observability.StatusFailed
		entry.Error = ar.Error
		topic = bus.TopicAnalysisFailed
		log.WithError(err).Warn("Analysis failed", "analysis", spec.Name)
	} else {
		payload.Dims = out.Dims()
	}

	if r.runs != nil {
		r.runs.Add(entry)
	}
	r.publish(ctx, log, topic, rec.ID, payload)
	return ar
}

// execute dispatches one analysis to the engine.
func (r *Runner) execute(ctx context.Context, spec AnalysisSpec, in analysis.Input,
	classes *classify.Assignment) (*tensor.Tensor, error) {
	hist := analysis.HistogramOptions{Bins: spec.Bins, Start: spec.Start, End: spec.End}

	switch spec.Kind {
	case KindModelPerformance:
		return r.engine.ModelPerformance(ctx, in)

	case KindTreeWisePerformance:
		step := spec.Step
		if step == 0 {
			step = max(r.defaults.TreeStep, 1)
		}
		return r.engine.TreeWisePerformance(ctx, in, step)

	case KindTreeWiseAverageContribution:
		return r.engine.TreeWiseAverageContribution(ctx, in)

	case KindQueryWisePerformance:
		return r.engine.QueryWisePerformance(ctx, in, hist)

	case KindDocumentGradedRelevance:
		if hist.Bins == 0 {
			hist.Bins = r.defaults.GradedRelevanceBins
		}
		return r.engine.DocumentGradedRelevance(ctx, in, hist)

	case KindQueryClassPerformance:
		if classes == nil {
			return nil, errors.ValidationError("query_class_performance needs query classes")
		}
		assigned, err := classes.Assign(in.Datasets)
		if err != nil {
			return nil, err
		}
		return r.engine.QueryClassPerformance(ctx, in, assigned)

	case KindRankConfusionMatrix:
		return r.engine.RankConfusionMatrix(ctx, in, spec.SkipSameLabel)

	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown analysis kind %q", spec.Kind))
	}
}

// publish sends an event when a bus is configured. Publish failures are
// logged; they never fail the run.
func (r *Runner) publish(ctx context.Context, log *logger.Logger, topic, runID string, payload any) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, topic, bus.NewEvent(topic, eventSource, runID, payload)); err != nil {
		log.WithError(err).Warn("Failed to publish event", "topic", topic)
	}
}
