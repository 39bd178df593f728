package ctxengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/chatmem/internal/memory"
	"github.com/flemzord/chatmem/internal/telemetry"
)

// State is the observable phase of a retention policy.
type State int32

// Retention states. A policy cycles Idle -> Evaluating -> Compressing -> Idle.
const (
	StateIdle State = iota
	StateEvaluating
	StateCompressing
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEvaluating:
		return "evaluating"
	case StateCompressing:
		return "compressing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// RetentionBackend is the persistence surface the policy needs.
type RetentionBackend interface {
	memory.MessageLog
	memory.SummaryLog
}

// Result describes what one evaluation did.
type Result struct {
	// Compressed is true when a summary was written.
	Compressed bool

	// Summary is the written summary; valid only when Compressed is true.
	Summary memory.Summary

	// Pruned counts raw messages deleted after the summary was written.
	Pruned int
}

// Policy decides when old messages must be folded into a summary and runs
// the compression. At most one evaluation runs at a time; triggers that
// arrive meanwhile are coalesced into one more pass.
type Policy struct {
	backend    RetentionBackend
	summarizer Summarizer
	config     ContextConfig
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	tracer     trace.Tracer

	mu      sync.Mutex
	pending atomic.Bool
	state   atomic.Int32
}

// PolicyOption customizes a Policy.
type PolicyOption func(*Policy)

// WithLogger sets the policy logger.
func WithLogger(l *slog.Logger) PolicyOption {
	return func(p *Policy) { p.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) PolicyOption {
	return func(p *Policy) { p.metrics = m }
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) PolicyOption {
	return func(p *Policy) { p.tracer = t }
}

// NewPolicy creates a retention policy. A nil summarizer disables
// compression; the message log then grows without summaries.
func NewPolicy(backend RetentionBackend, summarizer Summarizer, cfg ContextConfig, opts ...PolicyOption) *Policy {
	p := &Policy{
		backend:    backend,
		summarizer: summarizer,
		config:     cfg.WithDefaults(),
		logger:     slog.Default(),
		tracer:     telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if summarizer == nil {
		p.logger.Info("no summarizer configured, compression disabled")
	}
	return p
}

// Config returns the effective configuration.
func (p *Policy) Config() ContextConfig {
	return p.config
}

// State returns the current phase.
func (p *Policy) State() State {
	return State(p.state.Load())
}

// Trigger requests an evaluation without waiting for a running one. If an
// evaluation is in flight the request is folded into it. Failures are
// logged, never returned.
func (p *Policy) Trigger(ctx context.Context) {
	p.pending.Store(true)
	p.drain(ctx)
}

// Run performs one evaluation, waiting for any in-flight evaluation first,
// and reports its outcome. Triggers coalesced while it ran are drained
// before Run returns.
func (p *Policy) Run(ctx context.Context) (Result, error) {
	p.mu.Lock()
	p.pending.Store(false)
	res, err := p.evaluate(ctx)
	for p.pending.Swap(false) {
		p.evaluateLogged(ctx)
	}
	p.mu.Unlock()

	if p.pending.Load() {
		p.drain(ctx)
	}
	return res, err
}

// drain runs pending evaluations until none remain or another goroutine
// owns the lock. Re-checking pending after unlock closes the window where
// a trigger lands between the last Swap and Unlock.
func (p *Policy) drain(ctx context.Context) {
	for {
		if !p.mu.TryLock() {
			return
		}
		for p.pending.Swap(false) {
			p.evaluateLogged(ctx)
		}
		p.mu.Unlock()
		if !p.pending.Load() {
			return
		}
	}
}

func (p *Policy) evaluateLogged(ctx context.Context) {
	if _, err := p.evaluate(ctx); err != nil {
		p.logger.Warn("retention evaluation failed", "error", err)
	}
}

// evaluate must be called with p.mu held.
func (p *Policy) evaluate(ctx context.Context) (res Result, err error) {
	p.state.Store(int32(StateEvaluating))
	defer p.state.Store(int32(StateIdle))

	ctx, span := p.tracer.Start(ctx, "retention.evaluate")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("retention.compressed", res.Compressed))
		span.End()
	}()

	if p.summarizer == nil {
		p.metrics.ObserveRetention(telemetry.OutcomeDisabled)
		return Result{}, nil
	}

	batch, err := p.selectBatch(ctx)
	if err != nil {
		p.metrics.ObserveRetention(telemetry.OutcomeFailed)
		return Result{}, err
	}
	if len(batch) <= p.config.CompressThreshold {
		p.metrics.ObserveRetention(telemetry.OutcomeSkipped)
		return Result{}, nil
	}

	p.state.Store(int32(StateCompressing))
	res, err = p.compress(ctx, batch)
	if err != nil {
		p.metrics.ObserveRetention(telemetry.OutcomeFailed)
		return Result{}, err
	}
	p.metrics.ObserveRetention(telemetry.OutcomeCompressed)
	return res, nil
}

// selectBatch returns the messages that are neither covered by the latest
// summary nor part of the active window, oldest first.
func (p *Policy) selectBatch(ctx context.Context) ([]memory.Message, error) {
	total, err := p.backend.CountMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("retention: count messages: %w", err)
	}
	if total-p.config.MaxActive <= p.config.CompressThreshold {
		return nil, nil
	}

	window, err := p.backend.RecentMessages(ctx, p.config.MaxActive)
	if err != nil {
		return nil, fmt.Errorf("retention: load active window: %w", err)
	}
	if len(window) == 0 {
		return nil, nil
	}

	var from int64
	latest, ok, err := p.backend.LatestSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("retention: load latest summary: %w", err)
	}
	if ok {
		from = latest.EndMessageID + 1
	}

	to := window[0].ID - 1
	if to < from {
		return nil, nil
	}
	batch, err := p.backend.RangeMessages(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("retention: load batch: %w", err)
	}
	return batch, nil
}

func (p *Policy) compress(ctx context.Context, batch []memory.Message) (Result, error) {
	first, last := batch[0].ID, batch[len(batch)-1].ID

	text, err := p.summarize(ctx, batch)
	if err != nil {
		p.logger.Warn("summarization failed",
			"error", err,
			"start", first,
			"end", last,
		)
		return Result{}, fmt.Errorf("%w: messages %d-%d: %w", memory.ErrSummarizationFailed, first, last, err)
	}

	summary, err := p.backend.AppendSummary(ctx, text, first, last)
	if err != nil {
		return Result{}, fmt.Errorf("retention: append summary: %w", err)
	}
	res := Result{Compressed: true, Summary: summary}

	if p.config.DeleteSummarized {
		n, err := p.backend.DeleteMessages(ctx, first, last)
		if err != nil {
			p.metrics.SummaryCreated(0)
			return res, fmt.Errorf("retention: prune messages %d-%d: %w", first, last, err)
		}
		res.Pruned = n
	}

	p.metrics.SummaryCreated(res.Pruned)
	p.logger.Info("conversation compressed",
		"summary_id", summary.ID,
		"start", first,
		"end", last,
		"pruned", res.Pruned,
	)
	return res, nil
}

// summarize calls the summarizer under the configured timeout.
func (p *Policy) summarize(ctx context.Context, batch []memory.Message) (string, error) {
	ctx, span := p.tracer.Start(ctx, "retention.summarize",
		trace.WithAttributes(attribute.Int("retention.batch_size", len(batch))))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.config.SummarizeTimeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		text, err := p.summarizer.Summarize(ctx, batch)
		done <- outcome{text, err}
	}()

	var (
		text string
		err  error
	)
	// A summarizer that ignores cancellation is abandoned at the deadline.
	select {
	case o := <-done:
		text, err = o.text, o.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	p.metrics.ObserveSummarize(time.Since(start))
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptySummary
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return strings.TrimSpace(text), nil
}
