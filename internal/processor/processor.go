// Package processor runs the external per-document pipeline over a set of
// documents with bounded concurrency and per-document failure isolation.
// Every input document yields exactly one ProcessingResult per attempt;
// pipeline errors, timeouts, and panics become failed results and never
// cross into sibling tasks.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ahrav/go-crossval/internal/domain"
	engerrors "github.com/ahrav/go-crossval/internal/errors"
	"github.com/ahrav/go-crossval/internal/gate"
	"github.com/ahrav/go-crossval/internal/metrics"
)

// DefaultDocumentTimeout bounds a single pipeline call when Options.Timeout
// is unset.
const DefaultDocumentTimeout = 2 * time.Minute

// Pipeline is the external per-document categorization/test-generation
// pipeline, consumed as an opaque call. Implementations must be safely
// re-invocable: a retry after failure is a fresh, independent attempt with
// no cleanup required.
type Pipeline interface {
	ProcessDocument(ctx context.Context, doc domain.DocumentRecord) (*domain.PipelineOutput, error)
}

// PipelineFunc adapts a function to the Pipeline interface.
type PipelineFunc func(ctx context.Context, doc domain.DocumentRecord) (*domain.PipelineOutput, error)

// ProcessDocument calls f.
func (f PipelineFunc) ProcessDocument(ctx context.Context, doc domain.DocumentRecord) (*domain.PipelineOutput, error) {
	return f(ctx, doc)
}

// Options configures one Process run.
type Options struct {
	// FoldID stamps results with the fold whose test set is being processed.
	FoldID int

	// Timeout bounds each individual pipeline call. Zero selects
	// DefaultDocumentTimeout.
	Timeout time.Duration

	// Attempt is the retry ordinal recorded on results (0 for the first
	// attempt). The batch executor bumps it when re-processing failures.
	Attempt int

	// OnResult, when set, is invoked as each task settles, in completion
	// order. Calls are serialized by the collector; the callback must not
	// block for long since it delays result collection.
	OnResult func(domain.ProcessingResult)
}

// BatchMetrics summarizes one Process run after all tasks settle.
type BatchMetrics struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// SuccessRate is Succeeded / Total.
	SuccessRate float64 `json:"success_rate"`

	// WallClock is the elapsed time of the whole run.
	WallClock time.Duration `json:"wall_clock_ns"`

	// SerialWork is the sum of individual attempt durations.
	SerialWork time.Duration `json:"serial_work_ns"`

	// ParallelEfficiency is SerialWork / (WallClock * bound), clamped to
	// 1.0. Values above 1.0 are measurement artifacts, not super-linear
	// speedup, and are never reported as-is.
	ParallelEfficiency float64 `json:"parallel_efficiency"`
}

// BatchResult is the outcome of one Process run: one result per input
// document, in completion order.
type BatchResult struct {
	Results []domain.ProcessingResult
	Metrics BatchMetrics
}

// Processor fans document tasks out against the pipeline, gated by the
// concurrency gate. It is stateless across runs and safe for sequential
// reuse by the batch executor.
type Processor struct {
	pipeline Pipeline
	gate     *gate.Gate
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a processor over the given pipeline and gate.
func New(pipeline Pipeline, g *gate.Gate, logger *slog.Logger, m *metrics.Metrics) (*Processor, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("processor: pipeline must not be nil")
	}
	if g == nil {
		return nil, fmt.Errorf("processor: gate must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		pipeline: pipeline,
		gate:     g,
		logger:   logger.With("component", "document_processor"),
		metrics:  m,
	}, nil
}

// Process runs one task per document and returns one result per document
// once all tasks settle. Result order is completion order; the result set,
// not its order, is the contract. Per-document failures are contained:
// nothing a single document does can abort its siblings. Duplicate input ids
// are rejected up front, upholding the one-in-flight-attempt-per-document
// invariant.
func (p *Processor) Process(ctx context.Context, docs []domain.DocumentRecord, opts Options) (*BatchResult, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("processor: empty document set")
	}
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if _, dup := seen[doc.ID]; dup {
			return nil, fmt.Errorf("processor: duplicate document %q in batch", doc.ID)
		}
		seen[doc.ID] = struct{}{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDocumentTimeout
	}

	start := time.Now()
	out := make(chan domain.ProcessingResult, len(docs))

	var wg sync.WaitGroup
	for _, doc := range docs {
		wg.Add(1)
		go func(doc domain.DocumentRecord) {
			defer wg.Done()
			out <- p.runOne(ctx, doc, opts)
		}(doc)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]domain.ProcessingResult, 0, len(docs))
	var serial time.Duration
	for res := range out {
		results = append(results, res)
		serial += res.Duration
		if p.metrics != nil {
			p.metrics.DocumentsProcessed.WithLabelValues(outcomeLabel(res)).Inc()
			p.metrics.DocumentDuration.Observe(res.Duration.Seconds())
		}
		if opts.OnResult != nil {
			opts.OnResult(res)
		}
	}

	wall := time.Since(start)
	m := computeBatchMetrics(results, wall, serial, p.gate.Limit())
	p.logger.Info("batch settled",
		"fold", opts.FoldID,
		"documents", m.Total,
		"succeeded", m.Succeeded,
		"failed", m.Failed,
		"wall_clock", wall,
		"parallel_efficiency", m.ParallelEfficiency)

	return &BatchResult{Results: results, Metrics: m}, nil
}

// runOne executes a single document task: acquire a slot, invoke the
// pipeline under the per-document timeout, and convert whatever happens into
// exactly one terminal result. The slot release is unconditional.
func (p *Processor) runOne(ctx context.Context, doc domain.DocumentRecord, opts Options) domain.ProcessingResult {
	if err := p.gate.Acquire(ctx); err != nil {
		// Admission failed only because the caller cancelled; the task
		// never started.
		return domain.NewFailureResult(opts.FoldID, doc.ID, engerrors.KindCancelled, err.Error(), 0, opts.Attempt)
	}
	defer p.gate.Release()

	callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	started := time.Now()
	output, err := p.invoke(callCtx, doc)
	elapsed := time.Since(started)

	if err != nil {
		kind := engerrors.Classify(err)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			kind = engerrors.KindTimeout
		}
		p.logger.Warn("document attempt failed",
			"fold", opts.FoldID,
			"document", doc.ID,
			"kind", string(kind),
			"attempt", opts.Attempt,
			"error", err)
		return domain.NewFailureResult(opts.FoldID, doc.ID, kind, err.Error(), elapsed, opts.Attempt)
	}

	return domain.NewSuccessResult(opts.FoldID, doc.ID, *output, elapsed, opts.Attempt)
}

// invoke calls the pipeline with panic containment and timeout enforcement
// that holds even when the pipeline ignores its context. A call that outruns
// its deadline is abandoned; the gate slot is released and the batch moves
// on, so one slow document never blocks the batch beyond its own timeout.
func (p *Processor) invoke(ctx context.Context, doc domain.DocumentRecord) (*domain.PipelineOutput, error) {
	type callOutcome struct {
		output *domain.PipelineOutput
		err    error
	}
	done := make(chan callOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callOutcome{err: fmt.Errorf("pipeline panic: %v", r)}
			}
		}()
		output, err := p.pipeline.ProcessDocument(ctx, doc)
		if err == nil && output == nil {
			err = fmt.Errorf("pipeline returned no output and no error")
		}
		done <- callOutcome{output: output, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case outcome := <-done:
		return outcome.output, outcome.err
	}
}

// computeBatchMetrics derives aggregate metrics once every task has settled.
func computeBatchMetrics(results []domain.ProcessingResult, wall, serial time.Duration, bound int) BatchMetrics {
	m := BatchMetrics{
		Total:      len(results),
		WallClock:  wall,
		SerialWork: serial,
	}
	for _, res := range results {
		if res.Success {
			m.Succeeded++
		} else {
			m.Failed++
		}
	}
	if m.Total > 0 {
		m.SuccessRate = float64(m.Succeeded) / float64(m.Total)
	}
	if wall > 0 && bound > 0 {
		m.ParallelEfficiency = float64(serial) / (float64(wall) * float64(bound))
		if m.ParallelEfficiency > 1.0 {
			m.ParallelEfficiency = 1.0
		}
	}
	return m
}

func outcomeLabel(res domain.ProcessingResult) string {
	switch {
	case res.Success:
		return "success"
	case res.ErrorKind == engerrors.KindCancelled:
		return "cancelled"
	default:
		return "failure"
	}
}
