// Package executor makes fold execution resumable. It splits a fold's
// held-out documents into fixed-size batches, runs each batch through the
// parallel document processor, retries failed documents within a bounded
// budget, and persists a checkpoint after every batch so a crashed run can
// resume without redoing completed work.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ahrav/go-crossval/internal/domain"
	engerrors "github.com/ahrav/go-crossval/internal/errors"
	"github.com/ahrav/go-crossval/internal/metrics"
	"github.com/ahrav/go-crossval/internal/processor"
)

// DefaultMaxRetries is the bounded number of extra attempts a failed
// document gets within its batch before being recorded permanently failed.
const DefaultMaxRetries = 2

// Config configures an Executor.
type Config struct {
	// BatchSize is the number of documents per batch; the last batch may be
	// smaller. Must be at least 1.
	BatchSize int

	// MaxRetries is the extra-attempt budget per failed document. Negative
	// values are rejected; zero means no retries. The default constructor
	// value is DefaultMaxRetries.
	MaxRetries int

	// DocumentTimeout bounds each pipeline call. Zero selects the processor
	// default.
	DocumentTimeout time.Duration

	// RetryBackoffInitial and RetryBackoffMax bound the jittered
	// exponential backoff between retry waves. Zero selects the defaults.
	RetryBackoffInitial time.Duration
	RetryBackoffMax     time.Duration
}

// FoldRun describes one fold execution request.
type FoldRun struct {
	// FoldID is the fold whose held-out documents are processed.
	FoldID int

	// Documents is the fold's test set.
	Documents []domain.DocumentRecord

	// Resume, when true, loads the fold's latest checkpoint and skips every
	// document it records as completed. An unreadable or invalid checkpoint
	// aborts the resume; it never silently degrades to a fresh run.
	Resume bool

	// OnResult, when set, streams terminal and retry attempts as they
	// settle.
	OnResult func(domain.ProcessingResult)
}

// BatchRecord summarizes one completed batch.
type BatchRecord struct {
	// Index is the checkpoint batch index the batch was recorded under.
	Index int `json:"index"`

	// Size is the number of documents in the batch.
	Size int `json:"size"`

	// Metrics is the settled-batch aggregate from the processor's first
	// attempt wave.
	Metrics processor.BatchMetrics `json:"metrics"`
}

// FoldOutcome is the terminal state of one fold execution.
type FoldOutcome struct {
	// FoldID identifies the fold.
	FoldID int `json:"fold_id"`

	// Succeeded reports the fold-level criterion: at least one held-out
	// document succeeded. Deliberately lenient, preserved as observed
	// behavior pending product-owner review.
	Succeeded bool `json:"succeeded"`

	// Results holds one result per document this execution settled or
	// carried over from a resumed checkpoint. Cancelled attempts appear
	// here for reporting but are never checkpointed as completed.
	Results []domain.ProcessingResult `json:"results"`

	// Attempts holds every attempt made in this execution, retries
	// included. Resumed runs do not replay prior attempts here.
	Attempts []domain.ProcessingResult `json:"attempts"`

	// Batches records the batches this execution ran, in order.
	Batches []BatchRecord `json:"batches"`

	// Resumed reports whether a checkpoint seeded this execution.
	Resumed bool `json:"resumed"`

	// SkippedCompleted counts documents skipped because the checkpoint
	// already recorded them as terminal.
	SkippedCompleted int `json:"skipped_completed"`
}

// CheckpointStorage persists and recovers fold checkpoints. CheckpointStore
// is the file-backed implementation; tests substitute recorders to observe
// checkpoint monotonicity.
type CheckpointStorage interface {
	Save(cp domain.Checkpoint) error
	Load(foldID int) (*domain.Checkpoint, error)
}

// Executor drives resumable batch execution of folds. Batches run strictly
// sequentially: one batch settles completely, its checkpoint is persisted,
// and only then does the next batch start. The checkpoint file is the only
// cross-batch shared mutable resource and the executor is its only writer.
type Executor struct {
	processor *processor.Processor
	store     CheckpointStorage
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a batch executor.
func New(proc *processor.Processor, store CheckpointStorage, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Executor, error) {
	if proc == nil {
		return nil, fmt.Errorf("executor: processor must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("executor: checkpoint store must not be nil")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("executor: batch size %d, must be at least 1", cfg.BatchSize)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("executor: negative retry budget %d", cfg.MaxRetries)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		processor: proc,
		store:     store,
		cfg:       cfg,
		logger:    logger.With("component", "batch_executor"),
		metrics:   m,
	}, nil
}

// ExecuteFold runs one fold to completion. On a resume it loads the latest
// checkpoint first; corruption there is fatal for the resume. The returned
// outcome is valid even when err is a context cancellation: every batch that
// settled before the abort is checkpointed and reported, and the abort is
// always returned as the error even when it lands on the final batch.
// Cancelled attempts are re-runnable, not terminal: they never enter the
// checkpoint, so a resume processes those documents again.
func (e *Executor) ExecuteFold(ctx context.Context, run FoldRun) (*FoldOutcome, error) {
	if run.FoldID < 1 {
		return nil, fmt.Errorf("%w: %d", engerrors.ErrFoldOutOfRange, run.FoldID)
	}
	if len(run.Documents) == 0 {
		return nil, fmt.Errorf("executor: fold %d has no documents", run.FoldID)
	}

	outcome := &FoldOutcome{FoldID: run.FoldID}
	completed := make(map[string]struct{})
	var checkpointed []domain.ProcessingResult
	nextBatchIndex := 0

	if run.Resume {
		cp, err := e.store.Load(run.FoldID)
		switch {
		case err == nil:
			outcome.Resumed = true
			completed = cp.CompletedSet()
			outcome.Results = append(outcome.Results, cp.Results...)
			checkpointed = append(checkpointed, cp.Results...)
			nextBatchIndex = cp.BatchIndex + 1
			e.logger.Info("resuming fold from checkpoint",
				"fold", run.FoldID,
				"batch_index", cp.BatchIndex,
				"completed", len(completed))
		case errors.Is(err, ErrNoCheckpoint):
			e.logger.Info("resume requested but no checkpoint exists, starting fresh", "fold", run.FoldID)
		default:
			// Corruption halts the resume before any document work.
			return nil, err
		}
	}

	pending := make([]domain.DocumentRecord, 0, len(run.Documents))
	for _, doc := range run.Documents {
		if _, done := completed[doc.ID]; done {
			outcome.SkippedCompleted++
			continue
		}
		pending = append(pending, doc)
	}

	for _, batch := range splitBatches(pending, e.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			e.finalize(outcome)
			return outcome, err
		}

		terminal, attempts, err := e.runBatch(ctx, run, batch)
		outcome.Attempts = append(outcome.Attempts, attempts...)
		if err != nil {
			e.finalize(outcome)
			return outcome, err
		}

		for _, res := range terminal.Results {
			outcome.Results = append(outcome.Results, res)
			if res.ErrorKind == engerrors.KindCancelled {
				// A cancelled attempt never completed and never will within
				// this run; recording it as completed would make a resume
				// skip the document forever.
				continue
			}
			completed[res.DocumentID] = struct{}{}
			checkpointed = append(checkpointed, res)
		}
		outcome.Batches = append(outcome.Batches, BatchRecord{
			Index:   nextBatchIndex,
			Size:    len(batch),
			Metrics: terminal.Metrics,
		})

		ids := make([]string, 0, len(completed))
		for id := range completed {
			ids = append(ids, id)
		}
		cp := domain.NewCheckpoint(run.FoldID, nextBatchIndex, ids, checkpointed)
		if err := e.store.Save(cp); err != nil {
			e.finalize(outcome)
			return outcome, fmt.Errorf("fold %d: persist checkpoint after batch %d: %w", run.FoldID, nextBatchIndex, err)
		}
		if e.metrics != nil {
			e.metrics.CheckpointsWritten.Inc()
		}
		nextBatchIndex++

		// An abort that lands while the batch is settling must surface even
		// when this was the final batch; a cancelled run is never reported
		// as a clean completion.
		if err := ctx.Err(); err != nil {
			e.finalize(outcome)
			return outcome, err
		}
	}

	e.finalize(outcome)
	e.logger.Info("fold execution finished",
		"fold", run.FoldID,
		"succeeded", outcome.Succeeded,
		"documents", len(outcome.Results),
		"batches", len(outcome.Batches),
		"resumed", outcome.Resumed)
	return outcome, nil
}

// runBatch processes one batch, then re-attempts retryable failures up to
// the bounded budget. Each retry is a fresh attempt with a new result; the
// last attempt per document is its terminal record. The first wave's metrics
// stand for the batch since retries are a failure path, not a second batch.
func (e *Executor) runBatch(ctx context.Context, run FoldRun, batch []domain.DocumentRecord) (*processor.BatchResult, []domain.ProcessingResult, error) {
	byID := make(map[string]domain.DocumentRecord, len(batch))
	for _, doc := range batch {
		byID[doc.ID] = doc
	}

	opts := processor.Options{
		FoldID:   run.FoldID,
		Timeout:  e.cfg.DocumentTimeout,
		OnResult: run.OnResult,
	}

	first, err := e.processor.Process(ctx, batch, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("fold %d: batch processing: %w", run.FoldID, err)
	}

	attempts := append([]domain.ProcessingResult(nil), first.Results...)
	terminal := make(map[string]domain.ProcessingResult, len(batch))
	for _, res := range first.Results {
		terminal[res.DocumentID] = res
	}

	for retry := 1; retry <= e.cfg.MaxRetries; retry++ {
		retryDocs := retryableDocuments(terminal, byID)
		if len(retryDocs) == 0 {
			break
		}

		delay := backoffDelay(retry, e.cfg.RetryBackoffInitial, e.cfg.RetryBackoffMax)
		e.logger.Info("retrying failed documents",
			"fold", run.FoldID,
			"retry", retry,
			"documents", len(retryDocs),
			"backoff", delay)
		if err := sleepCtx(ctx, delay); err != nil {
			return batchSnapshot(first, terminal), attempts, err
		}

		retryOpts := opts
		retryOpts.Attempt = retry
		if e.metrics != nil {
			e.metrics.RetriesScheduled.Add(float64(len(retryDocs)))
		}

		wave, err := e.processor.Process(ctx, retryDocs, retryOpts)
		if err != nil {
			return batchSnapshot(first, terminal), attempts, fmt.Errorf("fold %d: retry wave %d: %w", run.FoldID, retry, err)
		}
		attempts = append(attempts, wave.Results...)
		for _, res := range wave.Results {
			terminal[res.DocumentID] = res
		}
	}

	// A retryable failure still standing after the waves has exhausted its
	// budget; the terminal record names that explicitly.
	for id, res := range terminal {
		if !res.Success && engerrors.IsRetryableKind(res.ErrorKind) {
			res.ErrorMessage = fmt.Sprintf("%s: %s", engerrors.ErrMaxRetriesExceeded, res.ErrorMessage)
			terminal[id] = res
			e.logger.Warn("document permanently failed after bounded retries",
				"fold", run.FoldID,
				"document", id,
				"kind", string(res.ErrorKind),
				"attempts", res.RetryCount+1)
		}
	}

	return batchSnapshot(first, terminal), attempts, nil
}

// retryableDocuments selects documents whose terminal result so far is a
// retryable failure. Cancelled attempts are not retried: the abort signal
// wins.
func retryableDocuments(terminal map[string]domain.ProcessingResult, byID map[string]domain.DocumentRecord) []domain.DocumentRecord {
	var docs []domain.DocumentRecord
	for id, res := range terminal {
		if !res.Success && engerrors.IsRetryableKind(res.ErrorKind) {
			docs = append(docs, byID[id])
		}
	}
	return docs
}

// batchSnapshot rebuilds a BatchResult whose Results reflect the terminal
// attempt per document while keeping the first wave's metrics.
func batchSnapshot(first *processor.BatchResult, terminal map[string]domain.ProcessingResult) *processor.BatchResult {
	out := &processor.BatchResult{Metrics: first.Metrics}
	// Preserve first-wave completion order for determinism in reports.
	for _, res := range first.Results {
		out.Results = append(out.Results, terminal[res.DocumentID])
	}
	return out
}

// finalize applies the fold-level success criterion.
func (e *Executor) finalize(outcome *FoldOutcome) {
	for _, res := range outcome.Results {
		if res.Success {
			outcome.Succeeded = true
			return
		}
	}
	outcome.Succeeded = false
}

// splitBatches partitions docs into ordered batches of size; the last batch
// may be smaller.
func splitBatches(docs []domain.DocumentRecord, size int) [][]domain.DocumentRecord {
	var batches [][]domain.DocumentRecord
	for start := 0; start < len(docs); start += size {
		end := start + size
		if end > len(docs) {
			end = len(docs)
		}
		batches = append(batches, docs[start:end])
	}
	return batches
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExecuteFolds runs multiple folds. With outerBound <= 1 the folds run
// strictly sequentially; a larger bound runs them concurrently under an
// independent outer semaphore. The outer bound and the per-batch gate bound
// are deliberately separate knobs and are never conflated. Each fold owns
// its own checkpoint file, so concurrent folds share no mutable state.
//
// Outcomes are returned in run order. The first error encountered is
// returned after all started folds settle.
func (e *Executor) ExecuteFolds(ctx context.Context, runs []FoldRun, outerBound int) ([]*FoldOutcome, error) {
	if len(runs) == 0 {
		return nil, fmt.Errorf("executor: no fold runs")
	}

	if outerBound <= 1 {
		outcomes := make([]*FoldOutcome, 0, len(runs))
		for _, run := range runs {
			outcome, err := e.ExecuteFold(ctx, run)
			if outcome != nil {
				outcomes = append(outcomes, outcome)
			}
			if err != nil {
				return outcomes, err
			}
		}
		return outcomes, nil
	}

	sem := semaphore.NewWeighted(int64(outerBound))
	outcomes := make([]*FoldOutcome, len(runs))
	errs := make([]error, len(runs))

	var wg sync.WaitGroup
	for i, run := range runs {
		wg.Add(1)
		go func(i int, run FoldRun) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				errs[i] = err
				return
			}
			defer sem.Release(1)
			outcomes[i], errs[i] = e.ExecuteFold(ctx, run)
		}(i, run)
	}
	wg.Wait()

	compact := make([]*FoldOutcome, 0, len(runs))
	for _, outcome := range outcomes {
		if outcome != nil {
			compact = append(compact, outcome)
		}
	}
	for _, err := range errs {
		if err != nil {
			return compact, err
		}
	}
	return compact, nil
}
