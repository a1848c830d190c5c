package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-crossval/internal/aggregation"
	"github.com/ahrav/go-crossval/internal/domain"
	"github.com/ahrav/go-crossval/internal/executor"
	"github.com/ahrav/go-crossval/internal/folds"
	"github.com/ahrav/go-crossval/internal/gate"
	"github.com/ahrav/go-crossval/internal/metrics"
	"github.com/ahrav/go-crossval/internal/processor"
)

type runFlags struct {
	dataDir       string
	checkpointDir string
	fold          int
	batchSize     int
	concurrency   int
	timeout       time.Duration
	resume        bool
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "crossval",
		Short:         "Cross-validation execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCommand(), newRunCommand())
	return root
}

// newValidateCommand loads the partition data and prints the fold-balance
// report. Exit status is non-zero when validation fails.
func newValidateCommand() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate partition data and fold balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			store, err := folds.Open(dataDir, logger)
			if err != nil {
				return err
			}
			report, err := folds.NewManager(store).ValidateBalance()
			if err != nil {
				return err
			}
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			if !report.Passed {
				return fmt.Errorf("fold balance validation failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "data", "directory holding partition.yaml, inventory.yaml, assignments.yaml")
	return cmd
}

// newRunCommand executes one fold with checkpointed batches against the
// dry-run pipeline and prints the fold outcome and aggregate summary.
func newRunCommand() *cobra.Command {
	flags := runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one fold's held-out documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFold(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.dataDir, "data-dir", "data", "directory holding the partition data files")
	cmd.Flags().StringVar(&flags.checkpointDir, "checkpoint-dir", "checkpoints", "directory for checkpoint files")
	cmd.Flags().IntVar(&flags.fold, "fold", 1, "fold index to execute (1..k)")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 5, "documents per checkpointed batch")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", gate.DefaultLimit, "concurrent document bound (1..5)")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 2*time.Minute, "per-document pipeline timeout")
	cmd.Flags().BoolVar(&flags.resume, "resume", false, "resume from the fold's latest checkpoint")
	return cmd
}

func runFold(cmd *cobra.Command, flags runFlags) error {
	logger := newLogger()

	store, err := folds.Open(flags.dataDir, logger)
	if err != nil {
		return err
	}
	fold, err := folds.NewManager(store).Fold(flags.fold)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.NewRegistry())
	g, err := gate.New(gate.Config{Limit: flags.concurrency}, logger, m)
	if err != nil {
		return err
	}
	defer g.Close()

	proc, err := processor.New(dryRunPipeline{}, g, logger, m)
	if err != nil {
		return err
	}
	checkpoints, err := executor.NewCheckpointStore(flags.checkpointDir, logger)
	if err != nil {
		return err
	}
	exec, err := executor.New(proc, checkpoints, executor.Config{
		BatchSize:       flags.batchSize,
		MaxRetries:      executor.DefaultMaxRetries,
		DocumentTimeout: flags.timeout,
	}, logger, m)
	if err != nil {
		return err
	}

	outcome, err := exec.ExecuteFold(cmd.Context(), executor.FoldRun{
		FoldID:    fold.Index,
		Documents: fold.Test,
		Resume:    flags.resume,
		OnResult: func(res domain.ProcessingResult) {
			logger.Info("document settled",
				"document", res.DocumentID,
				"success", res.Success,
				"retry", res.RetryCount)
		},
	})
	if err != nil {
		return err
	}

	summary, err := aggregation.Aggregate([]*executor.FoldOutcome{outcome})
	if err != nil {
		return err
	}
	return printJSON(cmd, struct {
		Outcome *executor.FoldOutcome `json:"outcome"`
		Summary *aggregation.Summary  `json:"summary"`
	}{Outcome: outcome, Summary: summary})
}

// dryRunPipeline exercises the engine without a model backend: it sleeps in
// proportion to document complexity and reports the declared category back.
// It exists for smoke runs and demos only; real runs inject the external
// pipeline.
type dryRunPipeline struct{}

func (dryRunPipeline) ProcessDocument(ctx context.Context, doc domain.DocumentRecord) (*domain.PipelineOutput, error) {
	delay := time.Duration(doc.Complexity*50) * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return &domain.PipelineOutput{
		Category:      doc.Category,
		Confidence:    1.0,
		ArtifactCount: doc.Requirements.Total(),
	}, nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
