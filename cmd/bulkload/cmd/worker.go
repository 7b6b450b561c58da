package cmd

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common/app"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common/loaderrors"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common/task"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common/util"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/backend"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/configuration"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/engine"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/metrics"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/offsets"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/orchestrator"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/partition"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    orchestrator.WorkerCommand,
		Short:  "Submit the share of the corpus assigned to one rank",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			common.AddLogFields(log.Fields{"runId": config.RunId})

			ctx, cancel := app.CreateContextWithShutdown(loaderrors.ExitCodeInterrupted)
			defer cancel()

			err = runWorker(ctx, config)
			if err != nil && ctx.Err() != nil {
				return errors.Wrap(loaderrors.ErrInterrupted, err.Error())
			}
			return err
		},
	}

	configuration.AddFlags(cmd.Flags())
	configuration.AddWorkerFlags(cmd.Flags())

	return cmd
}

func runWorker(ctx context.Context, config configuration.Config) error {
	logger := log.WithField("rank", config.Rank)

	if err := partition.Validate(config.Rank, config.TotalRanks); err != nil {
		return err
	}
	index, err := offsets.Load(offsets.SidecarPath(config.Corpus))
	if err != nil {
		return err
	}
	reader, err := offsets.Open(config.Corpus, index)
	if err != nil {
		return err
	}
	defer util.CloseResource("corpus", reader)

	assignment, err := partition.Partition(reader.Len(), config.Rank, config.TotalRanks)
	if err != nil {
		return err
	}

	client, err := backend.NewClient(config.Backend)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	if config.MetricsPort > 0 {
		port := config.MetricsPort + 1 + uint16(config.Rank)
		shutdownMetrics := common.ServeMetrics(port, prometheus.Gatherers{prometheus.DefaultGatherer, registry})
		defer shutdownMetrics()
	}

	diagnostics := engine.NewDiagnosticWriter(config.DiagnosticDir, config.Rank)
	logger.Infof("Rejected submissions are recorded in %s", diagnostics.Path())
	e := engine.New(
		config,
		client,
		reader,
		metrics.NewMetrics(metrics.WorkerMetricsPrefix, config.Rank, registry),
		engine.WithDiagnostics(diagnostics),
	)

	if config.ProgressInterval > 0 {
		taskManager := task.NewBackgroundTaskManager(metrics.WorkerMetricsPrefix, registry)
		taskManager.Register(e.LogProgress, config.ProgressInterval, "progress_logging")
		defer taskManager.StopAll(config.ProgressInterval)
	}

	logger.Infof("Submitting %d of %d lines in batches of %d", len(assignment), reader.Len(), config.BulkSize)
	report, err := e.Run(ctx, assignment)
	logger.Infof(
		"Submitted %d documents in %d windows with %d requests; %d documents resubmitted, %d unresolved",
		report.Documents, report.Windows, report.Submissions, report.RetriedDocuments, len(report.Unresolved),
	)
	for _, doc := range report.Unresolved {
		logger.Errorf("Line %d rejected with status %d: %s", doc.Line, doc.Status, doc.Error)
	}
	return err
}
