package cmd

import (
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common/app"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/configuration"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/metrics"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/orchestrator"
)

func loadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a corpus using one worker process per rank",
		Long: `Load a JSON lines corpus into an index.

The corpus is split across --totalRanks worker processes: worker r submits
every line i with i mod totalRanks == r. An offset file is built next to the
corpus on first use. Documents the backend rejects are resubmitted until they
are accepted, or until --maxGenerations resubmissions when it is set.

Exits 0 only if every worker succeeded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if config.RunId == "" {
				config.RunId = uuid.New().String()
			}
			common.AddLogFields(log.Fields{"runId": config.RunId})

			// A second signal kills the workers instead of exiting, so none of them outlives this process.
			ctx, force, cancel := app.CreateContextWithEscalation()
			defer cancel()

			registry := prometheus.NewRegistry()
			shutdownMetrics := common.ServeMetrics(config.MetricsPort, prometheus.Gatherers{prometheus.DefaultGatherer, registry})
			defer shutdownMetrics()

			log.Infof("Loading %s into index %s with %d workers", config.Corpus, config.Index, config.TotalRanks)
			return orchestrator.New(
				config,
				orchestrator.WorkerCommandFactory(config),
				orchestrator.WithMetrics(metrics.NewSupervisorMetrics(metrics.SupervisorMetricsPrefix, registry)),
				orchestrator.WithForceStop(force),
			).Run(ctx)
		},
	}

	configuration.AddFlags(cmd.Flags())
	configuration.AddSupervisionFlags(cmd.Flags())

	return cmd
}
