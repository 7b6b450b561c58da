package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/configuration"
)

// WorkerCommand is the subcommand a worker process is started with.
const WorkerCommand = "worker"

// CommandFactory returns the unstarted command of the worker for rank.
type CommandFactory func(rank int) (*exec.Cmd, error)

// WorkerCommandFactory starts workers by re-executing the current binary with the worker subcommand.
// The password travels in the environment so it does not show up in process listings.
func WorkerCommandFactory(config configuration.Config) CommandFactory {
	return func(rank int) (*exec.Cmd, error) {
		executable, err := os.Executable()
		if err != nil {
			return nil, err
		}
		cmd := exec.Command(executable, WorkerArgs(config, rank)...)
		cmd.Env = os.Environ()
		if config.Backend.Password != "" {
			cmd.Env = append(cmd.Env, configuration.PasswordEnvVar+"="+config.Backend.Password)
		}
		cmd.Stdout = os.Stdout
		return cmd, nil
	}
}

// WorkerArgs renders config as the arguments of the worker for rank.
func WorkerArgs(config configuration.Config, rank int) []string {
	flags := []struct {
		name  string
		value string
	}{
		{configuration.FlagCorpus, config.Corpus},
		{configuration.FlagIndex, config.Index},
		{configuration.FlagTotalRanks, strconv.Itoa(config.TotalRanks)},
		{configuration.FlagRank, strconv.Itoa(rank)},
		{configuration.FlagBulkSize, strconv.Itoa(config.BulkSize)},
		{configuration.FlagDiagnosticDir, config.DiagnosticDir},
		{configuration.FlagProgressInterval, config.ProgressInterval.String()},
		{configuration.FlagMetricsPort, strconv.Itoa(int(config.MetricsPort))},
		{configuration.FlagRunId, config.RunId},
		{configuration.FlagHost, config.Backend.Host},
		{configuration.FlagAuthMode, string(config.Backend.AuthMode)},
		{configuration.FlagUsername, config.Backend.Username},
		{configuration.FlagRegion, config.Backend.Region},
		{configuration.FlagService, config.Backend.Service},
		{configuration.FlagUseTls, strconv.FormatBool(config.Backend.UseTls)},
		{configuration.FlagTimeout, config.Backend.Timeout.String()},
		{configuration.FlagMaxAttempts, strconv.FormatUint(uint64(config.Backend.MaxAttempts), 10)},
		{configuration.FlagAttemptDelay, config.Backend.AttemptDelay.String()},
		{configuration.FlagMaxGenerations, strconv.Itoa(config.Retry.MaxGenerations)},
		{configuration.FlagRetryPause, config.Retry.Pause.String()},
		{configuration.FlagMaxRetryPause, config.Retry.MaxPause.String()},
		{configuration.FlagBackoffMultiplier, strconv.FormatFloat(config.Retry.BackoffMultiplier, 'g', -1, 64)},
	}
	args := []string{WorkerCommand}
	for _, flag := range flags {
		args = append(args, fmt.Sprintf("--%s=%s", flag.name, flag.value))
	}
	return args
}
