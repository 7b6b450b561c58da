package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common/loaderrors"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/configuration"
)

const configFlag = "config"

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulkload",
		Short: "bulkload indexes a JSON lines corpus into an OpenSearch compatible backend using parallel worker processes.",
		// Errors are reported by Execute, together with the per-rank summary.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().String(configFlag, "", "config file (default is $HOME/"+common.DefaultConfigName+".yaml)")

	cmd.AddCommand(
		loadCmd(),
		workerCmd(),
		indexCmd(),
	)

	return cmd
}

// Execute runs the command line with args and returns the exit code of the process.
// Failures are summarised on stderr.
func Execute(args []string, stderr io.Writer) int {
	root := RootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return loaderrors.ExitCodeOk
	}
	fmt.Fprint(stderr, FailureSummary(err))
	return loaderrors.ExitCodeFromError(err)
}

// FailureSummary renders err with one line per failed rank.
func FailureSummary(err error) string {
	errs := []error{err}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		errs = merr.Errors
	}

	var b strings.Builder
	for _, e := range errs {
		var workerErr *loaderrors.ErrWorkerProcess
		if errors.As(e, &workerErr) {
			fmt.Fprintf(&b, "rank %d: worker (pid %d) exited with code %d\n", workerErr.Rank, workerErr.Pid, workerErr.ExitCode)
			if tail := lastLine(workerErr.Stderr); tail != "" {
				fmt.Fprintf(&b, "rank %d: %s\n", workerErr.Rank, tail)
			}
			continue
		}
		fmt.Fprintf(&b, "Error: %s\n", e)
	}
	return b.String()
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// loadConfig resolves the configuration of cmd from, in decreasing precedence, its flags, the
// environment, the config file and the defaults.
func loadConfig(cmd *cobra.Command) (configuration.Config, error) {
	v := viper.New()
	configuration.RegisterDefaults(v)
	if err := configuration.BindFlags(v, cmd.Flags()); err != nil {
		return configuration.Config{}, err
	}
	cfgFile, err := cmd.Flags().GetString(configFlag)
	if err != nil {
		return configuration.Config{}, errors.WithStack(err)
	}
	if err := common.ReadConfigFile(v, cfgFile); err != nil {
		return configuration.Config{}, err
	}
	return configuration.Load(v)
}
