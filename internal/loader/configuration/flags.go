package configuration

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Names of the command line flags shared by the load and worker commands.
const (
	FlagCorpus            = "corpus"
	FlagIndex             = "index"
	FlagTotalRanks        = "totalRanks"
	FlagRank              = "rank"
	FlagBulkSize          = "bulkSize"
	FlagDiagnosticDir     = "diagnosticDir"
	FlagProgressInterval  = "progressInterval"
	FlagMetricsPort       = "metricsPort"
	FlagRunId             = "runId"
	FlagHost              = "host"
	FlagAuthMode          = "authMode"
	FlagUsername          = "username"
	FlagPassword          = "password"
	FlagRegion            = "region"
	FlagService           = "service"
	FlagUseTls            = "useTls"
	FlagTimeout           = "timeout"
	FlagMaxAttempts       = "maxAttempts"
	FlagAttemptDelay      = "attemptDelay"
	FlagMaxGenerations    = "maxGenerations"
	FlagRetryPause        = "retryPause"
	FlagMaxRetryPause     = "maxRetryPause"
	FlagBackoffMultiplier = "backoffMultiplier"
	FlagPollInterval      = "pollInterval"
	FlagGracePeriod       = "gracePeriod"
)

// FlagKeys maps flag names onto the configuration keys they set.
var FlagKeys = map[string]string{
	FlagCorpus:            "corpus",
	FlagIndex:             "index",
	FlagTotalRanks:        "totalRanks",
	FlagRank:              "rank",
	FlagBulkSize:          "bulkSize",
	FlagDiagnosticDir:     "diagnosticDir",
	FlagProgressInterval:  "progressInterval",
	FlagMetricsPort:       "metricsPort",
	FlagRunId:             "runId",
	FlagHost:              "backend.host",
	FlagAuthMode:          "backend.authMode",
	FlagUsername:          "backend.username",
	FlagPassword:          "backend.password",
	FlagRegion:            "backend.region",
	FlagService:           "backend.service",
	FlagUseTls:            "backend.useTls",
	FlagTimeout:           "backend.timeout",
	FlagMaxAttempts:       "backend.maxAttempts",
	FlagAttemptDelay:      "backend.attemptDelay",
	FlagMaxGenerations:    "retry.maxGenerations",
	FlagRetryPause:        "retry.pause",
	FlagMaxRetryPause:     "retry.maxPause",
	FlagBackoffMultiplier: "retry.backoffMultiplier",
	FlagPollInterval:      "supervision.pollInterval",
	FlagGracePeriod:       "supervision.gracePeriod",
}

// AddFlags registers the flags shared by the load and worker commands.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(FlagCorpus, "", "Path of the JSON lines corpus")
	fs.String(FlagIndex, "", "Name of the index documents are written to")
	fs.Int(FlagTotalRanks, DefaultTotalRanks, "Number of worker processes the corpus is split across")
	fs.Int(FlagBulkSize, DefaultBulkSize, "Number of documents per bulk request")
	fs.String(FlagDiagnosticDir, ".", "Directory the latest rejected bulk response of each rank is written to")
	fs.Duration(FlagProgressInterval, DefaultProgressInterval, "How often workers log their progress, 0 to disable")
	fs.Uint16(FlagMetricsPort, 0, "Port /metrics is served on; workers use port+1+rank. 0 disables metrics serving")

	fs.String(FlagHost, DefaultHost, "Backend host:port or URL, defaults to $"+HostsEnvVar)
	fs.String(FlagAuthMode, string(AuthModeNone), "Backend authentication: none, basic or aws")
	fs.String(FlagUsername, "", "Username for basic authentication")
	fs.String(FlagPassword, "", "Password for basic authentication, defaults to $"+PasswordEnvVar)
	fs.String(FlagRegion, DefaultRegion, "AWS region used to sign requests with aws authentication")
	fs.String(FlagService, DefaultAwsService, "AWS service name used to sign requests with aws authentication")
	fs.Bool(FlagUseTls, false, "Use https when the host carries no scheme")
	fs.Duration(FlagTimeout, DefaultTimeout, "Timeout of a single bulk request")
	fs.Uint(FlagMaxAttempts, DefaultMaxAttempts, "Attempts per bulk request on transport errors, throttling and server errors")
	fs.Duration(FlagAttemptDelay, DefaultAttemptDelay, "Initial delay between attempts of a bulk request")

	fs.Int(FlagMaxGenerations, 0, "Maximum number of resubmissions of rejected documents per batch, 0 retries until accepted")
	fs.Duration(FlagRetryPause, DefaultRetryPause, "Pause before resubmitting rejected documents")
	fs.Duration(FlagMaxRetryPause, DefaultMaxRetryPause, "Upper bound of the pause once multiplied up")
	fs.Float64(FlagBackoffMultiplier, 1, "Factor the pause is multiplied by after every resubmission")
}

// AddSupervisionFlags registers the flags only the orchestrating load command uses.
func AddSupervisionFlags(fs *pflag.FlagSet) {
	fs.Duration(FlagPollInterval, DefaultPoll, "How often worker liveness is checked")
	fs.Duration(FlagGracePeriod, DefaultGracePeriod, "How long workers get to exit when interrupted before they are killed")
}

// AddWorkerFlags registers the flags the orchestrator passes to each worker it spawns.
func AddWorkerFlags(fs *pflag.FlagSet) {
	fs.Int(FlagRank, 0, "Rank of this worker")
	fs.String(FlagRunId, "", "Identifier of the run this worker belongs to")
}

// BindFlags binds every known flag of fs to its configuration key in v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(flag *pflag.Flag) {
		key, ok := FlagKeys[flag.Name]
		if !ok || err != nil {
			return
		}
		err = errors.Wrapf(v.BindPFlag(key, flag), "binding flag %s", flag.Name)
	})
	return err
}
