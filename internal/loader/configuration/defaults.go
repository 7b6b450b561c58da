package configuration

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultHost             = "localhost:9200"
	HostsEnvVar             = "HOSTS"
	PasswordEnvVar          = "BULKLOAD_PASSWORD"
	DefaultTotalRanks       = 8
	DefaultBulkSize         = 10
	DefaultProgressInterval = 30 * time.Second
	DefaultRegion           = "us-east-1"
	DefaultAwsService       = "aoss"
	DefaultTimeout          = 1000 * time.Second
	DefaultMaxAttempts      = 5
	DefaultAttemptDelay     = time.Second
	DefaultRetryPause       = time.Second
	DefaultMaxRetryPause    = time.Minute
	DefaultPoll             = time.Second
	DefaultGracePeriod      = 5 * time.Second
)

// RegisterDefaults sets the default of every configuration key and binds the environment variables
// the loader reads. Flags bound later take precedence over both.
func RegisterDefaults(v *viper.Viper) {
	v.SetDefault("totalRanks", DefaultTotalRanks)
	v.SetDefault("rank", 0)
	v.SetDefault("bulkSize", DefaultBulkSize)
	v.SetDefault("diagnosticDir", ".")
	v.SetDefault("progressInterval", DefaultProgressInterval)
	v.SetDefault("metricsPort", 0)

	v.SetDefault("backend.host", DefaultHost)
	v.SetDefault("backend.authMode", string(AuthModeNone))
	v.SetDefault("backend.region", DefaultRegion)
	v.SetDefault("backend.service", DefaultAwsService)
	v.SetDefault("backend.useTls", false)
	v.SetDefault("backend.timeout", DefaultTimeout)
	v.SetDefault("backend.maxAttempts", DefaultMaxAttempts)
	v.SetDefault("backend.attemptDelay", DefaultAttemptDelay)

	v.SetDefault("retry.maxGenerations", 0)
	v.SetDefault("retry.pause", DefaultRetryPause)
	v.SetDefault("retry.maxPause", DefaultMaxRetryPause)
	v.SetDefault("retry.backoffMultiplier", 1.0)

	v.SetDefault("supervision.pollInterval", DefaultPoll)
	v.SetDefault("supervision.gracePeriod", DefaultGracePeriod)

	_ = v.BindEnv("backend.host", HostsEnvVar)
	_ = v.BindEnv("backend.password", PasswordEnvVar)
}
