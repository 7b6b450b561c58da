package configuration

import (
	"time"
)

type AuthMode string

const (
	AuthModeNone  AuthMode = "none"
	AuthModeBasic AuthMode = "basic"
	AuthModeAws   AuthMode = "aws"
)

// Config is shared by the orchestrator and every worker it spawns.
type Config struct {
	// Path of the JSONL corpus. The offset sidecar lives next to it.
	Corpus string `validate:"required"`
	// Name of the target index every document is written to.
	Index string `validate:"required"`
	// Number of worker processes the corpus is split across.
	TotalRanks int `validate:"gt=0"`
	// Rank of this worker. Only meaningful inside a worker process.
	Rank int `validate:"gte=0"`
	// Number of consecutive assigned lines submitted per bulk request.
	BulkSize int `validate:"gt=0"`
	// Directory the per-rank diagnostic snapshot of the latest failed submission is written to.
	DiagnosticDir string `validate:"required"`
	// How often a worker logs its progress. Zero disables progress logging.
	ProgressInterval time.Duration `validate:"gte=0"`
	// Port the orchestrator serves /metrics on. Workers use MetricsPort+1+rank. Zero disables metrics serving.
	MetricsPort uint16
	// Identifies one orchestrator run in the logs of all of its workers.
	RunId       string
	Backend     BackendConfig
	Retry       RetryConfig
	Supervision SupervisionConfig
}

type BackendConfig struct {
	// host:port or URL of the backend, e.g. localhost:9200 or https://search.example.com
	Host     string   `validate:"required"`
	AuthMode AuthMode `validate:"oneof=none basic aws"`
	Username string   `validate:"required_if=AuthMode basic"`
	Password string
	// AWS region and signing service name used when AuthMode is aws.
	Region  string `validate:"required_if=AuthMode aws"`
	Service string `validate:"required_if=AuthMode aws"`
	// Use https when Host carries no scheme. Always true for aws.
	UseTls  bool
	Timeout time.Duration `validate:"gt=0"`
	// Attempts per bulk request on transport errors, throttling and 5xx responses.
	MaxAttempts  uint          `validate:"gt=0"`
	AttemptDelay time.Duration `validate:"gte=0"`
}

// RetryConfig controls resubmission of the documents a backend rejected.
// The defaults retry forever with a fixed pause; a positive MaxGenerations with a BackoffMultiplier
// above one gives a bounded retry with escalating pauses.
type RetryConfig struct {
	// Maximum number of retry generations per batch window. Zero retries until every document is accepted.
	MaxGenerations int `validate:"gte=0"`
	// Pause before the first retry generation.
	Pause time.Duration `validate:"gte=0"`
	// Upper bound for the pause once it has been multiplied up.
	MaxPause          time.Duration `validate:"gte=0"`
	BackoffMultiplier float64       `validate:"gte=1"`
}

type SupervisionConfig struct {
	// How often the orchestrator checks the liveness of its workers.
	PollInterval time.Duration `validate:"gt=0"`
	// How long workers get to exit after being asked to terminate before they are killed.
	GracePeriod time.Duration `validate:"gte=0"`
}
