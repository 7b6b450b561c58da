package backend

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/opensearch-project/opensearch-go/v2"
	awssigner "github.com/opensearch-project/opensearch-go/v2/signer/aws"
	"github.com/pkg/errors"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/configuration"
)

// applyAuth sets up the credentials the client presents. The aws mode signs every request with
// SigV4 using the default AWS credential chain.
func applyAuth(clientConfig *opensearch.Config, config configuration.BackendConfig) error {
	switch config.AuthMode {
	case configuration.AuthModeNone, "":
		return nil
	case configuration.AuthModeBasic:
		clientConfig.Username = config.Username
		clientConfig.Password = config.Password
		return nil
	case configuration.AuthModeAws:
		signer, err := awssigner.NewSignerWithService(
			session.Options{Config: aws.Config{Region: aws.String(config.Region)}},
			config.Service,
		)
		if err != nil {
			return errors.Wrap(err, "creating AWS request signer")
		}
		clientConfig.Signer = signer
		return nil
	default:
		return errors.Errorf("unsupported auth mode %q", config.AuthMode)
	}
}
