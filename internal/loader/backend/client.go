// Package backend implements bulk.Backend against the _bulk endpoint of an OpenSearch compatible
// document indexing service.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/bulk"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/configuration"
)

// Bodies of failed requests are truncated to this size in error messages.
const maxErrorBodySize = 4096

// Client submits bulk requests through the OpenSearch client. Transport failures, throttling and
// server errors are retried a bounded number of times; per-document rejections are returned in the
// Outcome for the caller to deal with.
type Client struct {
	client       *opensearch.Client
	timeout      time.Duration
	maxAttempts  uint
	attemptDelay time.Duration
}

func NewClient(config configuration.BackendConfig) (*Client, error) {
	clientConfig := opensearch.Config{
		Addresses: []string{BaseUrl(config.Host, config.UseTls)},
		// Attempts are counted and spaced out by SubmitBatch.
		DisableRetry: true,
	}
	if err := applyAuth(&clientConfig, config); err != nil {
		return nil, err
	}
	client, err := opensearch.NewClient(clientConfig)
	if err != nil {
		return nil, errors.Wrap(err, "creating OpenSearch client")
	}

	maxAttempts := config.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	return &Client{
		client:       client,
		timeout:      config.Timeout,
		maxAttempts:  maxAttempts,
		attemptDelay: config.AttemptDelay,
	}, nil
}

// BaseUrl turns a host into a URL, adding a scheme if the host does not carry one.
func BaseUrl(host string, useTls bool) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	if useTls {
		return "https://" + host
	}
	return "http://" + host
}

// errRetryable marks responses worth another attempt.
type errRetryable struct {
	status int
	body   string
}

func (err *errRetryable) Error() string {
	return fmt.Sprintf("bulk request failed with status %d: %s", err.status, err.body)
}

func (c *Client) SubmitBatch(ctx context.Context, batch *bulk.Batch) (*bulk.Outcome, error) {
	body, err := batch.Encode()
	if err != nil {
		return nil, err
	}

	var outcome *bulk.Outcome
	err = retry.Do(
		func() error {
			var err error
			outcome, err = c.post(ctx, body)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.maxAttempts),
		retry.Delay(c.attemptDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Bulk request attempt %d of %d failed", n+1, c.maxAttempts)
		}),
	)
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (c *Client) post(ctx context.Context, body []byte) (*bulk.Outcome, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := opensearchapi.BulkRequest{Body: bytes.NewReader(body)}
	resp, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "sending bulk request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading bulk response")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, &errRetryable{status: resp.StatusCode, body: truncate(respBody)}
	case resp.IsError():
		return nil, retry.Unrecoverable(errors.Errorf("bulk request failed with status %d: %s", resp.StatusCode, truncate(respBody)))
	}

	outcome, err := bulk.DecodeOutcome(respBody)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	return outcome, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodySize {
		return string(body[:maxErrorBodySize]) + "..."
	}
	return string(body)
}
