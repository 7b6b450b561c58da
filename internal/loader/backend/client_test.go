package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/bulk"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/configuration"
)

const cleanResponse = `{"took": 3, "errors": false, "items": [
	{"index": {"_index": "docs", "_id": "1", "status": 201}},
	{"index": {"_index": "docs", "_id": "2", "status": 201}}
]}`

func testBatch() *bulk.Batch {
	batch := bulk.NewBatch(2)
	batch.AddIndex(0, "docs", json.RawMessage(`{"id": 0}`))
	batch.AddIndex(2, "docs", json.RawMessage(`{"id": 2}`))
	return batch
}

func testConfig(host string) configuration.BackendConfig {
	return configuration.BackendConfig{
		Host:         host,
		AuthMode:     configuration.AuthModeNone,
		Timeout:      5 * time.Second,
		MaxAttempts:  3,
		AttemptDelay: time.Millisecond,
	}
}

func TestSubmitBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/_bulk", r.URL.Path)
		assert.Contains(t, r.Header.Get("Content-Type"), "json")
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, "{\"index\":{\"_index\":\"docs\"}}\n{\"id\":0}\n{\"index\":{\"_index\":\"docs\"}}\n{\"id\":2}\n", string(body))
		_, _ = w.Write([]byte(cleanResponse))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	outcome, err := client.SubmitBatch(context.Background(), testBatch())
	require.NoError(t, err)
	assert.False(t, outcome.Errors)
	assert.Len(t, outcome.Items, 2)
	assert.Empty(t, outcome.FailedPositions())
}

func TestSubmitBatch_BasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", username)
		assert.Equal(t, "secret", password)
		_, _ = w.Write([]byte(cleanResponse))
	}))
	defer server.Close()

	config := testConfig(server.URL)
	config.AuthMode = configuration.AuthModeBasic
	config.Username = "admin"
	config.Password = "secret"
	client, err := NewClient(config)
	require.NoError(t, err)

	_, err = client.SubmitBatch(context.Background(), testBatch())
	assert.NoError(t, err)
}

func TestSubmitBatch_AwsAuth(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIDEXAMPLE")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY")
	t.Setenv("AWS_SESSION_TOKEN", "")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(authorization, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/"), authorization)
		assert.Contains(t, authorization, "/eu-west-1/aoss/aws4_request")
		assert.Len(t, r.Header.Get("X-Amz-Content-Sha256"), 64)
		_, _ = w.Write([]byte(cleanResponse))
	}))
	defer server.Close()

	config := testConfig(server.URL)
	config.AuthMode = configuration.AuthModeAws
	config.Region = "eu-west-1"
	config.Service = "aoss"
	client, err := NewClient(config)
	require.NoError(t, err)

	_, err = client.SubmitBatch(context.Background(), testBatch())
	assert.NoError(t, err)
}

func TestSubmitBatch_RetriesThrottling(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(cleanResponse))
		}
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.SubmitBatch(context.Background(), testBatch())
	assert.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSubmitBatch_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.SubmitBatch(context.Background(), testBatch())
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSubmitBatch_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "illegal_argument_exception"}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.SubmitBatch(context.Background(), testBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal_argument_exception")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSubmitBatch_PartialFailureIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"took": 3, "errors": true, "items": [
			{"index": {"_index": "docs", "status": 201}},
			{"index": {"_index": "docs", "status": 429, "error": {"type": "es_rejected_execution_exception"}}}
		]}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	outcome, err := client.SubmitBatch(context.Background(), testBatch())
	require.NoError(t, err)
	assert.True(t, outcome.Errors)
	assert.Equal(t, []int{1}, outcome.FailedPositions())
}

func TestBaseUrl(t *testing.T) {
	assert.Equal(t, "http://localhost:9200", BaseUrl("localhost:9200", false))
	assert.Equal(t, "https://localhost:9200", BaseUrl("localhost:9200", true))
	assert.Equal(t, "http://localhost:9200", BaseUrl("http://localhost:9200/", true))
	assert.Equal(t, "https://search.example.com", BaseUrl(" https://search.example.com ", false))
}
