package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/maps"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common/loaderrors"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/engine"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/offsets"
)

// Set in the environment of the test binary when the load command re-executes it as a worker.
const runMainEnvVar = "BULKLOAD_TEST_RUN_MAIN"

func TestMain(m *testing.M) {
	if os.Getenv(runMainEnvVar) == "1" {
		os.Exit(Execute(os.Args[1:], os.Stderr))
	}
	os.Exit(m.Run())
}

// bulkServer accepts bulk requests of documents shaped {"id": n} and rejects the configured ids.
type bulkServer struct {
	mu           sync.Mutex
	rejectOnce   map[int]bool
	rejectAlways map[int]bool
	accepted     map[int]int
	requests     int
}

func newBulkServer(t *testing.T) (*bulkServer, string) {
	s := &bulkServer{rejectOnce: map[int]bool{}, rejectAlways: map[int]bool{}, accepted: map[int]int{}}
	server := httptest.NewServer(s)
	t.Cleanup(server.Close)
	return s, server.URL
}

func (s *bulkServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	var items []string
	failed := false
	for i := 1; i < len(lines); i += 2 {
		var doc struct {
			Id int `json:"id"`
		}
		if err := json.Unmarshal([]byte(lines[i]), &doc); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if s.rejectAlways[doc.Id] || s.rejectOnce[doc.Id] {
			delete(s.rejectOnce, doc.Id)
			failed = true
			items = append(items, `{"index":{"_index":"docs","status":429,"error":{"type":"es_rejected_execution_exception"}}}`)
			continue
		}
		s.accepted[doc.Id]++
		items = append(items, `{"index":{"_index":"docs","status":201}}`)
	}
	fmt.Fprintf(w, `{"took":1,"errors":%t,"items":[%s]}`, failed, strings.Join(items, ","))
}

func (s *bulkServer) acceptedIds() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.accepted)
}

func writeCorpus(t *testing.T, lines int) string {
	var b strings.Builder
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&b, "{\"id\": %d, \"text\": \"passage %d\"}\n", i, i)
	}
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

// writeConfig writes a config file naming the index, so tests do not pick up a config from the home directory.
func writeConfig(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "bulkload.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index: docs\n"), 0o644))
	return path
}

func TestIndexCommand(t *testing.T) {
	corpus := writeCorpus(t, 5)

	var out bytes.Buffer
	root := RootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"index", "--corpus", corpus})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Created offset file")
	assert.Contains(t, out.String(), "Total lines: 5")

	out.Reset()
	root = RootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"index", "--corpus", corpus})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Checked offset file")

	index, err := offsets.Load(offsets.SidecarPath(corpus))
	require.NoError(t, err)
	assert.Len(t, index, 5)
}

func TestIndexCommand_CorruptOffsetFile(t *testing.T) {
	corpus := writeCorpus(t, 5)
	require.NoError(t, os.WriteFile(offsets.SidecarPath(corpus), []byte("0\n12\nnot-a-number\n"), 0o644))

	var stderr bytes.Buffer
	exitCode := Execute([]string{"index", "--corpus", corpus}, &stderr)

	assert.Equal(t, loaderrors.ExitCodeConfiguration, exitCode)
	assert.Contains(t, stderr.String(), "corrupt")
}

func TestWorkerCommand(t *testing.T) {
	corpus := writeCorpus(t, 20)
	_, err := offsets.Build(corpus)
	require.NoError(t, err)
	server, url := newBulkServer(t)
	server.rejectOnce[4] = true
	server.rejectOnce[16] = true

	var stderr bytes.Buffer
	exitCode := Execute([]string{
		"worker",
		"--config", writeConfig(t),
		"--corpus", corpus,
		"--totalRanks=3",
		"--rank=1",
		"--bulkSize=3",
		"--host", url,
		"--diagnosticDir", t.TempDir(),
		"--progressInterval=0",
		"--retryPause=1ms",
	}, &stderr)

	require.Equal(t, loaderrors.ExitCodeOk, exitCode, stderr.String())
	assert.Equal(t, map[int]int{1: 1, 4: 1, 7: 1, 10: 1, 13: 1, 16: 1, 19: 1}, server.acceptedIds())
	// Three windows plus one resubmission each for the windows holding 4 and 16.
	assert.Equal(t, 5, server.requests)
}

func TestWorkerCommand_UnresolvedDocumentsFailTheWorker(t *testing.T) {
	corpus := writeCorpus(t, 6)
	_, err := offsets.Build(corpus)
	require.NoError(t, err)
	server, url := newBulkServer(t)
	server.rejectAlways[2] = true
	diagnosticDir := t.TempDir()

	var stderr bytes.Buffer
	exitCode := Execute([]string{
		"worker",
		"--config", writeConfig(t),
		"--corpus", corpus,
		"--totalRanks=1",
		"--rank=0",
		"--host", url,
		"--diagnosticDir", diagnosticDir,
		"--progressInterval=0",
		"--retryPause=1ms",
		"--maxGenerations=2",
	}, &stderr)

	assert.Equal(t, loaderrors.ExitCodeFailure, exitCode)
	assert.Contains(t, stderr.String(), "still rejected after 2 retry generation(s)")
	assert.Equal(t, map[int]int{0: 1, 1: 1, 3: 1, 4: 1, 5: 1}, server.acceptedIds())

	data, err := os.ReadFile(engine.DiagnosticPath(diagnosticDir, 0))
	require.NoError(t, err)
	var snapshot engine.Snapshot
	require.NoError(t, json.Unmarshal(data, &snapshot))
	assert.Equal(t, 0, snapshot.Rank)
	assert.Equal(t, []int{0}, snapshot.Outcome.FailedPositions())
}

func TestWorkerCommand_MissingOffsetFile(t *testing.T) {
	corpus := writeCorpus(t, 6)

	var stderr bytes.Buffer
	exitCode := Execute([]string{"worker", "--config", writeConfig(t), "--corpus", corpus, "--totalRanks=2", "--rank=1"}, &stderr)

	assert.Equal(t, loaderrors.ExitCodeFailure, exitCode)
	assert.NotEmpty(t, stderr.String())
}

func TestWorkerCommand_InvalidRank(t *testing.T) {
	corpus := writeCorpus(t, 6)

	var stderr bytes.Buffer
	exitCode := Execute([]string{"worker", "--config", writeConfig(t), "--corpus", corpus, "--totalRanks=2", "--rank=2"}, &stderr)

	assert.Equal(t, loaderrors.ExitCodeConfiguration, exitCode)
}

func TestLoadCommand_InvalidConfiguration(t *testing.T) {
	corpus := writeCorpus(t, 6)

	var stderr bytes.Buffer
	exitCode := Execute([]string{"load", "--config", writeConfig(t), "--corpus", corpus, "--totalRanks=0"}, &stderr)

	assert.Equal(t, loaderrors.ExitCodeConfiguration, exitCode)
	assert.Contains(t, stderr.String(), "TotalRanks")
}

func TestLoadCommand(t *testing.T) {
	t.Setenv(runMainEnvVar, "1")
	corpus := writeCorpus(t, 20)
	server, url := newBulkServer(t)
	server.rejectOnce[0] = true
	server.rejectOnce[5] = true
	server.rejectOnce[13] = true

	var stderr bytes.Buffer
	exitCode := Execute([]string{
		"load",
		"--config", writeConfig(t),
		"--corpus", corpus,
		"--totalRanks=4",
		"--bulkSize=2",
		"--host", url,
		"--diagnosticDir", t.TempDir(),
		"--progressInterval=0",
		"--pollInterval=10ms",
		"--retryPause=1ms",
	}, &stderr)

	require.Equal(t, loaderrors.ExitCodeOk, exitCode, stderr.String())
	accepted := server.acceptedIds()
	require.Len(t, accepted, 20)
	for id := 0; id < 20; id++ {
		assert.Equal(t, 1, accepted[id], "document %d", id)
	}
	_, err := os.Stat(offsets.SidecarPath(corpus))
	assert.NoError(t, err)
}

func TestLoadCommand_FailingRank(t *testing.T) {
	t.Setenv(runMainEnvVar, "1")
	corpus := writeCorpus(t, 12)
	server, url := newBulkServer(t)
	server.rejectAlways[6] = true

	var stderr bytes.Buffer
	exitCode := Execute([]string{
		"load",
		"--config", writeConfig(t),
		"--corpus", corpus,
		"--totalRanks=4",
		"--host", url,
		"--diagnosticDir", t.TempDir(),
		"--progressInterval=0",
		"--pollInterval=10ms",
		"--retryPause=1ms",
		"--maxGenerations=1",
	}, &stderr)

	assert.Equal(t, loaderrors.ExitCodeFailure, exitCode)
	assert.Contains(t, stderr.String(), "rank 2: worker")
	assert.NotContains(t, stderr.String(), "rank 0: worker")
	// Every other document still made it, including those of the failing rank.
	accepted := server.acceptedIds()
	assert.Len(t, accepted, 11)
	assert.Zero(t, accepted[6])
}

func TestFailureSummary(t *testing.T) {
	err := multierror.Append(nil,
		&loaderrors.ErrWorkerProcess{Rank: 1, Pid: 100, ExitCode: 1, Stderr: "starting\nbackend unreachable\n"},
		&loaderrors.ErrWorkerProcess{Rank: 3, Pid: 102, ExitCode: 2},
		loaderrors.ErrInterrupted,
	)

	assert.Equal(t,
		"rank 1: worker (pid 100) exited with code 1\n"+
			"rank 1: backend unreachable\n"+
			"rank 3: worker (pid 102) exited with code 2\n"+
			"Error: interrupted by signal\n",
		FailureSummary(err))
}
