package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/bulk"
)

// Snapshot is the content of the diagnostic file: the latest outcome in which the backend rejected documents.
type Snapshot struct {
	Rank       int           `json:"rank"`
	Window     int           `json:"window"`
	Generation int           `json:"generation"`
	Time       time.Time     `json:"time"`
	Outcome    *bulk.Outcome `json:"outcome"`
}

// DiagnosticWriter keeps one file per rank, overwritten with every failed outcome, so that the
// most recent rejection can be inspected while a worker keeps retrying.
type DiagnosticWriter struct {
	path string
	rank int
}

func DiagnosticPath(dir string, rank int) string {
	return filepath.Join(dir, fmt.Sprintf("bulk-errors-rank-%d.json", rank))
}

func NewDiagnosticWriter(dir string, rank int) *DiagnosticWriter {
	return &DiagnosticWriter{path: DiagnosticPath(dir, rank), rank: rank}
}

func (w *DiagnosticWriter) Path() string {
	return w.path
}

// Write replaces the file atomically so readers never observe a partial snapshot.
func (w *DiagnosticWriter) Write(window int, generation int, now time.Time, outcome *bulk.Outcome) error {
	data, err := json.MarshalIndent(Snapshot{
		Rank:       w.rank,
		Window:     window,
		Generation: generation,
		Time:       now.UTC(),
		Outcome:    outcome,
	}, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.path), filepath.Base(w.path)+".*.tmp")
	if err != nil {
		return errors.WithStack(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.WithStack(err)
	}
	if err := tmp.Close(); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(tmp.Name(), w.path))
}
