// Package engine drives the bulk submission of one worker's share of the corpus.
//
// Assigned lines are submitted in windows of BulkSize. When the backend rejects part of a window,
// only the rejected documents are collected into a new batch and resubmitted after a pause,
// generation after generation, until the backend accepts all of them or the retry budget is spent.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common/loaderrors"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common/util"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/bulk"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/configuration"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/metrics"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/partition"
)

// LineReader returns the raw JSON document stored on a corpus line.
type LineReader interface {
	ReadLine(i int) (json.RawMessage, error)
}

// UnresolvedDocument is a document the backend still rejected once the retry budget was spent.
type UnresolvedDocument struct {
	Line   int
	Status int
	Error  json.RawMessage
}

// Report summarises a completed run.
type Report struct {
	Windows          int
	Documents        int
	Submissions      int
	RetriedDocuments int
	Unresolved       []UnresolvedDocument
}

// UnresolvedLines returns the corpus lines of the unresolved documents.
func (r *Report) UnresolvedLines() []int {
	lines := make([]int, len(r.Unresolved))
	for i, doc := range r.Unresolved {
		lines[i] = doc.Line
	}
	return lines
}

// Progress is a point in time view of a running engine, safe to read from any goroutine.
type Progress struct {
	WindowsDone    int64
	WindowsTotal   int64
	DocumentsDone  int64
	DocumentsTotal int64
	Generation     int64
}

type Option func(*Engine)

// WithClock replaces the clock used to pause between retry generations.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithDiagnostics replaces the writer of failed outcome snapshots.
func WithDiagnostics(diagnostics *DiagnosticWriter) Option {
	return func(e *Engine) {
		e.diagnostics = diagnostics
	}
}

type Engine struct {
	rank        int
	index       string
	bulkSize    int
	retry       configuration.RetryConfig
	backend     bulk.Backend
	lines       LineReader
	metrics     *metrics.Metrics
	diagnostics *DiagnosticWriter
	clock       clock.Clock
	log         *log.Entry

	windowsDone    atomic.Int64
	windowsTotal   atomic.Int64
	documentsDone  atomic.Int64
	documentsTotal atomic.Int64
	generation     atomic.Int64
}

func New(config configuration.Config, backend bulk.Backend, lines LineReader, metrics *metrics.Metrics, opts ...Option) *Engine {
	e := &Engine{
		rank:        config.Rank,
		index:       config.Index,
		bulkSize:    config.BulkSize,
		retry:       config.Retry,
		backend:     backend,
		lines:       lines,
		metrics:     metrics,
		diagnostics: NewDiagnosticWriter(config.DiagnosticDir, config.Rank),
		clock:       clock.RealClock{},
		log:         log.WithField("rank", config.Rank),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run submits every assigned line. It fails fast on unreadable lines and on submissions the backend
// could not process as a whole. Documents that stay rejected after the retry budget is spent do not
// stop the run; they are collected in the report and returned as an ErrSubmissionFailure at the end.
func (e *Engine) Run(ctx context.Context, assignment partition.Assignment) (*Report, error) {
	windows := util.Batch(assignment, e.bulkSize)
	e.windowsTotal.Store(int64(len(windows)))
	e.documentsTotal.Store(int64(len(assignment)))

	report := &Report{}
	for w, lines := range windows {
		if err := ctx.Err(); err != nil {
			return report, errors.WithStack(err)
		}

		batch, err := e.buildBatch(lines)
		if err != nil {
			return report, err
		}

		unresolved, err := e.submitWindow(ctx, w, batch, report)
		if err != nil {
			return report, err
		}

		report.Windows++
		report.Documents += batch.Len()
		report.Unresolved = append(report.Unresolved, unresolved...)
		e.metrics.RecordWindowCompleted(len(unresolved))
		e.windowsDone.Add(1)
		e.documentsDone.Add(int64(batch.Len()))
	}

	if len(report.Unresolved) > 0 {
		return report, &loaderrors.ErrSubmissionFailure{
			Rank:        e.rank,
			Lines:       report.UnresolvedLines(),
			Generations: e.retry.MaxGenerations,
		}
	}
	return report, nil
}

func (e *Engine) buildBatch(lines []int) (*bulk.Batch, error) {
	batch := bulk.NewBatch(len(lines))
	for _, line := range lines {
		document, err := e.lines.ReadLine(line)
		if err != nil {
			return nil, err
		}
		batch.AddIndex(line, e.index, document)
	}
	return batch, nil
}

// submitWindow submits a window and resubmits its rejected subset until nothing is rejected.
// It returns the documents still rejected when MaxGenerations is positive and has been reached.
func (e *Engine) submitWindow(ctx context.Context, window int, batch *bulk.Batch, report *Report) ([]UnresolvedDocument, error) {
	pause := e.retry.Pause
	for generation := 0; ; generation++ {
		e.generation.Store(int64(generation))

		start := e.clock.Now()
		outcome, err := e.backend.SubmitBatch(ctx, batch)
		report.Submissions++
		if err != nil {
			e.metrics.RecordSubmissionError()
			return nil, errors.Wrapf(err, "submitting window %d generation %d", window, generation)
		}
		if len(outcome.Items) != batch.Len() {
			e.metrics.RecordSubmissionError()
			return nil, &loaderrors.ErrSubmissionFailure{
				Rank:    e.rank,
				Message: fmt.Sprintf("backend returned %d items for %d documents", len(outcome.Items), batch.Len()),
			}
		}

		var failed []int
		if outcome.Errors {
			failed = outcome.FailedPositions()
		}
		e.metrics.RecordSubmission(batch.Len(), len(failed), e.clock.Since(start))
		if len(failed) == 0 {
			return nil, nil
		}

		if err := e.diagnostics.Write(window, generation, e.clock.Now(), outcome); err != nil {
			e.log.WithError(err).Warn("Failed to write diagnostic snapshot")
		}

		if e.retry.MaxGenerations > 0 && generation >= e.retry.MaxGenerations {
			e.log.Errorf("Giving up on %d document(s) of window %d after %d retry generation(s)", len(failed), window, generation)
			return unresolvedDocuments(batch, outcome, failed), nil
		}

		e.log.Infof("%d -> %d", batch.Len(), len(failed))
		if err := e.wait(ctx, pause); err != nil {
			return nil, err
		}

		pause = nextPause(pause, e.retry)
		batch = batch.Subset(failed)
		report.RetriedDocuments += batch.Len()
		e.metrics.RecordRetryGeneration()
	}
}

// wait pauses for d, returning early with the context error once ctx is done.
func (e *Engine) wait(ctx context.Context, d time.Duration) error {
	timer := e.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C():
	}
	return errors.WithStack(ctx.Err())
}

func unresolvedDocuments(batch *bulk.Batch, outcome *bulk.Outcome, failed []int) []UnresolvedDocument {
	unresolved := make([]UnresolvedDocument, 0, len(failed))
	for _, position := range failed {
		item := outcome.Items[position]
		unresolved = append(unresolved, UnresolvedDocument{
			Line:   batch.Pairs[position].Line,
			Status: item.Status,
			Error:  item.Error,
		})
	}
	return unresolved
}

func nextPause(pause time.Duration, config configuration.RetryConfig) time.Duration {
	if config.BackoffMultiplier <= 1 {
		return pause
	}
	next := time.Duration(float64(pause) * config.BackoffMultiplier)
	if config.MaxPause > 0 && next > config.MaxPause {
		return config.MaxPause
	}
	return next
}

func (e *Engine) Progress() Progress {
	return Progress{
		WindowsDone:    e.windowsDone.Load(),
		WindowsTotal:   e.windowsTotal.Load(),
		DocumentsDone:  e.documentsDone.Load(),
		DocumentsTotal: e.documentsTotal.Load(),
		Generation:     e.generation.Load(),
	}
}

// LogProgress logs the current progress; it is registered as a background task by the worker.
func (e *Engine) LogProgress() {
	p := e.Progress()
	e.log.Infof("Submitted %d/%d documents in %d/%d windows", p.DocumentsDone, p.DocumentsTotal, p.WindowsDone, p.WindowsTotal)
}
