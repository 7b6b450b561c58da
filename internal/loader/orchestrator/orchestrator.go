// Package orchestrator spawns one worker process per rank and supervises them until they all exit
// or the run is interrupted.
package orchestrator

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common/loaderrors"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/configuration"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/metrics"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/offsets"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/partition"
)

type Option func(*Orchestrator)

// WithStderr sets where worker stderr is copied to, besides the tail kept for failure reports.
func WithStderr(w io.Writer) Option {
	return func(o *Orchestrator) {
		o.stderr = w
	}
}

// WithForceStop makes shutdown skip what is left of the grace period once force is done:
// workers still running are killed straight away.
func WithForceStop(force context.Context) Option {
	return func(o *Orchestrator) {
		o.force = force
	}
}

func WithMetrics(m *metrics.SupervisorMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

type Orchestrator struct {
	config     configuration.Config
	newCommand CommandFactory
	stderr     io.Writer
	metrics    *metrics.SupervisorMetrics
	force      context.Context
}

func New(config configuration.Config, newCommand CommandFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		config:     config,
		newCommand: newCommand,
		stderr:     os.Stderr,
		force:      context.Background(),
		metrics:    metrics.NewSupervisorMetrics(metrics.SupervisorMetricsPrefix, prometheus.NewRegistry()),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run makes sure the offset index exists, starts TotalRanks workers and waits for all of them.
// It returns nil only if every worker exited zero. A failing worker does not stop its siblings; all
// failures are returned together. Cancelling ctx stops every live worker and returns ErrInterrupted.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := partition.Validate(0, o.config.TotalRanks); err != nil {
		return err
	}
	if err := o.prepareIndex(); err != nil {
		return err
	}

	s := &supervision{
		gracePeriod: o.config.Supervision.GracePeriod,
		force:       o.force,
		metrics:     o.metrics,
	}
	// Covers every return path, so no worker outlives the orchestrator.
	defer s.stopAll()

	for rank := 0; rank < o.config.TotalRanks; rank++ {
		cmd, err := o.newCommand(rank)
		if err != nil {
			return errors.Wrapf(err, "creating command for worker rank %d", rank)
		}
		w, err := startWorker(rank, cmd, o.stderr)
		if err != nil {
			return err
		}
		s.add(w)
		log.WithField("rank", rank).Infof("Started worker with pid %d", w.Pid())
	}

	return s.wait(ctx, o.config.Supervision.PollInterval)
}

func (o *Orchestrator) prepareIndex() error {
	index, built, err := offsets.LoadOrBuild(o.config.Corpus)
	if err != nil {
		return err
	}
	if built {
		log.Infof("Created offset file %s. Total lines: %d", offsets.SidecarPath(o.config.Corpus), len(index))
	} else {
		log.Infof("Loaded offset file %s. Total lines: %d", offsets.SidecarPath(o.config.Corpus), len(index))
	}
	return offsets.Validate(index, o.config.Corpus)
}

// supervision tracks the workers of one run. It is only accessed from the goroutine running Run.
type supervision struct {
	gracePeriod time.Duration
	force       context.Context
	metrics     *metrics.SupervisorMetrics
	workers     []*WorkerProcess
	// reported marks workers whose exit has been handled.
	reported []bool
}

func (s *supervision) add(w *WorkerProcess) {
	s.workers = append(s.workers, w)
	s.reported = append(s.reported, false)
	s.metrics.RecordWorkerStarted()
}

func (s *supervision) wait(ctx context.Context, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var result *multierror.Error
	for {
		running := 0
		for i, w := range s.workers {
			if s.reported[i] {
				continue
			}
			if !w.Exited() {
				running++
				continue
			}
			s.reported[i] = true
			if err := s.handleExit(w); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if running == 0 {
			return result.ErrorOrNil()
		}

		select {
		case <-ctx.Done():
			log.Warnf("Interrupted, stopping %d running worker(s)", running)
			s.stopAll()
			return multierror.Append(result, loaderrors.ErrInterrupted)
		case <-ticker.C:
		}
	}
}

func (s *supervision) handleExit(w *WorkerProcess) error {
	logger := log.WithField("rank", w.Rank)
	if w.ExitCode() == 0 {
		logger.Infof("Worker with pid %d finished", w.Pid())
		s.metrics.RecordWorkerExit(metrics.WorkerExitSucceeded)
		return nil
	}
	logger.Errorf("Worker with pid %d failed with exit code %d; stderr:\n%s", w.Pid(), w.ExitCode(), w.Stderr())
	s.metrics.RecordWorkerExit(metrics.WorkerExitFailed)
	return &loaderrors.ErrWorkerProcess{
		Rank:     w.Rank,
		Pid:      w.Pid(),
		ExitCode: w.ExitCode(),
		Stderr:   w.Stderr(),
	}
}

// stopAll terminates every worker whose exit has not been handled yet, concurrently.
// Workers that have to be killed are logged; that is not an error of the run.
func (s *supervision) stopAll() {
	var g errgroup.Group
	for i, w := range s.workers {
		if s.reported[i] {
			continue
		}
		s.reported[i] = true
		w := w
		g.Go(func() error {
			err := w.stop(s.gracePeriod, s.force.Done())
			if err != nil {
				log.WithField("rank", w.Rank).WithError(err).Warn("Worker was killed")
			}
			s.metrics.RecordWorkerExit(metrics.WorkerExitKilled)
			return err
		})
	}
	_ = g.Wait()
}
