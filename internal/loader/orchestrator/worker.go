package orchestrator

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common/loaderrors"
)

// Size of the stderr tail kept per worker for failure reports.
const stderrTailSize = 8 * 1024

// WorkerProcess is a started worker. It is reaped by its own goroutine; done is closed once the
// process has exited and exitCode is safe to read.
type WorkerProcess struct {
	Rank int

	cmd      *exec.Cmd
	stderr   *tailBuffer
	done     chan struct{}
	exitCode int
}

// startWorker starts cmd with its stderr copied to both stderr and a bounded tail buffer.
func startWorker(rank int, cmd *exec.Cmd, stderr io.Writer) (*WorkerProcess, error) {
	w := &WorkerProcess{
		Rank:   rank,
		cmd:    cmd,
		stderr: newTailBuffer(stderrTailSize),
		done:   make(chan struct{}),
	}
	if stderr != nil {
		cmd.Stderr = io.MultiWriter(stderr, w.stderr)
	} else {
		cmd.Stderr = w.stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "starting worker rank %d", rank)
	}
	go func() {
		// Wait reports a non-zero exit as an error; the exit code carries all we need.
		_ = cmd.Wait()
		w.exitCode = cmd.ProcessState.ExitCode()
		close(w.done)
	}()
	return w, nil
}

func (w *WorkerProcess) Pid() int {
	return w.cmd.Process.Pid
}

func (w *WorkerProcess) Exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// ExitCode is -1 for a process terminated by a signal. Only valid once Exited returns true.
func (w *WorkerProcess) ExitCode() int {
	return w.exitCode
}

// Stderr returns the last bytes the worker wrote to stderr.
func (w *WorkerProcess) Stderr() string {
	return w.stderr.String()
}

// stop asks the worker to terminate and kills it if it is still alive after grace, or as soon as
// force is closed.
func (w *WorkerProcess) stop(grace time.Duration, force <-chan struct{}) error {
	if w.Exited() {
		return nil
	}
	wait := grace
	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			<-w.done
			return nil
		}
		// No SIGTERM on this platform.
		wait = 0
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-w.done:
		return nil
	case <-timer.C:
	case <-force:
	}

	_ = w.cmd.Process.Kill()
	<-w.done
	return &loaderrors.ErrShutdownTimeout{Rank: w.Rank, Pid: w.Pid(), GracePeriod: grace}
}

// tailBuffer is an io.Writer that keeps only the last size bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	size int
	buf  []byte
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{size: size}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if len(p) >= b.size {
		b.buf = append(b.buf[:0], p[len(p)-b.size:]...)
		return n, nil
	}
	b.buf = append(b.buf, p...)
	if overflow := len(b.buf) - b.size; overflow > 0 {
		b.buf = append(b.buf[:0], b.buf[overflow:]...)
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
