package app

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, done <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s was not cancelled", what)
	}
}

func TestCreateContextWithShutdown_CancelledBySignal(t *testing.T) {
	ctx, cancel := CreateContextWithShutdown(1)
	defer cancel()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	waitDone(t, ctx.Done(), "context")
}

func TestCreateContextWithShutdown_Cancel(t *testing.T) {
	ctx, cancel := CreateContextWithShutdown(1)
	cancel()

	assert.Eventually(t, func() bool { return ctx.Err() != nil }, time.Second, time.Millisecond)
}

func TestCreateContextWithEscalation_SecondSignalForces(t *testing.T) {
	ctx, force, cancel := CreateContextWithEscalation()
	defer cancel()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	waitDone(t, ctx.Done(), "context")
	assert.NoError(t, force.Err())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))
	waitDone(t, force.Done(), "force context")
}

func TestCreateContextWithEscalation_Cancel(t *testing.T) {
	ctx, force, cancel := CreateContextWithEscalation()
	cancel()

	assert.Error(t, ctx.Err())
	assert.Error(t, force.Err())
}
