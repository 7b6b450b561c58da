package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// CreateContextWithShutdown returns a context that is cancelled when SIGINT or SIGTERM is received.
// A second signal exits the process straight away with exitCode.
func CreateContextWithShutdown(exitCode int) (context.Context, context.CancelFunc) {
	ctx, _, cancel := watchSignals(func(sig os.Signal) {
		log.Errorf("Received %s again, exiting", sig)
		os.Exit(exitCode)
	})
	return ctx, cancel
}

// CreateContextWithEscalation is CreateContextWithShutdown for processes that own children.
// ctx is cancelled on the first SIGINT or SIGTERM and force on the second. The process is never
// exited here, so the caller still gets to reap its children after force is done.
func CreateContextWithEscalation() (ctx, force context.Context, cancel context.CancelFunc) {
	return watchSignals(func(sig os.Signal) {
		log.Errorf("Received %s again, stopping without grace period", sig)
	})
}

func watchSignals(onSecondSignal func(os.Signal)) (context.Context, context.Context, context.CancelFunc) {
	force, cancelForce := context.WithCancel(context.Background())
	ctx, cancelCtx := context.WithCancel(force)
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(c)
		select {
		case sig := <-c:
			if force.Err() != nil {
				return
			}
			log.Warnf("Received %s, shutting down", sig)
			cancelCtx()
		case <-force.Done():
			return
		}
		select {
		case sig := <-c:
			if force.Err() != nil {
				return
			}
			onSecondSignal(sig)
			cancelForce()
		case <-force.Done():
		}
	}()
	return ctx, force, cancelForce
}
