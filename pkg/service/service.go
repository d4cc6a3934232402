// Package service runs long-lived components: it brings them up, waits for a
// termination signal or a run failure, and shuts them down within a deadline.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/inngest/mcpedge/pkg/consts"
	"github.com/inngest/mcpedge/pkg/logger"
	"golang.org/x/sync/errgroup"
)

var (
	ErrPreTimeout = errors.New("service did not pre-up within the given timeout")

	wgctxVal = wgctx{}
)

type wgctx struct{}

// GetWaitgroup returns the waitgroup held by a running service's context.
// Goroutines added to it delay Stop until they finish.
func GetWaitgroup(ctx context.Context) *sync.WaitGroup {
	wg, _ := ctx.Value(wgctxVal).(*sync.WaitGroup)
	if wg == nil {
		wg = &sync.WaitGroup{}
	}
	return wg
}

// Service is a long-running component started via Start.
type Service interface {
	Name() string
	// Pre prepares the service, returning an error if it can't run.
	Pre(ctx context.Context) error
	// Run blocks until ctx is cancelled or the service fails.
	Run(ctx context.Context) error
	// Stop releases everything the service holds.
	Stop(ctx context.Context) error
}

// StartTimeouter overrides the deadline for Pre.
type StartTimeouter interface {
	Service
	StartTimeout() time.Duration
}

// StopTimeouter overrides the deadline for Stop.
type StopTimeouter interface {
	Service
	StopTimeout() time.Duration
}

func startTimeout(s Service) time.Duration {
	if t, ok := s.(StartTimeouter); ok {
		return t.StartTimeout()
	}
	return consts.StartTimeout
}

func stopTimeout(s Service) time.Duration {
	if t, ok := s.(StopTimeouter); ok {
		return t.StopTimeout()
	}
	return consts.StopTimeout
}

// StartAll starts every service, stopping all of them once any one exits.
func StartAll(ctx context.Context, all ...Service) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg := &errgroup.Group{}
	for _, s := range all {
		svc := s
		eg.Go(func() error {
			err := Start(ctx, svc)
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("service %s errored: %w", svc.Name(), err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Start calls Pre, then Run, and blocks until SIGINT or SIGTERM arrives, ctx
// is cancelled, or Run returns. Stop is always called once Pre succeeds.
func Start(ctx context.Context, s Service) (err error) {
	l := logger.From(ctx).With("caller", s.Name())
	ctx = logger.WithStdlib(ctx, l)

	preCh := make(chan error, 1)
	go func() {
		preCh <- s.Pre(ctx)
	}()
	select {
	case <-time.After(startTimeout(s)):
		return ErrPreTimeout
	case err = <-preCh:
		if err != nil {
			return err
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	runCtx, cleanup := context.WithCancel(ctx)
	defer cleanup()
	defer func() {
		if r := recover(); r != nil {
			l.Emergency("service panicked", "recover", r)
			cleanup()
		}
	}()

	wg := &sync.WaitGroup{}
	runCtx = context.WithValue(runCtx, wgctxVal, wg)

	runErr := make(chan error, 1)
	l.Info("service starting")
	go func() {
		runErr <- s.Run(runCtx)
		cleanup()
	}()

	select {
	case sig := <-sigs:
		l.Info("received signal", "signal", sig.String())
		cleanup()
	case err = <-runErr:
		if err != nil {
			l.Error("service errored", "error", err)
		} else {
			l.Warn("service run stopped")
		}
	case <-runCtx.Done():
		l.Warn("service run stopped")
	}

	stopCh := make(chan error, 1)
	go func() {
		l.Info("service cleaning up")
		if err := s.Stop(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			stopCh <- err
			return
		}
		wg.Wait()
		stopCh <- nil
	}()
	select {
	case <-time.After(stopTimeout(s)):
		l.Error("service did not clean up within timeout")
		return err
	case stopErr := <-stopCh:
		if stopErr != nil {
			err = multierror.Append(err, stopErr)
		}
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
