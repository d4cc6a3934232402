package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/inngest/mcpedge/pkg/consts"
	"github.com/stretchr/testify/require"
)

type mockservice struct {
	name string
	pre  func(ctx context.Context) error
	run  func(ctx context.Context) error
	stop func(ctx context.Context) error

	startTimeout time.Duration
	stopTimeout  time.Duration
}

func (m mockservice) Name() string {
	if m.name != "" {
		return m.name
	}
	return "mock"
}

func (m mockservice) Pre(ctx context.Context) error {
	if m.pre == nil {
		return nil
	}
	return m.pre(ctx)
}

func (m mockservice) Run(ctx context.Context) error {
	return m.run(ctx)
}

func (m mockservice) Stop(ctx context.Context) error {
	if m.stop == nil {
		return nil
	}
	return m.stop(ctx)
}

func (m mockservice) StartTimeout() time.Duration {
	if m.startTimeout != 0 {
		return m.startTimeout
	}
	return consts.StartTimeout
}

func (m mockservice) StopTimeout() time.Duration {
	if m.stopTimeout != 0 {
		return m.stopTimeout
	}
	return consts.StopTimeout
}

func TestStart(t *testing.T) {
	m := mockservice{
		run: func(ctx context.Context) error { <-time.After(200 * time.Millisecond); return nil },
	}
	now := time.Now()
	require.NoError(t, Start(context.Background(), m))
	require.WithinDuration(t, now.Add(200*time.Millisecond), time.Now(), 50*time.Millisecond)
}

func TestStartStopsOnCancel(t *testing.T) {
	var stopped atomic.Bool
	m := mockservice{
		run:  func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() },
		stop: func(ctx context.Context) error { stopped.Store(true); return nil },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, Start(ctx, m))
	require.True(t, stopped.Load())
}

func TestSignals(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM} {
		t.Run(sig.String(), func(t *testing.T) {
			m := mockservice{
				run: func(ctx context.Context) error { <-ctx.Done(); return nil },
			}

			done := make(chan error, 1)
			go func() { done <- Start(context.Background(), m) }()

			<-time.After(50 * time.Millisecond)
			require.NoError(t, syscall.Kill(syscall.Getpid(), sig))

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(time.Second):
				t.Fatal("service didn't stop on signal")
			}
		})
	}
}

func TestPreError(t *testing.T) {
	var ran atomic.Bool
	m := mockservice{
		pre: func(ctx context.Context) error { return errors.New("pre error") },
		run: func(ctx context.Context) error { ran.Store(true); return nil },
	}
	require.ErrorContains(t, Start(context.Background(), m), "pre error")
	require.False(t, ran.Load())
}

func TestPreTimeout(t *testing.T) {
	m := mockservice{
		pre:          func(ctx context.Context) error { <-time.After(time.Second); return nil },
		run:          func(ctx context.Context) error { return nil },
		startTimeout: time.Millisecond,
	}
	require.ErrorIs(t, Start(context.Background(), m), ErrPreTimeout)
}

func TestRunAndStopErrorsCombine(t *testing.T) {
	m := mockservice{
		run:  func(ctx context.Context) error { return errors.New("run failed") },
		stop: func(ctx context.Context) error { return errors.New("stop failed") },
	}
	err := Start(context.Background(), m)
	require.ErrorContains(t, err, "run failed")
	require.ErrorContains(t, err, "stop failed")
}

func TestStopTimeout(t *testing.T) {
	m := mockservice{
		run:         func(ctx context.Context) error { return nil },
		stop:        func(ctx context.Context) error { <-time.After(time.Second); return nil },
		stopTimeout: 20 * time.Millisecond,
	}
	now := time.Now()
	require.NoError(t, Start(context.Background(), m))
	require.Less(t, time.Since(now), 500*time.Millisecond)
}

func TestStopWaitsForWaitgroup(t *testing.T) {
	var finished atomic.Bool
	m := mockservice{
		run: func(ctx context.Context) error {
			wg := GetWaitgroup(ctx)
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-time.After(100 * time.Millisecond)
				finished.Store(true)
			}()
			return nil
		},
	}
	require.NoError(t, Start(context.Background(), m))
	require.True(t, finished.Load())
}

func TestStartAll(t *testing.T) {
	var invocations int32
	m := mockservice{
		run: func(ctx context.Context) error {
			atomic.AddInt32(&invocations, 1)
			<-time.After(200 * time.Millisecond)
			return nil
		},
	}
	require.NoError(t, StartAll(context.Background(), m, m, m))
	require.Equal(t, int32(3), atomic.LoadInt32(&invocations))
}

// One failing service stops the others.
func TestStartAllSingleError(t *testing.T) {
	var stops int32
	var once sync.Once
	m := mockservice{
		run: func(ctx context.Context) error {
			var fail bool
			once.Do(func() { fail = true })
			if fail {
				<-time.After(100 * time.Millisecond)
				return errors.New("boo")
			}
			<-ctx.Done()
			return nil
		},
		stop: func(ctx context.Context) error {
			atomic.AddInt32(&stops, 1)
			return nil
		},
	}
	err := StartAll(context.Background(), m, m, m)
	require.ErrorContains(t, err, "boo")
	require.Equal(t, int32(3), atomic.LoadInt32(&stops))
}
