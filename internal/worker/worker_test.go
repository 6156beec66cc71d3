package worker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncagent/engine/internal/errtypes"
	"github.com/syncagent/engine/internal/worker"
)

func TestExecuteTransitionsToCompletedOnSuccess(t *testing.T) {
	w := worker.NewWorker()

	task := worker.Task{
		Path: "a.txt",
		Run: func(ctx context.Context, progress worker.ProgressFunc, cancel worker.CancelFunc) error {
			return nil
		},
	}

	err := w.Execute(context.Background(), task, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, worker.Completed, w.State())
}

func TestExecuteTransitionsToFailedOnError(t *testing.T) {
	w := worker.NewWorker()

	task := worker.Task{
		Path: "a.txt",
		Run: func(ctx context.Context, progress worker.ProgressFunc, cancel worker.CancelFunc) error {
			return errtypes.New(errtypes.KindIntegrity, "a.txt", "boom")
		},
	}

	err := w.Execute(context.Background(), task, nil, nil)
	require.Error(t, err)
	assert.Equal(t, worker.Failed, w.State())
}

func TestExecuteTransitionsToCancelledOnCancelledError(t *testing.T) {
	w := worker.NewWorker()

	task := worker.Task{
		Path: "a.txt",
		Run: func(ctx context.Context, progress worker.ProgressFunc, cancel worker.CancelFunc) error {
			return errtypes.New(errtypes.KindCancelled, "a.txt", "stopped")
		},
	}

	err := w.Execute(context.Background(), task, nil, nil)
	require.Error(t, err)
	assert.Equal(t, worker.Cancelled, w.State())
}

func TestExecuteRejectsConcurrentRun(t *testing.T) {
	w := worker.NewWorker()
	started := make(chan struct{})
	release := make(chan struct{})

	task := worker.Task{
		Path: "a.txt",
		Run: func(ctx context.Context, progress worker.ProgressFunc, cancel worker.CancelFunc) error {
			close(started)
			<-release
			return nil
		},
	}

	go func() { _ = w.Execute(context.Background(), task, nil, nil) }()
	<-started

	err := w.Execute(context.Background(), task, nil, nil)
	assert.ErrorIs(t, err, worker.ErrAlreadyRunning)

	close(release)
}

func TestCombinedCancelPicksUpExternalCheck(t *testing.T) {
	w := worker.NewWorker()

	var observedCancel bool

	task := worker.Task{
		Path: "a.txt",
		Run: func(ctx context.Context, progress worker.ProgressFunc, cancel worker.CancelFunc) error {
			observedCancel = cancel()
			if observedCancel {
				return errtypes.New(errtypes.KindCancelled, "a.txt", "cancelled")
			}

			return nil
		},
	}

	err := w.Execute(context.Background(), task, nil, func() bool { return true })
	require.Error(t, err)
	assert.True(t, observedCancel)
	assert.Equal(t, worker.Cancelled, w.State())
}

func TestRequestCancelFalseWhenIdle(t *testing.T) {
	w := worker.NewWorker()
	assert.False(t, w.RequestCancel())
}

func TestOnDoneInvokedWithOutcome(t *testing.T) {
	w := worker.NewWorker()

	var gotErr error
	called := false

	task := worker.Task{
		Path: "a.txt",
		Run: func(ctx context.Context, progress worker.ProgressFunc, cancel worker.CancelFunc) error {
			return errtypes.New(errtypes.KindIntegrity, "a.txt", "boom")
		},
		OnDone: func(err error) {
			called = true
			gotErr = err
		},
	}

	_ = w.Execute(context.Background(), task, nil, nil)
	assert.True(t, called)
	assert.Error(t, gotErr)
}
