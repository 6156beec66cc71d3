package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultPoolSize is the pool's default worker count (spec §4.13 "a bounded
// set of workers (default 4)").
const DefaultPoolSize = 4

// ErrPoolStopped is returned by Submit once the pool has begun shutting down.
var ErrPoolStopped = errors.New("worker: pool stopped")

// Pool runs a bounded number of Workers against a shared task queue,
// tracking at most one active worker per path so Cancel(path) can target it
// (spec §4.13 "the pool"). Persistent goroutine lifecycle is managed with
// golang.org/x/sync/errgroup, mirroring the teacher's dispatchPool use of
// errgroup for bounded concurrency (internal/sync/transfer.go).
type Pool struct {
	size   int
	logger *slog.Logger

	tasks chan Task

	mu     sync.Mutex
	active map[string]*Worker

	stopped bool

	group      *errgroup.Group
	groupCtx   context.Context
	cancelFunc context.CancelFunc
}

// New builds a Pool with the given size; a size below 1 is replaced by
// DefaultPoolSize.
func New(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = DefaultPoolSize
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		size:   size,
		logger: logger,
		tasks:  make(chan Task, size*4),
		active: make(map[string]*Worker),
	}
}

// Start spawns size persistent worker goroutines, each pulling tasks from
// the shared queue until ctx is canceled or the pool is stopped.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancelFunc = cancel

	g, gctx := errgroup.WithContext(ctx)
	p.group = g
	p.groupCtx = gctx

	for range p.size {
		g.Go(func() error {
			p.run(gctx)
			return nil
		})
	}

	p.logger.Info("worker pool started", "workers", p.size)
}

func (p *Pool) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}

			p.runTask(ctx, task)
		}
	}
}

func (p *Pool) runTask(ctx context.Context, task Task) {
	w := NewWorker()

	p.mu.Lock()
	p.active[task.Path] = w
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.active, task.Path)
		p.mu.Unlock()
	}()

	if err := w.Execute(ctx, task, nil, nil); err != nil {
		p.logger.Warn("worker: task failed", "path", task.Path, "error", err)
	}
}

// Submit enqueues task for execution by the next free worker. It returns
// ErrPoolStopped once Stop has been called.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	p.mu.Unlock()

	select {
	case p.tasks <- task:
		return nil
	case <-p.groupCtx.Done():
		return ErrPoolStopped
	}
}

// Cancel requests cancellation on the active worker for path, if any.
// Returns false if no worker is currently running that path.
func (p *Pool) Cancel(path string) bool {
	p.mu.Lock()
	w, ok := p.active[path]
	p.mu.Unlock()

	if !ok {
		return false
	}

	return w.RequestCancel()
}

// ActivePaths returns the paths currently being worked on.
func (p *Pool) ActivePaths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	paths := make([]string, 0, len(p.active))
	for path := range p.active {
		paths = append(paths, path)
	}

	return paths
}

// Stop drains the pool: new Submit calls are rejected, every active worker
// receives a cancellation request, and Stop waits for all worker goroutines
// to exit or for timeout to elapse, whichever comes first.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	p.stopped = true
	for _, w := range p.active {
		w.RequestCancel()
	}
	p.mu.Unlock()

	if p.cancelFunc != nil {
		p.cancelFunc()
	}

	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.New("worker: pool stop timed out waiting for workers")
	}
}
