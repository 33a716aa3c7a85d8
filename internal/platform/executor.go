package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

var ErrExecutorClosed = errors.New("executor closed")

// Executor runs blocking jobs on a fixed set of worker goroutines, so that
// callers waiting on remote calls never do the remote I/O themselves.
type Executor struct {
	log  logr.Logger
	jobs chan job
	quit chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

func NewExecutor(log logr.Logger, workers int) *Executor {
	if workers < 1 {
		workers = 1
	}
	e := &Executor{
		log:  log.WithName("Executor"),
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	return e
}

func (e *Executor) worker(id int) {
	defer e.wg.Done()
	for {
		select {
		case <-e.quit:
			e.log.V(1).Info("Worker stopped", "worker", id)
			return
		case j := <-e.jobs:
			j.done <- e.run(j)
		}
	}
}

func (e *Executor) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			e.log.Error(err, "Recovered from panic")
		}
	}()
	if j.ctx.Err() != nil {
		return j.ctx.Err()
	}
	return j.fn(j.ctx)
}

// Run executes fn on a worker and waits for its result. It returns early with
// the context error when ctx ends first; fn then still sees the canceled ctx.
func (e *Executor) Run(ctx context.Context, fn func(context.Context) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case e.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.quit:
		return ErrExecutorClosed
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the workers once their current job is done.
func (e *Executor) Close() {
	e.once.Do(func() {
		close(e.quit)
	})
	e.wg.Wait()
}
