package sequence

import (
	"context"
	"sync"
)

// poolTask pairs a unit of work with the channel its result is
// delivered on.
type poolTask struct {
	fn   func() error
	done chan error
}

// workerPool bounds the goroutines that run blocking collaborator
// calls: camera captures and flashing-tool subprocesses. The
// orchestrator submits work and waits for it, so the pool caps
// concurrency without reordering anything.
type workerPool struct {
	tasks chan poolTask
	wg    sync.WaitGroup
}

func newWorkerPool(workers int) *workerPool {
	if workers < 1 {
		workers = 1
	}
	p := &workerPool{
		tasks: make(chan poolTask, workers),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task.done <- task.fn()
	}
}

// run executes fn on the pool and waits for it to finish. The context
// only bounds the wait for a free worker; once fn is running it is
// responsible for observing ctx itself.
func (p *workerPool) run(ctx context.Context, fn func() error) error {
	task := poolTask{fn: fn, done: make(chan error, 1)}
	select {
	case p.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-task.done
}

// close stops the workers after the queue drains. No run calls may be
// in flight or follow.
func (p *workerPool) close() {
	close(p.tasks)
	p.wg.Wait()
}
