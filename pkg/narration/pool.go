package narration

import (
	"context"
	"log/slog"
	"sync"
)

// Task is one unit of background work.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of workers behind a bounded queue.
// Submitting to a full queue drops the task instead of blocking.
type Pool struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	ch     chan Task
	wg     sync.WaitGroup
}

// NewPool starts workers that run until ctx is cancelled or Close is called.
func NewPool(ctx context.Context, name string, workers, queue int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queue < 1 {
		queue = 1
	}
	p := &Pool{
		name:   name,
		logger: logger,
		ch:     make(chan Task, queue),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	return p
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.ch:
			if !ok {
				return
			}
			if task != nil {
				task(ctx)
			}
		}
	}
}

// Submit queues task. It reports false when the queue is full or closed.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.ch <- task:
		return true
	default:
		p.logger.Warn("queue full, dropping task", "pool", p.name, "capacity", cap(p.ch))
		return false
	}
}

// Close stops accepting tasks. Workers finish what is queued unless their
// context is cancelled. Close does not wait.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.ch)
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}
