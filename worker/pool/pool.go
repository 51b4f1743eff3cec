package pool

import (
	"context"
	"sync"

	"mediaGen/core/models"
)

// WorkerPool bounds how many generation pipelines run at once across all
// partitions.
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		sem: make(chan struct{}, maxWorkers),
	}
}

// Run waits for a free slot and then runs handler on the calling goroutine,
// returning its error. The caller learns the outcome before it moves on, so
// it can decide whether the message is done.
func (p *WorkerPool) Run(ctx context.Context, msg *models.GenerationMessage, handler func(context.Context, *models.GenerationMessage) error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	defer p.wg.Done()
	defer func() { <-p.sem }()
	return handler(ctx, msg)
}

// Wait blocks until every running handler has returned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
