// Package worker runs the job pipeline off the queue.
package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/docjob"
	"github.com/apiharbor/docpipe/internal/metrics"
)

// Runner executes one job. Satisfied by docjob.Service.Run.
type Runner interface {
	Run(ctx context.Context, tenantID, jobID string) error
}

// Pool drains the queue with a fixed number of workers. Each dequeued item
// runs the full pipeline; job-level failures are recorded on the job by the
// orchestrator, so the pool only logs them.
type Pool struct {
	queue  docjob.Queue
	runner Runner
	size   int
	logger *zap.Logger

	wg sync.WaitGroup
}

// New builds a Pool.
func New(queue docjob.Queue, runner Runner, size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{queue: queue, runner: runner, size: size, logger: logger}
}

// Start launches the workers. They exit when the queue closes or the context
// finishes.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue.Dequeue():
			if !ok {
				return
			}
			p.process(ctx, item, logger)
		}
	}
}

func (p *Pool) process(ctx context.Context, item docjob.QueueItem, logger *zap.Logger) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger.Info("job dequeued", zap.String("job_id", item.JobID))
	if err := p.runner.Run(ctx, item.TenantID, item.JobID); err != nil {
		// Terminal state is already recorded on the job.
		logger.Warn("job run finished with error",
			zap.String("job_id", item.JobID),
			zap.Error(err))
		return
	}
	logger.Info("job run finished", zap.String("job_id", item.JobID))
}
