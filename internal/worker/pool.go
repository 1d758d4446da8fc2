package worker

import (
	"context"
	"sync"
)

// Job is a unit of work run by the pool.
type Job interface {
	Execute(ctx context.Context) Result
}

// Result is the outcome of a Job.
type Result interface {
	GetError() error
}

// Pool runs jobs on a fixed number of workers. Jobs observe the context the
// pool was created with, so a phase deadline bounds every job.
type Pool struct {
	workers    int
	jobQueue   chan Job
	results    chan Result
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once
}

// NewPool creates a pool bound to ctx.
func NewPool(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Pool{
		workers:    workers,
		jobQueue:   make(chan Job, workers*2),
		results:    make(chan Result, workers*2),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			result := job.Execute(p.ctx)
			select {
			case p.results <- result:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues a job. It returns false if the pool context is done.
func (p *Pool) Submit(job Job) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.jobQueue <- job:
		return true
	}
}

// Close marks the end of submissions. Submit must not be called afterwards.
func (p *Pool) Close() {
	close(p.jobQueue)
}

// Wait collects results until every worker exits, then releases the pool
// context. Jobs still queued when the context ends produce no result.
func (p *Pool) Wait() []Result {
	go func() {
		p.wg.Wait()
		p.closeResults()
	}()

	var results []Result
	for result := range p.results {
		results = append(results, result)
	}

	p.cancelFunc()
	return results
}

func (p *Pool) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}

// Run executes jobs on a new pool and returns their results in completion order.
// Submission happens concurrently with collection so the queue cannot stall.
func Run(ctx context.Context, workers int, jobs []Job) []Result {
	pool := NewPool(ctx, workers)
	pool.Start()

	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		defer pool.Close()
		for _, job := range jobs {
			if !pool.Submit(job) {
				return
			}
		}
	}()

	results := pool.Wait()
	<-submitted
	return results
}
