// Package pipeline runs the post-session processing steps (spec.md §4.F):
// fetch a session's raw transcript, parse it, persist messages and content
// blocks, transition the session through parsed/summarized, and broadcast
// the result. Structured like the teacher's queue.WorkerPool (bounded set
// of goroutines, Start/Stop with stopOnce+WaitGroup, an in-flight session
// registry), but the work source is an in-memory bounded channel rather
// than a database poll, per this module's drop-on-full backpressure
// requirement.
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/devtrack/eventpipeline/pkg/metrics"
)

// Runner executes the per-session pipeline steps. Implemented by *Steps.
type Runner interface {
	Run(ctx context.Context, sessionID string) error
}

// Pool is a bounded worker pool draining a fixed-capacity session queue.
// EnqueueSession never blocks: when the queue is full the submission is
// dropped and logged, trusting a later trigger (another event touching
// the same session, or an operator retry) to recover it.
type Pool struct {
	queue       chan string
	concurrency int
	runner      Runner

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	mu      sync.Mutex
	active  map[string]bool
	dropped int64
}

// NewPool builds a Pool with the given worker concurrency and queue
// capacity, draining into runner.
func NewPool(concurrency, queueCapacity int, runner Runner) *Pool {
	return &Pool{
		queue:       make(chan string, queueCapacity),
		concurrency: concurrency,
		runner:      runner,
		stopCh:      make(chan struct{}),
		active:      make(map[string]bool),
	}
}

// Start spawns the worker goroutines. Safe to call once.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop signals workers to exit and waits for each to finish its current
// session before returning. Sessions still in the queue are not run.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// EnqueueSession submits a session for pipeline processing. Returns false
// if the queue was full and the submission was dropped.
func (p *Pool) EnqueueSession(sessionID string) bool {
	select {
	case p.queue <- sessionID:
		return true
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		metrics.SessionsEnqueueDroppedTotal.Inc()
		slog.Warn("pipeline: queue full, dropping session submission", "session_id", sessionID)
		return false
	}
}

// RunSync executes the pipeline steps for a session directly on the
// calling goroutine, bypassing the queue entirely. Test-only: production
// code always goes through EnqueueSession so backpressure is honored.
func (p *Pool) RunSync(ctx context.Context, sessionID string) error {
	return p.runner.Run(ctx, sessionID)
}

// Health reports queue depth, in-flight sessions, and drop count.
type Health struct {
	QueueDepth    int
	QueueCapacity int
	Active        int
	Dropped       int64
}

func (p *Pool) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Health{
		QueueDepth:    len(p.queue),
		QueueCapacity: cap(p.queue),
		Active:        len(p.active),
		Dropped:       p.dropped,
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case sessionID := <-p.queue:
			p.markActive(sessionID, true)
			if err := p.runner.Run(ctx, sessionID); err != nil {
				slog.Error("pipeline: session processing failed", "worker", id, "session_id", sessionID, "error", err)
				metrics.SessionsProcessedTotal.WithLabelValues("error").Inc()
			} else {
				metrics.SessionsProcessedTotal.WithLabelValues("ok").Inc()
			}
			p.markActive(sessionID, false)
		}
	}
}

func (p *Pool) markActive(sessionID string, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if active {
		p.active[sessionID] = true
	} else {
		delete(p.active, sessionID)
	}
}
