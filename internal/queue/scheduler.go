// Package queue is the Job Queue / Scheduler: an in-memory FIFO ready
// queue feeding a bounded worker pool, with a single admission loop,
// hot-reloadable concurrency, per-job cancellation tokens, and explicit
// pause/resume.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"selenite/internal/clock"
	"selenite/internal/models"
	"selenite/internal/repository"
	"selenite/pkg/logger"
)

// ErrJobNotInflight is returned by Pause/Resume for a job the Scheduler does
// not currently have running.
var ErrJobNotInflight = errors.New("job is not inflight")

// hardCeiling bounds the semaphore's absolute capacity; Reconfigure adjusts
// the live target below this ceiling without ever recreating the semaphore,
// so permits already granted to running jobs are never revoked.
const hardCeiling = 256

// Runner executes one job end to end inside a worker, observing handle's
// cancel token and pause signal at its checkpoints. Implemented by
// internal/executor; declared here to avoid an import cycle.
type Runner interface {
	Run(ctx context.Context, jobID string, handle *WorkerHandle) error
}

// Scheduler admits queued jobs into a bounded pool of workers.
type Scheduler struct {
	jobs            repository.JobRepository
	clock           clock.Clock
	runner          Runner
	persistRetryMax int

	sem *semaphore.Weighted

	target        int64 // atomic: current max_concurrent_jobs
	inflightCount int64 // atomic
	workerSeq     int64 // atomic

	mu         sync.Mutex
	readyQueue []string
	inflight   map[string]*WorkerHandle

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Scheduler. maxConcurrent is the initial
// max_concurrent_jobs value; call Reconfigure to change it later (e.g. from
// a settings.Gateway.Subscribe() loop).
func New(jobs repository.JobRepository, c clock.Clock, runner Runner, maxConcurrent int, persistRetryMax int) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if persistRetryMax < 1 {
		persistRetryMax = 5
	}
	return &Scheduler{
		jobs:            jobs,
		clock:           c,
		runner:          runner,
		persistRetryMax: persistRetryMax,
		sem:             semaphore.NewWeighted(hardCeiling),
		target:          int64(maxConcurrent),
		inflight:        make(map[string]*WorkerHandle),
		wakeCh:          make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
	}
}

// Start launches the admission loop goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.admissionLoop()
}

// Stop waits up to timeout for inflight workers to finish, then cancels
// whatever remains, per the documented GRACEFUL_SHUTDOWN_TIMEOUT teardown.
func (s *Scheduler) Stop(timeout time.Duration) {
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(timeout):
	}

	s.mu.Lock()
	for _, h := range s.inflight {
		h.RequestCancel()
	}
	s.mu.Unlock()
	<-done
}

// Submit appends job_id to ready_queue. At-most-once: a job already inflight
// or already queued is silently ignored.
func (s *Scheduler) Submit(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inflight[jobID]; ok {
		return
	}
	for _, id := range s.readyQueue {
		if id == jobID {
			return
		}
	}
	s.readyQueue = append(s.readyQueue, jobID)
	s.wake()
}

// Cancel transitions a queued job straight to cancelled, or signals
// cancel_token for an inflight one so the worker observes it at its next
// checkpoint.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	if h, ok := s.inflight[jobID]; ok {
		s.mu.Unlock()
		h.RequestCancel()
		return nil
	}
	for i, id := range s.readyQueue {
		if id == jobID {
			s.readyQueue = append(s.readyQueue[:i], s.readyQueue[i+1:]...)
			s.mu.Unlock()
			now := s.clock.Now()
			return s.persistWithRetry(ctx, jobID, map[string]interface{}{
				"status":       models.JobCancelled,
				"cancelled_at": now,
			})
		}
	}
	s.mu.Unlock()
	return nil
}

// Pause is only valid while the job is processing; it raises pause_signal
// and marks the row paused.
func (s *Scheduler) Pause(ctx context.Context, jobID string) error {
	s.mu.Lock()
	h, ok := s.inflight[jobID]
	s.mu.Unlock()
	if !ok {
		return ErrJobNotInflight
	}
	h.RequestPause()
	return s.persistWithRetry(ctx, jobID, map[string]interface{}{"status": models.JobPaused})
}

// Resume clears pause_signal and marks the row processing again.
func (s *Scheduler) Resume(ctx context.Context, jobID string) error {
	s.mu.Lock()
	h, ok := s.inflight[jobID]
	s.mu.Unlock()
	if !ok {
		return ErrJobNotInflight
	}
	h.RequestResume()
	return s.persistWithRetry(ctx, jobID, map[string]interface{}{"status": models.JobProcessing})
}

// Reconfigure updates max_concurrent_jobs. Shrinking never preempts running
// jobs; it only reduces future admissions until inflight count drops below
// the new target.
func (s *Scheduler) Reconfigure(n int) {
	if n < 1 {
		n = 1
	}
	if n > hardCeiling {
		n = hardCeiling
	}
	atomic.StoreInt64(&s.target, int64(n))
	s.wake()
}

// AnyPaused reports whether any inflight job is currently paused, the
// condition under which the Scheduler refuses new admissions for engines
// that cannot cooperatively suspend mid-call.
func (s *Scheduler) AnyPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.inflight {
		if h.Paused() {
			return true
		}
	}
	return false
}

// Stats is the operator-facing snapshot backing GET /api/v1/admin/queue/stats.
type Stats struct {
	QueueDepth    int `json:"queue_depth"`
	InflightCount int `json:"inflight_count"`
	Target        int `json:"max_concurrent_jobs"`
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		QueueDepth:    len(s.readyQueue),
		InflightCount: int(atomic.LoadInt64(&s.inflightCount)),
		Target:        int(atomic.LoadInt64(&s.target)),
	}
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) admissionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wakeCh:
		case <-ticker.C:
		}
		s.tryAdmit()
	}
}

// tryAdmit implements the admission loop pseudocode: while the ready queue
// is non-empty, a permit is free, and no inflight job is paused, pop and
// admit.
func (s *Scheduler) tryAdmit() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if s.AnyPaused() {
			return
		}

		s.mu.Lock()
		if len(s.readyQueue) == 0 || atomic.LoadInt64(&s.inflightCount) >= atomic.LoadInt64(&s.target) {
			s.mu.Unlock()
			return
		}
		jobID := s.readyQueue[0]
		s.readyQueue = s.readyQueue[1:]
		s.mu.Unlock()

		if err := s.sem.Acquire(context.Background(), 1); err != nil {
			logger.Error("Scheduler failed to acquire semaphore", "error", err)
			return
		}
		atomic.AddInt64(&s.inflightCount, 1)
		s.admitOne(jobID)
	}
}

func (s *Scheduler) admitOne(jobID string) {
	ctx := context.Background()

	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil || job.Status != models.JobQueued {
		s.sem.Release(1)
		atomic.AddInt64(&s.inflightCount, -1)
		return
	}

	now := s.clock.Now()
	if err := s.persistWithRetry(ctx, jobID, map[string]interface{}{
		"status":             models.JobProcessing,
		"started_at":         now,
		"last_heartbeat_at":  now,
	}); err != nil {
		logger.Error("Scheduler could not admit job, leaving for Resume Manager", "job_id", jobID, "error", err)
		s.sem.Release(1)
		atomic.AddInt64(&s.inflightCount, -1)
		return
	}

	handle, workerCtx := newWorkerHandle(context.Background(), jobID, now)
	s.mu.Lock()
	s.inflight[jobID] = handle
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runWorker(workerCtx, jobID, handle)
}

// runWorker executes the job via the Runner behind a recover() boundary, so
// a panicking worker transitions its job to failed instead of crashing the
// pool.
func (s *Scheduler) runWorker(ctx context.Context, jobID string, handle *WorkerHandle) {
	defer s.wg.Done()
	wid := int(atomic.AddInt64(&s.workerSeq, 1))
	logger.WorkerOperation(wid, jobID, "admitted")
	defer func() {
		s.mu.Lock()
		delete(s.inflight, jobID)
		s.mu.Unlock()
		s.sem.Release(1)
		atomic.AddInt64(&s.inflightCount, -1)
		logger.WorkerOperation(wid, jobID, "released")
		s.wake()
	}()

	runErr := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("worker panic: %v", rec)
			}
		}()
		return s.runner.Run(ctx, jobID, handle)
	}()

	if runErr == nil {
		return
	}

	logger.Error("Job worker returned error", "job_id", jobID, "error", runErr)
	msg := truncateError(runErr, 2048)
	_ = s.persistWithRetry(context.Background(), jobID, map[string]interface{}{
		"status":        models.JobFailed,
		"error_message": msg,
		"failed_at":     s.clock.Now(),
	})
}

func truncateError(err error, max int) string {
	s := err.Error()
	if len(s) > max {
		return s[:max]
	}
	return s
}

// persistWithRetry retries a status-transition write with exponential
// backoff; a write that still fails leaves the row for the Resume Manager
// to recover on the next startup.
func (s *Scheduler) persistWithRetry(ctx context.Context, jobID string, patch map[string]interface{}) error {
	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt < s.persistRetryMax; attempt++ {
		if err := s.jobs.UpdateRaw(ctx, jobID, patch); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return fmt.Errorf("persist failed after %d attempts: %w", s.persistRetryMax, lastErr)
}
