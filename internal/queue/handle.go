package queue

import (
	"context"
	"sync"
	"time"
)

// WorkerHandle is the Scheduler's view of one inflight job, handed to the
// Runner so it can observe cancellation and pause requests at its
// checkpoints.
type WorkerHandle struct {
	JobID     string
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	pauseMu sync.Mutex
	pauseCh chan struct{} // non-nil while paused; closed on resume
}

func newWorkerHandle(ctx context.Context, jobID string, startedAt time.Time) (*WorkerHandle, context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	return &WorkerHandle{JobID: jobID, StartedAt: startedAt, ctx: workerCtx, cancel: cancel}, workerCtx
}

// CancelToken is closed once Cancel has been requested for this job.
func (h *WorkerHandle) CancelToken() <-chan struct{} {
	return h.ctx.Done()
}

// RequestCancel fires the cancel token.
func (h *WorkerHandle) RequestCancel() {
	h.cancel()
}

// RequestPause raises pause_signal. A no-op if already paused.
func (h *WorkerHandle) RequestPause() {
	h.pauseMu.Lock()
	defer h.pauseMu.Unlock()
	if h.pauseCh == nil {
		h.pauseCh = make(chan struct{})
	}
}

// RequestResume clears pause_signal, releasing anything blocked on
// WaitWhilePaused.
func (h *WorkerHandle) RequestResume() {
	h.pauseMu.Lock()
	defer h.pauseMu.Unlock()
	if h.pauseCh != nil {
		close(h.pauseCh)
		h.pauseCh = nil
	}
}

// Paused reports whether a pause is currently in effect.
func (h *WorkerHandle) Paused() bool {
	h.pauseMu.Lock()
	defer h.pauseMu.Unlock()
	return h.pauseCh != nil
}

// WaitWhilePaused blocks at a checkpoint while paused is in effect, until
// either resume is called or the job is cancelled. An engine that cannot
// suspend mid-call never calls this; the Scheduler compensates by refusing
// new admissions while any job is paused (see admissionLoop).
func (h *WorkerHandle) WaitWhilePaused(ctx context.Context) error {
	for {
		h.pauseMu.Lock()
		ch := h.pauseCh
		h.pauseMu.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
