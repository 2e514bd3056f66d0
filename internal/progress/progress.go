// Package progress is the Progress Tracker: per-job percent/stage/ETA and
// heartbeat reporting, with coalesced persistence and a background stall
// detector.
package progress

import (
	"context"
	"sync"
	"time"

	"selenite/internal/clock"
	"selenite/internal/engine"
	"selenite/internal/repository"
	"selenite/pkg/logger"
)

// jobState tracks the in-memory progress bookkeeping for one inflight job.
type jobState struct {
	mu              sync.Mutex
	lastPersist     time.Time
	lastStage       string
	lastHeartbeat   time.Time
	stageStartedAt  time.Time
	firstPercentAt  *time.Time
	stageLocalRange float64
}

// Tracker persists progress updates for inflight jobs.
type Tracker struct {
	jobs              repository.JobRepository
	clock             clock.Clock
	persistInterval   time.Duration
	heartbeatInterval time.Duration
	stallThreshold    time.Duration
	stallScanInterval time.Duration

	mu     sync.Mutex
	states map[string]*jobState

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Tracker.
func New(jobs repository.JobRepository, c clock.Clock, persistInterval, heartbeatInterval, stallThreshold, stallScanInterval time.Duration) *Tracker {
	return &Tracker{
		jobs:              jobs,
		clock:             c,
		persistInterval:   persistInterval,
		heartbeatInterval: heartbeatInterval,
		stallThreshold:    stallThreshold,
		stallScanInterval: stallScanInterval,
		states:            make(map[string]*jobState),
		stopCh:            make(chan struct{}),
	}
}

// Start launches the background stall detector.
func (t *Tracker) Start() {
	t.wg.Add(1)
	go t.scanLoop()
}

// Stop halts the stall detector.
func (t *Tracker) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

// Begin registers a job as inflight, resetting its progress bookkeeping.
func (t *Tracker) Begin(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[jobID] = &jobState{lastHeartbeat: t.clock.Now()}
}

// End removes a job's in-memory progress state once it reaches a terminal
// state.
func (t *Tracker) End(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, jobID)
}

// Set writes percent/stage for jobID, coalescing persistence per
// PROGRESS_PERSIST_INTERVAL unless the stage changed.
func (t *Tracker) Set(ctx context.Context, jobID string, percent int, stage string) error {
	st := t.stateFor(jobID)
	st.mu.Lock()
	now := t.clock.Now()
	stageChanged := st.lastStage != stage
	shouldPersist := stageChanged || now.Sub(st.lastPersist) >= t.persistInterval
	if stageChanged {
		st.stageStartedAt = now
		st.firstPercentAt = nil
	}
	st.lastStage = stage
	st.lastHeartbeat = now
	st.mu.Unlock()

	if !shouldPersist {
		return nil
	}

	patch := map[string]interface{}{
		"progress_percent":    percent,
		"progress_stage":      stage,
		"last_heartbeat_at":   now,
	}
	st.mu.Lock()
	st.lastPersist = now
	st.mu.Unlock()
	return t.jobs.UpdateRaw(ctx, jobID, patch)
}

// Heartbeat touches last_heartbeat_at without changing percent/stage,
// satisfying the HEARTBEAT_INTERVAL invariant even when an engine reports
// no progress.
func (t *Tracker) Heartbeat(ctx context.Context, jobID string) error {
	st := t.stateFor(jobID)
	st.mu.Lock()
	now := t.clock.Now()
	due := st.lastBeatPersist.IsZero() || now.Sub(st.lastBeatPersist) >= t.heartbeatInterval
	st.lastHeartbeat = now
	if due {
		st.lastBeatPersist = now
	}
	st.mu.Unlock()
	if !due {
		return nil
	}
	return t.jobs.UpdateRaw(ctx, jobID, map[string]interface{}{"last_heartbeat_at": now})
}

func (t *Tracker) stateFor(jobID string) *jobState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[jobID]
	if !ok {
		st = &jobState{lastHeartbeat: t.clock.Now()}
		t.states[jobID] = st
	}
	return st
}

func (t *Tracker) scanLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.stallScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.scanForStalls()
		case <-t.stopCh:
			return
		}
	}
}

func (t *Tracker) scanForStalls() {
	t.mu.Lock()
	jobIDs := make([]string, 0, len(t.states))
	for id := range t.states {
		jobIDs = append(jobIDs, id)
	}
	t.mu.Unlock()

	now := t.clock.Now()
	for _, id := range jobIDs {
		st := t.stateFor(id)
		st.mu.Lock()
		lastHeartbeat := st.lastHeartbeat
		st.mu.Unlock()
		if now.Sub(lastHeartbeat) > t.stallThreshold {
			if err := t.jobs.UpdateRaw(context.Background(), id, map[string]interface{}{"stalled_at": now}); err != nil {
				logger.Warn("Failed to mark job stalled", "job_id", id, "error", err)
				continue
			}
			st.mu.Lock()
			stage := st.lastStage
			st.mu.Unlock()
			logger.JobStalled(id, stage, lastHeartbeat)
		}
	}
}

// Scoped returns a ProgressSink that clamps an engine's 0..100 reports to
// [lo,hi] of the job's overall percent, and feeds ETA computation once the
// first non-zero local percent arrives.
func (t *Tracker) Scoped(ctx context.Context, jobID string, lo, hi int, stage string) engine.ProgressSink {
	st := t.stateFor(jobID)
	localRange := float64(hi - lo)
	return engine.ProgressSinkFunc(func(ev engine.ProgressEvent) {
		st.mu.Lock()
		if st.firstPercentAt == nil && ev.Percent > 0 {
			firstAt := t.clock.Now()
			st.firstPercentAt = &firstAt
			st.stageLocalRange = localRange
		}
		st.mu.Unlock()

		overall := lo + int(ev.Percent/100*localRange)
		if overall > hi {
			overall = hi
		}
		if overall < lo {
			overall = lo
		}
		_ = t.Set(ctx, jobID, overall, stage)
		t.updateETA(ctx, jobID, st, ev.Percent)
	})
}

func (t *Tracker) updateETA(ctx context.Context, jobID string, st *jobState, localPercent float64) {
	st.mu.Lock()
	firstAt := st.firstPercentAt
	stageStarted := st.stageStartedAt
	st.mu.Unlock()
	if firstAt == nil || localPercent <= 0 {
		return
	}
	elapsed := t.clock.Now().Sub(stageStarted).Seconds()
	total := elapsed / (localPercent / 100)
	left := total - elapsed
	if left < 0 {
		left = 0
	}
	_ = t.jobs.UpdateRaw(ctx, jobID, map[string]interface{}{
		"estimated_total_seconds": total,
		"estimated_time_left":     left,
	})
}
