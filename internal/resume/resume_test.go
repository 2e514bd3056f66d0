package resume_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selenite/internal/clock"
	"selenite/internal/models"
	"selenite/internal/queue"
	"selenite/internal/resume"
	"selenite/internal/testutil"
)

// noopRunner completes every job instantly, used where the scheduler must
// be real but its job outcomes are irrelevant to the assertion.
type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, jobID string, handle *queue.WorkerHandle) error {
	return nil
}

func TestReconcile_ResetsProcessingJobToQueuedWithStageFloor(t *testing.T) {
	h := testutil.NewHarness(t)

	job := &models.Job{Status: models.JobProcessing, ProgressStage: "transcribing", ProgressPercent: 42}
	require.NoError(t, h.Jobs.Create(context.Background(), job))

	mgr := resume.New(h.Jobs, h.FS, clock.Real)
	sched := queue.New(h.Jobs, clock.Real, noopRunner{}, 1, 3)
	require.NoError(t, mgr.Reconcile(context.Background(), sched))

	got, err := h.Jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, got.Status)
	assert.Equal(t, 10, got.ProgressPercent, "transcribing's stage floor is 10")
	assert.Nil(t, got.StartedAt)
	require.Len(t, got.Notes, 1)
	assert.Contains(t, got.Notes[0], "resumed after restart")
}

func TestReconcile_UnknownStageFloorsToZero(t *testing.T) {
	h := testutil.NewHarness(t)

	job := &models.Job{Status: models.JobProcessing, ProgressStage: "", ProgressPercent: 5}
	require.NoError(t, h.Jobs.Create(context.Background(), job))

	mgr := resume.New(h.Jobs, h.FS, clock.Real)
	sched := queue.New(h.Jobs, clock.Real, noopRunner{}, 1, 3)
	require.NoError(t, mgr.Reconcile(context.Background(), sched))

	got, err := h.Jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ProgressPercent)
}

func TestReconcile_DeletesStaleTranscriptForProcessingJob(t *testing.T) {
	h := testutil.NewHarness(t)

	path, err := h.FS.WriteTranscript("stale-job", nil, nil, "en", 1)
	require.NoError(t, err)

	job := &models.Job{ID: "stale-job", Status: models.JobProcessing, ProgressStage: "merging", TranscriptPath: &path}
	require.NoError(t, h.Jobs.Create(context.Background(), job))

	mgr := resume.New(h.Jobs, h.FS, clock.Real)
	sched := queue.New(h.Jobs, clock.Real, noopRunner{}, 1, 3)
	require.NoError(t, mgr.Reconcile(context.Background(), sched))

	_, _, _, _, err = h.FS.ReadTranscript("stale-job")
	assert.Error(t, err, "stale transcript must be removed on resume")
}

func TestReconcile_QueuedJobsReenqueuedInCreationOrder(t *testing.T) {
	h := testutil.NewHarness(t)

	var mu sync.Mutex
	var order []string
	release := make(chan struct{})
	runner := &orderRecordingRunner{onRun: func(jobID string) {
		mu.Lock()
		order = append(order, jobID)
		mu.Unlock()
	}, release: release}

	first := &models.Job{Status: models.JobQueued}
	require.NoError(t, h.Jobs.Create(context.Background(), first))
	time.Sleep(5 * time.Millisecond)
	second := &models.Job{Status: models.JobQueued}
	require.NoError(t, h.Jobs.Create(context.Background(), second))

	mgr := resume.New(h.Jobs, h.FS, clock.Real)
	sched := queue.New(h.Jobs, clock.Real, runner, 1, 3)
	sched.Start()
	defer func() { close(release); sched.Stop(2 * time.Second) }()

	require.NoError(t, mgr.Reconcile(context.Background(), sched))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) >= 1
	}, time.Second, 10*time.Millisecond)
	release <- struct{}{}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) >= 2
	}, time.Second, 10*time.Millisecond)
	release <- struct{}{}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, first.ID, order[0])
	assert.Equal(t, second.ID, order[1])
}

func TestReconcile_IsIdempotent(t *testing.T) {
	h := testutil.NewHarness(t)

	job := &models.Job{Status: models.JobQueued}
	require.NoError(t, h.Jobs.Create(context.Background(), job))

	mgr := resume.New(h.Jobs, h.FS, clock.Real)
	sched := queue.New(h.Jobs, clock.Real, noopRunner{}, 1, 3)

	require.NoError(t, mgr.Reconcile(context.Background(), sched))
	require.NoError(t, mgr.Reconcile(context.Background(), sched))

	got, err := h.Jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, got.Status)
}

type orderRecordingRunner struct {
	onRun   func(jobID string)
	release chan struct{}
}

func (r *orderRecordingRunner) Run(ctx context.Context, jobID string, handle *queue.WorkerHandle) error {
	r.onRun(jobID)
	<-r.release
	return nil
}
