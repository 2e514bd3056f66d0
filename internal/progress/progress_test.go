package progress_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selenite/internal/clock"
	"selenite/internal/engine"
	"selenite/internal/models"
	"selenite/internal/progress"
	"selenite/internal/testutil"
)

func mkJob(t *testing.T, h *testutil.Harness) string {
	t.Helper()
	job := &models.Job{Status: models.JobProcessing}
	require.NoError(t, h.Jobs.Create(context.Background(), job))
	return job.ID
}

func TestSet_PersistsOnStageChange(t *testing.T) {
	h := testutil.NewHarness(t)
	fc := clock.NewFake(time.Now())
	tr := progress.New(h.Jobs, fc, time.Minute, time.Minute, time.Hour, time.Hour)

	id := mkJob(t, h)
	tr.Begin(id)

	require.NoError(t, tr.Set(context.Background(), id, 10, "transcoding"))

	job, err := h.Jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 10, job.ProgressPercent)
	assert.Equal(t, "transcoding", job.ProgressStage)
}

func TestSet_CoalescesWithinPersistInterval(t *testing.T) {
	h := testutil.NewHarness(t)
	fc := clock.NewFake(time.Now())
	tr := progress.New(h.Jobs, fc, time.Minute, time.Minute, time.Hour, time.Hour)

	id := mkJob(t, h)
	tr.Begin(id)

	require.NoError(t, tr.Set(context.Background(), id, 10, "transcoding"))
	require.NoError(t, tr.Set(context.Background(), id, 20, "transcoding"))

	job, err := h.Jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 10, job.ProgressPercent, "second Set within the persist interval and same stage must not persist")

	fc.Advance(2 * time.Minute)
	require.NoError(t, tr.Set(context.Background(), id, 30, "transcoding"))
	job, err = h.Jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 30, job.ProgressPercent, "once the persist interval elapses the next Set must persist")
}

func TestSet_StageChangeAlwaysPersists(t *testing.T) {
	h := testutil.NewHarness(t)
	fc := clock.NewFake(time.Now())
	tr := progress.New(h.Jobs, fc, time.Minute, time.Minute, time.Hour, time.Hour)

	id := mkJob(t, h)
	tr.Begin(id)

	require.NoError(t, tr.Set(context.Background(), id, 10, "transcoding"))
	require.NoError(t, tr.Set(context.Background(), id, 0, "transcribing"))

	job, err := h.Jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "transcribing", job.ProgressStage)
	assert.Equal(t, 0, job.ProgressPercent)
}

func TestHeartbeat_RespectsInterval(t *testing.T) {
	h := testutil.NewHarness(t)
	fc := clock.NewFake(time.Now())
	tr := progress.New(h.Jobs, fc, time.Minute, 30*time.Second, time.Hour, time.Hour)

	id := mkJob(t, h)
	tr.Begin(id)

	require.NoError(t, tr.Heartbeat(context.Background(), id))
	job, err := h.Jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job.LastHeartbeatAt)
	firstBeat := *job.LastHeartbeatAt

	fc.Advance(5 * time.Second)
	require.NoError(t, tr.Heartbeat(context.Background(), id))
	job, err = h.Jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, job.LastHeartbeatAt.Equal(firstBeat), "heartbeat before the interval elapses must not persist again")

	fc.Advance(31 * time.Second)
	require.NoError(t, tr.Heartbeat(context.Background(), id))
	job, err = h.Jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, job.LastHeartbeatAt.After(firstBeat))
}

func TestScanForStalls_MarksStalledAfterThreshold(t *testing.T) {
	h := testutil.NewHarness(t)
	fc := clock.NewFake(time.Now())
	tr := progress.New(h.Jobs, fc, time.Minute, time.Minute, 10*time.Second, 5*time.Millisecond)

	id := mkJob(t, h)
	tr.Begin(id)

	tr.Start()
	defer tr.Stop()

	fc.Advance(11 * time.Second)

	require.Eventually(t, func() bool {
		job, err := h.Jobs.FindByID(context.Background(), id)
		require.NoError(t, err)
		return job.StalledAt != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScoped_ClampsToRangeAndComputesETA(t *testing.T) {
	h := testutil.NewHarness(t)
	fc := clock.NewFake(time.Now())
	tr := progress.New(h.Jobs, fc, 0, time.Minute, time.Hour, time.Hour)

	id := mkJob(t, h)
	tr.Begin(id)

	sink := tr.Scoped(context.Background(), id, 20, 60, "transcribing")
	sink.Report(engine.ProgressEvent{Percent: 0, Stage: "transcribing"})

	job, err := h.Jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 20, job.ProgressPercent)

	fc.Advance(10 * time.Second)
	sink.Report(engine.ProgressEvent{Percent: 50, Stage: "transcribing"})

	job, err = h.Jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 40, job.ProgressPercent, "50% local within [20,60] must map to 40")
	require.NotNil(t, job.EstimatedTotalSeconds)
	require.NotNil(t, job.EstimatedTimeLeft)

	sink.Report(engine.ProgressEvent{Percent: 150, Stage: "transcribing"})
	job, err = h.Jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 60, job.ProgressPercent, "overall percent must clamp at hi even if the engine over-reports")
}

func TestEnd_RemovesInMemoryState(t *testing.T) {
	h := testutil.NewHarness(t)
	fc := clock.NewFake(time.Now())
	tr := progress.New(h.Jobs, fc, time.Minute, time.Minute, time.Hour, time.Hour)

	id := mkJob(t, h)
	tr.Begin(id)
	require.NoError(t, tr.Set(context.Background(), id, 10, "transcoding"))
	tr.End(id)

	// After End, state is recreated fresh on next use with no previous stage,
	// so a Set repeating "transcoding" within the persist interval still
	// persists; the removed state would have coalesced it away.
	require.NoError(t, tr.Set(context.Background(), id, 99, "transcoding"))
	job, err := h.Jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 99, job.ProgressPercent)
}
