package settings_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selenite/internal/models"
	"selenite/internal/settings"
	"selenite/internal/testutil"
)

func TestNew_LoadsExistingRow(t *testing.T) {
	h := testutil.NewHarness(t)
	gw, err := settings.New(context.Background(), h.SettingsR)
	require.NoError(t, err)
	assert.Equal(t, models.SettingsRowID, gw.Current().ID)
}

func TestUpdate_PersistsAndRefreshesCache(t *testing.T) {
	h := testutil.NewHarness(t)
	gw, err := settings.New(context.Background(), h.SettingsR)
	require.NoError(t, err)

	next := gw.Current()
	next.MaxConcurrentJobs = 7
	next.EnableEmptyWeights = true
	require.NoError(t, gw.Update(context.Background(), next))

	assert.Equal(t, 7, gw.Current().MaxConcurrentJobs)
	assert.True(t, gw.EnableEmptyWeights())

	reloaded, err := h.SettingsR.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, reloaded.MaxConcurrentJobs)
}

func TestSubscribe_ReceivesSubsequentUpdates(t *testing.T) {
	h := testutil.NewHarness(t)
	gw, err := settings.New(context.Background(), h.SettingsR)
	require.NoError(t, err)

	ch := gw.Subscribe()

	next := gw.Current()
	next.MaxConcurrentJobs = 3
	require.NoError(t, gw.Update(context.Background(), next))

	select {
	case got := <-ch:
		assert.Equal(t, 3, got.MaxConcurrentJobs)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the update")
	}
}

func TestSubscribe_SlowConsumerSeesLatestNotIntermediate(t *testing.T) {
	h := testutil.NewHarness(t)
	gw, err := settings.New(context.Background(), h.SettingsR)
	require.NoError(t, err)

	ch := gw.Subscribe()

	first := gw.Current()
	first.MaxConcurrentJobs = 1
	require.NoError(t, gw.Update(context.Background(), first))

	second := gw.Current()
	second.MaxConcurrentJobs = 2
	require.NoError(t, gw.Update(context.Background(), second))

	select {
	case got := <-ch:
		assert.Equal(t, 2, got.MaxConcurrentJobs, "buffered subscriber channel should hold the latest update, not the first")
	case <-time.After(time.Second):
		t.Fatal("subscriber never received an update")
	}
}
