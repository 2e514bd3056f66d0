package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selenite/internal/models"
	"selenite/internal/registry"
	"selenite/internal/testutil"
)

func newRegistry(h *testutil.Harness) *registry.Registry {
	return registry.New(h.ModelsRoot, h.Sets, h.Weights)
}

func TestCreateSet_DuplicateNameRejected(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := newRegistry(h)
	ctx := context.Background()

	_, err := reg.CreateSet(ctx, models.KindASR, "whisper", filepath.Join(h.ModelsRoot, "whisper"), nil)
	require.NoError(t, err)

	_, err = reg.CreateSet(ctx, models.KindASR, "whisper", filepath.Join(h.ModelsRoot, "whisper2"), nil)
	assert.ErrorIs(t, err, registry.ErrDuplicateName)
}

func TestCreateSet_DifferentKindSameNameAllowed(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := newRegistry(h)
	ctx := context.Background()

	_, err := reg.CreateSet(ctx, models.KindASR, "shared", filepath.Join(h.ModelsRoot, "a"), nil)
	require.NoError(t, err)
	_, err = reg.CreateSet(ctx, models.KindDiarizer, "shared", filepath.Join(h.ModelsRoot, "b"), nil)
	assert.NoError(t, err)
}

func TestCreateSet_PathEscapingRootRejected(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := newRegistry(h)

	_, err := reg.CreateSet(context.Background(), models.KindASR, "evil", filepath.Join(h.ModelsRoot, "..", "..", "etc"), nil)
	assert.ErrorIs(t, err, registry.ErrInvalidPath)
}

func TestCreateWeight_DuplicateNameRejected(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := newRegistry(h)
	ctx := context.Background()

	set, err := reg.CreateSet(ctx, models.KindASR, "whisper", filepath.Join(h.ModelsRoot, "whisper"), nil)
	require.NoError(t, err)

	path := h.WriteWeightFile(t, h.ModelsRoot, "whisper/tiny")
	_, err = reg.CreateWeight(ctx, set.ID, "tiny", path)
	require.NoError(t, err)

	_, err = reg.CreateWeight(ctx, set.ID, "tiny", path)
	assert.ErrorIs(t, err, registry.ErrDuplicateName)
}

func TestCreateWeight_UnknownSetRejected(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := newRegistry(h)

	path := h.WriteWeightFile(t, h.ModelsRoot, "x/y")
	_, err := reg.CreateWeight(context.Background(), "does-not-exist", "y", path)
	assert.ErrorIs(t, err, registry.ErrSetNotFound)
}

func TestResolve_UnknownProviderAndWeight(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := newRegistry(h)
	ctx := context.Background()

	_, err := reg.Resolve(ctx, models.KindASR, "nope", "tiny")
	assert.ErrorIs(t, err, registry.ErrUnknownProvider)

	set, err := reg.CreateSet(ctx, models.KindASR, "whisper", filepath.Join(h.ModelsRoot, "whisper"), nil)
	require.NoError(t, err)
	path := h.WriteWeightFile(t, h.ModelsRoot, "whisper/tiny")
	_, err = reg.CreateWeight(ctx, set.ID, "tiny", path)
	require.NoError(t, err)

	_, err = reg.Resolve(ctx, models.KindASR, "whisper", "missing")
	assert.ErrorIs(t, err, registry.ErrUnknownWeight)
}

func TestResolve_DisabledProviderAndWeight(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := newRegistry(h)
	ctx := context.Background()

	set, err := reg.CreateSet(ctx, models.KindASR, "whisper", filepath.Join(h.ModelsRoot, "whisper"), nil)
	require.NoError(t, err)
	path := h.WriteWeightFile(t, h.ModelsRoot, "whisper/tiny")
	weight, err := reg.CreateWeight(ctx, set.ID, "tiny", path)
	require.NoError(t, err)

	reason := "gpu required"
	require.NoError(t, reg.UpdateWeight(ctx, weight.ID, registry.UpdateWeightOpts{Enabled: falsePtr(), DisableReason: &reason}))
	_, err = reg.Resolve(ctx, models.KindASR, "whisper", "tiny")
	assert.ErrorIs(t, err, registry.ErrWeightDisabled)

	require.NoError(t, reg.UpdateWeight(ctx, weight.ID, registry.UpdateWeightOpts{Enabled: truePtr()}))
	require.NoError(t, reg.UpdateSet(ctx, set.ID, registry.UpdateSetOpts{Enabled: falsePtr(), DisableReason: &reason}))
	_, err = reg.Resolve(ctx, models.KindASR, "whisper", "tiny")
	assert.ErrorIs(t, err, registry.ErrProviderDisabled)
}

func TestUpdate_DisablingRequiresReason(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := newRegistry(h)
	ctx := context.Background()

	set, err := reg.CreateSet(ctx, models.KindASR, "whisper", filepath.Join(h.ModelsRoot, "whisper"), nil)
	require.NoError(t, err)

	err = reg.UpdateSet(ctx, set.ID, registry.UpdateSetOpts{Enabled: falsePtr()})
	assert.ErrorIs(t, err, registry.ErrDisableReasonRequired)
}

func TestFallbackCandidates_SameSetPreferredFirst(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := newRegistry(h)
	ctx := context.Background()

	setA, err := reg.CreateSet(ctx, models.KindASR, "whisper", filepath.Join(h.ModelsRoot, "whisper"), nil)
	require.NoError(t, err)
	pathTiny := h.WriteWeightFile(t, h.ModelsRoot, "whisper/tiny")
	_, err = reg.CreateWeight(ctx, setA.ID, "tiny", pathTiny)
	require.NoError(t, err)
	pathBase := h.WriteWeightFile(t, h.ModelsRoot, "whisper/base")
	_, err = reg.CreateWeight(ctx, setA.ID, "base", pathBase)
	require.NoError(t, err)

	setB, err := reg.CreateSet(ctx, models.KindASR, "vosk", filepath.Join(h.ModelsRoot, "vosk"), nil)
	require.NoError(t, err)
	pathVosk := h.WriteWeightFile(t, h.ModelsRoot, "vosk/small")
	_, err = reg.CreateWeight(ctx, setB.ID, "small", pathVosk)
	require.NoError(t, err)

	candidates, err := reg.FallbackCandidates(ctx, models.KindASR, setA.ID, true)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, setA.ID, candidates[0].SetID)
	assert.Equal(t, setA.ID, candidates[1].SetID)
	assert.Equal(t, setB.ID, candidates[2].SetID)
}

func TestFallbackCandidates_ExcludesDisabledAndEmptyWeights(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := newRegistry(h)
	ctx := context.Background()

	set, err := reg.CreateSet(ctx, models.KindASR, "whisper", filepath.Join(h.ModelsRoot, "whisper"), nil)
	require.NoError(t, err)

	emptyDir := filepath.Join(h.ModelsRoot, "whisper", "empty")
	require.NoError(t, mkdirAll(emptyDir))
	_, err = reg.CreateWeight(ctx, set.ID, "empty", emptyDir)
	require.NoError(t, err)

	retiredPath := h.WriteWeightFile(t, h.ModelsRoot, "whisper/retired")
	retired, err := reg.CreateWeight(ctx, set.ID, "retired", retiredPath)
	require.NoError(t, err)
	reason := "retired"
	require.NoError(t, reg.UpdateWeight(ctx, retired.ID, registry.UpdateWeightOpts{Enabled: falsePtr(), DisableReason: &reason}))

	candidates, err := reg.FallbackCandidates(ctx, models.KindASR, "", false)
	require.NoError(t, err)
	assert.Empty(t, candidates, "disabled and empty weights must be excluded when enable_empty_weights is false")

	candidates, err = reg.FallbackCandidates(ctx, models.KindASR, "", true)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "empty", candidates[0].WeightName, "the disabled weight stays excluded when empty weights are admitted")
}

func TestHasWeights(t *testing.T) {
	h := testutil.NewHarness(t)

	nonExistent := filepath.Join(h.ModelsRoot, "missing")
	assert.False(t, registry.HasWeights(nonExistent))

	filled := h.WriteWeightFile(t, h.ModelsRoot, "present/weight.bin")
	assert.True(t, registry.HasWeights(filled))

	emptyDir := filepath.Join(h.ModelsRoot, "emptydir")
	require.NoError(t, mkdirAll(emptyDir))
	assert.False(t, registry.HasWeights(emptyDir))
}

func falsePtr() *bool { b := false; return &b }
func truePtr() *bool   { b := true; return &b }

func mkdirAll(dir string) error {
	return os.MkdirAll(dir, 0755)
}
