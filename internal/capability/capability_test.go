package capability_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selenite/internal/capability"
	"selenite/internal/engine"
	"selenite/internal/engine/stub"
	"selenite/internal/models"
	"selenite/internal/registry"
	"selenite/internal/testutil"
)

type fixedSettings struct{ emptyOK bool }

func (f fixedSettings) EnableEmptyWeights() bool { return f.emptyOK }

func TestReport_AvailableWeightSurfacesAsAvailable(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := registry.New(h.ModelsRoot, h.Sets, h.Weights)
	providers := engine.NewProviderRegistry()
	providers.RegisterASR("whisper", &stub.ASR{})

	ctx := context.Background()
	set, err := reg.CreateSet(ctx, models.KindASR, "whisper", filepath.Join(h.ModelsRoot, "whisper"), nil)
	require.NoError(t, err)
	path := h.WriteWeightFile(t, h.ModelsRoot, "whisper/tiny")
	_, err = reg.CreateWeight(ctx, set.ID, "tiny", path)
	require.NoError(t, err)

	resolver := capability.New(reg, providers, fixedSettings{emptyOK: false}, time.Minute)
	report, err := resolver.Report(ctx)
	require.NoError(t, err)
	require.Len(t, report.ASR, 1)
	assert.True(t, report.ASR[0].Available)
	assert.Contains(t, report.ASR[0].Models, "tiny")
}

func TestReport_EmptyWeightPendingUnlessEnabled(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := registry.New(h.ModelsRoot, h.Sets, h.Weights)
	providers := engine.NewProviderRegistry()
	providers.RegisterASR("whisper", &stub.ASR{})

	ctx := context.Background()
	set, err := reg.CreateSet(ctx, models.KindASR, "whisper", filepath.Join(h.ModelsRoot, "whisper"), nil)
	require.NoError(t, err)
	emptyDir := filepath.Join(h.ModelsRoot, "whisper", "pending")
	require.NoError(t, mkdirAll(emptyDir))
	_, err = reg.CreateWeight(ctx, set.ID, "pending", emptyDir)
	require.NoError(t, err)

	resolver := capability.New(reg, providers, fixedSettings{emptyOK: false}, time.Minute)
	report, err := resolver.Report(ctx)
	require.NoError(t, err)
	require.Len(t, report.ASR, 1)
	assert.False(t, report.ASR[0].Available)
	assert.Contains(t, report.ASR[0].Notes, "pending files")
}

func TestReport_DisabledSetNotProbed(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := registry.New(h.ModelsRoot, h.Sets, h.Weights)
	providers := engine.NewProviderRegistry()
	providers.RegisterASR("whisper", &stub.ASR{})

	ctx := context.Background()
	set, err := reg.CreateSet(ctx, models.KindASR, "whisper", filepath.Join(h.ModelsRoot, "whisper"), nil)
	require.NoError(t, err)
	path := h.WriteWeightFile(t, h.ModelsRoot, "whisper/tiny")
	_, err = reg.CreateWeight(ctx, set.ID, "tiny", path)
	require.NoError(t, err)
	reason := "maintenance"
	require.NoError(t, reg.UpdateSet(ctx, set.ID, registry.UpdateSetOpts{Enabled: boolPtr(false), DisableReason: &reason}))

	resolver := capability.New(reg, providers, fixedSettings{}, time.Minute)
	report, err := resolver.Report(ctx)
	require.NoError(t, err)
	require.Len(t, report.ASR, 1)
	assert.False(t, report.ASR[0].Available)
	assert.Contains(t, report.ASR[0].Notes, "provider disabled")
}

func TestReport_NoEngineRegisteredIsNoted(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := registry.New(h.ModelsRoot, h.Sets, h.Weights)
	providers := engine.NewProviderRegistry()

	ctx := context.Background()
	_, err := reg.CreateSet(ctx, models.KindASR, "vosk", filepath.Join(h.ModelsRoot, "vosk"), nil)
	require.NoError(t, err)

	resolver := capability.New(reg, providers, fixedSettings{}, time.Minute)
	report, err := resolver.Report(ctx)
	require.NoError(t, err)
	require.Len(t, report.ASR, 1)
	assert.False(t, report.ASR[0].Available)
	assert.Contains(t, report.ASR[0].Notes, "no engine implementation registered")
}

// panicProbeEngine panics from Probe to exercise the resolver's recovery path.
type panicProbeEngine struct{}

func (panicProbeEngine) Probe(ctx context.Context, weightPath string) engine.ProbeResult {
	panic("probe exploded")
}

func (panicProbeEngine) Load(ctx context.Context, weightPath string, opts engine.LoadOptions) (engine.ASRSession, error) {
	return nil, nil
}

func TestReport_PanickingProbeIsRecovered(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := registry.New(h.ModelsRoot, h.Sets, h.Weights)
	providers := engine.NewProviderRegistry()
	providers.RegisterASR("whisper", panicProbeEngine{})

	ctx := context.Background()
	set, err := reg.CreateSet(ctx, models.KindASR, "whisper", filepath.Join(h.ModelsRoot, "whisper"), nil)
	require.NoError(t, err)
	path := h.WriteWeightFile(t, h.ModelsRoot, "whisper/tiny")
	_, err = reg.CreateWeight(ctx, set.ID, "tiny", path)
	require.NoError(t, err)

	resolver := capability.New(reg, providers, fixedSettings{}, time.Minute)
	report, err := resolver.Report(ctx)
	require.NoError(t, err, "a panicking probe must not fail the whole report")
	require.Len(t, report.ASR, 1)
	assert.False(t, report.ASR[0].Available)
	assert.Contains(t, report.ASR[0].Notes[0], "probe panicked")
}

func TestReport_CachedWithinTTL(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := registry.New(h.ModelsRoot, h.Sets, h.Weights)
	providers := engine.NewProviderRegistry()
	providers.RegisterASR("whisper", &stub.ASR{})

	ctx := context.Background()
	set, err := reg.CreateSet(ctx, models.KindASR, "whisper", filepath.Join(h.ModelsRoot, "whisper"), nil)
	require.NoError(t, err)
	path := h.WriteWeightFile(t, h.ModelsRoot, "whisper/tiny")
	_, err = reg.CreateWeight(ctx, set.ID, "tiny", path)
	require.NoError(t, err)

	resolver := capability.New(reg, providers, fixedSettings{}, time.Hour)
	first, err := resolver.Report(ctx)
	require.NoError(t, err)

	reason := "disabled after first report"
	require.NoError(t, reg.UpdateSet(ctx, set.ID, registry.UpdateSetOpts{Enabled: boolPtr(false), DisableReason: &reason}))

	second, err := resolver.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second, "within TTL the cached report must be reused")
}

func TestRefresh_InvalidatesCacheImmediately(t *testing.T) {
	h := testutil.NewHarness(t)
	reg := registry.New(h.ModelsRoot, h.Sets, h.Weights)
	providers := engine.NewProviderRegistry()
	providers.RegisterASR("whisper", &stub.ASR{})

	ctx := context.Background()
	set, err := reg.CreateSet(ctx, models.KindASR, "whisper", filepath.Join(h.ModelsRoot, "whisper"), nil)
	require.NoError(t, err)
	path := h.WriteWeightFile(t, h.ModelsRoot, "whisper/tiny")
	_, err = reg.CreateWeight(ctx, set.ID, "tiny", path)
	require.NoError(t, err)

	resolver := capability.New(reg, providers, fixedSettings{}, time.Hour)
	_, err = resolver.Report(ctx)
	require.NoError(t, err)

	reason := "disabled"
	require.NoError(t, reg.UpdateSet(ctx, set.ID, registry.UpdateSetOpts{Enabled: boolPtr(false), DisableReason: &reason}))
	resolver.Refresh()

	report, err := resolver.Report(ctx)
	require.NoError(t, err)
	assert.False(t, report.ASR[0].Available)
	assert.Contains(t, report.ASR[0].Notes, "provider disabled")
}

func boolPtr(b bool) *bool { return &b }

func mkdirAll(dir string) error {
	return os.MkdirAll(dir, 0755)
}
