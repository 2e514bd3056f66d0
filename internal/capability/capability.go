// Package capability is the Capability Resolver: it probes registered
// providers/weights and produces a cached AvailabilityReport consumed by
// the HTTP layer for the operator-facing availability view. The Executor's
// fallback decisions do not consult it; they go through
// registry.FallbackCandidates.
package capability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"selenite/internal/engine"
	"selenite/internal/models"
	"selenite/internal/registry"
)

// ASREntry is one provider's availability summary.
type ASREntry struct {
	Provider  string   `json:"provider"`
	Available bool     `json:"available"`
	Models    []string `json:"models"`
	Notes     []string `json:"notes"`
}

// DiarizerEntry is one weight's availability summary.
type DiarizerEntry struct {
	Key         string   `json:"key"`
	Provider    string   `json:"provider"`
	RequiresGPU bool     `json:"requires_gpu"`
	Available   bool     `json:"available"`
	Notes       []string `json:"notes"`
}

// AvailabilityReport is the resolver's output.
type AvailabilityReport struct {
	ASR       []ASREntry      `json:"asr"`
	Diarizers []DiarizerEntry `json:"diarizers"`
}

// SettingsSource supplies the enable_empty_weights knob without coupling the
// resolver directly to the Settings Gateway.
type SettingsSource interface {
	EnableEmptyWeights() bool
}

// Resolver caches an AvailabilityReport for CAPABILITY_CACHE_TTL.
type Resolver struct {
	reg       *registry.Registry
	providers *engine.ProviderRegistry
	settings  SettingsSource
	ttl       time.Duration

	mu       sync.Mutex
	cached   *AvailabilityReport
	cachedAt time.Time
}

// New constructs a Resolver.
func New(reg *registry.Registry, providers *engine.ProviderRegistry, settings SettingsSource, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Resolver{reg: reg, providers: providers, settings: settings, ttl: ttl}
}

// Refresh invalidates the cache unconditionally.
func (r *Resolver) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
}

// Report returns the cached AvailabilityReport, recomputing it if the TTL
// has elapsed or no report has been computed yet.
func (r *Resolver) Report(ctx context.Context) (*AvailabilityReport, error) {
	r.mu.Lock()
	if r.cached != nil && time.Since(r.cachedAt) < r.ttl {
		cached := r.cached
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	report, err := r.compute(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cached = report
	r.cachedAt = time.Now()
	r.mu.Unlock()
	return report, nil
}

func (r *Resolver) compute(ctx context.Context) (*AvailabilityReport, error) {
	asrSets, err := r.reg.List(ctx, models.KindASR)
	if err != nil {
		return nil, fmt.Errorf("failed to list asr sets: %w", err)
	}
	diarSets, err := r.reg.List(ctx, models.KindDiarizer)
	if err != nil {
		return nil, fmt.Errorf("failed to list diarizer sets: %w", err)
	}

	asrEntries := make([]ASREntry, len(asrSets))
	diarEntries := make([][]DiarizerEntry, len(diarSets))

	g, gctx := errgroup.WithContext(ctx)
	for i, set := range asrSets {
		i, set := i, set
		g.Go(func() error {
			asrEntries[i] = r.probeASRSet(gctx, set)
			return nil
		})
	}
	for i, set := range diarSets {
		i, set := i, set
		g.Go(func() error {
			diarEntries[i] = r.probeDiarizerSet(gctx, set)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var flatDiar []DiarizerEntry
	for _, entries := range diarEntries {
		flatDiar = append(flatDiar, entries...)
	}

	return &AvailabilityReport{ASR: asrEntries, Diarizers: flatDiar}, nil
}

func (r *Resolver) probeASRSet(ctx context.Context, set models.ModelSet) ASREntry {
	entry := ASREntry{Provider: set.Name}
	if !set.Enabled {
		entry.Notes = append(entry.Notes, "provider disabled")
		return entry
	}
	eng, ok := r.providers.ASR(set.Name)
	if !ok {
		entry.Notes = append(entry.Notes, "no engine implementation registered")
		return entry
	}
	for _, w := range set.Weights {
		if !w.Enabled {
			continue
		}
		available, notes := r.probeWeight(ctx, w.AbsPath, func(path string) engine.ProbeResult {
			return eng.Probe(ctx, path)
		})
		if available {
			entry.Models = append(entry.Models, w.Name)
			entry.Available = true
		}
		entry.Notes = append(entry.Notes, notes...)
	}
	return entry
}

func (r *Resolver) probeDiarizerSet(ctx context.Context, set models.ModelSet) []DiarizerEntry {
	var entries []DiarizerEntry
	for _, w := range set.Weights {
		entry := DiarizerEntry{Key: set.Name + "/" + w.Name, Provider: set.Name}
		if !set.Enabled || !w.Enabled {
			entry.Notes = append(entry.Notes, "disabled")
			entries = append(entries, entry)
			continue
		}
		d, ok := r.providers.DiarizerByName(set.Name)
		if !ok {
			entry.Notes = append(entry.Notes, "no engine implementation registered")
			entries = append(entries, entry)
			continue
		}
		available, notes := r.probeWeight(ctx, w.AbsPath, func(path string) engine.ProbeResult {
			res := d.Probe(ctx, path)
			entry.RequiresGPU = res.RequiresGPU
			return res
		})
		entry.Available = available
		entry.Notes = append(entry.Notes, notes...)
		entries = append(entries, entry)
	}
	return entries
}

// probeWeight checks the weight's files on disk, applies the
// enable_empty_weights gate, and invokes the engine's cheap probe hook. A
// panicking probe marks the entry unavailable with the panic text as a
// note instead of crashing the resolver.
func (r *Resolver) probeWeight(ctx context.Context, absPath string, probe func(string) engine.ProbeResult) (available bool, notes []string) {
	defer func() {
		if rec := recover(); rec != nil {
			available = false
			notes = append(notes, fmt.Sprintf("probe panicked: %v", rec))
		}
	}()

	if !registry.HasWeights(absPath) {
		if r.settings != nil && !r.settings.EnableEmptyWeights() {
			return false, []string{"pending files"}
		}
	}
	result := probe(absPath)
	if !result.OK {
		return false, result.Notes
	}
	return true, result.Notes
}
