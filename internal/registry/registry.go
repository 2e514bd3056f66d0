// Package registry is the Model Registry: it stores admin-declared
// providers (ModelSet) and weights (ModelWeight) and resolves
// (kind, provider, weight) to an absolute, root-scoped path, honoring
// enabled/disabled toggles and their required disable reasons.
package registry

import (
	"context"
	"fmt"
	"os"

	"selenite/internal/models"
	"selenite/internal/repository"
	"selenite/internal/storage"
)

// ResolvedWeight is the outcome of a successful resolve() call.
type ResolvedWeight struct {
	SetID         string
	Provider      string
	WeightName    string
	AbsPath       string
	HasWeights    bool
	SetEnabled    bool
	WeightEnabled bool
}

// Registry is the Model Registry.
type Registry struct {
	modelsRoot string
	sets       repository.ModelSetRepository
	weights    repository.ModelWeightRepository
}

// New constructs a Registry rooted at modelsRoot.
func New(modelsRoot string, sets repository.ModelSetRepository, weights repository.ModelWeightRepository) *Registry {
	return &Registry{modelsRoot: modelsRoot, sets: sets, weights: weights}
}

// List returns every ModelSet of kind, including its weights.
func (r *Registry) List(ctx context.Context, kind models.ModelKind) ([]models.ModelSet, error) {
	return r.sets.ListByKind(ctx, kind)
}

// CreateSet registers a new provider.
func (r *Registry) CreateSet(ctx context.Context, kind models.ModelKind, name, absPath string, description *string) (*models.ModelSet, error) {
	if _, err := r.sets.FindByKindAndName(ctx, kind, name); err == nil {
		return nil, ErrDuplicateName
	}
	resolved, err := storage.PathUnderRoot(r.modelsRoot, absPath)
	if err != nil {
		return nil, ErrInvalidPath
	}
	set := &models.ModelSet{
		Kind:        kind,
		Name:        name,
		AbsPath:     resolved,
		Description: description,
		Enabled:     true,
	}
	if err := r.sets.Create(ctx, set); err != nil {
		return nil, fmt.Errorf("failed to create model set: %w", err)
	}
	return set, nil
}

// CreateWeight registers a concrete weight under an existing set.
func (r *Registry) CreateWeight(ctx context.Context, setID, name, absPath string) (*models.ModelWeight, error) {
	set, err := r.sets.FindByID(ctx, setID)
	if err != nil {
		return nil, ErrSetNotFound
	}
	if _, err := r.weights.FindBySetAndName(ctx, setID, name); err == nil {
		return nil, ErrDuplicateName
	}
	resolved, err := storage.PathUnderRoot(r.modelsRoot, absPath)
	if err != nil {
		return nil, ErrInvalidPath
	}
	weight := &models.ModelWeight{
		SetID:   set.ID,
		Name:    name,
		AbsPath: resolved,
		Enabled: true,
	}
	if sum, err := Checksum(resolved); err == nil && sum != "" {
		weight.Checksum = &sum
	}
	if err := r.weights.Create(ctx, weight); err != nil {
		return nil, fmt.Errorf("failed to create model weight: %w", err)
	}
	return weight, nil
}

// UpdateSetOpts carries the optional fields accepted by UpdateSet.
type UpdateSetOpts struct {
	Description   *string
	Enabled       *bool
	DisableReason *string
}

// UpdateSet mutates a set's description/enabled/disable_reason. Disabling
// requires a reason; the disabled state cascades effectively to weights
// without modifying their rows.
func (r *Registry) UpdateSet(ctx context.Context, setID string, opts UpdateSetOpts) error {
	set, err := r.sets.FindByID(ctx, setID)
	if err != nil {
		return ErrSetNotFound
	}
	if opts.Description != nil {
		set.Description = opts.Description
	}
	if opts.Enabled != nil {
		if !*opts.Enabled && (opts.DisableReason == nil || *opts.DisableReason == "") {
			return ErrDisableReasonRequired
		}
		set.Enabled = *opts.Enabled
		set.DisableReason = opts.DisableReason
	}
	return r.sets.Update(ctx, set)
}

// UpdateWeightOpts carries the optional fields accepted by UpdateWeight.
type UpdateWeightOpts struct {
	Enabled       *bool
	DisableReason *string
}

// UpdateWeight mutates a weight's enabled/disable_reason.
func (r *Registry) UpdateWeight(ctx context.Context, weightID string, opts UpdateWeightOpts) error {
	weight, err := r.weights.FindByID(ctx, weightID)
	if err != nil {
		return ErrUnknownWeight
	}
	if opts.Enabled != nil {
		if !*opts.Enabled && (opts.DisableReason == nil || *opts.DisableReason == "") {
			return ErrDisableReasonRequired
		}
		weight.Enabled = *opts.Enabled
		weight.DisableReason = opts.DisableReason
	}
	return r.weights.Update(ctx, weight)
}

// Resolve maps (kind, provider, weight) to an absolute path, honoring the
// effective-disabled cascade from set to weight.
func (r *Registry) Resolve(ctx context.Context, kind models.ModelKind, provider, weightName string) (*ResolvedWeight, error) {
	set, err := r.sets.FindByKindAndName(ctx, kind, provider)
	if err != nil {
		return nil, ErrUnknownProvider
	}
	weight, err := r.weights.FindBySetAndName(ctx, set.ID, weightName)
	if err != nil {
		return nil, &UnavailableError{SetID: set.ID, Err: ErrUnknownWeight}
	}
	if !set.Enabled {
		return nil, &UnavailableError{SetID: set.ID, Err: ErrProviderDisabled}
	}
	if !weight.Enabled {
		return nil, &UnavailableError{SetID: set.ID, Err: ErrWeightDisabled}
	}
	return &ResolvedWeight{
		SetID:         set.ID,
		Provider:      set.Name,
		WeightName:    weight.Name,
		AbsPath:       weight.AbsPath,
		HasWeights:    HasWeights(weight.AbsPath),
		SetEnabled:    set.Enabled,
		WeightEnabled: weight.Enabled,
	}, nil
}

// FallbackCandidates returns available (enabled, has-weights-if-required)
// weights for config resolution fallback, ordered: same set first, then
// any other set of the same kind.
func (r *Registry) FallbackCandidates(ctx context.Context, kind models.ModelKind, preferredSetID string, enableEmptyWeights bool) ([]ResolvedWeight, error) {
	sets, err := r.sets.ListByKind(ctx, kind)
	if err != nil {
		return nil, err
	}
	var sameSet, otherSets []ResolvedWeight
	for _, set := range sets {
		if !set.Enabled {
			continue
		}
		for _, w := range set.Weights {
			if !w.Enabled {
				continue
			}
			has := HasWeights(w.AbsPath)
			if !has && !enableEmptyWeights {
				continue
			}
			rw := ResolvedWeight{SetID: set.ID, Provider: set.Name, WeightName: w.Name, AbsPath: w.AbsPath, HasWeights: has, SetEnabled: true, WeightEnabled: true}
			if set.ID == preferredSetID {
				sameSet = append(sameSet, rw)
			} else {
				otherSets = append(otherSets, rw)
			}
		}
	}
	return append(sameSet, otherSets...), nil
}

// HasWeights reports whether abs_path resolves to an existing, non-empty
// file or directory.
func HasWeights(absPath string) bool {
	info, err := os.Stat(absPath)
	if err != nil {
		return false
	}
	if info.IsDir() {
		entries, err := os.ReadDir(absPath)
		return err == nil && len(entries) > 0
	}
	return info.Size() > 0
}
