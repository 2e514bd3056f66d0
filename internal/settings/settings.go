// Package settings is the Settings Gateway: a read-through cache of the
// singleton Settings row with a change-notification fanout, consumed by
// the Scheduler (max_concurrent_jobs), the Capability Resolver
// (enable_empty_weights), and the Executor (transcode_to_wav, defaults).
package settings

import (
	"context"
	"fmt"
	"sync"

	"selenite/internal/models"
	"selenite/internal/repository"
)

// Gateway caches the Settings row in memory and notifies subscribers after
// each successful write commits.
type Gateway struct {
	repo repository.SettingsRepository

	mu  sync.RWMutex
	cur models.Settings

	subMu sync.Mutex
	subs  []chan models.Settings
}

// New loads the current settings row and returns a ready Gateway.
func New(ctx context.Context, repo repository.SettingsRepository) (*Gateway, error) {
	s, err := repo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return &Gateway{repo: repo, cur: *s}, nil
}

// Current returns a copy of the cached settings row.
func (g *Gateway) Current() models.Settings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cur
}

// EnableEmptyWeights implements capability.SettingsSource.
func (g *Gateway) EnableEmptyWeights() bool {
	return g.Current().EnableEmptyWeights
}

// Update persists a full settings row through the Persistence Gateway, then
// refreshes the cache and fans out a notification.
func (g *Gateway) Update(ctx context.Context, next models.Settings) error {
	if err := g.repo.Update(ctx, &next); err != nil {
		return fmt.Errorf("failed to persist settings: %w", err)
	}
	g.mu.Lock()
	g.cur = next
	g.mu.Unlock()
	g.notify(next)
	return nil
}

// Subscribe returns a channel that receives every future settings update.
// The channel is buffered; slow consumers miss intermediate states but
// always see the latest.
func (g *Gateway) Subscribe() <-chan models.Settings {
	ch := make(chan models.Settings, 1)
	g.subMu.Lock()
	g.subs = append(g.subs, ch)
	g.subMu.Unlock()
	return ch
}

func (g *Gateway) notify(s models.Settings) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	for _, ch := range g.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}
