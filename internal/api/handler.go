// Package api is the thin HTTP surface over the job execution subsystem:
// a Handler struct of dependencies plus one method per route, wired by
// SetupRoutes.
package api

import (
	"selenite/internal/capability"
	"selenite/internal/queue"
	"selenite/internal/registry"
	"selenite/internal/repository"
	"selenite/internal/settings"
	"selenite/internal/storage"
)

// Handler bundles every dependency a route needs. There is no
// authentication layer here: owner-gating is left to the embedding
// deployment's reverse proxy.
type Handler struct {
	jobs        repository.JobRepository
	transcripts repository.TranscriptRepository
	fs          *storage.Gateway
	reg         *registry.Registry
	resolver    *capability.Resolver
	sched       *queue.Scheduler
	settingsGW  *settings.Gateway
}

// NewHandler constructs a Handler.
func NewHandler(
	jobs repository.JobRepository,
	transcripts repository.TranscriptRepository,
	fs *storage.Gateway,
	reg *registry.Registry,
	resolver *capability.Resolver,
	sched *queue.Scheduler,
	settingsGW *settings.Gateway,
) *Handler {
	return &Handler{
		jobs:        jobs,
		transcripts: transcripts,
		fs:          fs,
		reg:         reg,
		resolver:    resolver,
		sched:       sched,
		settingsGW:  settingsGW,
	}
}
