// Package executor is the Job Executor: single-job orchestration inside a
// worker, driving the loading_model -> transcoding -> transcribing ->
// diarizing -> merging -> finalizing stage pipeline against whichever
// engines the Model Registry resolves, with one-shot fallback when the
// requested weight turns out unavailable.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"selenite/internal/clock"
	"selenite/internal/database"
	"selenite/internal/engine"
	"selenite/internal/models"
	"selenite/internal/progress"
	"selenite/internal/queue"
	"selenite/internal/registry"
	"selenite/internal/repository"
	"selenite/internal/settings"
	"selenite/internal/storage"
	"selenite/pkg/logger"
)

// requestedConfig is the mutable per-attempt view of a job's configuration;
// a fallback retry rewrites asrProvider/asrWeight without mutating the
// original Job row's requested fields.
type requestedConfig struct {
	asrProvider      string
	asrWeight        string
	diarize          bool
	diarProvider     string
	diarWeight       string
	language         string
	enableTimestamps bool
	speakerCount     *int
}

// unavailableErr wraps engine.ErrEngineUnavailable with the ASR set it was
// raised against, so the retry loop can ask FallbackCandidates to exclude it.
type unavailableErr struct {
	setID string
	err   error
}

func (u *unavailableErr) Error() string { return u.err.Error() }
func (u *unavailableErr) Unwrap() error { return u.err }

// resolveSetID extracts the ModelSet a registry.Resolve failure was raised
// against, if any, so the fallback picker can exclude that set first.
func resolveSetID(err error) string {
	var uae *registry.UnavailableError
	if errors.As(err, &uae) {
		return uae.SetID
	}
	return ""
}

// Executor orchestrates one job at a time; the Scheduler owns concurrency
// across jobs.
type Executor struct {
	jobs        repository.JobRepository
	fs          *storage.Gateway
	reg         *registry.Registry
	providers   *engine.ProviderRegistry
	cache       *engine.Cache
	tracker     *progress.Tracker
	settings    *settings.Gateway
	clock       clock.Clock
	loadTimeout time.Duration
}

// New constructs an Executor.
func New(
	jobs repository.JobRepository,
	fs *storage.Gateway,
	reg *registry.Registry,
	providers *engine.ProviderRegistry,
	cache *engine.Cache,
	tracker *progress.Tracker,
	settingsGateway *settings.Gateway,
	c clock.Clock,
	loadTimeout time.Duration,
) *Executor {
	if loadTimeout <= 0 {
		loadTimeout = 300 * time.Second
	}
	return &Executor{
		jobs:        jobs,
		fs:          fs,
		reg:         reg,
		providers:   providers,
		cache:       cache,
		tracker:     tracker,
		settings:    settingsGateway,
		clock:       c,
		loadTimeout: loadTimeout,
	}
}

// Run implements queue.Runner. It is invoked by the Scheduler's worker
// goroutine with a context that is cancelled when handle's cancel_token
// fires.
func (e *Executor) Run(ctx context.Context, jobID string, handle *queue.WorkerHandle) error {
	e.tracker.Begin(jobID)
	defer e.tracker.End(jobID)
	defer e.fs.Cleanup(jobID)

	job, err := e.jobs.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	startedAt := e.clock.Now()
	logger.JobStarted(job.ID, job.OriginalFilename, job.ASRProvider+"/"+job.ASRWeight, map[string]any{
		"language":   job.Language,
		"diarize":    job.EnableSpeakerDetection,
		"timestamps": job.EnableTimestamps,
	})

	req := requestedConfig{
		asrProvider:      job.ASRProvider,
		asrWeight:        job.ASRWeight,
		diarize:          job.EnableSpeakerDetection,
		diarProvider:     job.DiarizerProvider,
		diarWeight:       job.DiarizerWeight,
		language:         job.Language,
		enableTimestamps: job.EnableTimestamps,
		speakerCount:     job.RequestedSpeakerCount,
	}

	fellBack := false
	transientRetries := 0

	for {
		stageErr := e.runOnce(ctx, job, handle, req)
		if stageErr == nil {
			logger.JobCompleted(job.ID, e.clock.Now().Sub(startedAt), nil)
			return nil
		}

		if errors.Is(stageErr, engine.ErrCancelled) || errors.Is(stageErr, context.Canceled) {
			return e.finalizeCancelled(context.Background(), job)
		}

		var unavailable *unavailableErr
		if errors.As(stageErr, &unavailable) && !fellBack {
			if candidate, ok := e.pickFallback(ctx, unavailable.setID, req); ok {
				job.AddNote(fmt.Sprintf("fell back to %s/%s", candidate.Provider, candidate.WeightName))
				logger.JobFallback(job.ID, req.asrProvider, req.asrWeight, candidate.Provider, candidate.WeightName)
				job.FellBackFromWeight = strPtr(req.asrProvider + "/" + req.asrWeight)
				req.asrProvider = candidate.Provider
				req.asrWeight = candidate.WeightName
				fellBack = true
				continue
			}
			return e.finalizeFailed(context.Background(), job, startedAt, stageErr)
		}

		if errors.Is(stageErr, engine.ErrEngineTransient) && transientRetries < 1 {
			transientRetries++
			job.TransientRetries++
			continue
		}

		return e.finalizeFailed(context.Background(), job, startedAt, stageErr)
	}
}

func (e *Executor) pickFallback(ctx context.Context, excludeSetID string, req requestedConfig) (registry.ResolvedWeight, bool) {
	s := e.settings.Current()
	candidates, err := e.reg.FallbackCandidates(ctx, models.KindASR, excludeSetID, s.EnableEmptyWeights)
	if err != nil {
		return registry.ResolvedWeight{}, false
	}
	for _, c := range candidates {
		if c.SetID == excludeSetID && c.WeightName == req.asrWeight {
			continue
		}
		return c, true
	}
	return registry.ResolvedWeight{}, false
}

// runOnce executes the full stage pipeline once for the current req.
// Diarizer unavailability degrades gracefully within this call rather than
// propagating to the fallback/retry loop.
func (e *Executor) runOnce(ctx context.Context, job *models.Job, handle *queue.WorkerHandle, req requestedConfig) error {
	if cancelled(handle) {
		return engine.ErrCancelled
	}

	s := e.settings.Current()

	asrResolved, err := e.reg.Resolve(ctx, models.KindASR, req.asrProvider, req.asrWeight)
	if err != nil {
		return &unavailableErr{setID: resolveSetID(err), err: fmt.Errorf("%w: %v", engine.ErrEngineUnavailable, err)}
	}
	asrEng, ok := e.providers.ASR(asrResolved.Provider)
	if !ok {
		return &unavailableErr{setID: asrResolved.SetID, err: fmt.Errorf("%w: no engine implementation registered for %s", engine.ErrEngineUnavailable, asrResolved.Provider)}
	}

	_ = e.tracker.Set(ctx, job.ID, 0, "loading_model")
	loadCtx, cancel := context.WithTimeout(ctx, e.loadTimeout)
	asrSession, releaseASR, err := e.cache.GetOrLoadASR(loadCtx, asrResolved.Provider, asrEng, asrResolved.AbsPath, nil)
	timedOut := errors.Is(loadCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if timedOut {
			return fmt.Errorf("%w: asr load timed out after %s", engine.ErrEngineTransient, e.loadTimeout)
		}
		return &unavailableErr{setID: asrResolved.SetID, err: err}
	}
	defer releaseASR()

	diarize := req.diarize
	var diarSession engine.DiarizerSession
	var diarResolved *registry.ResolvedWeight
	if diarize {
		var releaseDiar func()
		diarSession, releaseDiar, diarResolved = e.loadDiarizer(ctx, job, req, s)
		diarize = diarSession != nil
		if releaseDiar != nil {
			defer releaseDiar()
		}
	}

	_ = e.tracker.Set(ctx, job.ID, 5, "loading_model")

	if cancelled(handle) {
		return engine.ErrCancelled
	}

	mediaPath, err := e.fs.StageMedia(job.SavedPath)
	if err != nil {
		return fmt.Errorf("stage media: %w", err)
	}
	if s.TranscodeToWav {
		mediaPath, err = e.fs.EnsureWav(job.ID, mediaPath)
		if err != nil {
			return fmt.Errorf("transcode to wav: %w", err)
		}
	}
	_ = e.tracker.Set(ctx, job.ID, 10, "transcoding")

	if cancelled(handle) {
		return engine.ErrCancelled
	}
	if err := handle.WaitWhilePaused(ctx); err != nil {
		return engine.ErrCancelled
	}

	draft, err := asrSession.Transcribe(ctx, mediaPath, engine.TranscribeOptions{
		Language:         req.language,
		EnableTimestamps: req.enableTimestamps,
		ProgressSink:     e.tracker.Scoped(ctx, job.ID, 10, 70, "transcribing"),
		CancelToken:      handle.CancelToken(),
	})
	if err != nil {
		return err
	}
	_ = e.tracker.Set(ctx, job.ID, 70, "transcribing_done")

	var turns []engine.SpeakerTurn
	if diarize {
		if err := handle.WaitWhilePaused(ctx); err != nil {
			return engine.ErrCancelled
		}
		turns, err = diarSession.Diarize(ctx, mediaPath, engine.DiarizeOptions{
			RequestedSpeakerCount: req.speakerCount,
			ProgressSink:          e.tracker.Scoped(ctx, job.ID, 70, 90, "diarizing"),
			CancelToken:           handle.CancelToken(),
		})
		if err != nil {
			if errors.Is(err, engine.ErrCancelled) {
				return err
			}
			job.AddNote("diarization failed: " + err.Error())
			diarize = false
			turns = nil
		}
	}
	_ = e.tracker.Set(ctx, job.ID, 90, "diarizing_done")

	segments, speakers := merge(draft.Segments, turns)

	transcriptPath, err := e.fs.WriteTranscript(job.ID, segments, speakers, draft.LanguageDetected, draft.DurationSeconds)
	if err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}

	return e.commit(ctx, job, segments, speakers, draft, req, asrResolved, diarResolved, diarize, transcriptPath)
}

func (e *Executor) loadDiarizer(ctx context.Context, job *models.Job, req requestedConfig, s models.Settings) (engine.DiarizerSession, func(), *registry.ResolvedWeight) {
	resolved, err := e.reg.Resolve(ctx, models.KindDiarizer, req.diarProvider, req.diarWeight)
	if err != nil {
		job.AddNote("diarization unavailable: " + err.Error())
		return nil, nil, nil
	}
	diarEng, ok := e.providers.DiarizerByName(resolved.Provider)
	if !ok {
		job.AddNote("diarization unavailable: no engine implementation registered for " + resolved.Provider)
		return nil, nil, nil
	}
	loadCtx, cancel := context.WithTimeout(ctx, e.loadTimeout)
	defer cancel()
	sess, release, err := e.cache.GetOrLoadDiarizer(loadCtx, resolved.Provider, diarEng, resolved.AbsPath, nil)
	if err != nil {
		job.AddNote("diarization unavailable: " + err.Error())
		return nil, nil, nil
	}
	return sess, release, resolved
}

// commit persists the Transcript row and the terminal Job fields inside a
// single database transaction, matching the pseudocode's
// `persistence.transaction()` block.
func (e *Executor) commit(
	ctx context.Context,
	job *models.Job,
	segments models.Segments,
	speakers models.SpeakerList,
	draft *engine.TranscriptDraft,
	req requestedConfig,
	asrResolved *registry.ResolvedWeight,
	diarResolved *registry.ResolvedWeight,
	diarized bool,
	transcriptPath string,
) error {
	now := e.clock.Now()
	text := joinText(segments)

	transcript := &models.Transcript{
		JobID:    job.ID,
		Text:     text,
		Segments: segments,
		Speakers: speakers,
		Language: draft.LanguageDetected,
		Duration: draft.DurationSeconds,
	}

	var diarizerUsed, diarizerProviderUsed *string
	if diarized && diarResolved != nil {
		diarizerUsed = strPtr(diarResolved.WeightName)
		diarizerProviderUsed = strPtr(diarResolved.Provider)
	}

	patch := map[string]interface{}{
		"status":                 models.JobCompleted,
		"progress_percent":       100,
		"progress_stage":         "completed",
		"completed_at":           now,
		"language_detected":      draft.LanguageDetected,
		"speaker_count":          len(speakers),
		"has_timestamps":         req.enableTimestamps && len(segments) > 0,
		"has_speaker_labels":     diarized && len(speakers) > 0,
		"transcript_path":        transcriptPath,
		"model_used":             asrResolved.WeightName,
		"asr_provider_used":      asrResolved.Provider,
		"diarizer_used":          diarizerUsed,
		"diarizer_provider_used": diarizerProviderUsed,
		"notes":                  job.Notes,
		"transient_retries":      job.TransientRetries,
		"fell_back_from_weight":  job.FellBackFromWeight,
	}

	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(transcript).Error; err != nil {
			return err
		}
		return tx.Model(&models.Job{}).Where("id = ?", job.ID).Updates(patch).Error
	})
	if err != nil {
		return fmt.Errorf("finalize transaction: %w", err)
	}
	return nil
}

func (e *Executor) finalizeFailed(ctx context.Context, job *models.Job, startedAt time.Time, cause error) error {
	msg := cause.Error()
	if len(msg) > 2048 {
		msg = msg[:2048]
	}
	logger.JobFailed(job.ID, e.clock.Now().Sub(startedAt), cause)
	return e.jobs.UpdateRaw(ctx, job.ID, map[string]interface{}{
		"status":        models.JobFailed,
		"error_message": msg,
		"failed_at":     e.clock.Now(),
		"notes":         job.Notes,
	})
}

// finalizeCancelled deletes any partially-written transcript file and marks
// the row cancelled. Cancellation observed after FINALIZING has already
// committed is not reachable here: commit returning nil short-circuits the
// retry loop before this is ever called.
func (e *Executor) finalizeCancelled(ctx context.Context, job *models.Job) error {
	_ = e.fs.DeleteTranscript(job.ID)
	logger.JobCancelled(job.ID, job.ProgressStage)
	return e.jobs.UpdateRaw(ctx, job.ID, map[string]interface{}{
		"status":       models.JobCancelled,
		"cancelled_at": e.clock.Now(),
	})
}

func cancelled(handle *queue.WorkerHandle) bool {
	select {
	case <-handle.CancelToken():
		return true
	default:
		return false
	}
}

func strPtr(s string) *string { return &s }
