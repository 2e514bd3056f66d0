package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"selenite/internal/models"
	"selenite/internal/queue"
	"selenite/internal/registry"
)

// submitJobRequest is the multipart-form shape accepted by SubmitJob. The
// media file itself travels as the "file" multipart field; unset fields
// fall back to the Settings Gateway's defaults.
type submitJobRequest struct {
	ASRProvider            string `form:"asr_provider"`
	ASRWeight              string `form:"asr_weight"`
	DiarizerProvider       string `form:"diarizer_provider"`
	DiarizerWeight         string `form:"diarizer_weight"`
	Language               string `form:"language"`
	EnableTimestamps       *bool  `form:"enable_timestamps"`
	EnableSpeakerDetection *bool  `form:"enable_speaker_detection"`
	RequestedSpeakerCount  *int   `form:"requested_speaker_count"`
	DisplayName            string `form:"display_name"`
}

// SubmitJob implements submit_job: it saves the uploaded media, resolves
// the requested (or default) engine configuration against the Model
// Registry, persists a queued Job row, and hands it to the Scheduler.
func (h *Handler) SubmitJob(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a media file is required"})
		return
	}

	var req submitJobRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cur := h.settingsGW.Current()
	job := &models.Job{
		OriginalFilename:       fileHeader.Filename,
		DisplayName:            req.DisplayName,
		FileSize:               fileHeader.Size,
		MimeType:               fileHeader.Header.Get("Content-Type"),
		ASRProvider:            firstNonEmpty(req.ASRProvider, cur.DefaultASRProvider),
		ASRWeight:              firstNonEmpty(req.ASRWeight, cur.DefaultASRWeight),
		DiarizerProvider:       firstNonEmpty(req.DiarizerProvider, cur.DefaultDiarizerProvider),
		DiarizerWeight:         firstNonEmpty(req.DiarizerWeight, cur.DefaultDiarizerWeight),
		Language:               firstNonEmpty(req.Language, cur.DefaultLanguage),
		EnableTimestamps:       boolOrDefault(req.EnableTimestamps, cur.DefaultEnableTimestamps),
		EnableSpeakerDetection: boolOrDefault(req.EnableSpeakerDetection, cur.DefaultEnableSpeakerDetection),
		RequestedSpeakerCount:  req.RequestedSpeakerCount,
		Status:                 models.JobQueued,
	}
	if job.DisplayName == "" {
		job.DisplayName = job.OriginalFilename
	}

	// A request is rejected only when neither the requested weight nor any
	// fallback is admissible; an unavailable weight with an available
	// fallback is accepted and resolved again at execution time. Diarizer
	// unavailability never rejects a submission: the executor degrades to a
	// label-free transcript instead.
	if err := h.admissibleASR(c, job, cur.EnableEmptyWeights); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asr configuration: " + registryErrorMessage(err)})
		return
	}

	if err := h.jobs.Create(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read uploaded file"})
		return
	}
	defer src.Close()

	savedPath, err := h.fs.SaveMedia(job.ID, filepath.Ext(fileHeader.Filename), io.Reader(src))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store media: " + err.Error()})
		return
	}
	if err := h.jobs.UpdateRaw(c.Request.Context(), job.ID, map[string]interface{}{"saved_path": savedPath}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record saved path"})
		return
	}

	h.sched.Submit(job.ID)

	c.JSON(http.StatusOK, gin.H{"job_id": job.ID, "status": job.Status, "created_at": job.CreatedAt})
}

// admissibleASR checks that the requested ASR provider/weight resolves, or
// that at least one fallback candidate could serve the job instead. A
// resolved weight with no files on disk counts as unavailable unless
// enable_empty_weights admits it.
func (h *Handler) admissibleASR(c *gin.Context, job *models.Job, enableEmptyWeights bool) error {
	ctx := c.Request.Context()
	resolved, err := h.reg.Resolve(ctx, models.KindASR, job.ASRProvider, job.ASRWeight)
	if err == nil && (resolved.HasWeights || enableEmptyWeights) {
		return nil
	}
	excludeSet := ""
	var uae *registry.UnavailableError
	if errors.As(err, &uae) {
		excludeSet = uae.SetID
	} else if resolved != nil {
		excludeSet = resolved.SetID
	}
	candidates, ferr := h.reg.FallbackCandidates(ctx, models.KindASR, excludeSet, enableEmptyWeights)
	if ferr == nil {
		for _, cand := range candidates {
			if cand.SetID == excludeSet && cand.WeightName == job.ASRWeight {
				continue
			}
			return nil
		}
	}
	if err != nil {
		return err
	}
	return registry.ErrWeightEmpty
}

// GetJobStatus implements get_job_status.
func (h *Handler) GetJobStatus(c *gin.Context) {
	job, err := h.jobs.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs returns a paginated view of the job table for operator
// dashboards.
func (h *Handler) ListJobs(c *gin.Context) {
	offset, limit := paginationParams(c)
	jobs, total, err := h.jobs.List(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": total})
}

// CancelJob implements cancel_job. Cancelling a job already in a terminal
// state is a no-op that reports the current state back.
func (h *Handler) CancelJob(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	job, err := h.jobs.FindByID(ctx, id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if job.IsTerminal() {
		c.JSON(http.StatusOK, gin.H{"status": job.Status})
		return
	}
	if err := h.sched.Cancel(ctx, id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

// PauseJob implements pause_job.
func (h *Handler) PauseJob(c *gin.Context) {
	if err := h.sched.Pause(c.Request.Context(), c.Param("id")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrJobNotInflight) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

// ResumeJob implements resume_job.
func (h *Handler) ResumeJob(c *gin.Context) {
	if err := h.sched.Resume(c.Request.Context(), c.Param("id")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrJobNotInflight) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "processing"})
}

// RestartJob implements restart_job: it copies the immutable requested
// configuration and saved_path into a brand-new queued Job row, leaving the
// original untouched, and submits the new row to the Scheduler.
func (h *Handler) RestartJob(c *gin.Context) {
	ctx := c.Request.Context()
	orig, err := h.jobs.FindByID(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	next := &models.Job{
		OriginalFilename:       orig.OriginalFilename,
		SavedPath:              orig.SavedPath,
		FileSize:               orig.FileSize,
		MimeType:               orig.MimeType,
		DisplayName:            orig.DisplayName,
		ASRProvider:            orig.ASRProvider,
		ASRWeight:              orig.ASRWeight,
		DiarizerProvider:       orig.DiarizerProvider,
		DiarizerWeight:         orig.DiarizerWeight,
		Language:               orig.Language,
		EnableTimestamps:       orig.EnableTimestamps,
		EnableSpeakerDetection: orig.EnableSpeakerDetection,
		RequestedSpeakerCount:  orig.RequestedSpeakerCount,
		Status:                 models.JobQueued,
	}
	if err := h.jobs.Create(ctx, next); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create restarted job"})
		return
	}
	h.sched.Submit(next.ID)
	c.JSON(http.StatusOK, gin.H{"new_job_id": next.ID})
}

// DeleteJob implements delete_job: rejected while processing or paused,
// otherwise removes the DB row, transcript artifact, and media file.
func (h *Handler) DeleteJob(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := h.jobs.FindByID(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if job.Status == models.JobProcessing || job.Status == models.JobPaused {
		c.JSON(http.StatusConflict, gin.H{"error": "cannot delete a job that is processing or paused"})
		return
	}

	if job.TranscriptPath != nil {
		if err := h.fs.DeleteTranscript(job.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete transcript"})
			return
		}
		_ = h.transcripts.DeleteByJobID(ctx, job.ID)
	}
	if job.SavedPath != "" {
		if err := h.fs.DeleteMedia(job.SavedPath); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete media"})
			return
		}
	}
	if err := h.jobs.Delete(ctx, job.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// renameJobRequest is RenameJob's body.
type renameJobRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

// RenameJob implements rename_job: only allowed once the job has reached a
// terminal state.
func (h *Handler) RenameJob(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := h.jobs.FindByID(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if !job.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "job must reach a terminal state before renaming"})
		return
	}
	var req renameJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.jobs.UpdateRaw(ctx, job.ID, map[string]interface{}{"display_name": req.DisplayName}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rename job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"display_name": req.DisplayName})
}

// GetTranscript returns the structured transcript artifact for a completed
// job; format exporters derive their output from this shape.
func (h *Handler) GetTranscript(c *gin.Context) {
	t, err := h.transcripts.FindByJobID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load transcript"})
		return
	}
	c.JSON(http.StatusOK, t)
}

// renameSpeakerRequest is RenameSpeaker's body.
type renameSpeakerRequest struct {
	Label string `json:"label" binding:"required"`
	Name  string `json:"name" binding:"required"`
}

// RenameSpeaker assigns a human-readable name to a diarizer speaker label,
// persisting the whole Transcript row in one write so the Speakers list
// and its Segments never diverge.
func (h *Handler) RenameSpeaker(c *gin.Context) {
	ctx := c.Request.Context()
	t, err := h.transcripts.FindByJobID(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
		return
	}
	var req renameSpeakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	found := false
	for i := range t.Speakers {
		if t.Speakers[i].Label == req.Label {
			name := req.Name
			t.Speakers[i].Name = &name
			found = true
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "speaker label not found"})
		return
	}
	if err := h.transcripts.Update(ctx, t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist speaker rename"})
		return
	}
	c.JSON(http.StatusOK, t)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func boolOrDefault(b *bool, def bool) bool {
	if b != nil {
		return *b
	}
	return def
}

func paginationParams(c *gin.Context) (offset, limit int) {
	limit = 50
	offset = 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return offset, limit
}

func registryErrorMessage(err error) string {
	switch {
	case errors.Is(err, registry.ErrUnknownProvider):
		return "unknown provider"
	case errors.Is(err, registry.ErrUnknownWeight):
		return "unknown weight"
	case errors.Is(err, registry.ErrProviderDisabled):
		return "provider disabled"
	case errors.Is(err, registry.ErrWeightDisabled):
		return "weight disabled"
	default:
		return err.Error()
	}
}
