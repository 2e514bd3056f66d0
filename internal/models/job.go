package models

import (
	"time"

	"gorm.io/gorm"

	"selenite/internal/clock"
)

// JobStatus is the terminal/non-terminal state of a Job. Transitions follow
// the fixed DAG: queued -> processing -> {completed, failed, cancelled},
// with paused reachable only from processing.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobPaused     JobStatus = "paused"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Job is the unit of work tracked end to end by the executor subsystem.
type Job struct {
	ID string `json:"id" gorm:"primaryKey;type:varchar(36)"`

	UserID           string `json:"user_id" gorm:"type:varchar(36);index"`
	OriginalFilename string `json:"original_filename" gorm:"type:text;not null"`
	SavedPath        string `json:"saved_path" gorm:"type:text;not null"`
	FileSize         int64  `json:"file_size"`
	MimeType         string `json:"mime_type" gorm:"type:varchar(100)"`
	DisplayName      string `json:"display_name" gorm:"type:text"`

	// Requested configuration, immutable once the job is created.
	ASRProvider            string `json:"asr_provider" gorm:"type:varchar(100)"`
	ASRWeight              string `json:"asr_weight" gorm:"type:varchar(100)"`
	DiarizerProvider       string `json:"diarizer_provider" gorm:"type:varchar(100)"`
	DiarizerWeight         string `json:"diarizer_weight" gorm:"type:varchar(100)"`
	Language               string `json:"language" gorm:"type:varchar(10);default:'auto'"`
	EnableTimestamps       bool   `json:"enable_timestamps" gorm:"default:true"`
	EnableSpeakerDetection bool   `json:"enable_speaker_detection"`
	RequestedSpeakerCount  *int   `json:"requested_speaker_count,omitempty"`

	// Runtime state.
	Status                JobStatus  `json:"status" gorm:"type:varchar(20);not null;default:'queued';index"`
	ProgressPercent       int        `json:"progress_percent"`
	ProgressStage         string     `json:"progress_stage" gorm:"type:varchar(30)"`
	EstimatedTotalSeconds *float64   `json:"estimated_total_seconds,omitempty"`
	EstimatedTimeLeft     *float64   `json:"estimated_time_left,omitempty"`
	ErrorMessage          *string    `json:"error_message,omitempty" gorm:"type:text"`
	StalledAt             *time.Time `json:"stalled_at,omitempty"`
	Notes                 StringList `json:"notes" gorm:"type:text"`
	TransientRetries      int        `json:"-"`
	FellBackFromWeight    *string    `json:"-"`

	// Outcome.
	LanguageDetected     *string `json:"language_detected,omitempty"`
	SpeakerCount         int     `json:"speaker_count"`
	HasTimestamps        bool    `json:"has_timestamps"`
	HasSpeakerLabels     bool    `json:"has_speaker_labels"`
	ModelUsed            *string `json:"model_used,omitempty"`
	ASRProviderUsed      *string `json:"asr_provider_used,omitempty"`
	DiarizerUsed         *string `json:"diarizer_used,omitempty"`
	DiarizerProviderUsed *string `json:"diarizer_provider_used,omitempty"`
	TranscriptPath       *string `json:"transcript_path,omitempty"`

	CreatedAt       time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	FailedAt        *time.Time `json:"failed_at,omitempty"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
}

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = clock.NewID()
	}
	return nil
}

// AddNote appends an operator-visible note (fallback, resume, degradation)
// distinct from ErrorMessage.
func (j *Job) AddNote(note string) {
	j.Notes = append(j.Notes, note)
}

// IsTerminal reports whether the job has reached a state the Scheduler will
// never transition out of.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}
