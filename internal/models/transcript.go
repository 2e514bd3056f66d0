package models

import "time"

// Segment is an ASR-produced interval with text and an optional speaker
// label assigned by the merge algorithm.
type Segment struct {
	ID       int     `json:"id"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
	Speaker  *string `json:"speaker,omitempty"`
}

// SpeakerLabel is a canonical diarizer label with an optional human-assigned
// display name, set by the speaker-rename endpoint.
type SpeakerLabel struct {
	Label string  `json:"label"`
	Name  *string `json:"name,omitempty"`
}

// Transcript is the 1:1 artifact produced by the Executor's finalize stage.
type Transcript struct {
	JobID     string      `json:"job_id" gorm:"primaryKey;type:varchar(36)"`
	Text      string      `json:"text" gorm:"type:text"`
	Segments  Segments    `json:"segments" gorm:"type:text"`
	Speakers  SpeakerList `json:"speakers" gorm:"type:text"`
	Language  string      `json:"language" gorm:"type:varchar(10)"`
	Duration  float64     `json:"duration"`
	CreatedAt time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}
