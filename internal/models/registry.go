package models

import (
	"time"

	"gorm.io/gorm"

	"selenite/internal/clock"
)

// ModelKind distinguishes an ASR provider family from a diarizer family.
type ModelKind string

const (
	KindASR      ModelKind = "asr"
	KindDiarizer ModelKind = "diarizer"
)

// ModelSet is a logical provider: an engine family with a directory of
// weights underneath it.
type ModelSet struct {
	ID            string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Kind          ModelKind      `json:"kind" gorm:"type:varchar(10);not null;uniqueIndex:idx_modelset_kind_name"`
	Name          string         `json:"name" gorm:"type:varchar(100);not null;uniqueIndex:idx_modelset_kind_name"`
	AbsPath       string         `json:"abs_path" gorm:"type:text;not null"`
	Description   *string        `json:"description,omitempty" gorm:"type:text"`
	Enabled       bool           `json:"enabled" gorm:"default:true"`
	DisableReason *string        `json:"disable_reason,omitempty" gorm:"type:text"`
	CreatedAt     time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	Weights       []ModelWeight  `json:"weights,omitempty" gorm:"foreignKey:SetID"`
}

func (m *ModelSet) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = clock.NewID()
	}
	return nil
}

// ModelWeight is a concrete weight under a ModelSet.
type ModelWeight struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SetID         string    `json:"set_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_weight_set_name"`
	Name          string    `json:"name" gorm:"type:varchar(100);not null;uniqueIndex:idx_weight_set_name"`
	AbsPath       string    `json:"abs_path" gorm:"type:text;not null"`
	Checksum      *string   `json:"checksum,omitempty" gorm:"type:varchar(64)"`
	Enabled       bool      `json:"enabled" gorm:"default:true"`
	DisableReason *string   `json:"disable_reason,omitempty" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (w *ModelWeight) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = clock.NewID()
	}
	return nil
}
