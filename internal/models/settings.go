package models

import "time"

// Settings is the single admin-scoped settings row, always persisted with
// ID == 1. The Settings Gateway caches it and fans out changes.
type Settings struct {
	ID uint `json:"id" gorm:"primaryKey"`

	DefaultASRProvider            string `json:"default_asr_provider" gorm:"type:varchar(100)"`
	DefaultASRWeight              string `json:"default_asr_weight" gorm:"type:varchar(100)"`
	DefaultDiarizerProvider       string `json:"default_diarizer_provider" gorm:"type:varchar(100)"`
	DefaultDiarizerWeight         string `json:"default_diarizer_weight" gorm:"type:varchar(100)"`
	DefaultLanguage               string `json:"default_language" gorm:"type:varchar(10);default:'auto'"`
	DefaultEnableTimestamps       bool   `json:"default_enable_timestamps" gorm:"default:true"`
	DefaultEnableSpeakerDetection bool   `json:"default_enable_speaker_detection"`

	MaxConcurrentJobs  int  `json:"max_concurrent_jobs" gorm:"default:3"`
	TranscodeToWav     bool `json:"transcode_to_wav" gorm:"default:true"`
	EnableEmptyWeights bool `json:"enable_empty_weights"`

	HeartbeatIntervalSeconds        int `json:"heartbeat_interval_seconds" gorm:"default:5"`
	StallThresholdSeconds           int `json:"stall_threshold_seconds" gorm:"default:120"`
	ProgressPersistIntervalSeconds  int `json:"progress_persist_interval_seconds" gorm:"default:1"`
	EngineLoadTimeoutSeconds        int `json:"engine_load_timeout_seconds" gorm:"default:300"`
	EngineCacheMax                  int `json:"engine_cache_max" gorm:"default:2"`
	CapabilityCacheTTLSeconds       int `json:"capability_cache_ttl_seconds" gorm:"default:30"`
	PersistRetryMax                 int `json:"persist_retry_max" gorm:"default:5"`
	StallScanIntervalSeconds        int `json:"stall_scan_interval_seconds" gorm:"default:15"`
	GracefulShutdownTimeoutSeconds  int `json:"graceful_shutdown_timeout_seconds" gorm:"default:30"`

	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// SettingsRowID is the fixed primary key of the single settings row.
const SettingsRowID uint = 1
