package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"selenite/internal/models"
)

// ErrConcurrentUpdate is returned by JobRepository.UpdateWithCAS when the
// row's updated_at no longer matches the caller's expectation.
var ErrConcurrentUpdate = errors.New("concurrent update")

// JobRepository handles Job persistence. It offers an optimistic-concurrency
// update (UpdateWithCAS), but the Scheduler, Executor, Resume Manager and
// Progress Tracker write status transitions and progress through UpdateRaw,
// without the updated_at check.
type JobRepository interface {
	Repository[models.Job]
	ListByStatus(ctx context.Context, statuses []models.JobStatus) ([]models.Job, error)
	ListByStatusOrderedByCreation(ctx context.Context, statuses []models.JobStatus) ([]models.Job, error)
	UpdateWithCAS(ctx context.Context, jobID string, expectedUpdatedAt time.Time, patch map[string]interface{}) error
	// UpdateRaw applies patch unconditionally; it is the write path for
	// status transitions as well as percent/heartbeat updates.
	UpdateRaw(ctx context.Context, jobID string, patch map[string]interface{}) error
}

type jobRepository struct {
	*BaseRepository[models.Job]
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{
		BaseRepository: NewBaseRepository[models.Job](db),
		db:             db,
	}
}

func (r *jobRepository) ListByStatus(ctx context.Context, statuses []models.JobStatus) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).Where("status IN ?", statuses).Find(&jobs).Error
	return jobs, err
}

func (r *jobRepository) ListByStatusOrderedByCreation(ctx context.Context, statuses []models.JobStatus) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).Where("status IN ?", statuses).Order("created_at asc").Find(&jobs).Error
	return jobs, err
}

// UpdateWithCAS applies patch to the job row only if its current updated_at
// still equals expectedUpdatedAt, a per-row optimistic concurrency check
// (the worker and the Scheduler are the only steady-state writers of a
// given row).
func (r *jobRepository) UpdateWithCAS(ctx context.Context, jobID string, expectedUpdatedAt time.Time, patch map[string]interface{}) error {
	tx := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND updated_at = ?", jobID, expectedUpdatedAt).
		Updates(patch)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

func (r *jobRepository) UpdateRaw(ctx context.Context, jobID string, patch map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", jobID).Updates(patch).Error
}

// TranscriptRepository handles Transcript persistence.
type TranscriptRepository interface {
	Create(ctx context.Context, t *models.Transcript) error
	FindByJobID(ctx context.Context, jobID string) (*models.Transcript, error)
	Update(ctx context.Context, t *models.Transcript) error
	DeleteByJobID(ctx context.Context, jobID string) error
}

type transcriptRepository struct {
	db *gorm.DB
}

func NewTranscriptRepository(db *gorm.DB) TranscriptRepository {
	return &transcriptRepository{db: db}
}

func (r *transcriptRepository) Create(ctx context.Context, t *models.Transcript) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *transcriptRepository) FindByJobID(ctx context.Context, jobID string) (*models.Transcript, error) {
	var t models.Transcript
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transcriptRepository) Update(ctx context.Context, t *models.Transcript) error {
	return r.db.WithContext(ctx).Save(t).Error
}

func (r *transcriptRepository) DeleteByJobID(ctx context.Context, jobID string) error {
	return r.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&models.Transcript{}).Error
}

// ModelSetRepository handles ModelSet persistence.
type ModelSetRepository interface {
	Repository[models.ModelSet]
	FindByKindAndName(ctx context.Context, kind models.ModelKind, name string) (*models.ModelSet, error)
	ListByKind(ctx context.Context, kind models.ModelKind) ([]models.ModelSet, error)
}

type modelSetRepository struct {
	*BaseRepository[models.ModelSet]
	db *gorm.DB
}

func NewModelSetRepository(db *gorm.DB) ModelSetRepository {
	return &modelSetRepository{BaseRepository: NewBaseRepository[models.ModelSet](db), db: db}
}

func (r *modelSetRepository) FindByKindAndName(ctx context.Context, kind models.ModelKind, name string) (*models.ModelSet, error) {
	var set models.ModelSet
	err := r.db.WithContext(ctx).Preload("Weights").Where("kind = ? AND name = ?", kind, name).First(&set).Error
	if err != nil {
		return nil, err
	}
	return &set, nil
}

func (r *modelSetRepository) ListByKind(ctx context.Context, kind models.ModelKind) ([]models.ModelSet, error) {
	var sets []models.ModelSet
	err := r.db.WithContext(ctx).Preload("Weights").Where("kind = ?", kind).Find(&sets).Error
	return sets, err
}

// ModelWeightRepository handles ModelWeight persistence.
type ModelWeightRepository interface {
	Repository[models.ModelWeight]
	FindBySetAndName(ctx context.Context, setID, name string) (*models.ModelWeight, error)
	ListBySet(ctx context.Context, setID string) ([]models.ModelWeight, error)
}

type modelWeightRepository struct {
	*BaseRepository[models.ModelWeight]
	db *gorm.DB
}

func NewModelWeightRepository(db *gorm.DB) ModelWeightRepository {
	return &modelWeightRepository{BaseRepository: NewBaseRepository[models.ModelWeight](db), db: db}
}

func (r *modelWeightRepository) FindBySetAndName(ctx context.Context, setID, name string) (*models.ModelWeight, error) {
	var w models.ModelWeight
	err := r.db.WithContext(ctx).Where("set_id = ? AND name = ?", setID, name).First(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *modelWeightRepository) ListBySet(ctx context.Context, setID string) ([]models.ModelWeight, error) {
	var weights []models.ModelWeight
	err := r.db.WithContext(ctx).Where("set_id = ?", setID).Find(&weights).Error
	return weights, err
}

// SettingsRepository handles the singleton Settings row.
type SettingsRepository interface {
	Get(ctx context.Context) (*models.Settings, error)
	Update(ctx context.Context, s *models.Settings) error
}

type settingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) Get(ctx context.Context) (*models.Settings, error) {
	var s models.Settings
	err := r.db.WithContext(ctx).FirstOrCreate(&s, models.Settings{ID: models.SettingsRowID}).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *settingsRepository) Update(ctx context.Context, s *models.Settings) error {
	s.ID = models.SettingsRowID
	return r.db.WithContext(ctx).Save(s).Error
}
