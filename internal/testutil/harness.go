// Package testutil provides the shared test harness the database-backed
// packages' tests build on: an isolated on-disk SQLite database, migrated schema,
// repositories, and a scoped storage root.
package testutil

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"selenite/internal/database"
	"selenite/internal/models"
	"selenite/internal/repository"
	"selenite/internal/storage"
)

// Harness bundles an isolated database and storage root for one test.
type Harness struct {
	DB *gorm.DB

	Jobs        repository.JobRepository
	Transcripts repository.TranscriptRepository
	Sets        repository.ModelSetRepository
	Weights     repository.ModelWeightRepository
	SettingsR   repository.SettingsRepository

	FS          *storage.Gateway
	StorageRoot string
	ModelsRoot  string
}

// NewHarness builds a Harness rooted at a fresh t.TempDir(), migrates the
// schema, and points the package-global database.DB at the new connection
// (internal/executor's transactional commit path writes through it).
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "selenite-test.db")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Job{},
		&models.Transcript{},
		&models.ModelSet{},
		&models.ModelWeight{},
		&models.Settings{},
	))
	require.NoError(t, db.FirstOrCreate(&models.Settings{}, models.Settings{ID: models.SettingsRowID}).Error)

	database.DB = db

	storageRoot := filepath.Join(dir, "storage")
	fs, err := storage.New(storageRoot)
	require.NoError(t, err)

	modelsRoot := filepath.Join(dir, "models")
	require.NoError(t, os.MkdirAll(modelsRoot, 0755))

	return &Harness{
		DB:          db,
		Jobs:        repository.NewJobRepository(db),
		Transcripts: repository.NewTranscriptRepository(db),
		Sets:        repository.NewModelSetRepository(db),
		Weights:     repository.NewModelWeightRepository(db),
		SettingsR:   repository.NewSettingsRepository(db),
		FS:          fs,
		StorageRoot: storageRoot,
		ModelsRoot:  modelsRoot,
	}
}

// PutSettings overwrites the singleton settings row.
func (h *Harness) PutSettings(t *testing.T, s models.Settings) {
	t.Helper()
	s.ID = models.SettingsRowID
	require.NoError(t, h.SettingsR.Update(context.Background(), &s))
}

// WriteWeightFile creates a non-empty file under dir/name, returning its
// absolute path, used to satisfy registry.HasWeights for enabled weights.
func (h *Harness) WriteWeightFile(t *testing.T, dir, name string) string {
	t.Helper()
	full := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte("weight-bytes"), 0644))
	return full
}

// WriteMediaFile creates a dummy media file under the harness's storage
// root media/ directory with the given extension and returns its absolute
// path, suitable for Job.SavedPath.
func (h *Harness) WriteMediaFile(t *testing.T, jobID, ext string) string {
	t.Helper()
	path, err := h.FS.SaveMedia(jobID, ext, newReaderOf("fake-media-bytes"))
	require.NoError(t, err)
	return path
}

func newReaderOf(s string) io.Reader {
	return strings.NewReader(s)
}
