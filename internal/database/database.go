package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"selenite/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DB is the global database instance, populated by Initialize.
var DB *gorm.DB

// Initialize opens the SQLite database at dbPath with WAL-mode pragmas and
// connection pool settings tuned for a single-host service, and
// auto-migrates the Selenite schema. seed, if non-nil, supplies the
// initial Settings row values (loaded from the admin's viper-backed
// settings file) used only the first time the row is created; once the row
// exists, seed is ignored and the Settings Gateway owns all further writes.
func Initialize(dbPath string, seed *models.Settings) error {
	var err error

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?"+
		"_pragma=foreign_keys(1)&"+
		"_pragma=journal_mode(WAL)&"+
		"_pragma=synchronous(NORMAL)&"+
		"_pragma=cache_size(-64000)&"+
		"_pragma=temp_store(MEMORY)&"+
		"_pragma=mmap_size(268435456)&"+
		"_timeout=30000",
		dbPath)

	DB, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:          gormlogger.Default.LogMode(gormlogger.Warn),
		CreateBatchSize: 100,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := DB.AutoMigrate(
		&models.Job{},
		&models.Transcript{},
		&models.ModelSet{},
		&models.ModelWeight{},
		&models.Settings{},
	); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	var existing models.Settings
	err = DB.First(&existing, "id = ?", models.SettingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		seedValues := models.Settings{ID: models.SettingsRowID}
		if seed != nil {
			seedValues = *seed
			seedValues.ID = models.SettingsRowID
		}
		if err := DB.Create(&seedValues).Error; err != nil {
			return fmt.Errorf("failed to seed settings row: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to load settings row: %w", err)
	}

	return nil
}

// Close closes the database connection gracefully.
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	DB = nil
	return err
}

// HealthCheck pings the underlying connection.
func HealthCheck() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// GetConnectionStats returns pool statistics for operator diagnostics.
func GetConnectionStats() sql.DBStats {
	if DB == nil {
		return sql.DBStats{}
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return sql.DBStats{}
	}
	return sqlDB.Stats()
}
