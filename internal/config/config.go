// Package config loads Selenite's process configuration: a .env file via
// godotenv layered under plain environment variables, with small typed
// getters, plus a viper-backed optional settings seed file for the
// Settings Gateway's first-boot defaults.
package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"selenite/internal/models"
)

// Config holds top-level process configuration. Admin-tunable knobs that
// can change at runtime (max_concurrent_jobs, defaults, timeouts) live in
// the Settings row behind the Settings Gateway; MaxConcurrentJobs here is
// only the fallback used when that row holds no positive value.
type Config struct {
	Port string
	Host string

	DatabasePath string

	StorageRoot string // base dir; media/, transcripts/, temp/ live under it
	ModelsRoot  string // base dir for admin-managed provider/weight trees
	DropzonePath string

	LogLevel string

	// ExternalASREngines/ExternalDiarizerEngines map a provider name (must
	// match a Model Registry ModelSet.Name) to the shlex-split command used
	// to launch its internal/engine/exec subprocess, parsed from
	// "name=command words;name2=command words".
	ExternalASREngines      map[string]string
	ExternalDiarizerEngines map[string]string

	MaxConcurrentJobs int

	// SettingsSeedPath is an optional YAML file (see LoadSettingsSeed) that
	// supplies the Settings row's values the first time it is created.
	SettingsSeedPath string
}

// Load reads a .env file if present, then environment variables, falling
// back to built-in defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	storageRoot := getEnv("STORAGE_ROOT", "data/storage")
	return &Config{
		Port:                    getEnv("PORT", "8080"),
		Host:                    getEnv("HOST", "localhost"),
		DatabasePath:            getEnv("DATABASE_PATH", "data/selenite.db"),
		StorageRoot:             storageRoot,
		ModelsRoot:              getEnv("MODELS_ROOT", "data/models"),
		DropzonePath:            getEnv("DROPZONE_PATH", filepath.Join(storageRoot, "dropzone")),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		ExternalASREngines:      parseEngineMap(getEnv("EXTERNAL_ASR_ENGINES", "")),
		ExternalDiarizerEngines: parseEngineMap(getEnv("EXTERNAL_DIARIZER_ENGINES", "")),
		MaxConcurrentJobs:       getEnvAsInt("MAX_CONCURRENT_JOBS", 3),
		SettingsSeedPath:        getEnv("SETTINGS_SEED_FILE", "selenite.settings.yaml"),
	}
}

// LoadSettingsSeed reads path as a YAML-encoded models.Settings via viper,
// returning (nil, false) if the file does not exist or can't be parsed —
// absence is not an error, since most deployments rely entirely on the
// Settings row's struct-tag defaults applied at first creation.
func LoadSettingsSeed(path string) (*models.Settings, bool) {
	if path == "" {
		return nil, false
	}
	if _, err := os.Stat(path); err != nil {
		return nil, false
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		log.Printf("failed to read settings seed file %s: %v", path, err)
		return nil, false
	}
	var seed models.Settings
	if err := v.Unmarshal(&seed); err != nil {
		log.Printf("failed to parse settings seed file %s: %v", path, err)
		return nil, false
	}
	return &seed, true
}

// parseEngineMap parses "name=command words;name2=command words" into a
// provider-name -> command-line map.
func parseEngineMap(raw string) map[string]string {
	out := make(map[string]string)
	if raw == "" {
		return out
	}
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
