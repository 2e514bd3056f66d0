// Package app wires every Selenite component into the running service in
// construct order (config -> logger -> database -> gateways -> engines ->
// scheduler -> API -> HTTP server), tearing down in reverse on shutdown.
// It is shared between `selenite serve` and the kardianos/service wrapper.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"selenite/internal/api"
	"selenite/internal/capability"
	"selenite/internal/clock"
	"selenite/internal/config"
	"selenite/internal/database"
	"selenite/internal/dropzone"
	"selenite/internal/engine"
	"selenite/internal/engine/exec"
	"selenite/internal/engine/stub"
	"selenite/internal/executor"
	"selenite/internal/progress"
	"selenite/internal/queue"
	"selenite/internal/registry"
	"selenite/internal/repository"
	"selenite/internal/resume"
	"selenite/internal/settings"
	"selenite/internal/storage"
	"selenite/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Run builds every Selenite component and blocks serving HTTP until the
// process receives SIGINT/SIGTERM, then tears down in reverse construction
// order. It returns once shutdown has completed.
func Run(cfg *config.Config) error {
	logger.Init(cfg.LogLevel)
	logger.Info("Selenite starting up", "port", cfg.Port, "host", cfg.Host)

	seed, _ := config.LoadSettingsSeed(cfg.SettingsSeedPath)
	if err := database.Initialize(cfg.DatabasePath, seed); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	logger.Startup("database", "Database ready", "path", cfg.DatabasePath)

	fs, err := storage.New(cfg.StorageRoot)
	if err != nil {
		return fmt.Errorf("failed to initialize storage gateway: %w", err)
	}

	jobsRepo := repository.NewJobRepository(database.DB)
	transcriptsRepo := repository.NewTranscriptRepository(database.DB)
	setsRepo := repository.NewModelSetRepository(database.DB)
	weightsRepo := repository.NewModelWeightRepository(database.DB)
	settingsRepo := repository.NewSettingsRepository(database.DB)

	settingsGW, err := settings.New(context.Background(), settingsRepo)
	if err != nil {
		return fmt.Errorf("failed to initialize settings gateway: %w", err)
	}

	reg := registry.New(cfg.ModelsRoot, setsRepo, weightsRepo)

	providers := engine.NewProviderRegistry()
	providers.RegisterASR("stub", &stub.ASR{})
	providers.RegisterDiarizer("stub", &stub.Diarizer{})
	registerExternalEngines(providers, cfg)

	cur := settingsGW.Current()
	engineCache := engine.NewCache(orDefault(cur.EngineCacheMax, 2))
	defer engineCache.Close()

	resolver := capability.New(reg, providers, settingsGW, time.Duration(orDefault(cur.CapabilityCacheTTLSeconds, 30))*time.Second)

	tracker := progress.New(
		jobsRepo,
		clock.Real,
		time.Duration(orDefault(cur.ProgressPersistIntervalSeconds, 1))*time.Second,
		time.Duration(orDefault(cur.HeartbeatIntervalSeconds, 5))*time.Second,
		time.Duration(orDefault(cur.StallThresholdSeconds, 120))*time.Second,
		time.Duration(orDefault(cur.StallScanIntervalSeconds, 15))*time.Second,
	)
	tracker.Start()
	defer tracker.Stop()

	jobExecutor := executor.New(
		jobsRepo, fs, reg, providers, engineCache, tracker, settingsGW, clock.Real,
		time.Duration(orDefault(cur.EngineLoadTimeoutSeconds, 300))*time.Second,
	)

	sched := queue.New(jobsRepo, clock.Real, jobExecutor, orDefault(cur.MaxConcurrentJobs, cfg.MaxConcurrentJobs), orDefault(cur.PersistRetryMax, 5))

	unsub := settingsGW.Subscribe()
	go func() {
		for s := range unsub {
			sched.Reconfigure(s.MaxConcurrentJobs)
		}
	}()

	resumeMgr := resume.New(jobsRepo, fs, clock.Real)
	if err := resumeMgr.Reconcile(context.Background(), sched); err != nil {
		logger.Error("Resume Manager reconciliation failed", "error", err)
	}

	sched.Start()
	defer sched.Stop(time.Duration(orDefault(cur.GracefulShutdownTimeoutSeconds, 30)) * time.Second)
	logger.Startup("scheduler", "Job scheduler running", "max_concurrent_jobs", orDefault(cur.MaxConcurrentJobs, cfg.MaxConcurrentJobs))

	drop := dropzone.New(cfg.DropzonePath, jobsRepo, fs, sched, settingsGW)
	if err := drop.Start(); err != nil {
		logger.Error("Dropzone failed to start", "error", err)
	} else {
		defer drop.Stop()
	}

	handler := api.NewHandler(jobsRepo, transcriptsRepo, fs, reg, resolver, sched, settingsGW)
	if cfg.Host != "localhost" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.SetupRoutes(handler)

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Selenite")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(orDefault(cur.GracefulShutdownTimeoutSeconds, 30))*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP server forced to shutdown", "error", err)
	}

	return nil
}

// registerExternalEngines wires every admin-configured external engine
// subprocess from cfg into providers, keyed by the provider name that must
// match a Model Registry ModelSet.Name.
func registerExternalEngines(providers *engine.ProviderRegistry, cfg *config.Config) {
	for name, command := range cfg.ExternalASREngines {
		proc, err := exec.NewProcess(exec.Config{Provider: name, Command: command})
		if err != nil {
			logger.Error("Failed to configure external ASR engine", "provider", name, "error", err)
			continue
		}
		providers.RegisterASR(name, &exec.ASREngine{Proc: proc})
	}
	for name, command := range cfg.ExternalDiarizerEngines {
		proc, err := exec.NewProcess(exec.Config{Provider: name, Command: command})
		if err != nil {
			logger.Error("Failed to configure external diarizer engine", "provider", name, "error", err)
			continue
		}
		providers.RegisterDiarizer(name, &exec.Diarizer{Proc: proc})
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
