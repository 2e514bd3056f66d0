// Package dropzone watches a configured folder for new media files and
// auto-submits them as jobs with the Settings Gateway's defaults: a
// recursive fsnotify watch, a startup sweep of pre-existing files, and a
// copy-then-delete-on-success ingest flow.
package dropzone

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"selenite/internal/models"
	"selenite/internal/queue"
	"selenite/internal/repository"
	"selenite/internal/settings"
	"selenite/internal/storage"
	"selenite/pkg/logger"
)

var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".m4a": true, ".aac": true,
	".ogg": true, ".wma": true, ".mp4": true, ".avi": true, ".mov": true,
	".mkv": true, ".webm": true,
}

// Service watches Path for new media files and submits them as jobs.
type Service struct {
	path     string
	watcher  *fsnotify.Watcher
	jobs     repository.JobRepository
	fs       *storage.Gateway
	sched    *queue.Scheduler
	settings *settings.Gateway
}

// New constructs a dropzone Service rooted at path.
func New(path string, jobs repository.JobRepository, fs *storage.Gateway, sched *queue.Scheduler, settingsGateway *settings.Gateway) *Service {
	return &Service{path: path, jobs: jobs, fs: fs, sched: sched, settings: settingsGateway}
}

// Start creates the dropzone directory, sweeps any pre-existing files, and
// begins recursive fsnotify monitoring.
func (s *Service) Start() error {
	if err := os.MkdirAll(s.path, 0755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	if err := s.watchRecursively(s.path); err != nil {
		s.watcher.Close()
		return err
	}

	s.sweepExisting()
	go s.loop()

	logger.Info("Dropzone service started", "path", s.path)
	return nil
}

// Stop closes the fsnotify watcher.
func (s *Service) Stop() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Service) watchRecursively(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			logger.Warn("Dropzone walk error", "path", path, "error", err)
			return nil
		}
		if info.IsDir() {
			if err := s.watcher.Add(path); err != nil {
				logger.Warn("Dropzone failed to watch directory", "path", path, "error", err)
			}
		}
		return nil
	})
}

func (s *Service) sweepExisting() {
	_ = filepath.Walk(s.path, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if isAudioFile(path) {
			s.ingest(path)
		}
		return nil
	})
}

func (s *Service) loop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != fsnotify.Create {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if err := s.watchRecursively(ev.Name); err != nil {
					logger.Warn("Dropzone failed to watch new directory", "path", ev.Name, "error", err)
				}
				continue
			}
			if isAudioFile(ev.Name) {
				time.Sleep(500 * time.Millisecond) // let the writer finish
				s.ingest(ev.Name)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Dropzone watcher error", "error", err)
		}
	}
}

func isAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// ingest copies filePath into storage as a new Job, submits it to the
// Scheduler using the current Settings defaults, and removes the original
// file from the dropzone on success.
func (s *Service) ingest(filePath string) {
	info, err := os.Stat(filePath)
	if err != nil || info.IsDir() {
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		logger.Warn("Dropzone could not open file", "path", filePath, "error", err)
		return
	}
	defer f.Close()

	filename := filepath.Base(filePath)
	job := &models.Job{
		OriginalFilename: filename,
		DisplayName:      filename,
		FileSize:         info.Size(),
	}

	cur := s.settings.Current()
	job.ASRProvider = cur.DefaultASRProvider
	job.ASRWeight = cur.DefaultASRWeight
	job.DiarizerProvider = cur.DefaultDiarizerProvider
	job.DiarizerWeight = cur.DefaultDiarizerWeight
	job.Language = cur.DefaultLanguage
	job.EnableTimestamps = cur.DefaultEnableTimestamps
	job.EnableSpeakerDetection = cur.DefaultEnableSpeakerDetection
	job.Status = models.JobQueued

	if err := s.jobs.Create(context.Background(), job); err != nil {
		logger.Error("Dropzone failed to create job record", "path", filePath, "error", err)
		return
	}

	savedPath, err := s.fs.SaveMedia(job.ID, filepath.Ext(filename), f)
	if err != nil {
		logger.Error("Dropzone failed to save media", "path", filePath, "error", err)
		return
	}
	if err := s.jobs.UpdateRaw(context.Background(), job.ID, map[string]interface{}{"saved_path": savedPath}); err != nil {
		logger.Error("Dropzone failed to record saved path", "job_id", job.ID, "error", err)
		return
	}

	s.sched.Submit(job.ID)

	var removeErr error
	for i := 0; i < 5; i++ {
		if removeErr = os.Remove(filePath); removeErr == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if removeErr != nil {
		logger.Warn("Dropzone could not remove ingested file", "path", filePath, "error", removeErr)
	}
	logger.Info("Dropzone ingested file as job", "path", filePath, "job_id", job.ID)
}
