// Package stub provides in-process reference ASREngine/Diarizer
// implementations used by tests and as a dependency-free default provider.
package stub

import (
	"context"
	"os"
	"strings"
	"sync"

	"selenite/internal/engine"
)

// ASR is a deterministic in-process ASREngine. Scripted returns a canned
// TranscriptDraft regardless of input. ScriptedWithOpts, if set, takes
// precedence and additionally receives TranscribeOptions so a test can
// observe CancelToken mid-call, simulating the segment-boundary check a
// real engine performs.
type ASR struct {
	Scripted         func(mediaPath string) (*engine.TranscriptDraft, error)
	ScriptedWithOpts func(mediaPath string, opts engine.TranscribeOptions) (*engine.TranscriptDraft, error)
}

func (a *ASR) Probe(ctx context.Context, weightPath string) engine.ProbeResult {
	if _, err := os.Stat(weightPath); err != nil {
		return engine.ProbeResult{OK: false, Notes: []string{err.Error()}}
	}
	return engine.ProbeResult{OK: true}
}

func (a *ASR) Load(ctx context.Context, weightPath string, opts engine.LoadOptions) (engine.ASRSession, error) {
	return &asrSession{scripted: a.Scripted, scriptedWithOpts: a.ScriptedWithOpts}, nil
}

type asrSession struct {
	mu               sync.Mutex
	scripted         func(mediaPath string) (*engine.TranscriptDraft, error)
	scriptedWithOpts func(mediaPath string, opts engine.TranscribeOptions) (*engine.TranscriptDraft, error)
}

func (s *asrSession) Transcribe(ctx context.Context, mediaPath string, opts engine.TranscribeOptions) (*engine.TranscriptDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.ProgressSink != nil {
		opts.ProgressSink.Report(engine.ProgressEvent{Percent: 0, Stage: "transcribing"})
	}
	select {
	case <-opts.CancelToken:
		return nil, engine.ErrCancelled
	default:
	}

	var draft *engine.TranscriptDraft
	var err error
	if s.scriptedWithOpts != nil {
		draft, err = s.scriptedWithOpts(mediaPath, opts)
	} else if s.scripted != nil {
		draft, err = s.scripted(mediaPath)
	} else {
		draft = &engine.TranscriptDraft{
			Segments:         []engine.DraftSegment{{StartSec: 0, EndSec: 1, Text: "hello"}, {StartSec: 1, EndSec: 2, Text: "world"}},
			LanguageDetected: "en",
			DurationSeconds:  2,
		}
	}
	if err != nil {
		return nil, err
	}
	if opts.ProgressSink != nil {
		opts.ProgressSink.Report(engine.ProgressEvent{Percent: 100, Stage: "transcribing", PartialSegments: len(draft.Segments)})
	}
	return draft, nil
}

func (s *asrSession) Close() error { return nil }

// Diarizer is a deterministic in-process Diarizer.
type Diarizer struct {
	Scripted  func(mediaPath string) ([]engine.SpeakerTurn, error)
	Available bool
	Notes     []string
}

func (d *Diarizer) Probe(ctx context.Context, weightPath string) engine.ProbeResult {
	return engine.ProbeResult{OK: d.Available, Notes: d.Notes}
}

func (d *Diarizer) Load(ctx context.Context, weightPath string, opts engine.LoadOptions) (engine.DiarizerSession, error) {
	if !d.Available {
		return nil, engine.ErrEngineUnavailable
	}
	return &diarizerSession{scripted: d.Scripted}, nil
}

type diarizerSession struct {
	scripted func(mediaPath string) ([]engine.SpeakerTurn, error)
}

func (s *diarizerSession) Diarize(ctx context.Context, mediaPath string, opts engine.DiarizeOptions) ([]engine.SpeakerTurn, error) {
	select {
	case <-opts.CancelToken:
		return nil, engine.ErrCancelled
	default:
	}
	if s.scripted != nil {
		return s.scripted(mediaPath)
	}
	return nil, nil
}

func (s *diarizerSession) Close() error { return nil }

// IsAudioFile reports whether name carries a recognized audio extension.
func IsAudioFile(name string) bool {
	ext := strings.ToLower(name)
	for _, suffix := range []string{".mp3", ".wav", ".flac", ".m4a", ".aac", ".ogg"} {
		if strings.HasSuffix(ext, suffix) {
			return true
		}
	}
	return false
}
