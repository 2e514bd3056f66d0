// Package exec implements ASREngine/Diarizer by shelling out to an
// admin-configured external command: a long-lived engine daemon started
// lazily on first use and kept running across jobs. The wire protocol is
// newline-delimited JSON over the subprocess's stdin/stdout, and the
// configured command line is split with github.com/google/shlex so admins
// can quote arguments the way a shell would.
package exec

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"

	"selenite/internal/engine"
	"selenite/internal/procutil"
	"selenite/pkg/logger"
)

// Config describes how to launch and talk to an external engine process.
type Config struct {
	Provider     string
	Command      string // shlex-split command line, e.g. "whisper-engine-server --foo"
	StartTimeout time.Duration
}

// request/response wire shapes for the line-delimited JSON protocol.
type request struct {
	Op           string            `json:"op"`
	WeightPath   string            `json:"weight_path,omitempty"`
	SessionID    string            `json:"session_id,omitempty"`
	MediaPath    string            `json:"media_path,omitempty"`
	Language     string            `json:"language,omitempty"`
	Options      map[string]string `json:"options,omitempty"`
	SpeakerCount *int              `json:"requested_speaker_count,omitempty"`
}

type response struct {
	Type             string        `json:"type"` // "probe", "loaded", "progress", "result", "error"
	OK               bool          `json:"ok,omitempty"`
	RequiresGPU      bool          `json:"requires_gpu,omitempty"`
	Notes            []string      `json:"notes,omitempty"`
	SessionID        string        `json:"session_id,omitempty"`
	Percent          float64       `json:"percent,omitempty"`
	Stage            string        `json:"stage,omitempty"`
	Segments         []wireSegment `json:"segments,omitempty"`
	Turns            []wireTurn    `json:"turns,omitempty"`
	LanguageDetected string        `json:"language_detected,omitempty"`
	Duration         float64       `json:"duration,omitempty"`
	Error            string        `json:"error,omitempty"`
	Transient        bool          `json:"transient,omitempty"`
}

type wireSegment struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
}

type wireTurn struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Speaker  string  `json:"speaker"`
}

// Process manages one external engine subprocess and the request/response
// protocol multiplexed over its stdio.
type Process struct {
	cfg Config

	mu     sync.Mutex
	cmd    *osexec.Cmd
	stdin  *json.Encoder
	stdout *bufio.Scanner
	callMu sync.Mutex // serializes one in-flight call at a time over stdio
}

// NewProcess builds a Process from Config. The command is not started
// until EnsureRunning is called.
func NewProcess(cfg Config) (*Process, error) {
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = 15 * time.Second
	}
	return &Process{cfg: cfg}, nil
}

// EnsureRunning starts the subprocess if it is not already running.
func (p *Process) EnsureRunning(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil && p.cmd.Process != nil {
		return nil
	}

	parts, err := shlex.Split(p.cfg.Command)
	if err != nil || len(parts) == 0 {
		return fmt.Errorf("invalid engine command for provider %s: %q", p.cfg.Provider, p.cfg.Command)
	}

	cmd := osexec.Command(parts[0], parts[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = os.Stderr

	logger.Info("Starting external engine process", "provider", p.cfg.Provider, "command", p.cfg.Command)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start engine process for %s: %w", p.cfg.Provider, err)
	}

	p.cmd = cmd
	p.stdin = json.NewEncoder(stdin)
	p.stdout = bufio.NewScanner(stdout)
	p.stdout.Buffer(make([]byte, 0, 64*1024), 1<<20)

	go func() {
		err := cmd.Wait()
		if err != nil {
			logger.Warn("External engine process exited", "provider", p.cfg.Provider, "error", err)
		}
		p.mu.Lock()
		if p.cmd == cmd {
			p.cmd = nil
		}
		p.mu.Unlock()
	}()

	return nil
}

// call sends req and returns the first response line; onProgress, if
// non-nil, is invoked for any "progress" lines encountered before the
// terminal "result"/"error" line.
func (p *Process) call(ctx context.Context, req request, onProgress func(response)) (*response, error) {
	p.callMu.Lock()
	defer p.callMu.Unlock()

	if err := p.EnsureRunning(ctx); err != nil {
		return nil, engine.ErrEngineUnavailable
	}

	p.mu.Lock()
	enc := p.stdin
	scanner := p.stdout
	p.mu.Unlock()

	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrEngineTransient, err)
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var resp response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			continue
		}
		switch resp.Type {
		case "progress":
			if onProgress != nil {
				onProgress(resp)
			}
		case "error":
			if resp.Transient {
				return nil, fmt.Errorf("%w: %s", engine.ErrEngineTransient, resp.Error)
			}
			return nil, fmt.Errorf("%w: %s", engine.ErrEngineUnavailable, resp.Error)
		default:
			return &resp, nil
		}
	}
	return nil, fmt.Errorf("%w: engine process closed stdout", engine.ErrEngineTransient)
}

// Kill force-terminates the subprocess tree, used when a cancel_token fires
// mid-call against an opaque external engine that cannot cooperatively
// suspend.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	if err := procutil.KillProcessTree(p.cmd.Process); err != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// ASREngine adapts a Process to the engine.ASREngine contract.
type ASREngine struct {
	Proc *Process
}

func (a *ASREngine) Probe(ctx context.Context, weightPath string) engine.ProbeResult {
	resp, err := a.Proc.call(ctx, request{Op: "probe", WeightPath: weightPath}, nil)
	if err != nil {
		return engine.ProbeResult{OK: false, Notes: []string{err.Error()}}
	}
	return engine.ProbeResult{OK: resp.OK, RequiresGPU: resp.RequiresGPU, Notes: resp.Notes}
}

func (a *ASREngine) Load(ctx context.Context, weightPath string, opts engine.LoadOptions) (engine.ASRSession, error) {
	resp, err := a.Proc.call(ctx, request{Op: "load", WeightPath: weightPath, Options: opts}, nil)
	if err != nil {
		return nil, err
	}
	return &asrSession{proc: a.Proc, sessionID: resp.SessionID}, nil
}

type asrSession struct {
	proc      *Process
	sessionID string
}

func (s *asrSession) Transcribe(ctx context.Context, mediaPath string, opts engine.TranscribeOptions) (*engine.TranscriptDraft, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-opts.CancelToken:
			_ = s.proc.Kill()
		case <-done:
		}
	}()

	resp, err := s.proc.call(ctx, request{
		Op:        "transcribe",
		SessionID: s.sessionID,
		MediaPath: mediaPath,
		Language:  opts.Language,
	}, func(r response) {
		if opts.ProgressSink != nil {
			opts.ProgressSink.Report(engine.ProgressEvent{Percent: r.Percent, Stage: r.Stage})
		}
	})
	if err != nil {
		select {
		case <-opts.CancelToken:
			return nil, engine.ErrCancelled
		default:
			return nil, err
		}
	}

	segments := make([]engine.DraftSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, engine.DraftSegment{StartSec: s.StartSec, EndSec: s.EndSec, Text: s.Text})
	}
	return &engine.TranscriptDraft{Segments: segments, LanguageDetected: resp.LanguageDetected, DurationSeconds: resp.Duration}, nil
}

func (s *asrSession) Close() error {
	_, err := s.proc.call(context.Background(), request{Op: "close", SessionID: s.sessionID}, nil)
	return err
}

// Diarizer adapts a Process to the engine.Diarizer contract.
type Diarizer struct {
	Proc *Process
}

func (d *Diarizer) Probe(ctx context.Context, weightPath string) engine.ProbeResult {
	resp, err := d.Proc.call(ctx, request{Op: "probe", WeightPath: weightPath}, nil)
	if err != nil {
		return engine.ProbeResult{OK: false, Notes: []string{err.Error()}}
	}
	return engine.ProbeResult{OK: resp.OK, RequiresGPU: resp.RequiresGPU, Notes: resp.Notes}
}

func (d *Diarizer) Load(ctx context.Context, weightPath string, opts engine.LoadOptions) (engine.DiarizerSession, error) {
	resp, err := d.Proc.call(ctx, request{Op: "load", WeightPath: weightPath, Options: opts}, nil)
	if err != nil {
		return nil, err
	}
	return &diarizerSession{proc: d.Proc, sessionID: resp.SessionID}, nil
}

type diarizerSession struct {
	proc      *Process
	sessionID string
}

func (s *diarizerSession) Diarize(ctx context.Context, mediaPath string, opts engine.DiarizeOptions) ([]engine.SpeakerTurn, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-opts.CancelToken:
			_ = s.proc.Kill()
		case <-done:
		}
	}()

	resp, err := s.proc.call(ctx, request{
		Op:           "diarize",
		SessionID:    s.sessionID,
		MediaPath:    mediaPath,
		SpeakerCount: opts.RequestedSpeakerCount,
	}, func(r response) {
		if opts.ProgressSink != nil {
			opts.ProgressSink.Report(engine.ProgressEvent{Percent: r.Percent, Stage: r.Stage})
		}
	})
	if err != nil {
		select {
		case <-opts.CancelToken:
			return nil, engine.ErrCancelled
		default:
			return nil, err
		}
	}

	turns := make([]engine.SpeakerTurn, 0, len(resp.Turns))
	for _, t := range resp.Turns {
		turns = append(turns, engine.SpeakerTurn{StartSec: t.StartSec, EndSec: t.EndSec, Speaker: t.Speaker})
	}
	return turns, nil
}

func (s *diarizerSession) Close() error {
	_, err := s.proc.call(context.Background(), request{Op: "close", SessionID: s.sessionID}, nil)
	return err
}
