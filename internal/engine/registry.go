package engine

import "sync"

// ProviderRegistry holds the small, fixed set of supported engine
// implementations, each registered by provider name at startup rather
// than discovered dynamically.
type ProviderRegistry struct {
	mu        sync.RWMutex
	asr       map[string]ASREngine
	diarizers map[string]Diarizer
}

// NewProviderRegistry returns an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		asr:       make(map[string]ASREngine),
		diarizers: make(map[string]Diarizer),
	}
}

// RegisterASR registers an ASREngine implementation under provider name.
func (p *ProviderRegistry) RegisterASR(name string, e ASREngine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asr[name] = e
}

// RegisterDiarizer registers a Diarizer implementation under provider name.
func (p *ProviderRegistry) RegisterDiarizer(name string, d Diarizer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.diarizers[name] = d
}

// ASR looks up a registered ASREngine by provider name.
func (p *ProviderRegistry) ASR(name string) (ASREngine, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.asr[name]
	return e, ok
}

// DiarizerByName looks up a registered Diarizer by provider name.
func (p *ProviderRegistry) DiarizerByName(name string) (Diarizer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.diarizers[name]
	return d, ok
}
