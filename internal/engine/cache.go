package engine

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// cacheKey identifies a loaded session by provider and on-disk weight path.
type cacheKey struct {
	kind       string // "asr" or "diarizer"
	provider   string
	weightPath string
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.kind, k.provider, k.weightPath)
}

type cacheEntry struct {
	refcount int
	asr      ASRSession
	diar     DiarizerSession
}

func (e *cacheEntry) close() {
	if e.asr != nil {
		_ = e.asr.Close()
	}
	if e.diar != nil {
		_ = e.diar.Close()
	}
}

// Cache is the process-wide Engine Cache: an LRU of loaded sessions keyed
// by (provider, weight_path), reference-counted across concurrent jobs,
// with concurrent loads of the same key coalesced via singleflight.
type Cache struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries map[string]*cacheEntry
	order   *lru.Cache[string, struct{}]
	group   singleflight.Group

	// pendingEvict collects keys the LRU pushed out during an Add; the
	// callback fires synchronously under c.mu, so it must only record the
	// key — draining and closing happens afterwards on a separate goroutine
	// that waits for the entry's refcount to reach zero.
	pendingEvict []string
}

// NewCache builds a Cache that evicts least-recently-used sessions once the
// number of loaded sessions exceeds max. An evicted session is closed only
// after its refcount drains to zero.
func NewCache(max int) *Cache {
	if max < 1 {
		max = 1
	}
	c := &Cache{entries: make(map[string]*cacheEntry)}
	c.cond = sync.NewCond(&c.mu)
	order, _ := lru.NewWithEvict(max, func(key string, _ struct{}) {
		c.pendingEvict = append(c.pendingEvict, key)
	})
	c.order = order
	return c
}

// GetOrLoadASR returns a cached ASRSession for (provider, weightPath),
// loading it via engine.Load if absent. The returned release func must be
// called exactly once when the caller is done using the session.
func (c *Cache) GetOrLoadASR(ctx context.Context, provider string, eng ASREngine, weightPath string, opts LoadOptions) (ASRSession, func(), error) {
	key := cacheKey{kind: "asr", provider: provider, weightPath: weightPath}
	entry, err := c.getOrLoad(key, func() (interface{}, error) {
		return eng.Load(ctx, weightPath, opts)
	}, func(e *cacheEntry, v interface{}) { e.asr = v.(ASRSession) })
	if err != nil {
		return nil, nil, err
	}
	return entry.asr, c.releaseFunc(entry), nil
}

// GetOrLoadDiarizer returns a cached DiarizerSession, mirroring GetOrLoadASR.
func (c *Cache) GetOrLoadDiarizer(ctx context.Context, provider string, d Diarizer, weightPath string, opts LoadOptions) (DiarizerSession, func(), error) {
	key := cacheKey{kind: "diarizer", provider: provider, weightPath: weightPath}
	entry, err := c.getOrLoad(key, func() (interface{}, error) {
		return d.Load(ctx, weightPath, opts)
	}, func(e *cacheEntry, v interface{}) { e.diar = v.(DiarizerSession) })
	if err != nil {
		return nil, nil, err
	}
	return entry.diar, c.releaseFunc(entry), nil
}

func (c *Cache) getOrLoad(key cacheKey, load func() (interface{}, error), assign func(*cacheEntry, interface{})) (*cacheEntry, error) {
	k := key.String()

	c.mu.Lock()
	if entry, ok := c.entries[k]; ok {
		entry.refcount++
		c.order.Get(k)
		c.mu.Unlock()
		return entry, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(k, load)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	entry, ok := c.entries[k]
	if !ok {
		entry = &cacheEntry{}
		assign(entry, v)
		c.entries[k] = entry
		c.order.Add(k, struct{}{})
	}
	entry.refcount++
	evicted := c.takeEvictedLocked()
	c.mu.Unlock()

	for _, e := range evicted {
		go c.drainAndClose(e)
	}
	return entry, nil
}

// takeEvictedLocked detaches every LRU-evicted key's entry from the map and
// hands the entries back for asynchronous draining. Caller holds c.mu.
func (c *Cache) takeEvictedLocked() []*cacheEntry {
	if len(c.pendingEvict) == 0 {
		return nil
	}
	out := make([]*cacheEntry, 0, len(c.pendingEvict))
	for _, k := range c.pendingEvict {
		if e, ok := c.entries[k]; ok {
			delete(c.entries, k)
			out = append(out, e)
		}
	}
	c.pendingEvict = c.pendingEvict[:0]
	return out
}

// drainAndClose waits for an evicted entry's refcount to drain, then closes
// its sessions. Eviction never closes a session still in use.
func (c *Cache) drainAndClose(e *cacheEntry) {
	c.mu.Lock()
	for e.refcount > 0 {
		c.cond.Wait()
	}
	c.mu.Unlock()
	e.close()
}

func (c *Cache) releaseFunc(e *cacheEntry) func() {
	return func() {
		c.mu.Lock()
		if e.refcount > 0 {
			e.refcount--
		}
		if e.refcount == 0 {
			c.cond.Broadcast()
		}
		c.mu.Unlock()
	}
}

// Close evicts and closes every cached session, waiting for refcounts to
// drain; used during graceful shutdown.
func (c *Cache) Close() {
	c.mu.Lock()
	entries := make([]*cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.entries = make(map[string]*cacheEntry)
	c.order.Purge()
	c.pendingEvict = c.pendingEvict[:0]
	c.mu.Unlock()

	for _, e := range entries {
		c.drainAndClose(e)
	}
}
