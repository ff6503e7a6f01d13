package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"c2pastreamd/internal/logger"
	"c2pastreamd/internal/models"
)

// DefaultEvictionInterval is how often the eviction worker runs.
const DefaultEvictionInterval = 10 * time.Second

// ActiveScopesProvider returns the set of scopes (player session IDs) whose
// init segments must be kept.
type ActiveScopesProvider func() map[string]struct{}

// InitCache is a thread-safe, in-memory cache of initialization segments,
// keyed by scope and tag. Several players share one cache; each player uses
// its own scope.
type InitCache struct {
	mutex        sync.RWMutex
	cache        map[string][]byte
	logger       logger.Logger
	activeScopes ActiveScopesProvider
	interval     time.Duration

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates and returns a new InitCache. A nil provider disables eviction.
func New(log logger.Logger, provider ActiveScopesProvider) *InitCache {
	ctx, cancel := context.WithCancel(context.Background())
	return &InitCache{
		cache:        make(map[string][]byte),
		logger:       log,
		activeScopes: provider,
		interval:     DefaultEvictionInterval,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// Key returns the cache key of an init segment.
func Key(scope string, tag models.Tag) string {
	return scope + "/" + string(tag)
}

// SetEvictionInterval changes the worker period. It must be called before Start.
func (c *InitCache) SetEvictionInterval(d time.Duration) {
	if d > 0 {
		c.interval = d
	}
}

// Start begins the background eviction worker.
func (c *InitCache) Start() {
	c.logger.Infof("Starting init segment eviction worker...")
	go c.evictionWorker()
}

// Stop shuts down the eviction worker and waits for it to exit.
func (c *InitCache) Stop() {
	c.logger.Infof("Stopping init segment eviction worker...")
	c.cancel()
	<-c.done
}

// Set stores the init segment for a tag, replacing any previous one.
func (c *InitCache) Set(scope string, tag models.Tag, data []byte) {
	key := Key(scope, tag)
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[key] = data
	c.logger.Debugf("Cached init segment: %s, size: %d bytes", key, len(data))
}

// Get retrieves the init segment for a tag.
func (c *InitCache) Get(scope string, tag models.Tag) ([]byte, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	data, found := c.cache[Key(scope, tag)]
	return data, found
}

// DropScope removes every init segment of one scope.
func (c *InitCache) DropScope(scope string) int {
	prefix := scope + "/"
	c.mutex.Lock()
	defer c.mutex.Unlock()

	dropped := 0
	for key := range c.cache {
		if strings.HasPrefix(key, prefix) {
			delete(c.cache, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of cached init segments.
func (c *InitCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.cache)
}

func (c *InitCache) evictionWorker() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Infof("Eviction worker stopped.")
			return
		case <-ticker.C:
			c.runEviction()
		}
	}
}

// runEviction removes init segments whose scope is no longer active.
func (c *InitCache) runEviction() {
	if c.activeScopes == nil {
		return
	}
	active := c.activeScopes()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	evicted := 0
	for key := range c.cache {
		scope, _, _ := strings.Cut(key, "/")
		if _, ok := active[scope]; !ok {
			delete(c.cache, key)
			evicted++
		}
	}

	if evicted > 0 {
		c.logger.Infof("Evicted %d init segments. Current cache size: %d.", evicted, len(c.cache))
	} else {
		c.logger.Debugf("No init segments to evict. Current cache size: %d.", len(c.cache))
	}
}
