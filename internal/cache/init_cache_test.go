package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"c2pastreamd/internal/logger"
	"c2pastreamd/internal/models"
)

const tag = models.Tag("s1-video-rep0")

// TestInitCache_SetAndGet verifies the basic Set and Get operations.
func TestInitCache_SetAndGet(t *testing.T) {
	c := New(logger.Nop(), nil)

	_, found := c.Get("sess-a", tag)
	assert.False(t, found)

	c.Set("sess-a", tag, []byte("init"))

	data, found := c.Get("sess-a", tag)
	require.True(t, found)
	assert.Equal(t, "init", string(data))

	// Scopes are isolated from each other.
	_, found = c.Get("sess-b", tag)
	assert.False(t, found)
}

func TestInitCache_DropScope(t *testing.T) {
	c := New(logger.Nop(), nil)
	c.Set("sess-a", tag, []byte("1"))
	c.Set("sess-a", "s1-audio-rep0", []byte("2"))
	c.Set("sess-b", tag, []byte("3"))

	assert.Equal(t, 2, c.DropScope("sess-a"))
	assert.Equal(t, 1, c.Len())
}

// TestInitCache_Eviction verifies that init segments of inactive scopes are removed.
func TestInitCache_Eviction(t *testing.T) {
	var mu sync.Mutex
	active := map[string]struct{}{"sess-a": {}}
	provider := func() map[string]struct{} {
		mu.Lock()
		defer mu.Unlock()
		out := make(map[string]struct{}, len(active))
		for k := range active {
			out[k] = struct{}{}
		}
		return out
	}

	c := New(logger.Nop(), provider)
	c.Set("sess-a", tag, []byte("1"))
	c.Set("sess-b", tag, []byte("2"))

	c.runEviction()
	_, found := c.Get("sess-a", tag)
	assert.True(t, found)
	_, found = c.Get("sess-b", tag)
	assert.False(t, found)

	// Step 2: the last session goes away.
	mu.Lock()
	delete(active, "sess-a")
	mu.Unlock()

	c.runEviction()
	assert.Zero(t, c.Len())
}

func TestInitCache_WorkerStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := New(logger.Nop(), func() map[string]struct{} { return nil })
	c.SetEvictionInterval(5 * time.Millisecond)
	c.Set("gone", tag, []byte("x"))
	c.Start()

	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	c.Stop()
}
