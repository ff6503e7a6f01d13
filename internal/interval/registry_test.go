package interval_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"c2pastreamd/internal/c2pa/c2patest"
	"c2pastreamd/internal/extract"
	"c2pastreamd/internal/interval"
	"c2pastreamd/internal/models"
)

const videoTag = models.Tag("s1-video-rep0")

func result(tag models.Tag, start, end float64, err string) extract.Result {
	return extract.Result{Tag: tag, Interval: models.Interval{Start: start, End: end}, Err: err}
}

// TestRegistry_IdempotentOverwrite verifies that repeated inserts of one
// exact interval leave a single record holding the last write.
func TestRegistry_IdempotentOverwrite(t *testing.T) {
	r := interval.NewRegistry(0)

	for i, e := range []string{"first", "second", "third"} {
		replaced := r.Insert(result(videoTag, 0, 4, e))
		assert.Equal(t, i > 0, replaced)
	}

	require.Equal(t, 1, r.Len(videoTag))
	got := r.QueryPoint(videoTag, 2)
	require.Len(t, got, 1)
	assert.Equal(t, "third", got[0].Err)
}

func TestRegistry_TagsAreIndependent(t *testing.T) {
	r := interval.NewRegistry(0)
	r.Insert(result(videoTag, 0, 4, ""))
	r.Insert(extract.Result{Tag: "s1-video-rep1", Interval: models.Interval{Start: 0, End: 4}, Manifest: c2patest.ValidManifest()})

	assert.Len(t, r.QueryPoint(videoTag, 1), 1)
	assert.Len(t, r.QueryPoint("s1-video-rep1", 1), 1)
	assert.Empty(t, r.QueryPoint("s1-audio-rep0", 1))
	assert.Equal(t, 2, r.Tags())

	r.Reset()
	assert.Zero(t, r.Tags())
	assert.Empty(t, r.QueryPoint(videoTag, 1))
}

func TestRegistry_PointQueryEpsilon(t *testing.T) {
	r := interval.NewRegistry(0.01)
	r.Insert(result(videoTag, 4.005, 8, ""))

	// [4, 4.01) reaches the slightly misaligned segment start.
	assert.Len(t, r.QueryPoint(videoTag, 4), 1)
	assert.Empty(t, r.QueryPoint(videoTag, 3.9))
}
