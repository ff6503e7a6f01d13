package timeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"c2pastreamd/internal/c2pa/c2patest"
	"c2pastreamd/internal/extract"
	"c2pastreamd/internal/interval"
	"c2pastreamd/internal/logger"
	"c2pastreamd/internal/models"
	"c2pastreamd/internal/timeline"
)

const (
	videoTag = models.Tag("s1-video-rep0")
	audioTag = models.Tag("s1-audio-rep0")
)

var both = map[models.MediaType]models.Tag{models.MediaVideo: videoTag, models.MediaAudio: audioTag}

func valid(tag models.Tag, start, end float64) extract.Result {
	return extract.Result{Tag: tag, Interval: models.Interval{Start: start, End: end}, Manifest: c2patest.ValidManifest()}
}

func invalid(tag models.Tag, start, end float64) extract.Result {
	return extract.Result{Tag: tag, Interval: models.Interval{Start: start, End: end}, Manifest: c2patest.InvalidManifest("assertion.dataHash.mismatch")}
}

func TestAggregate(t *testing.T) {
	P, F, U := models.StatusPassed, models.StatusFailed, models.StatusUnknown
	cases := []struct {
		name string
		in   []models.Status
		want models.Status
	}{
		{"no tracked types", nil, U},
		{"all true", []models.Status{P, P}, P},
		{"false beats true", []models.Status{F, P}, F},
		{"false beats unknown", []models.Status{U, F}, F},
		{"unknown beats true", []models.Status{U, P}, U},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, timeline.Aggregate(tc.in))
		})
	}
}

// TestEvaluate_VideoFalseAudioTrue verifies a false video track makes the
// aggregate false regardless of audio.
func TestEvaluate_VideoFalseAudioTrue(t *testing.T) {
	idx := interval.NewRegistry(0)
	idx.Insert(invalid(videoTag, 0, 4))
	idx.Insert(valid(audioTag, 0, 4))

	eval := timeline.New(idx, logger.Nop()).Evaluate(2, both)
	assert.Equal(t, models.StatusFailed, eval.Status)

	video, ok := eval.Detail(models.MediaVideo)
	require.True(t, ok)
	assert.Equal(t, "assertion.dataHash.mismatch: hash mismatch", video.Reason)
}

func TestEvaluate_VideoUnknownAudioTrue(t *testing.T) {
	idx := interval.NewRegistry(0)
	idx.Insert(valid(audioTag, 0, 4))

	eval := timeline.New(idx, logger.Nop()).Evaluate(2, both)
	assert.Equal(t, models.StatusUnknown, eval.Status)

	video, _ := eval.Detail(models.MediaVideo)
	assert.Equal(t, timeline.ReasonNoSegment, video.Reason)
}

func TestEvaluate_ExtractionErrorIsUnknown(t *testing.T) {
	idx := interval.NewRegistry(0)
	idx.Insert(extract.Result{Tag: videoTag, Interval: models.Interval{Start: 0, End: 4}, Err: "malformed"})

	eval := timeline.New(idx, logger.Nop()).Evaluate(1, map[models.MediaType]models.Tag{models.MediaVideo: videoTag})
	assert.Equal(t, models.StatusUnknown, eval.Status)
	assert.Nil(t, eval.Manifest())
}

func TestEvaluate_NoTrackedTypes(t *testing.T) {
	eval := timeline.New(interval.NewRegistry(0), logger.Nop()).Evaluate(1, nil)
	assert.Equal(t, models.StatusUnknown, eval.Status)
	assert.Empty(t, eval.Details)
}

func TestEvaluate_ChangedFlag(t *testing.T) {
	idx := interval.NewRegistry(0)
	idx.Insert(valid(videoTag, 0, 4))
	idx.Insert(invalid(videoTag, 4, 8))
	active := map[models.MediaType]models.Tag{models.MediaVideo: videoTag}

	tl := timeline.New(idx, logger.Nop())
	assert.True(t, tl.Evaluate(1, active).Changed)
	assert.False(t, tl.Evaluate(2, active).Changed)
	assert.True(t, tl.Evaluate(5, active).Changed)
	assert.Equal(t, models.StatusFailed, tl.Status())

	tl.Reset()
	assert.Equal(t, models.StatusUnknown, tl.Status())
}

// duplicateIndex returns two records with an identical interval, which the
// registry never does on its own.
type duplicateIndex struct{}

func (duplicateIndex) QueryPoint(tag models.Tag, t float64) []extract.Result {
	return []extract.Result{valid(tag, 0, 4), valid(tag, 0, 4)}
}

func TestEvaluate_AmbiguousIsUnknown(t *testing.T) {
	eval := timeline.New(duplicateIndex{}, logger.Nop()).Evaluate(1, map[models.MediaType]models.Tag{models.MediaVideo: videoTag})
	assert.Equal(t, models.StatusUnknown, eval.Status)
	video, _ := eval.Detail(models.MediaVideo)
	assert.Equal(t, timeline.ReasonAmbiguous, video.Reason)
}

// TestEvaluate_BoundaryOverlap verifies the record containing t wins when a
// query window straddles a segment boundary.
func TestEvaluate_BoundaryOverlap(t *testing.T) {
	idx := interval.NewRegistry(0.01)
	idx.Insert(valid(videoTag, 0, 4))
	idx.Insert(invalid(videoTag, 4, 8))
	active := map[models.MediaType]models.Tag{models.MediaVideo: videoTag}

	tl := timeline.New(idx, logger.Nop())
	assert.Equal(t, models.StatusPassed, tl.Peek(3.995, active).Status)
	assert.Equal(t, models.StatusFailed, tl.Peek(4, active).Status)
}

func TestEvaluation_ManifestPrefersVideo(t *testing.T) {
	idx := interval.NewRegistry(0)
	audio := valid(audioTag, 0, 4)
	video := invalid(videoTag, 0, 4)
	idx.Insert(audio)
	idx.Insert(video)

	eval := timeline.New(idx, logger.Nop()).Peek(1, both)
	assert.Same(t, video.Manifest, eval.Manifest())
}
