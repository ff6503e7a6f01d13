package player_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"c2pastreamd/internal/c2pa/c2patest"
	"c2pastreamd/internal/models"
	"c2pastreamd/internal/player"
	"c2pastreamd/internal/progress"
	"c2pastreamd/internal/timeline"
)

type harness struct {
	t      *testing.T
	bus    *player.Bus
	reader *c2patest.Reader
	host   *player.CommandQueue
	p      *player.Player

	mu       sync.Mutex
	changes  []models.Status
	friction int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		bus:    player.NewBus(),
		reader: c2patest.NewReader(),
		host:   &player.CommandQueue{},
	}
	h.p = player.New(h.bus, player.Options{ID: "p1", Reader: h.reader, Host: h.host})
	t.Cleanup(h.p.Close)

	h.p.Notifications().On(player.EventStatusChanged, func(payload any) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.changes = append(h.changes, payload.(timeline.Evaluation).Status)
	})
	h.p.Notifications().On(player.EventFrictionShown, func(any) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.friction++
	})
	return h
}

func (h *harness) segment(mt models.MediaType, kind models.SegmentKind, payload []byte, start, end float64) {
	h.segmentOf(mt, "rep0", kind, payload, start, end)
}

func (h *harness) segmentOf(mt models.MediaType, rep string, kind models.SegmentKind, payload []byte, start, end float64) {
	h.bus.Emit(player.EventSegmentResponse, player.SegmentResponse{Segment: models.SegmentDescriptor{
		StreamID: "s1", MediaType: mt, RepresentationID: rep,
		Kind: kind, Payload: payload, Start: start, End: end,
	}})
}

func (h *harness) switchTo(mt models.MediaType, rep string) {
	h.bus.Emit(player.EventQualityChangeRendered, player.QualityChange{MediaType: mt, RepresentationID: rep})
}

func (h *harness) indexed(rep string) int {
	h.t.Helper()
	n, err := h.p.Len(context.Background(), models.NewTag("s1", models.MediaVideo, rep))
	require.NoError(h.t, err)
	return n
}

func (h *harness) changeList() []models.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Status(nil), h.changes...)
}

func (h *harness) init(mt models.MediaType) {
	h.segment(mt, models.KindInitialization, c2patest.InitSegment(true), 0, 0)
}

func (h *harness) media(mt models.MediaType, marker string, start, end float64) {
	h.segment(mt, models.KindMedia, c2patest.MediaSegment(marker), start, end)
}

// play emits time updates from `from` to `to` inclusive in quarter seconds.
func (h *harness) play(from, to float64) {
	for t := from; t <= to; t += 0.25 {
		h.bus.Emit(player.EventPlaybackTimeUpdated, player.TimeUpdate{Time: t, StreamID: "s1"})
	}
}

func (h *harness) sync() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.p.Sync(ctx))
}

func (h *harness) snapshot() player.Snapshot {
	h.t.Helper()
	snap, err := h.p.Snapshot(context.Background())
	require.NoError(h.t, err)
	return snap
}

func statuses(segs []progress.Segment) []models.Status {
	out := make([]models.Status, len(segs))
	for i, s := range segs {
		out[i] = s.Status
	}
	return out
}

// loadMixed indexes four seconds of valid video and audio followed by four
// seconds of tampered video.
func (h *harness) loadMixed() {
	h.reader.Set(c2patest.MediaSegment("v1"), c2patest.InvalidManifest("assertion.dataHash.mismatch"), nil)
	h.init(models.MediaVideo)
	h.init(models.MediaAudio)
	h.media(models.MediaVideo, "v0", 0, 4)
	h.media(models.MediaAudio, "a0", 0, 4)
	h.media(models.MediaVideo, "v1", 4, 8)
	h.media(models.MediaAudio, "a1", 4, 8)
	h.sync()
}

func TestPlayer_TamperedVideoFailsAggregate(t *testing.T) {
	h := newHarness(t)
	h.loadMixed()

	h.bus.Emit(player.EventDurationChange, player.DurationChange{Duration: 8})
	h.bus.Emit(player.EventPlay, nil)
	h.play(0, 6)
	h.sync()

	snap := h.snapshot()
	assert.Equal(t, models.StatusFailed, snap.Status)
	assert.Equal(t, "rep0", snap.State.CurrentQuality[models.MediaVideo])
	assert.Equal(t, "s1", snap.State.StreamID)
	assert.True(t, snap.State.PlaybackStarted)
	assert.InDelta(t, 6-player.DefaultFrameInterval, snap.State.VerificationTime, 1e-9)

	require.Len(t, snap.Segments, 2)
	assert.Equal(t, []models.Status{models.StatusPassed, models.StatusFailed}, statuses(snap.Segments))
	assert.Equal(t, 4.25, snap.Segments[0].End)
	assert.Equal(t, 4.25, snap.Segments[1].Start)
	assert.Equal(t, 6.0, snap.Segments[1].End)
	assert.Equal(t, []string{"00:04-00:06"}, snap.Compromised)

	assert.Equal(t, models.StatusFailed, snap.Gate.Indicator)
	assert.True(t, snap.Gate.Compromised)
	assert.False(t, snap.Gate.Blocking)

	audio, ok := timeline.Evaluation{Details: snap.Details}.Detail(models.MediaAudio)
	require.True(t, ok)
	assert.Equal(t, models.StatusPassed, audio.Status)

	h.mu.Lock()
	assert.Equal(t, []models.Status{models.StatusPassed, models.StatusFailed}, h.changes)
	h.mu.Unlock()

	m, err := h.p.Menu(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Failed", m.ValidationStatus)
	require.NotNil(t, m.Issuer)
	assert.Equal(t, "Example CA", *m.Issuer)
	require.NotNil(t, m.Alert)
	assert.Equal(t, "The segment between 00:04-00:06 may have been tampered with", *m.Alert)
}

func TestPlayer_UnknownWithoutAudioResult(t *testing.T) {
	h := newHarness(t)
	h.init(models.MediaVideo)
	h.init(models.MediaAudio)
	h.media(models.MediaVideo, "v0", 0, 4)
	h.sync()

	h.bus.Emit(player.EventPlay, nil)
	h.play(0, 1)
	h.sync()

	snap := h.snapshot()
	assert.Equal(t, models.StatusUnknown, snap.Status)
	audio, ok := timeline.Evaluation{Details: snap.Details}.Detail(models.MediaAudio)
	require.True(t, ok)
	assert.Equal(t, timeline.ReasonNoSegment, audio.Reason)
}

func TestPlayer_MediaBeforeInitIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.media(models.MediaVideo, "v0", 0, 4)
	h.sync()
	h.init(models.MediaVideo)
	h.sync()

	n, err := h.p.Len(context.Background(), models.NewTag("s1", models.MediaVideo, "rep0"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, h.reader.Calls())
}

func TestPlayer_ForwardJumpIsNotEvaluated(t *testing.T) {
	h := newHarness(t)
	h.loadMixed()
	h.bus.Emit(player.EventPlay, nil)

	h.play(0, 1)
	// A jump over the tampered range without a seek event.
	h.bus.Emit(player.EventPlaybackTimeUpdated, player.TimeUpdate{Time: 5})
	h.sync()

	snap := h.snapshot()
	assert.Equal(t, models.StatusPassed, snap.Status)
	assert.Equal(t, 5.0, snap.State.LastPlaybackTime)
	require.Len(t, snap.Segments, 1)
	assert.Equal(t, 1.0, snap.Segments[0].End)

	h.play(5.25, 5.25)
	h.sync()
	assert.Equal(t, models.StatusFailed, h.snapshot().Status)
}

func TestPlayer_SeekForwardInsertsUnknownGap(t *testing.T) {
	h := newHarness(t)
	h.loadMixed()
	h.bus.Emit(player.EventPlay, nil)
	h.play(0, 6)

	h.bus.Emit(player.EventSeeking, player.SeekEvent{Time: 10})
	h.bus.Emit(player.EventPlaybackTimeUpdated, player.TimeUpdate{Time: 10.1})
	h.bus.Emit(player.EventSeeked, player.SeekEvent{Time: 10})
	h.play(10.25, 10.25)
	h.sync()

	snap := h.snapshot()
	assert.Equal(t, models.StatusUnknown, snap.Status)
	require.Len(t, snap.Segments, 3)
	assert.Equal(t,
		[]models.Status{models.StatusPassed, models.StatusFailed, models.StatusUnknown},
		statuses(snap.Segments))
	assert.Equal(t, 6.0, snap.Segments[2].Start)
	assert.Equal(t, 10.25, snap.Segments[2].End)
	assert.False(t, snap.State.Seeking)
}

func TestPlayer_SeekBackTrimsSegments(t *testing.T) {
	h := newHarness(t)
	h.loadMixed()
	h.bus.Emit(player.EventPlay, nil)
	h.play(0, 6)

	h.bus.Emit(player.EventSeeking, player.SeekEvent{Time: 2})
	h.bus.Emit(player.EventSeeked, player.SeekEvent{Time: 2})
	h.sync()

	snap := h.snapshot()
	require.Len(t, snap.Segments, 1)
	assert.Equal(t, models.StatusPassed, snap.Segments[0].Status)
	assert.Equal(t, 2.0, snap.Segments[0].End)
	assert.False(t, snap.Gate.Compromised)
	assert.Empty(t, snap.Compromised)
}

func TestPlayer_SeekToZeroClears(t *testing.T) {
	h := newHarness(t)
	h.loadMixed()
	h.bus.Emit(player.EventPlay, nil)
	h.play(0, 6)

	h.bus.Emit(player.EventSeeking, player.SeekEvent{Time: 0})
	h.sync()

	snap := h.snapshot()
	assert.Empty(t, snap.Segments)
	assert.Zero(t, snap.State.LastPlaybackTime)
	assert.False(t, snap.State.Seeking)
}

func TestPlayer_FrictionGate(t *testing.T) {
	h := newHarness(t)
	h.reader.Default = c2patest.InvalidManifest("assertion.dataHash.mismatch")
	h.init(models.MediaVideo)
	h.media(models.MediaVideo, "v0", 0, 4)
	h.sync()

	h.play(0, 0)
	h.bus.Emit(player.EventPlay, nil)
	h.sync()

	snap := h.snapshot()
	assert.True(t, snap.Gate.Blocking)
	assert.Equal(t, "Watch Anyway", snap.Gate.Action)
	assert.False(t, snap.State.PlaybackStarted)
	assert.Equal(t, []string{player.CommandPause}, h.host.Drain())

	h.bus.Emit(player.EventPlay, nil)
	h.sync()
	assert.Equal(t, []string{player.CommandPause}, h.host.Drain(), "play while blocked pauses again")

	h.bus.Emit(player.EventAcknowledge, nil)
	h.sync()
	snap = h.snapshot()
	assert.False(t, snap.Gate.Blocking)
	assert.True(t, snap.State.PlaybackStarted)
	assert.Equal(t, []string{player.CommandPlay}, h.host.Drain())

	h.bus.Emit(player.EventPlay, nil)
	h.sync()
	assert.Empty(t, h.host.Drain(), "the gate is shown once")

	h.mu.Lock()
	assert.Equal(t, 2, h.friction)
	h.mu.Unlock()
}

func TestPlayer_GateUsesCurrentStatusWithoutTicks(t *testing.T) {
	h := newHarness(t)
	h.reader.Default = c2patest.InvalidManifest("assertion.dataHash.mismatch")
	h.init(models.MediaVideo)
	h.media(models.MediaVideo, "v0", 0, 4)
	h.sync()

	h.bus.Emit(player.EventPlay, nil)
	h.sync()
	assert.True(t, h.snapshot().Gate.Blocking)
}

func TestPlayer_PlaybackEndedResets(t *testing.T) {
	h := newHarness(t)
	h.loadMixed()
	h.bus.Emit(player.EventPlay, nil)
	h.play(0, 6)
	h.bus.Emit(player.EventPlaybackEnded, nil)
	h.sync()

	snap := h.snapshot()
	assert.Empty(t, snap.Segments)
	assert.Equal(t, models.StatusUnknown, snap.Status)
	assert.False(t, snap.State.PlaybackStarted)
	assert.Empty(t, snap.State.CurrentQuality)

	n, err := h.p.Len(context.Background(), models.NewTag("s1", models.MediaVideo, "rep0"))
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the index survives the end of playback")
}

func TestPlayer_Monolithic(t *testing.T) {
	h := newHarness(t)
	file := []byte("whole file")
	h.reader.Set(file, c2patest.InvalidManifest("assertion.dataHash.mismatch"), nil)

	res, err := h.p.SetMonolithic(context.Background(), file)
	require.NoError(t, err)
	require.NotNil(t, res.Manifest)

	h.bus.Emit(player.EventDurationChange, player.DurationChange{Duration: 20})
	h.bus.Emit(player.EventPlay, nil)
	h.play(0, 1)
	h.sync()

	snap := h.snapshot()
	assert.True(t, snap.Monolithic)
	assert.True(t, snap.Gate.Blocking, "the monolithic status gates playback")
	assert.Equal(t, []string{"00:00-00:20"}, snap.Compromised)

	m, err := h.p.Menu(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Failed", m.ValidationStatus)
	require.NotNil(t, m.Name)
	assert.Equal(t, "Jane Producer", *m.Name)
}

func TestPlayer_CloseDropsPendingResults(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := player.NewBus()
	reader := c2patest.NewReader()
	reader.Gate = make(chan struct{})
	p := player.New(bus, player.Options{ID: "p1", Reader: reader})

	emit := func(kind models.SegmentKind, payload []byte) {
		bus.Emit(player.EventSegmentResponse, player.SegmentResponse{Segment: models.SegmentDescriptor{
			StreamID: "s1", MediaType: models.MediaVideo, RepresentationID: "rep0",
			Kind: kind, Payload: payload, Start: 0, End: 4,
		}})
	}
	emit(models.KindInitialization, c2patest.InitSegment(true))
	emit(models.KindMedia, c2patest.MediaSegment("v0"))
	require.NoError(t, p.Do(context.Background(), func() {}))

	p.Close()
	p.Close()

	assert.Zero(t, bus.Subscribers(player.EventSegmentResponse))
	assert.ErrorIs(t, p.Dispatch(player.EventPlay, nil), player.ErrClosed)
	_, err := p.Snapshot(context.Background())
	assert.ErrorIs(t, err, player.ErrClosed)
}

// A quality switch moves lookups to the new representation's index. The
// switch notification lands after the time update at 4.0; the frame lag
// keeps that update on rep0's [0, 4) instead of reporting a gap.
func TestPlayer_QualitySwitch(t *testing.T) {
	h := newHarness(t)
	h.reader.Set(c2patest.MediaSegment("hi-v1"), c2patest.InvalidManifest("assertion.dataHash.mismatch"), nil)
	h.init(models.MediaVideo)
	h.segmentOf(models.MediaVideo, "rep1", models.KindInitialization, c2patest.InitSegment(true), 0, 0)
	h.init(models.MediaAudio)
	h.media(models.MediaVideo, "v0", 0, 4)
	h.segmentOf(models.MediaVideo, "rep1", models.KindMedia, c2patest.MediaSegment("hi-v1"), 4, 8)
	h.media(models.MediaAudio, "a0", 0, 4)
	h.media(models.MediaAudio, "a1", 4, 8)
	h.sync()

	h.bus.Emit(player.EventDurationChange, player.DurationChange{Duration: 8})
	h.bus.Emit(player.EventPlay, nil)
	h.play(0, 4)
	h.switchTo(models.MediaVideo, "rep1")
	h.play(4.25, 6)
	h.sync()

	snap := h.snapshot()
	assert.Equal(t, "rep1", snap.State.CurrentQuality[models.MediaVideo])
	require.Len(t, snap.Segments, 2)
	assert.Equal(t, []models.Status{models.StatusPassed, models.StatusFailed}, statuses(snap.Segments))
	assert.Equal(t, 4.25, snap.Segments[0].End)
	assert.Equal(t, 6.0, snap.Segments[1].End)
	assert.Equal(t, []models.Status{models.StatusPassed, models.StatusFailed}, h.changeList(),
		"no unknown between the representations")

	// Switch back and re-fetch rep0's first interval: the re-fetch replaces
	// the indexed result instead of adding a second one.
	h.reader.Set(c2patest.MediaSegment("v0-refetch"), c2patest.InvalidManifest("assertion.dataHash.mismatch"), nil)
	h.bus.Emit(player.EventSeeking, player.SeekEvent{Time: 0})
	h.bus.Emit(player.EventSeeked, player.SeekEvent{Time: 0})
	h.switchTo(models.MediaVideo, "rep0")
	h.media(models.MediaVideo, "v0-refetch", 0, 4)
	h.sync()
	assert.Equal(t, 1, h.indexed("rep0"))
	assert.Equal(t, 1, h.indexed("rep1"))

	h.play(0, 2)
	h.sync()
	snap = h.snapshot()
	assert.Equal(t, "rep0", snap.State.CurrentQuality[models.MediaVideo])
	assert.Equal(t, models.StatusFailed, snap.Status, "the re-fetched result is used")
}

// A re-fetch that finishes before an earlier fetch of the same interval
// keeps its result.
func TestPlayer_RefetchOutOfOrder(t *testing.T) {
	h := newHarness(t)
	older := c2patest.MediaSegment("v0-old")
	h.reader.Set(older, c2patest.InvalidManifest("assertion.dataHash.mismatch"), nil)
	release := h.reader.Hold(older)
	defer release()

	h.init(models.MediaVideo)
	h.media(models.MediaVideo, "v0-old", 0, 4)
	h.media(models.MediaVideo, "v0-new", 0, 4)
	require.Eventually(t, func() bool { return h.indexed("rep0") == 1 }, 5*time.Second, time.Millisecond)

	release()
	h.sync()
	assert.Equal(t, 1, h.indexed("rep0"))

	h.play(0, 1)
	h.sync()
	assert.Equal(t, models.StatusPassed, h.snapshot().Status)
}

// Sync must be safe while other goroutines keep posting segments.
func TestPlayer_SyncWithConcurrentSegments(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := player.NewBus()
	p := player.New(bus, player.Options{ID: "p1", Reader: c2patest.NewReader()})
	defer p.Close()

	emit := func(kind models.SegmentKind, payload []byte, start, end float64) {
		bus.Emit(player.EventSegmentResponse, player.SegmentResponse{Segment: models.SegmentDescriptor{
			StreamID: "s1", MediaType: models.MediaVideo, RepresentationID: "rep0",
			Kind: kind, Payload: payload, Start: start, End: end,
		}})
	}
	emit(models.KindInitialization, c2patest.InitSegment(true), 0, 0)

	const segments = 500
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < segments; i++ {
			emit(models.KindMedia, c2patest.MediaSegment(fmt.Sprintf("v%d", i)), float64(i), float64(i+1))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			assert.NoError(t, p.Sync(ctx))
		}
	}()
	wg.Wait()

	require.NoError(t, p.Sync(ctx))
	n, err := p.Len(ctx, models.NewTag("s1", models.MediaVideo, "rep0"))
	require.NoError(t, err)
	assert.Equal(t, segments, n)
}
