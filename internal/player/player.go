// Package player owns the verification state of one media player: the
// extractor, the interval index, the timeline, the progress renderer, the
// gate and the playback state. All state is mutated on a single event loop
// goroutine; extraction runs in the background and posts results back.
package player

import (
	"context"
	"errors"
	"math"
	"sync"

	"c2pastreamd/internal/c2pa"
	"c2pastreamd/internal/cache"
	"c2pastreamd/internal/extract"
	"c2pastreamd/internal/gate"
	"c2pastreamd/internal/interval"
	"c2pastreamd/internal/logger"
	"c2pastreamd/internal/menu"
	"c2pastreamd/internal/models"
	"c2pastreamd/internal/progress"
	"c2pastreamd/internal/store"
	"c2pastreamd/internal/timeline"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("player closed")

const (
	// DefaultFrameInterval is the lag applied to index lookups. A quality
	// change notification may arrive up to one frame after the first time
	// update rendered with the new representation, so the index is read one
	// frame behind the playhead.
	DefaultFrameInterval = 1.0 / 30
	// DefaultSeekThreshold is the largest forward step treated as
	// continuous playback.
	DefaultSeekThreshold = 0.5
)

// Options configures a Player.
type Options struct {
	ID      string
	Reader  c2pa.Reader
	Inits   *cache.InitCache
	Results *store.ResultStore
	Probe   bool

	Epsilon       float64
	FrameInterval float64
	SeekThreshold float64
	Duration      float64

	Port   progress.Port
	Host   gate.Host
	Logger logger.Logger
}

// PlaybackState is the per-player playback bookkeeping.
type PlaybackState struct {
	CurrentQuality   map[models.MediaType]string `json:"currentQuality"`
	StreamID         string                      `json:"streamId,omitempty"`
	LastPlaybackTime float64                     `json:"lastPlaybackTime"`
	Seeking          bool                        `json:"seeking"`
	PlaybackStarted  bool                        `json:"playbackStarted"`
	VerificationTime float64                     `json:"verificationTime"`
}

func newPlaybackState() PlaybackState {
	return PlaybackState{CurrentQuality: make(map[models.MediaType]string)}
}

func (s PlaybackState) clone() PlaybackState {
	out := s
	out.CurrentQuality = make(map[models.MediaType]string, len(s.CurrentQuality))
	for k, v := range s.CurrentQuality {
		out.CurrentQuality[k] = v
	}
	return out
}

// Player is one verification context.
type Player struct {
	id     string
	opts   Options
	logger logger.Logger

	source Source
	tokens []Token
	notify *Bus

	box       *mailbox
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	state      PlaybackState
	duration   float64
	index      *interval.Registry
	timeline   *timeline.Timeline
	renderer   *progress.Renderer
	gate       *gate.Gate
	extractor  *extract.Extractor
	lastEval   timeline.Evaluation
	monolithic *extract.Result

	// Extraction bookkeeping, also loop-owned. Every media submission gets
	// the next seq; inflight holds the unfinished ones, applied the seq of
	// the result last inserted per tag and interval.
	seq      uint64
	inflight map[uint64]struct{}
	applied  map[resultKey]uint64
	waiters  []syncWaiter
}

type resultKey struct {
	tag      models.Tag
	interval models.Interval
}

// syncWaiter is released once every submission up to target has finished.
type syncWaiter struct {
	target   uint64
	released chan struct{}
}

// New creates a Player, subscribes it to source and starts its loop.
// A nil source is allowed; events can then be delivered with Dispatch.
func New(source Source, opts Options) *Player {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	if opts.SeekThreshold <= 0 {
		opts.SeekThreshold = DefaultSeekThreshold
	}
	if opts.Host == nil {
		opts.Host = &CommandQueue{}
	}

	index := interval.NewRegistry(opts.Epsilon)
	p := &Player{
		id:       opts.ID,
		opts:     opts,
		logger:   opts.Logger,
		source:   source,
		notify:   NewBus(),
		box:      newMailbox(),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    newPlaybackState(),
		duration: opts.Duration,
		index:    index,
		timeline: timeline.New(index, opts.Logger),
		renderer: progress.New(opts.Port, false),
		inflight: make(map[uint64]struct{}),
		applied:  make(map[resultKey]uint64),
		gate:     gate.New(opts.Host),
		extractor: extract.New(extract.Options{
			Reader:  opts.Reader,
			Inits:   opts.Inits,
			Scope:   opts.ID,
			Results: opts.Results,
			Probe:   opts.Probe,
			Logger:  opts.Logger,
		}),
	}

	if source != nil {
		for _, ev := range InboundEvents {
			ev := ev
			p.tokens = append(p.tokens, source.On(ev, func(payload any) {
				p.box.push(func() { p.handle(ev, payload) })
			}))
		}
	}

	go p.loop()
	return p
}

// ID returns the player identifier.
func (p *Player) ID() string { return p.id }

// Notifications is the outbound event source (status changes, friction).
func (p *Player) Notifications() *Bus { return p.notify }

// Dispatch queues an inbound event without going through a Source.
func (p *Player) Dispatch(event Event, payload any) error {
	if !p.box.push(func() { p.handle(event, payload) }) {
		return ErrClosed
	}
	return nil
}

func (p *Player) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.quit:
			return
		case <-p.box.signal:
			for _, fn := range p.box.drain() {
				select {
				case <-p.quit:
					return
				default:
				}
				fn()
			}
		}
	}
}

// Do runs fn on the loop and waits for it.
func (p *Player) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !p.box.push(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync waits until every event queued so far has been handled and every
// extraction those events started has been indexed. Extractions started
// later, by concurrent callers, are not waited for.
func (p *Player) Sync(ctx context.Context) error {
	released := make(chan struct{})
	if err := p.Do(ctx, func() {
		p.waiters = append(p.waiters, syncWaiter{target: p.seq, released: released})
		p.releaseWaiters()
	}); err != nil {
		return err
	}
	select {
	case <-released:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// releaseWaiters releases the Sync callers whose submissions have all
// finished.
func (p *Player) releaseWaiters() {
	oldest := uint64(math.MaxUint64)
	for seq := range p.inflight {
		oldest = min(oldest, seq)
	}
	kept := p.waiters[:0]
	for _, w := range p.waiters {
		if w.target < oldest {
			close(w.released)
		} else {
			kept = append(kept, w)
		}
	}
	p.waiters = kept
}

// Close unsubscribes from the source, stops the loop, cancels pending
// extractions and clears all state. Results arriving later are dropped.
func (p *Player) Close() {
	p.closeOnce.Do(func() {
		if p.source != nil {
			for _, tok := range p.tokens {
				p.source.Off(tok)
			}
		}
		p.tokens = nil
		p.box.close()
		close(p.quit)
		<-p.done
		p.extractor.Close()

		p.state = newPlaybackState()
		p.index.Reset()
		p.inflight = make(map[uint64]struct{})
		p.applied = make(map[resultKey]uint64)
		p.waiters = nil
		p.renderer.Reset()
		p.timeline.Reset()
		p.gate.Reset()
		p.monolithic = nil
		p.logger.Infof("Player %s disposed", p.id)
	})
}

func (p *Player) handle(event Event, payload any) {
	switch event {
	case EventSegmentResponse:
		if ev, ok := payload.(SegmentResponse); ok {
			p.onSegment(ev.Segment)
			return
		}
	case EventQualityChangeRendered:
		if ev, ok := payload.(QualityChange); ok {
			p.state.CurrentQuality[ev.MediaType] = ev.RepresentationID
			p.logger.Debugf("Quality change rendered: %s -> %s", ev.MediaType, ev.RepresentationID)
			return
		}
	case EventPlaybackTimeUpdated:
		if ev, ok := payload.(TimeUpdate); ok {
			p.onTimeUpdate(ev)
			return
		}
	case EventPlaybackEnded:
		p.onEnded()
		return
	case EventDurationChange:
		if ev, ok := payload.(DurationChange); ok {
			p.duration = ev.Duration
			return
		}
	case EventPlay:
		p.onPlay()
		return
	case EventSeeking:
		if ev, ok := payload.(SeekEvent); ok {
			p.onSeeking(ev.Time)
			return
		}
	case EventSeeked:
		if ev, ok := payload.(SeekEvent); ok {
			p.state.Seeking = false
			// The next time update continues from the seek target.
			p.state.LastPlaybackTime = ev.Time
			return
		}
	case EventAcknowledge:
		if p.gate.Acknowledge() {
			p.state.PlaybackStarted = true
		}
		return
	}
	p.logger.Warnf("Dropping %s event with unexpected payload %T", event, payload)
}

func (p *Player) onSegment(desc models.SegmentDescriptor) {
	if _, ok := p.state.CurrentQuality[desc.MediaType]; !ok && desc.RepresentationID != "" {
		p.state.CurrentQuality[desc.MediaType] = desc.RepresentationID
	}
	if p.state.StreamID == "" {
		p.state.StreamID = desc.StreamID
	}

	if desc.Kind == models.KindInitialization {
		p.extractor.Extract(context.Background(), desc)
		return
	}
	p.seq++
	seq := p.seq
	p.inflight[seq] = struct{}{}
	p.extractor.Submit(desc, func(res extract.Result, ok bool) {
		p.box.push(func() { p.onResult(seq, res, ok) })
	})
}

// onResult indexes a finished extraction. Re-fetches of an interval may
// finish out of order; the most recent submission wins.
func (p *Player) onResult(seq uint64, res extract.Result, ok bool) {
	delete(p.inflight, seq)
	if ok {
		key := resultKey{tag: res.Tag, interval: res.Interval}
		if seq < p.applied[key] {
			p.logger.Debugf("Dropping stale result for %s %s", res.Tag, res.Interval)
		} else {
			p.applied[key] = seq
			if p.index.Insert(res) {
				p.logger.Debugf("Replaced result for %s %s", res.Tag, res.Interval)
			}
		}
	}
	p.releaseWaiters()
}

// activeTags returns the tag of the current representation per media type.
func (p *Player) activeTags() map[models.MediaType]models.Tag {
	tags := make(map[models.MediaType]models.Tag, len(p.state.CurrentQuality))
	for mt, rep := range p.state.CurrentQuality {
		tags[mt] = models.NewTag(p.state.StreamID, mt, rep)
	}
	return tags
}

func (p *Player) onTimeUpdate(ev TimeUpdate) {
	if ev.StreamID != "" {
		p.state.StreamID = ev.StreamID
	}
	t := ev.Time
	last := p.state.LastPlaybackTime
	if !p.state.Seeking && t >= last && t-last < p.opts.SeekThreshold {
		p.tick(t)
	}
	p.state.LastPlaybackTime = t
}

func (p *Player) tick(t float64) {
	vt := math.Max(0, t-p.opts.FrameInterval)
	p.state.VerificationTime = vt

	var eval timeline.Evaluation
	if p.monolithic != nil {
		eval = p.timeline.EvaluateResult(vt, *p.monolithic)
	} else {
		eval = p.timeline.Evaluate(vt, p.activeTags())
	}

	p.renderer.Update(eval.Status, t, eval.Manifest())
	p.gate.Observe(eval.Status)
	p.gate.SetCompromised(p.renderer.HasFailed())
	p.lastEval = eval

	if eval.Changed {
		p.notify.Emit(EventStatusChanged, eval)
	}
}

// statusAt computes the status at t without recording it.
func (p *Player) statusAt(t float64) models.Status {
	vt := math.Max(0, t-p.opts.FrameInterval)
	if p.monolithic != nil {
		s, _ := timeline.Classify(*p.monolithic)
		return s
	}
	return p.timeline.Peek(vt, p.activeTags()).Status
}

func (p *Player) onPlay() {
	blocked := p.gate.OnPlay(func() models.Status { return p.statusAt(p.state.LastPlaybackTime) })
	p.state.PlaybackStarted = p.gate.PlaybackStarted()
	if blocked {
		p.logger.Infof("Player %s: playback blocked by friction gate", p.id)
		p.notify.Emit(EventFrictionShown, p.gate.State())
	}
}

func (p *Player) onSeeking(t float64) {
	p.state.Seeking = true
	if t == 0 {
		p.renderer.Reset()
		p.state.LastPlaybackTime = 0
		p.state.Seeking = false
		p.gate.SetCompromised(false)
		return
	}
	p.renderer.Seek(t, p.state.PlaybackStarted)
	p.gate.SetCompromised(p.renderer.HasFailed())
}

func (p *Player) onEnded() {
	p.logger.Infof("Player %s: playback ended, resetting state", p.id)
	p.state = newPlaybackState()
	p.renderer.Reset()
	p.timeline.Reset()
	p.gate.Reset()
	p.lastEval = timeline.Evaluation{}
}

// SetMonolithic verifies a whole media file once; every later accepted tick
// reports its status.
func (p *Player) SetMonolithic(ctx context.Context, data []byte) (extract.Result, error) {
	res := p.extractor.ExtractFile(ctx, data)
	return res, p.SetMonolithicResult(ctx, res)
}

// SetMonolithicResult installs an already extracted whole-file result.
func (p *Player) SetMonolithicResult(ctx context.Context, res extract.Result) error {
	return p.Do(ctx, func() {
		p.monolithic = &res
		p.renderer.SetMonolithic(true)
	})
}

// Snapshot is a read-only view of a player.
type Snapshot struct {
	ID          string                `json:"id"`
	Monolithic  bool                  `json:"monolithic"`
	Duration    float64               `json:"duration"`
	State       PlaybackState         `json:"state"`
	Status      models.Status         `json:"verified"`
	Details     []timeline.TypeStatus `json:"details"`
	Segments    []progress.Segment    `json:"segments"`
	Placements  []progress.Placement  `json:"placements"`
	Compromised []string              `json:"compromised"`
	Gate        gate.State            `json:"gate"`
}

// Snapshot returns the current state.
func (p *Player) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := p.Do(ctx, func() {
		snap = Snapshot{
			ID:          p.id,
			Monolithic:  p.monolithic != nil,
			Duration:    p.duration,
			State:       p.state.clone(),
			Status:      p.timeline.Status(),
			Details:     p.lastEval.Details,
			Segments:    p.renderer.Segments(),
			Placements:  p.renderer.Placements(p.state.LastPlaybackTime, p.duration),
			Compromised: p.renderer.Compromised(p.duration),
			Gate:        p.gate.State(),
		}
	})
	return snap, err
}

// Menu resolves the manifest detail menu for the active manifest: the
// monolithic file's manifest, else the most recent progress segment's.
func (p *Player) Menu(ctx context.Context) (menu.Menu, error) {
	var m menu.Menu
	err := p.Do(ctx, func() {
		var manifest *c2pa.Manifest
		if p.monolithic != nil {
			manifest = p.monolithic.Manifest
		} else if last, ok := p.renderer.Last(); ok {
			manifest = last.Manifest
		}
		m = menu.Build(manifest, p.timeline.Status(), p.renderer.Compromised(p.duration))
	})
	return m, err
}

// Len returns the number of indexed results for tag.
func (p *Player) Len(ctx context.Context, tag models.Tag) (int, error) {
	var n int
	err := p.Do(ctx, func() { n = p.index.Len(tag) })
	return n, err
}
