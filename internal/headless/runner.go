// Package headless plays a DASH presentation without a media element: it
// downloads the segments a player would fetch, replays the transport events
// into a verification player, ticks the playhead and reports the outcome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"c2pastreamd/internal/c2pa"
	"c2pastreamd/internal/dash"
	"c2pastreamd/internal/gate"
	"c2pastreamd/internal/logger"
	"c2pastreamd/internal/menu"
	"c2pastreamd/internal/models"
	"c2pastreamd/internal/player"
	"c2pastreamd/internal/progress"
	"c2pastreamd/internal/store"
	"c2pastreamd/internal/timeline"
)

// DefaultStep is the playhead advance between time updates.
const DefaultStep = 0.25

// Seek jumps the playhead to To once playback reaches At.
type Seek struct {
	At float64 `json:"at"`
	To float64 `json:"to"`
}

// Options configures a Runner.
type Options struct {
	MPDURL     string
	Client     *dash.Client
	Downloader *dash.SegmentDownloader
	Reader     c2pa.Reader
	Results    *store.ResultStore
	Probe      bool

	Epsilon       float64
	FrameInterval float64
	SeekThreshold float64

	Step    float64
	Seeks   []Seek
	Workers int
	// AutoAcknowledge dismisses the friction gate as a viewer pressing
	// "Watch Anyway" would.
	AutoAcknowledge bool

	Logger logger.Logger
}

// Track is one selected representation.
type Track struct {
	MediaType        models.MediaType `json:"mediaType"`
	RepresentationID string           `json:"representationId"`
	Bandwidth        int              `json:"bandwidth"`
	Segments         int              `json:"segments"`
	Failed           int              `json:"failedDownloads"`
}

// Transition is an aggregate status change observed during playback.
type Transition struct {
	Time   float64       `json:"time"`
	Status models.Status `json:"verified"`
}

// Report is the outcome of one headless playback.
type Report struct {
	MPDURL        string             `json:"mpdUrl"`
	StreamID      string             `json:"streamId"`
	Duration      float64            `json:"duration"`
	Tracks        []Track            `json:"tracks"`
	Status        models.Status      `json:"verified"`
	Transitions   []Transition       `json:"transitions"`
	Segments      []progress.Segment `json:"segments"`
	Compromised   []string           `json:"compromised"`
	FrictionShown bool               `json:"frictionShown"`
	// Blocked reports that the friction gate stopped playback before it
	// started; no time updates were played.
	Blocked     bool       `json:"blocked"`
	Gate        gate.State `json:"gate"`
	Menu        menu.Menu  `json:"menu"`
	GeneratedAt time.Time  `json:"generatedAt"`
}

// Runner performs headless playbacks.
type Runner struct {
	opts   Options
	logger logger.Logger
}

// NewRunner creates a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.MPDURL == "" {
		return nil, errors.New("headless: MPD URL is required")
	}
	if opts.Client == nil || opts.Downloader == nil {
		return nil, errors.New("headless: client and downloader are required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Step <= 0 {
		opts.Step = DefaultStep
	}
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	sort.Slice(opts.Seeks, func(i, j int) bool { return opts.Seeks[i].At < opts.Seeks[j].At })
	return &Runner{opts: opts, logger: opts.Logger}, nil
}

// plannedTrack is a selected representation and its fetched segments.
type plannedTrack struct {
	track   Track
	initURL string
	refs    []dash.SegmentRef
	init    []byte
	media   [][]byte
}

// Run plays the presentation once.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	mpd, finalURL, err := r.opts.Client.FetchAndParseMPD(ctx, r.opts.MPDURL)
	if err != nil {
		return nil, err
	}
	period := &mpd.Periods[0]
	streamID := period.ID
	if streamID == "" {
		streamID = "0"
	}

	tracks, err := r.plan(finalURL, mpd, period)
	if err != nil {
		return nil, err
	}
	if err := r.download(ctx, tracks); err != nil {
		return nil, err
	}

	duration, err := presentationDuration(mpd, tracks)
	if err != nil {
		return nil, err
	}
	return r.play(ctx, streamID, duration, tracks)
}

// plan selects the highest-bandwidth video representation and the first
// audio representation of the first period.
func (r *Runner) plan(mpdURL string, mpd *dash.MPD, period *dash.Period) ([]*plannedTrack, error) {
	var video, audio *plannedTrack
	for i := range period.Sets {
		as := &period.Sets[i]
		mt, err := models.ParseMediaType(as.MediaType())
		if err != nil || len(as.Representations) == 0 {
			continue
		}

		switch mt {
		case models.MediaVideo:
			best := &as.Representations[0]
			for j := range as.Representations {
				if as.Representations[j].Bandwidth > best.Bandwidth {
					best = &as.Representations[j]
				}
			}
			if video != nil && video.track.Bandwidth >= best.Bandwidth {
				continue
			}
			pt, err := planTrack(mpdURL, mpd, period, as, best, mt)
			if err != nil {
				return nil, err
			}
			video = pt
		case models.MediaAudio:
			if audio != nil {
				continue
			}
			pt, err := planTrack(mpdURL, mpd, period, as, &as.Representations[0], mt)
			if err != nil {
				return nil, err
			}
			audio = pt
		}
	}

	var out []*plannedTrack
	for _, pt := range []*plannedTrack{video, audio} {
		if pt != nil {
			r.logger.Infof("Selected %s representation %s (%d segments)", pt.track.MediaType, pt.track.RepresentationID, len(pt.refs))
			out = append(out, pt)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("headless: no video or audio representation found")
	}
	return out, nil
}

func planTrack(mpdURL string, mpd *dash.MPD, period *dash.Period, as *dash.AdaptationSet, rep *dash.Representation, mt models.MediaType) (*plannedTrack, error) {
	initURL, err := dash.BuildInitSegmentURL(mpdURL, mpd, period, as, rep)
	if err != nil {
		return nil, err
	}
	refs, err := dash.ConvertTimeline(mpdURL, mpd, period, as, rep)
	if err != nil {
		return nil, err
	}
	return &plannedTrack{
		track: Track{
			MediaType:        mt,
			RepresentationID: rep.ID,
			Bandwidth:        rep.Bandwidth,
			Segments:         len(refs),
		},
		initURL: initURL,
		refs:    refs,
		media:   make([][]byte, len(refs)),
	}, nil
}

// download fetches all segments in parallel. A missing init segment fails
// the run; a missing media segment is left out and reads as unknown.
func (r *Runner) download(ctx context.Context, tracks []*plannedTrack) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	var mu sync.Mutex
	for _, pt := range tracks {
		pt := pt
		g.Go(func() error {
			data, err := r.opts.Downloader.Download(ctx, pt.initURL)
			if err != nil {
				return fmt.Errorf("init segment of %s: %w", pt.track.RepresentationID, err)
			}
			pt.init = data
			return nil
		})
		for i, ref := range pt.refs {
			i, ref := i, ref
			g.Go(func() error {
				data, err := r.opts.Downloader.Download(ctx, ref.URL)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					r.logger.Warnf("Skipping segment %s: %v", ref.URL, err)
					mu.Lock()
					pt.track.Failed++
					mu.Unlock()
					return nil
				}
				pt.media[i] = data
				return nil
			})
		}
	}
	return g.Wait()
}

func presentationDuration(mpd *dash.MPD, tracks []*plannedTrack) (float64, error) {
	d, err := mpd.GetDuration()
	if err != nil {
		return 0, fmt.Errorf("invalid mediaPresentationDuration: %w", err)
	}
	if d > 0 {
		return d.Seconds(), nil
	}
	var end float64
	for _, pt := range tracks {
		if n := len(pt.refs); n > 0 {
			end = math.Max(end, pt.refs[n-1].End)
		}
	}
	return end, nil
}

type mediaEvent struct {
	track *plannedTrack
	index int
}

// play replays the downloaded segments and the playhead into a player.
func (r *Runner) play(ctx context.Context, streamID string, duration float64, tracks []*plannedTrack) (*Report, error) {
	bus := player.NewBus()
	host := &player.CommandQueue{}
	p := player.New(bus, player.Options{
		ID:            "headless-" + streamID,
		Reader:        r.opts.Reader,
		Results:       r.opts.Results,
		Probe:         r.opts.Probe,
		Epsilon:       r.opts.Epsilon,
		FrameInterval: r.opts.FrameInterval,
		SeekThreshold: r.opts.SeekThreshold,
		Host:          host,
		Logger:        r.logger,
	})
	defer p.Close()

	report := &Report{
		MPDURL:   r.opts.MPDURL,
		StreamID: streamID,
		Duration: duration,
	}
	p.Notifications().On(player.EventStatusChanged, func(payload any) {
		if eval, ok := payload.(timeline.Evaluation); ok {
			report.Transitions = append(report.Transitions, Transition{Time: eval.Time, Status: eval.Status})
		}
	})
	p.Notifications().On(player.EventFrictionShown, func(any) {
		report.FrictionShown = true
	})

	segment := func(pt *plannedTrack, kind models.SegmentKind, payload []byte, ref dash.SegmentRef) {
		bus.Emit(player.EventSegmentResponse, player.SegmentResponse{Segment: models.SegmentDescriptor{
			StreamID:         streamID,
			MediaType:        pt.track.MediaType,
			RepresentationID: pt.track.RepresentationID,
			Kind:             kind,
			Payload:          payload,
			Start:            ref.Start,
			End:              ref.End,
		}})
	}

	bus.Emit(player.EventDurationChange, player.DurationChange{Duration: duration})
	var events []mediaEvent
	for _, pt := range tracks {
		bus.Emit(player.EventQualityChangeRendered, player.QualityChange{
			MediaType:        pt.track.MediaType,
			RepresentationID: pt.track.RepresentationID,
		})
		segment(pt, models.KindInitialization, pt.init, dash.SegmentRef{})
		for i := range pt.refs {
			if pt.media[i] != nil {
				events = append(events, mediaEvent{track: pt, index: i})
			}
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].track.refs[events[i].index].Start < events[j].track.refs[events[j].index].Start
	})
	for _, ev := range events {
		segment(ev.track, models.KindMedia, ev.track.media[ev.index], ev.track.refs[ev.index])
	}
	if err := p.Sync(ctx); err != nil {
		return nil, err
	}

	bus.Emit(player.EventPlay, nil)
	if err := p.Sync(ctx); err != nil {
		return nil, err
	}
	switch {
	case report.FrictionShown && r.opts.AutoAcknowledge:
		r.logger.Warnf("Content Credentials are not trustworthy; continuing playback")
		bus.Emit(player.EventAcknowledge, nil)
	case report.FrictionShown:
		r.logger.Warnf("Playback blocked: Content Credentials are not trustworthy")
		report.Blocked = true
	}
	host.Drain()

	if !report.Blocked {
		if err := r.tick(ctx, bus, duration); err != nil {
			return nil, err
		}
	}
	if err := p.Sync(ctx); err != nil {
		return nil, err
	}

	snap, err := p.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	m, err := p.Menu(ctx)
	if err != nil {
		return nil, err
	}
	report.Tracks = make([]Track, len(tracks))
	for i, pt := range tracks {
		report.Tracks[i] = pt.track
	}
	report.Status = snap.Status
	report.Segments = snap.Segments
	report.Compromised = snap.Compromised
	report.Gate = snap.Gate
	report.Menu = m
	report.GeneratedAt = time.Now().UTC()
	return report, nil
}

// tick advances the playhead in fixed steps, applying the scripted seeks.
func (r *Runner) tick(ctx context.Context, bus *player.Bus, duration float64) error {
	seeks := r.opts.Seeks
	origin, i := 0.0, 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := origin + float64(i)*r.opts.Step
		if t > duration {
			return nil
		}
		if len(seeks) > 0 && t >= seeks[0].At {
			to := seeks[0].To
			seeks = seeks[1:]
			bus.Emit(player.EventSeeking, player.SeekEvent{Time: to})
			bus.Emit(player.EventSeeked, player.SeekEvent{Time: to})
			origin, i = to, 0
			continue
		}
		bus.Emit(player.EventPlaybackTimeUpdated, player.TimeUpdate{Time: t})
		i++
	}
}
