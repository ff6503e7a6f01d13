// Package extract turns fetched segments into manifest extraction results.
//
// Initialization segments are remembered per tag. A media segment is only
// extracted once the init segment of its tag has been seen; otherwise it is
// skipped. Failures never escape: they become results with a nil manifest
// and an error string.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"c2pastreamd/internal/c2pa"
	"c2pastreamd/internal/cache"
	"c2pastreamd/internal/logger"
	"c2pastreamd/internal/metrics"
	"c2pastreamd/internal/models"
	"c2pastreamd/internal/store"
)

// Reasons recorded on results that carry no manifest.
const (
	ReasonNoManifest = "no manifest"
)

// Result is the outcome of extracting one media segment. It is immutable;
// a re-fetch of the same interval produces a new Result that supersedes it.
type Result struct {
	Tag      models.Tag      `json:"tag"`
	Interval models.Interval `json:"interval"`
	Manifest *c2pa.Manifest  `json:"manifest,omitempty"`
	Err      string          `json:"error,omitempty"`
}

// Sink receives the outcome of one submission. ok is false when no result
// was produced (invalid segment or missing init segment).
type Sink func(res Result, ok bool)

// Options configures an Extractor.
type Options struct {
	Reader c2pa.Reader
	Inits  *cache.InitCache
	// Scope isolates this extractor's init segments inside a shared cache.
	Scope string
	// Results is an optional content-addressed result cache.
	Results *store.ResultStore
	// Probe skips the verifier when the init segment has no C2PA box.
	Probe  bool
	Logger logger.Logger
}

// Extractor extracts manifests for one player.
type Extractor struct {
	opts   Options
	logger logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates an Extractor. A nil Inits gets a private cache without eviction.
func New(opts Options) *Extractor {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Inits == nil {
		opts.Inits = cache.New(opts.Logger, nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Extractor{
		opts:   opts,
		logger: opts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Extract handles one segment synchronously. Initialization segments are
// stored and yield no result. For media segments the bool reports whether a
// result was produced; it is false when the init segment is missing.
func (e *Extractor) Extract(ctx context.Context, desc models.SegmentDescriptor) (Result, bool) {
	if err := desc.Validate(); err != nil {
		e.logger.Warnf("Ignoring invalid segment: %v", err)
		metrics.IncExtractionSkipped("invalid")
		return Result{}, false
	}

	tag := desc.Tag()
	if desc.Kind == models.KindInitialization {
		e.opts.Inits.Set(e.opts.Scope, tag, desc.Payload)
		return Result{}, false
	}

	init, ok := e.opts.Inits.Get(e.opts.Scope, tag)
	if !ok {
		e.logger.Warnf("No initialization segment for %s, skipping extraction of %s", tag, desc.Interval())
		metrics.IncExtractionSkipped("missing_init")
		return Result{}, false
	}

	res := Result{Tag: tag, Interval: desc.Interval()}
	started := time.Now()
	m, err := e.read(ctx, init, desc.Payload)
	switch {
	case err == nil:
		res.Manifest = m
		metrics.ObserveExtraction(string(desc.MediaType), outcome(m), time.Since(started))
	case errors.Is(err, c2pa.ErrNoManifest):
		res.Err = ReasonNoManifest
		metrics.ObserveExtraction(string(desc.MediaType), "no_manifest", time.Since(started))
	default:
		res.Err = err.Error()
		metrics.ObserveExtraction(string(desc.MediaType), "error", time.Since(started))
		e.logger.Warnf("Extraction failed for %s %s: %v", tag, res.Interval, err)
	}
	return res, true
}

func outcome(m *c2pa.Manifest) string {
	if m.Valid() {
		return "valid"
	}
	return "invalid"
}

// read resolves the manifest of one fragment, consulting the result cache
// and the init box probe before the reader.
func (e *Extractor) read(ctx context.Context, init, media []byte) (*c2pa.Manifest, error) {
	if e.opts.Probe {
		has, err := c2pa.HasManifestBox(init)
		if err != nil {
			e.logger.Debugf("Init segment probe failed: %v", err)
		} else if !has {
			return nil, c2pa.ErrNoManifest
		}
	}

	var key []byte
	if e.opts.Results != nil {
		key = store.Key(init, media)
		entry, ok, err := e.opts.Results.Get(key)
		switch {
		case err != nil:
			e.logger.Warnf("Result cache lookup failed: %v", err)
			metrics.IncResultCache("error")
		case ok:
			metrics.IncResultCache("hit")
			if entry.Manifest == nil {
				return nil, c2pa.ErrNoManifest
			}
			return entry.Manifest, nil
		default:
			metrics.IncResultCache("miss")
		}
	}

	if e.opts.Reader == nil {
		return nil, errors.New("no manifest reader configured")
	}
	m, err := e.opts.Reader.ReadFragment(ctx, init, media)
	if err != nil && !errors.Is(err, c2pa.ErrNoManifest) {
		return nil, fmt.Errorf("read fragment: %w", err)
	}

	if key != nil {
		if perr := e.opts.Results.Put(key, m); perr != nil {
			e.logger.Warnf("Result cache write failed: %v", perr)
		}
	}
	if m == nil {
		return nil, c2pa.ErrNoManifest
	}
	return m, nil
}

// Submit extracts desc in the background and hands the outcome to sink.
// The sink is called exactly once per submission unless the Extractor is
// closed first, in which case it is never called.
func (e *Extractor) Submit(desc models.SegmentDescriptor, sink Sink) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		res, ok := e.Extract(e.ctx, desc)
		if e.ctx.Err() != nil {
			return
		}
		sink(res, ok)
	}()
}

// ExtractFile reads the manifest of a whole (monolithic) file. Errors are
// folded into the returned Result the same way as for fragments.
func (e *Extractor) ExtractFile(ctx context.Context, data []byte) Result {
	if e.opts.Reader == nil {
		return Result{Err: "no manifest reader configured"}
	}
	m, err := e.opts.Reader.ReadFile(ctx, data)
	switch {
	case errors.Is(err, c2pa.ErrNoManifest) || (err == nil && m == nil):
		return Result{Err: ReasonNoManifest}
	case err != nil:
		e.logger.Warnf("Extraction of monolithic file failed: %v", err)
		return Result{Err: err.Error()}
	}
	return Result{Manifest: m}
}

// Close cancels pending extractions, waits for their goroutines and drops
// the player's init segments.
func (e *Extractor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.opts.Inits.DropScope(e.opts.Scope)
}
