// Package timeline derives the verification status at a playback position
// from the interval index of each active representation.
package timeline

import (
	"c2pastreamd/internal/c2pa"
	"c2pastreamd/internal/extract"
	"c2pastreamd/internal/logger"
	"c2pastreamd/internal/metrics"
	"c2pastreamd/internal/models"
)

// Diagnostic reasons attached to unknown per-type statuses.
const (
	ReasonNoSegment = "no segment found"
	ReasonAmbiguous = "ambiguous results for interval"
)

// Querier is the read side of the interval index.
type Querier interface {
	QueryPoint(tag models.Tag, t float64) []extract.Result
}

// TypeStatus is the status of one media type at a point in time.
type TypeStatus struct {
	MediaType models.MediaType `json:"mediaType"`
	Tag       models.Tag       `json:"tag"`
	Status    models.Status    `json:"verified"`
	Reason    string           `json:"reason,omitempty"`
	Manifest  *c2pa.Manifest   `json:"manifest,omitempty"`
}

// Evaluation is the outcome of one tick.
type Evaluation struct {
	Time    float64       `json:"time"`
	Status  models.Status `json:"verified"`
	Details []TypeStatus  `json:"details"`
	// Changed reports whether Status differs from the previous evaluation.
	Changed bool `json:"-"`
}

// Manifest returns the manifest shown for this evaluation: the video
// manifest, else the first manifest of any type.
func (e Evaluation) Manifest() *c2pa.Manifest {
	var first *c2pa.Manifest
	for _, d := range e.Details {
		if d.Manifest == nil {
			continue
		}
		if d.MediaType == models.MediaVideo {
			return d.Manifest
		}
		if first == nil {
			first = d.Manifest
		}
	}
	return first
}

// Detail returns the per-type status of mt, if tracked.
func (e Evaluation) Detail(mt models.MediaType) (TypeStatus, bool) {
	for _, d := range e.Details {
		if d.MediaType == mt {
			return d, true
		}
	}
	return TypeStatus{}, false
}

// Timeline evaluates ticks and remembers the last aggregate status.
type Timeline struct {
	index  Querier
	logger logger.Logger

	last    models.Status
	hasLast bool
}

// New creates a Timeline reading from index.
func New(index Querier, log logger.Logger) *Timeline {
	return &Timeline{index: index, logger: log}
}

// Status returns the last aggregate status, unknown before the first tick.
func (tl *Timeline) Status() models.Status { return tl.last }

// Reset forgets the last status.
func (tl *Timeline) Reset() {
	tl.last = models.StatusUnknown
	tl.hasLast = false
}

// Evaluate computes the status at t for the active tags, one per media type,
// and records it as the latest aggregate.
func (tl *Timeline) Evaluate(t float64, active map[models.MediaType]models.Tag) Evaluation {
	return tl.record(tl.Peek(t, active))
}

// EvaluateResult records the status of a single result covering the whole
// media, as for a monolithic file.
func (tl *Timeline) EvaluateResult(t float64, res extract.Result) Evaluation {
	ts := TypeStatus{MediaType: models.MediaVideo, Tag: res.Tag, Manifest: res.Manifest}
	ts.Status, ts.Reason = Classify(res)
	return tl.record(Evaluation{Time: t, Status: ts.Status, Details: []TypeStatus{ts}})
}

func (tl *Timeline) record(eval Evaluation) Evaluation {
	eval.Changed = !tl.hasLast || eval.Status != tl.last
	if eval.Changed {
		metrics.IncStatusTransition(eval.Status.String())
		tl.logger.Debugf("Verification status at %.3f: %s", eval.Time, eval.Status)
	}
	tl.last = eval.Status
	tl.hasLast = true
	return eval
}

// Peek computes the status at t without recording it.
func (tl *Timeline) Peek(t float64, active map[models.MediaType]models.Tag) Evaluation {
	eval := Evaluation{Time: t}
	statuses := make([]models.Status, 0, len(active))

	for _, mt := range models.SupportedMediaTypes {
		tag, ok := active[mt]
		if !ok {
			continue
		}
		ts := tl.resolve(t, mt, tag)
		eval.Details = append(eval.Details, ts)
		statuses = append(statuses, ts.Status)
	}
	eval.Status = Aggregate(statuses)
	return eval
}

func (tl *Timeline) resolve(t float64, mt models.MediaType, tag models.Tag) TypeStatus {
	ts := TypeStatus{MediaType: mt, Tag: tag}
	results := tl.index.QueryPoint(tag, t)

	switch {
	case len(results) == 0:
		ts.Reason = ReasonNoSegment
		return ts
	case hasIdenticalIntervals(results):
		tl.logger.Warnf("Ambiguous index state for %s at %.3f: %d results", tag, t, len(results))
		metrics.IncIndexAmbiguous()
		ts.Reason = ReasonAmbiguous
		return ts
	}

	res := pick(results, t)
	ts.Status, ts.Reason = Classify(res)
	ts.Manifest = res.Manifest
	return ts
}

// Classify maps one extraction result to a status. A missing manifest is
// unknown; a manifest with validation problems is false.
func Classify(res extract.Result) (models.Status, string) {
	switch {
	case res.Manifest == nil || !res.Manifest.Present():
		reason := res.Err
		if reason == "" {
			reason = extract.ReasonNoManifest
		}
		return models.StatusUnknown, reason
	case res.Manifest.Valid():
		return models.StatusPassed, ""
	default:
		return models.StatusFailed, res.Manifest.FirstValidationError()
	}
}

// Aggregate combines per-type statuses: false if any is false, else unknown
// if any is unknown, else true. No statuses is unknown.
func Aggregate(statuses []models.Status) models.Status {
	if len(statuses) == 0 {
		return models.StatusUnknown
	}
	out := models.StatusPassed
	for _, s := range statuses {
		switch s {
		case models.StatusFailed:
			return models.StatusFailed
		case models.StatusUnknown:
			out = models.StatusUnknown
		}
	}
	return out
}

func hasIdenticalIntervals(results []extract.Result) bool {
	seen := make(map[models.Interval]struct{}, len(results))
	for _, r := range results {
		if _, ok := seen[r.Interval]; ok {
			return true
		}
		seen[r.Interval] = struct{}{}
	}
	return false
}

// pick selects among distinct overlapping records: the one containing t with
// the greatest start, else the earliest.
func pick(results []extract.Result, t float64) extract.Result {
	best := -1
	for i, r := range results {
		if r.Interval.Contains(t) && (best < 0 || r.Interval.Start > results[best].Interval.Start) {
			best = i
		}
	}
	if best >= 0 {
		return results[best]
	}
	return results[0]
}
