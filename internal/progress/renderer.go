// Package progress projects verification statuses onto coloured spans of
// the scrub bar.
package progress

import (
	"fmt"
	"math"

	"c2pastreamd/internal/c2pa"
	"c2pastreamd/internal/models"
)

// Segment is one coloured span of played time.
type Segment struct {
	ID       int            `json:"id"`
	Start    float64        `json:"start"`
	End      float64        `json:"end"`
	Status   models.Status  `json:"verified"`
	Manifest *c2pa.Manifest `json:"-"`
}

// Duration returns End - Start.
func (s Segment) Duration() float64 { return s.End - s.Start }

// Port renders segments. Implementations must not call back into the Renderer.
type Port interface {
	Create(seg Segment)
	Extend(seg Segment, newEnd float64)
	Remove(seg Segment)
}

// NopPort discards all rendering calls.
type NopPort struct{}

func (NopPort) Create(Segment)          {}
func (NopPort) Extend(Segment, float64) {}
func (NopPort) Remove(Segment)          {}

// Renderer maintains the ordered segment list of one player.
type Renderer struct {
	port       Port
	monolithic bool
	segments   []*Segment
	nextID     int
}

// New creates a Renderer. In monolithic mode a forward seek never inserts an
// unknown gap, because the status of the whole file is already known.
func New(port Port, monolithic bool) *Renderer {
	if port == nil {
		port = NopPort{}
	}
	return &Renderer{port: port, monolithic: monolithic}
}

// SetMonolithic switches between streaming and monolithic mode.
func (r *Renderer) SetMonolithic(v bool) { r.monolithic = v }

// Update applies the status observed at t. An unchanged status extends the
// last segment to t; a changed status closes it at t and opens a new one.
func (r *Renderer) Update(status models.Status, t float64, manifest *c2pa.Manifest) {
	last := r.last()
	if last == nil || last.Status != status {
		if last != nil {
			r.extend(last, t)
		}
		r.append(t, t, status, manifest)
		return
	}
	if manifest != nil {
		last.Manifest = manifest
	}
	r.extend(last, t)
}

// Seek adjusts the segments after the playhead moved to t. Seeking to 0
// clears everything. Other seeks only apply once playback has started.
func (r *Renderer) Seek(t float64, playbackStarted bool) {
	if t == 0 {
		r.Reset()
		return
	}
	if !playbackStarted || len(r.segments) == 0 {
		return
	}

	kept := r.segments[:0]
	for _, s := range r.segments {
		if t >= s.End || (t >= s.Start && t < s.End) {
			kept = append(kept, s)
			continue
		}
		r.port.Remove(*s)
	}
	clear(r.segments[len(kept):])
	r.segments = kept

	last := r.last()
	switch {
	case last == nil:
	case last.End > t:
		r.extend(last, t)
	case !r.monolithic && last.End != t && last.Status != models.StatusUnknown:
		// Nothing is known about the skipped range.
		r.append(last.End, t, models.StatusUnknown, nil)
	default:
		r.extend(last, t)
	}
}

// Reset removes every segment.
func (r *Renderer) Reset() {
	for _, s := range r.segments {
		r.port.Remove(*s)
	}
	r.segments = nil
}

// Segments returns a copy of the segment list in creation order.
func (r *Renderer) Segments() []Segment {
	out := make([]Segment, len(r.segments))
	for i, s := range r.segments {
		out[i] = *s
	}
	return out
}

// Last returns the most recent segment.
func (r *Renderer) Last() (Segment, bool) {
	if s := r.last(); s != nil {
		return *s, true
	}
	return Segment{}, false
}

// HasFailed reports whether any segment is false.
func (r *Renderer) HasFailed() bool {
	for _, s := range r.segments {
		if s.Status == models.StatusFailed {
			return true
		}
	}
	return false
}

func (r *Renderer) last() *Segment {
	if len(r.segments) == 0 {
		return nil
	}
	return r.segments[len(r.segments)-1]
}

func (r *Renderer) append(start, end float64, status models.Status, manifest *c2pa.Manifest) {
	r.nextID++
	s := &Segment{ID: r.nextID, Start: start, End: end, Status: status, Manifest: manifest}
	r.segments = append(r.segments, s)
	r.port.Create(*s)
}

func (r *Renderer) extend(s *Segment, end float64) {
	if s.End == end {
		return
	}
	r.port.Extend(*s, end)
	s.End = end
}

// Placement is the on-bar geometry of one segment. All spans grow from the
// start of the bar, so earlier segments stack above later ones.
type Placement struct {
	Segment
	Width  float64 `json:"width"`
	ZIndex int     `json:"zIndex"`
	Class  string  `json:"class"`
}

// Placements computes the width fraction and stacking of every segment for
// the playhead at current in a media of the given duration.
func (r *Renderer) Placements(current, duration float64) []Placement {
	out := make([]Placement, len(r.segments))
	for i, s := range r.segments {
		var width float64
		if duration > 0 && current >= s.Start {
			width = math.Min(current, s.End) / duration
		}
		out[i] = Placement{
			Segment: *s,
			Width:   width,
			ZIndex:  len(r.segments) - i,
			Class:   StatusClass(s.Status),
		}
	}
	return out
}

// StatusClass returns the colour class of a status.
func StatusClass(s models.Status) string {
	switch s {
	case models.StatusPassed:
		return "c2pa-passed"
	case models.StatusFailed:
		return "c2pa-failed"
	default:
		return "c2pa-unknown"
	}
}

// Compromised lists the false time ranges as "mm:ss-mm:ss". In monolithic
// mode a false first segment marks the whole duration.
func (r *Renderer) Compromised(duration float64) []string {
	var out []string
	if r.monolithic {
		if len(r.segments) > 0 && r.segments[0].Status == models.StatusFailed {
			out = append(out, FormatTime(0)+"-"+FormatTime(duration))
		}
		return out
	}
	for _, s := range r.segments {
		if s.Status == models.StatusFailed {
			out = append(out, FormatTime(s.Start)+"-"+FormatTime(s.End))
		}
	}
	return out
}

// FormatTime formats seconds as mm:ss.
func FormatTime(seconds float64) string {
	total := int(math.Round(math.Max(seconds, 0)))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
