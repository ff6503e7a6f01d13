package interval

import (
	"c2pastreamd/internal/extract"
	"c2pastreamd/internal/models"
)

// DefaultEpsilon widens point queries to [t, t+ε) so segment boundaries that
// do not align exactly in floating point still match.
const DefaultEpsilon = 1e-3

// Registry holds one Tree of extraction results per tag. It is owned by a
// single player and used from its event loop only.
type Registry struct {
	trees   map[models.Tag]*Tree[extract.Result]
	epsilon float64
}

// NewRegistry creates an empty registry. A non-positive epsilon selects
// DefaultEpsilon.
func NewRegistry(epsilon float64) *Registry {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Registry{trees: make(map[models.Tag]*Tree[extract.Result]), epsilon: epsilon}
}

// Insert adds a result under its tag and interval, superseding any record
// for the identical interval.
func (r *Registry) Insert(res extract.Result) bool {
	t, ok := r.trees[res.Tag]
	if !ok {
		t = &Tree[extract.Result]{}
		r.trees[res.Tag] = t
	}
	return t.Insert(res.Interval, res)
}

// Query returns the results of tag overlapping window.
func (r *Registry) Query(tag models.Tag, window models.Interval) []extract.Result {
	t, ok := r.trees[tag]
	if !ok {
		return nil
	}
	entries := t.Query(window)
	out := make([]extract.Result, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out
}

// QueryPoint returns the results of tag overlapping [t, t+ε).
func (r *Registry) QueryPoint(tag models.Tag, t float64) []extract.Result {
	return r.Query(tag, models.Interval{Start: t, End: t + r.epsilon})
}

// Len returns the number of records stored for tag.
func (r *Registry) Len(tag models.Tag) int {
	if t, ok := r.trees[tag]; ok {
		return t.Len()
	}
	return 0
}

// Tags returns the number of tags with an index.
func (r *Registry) Tags() int { return len(r.trees) }

// Reset drops every index.
func (r *Registry) Reset() {
	r.trees = make(map[models.Tag]*Tree[extract.Result])
}
