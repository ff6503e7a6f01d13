// Package interval implements the per-tag interval index used to look up
// extraction results by playback time.
package interval

import "c2pastreamd/internal/models"

// Entry is one record of a Tree.
type Entry[V any] struct {
	Interval models.Interval
	Value    V
}

type node[V any] struct {
	entry       Entry[V]
	maxEnd      float64
	height      int
	left, right *node[V]
}

// Tree is an AVL tree of half-open intervals ordered by (start, end) and
// augmented with the maximum end of each subtree. Exact intervals are unique
// keys: inserting an interval that is already present replaces its value.
// A Tree is not safe for concurrent use.
type Tree[V any] struct {
	root *node[V]
	size int
}

// Len returns the number of records.
func (t *Tree[V]) Len() int { return t.size }

// Insert stores v under iv, replacing the record with the identical interval
// if there is one. It reports whether a record was replaced.
func (t *Tree[V]) Insert(iv models.Interval, v V) bool {
	var replaced bool
	t.root = insert(t.root, Entry[V]{Interval: iv, Value: v}, &replaced)
	if !replaced {
		t.size++
	}
	return replaced
}

// Delete removes the record with the identical interval.
func (t *Tree[V]) Delete(iv models.Interval) bool {
	var deleted bool
	t.root = remove(t.root, iv, &deleted)
	if deleted {
		t.size--
	}
	return deleted
}

// Query returns every record overlapping window, ordered by (start, end).
func (t *Tree[V]) Query(window models.Interval) []Entry[V] {
	var out []Entry[V]
	query(t.root, window, &out)
	return out
}

// All returns every record in order.
func (t *Tree[V]) All() []Entry[V] {
	out := make([]Entry[V], 0, t.size)
	var walk func(n *node[V])
	walk = func(n *node[V]) {
		if n == nil {
			return
		}
		walk(n.left)
		out = append(out, n.entry)
		walk(n.right)
	}
	walk(t.root)
	return out
}

func compare(a, b models.Interval) int {
	switch {
	case a.Start < b.Start:
		return -1
	case a.Start > b.Start:
		return 1
	case a.End < b.End:
		return -1
	case a.End > b.End:
		return 1
	}
	return 0
}

func query[V any](n *node[V], w models.Interval, out *[]Entry[V]) {
	// Nothing in this subtree ends after the window starts.
	if n == nil || n.maxEnd <= w.Start {
		return
	}
	query(n.left, w, out)
	if n.entry.Interval.Overlaps(w) {
		*out = append(*out, n.entry)
	}
	// Right subtree starts at or after this node; prune once past the window.
	if n.entry.Interval.Start < w.End {
		query(n.right, w, out)
	}
}

func insert[V any](n *node[V], e Entry[V], replaced *bool) *node[V] {
	if n == nil {
		return &node[V]{entry: e, maxEnd: e.Interval.End, height: 1}
	}
	switch c := compare(e.Interval, n.entry.Interval); {
	case c < 0:
		n.left = insert(n.left, e, replaced)
	case c > 0:
		n.right = insert(n.right, e, replaced)
	default:
		n.entry = e
		*replaced = true
		return n
	}
	return rebalance(n)
}

func remove[V any](n *node[V], iv models.Interval, deleted *bool) *node[V] {
	if n == nil {
		return nil
	}
	switch c := compare(iv, n.entry.Interval); {
	case c < 0:
		n.left = remove(n.left, iv, deleted)
	case c > 0:
		n.right = remove(n.right, iv, deleted)
	default:
		*deleted = true
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		succ := n.right
		for succ.left != nil {
			succ = succ.left
		}
		n.entry = succ.entry
		var ignored bool
		n.right = remove(n.right, succ.entry.Interval, &ignored)
	}
	return rebalance(n)
}

func height[V any](n *node[V]) int {
	if n == nil {
		return 0
	}
	return n.height
}

func update[V any](n *node[V]) {
	n.height = 1 + max(height(n.left), height(n.right))
	n.maxEnd = n.entry.Interval.End
	if n.left != nil && n.left.maxEnd > n.maxEnd {
		n.maxEnd = n.left.maxEnd
	}
	if n.right != nil && n.right.maxEnd > n.maxEnd {
		n.maxEnd = n.right.maxEnd
	}
}

func rotateRight[V any](n *node[V]) *node[V] {
	l := n.left
	n.left = l.right
	l.right = n
	update(n)
	update(l)
	return l
}

func rotateLeft[V any](n *node[V]) *node[V] {
	r := n.right
	n.right = r.left
	r.left = n
	update(n)
	update(r)
	return r
}

func rebalance[V any](n *node[V]) *node[V] {
	update(n)
	switch balance := height(n.left) - height(n.right); {
	case balance > 1:
		if height(n.left.left) < height(n.left.right) {
			n.left = rotateLeft(n.left)
		}
		return rotateRight(n)
	case balance < -1:
		if height(n.right.right) < height(n.right.left) {
			n.right = rotateRight(n.right)
		}
		return rotateLeft(n)
	}
	return n
}
