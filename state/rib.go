package state

import (
	"fmt"
	"maps"
	"slices"
)

// Route is the contract the RIB needs from a protocol route. Compare must be a total order over
// candidates with distinct sources: a negative result means the receiver is preferred.
type Route[R any] interface {
	Source() RouterId
	Compare(other R) int
	Equal(other R) bool
}

type RIBEntry[R Route[R]] struct {
	Selected   R
	Candidates map[RouterId]R
}

// Alternatives returns every candidate that is not selected, in preference order
func (e *RIBEntry[R]) Alternatives() []R {
	out := make([]R, 0, len(e.Candidates))
	for src, c := range e.Candidates {
		if src != e.Selected.Source() {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b R) int { return a.Compare(b) })
	return out
}

// RIB maps a destination to its selected route and the candidates it was selected from.
// Candidates are keyed by the source that supplied them (neighbour or the router itself).
type RIB[K comparable, R Route[R]] struct {
	entries map[K]*RIBEntry[R]
}

func NewRIB[K comparable, R Route[R]]() *RIB[K, R] {
	return &RIB[K, R]{entries: make(map[K]*RIBEntry[R])}
}

// Install adds or replaces the candidate from route.Source() and re-runs selection.
// It returns true if the selected route changed.
func (t *RIB[K, R]) Install(dst K, route R) bool {
	entry, ok := t.entries[dst]
	if !ok {
		entry = &RIBEntry[R]{Candidates: make(map[RouterId]R)}
		t.entries[dst] = entry
	} else if old, exists := entry.Candidates[route.Source()]; exists && old.Equal(route) {
		return false
	}
	entry.Candidates[route.Source()] = route
	return t.reselect(dst, entry, ok)
}

// Withdraw removes the candidate supplied by src. The destination is cleared if no candidates remain.
func (t *RIB[K, R]) Withdraw(dst K, src RouterId) bool {
	entry, ok := t.entries[dst]
	if !ok {
		return false
	}
	if _, exists := entry.Candidates[src]; !exists {
		return false
	}
	delete(entry.Candidates, src)
	if len(entry.Candidates) == 0 {
		delete(t.entries, dst)
		return true
	}
	return t.reselect(dst, entry, true)
}

// WithdrawMatching removes every candidate of dst accepted by stale.
// It returns true if the selected route changed.
func (t *RIB[K, R]) WithdrawMatching(dst K, stale func(R) bool) bool {
	entry, ok := t.entries[dst]
	if !ok {
		return false
	}
	removed := false
	for src, c := range entry.Candidates {
		if stale(c) {
			delete(entry.Candidates, src)
			removed = true
		}
	}
	if !removed {
		return false
	}
	if len(entry.Candidates) == 0 {
		delete(t.entries, dst)
		return true
	}
	return t.reselect(dst, entry, true)
}

// WithdrawSource removes every candidate supplied by src and returns the destinations whose
// selection changed
func (t *RIB[K, R]) WithdrawSource(src RouterId) []K {
	changed := make([]K, 0)
	for dst, entry := range t.entries {
		if _, ok := entry.Candidates[src]; ok && t.Withdraw(dst, src) {
			changed = append(changed, dst)
		}
	}
	return changed
}

func (t *RIB[K, R]) reselect(dst K, entry *RIBEntry[R], hadSelection bool) bool {
	var best R
	found := false
	for _, src := range slices.Sorted(maps.Keys(entry.Candidates)) {
		c := entry.Candidates[src]
		if !found {
			best, found = c, true
			continue
		}
		order := c.Compare(best)
		if order == 0 {
			panic(&InvariantError{Msg: fmt.Sprintf("candidates for %v from %s and %s compare equal", dst, src, best.Source())})
		}
		if order < 0 {
			best = c
		}
	}
	changed := !hadSelection || !entry.Selected.Equal(best)
	entry.Selected = best
	return changed
}

func (t *RIB[K, R]) Best(dst K) (R, bool) {
	entry, ok := t.entries[dst]
	if !ok {
		var zero R
		return zero, false
	}
	return entry.Selected, true
}

func (t *RIB[K, R]) Entry(dst K) (*RIBEntry[R], bool) {
	entry, ok := t.entries[dst]
	return entry, ok
}

// Candidate returns the candidate for dst supplied by src
func (t *RIB[K, R]) Candidate(dst K, src RouterId) (R, bool) {
	var zero R
	entry, ok := t.entries[dst]
	if !ok {
		return zero, false
	}
	c, ok := entry.Candidates[src]
	return c, ok
}

func (t *RIB[K, R]) Destinations() []K {
	return slices.Collect(maps.Keys(t.entries))
}

func (t *RIB[K, R]) Len() int {
	return len(t.entries)
}

// Selected returns a copy of the selected route for every destination
func (t *RIB[K, R]) Selected() map[K]R {
	out := make(map[K]R, len(t.entries))
	for dst, entry := range t.entries {
		out[dst] = entry.Selected
	}
	return out
}
