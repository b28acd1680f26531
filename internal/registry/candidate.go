// Package registry holds the ordered set of candidate sources a run works
// through, with a cursor that can never point at a missing element.
package registry

import (
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/model"
)

// ErrIndexInvariant signals a cursor outside [0, len]. Registry methods
// never produce it; it exists for assertions in tests.
var ErrIndexInvariant = eris.New("registry: cursor out of bounds")

// Registry is an ordered, append-mostly list of candidates plus a cursor.
// The cursor always satisfies 0 <= cursor <= len; cursor == len means the
// registry is exhausted. Not safe for concurrent use; each run owns one.
type Registry struct {
	candidates []model.Candidate
	cursor     int
}

// New returns a registry seeded with cands.
func New(cands ...model.Candidate) *Registry {
	return &Registry{candidates: slices.Clone(cands)}
}

// Append adds c to the end.
func (r *Registry) Append(c model.Candidate) {
	r.candidates = append(r.candidates, c)
}

// Current returns the candidate at the cursor. The bool is false when the
// registry is empty or exhausted.
func (r *Registry) Current() (model.Candidate, bool) {
	if r.cursor < 0 || r.cursor >= len(r.candidates) {
		return model.Candidate{}, false
	}
	return r.candidates[r.cursor], true
}

// Advance moves the cursor forward by one, stopping at len.
func (r *Registry) Advance() {
	if r.cursor < len(r.candidates) {
		r.cursor++
	}
}

// ReplaceCurrent overwrites the candidate at the cursor. When there is no
// current candidate, c is appended instead and false is returned.
func (r *Registry) ReplaceCurrent(c model.Candidate) bool {
	if r.cursor < 0 || r.cursor >= len(r.candidates) {
		r.Append(c)
		return false
	}
	r.candidates[r.cursor] = c
	return true
}

// RepairIndex resets an out-of-range cursor to 0 and reports whether it did.
// cursor == len on a non-empty registry counts as out of range.
func (r *Registry) RepairIndex() bool {
	if r.cursor >= 0 && r.cursor < len(r.candidates) {
		return false
	}
	if len(r.candidates) == 0 && r.cursor == 0 {
		return false
	}
	r.cursor = 0
	return true
}

// IncrementAttempts bumps the current candidate's attempt count. It is a
// no-op without a current candidate.
func (r *Registry) IncrementAttempts() (model.Candidate, bool) {
	if _, ok := r.Current(); !ok {
		return model.Candidate{}, false
	}
	r.candidates[r.cursor].AttemptCount++
	return r.candidates[r.cursor], true
}

// MarkExhausted flags the current candidate as exhausted. Exhausted
// candidates stay in the list.
func (r *Registry) MarkExhausted() bool {
	if _, ok := r.Current(); !ok {
		return false
	}
	r.candidates[r.cursor].Exhausted = true
	return true
}

// Merge folds freshly researched candidates into the registry. Candidates
// whose locator is already present are skipped and at most max are placed
// (max <= 0 means no cap). When the cursor points at a candidate, the first
// fresh candidate replaces it and the rest are appended. Otherwise all are
// appended and the cursor moves to the first of them. Returns the number of
// candidates placed.
func (r *Registry) Merge(cands []model.Candidate, max int) int {
	seen := make(map[string]struct{}, len(r.candidates)+len(cands))
	for _, c := range r.candidates {
		seen[model.LocatorKey(c.Locator)] = struct{}{}
	}

	var fresh []model.Candidate
	for _, c := range cands {
		if max > 0 && len(fresh) >= max {
			break
		}
		key := model.LocatorKey(c.Locator)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, c)
	}
	if len(fresh) == 0 {
		return 0
	}

	if r.ReplaceCurrent(fresh[0]) {
		for _, c := range fresh[1:] {
			r.Append(c)
		}
		return len(fresh)
	}

	// ReplaceCurrent appended fresh[0] at the old end of the list.
	firstNew := len(r.candidates) - 1
	for _, c := range fresh[1:] {
		r.Append(c)
	}
	r.cursor = firstNew
	return len(fresh)
}

// Locators returns every candidate locator in order, exhausted ones included.
func (r *Registry) Locators() []string {
	out := make([]string, len(r.candidates))
	for i, c := range r.candidates {
		out[i] = c.Locator
	}
	return out
}

// Len returns the number of candidates.
func (r *Registry) Len() int { return len(r.candidates) }

// Cursor returns the cursor position.
func (r *Registry) Cursor() int { return r.cursor }

// Remaining reports how many candidates sit after the current one.
func (r *Registry) Remaining() int {
	if r.cursor >= len(r.candidates) {
		return 0
	}
	return len(r.candidates) - r.cursor - 1
}

// Snapshot returns a copy of all candidates.
func (r *Registry) Snapshot() []model.Candidate {
	return slices.Clone(r.candidates)
}

// Check returns ErrIndexInvariant when the cursor is out of bounds.
func (r *Registry) Check() error {
	if r.cursor < 0 || r.cursor > len(r.candidates) {
		return eris.Wrapf(ErrIndexInvariant, "cursor=%d len=%d", r.cursor, len(r.candidates))
	}
	return nil
}
