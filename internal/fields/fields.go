// Package fields captures and compares the values of the editable fields on
// an article edit form.
package fields

import "sync"

// FieldAccessor reads and writes field values without the caller knowing
// whether a field is a plain input or bound to a rich-text editor. Both
// methods report false when the field does not exist.
type FieldAccessor interface {
	GetFieldValue(id string) (string, bool)
	SetFieldValue(id, value string) bool
}

// Snapshot maps field id to value.
type Snapshot map[string]string

// Capture reads the current value of every field in ids. Missing fields are
// left out of the result.
func Capture(acc FieldAccessor, ids []string) Snapshot {
	snap := make(Snapshot, len(ids))
	for _, id := range ids {
		if value, ok := acc.GetFieldValue(id); ok {
			snap[id] = value
		}
	}
	return snap
}

// Diff reports whether any field differs between a and b, including a field
// present in only one of them.
func Diff(a, b Snapshot) bool {
	if len(a) != len(b) {
		return true
	}
	for id, av := range a {
		bv, ok := b[id]
		if !ok || av != bv {
			return true
		}
	}
	return false
}

func (s Snapshot) clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Store holds the initial and last-saved snapshots for one field set.
type Store struct {
	acc FieldAccessor
	ids []string

	mu        sync.Mutex
	initial   Snapshot
	lastSaved Snapshot
}

// NewStore records the current field values as both the initial and the
// last-saved snapshot.
func NewStore(acc FieldAccessor, ids []string) *Store {
	idsCopy := append([]string(nil), ids...)
	initial := Capture(acc, idsCopy)
	return &Store{
		acc:       acc,
		ids:       idsCopy,
		initial:   initial,
		lastSaved: initial.clone(),
	}
}

func (s *Store) IDs() []string {
	return append([]string(nil), s.ids...)
}

func (s *Store) Current() Snapshot {
	return Capture(s.acc, s.ids)
}

func (s *Store) Initial() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initial.clone()
}

func (s *Store) LastSaved() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSaved.clone()
}

// MarkSaved replaces the last-saved snapshot.
func (s *Store) MarkSaved(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSaved = snap.clone()
}

// RefreshSaved records the current field values as last-saved and returns
// them.
func (s *Store) RefreshSaved() Snapshot {
	snap := s.Current()
	s.MarkSaved(snap)
	return snap
}

// Changed reports whether the fields drifted from the last-saved snapshot.
func (s *Store) Changed() bool {
	return Diff(s.Current(), s.LastSaved())
}

// EditedSinceLoad reports whether the fields drifted from their initial
// values.
func (s *Store) EditedSinceLoad() bool {
	return Diff(s.Current(), s.Initial())
}

// UnloadWarning returns msg when there are edits that leaving the page would
// lose, and "" otherwise.
func (s *Store) UnloadWarning(msg string) string {
	if s.EditedSinceLoad() {
		return msg
	}
	return ""
}

// AllEmpty reports whether every present field holds the empty string.
func (s *Store) AllEmpty() bool {
	for _, value := range s.Current() {
		if value != "" {
			return false
		}
	}
	return true
}

// Apply writes values into the matching fields, ignoring ids outside the
// tracked set, and returns the ids that were written.
func (s *Store) Apply(values map[string]string) []string {
	var applied []string
	for _, id := range s.ids {
		value, ok := values[id]
		if !ok {
			continue
		}
		if s.acc.SetFieldValue(id, value) {
			applied = append(applied, id)
		}
	}
	return applied
}
