package checkpoint

import (
	"sort"

	"github.com/corda/corda-runtime-os-sub032/internal/ir"
)

// SessionRegistry maps session ids to the messaging collaborator's opaque
// session state. Ids are unique within a checkpoint.
type SessionRegistry struct {
	sessions map[string]ir.SessionState

	// onChange runs after every mutation; the checkpoint uses it to keep
	// the session expiry metadata current.
	onChange func()
}

// newSessionRegistry builds a registry from a persisted list. Duplicate ids
// are corruption: the load fails naming the flow and every duplicated id.
func newSessionRegistry(flowID string, list []ir.SessionState) (*SessionRegistry, error) {
	r := &SessionRegistry{}
	if err := r.restore(flowID, list); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SessionRegistry) restore(flowID string, list []ir.SessionState) error {
	sessions := make(map[string]ir.SessionState, len(list))
	counts := make(map[string]int, len(list))
	for _, s := range list {
		counts[s.SessionID]++
		sessions[s.SessionID] = s.Clone()
	}

	var duplicates []string
	for id, n := range counts {
		if n > 1 {
			duplicates = append(duplicates, id)
		}
	}
	if len(duplicates) > 0 {
		return newDuplicateSessionError(flowID, duplicates)
	}

	r.sessions = sessions
	return nil
}

// Get returns a copy of the state for id.
func (r *SessionRegistry) Get(id string) (ir.SessionState, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return ir.SessionState{}, false
	}
	return s.Clone(), true
}

// Put inserts state, or overwrites the existing entry with the same id.
func (r *SessionRegistry) Put(state ir.SessionState) {
	r.sessions[state.SessionID] = state.Clone()
	r.changed()
}

// Remove deletes the session with id. Returns false if it was absent.
func (r *SessionRegistry) Remove(id string) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	r.changed()
	return true
}

// Len returns the number of sessions.
func (r *SessionRegistry) Len() int {
	return len(r.sessions)
}

// IDs returns session ids sorted ascending.
func (r *SessionRegistry) IDs() []string {
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// States materializes the registry sorted by session id, so that
// re-serializing an unchanged registry is byte-stable.
func (r *SessionRegistry) States() []ir.SessionState {
	out := make([]ir.SessionState, 0, len(r.sessions))
	for _, id := range r.IDs() {
		out = append(out, r.sessions[id].Clone())
	}
	return out
}

// earliestExpiry returns the smallest expiry among non-terminal sessions.
func (r *SessionRegistry) earliestExpiry() (int64, bool) {
	var earliest int64
	found := false
	for _, s := range r.sessions {
		if s.Status.Terminal() || s.ExpiresAtMillis <= 0 {
			continue
		}
		if !found || s.ExpiresAtMillis < earliest {
			earliest = s.ExpiresAtMillis
			found = true
		}
	}
	return earliest, found
}

func (r *SessionRegistry) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}
