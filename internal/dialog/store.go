package dialog

import (
	"sync"
)

// Store is the thread-safe dialog table keyed by (Call-ID, local-tag,
// remote-tag), per RFC 3261 §12 and spec §4.3. During the early phase the
// remote tag is not yet known, so lookups also accept a partial key
// (Call-ID + local-tag only) and fall back to an index of early dialogs
// keyed by Call-ID + local-tag; this mirrors Store's full-key fast path in
// internal/transaction/store.go while adding the early-dialog exception
// dialogs uniquely need.
type Store struct {
	mu      sync.RWMutex
	dialogs map[DialogKey]*sipDialog
	byEarly map[string]*sipDialog // "callID:localTag" -> dialog awaiting remote tag
}

// NewStore creates an empty dialog store.
func NewStore() *Store {
	return &Store{
		dialogs: make(map[DialogKey]*sipDialog),
		byEarly: make(map[string]*sipDialog),
	}
}

// Add inserts a dialog keyed by its current id. If the remote tag is not
// yet known (early dialog), it is also indexed under its Call-ID+local-tag
// so that Lookup with an empty remote tag finds it until Rekey is called.
func (s *Store) Add(d *sipDialog) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dialogs[d.ID().Key()] = d
	if d.ID().RemoteTag == "" {
		s.byEarly[earlyKey(d.ID().CallID, d.ID().LocalTag)] = d
	}
}

// Rekey moves a dialog from its early key to its full key once the remote
// tag has been learned (first 1xx/2xx with a To tag). The caller is
// responsible for updating the dialog's own DialogID before calling this.
func (s *Store) Rekey(callID, localTag string, newID DialogID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ek := earlyKey(callID, localTag)
	d, ok := s.byEarly[ek]
	if !ok {
		return
	}
	delete(s.byEarly, ek)
	delete(s.dialogs, DialogKey{CallID: callID, LocalTag: localTag})
	s.dialogs[newID.Key()] = d
}

// Lookup finds a dialog by its full key, falling back to the early-dialog
// index when remoteTag is empty.
func (s *Store) Lookup(key DialogKey) (*sipDialog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if d, ok := s.dialogs[key]; ok {
		return d, true
	}
	if key.RemoteTag == "" {
		if d, ok := s.byEarly[earlyKey(key.CallID, key.LocalTag)]; ok {
			return d, true
		}
	}
	return nil, false
}

// Remove deletes a dialog from both indices.
func (s *Store) Remove(d *sipDialog) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.dialogs, d.ID().Key())
	delete(s.byEarly, earlyKey(d.ID().CallID, d.ID().LocalTag))
}

// Len returns the number of dialogs currently tracked, early dialogs
// included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dialogs)
}

func earlyKey(callID, localTag string) string {
	return callID + ":" + localTag
}
