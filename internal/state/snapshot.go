package state

import "github.com/ethereum/go-ethereum/common"

// TakeSnapshot saves a deep copy of addr's current, fully-resolved account.
// A later TakeSnapshot(addr) overwrites the saved copy.
func (s *Store) TakeSnapshot(addr common.Address) {
	s.accountSnapshots[addr] = s.resolve(addr)
}

// RestoreSnapshot writes addr's previously saved account back as the current
// value. The saved copy is retained, so RestoreSnapshot may be called
// repeatedly.
func (s *Store) RestoreSnapshot(addr common.Address) error {
	snap, ok := s.accountSnapshots[addr]
	if !ok {
		return ErrNoAccountSnapshot
	}
	s.apply(addr, snap)
	return nil
}

// CopySnapshot overwrites dst's live account with src's saved snapshot
// contents. src's snapshot is left untouched and dst gets no snapshot of its
// own unless TakeSnapshot(dst) is called separately.
func (s *Store) CopySnapshot(src, dst common.Address) error {
	snap, ok := s.accountSnapshots[src]
	if !ok {
		return ErrNoAccountSnapshot
	}
	s.apply(dst, snap)
	return nil
}

// TakeGlobalSnapshot pushes a fresh overlay and returns its id, a
// monotonically increasing identifier never reused even across restores.
func (s *Store) TakeGlobalSnapshot() int {
	id := s.nextID
	s.nextID++
	s.overlays = append(s.overlays, newOverlay(id))
	s.idIndex[id] = len(s.overlays) - 1
	return id
}

// RestoreGlobalSnapshot discards every overlay pushed on or after id. With
// keep=true a fresh overlay carrying the same id is pushed back immediately,
// so the snapshot remains restorable with identical, repeatable semantics.
func (s *Store) RestoreGlobalSnapshot(id int, keep bool) error {
	idx, ok := s.idIndex[id]
	if !ok {
		return ErrUnknownSnapshot
	}
	for discardID, pos := range s.idIndex {
		if pos >= idx {
			delete(s.idIndex, discardID)
		}
	}
	s.overlays = s.overlays[:idx]
	if keep {
		s.overlays = append(s.overlays, newOverlay(id))
		s.idIndex[id] = len(s.overlays) - 1
	}
	return nil
}
