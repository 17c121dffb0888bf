package state

import "github.com/ethereum/go-ethereum/common"

// Checkpoint marks the current top of the overlay stack so the caller can
// later either Commit (merge everything pushed since into the layer below)
// or Revert (discard it). It is the mechanism behind both the executor's
// per-transaction journal and the EVM's own nested call-level
// Snapshot/RevertToSnapshot - both just push/merge-or-drop overlays.
type Checkpoint int

// PushCheckpoint opens a checkpoint and pushes a new, internal (not globally
// addressable) overlay on top of it.
func (s *Store) PushCheckpoint() Checkpoint {
	cp := Checkpoint(len(s.overlays))
	s.overlays = append(s.overlays, newOverlay(internalOverlayID))
	return cp
}

// RevertTo discards every overlay pushed since cp, including the one opened
// by PushCheckpoint. This is also what implements vm.StateDB's
// RevertToSnapshot for nested calls.
func (s *Store) RevertTo(cp Checkpoint) {
	idx := int(cp)
	for id, pos := range s.idIndex {
		if pos >= idx {
			delete(s.idIndex, id)
		}
	}
	s.overlays = s.overlays[:idx]
}

// Commit merges every overlay pushed since cp down into the layer below cp,
// in bottom-to-top order, then truncates the stack back to cp's base. Used
// when a transaction (or, transitively, a nested call the EVM chose not to
// revert) completes successfully.
func (s *Store) Commit(cp Checkpoint) {
	idx := int(cp)
	target := s.overlays[idx-1]
	for i := idx; i < len(s.overlays); i++ {
		mergeInto(target, s.overlays[i])
	}
	s.overlays = s.overlays[:idx]
}

func mergeInto(target, src *overlay) {
	for addr, sd := range src.accounts {
		td := target.ensureDelta(addr)
		if sd.balanceSet {
			td.balance, td.balanceSet = sd.balance, true
		}
		if sd.nonceSet {
			td.nonce, td.nonceSet = sd.nonce, true
		}
		if sd.codeSet {
			td.code, td.codeSet = sd.code, true
		}
		if sd.destructedSet {
			td.destructed, td.destructedSet = sd.destructed, true
		}
		for slot, v := range sd.storage {
			td.setStorageSlot(slot, v)
		}
	}
}

// Snapshot implements the position-based half of vm.StateDB's
// Snapshot/RevertToSnapshot contract: it is identical to PushCheckpoint but
// returns a plain int, matching core/vm.StateDB's signature.
func (s *Store) Snapshot() int {
	return int(s.PushCheckpoint())
}

// RevertToSnapshot implements vm.StateDB.RevertToSnapshot.
func (s *Store) RevertToSnapshot(id int) {
	s.RevertTo(Checkpoint(id))
}

// addressTouchedSlots exposes the set of storage keys ever referenced for
// addr, used by tests asserting on the touched-key bookkeeping.
func (s *Store) addressTouchedSlots(addr common.Address) []common.Hash {
	out := make([]common.Hash, 0, len(s.touched[addr]))
	for k := range s.touched[addr] {
		out = append(out, k)
	}
	return out
}
