package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// overlay is one layer of the mutation stack. id is the user-visible global
// snapshot identifier for layers pushed by TakeGlobalSnapshot; internal
// layers pushed by PushCheckpoint/Snapshot (the EVM's own Snapshot/RevertToSnapshot,
// and the executor's per-transaction journal) carry id == internalOverlayID
// and are never addressable by RestoreGlobalSnapshot.
const internalOverlayID = -1

type overlay struct {
	id       int
	accounts map[common.Address]*accountDelta
}

func newOverlay(id int) *overlay {
	return &overlay{id: id, accounts: make(map[common.Address]*accountDelta)}
}

func (o *overlay) delta(addr common.Address) (*accountDelta, bool) {
	d, ok := o.accounts[addr]
	return d, ok
}

func (o *overlay) ensureDelta(addr common.Address) *accountDelta {
	d, ok := o.accounts[addr]
	if !ok {
		d = &accountDelta{}
		o.accounts[addr] = d
	}
	return d
}

// Store is the layered world state. Reads walk overlays top-down, falling
// back to the fork backend and memoizing into overlay 0; writes always land
// in the topmost overlay. A Store is not safe for concurrent use - the
// owning Executor serializes all access to it.
type Store struct {
	overlays []*overlay
	idIndex  map[int]int // global snapshot id -> index into overlays
	nextID   int

	touched          map[common.Address]map[common.Hash]struct{}
	accountSnapshots map[common.Address]*Account

	backend ForkBackend
	dbErr   error
}

// New returns a Store with no fork backend: misses resolve to the empty
// account.
func New() *Store {
	return NewWithBackend(nil)
}

// NewWithBackend returns a Store whose misses are lazily fetched from backend
// (and memoized locally) before falling back to the empty account.
func NewWithBackend(backend ForkBackend) *Store {
	return &Store{
		overlays:         []*overlay{newOverlay(internalOverlayID)},
		idIndex:          make(map[int]int),
		nextID:           1,
		touched:          make(map[common.Address]map[common.Hash]struct{}),
		accountSnapshots: make(map[common.Address]*Account),
		backend:          backend,
	}
}

func (s *Store) top() *overlay {
	return s.overlays[len(s.overlays)-1]
}

// setError remembers the first non-nil error it is called with. A fork
// fetch failure (network, non-200, JSON error) is fatal to the current call
// per spec - it must never be mistaken for a legitimately-zero read, so every
// Get* below routes a backend error here instead of falling through to the
// empty value silently.
func (s *Store) setError(err error) {
	if s.dbErr == nil {
		s.dbErr = err
	}
}

// Error returns the first fork-backend fetch error observed since the Store
// was created or since the last TakeError, without clearing it. Callers must
// check this (or TakeError) after any read that may have gone to the backend
// before trusting a zero-valued result.
func (s *Store) Error() error {
	return s.dbErr
}

// TakeError returns and clears the captured fork-backend error. The owning
// Executor calls this once per deploy/call so a single failed fetch is fatal
// only to the call it occurred in, not to every later call against the same
// long-lived Store.
func (s *Store) TakeError() error {
	err := s.dbErr
	s.dbErr = nil
	return err
}

func (s *Store) markTouched(addr common.Address, slot common.Hash) {
	set, ok := s.touched[addr]
	if !ok {
		set = make(map[common.Hash]struct{})
		s.touched[addr] = set
	}
	set[slot] = struct{}{}
}

// --- scalar field accessors ---

// GetBalance returns a fresh copy of addr's current balance.
func (s *Store) GetBalance(addr common.Address) *uint256.Int {
	for i := len(s.overlays) - 1; i >= 0; i-- {
		if d, ok := s.overlays[i].delta(addr); ok && d.balanceSet {
			return d.balance.Clone()
		}
	}
	if s.backend != nil {
		bal, err := s.backend.FetchBalance(addr)
		if err != nil {
			s.setError(fmt.Errorf("state: fetch balance of %s: %w", addr, err))
			return new(uint256.Int)
		}
		d := s.overlays[0].ensureDelta(addr)
		d.balance, d.balanceSet = bal, true
		return bal.Clone()
	}
	return new(uint256.Int)
}

// SetBalance materializes addr's balance in the top overlay.
func (s *Store) SetBalance(addr common.Address, v *uint256.Int) {
	d := s.top().ensureDelta(addr)
	d.balance, d.balanceSet = v.Clone(), true
}

// GetNonce returns addr's current nonce.
func (s *Store) GetNonce(addr common.Address) uint64 {
	for i := len(s.overlays) - 1; i >= 0; i-- {
		if d, ok := s.overlays[i].delta(addr); ok && d.nonceSet {
			return d.nonce
		}
	}
	if s.backend != nil {
		n, err := s.backend.FetchNonce(addr)
		if err != nil {
			s.setError(fmt.Errorf("state: fetch nonce of %s: %w", addr, err))
			return 0
		}
		d := s.overlays[0].ensureDelta(addr)
		d.nonce, d.nonceSet = n, true
		return n
	}
	return 0
}

// SetNonce materializes addr's nonce in the top overlay.
func (s *Store) SetNonce(addr common.Address, nonce uint64) {
	d := s.top().ensureDelta(addr)
	d.nonce, d.nonceSet = nonce, true
}

// GetCode returns addr's current code. Per go-ethereum convention, a nil
// slice and an empty-but-non-nil slice are both "no code".
func (s *Store) GetCode(addr common.Address) []byte {
	for i := len(s.overlays) - 1; i >= 0; i-- {
		if d, ok := s.overlays[i].delta(addr); ok && d.codeSet {
			return d.code
		}
	}
	if s.backend != nil {
		code, err := s.backend.FetchCode(addr)
		if err != nil {
			s.setError(fmt.Errorf("state: fetch code of %s: %w", addr, err))
			return nil
		}
		d := s.overlays[0].ensureDelta(addr)
		d.code, d.codeSet = code, true
		return code
	}
	return nil
}

// SetCode materializes addr's code in the top overlay. Storage is left
// untouched, matching go-ethereum's StateDB.SetCode.
func (s *Store) SetCode(addr common.Address, code []byte) {
	d := s.top().ensureDelta(addr)
	d.code, d.codeSet = code, true
}

// GetStorage returns the current value of addr's storage slot.
func (s *Store) GetStorage(addr common.Address, slot common.Hash) common.Hash {
	s.markTouched(addr, slot)
	for i := len(s.overlays) - 1; i >= 0; i-- {
		if d, ok := s.overlays[i].delta(addr); ok {
			if v, ok := d.storageSlot(slot); ok {
				return v
			}
		}
	}
	if s.backend != nil {
		v, err := s.backend.FetchStorage(addr, slot)
		if err != nil {
			s.setError(fmt.Errorf("state: fetch storage %s[%s]: %w", addr, slot, err))
			return common.Hash{}
		}
		s.overlays[0].ensureDelta(addr).setStorageSlot(slot, v)
		return v
	}
	return common.Hash{}
}

// SetStorage materializes a storage write in the top overlay.
func (s *Store) SetStorage(addr common.Address, slot, value common.Hash) {
	s.markTouched(addr, slot)
	s.top().ensureDelta(addr).setStorageSlot(slot, value)
}

// SelfDestructed reports whether addr has been marked self-destructed in the
// currently visible overlay stack.
func (s *Store) SelfDestructed(addr common.Address) bool {
	for i := len(s.overlays) - 1; i >= 0; i-- {
		if d, ok := s.overlays[i].delta(addr); ok && d.destructedSet {
			return d.destructed
		}
	}
	return false
}

// SelfDestruct marks addr as self-destructed in the top overlay and zeroes
// its balance there (the EVM credits the balance to the beneficiary itself
// before calling this).
func (s *Store) SelfDestruct(addr common.Address) {
	d := s.top().ensureDelta(addr)
	d.destructed, d.destructedSet = true, true
	d.balance, d.balanceSet = new(uint256.Int), true
}

// Exists reports whether addr has ever been materialized (as opposed to
// simply reading as the implicit empty account).
func (s *Store) Exists(addr common.Address) bool {
	for i := len(s.overlays) - 1; i >= 0; i-- {
		if _, ok := s.overlays[i].delta(addr); ok {
			return true
		}
	}
	return false
}

// Touch ensures addr is materialized in the top overlay even if none of its
// fields are written, mirroring StateDB.CreateAccount/AddBalance(0).
func (s *Store) Touch(addr common.Address) {
	s.top().ensureDelta(addr)
}

// resolve materializes the full, merged Account for addr: every scalar field
// plus every storage slot ever touched for that address.
func (s *Store) resolve(addr common.Address) *Account {
	acc := &Account{
		Balance: s.GetBalance(addr),
		Nonce:   s.GetNonce(addr),
		Code:    append([]byte(nil), s.GetCode(addr)...),
		Storage: make(map[common.Hash]common.Hash),
	}
	for slot := range s.touched[addr] {
		acc.Storage[slot] = s.GetStorage(addr, slot)
	}
	return acc
}

// apply writes every field of acc into the top overlay for addr, and
// explicitly zeroes any slot that has ever been touched for addr but is not
// present in acc.Storage - otherwise a slot written after the snapshot was
// taken but absent from it would survive a restore.
func (s *Store) apply(addr common.Address, acc *Account) {
	d := s.top().ensureDelta(addr)
	d.balance, d.balanceSet = acc.Balance.Clone(), true
	d.nonce, d.nonceSet = acc.Nonce, true
	d.code, d.codeSet = append([]byte(nil), acc.Code...), true
	d.destructed, d.destructedSet = false, true

	keys := make(map[common.Hash]struct{}, len(acc.Storage))
	for k := range acc.Storage {
		keys[k] = struct{}{}
	}
	for k := range s.touched[addr] {
		keys[k] = struct{}{}
	}
	for k := range keys {
		v := acc.Storage[k] // zero value if absent from the snapshot
		d.setStorageSlot(k, v)
		s.markTouched(addr, k)
	}
}
