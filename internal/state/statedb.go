package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// StateDB adapts a Store to core/vm.StateDB, the interface go-ethereum's EVM
// interpreter uses for every account/storage read and write. Everything the
// interpreter does during one call - including its own internal nested-call
// Snapshot/RevertToSnapshot - passes through here onto the same layered Store
// the executor uses for global and per-account snapshots.
type StateDB struct {
	store *Store

	refund uint64

	transient map[common.Address]map[common.Hash]common.Hash

	accessedAddrs map[common.Address]struct{}
	accessedSlots map[common.Address]map[common.Hash]struct{}

	logs []*types.Log
}

// NewStateDB wraps store for use as the StateDB of a single vm.EVM call.
// Refund, transient storage and access-list bookkeeping reset per call, as
// the real protocol requires; the underlying Store (and therefore balances,
// nonces, code and persistent storage) is shared and outlives the call.
func NewStateDB(store *Store) *StateDB {
	return &StateDB{
		store:         store,
		transient:     make(map[common.Address]map[common.Hash]common.Hash),
		accessedAddrs: make(map[common.Address]struct{}),
		accessedSlots: make(map[common.Address]map[common.Hash]struct{}),
	}
}

func (s *StateDB) Store() *Store { return s.store }

// Logs returns the logs emitted during this call.
func (s *StateDB) Logs() []*types.Log { return s.logs }

func (s *StateDB) CreateAccount(addr common.Address) { s.store.Touch(addr) }

func (s *StateDB) CreateContract(addr common.Address) { s.store.Touch(addr) }

func (s *StateDB) SubBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	prev := s.store.GetBalance(addr)
	next := new(uint256.Int).Sub(prev, amount)
	s.store.SetBalance(addr, next)
	return *prev
}

func (s *StateDB) AddBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	prev := s.store.GetBalance(addr)
	next := new(uint256.Int).Add(prev, amount)
	s.store.SetBalance(addr, next)
	return *prev
}

func (s *StateDB) GetBalance(addr common.Address) *uint256.Int { return s.store.GetBalance(addr) }

func (s *StateDB) GetNonce(addr common.Address) uint64 { return s.store.GetNonce(addr) }

func (s *StateDB) SetNonce(addr common.Address, nonce uint64, _ tracing.NonceChangeReason) {
	s.store.SetNonce(addr, nonce)
}

func (s *StateDB) GetCodeHash(addr common.Address) common.Hash {
	code := s.store.GetCode(addr)
	if len(code) == 0 {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(code)
}

func (s *StateDB) GetCode(addr common.Address) []byte { return s.store.GetCode(addr) }

func (s *StateDB) SetCode(addr common.Address, code []byte) []byte {
	prev := s.store.GetCode(addr)
	s.store.SetCode(addr, code)
	return prev
}

func (s *StateDB) GetCodeSize(addr common.Address) int { return len(s.store.GetCode(addr)) }

func (s *StateDB) AddRefund(gas uint64) { s.refund += gas }

func (s *StateDB) SubRefund(gas uint64) {
	if gas > s.refund {
		s.refund = 0
		return
	}
	s.refund -= gas
}

func (s *StateDB) GetRefund() uint64 { return s.refund }

func (s *StateDB) GetCommittedState(addr common.Address, slot common.Hash) common.Hash {
	return s.store.GetStorage(addr, slot)
}

func (s *StateDB) GetState(addr common.Address, slot common.Hash) common.Hash {
	return s.store.GetStorage(addr, slot)
}

func (s *StateDB) SetState(addr common.Address, slot, value common.Hash) common.Hash {
	prev := s.store.GetStorage(addr, slot)
	s.store.SetStorage(addr, slot, value)
	return prev
}

func (s *StateDB) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	if m, ok := s.transient[addr]; ok {
		return m[key]
	}
	return common.Hash{}
}

func (s *StateDB) SetTransientState(addr common.Address, key, value common.Hash) {
	m, ok := s.transient[addr]
	if !ok {
		m = make(map[common.Hash]common.Hash)
		s.transient[addr] = m
	}
	m[key] = value
}

func (s *StateDB) SelfDestruct(addr common.Address) uint256.Int {
	prev := s.store.GetBalance(addr)
	s.store.SelfDestruct(addr)
	return *prev
}

func (s *StateDB) Selfdestruct6780(addr common.Address) (uint256.Int, bool) {
	prev := s.store.GetBalance(addr)
	s.store.SelfDestruct(addr)
	return *prev, true
}

func (s *StateDB) HasSelfDestructed(addr common.Address) bool { return s.store.SelfDestructed(addr) }

func (s *StateDB) Exist(addr common.Address) bool { return s.store.Exists(addr) }

func (s *StateDB) Empty(addr common.Address) bool {
	if !s.store.Exists(addr) {
		return true
	}
	return s.store.resolve(addr).Empty()
}

func (s *StateDB) AddressInAccessList(addr common.Address) bool {
	_, ok := s.accessedAddrs[addr]
	return ok
}

func (s *StateDB) SlotInAccessList(addr common.Address, slot common.Hash) (bool, bool) {
	addrOK := s.AddressInAccessList(addr)
	slots, ok := s.accessedSlots[addr]
	if !ok {
		return addrOK, false
	}
	_, slotOK := slots[slot]
	return addrOK, slotOK
}

func (s *StateDB) AddAddressToAccessList(addr common.Address) {
	s.accessedAddrs[addr] = struct{}{}
}

func (s *StateDB) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	s.AddAddressToAccessList(addr)
	slots, ok := s.accessedSlots[addr]
	if !ok {
		slots = make(map[common.Hash]struct{})
		s.accessedSlots[addr] = slots
	}
	slots[slot] = struct{}{}
}

func (s *StateDB) Prepare(_ params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, txAccesses types.AccessList) {
	s.AddAddressToAccessList(sender)
	s.AddAddressToAccessList(coinbase)
	if dest != nil {
		s.AddAddressToAccessList(*dest)
	}
	for _, p := range precompiles {
		s.AddAddressToAccessList(p)
	}
	for _, el := range txAccesses {
		s.AddAddressToAccessList(el.Address)
		for _, slot := range el.StorageKeys {
			s.AddSlotToAccessList(el.Address, slot)
		}
	}
}

func (s *StateDB) RevertToSnapshot(id int) { s.store.RevertToSnapshot(id) }

func (s *StateDB) Snapshot() int { return s.store.Snapshot() }

func (s *StateDB) AddLog(log *types.Log) { s.logs = append(s.logs, log) }

func (s *StateDB) AddPreimage(common.Hash, []byte) {
	// Preimage recording is a debugging aid for trie-backed state; this store
	// has no trie, so there is nothing to record against.
}
