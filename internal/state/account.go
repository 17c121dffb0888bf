// Package state implements the layered, in-memory account/storage store that
// backs a tevm Executor. Reads walk a stack of overlays top-down; writes only
// ever touch the topmost overlay, which is what makes global snapshot/restore
// an O(1) push and an O(discarded overlays) pop instead of an O(world state)
// copy.
package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Account is a fully resolved account: the merged view of every overlay for
// one address. It is what TakeSnapshot/CopySnapshot save and restore, and
// what a host sees from GetBalance/GetCode/GetStorage.
type Account struct {
	Balance *uint256.Int
	Nonce   uint64
	Code    []byte
	Storage map[common.Hash]common.Hash
}

// Empty reports whether the account matches the EVM's definition of an empty
// account: zero balance, zero nonce, no code. Storage content does not factor
// in, matching go-ethereum's StateDB.Empty.
func (a *Account) Empty() bool {
	return a.Balance.IsZero() && a.Nonce == 0 && len(a.Code) == 0
}

func emptyAccount() *Account {
	return &Account{
		Balance: new(uint256.Int),
		Storage: make(map[common.Hash]common.Hash),
	}
}

// clone returns a deep copy so callers can mutate the result without
// corrupting the snapshot or overlay it came from.
func (a *Account) clone() *Account {
	out := &Account{
		Balance: a.Balance.Clone(),
		Nonce:   a.Nonce,
		Code:    append([]byte(nil), a.Code...),
		Storage: make(map[common.Hash]common.Hash, len(a.Storage)),
	}
	for k, v := range a.Storage {
		out.Storage[k] = v
	}
	return out
}

// accountDelta is what a single overlay records for one address: only the
// fields actually written (or, for the base overlay, lazily fetched) while
// that overlay was on top. A zero-value field that was never set is nil/false
// and lookups fall through to the next overlay down.
type accountDelta struct {
	balance    *uint256.Int
	balanceSet bool

	nonce    uint64
	nonceSet bool

	code    []byte
	codeSet bool

	storage map[common.Hash]common.Hash

	destructed    bool
	destructedSet bool
}

func (d *accountDelta) storageSlot(slot common.Hash) (common.Hash, bool) {
	if d.storage == nil {
		return common.Hash{}, false
	}
	v, ok := d.storage[slot]
	return v, ok
}

func (d *accountDelta) setStorageSlot(slot, value common.Hash) {
	if d.storage == nil {
		d.storage = make(map[common.Hash]common.Hash)
	}
	d.storage[slot] = value
}
