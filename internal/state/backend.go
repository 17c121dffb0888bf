package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ForkBackend is the minimal surface the store needs from a remote archive
// node. internal/fork.Backend implements this over JSON-RPC; tests use an
// in-memory fake. A nil ForkBackend means the store is purely local: misses
// resolve to the empty account instead of being fetched.
type ForkBackend interface {
	FetchBalance(addr common.Address) (*uint256.Int, error)
	FetchNonce(addr common.Address) (uint64, error)
	FetchCode(addr common.Address) ([]byte, error)
	FetchStorage(addr common.Address, slot common.Hash) (common.Hash, error)
}
