// Package fork implements the remote state backend: lazy, memoized
// JSON-RPC reads from an archive node pinned to one block height, for the
// layered store's cache-miss path.
package fork

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"golang.org/x/sync/singleflight"
)

// Backend fetches account state from a JSON-RPC archive node, pinned to one
// block number, satisfying internal/state.ForkBackend. Every exported method
// is safe for concurrent use: a singleflight group ensures concurrent frames
// that miss on the same key share one in-flight RPC call instead of issuing
// duplicates. Successful fetches are not cached here - internal/state.Store
// memoizes them into its base overlay, which is the only cache that needs to
// survive beyond the in-flight request.
type Backend struct {
	client *ethclient.Client
	block  *big.Int

	group singleflight.Group
}

// Dial connects to url and pins every subsequent fetch to blockNumber.
func Dial(url string, blockNumber uint64) (*Backend, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("fork: dial %s: %w", url, err)
	}
	return &Backend{client: client, block: new(big.Int).SetUint64(blockNumber)}, nil
}

// New wraps an already-constructed client, useful for tests that point at an
// httptest JSON-RPC server.
func New(client *ethclient.Client, blockNumber uint64) *Backend {
	return &Backend{client: client, block: new(big.Int).SetUint64(blockNumber)}
}

func (b *Backend) FetchBalance(addr common.Address) (*uint256.Int, error) {
	key := fmt.Sprintf("balance:%s", addr)
	v, err, _ := b.group.Do(key, func() (interface{}, error) {
		log.Debug("fork: fetching balance", "address", addr, "block", b.block)
		wei, err := b.client.BalanceAt(context.Background(), addr, b.block)
		if err != nil {
			return nil, fmt.Errorf("fork: eth_getBalance(%s): %w", addr, err)
		}
		bal, overflow := uint256.FromBig(wei)
		if overflow {
			return nil, fmt.Errorf("fork: balance of %s overflows 256 bits", addr)
		}
		return bal, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*uint256.Int).Clone(), nil
}

func (b *Backend) FetchNonce(addr common.Address) (uint64, error) {
	key := fmt.Sprintf("nonce:%s", addr)
	v, err, _ := b.group.Do(key, func() (interface{}, error) {
		log.Debug("fork: fetching nonce", "address", addr, "block", b.block)
		nonce, err := b.client.NonceAt(context.Background(), addr, b.block)
		if err != nil {
			return nil, fmt.Errorf("fork: eth_getTransactionCount(%s): %w", addr, err)
		}
		return nonce, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

func (b *Backend) FetchCode(addr common.Address) ([]byte, error) {
	key := fmt.Sprintf("code:%s", addr)
	v, err, _ := b.group.Do(key, func() (interface{}, error) {
		log.Debug("fork: fetching code", "address", addr, "block", b.block)
		code, err := b.client.CodeAt(context.Background(), addr, b.block)
		if err != nil {
			return nil, fmt.Errorf("fork: eth_getCode(%s): %w", addr, err)
		}
		return code, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), v.([]byte)...), nil
}

func (b *Backend) FetchStorage(addr common.Address, slot common.Hash) (common.Hash, error) {
	key := fmt.Sprintf("storage:%s:%s", addr, slot)
	v, err, _ := b.group.Do(key, func() (interface{}, error) {
		log.Debug("fork: fetching storage", "address", addr, "slot", slot, "block", b.block)
		val, err := b.client.StorageAt(context.Background(), addr, slot, b.block)
		if err != nil {
			return nil, fmt.Errorf("fork: eth_getStorageAt(%s, %s): %w", addr, slot, err)
		}
		return common.BytesToHash(val), nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	return v.(common.Hash), nil
}
