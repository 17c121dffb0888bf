// Package tevm implements an embeddable EVM executor for fuzzers, symbolic
// analyzers and test harnesses: deploy contracts, invoke them, observe
// per-instruction coverage and instrumentation findings, and rewind state
// cheaply - either one account at a time or the entire world.
//
// Byte-level EVM semantics and gas accounting are not reimplemented here;
// every call runs on go-ethereum's own core/vm.EVM. This package owns the
// state store, the instrumentation hook wiring, and the deploy/call
// entrypoints around it.
package tevm

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/sbip-sg/tevm/internal/fork"
	"github.com/sbip-sg/tevm/internal/state"
	"github.com/sbip-sg/tevm/internal/trace"
)

// DefaultTxGasLimit is the starting tx_gas_limit for a freshly constructed
// Executor, sized for expensive fuzzing workloads rather than real network
// block gas limits.
const DefaultTxGasLimit uint64 = 0xFFFFFFFF

// Executor drives contract deployment and message calls against its own
// in-memory world state. An Executor is a mutable object: concurrent calls
// against the same instance are serialized by an internal mutex rather than
// rejected, since that is strictly more useful to a host that does not
// carefully avoid re-entry. Distinct Executors are fully independent and may
// run in parallel on separate goroutines/threads.
type Executor struct {
	mu sync.Mutex

	store *state.Store
	env   *BlockEnv

	instrumentCfg InstrumentConfig
	txGasLimit    uint64

	chainConfig *params.ChainConfig
}

// New returns an Executor with no fork backend: state misses read as the
// empty account.
func New() *Executor {
	return newExecutor(state.New())
}

// NewFork returns an Executor whose state misses are lazily fetched from the
// JSON-RPC endpoint at url, pinned to blockNumber, and memoized locally.
func NewFork(url string, blockNumber uint64) (*Executor, error) {
	backend, err := fork.Dial(url, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("tevm: %w", err)
	}
	return newExecutor(state.NewWithBackend(backend)), nil
}

func newExecutor(store *state.Store) *Executor {
	return &Executor{
		store:       store,
		env:         NewBlockEnv(),
		txGasLimit:  DefaultTxGasLimit,
		chainConfig: allForksChainConfig(),
	}
}

// allForksChainConfig returns a ChainConfig with every hardfork active from
// genesis, so instruction coverage and gas costs are not tied to any
// particular fork boundary.
func allForksChainConfig() *params.ChainConfig {
	zero := new(uint64)
	return &params.ChainConfig{
		ChainID:                       new(big.Int),
		HomesteadBlock:                new(big.Int),
		DAOForkBlock:                  new(big.Int),
		DAOForkSupport:                true,
		EIP150Block:                   new(big.Int),
		EIP155Block:                   new(big.Int),
		EIP158Block:                   new(big.Int),
		ByzantiumBlock:                new(big.Int),
		ConstantinopleBlock:           new(big.Int),
		PetersburgBlock:               new(big.Int),
		IstanbulBlock:                 new(big.Int),
		MuirGlacierBlock:              new(big.Int),
		BerlinBlock:                   new(big.Int),
		LondonBlock:                   new(big.Int),
		ArrowGlacierBlock:             new(big.Int),
		GrayGlacierBlock:              new(big.Int),
		MergeNetsplitBlock:            new(big.Int),
		ShanghaiTime:                  zero,
		CancunTime:                    zero,
		TerminalTotalDifficulty:       new(big.Int),
		TerminalTotalDifficultyPassed: true,
	}
}

// --- scalar account accessors ---

// GetBalance returns addr's current balance. A fork-backend fetch failure
// while resolving addr is fatal to this read: the returned error wraps the
// underlying RPC/decoding error rather than the zero value being returned
// silently (spec class-4 fork I/O errors).
func (e *Executor) GetBalance(addr common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bal := e.store.GetBalance(addr)
	if err := e.store.TakeError(); err != nil {
		return nil, fmt.Errorf("tevm: GetBalance: %w", err)
	}
	return bal, nil
}

func (e *Executor) SetBalance(addr common.Address, v *uint256.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.SetBalance(addr, v)
}

// GetNonce returns addr's current nonce, subject to the same fork-fetch
// error surfacing as GetBalance.
func (e *Executor) GetNonce(addr common.Address) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	nonce := e.store.GetNonce(addr)
	if err := e.store.TakeError(); err != nil {
		return 0, fmt.Errorf("tevm: GetNonce: %w", err)
	}
	return nonce, nil
}

func (e *Executor) SetNonce(addr common.Address, nonce uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.SetNonce(addr, nonce)
}

// GetCode returns addr's code as lowercase hex without a 0x prefix, subject
// to the same fork-fetch error surfacing as GetBalance.
func (e *Executor) GetCode(addr common.Address) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	code := e.store.GetCode(addr)
	if err := e.store.TakeError(); err != nil {
		return "", fmt.Errorf("tevm: GetCode: %w", err)
	}
	return encodeHex(code), nil
}

// SetCode sets addr's code from hex (with or without 0x prefix). Existing
// storage is left untouched.
func (e *Executor) SetCode(addr common.Address, codeHex string) error {
	code, err := parseHex(codeHex)
	if err != nil {
		return fmt.Errorf("tevm: SetCode: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.SetCode(addr, code)
	return nil
}

// --- environment & config ---

func (e *Executor) GetEnvValueByField(field string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.env.GetField(field)
}

func (e *Executor) SetEnvFieldValue(field, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.env.SetField(field, value)
}

func (e *Executor) GetInstrumentConfig() InstrumentConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instrumentCfg
}

// Configure replaces the instrument config. cfg is copied by value; a call
// already in flight keeps using the config it started with.
func (e *Executor) Configure(cfg InstrumentConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.instrumentCfg = cfg
}

func (e *Executor) TxGasLimit() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txGasLimit
}

func (e *Executor) SetTxGasLimit(limit uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txGasLimit = limit
}

// --- snapshots ---

func (e *Executor) TakeSnapshot(addr common.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.TakeSnapshot(addr)
}

func (e *Executor) RestoreSnapshot(addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.RestoreSnapshot(addr)
}

func (e *Executor) CopySnapshot(src, dst common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.CopySnapshot(src, dst)
}

func (e *Executor) TakeGlobalSnapshot() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.TakeGlobalSnapshot()
}

func (e *Executor) RestoreGlobalSnapshot(id int, keep bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.RestoreGlobalSnapshot(id, keep)
}

// --- execution ---

// DeterministicDeploy derives the new contract's address, optionally credits
// initValue to that address before the constructor runs, executes init code
// with ctorArgs appended as trailing constructor data, and on success writes
// the returned bytecode into the account. Response.Data holds the deployed
// address on success, or the EVM revert reason on failure.
func (e *Executor) DeterministicDeploy(initCodeHex, salt string, deployer common.Address, ctorArgsHex string, value, initValue *uint256.Int) (Response, error) {
	initCode, err := parseHex(initCodeHex)
	if err != nil {
		return Response{}, fmt.Errorf("tevm: DeterministicDeploy: init_code: %w", err)
	}
	ctorArgs, err := parseHex(ctorArgsHex)
	if err != nil {
		return Response{}, fmt.Errorf("tevm: DeterministicDeploy: ctor_args: %w", err)
	}
	fullCode := append(append([]byte(nil), initCode...), ctorArgs...)

	var saltU256 *uint256.Int
	var salt32 [32]byte
	if salt != "" {
		b, err := parseHex(salt)
		if err != nil {
			return Response{}, fmt.Errorf("tevm: DeterministicDeploy: salt: %w", err)
		}
		copy(salt32[:], b)
		saltU256 = new(uint256.Int).SetBytes(b)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	hooks := trace.New(trace.Config{Enabled: e.instrumentCfg.Enabled, TargetAddress: e.instrumentCfg.TargetAddress})
	statedb := state.NewStateDB(e.store)
	evm := e.newEVM(statedb, hooks)

	cp := e.store.PushCheckpoint()

	if initValue != nil && !initValue.IsZero() {
		var addr common.Address
		if saltU256 != nil {
			addr = crypto.CreateAddress2(deployer, salt32, crypto.Keccak256(fullCode))
		} else {
			addr = crypto.CreateAddress(deployer, e.store.GetNonce(deployer))
		}
		e.store.SetBalance(addr, initValue)
	}

	gas := e.txGasLimit
	var (
		ret     []byte
		newAddr common.Address
		vmErr   error
	)
	if saltU256 != nil {
		ret, newAddr, _, vmErr = evm.Create2(deployer, fullCode, gas, valueOrZero(value), saltU256)
	} else {
		ret, newAddr, _, vmErr = evm.Create(deployer, fullCode, gas, valueOrZero(value))
	}

	if dbErr := e.store.TakeError(); dbErr != nil {
		e.store.RevertTo(cp)
		return Response{}, fmt.Errorf("tevm: DeterministicDeploy: %w", dbErr)
	}

	resp := e.assembleResponse(hooks, vmErr, ret)
	if vmErr == nil {
		resp.Data = newAddr.Bytes()
		e.store.Commit(cp)
	} else {
		e.store.RevertTo(cp)
	}
	return resp, nil
}

// ContractCall executes a message call against addr. A nil caller resolves
// to the zero address.
func (e *Executor) ContractCall(addr common.Address, caller *common.Address, inputHex string, value *uint256.Int) (Response, error) {
	input, err := parseHex(inputHex)
	if err != nil {
		return Response{}, fmt.Errorf("tevm: ContractCall: input: %w", err)
	}
	from := common.Address{}
	if caller != nil {
		from = *caller
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	hooks := trace.New(trace.Config{Enabled: e.instrumentCfg.Enabled, TargetAddress: e.instrumentCfg.TargetAddress})
	statedb := state.NewStateDB(e.store)
	evm := e.newEVM(statedb, hooks)

	cp := e.store.PushCheckpoint()
	ret, _, vmErr := evm.Call(from, addr, input, e.txGasLimit, valueOrZero(value))

	if dbErr := e.store.TakeError(); dbErr != nil {
		e.store.RevertTo(cp)
		return Response{}, fmt.Errorf("tevm: ContractCall: %w", dbErr)
	}

	resp := e.assembleResponse(hooks, vmErr, ret)
	if vmErr == nil {
		e.store.Commit(cp)
	} else {
		e.store.RevertTo(cp)
	}
	return resp, nil
}

func (e *Executor) assembleResponse(hooks *trace.Hooks, vmErr error, ret []byte) Response {
	findingsByType := make(map[BugType]int)
	for _, f := range hooks.Findings() {
		findingsByType[f.Type]++
	}
	resp := Response{
		Success:  vmErr == nil,
		Data:     append([]byte(nil), ret...),
		Findings: hooks.Findings(),
		SeenPCs:  hooks.Coverage(),
		Heuristics: Heuristics{
			InstructionsExecuted: hooks.InstructionsExecuted(),
			UniquePCs:            countUniquePCs(hooks.Coverage()),
			FindingsByType:       findingsByType,
		},
	}
	if vmErr != nil {
		resp.Err = executionErr(vmErr)
	}
	return resp
}

func countUniquePCs(cov map[common.Address]map[uint64]struct{}) int {
	n := 0
	for _, set := range cov {
		n += len(set)
	}
	return n
}

func valueOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func (e *Executor) newEVM(statedb vm.StateDB, hooks *trace.Hooks) *vm.EVM {
	blockCtx := vm.BlockContext{
		CanTransfer: canTransfer,
		Transfer:    transfer,
		GetHash:     func(uint64) common.Hash { return common.Hash{} },
		Coinbase:    e.env.Coinbase,
		GasLimit:    e.txGasLimit,
		BlockNumber: e.env.BlockNumber.ToBig(),
		Time:        e.env.Timestamp.Uint64(),
		Difficulty:  new(big.Int),
		BaseFee:     e.env.BaseFee.ToBig(),
	}
	txCtx := vm.TxContext{
		Origin:   e.env.Origin,
		GasPrice: e.env.GasPrice.ToBig(),
	}
	cfg := vm.Config{Tracer: hooks.Tracer()}
	e.chainConfig.ChainID = e.env.ChainID.ToBig()
	return vm.NewEVM(blockCtx, txCtx, statedb, e.chainConfig, cfg)
}

func canTransfer(db vm.StateDB, addr common.Address, amount *uint256.Int) bool {
	return db.GetBalance(addr).Cmp(amount) >= 0
}

func transfer(db vm.StateDB, sender, recipient common.Address, amount *uint256.Int) {
	db.SubBalance(sender, amount, 0)
	db.AddBalance(recipient, amount, 0)
}
