package tevm

import (
	"encoding/binary"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/sbip-sg/tevm/internal/fixtures"
	"github.com/sbip-sg/tevm/internal/state"
)

func selectorBytes(tag uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, tag)
	return b
}

func addressWord(addr common.Address) []byte {
	w := make([]byte, 32)
	copy(w[12:], addr.Bytes())
	return w
}

func u256Word(v *uint256.Int) []byte {
	b := v.Bytes32()
	return b[:]
}

func packCall(selector uint32, words ...[]byte) string {
	buf := append([]byte(nil), selectorBytes(selector)...)
	for _, w := range words {
		buf = append(buf, w...)
	}
	return encodeHex(buf)
}

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func mustDeploy(t *testing.T, e *Executor, initCode []byte, deployer common.Address, ctorArgsHex string) common.Address {
	t.Helper()
	resp, err := e.DeterministicDeploy(encodeHex(initCode), "", deployer, ctorArgsHex, nil, nil)
	if err != nil {
		t.Fatalf("DeterministicDeploy: %v", err)
	}
	if !resp.Success {
		t.Fatalf("deploy reverted: %v", resp.Err)
	}
	return common.BytesToAddress(resp.Data)
}

func TestDeterministicDeployAddressMatchesAcrossInstances(t *testing.T) {
	initCode := fixtures.CounterInitCode()

	e1 := New()
	e2 := New()

	addr1 := mustDeploy(t, e1, initCode, alice, "")
	addr2 := mustDeploy(t, e2, initCode, alice, "")

	if addr1 != addr2 {
		t.Fatalf("deploy address diverged across instances: %s vs %s", addr1.Hex(), addr2.Hex())
	}

	// deployer's nonce was 0 at deploy time in both fresh executors.
	want := crypto.CreateAddress(alice, 0)
	if addr1 != want {
		t.Fatalf("deploy address = %s, want %s", addr1.Hex(), want.Hex())
	}
}

func TestDeterministicDeployWithSaltIsCreate2(t *testing.T) {
	initCode := fixtures.CounterInitCode()
	salt := "0x" + strings.Repeat("ab", 32)

	e := New()
	resp, err := e.DeterministicDeploy(encodeHex(initCode), salt, alice, "", nil, nil)
	if err != nil {
		t.Fatalf("DeterministicDeploy: %v", err)
	}
	if !resp.Success {
		t.Fatalf("deploy reverted: %v", resp.Err)
	}
	addr := common.BytesToAddress(resp.Data)

	saltBytes, _ := parseHex(salt)
	var salt32 [32]byte
	copy(salt32[:], saltBytes)
	want := crypto.CreateAddress2(alice, salt32, crypto.Keccak256(initCode))
	if addr != want {
		t.Fatalf("create2 address = %s, want %s", addr.Hex(), want.Hex())
	}

	// Deploying again with the same deployer/salt/initCode from a fresh
	// executor reaches the identical address.
	e2 := New()
	resp2, err := e2.DeterministicDeploy(encodeHex(initCode), salt, alice, "", nil, nil)
	if err != nil {
		t.Fatalf("DeterministicDeploy: %v", err)
	}
	if common.BytesToAddress(resp2.Data) != addr {
		t.Fatalf("create2 address diverged across instances")
	}
}

func TestCounterDeployAndCall(t *testing.T) {
	e := New()
	addr := mustDeploy(t, e, fixtures.CounterInitCode(), alice, "")

	call := func(selector uint32) *uint256.Int {
		resp, err := e.ContractCall(addr, &alice, packCall(selector), nil)
		if err != nil {
			t.Fatalf("ContractCall: %v", err)
		}
		if !resp.Success {
			t.Fatalf("call reverted: %v", resp.Err)
		}
		return new(uint256.Int).SetBytes(resp.Data)
	}

	if v := call(fixtures.CounterSelector); !v.IsZero() {
		t.Fatalf("initial counter() = %s, want 0", v)
	}
	if v := call(fixtures.FastSeqSelector); v.Uint64() != 1 {
		t.Fatalf("fast_seq() = %s, want 1", v)
	}
	if v := call(fixtures.SlowSeqSelector); v.Uint64() != 4 {
		t.Fatalf("slow_seq() = %s, want 4 (1 + 3 increments)", v)
	}
	if v := call(fixtures.CounterSelector); v.Uint64() != 4 {
		t.Fatalf("counter() after slow_seq = %s, want 4", v)
	}
}

func TestCounterInstrumentationRecordsCoverage(t *testing.T) {
	e := New()
	addr := mustDeploy(t, e, fixtures.CounterInitCode(), alice, "")
	e.Configure(InstrumentConfig{Enabled: true, TargetAddress: addr})

	resp, err := e.ContractCall(addr, &alice, packCall(fixtures.CounterSelector), nil)
	if err != nil {
		t.Fatalf("ContractCall: %v", err)
	}
	if resp.Heuristics.InstructionsExecuted == 0 {
		t.Fatal("expected nonzero instruction count with instrumentation enabled")
	}
	if len(resp.PcsByAddress(addr)) == 0 {
		t.Fatal("expected nonzero coverage for the called contract")
	}
}

func TestTokenTransferAndInsufficientBalance(t *testing.T) {
	e := New()
	initialSupply := uint256.NewInt(1000)
	addr := mustDeploy(t, e, fixtures.TokenInitCode(), alice, encodeHex(u256Word(initialSupply)))

	balanceOf := func(who common.Address) *uint256.Int {
		resp, err := e.ContractCall(addr, &who, packCall(fixtures.BalanceOfSelector, addressWord(who)), nil)
		if err != nil {
			t.Fatalf("ContractCall balanceOf: %v", err)
		}
		if !resp.Success {
			t.Fatalf("balanceOf reverted: %v", resp.Err)
		}
		return new(uint256.Int).SetBytes(resp.Data)
	}

	if got := balanceOf(alice); got.Cmp(initialSupply) != 0 {
		t.Fatalf("alice balance = %s, want %s", got, initialSupply)
	}
	if got := balanceOf(bob); !got.IsZero() {
		t.Fatalf("bob balance = %s, want 0", got)
	}

	amount := uint256.NewInt(400)
	resp, err := e.ContractCall(addr, &alice, packCall(fixtures.TransferSelector, addressWord(bob), u256Word(amount)), nil)
	if err != nil {
		t.Fatalf("ContractCall transfer: %v", err)
	}
	if !resp.Success {
		t.Fatalf("transfer reverted: %v", resp.Err)
	}

	wantAlice := new(uint256.Int).Sub(initialSupply, amount)
	if got := balanceOf(alice); got.Cmp(wantAlice) != 0 {
		t.Fatalf("alice balance after transfer = %s, want %s", got, wantAlice)
	}
	if got := balanceOf(bob); got.Cmp(amount) != 0 {
		t.Fatalf("bob balance after transfer = %s, want %s", got, amount)
	}

	// Bob cannot transfer more than he holds.
	tooMuch := uint256.NewInt(1_000_000)
	resp, err = e.ContractCall(addr, &bob, packCall(fixtures.TransferSelector, addressWord(alice), u256Word(tooMuch)), nil)
	if err != nil {
		t.Fatalf("ContractCall transfer: %v", err)
	}
	if resp.Success {
		t.Fatal("expected transfer exceeding balance to revert")
	}
}

func TestGlobalSnapshotRestoreRepeatable(t *testing.T) {
	e := New()
	e.SetBalance(alice, uint256.NewInt(100))

	id := e.TakeGlobalSnapshot()
	e.SetBalance(alice, uint256.NewInt(999))

	for i := 0; i < 1000; i++ {
		if err := e.RestoreGlobalSnapshot(id, true); err != nil {
			t.Fatalf("iteration %d: RestoreGlobalSnapshot: %v", i, err)
		}
		got, err := e.GetBalance(alice)
		if err != nil {
			t.Fatalf("iteration %d: GetBalance: %v", i, err)
		}
		if got.Uint64() != 100 {
			t.Fatalf("iteration %d: balance after restore = %s, want 100", i, got)
		}
		e.SetBalance(alice, uint256.NewInt(999))
	}
}

func TestGlobalSnapshotRestoreWithoutKeepIsOneShot(t *testing.T) {
	e := New()
	e.SetBalance(alice, uint256.NewInt(1))
	id := e.TakeGlobalSnapshot()
	e.SetBalance(alice, uint256.NewInt(2))

	if err := e.RestoreGlobalSnapshot(id, false); err != nil {
		t.Fatalf("RestoreGlobalSnapshot: %v", err)
	}
	if err := e.RestoreGlobalSnapshot(id, false); err == nil {
		t.Fatal("expected second restore without keep to fail, snapshot id should be gone")
	}
}

func TestPerAccountSnapshotAndCopy(t *testing.T) {
	e := New()
	e.SetBalance(alice, uint256.NewInt(50))
	e.TakeSnapshot(alice)

	e.SetBalance(alice, uint256.NewInt(0))
	if err := e.RestoreSnapshot(alice); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}
	got, err := e.GetBalance(alice)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if got.Uint64() != 50 {
		t.Fatalf("balance after restore = %s, want 50", got)
	}

	if err := e.CopySnapshot(alice, bob); err != nil {
		t.Fatalf("CopySnapshot: %v", err)
	}
	got, err = e.GetBalance(bob)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if got.Uint64() != 50 {
		t.Fatalf("bob balance after CopySnapshot = %s, want 50", got)
	}
}

func TestRestoreSnapshotWithoutPriorTakeFails(t *testing.T) {
	e := New()
	if err := e.RestoreSnapshot(common.HexToAddress("0xdead")); err == nil {
		t.Fatal("expected RestoreSnapshot to fail without a prior TakeSnapshot")
	}
}

func TestOutOfGasIsReportedDistinctly(t *testing.T) {
	e := New()
	addr := mustDeploy(t, e, fixtures.CounterInitCode(), alice, "")
	e.SetTxGasLimit(100)

	resp, err := e.ContractCall(addr, &alice, packCall(fixtures.CounterSelector), nil)
	if err != nil {
		t.Fatalf("ContractCall: %v", err)
	}
	if resp.Success {
		t.Fatal("expected a 100-gas call against nontrivial code to run out of gas")
	}
	if !errors.Is(resp.Err, ErrOutOfGas) {
		t.Fatalf("resp.Err = %v, want wrapping ErrOutOfGas", resp.Err)
	}
	if !strings.Contains(resp.Err.Error(), "OutOfGas") {
		t.Fatalf("resp.Err.Error() = %q, want substring \"OutOfGas\"", resp.Err.Error())
	}
}

func TestConcurrentExecutorsAreIndependent(t *testing.T) {
	const n = 8
	var wg sync.WaitGroup
	results := make([]common.Address, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := New()
			e.SetBalance(alice, uint256.NewInt(uint64(i+1)))
			resp, err := e.DeterministicDeploy(encodeHex(fixtures.CounterInitCode()), "", alice, "", nil, nil)
			if err != nil {
				errs[i] = err
				return
			}
			if !resp.Success {
				errs[i] = errors.New("deploy reverted")
				return
			}
			got, err := e.GetBalance(alice)
			if err != nil {
				errs[i] = err
				return
			}
			if got.Uint64() != uint64(i+1) {
				errs[i] = errors.New("balance leaked across executors")
				return
			}
			results[i] = common.BytesToAddress(resp.Data)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("deploy address should be identical across independent executors using the same deployer/nonce, got %s vs %s", results[i], results[0])
		}
	}
}

func TestEnvFieldRoundTrip(t *testing.T) {
	e := New()
	if err := e.SetEnvFieldValue("block_number", "0x2a"); err != nil {
		t.Fatalf("SetEnvFieldValue: %v", err)
	}
	got, err := e.GetEnvValueByField("block_number")
	if err != nil {
		t.Fatalf("GetEnvValueByField: %v", err)
	}
	want := "0x" + strings.Repeat("0", 62) + "2a"
	if got != want {
		t.Fatalf("block_number = %s, want %s", got, want)
	}

	if err := e.SetEnvFieldValue("coinbase", alice.Hex()); err != nil {
		t.Fatalf("SetEnvFieldValue coinbase: %v", err)
	}
	got, err = e.GetEnvValueByField("coinbase")
	if err != nil {
		t.Fatalf("GetEnvValueByField coinbase: %v", err)
	}
	if !strings.EqualFold(got, alice.Hex()) {
		t.Fatalf("coinbase = %s, want %s", got, alice.Hex())
	}

	if _, err := e.GetEnvValueByField("nonsense"); err == nil {
		t.Fatal("expected an error for an unknown env field")
	}
}

// TestForkReadsFromLiveNode is gated behind an explicit opt-in env var since
// it requires network access to a real JSON-RPC endpoint.
func TestForkReadsFromLiveNode(t *testing.T) {
	if os.Getenv("TEVM_NETWORK_TESTS") == "" {
		t.Skip("set TEVM_NETWORK_TESTS=1 to run tests against a live fork endpoint")
	}
	url := os.Getenv("TEVM_FORK_URL")
	if url == "" {
		t.Skip("set TEVM_FORK_URL to a JSON-RPC endpoint to run this test")
	}
	e, err := NewFork(url, 18_000_000)
	if err != nil {
		t.Fatalf("NewFork: %v", err)
	}
	if _, err := e.GetBalance(alice); err != nil {
		t.Fatalf("expected a balance lookup to succeed against the fork endpoint: %v", err)
	}
}

// erroringBackend is a state.ForkBackend fake that fails every fetch, used to
// exercise the fork-I/O error path without a network dependency.
type erroringBackend struct {
	err error
}

func (b erroringBackend) FetchBalance(common.Address) (*uint256.Int, error) { return nil, b.err }
func (b erroringBackend) FetchNonce(common.Address) (uint64, error)         { return 0, b.err }
func (b erroringBackend) FetchCode(common.Address) ([]byte, error)          { return nil, b.err }
func (b erroringBackend) FetchStorage(common.Address, common.Hash) (common.Hash, error) {
	return common.Hash{}, b.err
}

func TestForkFetchErrorSurfacesOnDirectAccessors(t *testing.T) {
	wantErr := errors.New("rpc unreachable")
	e := newExecutor(state.NewWithBackend(erroringBackend{err: wantErr}))

	if _, err := e.GetBalance(alice); err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("GetBalance err = %v, want wrapping %v", err, wantErr)
	}
	if _, err := e.GetNonce(alice); err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("GetNonce err = %v, want wrapping %v", err, wantErr)
	}
	if _, err := e.GetCode(alice); err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("GetCode err = %v, want wrapping %v", err, wantErr)
	}
}

func TestForkFetchErrorSurfacesOnContractCall(t *testing.T) {
	wantErr := errors.New("rpc unreachable")
	e := newExecutor(state.NewWithBackend(erroringBackend{err: wantErr}))

	_, err := e.ContractCall(alice, &alice, "", nil)
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("ContractCall err = %v, want wrapping %v", err, wantErr)
	}
}

func TestForkFetchErrorSurfacesOnDeterministicDeploy(t *testing.T) {
	wantErr := errors.New("rpc unreachable")
	e := newExecutor(state.NewWithBackend(erroringBackend{err: wantErr}))

	_, err := e.DeterministicDeploy(encodeHex(fixtures.CounterInitCode()), "", alice, "", nil, nil)
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("DeterministicDeploy err = %v, want wrapping %v", err, wantErr)
	}
}

// TestForkFetchErrorIsNotStickyAcrossCalls checks that a failed fetch is
// fatal only to the call it occurred in: once surfaced to the host, a later
// call that never touches the backend must still work.
func TestForkFetchErrorIsNotStickyAcrossCalls(t *testing.T) {
	wantErr := errors.New("rpc unreachable")
	e := newExecutor(state.NewWithBackend(erroringBackend{err: wantErr}))

	if _, err := e.GetBalance(alice); err == nil {
		t.Fatal("expected first GetBalance to fail")
	}

	e.SetBalance(bob, uint256.NewInt(7))
	got, err := e.GetBalance(bob)
	if err != nil {
		t.Fatalf("GetBalance(bob) should not be poisoned by alice's earlier fetch failure: %v", err)
	}
	if got.Uint64() != 7 {
		t.Fatalf("GetBalance(bob) = %s, want 7", got)
	}
}
