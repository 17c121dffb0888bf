package fixtures

import "github.com/ethereum/go-ethereum/core/vm"

// Real, well-known ERC-20 selectors - kept accurate since they are famous
// enough to be worth getting right even without an ABI compiler.
const (
	BalanceOfSelector uint32 = 0x70a08231 // balanceOf(address)
	TransferSelector  uint32 = 0xa9059cbb // transfer(address,uint256)
)

// Simplified storage layout: balances[addr] lives at storage slot
// uint256(addr) directly, rather than Solidity's keccak256(addr . slot)
// mapping scheme - adequate for exercising balanceOf/transfer/snapshot
// behavior without a compiler, and documented here rather than silently
// assumed.
const (
	scratchTo      = 0x00
	scratchAmount  = 0x20
	scratchFrom    = 0x40
	scratchFromBal = 0x60
	scratchToBal   = 0x80
)

func tokenDispatch(a *asm) {
	a.push1(0x00).ops(vm.CALLDATALOAD)
	a.push1(0xe0).ops(vm.SHR)

	a.ops(vm.DUP1)
	a.push4(BalanceOfSelector)
	a.ops(vm.EQ)
	a.pushLabel("balanceOf")
	a.ops(vm.JUMPI)

	a.ops(vm.DUP1)
	a.push4(TransferSelector)
	a.ops(vm.EQ)
	a.pushLabel("transfer")
	a.ops(vm.JUMPI)

	a.push1(0x00).push1(0x00).ops(vm.REVERT)
}

// tokenRuntime returns the Token contract's deployed bytecode.
//
//   - balanceOf(address) reads its single argument from calldata offset 4
//     and returns storage[addr].
//   - transfer(address,uint256) reads `to` at offset 4 and `amount` at
//     offset 36, reverts if the caller's balance is insufficient, and
//     otherwise debits the caller and credits `to`, returning true.
func tokenRuntime() []byte {
	a := newAsm()
	tokenDispatch(a)

	a.label("balanceOf")
	a.push1(0x04).ops(vm.CALLDATALOAD) // addr
	a.ops(vm.SLOAD)                    // balance
	a.push1(0x00).ops(vm.MSTORE)
	a.push1(0x20).push1(0x00).ops(vm.RETURN)

	a.label("transfer")
	// mem[scratchTo] = to
	a.push1(0x04).ops(vm.CALLDATALOAD)
	a.push1(scratchTo).ops(vm.MSTORE)
	// mem[scratchAmount] = amount
	a.push1(0x24).ops(vm.CALLDATALOAD)
	a.push1(scratchAmount).ops(vm.MSTORE)
	// mem[scratchFrom] = caller
	a.ops(vm.CALLER)
	a.push1(scratchFrom).ops(vm.MSTORE)
	// mem[scratchFromBal] = SLOAD(from)
	a.push1(scratchFrom).ops(vm.MLOAD)
	a.ops(vm.SLOAD)
	a.push1(scratchFromBal).ops(vm.MSTORE)

	// revert if amount > fromBal
	a.push1(scratchFromBal).ops(vm.MLOAD)
	a.push1(scratchAmount).ops(vm.MLOAD)
	a.ops(vm.GT)
	a.pushLabel("insufficientBalance")
	a.ops(vm.JUMPI)

	// storage[from] = fromBal - amount
	a.push1(scratchAmount).ops(vm.MLOAD)
	a.push1(scratchFromBal).ops(vm.MLOAD)
	a.ops(vm.SUB)
	a.push1(scratchFrom).ops(vm.MLOAD)
	a.ops(vm.SSTORE)

	// mem[scratchToBal] = SLOAD(to)
	a.push1(scratchTo).ops(vm.MLOAD)
	a.ops(vm.SLOAD)
	a.push1(scratchToBal).ops(vm.MSTORE)

	// storage[to] = toBal + amount
	a.push1(scratchToBal).ops(vm.MLOAD)
	a.push1(scratchAmount).ops(vm.MLOAD)
	a.ops(vm.ADD)
	a.push1(scratchTo).ops(vm.MLOAD)
	a.ops(vm.SSTORE)

	// return true
	a.push1(0x01)
	a.push1(0x00).ops(vm.MSTORE)
	a.push1(0x20).push1(0x00).ops(vm.RETURN)

	a.label("insufficientBalance")
	a.push1(0x00).push1(0x00).ops(vm.REVERT)

	return a.resolve()
}

// TokenInitCode returns deploy-time init code for the Token contract. Its
// constructor takes one 32-byte argument, initialSupply, appended after this
// init code (name/symbol/decimals, present in the original specification's
// constructor signature, are accepted as additional appended words but
// otherwise ignored by this simplified fixture). initialSupply is credited
// to the deploying account (CALLER at constructor time) before the runtime
// code is returned.
func TokenInitCode() []byte {
	a := newAsm()
	// mem[0x00] = initialSupply, copied from the constructor argument word
	// that the caller appends after this init code on deploy (patched below
	// once the total init code length, i.e. the argument's code offset, is
	// known).
	a.push1(0x20) // size
	a.push2(0)    // code offset, patched below
	a.push1(0x00) // dest memory offset
	a.ops(vm.CODECOPY)
	a.push1(0x00).ops(vm.MLOAD) // initialSupply
	a.ops(vm.CALLER)
	a.ops(vm.SSTORE) // storage[caller] = initialSupply
	ctor := a.resolve()

	runtime := tokenRuntime()
	full := withAppendedRuntimeAfter(ctor, runtime)

	// The constructor argument word comes right after this whole init code,
	// once the deployer appends it - patch the CODECOPY offset above to
	// point there.
	argsOffset := uint16(len(full))
	full[3] = byte(argsOffset >> 8)
	full[4] = byte(argsOffset)

	return full
}

// withAppendedRuntimeAfter is withAppendedRuntime for a contract whose
// constructor already does work of its own (ctorPrefix): it appends the
// standard CODECOPY-and-return prologue after ctorPrefix instead of using it
// as the whole constructor body.
func withAppendedRuntimeAfter(ctorPrefix, runtime []byte) []byte {
	a := newAsm()
	a.push2(uint16(len(runtime)))
	a.push2(0) // runtime offset, patched below
	a.push1(0x00)
	a.ops(vm.CODECOPY)
	a.push2(uint16(len(runtime)))
	a.push1(0x00)
	a.ops(vm.RETURN)
	tail := a.resolve()

	offset := uint16(len(ctorPrefix) + len(tail))
	tail[4] = byte(offset >> 8)
	tail[5] = byte(offset)

	full := append(append([]byte(nil), ctorPrefix...), tail...)
	return append(full, runtime...)
}
