package fixtures

import "github.com/ethereum/go-ethereum/core/vm"

// Simplified selector tags for the Counter fixture. These are internal
// dispatch tags, not keccak256(signature) - there is no ABI compiler in
// this environment to derive real ones.
const (
	CounterSelector uint32 = 0xc0000001 // counter()
	FastSeqSelector uint32 = 0xc0000002 // fast_seq()
	SlowSeqSelector uint32 = 0xc0000003 // slow_seq()
	counterSlot     byte   = 0x00
)

// counterDispatch builds the selector-dispatch runtime body shared by every
// entrypoint: extract the 4-byte selector from the high end of calldata word
// 0 (shifting it down by 224 bits), compare against each known tag, and jump to its handler; no match
// reverts.
func counterDispatch(a *asm) {
	a.push1(0x00).ops(vm.CALLDATALOAD)
	a.push1(0xe0).ops(vm.SHR)

	for _, c := range []struct {
		tag   uint32
		label string
	}{
		{CounterSelector, "counter"},
		{FastSeqSelector, "fast_seq"},
		{SlowSeqSelector, "slow_seq"},
	} {
		a.ops(vm.DUP1)
		a.push4(c.tag)
		a.ops(vm.EQ)
		a.pushLabel(c.label)
		a.ops(vm.JUMPI)
	}
	a.push1(0x00).push1(0x00).ops(vm.REVERT)
}

// returnSlot0 emits SLOAD(counterSlot) -> MSTORE(0, v) -> RETURN(0, 32), the
// common tail of every Counter handler.
func returnSlot0(a *asm) {
	a.push1(counterSlot).ops(vm.SLOAD)
	a.push1(0x00).ops(vm.MSTORE)
	a.push1(0x20).push1(0x00).ops(vm.RETURN)
}

// incrementSlot0 emits storage[0] = storage[0] + 1, leaving nothing on the
// stack.
func incrementSlot0(a *asm) {
	a.push1(counterSlot).ops(vm.SLOAD)
	a.push1(0x01).ops(vm.ADD)
	a.push1(counterSlot).ops(vm.SSTORE)
}

// counterRuntime returns the Counter contract's deployed (runtime) bytecode:
//   - counter()  -> returns the current value of storage slot 0.
//   - fast_seq() -> increments slot 0 once and returns the new value.
//   - slow_seq() -> increments slot 0 three times (more instructions, same
//     net effect as calling fast_seq three times) and returns the new value.
func counterRuntime() []byte {
	a := newAsm()
	counterDispatch(a)

	a.label("counter")
	returnSlot0(a)

	a.label("fast_seq")
	incrementSlot0(a)
	returnSlot0(a)

	a.label("slow_seq")
	incrementSlot0(a)
	incrementSlot0(a)
	incrementSlot0(a)
	returnSlot0(a)

	return a.resolve()
}

// CounterInitCode returns deploy-time init code for the Counter contract: it
// takes no constructor arguments and simply returns its runtime code.
func CounterInitCode() []byte {
	return withAppendedRuntime(counterRuntime())
}

// withAppendedRuntime builds the standard constructor prologue -
// PUSH2 <len(runtime)> PUSH2 <offset-of-runtime> PUSH1 0x00 CODECOPY
// PUSH2 <len(runtime)> PUSH1 0x00 RETURN - followed by runtime itself. The
// prologue's own length is fixed regardless of the offset value it carries
// (every instruction here is a literal opcode plus a constant-width operand),
// so the offset - which equals the prologue's length - can be computed and
// patched in after building it once, with no jump-label machinery needed.
func withAppendedRuntime(runtime []byte) []byte {
	a := newAsm()
	a.push2(uint16(len(runtime)))
	a.push2(0) // runtime offset, patched below
	a.push1(0x00)
	a.ops(vm.CODECOPY)
	a.push2(uint16(len(runtime)))
	a.push1(0x00)
	a.ops(vm.RETURN)
	ctor := a.resolve()

	offset := uint16(len(ctor))
	ctor[4] = byte(offset >> 8)
	ctor[5] = byte(offset)
	return append(ctor, runtime...)
}
