// Package fixtures hand-assembles small EVM bytecode contracts directly
// from github.com/ethereum/go-ethereum/core/vm opcode constants - the same
// technique core/vm/runtime's own tests use (see runtime_test.go's
// []byte{byte(vm.DIFFICULTY), ...}) - since no Solidity toolchain is
// available here. Every contract below is a deliberately simplified stand-in
// for the real thing: selector tags and storage layout are internal to this
// package, not derived from keccak256(signature) or Solidity's standard
// mapping-slot hashing.
package fixtures

import "github.com/ethereum/go-ethereum/core/vm"

// asm is a tiny two-pass assembler: pushLabel emits a placeholder PUSH2
// operand and records where it needs patching; label marks a JUMPDEST and
// its offset; resolve patches every placeholder once all labels are known.
// This exists purely to avoid hand-computing jump offsets by hand, which is
// the usual source of bugs in hand-assembled bytecode.
type asm struct {
	buf    []byte
	labels map[string]int
	fixups []fixup
}

type fixup struct {
	at    int
	label string
}

func newAsm() *asm {
	return &asm{labels: make(map[string]int)}
}

func (a *asm) op(b byte) *asm {
	a.buf = append(a.buf, b)
	return a
}

// push1 emits PUSH1 <v>.
func (a *asm) push1(v byte) *asm {
	return a.op(byte(vm.PUSH1)).op(v)
}

// push2 emits PUSH2 <v, big-endian>.
func (a *asm) push2(v uint16) *asm {
	return a.op(byte(vm.PUSH2)).op(byte(v >> 8)).op(byte(v))
}

// push4 emits PUSH4 <v, big-endian> - used for the 4-byte selector tags.
func (a *asm) push4(v uint32) *asm {
	a.op(byte(vm.PUSH4))
	a.buf = append(a.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	return a
}

// label marks the current position as a jump destination named name.
func (a *asm) label(name string) *asm {
	a.labels[name] = len(a.buf)
	return a.op(byte(vm.JUMPDEST))
}

// pushLabel emits a PUSH2 whose operand is patched to name's eventual
// offset once resolve runs.
func (a *asm) pushLabel(name string) *asm {
	a.fixups = append(a.fixups, fixup{at: len(a.buf) + 1, label: name})
	return a.op(byte(vm.PUSH2)).op(0).op(0)
}

func (a *asm) raw(bs ...byte) *asm {
	a.buf = append(a.buf, bs...)
	return a
}

// ops appends one or more bare (no-operand) opcodes in sequence.
func (a *asm) ops(codes ...vm.OpCode) *asm {
	for _, c := range codes {
		a.op(byte(c))
	}
	return a
}

// resolve patches every pushLabel placeholder and returns the final code.
// It panics on an unresolved label - a programming error in this package,
// never a runtime condition.
func (a *asm) resolve() []byte {
	for _, f := range a.fixups {
		pos, ok := a.labels[f.label]
		if !ok {
			panic("fixtures: undefined label " + f.label)
		}
		a.buf[f.at] = byte(pos >> 8)
		a.buf[f.at+1] = byte(pos)
	}
	return a.buf
}

// len reports the assembler's current length. The CODECOPY offsets in this
// package are computed from the length of the resolved byte slices instead.
func (a *asm) len() int { return len(a.buf) }
