// Package trace implements the instrumentation hook attached to the
// interpreter's step callback: per-instruction PC coverage and a small set
// of typed "bug" findings. It observes only - nothing here influences EVM
// semantics.
package trace

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// Config mirrors the host-visible instrument configuration: whether the hook
// records anything at all, and, if so, whether it is scoped to a single
// contract address or (when TargetAddress is the zero address) every frame.
type Config struct {
	Enabled       bool
	TargetAddress common.Address
}

func (c Config) tracks(addr common.Address) bool {
	if !c.Enabled {
		return false
	}
	return c.TargetAddress == (common.Address{}) || c.TargetAddress == addr
}

// Hooks accumulates coverage and findings for a single deploy/call. A fresh
// Hooks must be created per execution - it is not safe to reuse across
// calls, and the executor discards it once the Response has been assembled.
type Hooks struct {
	cfg Config

	seenPCs map[common.Address]map[uint64]struct{}
	findings []Finding

	instructions uint64

	// callStack holds the code address executing at each depth, populated
	// lazily as OnOpcode observes depth transitions - it is what
	// classifyCall checks a new CALL's target against for reentrancy.
	callStack []common.Address

	// calldataWords remembers, per depth, every word that was the visible
	// result of a CALLDATALOAD in that frame, so a later CALL/DELEGATECALL/
	// CALLCODE to that exact word can be flagged as caller-controlled.
	calldataWords map[int]map[uint256.Int]struct{}
	lastOp        map[int]vm.OpCode
}

// New returns a Hooks configured per cfg.
func New(cfg Config) *Hooks {
	return &Hooks{
		cfg:           cfg,
		seenPCs:       make(map[common.Address]map[uint64]struct{}),
		calldataWords: make(map[int]map[uint256.Int]struct{}),
		lastOp:        make(map[int]vm.OpCode),
	}
}

// Tracer returns the core/tracing.Hooks to install on vm.Config.Tracer.
func (h *Hooks) Tracer() *tracing.Hooks {
	return &tracing.Hooks{OnOpcode: h.onOpcode}
}

func (h *Hooks) onOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	h.instructions++
	addr := scope.Address()

	if h.cfg.tracks(addr) {
		set, ok := h.seenPCs[addr]
		if !ok {
			set = make(map[uint64]struct{})
			h.seenPCs[addr] = set
		}
		set[pc] = struct{}{}
	}

	h.trackCallStack(depth, addr)
	h.trackCalldataWord(depth, op, scope)

	if h.cfg.tracks(addr) {
		switch vm.OpCode(op) {
		case vm.ADD, vm.MUL, vm.SUB:
			h.classifyArithmetic(pc, vm.OpCode(op), scope)
		case vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL:
			h.classifyCall(pc, depth, vm.OpCode(op), scope)
		case vm.SELFDESTRUCT:
			h.findings = append(h.findings, Finding{Type: BugSelfDestructReachable, Position: pc})
		}
	}

	h.lastOp[depth] = vm.OpCode(op)
}

// trackCallStack keeps callStack[depth] in sync with the address currently
// executing at that depth, growing/shrinking it as CALLs push and pop
// frames.
func (h *Hooks) trackCallStack(depth int, addr common.Address) {
	idx := depth - 1
	if idx < 0 {
		return
	}
	for len(h.callStack) <= idx {
		h.callStack = append(h.callStack, common.Address{})
	}
	h.callStack = h.callStack[:idx+1]
	h.callStack[idx] = addr
}

// trackCalldataWord records the value a CALLDATALOAD just produced: it shows
// up as the new stack top the next time onOpcode fires at the same depth.
func (h *Hooks) trackCalldataWord(depth int, op byte, scope tracing.OpContext) {
	if h.lastOp[depth] != vm.CALLDATALOAD {
		return
	}
	stack := scope.StackData()
	if len(stack) == 0 {
		return
	}
	words, ok := h.calldataWords[depth]
	if !ok {
		words = make(map[uint256.Int]struct{})
		h.calldataWords[depth] = words
	}
	words[stack[len(stack)-1]] = struct{}{}
}

func stackArg(stack []uint256.Int, fromTop int) *uint256.Int {
	idx := len(stack) - 1 - fromTop
	if idx < 0 {
		return new(uint256.Int)
	}
	v := stack[idx]
	return &v
}

func (h *Hooks) classifyArithmetic(pc uint64, op vm.OpCode, scope tracing.OpContext) {
	stack := scope.StackData()
	a, b := stackArg(stack, 0), stackArg(stack, 1)

	var overflow bool
	switch op {
	case vm.ADD:
		sum := new(uint256.Int).Add(a, b)
		overflow = sum.Lt(a)
	case vm.MUL:
		if !a.IsZero() && !b.IsZero() {
			prod := new(uint256.Int).Mul(a, b)
			check := new(uint256.Int).Div(prod, a)
			overflow = !check.Eq(b)
		}
	case vm.SUB:
		overflow = a.Lt(b)
	}
	if overflow {
		h.findings = append(h.findings, Finding{Type: BugIntegerOverflow, Position: pc})
	}
}

func (h *Hooks) classifyCall(pc uint64, depth int, op vm.OpCode, scope tracing.OpContext) {
	stack := scope.StackData()
	// CALL/CALLCODE: gas, addr, value, argsOffset, argsSize, retOffset, retSize
	// DELEGATECALL/STATICCALL: gas, addr, argsOffset, argsSize, retOffset, retSize
	target := stackArg(stack, 1)
	targetAddr := common.Address(target.Bytes20())

	if words, ok := h.calldataWords[depth]; ok && op != vm.STATICCALL {
		if _, fromCalldata := words[*target]; fromCalldata {
			h.findings = append(h.findings, Finding{Type: BugSuspiciousExternalCall, Position: pc, Target: targetAddr})
		}
	}

	for _, onStack := range h.callStack {
		if onStack == targetAddr {
			h.findings = append(h.findings, Finding{Type: BugReentrantCall, Position: pc, Target: targetAddr, Depth: depth})
			break
		}
	}
}

// Coverage returns the per-address PC sets recorded so far. The caller owns
// the returned map; Hooks keeps no further reference to it.
func (h *Hooks) Coverage() map[common.Address]map[uint64]struct{} {
	out := make(map[common.Address]map[uint64]struct{}, len(h.seenPCs))
	for addr, set := range h.seenPCs {
		cp := make(map[uint64]struct{}, len(set))
		for pc := range set {
			cp[pc] = struct{}{}
		}
		out[addr] = cp
	}
	return out
}

// Findings returns every finding emitted so far, in emission order.
func (h *Hooks) Findings() []Finding {
	return append([]Finding(nil), h.findings...)
}

// InstructionsExecuted is the number of OnOpcode invocations observed.
func (h *Hooks) InstructionsExecuted() uint64 { return h.instructions }
