package tevm

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/sbip-sg/tevm/internal/trace"
)

// BugType classifies a Finding. Re-exported from internal/trace so callers
// never need to import it directly.
type BugType = trace.BugType

const (
	BugUnknown                = trace.BugUnknown
	BugIntegerOverflow        = trace.BugIntegerOverflow
	BugSuspiciousExternalCall = trace.BugSuspiciousExternalCall
	BugSelfDestructReachable  = trace.BugSelfDestructReachable
	BugReentrantCall          = trace.BugReentrantCall
)

// Finding is one instrumentation observation emitted during a deploy or call.
type Finding = trace.Finding

// Heuristics is the aggregate summary the instrumentation hook leaves behind
// once a call finishes: total step count, how much of the address space was
// covered, and a per-category finding tally. It is a plain copy - nothing in
// it references the hook's internal per-call buffers.
type Heuristics struct {
	InstructionsExecuted uint64
	UniquePCs            int
	FindingsByType       map[BugType]int
}

// Response is the result of one DeterministicDeploy or ContractCall.
//
// Success is false for both an EVM revert and an out-of-gas termination;
// Err then carries a descriptive error whose text distinguishes the two
// (see ErrOutOfGas). Data holds the deployed address on a successful deploy,
// the call's return data on a successful call, or the revert reason bytes on
// failure. Err is never set when Success is true.
type Response struct {
	Success    bool
	Data       []byte
	Findings   []Finding
	SeenPCs    map[common.Address]map[uint64]struct{}
	Heuristics Heuristics
	Err        error
}

// PcsByAddress is a convenience lookup into SeenPCs.
func (r *Response) PcsByAddress(addr common.Address) map[uint64]struct{} {
	return r.SeenPCs[addr]
}
