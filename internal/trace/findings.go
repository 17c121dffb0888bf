package trace

import "github.com/ethereum/go-ethereum/common"

// BugType classifies a Finding. The set is small; further kinds are added as
// new constants below.
type BugType int

const (
	BugUnknown BugType = iota
	// BugIntegerOverflow fires on an ADD/MUL/SUB whose result wraps the
	// 256-bit modulus.
	BugIntegerOverflow
	// BugSuspiciousExternalCall fires on a CALL/CALLCODE/DELEGATECALL whose
	// target address was produced by a CALLDATALOAD in the same frame,
	// i.e. a caller-controlled call target.
	BugSuspiciousExternalCall
	// BugSelfDestructReachable fires the moment a SELFDESTRUCT executes.
	BugSelfDestructReachable
	// BugReentrantCall fires on a CALL/CALLCODE/DELEGATECALL/STATICCALL
	// whose target is already present lower on the live call stack.
	BugReentrantCall
)

func (b BugType) String() string {
	switch b {
	case BugIntegerOverflow:
		return "integer_overflow"
	case BugSuspiciousExternalCall:
		return "suspicious_external_call"
	case BugSelfDestructReachable:
		return "selfdestruct_reachable"
	case BugReentrantCall:
		return "reentrant_call"
	default:
		return "unknown"
	}
}

// Finding is one instrumentation observation. Position is the program
// counter at which it was detected; Target and Depth are populated for the
// bug types that carry them, and left at their zero value otherwise.
type Finding struct {
	Type     BugType
	Position uint64
	Target   common.Address
	Depth    int
}
