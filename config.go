package tevm

import "github.com/ethereum/go-ethereum/common"

// InstrumentConfig controls the instrumentation hook: whether it records
// anything, and whether it is scoped to one contract address. It is a plain
// value type - Configure copies it in, and a live call already in flight
// keeps using whatever copy it was given at entry.
type InstrumentConfig struct {
	Enabled       bool
	TargetAddress common.Address
}
