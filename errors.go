package tevm

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"
)

// ErrOutOfGas wraps go-ethereum's vm.ErrOutOfGas so its error text always
// contains the literal token "OutOfGas" - vm.ErrOutOfGas itself renders as
// "out of gas", which a substring search for "OutOfGas" would miss.
var ErrOutOfGas = fmt.Errorf("OutOfGas: %w", vm.ErrOutOfGas)

// isOutOfGas reports whether err (as returned by an EVM Call/Create) is the
// out-of-gas case, so callers can report it through ErrOutOfGas instead of
// the raw vm error.
func isOutOfGas(err error) bool {
	return errors.Is(err, vm.ErrOutOfGas)
}

func executionErr(err error) error {
	if err == nil {
		return nil
	}
	if isOutOfGas(err) {
		return ErrOutOfGas
	}
	return err
}
