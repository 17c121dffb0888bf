package tevm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BlockEnv holds the named block/transaction environment fields the EVM
// reads on every call: block number, timestamp, coinbase, gas price,
// transaction origin, chain id and base fee. All are addressable by string
// name through GetField/SetField, matching the host-binding's "named field"
// access pattern.
type BlockEnv struct {
	BlockNumber *uint256.Int
	Timestamp   *uint256.Int
	Coinbase    common.Address
	GasPrice    *uint256.Int
	Origin      common.Address
	ChainID     *uint256.Int
	BaseFee     *uint256.Int
}

// NewBlockEnv returns a BlockEnv with every U256 field at zero and every
// address field at the zero address.
func NewBlockEnv() *BlockEnv {
	return &BlockEnv{
		BlockNumber: new(uint256.Int),
		Timestamp:   new(uint256.Int),
		GasPrice:    new(uint256.Int),
		ChainID:     new(uint256.Int),
		BaseFee:     new(uint256.Int),
	}
}

// GetField returns field's current value as hex: "0x"-prefixed 64 hex
// characters for U256 fields, "0x"-prefixed 40 hex characters for address
// fields.
func (e *BlockEnv) GetField(field string) (string, error) {
	switch field {
	case "block_number":
		return hexU256(e.BlockNumber), nil
	case "timestamp":
		return hexU256(e.Timestamp), nil
	case "coinbase":
		return hexAddress(e.Coinbase), nil
	case "gas_price":
		return hexU256(e.GasPrice), nil
	case "origin":
		return hexAddress(e.Origin), nil
	case "chain_id":
		return hexU256(e.ChainID), nil
	case "basefee":
		return hexU256(e.BaseFee), nil
	default:
		return "", fmt.Errorf("tevm: unknown env field %q", field)
	}
}

// SetField parses value as hex and assigns it to field.
func (e *BlockEnv) SetField(field, value string) error {
	switch field {
	case "block_number":
		return setU256(&e.BlockNumber, value)
	case "timestamp":
		return setU256(&e.Timestamp, value)
	case "coinbase":
		e.Coinbase = common.HexToAddress(value)
		return nil
	case "gas_price":
		return setU256(&e.GasPrice, value)
	case "origin":
		e.Origin = common.HexToAddress(value)
		return nil
	case "chain_id":
		return setU256(&e.ChainID, value)
	case "basefee":
		return setU256(&e.BaseFee, value)
	default:
		return fmt.Errorf("tevm: unknown env field %q", field)
	}
}

func hexU256(v *uint256.Int) string {
	return fmt.Sprintf("0x%064x", v.ToBig())
}

// hexAddress renders addr lowercase with a 0x prefix. common.Address.Hex
// returns EIP-55 mixed-case checksummed hex, which spec's "emitted lowercase"
// hex convention for env fields does not call for.
func hexAddress(addr common.Address) string {
	return "0x" + encodeHex(addr.Bytes())
}

func setU256(dst **uint256.Int, value string) error {
	v, err := parseU256(value)
	if err != nil {
		return fmt.Errorf("tevm: parsing env value %q: %w", value, err)
	}
	*dst = v
	return nil
}
