package tevm

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// parseHex decodes s as hex, tolerating an optional "0x"/"0X" prefix and
// mixed case, per the "accept case-insensitively, with or without 0x prefix"
// hex convention.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

// parseU256 decodes s (with or without 0x prefix) as a big-endian U256.
func parseU256(s string) (*uint256.Int, error) {
	b, err := parseHex(s)
	if err != nil {
		return nil, err
	}
	if len(b) > 32 {
		return nil, fmt.Errorf("value %q overflows 256 bits", s)
	}
	return uint256.NewInt(0).SetBytes(b), nil
}

// encodeHex renders b as lowercase hex without a 0x prefix, the convention
// for raw byte payloads (addresses, call data, return data).
func encodeHex(b []byte) string {
	return hex.EncodeToString(b)
}
