package kaspa

import (
	"fmt"
	"strings"
)

const (
	AddressPrefix = "kaspa:"

	// Total address length including the prefix. Kaspa bech32 addresses
	// land in this range for all known version bytes.
	addressMinLen = 60
	addressMaxLen = 70
)

// ValidateAddress checks the structural shape of a Kaspa address:
// prefix, length range, and an alphanumeric payload. It does not verify
// the bech32 checksum; the node rejects malformed addresses on use.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("empty address")
	}
	if !strings.HasPrefix(addr, AddressPrefix) {
		return fmt.Errorf("address must start with %q", AddressPrefix)
	}
	if len(addr) < addressMinLen || len(addr) > addressMaxLen {
		return fmt.Errorf("address length %d outside [%d, %d]", len(addr), addressMinLen, addressMaxLen)
	}
	payload := addr[len(AddressPrefix):]
	for _, r := range payload {
		if !isAlphanumeric(r) {
			return fmt.Errorf("address contains invalid character %q", r)
		}
	}
	return nil
}

func IsValidAddress(addr string) bool {
	return ValidateAddress(addr) == nil
}

// NormalizeAddress trims whitespace and, if the bare payload was given,
// prepends the kaspa: prefix. Returns an error when neither form validates.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if IsValidAddress(addr) {
		return addr, nil
	}
	withPrefix := AddressPrefix + addr
	if IsValidAddress(withPrefix) {
		return withPrefix, nil
	}
	return "", fmt.Errorf("invalid kaspa address: %q", addr)
}

// FormatAddress shortens an address for display: kaspa:qrp2dp..._tail.
func FormatAddress(addr string) string {
	if len(addr) <= 16 {
		return addr
	}
	return addr[:12] + "..." + addr[len(addr)-4:]
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
