package kaspa

import (
	"fmt"
	"math/big"
	"strings"
)

// 1 KAS = 100_000_000 sompi.
const SompiPerKAS = 100_000_000

const sompiDecimals = 8

// ParseKASToSompi converts a decimal KAS string (e.g. "2.5") to sompi (*big.Int).
func ParseKASToSompi(kasStr string) (*big.Int, error) {
	kasStr = strings.TrimSpace(kasStr)
	if kasStr == "" {
		return nil, fmt.Errorf("empty KAS amount")
	}

	neg := strings.HasPrefix(kasStr, "-")

	parts := strings.Split(kasStr, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid KAS amount: %s", kasStr)
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}

	if len(frac) > sompiDecimals {
		frac = frac[:sompiDecimals]
	}
	for len(frac) < sompiDecimals {
		frac += "0"
	}

	sompi, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid KAS amount: %s", kasStr)
	}
	if neg || sompi.Sign() < 0 {
		return nil, fmt.Errorf("negative KAS amount: %s", kasStr)
	}
	return sompi, nil
}

// ParseSompi parses a plain sompi integer string.
func ParseSompi(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid sompi amount: %s", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative sompi amount: %s", s)
	}
	return v, nil
}

// FormatSompiToKAS renders a sompi amount as a decimal KAS string with
// trailing zeros trimmed.
func FormatSompiToKAS(sompi *big.Int) string {
	q, r := new(big.Int).QuoRem(sompi, big.NewInt(SompiPerKAS), new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	frac := fmt.Sprintf("%08d", r)
	frac = strings.TrimRight(frac, "0")
	return q.String() + "." + frac
}

// FeeForAmount computes the service fee on a KAS amount in basis points,
// rounded down.
func FeeForAmount(amountSompi *big.Int, bps int) *big.Int {
	fee := new(big.Int).Mul(amountSompi, big.NewInt(int64(bps)))
	return fee.Quo(fee, big.NewInt(10_000))
}
