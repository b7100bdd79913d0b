// Package amount converts token quantities between atomic (smallest-unit
// integer) and display (human decimal) form. All arithmetic is done on
// big integers and big rationals; amounts routinely exceed 2^53 and must
// never pass through a float.
package amount

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Normalize accepts either an atomic base-unit amount or a display decimal
// amount (exactly one must be set) and returns both representations.
func Normalize(baseUnits, decimal string, decimals int) (string, string, error) {
	if baseUnits != "" && decimal != "" {
		return "", "", clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	}
	if baseUnits == "" && decimal == "" {
		return "", "", clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return "", "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		display, err := FormatAtomic(baseUnits, decimals)
		if err != nil {
			return "", "", err
		}
		return baseUnits, display, nil
	}

	base, err := ParseDisplay(decimal, decimals)
	if err != nil {
		return "", "", err
	}
	return base, normalizeDecimal(decimal), nil
}

// FormatAtomic renders an atomic integer string as a display decimal string
// with trailing zeros trimmed ("1230000000000000000" at 18 -> "1.23").
func FormatAtomic(baseUnits string, decimals int) (string, error) {
	n, ok := new(big.Int).SetString(baseUnits, 10)
	if !ok || n.Sign() < 0 {
		return "", clierr.New(clierr.CodeUsage, "amount must be a non-negative integer string")
	}
	if decimals == 0 {
		return n.String(), nil
	}

	s := n.String()
	if len(s) <= decimals {
		pad := strings.Repeat("0", decimals-len(s)+1)
		s = pad + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart == "" {
		return intPart, nil
	}
	return intPart + "." + fracPart, nil
}

// ParseDisplay converts a display decimal string to an atomic integer
// string, rejecting precision beyond the token's decimals.
func ParseDisplay(decimal string, decimals int) (string, error) {
	return parseDisplay(decimal, decimals, false)
}

// ParseDisplayTruncate is ParseDisplay with excess fractional digits
// truncated instead of rejected. Provider price math can produce more
// precision than the destination token carries.
func ParseDisplayTruncate(decimal string, decimals int) (string, error) {
	return parseDisplay(decimal, decimals, true)
}

func parseDisplay(decimal string, decimals int, truncate bool) (string, error) {
	if !decimalPattern.MatchString(decimal) {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("amount %q must be in decimal form like 1.23", decimal))
	}
	parts := strings.SplitN(decimal, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > decimals {
		if !truncate {
			return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
		}
		fracPart = fracPart[:decimals]
	}

	fracPart = fracPart + strings.Repeat("0", decimals-len(fracPart))
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return "0", nil
	}
	if _, ok := new(big.Int).SetString(combined, 10); !ok {
		return "", clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return combined, nil
}

// MulDisplay multiplies two display decimal strings exactly. Both inputs
// are finite decimals, so the product is too.
func MulDisplay(a, b string) (string, error) {
	ra, ok := new(big.Rat).SetString(a)
	if !ok {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid decimal value %q", a))
	}
	rb, ok := new(big.Rat).SetString(b)
	if !ok {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid decimal value %q", b))
	}
	product := new(big.Rat).Mul(ra, rb)

	scale := fracDigits(a) + fracDigits(b)
	out := product.FloatString(scale)
	return normalizeDecimal(out), nil
}

func fracDigits(v string) int {
	if idx := strings.IndexByte(v, '.'); idx >= 0 {
		return len(v) - idx - 1
	}
	return 0
}

func normalizeDecimal(v string) string {
	if !strings.Contains(v, ".") {
		out := strings.TrimLeft(v, "0")
		if out == "" {
			return "0"
		}
		return out
	}
	parts := strings.SplitN(v, ".", 2)
	intPart := strings.TrimLeft(parts[0], "0")
	if intPart == "" {
		intPart = "0"
	}
	fracPart := strings.TrimRight(parts[1], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}
