package settlement

import (
	"fmt"
	"strings"
)

// Amounts move through the pipeline as int64 minor units. DefaultDecimals
// is how many decimal places one major unit carries on the target network.
const DefaultDecimals = 9

// pow10 returns 10^n for small n.
func pow10(n int) int64 {
	p := int64(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}

// ParseAmount converts a decimal string of major units ("10.00") into
// minor units. It rejects negative values, malformed input, and more
// fractional digits than the network represents.
func ParseAmount(s string, decimals int) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("negative amount %q", s)
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if frac == "" && strings.Contains(s, ".") {
		return 0, fmt.Errorf("malformed amount %q", s)
	}
	if len(frac) > decimals {
		return 0, fmt.Errorf("amount %q exceeds %d decimal places", s, decimals)
	}

	for _, part := range []string{whole, frac} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("malformed amount %q", s)
			}
		}
	}

	var value int64
	for _, r := range whole {
		d := int64(r - '0')
		if value > ((1<<63-1)-d)/10 {
			return 0, fmt.Errorf("amount %q overflows", s)
		}
		value = value*10 + d
	}

	scale := pow10(decimals)
	if value > (1<<63-1)/scale {
		return 0, fmt.Errorf("amount %q overflows", s)
	}
	value *= scale

	for i := 0; i < len(frac); i++ {
		value += int64(frac[i]-'0') * pow10(decimals-1-i)
	}

	return value, nil
}

// FormatAmount renders minor units as a decimal string of major units.
func FormatAmount(v int64, decimals int) string {
	neg := ""
	if v < 0 {
		neg, v = "-", -v
	}
	scale := pow10(decimals)
	whole := v / scale
	frac := v % scale
	if frac == 0 {
		return fmt.Sprintf("%s%d", neg, whole)
	}
	s := fmt.Sprintf("%s%d.%0*d", neg, whole, decimals, frac)
	return strings.TrimRight(s, "0")
}
