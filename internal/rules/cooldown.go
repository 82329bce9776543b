package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var cooldownUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'h': time.Hour,
	'm': time.Minute,
	's': time.Second,
}

// ParseCooldown parses a compact, concatenable duration string (`1d12h`,
// `30m`, `45s`) into a time.Duration. A bare number with no suffix is
// treated as seconds. Unknown suffixes, or digits left trailing with no
// suffix in a mixed string, are an error (§4.9 "Cooldown parsing").
func ParseCooldown(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}

	var total time.Duration
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			unit, ok := cooldownUnits[c]
			if !ok {
				return 0, fmt.Errorf("rules: unknown cooldown suffix %q in %q", string(c), s)
			}
			if i == start {
				return 0, fmt.Errorf("rules: missing number before suffix %q in %q", string(c), s)
			}
			n, err := strconv.ParseInt(s[start:i], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("rules: invalid cooldown component %q: %w", s[start:i], err)
			}
			total += time.Duration(n) * unit
			start = i + 1
		}
	}
	if start != len(s) {
		return 0, fmt.Errorf("rules: trailing digits with no suffix in %q", s)
	}
	return total, nil
}
