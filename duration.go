package frond

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var durationPolicyRe = regexp.MustCompile(`^(\d+)([hdy])$`)

// ParseDurationPolicy parses an account expiry policy of the form
// "<integer><unit>" where the unit is h (hour), d (day), or y (year).
// A year is a flat 365 days; leap years are deliberately ignored, matching
// how account expiries have always been computed.
func ParseDurationPolicy(policy string) (time.Duration, error) {
	m := durationPolicyRe.FindStringSubmatch(policy)
	if m == nil {
		return 0, fmt.Errorf("%w: %q (only h, d, y units are allowed)", ErrInvalidDurationPolicy, policy)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationPolicy, policy)
	}

	switch m[2] {
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return time.Duration(n) * 365 * 24 * time.Hour, nil
	}
}
