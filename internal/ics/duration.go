package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var errBadDuration = errors.New("ics: invalid duration")

// ParseDuration parses an ISO 8601 / RFC 5545 duration such as "PT1H30M",
// "P1D", "P2W" or "P1DT12H". The total must be positive; a leading "-"
// or a zero total is rejected.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "+")
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: negative duration %q", errBadDuration, s)
	}
	if !strings.HasPrefix(s, "P") || len(s) < 2 {
		return 0, fmt.Errorf("%w: %q", errBadDuration, s)
	}

	var (
		total    time.Duration
		inTime   bool
		num      int
		haveNum  bool
		anyUnits bool
	)
	for i := 1; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= '0' && ch <= '9':
			num = num*10 + int(ch-'0')
			haveNum = true
			if num > 1_000_000 {
				return 0, fmt.Errorf("%w: %q out of range", errBadDuration, s)
			}
			continue
		case ch == 'T':
			if inTime || haveNum {
				return 0, fmt.Errorf("%w: %q", errBadDuration, s)
			}
			inTime = true
			continue
		}

		if !haveNum {
			return 0, fmt.Errorf("%w: %q", errBadDuration, s)
		}
		var unit time.Duration
		switch {
		case ch == 'W' && !inTime:
			unit = 7 * 24 * time.Hour
		case ch == 'D' && !inTime:
			unit = 24 * time.Hour
		case ch == 'H' && inTime:
			unit = time.Hour
		case ch == 'M' && inTime:
			unit = time.Minute
		case ch == 'S' && inTime:
			unit = time.Second
		default:
			return 0, fmt.Errorf("%w: unexpected %q in %q", errBadDuration, ch, s)
		}
		total += time.Duration(num) * unit
		num, haveNum, anyUnits = 0, false, true
	}

	if haveNum || !anyUnits {
		return 0, fmt.Errorf("%w: %q", errBadDuration, s)
	}
	if total <= 0 {
		return 0, fmt.Errorf("%w: %q is not positive", errBadDuration, s)
	}
	return total, nil
}
