package dayahead

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseISO8601Duration parses the restricted subset of ISO8601 durations
// day-ahead publishers use for block resolution: PnYnMnDTnHnMnS, with every
// component optional. Day-ahead resolutions are always small (PT15M, PT30M,
// PT60M) but the parser accepts the general form since publishers vary.
func parseISO8601Duration(s string) (time.Duration, error) {
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("duration must start with P: %q", s)
	}
	s = s[1:]

	datePart, timePart, hasTime := strings.Cut(s, "T")
	if !hasTime {
		datePart, timePart = s, ""
	}

	var total time.Duration
	d, err := sumUnits(datePart, map[byte]time.Duration{
		'Y': 365 * 24 * time.Hour,
		'M': 30 * 24 * time.Hour,
		'D': 24 * time.Hour,
	})
	if err != nil {
		return 0, err
	}
	total += d

	d, err = sumUnits(timePart, map[byte]time.Duration{
		'H': time.Hour,
		'M': time.Minute,
		'S': time.Second,
	})
	if err != nil {
		return 0, err
	}
	total += d

	return total, nil
}

// sumUnits walks a digitsUNIT... string (e.g. "1H30M") and sums each
// component scaled by its unit.
func sumUnits(s string, units map[byte]time.Duration) (time.Duration, error) {
	var total time.Duration
	var numStart int
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' || c == '.' {
			continue
		}
		unit, ok := units[c]
		if !ok {
			return 0, fmt.Errorf("unknown duration unit %q in %q", string(c), s)
		}
		num, err := strconv.ParseFloat(s[numStart:i], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration component %q: %w", s[numStart:i], err)
		}
		total += time.Duration(num * float64(unit))
		numStart = i + 1
	}
	return total, nil
}
