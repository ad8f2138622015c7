package httpapi

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseISODuration parses the ISO-8601 duration subset the wire format
// uses for the request timeout field: PnYnMnDTnHnMnS, with only the
// D/H/M/S components meaningful at sub-day precision. An empty string
// means "no timeout specified". There's no ISO-8601 duration parser
// among this gateway's dependencies, so this is hand-rolled rather than
// pulled in as a one-off library for a single field.
func parseISODuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if s[0] != 'P' {
		return 0, fmt.Errorf("duration %q must start with P", s)
	}
	rest := s[1:]
	datePart, timePart, hasTime := strings.Cut(rest, "T")
	if !hasTime {
		datePart, timePart = rest, ""
	}

	var total time.Duration
	if datePart != "" {
		days, err := parseComponent(datePart, 'D')
		if err != nil {
			return 0, err
		}
		total += time.Duration(days) * 24 * time.Hour
	}
	if timePart != "" {
		hours, err := parseComponent(timePart, 'H')
		if err != nil {
			return 0, err
		}
		timePart = trimConsumed(timePart, 'H')
		mins, err := parseComponent(timePart, 'M')
		if err != nil {
			return 0, err
		}
		timePart = trimConsumed(timePart, 'M')
		secs, err := parseFloatComponent(timePart, 'S')
		if err != nil {
			return 0, err
		}
		total += time.Duration(hours)*time.Hour + time.Duration(mins)*time.Minute + time.Duration(secs*float64(time.Second))
	}
	return total, nil
}

func parseComponent(s string, unit byte) (int, error) {
	idx := strings.IndexByte(s, unit)
	if idx < 0 {
		return 0, nil
	}
	return strconv.Atoi(s[:idx])
}

func parseFloatComponent(s string, unit byte) (float64, error) {
	idx := strings.IndexByte(s, unit)
	if idx < 0 {
		return 0, nil
	}
	return strconv.ParseFloat(s[:idx], 64)
}

func trimConsumed(s string, unit byte) string {
	idx := strings.IndexByte(s, unit)
	if idx < 0 {
		return s
	}
	return s[idx+1:]
}
