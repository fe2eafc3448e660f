// Package duration provides human-readable duration parsing.
// It extends Go's standard time.ParseDuration with day and week units, so
// retention windows can be written as "7d" or "2w" instead of "168h".
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
)

// extendedUnits maps extended unit names to their hour multiplier.
var extendedUnits = map[string]int64{
	"d":     24,
	"day":   24,
	"days":  24,
	"w":     7 * 24,
	"wk":    7 * 24,
	"week":  7 * 24,
	"weeks": 7 * 24,
}

// extendedPattern matches a number followed by a day or week unit, with
// optional whitespace between them. Alternatives are ordered longest-first so
// "weeks" is not consumed as "w" plus trailing garbage.
var extendedPattern = regexp.MustCompile(`(?i)(\d+)\s*(days?|weeks?|wks?|d|w)`)

// Parse parses a duration string. Day and week units are converted to hours
// before delegating to time.ParseDuration, so "1w2d12h" and "228h" are
// equivalent. Anything time.ParseDuration accepts is accepted unchanged.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(s, "-")
	if negative {
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	var hours int64
	remaining := extendedPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := extendedPattern.FindStringSubmatch(match)
		value, _ := strconv.ParseInt(parts[1], 10, 64)
		hours += value * extendedUnits[strings.ToLower(parts[2])]
		return ""
	})
	remaining = strings.Join(strings.Fields(remaining), "")

	var durationStr string
	if hours > 0 {
		durationStr = fmt.Sprintf("%dh", hours)
	}
	durationStr += remaining
	if durationStr == "" {
		durationStr = "0s"
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}
	if negative {
		d = -d
	}
	return d, nil
}

// MustParse is like Parse but panics on invalid input. Use for constants.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format converts a duration to a compact human-readable string using the
// largest whole units first (weeks, days, then time.Duration formatting for
// the remainder). Zero components are omitted.
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	negative := d < 0
	if negative {
		d = -d
	}

	var b strings.Builder
	if weeks := d / Week; weeks > 0 {
		fmt.Fprintf(&b, "%dw", weeks)
		d -= weeks * Week
	}
	if days := d / Day; days > 0 {
		fmt.Fprintf(&b, "%dd", days)
		d -= days * Day
	}
	if hours := d / time.Hour; hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
		d -= hours * time.Hour
	}
	if minutes := d / time.Minute; minutes > 0 {
		fmt.Fprintf(&b, "%dm", minutes)
		d -= minutes * time.Minute
	}
	if seconds := d / time.Second; seconds > 0 {
		fmt.Fprintf(&b, "%ds", seconds)
		d -= seconds * time.Second
	}
	if d > 0 {
		// Sub-second remainder; time.Duration renders these cleanly.
		b.WriteString(d.String())
	}

	if negative {
		return "-" + b.String()
	}
	return b.String()
}
