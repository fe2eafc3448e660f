// Package format renders byte counts and timestamps for log output.
package format

import (
	"fmt"
	"time"
)

// Bytes renders a byte count with a 1024-based unit, e.g. "1.5 KB".
func Bytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	value := float64(n)
	for _, unit := range []string{"KB", "MB", "GB", "TB", "PB"} {
		value /= 1024
		if value < 1024 {
			return fmt.Sprintf("%.1f %s", value, unit)
		}
	}
	return fmt.Sprintf("%.1f EB", value/1024)
}

// RelativeTime renders t against the current time, e.g. "5 minutes ago" or
// "in 2 hours".
func RelativeTime(t time.Time) string {
	d := time.Since(t)
	if d >= 0 {
		if d < time.Minute {
			return "just now"
		}
		return coarseDuration(d) + " ago"
	}
	if d = -d; d < time.Minute {
		return "in a moment"
	}
	return "in " + coarseDuration(d)
}

// RelativeTimeShort is the compact form used in log attributes, e.g. "5m ago".
func RelativeTimeShort(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < 0:
		return "soon"
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// coarseDuration renders d in its largest whole unit of minutes, hours, or
// days.
func coarseDuration(d time.Duration) string {
	switch {
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
