// Package bytesize provides human-readable byte size parsing and formatting.
// Units use the binary (1024) base; "5MB", "5 MiB", "5m" and "5242880" all
// parse to the same value.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size represents a byte size as int64.
type Size int64

// Common size constants using the binary (1024) base.
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

// unitMultipliers maps lowercase unit names to their byte multiplier.
var unitMultipliers = map[string]Size{
	"":      B,
	"b":     B,
	"byte":  B,
	"bytes": B,
	"k":     KB,
	"kb":    KB,
	"kib":   KB,
	"m":     MB,
	"mb":    MB,
	"mib":   MB,
	"g":     GB,
	"gb":    GB,
	"gib":   GB,
	"t":     TB,
	"tb":    TB,
	"tib":   TB,
}

// Parse parses a human-readable byte size string. The numeric part may be an
// integer or a float; the unit is optional and defaults to bytes.
func Parse(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	// Split into a leading number and a trailing unit.
	i := len(s)
	for i > 0 {
		c := s[i-1]
		if (c >= '0' && c <= '9') || c == '.' {
			break
		}
		i--
	}
	numStr := strings.TrimSpace(s[:i])
	unitStr := strings.ToLower(strings.TrimSpace(s[i:]))

	if numStr == "" {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", numStr, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("bytesize: negative size %q", s)
	}

	multiplier, ok := unitMultipliers[unitStr]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", unitStr)
	}

	return Size(value * float64(multiplier)), nil
}

// MustParse is like Parse but panics on invalid input. Use for constants.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Format converts a byte size to a human-readable string using the largest
// unit that keeps the value >= 1.
func Format(s Size) string {
	switch {
	case s >= TB:
		return formatUnit(float64(s)/float64(TB), "TB")
	case s >= GB:
		return formatUnit(float64(s)/float64(GB), "GB")
	case s >= MB:
		return formatUnit(float64(s)/float64(MB), "MB")
	case s >= KB:
		return formatUnit(float64(s)/float64(KB), "KB")
	default:
		return fmt.Sprintf("%dB", int64(s))
	}
}

func formatUnit(value float64, unit string) string {
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d%s", int64(value), unit)
	}
	out := strconv.FormatFloat(value, 'f', 2, 64)
	out = strings.TrimRight(out, "0")
	out = strings.TrimRight(out, ".")
	return out + unit
}

// Bytes returns the size in bytes as int64.
func (s Size) Bytes() int64 {
	return int64(s)
}

// String returns a human-readable string representation.
func (s Size) String() string {
	return Format(s)
}
