package imdb2torrent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var sizeLabelRegex = regexp.MustCompile(`(?i)^\s*([\d.,]+)\s*(B|KB|MB|GB|TB|KiB|MiB|GiB|TiB)\s*$`)

// Factor 1024 is applied to the SI labels as well. That matches what the
// torrent sites themselves do, so keep it.
var sizeUnitExponents = map[string]int{
	"b":   0,
	"kb":  1,
	"kib": 1,
	"mb":  2,
	"mib": 2,
	"gb":  3,
	"gib": 3,
	"tb":  4,
	"tib": 4,
}

// parseSizeLabel converts a human size label like "1.4 GB" or "700 MiB" into
// bytes. Returns 0 when the label can't be parsed.
func parseSizeLabel(label string) int64 {
	match := sizeLabelRegex.FindStringSubmatch(label)
	if match == nil {
		return 0
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	exponent := sizeUnitExponents[strings.ToLower(match[2])]
	for i := 0; i < exponent; i++ {
		value *= 1024
	}
	return int64(value)
}

// formatBytes renders a byte count with the greatest unit for which the value
// is at least 1. Zero decimals for plain bytes and for values of 10 and more,
// two decimals otherwise.
func formatBytes(bytes int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	value := float64(bytes)
	unit := units[0]
	for _, u := range units[1:] {
		if value < 1024 {
			break
		}
		value /= 1024
		unit = u
	}
	if unit == "B" || value >= 10 {
		return fmt.Sprintf("%.0f %v", value, unit)
	}
	return fmt.Sprintf("%.2f %v", value, unit)
}
