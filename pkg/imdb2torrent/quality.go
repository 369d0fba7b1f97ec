package imdb2torrent

import (
	"regexp"
	"strings"
)

var qualityRegex = regexp.MustCompile(`(?i)\b(2160p|1080p|720p|480p|4k|uhd)\b`)

// ExtractQuality scans text for a word-bounded quality token and returns the
// canonical label: "2160p", "1080p", "720p" or "480p". "4k" and "uhd" (any
// casing) canonicalize to "2160p". Returns an empty string when the text
// carries no known token. The first match wins.
func ExtractQuality(text string) string {
	match := qualityRegex.FindString(text)
	if match == "" {
		return ""
	}
	quality := strings.ToLower(match)
	if quality == "4k" || quality == "uhd" {
		return "2160p"
	}
	return quality
}
