package imdb2torrent

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	alphanumRunRegex  = regexp.MustCompile(`[A-Za-z0-9]+`)
	separatorRunRegex = regexp.MustCompile(`[.\s_]+`)
	nonSlugRegex      = regexp.MustCompile(`[^a-z0-9]+`)
)

// FormatInput carries everything needed for building the user-visible parts
// of a stream. All fields are optional, the formatter falls back to generic
// labels for whatever is missing.
type FormatInput struct {
	IMDbTitle   string
	Season      int
	Episode     int
	TorrentName string
	// Quality as reported by the torrent site, like "1080p (web)"
	Quality   string
	Site      string
	Seeders   int
	Size      int64
	SizeLabel string
}

// FormatStream builds the stream name (the addon column in the player UI),
// the short title and the multi-line description for one found torrent.
func FormatStream(in FormatInput) (name, title, description string) {
	name = in.Site
	if name == "" {
		name = "Stream"
	}

	quality := ExtractQuality(in.Quality)
	if quality == "" {
		quality = ExtractQuality(in.TorrentName)
	}
	switch quality {
	case "":
		quality = "480p"
	case "2160p":
		quality = "4K"
	}
	title = "Watch " + quality

	var lines []string
	if in.IMDbTitle != "" {
		lines = append(lines, in.IMDbTitle)
	}
	if in.Season > 0 && in.Episode > 0 {
		lines = append(lines, "Season "+strconv.Itoa(in.Season)+" Episode "+strconv.Itoa(in.Episode))
	}
	slug := releaseSlug(in.TorrentName, in.IMDbTitle)
	if slug == "" {
		slug = strings.TrimSpace(in.Quality)
	}
	if slug == "" {
		slug = "Unknown release"
	}
	site := in.Site
	if site == "" {
		site = "Unknown"
	}
	lines = append(lines, slug+" ("+site+")")

	size := in.SizeLabel
	if size == "" && in.Size > 0 {
		size = formatBytes(in.Size)
	}
	if size == "" {
		size = "Unknown size"
	}
	lines = append(lines, "🌱 "+strconv.Itoa(in.Seeders)+" • 💾 "+size)

	return name, title, strings.Join(lines, "\n")
}

// releaseSlug reduces a torrent name to the part that's actually worth
// displaying: the title (which is shown in its own line already) and the
// episode tag are removed, separator punctuation is collapsed into spaces.
// "The.Handmaid's.Tale.S06E07.1080p.WEB.h264-ETHEL" with the title
// "The Handmaid's Tale" becomes "1080p WEB h264-ETHEL".
func releaseSlug(torrentName, imdbTitle string) string {
	if torrentName == "" {
		return ""
	}
	slug := torrentName
	if pattern := titlePattern(imdbTitle); pattern != nil {
		slug = pattern.ReplaceAllString(slug, " ")
	}
	// Only the "SxxEyy" style tag regex is safe for removal. The "6x7" style
	// one would tear apart resolutions like "1280x720".
	slug = episodeTagRegexes[0].ReplaceAllString(slug, " ")
	slug = separatorRunRegex.ReplaceAllString(slug, " ")
	return strings.Trim(slug, "- ")
}

// titlePattern builds a case-insensitive pattern that matches the title with
// arbitrary punctuation between its words, so that "The Handmaid's Tale"
// also matches "The.Handmaid's.Tale" in torrent names. The separators are
// optional because uploads often drop apostrophes without replacement,
// leaving "The.Handmaids.Tale".
func titlePattern(title string) *regexp.Regexp {
	runs := alphanumRunRegex.FindAllString(title, -1)
	if len(runs) == 0 {
		return nil
	}
	escaped := make([]string, len(runs))
	for i, run := range runs {
		escaped[i] = regexp.QuoteMeta(run)
	}
	pattern, err := regexp.Compile(`(?i)` + strings.Join(escaped, `[\W_]*`))
	if err != nil {
		return nil
	}
	return pattern
}

// Slugify lowercases the text and joins its alphanumeric runs with hyphens.
// Used for stable identifiers like the bingeGroup behavior hint.
func Slugify(text string) string {
	slug := nonSlugRegex.ReplaceAllString(strings.ToLower(text), "-")
	return strings.Trim(slug, "-")
}
