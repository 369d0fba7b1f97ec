package imdb2torrent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	punctuationRegex = regexp.MustCompile(`[^a-zA-Z0-9\s]+`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
	// Ordered by strictness. The first one also covers "Season 6 Episode 7"
	// style tags, the last one the "6x7" style.
	episodeTagRegexes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)S(?:eason)?\s*0?(\d{1,2})\s*E(?:pisode)?\s*0?(\d{1,2})`),
		regexp.MustCompile(`S(\d{1,2})E(\d{1,2})`),
		regexp.MustCompile(`(\d{1,2})x(\d{1,2})`),
	}
)

// Queries holds the search strings for one stream request.
type Queries struct {
	// Title as found on IMDb, or the IMDb ID itself when no title is known
	BaseTitle string
	// Primary search string, like "the handmaids tale S06E07" or "Dune 2021"
	Query string
	// Broader search string to use when the primary one yields nothing.
	// Empty when it would be the same as Query.
	FallbackQuery string
	// "S06E07" style tag. Empty for movie requests.
	EpisodeSuffix string
	Series        bool
}

// BuildQueries resolves the metadata for the given stream ID and derives the
// search strings from it. Metadata lookup failures are not fatal, in that
// case the IMDb ID itself becomes the search term.
func BuildQueries(ctx context.Context, metaGetter MetaGetter, id StreamID) Queries {
	var meta Meta
	var err error
	if id.IsTVShow() {
		meta, err = metaGetter.GetTVShowSimple(ctx, id.IMDbID, id.Season, id.Episode)
	} else {
		meta, err = metaGetter.GetMovieSimple(ctx, id.IMDbID)
	}
	if err != nil {
		meta = Meta{ID: id.IMDbID}
	}

	baseTitle := meta.BaseTitle()
	queries := Queries{
		BaseTitle: baseTitle,
		Series:    meta.IsTVShow(),
	}
	if id.IsTVShow() {
		queries.Series = true
		queries.EpisodeSuffix = fmt.Sprintf("S%02dE%02d", id.Season, id.Episode)
		queries.Query = normalizeQuery(baseTitle + " " + queries.EpisodeSuffix)
		queries.FallbackQuery = normalizeQuery(baseTitle)
		return queries
	}
	if queries.Series {
		// A series requested without season and episode. Search broadly.
		queries.Query = normalizeQuery(baseTitle)
		return queries
	}
	if meta.StartYear != 0 {
		queries.Query = normalizeQuery(baseTitle + " " + strconv.Itoa(meta.StartYear))
		queries.FallbackQuery = normalizeQuery(baseTitle)
		if queries.FallbackQuery == queries.Query {
			queries.FallbackQuery = ""
		}
	} else {
		queries.Query = normalizeQuery(baseTitle)
	}
	return queries
}

// SearchTerms returns the query strings in the order they should be tried:
// the primary one first, the broader fallback (when there is one) second.
func (q Queries) SearchTerms() []string {
	terms := []string{q.Query}
	if q.FallbackQuery != "" && q.FallbackQuery != q.Query {
		terms = append(terms, q.FallbackQuery)
	}
	return terms
}

// normalizeQuery strips punctuation so that titles like "The Handmaid's Tale"
// match the naming scheme of torrent uploads. Severed possessive endings are
// re-attached to their word ("Handmaid s" becomes "Handmaids").
func normalizeQuery(query string) string {
	query = punctuationRegex.ReplaceAllString(query, " ")
	query = strings.TrimSpace(whitespaceRegex.ReplaceAllString(query, " "))
	words := strings.Split(query, " ")
	normalized := words[:0]
	for _, word := range words {
		if word == "s" && len(normalized) > 0 {
			normalized[len(normalized)-1] += "s"
			continue
		}
		normalized = append(normalized, word)
	}
	return strings.Join(normalized, " ")
}

// parseEpisodeTag extracts season and episode numbers from a torrent name.
// The bool is false when the name carries no recognizable episode tag.
func parseEpisodeTag(text string) (int, int, bool) {
	for _, regex := range episodeTagRegexes {
		match := regex.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		season, _ := strconv.Atoi(match[1])
		episode, _ := strconv.Atoi(match[2])
		return season, episode, true
	}
	return 0, 0, false
}

// matchesEpisode reports whether a torrent name refers to the requested
// episode. Names without a recognizable tag don't match, except when no
// specific episode was requested at all.
func matchesEpisode(name string, season, episode int) bool {
	if season == 0 && episode == 0 {
		return true
	}
	s, e, ok := parseEpisodeTag(name)
	if !ok {
		return false
	}
	return s == season && e == episode
}
