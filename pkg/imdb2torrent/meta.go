package imdb2torrent

import (
	"context"
	"strings"
)

// Meta is the subset of IMDb metadata the torrent site clients need for
// building search queries and labeling results.
type Meta struct {
	ID            string
	PrimaryTitle  string
	OriginalTitle string
	TitleType     string
	StartYear     int
}

// BaseTitle returns the best available title. When no title is known the
// IMDb ID itself is used, so searches still have something to work with.
func (m Meta) BaseTitle() string {
	if m.PrimaryTitle != "" {
		return m.PrimaryTitle
	}
	if m.OriginalTitle != "" {
		return m.OriginalTitle
	}
	return m.ID
}

// IsTVShow returns true for title types that Stremio treats as series.
func (m Meta) IsTVShow() bool {
	switch strings.ToLower(m.TitleType) {
	case "tvseries", "tvminiseries", "tvepisode":
		return true
	}
	return false
}

// MetaGetter is used by the torrent site clients to turn an IMDb ID into
// the metadata required for their search requests.
type MetaGetter interface {
	GetMovieSimple(ctx context.Context, imdbID string) (Meta, error)
	GetTVShowSimple(ctx context.Context, imdbID string, season, episode int) (Meta, error)
}
