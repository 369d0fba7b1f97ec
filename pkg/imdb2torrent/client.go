package imdb2torrent

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MagnetSearcher is implemented by all torrent site clients.
type MagnetSearcher interface {
	FindMovie(ctx context.Context, imdbID string) ([]Result, error)
	FindTVShow(ctx context.Context, imdbID string, season, episode int) ([]Result, error)
	Site() string
	IsSlow() bool
}

// Result is one torrent found on one of the sites.
type Result struct {
	// Name of the torrent as listed on the site. For sites that only list
	// one name per movie this is the movie title.
	Title string
	// Quality as reported by the site, like "1080p" or "1080p (web)"
	Quality string
	// 40 lowercase hex characters
	InfoHash  string
	MagnetURL string
	Seeders   int
	Leechers  int
	// Size in bytes, 0 when the site doesn't report one
	Size int64
	// Size as shown on the site, like "1.4 GB", when it only shows a label
	SizeLabel string
	// Name of the site this was found on
	Site string
	// Tracker URLs from the magnet, each prefixed with "tracker:"
	Sources []string
}

// Client fans a search out to all configured torrent sites and merges their
// results. The movie and TV show site lists are separate because some sites
// only carry one of the two.
type Client struct {
	movieSites  []MagnetSearcher
	tvShowSites []MagnetSearcher
	logger      *zap.Logger
}

// NewClient creates a search client on top of the given site clients.
// The order of the slices matters: when two sites return the same torrent,
// the display fields of the site that comes first win (the duplicate only
// contributes its trackers).
func NewClient(movieSites, tvShowSites []MagnetSearcher, logger *zap.Logger) *Client {
	return &Client{
		movieSites:  movieSites,
		tvShowSites: tvShowSites,
		logger:      logger,
	}
}

// FindMovie searches all configured movie sites for torrents of the given movie.
func (c *Client) FindMovie(ctx context.Context, imdbID string) ([]Result, error) {
	return c.find(ctx, imdbID, c.movieSites, func(ctx context.Context, site MagnetSearcher) ([]Result, error) {
		return site.FindMovie(ctx, imdbID)
	})
}

// FindTVShow searches all configured TV show sites for torrents of the given
// episode. Season and episode 0 mean "any episode".
func (c *Client) FindTVShow(ctx context.Context, imdbID string, season, episode int) ([]Result, error) {
	id := StreamID{IMDbID: imdbID, Season: season, Episode: episode}
	return c.find(ctx, id.String(), c.tvShowSites, func(ctx context.Context, site MagnetSearcher) ([]Result, error) {
		return site.FindTVShow(ctx, imdbID, season, episode)
	})
}

func (c *Client) find(ctx context.Context, id string, sites []MagnetSearcher, search func(context.Context, MagnetSearcher) ([]Result, error)) ([]Result, error) {
	zapFieldID := zap.String("id", id)
	start := time.Now()

	// Indexed slices instead of channels, so the call order of the sites is
	// preserved for the merge below.
	siteResults := make([][]Result, len(sites))
	siteErrs := make([]error, len(sites))
	var wg sync.WaitGroup
	wg.Add(len(sites))
	for i, site := range sites {
		go func(i int, site MagnetSearcher) {
			defer wg.Done()
			zapFieldTorrentSite := zap.String("torrentSite", site.Site())
			c.logger.Debug("Started searching torrents...", zapFieldTorrentSite, zapFieldID)
			results, err := search(ctx, site)
			if err != nil {
				c.logger.Warn("Couldn't find torrents", zap.Error(err), zapFieldTorrentSite, zapFieldID)
				siteErrs[i] = err
				return
			}
			c.logger.Debug("Found torrents", zap.Int("torrentCount", len(results)), zapFieldTorrentSite, zapFieldID)
			siteResults[i] = results
		}(i, site)
	}
	wg.Wait()

	var combined []Result
	var errs []error
	for i := range sites {
		if siteErrs[i] != nil {
			errs = append(errs, siteErrs[i])
			continue
		}
		combined = append(combined, siteResults[i]...)
	}

	// An error only surfaces when *all* sites returned actual errors.
	// Anything less is just a smaller result list. A cancelled request isn't
	// an error either, the caller gets whatever was found before the deadline.
	if ctx.Err() == nil && len(sites) > 0 && len(errs) == len(sites) {
		return nil, fmt.Errorf("Couldn't find torrents on any site: %v", multierr.Combine(errs...))
	}

	results := mergeResults(combined)
	if len(results) == 0 {
		c.logger.Info("Couldn't find any torrents", zapFieldID)
	}
	c.logger.Debug("Finished searching torrents", zap.Int("torrentCount", len(results)), zap.Duration("duration", time.Since(start)), zapFieldID)
	return results, nil
}

// GetMagnetSearchers returns all configured site clients, keyed by site name.
func (c *Client) GetMagnetSearchers() map[string]MagnetSearcher {
	sites := map[string]MagnetSearcher{}
	for _, site := range c.movieSites {
		sites[site.Site()] = site
	}
	for _, site := range c.tvShowSites {
		sites[site.Site()] = site
	}
	return sites
}

// mergeResults deduplicates the combined results of all sites by identity
// (the info hash, or the magnet URL for the rare results without one). The
// first occurrence keeps its display fields, duplicates only contribute
// their tracker sources. Results with zero seeders are dropped, because a
// seederless magnet can't be played anyway and shouldn't displace a seeded
// one. The rest is sorted by seeders descending, stable so that the site
// call order breaks ties.
func mergeResults(results []Result) []Result {
	merged := make([]Result, 0, len(results))
	indexByIdentity := map[string]int{}
	for _, result := range results {
		identity := result.InfoHash
		if identity == "" {
			identity = result.MagnetURL
		}
		if identity == "" {
			continue
		}
		if i, ok := indexByIdentity[identity]; ok {
			merged[i].Sources = mergeSources(merged[i].Sources, result.Sources)
			continue
		}
		indexByIdentity[identity] = len(merged)
		merged = append(merged, result)
	}

	// https://github.com/golang/go/wiki/SliceTricks#filter-in-place
	n := 0
	for _, result := range merged {
		if result.Seeders == 0 && (result.InfoHash != "" || strings.HasPrefix(result.MagnetURL, "magnet:?")) {
			continue
		}
		merged[n] = result
		n++
	}
	merged = merged[:n]

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Seeders > merged[j].Seeders
	})
	return merged
}

func mergeSources(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	for _, source := range a {
		seen[source] = struct{}{}
	}
	for _, source := range b {
		if _, ok := seen[source]; ok {
			continue
		}
		a = append(a, source)
		seen[source] = struct{}{}
	}
	return a
}

// replaceURL replaces the scheme and host of a URL with the ones of the base
// URL. Used when following links scraped from HTML, which can point at the
// site's canonical host while we want to keep using the configured base URL
// (which can be a mirror or a proxy).
func replaceURL(origURL, newBaseURL string) (string, error) {
	u, err := url.Parse(origURL)
	if err != nil {
		return "", fmt.Errorf("Couldn't parse URL %v: %v", origURL, err)
	}
	baseURL, err := url.Parse(newBaseURL)
	if err != nil {
		return "", fmt.Errorf("Couldn't parse URL %v: %v", newBaseURL, err)
	}
	u.Scheme = baseURL.Scheme
	u.Host = baseURL.Host
	return u.String(), nil
}
