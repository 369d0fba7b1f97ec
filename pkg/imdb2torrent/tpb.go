package imdb2torrent

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// See the trackers that TPB adds in each magnet to the info_hash received from apibay.org
	trackersTPB = []string{
		"udp://tracker.coppersurfer.tk:6969/announce",
		"udp://9.rarbg.to:2920/announce",
		"udp://tracker.opentrackr.org:1337",
		"udp://tracker.internetwarriors.net:1337/announce",
		"udp://tracker.leechers-paradise.org:6969/announce",
		"udp://tracker.coppersurfer.tk:6969/announce",
		"udp://tracker.pirateparty.gr:6969/announce",
		"udp://tracker.cyberia.is:6969/announce",
	}
)

// The Pirate Bay categories used for the searches. The HD ones come first
// because their hits should win the deduplication.
const (
	tpbCategoryMovies    = 201
	tpbCategoryHDMovies  = 207
	tpbCategoryTVShows   = 205
	tpbCategoryHDTVShows = 208
)

var (
	tpbMovieCategories  = []int{tpbCategoryHDMovies, tpbCategoryMovies}
	tpbTVShowCategories = []int{tpbCategoryHDTVShows, tpbCategoryTVShows}
)

// apibay answers searches without hits with a single placeholder entry that
// carries this info hash.
const tpbZeroHash = "0000000000000000000000000000000000000000"

type TPBclientOptions struct {
	// All base URLs are searched concurrently.
	BaseURLs []string
}

func NewTPBclientOpts(baseURLs []string) TPBclientOptions {
	return TPBclientOptions{
		BaseURLs: baseURLs,
	}
}

var DefaultTPBclientOpts = TPBclientOptions{
	BaseURLs: []string{"https://apibay.org"},
}

var _ MagnetSearcher = (*tpbClient)(nil)

type tpbClient struct {
	baseURLs         []string
	fetcher          *Fetcher
	metaGetter       MetaGetter
	logger           *zap.Logger
	logFoundTorrents bool
}

func NewTPBclient(opts TPBclientOptions, fetcher *Fetcher, metaGetter MetaGetter, logger *zap.Logger, logFoundTorrents bool) *tpbClient {
	return &tpbClient{
		baseURLs:         opts.BaseURLs,
		fetcher:          fetcher,
		metaGetter:       metaGetter,
		logger:           logger,
		logFoundTorrents: logFoundTorrents,
	}
}

// FindMovie calls the TPB API to find torrents for the given IMDb ID.
// If no error occured, but there are just no torrents for the movie yet, an
// empty result and *no* error are returned.
func (c *tpbClient) FindMovie(ctx context.Context, imdbID string) ([]Result, error) {
	return c.find(ctx, StreamID{IMDbID: imdbID}, tpbMovieCategories)
}

// FindTVShow calls the TPB API to find torrents for the given episode.
func (c *tpbClient) FindTVShow(ctx context.Context, imdbID string, season, episode int) ([]Result, error) {
	return c.find(ctx, StreamID{IMDbID: imdbID, Season: season, Episode: episode}, tpbTVShowCategories)
}

func (c *tpbClient) find(ctx context.Context, id StreamID, categories []int) ([]Result, error) {
	if len(c.baseURLs) == 0 {
		return nil, nil
	}
	zapFieldID := zap.String("imdbID", id.IMDbID)
	zapFieldTorrentSite := zap.String("torrentSite", "TPB")

	queries := BuildQueries(ctx, c.metaGetter, id)

	for _, term := range queries.SearchTerms() {
		results, err := c.searchAll(ctx, term, id, categories, zapFieldID, zapFieldTorrentSite)
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			return results, nil
		}
	}
	return nil, nil
}

// searchAll queries every base URL and category combination concurrently and
// combines what came back in request order. It only errors when every single
// request failed.
func (c *tpbClient) searchAll(ctx context.Context, query string, id StreamID, categories []int, zapFieldID, zapFieldTorrentSite zap.Field) ([]Result, error) {
	type job struct {
		baseURL  string
		category int
	}
	var jobs []job
	for _, baseURL := range c.baseURLs {
		for _, category := range categories {
			jobs = append(jobs, job{baseURL: baseURL, category: category})
		}
	}

	jobResults := make([][]Result, len(jobs))
	jobErrs := make([]error, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func(i int, baseURL string, category int) {
			defer wg.Done()
			jobResults[i], jobErrs[i] = c.search(ctx, baseURL, query, category, id, zapFieldID, zapFieldTorrentSite)
		}(i, j.baseURL, j.category)
	}
	wg.Wait()

	var results []Result
	var errs []error
	for i, j := range jobs {
		if jobErrs[i] != nil {
			errs = append(errs, jobErrs[i])
			c.logger.Debug("Couldn't search torrents on apibay", zap.Error(jobErrs[i]), zap.String("baseURL", j.baseURL), zap.Int("category", j.category), zapFieldID, zapFieldTorrentSite)
			continue
		}
		results = append(results, jobResults[i]...)
	}
	if len(jobs) > 0 && len(errs) == len(jobs) {
		return nil, fmt.Errorf("Couldn't search torrents on any apibay mirror: %v", multierr.Combine(errs...))
	}
	return results, nil
}

func (c *tpbClient) search(ctx context.Context, baseURL, query string, category int, id StreamID, zapFieldID, zapFieldTorrentSite zap.Field) ([]Result, error) {
	reqUrl := fmt.Sprintf("%v/q.php?q=%v&cat=%d", baseURL, url.QueryEscape(query), category)
	resBody, err := c.fetcher.FetchJSON(ctx, c.Site(), reqUrl)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, torrent := range gjson.ParseBytes(resBody).Array() {
		name := torrent.Get("name").String()
		if name == "" || name == "No results returned" {
			continue
		}
		infoHash := normalizeInfoHash(torrent.Get("info_hash").String())
		if infoHash == "" {
			c.logger.Warn("Couldn't get info_hash from torrent JSON", zap.String("torrentJSON", torrent.String()), zapFieldID, zapFieldTorrentSite)
			continue
		}
		if infoHash == tpbZeroHash {
			continue
		}
		if id.IsTVShow() && !matchesEpisode(name, id.Season, id.Episode) {
			continue
		}
		if c.logFoundTorrents {
			c.logger.Debug("Found torrent", zap.String("title", name), zap.String("infoHash", infoHash), zapFieldID, zapFieldTorrentSite)
		}
		results = append(results, Result{
			Title:     name,
			Quality:   ExtractQuality(name),
			InfoHash:  infoHash,
			MagnetURL: createMagnetURL(infoHash, name, trackersTPB),
			Seeders:   int(torrent.Get("seeders").Int()),
			Leechers:  int(torrent.Get("leechers").Int()),
			Size:      torrent.Get("size").Int(),
			Site:      c.Site(),
			Sources:   trackerSources(trackersTPB),
		})
	}
	return results, nil
}

func (c *tpbClient) Site() string {
	return "TPB"
}

func (c *tpbClient) IsSlow() bool {
	return false
}
