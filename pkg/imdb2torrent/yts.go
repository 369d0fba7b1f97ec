package imdb2torrent

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var (
	// See recommended tracker list on https://yts.mx/api#list_movies
	trackersYTS = []string{"udp://open.demonii.com:1337/announce",
		"udp://tracker.openbittorrent.com:80",
		"udp://tracker.coppersurfer.tk:6969",
		"udp://glotorrents.pw:6969/announce",
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://torrent.gresille.org:80/announce",
		"udp://p4p.arenabg.com:1337",
		"udp://tracker.leechers-paradise.org:6969"}
)

type YTSclientOptions struct {
	// Tried in order until one base URL responds.
	BaseURLs []string
}

func NewYTSclientOpts(baseURLs []string) YTSclientOptions {
	return YTSclientOptions{
		BaseURLs: baseURLs,
	}
}

var DefaultYTSclientOpts = YTSclientOptions{
	BaseURLs: []string{"https://yts.mx"},
}

var _ MagnetSearcher = (*ytsClient)(nil)

type ytsClient struct {
	baseURLs         []string
	fetcher          *Fetcher
	logger           *zap.Logger
	logFoundTorrents bool
}

func NewYTSclient(opts YTSclientOptions, fetcher *Fetcher, logger *zap.Logger, logFoundTorrents bool) *ytsClient {
	return &ytsClient{
		baseURLs:         opts.BaseURLs,
		fetcher:          fetcher,
		logger:           logger,
		logFoundTorrents: logFoundTorrents,
	}
}

// FindMovie uses YTS' API to find torrents for the given IMDb ID.
// If no error occured, but there are just no torrents for the movie yet, an empty result and *no* error are returned.
func (c *ytsClient) FindMovie(ctx context.Context, imdbID string) ([]Result, error) {
	zapFieldID := zap.String("imdbID", imdbID)
	zapFieldTorrentSite := zap.String("torrentSite", "YTS")

	var resBody []byte
	var err error
	for _, baseURL := range c.baseURLs {
		reqUrl := baseURL + "/api/v2/list_movies.json?query_term=" + imdbID + "&limit=1"
		resBody, err = c.fetcher.FetchJSON(ctx, c.Site(), reqUrl)
		if err == nil {
			break
		}
		c.logger.Debug("Couldn't search torrents on this YTS mirror", zap.Error(err), zap.String("url", reqUrl), zapFieldID, zapFieldTorrentSite)
	}
	if err != nil {
		return nil, fmt.Errorf("Couldn't search torrents on any YTS mirror: %v", err)
	}

	var results []Result
	for _, movie := range gjson.GetBytes(resBody, "data.movies").Array() {
		// query_term matches fuzzily, only take the exact movie
		if movie.Get("imdb_code").String() != imdbID {
			continue
		}
		title := movie.Get("title").String()
		for _, torrent := range movie.Get("torrents").Array() {
			infoHash := normalizeInfoHash(torrent.Get("hash").String())
			if infoHash == "" {
				c.logger.Warn("Couldn't get info_hash from torrent JSON", zap.String("torrentJSON", torrent.String()), zapFieldID, zapFieldTorrentSite)
				continue
			}
			quality := torrent.Get("quality").String()
			if ripType := torrent.Get("type").String(); ripType != "" {
				quality += " " + ripType
			}
			if c.logFoundTorrents {
				c.logger.Debug("Found torrent", zap.String("title", title), zap.String("quality", quality), zap.String("infoHash", infoHash), zapFieldID, zapFieldTorrentSite)
			}
			result := Result{
				Title:     title,
				Quality:   quality,
				InfoHash:  infoHash,
				Seeders:   int(torrent.Get("seeds").Int()),
				Leechers:  int(torrent.Get("peers").Int()),
				Size:      torrent.Get("size_bytes").Int(),
				SizeLabel: torrent.Get("size").String(),
				Site:      c.Site(),
				// YTS torrents are referenced by info hash only, so the
				// player needs the trackers to assemble a magnet itself.
				Sources: trackerSources(trackersYTS),
			}
			results = append(results, result)
		}
	}

	return results, nil
}

// FindTVShow returns no results. YTS only indexes movies.
func (c *ytsClient) FindTVShow(ctx context.Context, imdbID string, season, episode int) ([]Result, error) {
	return nil, nil
}

func (c *ytsClient) Site() string {
	return "YTS"
}

func (c *ytsClient) IsSlow() bool {
	return false
}
