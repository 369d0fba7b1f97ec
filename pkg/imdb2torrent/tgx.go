package imdb2torrent

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

type TGXclientOptions struct {
	// Tried in order until one base URL responds.
	BaseURLs []string
	// Maximum number of torrent pages to visit for the magnet links.
	// They're fetched in parallel, so this also bounds the concurrency.
	DetailLimit int
}

func NewTGXclientOpts(baseURLs []string, detailLimit int) TGXclientOptions {
	return TGXclientOptions{
		BaseURLs:    baseURLs,
		DetailLimit: detailLimit,
	}
}

var DefaultTGXclientOpts = TGXclientOptions{
	BaseURLs:    []string{"https://torrentgalaxy.to"},
	DetailLimit: 5,
}

var _ MagnetSearcher = (*tgxClient)(nil)

type tgxClient struct {
	baseURLs         []string
	detailLimit      int
	fetcher          *Fetcher
	metaGetter       MetaGetter
	logger           *zap.Logger
	logFoundTorrents bool
}

func NewTGXclient(opts TGXclientOptions, fetcher *Fetcher, metaGetter MetaGetter, logger *zap.Logger, logFoundTorrents bool) *tgxClient {
	detailLimit := opts.DetailLimit
	if detailLimit <= 0 {
		detailLimit = DefaultTGXclientOpts.DetailLimit
	}
	return &tgxClient{
		baseURLs:         opts.BaseURLs,
		detailLimit:      detailLimit,
		fetcher:          fetcher,
		metaGetter:       metaGetter,
		logger:           logger,
		logFoundTorrents: logFoundTorrents,
	}
}

// FindMovie scrapes TorrentGalaxy's search to find torrents for the given
// IMDb ID.
// If no error occured, but there are just no torrents for the movie yet, an
// empty result and *no* error are returned.
func (c *tgxClient) FindMovie(ctx context.Context, imdbID string) ([]Result, error) {
	return c.find(ctx, StreamID{IMDbID: imdbID})
}

// FindTVShow scrapes TorrentGalaxy's search to find torrents for the given
// episode.
func (c *tgxClient) FindTVShow(ctx context.Context, imdbID string, season, episode int) ([]Result, error) {
	return c.find(ctx, StreamID{IMDbID: imdbID, Season: season, Episode: episode})
}

type tgxCandidate struct {
	name      string
	detailURL string
	seeders   int
	leechers  int
	sizeLabel string
}

func (c *tgxClient) find(ctx context.Context, id StreamID) ([]Result, error) {
	if len(c.baseURLs) == 0 {
		return nil, nil
	}
	zapFieldID := zap.String("imdbID", id.IMDbID)
	zapFieldTorrentSite := zap.String("torrentSite", "TGX")

	queries := BuildQueries(ctx, c.metaGetter, id)

	var candidates []tgxCandidate
	for _, term := range queries.SearchTerms() {
		var err error
		candidates, err = c.searchCandidates(ctx, term, zapFieldID, zapFieldTorrentSite)
		if err != nil {
			return nil, err
		}
		if id.IsTVShow() {
			filtered := candidates[:0]
			for _, candidate := range candidates {
				if matchesEpisode(candidate.name, id.Season, id.Episode) {
					filtered = append(filtered, candidate)
				}
			}
			candidates = filtered
		}
		if len(candidates) > 0 {
			break
		}
	}
	if len(candidates) > c.detailLimit {
		candidates = candidates[:c.detailLimit]
	}

	// Visit the torrent pages in parallel to get the magnet URLs. The
	// results slice is indexed so the search result order is kept.
	results := make([]Result, len(candidates))
	var wg sync.WaitGroup
	for i, candidate := range candidates {
		wg.Add(1)
		go func(i int, candidate tgxCandidate) {
			defer wg.Done()
			result, err := c.fetchMagnet(ctx, candidate, zapFieldID, zapFieldTorrentSite)
			if err != nil {
				c.logger.Debug("Couldn't get magnet from TorrentGalaxy torrent page", zap.Error(err), zap.String("url", candidate.detailURL), zapFieldID, zapFieldTorrentSite)
				return
			}
			results[i] = result
		}(i, candidate)
	}
	wg.Wait()

	var found []Result
	for _, result := range results {
		if result.InfoHash != "" {
			found = append(found, result)
		}
	}
	return found, nil
}

func (c *tgxClient) searchCandidates(ctx context.Context, query string, zapFieldID, zapFieldTorrentSite zap.Field) ([]tgxCandidate, error) {
	var body, searchBase string
	var err error
	for _, baseURL := range c.baseURLs {
		reqUrl := baseURL + "/lmsearch?q=" + url.QueryEscape(query) + "&category=lmsearch&page=1"
		body, err = c.fetcher.FetchText(ctx, c.Site(), reqUrl)
		if err == nil {
			searchBase = baseURL
			break
		}
		c.logger.Debug("Couldn't search torrents on this TorrentGalaxy mirror", zap.Error(err), zap.String("url", reqUrl), zapFieldID, zapFieldTorrentSite)
	}
	if err != nil {
		return nil, fmt.Errorf("Couldn't search torrents on any TorrentGalaxy mirror: %v", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Couldn't load the HTML in goquery: %v", err)
	}

	var candidates []tgxCandidate
	doc.Find(".table-list-wrap tbody tr").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("a[href^='/torrent/']").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		// The link text is truncated for long names, the title attribute
		// carries the full name
		name := strings.TrimSpace(link.AttrOr("title", ""))
		if name == "" {
			name = strings.TrimSpace(link.Text())
		}
		if name == "" {
			return
		}
		candidate := tgxCandidate{name: name, detailURL: searchBase + href}
		if seeders, convErr := strconv.Atoi(strings.TrimSpace(row.Find("font[color='green'] b").First().Text())); convErr == nil {
			candidate.seeders = seeders
		}
		if leechers, convErr := strconv.Atoi(strings.TrimSpace(row.Find("font[color='#ff0000'] b").First().Text())); convErr == nil {
			candidate.leechers = leechers
		}
		row.Find("td").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
			text := strings.TrimSpace(cell.Text())
			if parseSizeLabel(text) > 0 {
				candidate.sizeLabel = text
				return false
			}
			return true
		})
		candidates = append(candidates, candidate)
	})
	return candidates, nil
}

func (c *tgxClient) fetchMagnet(ctx context.Context, candidate tgxCandidate, zapFieldID, zapFieldTorrentSite zap.Field) (Result, error) {
	body, err := c.fetcher.FetchText(ctx, c.Site(), candidate.detailURL)
	if err != nil {
		return Result{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("Couldn't load the HTML in goquery: %v", err)
	}
	magnetURL, ok := doc.Find("a[href^='magnet:?']").First().Attr("href")
	if !ok {
		return Result{}, fmt.Errorf("Couldn't find a magnet link on the torrent page, did the HTML change?")
	}
	magnet, ok := ParseMagnet(magnetURL)
	if !ok {
		return Result{}, fmt.Errorf("Couldn't parse magnet URL: %v", magnetURL)
	}

	if c.logFoundTorrents {
		c.logger.Debug("Found torrent", zap.String("title", candidate.name), zap.String("infoHash", magnet.InfoHash), zapFieldID, zapFieldTorrentSite)
	}
	return Result{
		Title:     candidate.name,
		Quality:   ExtractQuality(candidate.name),
		InfoHash:  magnet.InfoHash,
		MagnetURL: magnetURL,
		Seeders:   candidate.seeders,
		Leechers:  candidate.leechers,
		Size:      parseSizeLabel(candidate.sizeLabel),
		SizeLabel: candidate.sizeLabel,
		Site:      c.Site(),
		Sources:   magnet.Sources,
	}, nil
}

func (c *tgxClient) Site() string {
	return "TGX"
}

func (c *tgxClient) IsSlow() bool {
	return false
}
