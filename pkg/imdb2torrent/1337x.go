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

// 1337x search pages list up to 20 rows. Visiting all the torrent pages
// behind them would swamp the bypass sessions, so only the first ones after
// filtering are followed.
const leetxDetailLimit = 10

type LeetxClientOptions struct {
	// Tried in order until one base URL responds.
	BaseURLs []string
}

func NewLeetxClientOpts(baseURLs []string) LeetxClientOptions {
	return LeetxClientOptions{
		BaseURLs: baseURLs,
	}
}

var DefaultLeetxClientOpts = LeetxClientOptions{
	BaseURLs: []string{"https://1337x.to"},
}

var _ MagnetSearcher = (*leetxClient)(nil)

type leetxClient struct {
	baseURLs         []string
	fetcher          *Fetcher
	metaGetter       MetaGetter
	logger           *zap.Logger
	logFoundTorrents bool
}

func NewLeetxClient(opts LeetxClientOptions, fetcher *Fetcher, metaGetter MetaGetter, logger *zap.Logger, logFoundTorrents bool) *leetxClient {
	return &leetxClient{
		baseURLs:         opts.BaseURLs,
		fetcher:          fetcher,
		metaGetter:       metaGetter,
		logger:           logger,
		logFoundTorrents: logFoundTorrents,
	}
}

// FindMovie scrapes 1337x to find torrents for the given IMDb ID.
// It resolves the IMDb ID to a movie name first, so it can search 1337x with
// the name.
// If no error occured, but there are just no torrents for the movie yet, an
// empty result and *no* error are returned.
func (c *leetxClient) FindMovie(ctx context.Context, imdbID string) ([]Result, error) {
	return c.find(ctx, StreamID{IMDbID: imdbID})
}

// FindTVShow scrapes 1337x to find torrents for the given episode.
func (c *leetxClient) FindTVShow(ctx context.Context, imdbID string, season, episode int) ([]Result, error) {
	return c.find(ctx, StreamID{IMDbID: imdbID, Season: season, Episode: episode})
}

type leetxCandidate struct {
	name      string
	detailURL string
	seeders   int
	leechers  int
	sizeLabel string
}

func (c *leetxClient) find(ctx context.Context, id StreamID) ([]Result, error) {
	if len(c.baseURLs) == 0 {
		return nil, nil
	}
	zapFieldID := zap.String("imdbID", id.IMDbID)
	zapFieldTorrentSite := zap.String("torrentSite", "1337x")

	queries := BuildQueries(ctx, c.metaGetter, id)

	var candidates []leetxCandidate
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
	if len(candidates) > leetxDetailLimit {
		candidates = candidates[:leetxDetailLimit]
	}

	// Visit the torrent pages in parallel to get the magnet URLs
	results := make([]Result, len(candidates))
	var wg sync.WaitGroup
	for i, candidate := range candidates {
		wg.Add(1)
		go func(i int, candidate leetxCandidate) {
			defer wg.Done()
			result, err := c.fetchMagnet(ctx, candidate, zapFieldID, zapFieldTorrentSite)
			if err != nil {
				c.logger.Debug("Couldn't get magnet from 1337x torrent page", zap.Error(err), zap.String("url", candidate.detailURL), zapFieldID, zapFieldTorrentSite)
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

func (c *leetxClient) searchCandidates(ctx context.Context, query string, zapFieldID, zapFieldTorrentSite zap.Field) ([]leetxCandidate, error) {
	var body, searchBase string
	var err error
	for _, baseURL := range c.baseURLs {
		reqUrl := baseURL + "/search/" + url.PathEscape(query) + "/1/"
		body, err = c.fetcher.FetchText(ctx, c.Site(), reqUrl)
		if err == nil {
			searchBase = baseURL
			break
		}
		c.logger.Debug("Couldn't search torrents on this 1337x mirror", zap.Error(err), zap.String("url", reqUrl), zapFieldID, zapFieldTorrentSite)
	}
	if err != nil {
		return nil, fmt.Errorf("Couldn't search torrents on any 1337x mirror: %v", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Couldn't load the HTML in goquery: %v", err)
	}

	var candidates []leetxCandidate
	doc.Find(".table-list tbody tr").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("a[href^='/torrent/']").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			// Some mirrors use absolute torrent page URLs
			link = row.Find("a[href*='/torrent/']").First()
			if href, ok = link.Attr("href"); !ok || href == "" {
				return
			}
		}
		name := strings.TrimSpace(link.Text())
		if name == "" {
			return
		}
		detailURL := href
		if strings.HasPrefix(detailURL, "/") {
			detailURL = searchBase + detailURL
		} else if replaced, replaceErr := replaceURL(detailURL, searchBase); replaceErr == nil {
			// Keep using the base URL that worked for the search
			detailURL = replaced
		}
		candidate := leetxCandidate{name: name, detailURL: detailURL}
		if seeders, convErr := strconv.Atoi(strings.TrimSpace(row.Find("td.coll-2").First().Text())); convErr == nil {
			candidate.seeders = seeders
		}
		if leechers, convErr := strconv.Atoi(strings.TrimSpace(row.Find("td.coll-3").First().Text())); convErr == nil {
			candidate.leechers = leechers
		}
		// The size cell nests a mobile-only seeder count span
		sizeCell := row.Find("td.coll-4").First().Clone()
		sizeCell.Find("span").Remove()
		if sizeLabel := strings.TrimSpace(sizeCell.Text()); parseSizeLabel(sizeLabel) > 0 {
			candidate.sizeLabel = sizeLabel
		}
		candidates = append(candidates, candidate)
	})
	return candidates, nil
}

func (c *leetxClient) fetchMagnet(ctx context.Context, candidate leetxCandidate, zapFieldID, zapFieldTorrentSite zap.Field) (Result, error) {
	body, err := c.fetcher.FetchText(ctx, c.Site(), candidate.detailURL)
	if err != nil {
		return Result{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("Couldn't load the HTML in goquery: %v", err)
	}
	magnetURL, ok := doc.Find("a[href^='magnet:']").First().Attr("href")
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

func (c *leetxClient) Site() string {
	return "1337x"
}

// IsSlow is true because most requests have to go through the bypass
// sessions, which render the whole page in a headless browser.
func (c *leetxClient) IsSlow() bool {
	return true
}
