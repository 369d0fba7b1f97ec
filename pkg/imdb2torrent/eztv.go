package imdb2torrent

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	eztvPageSize        = 100
	eztvMaxPages        = 50
	eztvPageConcurrency = 5
	eztvMaxEpisodeLinks = 15
)

type EZTVclientOptions struct {
	// Tried in order until one base URL responds.
	BaseURLs []string
}

func NewEZTVclientOpts(baseURLs []string) EZTVclientOptions {
	return EZTVclientOptions{
		BaseURLs: baseURLs,
	}
}

var DefaultEZTVclientOpts = EZTVclientOptions{
	BaseURLs: []string{"https://eztvx.to"},
}

var _ MagnetSearcher = (*eztvClient)(nil)

type eztvClient struct {
	baseURLs         []string
	fetcher          *Fetcher
	metaGetter       MetaGetter
	logger           *zap.Logger
	logFoundTorrents bool
}

func NewEZTVclient(opts EZTVclientOptions, fetcher *Fetcher, metaGetter MetaGetter, logger *zap.Logger, logFoundTorrents bool) *eztvClient {
	return &eztvClient{
		baseURLs:         opts.BaseURLs,
		fetcher:          fetcher,
		metaGetter:       metaGetter,
		logger:           logger,
		logFoundTorrents: logFoundTorrents,
	}
}

// FindMovie returns no results. EZTV only indexes TV shows.
func (c *eztvClient) FindMovie(ctx context.Context, imdbID string) ([]Result, error) {
	return nil, nil
}

// FindTVShow uses EZTV's API to find torrents for the given episode.
// When the API doesn't know the episode yet it falls back to scraping the
// website's search page, which is usually ahead of the API for fresh uploads.
// If no error occured, but there are just no torrents for the episode yet, an
// empty result and *no* error are returned.
func (c *eztvClient) FindTVShow(ctx context.Context, imdbID string, season, episode int) ([]Result, error) {
	if len(c.baseURLs) == 0 {
		return nil, nil
	}
	zapFieldID := zap.String("imdbID", imdbID)
	zapFieldTorrentSite := zap.String("torrentSite", "EZTV")

	// Some mirrors and API versions want the ID with the "tt" prefix,
	// others without it.
	digits := strings.TrimPrefix(imdbID, "tt")
	apiIDs := []string{digits}
	if digits != imdbID {
		apiIDs = append(apiIDs, imdbID)
	}

	searched := false
	var lastErr error
	for _, baseURL := range c.baseURLs {
		for _, apiID := range apiIDs {
			results, err := c.findViaAPI(ctx, baseURL, apiID, season, episode, zapFieldID, zapFieldTorrentSite)
			if err != nil {
				lastErr = err
				c.logger.Debug("Couldn't search torrents via the EZTV API", zap.Error(err), zap.String("baseURL", baseURL), zapFieldID, zapFieldTorrentSite)
				continue
			}
			searched = true
			if len(results) > 0 {
				return results, nil
			}
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if season != 0 || episode != 0 {
		results, err := c.findViaSearchPage(ctx, imdbID, season, episode, zapFieldID, zapFieldTorrentSite)
		if err != nil {
			c.logger.Debug("Couldn't search torrents via the EZTV search page", zap.Error(err), zapFieldID, zapFieldTorrentSite)
		} else {
			searched = true
			if len(results) > 0 {
				return results, nil
			}
		}
	}

	if !searched {
		return nil, fmt.Errorf("Couldn't search torrents on any EZTV mirror: %v", lastErr)
	}
	return nil, nil
}

// findViaAPI fetches all torrent pages the API reports for the show and
// returns the ones matching the requested episode.
func (c *eztvClient) findViaAPI(ctx context.Context, baseURL, apiID string, season, episode int, zapFieldID, zapFieldTorrentSite zap.Field) ([]Result, error) {
	firstPage, err := c.fetchTorrentsPage(ctx, baseURL, apiID, 1)
	if err != nil {
		return nil, err
	}

	limit := firstPage.Get("limit").Int()
	if limit <= 0 {
		limit = eztvPageSize
	}
	pageCount := int((firstPage.Get("torrents_count").Int() + limit - 1) / limit)
	if pageCount > eztvMaxPages {
		pageCount = eztvMaxPages
	}

	// Page 1 is already fetched, get the rest concurrently. The pages slice
	// is indexed by page number so that the torrents keep the API's order.
	pages := make([][]gjson.Result, pageCount)
	if pageCount > 0 {
		pages[0] = firstPage.Get("torrents").Array()
	}
	if pageCount > 1 {
		sem := make(chan struct{}, eztvPageConcurrency)
		var wg sync.WaitGroup
		for page := 2; page <= pageCount; page++ {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			go func(page int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				res, err := c.fetchTorrentsPage(ctx, baseURL, apiID, page)
				if err != nil {
					c.logger.Debug("Couldn't fetch EZTV torrents page", zap.Error(err), zap.Int("page", page), zapFieldID, zapFieldTorrentSite)
					return
				}
				pages[page-1] = res.Get("torrents").Array()
			}(page)
		}
		wg.Wait()
	}

	var results []Result
	for _, torrents := range pages {
		for _, torrent := range torrents {
			if result, ok := c.convertTorrent(torrent, season, episode, zapFieldID, zapFieldTorrentSite); ok {
				results = append(results, result)
			}
		}
	}
	return results, nil
}

func (c *eztvClient) fetchTorrentsPage(ctx context.Context, baseURL, apiID string, page int) (gjson.Result, error) {
	reqUrl := fmt.Sprintf("%v/api/get-torrents?imdb_id=%v&limit=%d&page=%d", baseURL, apiID, eztvPageSize, page)
	resBody, err := c.fetcher.FetchJSON(ctx, c.Site(), reqUrl)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(resBody), nil
}

func (c *eztvClient) convertTorrent(torrent gjson.Result, season, episode int, zapFieldID, zapFieldTorrentSite zap.Field) (Result, bool) {
	title := torrent.Get("title").String()
	if title == "" {
		title = torrent.Get("filename").String()
	}
	if !eztvTorrentMatches(torrent, title, season, episode) {
		return Result{}, false
	}

	magnetURL := torrent.Get("magnet_url").String()
	magnet, ok := ParseMagnet(magnetURL)
	if !ok {
		magnetURL = ""
		magnet = Magnet{InfoHash: normalizeInfoHash(torrent.Get("hash").String())}
	}
	if magnet.InfoHash == "" {
		c.logger.Warn("Couldn't get info_hash from torrent JSON", zap.String("torrentJSON", torrent.String()), zapFieldID, zapFieldTorrentSite)
		return Result{}, false
	}

	if c.logFoundTorrents {
		c.logger.Debug("Found torrent", zap.String("title", title), zap.String("infoHash", magnet.InfoHash), zapFieldID, zapFieldTorrentSite)
	}
	return Result{
		Title:     title,
		Quality:   ExtractQuality(title),
		InfoHash:  magnet.InfoHash,
		MagnetURL: magnetURL,
		// size_bytes is a string in the API response, gjson converts it
		Size:     torrent.Get("size_bytes").Int(),
		Seeders:  int(torrent.Get("seeds").Int()),
		Leechers: int(torrent.Get("peers").Int()),
		Site:     c.Site(),
		Sources:  magnet.Sources,
	}, true
}

// eztvTorrentMatches prefers the API's structured season and episode fields
// and only falls back to parsing the title when they're missing or zero.
func eztvTorrentMatches(torrent gjson.Result, title string, season, episode int) bool {
	if season == 0 && episode == 0 {
		return true
	}
	s := int(torrent.Get("season").Int())
	e := int(torrent.Get("episode").Int())
	if s != 0 || e != 0 {
		return s == season && e == episode
	}
	return matchesEpisode(title, season, episode)
}

// findViaSearchPage scrapes EZTV's HTML search, collects up to
// eztvMaxEpisodeLinks episode page links and pulls the magnet from each
// episode page whose name matches the requested show and episode.
func (c *eztvClient) findViaSearchPage(ctx context.Context, imdbID string, season, episode int, zapFieldID, zapFieldTorrentSite zap.Field) ([]Result, error) {
	queries := BuildQueries(ctx, c.metaGetter, StreamID{IMDbID: imdbID, Season: season, Episode: episode})

	var searchBase, body string
	var err error
	for _, baseURL := range c.baseURLs {
		reqUrl := baseURL + "/search/" + url.PathEscape(queries.Query)
		body, err = c.fetcher.FetchText(ctx, c.Site(), reqUrl)
		if err == nil {
			searchBase = baseURL
			break
		}
		c.logger.Debug("Couldn't fetch the EZTV search page", zap.Error(err), zap.String("url", reqUrl), zapFieldID, zapFieldTorrentSite)
	}
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Couldn't load the HTML in goquery: %v", err)
	}

	type episodeLink struct {
		url       string
		name      string
		seeders   int
		sizeLabel string
	}
	var links []episodeLink
	seen := map[string]struct{}{}
	doc.Find("a[href^='/ep/']").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		name := strings.TrimSpace(link.Text())
		if href == "" || name == "" {
			return true
		}
		if _, ok := seen[href]; ok {
			return true
		}
		seen[href] = struct{}{}
		epLink := episodeLink{url: searchBase + href, name: name}
		// The surrounding table row carries the size and seeder count
		link.Closest("tr").Find("td").Each(func(_ int, cell *goquery.Selection) {
			text := strings.TrimSpace(cell.Text())
			if parseSizeLabel(text) > 0 {
				epLink.sizeLabel = text
				return
			}
			if seeders, err := strconv.Atoi(strings.ReplaceAll(text, ",", "")); err == nil {
				epLink.seeders = seeders
			}
		})
		links = append(links, epLink)
		return len(links) < eztvMaxEpisodeLinks
	})

	titleRegex := titlePattern(queries.BaseTitle)
	var results []Result
	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		if !matchesEpisode(link.name, season, episode) {
			continue
		}
		if titleRegex != nil && !titleRegex.MatchString(link.name) {
			continue
		}
		body, err := c.fetcher.FetchText(ctx, c.Site(), link.url)
		if err != nil {
			c.logger.Debug("Couldn't fetch EZTV episode page", zap.Error(err), zap.String("url", link.url), zapFieldID, zapFieldTorrentSite)
			continue
		}
		epDoc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			continue
		}
		magnetURL, ok := epDoc.Find("a[href^='magnet:']").First().Attr("href")
		if !ok {
			continue
		}
		magnet, ok := ParseMagnet(magnetURL)
		if !ok {
			continue
		}
		if c.logFoundTorrents {
			c.logger.Debug("Found torrent", zap.String("title", link.name), zap.String("infoHash", magnet.InfoHash), zapFieldID, zapFieldTorrentSite)
		}
		results = append(results, Result{
			Title:     link.name,
			Quality:   ExtractQuality(link.name),
			InfoHash:  magnet.InfoHash,
			MagnetURL: magnetURL,
			Seeders:   link.seeders,
			Size:      parseSizeLabel(link.sizeLabel),
			SizeLabel: link.sizeLabel,
			Site:      c.Site(),
			Sources:   magnet.Sources,
		})
	}
	return results, nil
}

func (c *eztvClient) Site() string {
	return "EZTV"
}

func (c *eztvClient) IsSlow() bool {
	return false
}
