package cinemeta

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Meta is the part of a Cinemeta item we care about.
type Meta struct {
	Name string
	Type string
	Year int
}

type ClientOptions struct {
	BaseURL string
	Timeout time.Duration
	// CacheTTL is how long fetched metadata is served from memory. Titles
	// rarely change, so this can be generous.
	CacheTTL time.Duration
}

func NewClientOpts(baseURL string, timeout, cacheTTL time.Duration) ClientOptions {
	return ClientOptions{
		BaseURL:  baseURL,
		Timeout:  timeout,
		CacheTTL: cacheTTL,
	}
}

var DefaultClientOpts = ClientOptions{
	BaseURL:  "https://v3-cinemeta.strem.io",
	Timeout:  5 * time.Second,
	CacheTTL: 30 * 24 * time.Hour,
}

// Client fetches movie and TV show metadata from Cinemeta, the official
// Stremio catalog addon.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *gocache.Cache
	logger     *zap.Logger
}

func NewClient(opts ClientOptions, logger *zap.Logger) *Client {
	return &Client{
		baseURL: opts.BaseURL,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		cache:  gocache.New(opts.CacheTTL, 24*time.Hour),
		logger: logger,
	}
}

// GetMovie returns the metadata of the movie with the given IMDb ID.
func (c *Client) GetMovie(ctx context.Context, imdbID string) (Meta, error) {
	return c.getMeta(ctx, "movie", imdbID)
}

// GetTVShow returns the metadata of the TV show with the given IMDb ID.
// Cinemeta keys TV shows by the ID of the show, not of an episode.
func (c *Client) GetTVShow(ctx context.Context, imdbID string) (Meta, error) {
	return c.getMeta(ctx, "series", imdbID)
}

func (c *Client) getMeta(ctx context.Context, mediaType, imdbID string) (Meta, error) {
	cacheKey := mediaType + ":" + imdbID
	if cached, ok := c.cache.Get(cacheKey); ok {
		meta, _ := cached.(Meta)
		return meta, nil
	}

	reqUrl := c.baseURL + "/meta/" + mediaType + "/" + imdbID + ".json"
	req, err := http.NewRequestWithContext(ctx, "GET", reqUrl, nil)
	if err != nil {
		return Meta{}, fmt.Errorf("Couldn't create request object: %v", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return Meta{}, fmt.Errorf("Couldn't GET %v: %v", reqUrl, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return Meta{}, fmt.Errorf("Bad GET response: %v", res.StatusCode)
	}
	resBody, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return Meta{}, fmt.Errorf("Couldn't read response body: %v", err)
	}

	name := gjson.GetBytes(resBody, "meta.name").String()
	if name == "" {
		return Meta{}, errors.New("Couldn't find the title name in the Cinemeta response")
	}
	meta := Meta{
		Name: name,
		Type: gjson.GetBytes(resBody, "meta.type").String(),
	}
	if meta.Type == "" {
		meta.Type = mediaType
	}
	// TV shows carry a year range like "2017-2021", movies a plain year
	year := gjson.GetBytes(resBody, "meta.year").String()
	if len(year) > 4 {
		year = year[:4]
	}
	if year != "" {
		meta.Year, err = strconv.Atoi(year)
		if err != nil {
			c.logger.Warn("Couldn't convert year to int", zap.Error(err), zap.String("year", year), zap.String("imdbID", imdbID))
		}
	}

	c.cache.Set(cacheKey, meta, gocache.DefaultExpiration)
	return meta, nil
}
