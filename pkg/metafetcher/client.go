package metafetcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/barestreams/barestreams/pkg/cinemeta"
	"github.com/barestreams/barestreams/pkg/imdb2torrent"
	"github.com/barestreams/barestreams/pkg/imdbtitles"
)

var _ imdb2torrent.MetaGetter = (*Client)(nil)

// Client resolves IMDb IDs to title metadata. The local IMDb dataset is
// consulted first because it's faster and works offline. Cinemeta is the
// fallback for IDs the dataset doesn't have, and for the window between
// process start and the first completed dataset download.
type Client struct {
	index          *imdbtitles.Index
	cinemetaClient *cinemeta.Client
	logger         *zap.Logger
}

// NewClient creates a new metafetcher client.
// One of index and cinemetaClient can be nil.
func NewClient(index *imdbtitles.Index, cinemetaClient *cinemeta.Client, logger *zap.Logger) (*Client, error) {
	if index == nil && cinemetaClient == nil {
		return nil, errors.New("one of the arguments must not be nil")
	}
	return &Client{
		index:          index,
		cinemetaClient: cinemetaClient,
		logger:         logger,
	}, nil
}

// GetMovieSimple implements imdb2torrent.MetaGetter.
func (c *Client) GetMovieSimple(ctx context.Context, imdbID string) (imdb2torrent.Meta, error) {
	if meta, ok := c.lookupLocal(ctx, imdbID); ok {
		return meta, nil
	}
	if c.cinemetaClient == nil {
		return imdb2torrent.Meta{}, fmt.Errorf("%v is not in the local dataset and no Cinemeta client is configured", imdbID)
	}
	c.logger.Debug("IMDb ID not in the local dataset, asking Cinemeta", zap.String("imdbID", imdbID))
	cineMeta, err := c.cinemetaClient.GetMovie(ctx, imdbID)
	if err != nil {
		return imdb2torrent.Meta{}, fmt.Errorf("Couldn't get movie from Cinemeta: %v", err)
	}
	return fromCinemeta(imdbID, cineMeta), nil
}

// GetTVShowSimple implements imdb2torrent.MetaGetter. Only the show's own
// metadata is resolved, season and episode don't influence the result.
func (c *Client) GetTVShowSimple(ctx context.Context, imdbID string, season, episode int) (imdb2torrent.Meta, error) {
	if meta, ok := c.lookupLocal(ctx, imdbID); ok {
		return meta, nil
	}
	if c.cinemetaClient == nil {
		return imdb2torrent.Meta{}, fmt.Errorf("%v is not in the local dataset and no Cinemeta client is configured", imdbID)
	}
	c.logger.Debug("IMDb ID not in the local dataset, asking Cinemeta", zap.String("imdbID", imdbID))
	cineMeta, err := c.cinemetaClient.GetTVShow(ctx, imdbID)
	if err != nil {
		return imdb2torrent.Meta{}, fmt.Errorf("Couldn't get TV show from Cinemeta: %v", err)
	}
	return fromCinemeta(imdbID, cineMeta), nil
}

func (c *Client) lookupLocal(ctx context.Context, imdbID string) (imdb2torrent.Meta, bool) {
	if c.index == nil {
		return imdb2torrent.Meta{}, false
	}
	title := c.index.Lookup(ctx, imdbID)
	if title == nil {
		return imdb2torrent.Meta{}, false
	}
	return imdb2torrent.Meta{
		ID:            title.Tconst,
		PrimaryTitle:  title.PrimaryTitle,
		OriginalTitle: title.OriginalTitle,
		TitleType:     title.TitleType,
		StartYear:     title.StartYear,
	}, true
}

func fromCinemeta(imdbID string, meta cinemeta.Meta) imdb2torrent.Meta {
	titleType := meta.Type
	// Cinemeta only knows "movie" and "series", IMDb's types are finer grained
	if titleType == "series" {
		titleType = "tvSeries"
	}
	return imdb2torrent.Meta{
		ID:           imdbID,
		PrimaryTitle: meta.Name,
		TitleType:    titleType,
		StartYear:    meta.Year,
	}
}
