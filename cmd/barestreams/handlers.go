package main

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/barestreams/barestreams/pkg/imdb2torrent"
	"github.com/barestreams/barestreams/pkg/stremio"
)

func createManifestHandler(manifest stremio.Manifest) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(manifest)
	}
}

func healthHandler(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// createStreamHandler creates the handler for the stream route. It serves
// cached responses when it can, otherwise it searches all torrent sites for
// the requested title, with the IMDb title lookup running concurrently to
// the search.
func createStreamHandler(config config, searchClient *imdb2torrent.Client, metaGetter imdb2torrent.MetaGetter, cache streamCache, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		mediaType := c.Params("type")
		if mediaType != "movie" && mediaType != "series" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": `Type must be "movie" or "series"`})
		}

		// Fiber doesn't unescape path parameters, so the ":" separators of
		// TV show IDs can arrive as "%3A".
		idString, err := url.PathUnescape(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid ID"})
		}
		id, err := imdb2torrent.ParseStreamID(idString)
		if err != nil {
			logger.Debug("Couldn't parse stream ID", zap.Error(err), zap.String("id", idString))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid ID"})
		}

		zapFieldID := zap.String("id", idString)
		zapFieldType := zap.String("type", mediaType)

		// Movies only ever vary by their base ID, so any season and episode
		// segments don't make it into the key.
		var cacheKey string
		if mediaType == "movie" {
			cacheKey = "stream:movie:" + id.IMDbID
		} else {
			cacheKey = "stream:series:" + id.String()
		}

		if cached, found := cache.Get(c.Context(), cacheKey); found {
			logStreamResponse(logger, mediaType, idString, "", true, start, gjson.Get(cached, "streams.#").Int(), nil)
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.SendString(cached)
		}

		var searchCtx context.Context = c.Context()
		if config.MaxRequestWait > 0 {
			var cancel context.CancelFunc
			searchCtx, cancel = context.WithTimeout(searchCtx, config.MaxRequestWait)
			defer cancel()
		}

		// Resolve the IMDb title concurrently with the torrent search. It's
		// only needed for labeling the results, so a failed lookup doesn't
		// fail the request.
		titleChan := make(chan string, 1)
		go func() {
			var meta imdb2torrent.Meta
			var metaErr error
			if mediaType == "movie" {
				meta, metaErr = metaGetter.GetMovieSimple(searchCtx, id.IMDbID)
			} else {
				meta, metaErr = metaGetter.GetTVShowSimple(searchCtx, id.IMDbID, id.Season, id.Episode)
			}
			if metaErr != nil {
				logger.Debug("Couldn't get IMDb title, falling back to the ID", zap.Error(metaErr), zapFieldID)
				titleChan <- ""
				return
			}
			titleChan <- meta.BaseTitle()
		}()

		var results []imdb2torrent.Result
		if mediaType == "movie" {
			results, err = searchClient.FindMovie(searchCtx, id.IMDbID)
		} else {
			results, err = searchClient.FindTVShow(searchCtx, id.IMDbID, id.Season, id.Episode)
		}
		if err != nil {
			// Torrent site trouble shouldn't break the player's stream list,
			// so this responds with an empty list instead of an error.
			logger.Warn("Torrent search failed on all sites", zap.Error(err), zapFieldID, zapFieldType)
			results = nil
		}

		imdbTitle := <-titleChan
		if imdbTitle == "" {
			imdbTitle = id.IMDbID
		}

		// "streams" must be "[]" instead of "null" in the marshaled response
		streams := make([]stremio.StreamItem, 0, len(results))
		sourceCounts := map[string]int{}
		for _, result := range results {
			name, title, description := imdb2torrent.FormatStream(imdb2torrent.FormatInput{
				IMDbTitle:   imdbTitle,
				Season:      id.Season,
				Episode:     id.Episode,
				TorrentName: result.Title,
				Quality:     result.Quality,
				Site:        result.Site,
				Seeders:     result.Seeders,
				Size:        result.Size,
				SizeLabel:   result.SizeLabel,
			})
			stream := stremio.StreamItem{
				Name:        name,
				Title:       title,
				Description: description,
			}
			if result.InfoHash != "" {
				stream.InfoHash = result.InfoHash
				stream.Sources = result.Sources
			} else {
				stream.URL = result.MagnetURL
			}

			hints := stremio.StreamBehaviorHints{}
			if result.Size > 0 {
				hints.VideoSize = result.Size
			}
			if result.Title != "" {
				hints.Filename = result.Title
			}
			if mediaType == "series" {
				quality := imdb2torrent.ExtractQuality(result.Quality)
				if quality == "" {
					quality = imdb2torrent.ExtractQuality(result.Title)
				}
				if quality == "" {
					quality = "unknown"
				}
				// Episodes of the same quality from the same site bind into
				// one group, so "next episode" keeps the user's choice.
				hints.BingeGroup = "barestreams-" + imdb2torrent.Slugify(result.Site) + "-" + quality
			}
			if hints.VideoSize > 0 || hints.Filename != "" || hints.BingeGroup != "" {
				stream.BehaviorHints = &hints
			}

			sourceCounts[result.Site]++
			streams = append(streams, stream)
		}

		response := stremio.StreamResponse{
			Streams: streams,
		}
		resBody, err := json.Marshal(response)
		if err != nil {
			logger.Error("Couldn't marshal stream response", zap.Error(err), zapFieldID, zapFieldType)
			return c.SendStatus(fiber.StatusInternalServerError)
		}

		// An empty response isn't worth caching, and one that's only empty
		// because the deadline fired would hide later results from everyone.
		if len(streams) > 0 && searchCtx.Err() == nil {
			cache.Set(c.Context(), cacheKey, string(resBody))
		}

		logStreamResponse(logger, mediaType, idString, imdbTitle, false, start, int64(len(streams)), sourceCounts)
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(resBody)
	}
}

func logStreamResponse(logger *zap.Logger, mediaType, id, imdbTitle string, cacheHit bool, start time.Time, magnetLinks int64, sourceCounts map[string]int) {
	zapFields := []zap.Field{
		zap.String("type", mediaType),
		zap.String("id", id),
		zap.String("imdbTitle", imdbTitle),
		zap.Bool("cacheHit", cacheHit),
		zap.Int64("durationMs", time.Since(start).Milliseconds()),
		zap.Int64("magnetLinks", magnetLinks),
	}
	if sourceCounts != nil {
		zapFields = append(zapFields, zap.Any("sources", sourceCounts))
	}
	logger.Info("Handled stream request", zapFields...)
}

type siteStatus struct {
	Results  int    `json:"results"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
	Note     string `json:"note,omitempty"`
}

type statusResponse struct {
	MagnetSearchers map[string]siteStatus `json:"magnetSearchers"`
	Cache           string                `json:"cache"`
	Duration        string                `json:"duration"`
}

// createStatusHandler creates a handler that tests all torrent site clients
// with a given IMDb ID and reports how each one responds. Only meant for
// manual checks, which is why known-slow sites are skipped.
func createStatusHandler(magnetSearchers map[string]imdb2torrent.MagnetSearcher, cacheBackend string, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		imdbID := c.Query("imdbid", "")
		if imdbID == "" {
			return c.Status(fiber.StatusBadRequest).SendString(`Need an "imdbid" query parameter, for example "?imdbid=tt0068646" or "?imdbid=tt5834204:2:3"`)
		}
		id, err := imdb2torrent.ParseStreamID(imdbID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid IMDb ID")
		}

		start := time.Now()
		searcherResults := make(map[string]siteStatus, len(magnetSearchers))
		lock := sync.Mutex{}
		wg := sync.WaitGroup{}
		for name, searcher := range magnetSearchers {
			if searcher.IsSlow() {
				lock.Lock()
				searcherResults[name] = siteStatus{Note: "quick skip"}
				lock.Unlock()
				continue
			}
			wg.Add(1)
			go func(name string, searcher imdb2torrent.MagnetSearcher) {
				defer wg.Done()
				siteStart := time.Now()
				var results []imdb2torrent.Result
				var findErr error
				if id.IsTVShow() {
					results, findErr = searcher.FindTVShow(c.Context(), id.IMDbID, id.Season, id.Episode)
				} else {
					results, findErr = searcher.FindMovie(c.Context(), id.IMDbID)
				}
				status := siteStatus{
					Results:  len(results),
					Duration: strconv.FormatInt(time.Since(siteStart).Milliseconds(), 10) + "ms",
				}
				if findErr != nil {
					status.Error = findErr.Error()
				}
				lock.Lock()
				defer lock.Unlock()
				searcherResults[name] = status
			}(name, searcher)
		}
		wg.Wait()

		logger.Debug("Responding to status request", zap.String("duration", strconv.FormatInt(time.Since(start).Milliseconds(), 10)+"ms"))
		return c.JSON(statusResponse{
			MagnetSearchers: searcherResults,
			Cache:           cacheBackend,
			Duration:        strconv.FormatInt(time.Since(start).Milliseconds(), 10) + "ms",
		})
	}
}
