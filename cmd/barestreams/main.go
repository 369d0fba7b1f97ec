package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/markbates/pkger"
	gocache "github.com/patrickmn/go-cache"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/barestreams/barestreams/pkg/cinemeta"
	"github.com/barestreams/barestreams/pkg/flaresolverr"
	"github.com/barestreams/barestreams/pkg/imdb2torrent"
	"github.com/barestreams/barestreams/pkg/imdb2torrent/proxy"
	"github.com/barestreams/barestreams/pkg/imdbtitles"
	"github.com/barestreams/barestreams/pkg/logadapter"
	"github.com/barestreams/barestreams/pkg/metafetcher"
	"github.com/barestreams/barestreams/pkg/stremio"
)

const (
	version = "0.1.0"
)

var manifest = stremio.Manifest{
	ID:          "tv.barestreams.addon",
	Name:        "Bare Streams",
	Description: "Finds torrents for movies and TV shows on YTS, EZTV, TorrentGalaxy, The Pirate Bay and 1337x and serves them as plain magnet streams. No accounts, no debrid service, no filters.",
	Version:     version,

	Resources: []string{"stream"},
	Types:     []string{"movie", "series"},
	// An empty slice is required for serializing to a JSON that Stremio expects
	Catalogs: []stremio.CatalogItem{},

	IDprefixes: []string{"tt"},

	BehaviorHints: &stremio.BehaviorHints{
		P2P: true,
	},
}

// Cache for marshaled stream responses, Redis, BadgerDB or in-memory,
// depending on config.
var (
	responseCache streamCache
	cacheBackend  string
)

// Clients
var (
	fetcher      *imdb2torrent.Fetcher
	metaFetcher  *metafetcher.Client
	searchClient *imdb2torrent.Client
	// Only set when a dataset path is configured
	refresher *imdbtitles.Refresher
)

func init() {
	// Timeout for global default HTTP client (for when using `http.Get()`)
	http.DefaultClient.Timeout = 5 * time.Second
}

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	// Create an "info" logger at first, replace later in case the logging level is configured to be something else
	logger, err := newLogger("info", "console")
	if err != nil {
		panic(err)
	}

	// Parse and validate config

	logger.Info("Parsing config...")
	config := parseConfig(logger)
	configJSON, err := json.Marshal(config)
	if err != nil {
		logger.Fatal("Couldn't marshal config to JSON", zap.Error(err))
	}
	if config.LogLevel != "info" || config.LogEncoding != "console" {
		// Replace previously created logger
		if logger, err = newLogger(config.LogLevel, config.LogEncoding); err != nil {
			logger.Fatal("Couldn't create new logger", zap.Error(err))
		}
	}
	logger.Info("Parsed config", zap.ByteString("config", configJSON))

	config.validate(logger)
	logger.Info("Validated config")

	// Create the cache and the clients

	closer := initCache(config, logger)
	defer func() {
		if err := closer(); err != nil {
			logger.Error("Couldn't close the cache", zap.Error(err))
		}
	}()

	initClients(config, logger)

	// Download the IMDb dataset if necessary and keep it fresh
	if refresher != nil {
		go func() {
			if err := refresher.RefreshIfStale(mainCtx); err != nil {
				logger.Error("Couldn't refresh IMDb dataset", zap.Error(err))
			}
		}()
		go refresher.Run(mainCtx, time.Hour)
	}

	// Probe the torrent sites so ones that block us get their bypass
	// sessions before the first user request, and keep the sessions warm.
	for site := range searchClient.GetMagnetSearchers() {
		go fetcher.ProbeSite(mainCtx, site)
	}
	go fetcher.RefreshSessions(mainCtx)

	// Set up the server

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
	})
	app.Use(fiberrecover.New())
	app.Use(createLoggingMiddleware(logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET, OPTIONS",
	}))

	app.Get("/health", healthHandler)
	app.Get("/manifest.json", createManifestHandler(manifest))
	app.Get("/stream/:type/:id.json", createStreamHandler(config, searchClient, metaFetcher, responseCache, logger))
	app.Get("/status", createStatusHandler(searchClient.GetMagnetSearchers(), cacheBackend, logger))

	// The landing page with the installation link, served from files
	// compiled into the binary unless a directory is configured.
	var httpFS http.FileSystem
	if config.WebConfigurePath == "" {
		httpFS = pkger.Dir("/web")
	} else {
		httpFS = http.Dir(config.WebConfigurePath)
	}
	// Registered last, so the routes above take precedence
	app.Use("/", filesystem.New(filesystem.Config{
		Root: httpFS,
	}))

	// Start the server

	addr := config.BindAddr + ":" + strconv.Itoa(config.Port)
	logger.Info("Starting server...", zap.String("address", addr))
	go func() {
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Couldn't start server", zap.Error(err))
		}
	}()

	// Graceful shutdown

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal, shutting down server...", zap.Stringer("signal", sig))
	mainCancel()
	if err := app.Shutdown(); err != nil {
		logger.Error("Couldn't shut down server gracefully", zap.Error(err))
	}
}

func initCache(config config, logger *zap.Logger) (closer func() error) {
	logger.Info("Initializing cache...")
	start := time.Now()

	var closers []func() error
	multiCloser := func() error {
		var result error
		for _, closer := range closers {
			if err := closer(); err != nil {
				result = multierr.Append(result, err)
			}
		}
		return result
	}

	// The TTL config value is in hours and applies to all backends
	ttl := time.Duration(config.RedisTTLhours) * time.Hour

	if config.RedisURL != "" {
		redisOpts, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			logger.Fatal("Couldn't parse Redis URL", zap.Error(err))
		}
		rdb := redis.NewClient(redisOpts)
		logger.Info("Testing connection to Redis...")
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("Couldn't ping Redis", zap.Error(err))
		}
		logger.Info("Connection to Redis established!")
		closers = append(closers, rdb.Close)

		responseCache = &redisCache{
			rdb:    rdb,
			ttl:    ttl,
			logger: logger,
		}
		cacheBackend = "redis"
	} else if config.StoragePath != "" {
		badgerLogger := logadapter.NewBadger2Zap(logger)
		options := badger.DefaultOptions(config.StoragePath).
			WithLogger(badgerLogger).
			WithLoggingLevel(badger.WARNING).
			WithSyncWrites(false)
		db, err := badger.Open(options)
		if err != nil {
			logger.Fatal("Couldn't open BadgerDB", zap.Error(err))
		}
		closers = append(closers, db.Close)

		// Periodically call RunValueLogGC()
		go func() {
			time.Sleep(time.Hour)
			for {
				db.RunValueLogGC(0.5)
				time.Sleep(time.Hour)
			}
		}()

		responseCache = &badgerCache{
			db:     db,
			ttl:    ttl,
			logger: logger,
		}
		cacheBackend = "badger"
	} else {
		responseCache = &memCache{
			cache:  gocache.New(ttl, time.Hour),
			logger: logger,
		}
		cacheBackend = "memory"
	}

	duration := time.Since(start).Milliseconds()
	durationString := strconv.FormatInt(duration, 10) + "ms"
	logger.Info("Initialized cache", zap.String("duration", durationString), zap.String("backend", cacheBackend))

	return multiCloser
}

func initClients(config config, logger *zap.Logger) {
	logger.Info("Initializing clients...")
	start := time.Now()

	var solverr *flaresolverr.Client
	if config.FlareSolverrURL != "" {
		solverrOpts := flaresolverr.NewClientOpts(config.FlareSolverrURL, flaresolverr.DefaultClientOpts.Timeout, flaresolverr.DefaultClientOpts.MaxTimeout)
		solverr = flaresolverr.NewClient(solverrOpts, logger)
	}
	fetcherOpts := imdb2torrent.NewFetcherOpts(imdb2torrent.DefaultFetcherOpts.Timeout, config.FlareSolverrSessions, config.FlareSolverrSessionRefresh)
	fetcher = imdb2torrent.NewFetcher(fetcherOpts, solverr, logger)

	var titleIndex *imdbtitles.Index
	if config.DatasetPath != "" {
		fs := afero.NewOsFs()
		titleIndex = imdbtitles.NewIndex(imdbtitles.NewIndexOpts(config.DatasetPath), fs, logger)
		refresherOpts := imdbtitles.NewRefresherOpts(config.DatasetURL, config.DatasetPath, imdbtitles.DefaultRefresherOpts.MaxAge, imdbtitles.DefaultRefresherOpts.Timeout)
		refresher = imdbtitles.NewRefresher(refresherOpts, fs, logger)
	}
	cinemetaClient := cinemeta.NewClient(cinemeta.DefaultClientOpts, logger)
	var err error
	metaFetcher, err = metafetcher.NewClient(titleIndex, cinemetaClient, logger)
	if err != nil {
		logger.Fatal("Couldn't create metafetcher client", zap.Error(err))
	}

	// The site order here is the dedupe precedence: when two sites find the
	// same torrent, the stream keeps the display fields of the earlier one.
	var movieSites []imdb2torrent.MagnetSearcher
	var tvShowSites []imdb2torrent.MagnetSearcher

	if len(config.BaseURLsYTS) > 0 {
		ytsClient := imdb2torrent.NewYTSclient(imdb2torrent.NewYTSclientOpts(config.BaseURLsYTS), fetcher, logger, config.LogFoundTorrents)
		movieSites = append(movieSites, ytsClient)
		fetcher.RegisterSite(ytsClient.Site(), config.BaseURLsYTS[0], nil)
	}
	if len(config.BaseURLsEZTV) > 0 {
		eztvClient := imdb2torrent.NewEZTVclient(imdb2torrent.NewEZTVclientOpts(config.BaseURLsEZTV), fetcher, metaFetcher, logger, config.LogFoundTorrents)
		tvShowSites = append(tvShowSites, eztvClient)
		fetcher.RegisterSite(eztvClient.Site(), config.BaseURLsEZTV[0], nil)
	}
	if len(config.BaseURLsTGX) > 0 {
		tgxClient := imdb2torrent.NewTGXclient(imdb2torrent.NewTGXclientOpts(config.BaseURLsTGX, config.TGXdetailLimit), fetcher, metaFetcher, logger, config.LogFoundTorrents)
		movieSites = append(movieSites, tgxClient)
		tvShowSites = append(tvShowSites, tgxClient)
		fetcher.RegisterSite(tgxClient.Site(), config.BaseURLsTGX[0], nil)
	}
	if len(config.BaseURLsApibay) > 0 {
		tpbClient := imdb2torrent.NewTPBclient(imdb2torrent.NewTPBclientOpts(config.BaseURLsApibay), fetcher, metaFetcher, logger, config.LogFoundTorrents)
		movieSites = append(movieSites, tpbClient)
		tvShowSites = append(tvShowSites, tpbClient)
		var tpbHTTPclient *http.Client
		if config.SocksProxyAddrApibay != "" {
			if tpbHTTPclient, err = proxy.NewHTTPclient(imdb2torrent.DefaultFetcherOpts.Timeout, config.SocksProxyAddrApibay); err != nil {
				logger.Fatal("Couldn't create SOCKS5 HTTP client for the TPB API", zap.Error(err))
			}
		}
		fetcher.RegisterSite(tpbClient.Site(), config.BaseURLsApibay[0], tpbHTTPclient)
	}
	if len(config.BaseURLs1337x) > 0 {
		leetxClient := imdb2torrent.NewLeetxClient(imdb2torrent.NewLeetxClientOpts(config.BaseURLs1337x), fetcher, metaFetcher, logger, config.LogFoundTorrents)
		movieSites = append(movieSites, leetxClient)
		tvShowSites = append(tvShowSites, leetxClient)
		fetcher.RegisterSite(leetxClient.Site(), config.BaseURLs1337x[0], nil)
	}

	searchClient = imdb2torrent.NewClient(movieSites, tvShowSites, logger)

	duration := time.Since(start).Milliseconds()
	durationString := strconv.FormatInt(duration, 10) + "ms"
	logger.Info("Initialized clients", zap.String("duration", durationString))
}
