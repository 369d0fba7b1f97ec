package main

import (
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type config struct {
	BindAddr                   string        `json:"bindAddr"`
	Port                       int           `json:"port"`
	LogLevel                   string        `json:"logLevel"`
	LogEncoding                string        `json:"logEncoding"`
	LogFoundTorrents           bool          `json:"logFoundTorrents"`
	RedisURL                   string        `json:"redisURL"`
	RedisTTLhours              int           `json:"redisTTLhours"`
	MaxRequestWait             time.Duration `json:"maxRequestWait"`
	StoragePath                string        `json:"storagePath"`
	DatasetPath                string        `json:"datasetPath"`
	DatasetURL                 string        `json:"datasetURL"`
	WebConfigurePath           string        `json:"webConfigurePath"`
	BaseURLsYTS                []string      `json:"baseURLsYTS"`
	BaseURLsEZTV               []string      `json:"baseURLsEZTV"`
	BaseURLsTGX                []string      `json:"baseURLsTGX"`
	BaseURLsApibay             []string      `json:"baseURLsApibay"`
	BaseURLs1337x              []string      `json:"baseURLs1337x"`
	TGXdetailLimit             int           `json:"tgxDetailLimit"`
	FlareSolverrURL            string        `json:"flareSolverrURL"`
	FlareSolverrSessions       int           `json:"flareSolverrSessions"`
	FlareSolverrSessionRefresh time.Duration `json:"flareSolverrSessionRefresh"`
	SocksProxyAddrApibay       string        `json:"socksProxyAddrApibay"`
	EnvPrefix                  string        `json:"envPrefix"`
}

func parseConfig(logger *zap.Logger) config {
	result := config{}

	// Flags
	var (
		bindAddr                   = flag.String("bindAddr", "localhost", `Local interface address to bind to. "localhost" only allows access from the local host. "0.0.0.0" binds to all network interfaces.`)
		port                       = flag.Int("port", 8080, "Port to listen on")
		logLevel                   = flag.String("logLevel", "debug", `Log level to show only logs with the given and more severe levels. Can be "debug", "info", "warn", "error".`)
		logEncoding                = flag.String("logEncoding", "console", `Log encoding. Can be "console" or "json", where "json" makes more sense when using centralized logging solutions like ELK, Graylog or Loki.`)
		logFoundTorrents           = flag.Bool("logFoundTorrents", false, "Set to true to log each single torrent that was found by one of the torrent site clients (with DEBUG level)")
		redisURL                   = flag.String("redisURL", "", `Redis connection URL, for example "redis://localhost:6379/0". It's used for the stream response cache. Keep empty to use BadgerDB (when storagePath is set) or an in-memory cache.`)
		redisTTLhours              = flag.Int("redisTTLhours", 24, "TTL in hours for cached stream responses. Applies to all cache backends, not just Redis.")
		maxRequestWait             = flag.Duration("maxRequestWait", 0, `Max duration a stream request waits for the torrent sites before responding with whatever was found so far. The format must be acceptable by Go's 'time.ParseDuration()', for example "10s". The environment variable counterpart ("MAX_REQUEST_WAIT_SECONDS") takes a plain number of seconds. Keep 0 for no deadline.`)
		storagePath                = flag.String("storagePath", "", "Path for storing the data of the persistent BadgerDB which backs the stream response cache. Keep empty to use an in-memory cache instead (or Redis when redisURL is set).")
		datasetPath                = flag.String("datasetPath", "./data/title.basics.tsv", "Path of the local copy of the IMDb title dataset, used for offline title lookups. Keep empty to skip the local index and only use the online metadata service.")
		datasetURL                 = flag.String("datasetURL", "https://datasets.imdbws.com/title.basics.tsv.gz", "URL of the gzipped IMDb title dataset that's downloaded to datasetPath and refreshed daily")
		webConfigurePath           = flag.String("webConfigurePath", "", "Path to the directory with web files for the root endpoint. If empty, files compiled into the binary will be used")
		ytsURL                     = flag.String("ytsURL", "https://yts.mx", "Comma-separated base URLs for YTS, tried in order. Keep empty to disable the YTS client.")
		eztvURL                    = flag.String("eztvURL", "https://eztvx.to", "Comma-separated base URLs for EZTV, tried in order. Keep empty to disable the EZTV client.")
		tgxURL                     = flag.String("tgxURL", "https://torrentgalaxy.to", "Comma-separated base URLs for TorrentGalaxy, tried in order. Keep empty to disable the TorrentGalaxy client.")
		apibayURL                  = flag.String("apibayURL", "https://apibay.org", "Comma-separated base URLs for the TPB API, tried in order. Keep empty to disable the TPB client.")
		x1337xURL                  = flag.String("x1337xURL", "https://1337x.to", "Comma-separated base URLs for 1337x, tried in order. Keep empty to disable the 1337x client.")
		tgxDetailLimit             = flag.Int("tgxDetailLimit", 5, "Max number of TorrentGalaxy detail pages that are fetched per search, because each result row requires one additional request")
		flaresolverrURL            = flag.String("flaresolverrURL", "", `Base URL of a FlareSolverr service, for example "http://localhost:8191". It's used for sites that block plain HTTP clients. Keep empty to not use any bypass.`)
		flaresolverrSessions       = flag.Int("flaresolverrSessions", 3, "Number of FlareSolverr browser sessions that are created per blocked site")
		flaresolverrSessionRefresh = flag.Duration("flaresolverrSessionRefresh", 5*time.Minute, `Interval in which FlareSolverr sessions are re-warmed so their clearance cookies don't expire. The format must be acceptable by Go's 'time.ParseDuration()', for example "5m". The environment variable counterpart ("FLARESOLVERR_SESSION_REFRESH_MS") takes a plain number of milliseconds.`)
		socksProxyAddrApibay       = flag.String("socksProxyAddrApibay", "", "SOCKS5 proxy address for accessing the TPB API, required for accessing it via the TOR network (where \"127.0.0.1:9050\" would be a typical value)")
		envPrefix                  = flag.String("envPrefix", "", "Prefix for environment variables")
	)

	flag.Parse()

	if *envPrefix != "" && !strings.HasSuffix(*envPrefix, "_") {
		*envPrefix += "_"
	}
	result.EnvPrefix = *envPrefix

	// Only overwrite the values by their env var counterparts that have not been set (and that *are* set via env var).
	var err error
	if !isArgSet("bindAddr") {
		if val, ok := os.LookupEnv(*envPrefix + "BIND_ADDR"); ok {
			*bindAddr = val
		}
	}
	result.BindAddr = *bindAddr

	if !isArgSet("port") {
		if val, ok := os.LookupEnv(*envPrefix + "PORT"); ok {
			if *port, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "PORT"))
			}
		}
	}
	result.Port = *port

	if !isArgSet("logLevel") {
		if val, ok := os.LookupEnv(*envPrefix + "LOG_LEVEL"); ok {
			*logLevel = val
		}
	}
	result.LogLevel = *logLevel

	if !isArgSet("logEncoding") {
		if val, ok := os.LookupEnv(*envPrefix + "LOG_ENCODING"); ok {
			*logEncoding = val
		}
	}
	result.LogEncoding = *logEncoding

	if !isArgSet("logFoundTorrents") {
		if val, ok := os.LookupEnv(*envPrefix + "LOG_FOUND_TORRENTS"); ok {
			if *logFoundTorrents, err = strconv.ParseBool(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to bool", zap.Error(err), zap.String("envVar", "LOG_FOUND_TORRENTS"))
			}
		}
	}
	result.LogFoundTorrents = *logFoundTorrents

	if !isArgSet("redisURL") {
		if val, ok := os.LookupEnv(*envPrefix + "REDIS_URL"); ok {
			*redisURL = val
		}
	}
	result.RedisURL = *redisURL

	if !isArgSet("redisTTLhours") {
		if val, ok := os.LookupEnv(*envPrefix + "REDIS_TTL_HOURS"); ok {
			if *redisTTLhours, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "REDIS_TTL_HOURS"))
			}
		}
	}
	result.RedisTTLhours = *redisTTLhours

	if !isArgSet("maxRequestWait") {
		if val, ok := os.LookupEnv(*envPrefix + "MAX_REQUEST_WAIT_SECONDS"); ok {
			seconds := 0
			if seconds, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "MAX_REQUEST_WAIT_SECONDS"))
			}
			*maxRequestWait = time.Duration(seconds) * time.Second
		}
	}
	result.MaxRequestWait = *maxRequestWait

	if !isArgSet("storagePath") {
		if val, ok := os.LookupEnv(*envPrefix + "STORAGE_PATH"); ok {
			*storagePath = val
		}
	}
	result.StoragePath = *storagePath

	if !isArgSet("datasetPath") {
		if val, ok := os.LookupEnv(*envPrefix + "DATASET_PATH"); ok {
			*datasetPath = val
		}
	}
	result.DatasetPath = *datasetPath

	if !isArgSet("datasetURL") {
		if val, ok := os.LookupEnv(*envPrefix + "DATASET_URL"); ok {
			*datasetURL = val
		}
	}
	result.DatasetURL = *datasetURL

	if !isArgSet("webConfigurePath") {
		if val, ok := os.LookupEnv(*envPrefix + "WEB_CONFIGURE_PATH"); ok {
			*webConfigurePath = val
		}
	}
	result.WebConfigurePath = *webConfigurePath

	if !isArgSet("ytsURL") {
		if val, ok := os.LookupEnv(*envPrefix + "YTS_URL"); ok {
			*ytsURL = val
		}
	}
	result.BaseURLsYTS = splitURLs(*ytsURL)

	if !isArgSet("eztvURL") {
		if val, ok := os.LookupEnv(*envPrefix + "EZTV_URL"); ok {
			*eztvURL = val
		}
	}
	result.BaseURLsEZTV = splitURLs(*eztvURL)

	if !isArgSet("tgxURL") {
		if val, ok := os.LookupEnv(*envPrefix + "TGX_URL"); ok {
			*tgxURL = val
		}
	}
	result.BaseURLsTGX = splitURLs(*tgxURL)

	if !isArgSet("apibayURL") {
		if val, ok := os.LookupEnv(*envPrefix + "APIBAY_URL"); ok {
			*apibayURL = val
		}
	}
	result.BaseURLsApibay = splitURLs(*apibayURL)

	if !isArgSet("x1337xURL") {
		if val, ok := os.LookupEnv(*envPrefix + "X1337X_URL"); ok {
			*x1337xURL = val
		}
	}
	result.BaseURLs1337x = splitURLs(*x1337xURL)

	if !isArgSet("tgxDetailLimit") {
		if val, ok := os.LookupEnv(*envPrefix + "TGX_DETAIL_LIMIT"); ok {
			if *tgxDetailLimit, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "TGX_DETAIL_LIMIT"))
			}
		}
	}
	result.TGXdetailLimit = *tgxDetailLimit

	if !isArgSet("flaresolverrURL") {
		if val, ok := os.LookupEnv(*envPrefix + "FLARESOLVERR_URL"); ok {
			*flaresolverrURL = val
		}
	}
	result.FlareSolverrURL = *flaresolverrURL

	if !isArgSet("flaresolverrSessions") {
		if val, ok := os.LookupEnv(*envPrefix + "FLARESOLVERR_SESSIONS"); ok {
			if *flaresolverrSessions, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "FLARESOLVERR_SESSIONS"))
			}
		}
	}
	result.FlareSolverrSessions = *flaresolverrSessions

	if !isArgSet("flaresolverrSessionRefresh") {
		if val, ok := os.LookupEnv(*envPrefix + "FLARESOLVERR_SESSION_REFRESH_MS"); ok {
			ms := 0
			if ms, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "FLARESOLVERR_SESSION_REFRESH_MS"))
			}
			*flaresolverrSessionRefresh = time.Duration(ms) * time.Millisecond
		}
	}
	result.FlareSolverrSessionRefresh = *flaresolverrSessionRefresh

	if !isArgSet("socksProxyAddrApibay") {
		if val, ok := os.LookupEnv(*envPrefix + "SOCKS_PROXY_ADDR_APIBAY"); ok {
			*socksProxyAddrApibay = val
		}
	}
	result.SocksProxyAddrApibay = *socksProxyAddrApibay

	return result
}

func (c *config) validate(logger *zap.Logger) {
	if c.LogEncoding != "console" && c.LogEncoding != "json" {
		logger.Fatal(`logEncoding must be one of "console" or "json"`, zap.String("logEncoding", c.LogEncoding))
	}

	if c.RedisTTLhours < 1 {
		logger.Fatal("redisTTLhours must be at least 1", zap.Int("redisTTLhours", c.RedisTTLhours))
	}

	if c.MaxRequestWait < 0 {
		logger.Fatal("maxRequestWait must not be negative", zap.Duration("maxRequestWait", c.MaxRequestWait))
	}

	if c.FlareSolverrSessions < 1 {
		logger.Fatal("flaresolverrSessions must be at least 1", zap.Int("flaresolverrSessions", c.FlareSolverrSessions))
	}

	if c.StoragePath != "" {
		c.StoragePath = filepath.Clean(c.StoragePath)
	}
	// If the dir doesn't exist, BadgerDB creates it when writing its DB files.

	if c.DatasetPath != "" {
		c.DatasetPath = filepath.Clean(c.DatasetPath)
	}

	if c.WebConfigurePath != "" {
		c.WebConfigurePath = filepath.Clean(c.WebConfigurePath)
	}
}

// splitURLs splits a comma-separated list of base URLs, dropping empty
// entries and trailing slashes. An empty list disables the site's client.
func splitURLs(urls string) []string {
	var result []string
	for _, u := range strings.Split(urls, ",") {
		u = strings.TrimSpace(u)
		u = strings.TrimSuffix(u, "/")
		if u != "" {
			result = append(result, u)
		}
	}
	return result
}

// isArgSet returns true if the argument you're looking for is actually set as command line argument.
// Pass without "-" prefix.
func isArgSet(arg string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == arg {
			found = true
		}
	})
	return found
}
