package imdb2torrent

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/barestreams/barestreams/pkg/flaresolverr"
)

// browserUserAgent is sent with every plain request. Some of the torrent
// sites block the Go default User-Agent outright.
const browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"

type FetcherOptions struct {
	Timeout time.Duration
	// SessionsPerSite is the number of bypass sessions that are created for
	// a site once it turns out to block plain requests.
	SessionsPerSite int
	// SessionRefresh is the interval in which bypass sessions are re-warmed.
	SessionRefresh time.Duration
}

func NewFetcherOpts(timeout time.Duration, sessionsPerSite int, sessionRefresh time.Duration) FetcherOptions {
	return FetcherOptions{
		Timeout:         timeout,
		SessionsPerSite: sessionsPerSite,
		SessionRefresh:  sessionRefresh,
	}
}

var DefaultFetcherOpts = FetcherOptions{
	Timeout:         30 * time.Second,
	SessionsPerSite: 3,
	SessionRefresh:  5 * time.Minute,
}

// Fetcher does the HTTP work for all torrent site clients. It GETs with a
// browser-like User-Agent and transparently reroutes a site's requests
// through a FlareSolverr service once the site starts answering plain
// requests with 401 or 403. The switch is one-way: a site that blocked us
// once stays in bypass mode for the rest of the process lifetime.
type Fetcher struct {
	httpClient      *http.Client
	solverr         *flaresolverr.Client
	sessionsPerSite int
	refreshInterval time.Duration
	pools           map[string]*sessionPool
	poolsLock       sync.Mutex
	sessionGroup    singleflight.Group
	logger          *zap.Logger
}

// NewFetcher creates a new fetcher. solverr may be nil, in that case blocked
// sites just keep failing (which the site clients absorb).
func NewFetcher(opts FetcherOptions, solverr *flaresolverr.Client, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		solverr:         solverr,
		sessionsPerSite: opts.SessionsPerSite,
		refreshInterval: opts.SessionRefresh,
		pools:           map[string]*sessionPool{},
		logger:          logger,
	}
}

// sessionPool tracks the bypass state for one site.
type sessionPool struct {
	site       string
	warmupURL  string
	httpClient *http.Client
	sessions   []string
	cursor     int
	bypass     bool
	lock       sync.Mutex
}

func (p *sessionPool) bypassing() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.bypass
}

func (p *sessionPool) promote() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.bypass = true
}

func (p *sessionPool) nextSession() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	if len(p.sessions) == 0 {
		return ""
	}
	session := p.sessions[p.cursor%len(p.sessions)]
	p.cursor++
	return session
}

func (p *sessionPool) sessionCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.sessions)
}

func (p *sessionPool) setSessions(sessions []string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.sessions = sessions
}

func (p *sessionPool) sessionSnapshot() []string {
	p.lock.Lock()
	defer p.lock.Unlock()
	snapshot := make([]string, len(p.sessions))
	copy(snapshot, p.sessions)
	return snapshot
}

func (p *sessionPool) removeSession(session string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for i, s := range p.sessions {
		if s == session {
			p.sessions = append(p.sessions[:i], p.sessions[i+1:]...)
			return
		}
	}
}

// RegisterSite configures a site's warmup URL (usually the front page, used
// for probing and for having FlareSolverr collect clearance cookies) and an
// optional HTTP client that overrides the shared one for this site's plain
// requests (for example one that goes through a SOCKS5 proxy).
func (f *Fetcher) RegisterSite(site, warmupURL string, httpClient *http.Client) {
	pool := f.getOrCreatePool(site)
	pool.lock.Lock()
	defer pool.lock.Unlock()
	pool.warmupURL = warmupURL
	pool.httpClient = httpClient
}

// ProbeSite checks whether a site blocks plain requests by fetching its
// warmup URL once, and switches the site to bypass mode right away when it
// does, so the first user request doesn't pay for the detection.
// Meant to be called once per site at startup, typically in a goroutine.
func (f *Fetcher) ProbeSite(ctx context.Context, site string) {
	pool := f.getOrCreatePool(site)
	if pool.warmupURL == "" || pool.bypassing() {
		return
	}
	zapFieldTorrentSite := zap.String("torrentSite", site)
	_, status, err := f.plainGet(ctx, pool, pool.warmupURL)
	if err != nil {
		f.logger.Warn("Couldn't probe site", zap.Error(err), zapFieldTorrentSite)
		return
	}
	if status != http.StatusUnauthorized && status != http.StatusForbidden {
		f.logger.Debug("Probed site, plain requests work", zap.Int("status", status), zapFieldTorrentSite)
		return
	}
	if f.solverr == nil {
		f.logger.Warn("Site blocks plain requests, but no bypass service is configured", zap.Int("status", status), zapFieldTorrentSite)
		return
	}
	f.logger.Info("Site blocks plain requests, switching to bypass mode", zap.Int("status", status), zapFieldTorrentSite)
	pool.promote()
	if err := f.ensureSessions(ctx, pool); err != nil {
		f.logger.Warn("Couldn't create bypass sessions", zap.Error(err), zapFieldTorrentSite)
	}
}

// FetchText GETs the URL on behalf of the given site and returns the
// response body. Routing: when the site's pool is in bypass mode the request
// goes through FlareSolverr with a round-robin session. Otherwise a plain
// request is tried first, and a 401 or 403 response flips the pool to bypass
// mode and retries once through FlareSolverr.
func (f *Fetcher) FetchText(ctx context.Context, site, url string) (string, error) {
	pool := f.getOrCreatePool(site)
	if pool.bypassing() {
		return f.bypassGet(ctx, pool, url)
	}
	body, status, err := f.plainGet(ctx, pool, url)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if f.solverr == nil {
			return "", fmt.Errorf("Bad GET response: %v (and no bypass service is configured)", status)
		}
		f.logger.Info("Site blocks plain requests, switching to bypass mode", zap.Int("status", status), zap.String("torrentSite", site))
		pool.promote()
		return f.bypassGet(ctx, pool, url)
	}
	if status < 200 || status > 299 {
		return "", fmt.Errorf("Bad GET response: %v", status)
	}
	return body, nil
}

// FetchJSON is FetchText plus JSON extraction: it accepts both a raw JSON
// body and a JSON payload wrapped in an HTML "<pre>" element, which is how
// JSON endpoints come back when fetched through a headless browser.
func (f *Fetcher) FetchJSON(ctx context.Context, site, url string) ([]byte, error) {
	body, err := f.FetchText(ctx, site, url)
	if err != nil {
		return nil, err
	}
	return extractJSON(body)
}

func (f *Fetcher) getOrCreatePool(site string) *sessionPool {
	f.poolsLock.Lock()
	defer f.poolsLock.Unlock()
	pool, ok := f.pools[site]
	if !ok {
		pool = &sessionPool{site: site}
		f.pools[site] = pool
	}
	return pool
}

func (f *Fetcher) plainGet(ctx context.Context, pool *sessionPool, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("Couldn't create request object: %v", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	httpClient := f.httpClient
	if pool.httpClient != nil {
		httpClient = pool.httpClient
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("Couldn't GET %v: %v", url, err)
	}
	defer res.Body.Close()
	body, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return "", res.StatusCode, fmt.Errorf("Couldn't read response body: %v", err)
	}
	return string(body), res.StatusCode, nil
}

func (f *Fetcher) bypassGet(ctx context.Context, pool *sessionPool, url string) (string, error) {
	if f.solverr == nil {
		return "", errors.New("Site requires bypassing, but no bypass service is configured")
	}
	if err := f.ensureSessions(ctx, pool); err != nil {
		return "", fmt.Errorf("Couldn't create bypass sessions: %v", err)
	}
	return f.solverr.Get(ctx, url, pool.nextSession())
}

// ensureSessions creates and warms the pool's sessions if it has none yet.
// Concurrent callers for the same site are collapsed into one creation run.
func (f *Fetcher) ensureSessions(ctx context.Context, pool *sessionPool) error {
	if pool.sessionCount() > 0 {
		return nil
	}
	_, err, _ := f.sessionGroup.Do(pool.site, func() (interface{}, error) {
		if pool.sessionCount() > 0 {
			return nil, nil
		}
		zapFieldTorrentSite := zap.String("torrentSite", pool.site)
		var sessions []string
		for i := 0; i < f.sessionsPerSite; i++ {
			session := "barestreams-" + pool.site + "-" + strconv.Itoa(i)
			if err := f.solverr.CreateSession(ctx, session); err != nil {
				f.logger.Warn("Couldn't create bypass session", zap.Error(err), zap.String("session", session), zapFieldTorrentSite)
				continue
			}
			// Warm up the session so it carries the site's clearance cookies
			if pool.warmupURL != "" {
				if _, err := f.solverr.Get(ctx, pool.warmupURL, session); err != nil {
					f.logger.Warn("Couldn't warm up bypass session", zap.Error(err), zap.String("session", session), zapFieldTorrentSite)
				}
			}
			sessions = append(sessions, session)
		}
		if len(sessions) == 0 {
			return nil, fmt.Errorf("none of %v session creations succeeded", f.sessionsPerSite)
		}
		pool.setSessions(sessions)
		f.logger.Info("Created bypass sessions", zap.Int("sessionCount", len(sessions)), zapFieldTorrentSite)
		return nil, nil
	})
	return err
}

// RefreshSessions re-warms the bypass sessions of all bypass-mode pools in
// the configured interval, so their clearance cookies don't go stale between
// user requests. Sessions that fail their warmup are destroyed and recreated.
// Blocks until the context is done, so it's typically run in a goroutine.
func (f *Fetcher) RefreshSessions(ctx context.Context) {
	if f.solverr == nil || f.refreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(f.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poolsLock.Lock()
			pools := make([]*sessionPool, 0, len(f.pools))
			for _, pool := range f.pools {
				pools = append(pools, pool)
			}
			f.poolsLock.Unlock()
			for _, pool := range pools {
				if pool.bypassing() {
					f.refreshPool(ctx, pool)
				}
			}
		}
	}
}

func (f *Fetcher) refreshPool(ctx context.Context, pool *sessionPool) {
	// Collapsed per site so a slow refresh isn't piled onto by the next tick
	// or by a concurrent session creation.
	f.sessionGroup.Do(pool.site, func() (interface{}, error) {
		if pool.warmupURL == "" {
			return nil, nil
		}
		zapFieldTorrentSite := zap.String("torrentSite", pool.site)
		for _, session := range pool.sessionSnapshot() {
			if _, err := f.solverr.Get(ctx, pool.warmupURL, session); err == nil {
				continue
			}
			f.logger.Info("Bypass session failed its warmup, recreating it", zap.String("session", session), zapFieldTorrentSite)
			if err := f.solverr.DestroySession(ctx, session); err != nil {
				f.logger.Warn("Couldn't destroy stale bypass session", zap.Error(err), zap.String("session", session), zapFieldTorrentSite)
			}
			if err := f.solverr.CreateSession(ctx, session); err != nil {
				f.logger.Warn("Couldn't recreate bypass session", zap.Error(err), zap.String("session", session), zapFieldTorrentSite)
				pool.removeSession(session)
				continue
			}
			if _, err := f.solverr.Get(ctx, pool.warmupURL, session); err != nil {
				f.logger.Warn("Couldn't warm up recreated bypass session", zap.Error(err), zap.String("session", session), zapFieldTorrentSite)
			}
		}
		return nil, nil
	})
}

// extractJSON returns the JSON payload of a response body. The body either
// is JSON itself, or it's an HTML page whose first "<pre>" element contains
// the JSON. The latter happens when a JSON endpoint is fetched through a
// headless browser, which renders the payload into an HTML skeleton.
func extractJSON(body string) ([]byte, error) {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return []byte(trimmed), nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return nil, fmt.Errorf("Couldn't load the HTML in goquery: %v", err)
	}
	pre := strings.TrimSpace(doc.Find("pre").First().Text())
	if strings.HasPrefix(pre, "{") || strings.HasPrefix(pre, "[") {
		return []byte(pre), nil
	}
	return nil, errors.New("response body is neither JSON nor JSON wrapped in an HTML <pre> element")
}
