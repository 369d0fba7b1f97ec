package imdb2torrent

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/barestreams/barestreams/pkg/flaresolverr"
)

func TestFetchTextPlain(t *testing.T) {
	var gotUserAgent atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent.Store(r.Header.Get("User-Agent"))
		w.Write([]byte("hello"))
	}))
	defer ts.Close()

	fetcher := NewFetcher(DefaultFetcherOpts, nil, zap.NewNop())
	body, err := fetcher.FetchText(context.Background(), "testsite", ts.URL)
	require.NoError(t, err)
	require.Equal(t, "hello", body)
	// Some of the sites block Go's default User-Agent
	require.Equal(t, browserUserAgent, gotUserAgent.Load())
}

func TestFetchTextBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	fetcher := NewFetcher(DefaultFetcherOpts, nil, zap.NewNop())
	_, err := fetcher.FetchText(context.Background(), "testsite", ts.URL)
	require.Error(t, err)
}

func TestFetchJSON(t *testing.T) {
	for _, tt := range []struct {
		name string
		body string
		path string
	}{
		{
			name: "raw object",
			body: `{"foo": "bar"}`,
			path: "foo",
		},
		{
			name: "raw array with whitespace",
			body: "\n\t [{\"foo\": \"bar\"}]",
			path: "0.foo",
		},
		{
			name: "wrapped in pre",
			body: `<html><head></head><body><pre>{"foo": "bar"}</pre></body></html>`,
			path: "foo",
		},
		{
			name: "no JSON at all",
			body: `<html><body><h1>502 Bad Gateway</h1></body></html>`,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			fetcher := NewFetcher(DefaultFetcherOpts, nil, zap.NewNop())
			jsonBytes, err := fetcher.FetchJSON(context.Background(), "testsite", ts.URL)
			if tt.path == "" {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "bar", gjson.GetBytes(jsonBytes, tt.path).String())
		})
	}
}

// newFakeSolverr returns an httptest server that behaves like FlareSolverr:
// it acknowledges session commands and answers request.get with the given
// page body. The two counters track sessions.create calls and request.get calls.
// Unknown commands get a 400, which the calling test then reports as a failed fetch.
func newFakeSolverr(pageBody string, createCount, getCount *int32, lastSession *atomic.Value) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := ioutil.ReadAll(r.Body)
		cmd := gjson.GetBytes(body, "cmd").String()
		switch cmd {
		case "sessions.create":
			atomic.AddInt32(createCount, 1)
			w.Write([]byte(`{"status": "ok", "message": "Session created!"}`))
		case "sessions.destroy":
			w.Write([]byte(`{"status": "ok", "message": "Session destroyed."}`))
		case "request.get":
			atomic.AddInt32(getCount, 1)
			if lastSession != nil {
				lastSession.Store(gjson.GetBytes(body, "session").String())
			}
			response := map[string]interface{}{
				"status": "ok",
				"solution": map[string]interface{}{
					"status":   200,
					"response": pageBody,
				},
			}
			responseBytes, _ := json.Marshal(response)
			w.Write(responseBytes)
		default:
			http.Error(w, "unexpected command: "+cmd, http.StatusBadRequest)
		}
	}))
}

func TestFetchTextSwitchesToBypass(t *testing.T) {
	var plainRequests int32
	blockedSite := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&plainRequests, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer blockedSite.Close()

	var createCount, getCount int32
	solverrServer := newFakeSolverr("<html>bypassed</html>", &createCount, &getCount, nil)
	defer solverrServer.Close()
	solverr := flaresolverr.NewClient(flaresolverr.NewClientOpts(solverrServer.URL, time.Second, time.Second), zap.NewNop())

	opts := NewFetcherOpts(time.Second, 2, time.Minute)
	fetcher := NewFetcher(opts, solverr, zap.NewNop())
	fetcher.RegisterSite("testsite", blockedSite.URL, nil)

	body, err := fetcher.FetchText(context.Background(), "testsite", blockedSite.URL+"/some/page")
	require.NoError(t, err)
	require.Equal(t, "<html>bypassed</html>", body)
	require.Equal(t, int32(1), atomic.LoadInt32(&plainRequests))
	require.Equal(t, int32(2), atomic.LoadInt32(&createCount))

	// Now that the pool is in bypass mode, no plain request must be made anymore.
	_, err = fetcher.FetchText(context.Background(), "testsite", blockedSite.URL+"/other/page")
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&plainRequests))
}

func TestFetchTextRoundRobin(t *testing.T) {
	blockedSite := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer blockedSite.Close()

	var createCount, getCount int32
	var lastSession atomic.Value
	solverrServer := newFakeSolverr("<html>bypassed</html>", &createCount, &getCount, &lastSession)
	defer solverrServer.Close()
	solverr := flaresolverr.NewClient(flaresolverr.NewClientOpts(solverrServer.URL, time.Second, time.Second), zap.NewNop())

	opts := NewFetcherOpts(time.Second, 2, time.Minute)
	fetcher := NewFetcher(opts, solverr, zap.NewNop())
	fetcher.RegisterSite("testsite", blockedSite.URL, nil)
	fetcher.ProbeSite(context.Background(), "testsite")

	var sessions []string
	for i := 0; i < 4; i++ {
		_, err := fetcher.FetchText(context.Background(), "testsite", blockedSite.URL+"/page")
		require.NoError(t, err)
		sessions = append(sessions, lastSession.Load().(string))
	}
	require.Equal(t, sessions[0], sessions[2])
	require.Equal(t, sessions[1], sessions[3])
	require.NotEqual(t, sessions[0], sessions[1])
}

func TestProbeSite(t *testing.T) {
	blockedSite := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer blockedSite.Close()
	openSite := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("front page"))
	}))
	defer openSite.Close()

	var createCount, getCount int32
	solverrServer := newFakeSolverr("<html>warmed</html>", &createCount, &getCount, nil)
	defer solverrServer.Close()
	solverr := flaresolverr.NewClient(flaresolverr.NewClientOpts(solverrServer.URL, time.Second, time.Second), zap.NewNop())

	opts := NewFetcherOpts(time.Second, 3, time.Minute)
	fetcher := NewFetcher(opts, solverr, zap.NewNop())
	fetcher.RegisterSite("blocked", blockedSite.URL, nil)
	fetcher.RegisterSite("open", openSite.URL, nil)

	fetcher.ProbeSite(context.Background(), "blocked")
	fetcher.ProbeSite(context.Background(), "open")

	require.True(t, fetcher.getOrCreatePool("blocked").bypassing())
	require.False(t, fetcher.getOrCreatePool("open").bypassing())
	require.Equal(t, int32(3), atomic.LoadInt32(&createCount))
	// Each created session gets one warmup request
	require.Equal(t, int32(3), atomic.LoadInt32(&getCount))
}
