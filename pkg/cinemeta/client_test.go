package cinemeta

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetMovie(t *testing.T) {
	var lock sync.Mutex
	requests := 0
	var requestedPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lock.Lock()
		requests++
		requestedPath = r.URL.Path
		lock.Unlock()
		w.Write([]byte(`{"meta":{"id":"tt1254207","type":"movie","name":"Big Buck Bunny","year":"2008"}}`))
	}))
	defer ts.Close()

	client := NewClient(NewClientOpts(ts.URL, time.Second, time.Hour), zap.NewNop())
	meta, err := client.GetMovie(context.Background(), "tt1254207")
	require.NoError(t, err)
	require.Equal(t, Meta{Name: "Big Buck Bunny", Type: "movie", Year: 2008}, meta)
	lock.Lock()
	require.Equal(t, "/meta/movie/tt1254207.json", requestedPath)
	lock.Unlock()

	// Second call comes from the cache
	meta, err = client.GetMovie(context.Background(), "tt1254207")
	require.NoError(t, err)
	require.Equal(t, "Big Buck Bunny", meta.Name)
	lock.Lock()
	require.Equal(t, 1, requests)
	lock.Unlock()
}

func TestGetTVShow(t *testing.T) {
	var lock sync.Mutex
	var requestedPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lock.Lock()
		requestedPath = r.URL.Path
		lock.Unlock()
		w.Write([]byte(`{"meta":{"id":"tt5834204","type":"series","name":"The Handmaid's Tale","year":"2017-2022"}}`))
	}))
	defer ts.Close()

	client := NewClient(NewClientOpts(ts.URL, time.Second, time.Hour), zap.NewNop())
	meta, err := client.GetTVShow(context.Background(), "tt5834204")
	require.NoError(t, err)
	require.Equal(t, Meta{Name: "The Handmaid's Tale", Type: "series", Year: 2017}, meta)
	lock.Lock()
	require.Equal(t, "/meta/series/tt5834204.json", requestedPath)
	lock.Unlock()
}

func TestGetMovieNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(NewClientOpts(ts.URL, time.Second, time.Hour), zap.NewNop())
	_, err := client.GetMovie(context.Background(), "tt0000000")
	require.Error(t, err)
}

func TestGetMovieNoName(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta":{}}`))
	}))
	defer ts.Close()

	client := NewClient(NewClientOpts(ts.URL, time.Second, time.Hour), zap.NewNop())
	_, err := client.GetMovie(context.Background(), "tt1254207")
	require.Error(t, err)
}
