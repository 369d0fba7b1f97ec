package imdb2torrent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const ytsListMoviesBody = `{
	"status": "ok",
	"data": {
		"movie_count": 1,
		"movies": [
			{
				"id": 10,
				"imdb_code": "tt1254207",
				"title": "Big Buck Bunny",
				"year": 2008,
				"torrents": [
					{
						"hash": "DD8255ECDC7CA55FB0BBF81323D87062DB1F6D1C",
						"quality": "1080p",
						"type": "web",
						"seeds": 296,
						"peers": 12,
						"size": "1.88 GB",
						"size_bytes": 2018632663
					},
					{
						"hash": "not-a-hash",
						"quality": "720p",
						"type": "bluray",
						"seeds": 44,
						"peers": 3,
						"size": "798 MB",
						"size_bytes": 836763648
					}
				]
			},
			{
				"id": 11,
				"imdb_code": "tt0000001",
				"title": "Some Other Movie",
				"torrents": [
					{
						"hash": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
						"quality": "1080p",
						"type": "web",
						"seeds": 1000,
						"size_bytes": 1
					}
				]
			}
		]
	}
}`

func TestYTSfindMovie(t *testing.T) {
	var requestedPath, requestedQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		requestedQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(ytsListMoviesBody))
	}))
	defer srv.Close()

	logger := zap.NewNop()
	fetcher := NewFetcher(DefaultFetcherOpts, nil, logger)
	client := NewYTSclient(NewYTSclientOpts([]string{srv.URL}), fetcher, logger, false)

	results, err := client.FindMovie(context.Background(), "tt1254207")
	require.NoError(t, err)
	require.Equal(t, "/api/v2/list_movies.json", requestedPath)
	require.Equal(t, "query_term=tt1254207&limit=1", requestedQuery)

	// The second torrent has a broken hash, the second movie a different IMDb ID.
	require.Len(t, results, 1)
	result := results[0]
	require.Equal(t, "Big Buck Bunny", result.Title)
	require.Equal(t, "1080p web", result.Quality)
	require.Equal(t, "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c", result.InfoHash)
	require.Empty(t, result.MagnetURL)
	require.Equal(t, 296, result.Seeders)
	require.Equal(t, int64(2018632663), result.Size)
	require.Equal(t, "1.88 GB", result.SizeLabel)
	require.Equal(t, "YTS", result.Site)
	require.Equal(t, "tracker:udp://open.demonii.com:1337/announce", result.Sources[0])
	require.Len(t, result.Sources, len(trackersYTS))
}

func TestYTSfindMovieMirrorFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(ytsListMoviesBody))
	}))
	defer srv.Close()

	logger := zap.NewNop()
	fetcher := NewFetcher(DefaultFetcherOpts, nil, logger)
	// The first mirror refuses connections, the second one works.
	client := NewYTSclient(NewYTSclientOpts([]string{"http://127.0.0.1:1", srv.URL}), fetcher, logger, false)

	results, err := client.FindMovie(context.Background(), "tt1254207")
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestYTSfindMovieNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "ok", "data": {"movie_count": 0, "movies": []}}`))
	}))
	defer srv.Close()

	logger := zap.NewNop()
	fetcher := NewFetcher(DefaultFetcherOpts, nil, logger)
	client := NewYTSclient(NewYTSclientOpts([]string{srv.URL}), fetcher, logger, false)

	results, err := client.FindMovie(context.Background(), "tt1254207")
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestYTSfindTVShow(t *testing.T) {
	logger := zap.NewNop()
	fetcher := NewFetcher(DefaultFetcherOpts, nil, logger)
	client := NewYTSclient(DefaultYTSclientOpts, fetcher, logger, false)

	results, err := client.FindTVShow(context.Background(), "tt0903747", 1, 2)
	require.NoError(t, err)
	require.Nil(t, results)
}
