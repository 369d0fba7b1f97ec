package metafetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/barestreams/barestreams/pkg/cinemeta"
	"github.com/barestreams/barestreams/pkg/imdb2torrent"
	"github.com/barestreams/barestreams/pkg/imdbtitles"
)

const testDatasetPath = "/data/title.basics.tsv"

const testDataset = "tconst\ttitleType\tprimaryTitle\toriginalTitle\tisAdult\tstartYear\tendYear\truntimeMinutes\tgenres\n" +
	"tt1254207\tmovie\tBig Buck Bunny\tBig Buck Bunny\t0\t2008\t\\N\t10\tAnimation,Comedy,Short\n" +
	"tt5834204\ttvSeries\tThe Handmaid's Tale\tThe Handmaid's Tale\t0\t2017\t\\N\t60\tDrama,Sci-Fi"

func newTestIndex(t *testing.T) *imdbtitles.Index {
	fs := afero.NewMemMapFs()
	err := afero.WriteFile(fs, testDatasetPath, []byte(testDataset), 0644)
	require.NoError(t, err)
	return imdbtitles.NewIndex(imdbtitles.NewIndexOpts(testDatasetPath), fs, zap.NewNop())
}

func TestGetMovieSimpleLocal(t *testing.T) {
	client, err := NewClient(newTestIndex(t), nil, zap.NewNop())
	require.NoError(t, err)

	meta, err := client.GetMovieSimple(context.Background(), "tt1254207")
	require.NoError(t, err)
	require.Equal(t, imdb2torrent.Meta{
		ID:            "tt1254207",
		PrimaryTitle:  "Big Buck Bunny",
		OriginalTitle: "Big Buck Bunny",
		TitleType:     "movie",
		StartYear:     2008,
	}, meta)
	require.False(t, meta.IsTVShow())
}

func TestGetTVShowSimpleLocal(t *testing.T) {
	client, err := NewClient(newTestIndex(t), nil, zap.NewNop())
	require.NoError(t, err)

	meta, err := client.GetTVShowSimple(context.Background(), "tt5834204", 2, 3)
	require.NoError(t, err)
	require.Equal(t, "The Handmaid's Tale", meta.PrimaryTitle)
	require.True(t, meta.IsTVShow())
}

func TestGetMovieSimpleFallback(t *testing.T) {
	var lock sync.Mutex
	var requestedPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lock.Lock()
		requestedPath = r.URL.Path
		lock.Unlock()
		w.Write([]byte(`{"meta":{"type":"movie","name":"Fresh Release","year":"2026"}}`))
	}))
	defer ts.Close()

	// The local dataset doesn't know the ID
	cinemetaClient := cinemeta.NewClient(cinemeta.NewClientOpts(ts.URL, time.Second, time.Hour), zap.NewNop())
	client, err := NewClient(newTestIndex(t), cinemetaClient, zap.NewNop())
	require.NoError(t, err)

	meta, err := client.GetMovieSimple(context.Background(), "tt0000000")
	require.NoError(t, err)
	require.Equal(t, imdb2torrent.Meta{
		ID:           "tt0000000",
		PrimaryTitle: "Fresh Release",
		TitleType:    "movie",
		StartYear:    2026,
	}, meta)
	lock.Lock()
	require.Equal(t, "/meta/movie/tt0000000.json", requestedPath)
	lock.Unlock()
}

func TestGetTVShowSimpleFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta":{"type":"series","name":"Counterpart","year":"2017-2019"}}`))
	}))
	defer ts.Close()

	cinemetaClient := cinemeta.NewClient(cinemeta.NewClientOpts(ts.URL, time.Second, time.Hour), zap.NewNop())
	client, err := NewClient(newTestIndex(t), cinemetaClient, zap.NewNop())
	require.NoError(t, err)

	meta, err := client.GetTVShowSimple(context.Background(), "tt5064016", 2, 3)
	require.NoError(t, err)
	require.Equal(t, "Counterpart", meta.PrimaryTitle)
	require.Equal(t, "tvSeries", meta.TitleType)
	require.True(t, meta.IsTVShow())
	require.Equal(t, 2017, meta.StartYear)
}

func TestGetMovieSimpleAllSourcesFail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	cinemetaClient := cinemeta.NewClient(cinemeta.NewClientOpts(ts.URL, time.Second, time.Hour), zap.NewNop())
	client, err := NewClient(newTestIndex(t), cinemetaClient, zap.NewNop())
	require.NoError(t, err)

	_, err = client.GetMovieSimple(context.Background(), "tt0000000")
	require.Error(t, err)
}

func TestNewClientNoSources(t *testing.T) {
	_, err := NewClient(nil, nil, zap.NewNop())
	require.Error(t, err)
}
