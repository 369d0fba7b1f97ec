package imdb2torrent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var _ MagnetSearcher = (*stubSearcher)(nil)

type stubSearcher struct {
	site    string
	results []Result
	err     error
}

func (s stubSearcher) FindMovie(ctx context.Context, imdbID string) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.results, s.err
}

func (s stubSearcher) FindTVShow(ctx context.Context, imdbID string, season, episode int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.results, s.err
}

func (s stubSearcher) Site() string {
	return s.site
}

func (s stubSearcher) IsSlow() bool {
	return false
}

func TestFindMovie(t *testing.T) {
	siteA := stubSearcher{
		site: "A",
		results: []Result{
			{Title: "Foo 720p", InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Seeders: 10, Site: "A", Sources: []string{"tracker:udp://a"}},
			{Title: "Foo 1080p", InfoHash: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Seeders: 100, Site: "A"},
		},
	}
	siteB := stubSearcher{
		site: "B",
		results: []Result{
			// Same torrent as siteA's first one, with different display fields and an additional tracker
			{Title: "Foo.720p.WEB", InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Seeders: 11, Site: "B", Sources: []string{"tracker:udp://b", "tracker:udp://a"}},
			// Dead magnet, must be dropped
			{Title: "Foo CAM", InfoHash: "cccccccccccccccccccccccccccccccccccccccc", Seeders: 0, Site: "B"},
		},
	}

	client := NewClient([]MagnetSearcher{siteA, siteB}, nil, zap.NewNop())
	results, err := client.FindMovie(context.Background(), "tt0000001")
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Sorted by seeders descending
	require.Equal(t, "Foo 1080p", results[0].Title)
	require.Equal(t, 100, results[0].Seeders)

	// The duplicate kept siteA's display fields (call order precedence),
	// but got siteB's additional tracker merged in.
	require.Equal(t, "Foo 720p", results[1].Title)
	require.Equal(t, "A", results[1].Site)
	require.Equal(t, []string{"tracker:udp://a", "tracker:udp://b"}, results[1].Sources)
}

func TestFindMovieSomeSitesFail(t *testing.T) {
	working := stubSearcher{
		site:    "working",
		results: []Result{{Title: "Foo", InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Seeders: 1}},
	}
	broken := stubSearcher{
		site: "broken",
		err:  errors.New("HTML changed"),
	}

	client := NewClient([]MagnetSearcher{broken, working}, nil, zap.NewNop())
	results, err := client.FindMovie(context.Background(), "tt0000001")
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestFindMovieAllSitesFail(t *testing.T) {
	brokenA := stubSearcher{site: "A", err: errors.New("boom A")}
	brokenB := stubSearcher{site: "B", err: errors.New("boom B")}

	client := NewClient([]MagnetSearcher{brokenA, brokenB}, nil, zap.NewNop())
	_, err := client.FindMovie(context.Background(), "tt0000001")
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom A")
	require.Contains(t, err.Error(), "boom B")
}

func TestFindMovieCancelled(t *testing.T) {
	slow := stubSearcher{site: "slow", results: []Result{{InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Seeders: 1}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := NewClient([]MagnetSearcher{slow}, nil, zap.NewNop())
	results, err := client.FindMovie(ctx, "tt0000001")
	// Cancellation is not an error, it just means no results
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestFindTVShowUsesTVShowSites(t *testing.T) {
	movieOnly := stubSearcher{
		site:    "movieOnly",
		results: []Result{{InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Seeders: 1}},
	}
	tvOnly := stubSearcher{
		site:    "tvOnly",
		results: []Result{{InfoHash: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Seeders: 2}},
	}

	client := NewClient([]MagnetSearcher{movieOnly}, []MagnetSearcher{tvOnly}, zap.NewNop())
	results, err := client.FindTVShow(context.Background(), "tt0000001", 2, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", results[0].InfoHash)
}

func TestMergeResultsStable(t *testing.T) {
	results := mergeResults([]Result{
		{InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Seeders: 5, Site: "first"},
		{InfoHash: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Seeders: 5, Site: "second"},
		{InfoHash: "cccccccccccccccccccccccccccccccccccccccc", Seeders: 9, Site: "third"},
	})
	require.Len(t, results, 3)
	require.Equal(t, "third", results[0].Site)
	// Equal seeder counts keep their insertion order
	require.Equal(t, "first", results[1].Site)
	require.Equal(t, "second", results[2].Site)
}

func TestReplaceURL(t *testing.T) {
	replaced, err := replaceURL("https://1337x.to/torrent/123/foo/", "https://mirror.example.com")
	require.NoError(t, err)
	require.Equal(t, "https://mirror.example.com/torrent/123/foo/", replaced)
}
