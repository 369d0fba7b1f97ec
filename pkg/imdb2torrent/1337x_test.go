package imdb2torrent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const leetxDetailPage = `<html><body><div class="box-info"><ul class="download-links-dontblock"><li>
	<a class="btn" href="magnet:?xt=urn:btih:3333333333333333333333333333333333333333&dn=Dune.2021&tr=udp%3A%2F%2Ftracker.opentrackr.org%3A1337%2Fannounce">Magnet Download</a>
</li></ul></div></body></html>`

func TestLeetxFindMovie(t *testing.T) {
	searchPage := `<html><body><table class="table-list"><tbody>
		<tr>
			<td class="coll-1 name"><a href="/sub/20/0/" class="icon"><i class="flaticon-hd"></i></a><a href="/torrent/100/Dune-2021-1080p/">Dune 2021 1080p WEB H264-NAISU</a></td>
			<td class="coll-2 seeds">512</td>
			<td class="coll-3 leeches">31</td>
			<td class="coll-4 size mob-user">2.1 GB<span class="seeds">512</span></td>
			<td class="coll-5 user">naisu</td>
		</tr>
		<tr>
			<td class="coll-1 name"><a href="/sub/20/0/" class="icon"><i></i></a><a href="https://mirror.example/torrent/101/Dune-2021-720p/">Dune 2021 720p WEB H264-NAISU</a></td>
			<td class="coll-2 seeds">77</td>
			<td class="coll-3 leeches">5</td>
			<td class="coll-4 size mob-user">990 MB<span class="seeds">77</span></td>
			<td class="coll-5 user">naisu</td>
		</tr>
	</tbody></table></body></html>`

	var searchPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/search/"):
			searchPath = r.URL.Path
			_, _ = w.Write([]byte(searchPage))
		case strings.HasPrefix(r.URL.Path, "/torrent/"):
			_, _ = w.Write([]byte(leetxDetailPage))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	metaGetter := staticMetaGetter{meta: Meta{ID: "tt1160419", PrimaryTitle: "Dune", TitleType: "movie", StartYear: 2021}}
	logger := zap.NewNop()
	fetcher := NewFetcher(DefaultFetcherOpts, nil, logger)
	client := NewLeetxClient(NewLeetxClientOpts([]string{srv.URL}), fetcher, metaGetter, logger, false)

	results, err := client.FindMovie(context.Background(), "tt1160419")
	require.NoError(t, err)
	require.Equal(t, "/search/Dune 2021/1/", searchPath)

	// The second row's absolute link must be fetched via the mirror that
	// served the search, not via its own host
	require.Len(t, results, 2)
	result := results[0]
	require.Equal(t, "Dune 2021 1080p WEB H264-NAISU", result.Title)
	require.Equal(t, "1080p", result.Quality)
	require.Equal(t, "3333333333333333333333333333333333333333", result.InfoHash)
	require.Equal(t, 512, result.Seeders)
	require.Equal(t, 31, result.Leechers)
	// The mobile-only seeder count span must not leak into the size
	require.Equal(t, "2.1 GB", result.SizeLabel)
	require.Equal(t, "1337x", result.Site)
	require.Equal(t, []string{"tracker:udp://tracker.opentrackr.org:1337/announce"}, result.Sources)
	require.Equal(t, "Dune 2021 720p WEB H264-NAISU", results[1].Title)
}

func TestLeetxFindTVShow(t *testing.T) {
	searchPage := `<html><body><table class="table-list"><tbody>
		<tr>
			<td class="coll-1 name"><a href="/torrent/200/s02e03/">Counterpart S02E03 720p WEB H264</a></td>
			<td class="coll-2 seeds">42</td>
			<td class="coll-3 leeches">3</td>
			<td class="coll-4 size">700 MB<span>42</span></td>
		</tr>
		<tr>
			<td class="coll-1 name"><a href="/torrent/201/s02e02/">Counterpart S02E02 720p WEB H264</a></td>
			<td class="coll-2 seeds">99</td>
			<td class="coll-3 leeches">9</td>
			<td class="coll-4 size">700 MB<span>99</span></td>
		</tr>
	</tbody></table></body></html>`

	var pathsLock sync.Mutex
	var detailPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/search/") {
			_, _ = w.Write([]byte(searchPage))
			return
		}
		pathsLock.Lock()
		detailPaths = append(detailPaths, r.URL.Path)
		pathsLock.Unlock()
		_, _ = w.Write([]byte(leetxDetailPage))
	}))
	defer srv.Close()

	metaGetter := staticMetaGetter{meta: Meta{ID: "tt5834204", PrimaryTitle: "Counterpart", TitleType: "tvSeries"}}
	logger := zap.NewNop()
	fetcher := NewFetcher(DefaultFetcherOpts, nil, logger)
	client := NewLeetxClient(NewLeetxClientOpts([]string{srv.URL}), fetcher, metaGetter, logger, false)

	results, err := client.FindTVShow(context.Background(), "tt5834204", 2, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Counterpart S02E03 720p WEB H264", results[0].Title)
	require.Equal(t, 42, results[0].Seeders)

	pathsLock.Lock()
	defer pathsLock.Unlock()
	require.Equal(t, []string{"/torrent/200/s02e03/"}, detailPaths)
}

func TestLeetxFindMovieNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>No results were returned.</p></body></html>`))
	}))
	defer srv.Close()

	metaGetter := staticMetaGetter{meta: Meta{ID: "tt1160419", PrimaryTitle: "Dune", TitleType: "movie", StartYear: 2021}}
	logger := zap.NewNop()
	fetcher := NewFetcher(DefaultFetcherOpts, nil, logger)
	client := NewLeetxClient(NewLeetxClientOpts([]string{srv.URL}), fetcher, metaGetter, logger, false)

	results, err := client.FindMovie(context.Background(), "tt1160419")
	require.NoError(t, err)
	require.Empty(t, results)
}
