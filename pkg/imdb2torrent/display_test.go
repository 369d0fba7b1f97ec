package imdb2torrent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatStream(t *testing.T) {
	name, title, description := FormatStream(FormatInput{
		IMDbTitle:   "The Handmaid's Tale",
		Season:      6,
		Episode:     7,
		TorrentName: "The.Handmaid's.Tale.S06E07.1080p.WEB.h264-ETHEL",
		Site:        "EZTV",
		Seeders:     231,
		SizeLabel:   "1.4 GB",
	})
	require.Equal(t, "EZTV", name)
	require.Equal(t, "Watch 1080p", title)
	require.Equal(t, "The Handmaid's Tale\nSeason 6 Episode 7\n1080p WEB h264-ETHEL (EZTV)\n🌱 231 • 💾 1.4 GB", description)
}

func TestFormatStreamDefaults(t *testing.T) {
	name, title, description := FormatStream(FormatInput{})
	require.Equal(t, "Stream", name)
	require.Equal(t, "Watch 480p", title)
	require.Equal(t, "Unknown release (Unknown)\n🌱 0 • 💾 Unknown size", description)
}

func TestFormatStreamMovie(t *testing.T) {
	// YTS style result: the torrent name is the movie title itself and the
	// quality string carries the rip type.
	name, title, description := FormatStream(FormatInput{
		IMDbTitle:   "Dune",
		TorrentName: "Dune",
		Quality:     "2160p (web)",
		Site:        "YTS",
		Seeders:     120,
		Size:        1073741824,
	})
	require.Equal(t, "YTS", name)
	require.Equal(t, "Watch 4K", title)
	require.Equal(t, "Dune\n2160p (web) (YTS)\n🌱 120 • 💾 1.00 GB", description)
}

func TestFormatStreamQualityFromName(t *testing.T) {
	_, title, _ := FormatStream(FormatInput{
		TorrentName: "Some.Movie.2021.720p.BluRay.x264",
	})
	require.Equal(t, "Watch 720p", title)
}

func TestReleaseSlug(t *testing.T) {
	for _, tt := range []struct {
		torrentName string
		imdbTitle   string
		want        string
	}{
		{
			torrentName: "The.Handmaid's.Tale.S06E07.1080p.WEB.h264-ETHEL",
			imdbTitle:   "The Handmaid's Tale",
			want:        "1080p WEB h264-ETHEL",
		},
		{
			torrentName: "Breaking Bad - S01E01 - 720p HDTV",
			imdbTitle:   "Breaking Bad",
			want:        "720p HDTV",
		},
		{
			// The "1280x720" must survive, only "SxxEyy" style tags are removed
			torrentName: "Show.S01E02.1280x720.mkv",
			imdbTitle:   "Show",
			want:        "1280x720 mkv",
		},
		{
			// Upload dropped the apostrophe without leaving a separator
			torrentName: "The.Handmaids.Tale.S06E07.720p.HDTV",
			imdbTitle:   "The Handmaid's Tale",
			want:        "720p HDTV",
		},
		{
			torrentName: "Dune",
			imdbTitle:   "Dune",
			want:        "",
		},
		{
			torrentName: "",
			imdbTitle:   "Dune",
			want:        "",
		},
	} {
		require.Equal(t, tt.want, releaseSlug(tt.torrentName, tt.imdbTitle), "torrentName: %v", tt.torrentName)
	}
}

func TestSlugify(t *testing.T) {
	require.Equal(t, "torrentgalaxy", Slugify("TorrentGalaxy"))
	require.Equal(t, "1337x", Slugify("1337x"))
	require.Equal(t, "the-pirate-bay", Slugify("The Pirate Bay!"))
	require.Equal(t, "", Slugify("---"))
}
