package imdb2torrent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractQuality(t *testing.T) {
	for input, want := range map[string]string{
		"The.Handmaid's.Tale.S06E07.1080p.WEB.h264-ETHEL": "1080p",
		"Dune 2021 2160p HDR":                             "2160p",
		"Dune.2021.4K.HDR":                                "2160p",
		"Dune.2021.UHD.BluRay":                            "2160p",
		"Counterpart S02E03 720p WEB":                     "720p",
		"Old.Movie.480p.DVDRip":                           "480p",
		"1080p (web)":                                     "1080p",
		"Some.Release.x264":                               "",
		"1080px wide":                                     "",
		"":                                                "",
	} {
		require.Equal(t, want, ExtractQuality(input), "input: %q", input)
	}
}
