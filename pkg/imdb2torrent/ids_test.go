package imdb2torrent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStreamID(t *testing.T) {
	id, err := ParseStreamID("tt10872600")
	require.NoError(t, err)
	require.Equal(t, StreamID{IMDbID: "tt10872600"}, id)
	require.False(t, id.IsTVShow())
	require.Equal(t, "tt10872600", id.String())

	id, err = ParseStreamID("tt5834204:2:3")
	require.NoError(t, err)
	require.Equal(t, StreamID{IMDbID: "tt5834204", Season: 2, Episode: 3}, id)
	require.True(t, id.IsTVShow())
	require.Equal(t, "tt5834204:2:3", id.String())
}

func TestParseStreamIDErrors(t *testing.T) {
	for _, id := range []string{
		"",
		"123",
		"tt",
		"ttabc",
		"TT123",
		"tt123x",
		"tt123:1",
		"tt123:1:2:3",
		"tt123:0:1",
		"tt123:1:0",
		"tt123:1:-2",
		"tt123:01:2",
		"tt123:1:+2",
		"tt123:one:two",
	} {
		_, err := ParseStreamID(id)
		require.Error(t, err, "id: %q", id)
		require.True(t, errors.Is(err, ErrInvalidStreamID), "id: %q", id)
	}
}
