package imdb2torrent

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidStreamID is wrapped by all errors that ParseStreamID returns.
var ErrInvalidStreamID = errors.New("invalid stream ID")

var imdbIDRegex = regexp.MustCompile(`^tt\d+$`)

// StreamID is the decoded form of a stream request ID.
// Season and Episode are 0 for movie requests and positive for TV show requests.
type StreamID struct {
	IMDbID  string
	Season  int
	Episode int
}

// IsTVShow returns true when the ID carries a season and episode.
func (id StreamID) IsTVShow() bool {
	return id.Season > 0
}

// String restores the exact request shape the ID was parsed from.
func (id StreamID) String() string {
	if !id.IsTVShow() {
		return id.IMDbID
	}
	return id.IMDbID + ":" + strconv.Itoa(id.Season) + ":" + strconv.Itoa(id.Episode)
}

// ParseStreamID decodes a stream request ID.
// Accepted shapes are "tt<digits>" for movies and "tt<digits>:<season>:<episode>"
// for TV shows, where season and episode must be positive integers without
// leading zeros (so that String() restores the input). The "tt" prefix is
// case-sensitive. Everything else fails with an error wrapping ErrInvalidStreamID.
func ParseStreamID(id string) (StreamID, error) {
	parts := strings.Split(id, ":")
	if len(parts) != 1 && len(parts) != 3 {
		return StreamID{}, fmt.Errorf("%w: expected 1 or 3 colon-separated segments, got %v", ErrInvalidStreamID, len(parts))
	}
	if !imdbIDRegex.MatchString(parts[0]) {
		return StreamID{}, fmt.Errorf("%w: base ID %q doesn't match tt<digits>", ErrInvalidStreamID, parts[0])
	}
	result := StreamID{
		IMDbID: parts[0],
	}
	if len(parts) == 1 {
		return result, nil
	}

	season, err := parsePositiveInt(parts[1])
	if err != nil {
		return StreamID{}, fmt.Errorf("%w: season %q: %v", ErrInvalidStreamID, parts[1], err)
	}
	episode, err := parsePositiveInt(parts[2])
	if err != nil {
		return StreamID{}, fmt.Errorf("%w: episode %q: %v", ErrInvalidStreamID, parts[2], err)
	}
	result.Season = season
	result.Episode = episode
	return result, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("not an integer")
	}
	if n < 1 {
		return 0, errors.New("must be positive")
	}
	// Reject "+2", "02" etc. so parsing stays the exact reverse of String()
	if strconv.Itoa(n) != s {
		return 0, errors.New("not in canonical form")
	}
	return n, nil
}
