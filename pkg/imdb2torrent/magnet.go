package imdb2torrent

import (
	"encoding/base32"
	"encoding/hex"
	"net/url"
	"strings"
)

const btihPrefix = "urn:btih:"

var base32InfoHashEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Magnet is the decoded form of a magnet URI.
type Magnet struct {
	// InfoHash is exactly 40 lowercase hex characters.
	InfoHash string
	// Sources are the tracker URLs, each prefixed with "tracker:",
	// deduplicated in first-seen order.
	Sources []string
}

// ParseMagnet decodes a magnet URI.
// The first "xt" value with an "urn:btih:" prefix (case-insensitive) decides
// the info hash: either 40 hex characters (lowercased as-is) or 32 base32
// characters (RFC 4648 alphabet, no padding) that decode to 20 bytes. Any
// other form fails. Tracker ("tr") values are collected into Sources.
func ParseMagnet(uri string) (Magnet, bool) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "magnet" {
		return Magnet{}, false
	}
	params, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return Magnet{}, false
	}

	var infoHash string
	for _, xt := range params["xt"] {
		if len(xt) < len(btihPrefix) || !strings.EqualFold(xt[:len(btihPrefix)], btihPrefix) {
			continue
		}
		infoHash = normalizeInfoHash(xt[len(btihPrefix):])
		break
	}
	if infoHash == "" {
		return Magnet{}, false
	}

	seen := map[string]struct{}{}
	var sources []string
	for _, tracker := range params["tr"] {
		if tracker == "" {
			continue
		}
		if !strings.HasPrefix(tracker, "tracker:") {
			tracker = "tracker:" + tracker
		}
		if _, ok := seen[tracker]; ok {
			continue
		}
		seen[tracker] = struct{}{}
		sources = append(sources, tracker)
	}

	return Magnet{
		InfoHash: infoHash,
		Sources:  sources,
	}, true
}

// normalizeInfoHash renders a raw btih value as 40 lowercase hex characters,
// decoding the base32 form if necessary. Returns "" for anything else.
func normalizeInfoHash(raw string) string {
	if len(raw) == 40 {
		if _, err := hex.DecodeString(raw); err != nil {
			return ""
		}
		return strings.ToLower(raw)
	}
	if len(raw) == 32 {
		decoded, err := base32InfoHashEncoding.DecodeString(strings.ToUpper(raw))
		if err != nil || len(decoded) != 20 {
			return ""
		}
		return hex.EncodeToString(decoded)
	}
	return ""
}

// trackerSources renders a tracker list as "tracker:"-prefixed source tags,
// deduplicated in first-seen order.
func trackerSources(trackers []string) []string {
	seen := map[string]struct{}{}
	sources := make([]string, 0, len(trackers))
	for _, tracker := range trackers {
		source := "tracker:" + tracker
		if _, ok := seen[source]; ok {
			continue
		}
		seen[source] = struct{}{}
		sources = append(sources, source)
	}
	return sources
}

// createMagnetURL builds a magnet URI from an info hash, a display name and
// a tracker list.
func createMagnetURL(infoHash, name string, trackers []string) string {
	magnet := "magnet:?xt=urn:btih:" + infoHash + "&dn=" + url.QueryEscape(name)
	for _, tracker := range trackers {
		magnet += "&tr=" + url.QueryEscape(tracker)
	}
	return magnet
}
