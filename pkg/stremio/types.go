package stremio

// Manifest describes the capabilities of the addon.
// See https://github.com/Stremio/stremio-addon-sdk/blob/ddaa3b80def8a44e553349734dd02ec9c3fea52c/docs/api/responses/manifest.md
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	Resources []string `json:"resources,omitempty"`

	Types []string `json:"types"`
	// An empty slice is required for serializing to a JSON that Stremio expects
	Catalogs []CatalogItem `json:"catalogs"`

	// Optional
	IDprefixes    []string       `json:"idPrefixes,omitempty"`
	Background    string         `json:"background,omitempty"` // URL
	Logo          string         `json:"logo,omitempty"`       // URL
	ContactEmail  string         `json:"contactEmail,omitempty"`
	BehaviorHints *BehaviorHints `json:"behaviorHints,omitempty"`
}

type BehaviorHints struct {
	// Note: Must include `omitempty`, otherwise it will be included if this struct is used in another one, even if the field of the containing struct is marked as `omitempty`
	Adult bool `json:"adult,omitempty"`
	P2P   bool `json:"p2p,omitempty"`
}

// CatalogItem represents an item in the catalog
type CatalogItem struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`

	// Optional
	Extra []ExtraItem `json:"extra,omitempty"`
}

type ExtraItem struct {
	Name string `json:"name"`

	// Optional
	IsRequired   bool     `json:"isRequired,omitempty"`
	Options      []string `json:"options,omitempty"`
	OptionsLimit int      `json:"optionsLimit,omitempty"`
}

// StreamItem represents a stream for a meta item.
// Exactly one of URL and InfoHash must be set. When InfoHash is set the
// player synthesizes a magnet URI from it and the Sources list.
// See https://github.com/Stremio/stremio-addon-sdk/blob/ddaa3b80def8a44e553349734dd02ec9c3fea52c/docs/api/responses/stream.md
type StreamItem struct {
	// One of the following is required
	URL      string `json:"url,omitempty"` // URL
	InfoHash string `json:"infoHash,omitempty"`

	// Optional
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Title       string   `json:"title,omitempty"`
	FileIndex   uint8    `json:"fileIdx,omitempty"` // Only when using InfoHash
	Sources     []string `json:"sources,omitempty"` // "tracker:<url>" and "dht:<infoHash>" entries

	BehaviorHints *StreamBehaviorHints `json:"behaviorHints,omitempty"`
}

// StreamBehaviorHints carries the optional per-stream player hints.
type StreamBehaviorHints struct {
	CountryWhitelist []string          `json:"countryWhitelist,omitempty"`
	NotWebReady      bool              `json:"notWebReady,omitempty"`
	BingeGroup       string            `json:"bingeGroup,omitempty"`
	ProxyHeaders     map[string]string `json:"proxyHeaders,omitempty"`
	VideoHash        string            `json:"videoHash,omitempty"`
	VideoSize        int64             `json:"videoSize,omitempty"`
	Filename         string            `json:"filename,omitempty"`
}

// StreamResponse is the response body for stream requests.
type StreamResponse struct {
	Streams []StreamItem `json:"streams"`
}
