package imdbtitles

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	gocache "github.com/patrickmn/go-cache"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TitleBasics is one record of IMDb's title.basics dataset. Fields the
// dataset marks as unknown ("\N") are left at their zero value.
type TitleBasics struct {
	Tconst         string
	TitleType      string
	PrimaryTitle   string
	OriginalTitle  string
	IsAdult        bool
	StartYear      int
	EndYear        int
	RuntimeMinutes int
	Genres         []string
}

type IndexOptions struct {
	// Path of the title.basics.tsv file. The file must be sorted by its
	// first column, which is the case for the file IMDb publishes.
	Path string
}

func NewIndexOpts(path string) IndexOptions {
	return IndexOptions{
		Path: path,
	}
}

var DefaultIndexOpts = IndexOptions{
	Path: "./data/title.basics.tsv",
}

// Index looks up IMDb IDs in a local copy of the title.basics dataset.
// Lookups binary search the sorted TSV file via byte offsets, so even the
// multi-gigabyte full dataset costs only a few dozen small reads. Every
// lookup opens its own file handle, which makes concurrent lookups safe
// without any coordination.
type Index struct {
	path   string
	fs     afero.Fs
	memo   *gocache.Cache
	group  singleflight.Group
	logger *zap.Logger
}

func NewIndex(opts IndexOptions, fs afero.Fs, logger *zap.Logger) *Index {
	return &Index{
		path:   opts.Path,
		fs:     fs,
		memo:   gocache.New(gocache.NoExpiration, 0),
		logger: logger,
	}
}

// Lookup returns the record for the given IMDb ID (like "tt1254207"), or nil
// when the dataset doesn't contain it. Results are memoized for the process
// lifetime, misses included. Filesystem problems (most commonly the dataset
// not having been downloaded yet) also lead to nil, but aren't memoized.
func (idx *Index) Lookup(ctx context.Context, tconst string) *TitleBasics {
	if cached, ok := idx.memo.Get(tconst); ok {
		title, _ := cached.(*TitleBasics)
		return title
	}
	// Concurrent lookups for the same ID share one search.
	found, err, _ := idx.group.Do(tconst, func() (interface{}, error) {
		title, err := idx.search(ctx, tconst)
		if err != nil {
			return nil, err
		}
		idx.memo.Set(tconst, title, gocache.NoExpiration)
		return title, nil
	})
	if err != nil {
		idx.logger.Debug("Couldn't look up title in the IMDb dataset", zap.Error(err), zap.String("tconst", tconst))
		return nil
	}
	title, _ := found.(*TitleBasics)
	return title
}

func (idx *Index) search(ctx context.Context, tconst string) (*TitleBasics, error) {
	file, err := idx.fs.Open(idx.path)
	if err != nil {
		return nil, fmt.Errorf("Couldn't open dataset file: %v", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("Couldn't stat dataset file: %v", err)
	}
	size := info.Size()

	// The data region starts after the header line.
	_, headerEnd, err := readLineAt(file, 0, size)
	if err != nil {
		return nil, err
	}
	dataStart := headerEnd + 1

	low, high := dataStart, size-1
	for low <= high {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mid := low + (high-low)/2
		lineStart, err := lineStartBefore(file, mid, dataStart)
		if err != nil {
			return nil, err
		}
		line, lineEnd, err := readLineAt(file, lineStart, size)
		if err != nil {
			return nil, err
		}
		key := line
		if i := strings.IndexByte(line, '\t'); i >= 0 {
			key = line[:i]
		}
		switch {
		case key == tconst:
			return parseTitleLine(line)
		case key < tconst:
			low = lineEnd + 1
		default:
			high = lineStart - 1
		}
	}
	return nil, nil
}

const lineScanChunkSize = 512

// lineStartBefore returns the start offset of the line that the byte at
// "from" belongs to, by scanning backwards for the preceding newline.
// Offsets that would end up before the data region clamp to its start, so
// the header line is never part of the search.
func lineStartBefore(file afero.File, from, dataStart int64) (int64, error) {
	buf := make([]byte, lineScanChunkSize)
	for from > dataStart {
		chunkStart := from - lineScanChunkSize
		if chunkStart < dataStart {
			chunkStart = dataStart
		}
		chunk := buf[:from-chunkStart]
		if _, err := file.ReadAt(chunk, chunkStart); err != nil {
			return 0, fmt.Errorf("Couldn't read dataset file at offset %v: %v", chunkStart, err)
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			return chunkStart + int64(i) + 1, nil
		}
		from = chunkStart
	}
	return dataStart, nil
}

// readLineAt reads the line starting at the given offset, without its
// newline. The returned end offset is the one of the newline itself, or the
// file size when the last line has no trailing newline.
func readLineAt(file afero.File, lineStart, size int64) (string, int64, error) {
	var line []byte
	buf := make([]byte, lineScanChunkSize)
	for pos := lineStart; pos < size; {
		chunkLen := int64(len(buf))
		if pos+chunkLen > size {
			chunkLen = size - pos
		}
		chunk := buf[:chunkLen]
		if _, err := file.ReadAt(chunk, pos); err != nil {
			return "", 0, fmt.Errorf("Couldn't read dataset file at offset %v: %v", pos, err)
		}
		if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
			line = append(line, chunk[:i]...)
			return string(line), pos + int64(i), nil
		}
		line = append(line, chunk...)
		pos += chunkLen
	}
	return string(line), size, nil
}

func parseTitleLine(line string) (*TitleBasics, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 9 {
		return nil, fmt.Errorf("dataset line only has %v of 9 columns", len(fields))
	}
	title := &TitleBasics{
		Tconst:         fields[0],
		TitleType:      nullableString(fields[1]),
		PrimaryTitle:   nullableString(fields[2]),
		OriginalTitle:  nullableString(fields[3]),
		IsAdult:        fields[4] == "1",
		StartYear:      nullableInt(fields[5]),
		EndYear:        nullableInt(fields[6]),
		RuntimeMinutes: nullableInt(fields[7]),
	}
	if genres := nullableString(fields[8]); genres != "" {
		title.Genres = strings.Split(genres, ",")
	}
	return title, nil
}

func nullableString(field string) string {
	if field == `\N` {
		return ""
	}
	return field
}

func nullableInt(field string) int {
	if field == `\N` {
		return 0
	}
	value, err := strconv.Atoi(field)
	if err != nil {
		return 0
	}
	return value
}
