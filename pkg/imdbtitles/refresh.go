package imdbtitles

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type RefresherOptions struct {
	// DatasetURL is the gzipped TSV to download.
	DatasetURL string
	// Path is where the unpacked TSV ends up. Must match the index path.
	Path string
	// MaxAge is how old the local file may get before it's downloaded again.
	MaxAge time.Duration
	// Timeout covers the whole download. The full dataset is several hundred
	// megabytes, so this is much higher than for regular requests.
	Timeout time.Duration
}

func NewRefresherOpts(datasetURL, path string, maxAge, timeout time.Duration) RefresherOptions {
	return RefresherOptions{
		DatasetURL: datasetURL,
		Path:       path,
		MaxAge:     maxAge,
		Timeout:    timeout,
	}
}

var DefaultRefresherOpts = RefresherOptions{
	DatasetURL: "https://datasets.imdbws.com/title.basics.tsv.gz",
	Path:       "./data/title.basics.tsv",
	MaxAge:     24 * time.Hour,
	Timeout:    15 * time.Minute,
}

// Refresher keeps the local copy of the IMDb dataset up to date. IMDb
// republishes the files daily.
type Refresher struct {
	datasetURL string
	path       string
	maxAge     time.Duration
	fs         afero.Fs
	httpClient *http.Client
	logger     *zap.Logger
}

func NewRefresher(opts RefresherOptions, fs afero.Fs, logger *zap.Logger) *Refresher {
	return &Refresher{
		datasetURL: opts.DatasetURL,
		path:       opts.Path,
		maxAge:     opts.MaxAge,
		fs:         fs,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
	}
}

// RefreshIfStale downloads the dataset when the local file is missing or
// older than the configured max age. Lookups keep working on the old file
// while the download runs, because the new file is unpacked to a temporary
// file first and only moved into place when it's complete.
func (r *Refresher) RefreshIfStale(ctx context.Context) error {
	if info, err := r.fs.Stat(r.path); err == nil {
		age := time.Since(info.ModTime())
		if age <= r.maxAge {
			r.logger.Debug("IMDb dataset is fresh, skipping download", zap.Duration("age", age), zap.String("path", r.path))
			return nil
		}
		r.logger.Info("IMDb dataset is stale, downloading a new one", zap.Duration("age", age), zap.String("path", r.path))
	} else {
		r.logger.Info("No local IMDb dataset, downloading it", zap.String("path", r.path))
	}
	return r.Refresh(ctx)
}

// Refresh downloads and unpacks the dataset unconditionally.
func (r *Refresher) Refresh(ctx context.Context) error {
	start := time.Now()

	dir := filepath.Dir(r.path)
	if err := r.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("Couldn't create dataset directory: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", r.datasetURL, nil)
	if err != nil {
		return fmt.Errorf("Couldn't create request object: %v", err)
	}
	res, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Couldn't GET %v: %v", r.datasetURL, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("Bad GET response: %v", res.StatusCode)
	}
	gzipReader, err := gzip.NewReader(res.Body)
	if err != nil {
		return fmt.Errorf("Couldn't create gzip reader: %v", err)
	}
	defer gzipReader.Close()

	// Unpack into the target directory so the final rename stays on one
	// filesystem and is atomic.
	tmpFile, err := afero.TempFile(r.fs, dir, filepath.Base(r.path)+".")
	if err != nil {
		return fmt.Errorf("Couldn't create temporary dataset file: %v", err)
	}
	tmpPath := tmpFile.Name()
	defer r.fs.Remove(tmpPath)
	written, err := io.Copy(tmpFile, gzipReader)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("Couldn't unpack dataset: %v", err)
	}
	if err = tmpFile.Close(); err != nil {
		return fmt.Errorf("Couldn't close temporary dataset file: %v", err)
	}
	if written == 0 {
		return fmt.Errorf("Dataset from %v was empty", r.datasetURL)
	}
	if err = r.fs.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("Couldn't move dataset into place: %v", err)
	}

	r.logger.Info("Downloaded IMDb dataset", zap.Int64("bytes", written), zap.Duration("duration", time.Since(start)), zap.String("path", r.path))
	return nil
}

// Run refreshes the dataset in the given interval until the context is done.
// Typically run in a goroutine. Download failures are logged and retried on
// the next tick, because the process can serve requests with a stale dataset
// or, via the online metadata fallback, with none at all.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RefreshIfStale(ctx); err != nil {
				r.logger.Error("Couldn't refresh IMDb dataset", zap.Error(err))
			}
		}
	}
}
