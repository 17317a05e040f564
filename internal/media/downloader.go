// Package media downloads remote video files into the local cache.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pixverse/internal/domain"
)

const defaultTimeout = 60 * time.Second

// Downloader streams HTTP resources to disk. Writes go through a temp
// file and rename so a partial download never replaces a cached copy.
type Downloader struct {
	client *http.Client
	logger zerolog.Logger
}

// NewDownloader builds a Downloader. A nil client gets a default with a
// generous timeout suitable for video payloads.
func NewDownloader(client *http.Client, logger zerolog.Logger) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Downloader{client: client, logger: logger}
}

// Download fetches url into destDir under fileName and returns the local
// path. An empty fileName derives a unique name from the URL.
func (d *Downloader) Download(ctx context.Context, url, destDir, fileName string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", &domain.InvalidInputError{Field: "url", Reason: "must not be empty"}
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", &domain.StorageError{Op: "media.mkdir", Err: err}
	}
	if fileName == "" {
		fileName = uniqueName(url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &domain.InvalidInputError{Field: "url", Reason: err.Error()}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", &domain.TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &domain.TransportError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("media: download %s: unexpected status %d", url, resp.StatusCode),
		}
	}

	dest := filepath.Join(destDir, fileName)
	tmp, err := os.CreateTemp(destDir, "download-*")
	if err != nil {
		return "", &domain.StorageError{Op: "media.tempfile", Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", &domain.StorageError{Op: "media.write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &domain.StorageError{Op: "media.write", Err: err}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", &domain.StorageError{Op: "media.rename", Err: err}
	}

	d.logger.Debug().Str("url", url).Str("path", dest).Msg("media downloaded")
	return dest, nil
}

// uniqueName derives a collision-free file name, keeping the URL's
// extension when it has one.
func uniqueName(url string) string {
	ext := filepath.Ext(url)
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	if ext == "" || len(ext) > 5 {
		ext = ".mp4"
	}
	return uuid.NewString() + ext
}
