// Package fetch downloads catalog indexes and install artifacts over HTTP.
// Index fetches fall back across a source's mirrors in order; file
// downloads are streamed and never leave partial output behind.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	// IndexFileName is the well-known index path suffix served by every
	// repository mirror.
	IndexFileName = "index-v2.json"

	// RepoURLFileName marks a staged index with the mirror it came from.
	RepoURLFileName = "repo_url.txt"

	requestTimeout = 5 * time.Minute
	userAgent      = "store-provider/1.0"
)

// ErrAllMirrorsFailed reports that no mirror of a source produced an index.
var ErrAllMirrorsFailed = errors.New("all mirrors failed")

// Fetcher downloads files for one service. The underlying HTTP client is
// created lazily and owned by the service instance; it is not shared.
type Fetcher struct {
	logger *zap.Logger

	mu     sync.Mutex
	client *retryablehttp.Client
}

// NewFetcher creates a fetcher.
func NewFetcher(logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{logger: logger}
}

func (f *Fetcher) httpClient() *retryablehttp.Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client == nil {
		c := retryablehttp.NewClient()
		c.RetryMax = 2
		c.RetryWaitMin = 200 * time.Millisecond
		c.RetryWaitMax = 2 * time.Second
		c.HTTPClient.Timeout = requestTimeout
		c.Logger = nil
		f.client = c
	}
	return f.client
}

// Close tears down the HTTP session. A subsequent download recreates it.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client != nil {
		f.client.HTTPClient.CloseIdleConnections()
		f.client = nil
	}
}

// DownloadFile streams url into destPath. On any failure, including a
// mid-stream transport error, the partial output file is removed.
func (f *Fetcher) DownloadFile(ctx context.Context, url, destPath string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to download %s: %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := f.copyWithProgress(out, resp.Body, url, resp.ContentLength); err != nil {
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("failed to write %s: %w", destPath, err)
	}

	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to close %s: %w", destPath, err)
	}

	return nil
}

// copyWithProgress streams body into out, logging progress at 10% steps
// when the total size is known. Progress is purely observational.
func (f *Fetcher) copyWithProgress(out io.Writer, body io.Reader, url string, total int64) error {
	buf := make([]byte, 32*1024)
	var written int64
	lastStep := -1

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			written += int64(n)

			if total > 0 {
				step := int(written * 10 / total)
				if step != lastStep {
					lastStep = step
					f.logger.Debug("downloading",
						zap.String("url", url),
						zap.Int("percent", step*10))
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// FetchIndex downloads one source's index, trying each mirror in order and
// returning on the first success. The index and a marker recording the
// winning mirror are staged under stagingDir. If every mirror fails the
// staging directory holds no index file.
func (f *Fetcher) FetchIndex(ctx context.Context, mirrors []string, stagingDir string) error {
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	indexPath := filepath.Join(stagingDir, IndexFileName)

	for _, mirror := range mirrors {
		mirror = strings.TrimSuffix(mirror, "/")
		indexURL := mirror + "/" + IndexFileName

		f.logger.Debug("fetching index", zap.String("url", indexURL))
		if err := f.DownloadFile(ctx, indexURL, indexPath); err != nil {
			f.logger.Warn("mirror failed, trying next",
				zap.String("mirror", mirror),
				zap.Error(err))
			continue
		}

		urlPath := filepath.Join(stagingDir, RepoURLFileName)
		if err := os.WriteFile(urlPath, []byte(mirror), 0644); err != nil {
			os.Remove(indexPath)
			return fmt.Errorf("failed to record mirror URL: %w", err)
		}

		return nil
	}

	return fmt.Errorf("%w (%d tried)", ErrAllMirrorsFailed, len(mirrors))
}
