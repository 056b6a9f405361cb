// Package download streams authenticated product downloads to disk.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/earthfocus/maap-client/internal/granule"
)

// Error reports one failed download.
type Error struct {
	URL    string
	Status int // 0 when the failure happened before a response
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Progress is called during a transfer with bytes downloaded and the
// total size, 0 when the server did not report one.
type Progress func(downloaded, total int64)

// Manager downloads products over an authenticated HTTP client.
type Manager struct {
	client  *http.Client
	dataDir string
	mission string
	log     *slog.Logger
}

// New returns a Manager writing under dataDir. client must already
// attach authentication.
func New(client *http.Client, dataDir, mission string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{client: client, dataDir: dataDir, mission: mission, log: log}
}

// DownloadFile streams one URL to outputPath. With an empty outputPath
// the URL's filename lands directly in the data directory.
func (m *Manager) DownloadFile(ctx context.Context, rawURL, outputPath string, progress Progress) (string, error) {
	if outputPath == "" {
		outputPath = filepath.Join(m.dataDir, urlFilename(rawURL))
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", &Error{URL: rawURL, Err: err}
	}

	m.log.Info("downloading", "url", rawURL)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &Error{URL: rawURL, Err: err}
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", &Error{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &Error{URL: rawURL, Status: resp.StatusCode,
			Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	written, err := writeStream(outputPath, resp.Body, resp.ContentLength, progress)
	if err != nil {
		os.Remove(outputPath)
		return "", &Error{URL: rawURL, Err: err}
	}

	elapsed := time.Since(start)
	if elapsed > 0 && written > 0 {
		mb := float64(written) / (1 << 20)
		m.log.Info("download complete", "path", outputPath,
			"size_mb", fmt.Sprintf("%.1f", mb),
			"rate_mbps", fmt.Sprintf("%.1f", mb/elapsed.Seconds()))
	} else {
		m.log.Info("download complete", "path", outputPath)
	}
	return outputPath, nil
}

func writeStream(path string, body io.Reader, total int64, progress Progress) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var written int64
	buf := make([]byte, 1<<20)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			if progress != nil {
				progress(written, max(total, 0))
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// BatchOptions controls a batch download.
type BatchOptions struct {
	Collection  string
	ProductType string
	Baseline    string
	// SkipExisting leaves already-downloaded files alone. OnDownload
	// still fires for them so state tracking stays complete.
	SkipExisting bool
	OnDownload   func(url, localPath string)
	OnError      func(url string, err error)
}

// BatchDownload downloads URLs into the structured data tree, one
// failure never aborting the rest. Returns URL to local path for every
// file present afterwards.
func (m *Manager) BatchDownload(ctx context.Context, urls []string, opts BatchOptions) (map[string]string, error) {
	results := make(map[string]string)

	for i, rawURL := range urls {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		m.log.Info("processing", "n", i+1, "total", len(urls), "url", rawURL)

		filename := urlFilename(rawURL)
		sensing, ok := granule.SensingTime(filename)
		if !ok {
			m.log.Warn("skipping, cannot extract sensing time", "url", rawURL)
			continue
		}
		outputPath := granule.DataPath(m.dataDir, m.mission, opts.Collection,
			opts.ProductType, opts.Baseline, sensing, filename)

		if opts.SkipExisting {
			if _, err := os.Stat(outputPath); err == nil {
				m.log.Info("already exists", "path", outputPath)
				results[rawURL] = outputPath
				if opts.OnDownload != nil {
					opts.OnDownload(rawURL, outputPath)
				}
				continue
			}
		}

		localPath, err := m.DownloadFile(ctx, rawURL, outputPath, nil)
		if err != nil {
			m.log.Error("download failed", "url", rawURL, "error", err)
			if opts.OnError != nil {
				opts.OnError(rawURL, err)
			}
			continue
		}
		results[rawURL] = localPath
		if opts.OnDownload != nil {
			opts.OnDownload(rawURL, localPath)
		}
	}
	return results, nil
}

func urlFilename(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}
