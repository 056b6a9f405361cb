package client

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/earthfocus/maap-client/internal/catalog"
	"github.com/earthfocus/maap-client/internal/download"
	"github.com/earthfocus/maap-client/internal/granule"
	"github.com/earthfocus/maap-client/internal/search"
)

// SearchOptions parameterizes Search. Orbit search and time-range
// search are mutually exclusive.
type SearchOptions struct {
	Collection  string
	ProductType string
	Baseline    string
	Start       time.Time
	End         time.Time
	Orbit       string
	// UseCatalog narrows the search window to the baseline's known
	// coverage from the built catalog.
	UseCatalog bool
	MaxItems   int
	Format     string
}

// SearchResult is what a search found.
type SearchResult struct {
	URLs           []string
	BaselinesFound []string
	Start          time.Time
	End            time.Time
	TotalCount     int
}

// Search finds product URLs by time range or by orbit.
func (c *Client) Search(ctx context.Context, opts SearchOptions) (*SearchResult, error) {
	if err := validateTimeRange(opts.Start, opts.End, opts.Orbit); err != nil {
		return nil, err
	}

	if opts.Orbit != "" {
		q, err := c.queryables.Load(ctx, opts.Collection, false)
		if err == nil && q != nil && !q.SupportsOrbit() {
			return nil, fmt.Errorf("%w: collection %s does not support orbit search, use a time range",
				ErrInvalidRequest, opts.Collection)
		}
		urls, err := c.searcher.URLsByOrbit(ctx, opts.Collection, opts.ProductType,
			opts.Orbit, opts.Baseline, opts.MaxItems, opts.Format)
		if err != nil {
			return nil, err
		}
		return &SearchResult{
			URLs:           urls,
			BaselinesFound: baselinesFound(urls),
			TotalCount:     len(urls),
		}, nil
	}

	start, end := opts.Start, opts.End
	if opts.UseCatalog && opts.Baseline != "" {
		info, err := c.GetBaselineInfo(ctx, opts.Collection, opts.ProductType, opts.Baseline,
			time.Time{}, time.Time{}, true)
		if err != nil {
			return nil, err
		}
		if dataStart, dataEnd, ok := info.TimeRange(); ok {
			c.log.Info("using cached temporal coverage", "baseline", opts.Baseline)
			if start.IsZero() || dataStart.After(start) {
				start = dataStart
			}
			if end.IsZero() || dataEnd.Before(end) {
				end = dataEnd
			}
		}
	}

	urls, err := c.searcher.URLs(ctx, opts.Collection, opts.ProductType, opts.Baseline,
		start, end, opts.MaxItems, opts.Format)
	if err != nil {
		return nil, err
	}
	return &SearchResult{
		URLs:           urls,
		BaselinesFound: baselinesFound(urls),
		Start:          start,
		End:            end,
		TotalCount:     len(urls),
	}, nil
}

// DownloadOptions parameterizes Download.
type DownloadOptions struct {
	// OutDir downloads into one flat directory instead of the
	// structured data tree.
	OutDir       string
	TrackState   bool
	SkipExisting bool
	DryRun       bool
}

// DownloadResult reports what a download pass did.
type DownloadResult struct {
	Downloaded map[string]string // URL to local path
	Skipped    []string
	Errors     []string
	Elapsed    time.Duration
}

func newDownloadResult() *DownloadResult {
	return &DownloadResult{Downloaded: make(map[string]string)}
}

// Download fetches URLs, grouping them by product and baseline
// extracted from each filename for structured placement. One failed
// group or URL never aborts the rest.
func (c *Client) Download(ctx context.Context, urls []string, collection string, opts DownloadOptions) (*DownloadResult, error) {
	result := newDownloadResult()
	startTime := time.Now()

	if len(urls) == 0 {
		c.log.Info("no URLs to download")
		return result, nil
	}

	if opts.DryRun {
		c.log.Info("dry run", "would_download", len(urls))
		for i, u := range urls {
			if i == 10 {
				c.log.Info(fmt.Sprintf("  ... and %d more", len(urls)-10))
				break
			}
			c.log.Info("  " + u)
		}
		result.Skipped = urls
		return result, nil
	}

	if err := c.cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	dl, err := c.getDownloader(ctx)
	if err != nil {
		return nil, err
	}

	// Flat directory mode.
	if opts.OutDir != "" {
		for _, rawURL := range urls {
			outputPath := pathJoinURL(opts.OutDir, rawURL)
			if opts.SkipExisting && fileExists(outputPath) {
				result.Skipped = append(result.Skipped, rawURL)
				continue
			}
			localPath, err := dl.DownloadFile(ctx, rawURL, outputPath, nil)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rawURL, err))
				continue
			}
			result.Downloaded[rawURL] = localPath
		}
		result.Elapsed = time.Since(startTime)
		return result, nil
	}

	// Structured mode: group by (product, baseline) from the filename.
	type key struct{ product, baseline string }
	groups := make(map[key][]string)
	var order []key
	for _, u := range urls {
		product := granule.Product(u)
		baseline := granule.Baseline(u)
		if product == "" || baseline == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("cannot extract product/baseline from %s", u))
			continue
		}
		k := key{product, baseline}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], u)
	}

	for _, k := range order {
		batch := download.BatchOptions{
			Collection:   collection,
			ProductType:  k.product,
			Baseline:     k.baseline,
			SkipExisting: opts.SkipExisting,
		}
		if opts.TrackState {
			tr, err := c.Tracker(collection, k.product, k.baseline)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s/%s: %v", k.product, k.baseline, err))
				continue
			}
			if _, err := tr.AddURLs(groups[k]); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s/%s: %v", k.product, k.baseline, err))
				continue
			}
			batch.OnDownload = func(url, localPath string) {
				if _, err := tr.MarkDownloaded(url, localPath); err != nil {
					c.log.Error("mark downloaded failed", "url", url, "error", err)
				}
			}
			batch.OnError = func(url string, err error) {
				if merr := tr.MarkError(url, err.Error()); merr != nil {
					c.log.Error("mark error failed", "url", url, "error", merr)
				}
			}
		}
		downloaded, err := dl.BatchDownload(ctx, groups[k], batch)
		for u, p := range downloaded {
			result.Downloaded[u] = p
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s/%s: %v", k.product, k.baseline, err))
		}
	}

	result.Elapsed = time.Since(startTime)
	c.log.Info("download pass finished", "downloaded", len(result.Downloaded), "errors", len(result.Errors))
	return result, nil
}

// DownloadFromRegistry downloads previously registered URLs. State is
// always tracked in this mode.
func (c *Client) DownloadFromRegistry(ctx context.Context, collection, productType, baseline string, start, end time.Time, opts DownloadOptions) (*DownloadResult, error) {
	urls, err := c.LoadFromRegistry(collection, productType, baseline, start, end)
	if err != nil {
		return nil, err
	}
	opts.TrackState = true
	return c.Download(ctx, urls, collection, opts)
}

// Get searches and downloads in one step, without state tracking.
func (c *Client) Get(ctx context.Context, sOpts SearchOptions, dOpts DownloadOptions) (*DownloadResult, error) {
	res, err := c.Search(ctx, sOpts)
	if err != nil {
		return nil, err
	}
	return c.Download(ctx, res.URLs, sOpts.Collection, dOpts)
}

// SyncOptions parameterizes Sync.
type SyncOptions struct {
	Collection  string
	ProductType string
	Baseline    string // all known baselines when empty
	Start       time.Time
	End         time.Time
	MaxItems    int
}

// SyncResult reports one sync pass.
type SyncResult struct {
	Collection     string
	ProductType    string
	Baselines      []string
	URLsFound      int
	URLsDownloaded int
	Errors         []string
}

// Sync discovers, registers, and downloads new products with full state
// tracking. Without a time range the last three days are synced.
func (c *Client) Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	if err := validateTimeRange(opts.Start, opts.End, ""); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	start, end := opts.Start, opts.End
	if start.IsZero() && end.IsZero() {
		start = now.AddDate(0, 0, -3)
		end = now
	} else if !start.IsZero() && end.IsZero() {
		end = now
	}

	var baselines []string
	if opts.Baseline != "" {
		baselines = []string{opts.Baseline}
	} else {
		var err error
		baselines, err = c.ListBaselines(ctx, opts.Collection, opts.ProductType, false, false)
		if err != nil {
			return nil, err
		}
		if len(baselines) == 0 {
			c.log.Warn("no baselines found", "collection", opts.Collection, "product", opts.ProductType)
			return &SyncResult{Collection: opts.Collection, ProductType: opts.ProductType}, nil
		}
	}

	result := &SyncResult{
		Collection:  opts.Collection,
		ProductType: opts.ProductType,
		Baselines:   baselines,
	}

	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = search.DefaultMaxItems
	}

	for _, bl := range baselines {
		c.log.Info("syncing", "collection", opts.Collection, "product", opts.ProductType,
			"baseline", bl, "start", granule.ToZulu(start), "end", granule.ToZulu(end))

		urls, err := c.searcher.URLs(ctx, opts.Collection, opts.ProductType, bl, start, end, maxItems, "")
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", bl, err))
			continue
		}
		result.URLsFound += len(urls)

		tr, err := c.Tracker(opts.Collection, opts.ProductType, bl)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", bl, err))
			continue
		}
		if _, err := tr.AddURLs(urls); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", bl, err))
			continue
		}

		pending, err := tr.PendingDownloads(time.Time{}, time.Time{})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", bl, err))
			continue
		}
		var toDownload []string
		for _, u := range urls {
			if _, ok := pending[u]; ok {
				toDownload = append(toDownload, u)
			}
			if len(toDownload) >= maxItems {
				break
			}
		}
		if len(toDownload) == 0 {
			c.log.Info("no new files to download", "baseline", bl)
			continue
		}
		c.log.Info("downloading pending", "found", len(urls), "pending", len(pending), "downloading", len(toDownload))

		if err := c.cfg.EnsureDirectories(); err != nil {
			return nil, err
		}
		dl, err := c.getDownloader(ctx)
		if err != nil {
			return nil, err
		}
		downloaded, err := dl.BatchDownload(ctx, toDownload, download.BatchOptions{
			Collection:   opts.Collection,
			ProductType:  opts.ProductType,
			Baseline:     bl,
			SkipExisting: true,
			OnDownload: func(url, localPath string) {
				if _, err := tr.MarkDownloaded(url, localPath); err != nil {
					c.log.Error("mark downloaded failed", "url", url, "error", err)
				}
			},
			OnError: func(url string, derr error) {
				if merr := tr.MarkError(url, derr.Error()); merr != nil {
					c.log.Error("mark error failed", "url", url, "error", merr)
				}
			},
		})
		result.URLsDownloaded += len(downloaded)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", bl, err))
		}
	}

	return result, nil
}

// BuildCatalogOptions parameterizes BuildCatalog.
type BuildCatalogOptions struct {
	Collection     string // all configured collections when empty
	ProductType    string
	Baseline       string
	LatestBaseline bool
	Start          time.Time
	End            time.Time
	Force          bool
	OutDir         string
}

// BuildCatalog builds or updates built catalogs, one collection at a
// time. A failing collection is reported and skipped, not fatal.
func (c *Client) BuildCatalog(ctx context.Context, opts BuildCatalogOptions) (map[string]string, error) {
	if err := validateTimeRange(opts.Start, opts.End, ""); err != nil {
		return nil, err
	}

	manager := c.collections
	if opts.OutDir != "" {
		manager = catalog.NewCollectionManager(opts.OutDir)
	}
	builder := &catalog.Builder{
		Manager:    manager,
		Queryables: c.queryables,
		Search:     c.searcher,
		Normalize:  c.NormalizeTimeRange,
		Version:    Version,
		Log:        c.log,
	}

	collections := []string{opts.Collection}
	if opts.Collection == "" {
		collections = c.ListCollections()
		c.log.Info("building catalogs", "collections", len(collections))
	}

	buildOpts := catalog.BuildOptions{
		LatestBaseline: opts.LatestBaseline,
		Start:          opts.Start,
		End:            opts.End,
		Force:          opts.Force,
	}
	if opts.ProductType != "" {
		buildOpts.Products = []string{opts.ProductType}
	}
	if opts.Baseline != "" {
		buildOpts.Baselines = []string{opts.Baseline}
	}

	results := make(map[string]string)
	for _, coll := range collections {
		c.log.Info("building catalog", "collection", coll)
		cat, err := builder.Build(ctx, coll, buildOpts)
		if err != nil {
			c.log.Error("catalog build failed", "collection", coll, "error", err)
			continue
		}
		path, err := manager.Save(cat)
		if err != nil {
			c.log.Error("catalog save failed", "collection", coll, "error", err)
			continue
		}
		results[coll] = path

		totalBaselines := 0
		for _, p := range cat.Products {
			totalBaselines += len(p.Baselines)
		}
		c.log.Info("catalog written", "path", path,
			"products", len(cat.Products), "baselines", totalBaselines)
	}
	return results, nil
}

func pathJoinURL(dir, rawURL string) string {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		name = u.Path
	}
	return filepath.Join(dir, path.Base(name))
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
