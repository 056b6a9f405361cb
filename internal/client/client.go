// Package client is the high-level facade tying discovery, catalogs,
// the registry, downloads, and state tracking together. A Client is
// not safe for concurrent use; create one per goroutine.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/earthfocus/maap-client/internal/auth"
	"github.com/earthfocus/maap-client/internal/catalog"
	"github.com/earthfocus/maap-client/internal/config"
	"github.com/earthfocus/maap-client/internal/download"
	"github.com/earthfocus/maap-client/internal/granule"
	"github.com/earthfocus/maap-client/internal/registry"
	"github.com/earthfocus/maap-client/internal/search"
	"github.com/earthfocus/maap-client/internal/stac"
	"github.com/earthfocus/maap-client/internal/tracker"
)

// Version is reported in built catalogs.
const Version = "0.1.0"

// ErrInvalidRequest reports a request that cannot be served as given,
// such as combining orbit search with a time range.
var ErrInvalidRequest = errors.New("invalid request")

// Downloader is the download surface the client drives. Satisfied by
// *download.Manager.
type Downloader interface {
	DownloadFile(ctx context.Context, url, outputPath string, progress download.Progress) (string, error)
	BatchDownload(ctx context.Context, urls []string, opts download.BatchOptions) (map[string]string, error)
}

// Options injects the client's collaborators. Nil fields get production
// defaults built from the configuration.
type Options struct {
	Searcher    *search.Searcher
	Queryables  *catalog.QueryablesManager
	Collections *catalog.CollectionManager
	State       *tracker.Global
	Downloader  Downloader
	Log         *slog.Logger
}

// Client provides listing, search, registry, download, sync, and
// catalog building for one mission.
type Client struct {
	cfg          config.Config
	missionStart time.Time
	missionEnd   time.Time

	searcher    *search.Searcher
	queryables  *catalog.QueryablesManager
	collections *catalog.CollectionManager
	state       *tracker.Global
	log         *slog.Logger

	downloader Downloader // nil until first use; credentials load lazily
}

// New builds a Client from configuration, wiring default collaborators
// for any not supplied.
func New(cfg config.Config, opts Options) (*Client, error) {
	missionStart, err := cfg.MissionStart()
	if err != nil {
		return nil, err
	}
	missionEnd, err := cfg.MissionEnd()
	if err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		cfg:          cfg,
		missionStart: missionStart,
		missionEnd:   missionEnd,
		searcher:     opts.Searcher,
		queryables:   opts.Queryables,
		collections:  opts.Collections,
		state:        opts.State,
		log:          log,
		downloader:   opts.Downloader,
	}

	if c.searcher == nil {
		api := stac.NewClient(cfg.API.CatalogURL)
		c.searcher = search.New(api, missionStart, missionEnd, log)
	}
	if c.queryables == nil {
		c.queryables = catalog.NewQueryablesManager(cfg.Paths.CatalogDir, stac.NewClient(cfg.API.CatalogURL))
	}
	if c.collections == nil {
		c.collections = catalog.NewCollectionManager(cfg.Paths.BuiltCatalogDir)
	}
	if c.state == nil {
		c.state = tracker.NewGlobal(cfg.Paths.RegistryDir, cfg.Mission.Name, cfg.Paths.DataDir, log)
	}
	return c, nil
}

// Config returns the active configuration.
func (c *Client) Config() config.Config { return c.cfg }

// getDownloader builds the authenticated download manager on first use,
// so commands that never download never need credentials.
func (c *Client) getDownloader(ctx context.Context) (Downloader, error) {
	if c.downloader != nil {
		return c.downloader, nil
	}
	creds, err := auth.LoadCredentials(c.cfg.Paths.CredentialsFile)
	if err != nil {
		return nil, err
	}
	src := auth.NewTokenSource(ctx, creds, c.cfg.API.TokenURL)
	httpClient := auth.NewHTTPClient(ctx, src)
	c.downloader = download.New(httpClient, c.cfg.Paths.DataDir, c.cfg.Mission.Name, c.log)
	return c.downloader, nil
}

// validateTimeRange rejects orbit combined with a time range and
// reversed ranges.
func validateTimeRange(start, end time.Time, orbit string) error {
	if orbit != "" && (!start.IsZero() || !end.IsZero()) {
		return fmt.Errorf("%w: cannot combine orbit with start/end; use one or the other", ErrInvalidRequest)
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return fmt.Errorf("%w: start %s after end %s",
			ErrInvalidRequest, granule.ToZulu(start), granule.ToZulu(end))
	}
	return nil
}

// NormalizeTimeRange clamps a range to mission bounds and the current
// time.
func (c *Client) NormalizeTimeRange(start, end time.Time) (time.Time, time.Time) {
	return granule.NormalizeTimeRange(start, end, c.missionStart, c.missionEnd)
}

// ListCollections returns the configured collection names.
func (c *Client) ListCollections() []string {
	out := make([]string, len(c.cfg.Mission.Collections))
	copy(out, c.cfg.Mission.Collections)
	return out
}

// ListProducts lists product types for a collection. With fromBuilt it
// reads the built catalog; otherwise the queryables, refreshed from
// the service when verify is set.
func (c *Client) ListProducts(ctx context.Context, collection string, fromBuilt, verify bool) ([]string, error) {
	if verify {
		q, err := c.queryables.Load(ctx, collection, true)
		if err != nil {
			return nil, err
		}
		return q.ListProducts(), nil
	}
	if fromBuilt {
		cat, err := c.collections.Load(collection)
		if err != nil {
			return nil, err
		}
		if cat == nil {
			return nil, fmt.Errorf("built catalog not found for %s, run: maap catalog build %s", collection, collection)
		}
		return cat.ListProducts(), nil
	}
	q, err := c.queryables.Load(ctx, collection, false)
	if err != nil {
		return nil, err
	}
	return q.ListProducts(), nil
}

// ListBaselines lists baseline versions. With verify the service is
// probed for baselines that actually hold data; with fromBuilt the
// built catalog is consulted; otherwise the queryables.
func (c *Client) ListBaselines(ctx context.Context, collection, productType string, fromBuilt, verify bool) ([]string, error) {
	if (verify || fromBuilt) && productType == "" {
		return nil, fmt.Errorf("%w: product type required with verify or fromBuilt", ErrInvalidRequest)
	}
	if verify {
		q, err := c.queryables.Load(ctx, collection, true)
		if err != nil {
			return nil, err
		}
		return c.searcher.Baselines(ctx, collection, productType, q.ListBaselines(), time.Time{}, time.Time{}, false)
	}
	if fromBuilt {
		cat, err := c.collections.Load(collection)
		if err != nil {
			return nil, err
		}
		if cat == nil {
			return nil, fmt.Errorf("built catalog not found for %s, run: maap catalog build %s %s", collection, collection, productType)
		}
		product := cat.GetProduct(productType)
		if product == nil {
			return nil, fmt.Errorf("product %s not in built catalog for %s", productType, collection)
		}
		return product.ListBaselines(), nil
	}
	q, err := c.queryables.Load(ctx, collection, false)
	if err != nil {
		return nil, err
	}
	return q.ListBaselines(), nil
}

// GetBaselineInfo returns metadata for one baseline, from the built
// catalog or live from the service.
func (c *Client) GetBaselineInfo(ctx context.Context, collection, productType, baseline string, start, end time.Time, fromBuilt bool) (*catalog.BaselineInfo, error) {
	if fromBuilt {
		cat, err := c.collections.Load(collection)
		if err != nil || cat == nil {
			return nil, err
		}
		product := cat.GetProduct(productType)
		if product == nil {
			return nil, nil
		}
		return product.Baselines[baseline], nil
	}

	first, last, err := c.searcher.ProductInfoRange(ctx, collection, productType, baseline, start, end)
	if err != nil {
		return nil, err
	}
	if first == nil || last == nil {
		return nil, nil
	}
	count, err := c.searcher.ProductCount(ctx, collection, productType, baseline, start, end)
	if err != nil {
		return nil, err
	}
	return &catalog.BaselineInfo{
		TimeStart:  catalog.Zulu(first.SensingTime),
		TimeEnd:    catalog.Zulu(last.SensingTime),
		FrameStart: first.OrbitFrame,
		FrameEnd:   last.OrbitFrame,
		Count:      count,
		UpdatedAt:  catalog.Zulu(time.Now().UTC().Truncate(time.Second)),
	}, nil
}

// Tracker returns the state tracker for one triple, creating its
// directories.
func (c *Client) Tracker(collection, productType, baseline string) (*tracker.Tracker, error) {
	return c.state.Tracker(collection, productType, baseline)
}

// State returns the global state tracker.
func (c *Client) State() *tracker.Global { return c.state }

// UpdateCatalogs downloads queryables for the given collections, or
// all configured ones when nil.
func (c *Client) UpdateCatalogs(ctx context.Context, collections []string, force bool) (map[string]string, error) {
	if err := c.cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	if collections == nil {
		collections = c.ListCollections()
	}
	return c.queryables.Download(ctx, collections, force)
}

// SaveToRegistry files URLs into registry records, routing each URL to
// its own baseline extracted from the filename. Mixed-baseline lists
// are fine. Returns the count of new URLs and the files touched.
func (c *Client) SaveToRegistry(urls []string, collection, productType string) (int, []string, error) {
	if len(urls) == 0 {
		return 0, nil, nil
	}

	byBaseline := make(map[string][]string)
	var order []string
	for _, url := range urls {
		bl := granule.Baseline(url)
		if bl == "" {
			bl = "UNKNOWN"
		}
		if _, seen := byBaseline[bl]; !seen {
			order = append(order, bl)
		}
		byBaseline[bl] = append(byBaseline[bl], url)
	}

	totalNew := 0
	var written []string
	seen := make(map[string]struct{})
	for _, bl := range order {
		store := registry.New(c.cfg.Paths.RegistryDir, c.cfg.Mission.Name, collection, productType, bl)
		n, files, err := store.SaveURLs(byBaseline[bl], c.cfg.Paths.DataDir)
		if err != nil {
			return totalNew, written, err
		}
		totalNew += n
		for _, f := range files {
			if _, dup := seen[f]; !dup {
				seen[f] = struct{}{}
				written = append(written, f)
			}
		}
	}
	return totalNew, written, nil
}

// LoadFromRegistry reads URLs back from registry records. With an empty
// baseline every baseline directory found in the registry is loaded.
func (c *Client) LoadFromRegistry(collection, productType, baseline string, start, end time.Time) ([]string, error) {
	if err := validateTimeRange(start, end, ""); err != nil {
		return nil, err
	}

	var baselines []string
	if baseline != "" {
		baselines = []string{baseline}
	} else {
		base := filepath.Join(c.cfg.Paths.RegistryDir, "urls", c.cfg.Mission.Name, collection, productType)
		entries, err := os.ReadDir(base)
		if err != nil {
			if os.IsNotExist(err) {
				c.log.Info("no registry files found", "path", base)
				return nil, nil
			}
			return nil, fmt.Errorf("client: list %s: %w", base, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				baselines = append(baselines, e.Name())
			}
		}
		sort.Strings(baselines)
		if len(baselines) == 0 {
			return nil, nil
		}
	}

	var urls []string
	seen := make(map[string]struct{})
	for _, bl := range baselines {
		store := registry.New(c.cfg.Paths.RegistryDir, c.cfg.Mission.Name, collection, productType, bl)
		blURLs, err := store.LoadURLs(start, end)
		if err != nil {
			return nil, err
		}
		for _, u := range blURLs {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
	}
	c.log.Info("loaded from registry", "urls", len(urls))
	return urls, nil
}

// baselinesFound lists the distinct baselines of a URL set, sorted.
func baselinesFound(urls []string) []string {
	set := make(map[string]struct{})
	for _, u := range urls {
		bl := granule.Baseline(u)
		if bl == "" {
			bl = "UNKNOWN"
		}
		set[bl] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for bl := range set {
		out = append(out, bl)
	}
	sort.Strings(out)
	return out
}
