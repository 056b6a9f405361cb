package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/earthfocus/maap-client/internal/catalog"
	"github.com/earthfocus/maap-client/internal/config"
	"github.com/earthfocus/maap-client/internal/download"
	"github.com/earthfocus/maap-client/internal/granule"
	"github.com/earthfocus/maap-client/internal/search"
	"github.com/earthfocus/maap-client/internal/stac"
	"github.com/earthfocus/maap-client/internal/tracker"
)

const testCollection = "EarthCAREL2Products_MAAP"

func utc(y int, m time.Month, d, hh, mm, ss int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, 0, time.UTC)
}

func ecaURL(baseline, product string, sensing, creation time.Time) string {
	return fmt.Sprintf("https://dl.example.org/ECA_EX%s_%s_%sZ_%sZ_00001A.h5",
		baseline, product, sensing.Format("20060102T150405"), creation.Format("20060102T150405"))
}

// fakeAPI serves a fixed set of URLs, filtering by the query window
// against each URL's sensing time.
type fakeAPI struct {
	urls    []string
	queries []stac.Query
}

func (f *fakeAPI) Search(_ context.Context, q stac.Query) (*stac.Result, error) {
	f.queries = append(f.queries, q)
	matched := granule.FilterBySensingTime(f.urls, q.Start, q.End)
	items := make([]stac.Item, 0, len(matched))
	for _, u := range matched {
		items = append(items, stac.Item{
			Assets: map[string]stac.Asset{"enclosure_h5": {Href: u}},
		})
	}
	return &stac.Result{Matched: len(matched), Items: items}, nil
}

// fakeFetcher serves queryables JSON, with or without orbit support.
type fakeFetcher struct {
	orbit bool
}

func (f fakeFetcher) Queryables(_ context.Context, _ string) ([]byte, error) {
	props := map[string]any{
		"productType":    map[string]any{"enum": []string{"BM__RAD_2B", "AUX_MET_1D"}},
		"productVersion": map[string]any{"enum": []string{"bc", "ba"}},
	}
	if f.orbit {
		props["orbitNumber"] = map[string]any{"type": "integer"}
	}
	return json.Marshal(map[string]any{"properties": props})
}

// fakeDownloader records batch calls and simulates per-URL outcomes.
type fakeDownloader struct {
	batches []download.BatchOptions
	urls    [][]string
	fail    map[string]error
}

func (f *fakeDownloader) DownloadFile(_ context.Context, url, outputPath string, _ download.Progress) (string, error) {
	if err := f.fail[url]; err != nil {
		return "", err
	}
	return outputPath, nil
}

func (f *fakeDownloader) BatchDownload(_ context.Context, urls []string, opts download.BatchOptions) (map[string]string, error) {
	f.batches = append(f.batches, opts)
	f.urls = append(f.urls, urls)
	out := make(map[string]string)
	for _, u := range urls {
		if err := f.fail[u]; err != nil {
			if opts.OnError != nil {
				opts.OnError(u, err)
			}
			continue
		}
		local := "/data/" + path.Base(u)
		out[u] = local
		if opts.OnDownload != nil {
			opts.OnDownload(u, local)
		}
	}
	return out, nil
}

func newTestClient(t *testing.T, api search.API, orbit bool, dl Downloader) *Client {
	t.Helper()
	base := t.TempDir()
	cfg := config.Config{
		Paths: config.PathsConfig{
			DataDir:         filepath.Join(base, "data"),
			CatalogDir:      filepath.Join(base, "catalogs"),
			BuiltCatalogDir: filepath.Join(base, "built_catalogs"),
			RegistryDir:     filepath.Join(base, "registry"),
			CredentialsFile: filepath.Join(base, "credentials.txt"),
		},
		API: config.APIConfig{
			CatalogURL: "https://stac.example.org/catalogue",
			TokenURL:   "https://iam.example.org/token",
		},
		Mission: config.MissionConfig{
			Name:        "EarthCARE",
			Start:       "2024-05-28T00:00:00Z",
			End:         "2045-12-31T23:59:59Z",
			Collections: []string{testCollection},
		},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts := Options{
		Queryables: catalog.NewQueryablesManager(cfg.Paths.CatalogDir, fakeFetcher{orbit: orbit}),
		State:      tracker.NewGlobal(cfg.Paths.RegistryDir, cfg.Mission.Name, cfg.Paths.DataDir, log),
		Downloader: dl,
		Log:        log,
	}
	if api != nil {
		opts.Searcher = search.New(api,
			utc(2024, 5, 28, 0, 0, 0), utc(2045, 12, 31, 23, 59, 59), log)
	}
	c, err := New(cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSearch_RejectsOrbitWithTimeRange(t *testing.T) {
	c := newTestClient(t, &fakeAPI{}, true, nil)

	_, err := c.Search(context.Background(), SearchOptions{
		Collection:  testCollection,
		ProductType: "BM__RAD_2B",
		Orbit:       "02163E",
		Start:       utc(2025, 6, 1, 0, 0, 0),
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestSearch_RejectsReversedRange(t *testing.T) {
	c := newTestClient(t, &fakeAPI{}, true, nil)

	_, err := c.Search(context.Background(), SearchOptions{
		Collection:  testCollection,
		ProductType: "BM__RAD_2B",
		Start:       utc(2025, 6, 5, 0, 0, 0),
		End:         utc(2025, 6, 1, 0, 0, 0),
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestSearch_OrbitUnsupportedCollection(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api, false, nil)

	_, err := c.Search(context.Background(), SearchOptions{
		Collection:  testCollection,
		ProductType: "BM__RAD_2B",
		Orbit:       "02163E",
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
	if len(api.queries) != 0 {
		t.Errorf("unsupported collection still queried the API %d times", len(api.queries))
	}
}

func TestSearch_TimeRange(t *testing.T) {
	sensing := utc(2025, 6, 2, 6, 0, 0)
	api := &fakeAPI{urls: []string{
		ecaURL("BC", "BM__RAD_2B", sensing, sensing.Add(2*time.Hour)),
		ecaURL("BA", "BM__RAD_2B", sensing.Add(time.Hour), sensing.Add(3*time.Hour)),
	}}
	c := newTestClient(t, api, true, nil)

	res, err := c.Search(context.Background(), SearchOptions{
		Collection:  testCollection,
		ProductType: "BM__RAD_2B",
		Start:       utc(2025, 6, 1, 0, 0, 0),
		End:         utc(2025, 6, 3, 0, 0, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalCount != 2 || len(res.URLs) != 2 {
		t.Fatalf("got %d URLs, want 2", len(res.URLs))
	}
	if len(res.BaselinesFound) != 2 || res.BaselinesFound[0] != "BA" || res.BaselinesFound[1] != "BC" {
		t.Errorf("baselines found = %v, want [BA BC]", res.BaselinesFound)
	}
}

func TestListProductsAndBaselines(t *testing.T) {
	c := newTestClient(t, &fakeAPI{}, true, nil)
	ctx := context.Background()

	products, err := c.ListProducts(ctx, testCollection, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 2 || products[0] != "BM__RAD_2B" {
		t.Errorf("products = %v", products)
	}

	baselines, err := c.ListBaselines(ctx, testCollection, "", false, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(baselines) != 2 || baselines[0] != "BA" || baselines[1] != "BC" {
		t.Errorf("baselines = %v, want uppercased sorted [BA BC]", baselines)
	}

	// verify and fromBuilt both need a product type.
	if _, err := c.ListBaselines(ctx, testCollection, "", true, false); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("fromBuilt without product: err = %v", err)
	}
}

func TestGetBaselineInfo_Live(t *testing.T) {
	first := utc(2025, 6, 1, 6, 0, 0)
	last := utc(2025, 6, 2, 18, 0, 0)
	api := &fakeAPI{urls: []string{
		ecaURL("BC", "BM__RAD_2B", first, first.Add(2*time.Hour)),
		ecaURL("BC", "BM__RAD_2B", last, last.Add(2*time.Hour)),
	}}
	c := newTestClient(t, api, true, nil)

	info, err := c.GetBaselineInfo(context.Background(), testCollection, "BM__RAD_2B", "BC",
		utc(2025, 6, 1, 0, 0, 0), utc(2025, 6, 3, 0, 0, 0), false)
	if err != nil {
		t.Fatal(err)
	}
	if info == nil {
		t.Fatal("expected baseline info, got nil")
	}
	if !info.TimeStart.Equal(first) || !info.TimeEnd.Equal(last) {
		t.Errorf("range = %v .. %v, want %v .. %v", info.TimeStart, info.TimeEnd, first, last)
	}
	if info.Count != 2 {
		t.Errorf("count = %d, want 2", info.Count)
	}
}

func TestGetBaselineInfo_FromBuiltMissing(t *testing.T) {
	c := newTestClient(t, &fakeAPI{}, true, nil)

	info, err := c.GetBaselineInfo(context.Background(), testCollection, "BM__RAD_2B", "BC",
		time.Time{}, time.Time{}, true)
	if err != nil {
		t.Fatal(err)
	}
	if info != nil {
		t.Errorf("info = %v, want nil without a built catalog", info)
	}
}

func TestSaveAndLoadRegistry(t *testing.T) {
	c := newTestClient(t, &fakeAPI{}, true, nil)

	s1 := utc(2025, 6, 1, 6, 0, 0)
	s2 := utc(2025, 6, 1, 12, 0, 0)
	urls := []string{
		ecaURL("BC", "BM__RAD_2B", s1, s1.Add(time.Hour)),
		ecaURL("BA", "BM__RAD_2B", s2, s2.Add(time.Hour)),
	}

	n, files, err := c.SaveToRegistry(urls, testCollection, "BM__RAD_2B")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("saved %d URLs, want 2", n)
	}
	if len(files) != 2 {
		t.Errorf("wrote %d files, want one per baseline: %v", len(files), files)
	}
	for _, f := range files {
		if !strings.Contains(f, filepath.Join("urls", "EarthCARE", testCollection, "BM__RAD_2B")) {
			t.Errorf("unexpected registry path %s", f)
		}
	}

	// Empty baseline discovers every baseline directory.
	loaded, err := c.LoadFromRegistry(testCollection, "BM__RAD_2B", "",
		time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Errorf("loaded %d URLs, want 2: %v", len(loaded), loaded)
	}

	onlyBA, err := c.LoadFromRegistry(testCollection, "BM__RAD_2B", "BA",
		time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyBA) != 1 || granule.Baseline(onlyBA[0]) != "BA" {
		t.Errorf("BA load = %v", onlyBA)
	}
}

func TestLoadFromRegistry_Empty(t *testing.T) {
	c := newTestClient(t, &fakeAPI{}, true, nil)

	urls, err := c.LoadFromRegistry(testCollection, "BM__RAD_2B", "", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if urls != nil {
		t.Errorf("urls = %v, want nil for empty registry", urls)
	}
}

func TestDownload_DryRunNeedsNoCredentials(t *testing.T) {
	// No downloader injected and no credentials file on disk: dry run
	// must still work.
	c := newTestClient(t, &fakeAPI{}, true, nil)

	sensing := utc(2025, 6, 1, 6, 0, 0)
	urls := []string{ecaURL("BC", "BM__RAD_2B", sensing, sensing.Add(time.Hour))}
	res, err := c.Download(context.Background(), urls, testCollection, DownloadOptions{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Downloaded) != 0 || len(res.Skipped) != 1 {
		t.Errorf("dry run downloaded=%d skipped=%d", len(res.Downloaded), len(res.Skipped))
	}
}

func TestDownload_StructuredGroupsAndTracks(t *testing.T) {
	dl := &fakeDownloader{}
	c := newTestClient(t, &fakeAPI{}, true, dl)

	s1 := utc(2025, 6, 1, 6, 0, 0)
	s2 := utc(2025, 6, 1, 12, 0, 0)
	urls := []string{
		ecaURL("BC", "BM__RAD_2B", s1, s1.Add(time.Hour)),
		ecaURL("BA", "BM__RAD_2B", s2, s2.Add(time.Hour)),
		"https://dl.example.org/unparsable.bin",
	}

	res, err := c.Download(context.Background(), urls, testCollection, DownloadOptions{TrackState: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Downloaded) != 2 {
		t.Errorf("downloaded = %v, want 2", res.Downloaded)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "unparsable.bin") {
		t.Errorf("errors = %v", res.Errors)
	}
	if len(dl.batches) != 2 {
		t.Fatalf("got %d batches, want one per (product, baseline)", len(dl.batches))
	}
	seen := map[string]bool{}
	for _, b := range dl.batches {
		if b.ProductType != "BM__RAD_2B" || b.Collection != testCollection {
			t.Errorf("batch = %+v", b)
		}
		seen[b.Baseline] = true
	}
	if !seen["BC"] || !seen["BA"] {
		t.Errorf("baselines batched = %v, want BC and BA", seen)
	}

	// State tracking recorded the download per baseline.
	for _, bl := range []string{"BA", "BC"} {
		tr, err := c.Tracker(testCollection, "BM__RAD_2B", bl)
		if err != nil {
			t.Fatal(err)
		}
		stats, err := tr.GetStats(time.Time{}, time.Time{})
		if err != nil {
			t.Fatal(err)
		}
		if stats.TotalURLs != 1 || stats.Downloaded != 1 {
			t.Errorf("%s stats = %+v, want 1 tracked and downloaded", bl, stats)
		}
	}
}

func TestDownload_FlatOutDirSkipsExisting(t *testing.T) {
	dl := &fakeDownloader{}
	c := newTestClient(t, &fakeAPI{}, true, dl)

	sensing := utc(2025, 6, 1, 6, 0, 0)
	u1 := ecaURL("BC", "BM__RAD_2B", sensing, sensing.Add(time.Hour))
	u2 := ecaURL("BC", "BM__RAD_2B", sensing.Add(time.Hour), sensing.Add(2*time.Hour))

	outDir := t.TempDir()
	existing := filepath.Join(outDir, path.Base(u1))
	if err := os.WriteFile(existing, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := c.Download(context.Background(), []string{u1, u2}, testCollection,
		DownloadOptions{OutDir: outDir, SkipExisting: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != u1 {
		t.Errorf("skipped = %v, want existing file only", res.Skipped)
	}
	if got := res.Downloaded[u2]; got != filepath.Join(outDir, path.Base(u2)) {
		t.Errorf("downloaded to %s", got)
	}
}

func TestSync_DownloadsPendingOnce(t *testing.T) {
	sensing := utc(2025, 6, 2, 6, 0, 0)
	api := &fakeAPI{urls: []string{
		ecaURL("BC", "BM__RAD_2B", sensing, sensing.Add(time.Hour)),
	}}
	dl := &fakeDownloader{}
	c := newTestClient(t, api, true, dl)

	opts := SyncOptions{
		Collection:  testCollection,
		ProductType: "BM__RAD_2B",
		Baseline:    "BC",
		Start:       utc(2025, 6, 1, 0, 0, 0),
		End:         utc(2025, 6, 3, 0, 0, 0),
	}
	res, err := c.Sync(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.URLsFound != 1 || res.URLsDownloaded != 1 {
		t.Errorf("found=%d downloaded=%d, want 1/1", res.URLsFound, res.URLsDownloaded)
	}
	if len(res.Errors) != 0 {
		t.Errorf("errors = %v", res.Errors)
	}

	// Second pass: everything is already downloaded, nothing pending.
	res, err = c.Sync(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.URLsFound != 1 || res.URLsDownloaded != 0 {
		t.Errorf("second pass found=%d downloaded=%d, want 1/0", res.URLsFound, res.URLsDownloaded)
	}
	if len(dl.batches) != 1 {
		t.Errorf("batch downloads = %d, want 1", len(dl.batches))
	}
}

func TestSync_DefaultWindowIsLastThreeDays(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api, true, &fakeDownloader{})

	before := time.Now().UTC()
	_, err := c.Sync(context.Background(), SyncOptions{
		Collection:  testCollection,
		ProductType: "BM__RAD_2B",
		Baseline:    "BC",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(api.queries) != 1 {
		t.Fatalf("got %d queries, want 1 (three days fits a single query)", len(api.queries))
	}
	q := api.queries[0]
	span := q.End.Sub(q.Start)
	if span < 71*time.Hour || span > 73*time.Hour {
		t.Errorf("window span = %v, want about 72h", span)
	}
	if q.End.Before(before.Add(-time.Minute)) {
		t.Errorf("window end %v not near now", q.End)
	}
}

func TestBuildCatalog_WritesCollectionFile(t *testing.T) {
	sensing := utc(2025, 6, 2, 6, 0, 0)
	api := &fakeAPI{urls: []string{
		ecaURL("BC", "BM__RAD_2B", sensing, sensing.Add(time.Hour)),
	}}
	c := newTestClient(t, api, true, nil)

	results, err := c.BuildCatalog(context.Background(), BuildCatalogOptions{
		Collection:  testCollection,
		ProductType: "BM__RAD_2B",
		Baseline:    "BC",
		Start:       utc(2025, 6, 1, 0, 0, 0),
		End:         utc(2025, 6, 3, 0, 0, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	p, ok := results[testCollection]
	if !ok {
		t.Fatalf("no catalog written: %v", results)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("catalog file missing: %v", err)
	}

	cat, err := c.collections.Load(testCollection)
	if err != nil {
		t.Fatal(err)
	}
	if cat == nil {
		t.Fatal("built catalog not loadable")
	}
	info := cat.GetProduct("BM__RAD_2B")
	if info == nil || info.Baselines["BC"] == nil {
		t.Fatalf("catalog missing product/baseline: %+v", cat)
	}
	if got := info.Baselines["BC"].Count; got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
	if cat.Client.Version != Version {
		t.Errorf("client version = %q, want %q", cat.Client.Version, Version)
	}
}
