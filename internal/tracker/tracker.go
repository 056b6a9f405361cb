// Package tracker layers download-workflow state on top of the registry
// store: which URLs have been discovered, downloaded, and marked as
// processed, and which local files are safe to delete. Pending sets are
// never persisted; they are recomputed from the record files on every
// query.
package tracker

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/earthfocus/maap-client/internal/granule"
	"github.com/earthfocus/maap-client/internal/registry"
)

// maxErrorLen bounds sanitized error text so the one-record-per-line
// invariant of the error log holds.
const maxErrorLen = 200

// Tracker tracks state for one (collection, product, baseline) triple.
type Tracker struct {
	store      *registry.Store
	mission    string
	collection string
	dataDir    string
	log        *slog.Logger
}

// Stats summarizes tracked state over an optional window.
type Stats struct {
	TotalURLs        int
	Downloaded       int
	Marked           int
	Errors           int
	PendingDownloads int
	PendingMarks     int
}

// New creates a tracker and its registry directories. dataDir may be
// empty when local paths are not needed.
func New(registryDir, mission, collection, product, baseline, dataDir string, log *slog.Logger) (*Tracker, error) {
	if log == nil {
		log = slog.Default()
	}
	store := registry.New(registryDir, mission, collection, product, baseline)
	if err := store.CreateDirs(); err != nil {
		return nil, err
	}
	return &Tracker{
		store:      store,
		mission:    mission,
		collection: collection,
		dataDir:    dataDir,
		log:        log,
	}, nil
}

// ErrorsFile is the path of the error log.
func (t *Tracker) ErrorsFile() string { return t.store.ErrorsFile() }

// AddURLs appends genuinely new URLs to their sensing-date files in
// URL|LOCAL_PATH form, computing the local path eagerly. URLs whose
// sensing time cannot be extracted are dropped with a warning. Returns
// the number of URLs actually added.
func (t *Tracker) AddURLs(urls []string) (int, error) {
	byDate := make(map[time.Time][]string)
	var order []time.Time
	for _, url := range urls {
		st, ok := granule.SensingTime(url)
		if !ok {
			t.log.Warn("could not extract date from URL", "url", url)
			continue
		}
		d := dateOf(st)
		if _, seen := byDate[d]; !seen {
			order = append(order, d)
		}
		byDate[d] = append(byDate[d], url)
	}

	added := 0
	for _, d := range order {
		urlFile := t.store.URLFileForDate(d)
		pairs, err := registry.ReadPairs(urlFile)
		if err != nil {
			return added, err
		}
		existing := make(map[string]struct{}, len(pairs))
		for _, p := range pairs {
			existing[p.Key] = struct{}{}
		}

		for _, url := range byDate[d] {
			if _, dup := existing[url]; dup {
				continue
			}
			localPath := ""
			if t.dataDir != "" {
				if p, ok := granule.URLToLocalPath(url, t.dataDir, t.mission, t.collection); ok {
					localPath = p
				}
			}
			if err := registry.AppendPair(urlFile, registry.Pair{Key: url, Value: localPath}); err != nil {
				return added, err
			}
			existing[url] = struct{}{}
			added++
		}
	}
	return added, nil
}

// URLsWithPaths loads all URL|PATH records, window-filtered coarsely by
// file date and exactly by sensing time.
func (t *Tracker) URLsWithPaths(start, end time.Time) ([]registry.Pair, error) {
	files, err := t.store.ListURLFiles()
	if err != nil {
		return nil, err
	}
	dated, err := registry.ReadDailyPairs(files, registry.URLPrefix, start, end)
	if err != nil {
		return nil, err
	}

	byURL := make(map[string]registry.Pair, len(dated))
	urls := make([]string, 0, len(dated))
	for _, p := range dated {
		if _, dup := byURL[p.Key]; dup {
			continue
		}
		byURL[p.Key] = registry.Pair{Key: p.Key, Value: p.Value}
		urls = append(urls, p.Key)
	}

	filtered := granule.FilterBySensingTime(urls, start, end)
	out := make([]registry.Pair, 0, len(filtered))
	for _, u := range filtered {
		out = append(out, byURL[u])
	}
	return out, nil
}

// MarkDownloaded records a successful download under the URL's sensing
// date. Returns false (without error) when no sensing time can be
// extracted; that is a recoverable condition, not a failure.
func (t *Tracker) MarkDownloaded(url, localPath string) (bool, error) {
	st, ok := granule.SensingTime(url)
	if !ok {
		t.log.Warn("could not extract date from URL", "url", url)
		return false, nil
	}

	if localPath == "" && t.dataDir != "" {
		if p, ok := granule.URLToLocalPath(url, t.dataDir, t.mission, t.collection); ok {
			localPath = p
		}
	}

	dwlFile := t.store.DwlFileForDate(dateOf(st))
	if err := registry.AppendPair(dwlFile, registry.Pair{Key: url, Value: localPath}); err != nil {
		return false, err
	}
	return true, nil
}

// Mark records a local file as processed under its sensing date.
// Returns false when no sensing time can be extracted from the path.
func (t *Tracker) Mark(path string) (bool, error) {
	st, ok := granule.SensingTime(path)
	if !ok {
		t.log.Warn("could not extract date from path", "path", path)
		return false, nil
	}
	mrkFile := t.store.MrkFileForDate(dateOf(st))
	if err := registry.AppendLine(mrkFile, path); err != nil {
		return false, err
	}
	return true, nil
}

// MarkError appends a download failure to the error log. The error text
// is sanitized (newlines and the field separator stripped) and truncated
// so each record stays on one line.
func (t *Tracker) MarkError(url string, errText string) error {
	errText = strings.ReplaceAll(errText, "\n", " ")
	errText = strings.ReplaceAll(errText, "|", ";")
	if len(errText) > maxErrorLen {
		errText = errText[:maxErrorLen]
	}
	return registry.AppendLine(t.ErrorsFile(), url+"|"+errText)
}

// ErrorURLs returns the set of URLs with recorded download failures.
func (t *Tracker) ErrorURLs() (map[string]struct{}, error) {
	pairs, err := registry.ReadPairs(t.ErrorsFile())
	if err != nil {
		return nil, err
	}
	return keySet(pairs), nil
}

// DownloadedURLs returns the set of downloaded URLs in the window.
func (t *Tracker) DownloadedURLs(start, end time.Time) (map[string]struct{}, error) {
	dated, err := t.readDaily(t.store.ListDwlFiles, registry.DwlPrefix, start, end)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(dated))
	for _, p := range dated {
		urls = append(urls, p.Key)
	}
	return stringSet(granule.FilterBySensingTime(urls, start, end)), nil
}

// DownloadedPaths returns the set of local paths of downloaded files,
// deriving paths from URLs when a record stored none.
func (t *Tracker) DownloadedPaths(start, end time.Time) (map[string]struct{}, error) {
	dated, err := t.readDaily(t.store.ListDwlFiles, registry.DwlPrefix, start, end)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, p := range dated {
		localPath := p.Value
		if localPath == "" && t.dataDir != "" {
			if derived, ok := granule.URLToLocalPath(p.Key, t.dataDir, t.mission, t.collection); ok {
				localPath = derived
			}
		}
		if localPath != "" {
			paths = append(paths, localPath)
		}
	}
	return stringSet(granule.FilterBySensingTime(paths, start, end)), nil
}

// MarkedPaths returns the set of processed file paths in the window.
func (t *Tracker) MarkedPaths(start, end time.Time) (map[string]struct{}, error) {
	dated, err := t.readDaily(t.store.ListMrkFiles, registry.MrkPrefix, start, end)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(dated))
	for _, p := range dated {
		paths = append(paths, p.Key)
	}
	return stringSet(granule.FilterBySensingTime(paths, start, end)), nil
}

// PendingDownloads returns discovered URLs not yet downloaded.
func (t *Tracker) PendingDownloads(start, end time.Time) (map[string]struct{}, error) {
	pairs, err := t.URLsWithPaths(start, end)
	if err != nil {
		return nil, err
	}
	downloaded, err := t.DownloadedURLs(start, end)
	if err != nil {
		return nil, err
	}
	pending := make(map[string]struct{})
	for _, p := range pairs {
		if _, done := downloaded[p.Key]; !done {
			pending[p.Key] = struct{}{}
		}
	}
	return pending, nil
}

// PendingMarkPaths returns downloaded local paths not yet marked.
func (t *Tracker) PendingMarkPaths(start, end time.Time) (map[string]struct{}, error) {
	downloaded, err := t.DownloadedPaths(start, end)
	if err != nil {
		return nil, err
	}
	marked, err := t.MarkedPaths(start, end)
	if err != nil {
		return nil, err
	}
	pending := make(map[string]struct{})
	for p := range downloaded {
		if _, done := marked[p]; !done {
			pending[p] = struct{}{}
		}
	}
	return pending, nil
}

// GetStats aggregates counts over an optional window in one pass per
// record set. The error log is not date-partitioned and is always
// counted in full.
func (t *Tracker) GetStats(start, end time.Time) (Stats, error) {
	pairs, err := t.URLsWithPaths(start, end)
	if err != nil {
		return Stats{}, err
	}
	all := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		all[p.Key] = struct{}{}
	}
	downloaded, err := t.DownloadedURLs(start, end)
	if err != nil {
		return Stats{}, err
	}
	downloadedPaths, err := t.DownloadedPaths(start, end)
	if err != nil {
		return Stats{}, err
	}
	marked, err := t.MarkedPaths(start, end)
	if err != nil {
		return Stats{}, err
	}
	errs, err := t.ErrorURLs()
	if err != nil {
		return Stats{}, err
	}

	pendingDownloads := 0
	for u := range all {
		if _, done := downloaded[u]; !done {
			pendingDownloads++
		}
	}
	pendingMarks := 0
	for p := range downloadedPaths {
		if _, done := marked[p]; !done {
			pendingMarks++
		}
	}

	return Stats{
		TotalURLs:        len(all),
		Downloaded:       len(downloaded),
		Marked:           len(marked),
		Errors:           len(errs),
		PendingDownloads: pendingDownloads,
		PendingMarks:     pendingMarks,
	}, nil
}

// DeletableFiles returns marked local paths that still exist on disk.
func (t *Tracker) DeletableFiles() ([]string, error) {
	marked, err := t.MarkedPaths(time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	var deletable []string
	for p := range marked {
		if _, err := os.Stat(p); err == nil {
			deletable = append(deletable, p)
		}
	}
	return deletable, nil
}

// CleanupMarked deletes files that have been marked as processed. Each
// failed deletion is logged and the loop continues; partial failure is
// expected and non-fatal. Returns the paths that were (or, in dry-run,
// would be) deleted.
func (t *Tracker) CleanupMarked(dryRun bool) ([]string, error) {
	deletable, err := t.DeletableFiles()
	if err != nil {
		return nil, err
	}
	if dryRun {
		return deletable, nil
	}
	for _, p := range deletable {
		if err := os.Remove(p); err != nil {
			t.log.Error("failed to delete", "path", p, "error", err)
			continue
		}
		t.log.Info("deleted", "path", p)
	}
	return deletable, nil
}

func (t *Tracker) readDaily(list func() ([]string, error), prefix string, start, end time.Time) ([]registry.DatedPair, error) {
	files, err := list()
	if err != nil {
		return nil, err
	}
	return registry.ReadDailyPairs(files, prefix, start, end)
}

func keySet(pairs []registry.Pair) map[string]struct{} {
	set := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		set[p.Key] = struct{}{}
	}
	return set
}

func stringSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Triple identifies one tracked (collection, product, baseline).
type Triple struct {
	Collection string
	Product    string
	Baseline   string
}

// Global hands out trackers and enumerates everything tracked under a
// registry directory.
type Global struct {
	registryDir string
	mission     string
	dataDir     string
	log         *slog.Logger
}

// NewGlobal returns a Global manager for one mission.
func NewGlobal(registryDir, mission, dataDir string, log *slog.Logger) *Global {
	if log == nil {
		log = slog.Default()
	}
	return &Global{registryDir: registryDir, mission: mission, dataDir: dataDir, log: log}
}

// Tracker returns a tracker for one triple, creating its directories.
func (g *Global) Tracker(collection, product, baseline string) (*Tracker, error) {
	return New(g.registryDir, g.mission, collection, product, baseline, g.dataDir, g.log)
}

// ListTracked enumerates triples that have download tracking directories.
func (g *Global) ListTracked() ([]Triple, error) {
	base := filepath.Join(g.registryDir, "downloads", g.mission)
	collections, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tracker: list %s: %w", base, err)
	}

	var tracked []Triple
	for _, c := range collections {
		if !c.IsDir() {
			continue
		}
		products, err := os.ReadDir(filepath.Join(base, c.Name()))
		if err != nil {
			continue
		}
		for _, p := range products {
			if !p.IsDir() {
				continue
			}
			baselines, err := os.ReadDir(filepath.Join(base, c.Name(), p.Name()))
			if err != nil {
				continue
			}
			for _, b := range baselines {
				if !b.IsDir() {
					continue
				}
				tracked = append(tracked, Triple{
					Collection: c.Name(),
					Product:    p.Name(),
					Baseline:   b.Name(),
				})
			}
		}
	}
	return tracked, nil
}

// AllStats returns statistics for every tracked triple.
func (g *Global) AllStats() (map[Triple]Stats, error) {
	tracked, err := g.ListTracked()
	if err != nil {
		return nil, err
	}
	stats := make(map[Triple]Stats, len(tracked))
	for _, triple := range tracked {
		tr, err := g.Tracker(triple.Collection, triple.Product, triple.Baseline)
		if err != nil {
			return nil, err
		}
		s, err := tr.GetStats(time.Time{}, time.Time{})
		if err != nil {
			return nil, err
		}
		stats[triple] = s
	}
	return stats, nil
}
