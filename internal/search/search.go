// Package search implements product discovery against the STAC
// catalogue: existence probes, counts, baseline discovery, first/last
// granule lookup, and URL searches over arbitrary time ranges.
//
// The catalogue filters by item datetime metadata, which does not
// always agree with the sensing time embedded in product filenames.
// Every search therefore post-filters its results by sensing time, so
// callers see filename-accurate windows.
//
// Results are not returned in any guaranteed order by the service; all
// URL lists here are sorted by sensing time before they are returned.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/earthfocus/maap-client/internal/granule"
	"github.com/earthfocus/maap-client/internal/stac"
)

// Products that carry multiple versions per granule and need
// deduplication by (baseline, sensing time).
var dedupProducts = map[string]bool{"AUX_MET_1D": true}

// Products whose orbit and frame fields are not indexed by the service.
var noOrbitProducts = map[string]bool{"AUX_MET_1D": true}

// probeMaxItems caps existence and count probes; probes only need the
// match count plus enough items for sensing-time confirmation.
const probeMaxItems = 150

// DefaultMaxItems caps full URL searches.
const DefaultMaxItems = 50000

// singleQueryDays is the largest range searched with one API call.
// Larger ranges go day by day, which the service answers faster.
const singleQueryDays = 10

// API is the catalogue surface the searcher needs.
type API interface {
	Search(ctx context.Context, q stac.Query) (*stac.Result, error)
}

// Searcher runs discovery queries for one mission.
type Searcher struct {
	api          API
	missionStart time.Time
	missionEnd   time.Time
	log          *slog.Logger
}

// New returns a Searcher over the given API, clamping all time ranges
// to [missionStart, min(now, missionEnd)].
func New(api API, missionStart, missionEnd time.Time, log *slog.Logger) *Searcher {
	if log == nil {
		log = slog.Default()
	}
	return &Searcher{api: api, missionStart: missionStart, missionEnd: missionEnd, log: log}
}

// DayRange is one day-by-day search window.
type DayRange struct {
	Start time.Time
	End   time.Time
}

// DayRanges splits [start, end] into daily windows: the first window
// begins at the exact start, the last ends at the exact end, and
// interior days run 00:00:00 to 23:59:59 UTC. Zero-width windows are
// skipped.
func DayRanges(start, end time.Time) []DayRange {
	var ranges []DayRange
	current := dayOf(start)
	endDay := dayOf(end)
	first := true

	for !current.After(endDay) {
		dayStart := current
		if first {
			dayStart = start
			first = false
		}
		dayEnd := endOfDay(current)
		if current.Equal(endDay) {
			dayEnd = end
		}
		if dayStart.Before(dayEnd) {
			ranges = append(ranges, DayRange{Start: dayStart, End: dayEnd})
		}
		current = current.AddDate(0, 0, 1)
	}
	return ranges
}

func (s *Searcher) resolveTimeRange(start, end time.Time) (time.Time, time.Time) {
	return granule.NormalizeTimeRange(start, end, s.missionStart, s.missionEnd)
}

func productFilter(productType, baseline string) string {
	f := fmt.Sprintf("productType = '%s'", productType)
	if baseline != "" {
		f += fmt.Sprintf(" AND productVersion = '%s'", baseline)
	}
	return f
}

// HasAnyProduct reports whether any item exists for the product and
// baseline. A zero service match count is definitive; with a time
// window set, a nonzero count is confirmed against the sensing times
// of the returned items.
func (s *Searcher) HasAnyProduct(ctx context.Context, collection, productType, baseline string, start, end time.Time) (bool, error) {
	q := stac.Query{
		Collection: collection,
		Filter:     productFilter(productType, baseline),
		MaxItems:   probeMaxItems,
	}
	windowed := !start.IsZero() && !end.IsZero()
	if windowed {
		q.Start, q.End = start, end
	}

	res, err := s.api.Search(ctx, q)
	if err != nil {
		return false, err
	}
	if res.Matched <= 0 {
		return false, nil
	}
	if !windowed {
		return true, nil
	}
	urls := s.cleanResults(res, productType, start, end, false, "")
	return len(urls) >= 1, nil
}

// ProductCount returns the service-reported match count for the product
// and baseline, optionally restricted to a time window.
func (s *Searcher) ProductCount(ctx context.Context, collection, productType, baseline string, start, end time.Time) (int, error) {
	q := stac.Query{
		Collection: collection,
		Filter:     productFilter(productType, baseline),
		MaxItems:   probeMaxItems,
	}
	if !start.IsZero() && !end.IsZero() {
		q.Start, q.End = start, end
	}
	res, err := s.api.Search(ctx, q)
	if err != nil {
		return 0, err
	}
	if res.Matched < 0 {
		return 0, nil
	}
	return res.Matched, nil
}

// Baselines probes candidate baselines and returns those with data,
// sorted alphabetically. With latest set, only the newest (highest
// sorting) baseline is returned.
func (s *Searcher) Baselines(ctx context.Context, collection, productType string, candidates []string, start, end time.Time, latest bool) ([]string, error) {
	var existing []string
	for _, baseline := range candidates {
		ok, err := s.HasAnyProduct(ctx, collection, productType, baseline, start, end)
		if err != nil {
			return nil, err
		}
		if ok {
			existing = append(existing, baseline)
			s.log.Debug("baseline exists", "product", productType, "baseline", baseline)
		}
	}
	sort.Strings(existing)
	if latest && len(existing) > 0 {
		return existing[len(existing)-1:], nil
	}
	return existing, nil
}

// ProductInfoRange finds the first and last granules of a product and
// baseline within a time range, using binary search over calendar days
// to locate the boundary days before fetching them in full.
//
// The binary search assumes data coverage is contiguous between the
// first and last day with data. A coverage gap that straddles a probe
// midpoint can steer the search to an interior day.
//
// Returns (nil, nil, nil) when no data exists in the range.
func (s *Searcher) ProductInfoRange(ctx context.Context, collection, productType, baseline string, start, end time.Time) (*granule.Info, *granule.Info, error) {
	t0, t1 := s.resolveTimeRange(start, end)

	ok, err := s.HasAnyProduct(ctx, collection, productType, baseline, t0, t1)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, nil
	}

	// First day with data: probe [t0, mid 23:59:59].
	lo, hi := t0, t1
	var firstDay time.Time
	for !dayOf(lo).After(dayOf(hi)) {
		mid := dayOf(lo.Add(hi.Sub(lo) / 2))
		ok, err := s.HasAnyProduct(ctx, collection, productType, baseline, t0, endOfDay(mid))
		if err != nil {
			return nil, nil, err
		}
		if ok {
			firstDay = mid
			hi = mid.AddDate(0, 0, -1)
		} else {
			lo = mid.AddDate(0, 0, 1)
		}
	}

	// Last day with data: probe [mid 00:00:00, t1].
	lo, hi = t0, t1
	var lastDay time.Time
	for !dayOf(lo).After(dayOf(hi)) {
		mid := dayOf(lo.Add(hi.Sub(lo) / 2))
		ok, err := s.HasAnyProduct(ctx, collection, productType, baseline, mid, t1)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			lastDay = mid
			lo = mid.AddDate(0, 0, 1)
		} else {
			hi = mid.AddDate(0, 0, -1)
		}
	}

	if firstDay.IsZero() || lastDay.IsZero() {
		return nil, nil, nil
	}

	firstURLs, err := s.URLs(ctx, collection, productType, baseline, firstDay, endOfDay(firstDay), DefaultMaxItems, "")
	if err != nil {
		return nil, nil, err
	}
	lastURLs, err := s.URLs(ctx, collection, productType, baseline, lastDay, endOfDay(lastDay), DefaultMaxItems, "")
	if err != nil {
		return nil, nil, err
	}
	if len(firstURLs) == 0 || len(lastURLs) == 0 {
		return nil, nil, nil
	}

	first := granule.Extract(firstURLs[0])
	last := granule.Extract(lastURLs[len(lastURLs)-1])
	return &first, &last, nil
}

// URLs searches for download URLs of a product over a time range,
// sorted by sensing time. baseline may be empty to search all
// baselines; format selects the preferred asset ("h5" or "hdr").
// Ranges over ten days are searched day by day.
func (s *Searcher) URLs(ctx context.Context, collection, productType, baseline string, start, end time.Time, maxItems int, format string) ([]string, error) {
	t0, t1 := s.resolveTimeRange(start, end)
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	if int(t1.Sub(t0).Hours()/24) <= singleQueryDays {
		res, err := s.api.Search(ctx, stac.Query{
			Collection: collection,
			Filter:     productFilter(productType, baseline),
			Start:      t0,
			End:        t1,
			MaxItems:   maxItems,
		})
		if err != nil {
			return nil, err
		}
		return s.cleanResults(res, productType, t0, t1, true, format), nil
	}

	ranges := DayRanges(t0, t1)
	var urls []string
	for i, dr := range ranges {
		res, err := s.api.Search(ctx, stac.Query{
			Collection: collection,
			Filter:     productFilter(productType, baseline),
			Start:      dr.Start,
			End:        dr.End,
			MaxItems:   maxItems,
		})
		if err != nil {
			return nil, err
		}
		dayURLs := s.cleanResults(res, productType, dr.Start, dr.End, true, format)
		s.log.Debug("day search",
			"day", fmt.Sprintf("%d/%d", i+1, len(ranges)),
			"start", granule.ToZulu(dr.Start),
			"end", granule.ToZulu(dr.End),
			"found", len(dayURLs))
		urls = append(urls, dayURLs...)
	}
	return urls, nil
}

// URLsByOrbit searches for a product by orbit number and frame letter,
// e.g. "02163E". Products without indexed orbit metadata return no
// results with a warning.
func (s *Searcher) URLsByOrbit(ctx context.Context, collection, productType, orbitFrame, baseline string, maxItems int, format string) ([]string, error) {
	if noOrbitProducts[productType] {
		s.log.Warn("product has no orbit/frame metadata indexed, use a time range instead",
			"product", productType)
		return nil, nil
	}

	orbitFrame = strings.ToUpper(strings.TrimSpace(orbitFrame))
	if len(orbitFrame) < 2 {
		return nil, fmt.Errorf("search: invalid orbit+frame %q", orbitFrame)
	}
	frame := orbitFrame[len(orbitFrame)-1:]
	orbit, err := strconv.Atoi(orbitFrame[:len(orbitFrame)-1])
	if err != nil {
		return nil, fmt.Errorf("search: invalid orbit number in %q", orbitFrame)
	}

	filter := fmt.Sprintf("productType = '%s' AND orbitNumber = %d AND frame = '%s'",
		productType, orbit, frame)
	if baseline != "" {
		filter += fmt.Sprintf(" AND productVersion = '%s'", baseline)
	}

	if maxItems <= 0 {
		maxItems = 100
	}
	res, err := s.api.Search(ctx, stac.Query{
		Collection: collection,
		Filter:     filter,
		MaxItems:   maxItems,
	})
	if err != nil {
		return nil, err
	}
	return s.cleanResults(res, productType, time.Time{}, time.Time{}, true, format), nil
}

// cleanResults turns raw search items into sorted URLs: asset
// extraction, sensing-time filtering, sort, and per-product dedup.
func (s *Searcher) cleanResults(res *stac.Result, productType string, start, end time.Time, dedup bool, format string) []string {
	urls := extractEnclosures(res.Items, format)
	urls = granule.FilterBySensingTime(urls, start, end)
	sortBySensingTime(urls)
	if dedup && dedupProducts[productType] {
		urls = s.dedupURLs(urls)
	}
	return urls
}

// extractEnclosures picks one download URL per item. The preferred
// asset key wins; otherwise the first asset whose key starts with
// "enclosure" is used. Items without enclosures are skipped.
func extractEnclosures(items []stac.Item, format string) []string {
	preferred := "enclosure_h5"
	if format == "hdr" {
		preferred = "enclosure_hdr"
	}

	var urls []string
	for _, item := range items {
		if a, ok := item.Assets[preferred]; ok && a.Href != "" {
			urls = append(urls, a.Href)
			continue
		}
		keys := make([]string, 0, len(item.Assets))
		for k := range item.Assets {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if strings.HasPrefix(k, "enclosure") && item.Assets[k].Href != "" {
				urls = append(urls, item.Assets[k].Href)
				break
			}
		}
	}
	return urls
}

func sortBySensingTime(urls []string) {
	sort.SliceStable(urls, func(i, j int) bool {
		ti, _ := granule.SensingTime(urls[i])
		tj, _ := granule.SensingTime(urls[j])
		return ti.Before(tj)
	})
}

// dedupURLs keeps one URL per (baseline, sensing time), preferring the
// earliest creation time. URLs missing any of the three fields are
// dropped with a warning.
func (s *Searcher) dedupURLs(urls []string) []string {
	type key struct {
		baseline string
		sensing  time.Time
	}
	type best struct {
		url      string
		creation time.Time
	}
	byKey := make(map[key]best)
	var order []key
	for _, url := range urls {
		baseline := granule.Baseline(url)
		sensing, okS := granule.SensingTime(url)
		creation, okC := granule.CreationTime(url)
		if baseline == "" || !okS || !okC {
			s.log.Warn("skipping URL with missing metadata", "url", url)
			continue
		}
		k := key{baseline: baseline, sensing: sensing}
		cur, seen := byKey[k]
		if !seen {
			order = append(order, k)
		}
		if !seen || creation.Before(cur.creation) {
			byKey[k] = best{url: url, creation: creation}
		}
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k].url)
	}
	return out
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}
