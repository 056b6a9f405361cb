package catalog

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/earthfocus/maap-client/internal/granule"
)

// SearchService is the discovery surface the builder needs. It is
// implemented by the client over the searcher so the builder stays
// decoupled from transport concerns.
type SearchService interface {
	HasAnyProduct(ctx context.Context, collection, productType, baseline string, start, end time.Time) (bool, error)
	ProductCount(ctx context.Context, collection, productType, baseline string, start, end time.Time) (int, error)
	ProductInfoRange(ctx context.Context, collection, productType, baseline string, start, end time.Time) (*granule.Info, *granule.Info, error)
	Baselines(ctx context.Context, collection, productType string, candidates []string, start, end time.Time, latest bool) ([]string, error)
}

// Builder builds and incrementally updates per-collection catalogs.
type Builder struct {
	Manager    *CollectionManager
	Queryables *QueryablesManager
	Search     SearchService
	// Normalize clamps a requested range to mission bounds.
	Normalize func(start, end time.Time) (time.Time, time.Time)
	Version   string
	Log       *slog.Logger
}

// BuildOptions narrows what a build touches.
type BuildOptions struct {
	Products       []string
	Baselines      []string
	LatestBaseline bool
	Start          time.Time
	End            time.Time
	Force          bool
}

// Build creates or updates the catalog for a collection.
//
// With a time range set, updates are incremental: a baseline already
// covering the range is skipped, and a baseline covered partially is
// extended by fetching only the uncovered edges (with a one second gap
// to the covered range) and merging counts. Force discards the
// existing catalog first.
func (b *Builder) Build(ctx context.Context, collection string, opts BuildOptions) (*Collection, error) {
	log := b.Log
	if log == nil {
		log = slog.Default()
	}
	now := granule.ToZulu(time.Now().UTC())

	if opts.Force {
		if err := b.Manager.Delete(collection); err != nil {
			return nil, err
		}
	}

	cat, err := b.Manager.Load(collection)
	if err != nil {
		return nil, err
	}
	if cat != nil {
		cat.GeneratedAt = now
	} else {
		cat = &Collection{
			Schema:      SchemaVersion,
			GeneratedAt: now,
			Collection:  collection,
			Client:      ClientInfo{Name: "maap-client", Version: b.Version},
			Products:    make(map[string]*ProductInfo),
		}
	}

	queryables, err := b.Queryables.Load(ctx, collection, false)
	if err != nil {
		return nil, err
	}
	products := queryables.ListProducts()
	if len(opts.Products) > 0 {
		products = intersect(products, opts.Products)
	}

	for _, product := range products {
		log.Info("processing product", "collection", collection, "product", product)
		allBaselines := queryables.ListBaselines()

		productInfo := cat.GetProduct(product)
		if productInfo == nil {
			productInfo = NewProductInfo()
			cat.SetProduct(product, productInfo)
		}

		baselines, err := b.baselinesToUpdate(ctx, collection, product, productInfo, allBaselines, opts)
		if err != nil {
			return nil, err
		}

		for _, baseline := range baselines {
			if err := b.updateBaseline(ctx, cat, productInfo, collection, product, baseline, opts, now, log); err != nil {
				return nil, err
			}
		}
	}

	return cat, nil
}

// baselinesToUpdate decides which baselines a build pass touches.
//
// Latest mode updates the newest baseline the catalog already knows
// about; a baseline added to the queryables later is only picked up by
// a full rebuild.
func (b *Builder) baselinesToUpdate(ctx context.Context, collection, product string, productInfo *ProductInfo, allBaselines []string, opts BuildOptions) ([]string, error) {
	if len(opts.Baselines) > 0 {
		wanted := make(map[string]bool, len(opts.Baselines))
		for _, f := range opts.Baselines {
			wanted[strings.ToUpper(f)] = true
		}
		var out []string
		for _, bl := range allBaselines {
			if wanted[strings.ToUpper(bl)] {
				out = append(out, bl)
			}
		}
		return out, nil
	}

	if opts.LatestBaseline {
		if existing := productInfo.ListBaselines(); len(existing) > 0 {
			return existing[len(existing)-1:], nil
		}
		verified, err := b.Search.Baselines(ctx, collection, product, allBaselines, time.Time{}, time.Time{}, true)
		if err != nil {
			return nil, err
		}
		return verified, nil
	}

	return allBaselines, nil
}

// fetchKind marks which end of a baseline's range a fetch extends.
type fetchKind int

const (
	fetchFull fetchKind = iota
	fetchBefore
	fetchAfter
)

type fetchWindow struct {
	start, end time.Time
	kind       fetchKind
}

func (b *Builder) updateBaseline(ctx context.Context, cat *Collection, productInfo *ProductInfo, collection, product, baseline string, opts BuildOptions, now string, log *slog.Logger) error {
	existing := productInfo.Baselines[baseline]
	effStart, effEnd := b.Normalize(opts.Start, opts.End)

	var windows []fetchWindow
	if t0, t1, ok := existing.TimeRange(); ok {
		if effStart.Before(t0) {
			windows = append(windows, fetchWindow{start: effStart, end: t0.Add(-time.Second), kind: fetchBefore})
		}
		if effEnd.After(t1) {
			windows = append(windows, fetchWindow{start: t1.Add(time.Second), end: effEnd, kind: fetchAfter})
		}
		if len(windows) == 0 {
			log.Info("skip, range already in catalog", "product", product, "baseline", baseline)
			return nil
		}
	} else {
		windows = append(windows, fetchWindow{start: effStart, end: effEnd, kind: fetchFull})
	}

	merged := BaselineInfo{}
	if existing != nil {
		merged = *existing
	}

	newCount := 0
	for _, w := range windows {
		log.Info("fetching range", "product", product, "baseline", baseline,
			"start", granule.ToZulu(w.start), "end", granule.ToZulu(w.end))

		ok, err := b.Search.HasAnyProduct(ctx, collection, product, baseline, w.start, w.end)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		info, err := b.baselineInfo(ctx, collection, product, baseline, w.start, w.end, now)
		if err != nil {
			return err
		}
		if info == nil {
			continue
		}
		newCount += info.Count
		if w.kind == fetchFull || w.kind == fetchBefore {
			merged.TimeStart = info.TimeStart
			merged.FrameStart = info.FrameStart
		}
		if w.kind == fetchFull || w.kind == fetchAfter {
			merged.TimeEnd = info.TimeEnd
			merged.FrameEnd = info.FrameEnd
		}
	}

	if newCount == 0 {
		log.Info("skip, no data", "product", product, "baseline", baseline)
		return nil
	}

	total := newCount
	if existing != nil {
		total += existing.Count
	}
	merged.Count = total
	merged.UpdatedAt = ZuluTime{mustParseZulu(now)}
	if productInfo.Baselines == nil {
		productInfo.Baselines = make(map[string]*BaselineInfo)
	}
	productInfo.Baselines[baseline] = &merged
	log.Info("baseline updated", "product", product, "baseline", baseline,
		"added", newCount, "total", total)
	return nil
}

// baselineInfo fetches first/last granule metadata and the match count
// for one window. Returns nil when the window holds no data.
func (b *Builder) baselineInfo(ctx context.Context, collection, product, baseline string, start, end time.Time, now string) (*BaselineInfo, error) {
	first, last, err := b.Search.ProductInfoRange(ctx, collection, product, baseline, start, end)
	if err != nil {
		return nil, err
	}
	if first == nil || last == nil {
		return nil, nil
	}
	count, err := b.Search.ProductCount(ctx, collection, product, baseline, start, end)
	if err != nil {
		return nil, err
	}
	return &BaselineInfo{
		TimeStart:  Zulu(first.SensingTime),
		TimeEnd:    Zulu(last.SensingTime),
		FrameStart: first.OrbitFrame,
		FrameEnd:   last.OrbitFrame,
		Count:      count,
		UpdatedAt:  ZuluTime{mustParseZulu(now)},
	}, nil
}

func intersect(items, allowed []string) []string {
	want := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		want[a] = true
	}
	var out []string
	for _, item := range items {
		if want[item] {
			out = append(out, item)
		}
	}
	return out
}

func mustParseZulu(s string) time.Time {
	t, err := granule.ParseTime(s)
	if err != nil {
		return time.Now().UTC().Truncate(time.Second)
	}
	return t
}

// Exists reports whether a built catalog file is present for the
// collection.
func (m *CollectionManager) Exists(collection string) bool {
	_, err := os.Stat(m.Path(collection))
	return err == nil
}
