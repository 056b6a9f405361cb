// Package catalog manages the two catalog layers kept on disk: raw
// per-collection queryables fetched from the service, and built
// collection catalogs summarizing which products and baselines hold
// data over which time ranges.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Queryables is the searchable-properties schema of one collection.
type Queryables struct {
	Collection string         `json:"collection"`
	Properties map[string]any `json:"properties"`
}

// enumOf pulls the enum list out of a queryables property entry.
func (q *Queryables) enumOf(name string) []string {
	prop, ok := q.Properties[name].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := prop["enum"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ListProducts returns the product types searchable in the collection.
func (q *Queryables) ListProducts() []string {
	return q.enumOf("productType")
}

// ListBaselines returns the baseline versions, uppercased and sorted.
func (q *Queryables) ListBaselines() []string {
	baselines := q.enumOf("productVersion")
	out := make([]string, len(baselines))
	for i, b := range baselines {
		out[i] = strings.ToUpper(b)
	}
	sort.Strings(out)
	return out
}

// SupportsOrbit reports whether the collection indexes orbit numbers.
func (q *Queryables) SupportsOrbit() bool {
	_, ok := q.Properties["orbitNumber"]
	return ok
}

// Fetcher retrieves raw queryables JSON from the service.
type Fetcher interface {
	Queryables(ctx context.Context, collection string) ([]byte, error)
}

// QueryablesManager caches queryables on disk and in memory.
type QueryablesManager struct {
	dir     string
	fetcher Fetcher
	cache   map[string]*Queryables
}

// NewQueryablesManager returns a manager storing queryables under dir.
func NewQueryablesManager(dir string, fetcher Fetcher) *QueryablesManager {
	return &QueryablesManager{dir: dir, fetcher: fetcher, cache: make(map[string]*Queryables)}
}

// Path is the on-disk location of a collection's queryables file.
func (m *QueryablesManager) Path(collection string) string {
	return filepath.Join(m.dir, collection+"_queryables.json")
}

// Fetch retrieves and parses queryables from the service without
// touching the cache.
func (m *QueryablesManager) Fetch(ctx context.Context, collection string) (*Queryables, error) {
	data, err := m.fetcher.Queryables(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch queryables for %s: %w", collection, err)
	}
	var q Queryables
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("catalog: parse queryables for %s: %w", collection, err)
	}
	q.Collection = collection
	return &q, nil
}

// Download fetches and stores queryables for each collection, skipping
// ones already on disk unless force is set. Returns paths per
// collection.
func (m *QueryablesManager) Download(ctx context.Context, collections []string, force bool) (map[string]string, error) {
	results := make(map[string]string, len(collections))
	for _, collection := range collections {
		path := m.Path(collection)
		if !force {
			if _, err := os.Stat(path); err == nil {
				results[collection] = path
				continue
			}
		}
		q, err := m.Fetch(ctx, collection)
		if err != nil {
			return results, err
		}
		if err := m.save(q); err != nil {
			return results, err
		}
		results[collection] = path
	}
	return results, nil
}

// Load returns the queryables for a collection, from memory or disk if
// available, fetching and persisting them otherwise. With refresh set
// the service is always consulted.
func (m *QueryablesManager) Load(ctx context.Context, collection string, refresh bool) (*Queryables, error) {
	if !refresh {
		if q, ok := m.cache[collection]; ok {
			return q, nil
		}
		if q, err := m.loadFile(collection); err != nil {
			return nil, err
		} else if q != nil {
			m.cache[collection] = q
			return q, nil
		}
	}

	q, err := m.Fetch(ctx, collection)
	if err != nil {
		return nil, err
	}
	if err := m.save(q); err != nil {
		return nil, err
	}
	return q, nil
}

// ListDownloaded filters collections down to those with a local
// queryables file.
func (m *QueryablesManager) ListDownloaded(collections []string) []string {
	var downloaded []string
	for _, c := range collections {
		if _, err := os.Stat(m.Path(c)); err == nil {
			downloaded = append(downloaded, c)
		}
	}
	return downloaded
}

func (m *QueryablesManager) loadFile(collection string) (*Queryables, error) {
	data, err := os.ReadFile(m.Path(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: read queryables for %s: %w", collection, err)
	}
	var q Queryables
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("catalog: parse queryables for %s: %w", collection, err)
	}
	q.Collection = collection
	return &q, nil
}

func (m *QueryablesManager) save(q *Queryables) error {
	path := m.Path(q.Collection)
	if err := writeJSONAtomic(path, q); err != nil {
		return err
	}
	m.cache[q.Collection] = q
	return nil
}
