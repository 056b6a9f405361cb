package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/earthfocus/maap-client/internal/granule"
)

// SchemaVersion is written into every built catalog.
const SchemaVersion = "1.0"

// ZuluTime is a second-precision UTC timestamp that marshals as
// "2006-01-02T15:04:05Z" and as null when zero.
type ZuluTime struct {
	time.Time
}

// Zulu wraps a time for catalog serialization.
func Zulu(t time.Time) ZuluTime { return ZuluTime{t} }

func (z ZuluTime) MarshalJSON() ([]byte, error) {
	if z.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(granule.ToZulu(z.Time))
}

func (z *ZuluTime) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil {
		z.Time = time.Time{}
		return nil
	}
	t, err := granule.ParseTime(*s)
	if err != nil {
		return err
	}
	z.Time = t
	return nil
}

// BaselineInfo summarizes one baseline's data holdings. Frame fields
// are omitted for missions without orbit frames.
type BaselineInfo struct {
	TimeStart  ZuluTime `json:"time_start"`
	TimeEnd    ZuluTime `json:"time_end"`
	FrameStart string   `json:"frame_start,omitempty"`
	FrameEnd   string   `json:"frame_end,omitempty"`
	Count      int      `json:"count"`
	UpdatedAt  ZuluTime `json:"updated_at"`
}

// TimeRange returns the covered range, false when either bound is
// unset.
func (b *BaselineInfo) TimeRange() (time.Time, time.Time, bool) {
	if b == nil || b.TimeStart.IsZero() || b.TimeEnd.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	return b.TimeStart.Time, b.TimeEnd.Time, true
}

// ProductInfo holds the baselines of one product. The map serializes
// with sorted keys, which keeps built catalogs diff-friendly.
type ProductInfo struct {
	Baselines map[string]*BaselineInfo `json:"baselines"`
}

// NewProductInfo returns an empty product entry.
func NewProductInfo() *ProductInfo {
	return &ProductInfo{Baselines: make(map[string]*BaselineInfo)}
}

// ListBaselines returns baseline names in sorted order.
func (p *ProductInfo) ListBaselines() []string {
	names := make([]string, 0, len(p.Baselines))
	for name := range p.Baselines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClientInfo records which client built a catalog.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Collection is a built catalog for one collection. Field order here is
// the serialization order of the top-level keys; nested maps serialize
// with sorted keys.
type Collection struct {
	Schema      string                  `json:"schema"`
	GeneratedAt string                  `json:"generated_at"`
	Collection  string                  `json:"collection"`
	Client      ClientInfo              `json:"client"`
	Products    map[string]*ProductInfo `json:"products"`
}

// GetProduct returns the entry for a product, nil when absent.
func (c *Collection) GetProduct(name string) *ProductInfo {
	return c.Products[name]
}

// SetProduct stores or replaces a product entry.
func (c *Collection) SetProduct(name string, info *ProductInfo) {
	if c.Products == nil {
		c.Products = make(map[string]*ProductInfo)
	}
	c.Products[name] = info
}

// ListProducts returns product names in sorted order.
func (c *Collection) ListProducts() []string {
	names := make([]string, 0, len(c.Products))
	for name := range c.Products {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CollectionManager persists built catalogs, one JSON file per
// collection, with an in-memory cache.
type CollectionManager struct {
	dir   string
	cache map[string]*Collection
}

// NewCollectionManager returns a manager storing catalogs under dir.
func NewCollectionManager(dir string) *CollectionManager {
	return &CollectionManager{dir: dir, cache: make(map[string]*Collection)}
}

// Path is the on-disk location of a collection's built catalog.
func (m *CollectionManager) Path(collection string) string {
	return filepath.Join(m.dir, collection+"_collection.json")
}

// Load reads a built catalog, nil when none exists.
func (m *CollectionManager) Load(collection string) (*Collection, error) {
	if c, ok := m.cache[collection]; ok {
		return c, nil
	}
	data, err := os.ReadFile(m.Path(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: read %s: %w", m.Path(collection), err)
	}
	var c Collection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", m.Path(collection), err)
	}
	m.cache[collection] = &c
	return &c, nil
}

// Save writes a built catalog atomically and updates the cache.
func (m *CollectionManager) Save(c *Collection) (string, error) {
	path := m.Path(c.Collection)
	if err := writeJSONAtomic(path, c); err != nil {
		return "", err
	}
	m.cache[c.Collection] = c
	return path, nil
}

// Delete removes a collection's built catalog from disk and cache.
func (m *CollectionManager) Delete(collection string) error {
	delete(m.cache, collection)
	if err := os.Remove(m.Path(collection)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("catalog: delete %s: %w", m.Path(collection), err)
	}
	return nil
}

// writeJSONAtomic writes v as indented JSON via a temp file and rename,
// so readers never observe a partial catalog.
func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("catalog: create %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: encode %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("catalog: write %s: %w", path, err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("catalog: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("catalog: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("catalog: write %s: %w", path, err)
	}
	return nil
}
