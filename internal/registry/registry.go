// Package registry implements the date-partitioned flat-file store that
// tracks discovered URLs, completed downloads, and processed (marked)
// files for one (collection, product, baseline) triple.
//
// File layout:
//
//	registryDir/urls/{mission}/{collection}/{product}/{baseline}/{year}/url_YYYYMMDD.txt
//	registryDir/downloads/.../dwl_YYYYMMDD.txt
//	registryDir/marked/.../mrk_YYYYMMDD.txt
//	registryDir/downloads/.../errors.txt
//
// The partition key is always the sensing time embedded in the product
// filename, never the wall-clock time of the write: a product discovered
// today with last month's sensing time is filed under last month.
//
// Records are one per line, either KEY or KEY|VALUE; blank lines and
// #-comments are ignored on read. Files are append-friendly but the URL
// files may be fully rewritten on merge to keep sorted order.
//
// The store assumes a single writer at a time. Concurrent processes
// mutating the same triple can race on read-merge-rewrite and on
// appends; callers must serialize invocations externally (cron-style
// usage). There is no lock file.
package registry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/earthfocus/maap-client/internal/granule"
)

// Filename prefixes per record kind.
const (
	URLPrefix = "url_"
	DwlPrefix = "dwl_"
	MrkPrefix = "mrk_"
)

// Pair is one registry record: a key with an optional value.
type Pair struct {
	Key   string
	Value string
}

// DatedPair is a record annotated with the calendar date of the file it
// was read from (zero when the filename carried no parsable date).
type DatedPair struct {
	Key   string
	Value string
	Date  time.Time
}

// Store generates paths and performs low-level file operations for one
// (collection, product, baseline) triple. It carries no workflow policy;
// that lives in the tracker package.
type Store struct {
	mission    string
	collection string
	product    string
	baseline   string

	urlsDir      string
	downloadsDir string
	markedDir    string
}

// New returns a Store rooted at registryDir for the given triple.
func New(registryDir, mission, collection, product, baseline string) *Store {
	return &Store{
		mission:      mission,
		collection:   collection,
		product:      product,
		baseline:     baseline,
		urlsDir:      granule.RegistryPath(registryDir, "urls", mission, collection, product, baseline),
		downloadsDir: granule.RegistryPath(registryDir, "downloads", mission, collection, product, baseline),
		markedDir:    granule.RegistryPath(registryDir, "marked", mission, collection, product, baseline),
	}
}

// URLsDir is the base directory for URL files.
func (s *Store) URLsDir() string { return s.urlsDir }

// DownloadsDir is the base directory for download files.
func (s *Store) DownloadsDir() string { return s.downloadsDir }

// MarkedDir is the base directory for marked files.
func (s *Store) MarkedDir() string { return s.markedDir }

// ErrorsFile is the non-date-partitioned error log.
func (s *Store) ErrorsFile() string { return filepath.Join(s.downloadsDir, "errors.txt") }

func dailyFile(dir, prefix string, d time.Time) string {
	d = d.UTC()
	return filepath.Join(dir, fmt.Sprintf("%04d", d.Year()), prefix+d.Format("20060102")+".txt")
}

// URLFileForDate returns the URL file path for a calendar date.
func (s *Store) URLFileForDate(d time.Time) string { return dailyFile(s.urlsDir, URLPrefix, d) }

// DwlFileForDate returns the download file path for a calendar date.
func (s *Store) DwlFileForDate(d time.Time) string { return dailyFile(s.downloadsDir, DwlPrefix, d) }

// MrkFileForDate returns the marked file path for a calendar date.
func (s *Store) MrkFileForDate(d time.Time) string { return dailyFile(s.markedDir, MrkPrefix, d) }

// CreateDirs creates the base directories for all three kinds.
func (s *Store) CreateDirs() error {
	for _, dir := range []string{s.urlsDir, s.downloadsDir, s.markedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("registry: create %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureDir creates the parent directory of path.
func EnsureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("registry: create %s: %w", filepath.Dir(path), err)
	}
	return nil
}

// ReadPairs reads one record file. Records are KEY or KEY|VALUE; blank
// lines and #-comments are skipped. A missing file reads as empty.
func ReadPairs(path string) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	defer f.Close()

	var pairs []Pair
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, _ := strings.Cut(line, "|")
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	return pairs, nil
}

// CountLines counts records in a file using the same blank-line and
// comment skip rule as ReadPairs. This equality is what makes the
// skip-if-same-count optimization in SaveURLs sound. A missing file
// counts as zero.
func CountLines(path string) (int, error) {
	pairs, err := ReadPairs(path)
	if err != nil {
		return 0, err
	}
	return len(pairs), nil
}

// Touch refreshes the modification time of an existing file.
func Touch(path string) error {
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("registry: touch %s: %w", path, err)
	}
	return nil
}

var reFileDate = regexp.MustCompile(`(\d{8})\.txt$`)

// ExtractFileDate parses the calendar date out of a registry filename of
// the form {prefix}YYYYMMDD.txt.
func ExtractFileDate(filename, prefix string) (time.Time, bool) {
	name := filepath.Base(filename)
	if !strings.HasPrefix(name, prefix) {
		return time.Time{}, false
	}
	m := reFileDate.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation("20060102", m[1], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// ReadDailyPairs reads several daily files, skipping files whose
// filename date falls outside [startDate, endDate]. The date filter is
// coarse (file-level); callers needing record-level precision filter the
// results by sensing time afterwards.
func ReadDailyPairs(files []string, prefix string, startDate, endDate time.Time) ([]DatedPair, error) {
	var out []DatedPair
	for _, f := range files {
		fdate, ok := ExtractFileDate(f, prefix)
		if ok {
			if !startDate.IsZero() && fdate.Before(dateOf(startDate)) {
				continue
			}
			if !endDate.IsZero() && fdate.After(dateOf(endDate)) {
				continue
			}
		}
		pairs, err := ReadPairs(f)
		if err != nil {
			return nil, err
		}
		for _, p := range pairs {
			out = append(out, DatedPair{Key: p.Key, Value: p.Value, Date: fdate})
		}
	}
	return out, nil
}

// WritePairs rewrites a record file with the given pairs.
func WritePairs(path string, pairs []Pair) error {
	if err := EnsureDir(path); err != nil {
		return err
	}
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(formatPair(p))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("registry: write %s: %w", path, err)
	}
	return nil
}

// AppendLine appends one raw line to a record file, creating it and its
// directory as needed. Appends never rewrite existing content.
func AppendLine(path, line string) error {
	if err := EnsureDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("registry: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("registry: append %s: %w", path, err)
	}
	return nil
}

// AppendPair appends one record to a file.
func AppendPair(path string, p Pair) error {
	return AppendLine(path, formatPair(p))
}

func formatPair(p Pair) string {
	if p.Value != "" {
		return p.Key + "|" + p.Value
	}
	return p.Key
}

func listFiles(dir, prefix string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".txt") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry: list %s: %w", dir, err)
	}
	// Filename order is date order, which downstream processing relies on.
	sort.Strings(files)
	return files, nil
}

// ListURLFiles lists all URL files in date order.
func (s *Store) ListURLFiles() ([]string, error) { return listFiles(s.urlsDir, URLPrefix) }

// ListDwlFiles lists all download files in date order.
func (s *Store) ListDwlFiles() ([]string, error) { return listFiles(s.downloadsDir, DwlPrefix) }

// ListMrkFiles lists all marked files in date order.
func (s *Store) ListMrkFiles() ([]string, error) { return listFiles(s.markedDir, MrkPrefix) }

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
