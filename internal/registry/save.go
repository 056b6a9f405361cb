package registry

import (
	"os"
	"sort"
	"time"

	"github.com/earthfocus/maap-client/internal/granule"
)

// SaveURLs merges URLs into date-partitioned files, grouping by the
// sensing date extracted from each filename. URLs without an extractable
// sensing time are silently dropped.
//
// When an existing file already holds exactly as many records as the
// incoming set for that date, the file is left untouched apart from a
// mtime refresh. This avoids needless rewrites but cannot detect a file
// whose content changed while its count stayed the same; exact
// reconciliation requires deleting the file first.
//
// New URLs are merged with existing records, local download paths are
// computed when dataDir is non-empty, and the file is rewritten sorted
// by URL. Returns the count of genuinely new URLs and the files touched.
func (s *Store) SaveURLs(urls []string, dataDir string) (int, []string, error) {
	byDate := make(map[time.Time][]string)
	var order []time.Time
	for _, url := range urls {
		st, ok := granule.SensingTime(url)
		if !ok {
			continue
		}
		d := dateOf(st)
		if _, seen := byDate[d]; !seen {
			order = append(order, d)
		}
		byDate[d] = append(byDate[d], url)
	}

	newCount := 0
	var written []string

	for _, d := range order {
		dateURLs := byDate[d]
		urlFile := s.URLFileForDate(d)

		if _, err := os.Stat(urlFile); err == nil {
			existingCount, err := CountLines(urlFile)
			if err != nil {
				return newCount, written, err
			}
			if existingCount == len(dateURLs) {
				if err := Touch(urlFile); err != nil {
					return newCount, written, err
				}
				written = append(written, urlFile)
				continue
			}
		}

		existing, err := ReadPairs(urlFile)
		if err != nil {
			return newCount, written, err
		}
		lines := make(map[string]Pair, len(existing))
		for _, p := range existing {
			lines[p.Key] = p
		}

		added := 0
		for _, url := range dateURLs {
			if _, ok := lines[url]; ok {
				continue
			}
			localPath := ""
			if dataDir != "" {
				if p, ok := granule.URLToLocalPath(url, dataDir, s.mission, s.collection); ok {
					localPath = p
				}
			}
			lines[url] = Pair{Key: url, Value: localPath}
			added++
		}
		if added == 0 {
			continue
		}

		keys := make([]string, 0, len(lines))
		for k := range lines {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]Pair, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, lines[k])
		}
		if err := WritePairs(urlFile, pairs); err != nil {
			return newCount, written, err
		}
		newCount += added
		written = append(written, urlFile)
	}

	return newCount, written, nil
}

// LoadURLs reads URLs back from the registry, deduplicated, coarsely
// filtered by file date and then exactly by sensing time.
func (s *Store) LoadURLs(start, end time.Time) ([]string, error) {
	files, err := s.ListURLFiles()
	if err != nil {
		return nil, err
	}

	var urls []string
	seen := make(map[string]struct{})
	for _, f := range files {
		if fdate, ok := ExtractFileDate(f, URLPrefix); ok {
			if !start.IsZero() && fdate.Before(dateOf(start)) {
				continue
			}
			if !end.IsZero() && fdate.After(dateOf(end)) {
				continue
			}
		}
		pairs, err := ReadPairs(f)
		if err != nil {
			return nil, err
		}
		for _, p := range pairs {
			if _, dup := seen[p.Key]; dup {
				continue
			}
			seen[p.Key] = struct{}{}
			urls = append(urls, p.Key)
		}
	}
	return granule.FilterBySensingTime(urls, start, end), nil
}
