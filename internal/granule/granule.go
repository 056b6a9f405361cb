// Package granule extracts structured metadata from satellite product
// filenames and URLs. Two naming conventions are supported concurrently:
// the EarthCARE convention (baseline in the filename, orbit+frame before
// the extension) and the legacy Aeolus convention (baseline in the URL
// path, millisecond timestamps, orbit/duration/version fields in the
// filename).
//
// Every extractor is best-effort and never fails: a field that cannot be
// parsed is reported as its zero value. All timestamps are UTC.
package granule

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Info holds the metadata extracted from a single product filename.
// Fields other than Filename are zero when the pattern does not match.
type Info struct {
	Filename     string
	Mission      string
	Agency       string
	Baseline     string
	ProductType  string
	SensingTime  time.Time
	CreationTime time.Time
	OrbitFrame   string
	FileClass    string
	DurationMS   int
	FileVersion  string
}

var (
	// Aeolus sensing time, millisecond precision. Must be tried before
	// the 6-digit pattern: a 9-digit time would partially match it.
	reSensingMS = regexp.MustCompile(`_(\d{8}T\d{9})_`)
	// EarthCARE (and Aeolus 2B) sensing time, second precision.
	reSensingS = regexp.MustCompile(`_(\d{8}T\d{6})Z?_`)

	reCreation = regexp.MustCompile(`_\d{8}T\d{6}Z_(\d{8}T\d{6})Z_`)

	reOrbitFrameECA = regexp.MustCompile(`(?i)_(\d{5})([A-Z])\.[a-zA-Z0-9]+$`)
	reOrbitAE       = regexp.MustCompile(`(?i)_(\d{6})_\d{4}\.[A-Z]{3}$`)

	reAgencyECA = regexp.MustCompile(`^ECA_([A-Z]{2})[A-Z]{2}_`)

	reFileClassAE = regexp.MustCompile(`^AE_([A-Z]{4})_`)

	reDurationAE = regexp.MustCompile(`(?i)_\d{8}T\d{9}_(\d{9})_\d{6}_\d{4}\.[A-Z]{3}$`)

	reVersionAE = regexp.MustCompile(`(?i)_(\d{4})\.[A-Z]{3}$`)

	reBaselineECA = regexp.MustCompile(`^ECA_[A-Z]{2}([A-Z]{2})_`)
	// Aeolus carries the baseline in the URL path, not the filename:
	// .../ALD_U_N_1B/1B16/2023/04/22/...
	reBaselineAE = regexp.MustCompile(`(?i)/ALD_[UC]_N_\d[AB]/([A-Za-z0-9]{4})/\d{4}/`)

	reProductECA = regexp.MustCompile(`^ECA_[A-Z]{4}_(.+?)_\d{8}T\d{6}Z_`)
	reProductAE  = regexp.MustCompile(`^AE_[A-Z]{4}_(ALD_[UC]_N_\d[AB])_\d{8}T\d{9}_`)
)

// basename strips directory components from a filename, URL, or path.
func basename(uri string) string {
	return path.Base(strings.ReplaceAll(uri, "\\", "/"))
}

// SensingTime extracts the acquisition start timestamp from a product
// filename. The millisecond pattern is tried first to avoid a partial
// false match by the coarser second-precision pattern.
func SensingTime(uri string) (time.Time, bool) {
	name := basename(uri)

	if m := reSensingMS.FindStringSubmatch(name); m != nil {
		t, err := time.ParseInLocation("20060102T150405", m[1][:15], time.UTC)
		if err == nil {
			ms, _ := strconv.Atoi(m[1][15:])
			return t.Add(time.Duration(ms) * time.Millisecond), true
		}
	}

	if m := reSensingS.FindStringSubmatch(name); m != nil {
		t, err := time.ParseInLocation("20060102T150405", m[1], time.UTC)
		if err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// CreationTime extracts the processing timestamp (second timestamp) from
// an EarthCARE filename.
func CreationTime(uri string) (time.Time, bool) {
	name := basename(uri)
	m := reCreation.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("20060102T150405", m[1], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// OrbitFrame extracts the combined orbit+frame token: five digits plus a
// frame letter for EarthCARE ("07282E"), six digits with no frame letter
// for Aeolus ("027018").
func OrbitFrame(uri string) string {
	name := basename(uri)
	if m := reOrbitFrameECA.FindStringSubmatch(name); m != nil {
		return m[1] + strings.ToUpper(m[2])
	}
	if m := reOrbitAE.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return ""
}

// Agency extracts the agency code: "EX" (ESA) or "JX" (JAXA) for
// EarthCARE; Aeolus is always an ESA mission ("EX").
func Agency(uri string) string {
	name := basename(uri)
	if m := reAgencyECA.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	if strings.HasPrefix(name, "AE_") {
		return "EX"
	}
	return ""
}

// FileClass extracts the Aeolus file class (OPER, RPRO, OFFL, OSVA, TEST).
func FileClass(uri string) string {
	name := basename(uri)
	if m := reFileClassAE.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return ""
}

// DurationMS extracts the Aeolus sensing duration in milliseconds.
// Returns 0 when the filename does not carry a duration field.
func DurationMS(uri string) int {
	name := basename(uri)
	if m := reDurationAE.FindStringSubmatch(name); m != nil {
		d, _ := strconv.Atoi(m[1])
		return d
	}
	return 0
}

// FileVersion extracts the Aeolus file version ("0001").
func FileVersion(uri string) string {
	name := basename(uri)
	if !strings.HasPrefix(name, "AE_") {
		return ""
	}
	if m := reVersionAE.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return ""
}

// Baseline extracts the baseline version. EarthCARE encodes it in the
// filename ("BC"); Aeolus encodes it in the URL path after the product
// type ("1B16"), so the full URI must be inspected, not just the name.
func Baseline(uri string) string {
	name := basename(uri)
	if m := reBaselineECA.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	if strings.HasPrefix(name, "AE_") {
		if m := reBaselineAE.FindStringSubmatch(uri); m != nil {
			return m[1]
		}
	}
	return ""
}

// Product extracts the product type name ("BM__RAD_2B", "ALD_U_N_1B").
func Product(uri string) string {
	name := basename(uri)
	if m := reProductECA.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	if m := reProductAE.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return ""
}

// Mission identifies the mission by filename prefix: "ECA" or "AE".
func Mission(uri string) string {
	name := basename(uri)
	switch {
	case strings.HasPrefix(name, "ECA_"):
		return "ECA"
	case strings.HasPrefix(name, "AE_"):
		return "AE"
	}
	return ""
}

// Extract runs every extractor against uri and returns the combined
// metadata. It is side-effect free and idempotent.
func Extract(uri string) Info {
	name := basename(uri)
	sensing, _ := SensingTime(name)
	creation, _ := CreationTime(name)
	return Info{
		Filename:     name,
		Mission:      Mission(name),
		Agency:       Agency(name),
		Baseline:     Baseline(uri),
		ProductType:  Product(name),
		SensingTime:  sensing,
		CreationTime: creation,
		OrbitFrame:   OrbitFrame(name),
		FileClass:    FileClass(name),
		DurationMS:   DurationMS(name),
		FileVersion:  FileVersion(name),
	}
}

// FilterBySensingTime keeps items whose filename-derived sensing time
// falls inside [start, end]. A zero bound means unbounded on that side.
// Items without an extractable sensing time are dropped.
func FilterBySensingTime(items []string, start, end time.Time) []string {
	if start.IsZero() && end.IsZero() {
		return items
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		st, ok := SensingTime(item)
		if !ok {
			continue
		}
		if !start.IsZero() && st.Before(start) {
			continue
		}
		if !end.IsZero() && st.After(end) {
			continue
		}
		out = append(out, item)
	}
	return out
}
