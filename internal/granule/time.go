package granule

import (
	"fmt"
	"strings"
	"time"
)

const zuluFormat = "2006-01-02T15:04:05Z"

// ToZulu renders t as an ISO 8601 Zulu string with second precision.
func ToZulu(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(zuluFormat)
}

// ParseTime parses an ISO 8601 timestamp or a bare date. Timestamps
// without an explicit offset are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	if strings.Contains(s, "T") {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("granule: parse time %q: unsupported format", s)
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("granule: parse date %q: %w", s, err)
	}
	return t, nil
}

// FormatTimeRange renders an optional time range for log output.
func FormatTimeRange(start, end time.Time) string {
	switch {
	case !start.IsZero() && !end.IsZero():
		return fmt.Sprintf(" [%s - %s]", ToZulu(start), ToZulu(end))
	case !start.IsZero():
		return fmt.Sprintf(" [from %s]", ToZulu(start))
	case !end.IsZero():
		return fmt.Sprintf(" [to %s]", ToZulu(end))
	}
	return ""
}

// NormalizeTimeRange clamps an optional [start, end] request into
// [missionStart, min(now, missionEnd)]. Zero bounds default to the
// mission bounds. Out-of-range requests are silently corrected rather
// than rejected; the result always satisfies
// missionStart <= t0 <= t1 <= min(now, missionEnd).
func NormalizeTimeRange(start, end, missionStart, missionEnd time.Time) (time.Time, time.Time) {
	now := time.Now().UTC().Truncate(time.Second)

	endCap := missionEnd
	if now.Before(endCap) {
		endCap = now
	}

	t0 := missionStart
	if !start.IsZero() && start.After(missionStart) {
		t0 = start
	}

	t1 := endCap
	if !end.IsZero() && end.Before(endCap) {
		t1 = end
	}
	if t1.Before(missionStart) {
		t1 = missionStart
	}

	if t0.After(t1) {
		t0 = t1
	}
	return t0, t1
}
