package granule

import (
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-28T00:00:00Z", utc(2024, 5, 28, 0, 0, 0)},
		{"2024-05-28T12:30:00+00:00", utc(2024, 5, 28, 12, 30, 0)},
		{"2024-05-28T06:15:00", utc(2024, 5, 28, 6, 15, 0)},
		{"2024-05-28", utc(2024, 5, 28, 0, 0, 0)},
	}
	for _, tc := range cases {
		got, err := ParseTime(tc.in)
		if err != nil {
			t.Errorf("ParseTime(%q) error: %v", tc.in, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseTime(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := ParseTime("not-a-time"); err == nil {
		t.Error("ParseTime accepted garbage")
	}
}

func TestToZulu(t *testing.T) {
	in := time.Date(2025, 9, 8, 23, 25, 5, 123456789, time.FixedZone("CET", 3600))
	if got, want := ToZulu(in), "2025-09-08T22:25:05Z"; got != want {
		t.Errorf("ToZulu = %q, want %q", got, want)
	}
}

func TestNormalizeTimeRange(t *testing.T) {
	missionStart := utc(2024, 5, 28, 0, 0, 0)
	missionEnd := utc(2045, 12, 31, 23, 59, 59)
	now := time.Now().UTC()

	cases := []struct {
		name       string
		start, end time.Time
	}{
		{"both zero", time.Time{}, time.Time{}},
		{"start before mission", utc(2020, 1, 1, 0, 0, 0), time.Time{}},
		{"end after mission", time.Time{}, utc(2099, 1, 1, 0, 0, 0)},
		{"in range", utc(2024, 6, 1, 0, 0, 0), utc(2024, 7, 1, 0, 0, 0)},
		{"start in future", now.Add(240 * time.Hour), time.Time{}},
		{"end before mission", time.Time{}, utc(2020, 1, 1, 0, 0, 0)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t0, t1 := NormalizeTimeRange(tc.start, tc.end, missionStart, missionEnd)
			if t0.Before(missionStart) {
				t.Errorf("t0 %v before mission start", t0)
			}
			if t0.After(t1) {
				t.Errorf("t0 %v after t1 %v", t0, t1)
			}
			endCap := missionEnd
			if n := time.Now().UTC(); n.Before(endCap) {
				endCap = n
			}
			if t1.After(endCap) {
				t.Errorf("t1 %v after cap %v", t1, endCap)
			}
		})
	}
}

func TestNormalizeTimeRange_KeepsInRangeRequest(t *testing.T) {
	missionStart := utc(2024, 5, 28, 0, 0, 0)
	missionEnd := utc(2045, 12, 31, 23, 59, 59)
	start := utc(2024, 6, 1, 0, 0, 0)
	end := utc(2024, 7, 1, 0, 0, 0)

	t0, t1 := NormalizeTimeRange(start, end, missionStart, missionEnd)
	if !t0.Equal(start) || !t1.Equal(end) {
		t.Errorf("in-range request was altered: got (%v, %v)", t0, t1)
	}
}
