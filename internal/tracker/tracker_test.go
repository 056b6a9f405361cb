package tracker

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := New(t.TempDir(), "EarthCARE", "EarthCAREL2Products_MAAP",
		"BM__RAD_2B", "BC", t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func ecaURL(day, seq string) string {
	return "https://dl.example.org/ECA_EXBC_BM__RAD_2B_" + day + "T0" + seq + "0000Z_" + day + "T120000Z_0000" + seq + "A.h5"
}

func TestAddURLs_Idempotent(t *testing.T) {
	tr := newTestTracker(t)
	urls := []string{ecaURL("20250601", "1"), ecaURL("20250601", "2"), ecaURL("20250602", "3")}

	n, err := tr.AddURLs(urls)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("first add = %d, want 3", n)
	}

	n, err = tr.AddURLs(urls)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second add = %d, want 0", n)
	}

	pairs, err := tr.URLsWithPaths(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 3 {
		t.Fatalf("loaded %d records, want 3", len(pairs))
	}
	for _, p := range pairs {
		if p.Value == "" {
			t.Errorf("no local path stored for %s", p.Key)
		}
	}
}

func TestAddURLs_DropsUnparsable(t *testing.T) {
	tr := newTestTracker(t)
	n, err := tr.AddURLs([]string{"https://dl.example.org/junk.bin", ecaURL("20250601", "1")})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("added %d, want 1 (unparsable dropped)", n)
	}
}

func TestPendingDownloads(t *testing.T) {
	tr := newTestTracker(t)
	urls := []string{ecaURL("20250601", "1"), ecaURL("20250601", "2"), ecaURL("20250602", "3")}
	if _, err := tr.AddURLs(urls); err != nil {
		t.Fatal(err)
	}

	ok, err := tr.MarkDownloaded(urls[0], "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("MarkDownloaded returned false for a valid URL")
	}

	pending, err := tr.PendingDownloads(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if _, still := pending[urls[0]]; still {
		t.Error("downloaded URL still pending")
	}
}

func TestMarkDownloaded_UnparsableURL(t *testing.T) {
	tr := newTestTracker(t)
	ok, err := tr.MarkDownloaded("https://dl.example.org/junk.bin", "")
	if err != nil {
		t.Fatalf("unparsable URL should not error: %v", err)
	}
	if ok {
		t.Error("unparsable URL was marked")
	}
}

func TestMarkError_Sanitizes(t *testing.T) {
	tr := newTestTracker(t)
	url := ecaURL("20250601", "1")
	msg := "line one\nline two | with pipe " + strings.Repeat("x", 300)
	if err := tr.MarkError(url, msg); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(tr.ErrorsFile())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("error log has %d lines, want 1", len(lines))
	}
	_, errText, found := strings.Cut(lines[0], "|")
	if !found {
		t.Fatal("record missing separator")
	}
	if strings.ContainsAny(errText, "\n|") {
		t.Errorf("error text not sanitized: %q", errText)
	}
	if len(errText) > 200 {
		t.Errorf("error text not truncated: %d chars", len(errText))
	}

	errs, err := tr.ErrorURLs()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := errs[url]; !ok {
		t.Error("error URL not in set")
	}
}

func TestPendingMarksAndStats(t *testing.T) {
	tr := newTestTracker(t)
	urls := []string{ecaURL("20250601", "1"), ecaURL("20250601", "2")}
	if _, err := tr.AddURLs(urls); err != nil {
		t.Fatal(err)
	}
	for _, u := range urls {
		if _, err := tr.MarkDownloaded(u, ""); err != nil {
			t.Fatal(err)
		}
	}

	paths, err := tr.DownloadedPaths(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Fatalf("downloaded paths = %d, want 2", len(paths))
	}
	var one string
	for p := range paths {
		one = p
		break
	}
	if ok, err := tr.Mark(one); err != nil || !ok {
		t.Fatalf("Mark(%s) = %v, %v", one, ok, err)
	}

	pending, err := tr.PendingMarkPaths(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("pending marks = %d, want 1", len(pending))
	}
	if _, still := pending[one]; still {
		t.Error("marked path still pending")
	}

	stats, err := tr.GetStats(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{TotalURLs: 2, Downloaded: 2, Marked: 1, Errors: 0, PendingDownloads: 0, PendingMarks: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestCleanupMarked(t *testing.T) {
	tr := newTestTracker(t)
	dir := t.TempDir()
	name := "ECA_EXBC_BM__RAD_2B_20250601T010000Z_20250601T120000Z_00001A.h5"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if ok, err := tr.Mark(path); err != nil || !ok {
		t.Fatalf("Mark = %v, %v", ok, err)
	}

	// Dry run reports but never deletes.
	listed, err := tr.CleanupMarked(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0] != path {
		t.Fatalf("dry run listed %v", listed)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("dry run deleted the file")
	}

	deleted, err := tr.CleanupMarked(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 1 {
		t.Fatalf("deleted %v", deleted)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still exists after cleanup")
	}

	// Already-deleted files drop out of the deletable set.
	listed, err = tr.CleanupMarked(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 0 {
		t.Errorf("second dry run listed %v, want none", listed)
	}
}

func TestGlobal_ListTracked(t *testing.T) {
	registryDir := t.TempDir()
	g := NewGlobal(registryDir, "EarthCARE", "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	for _, pb := range [][2]string{{"BM__RAD_2B", "BC"}, {"CPR_NOM_1B", "BA"}} {
		if _, err := g.Tracker("EarthCAREL2Products_MAAP", pb[0], pb[1]); err != nil {
			t.Fatal(err)
		}
	}

	tracked, err := g.ListTracked()
	if err != nil {
		t.Fatal(err)
	}
	if len(tracked) != 2 {
		t.Fatalf("tracked = %v, want 2 triples", tracked)
	}

	stats, err := g.AllStats()
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Errorf("stats for %d triples, want 2", len(stats))
	}
}
