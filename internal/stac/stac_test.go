package stac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestSearch_Pagination(t *testing.T) {
	const total = 25
	var requests int

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 0 {
			page = 1
		}

		var features []Item
		start := (page - 1) * 10
		for i := start; i < start+10 && i < total; i++ {
			features = append(features, Item{
				ID:     fmt.Sprintf("item-%02d", i),
				Assets: map[string]Asset{"enclosure_h5": {Href: fmt.Sprintf("https://dl/%02d.h5", i)}},
			})
		}

		matched := total
		resp := map[string]any{
			"type":          "FeatureCollection",
			"features":      features,
			"numberMatched": matched,
		}
		if start+10 < total {
			resp["links"] = []map[string]string{
				{"rel": "next", "href": fmt.Sprintf("%s/search?page=%d", srv.URL, page+1)},
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRateLimit(1000, 1000))
	res, err := c.Search(context.Background(), Query{Collection: "C"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched != total {
		t.Errorf("Matched = %d, want %d", res.Matched, total)
	}
	if len(res.Items) != total {
		t.Errorf("items = %d, want %d", len(res.Items), total)
	}
	if requests != 3 {
		t.Errorf("requests = %d, want 3", requests)
	}
}

func TestSearch_MaxItemsStopsPaging(t *testing.T) {
	var requests int
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var features []Item
		for i := 0; i < 10; i++ {
			features = append(features, Item{ID: fmt.Sprintf("r%d-%d", requests, i)})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"features":      features,
			"numberMatched": 1000,
			"links": []map[string]string{
				{"rel": "next", "href": srv.URL + "/search?more=1"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRateLimit(1000, 1000))
	res, err := c.Search(context.Background(), Query{Collection: "C", MaxItems: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 10 {
		t.Errorf("items = %d, want 10", len(res.Items))
	}
	if requests != 1 {
		t.Errorf("requests = %d, want 1 (paging must stop at MaxItems)", requests)
	}
}

func TestSearch_QueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("collections"); got != "EarthCAREL2Products_MAAP" {
			t.Errorf("collections = %q", got)
		}
		if got := q.Get("filter"); got != "productType='BM__RAD_2B'" {
			t.Errorf("filter = %q", got)
		}
		if got := q.Get("filter-lang"); got != "cql2-text" {
			t.Errorf("filter-lang = %q", got)
		}
		if got := q.Get("datetime"); got != "2025-06-01T00:00:00Z/2025-06-02T00:00:00Z" {
			t.Errorf("datetime = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"features": []Item{}, "numberMatched": 0})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRateLimit(1000, 1000))
	_, err := c.Search(context.Background(), Query{
		Collection: "EarthCAREL2Products_MAAP",
		Filter:     "productType='BM__RAD_2B'",
		Start:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSearch_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRateLimit(1000, 1000))
	_, err := c.Search(context.Background(), Query{Collection: "C"})
	if err == nil {
		t.Fatal("expected error on 502")
	}
	if !errors.Is(err, ErrCatalog) {
		t.Errorf("err = %v, want ErrCatalog", err)
	}
}

func TestQueryables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/MyColl/queryables" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"properties":{"productType":{"enum":["A","B"]}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRateLimit(1000, 1000))
	data, err := c.Queryables(context.Background(), "MyColl")
	if err != nil {
		t.Fatal(err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("queryables not valid JSON: %v", err)
	}
}
