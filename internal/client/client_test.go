package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thatapp/transition-houses/internal/house"
	"github.com/thatapp/transition-houses/internal/importer"
)

func TestListHouses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/houses" {
			t.Errorf("path = %q, want /api/houses", r.URL.Path)
		}
		if r.URL.Query().Has("near") {
			t.Error("unexpected near parameter")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"a1","city":"Vancouver","program":"House A","availability":"Available","status":"Available","contact_phone":"604-555-0100"}]`))
	}))
	defer srv.Close()

	houses, err := New(srv.URL, "").ListHouses(context.Background(), nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(houses) != 1 {
		t.Fatalf("got %d houses, want 1", len(houses))
	}
	h := houses[0]
	if h.ID != "a1" || h.Program != "House A" || h.Status != house.Available || h.ContactPhone != "604-555-0100" {
		t.Errorf("house = %+v", h)
	}
}

func TestListHousesNear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("near"); got != "49.28,-123.12" {
			t.Errorf("near = %q, want 49.28,-123.12", got)
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL, "").ListHouses(context.Background(), &house.Point{Lat: 49.28, Lng: -123.12}); err != nil {
		t.Fatalf("list: %v", err)
	}
}

func TestGetHouseNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"house not found"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").GetHouse(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Error() != "house not found" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").GetHouse(context.Background(), "x")
	if err == nil || err.Error() != "server error: Bad Gateway" {
		t.Errorf("err = %v", err)
	}
}

func TestToggleAvailability(t *testing.T) {
	var confirms []bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/houses/a1/availability" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer th_testkey" {
			t.Error("expected Bearer th_testkey")
		}
		var body struct {
			Confirm bool `json:"confirm"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		confirms = append(confirms, body.Confirm)

		if !body.Confirm {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"confirmation required","preview":{"house":{"id":"a1","program":"House A"},"from":"Available","to":"Unavailable"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"a1","program":"House A","availability":"Unavailable","status":"Unavailable","last_updated":"2024-06-01T12:00:00Z"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "th_testkey")

	p, err := c.PreviewToggle(context.Background(), "a1")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if p.From != "Available" || p.To != "Unavailable" || p.House.Program != "House A" {
		t.Errorf("preview = %+v", p)
	}

	h, err := c.ToggleAvailability(context.Background(), "a1")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if h.Availability != "Unavailable" || h.LastUpdated == nil {
		t.Errorf("house = %+v", h)
	}

	if len(confirms) != 2 || confirms[0] || !confirms[1] {
		t.Errorf("confirm flags sent = %v, want [false true]", confirms)
	}
}

func TestPreviewToggleUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"authorization required"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").PreviewToggle(context.Background(), "a1")
	if err == nil || err.Error() != "authorization required" {
		t.Errorf("err = %v", err)
	}
}

func TestImport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/import" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if err := json.NewEncoder(w).Encode(importer.Result{Succeeded: 12, Failed: 1}); err != nil {
			t.Errorf("encode: %v", err)
		}
	}))
	defer srv.Close()

	res, err := New(srv.URL, "th_testkey").Import(context.Background())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Succeeded != 12 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}
}
