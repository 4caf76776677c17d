package web

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/thatapp/transition-houses/internal/auth"
	"github.com/thatapp/transition-houses/internal/db"
	"github.com/thatapp/transition-houses/internal/house"
	"github.com/thatapp/transition-houses/internal/importer"
)

type testEnv struct {
	srv   *Server
	db    *sql.DB
	store *house.SQLiteStore
	token string
}

// testAPIServer creates a server over a fresh database and returns it with
// a valid staff API key.
func testAPIServer(t *testing.T, imp Importer) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := db.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if cerr := d.Close(); cerr != nil {
			t.Errorf("close db: %v", cerr)
		}
	})

	store := house.NewSQLiteStore(d)
	keys := auth.NewAPIKeyStore(d)
	rawKey, _, err := keys.Create(t.Context(), "test", "staff@example.org")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(Options{
		Store:    store,
		Importer: imp,
		Staff:    auth.NewStaff(nil, keys, logger),
		APIKeys:  keys,
		Logger:   logger,
	})

	return &testEnv{srv: srv, db: d, store: store, token: rawKey}
}

func apiRequest(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	r := httptest.NewRequest(method, path, reqBody)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	return w
}

func insertHouse(t *testing.T, store house.Store, in house.Input) *house.Record {
	t.Helper()
	rec, err := store.InsertOne(context.Background(), in)
	if err != nil {
		t.Fatalf("insert house: %v", err)
	}
	return rec
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

type houseJSON struct {
	ID            string `json:"id"`
	City          string `json:"city"`
	Program       string `json:"program"`
	Availability  string `json:"availability"`
	Status        string `json:"status"`
	LastUpdated   string `json:"last_updated"`
	ContactPhone  string `json:"contact_phone"`
	DirectionsURL string `json:"directions_url"`
}

func TestHealth(t *testing.T) {
	env := testAPIServer(t, nil)
	w := apiRequest(t, env.srv, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := testAPIServer(t, nil)
	apiRequest(t, env.srv, http.MethodGet, "/api/houses", "", nil)

	w := apiRequest(t, env.srv, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`th_http_requests_total{method="GET",path="/api/houses"`)) {
		t.Error("expected request counter for /api/houses")
	}
}

func TestAPIListHouses(t *testing.T) {
	env := testAPIServer(t, nil)
	insertHouse(t, env.store, house.Input{City: "Vancouver", Program: "House A", Availability: "Available", Phone: house.Optional("604-555-0100")})
	insertHouse(t, env.store, house.Input{City: "Surrey", Program: "House B"})

	w := apiRequest(t, env.srv, http.MethodGet, "/api/houses", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	houses := decode[[]houseJSON](t, w)
	if len(houses) != 2 {
		t.Fatalf("got %d houses, want 2", len(houses))
	}
	if houses[0].Program != "House B" || houses[0].Status != "Unknown" || houses[0].Availability != "" {
		t.Errorf("House B = %+v, want empty availability shown as Unknown", houses[0])
	}
	if houses[1].Status != "Available" || houses[1].ContactPhone != "604-555-0100" {
		t.Errorf("House A = %+v", houses[1])
	}
}

func TestAPIListHousesEmpty(t *testing.T) {
	env := testAPIServer(t, nil)

	w := apiRequest(t, env.srv, http.MethodGet, "/api/houses", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestAPIListHousesNear(t *testing.T) {
	env := testAPIServer(t, nil)
	insertHouse(t, env.store, house.Input{City: "A", Program: "Far", ApproxLat: house.Optional("54"), ApproxLng: house.Optional("-128")})
	insertHouse(t, env.store, house.Input{City: "B", Program: "Unmapped"})
	insertHouse(t, env.store, house.Input{City: "C", Program: "Near", ApproxLat: house.Optional("49.3"), ApproxLng: house.Optional("-123.1")})

	w := apiRequest(t, env.srv, http.MethodGet, "/api/houses?near=49.28,-123.12", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	houses := decode[[]houseJSON](t, w)
	var got []string
	for _, h := range houses {
		got = append(got, h.Program)
	}
	want := []string{"Near", "Far", "Unmapped"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if houses[0].DirectionsURL == "" {
		t.Error("expected directions link for a mapped house")
	}
}

func TestAPIListHousesBadNear(t *testing.T) {
	env := testAPIServer(t, nil)
	for _, near := range []string{"49.2", "north,west", "91,0", "0,181"} {
		w := apiRequest(t, env.srv, http.MethodGet, "/api/houses?near="+near, "", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("near=%s: status = %d, want 400", near, w.Code)
		}
	}
}

func TestAPIMarkers(t *testing.T) {
	env := testAPIServer(t, nil)
	insertHouse(t, env.store, house.Input{City: "V", Program: "Mapped", Availability: "available", ApproxLat: house.Optional("49.28"), ApproxLng: house.Optional("-123.12")})
	insertHouse(t, env.store, house.Input{City: "S", Program: "Unmapped"})

	w := apiRequest(t, env.srv, http.MethodGet, "/api/houses/markers", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	markers := decode[[]struct {
		Program   string  `json:"program"`
		Available bool    `json:"available"`
		Radius    float64 `json:"radius"`
	}](t, w)
	if len(markers) != 1 {
		t.Fatalf("got %d markers, want 1", len(markers))
	}
	if !markers[0].Available || markers[0].Radius != house.DefaultRadius {
		t.Errorf("marker = %+v", markers[0])
	}
}

func TestAPIGetHouse(t *testing.T) {
	env := testAPIServer(t, nil)
	rec := insertHouse(t, env.store, house.Input{City: "Victoria", Program: "Harbour House"})

	w := apiRequest(t, env.srv, http.MethodGet, "/api/houses/"+rec.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decode[houseJSON](t, w); got.ID != rec.ID || got.Program != "Harbour House" {
		t.Errorf("house = %+v", got)
	}

	w = apiRequest(t, env.srv, http.MethodGet, "/api/houses/missing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", w.Code)
	}
}

func TestAPIHouseByProgram(t *testing.T) {
	env := testAPIServer(t, nil)
	rec := insertHouse(t, env.store, house.Input{City: "Victoria", Program: "Harbour House"})

	w := apiRequest(t, env.srv, http.MethodGet, "/api/houses/by-program?name=Harbour+House", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decode[houseJSON](t, w); got.ID != rec.ID {
		t.Errorf("id = %q, want %q", got.ID, rec.ID)
	}

	w = apiRequest(t, env.srv, http.MethodGet, "/api/houses/by-program?name=Nowhere", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown program: status = %d, want 404", w.Code)
	}

	w = apiRequest(t, env.srv, http.MethodGet, "/api/houses/by-program", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("no name: status = %d, want 400", w.Code)
	}
}

func TestAPIAddHouse(t *testing.T) {
	env := testAPIServer(t, nil)

	body := map[string]any{"city": "Kelowna", "program": "Lakeside", "phone": "  ", "radius": 700}
	w := apiRequest(t, env.srv, http.MethodPost, "/api/houses", env.token, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", w.Code, w.Body.String())
	}

	all, err := env.store.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].Program != "Lakeside" || all[0].Phone != nil || all[0].RadiusMeters() != 700 {
		t.Errorf("stored = %+v", all)
	}
}

func TestAPIAddHouseValidation(t *testing.T) {
	env := testAPIServer(t, nil)

	w := apiRequest(t, env.srv, http.MethodPost, "/api/houses", env.token, map[string]string{"city": "Kelowna"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing program: status = %d, want 400", w.Code)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/houses", bytes.NewBufferString("{"))
	r.Header.Set("Authorization", "Bearer "+env.token)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d, want 400", rec.Code)
	}
}

func TestWriteEndpointsRequireStaff(t *testing.T) {
	env := testAPIServer(t, nil)
	rec := insertHouse(t, env.store, house.Input{City: "V", Program: "A"})

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/houses"},
		{http.MethodPost, "/api/houses/" + rec.ID + "/availability"},
		{http.MethodPost, "/api/import"},
		{http.MethodGet, "/api/keys"},
	} {
		w := apiRequest(t, env.srv, tc.method, tc.path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", tc.method, tc.path, w.Code)
		}
		w = apiRequest(t, env.srv, tc.method, tc.path, "th_wrong", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s with bad key: status = %d, want 401", tc.method, tc.path, w.Code)
		}
	}
}

func TestAPIToggleAvailability(t *testing.T) {
	env := testAPIServer(t, nil)
	rec := insertHouse(t, env.store, house.Input{City: "Vancouver", Program: "House A", Availability: "Available"})
	path := "/api/houses/" + rec.ID + "/availability"

	// Unconfirmed: preview only.
	w := apiRequest(t, env.srv, http.MethodPost, path, env.token, map[string]bool{"confirm": false})
	if w.Code != http.StatusConflict {
		t.Fatalf("unconfirmed status = %d, want 409", w.Code)
	}
	preview := decode[struct {
		Preview struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"preview"`
	}](t, w)
	if preview.Preview.From != "Available" || preview.Preview.To != "Unavailable" {
		t.Errorf("preview = %+v", preview.Preview)
	}

	w = apiRequest(t, env.srv, http.MethodPost, path, env.token, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("empty body status = %d, want 409", w.Code)
	}

	// Confirmed.
	w = apiRequest(t, env.srv, http.MethodPost, path, env.token, map[string]bool{"confirm": true})
	if w.Code != http.StatusOK {
		t.Fatalf("confirmed status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	got := decode[houseJSON](t, w)
	if got.Availability != "Unavailable" || got.LastUpdated == "" {
		t.Errorf("response = %+v", got)
	}

	all, err := env.store.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if all[0].Availability != "Unavailable" {
		t.Errorf("stored availability = %q, want Unavailable", all[0].Availability)
	}
}

func TestAPIToggleAvailabilityNotFound(t *testing.T) {
	env := testAPIServer(t, nil)

	w := apiRequest(t, env.srv, http.MethodPost, "/api/houses/missing/availability", env.token, map[string]bool{"confirm": true})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAPIStoreUnavailable(t *testing.T) {
	srv := NewServer(Options{Store: downStore{}, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	w := apiRequest(t, srv, http.MethodGet, "/api/houses", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

type downStore struct{ house.Store }

func (downStore) ListAll(context.Context) ([]*house.Record, error) {
	return nil, fmt.Errorf("listing: %w", house.ErrStoreUnavailable)
}

type stubImporter struct {
	res importer.Result
	err error
}

func (s stubImporter) Run(context.Context) (importer.Result, error) { return s.res, s.err }

func TestAPIImport(t *testing.T) {
	tests := []struct {
		name       string
		imp        Importer
		wantStatus int
	}{
		{"not configured", nil, http.StatusServiceUnavailable},
		{"ok", stubImporter{res: importer.Result{Succeeded: 3, Failed: 1}}, http.StatusOK},
		{"running", stubImporter{err: importer.ErrRunning}, http.StatusConflict},
		{"fetch", stubImporter{err: &importer.FetchError{URL: "https://sheet", StatusCode: 500}}, http.StatusBadGateway},
		{"store", stubImporter{err: fmt.Errorf("resetting: %w", house.ErrStoreUnavailable)}, http.StatusServiceUnavailable},
		{"other", stubImporter{err: errors.New("boom")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testAPIServer(t, tt.imp)
			w := apiRequest(t, env.srv, http.MethodPost, "/api/import", env.token, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				res := decode[importer.Result](t, w)
				if res.Succeeded != 3 || res.Failed != 1 {
					t.Errorf("result = %+v", res)
				}
			}
		})
	}
}

// disconnectImporter cancels the request context from inside Run, as a
// client hanging up mid-import would, and records what Run's ctx saw.
type disconnectImporter struct {
	disconnect func()
	ctxErr     error
}

func (d *disconnectImporter) Run(ctx context.Context) (importer.Result, error) {
	d.disconnect()
	d.ctxErr = ctx.Err()
	return importer.Result{Succeeded: 1}, nil
}

func TestAPIImportOutlivesClient(t *testing.T) {
	env := testAPIServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	imp := &disconnectImporter{disconnect: cancel}
	env.srv.importer = imp

	r := httptest.NewRequest(http.MethodPost, "/api/import", nil).WithContext(ctx)
	r.Header.Set("Authorization", "Bearer "+env.token)
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if imp.ctxErr != nil {
		t.Errorf("import context err = %v after client disconnect, want nil", imp.ctxErr)
	}
}

func TestAPIImportEndToEnd(t *testing.T) {
	sheet := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "city,program,availability\nVancouver,House A,Available\nSurrey,House B,\n")
	}))
	t.Cleanup(sheet.Close)

	env := testAPIServer(t, nil)
	job := importer.NewJob(sheet.URL, env.store, importer.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	env.srv.importer = job

	w := apiRequest(t, env.srv, http.MethodPost, "/api/import", env.token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	w = apiRequest(t, env.srv, http.MethodGet, "/api/houses", "", nil)
	houses := decode[[]houseJSON](t, w)
	if len(houses) != 2 {
		t.Fatalf("got %d houses, want 2", len(houses))
	}
}

func TestAPINotFoundAndMethod(t *testing.T) {
	env := testAPIServer(t, nil)

	w := apiRequest(t, env.srv, http.MethodGet, "/api/nothing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}

	w = apiRequest(t, env.srv, http.MethodDelete, "/api/houses", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}
