package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/thatapp/transition-houses/internal/availability"
	"github.com/thatapp/transition-houses/internal/directory"
	"github.com/thatapp/transition-houses/internal/house"
	"github.com/thatapp/transition-houses/internal/importer"
)

const maxBodyBytes = 1 << 20

// apiError writes a JSON error response.
func apiError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := map[string]string{"error": msg}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
	}
}

// apiJSON writes a JSON response with the given status code.
func apiJSON(w http.ResponseWriter, data any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
	}
}

// storeError maps record store failures to a status code.
func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, house.ErrNotFound):
		apiError(w, "house not found", http.StatusNotFound)
	case errors.Is(err, house.ErrStoreUnavailable):
		s.logger.Warn(op, "error", err)
		apiError(w, "record store unavailable, try again", http.StatusServiceUnavailable)
	default:
		s.logger.Error(op, "error", err)
		apiError(w, "internal error", http.StatusInternalServerError)
	}
}

// houseResponse is a record plus the values clients derive from it.
type houseResponse struct {
	*house.Record
	Status        house.Availability `json:"status"`
	ContactPhone  string             `json:"contact_phone,omitempty"`
	DirectionsURL string             `json:"directions_url,omitempty"`
}

func toResponse(r *house.Record) houseResponse {
	resp := houseResponse{Record: r, Status: r.Status()}
	resp.ContactPhone, _ = r.ContactPhone()
	resp.DirectionsURL, _ = r.DirectionsURL()
	return resp
}

func toResponses(records []*house.Record) []houseResponse {
	out := make([]houseResponse, len(records))
	for i, r := range records {
		out[i] = toResponse(r)
	}
	return out
}

// load builds a directory for this request.
func (s *Server) load(w http.ResponseWriter, r *http.Request) (*directory.Directory, bool) {
	dir := directory.New(s.store)
	if err := dir.Load(r.Context()); err != nil {
		s.storeError(w, "loading houses", err)
		return nil, false
	}
	return dir, true
}

// parsePoint parses "lat,lng".
func parsePoint(v string) (house.Point, error) {
	latStr, lngStr, ok := strings.Cut(v, ",")
	if !ok {
		return house.Point{}, errors.New("expected lat,lng")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil || lat < -90 || lat > 90 {
		return house.Point{}, errors.New("invalid latitude")
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil || lng < -180 || lng > 180 {
		return house.Point{}, errors.New("invalid longitude")
	}
	return house.Point{Lat: lat, Lng: lng}, nil
}

// apiListHouses returns every house, nearest first when ?near=lat,lng is given.
func (s *Server) apiListHouses(w http.ResponseWriter, r *http.Request) {
	var origin *house.Point
	if near := r.URL.Query().Get("near"); near != "" {
		p, err := parsePoint(near)
		if err != nil {
			apiError(w, "near: "+err.Error(), http.StatusBadRequest)
			return
		}
		origin = &p
	}

	dir, ok := s.load(w, r)
	if !ok {
		return
	}

	records := dir.Records()
	if origin != nil {
		records = dir.SortByDistance(*origin)
	}

	apiJSON(w, toResponses(records), http.StatusOK)
}

func (s *Server) apiMarkers(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.load(w, r)
	if !ok {
		return
	}
	apiJSON(w, dir.Markers(), http.StatusOK)
}

func (s *Server) apiGetHouse(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.load(w, r)
	if !ok {
		return
	}
	rec, found := dir.FindByID(chi.URLParam(r, "id"))
	if !found {
		apiError(w, "house not found", http.StatusNotFound)
		return
	}
	apiJSON(w, toResponse(rec), http.StatusOK)
}

// apiHouseByProgram resolves ?name= to the first house running that program.
func (s *Server) apiHouseByProgram(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		apiError(w, "name is required", http.StatusBadRequest)
		return
	}

	dir, ok := s.load(w, r)
	if !ok {
		return
	}
	rec, found := dir.FindByProgramName(name)
	if !found {
		apiError(w, "house not found", http.StatusNotFound)
		return
	}
	apiJSON(w, toResponse(rec), http.StatusOK)
}

type addHouseRequest struct {
	City          string   `json:"city"`
	Program       string   `json:"program"`
	Organization  string   `json:"organization"`
	Phone         string   `json:"phone"`
	TollFreePhone string   `json:"toll_free_phone"`
	Text          string   `json:"text"`
	Email         string   `json:"email"`
	Website       string   `json:"website"`
	Type          string   `json:"type"`
	Note          string   `json:"note"`
	Availability  string   `json:"availability"`
	ApproxLat     string   `json:"approx_lat"`
	ApproxLng     string   `json:"approx_lng"`
	Radius        *float64 `json:"radius"`
}

// apiAddHouse inserts one record. There is no duplicate check.
func (s *Server) apiAddHouse(w http.ResponseWriter, r *http.Request) {
	var req addHouseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		apiError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Program) == "" {
		apiError(w, "program is required", http.StatusBadRequest)
		return
	}

	rec, err := s.store.InsertOne(r.Context(), house.Input{
		City:          strings.TrimSpace(req.City),
		Program:       strings.TrimSpace(req.Program),
		Organization:  strings.TrimSpace(req.Organization),
		Phone:         house.Optional(req.Phone),
		TollFreePhone: house.Optional(req.TollFreePhone),
		Text:          house.Optional(req.Text),
		Email:         house.Optional(req.Email),
		Website:       house.Optional(req.Website),
		Type:          house.Optional(req.Type),
		Note:          house.Optional(req.Note),
		Availability:  strings.TrimSpace(req.Availability),
		ApproxLat:     house.Optional(req.ApproxLat),
		ApproxLng:     house.Optional(req.ApproxLng),
		Radius:        req.Radius,
	})
	if err != nil {
		s.storeError(w, "adding house", err)
		return
	}

	apiJSON(w, toResponse(rec), http.StatusCreated)
}

// apiToggleAvailability flips a house between Available and Unavailable.
// Without {"confirm": true} it answers 409 with the change it would make.
func (s *Server) apiToggleAvailability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		apiError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	dir, ok := s.load(w, r)
	if !ok {
		return
	}
	rec, found := dir.FindByID(chi.URLParam(r, "id"))
	if !found {
		apiError(w, "house not found", http.StatusNotFound)
		return
	}

	updated, err := s.availability.Toggle(r.Context(), rec, availability.Confirmed(req.Confirm))
	if errors.Is(err, availability.ErrNotConfirmed) {
		apiJSON(w, map[string]any{
			"error":   "confirmation required",
			"preview": s.availability.Preview(rec),
		}, http.StatusConflict)
		return
	}
	if err != nil {
		s.storeError(w, "toggling availability", err)
		return
	}

	apiJSON(w, toResponse(updated), http.StatusOK)
}

// apiImport runs the CSV import and reports its counts.
func (s *Server) apiImport(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		apiError(w, "import not configured", http.StatusServiceUnavailable)
		return
	}

	// The import wipes the store before inserting, so a client that
	// disconnects must not cut it short.
	res, err := s.importer.Run(context.WithoutCancel(r.Context()))
	var fetchErr *importer.FetchError
	switch {
	case err == nil:
		apiJSON(w, res, http.StatusOK)
	case errors.Is(err, importer.ErrRunning):
		apiError(w, "an import is already running", http.StatusConflict)
	case errors.As(err, &fetchErr):
		s.logger.Warn("import fetch failed", "error", err)
		apiError(w, err.Error(), http.StatusBadGateway)
	default:
		s.storeError(w, "importing houses", err)
	}
}
