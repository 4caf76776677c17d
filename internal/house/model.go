// Package house provides the transition-house record model and the record
// store adapters that persist it.
package house

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultRadius is the map circle radius in meters used when a record has none.
const DefaultRadius = 1500.0

// Availability is the interpreted capacity status of a house.
type Availability string

const (
	Available   Availability = "Available"
	Unavailable Availability = "Unavailable"
	Unknown     Availability = "Unknown"
)

// ParseAvailability interprets a stored availability string.
// Matching is case-insensitive; anything unrecognized, including "", is Unknown.
func ParseAvailability(s string) Availability {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "available":
		return Available
	case "unavailable":
		return Unavailable
	}
	return Unknown
}

// Record is one transition-house program entry.
type Record struct {
	ID            string     `json:"id"`
	City          string     `json:"city"`
	Program       string     `json:"program"`
	Organization  string     `json:"organization"`
	Phone         *string    `json:"phone,omitempty"`
	TollFreePhone *string    `json:"toll_free_phone,omitempty"`
	Text          *string    `json:"text,omitempty"`
	Email         *string    `json:"email,omitempty"`
	Website       *string    `json:"website,omitempty"`
	Type          *string    `json:"type,omitempty"`
	Note          *string    `json:"note,omitempty"`
	Availability  string     `json:"availability"`
	LastUpdated   *time.Time `json:"last_updated,omitempty"`
	ApproxLat     *string    `json:"approx_lat,omitempty"`
	ApproxLng     *string    `json:"approx_lng,omitempty"`
	Radius        *float64   `json:"radius,omitempty"`
}

// Input holds the fields of a record that does not have an ID yet.
type Input struct {
	City          string
	Program       string
	Organization  string
	Phone         *string
	TollFreePhone *string
	Text          *string
	Email         *string
	Website       *string
	Type          *string
	Note          *string
	Availability  string
	LastUpdated   *time.Time
	ApproxLat     *string
	ApproxLng     *string
	Radius        *float64
}

// FieldUpdate is a partial update. Nil fields are left unchanged.
type FieldUpdate struct {
	Availability *string
	LastUpdated  *time.Time
}

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Status returns the interpreted availability of the record.
func (r *Record) Status() Availability {
	return ParseAvailability(r.Availability)
}

// IsAvailable reports whether the record counts as available for display
// and marker choice. Unknown counts as not available.
func (r *Record) IsAvailable() bool {
	return r.Status() == Available
}

// Location parses the approximate coordinates. ok is false unless both are
// present and finite numbers.
func (r *Record) Location() (p Point, ok bool) {
	lat, ok := parseCoord(r.ApproxLat)
	if !ok {
		return Point{}, false
	}
	lng, ok := parseCoord(r.ApproxLng)
	if !ok {
		return Point{}, false
	}
	return Point{Lat: lat, Lng: lng}, true
}

// ContactPhone returns the number to call: the local phone, else the
// toll-free one.
func (r *Record) ContactPhone() (string, bool) {
	if r.Phone != nil {
		return *r.Phone, true
	}
	if r.TollFreePhone != nil {
		return *r.TollFreePhone, true
	}
	return "", false
}

// DirectionsURL returns a Google Maps directions link to the approximate
// location, as given in the sheet.
func (r *Record) DirectionsURL() (string, bool) {
	if r.ApproxLat == nil || r.ApproxLng == nil {
		return "", false
	}
	q := url.Values{}
	q.Set("api", "1")
	q.Set("destination", *r.ApproxLat+","+*r.ApproxLng)
	return "https://www.google.com/maps/dir/?" + q.Encode(), true
}

// RadiusMeters returns the map radius, falling back to DefaultRadius.
func (r *Record) RadiusMeters() float64 {
	if r.Radius == nil || *r.Radius <= 0 {
		return DefaultRadius
	}
	return *r.Radius
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	c.Phone = cloneString(r.Phone)
	c.TollFreePhone = cloneString(r.TollFreePhone)
	c.Text = cloneString(r.Text)
	c.Email = cloneString(r.Email)
	c.Website = cloneString(r.Website)
	c.Type = cloneString(r.Type)
	c.Note = cloneString(r.Note)
	c.ApproxLat = cloneString(r.ApproxLat)
	c.ApproxLng = cloneString(r.ApproxLng)
	if r.LastUpdated != nil {
		t := *r.LastUpdated
		c.LastUpdated = &t
	}
	if r.Radius != nil {
		v := *r.Radius
		c.Radius = &v
	}
	return &c
}

// Optional converts a possibly empty string to an optional field.
// Empty (after trimming) and absent are the same thing.
func Optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Value returns the optional string or "".
func Value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseCoord(s *string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
