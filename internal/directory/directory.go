// Package directory holds the loaded set of house records that a screen or
// request works from: nearest-first ordering, lookups and map markers.
package directory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/thatapp/transition-houses/internal/house"
)

// ErrClosed is returned by Load when the directory was closed while loading.
var ErrClosed = errors.New("directory closed")

// Marker is a map pin for a house with known coordinates.
type Marker struct {
	ID        string      `json:"id"`
	Program   string      `json:"program"`
	City      string      `json:"city"`
	Position  house.Point `json:"position"`
	Available bool        `json:"available"`
	Status    string      `json:"status"`
	Radius    float64     `json:"radius"`
}

// Directory caches the records of the last Load. It is safe for
// concurrent use.
type Directory struct {
	store house.Store

	mu      sync.RWMutex
	records []*house.Record
	closed  bool
}

// New creates an empty directory over store.
func New(store house.Store) *Directory {
	return &Directory{store: store}
}

// Load replaces the cache with the current store contents. If the
// directory is closed before the store answers, the result is dropped.
func (d *Directory) Load(ctx context.Context) error {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	records, err := d.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("loading houses: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.records = records
	return nil
}

// Records returns the cached records in load order.
func (d *Directory) Records() []*house.Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*house.Record, len(d.records))
	copy(out, d.records)
	return out
}

// SortByDistance returns the records ordered by planar distance from
// origin, treating degrees of latitude and longitude as a flat grid.
// Records without usable coordinates follow, in load order.
func (d *Directory) SortByDistance(origin house.Point) []*house.Record {
	records := d.Records()

	type ranked struct {
		rec  *house.Record
		dist float64
		ok   bool
	}
	items := make([]ranked, len(records))
	for i, r := range records {
		p, ok := r.Location()
		items[i] = ranked{rec: r, ok: ok}
		if ok {
			items[i].dist = Distance(origin, p)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.ok != b.ok {
			return a.ok
		}
		return a.ok && a.dist < b.dist
	})

	out := make([]*house.Record, len(items))
	for i, it := range items {
		out[i] = it.rec
	}
	return out
}

// Distance is the planar distance between two points in degrees.
func Distance(a, b house.Point) float64 {
	return math.Hypot(a.Lat-b.Lat, a.Lng-b.Lng)
}

// FindByProgramName returns the first record whose program equals name.
func (d *Directory) FindByProgramName(name string) (*house.Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.records {
		if r.Program == name {
			return r, true
		}
	}
	return nil, false
}

// FindByID returns the record with the given ID.
func (d *Directory) FindByID(id string) (*house.Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.records {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// ApplyUpdate replaces the cached record with the same ID as updated.
// It reports whether a record was replaced; after Close it does nothing.
func (d *Directory) ApplyUpdate(updated *house.Record) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	for i, r := range d.records {
		if r.ID == updated.ID {
			next := make([]*house.Record, len(d.records))
			copy(next, d.records)
			next[i] = updated
			d.records = next
			return true
		}
	}
	return false
}

// Markers returns a map marker for every record with usable coordinates.
func (d *Directory) Markers() []Marker {
	records := d.Records()
	markers := make([]Marker, 0, len(records))
	for _, r := range records {
		p, ok := r.Location()
		if !ok {
			continue
		}
		markers = append(markers, Marker{
			ID:        r.ID,
			Program:   r.Program,
			City:      r.City,
			Position:  p,
			Available: r.IsAvailable(),
			Status:    string(r.Status()),
			Radius:    r.RadiusMeters(),
		})
	}
	return markers
}

// Close marks the directory as disposed. Loads still in flight discard
// their results.
func (d *Directory) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.records = nil
}
