// Package availability toggles a house between Available and Unavailable
// after an explicit confirmation.
package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/thatapp/transition-houses/internal/auth"
	"github.com/thatapp/transition-houses/internal/house"
	"github.com/thatapp/transition-houses/internal/metrics"
)

// ErrNotConfirmed is returned when the confirmer declines a change.
var ErrNotConfirmed = errors.New("availability change not confirmed")

// Change previews a toggle.
type Change struct {
	Record *house.Record `json:"house"`
	From   string        `json:"from"`
	To     string        `json:"to"`
}

// Confirmer decides whether a previewed change goes ahead.
type Confirmer interface {
	Confirm(ctx context.Context, c Change) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, c Change) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, c Change) (bool, error) {
	return f(ctx, c)
}

// Confirmed returns a Confirmer with a fixed answer, for callers that have
// already asked.
func Confirmed(ok bool) Confirmer {
	return ConfirmFunc(func(context.Context, Change) (bool, error) { return ok, nil })
}

// Service writes availability changes to the record store.
type Service struct {
	store  house.Store
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates an availability service.
func NewService(store house.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, now: time.Now, logger: logger}
}

// SetClock replaces the time source used for last_updated.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Next returns the status a toggle moves to. Only a case-insensitive
// "available" moves to Unavailable; everything else, including "" and
// unknown values, moves to Available.
func Next(current string) string {
	if strings.EqualFold(strings.TrimSpace(current), string(house.Available)) {
		return string(house.Unavailable)
	}
	return string(house.Available)
}

// Preview describes what Toggle would write without touching the store.
func (s *Service) Preview(rec *house.Record) Change {
	return Change{Record: rec, From: rec.Availability, To: Next(rec.Availability)}
}

// Toggle flips the availability of rec once c confirms, and stamps
// last_updated with the current time. It returns an updated copy; rec is
// not modified. Store errors are returned as they come so callers can match
// house.ErrNotFound and house.ErrStoreUnavailable.
func (s *Service) Toggle(ctx context.Context, rec *house.Record, c Confirmer) (*house.Record, error) {
	change := s.Preview(rec)

	ok, err := c.Confirm(ctx, change)
	if err != nil {
		return nil, fmt.Errorf("confirming change: %w", err)
	}
	if !ok {
		return nil, ErrNotConfirmed
	}

	now := s.now().UTC()
	update := house.FieldUpdate{Availability: &change.To, LastUpdated: &now}
	if err := s.store.UpdateFields(ctx, rec.ID, update); err != nil {
		return nil, err
	}

	updated := rec.Clone()
	updated.Availability = change.To
	updated.LastUpdated = &now

	metrics.AvailabilityToggles.WithLabelValues(change.To).Inc()

	actor := "anonymous"
	if id, ok := auth.IdentityFromContext(ctx); ok {
		actor = id.Email
	}
	s.logger.Info("availability changed",
		"house_id", rec.ID,
		"program", rec.Program,
		"from", change.From,
		"to", change.To,
		"by", actor,
	)

	return updated, nil
}
