package common

import (
	"context"
	"sync"
	"time"

	"resv/src/models"
	"resv/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MemoryStore is a single-process ReservationStore used by tests and local
// tooling. It mirrors the CAS semantics of the DB-backed store but offers
// none of its durability.
type MemoryStore struct {
	mu            sync.Mutex
	reservations  map[uuid.UUID]*models.Reservation
	transitions   map[uuid.UUID][]models.StateTransition
	bookings      map[uuid.UUID]*models.Booking
	compensations map[uuid.UUID]*models.CompensationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reservations:  map[uuid.UUID]*models.Reservation{},
		transitions:   map[uuid.UUID][]models.StateTransition{},
		bookings:      map[uuid.UUID]*models.Booking{},
		compensations: map[uuid.UUID]*models.CompensationRecord{},
	}
}

func (s *MemoryStore) CreateReservation(ctx context.Context, r *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.reservations {
		if existing.PartnerID == r.PartnerID && existing.IdempotencyKey == r.IdempotencyKey {
			return gorm.ErrDuplicatedKey
		}
	}
	if s.slotHeld(r.VendorID, r.SlotStart, r.SlotEnd) {
		return ErrSlotConflict
	}
	cp := *r
	s.reservations[r.ID] = &cp
	return nil
}

// slotHeld mirrors the DB store's in-transaction overlap check. Callers
// hold s.mu.
func (s *MemoryStore) slotHeld(vendorId string, slotStart, slotEnd time.Time) bool {
	for _, r := range s.reservations {
		if r.VendorID != vendorId {
			continue
		}
		holding := false
		for _, st := range slotHoldingStates {
			if r.State == st {
				holding = true
				break
			}
		}
		if holding && r.SlotStart.Before(slotEnd) && r.SlotEnd.After(slotStart) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	cp.Transitions = append([]models.StateTransition{}, s.transitions[id]...)
	return &cp, nil
}

func (s *MemoryStore) FindByIdempotencyKey(ctx context.Context, partnerId uint, key string) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reservations {
		if r.PartnerID == partnerId && r.IdempotencyKey == key {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindByPaymentRef(ctx context.Context, ref string) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reservations {
		if (r.RequesterAuthRef != nil && *r.RequesterAuthRef == ref) ||
			(r.VendorAuthRef != nil && *r.VendorAuthRef == ref) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Transition(ctx context.Context, id uuid.UUID, from, to types.ReservationState, triggeredBy string, reason *string, updates map[string]any) error {
	if !IsValidTransition(from, to) {
		return ErrTransitionConflict
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, from, to, triggeredBy, reason, updates)
}

func (s *MemoryStore) transitionLocked(id uuid.UUID, from, to types.ReservationState, triggeredBy string, reason *string, updates map[string]any) error {
	r, ok := s.reservations[id]
	if !ok || r.State != from {
		return ErrTransitionConflict
	}
	r.State = to
	applyUpdates(r, updates)
	s.transitions[id] = append(s.transitions[id], models.StateTransition{
		ReservationID: id,
		FromState:     from,
		ToState:       to,
		TriggeredBy:   triggeredBy,
		Reason:        reason,
		CreatedAt:     time.Now(),
	})
	return nil
}

func (s *MemoryStore) ConfirmWithBooking(ctx context.Context, id uuid.UUID, from types.ReservationState, booking *models.Booking, updates map[string]any) error {
	if !IsValidTransition(from, types.RESERVATION_CONFIRMED) {
		return ErrTransitionConflict
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(id, from, types.RESERVATION_CONFIRMED, "saga", nil, updates); err != nil {
		return err
	}
	cp := *booking
	s.bookings[booking.ReservationID] = &cp
	return nil
}

func (s *MemoryStore) FindBookingByReservation(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) SaveCompensation(ctx context.Context, rec *models.CompensationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.compensations[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) FindCompensation(ctx context.Context, id uuid.UUID) (*models.CompensationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.compensations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reservation
	for _, r := range s.reservations {
		if len(out) >= limit {
			break
		}
		for _, st := range sweepableStates {
			if r.State == st && !r.ExpiresAt.After(now) {
				out = append(out, *r)
				break
			}
		}
	}
	return out, nil
}

// applyUpdates maps column-style update keys onto the struct. Only the
// columns the state machine actually writes are handled.
func applyUpdates(r *models.Reservation, updates map[string]any) {
	for k, v := range updates {
		switch k {
		case "failure_reason":
			r.FailureReason = toStringPtr(v)
		case "requester_auth_ref":
			r.RequesterAuthRef = toStringPtr(v)
		case "vendor_auth_ref":
			r.VendorAuthRef = toStringPtr(v)
		case "requester_capture_ref":
			r.RequesterCaptureRef = toStringPtr(v)
		case "vendor_capture_ref":
			r.VendorCaptureRef = toStringPtr(v)
		}
	}
}

func toStringPtr(v any) *string {
	switch t := v.(type) {
	case string:
		return &t
	case *string:
		return t
	}
	return nil
}

// MemoryLedger is the single-process Ledger counterpart to MemoryStore.
type MemoryLedger struct {
	mu     sync.Mutex
	events map[string]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{events: map[string]string{}}
}

func (l *MemoryLedger) Claim(ctx context.Context, eventId string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.events[eventId]; ok {
		return false, nil
	}
	l.events[eventId] = ""
	return true, nil
}

func (l *MemoryLedger) Finalize(ctx context.Context, eventId, outcome string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[eventId] = outcome
	return nil
}

// MemoryPartnerDirectory serves a fixed partner set, keyed by API key hash
// like the DB-backed directory.
type MemoryPartnerDirectory struct {
	mu       sync.Mutex
	partners map[string]models.Partner
}

func NewMemoryPartnerDirectory(partners ...models.Partner) *MemoryPartnerDirectory {
	d := &MemoryPartnerDirectory{partners: map[string]models.Partner{}}
	for _, p := range partners {
		d.partners[p.APIKeyHash] = p
	}
	return d
}

func (d *MemoryPartnerDirectory) FindByAPIKey(ctx context.Context, apiKey string) (*models.Partner, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.partners[models.HashAPIKey(apiKey)]
	if !ok || !p.Active {
		return nil, ErrNotFound
	}
	cp := p
	return &cp, nil
}
