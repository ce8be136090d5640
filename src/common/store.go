package common

import (
	"context"
	"errors"
	"strings"
	"time"

	"resv/src/models"
	"resv/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrTransitionConflict means the compare-and-set on state matched no
	// row: the reservation moved on under a concurrent writer. The caller
	// re-reads and decides; it never retries the write blindly.
	ErrTransitionConflict = errors.New("reservation state changed concurrently")
	// ErrSlotConflict means another reservation already holds the vendor
	// slot in a non-terminal state.
	ErrSlotConflict = errors.New("vendor slot already held")
	ErrNotFound     = gorm.ErrRecordNotFound
)

// slotHoldingStates are the states in which a reservation keeps its vendor
// slot blocked for other requesters.
var slotHoldingStates = []types.ReservationState{
	types.RESERVATION_PENDING_AUTH,
	types.RESERVATION_AUTHORIZED,
	types.RESERVATION_PENDING_CAPTURE,
	types.RESERVATION_CAPTURING,
	types.RESERVATION_CONFIRMED,
}

// sweepableStates are the states the expiry sweeper may act on.
var sweepableStates = []types.ReservationState{
	types.RESERVATION_PENDING_AUTH,
	types.RESERVATION_AUTHORIZED,
	types.RESERVATION_PENDING_CAPTURE,
	types.RESERVATION_CAPTURING,
}

type ReservationStore interface {
	// CreateReservation inserts the reservation and checks the vendor slot
	// in one transaction. Returns ErrSlotConflict when another reservation
	// holds an overlapping slot in a slot-holding state.
	CreateReservation(ctx context.Context, r *models.Reservation) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	FindByIdempotencyKey(ctx context.Context, partnerId uint, key string) (*models.Reservation, error)
	FindByPaymentRef(ctx context.Context, ref string) (*models.Reservation, error)
	// Transition moves the reservation from exactly `from` to `to`,
	// applying `updates` and appending a transition log row in one DB
	// transaction. Returns ErrTransitionConflict when the reservation is
	// no longer in `from`.
	Transition(ctx context.Context, id uuid.UUID, from, to types.ReservationState, triggeredBy string, reason *string, updates map[string]any) error
	// ConfirmWithBooking is Transition into CONFIRMED plus the booking row,
	// all in one DB transaction.
	ConfirmWithBooking(ctx context.Context, id uuid.UUID, from types.ReservationState, booking *models.Booking, updates map[string]any) error
	FindBookingByReservation(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	SaveCompensation(ctx context.Context, rec *models.CompensationRecord) error
	FindCompensation(ctx context.Context, id uuid.UUID) (*models.CompensationRecord, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error)
}

// Ledger is the durable webhook idempotency gate.
type Ledger interface {
	// Claim atomically records the event id. The first caller gets true;
	// every later caller for the same id gets false.
	Claim(ctx context.Context, eventId string) (bool, error)
	Finalize(ctx context.Context, eventId, outcome string) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateReservation(ctx context.Context, r *models.Reservation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// serializes creates for this vendor until the transaction ends,
		// so the overlap check and the insert cannot interleave with a
		// concurrent create
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", r.VendorID).Error; err != nil {
			return err
		}
		var count int64
		err := tx.Model(&models.Reservation{}).
			Where("vendor_id = ? AND state IN ? AND slot_start < ? AND slot_end > ?", r.VendorID, slotHoldingStates, r.SlotEnd, r.SlotStart).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrSlotConflict
		}
		return tx.Create(r).Error
	})
}

func (s *GormStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.WithContext(ctx).
		Preload("Transitions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&r, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *GormStore) FindByIdempotencyKey(ctx context.Context, partnerId uint, key string) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.WithContext(ctx).
		First(&r, "partner_id = ? AND idempotency_key = ?", partnerId, key).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *GormStore) FindByPaymentRef(ctx context.Context, ref string) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.WithContext(ctx).
		Where("requester_auth_ref = ? OR vendor_auth_ref = ?", ref, ref).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *GormStore) Transition(ctx context.Context, id uuid.UUID, from, to types.ReservationState, triggeredBy string, reason *string, updates map[string]any) error {
	if !IsValidTransition(from, to) {
		return ErrTransitionConflict
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyTransition(tx, id, from, to, triggeredBy, reason, updates)
	})
}

func (s *GormStore) ConfirmWithBooking(ctx context.Context, id uuid.UUID, from types.ReservationState, booking *models.Booking, updates map[string]any) error {
	if !IsValidTransition(from, types.RESERVATION_CONFIRMED) {
		return ErrTransitionConflict
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := applyTransition(tx, id, from, types.RESERVATION_CONFIRMED, "saga", nil, updates); err != nil {
			return err
		}
		return tx.Create(booking).Error
	})
}

// applyTransition is the single write path for state changes. The WHERE on
// the current state is the optimistic lock; RowsAffected tells us whether we
// won.
func applyTransition(tx *gorm.DB, id uuid.UUID, from, to types.ReservationState, triggeredBy string, reason *string, updates map[string]any) error {
	values := map[string]any{"state": to}
	for k, v := range updates {
		values[k] = v
	}
	res := tx.Model(&models.Reservation{}).
		Where("id = ? AND state = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTransitionConflict
	}
	return tx.Create(&models.StateTransition{
		ReservationID: id,
		FromState:     from,
		ToState:       to,
		TriggeredBy:   triggeredBy,
		Reason:        reason,
	}).Error
}

func (s *GormStore) FindBookingByReservation(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	err := s.db.WithContext(ctx).First(&b, "reservation_id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *GormStore) SaveCompensation(ctx context.Context, rec *models.CompensationRecord) error {
	return s.db.WithContext(ctx).Save(rec).Error
}

func (s *GormStore) FindCompensation(ctx context.Context, id uuid.UUID) (*models.CompensationRecord, error) {
	var rec models.CompensationRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	var out []models.Reservation
	err := s.db.WithContext(ctx).
		Where("state IN ? AND expires_at <= ?", sweepableStates, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (l *GormLedger) Claim(ctx context.Context, eventId string) (bool, error) {
	err := l.db.WithContext(ctx).Create(&models.ProcessedWebhookEvent{
		EventID:     eventId,
		ProcessedAt: time.Now(),
	}).Error
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *GormLedger) Finalize(ctx context.Context, eventId, outcome string) error {
	return l.db.WithContext(ctx).
		Model(&models.ProcessedWebhookEvent{}).
		Where("event_id = ?", eventId).
		Update("outcome", outcome).Error
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "23505")
}
