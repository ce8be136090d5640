package common

import (
	"context"
	"errors"
	"log"
	"time"

	"resv/src/config"
	"resv/src/lib"
	"resv/src/models"
	"resv/src/payments"
	"resv/src/types"

	"github.com/google/uuid"
)

// EventPublisher publishes lifecycle events to the message broker.
type EventPublisher interface {
	Publish(topic string, payload map[string]any) error
}

// ReservationMachine owns every reservation state change outside the capture
// saga. All collaborators come in through the constructor; nothing here
// reaches for package-level singletons, so tests swap in fakes freely.
type ReservationMachine struct {
	store    ReservationStore
	gateway  payments.Gateway
	saga     *CaptureSaga
	Notifier lib.Notifier

	// ScheduleExpiry registers a one-shot expiry nudge for the
	// reservation's deadline. Optional; the sweeper is authoritative.
	ScheduleExpiry func(r *models.Reservation)

	Timeout time.Duration
	Now     func() time.Time
}

func NewReservationMachine(store ReservationStore, gateway payments.Gateway, saga *CaptureSaga) *ReservationMachine {
	return &ReservationMachine{
		store:    store,
		gateway:  gateway,
		saga:     saga,
		Notifier: &lib.LogNotifier{},
		Timeout:  config.ConfirmationTimeout(),
		Now:      time.Now,
	}
}

// Create runs the two-sided authorization flow. Replays of the same partner
// idempotency key return the original reservation without touching the
// gateway again.
func (m *ReservationMachine) Create(ctx context.Context, partner *models.Partner, body *types.CreateReservationRequestBody) (*models.Reservation, error) {
	if existing, err := m.store.FindByIdempotencyKey(ctx, partner.ID, body.IdempotencyKey); err == nil {
		return existing, nil
	}

	slotStart, err := time.Parse(config.TIME_PARSE_FORMAT, body.SlotStartTime)
	if err != nil {
		return nil, types.NewAPIError(types.ERR_VALIDATION, "slot_start_time is not a valid timestamp")
	}
	slotEnd, err := time.Parse(config.TIME_PARSE_FORMAT, body.SlotEndTime)
	if err != nil {
		return nil, types.NewAPIError(types.ERR_VALIDATION, "slot_end_time is not a valid timestamp")
	}

	now := m.Now()
	r := &models.Reservation{
		ID:             uuid.New(),
		PartnerID:      partner.ID,
		IdempotencyKey: body.IdempotencyKey,
		PartnerRef:     body.PartnerRef,
		VendorID:       body.VendorID,
		RequesterID:    body.RequesterID,
		SlotStart:      slotStart,
		SlotEnd:        slotEnd,
		State:          types.RESERVATION_PENDING_AUTH,
		ExpiresAt:      now.Add(m.Timeout),
		RequesterCents: body.RequesterCents,
		VendorCents:    body.VendorCents,
		Currency:       body.Currency,
	}
	if err := m.store.CreateReservation(ctx, r); err != nil {
		if errors.Is(err, ErrSlotConflict) {
			return nil, types.NewAPIError(types.ERR_CONFLICT, "the requested slot is no longer available")
		}
		if isDuplicateKey(err) {
			// lost a create race on the same idempotency key
			return m.store.FindByIdempotencyKey(ctx, partner.ID, body.IdempotencyKey)
		}
		return nil, err
	}

	// Vendor hold first: a vendor-side decline is cheap to walk away from,
	// while a requester hold taken first would need releasing.
	vendorRef, err := m.gateway.Authorize(ctx, payments.AuthorizeParams{
		ReservationID: r.ID.String(),
		PartnerID:     partner.ID,
		Side:          types.SIDE_VENDOR,
		Amount:        r.VendorCents,
		Currency:      r.Currency,
		Attempt:       1,
	})
	if err != nil {
		return nil, m.failAuthorization(ctx, r, err)
	}

	requesterRef, err := m.gateway.Authorize(ctx, payments.AuthorizeParams{
		ReservationID: r.ID.String(),
		PartnerID:     partner.ID,
		Side:          types.SIDE_REQUESTER,
		Amount:        r.RequesterCents,
		Currency:      r.Currency,
		Attempt:       1,
	})
	if err != nil {
		if cErr := m.gateway.Cancel(ctx, vendorRef); cErr != nil {
			m.saga.RecordRelease(ctx, r, types.SIDE_VENDOR, vendorRef, cErr)
		}
		return nil, m.failAuthorization(ctx, r, err)
	}

	err = m.store.Transition(ctx, r.ID, types.RESERVATION_PENDING_AUTH, types.RESERVATION_AUTHORIZED, "gateway", nil, map[string]any{
		"requester_auth_ref": requesterRef,
		"vendor_auth_ref":    vendorRef,
	})
	if err != nil {
		// expired or cancelled while authorizing; both holds are stale
		if cErr := m.gateway.Cancel(ctx, requesterRef); cErr != nil {
			m.saga.RecordRelease(ctx, r, types.SIDE_REQUESTER, requesterRef, cErr)
		}
		if cErr := m.gateway.Cancel(ctx, vendorRef); cErr != nil {
			m.saga.RecordRelease(ctx, r, types.SIDE_VENDOR, vendorRef, cErr)
		}
		return nil, types.NewAPIError(types.ERR_CONFLICT, "reservation left the pending window during authorization")
	}

	if m.ScheduleExpiry != nil {
		m.ScheduleExpiry(r)
	}
	return m.store.FindByID(ctx, r.ID)
}

func (m *ReservationMachine) failAuthorization(ctx context.Context, r *models.Reservation, cause error) error {
	reason := cause.Error()
	err := m.store.Transition(ctx, r.ID, types.RESERVATION_PENDING_AUTH, types.RESERVATION_FAILED_AUTH, "gateway", &reason, map[string]any{
		"failure_reason": reason,
	})
	if err != nil {
		log.Printf("[reservations] could not record auth failure for %s: %s\n", r.ID, err.Error())
	}
	if nErr := m.Notifier.Send(lib.TEMPLATE_RESERVATION_FAILED, map[string]any{
		"reservation_id": r.ID.String(),
		"reason":         reason,
	}); nErr != nil {
		log.Printf("[reservations] notify failed: %s\n", nErr.Error())
	}
	if payments.IsRetryable(cause) {
		return types.NewRetryableAPIError(types.ERR_GATEWAY, "payment authorization failed, retry later", 30)
	}
	return types.NewAPIError(types.ERR_GATEWAY, "payment authorization was declined")
}

// Get enforces partner ownership: reservations belonging to another partner
// come back as FORBIDDEN, not NOT_FOUND, so partners can distinguish a typo
// from a permissions problem.
func (m *ReservationMachine) Get(ctx context.Context, partner *models.Partner, id uuid.UUID) (*models.Reservation, error) {
	r, err := m.store.FindByID(ctx, id)
	if err != nil {
		return nil, types.NewAPIError(types.ERR_NOT_FOUND, "reservation not found")
	}
	if r.PartnerID != partner.ID {
		return nil, types.NewAPIError(types.ERR_FORBIDDEN, "reservation belongs to another partner")
	}
	return r, nil
}

// Commit launches the capture saga. Only an AUTHORIZED reservation can be
// committed; anything else is a conflict reported with the current state.
func (m *ReservationMachine) Commit(ctx context.Context, partner *models.Partner, id uuid.UUID) (*models.Reservation, error) {
	r, err := m.Get(ctx, partner, id)
	if err != nil {
		return nil, err
	}
	if r.State != types.RESERVATION_AUTHORIZED {
		return nil, types.NewAPIError(types.ERR_CONFLICT, "reservation is not committable in state "+string(r.State))
	}
	err = m.store.Transition(ctx, r.ID, types.RESERVATION_AUTHORIZED, types.RESERVATION_PENDING_CAPTURE, "partner", nil, nil)
	if err != nil {
		return nil, types.NewAPIError(types.ERR_CONFLICT, "reservation state changed, re-read before committing")
	}
	err = m.store.Transition(ctx, r.ID, types.RESERVATION_PENDING_CAPTURE, types.RESERVATION_CAPTURING, "saga", nil, nil)
	if err != nil {
		return nil, types.NewAPIError(types.ERR_CONFLICT, "reservation state changed, re-read before committing")
	}
	r, err = m.store.FindByID(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if err := m.saga.Run(ctx, r); err != nil {
		return nil, err
	}
	return m.store.FindByID(ctx, r.ID)
}

// Cancel releases any outstanding holds and parks the reservation in
// CANCELLED. Cancelling an already cancelled reservation is a no-op;
// cancelling a reservation whose captures are in flight is refused.
func (m *ReservationMachine) Cancel(ctx context.Context, partner *models.Partner, id uuid.UUID) (*models.Reservation, error) {
	r, err := m.Get(ctx, partner, id)
	if err != nil {
		return nil, err
	}
	if r.State == types.RESERVATION_CANCELLED {
		return r, nil
	}
	if !IsValidTransition(r.State, types.RESERVATION_CANCELLED) {
		return nil, types.NewAPIError(types.ERR_CONFLICT, "reservation cannot be cancelled in state "+string(r.State))
	}
	err = m.store.Transition(ctx, r.ID, r.State, types.RESERVATION_CANCELLED, "partner", nil, nil)
	if err != nil {
		return nil, types.NewAPIError(types.ERR_CONFLICT, "reservation state changed, re-read before cancelling")
	}
	m.releaseHolds(ctx, r)
	return m.store.FindByID(ctx, r.ID)
}

// Expire moves a reservation past its deadline into the terminal state its
// current phase calls for. The CAS keeps concurrent sweeps and in-flight
// sagas from stepping on each other.
func (m *ReservationMachine) Expire(ctx context.Context, r *models.Reservation) error {
	var to types.ReservationState
	switch r.State {
	case types.RESERVATION_PENDING_AUTH, types.RESERVATION_AUTHORIZED:
		to = types.RESERVATION_EXPIRED
	case types.RESERVATION_PENDING_CAPTURE, types.RESERVATION_CAPTURING:
		to = types.RESERVATION_FAILED_VENDOR_TIMEOUT
	default:
		return nil
	}
	reason := "confirmation window elapsed"
	err := m.store.Transition(ctx, r.ID, r.State, to, "sweeper", &reason, map[string]any{
		"failure_reason": reason,
	})
	if err != nil {
		// another writer moved it first; nothing to do
		return nil
	}
	log.Printf("[sweeper] reservation %s expired: %s -> %s\n", r.ID, r.State, to)
	if r.RequesterCaptureRef != nil {
		// requester money already moved; reverse it rather than release
		if _, rErr := m.gateway.Refund(ctx, *r.RequesterCaptureRef); rErr != nil {
			m.saga.RecordRefund(ctx, r, types.SIDE_REQUESTER, *r.RequesterCaptureRef, rErr)
		}
		if r.VendorAuthRef != nil && r.VendorCaptureRef == nil {
			if cErr := m.gateway.Cancel(ctx, *r.VendorAuthRef); cErr != nil {
				m.saga.RecordRelease(ctx, r, types.SIDE_VENDOR, *r.VendorAuthRef, cErr)
			}
		}
		return nil
	}
	m.releaseHolds(ctx, r)
	return nil
}

// releaseHolds cancels whichever authorizations have not been captured yet.
// Release failures are never swallowed; they become compensation records.
func (m *ReservationMachine) releaseHolds(ctx context.Context, r *models.Reservation) {
	if r.RequesterAuthRef != nil && r.RequesterCaptureRef == nil {
		if err := m.gateway.Cancel(ctx, *r.RequesterAuthRef); err != nil {
			m.saga.RecordRelease(ctx, r, types.SIDE_REQUESTER, *r.RequesterAuthRef, err)
		}
	}
	if r.VendorAuthRef != nil && r.VendorCaptureRef == nil {
		if err := m.gateway.Cancel(ctx, *r.VendorAuthRef); err != nil {
			m.saga.RecordRelease(ctx, r, types.SIDE_VENDOR, *r.VendorAuthRef, err)
		}
	}
}
