package common

import (
	"context"
	"log"
	"time"

	"resv/src/lib"
	"resv/src/models"
	"resv/src/payments"
	"resv/src/types"

	"github.com/google/uuid"
)

// EscalationQueue hands exhausted compensations to a human queue.
type EscalationQueue interface {
	Escalate(rec *models.CompensationRecord, r *models.Reservation) error
}

// CaptureSaga settles a committed reservation: capture the requester side
// first because it is the reversible one, then the vendor side. Whenever the
// second step fails after the first succeeded, the saga compensates the
// captured side before parking the reservation in a terminal failure state.
type CaptureSaga struct {
	store   ReservationStore
	gateway payments.Gateway

	Events    EventPublisher
	Escalator EscalationQueue
	Notifier  lib.Notifier

	MaxCaptureAttempts      int
	MaxCompensationAttempts int
	Backoff                 func(attempt int) time.Duration
	Sleep                   func(d time.Duration)
}

func NewCaptureSaga(store ReservationStore, gateway payments.Gateway) *CaptureSaga {
	return &CaptureSaga{
		store:                   store,
		gateway:                 gateway,
		Notifier:                &lib.LogNotifier{},
		MaxCaptureAttempts:      3,
		MaxCompensationAttempts: 5,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 500 * time.Millisecond
		},
		Sleep: time.Sleep,
	}
}

// Run drives a reservation already in CAPTURING through settlement. Business
// failures land in the reservation's state; the returned error is reserved
// for storage problems.
func (s *CaptureSaga) Run(ctx context.Context, r *models.Reservation) error {
	if r.RequesterAuthRef == nil || r.VendorAuthRef == nil {
		reason := "missing authorization references"
		return s.store.Transition(ctx, r.ID, types.RESERVATION_CAPTURING, types.RESERVATION_FAILED_COMMIT, "saga", &reason, map[string]any{
			"failure_reason": reason,
		})
	}

	requesterCap, err := s.captureWithRetry(ctx, r, types.SIDE_REQUESTER, *r.RequesterAuthRef)
	if err != nil {
		// no money has moved yet, release the vendor hold and stop
		if cErr := s.gateway.Cancel(ctx, *r.VendorAuthRef); cErr != nil {
			s.RecordRelease(ctx, r, types.SIDE_VENDOR, *r.VendorAuthRef, cErr)
		}
		return s.failCommit(ctx, r, "requester capture failed: "+err.Error(), nil)
	}

	vendorCap, err := s.captureWithRetry(ctx, r, types.SIDE_VENDOR, *r.VendorAuthRef)
	if err != nil {
		rec := s.newCompensation(r, types.SIDE_REQUESTER, types.SIDE_VENDOR, types.COMPENSATION_REFUND, requesterCap)
		if !s.compensate(ctx, r, rec) {
			return s.manualReview(ctx, r, "vendor capture failed and requester refund exhausted retries")
		}
		return s.failCommit(ctx, r, "vendor capture failed: "+err.Error(), map[string]any{
			"requester_capture_ref": requesterCap,
		})
	}

	booking := &models.Booking{
		ID:             uuid.New(),
		ReservationID:  r.ID,
		PartnerID:      r.PartnerID,
		VendorID:       r.VendorID,
		RequesterID:    r.RequesterID,
		SlotStart:      r.SlotStart,
		SlotEnd:        r.SlotEnd,
		RequesterCents: r.RequesterCents,
		VendorCents:    r.VendorCents,
		Currency:       r.Currency,
	}
	err = s.store.ConfirmWithBooking(ctx, r.ID, types.RESERVATION_CAPTURING, booking, map[string]any{
		"requester_capture_ref": requesterCap,
		"vendor_capture_ref":    vendorCap,
	})
	if err != nil {
		if err == ErrTransitionConflict {
			// timed out under us after both captures; unwind both sides
			rec := s.newCompensation(r, types.SIDE_REQUESTER, types.SIDE_VENDOR, types.COMPENSATION_REFUND, requesterCap)
			if !s.compensate(ctx, r, rec) {
				log.Printf("[saga] requester refund for %s escalated\n", r.ID)
			}
			rec = s.newCompensation(r, types.SIDE_VENDOR, types.SIDE_VENDOR, types.COMPENSATION_REFUND, vendorCap)
			if !s.compensate(ctx, r, rec) {
				log.Printf("[saga] vendor refund for %s escalated\n", r.ID)
			}
			return nil
		}
		return err
	}

	s.publish(lib.TOPIC_RESERVATIONS_CONFIRMED, map[string]any{
		"reservation_id": r.ID.String(),
		"booking_id":     booking.ID.String(),
		"vendor_id":      r.VendorID,
		"requester_id":   r.RequesterID,
		"currency":       r.Currency,
	})
	if err := s.Notifier.Send(lib.TEMPLATE_BOOKING_CONFIRMED, map[string]any{
		"reservation_id": r.ID.String(),
		"booking_id":     booking.ID.String(),
	}); err != nil {
		log.Printf("[saga] notify failed: %s\n", err.Error())
	}
	return nil
}

func (s *CaptureSaga) captureWithRetry(ctx context.Context, r *models.Reservation, side types.PaymentSide, authRef string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.MaxCaptureAttempts; attempt++ {
		ref, err := s.gateway.Capture(ctx, payments.CaptureParams{
			ReservationID: r.ID.String(),
			Side:          side,
			Reference:     authRef,
			Attempt:       attempt,
		})
		if err == nil {
			return ref, nil
		}
		lastErr = err
		if !payments.IsRetryable(err) {
			return "", err
		}
		log.Printf("[saga] %s capture attempt %d for %s failed: %s\n", side, attempt, r.ID, err.Error())
		if attempt < s.MaxCaptureAttempts {
			s.Sleep(s.Backoff(attempt))
		}
	}
	return "", lastErr
}

// compensate retries the corrective action with backoff. Returns true when
// the compensation went through; false means the record was escalated.
func (s *CaptureSaga) compensate(ctx context.Context, r *models.Reservation, rec *models.CompensationRecord) bool {
	for attempt := 1; attempt <= s.MaxCompensationAttempts; attempt++ {
		rec.Attempts = attempt
		err := s.runCompensation(ctx, rec)
		if err == nil {
			rec.Status = types.COMPENSATION_SUCCEEDED
			rec.LastError = nil
			if sErr := s.store.SaveCompensation(ctx, rec); sErr != nil {
				log.Printf("[saga] could not persist compensation %s: %s\n", rec.ID, sErr.Error())
			}
			s.publish(lib.TOPIC_RESERVATIONS_COMPENSATED, map[string]any{
				"reservation_id": rec.ReservationID.String(),
				"action":         string(rec.Action),
				"payment_ref":    rec.PaymentRef,
				"attempts":       rec.Attempts,
			})
			return true
		}
		msg := err.Error()
		rec.LastError = &msg
		if sErr := s.store.SaveCompensation(ctx, rec); sErr != nil {
			log.Printf("[saga] could not persist compensation %s: %s\n", rec.ID, sErr.Error())
		}
		if attempt < s.MaxCompensationAttempts {
			s.Sleep(s.Backoff(attempt))
		}
	}
	rec.Status = types.COMPENSATION_ESCALATED
	if sErr := s.store.SaveCompensation(ctx, rec); sErr != nil {
		log.Printf("[saga] could not persist compensation %s: %s\n", rec.ID, sErr.Error())
	}
	s.escalate(rec, r)
	return false
}

func (s *CaptureSaga) runCompensation(ctx context.Context, rec *models.CompensationRecord) error {
	switch rec.Action {
	case types.COMPENSATION_REFUND:
		_, err := s.gateway.Refund(ctx, rec.PaymentRef)
		return err
	default:
		return s.gateway.Cancel(ctx, rec.PaymentRef)
	}
}

// RecordRelease files a failed hold release as a pending compensation and
// escalates it straight away; callers are on a request path and must not
// block on retries.
func (s *CaptureSaga) RecordRelease(ctx context.Context, r *models.Reservation, side types.PaymentSide, ref string, cause error) {
	s.recordAndEscalate(ctx, r, side, types.COMPENSATION_RELEASE, ref, cause)
}

// RecordRefund files a failed refund the same way.
func (s *CaptureSaga) RecordRefund(ctx context.Context, r *models.Reservation, side types.PaymentSide, ref string, cause error) {
	s.recordAndEscalate(ctx, r, side, types.COMPENSATION_REFUND, ref, cause)
}

func (s *CaptureSaga) recordAndEscalate(ctx context.Context, r *models.Reservation, side types.PaymentSide, action types.CompensationAction, ref string, cause error) {
	rec := s.newCompensation(r, side, side, action, ref)
	rec.Attempts = 1
	msg := cause.Error()
	rec.LastError = &msg
	if err := s.store.SaveCompensation(ctx, rec); err != nil {
		log.Printf("[saga] could not persist compensation for %s: %s\n", r.ID, err.Error())
	}
	s.escalate(rec, r)
}

func (s *CaptureSaga) newCompensation(r *models.Reservation, captured, failed types.PaymentSide, action types.CompensationAction, ref string) *models.CompensationRecord {
	return &models.CompensationRecord{
		ID:            uuid.New(),
		ReservationID: r.ID,
		CapturedSide:  captured,
		FailedSide:    failed,
		Action:        action,
		PaymentRef:    ref,
		Status:        types.COMPENSATION_PENDING,
	}
}

func (s *CaptureSaga) failCommit(ctx context.Context, r *models.Reservation, reason string, updates map[string]any) error {
	values := map[string]any{"failure_reason": reason}
	for k, v := range updates {
		values[k] = v
	}
	err := s.store.Transition(ctx, r.ID, types.RESERVATION_CAPTURING, types.RESERVATION_FAILED_COMMIT, "saga", &reason, values)
	if err == ErrTransitionConflict {
		return nil
	}
	return err
}

func (s *CaptureSaga) manualReview(ctx context.Context, r *models.Reservation, reason string) error {
	err := s.store.Transition(ctx, r.ID, types.RESERVATION_CAPTURING, types.RESERVATION_MANUAL_REVIEW, "saga", &reason, map[string]any{
		"failure_reason": reason,
	})
	if err != nil && err != ErrTransitionConflict {
		return err
	}
	if nErr := s.Notifier.Send(lib.TEMPLATE_MANUAL_REVIEW, map[string]any{
		"reservation_id": r.ID.String(),
		"reason":         reason,
	}); nErr != nil {
		log.Printf("[saga] notify failed: %s\n", nErr.Error())
	}
	return nil
}

func (s *CaptureSaga) escalate(rec *models.CompensationRecord, r *models.Reservation) {
	if s.Escalator == nil {
		log.Printf("[saga] no escalation queue configured; compensation %s needs review\n", rec.ID)
		return
	}
	if err := s.Escalator.Escalate(rec, r); err != nil {
		log.Printf("[saga] escalation for %s failed: %s\n", rec.ID, err.Error())
	}
}

func (s *CaptureSaga) publish(topic string, payload map[string]any) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(topic, payload); err != nil {
		log.Printf("[saga] publish to %s failed: %s\n", topic, err.Error())
	}
}
