package common

import (
	"context"
	"log"

	"resv/src/models"
	"resv/src/payments"
	"resv/src/types"

	"github.com/google/uuid"
)

// Webhook outcomes recorded in the idempotency ledger.
const (
	OUTCOME_DUPLICATE = "duplicate"
	OUTCOME_UNMATCHED = "unmatched"
	OUTCOME_NOOP      = "noop"
	OUTCOME_CONFIRMED = "confirmed"
	OUTCOME_FAILED    = "failed"
	OUTCOME_CANCELLED = "cancelled"
)

// WebhookProcessor applies gateway payment events to reservations. Delivery
// is at-least-once and unordered, so the ledger claim comes first and every
// state change goes through the same CAS transitions the rest of the system
// uses. A crash between claim and apply loses that delivery; the sweeper
// settles any reservation stranded that way once its deadline passes.
type WebhookProcessor struct {
	store   ReservationStore
	ledger  Ledger
	gateway payments.Gateway
	saga    *CaptureSaga
}

func NewWebhookProcessor(store ReservationStore, ledger Ledger, gateway payments.Gateway, saga *CaptureSaga) *WebhookProcessor {
	return &WebhookProcessor{store: store, ledger: ledger, gateway: gateway, saga: saga}
}

// ProcessEvent returns the outcome the event was filed under. A duplicate
// delivery short-circuits before any reservation is touched.
func (w *WebhookProcessor) ProcessEvent(ctx context.Context, ev types.PaymentEvent) (string, error) {
	claimed, err := w.ledger.Claim(ctx, ev.EventID())
	if err != nil {
		return "", err
	}
	if !claimed {
		return OUTCOME_DUPLICATE, nil
	}

	r, err := w.resolve(ctx, ev)
	if err != nil {
		return w.finish(ctx, ev, OUTCOME_UNMATCHED)
	}

	var outcome string
	switch e := ev.(type) {
	case types.PaymentSucceeded:
		outcome, err = w.applySucceeded(ctx, r, e)
	case types.PaymentFailed:
		outcome, err = w.applyFailed(ctx, r, e)
	case types.PaymentCanceled:
		outcome, err = w.applyCanceled(ctx, r, e)
	}
	if err != nil {
		return "", err
	}
	return w.finish(ctx, ev, outcome)
}

func (w *WebhookProcessor) finish(ctx context.Context, ev types.PaymentEvent, outcome string) (string, error) {
	if err := w.ledger.Finalize(ctx, ev.EventID(), outcome); err != nil {
		log.Printf("[webhooks] could not finalize %s: %s\n", ev.EventID(), err.Error())
	}
	return outcome, nil
}

func (w *WebhookProcessor) resolve(ctx context.Context, ev types.PaymentEvent) (*models.Reservation, error) {
	if rid := ev.ReservationID(); rid != "" {
		if id, err := uuid.Parse(rid); err == nil {
			if r, err := w.store.FindByID(ctx, id); err == nil {
				return r, nil
			}
		}
	}
	return w.store.FindByPaymentRef(ctx, ev.PaymentRef())
}

// applySucceeded is the crash-recovery finalizer. In the normal flow the saga
// confirms synchronously and the webhook arrives on a CONFIRMED reservation.
// When the process died between the vendor capture and the confirm write,
// the vendor-side succeeded event completes the booking.
func (w *WebhookProcessor) applySucceeded(ctx context.Context, r *models.Reservation, ev types.PaymentSucceeded) (string, error) {
	if IsTerminalState(r.State) || r.State != types.RESERVATION_CAPTURING {
		return OUTCOME_NOOP, nil
	}
	if r.VendorAuthRef == nil || ev.PaymentRef() != *r.VendorAuthRef {
		// requester-side capture confirmation; the saga or the vendor
		// event finishes the job
		return OUTCOME_NOOP, nil
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
	updates := map[string]any{"vendor_capture_ref": ev.PaymentRef()}
	if r.RequesterCaptureRef == nil && r.RequesterAuthRef != nil {
		updates["requester_capture_ref"] = *r.RequesterAuthRef
	}
	err := w.store.ConfirmWithBooking(ctx, r.ID, types.RESERVATION_CAPTURING, booking, updates)
	if err == ErrTransitionConflict {
		return OUTCOME_NOOP, nil
	}
	if err != nil {
		return "", err
	}
	return OUTCOME_CONFIRMED, nil
}

func (w *WebhookProcessor) applyFailed(ctx context.Context, r *models.Reservation, ev types.PaymentFailed) (string, error) {
	if IsTerminalState(r.State) {
		return OUTCOME_NOOP, nil
	}
	reason := ev.FailureCode
	if ev.FailureMessage != "" {
		reason = ev.FailureCode + ": " + ev.FailureMessage
	}
	switch r.State {
	case types.RESERVATION_PENDING_AUTH:
		err := w.store.Transition(ctx, r.ID, r.State, types.RESERVATION_FAILED_AUTH, "webhook", &reason, map[string]any{
			"failure_reason": reason,
		})
		if err != nil && err != ErrTransitionConflict {
			return "", err
		}
		return OUTCOME_FAILED, nil
	case types.RESERVATION_AUTHORIZED:
		// one hold died under us; drop the reservation and free the other
		err := w.store.Transition(ctx, r.ID, r.State, types.RESERVATION_CANCELLED, "webhook", &reason, map[string]any{
			"failure_reason": reason,
		})
		if err == ErrTransitionConflict {
			return OUTCOME_NOOP, nil
		}
		if err != nil {
			return "", err
		}
		w.releaseOther(ctx, r, ev.PaymentRef())
		return OUTCOME_CANCELLED, nil
	case types.RESERVATION_PENDING_CAPTURE, types.RESERVATION_CAPTURING:
		err := w.store.Transition(ctx, r.ID, r.State, failureStateFor(r.State), "webhook", &reason, map[string]any{
			"failure_reason": reason,
		})
		if err == ErrTransitionConflict {
			return OUTCOME_NOOP, nil
		}
		if err != nil {
			return "", err
		}
		// a requester capture may already have gone through
		if r.VendorAuthRef != nil && ev.PaymentRef() == *r.VendorAuthRef && r.RequesterCaptureRef != nil {
			rec := w.saga.newCompensation(r, types.SIDE_REQUESTER, types.SIDE_VENDOR, types.COMPENSATION_REFUND, *r.RequesterCaptureRef)
			if !w.saga.compensate(ctx, r, rec) {
				log.Printf("[webhooks] refund for %s escalated\n", r.ID)
			}
		}
		w.releaseOther(ctx, r, ev.PaymentRef())
		return OUTCOME_FAILED, nil
	}
	return OUTCOME_NOOP, nil
}

func (w *WebhookProcessor) applyCanceled(ctx context.Context, r *models.Reservation, ev types.PaymentCanceled) (string, error) {
	if IsTerminalState(r.State) || !IsValidTransition(r.State, types.RESERVATION_CANCELLED) {
		return OUTCOME_NOOP, nil
	}
	reason := "payment authorization cancelled at the gateway"
	err := w.store.Transition(ctx, r.ID, r.State, types.RESERVATION_CANCELLED, "webhook", &reason, map[string]any{
		"failure_reason": reason,
	})
	if err == ErrTransitionConflict {
		return OUTCOME_NOOP, nil
	}
	if err != nil {
		return "", err
	}
	w.releaseOther(ctx, r, ev.PaymentRef())
	return OUTCOME_CANCELLED, nil
}

// releaseOther frees the sibling hold of the payment the event was about.
func (w *WebhookProcessor) releaseOther(ctx context.Context, r *models.Reservation, ref string) {
	if r.RequesterAuthRef != nil && *r.RequesterAuthRef != ref && r.RequesterCaptureRef == nil {
		if err := w.gateway.Cancel(ctx, *r.RequesterAuthRef); err != nil {
			w.saga.RecordRelease(ctx, r, types.SIDE_REQUESTER, *r.RequesterAuthRef, err)
		}
	}
	if r.VendorAuthRef != nil && *r.VendorAuthRef != ref && r.VendorCaptureRef == nil {
		if err := w.gateway.Cancel(ctx, *r.VendorAuthRef); err != nil {
			w.saga.RecordRelease(ctx, r, types.SIDE_VENDOR, *r.VendorAuthRef, err)
		}
	}
}

func failureStateFor(s types.ReservationState) types.ReservationState {
	if s == types.RESERVATION_PENDING_CAPTURE {
		return types.RESERVATION_FAILED_VENDOR_TIMEOUT
	}
	return types.RESERVATION_FAILED_COMMIT
}
