package common

import (
	"context"
	"testing"

	"resv/src/models"
	"resv/src/types"

	"github.com/stretchr/testify/assert"
)

type webhookHarness struct {
	*testHarness
	ledger    *MemoryLedger
	processor *WebhookProcessor
}

func newWebhookHarness() *webhookHarness {
	h := newTestHarness()
	ledger := NewMemoryLedger()
	return &webhookHarness{
		testHarness: h,
		ledger:      ledger,
		processor:   NewWebhookProcessor(h.store, ledger, h.gateway, h.saga),
	}
}

func (h *webhookHarness) authorized(t *testing.T) *models.Reservation {
	t.Helper()
	r, err := h.machine.Create(context.Background(), h.partner, validCreateBody("k1"))
	assert.Nil(t, err)
	return r
}

func TestDuplicateDeliveriesApplyOnce(t *testing.T) {
	h := newWebhookHarness()
	ctx := context.Background()
	r := h.authorized(t)

	ev := types.NewPaymentCanceled("evt_1", *r.VendorAuthRef, r.ID.String())

	outcome, err := h.processor.ProcessEvent(ctx, ev)
	assert.Nil(t, err)
	assert.Equal(t, OUTCOME_CANCELLED, outcome)

	for range 3 {
		outcome, err = h.processor.ProcessEvent(ctx, ev)
		assert.Nil(t, err)
		assert.Equal(t, OUTCOME_DUPLICATE, outcome)
	}

	got, _ := h.store.FindByID(ctx, r.ID)
	assert.Equal(t, types.RESERVATION_CANCELLED, got.State)
	// sibling hold released exactly once
	assert.Len(t, h.gateway.callsFor("cancel"), 1)
}

func TestUnmatchedEventIsAcknowledged(t *testing.T) {
	h := newWebhookHarness()
	ctx := context.Background()

	ev := types.NewPaymentSucceeded("evt_1", "pi_unknown", "", 100, "usd")
	outcome, err := h.processor.ProcessEvent(ctx, ev)
	assert.Nil(t, err)
	assert.Equal(t, OUTCOME_UNMATCHED, outcome)
}

func TestSucceededOnConfirmedReservationIsNoop(t *testing.T) {
	h := newWebhookHarness()
	ctx := context.Background()
	r := h.authorized(t)

	r, err := h.machine.Commit(ctx, h.partner, r.ID)
	assert.Nil(t, err)
	assert.Equal(t, types.RESERVATION_CONFIRMED, r.State)

	ev := types.NewPaymentSucceeded("evt_1", *r.VendorAuthRef, r.ID.String(), 10000, "usd")
	outcome, err := h.processor.ProcessEvent(ctx, ev)
	assert.Nil(t, err)
	assert.Equal(t, OUTCOME_NOOP, outcome)

	got, _ := h.store.FindByID(ctx, r.ID)
	assert.Equal(t, types.RESERVATION_CONFIRMED, got.State)
}

// A crash between the vendor capture and the confirm write leaves the
// reservation in CAPTURING; the vendor-side succeeded event completes it.
func TestVendorSucceededFinalizesStuckCapture(t *testing.T) {
	h := newWebhookHarness()
	ctx := context.Background()
	r := h.authorized(t)

	assert.Nil(t, h.store.Transition(ctx, r.ID, types.RESERVATION_AUTHORIZED, types.RESERVATION_PENDING_CAPTURE, "partner", nil, nil))
	assert.Nil(t, h.store.Transition(ctx, r.ID, types.RESERVATION_PENDING_CAPTURE, types.RESERVATION_CAPTURING, "saga", nil, nil))

	ev := types.NewPaymentSucceeded("evt_1", *r.VendorAuthRef, r.ID.String(), 10000, "usd")
	outcome, err := h.processor.ProcessEvent(ctx, ev)
	assert.Nil(t, err)
	assert.Equal(t, OUTCOME_CONFIRMED, outcome)

	got, _ := h.store.FindByID(ctx, r.ID)
	assert.Equal(t, types.RESERVATION_CONFIRMED, got.State)
	booking, err := h.store.FindBookingByReservation(ctx, r.ID)
	assert.Nil(t, err)
	assert.Equal(t, r.ID, booking.ReservationID)
}

func TestRequesterSucceededAloneDoesNotConfirm(t *testing.T) {
	h := newWebhookHarness()
	ctx := context.Background()
	r := h.authorized(t)

	assert.Nil(t, h.store.Transition(ctx, r.ID, types.RESERVATION_AUTHORIZED, types.RESERVATION_PENDING_CAPTURE, "partner", nil, nil))
	assert.Nil(t, h.store.Transition(ctx, r.ID, types.RESERVATION_PENDING_CAPTURE, types.RESERVATION_CAPTURING, "saga", nil, nil))

	ev := types.NewPaymentSucceeded("evt_1", *r.RequesterAuthRef, r.ID.String(), 12500, "usd")
	outcome, err := h.processor.ProcessEvent(ctx, ev)
	assert.Nil(t, err)
	assert.Equal(t, OUTCOME_NOOP, outcome)

	got, _ := h.store.FindByID(ctx, r.ID)
	assert.Equal(t, types.RESERVATION_CAPTURING, got.State)
}

func TestFailedEventOnAuthorizedCancelsAndReleasesSibling(t *testing.T) {
	h := newWebhookHarness()
	ctx := context.Background()
	r := h.authorized(t)

	ev := types.NewPaymentFailed("evt_1", *r.VendorAuthRef, r.ID.String(), "authorization_revoked", "issuer revoked the hold")
	outcome, err := h.processor.ProcessEvent(ctx, ev)
	assert.Nil(t, err)
	assert.Equal(t, OUTCOME_CANCELLED, outcome)

	got, _ := h.store.FindByID(ctx, r.ID)
	assert.Equal(t, types.RESERVATION_CANCELLED, got.State)
	assert.NotNil(t, got.FailureReason)

	cancels := h.gateway.callsFor("cancel")
	assert.Len(t, cancels, 1)
	assert.Equal(t, *r.RequesterAuthRef, cancels[0].Ref)
}

func TestFailedEventOnTerminalReservationIsNoop(t *testing.T) {
	h := newWebhookHarness()
	ctx := context.Background()
	r := h.authorized(t)

	_, err := h.machine.Cancel(ctx, h.partner, r.ID)
	assert.Nil(t, err)

	ev := types.NewPaymentFailed("evt_1", *r.VendorAuthRef, r.ID.String(), "card_declined", "")
	outcome, err := h.processor.ProcessEvent(ctx, ev)
	assert.Nil(t, err)
	assert.Equal(t, OUTCOME_NOOP, outcome)
}

func TestEventsResolveByPaymentRefWithoutMetadata(t *testing.T) {
	h := newWebhookHarness()
	ctx := context.Background()
	r := h.authorized(t)

	ev := types.NewPaymentCanceled("evt_1", *r.RequesterAuthRef, "")
	outcome, err := h.processor.ProcessEvent(ctx, ev)
	assert.Nil(t, err)
	assert.Equal(t, OUTCOME_CANCELLED, outcome)
}

func TestLedgerOutcomeIsRecorded(t *testing.T) {
	h := newWebhookHarness()
	ctx := context.Background()
	r := h.authorized(t)

	ev := types.NewPaymentCanceled("evt_1", *r.VendorAuthRef, r.ID.String())
	_, err := h.processor.ProcessEvent(ctx, ev)
	assert.Nil(t, err)

	h.ledger.mu.Lock()
	defer h.ledger.mu.Unlock()
	assert.Equal(t, OUTCOME_CANCELLED, h.ledger.events["evt_1"])
}
