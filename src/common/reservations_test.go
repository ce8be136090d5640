package common

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"resv/src/models"
	"resv/src/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCreateAuthorizesVendorThenRequester(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	r, err := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	assert.Nil(t, err)
	assert.Equal(t, types.RESERVATION_AUTHORIZED, r.State)
	assert.NotNil(t, r.RequesterAuthRef)
	assert.NotNil(t, r.VendorAuthRef)
	assert.False(t, r.ExpiresAt.IsZero())

	auths := h.gateway.callsFor("authorize")
	assert.Len(t, auths, 2)
	assert.Equal(t, types.SIDE_VENDOR, auths[0].Side)
	assert.Equal(t, types.SIDE_REQUESTER, auths[1].Side)
}

func TestCreateReplaysIdempotencyKeyWithoutSideEffects(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	first, err := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	assert.Nil(t, err)

	second, err := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	assert.Nil(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, h.gateway.callsFor("authorize"), 2)
}

func TestCreateRejectsOverlappingSlot(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	_, err := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	assert.Nil(t, err)

	_, err = h.machine.Create(ctx, h.partner, validCreateBody("k2"))
	var apiErr *types.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, types.ERR_CONFLICT, apiErr.Code)
}

func TestCreateConcurrentSameSlotAdmitsOnlyOne(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]error, 2)
	created := make([]*models.Reservation, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			created[i], results[i] = h.machine.Create(ctx, h.partner, validCreateBody(fmt.Sprintf("k%d", i)))
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	for i := range results {
		if results[i] == nil {
			winners++
			assert.Equal(t, types.RESERVATION_AUTHORIZED, created[i].State)
			continue
		}
		var apiErr *types.APIError
		assert.True(t, errors.As(results[i], &apiErr))
		assert.Equal(t, types.ERR_CONFLICT, apiErr.Code)
	}
	assert.Equal(t, 1, winners)
	assert.Len(t, h.gateway.callsFor("authorize"), 2)
}

func TestCreateVendorDeclineFailsWithoutRequesterAuth(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()
	h.gateway.failAuth(types.SIDE_VENDOR, fatalGatewayErr("card_declined"))

	_, err := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	var apiErr *types.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, types.ERR_GATEWAY, apiErr.Code)
	assert.False(t, apiErr.Retryable)

	// requester side never touched
	for _, c := range h.gateway.callsFor("authorize") {
		assert.Equal(t, types.SIDE_VENDOR, c.Side)
	}

	r, err := h.store.FindByIdempotencyKey(ctx, h.partner.ID, "k1")
	assert.Nil(t, err)
	assert.Equal(t, types.RESERVATION_FAILED_AUTH, r.State)
	assert.NotNil(t, r.FailureReason)
}

func TestCreateRequesterDeclineReleasesVendorHold(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()
	h.gateway.failAuth(types.SIDE_REQUESTER, fatalGatewayErr("card_declined"))

	_, err := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	assert.NotNil(t, err)

	cancels := h.gateway.callsFor("cancel")
	assert.Len(t, cancels, 1)

	r, _ := h.store.FindByIdempotencyKey(ctx, h.partner.ID, "k1")
	assert.Equal(t, types.RESERVATION_FAILED_AUTH, r.State)
}

func TestCreateRetryableGatewayFailureIsReportedRetryable(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()
	h.gateway.failAuth(types.SIDE_VENDOR, retryableGatewayErr("rate_limit"))

	_, err := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	var apiErr *types.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Retryable)
	assert.NotNil(t, apiErr.RetryAfter)
}

func TestGetEnforcesOwnership(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	r, err := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	assert.Nil(t, err)

	other := &models.Partner{ID: 2, Name: "Other", APIKeyHash: models.HashAPIKey("key-other"), Active: true}
	_, err = h.machine.Get(ctx, other, r.ID)
	var apiErr *types.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, types.ERR_FORBIDDEN, apiErr.Code)

	_, err = h.machine.Get(ctx, h.partner, uuid.New())
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, types.ERR_NOT_FOUND, apiErr.Code)
}

func TestGetIncludesTransitionHistory(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	r, err := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	assert.Nil(t, err)

	got, err := h.machine.Get(ctx, h.partner, r.ID)
	assert.Nil(t, err)
	assert.Len(t, got.Transitions, 1)
	assert.Equal(t, types.RESERVATION_PENDING_AUTH, got.Transitions[0].FromState)
	assert.Equal(t, types.RESERVATION_AUTHORIZED, got.Transitions[0].ToState)
}

func TestCommitConfirmsAndCreatesBooking(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	r, err := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	assert.Nil(t, err)

	r, err = h.machine.Commit(ctx, h.partner, r.ID)
	assert.Nil(t, err)
	assert.Equal(t, types.RESERVATION_CONFIRMED, r.State)
	assert.NotNil(t, r.RequesterCaptureRef)
	assert.NotNil(t, r.VendorCaptureRef)

	booking, err := h.store.FindBookingByReservation(ctx, r.ID)
	assert.Nil(t, err)
	assert.Equal(t, r.ID, booking.ReservationID)
	assert.Equal(t, int64(12500), booking.RequesterCents)
}

func TestCommitRequiresAuthorizedState(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()
	h.gateway.failAuth(types.SIDE_VENDOR, fatalGatewayErr("card_declined"))

	r, _ := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	assert.Nil(t, r)

	failed, _ := h.store.FindByIdempotencyKey(ctx, h.partner.ID, "k1")
	_, err := h.machine.Commit(ctx, h.partner, failed.ID)
	var apiErr *types.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, types.ERR_CONFLICT, apiErr.Code)
}

func TestCommitTwiceIsConflict(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	r, _ := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	_, err := h.machine.Commit(ctx, h.partner, r.ID)
	assert.Nil(t, err)

	_, err = h.machine.Commit(ctx, h.partner, r.ID)
	var apiErr *types.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, types.ERR_CONFLICT, apiErr.Code)

	// still exactly one capture per side
	assert.Len(t, h.gateway.callsFor("capture"), 2)
}

func TestCancelReleasesBothHolds(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	r, _ := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	r, err := h.machine.Cancel(ctx, h.partner, r.ID)
	assert.Nil(t, err)
	assert.Equal(t, types.RESERVATION_CANCELLED, r.State)
	assert.Len(t, h.gateway.callsFor("cancel"), 2)
}

func TestCancelIsIdempotent(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	r, _ := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	_, err := h.machine.Cancel(ctx, h.partner, r.ID)
	assert.Nil(t, err)

	r, err = h.machine.Cancel(ctx, h.partner, r.ID)
	assert.Nil(t, err)
	assert.Equal(t, types.RESERVATION_CANCELLED, r.State)
	assert.Len(t, h.gateway.callsFor("cancel"), 2)
}

func TestCancelConfirmedIsConflict(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	r, _ := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	_, err := h.machine.Commit(ctx, h.partner, r.ID)
	assert.Nil(t, err)

	_, err = h.machine.Cancel(ctx, h.partner, r.ID)
	var apiErr *types.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, types.ERR_CONFLICT, apiErr.Code)
}

func TestCancelReleaseFailureIsRecorded(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	r, _ := h.machine.Create(ctx, h.partner, validCreateBody("k1"))
	h.gateway.failCancel(*r.VendorAuthRef, fatalGatewayErr("processing_error"))

	_, err := h.machine.Cancel(ctx, h.partner, r.ID)
	assert.Nil(t, err)

	assert.Len(t, h.escalator.records, 1)
	rec := h.escalator.records[0]
	assert.Equal(t, types.COMPENSATION_RELEASE, rec.Action)
	assert.Equal(t, *r.VendorAuthRef, rec.PaymentRef)
}
