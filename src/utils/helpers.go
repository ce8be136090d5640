package utils

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"

	"resv/src/models"
	"resv/src/types"

	"github.com/gin-gonic/gin"
)

func IsProd() bool {
	return os.Getenv("API_ENV") == "production"
}

func statusForCode(code types.ErrorCode) int {
	switch code {
	case types.ERR_UNAUTHORIZED:
		return http.StatusUnauthorized
	case types.ERR_FORBIDDEN:
		return http.StatusForbidden
	case types.ERR_NOT_FOUND:
		return http.StatusNotFound
	case types.ERR_CONFLICT:
		return http.StatusConflict
	case types.ERR_VALIDATION:
		return http.StatusBadRequest
	case types.ERR_GATEWAY:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RespondError renders the partner-facing error envelope. Anything that is
// not an APIError is reported as an opaque internal error.
func RespondError(ctx *gin.Context, err error) {
	var apiErr *types.APIError
	if !errors.As(err, &apiErr) {
		log.Printf("[api] internal error: %s\n", err.Error())
		apiErr = types.NewAPIError(types.ERR_INTERNAL_ERROR, "an internal error occurred")
	}
	status := statusForCode(apiErr.Code)
	if apiErr.RetryAfter != nil {
		ctx.Header("Retry-After", strconv.Itoa(*apiErr.RetryAfter))
	}
	ctx.AbortWithStatusJSON(status, gin.H{"error": apiErr})
}

// ReservationResponse shapes a reservation for the partner API. Internal
// gateway references are exposed; frozen snapshots of amounts are not.
func ReservationResponse(r *models.Reservation, booking *models.Booking) types.APIResponseReservation {
	out := types.APIResponseReservation{
		ID:            r.ID.String(),
		PartnerRef:    r.PartnerRef,
		VendorID:      r.VendorID,
		RequesterID:   r.RequesterID,
		State:         r.State,
		FailureReason: r.FailureReason,
	}
	if !r.SlotStart.IsZero() {
		t := r.SlotStart
		out.SlotStartTime = &t
	}
	if !r.SlotEnd.IsZero() {
		t := r.SlotEnd
		out.SlotEndTime = &t
	}
	if !r.ExpiresAt.IsZero() {
		t := r.ExpiresAt
		out.ExpiresAt = &t
	}
	if !r.CreatedAt.IsZero() {
		t := r.CreatedAt
		out.CreatedAt = &t
	}
	out.PaymentState = &types.APIResponsePaymentState{
		RequesterAuthRef:    r.RequesterAuthRef,
		VendorAuthRef:       r.VendorAuthRef,
		RequesterCaptureRef: r.RequesterCaptureRef,
		VendorCaptureRef:    r.VendorCaptureRef,
	}
	for _, t := range r.Transitions {
		out.StateHistory = append(out.StateHistory, types.APIResponseTransition{
			FromState:   t.FromState,
			ToState:     t.ToState,
			TriggeredBy: t.TriggeredBy,
			Reason:      t.Reason,
			CreatedAt:   t.CreatedAt,
		})
	}
	if booking != nil {
		id := booking.ID.String()
		out.BookingID = &id
	}
	return out
}
