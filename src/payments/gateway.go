// Package payments wraps the external payment gateway behind a stable
// interface. Everything above this package reasons about authorize, capture,
// cancel and refund; nothing above it sees gateway-specific payloads.
package payments

import (
	"context"
	"errors"
	"fmt"
	"resv/src/types"
)

type AuthorizeParams struct {
	ReservationID string
	PartnerID     uint
	Side          types.PaymentSide
	Amount        int64
	Currency      string
	Attempt       int
}

type CaptureParams struct {
	ReservationID string
	Side          types.PaymentSide
	Reference     string
	Attempt       int
}

type Gateway interface {
	// Authorize places a hold without transferring funds and returns the
	// gateway reference for the hold.
	Authorize(ctx context.Context, params AuthorizeParams) (string, error)
	// Capture finalizes a previously authorized transfer.
	Capture(ctx context.Context, params CaptureParams) (string, error)
	// Cancel releases an uncaptured authorization.
	Cancel(ctx context.Context, reference string) error
	// Refund reverses a captured transfer and returns the refund reference.
	Refund(ctx context.Context, reference string) (string, error)
}

// GatewayError carries the adapter's retryable/fatal classification.
type GatewayError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

func IsRetryable(err error) bool {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Retryable
	}
	return false
}
