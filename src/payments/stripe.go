package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"resv/src/types"

	"github.com/stripe/stripe-go/v82"
)

// StripeGateway implements Gateway on manual-capture PaymentIntents. The
// vendor side routes through the platform's connected account.
type StripeGateway struct {
	sc             *stripe.Client
	connectAccount string
}

func NewStripeGateway(sc *stripe.Client) *StripeGateway {
	return &StripeGateway{
		sc:             sc,
		connectAccount: os.Getenv("STRIPE_CONNECT_ACCOUNT_ID"),
	}
}

// idempotencyKey pins retries of the same logical operation to one gateway
// effect. Format carried over from the payment orchestration flow:
// <side>-<op>-<reservation>-<attempt>.
func idempotencyKey(side types.PaymentSide, op, reservationId string, attempt int) string {
	return fmt.Sprintf("%s-%s-%s-%d", side, op, reservationId, attempt)
}

func (g *StripeGateway) Authorize(ctx context.Context, p AuthorizeParams) (string, error) {
	params := stripe.PaymentIntentCreateParams{
		Amount:             stripe.Int64(p.Amount),
		Currency:           stripe.String(p.Currency),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Metadata: map[string]string{
			"reservation_id": p.ReservationID,
			"partner_id":     fmt.Sprintf("%d", p.PartnerID),
			"side":           string(p.Side),
			"attempt":        fmt.Sprintf("%d", p.Attempt),
		},
	}
	if p.Side == types.SIDE_VENDOR && g.connectAccount != "" {
		params.OnBehalfOf = stripe.String(g.connectAccount)
		params.TransferData = &stripe.PaymentIntentCreateTransferDataParams{
			Destination: stripe.String(g.connectAccount),
		}
	}
	params.IdempotencyKey = stripe.String(idempotencyKey(p.Side, "auth", p.ReservationID, p.Attempt))
	pi, err := g.sc.V1PaymentIntents.Create(ctx, &params)
	if err != nil {
		return "", classify(err)
	}
	return pi.ID, nil
}

func (g *StripeGateway) Capture(ctx context.Context, p CaptureParams) (string, error) {
	params := stripe.PaymentIntentCaptureParams{
		Metadata: map[string]string{
			"reservation_id": p.ReservationID,
			"side":           string(p.Side),
			"attempt":        fmt.Sprintf("%d", p.Attempt),
		},
	}
	params.IdempotencyKey = stripe.String(idempotencyKey(p.Side, "capture", p.ReservationID, p.Attempt))
	pi, err := g.sc.V1PaymentIntents.Capture(ctx, p.Reference, &params)
	if err != nil {
		return "", classify(err)
	}
	return pi.ID, nil
}

func (g *StripeGateway) Cancel(ctx context.Context, reference string) error {
	_, err := g.sc.V1PaymentIntents.Cancel(ctx, reference, &stripe.PaymentIntentCancelParams{})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (g *StripeGateway) Refund(ctx context.Context, reference string) (string, error) {
	re, err := g.sc.V1Refunds.Create(ctx, &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(reference),
	})
	if err != nil {
		return "", classify(err)
	}
	return re.ID, nil
}

// classify maps stripe errors onto the retryable/fatal taxonomy: connection
// problems, rate limits and gateway 5xx responses are retryable, everything
// else (card declines, invalid requests) is fatal.
func classify(err error) error {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		retryable := sErr.HTTPStatusCode == http.StatusTooManyRequests ||
			sErr.HTTPStatusCode >= http.StatusInternalServerError ||
			sErr.Type == stripe.ErrorTypeAPI
		return &GatewayError{
			Code:      string(sErr.Code),
			Message:   sErr.Msg,
			Retryable: retryable,
		}
	}
	log.Printf("[stripe] non-API error: %s\n", err.Error())
	return &GatewayError{Code: "connection_error", Message: err.Error(), Retryable: true}
}
