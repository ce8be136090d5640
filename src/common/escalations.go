package common

import (
	"context"
	"log"

	"resv/src/lib"
	awslib "resv/src/lib/aws"
	"resv/src/models"
	"resv/src/payments"
	"resv/src/types"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const QUEUE_COMPENSATION_REVIEW = "CompensationReview"

// SQSEscalator sends exhausted compensations to the review queue. The delay
// gives transient gateway outages a chance to clear before the consumer's
// extra attempt.
type SQSEscalator struct {
	Queue        string
	DelaySeconds int32
}

func NewSQSEscalator() *SQSEscalator {
	return &SQSEscalator{Queue: QUEUE_COMPENSATION_REVIEW, DelaySeconds: 60}
}

func (e *SQSEscalator) Escalate(rec *models.CompensationRecord, r *models.Reservation) error {
	return lib.SQSSendMessage(e.Queue, map[string]any{
		"compensation_id": rec.ID.String(),
		"reservation_id":  rec.ReservationID.String(),
		"action":          string(rec.Action),
		"payment_ref":     rec.PaymentRef,
		"attempts":        rec.Attempts,
		"partner_id":      r.PartnerID,
	}, e.DelaySeconds)
}

// CompensationReviewer gives each escalated compensation one more attempt
// off the request path. A compensation that still fails stays escalated
// for an operator; one that clears is marked succeeded.
type CompensationReviewer struct {
	store   ReservationStore
	gateway payments.Gateway
}

func NewCompensationReviewer(store ReservationStore, gateway payments.Gateway) *CompensationReviewer {
	return &CompensationReviewer{store: store, gateway: gateway}
}

func (cr *CompensationReviewer) Handle(body string) {
	ctx := context.Background()
	compId := gjson.Get(body, "compensation_id").String()
	id, err := uuid.Parse(compId)
	if err != nil {
		log.Printf("[compensation-review] bad message, no compensation_id: %s\n", body)
		return
	}
	rec, err := cr.store.FindCompensation(ctx, id)
	if err != nil {
		log.Printf("[compensation-review] unknown compensation %s\n", compId)
		return
	}
	if rec.Status == types.COMPENSATION_SUCCEEDED {
		return
	}
	var aErr error
	switch rec.Action {
	case types.COMPENSATION_REFUND:
		_, aErr = cr.gateway.Refund(ctx, rec.PaymentRef)
	default:
		aErr = cr.gateway.Cancel(ctx, rec.PaymentRef)
	}
	rec.Attempts++
	if aErr != nil {
		msg := aErr.Error()
		rec.LastError = &msg
		rec.Status = types.COMPENSATION_ESCALATED
		log.Printf("[compensation-review] %s still failing after %d attempts: %s\n", rec.ID, rec.Attempts, msg)
	} else {
		rec.LastError = nil
		rec.Status = types.COMPENSATION_SUCCEEDED
		log.Printf("[compensation-review] %s resolved on attempt %d\n", rec.ID, rec.Attempts)
	}
	if err := cr.store.SaveCompensation(ctx, rec); err != nil {
		log.Printf("[compensation-review] could not persist %s: %s\n", rec.ID, err.Error())
	}
}

func NewCompensationReviewConsumer(store ReservationStore, gateway payments.Gateway) *awslib.SQSConsumer {
	return awslib.NewSQSConsumer(QUEUE_COMPENSATION_REVIEW, NewCompensationReviewer(store, gateway).Handle)
}
