package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"resv/src/common"
	"resv/src/types"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// paymentEventFromStripe translates a verified gateway event into the
// internal variant set. A nil return means the event type is not ours to
// handle.
func paymentEventFromStripe(event *stripe.Event) types.PaymentEvent {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		log.Printf("[webhook] could not parse payment intent from %s: %s\n", event.ID, err.Error())
		return nil
	}
	reservationId := pi.Metadata["reservation_id"]
	switch event.Type {
	case "payment_intent.succeeded":
		return types.NewPaymentSucceeded(event.ID, pi.ID, reservationId, pi.AmountReceived, string(pi.Currency))
	case "payment_intent.payment_failed":
		code := ""
		message := ""
		if pi.LastPaymentError != nil {
			code = string(pi.LastPaymentError.Code)
			message = pi.LastPaymentError.Msg
		}
		return types.NewPaymentFailed(event.ID, pi.ID, reservationId, code, message)
	case "payment_intent.canceled":
		return types.NewPaymentCanceled(event.ID, pi.ID, reservationId)
	}
	return nil
}

func paymentsWebhookRoute(g *gin.Engine, processor *common.WebhookProcessor) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	apiv1.POST("/webhook/payments", func(ctx *gin.Context) {
		payload, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			log.Printf("Error reading request body: %s\n", err.Error())
			ctx.Status(http.StatusServiceUnavailable)
			return
		}
		whsecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
		event, err := webhook.ConstructEvent(payload, ctx.GetHeader("Stripe-Signature"), whsecret)
		if err != nil {
			log.Printf("Error verifying webhook signature: %s\n", err.Error())
			ctx.Status(http.StatusBadRequest)
			return
		}
		log.Printf("[PaymentEvent] %s %s\n", event.Type, event.ID)
		ev := paymentEventFromStripe(&event)
		if ev == nil {
			// not a payment lifecycle event; acknowledge and move on
			ctx.JSON(http.StatusOK, gin.H{"data": gin.H{"outcome": "ignored"}})
			return
		}
		outcome, err := processor.ProcessEvent(ctx.Request.Context(), ev)
		if err != nil {
			log.Printf("Error processing %s: %s\n", event.ID, err.Error())
			ctx.Status(http.StatusInternalServerError)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"data": gin.H{"outcome": outcome}})
	})
	return apiv1
}
