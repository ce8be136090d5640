package types

// PaymentEvent is the parsed form of a gateway webhook delivery. Modelled as
// a closed variant set so handling a new gateway event type forces a code
// change instead of silently falling through a string switch.
type PaymentEvent interface {
	EventID() string
	PaymentRef() string
	ReservationID() string
	sealed()
}

type paymentEventBase struct {
	ID            string
	Ref           string
	ReservationId string
}

func (e paymentEventBase) EventID() string       { return e.ID }
func (e paymentEventBase) PaymentRef() string    { return e.Ref }
func (e paymentEventBase) ReservationID() string { return e.ReservationId }
func (e paymentEventBase) sealed()               {}

type PaymentSucceeded struct {
	paymentEventBase
	Amount   int64
	Currency string
}

type PaymentFailed struct {
	paymentEventBase
	FailureCode    string
	FailureMessage string
}

type PaymentCanceled struct {
	paymentEventBase
}

func NewPaymentSucceeded(eventId, ref, reservationId string, amount int64, currency string) PaymentSucceeded {
	return PaymentSucceeded{
		paymentEventBase: paymentEventBase{ID: eventId, Ref: ref, ReservationId: reservationId},
		Amount:           amount,
		Currency:         currency,
	}
}

func NewPaymentFailed(eventId, ref, reservationId, code, message string) PaymentFailed {
	return PaymentFailed{
		paymentEventBase: paymentEventBase{ID: eventId, Ref: ref, ReservationId: reservationId},
		FailureCode:      code,
		FailureMessage:   message,
	}
}

func NewPaymentCanceled(eventId, ref, reservationId string) PaymentCanceled {
	return PaymentCanceled{
		paymentEventBase: paymentEventBase{ID: eventId, Ref: ref, ReservationId: reservationId},
	}
}
