package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `gorm:"autoCreateTime:nano" json:"created_at,omitempty"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:nano" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONB) Scan(value any) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	return nil
}

type Handler func(body string)

type ReservationState string

const (
	RESERVATION_PENDING_AUTH          ReservationState = "PENDING_AUTH"
	RESERVATION_AUTHORIZED            ReservationState = "AUTHORIZED"
	RESERVATION_PENDING_CAPTURE       ReservationState = "PENDING_CAPTURE"
	RESERVATION_CAPTURING             ReservationState = "CAPTURING"
	RESERVATION_CONFIRMED             ReservationState = "CONFIRMED"
	RESERVATION_FAILED_AUTH           ReservationState = "FAILED_AUTH"
	RESERVATION_FAILED_VENDOR_TIMEOUT ReservationState = "FAILED_VENDOR_TIMEOUT"
	RESERVATION_FAILED_COMMIT         ReservationState = "FAILED_COMMIT"
	RESERVATION_MANUAL_REVIEW         ReservationState = "MANUAL_REVIEW"
	RESERVATION_EXPIRED               ReservationState = "EXPIRED"
	RESERVATION_CANCELLED             ReservationState = "CANCELLED"
)

type CompensationStatus string

const (
	COMPENSATION_PENDING   CompensationStatus = "pending"
	COMPENSATION_SUCCEEDED CompensationStatus = "succeeded"
	COMPENSATION_ESCALATED CompensationStatus = "escalated"
)

type CompensationAction string

const (
	COMPENSATION_REFUND  CompensationAction = "refund"
	COMPENSATION_RELEASE CompensationAction = "release"
)

type PaymentSide string

const (
	SIDE_REQUESTER PaymentSide = "requester"
	SIDE_VENDOR    PaymentSide = "vendor"
)

type ErrorCode string

const (
	ERR_UNAUTHORIZED   ErrorCode = "UNAUTHORIZED"
	ERR_FORBIDDEN      ErrorCode = "FORBIDDEN"
	ERR_NOT_FOUND      ErrorCode = "NOT_FOUND"
	ERR_CONFLICT       ErrorCode = "CONFLICT"
	ERR_VALIDATION     ErrorCode = "VALIDATION_ERROR"
	ERR_GATEWAY        ErrorCode = "GATEWAY_ERROR"
	ERR_INTERNAL_ERROR ErrorCode = "INTERNAL_ERROR"
)

// APIError is the partner-facing error shape. Internal identifiers and raw
// gateway payloads never go through Message.
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Retryable  bool      `json:"retryable"`
	RetryAfter *int      `json:"retry_after,omitempty"`
}

func (e *APIError) Error() string {
	return string(e.Code) + ": " + e.Message
}

func NewAPIError(code ErrorCode, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

func NewRetryableAPIError(code ErrorCode, message string, retryAfter int) *APIError {
	return &APIError{Code: code, Message: message, Retryable: true, RetryAfter: &retryAfter}
}

type CreateReservationRequestBody struct {
	VendorID       string `json:"vendor_id" binding:"required"`
	RequesterID    string `json:"requester_id" binding:"required"`
	SlotStartTime  string `json:"slot_start_time" binding:"required,futuredate"`
	SlotEndTime    string `json:"slot_end_time" binding:"required,futuredate,gtdate=SlotStartTime"`
	PartnerRef     string `json:"partner_booking_ref" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	RequesterCents int64  `json:"requester_amount_cents" binding:"required,gt=0"`
	VendorCents    int64  `json:"vendor_amount_cents" binding:"required,gt=0"`
	Currency       string `json:"currency" binding:"required,len=3"`
}

type ReservationURIParams struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type APIResponsePaymentState struct {
	RequesterAuthRef    *string `json:"requester_auth_ref,omitempty"`
	VendorAuthRef       *string `json:"vendor_auth_ref,omitempty"`
	RequesterCaptureRef *string `json:"requester_capture_ref,omitempty"`
	VendorCaptureRef    *string `json:"vendor_capture_ref,omitempty"`
}

type APIResponseTransition struct {
	FromState   ReservationState `json:"from_state"`
	ToState     ReservationState `json:"to_state"`
	TriggeredBy string           `json:"triggered_by"`
	Reason      *string          `json:"reason,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

type APIResponseReservation struct {
	ID            string                   `json:"id"`
	PartnerRef    string                   `json:"partner_booking_ref,omitempty"`
	VendorID      string                   `json:"vendor_id,omitempty"`
	RequesterID   string                   `json:"requester_id,omitempty"`
	SlotStartTime *time.Time               `json:"slot_start_time,omitempty"`
	SlotEndTime   *time.Time               `json:"slot_end_time,omitempty"`
	State         ReservationState         `json:"state"`
	PaymentState  *APIResponsePaymentState `json:"payment_state,omitempty"`
	StateHistory  []APIResponseTransition  `json:"state_history,omitempty"`
	FailureReason *string                  `json:"failure_reason,omitempty"`
	ExpiresAt     *time.Time               `json:"expires_at,omitempty"`
	BookingID     *string                  `json:"booking_id,omitempty"`
	CreatedAt     *time.Time               `json:"created_at,omitempty"`
}
