package models

import (
	"resv/src/types"
	"time"

	"github.com/google/uuid"
)

type Reservation struct {
	ID             uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`
	PartnerID      uint      `gorm:"index;uniqueIndex:idx_partner_idem_key" json:"-"`
	IdempotencyKey string    `gorm:"size:128;uniqueIndex:idx_partner_idem_key" json:"-"`
	PartnerRef     string    `json:"partner_booking_ref,omitempty"`

	VendorID    string    `gorm:"index:idx_vendor_slot" json:"vendor_id,omitempty"`
	RequesterID string    `json:"requester_id,omitempty"`
	SlotStart   time.Time `gorm:"index:idx_vendor_slot" json:"slot_start_time,omitempty"`
	SlotEnd     time.Time `json:"slot_end_time,omitempty"`

	State         types.ReservationState `gorm:"index;default:'PENDING_AUTH'" json:"state,omitempty"`
	FailureReason *string                `json:"failure_reason,omitempty"`
	// ExpiresAt is fixed at creation; only the sweeper or a terminal
	// transition takes the reservation out of its pending window.
	ExpiresAt time.Time `gorm:"index" json:"expires_at,omitempty"`

	RequesterCents int64  `json:"requester_amount_cents,omitempty"`
	VendorCents    int64  `json:"vendor_amount_cents,omitempty"`
	Currency       string `json:"currency,omitempty"`

	RequesterAuthRef    *string `gorm:"index" json:"requester_auth_ref,omitempty"`
	VendorAuthRef       *string `gorm:"index" json:"vendor_auth_ref,omitempty"`
	RequesterCaptureRef *string `json:"requester_capture_ref,omitempty"`
	VendorCaptureRef    *string `json:"vendor_capture_ref,omitempty"`

	Transitions []StateTransition `json:"transitions,omitempty"`

	types.Timestamps
}

// StateTransition is the append-only transition log. Rows are written in the
// same DB transaction as the state update they describe.
type StateTransition struct {
	ID            uint                   `gorm:"primarykey" json:"id"`
	ReservationID uuid.UUID              `gorm:"type:uuid;index" json:"reservation_id"`
	FromState     types.ReservationState `json:"from_state"`
	ToState       types.ReservationState `json:"to_state"`
	TriggeredBy   string                 `json:"triggered_by"`
	Reason        *string                `json:"reason,omitempty"`
	CreatedAt     time.Time              `gorm:"autoCreateTime:nano" json:"created_at"`
}
