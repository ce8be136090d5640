package models

import (
	"resv/src/types"

	"github.com/google/uuid"
)

// CompensationRecord tracks a corrective payment action until it succeeds or
// gets escalated to an operator. It is never silently dropped.
type CompensationRecord struct {
	ID            uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`
	ReservationID uuid.UUID `gorm:"type:uuid;index" json:"reservation_id"`

	CapturedSide types.PaymentSide        `json:"captured_side,omitempty"`
	FailedSide   types.PaymentSide        `json:"failed_side,omitempty"`
	Action       types.CompensationAction `json:"action"`
	PaymentRef   string                   `json:"payment_ref,omitempty"`

	Status    types.CompensationStatus `gorm:"index;default:'pending'" json:"status"`
	Attempts  int                      `json:"attempts"`
	LastError *string                  `json:"last_error,omitempty"`

	types.Timestamps
}
