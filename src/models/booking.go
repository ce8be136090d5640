package models

import (
	"resv/src/types"
	"time"

	"github.com/google/uuid"
)

// Booking is the terminal artifact of a confirmed reservation. It is created
// in the same DB transaction as the CONFIRMED transition and never mutated by
// this service afterwards.
type Booking struct {
	ID            uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`
	ReservationID uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"reservation_id"`
	PartnerID     uint      `gorm:"index" json:"-"`

	VendorID    string    `json:"vendor_id,omitempty"`
	RequesterID string    `json:"requester_id,omitempty"`
	SlotStart   time.Time `json:"slot_start_time,omitempty"`
	SlotEnd     time.Time `json:"slot_end_time,omitempty"`

	RequesterCents int64  `json:"requester_amount_cents,omitempty"`
	VendorCents    int64  `json:"vendor_amount_cents,omitempty"`
	Currency       string `json:"currency,omitempty"`

	types.Timestamps
}
