package models

import "time"

type SeatStatus string

const (
	SeatStatusAvailable SeatStatus = "AVAILABLE"
	SeatStatusHeld      SeatStatus = "HELD"
	SeatStatusSold      SeatStatus = "SOLD"
)

// SeatStatusChangeEvent is published on the seat status topic whenever seats of a
// product change hands.
type SeatStatusChangeEvent struct {
	ProductID string     `json:"product_id"`
	Seats     []string   `json:"seats"`
	Status    SeatStatus `json:"status"`
	At        time.Time  `json:"at"`
}

func NewSeatStatusChangeEvent(productID string, seats []string, status SeatStatus) SeatStatusChangeEvent {
	return SeatStatusChangeEvent{
		ProductID: productID,
		Seats:     seats,
		Status:    status,
		At:        time.Now().UTC(),
	}
}

type HoldEventType string

const (
	HoldEventStateChanged    HoldEventType = "hold.state_changed"
	HoldEventConflict        HoldEventType = "hold.conflict"
	HoldEventError           HoldEventType = "hold.error"
	HoldEventReselect        HoldEventType = "purchase.reselect_required"
	HoldEventPurchased       HoldEventType = "purchase.completed"
	HoldEventPurchaseFailed  HoldEventType = "purchase.failed"
	HoldEventInventoryUpdate HoldEventType = "inventory.refreshed"
)

// HoldEvent describes a lifecycle step of one purchase session.
type HoldEvent struct {
	Type          HoldEventType `json:"type"`
	ReservationID string        `json:"reservation_id"`
	ProductID     string        `json:"product_id"`
	State         HoldState     `json:"state,omitempty"`
	Seats         []string      `json:"seats,omitempty"`
	Message       string        `json:"message,omitempty"`
	PNR           string        `json:"pnr,omitempty"`
	At            time.Time     `json:"at"`
}
