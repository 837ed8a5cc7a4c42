package models

import "time"

// HoldState is the client's belief about the server-side seat hold for one
// reservation.
type HoldState string

const (
	HoldStateNone     HoldState = "NONE"
	HoldStatePending  HoldState = "PENDING"
	HoldStateActive   HoldState = "ACTIVE"
	HoldStateConflict HoldState = "CONFLICT"
	HoldStateReleased HoldState = "RELEASED"
)

type HoldRequest struct {
	ReservationID string   `json:"reservation_id"`
	ProductID     string   `json:"product_id"`
	Seats         []string `json:"seats"`
}

// ReservationRef is the body of the extend and release calls.
type ReservationRef struct {
	ReservationID string `json:"reservation_id"`
}

type HoldResponse struct {
	Status    bool     `json:"status"`
	Message   string   `json:"message,omitempty"`
	Conflicts []string `json:"conflicts,omitempty"`
}

// ReservationSession is a read-only view of one purchase attempt.
type ReservationSession struct {
	ReservationID     string    `json:"reservation_id"`
	ProductID         string    `json:"product_id"`
	RequestedQuantity int       `json:"requested_quantity"`
	SelectedSeats     []string  `json:"selected_seats"`
	TakenSeats        []string  `json:"taken_seats"`
	HoldState         HoldState `json:"hold_state"`
	LastError         string    `json:"last_error,omitempty"`
	OpenedAt          time.Time `json:"opened_at"`
}
