package purchase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"busticket/internal/logger"
	"busticket/internal/models"
)

// ErrHoldNotActive rejects a purchase whose seats are not confirmed as held yet,
// for example while the hold request is still pending.
var ErrHoldNotActive = errors.New("selected seats are not held")

type OrderAPI interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResponse, error)
}

// SubmissionError is a purchase the server did not complete. Message is the
// server's own wording when it gave one. HoldLost means the hold behind the
// purchase expired or was taken, so the passenger has to pick seats again.
type SubmissionError struct {
	Message  string
	Code     string
	Status   int
	HoldLost bool
	Err      error // transport failure, nil when the server answered
}

func (e *SubmissionError) Error() string {
	return e.Message
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Order is everything needed to buy the held seats of one reservation.
type Order struct {
	ReservationID string
	Product       models.Product
	Seats         []string
	Quantity      int
	Form          Form
	Hold          models.HoldState
}

type Submitter struct {
	api       OrderAPI
	validator *Validator
	receipts  *ReceiptGenerator
	logger    *logger.Logger
}

func NewSubmitter(orderAPI OrderAPI, validator *Validator, receipts *ReceiptGenerator, log *logger.Logger) *Submitter {
	return &Submitter{api: orderAPI, validator: validator, receipts: receipts, logger: log}
}

// Total is the unit price times the quantity, rounded to cents.
func Total(unitPrice float64, quantity int) float64 {
	return math.Round(unitPrice*float64(quantity)*100) / 100
}

// Submit validates the order and sends exactly one purchase request. Validation
// failures, a closed sales window and a hold that is not active return before any
// network call.
func (s *Submitter) Submit(ctx context.Context, order Order) (*Receipt, error) {
	if err := s.validator.Validate(order.Product, order.Seats, order.Quantity, order.Form); err != nil {
		return nil, err
	}
	if order.Hold != models.HoldStateActive {
		return nil, fmt.Errorf("%w: hold is %s", ErrHoldNotActive, order.Hold)
	}

	req := models.OrderRequest{
		ReservationID: order.ReservationID,
		ProductID:     order.Product.ID,
		Quantity:      order.Quantity,
		Seats:         append([]string(nil), order.Seats...),
		Passenger:     order.Form.Passenger,
		Payment:       order.Form.Payment,
		UnitPrice:     order.Product.Price,
		Total:         Total(order.Product.Price, order.Quantity),
	}
	req.Payment.CardNumber = stripCardNumber(req.Payment.CardNumber)

	s.logger.LogOrder("SUBMIT", order.ReservationID, fmt.Sprintf("product %s seats %s total %.2f",
		req.ProductID, strings.Join(req.Seats, ","), req.Total))

	resp, err := s.api.PlaceOrder(ctx, req)
	if err != nil {
		s.logger.Error("ORDER", fmt.Sprintf("[FAILED] %s - %v", order.ReservationID, err))
		return nil, &SubmissionError{
			Message: "could not reach the ticketing service, please try again",
			Err:     err,
		}
	}

	if !resp.Status {
		subErr := &SubmissionError{
			Message:  resp.Message,
			Code:     resp.Code,
			Status:   resp.HTTPStatus,
			HoldLost: holdLost(resp),
		}
		if subErr.Message == "" {
			subErr.Message = "the purchase was not completed"
		}
		s.logger.LogOrder("REJECTED", order.ReservationID, subErr.Message)
		return nil, subErr
	}

	s.logger.LogOrder("CONFIRMED", order.ReservationID, "pnr "+resp.PNR)
	receipt := &Receipt{
		PNR:           resp.PNR,
		ReservationID: order.ReservationID,
		ProductID:     order.Product.ID,
		From:          order.Product.From,
		To:            order.Product.To,
		DepartureTime: order.Product.DepartureTime,
		Seats:         req.Seats,
		Passenger:     strings.TrimSpace(order.Form.Passenger.FirstName + " " + order.Form.Passenger.LastName),
		Total:         req.Total,
	}
	if s.receipts != nil {
		if err := s.receipts.Attach(receipt); err != nil {
			// The sale stands; only the QR image is missing.
			s.logger.Warn("ORDER", fmt.Sprintf("[RECEIPT] %s - %v", order.ReservationID, err))
		}
	}
	return receipt, nil
}

func holdLost(resp *models.OrderResponse) bool {
	switch resp.Code {
	case models.OrderCodeHoldExpired, models.OrderCodeHoldConflict:
		return true
	}
	return resp.HTTPStatus == http.StatusConflict || resp.HTTPStatus == http.StatusGone
}
