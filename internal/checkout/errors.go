package checkout

import (
	"errors"
	"strings"

	"busticket/internal/api"
	"busticket/internal/purchase"
	"busticket/internal/seats"
)

var ErrSessionClosed = errors.New("purchase session is closed")

// Category is how the passenger gets to see an error.
type Category int

const (
	None Category = iota
	Validation
	SalesWindow
	HoldConflict
	HoldTransport
	Submission
)

func (c Category) String() string {
	switch c {
	case None:
		return "none"
	case Validation:
		return "validation"
	case SalesWindow:
		return "sales_window"
	case HoldConflict:
		return "hold_conflict"
	case HoldTransport:
		return "hold_transport"
	case Submission:
		return "submission"
	default:
		return "unknown"
	}
}

// Classify maps any error a session returns to a category. Errors it does not
// recognise count as submission failures.
func Classify(err error) Category {
	if err == nil {
		return None
	}

	var verrs purchase.ValidationErrors
	var subErr *purchase.SubmissionError
	switch {
	case errors.Is(err, purchase.ErrSalesClosed):
		return SalesWindow
	case errors.As(err, &verrs),
		errors.Is(err, seats.ErrInvalidQuantity),
		errors.Is(err, ErrSessionClosed),
		errors.Is(err, api.ErrProductNotFound):
		return Validation
	case errors.As(err, &subErr):
		return Submission
	case errors.Is(err, purchase.ErrHoldNotActive):
		return HoldTransport
	case api.IsConflict(err):
		return HoldConflict
	case api.IsTransport(err):
		return HoldTransport
	default:
		return Submission
	}
}

// UserMessage renders an error for the passenger.
func UserMessage(err error) string {
	switch Classify(err) {
	case None:
		return ""
	case SalesWindow:
		return "Sales are closed for this trip, it departs too soon."
	case HoldConflict:
		seats := api.ConflictSeats(err)
		if len(seats) == 0 {
			return "Some of the selected seats were just taken, please choose again."
		}
		return "Seats " + strings.Join(seats, ", ") + " were just taken, please choose again."
	case HoldTransport:
		if errors.Is(err, purchase.ErrHoldNotActive) {
			return "Your seats are not reserved yet, wait a moment or retry."
		}
		return "Could not reserve your seats, check your connection and retry."
	case Validation:
		var verrs purchase.ValidationErrors
		if errors.As(err, &verrs) {
			lines := make([]string, len(verrs))
			for i, e := range verrs {
				lines[i] = e.Error()
			}
			return "Please correct: " + strings.Join(lines, "; ")
		}
		return err.Error()
	default:
		var subErr *purchase.SubmissionError
		if errors.As(err, &subErr) {
			if subErr.HoldLost {
				return subErr.Message + " Please select your seats again."
			}
			return subErr.Message
		}
		return err.Error()
	}
}
