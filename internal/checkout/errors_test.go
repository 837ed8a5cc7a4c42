package checkout

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"busticket/internal/api"
	"busticket/internal/purchase"
	"busticket/internal/seats"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, None},
		{"sales closed", fmt.Errorf("%w: departs soon", purchase.ErrSalesClosed), SalesWindow},
		{"form", purchase.ValidationErrors{{Field: "cvv", Message: "must be 3 or 4 digits"}}, Validation},
		{"quantity", seats.ErrInvalidQuantity, Validation},
		{"closed session", ErrSessionClosed, Validation},
		{"unknown product", fmt.Errorf("open: %w", api.ErrProductNotFound), Validation},
		{"conflict", &api.ConflictError{Seats: []string{"4A"}}, HoldConflict},
		{"transport", &api.TransportError{Op: "hold seats", Err: errors.New("connection refused")}, HoldTransport},
		{"hold not active", fmt.Errorf("%w: hold is PENDING", purchase.ErrHoldNotActive), HoldTransport},
		{"rejected order", &purchase.SubmissionError{Message: "card declined"}, Submission},
		{"order transport", &purchase.SubmissionError{Message: "unreachable", Err: &api.TransportError{Op: "place order", Err: errors.New("eof")}}, Submission},
		{"anything else", errors.New("boom"), Submission},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Equal(t, "Seats 4A, 4B were just taken, please choose again.",
		UserMessage(&api.ConflictError{Seats: []string{"4A", "4B"}}))
	assert.Contains(t, UserMessage(&api.ConflictError{}), "Some of the selected seats")
	assert.Contains(t, UserMessage(&api.TransportError{Op: "hold seats", Err: errors.New("timeout")}), "retry")
	assert.Equal(t, "Please correct: cvv: required; expiry: required",
		UserMessage(purchase.ValidationErrors{{Field: "cvv", Message: "required"}, {Field: "expiry", Message: "required"}}))
	assert.Equal(t, "card declined", UserMessage(&purchase.SubmissionError{Message: "card declined"}))
	assert.Equal(t, "Your seat reservation has expired. Please select your seats again.",
		UserMessage(&purchase.SubmissionError{Message: "Your seat reservation has expired.", HoldLost: true}))
	assert.Contains(t, UserMessage(purchase.ErrSalesClosed), "Sales are closed")
	assert.Contains(t, UserMessage(purchase.ErrHoldNotActive), "not reserved yet")
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "hold_conflict", HoldConflict.String())
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "unknown", Category(42).String())
}
