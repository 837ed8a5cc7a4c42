package purchase

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"busticket/internal/api"
	"busticket/internal/logger"
	"busticket/internal/models"
)

type MockOrderAPI struct {
	mock.Mock
}

func (m *MockOrderAPI) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OrderResponse), args.Error(1)
}

var testNow = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

func newTestValidator() *Validator {
	v := NewValidator(60 * time.Minute)
	v.now = func() time.Time { return testNow }
	return v
}

func validForm() Form {
	return Form{
		Passenger: models.Passenger{
			FirstName:    "Deniz",
			LastName:     "Kaya",
			DocumentType: models.DocumentNationalID,
			NationalID:   "12345678901",
		},
		Payment: models.Payment{
			CardHolder: "DENIZ KAYA",
			CardNumber: "4111 1111 1111 1111",
			Expiry:     "12/27",
			CVV:        "123",
		},
	}
}

func testProduct(departureIn time.Duration) models.Product {
	return models.Product{
		ID:            "trip-1",
		From:          "Ankara",
		To:            "Izmir",
		DepartureTime: testNow.Add(departureIn),
		Price:         333.33,
		Layout:        "2+1",
		Rows:          10,
	}
}

func validationErrors(t *testing.T, err error) ValidationErrors {
	t.Helper()
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs), "expected ValidationErrors, got %v", err)
	return verrs
}

func TestValidate_AcceptsCompleteForm(t *testing.T) {
	v := newTestValidator()
	assert.NoError(t, v.Validate(testProduct(3*time.Hour), []string{"1A", "1B"}, 2, validForm()))
}

func TestValidate_SalesWindowCheckedFirst(t *testing.T) {
	v := newTestValidator()

	err := v.Validate(testProduct(30*time.Minute), nil, 2, Form{})
	assert.ErrorIs(t, err, ErrSalesClosed)

	err = v.Validate(testProduct(60*time.Minute), []string{"1A"}, 1, validForm())
	assert.ErrorIs(t, err, ErrSalesClosed, "exactly at the cutoff is already closed")

	assert.NoError(t, v.Validate(testProduct(61*time.Minute), []string{"1A"}, 1, validForm()))
}

func TestValidate_IncompleteSelection(t *testing.T) {
	v := newTestValidator()

	verrs := validationErrors(t, v.Validate(testProduct(3*time.Hour), []string{"1A"}, 2, validForm()))
	assert.True(t, verrs.Has("seats"))
	assert.Len(t, verrs, 1)
}

func TestValidate_Passenger(t *testing.T) {
	v := newTestValidator()
	product := testProduct(3 * time.Hour)

	tests := []struct {
		name   string
		modify func(*models.Passenger)
		field  string
	}{
		{"missing first name", func(p *models.Passenger) { p.FirstName = "  " }, "first_name"},
		{"missing last name", func(p *models.Passenger) { p.LastName = "" }, "last_name"},
		{"short national id", func(p *models.Passenger) { p.NationalID = "1234567890" }, "national_id"},
		{"non-digit national id", func(p *models.Passenger) { p.NationalID = "1234567890A" }, "national_id"},
		{"passport without number", func(p *models.Passenger) {
			p.DocumentType = models.DocumentPassport
			p.Nationality = "DE"
		}, "passport_number"},
		{"passport without nationality", func(p *models.Passenger) {
			p.DocumentType = models.DocumentPassport
			p.PassportNumber = "C01X00T47"
		}, "nationality"},
		{"unknown document", func(p *models.Passenger) { p.DocumentType = "" }, "document_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := validForm()
			tt.modify(&form.Passenger)
			verrs := validationErrors(t, v.Validate(product, []string{"1A"}, 1, form))
			assert.True(t, verrs.Has(tt.field), "got %v", verrs)
		})
	}

	form := validForm()
	form.Passenger.DocumentType = models.DocumentPassport
	form.Passenger.NationalID = ""
	form.Passenger.PassportNumber = "C01X00T47"
	form.Passenger.Nationality = "DE"
	assert.NoError(t, v.Validate(product, []string{"1A"}, 1, form))
}

func TestValidate_Payment(t *testing.T) {
	v := newTestValidator()
	product := testProduct(3 * time.Hour)

	tests := []struct {
		name   string
		modify func(*models.Payment)
		field  string
	}{
		{"missing holder", func(p *models.Payment) { p.CardHolder = "" }, "card_holder"},
		{"too short", func(p *models.Payment) { p.CardNumber = "42424242424" }, "card_number"},
		{"bad checksum", func(p *models.Payment) { p.CardNumber = "4111111111111112" }, "card_number"},
		{"letters", func(p *models.Payment) { p.CardNumber = "4111abcd11111111" }, "card_number"},
		{"expired", func(p *models.Payment) { p.Expiry = "09/26" }, "expiry"},
		{"bad month", func(p *models.Payment) { p.Expiry = "13/28" }, "expiry"},
		{"bad format", func(p *models.Payment) { p.Expiry = "2027-12" }, "expiry"},
		{"short cvv", func(p *models.Payment) { p.CVV = "12" }, "cvv"},
		{"long cvv", func(p *models.Payment) { p.CVV = "12345" }, "cvv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := validForm()
			tt.modify(&form.Payment)
			verrs := validationErrors(t, v.Validate(product, []string{"1A"}, 1, form))
			assert.True(t, verrs.Has(tt.field), "got %v", verrs)
		})
	}
}

func TestCheckExpiry_CurrentMonthStillValid(t *testing.T) {
	v := newTestValidator()
	assert.NoError(t, v.checkExpiry("10/26"))
	assert.Error(t, v.checkExpiry("09/26"))
}

func TestValidate_CardNumbers(t *testing.T) {
	v := newTestValidator()
	product := testProduct(3 * time.Hour)

	tests := []struct {
		number string
		valid  bool
	}{
		{"4111111111111111", true},
		{"5555-5555-5555-4444", true},
		{"3782 822463 10005", true},
		{"4111111111111121", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.number, func(t *testing.T) {
			form := validForm()
			form.Payment.CardNumber = tt.number
			err := v.Validate(product, []string{"1A"}, 1, form)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			verrs := validationErrors(t, err)
			assert.True(t, verrs.Has("card_number"), "got %v", verrs)
		})
	}
}

func TestValidate_ReportsEveryFieldByJSONName(t *testing.T) {
	v := newTestValidator()

	form := Form{
		Passenger: models.Passenger{DocumentType: models.DocumentPassport, Email: "not-an-address"},
		Payment:   models.Payment{Expiry: "13/28", CVV: "1x3"},
	}
	verrs := validationErrors(t, v.Validate(testProduct(3*time.Hour), []string{"1A"}, 1, form))

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field] = fe.Message
	}
	assert.Equal(t, map[string]string{
		"first_name":      "required",
		"last_name":       "required",
		"passport_number": "required",
		"nationality":     "required",
		"email":           "must be a valid email address",
		"card_holder":     "required",
		"card_number":     "must be a valid card number",
		"expiry":          "month must be between 01 and 12",
		"cvv":             "must be 3 or 4 digits",
	}, fields)
}

func TestTotal(t *testing.T) {
	assert.Equal(t, 999.99, Total(333.33, 3))
	assert.Equal(t, 0.3, Total(0.1, 3))
	assert.Equal(t, 900.0, Total(450, 2))
}

func newTestSubmitter(m *MockOrderAPI) *Submitter {
	return NewSubmitter(m, newTestValidator(), NewReceiptGenerator("scanner-secret"), logger.Nop())
}

func testOrder(departureIn time.Duration) Order {
	return Order{
		ReservationID: "res-1",
		Product:       testProduct(departureIn),
		Seats:         []string{"3A", "3B", "4A"},
		Quantity:      3,
		Form:          validForm(),
		Hold:          models.HoldStateActive,
	}
}

func TestSubmit_HoldNotActiveMakesNoCall(t *testing.T) {
	m := new(MockOrderAPI)
	s := newTestSubmitter(m)

	for _, state := range []models.HoldState{models.HoldStatePending, models.HoldStateNone, models.HoldStateConflict} {
		order := testOrder(3 * time.Hour)
		order.Hold = state
		_, err := s.Submit(context.Background(), order)
		assert.ErrorIs(t, err, ErrHoldNotActive, "state %s", state)
	}

	order := testOrder(3 * time.Hour)
	order.Hold = models.HoldStatePending
	order.Form.Payment.CVV = ""
	_, err := s.Submit(context.Background(), order)
	verrs := validationErrors(t, err)
	assert.True(t, verrs.Has("cvv"), "form errors are reported before the hold state")

	m.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestSubmit_Success(t *testing.T) {
	m := new(MockOrderAPI)
	m.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req models.OrderRequest) bool {
		return req.ReservationID == "res-1" &&
			req.ProductID == "trip-1" &&
			req.Quantity == 3 &&
			len(req.Seats) == 3 &&
			req.UnitPrice == 333.33 &&
			req.Total == 999.99 &&
			req.Payment.CardNumber == "4111111111111111"
	})).Return(&models.OrderResponse{Status: true, PNR: "K7Q2ZP"}, nil).Once()

	receipt, err := newTestSubmitter(m).Submit(context.Background(), testOrder(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "K7Q2ZP", receipt.PNR)
	assert.Equal(t, "Deniz Kaya", receipt.Passenger)
	assert.Equal(t, 999.99, receipt.Total)
	assert.NotEmpty(t, receipt.QRCode)
	m.AssertExpectations(t)
}

func TestSubmit_SalesClosedMakesNoCall(t *testing.T) {
	m := new(MockOrderAPI)

	_, err := newTestSubmitter(m).Submit(context.Background(), testOrder(30*time.Minute))
	assert.ErrorIs(t, err, ErrSalesClosed)
	m.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestSubmit_InvalidFormMakesNoCall(t *testing.T) {
	m := new(MockOrderAPI)
	order := testOrder(3 * time.Hour)
	order.Form.Payment.CVV = ""

	_, err := newTestSubmitter(m).Submit(context.Background(), order)
	assert.True(t, validationErrors(t, err).Has("cvv"))
	m.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestSubmit_RejectedKeepsServerMessage(t *testing.T) {
	m := new(MockOrderAPI)
	m.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(&models.OrderResponse{Message: "Kartınız reddedildi", HTTPStatus: http.StatusPaymentRequired}, nil)

	_, err := newTestSubmitter(m).Submit(context.Background(), testOrder(3*time.Hour))
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "Kartınız reddedildi", subErr.Message)
	assert.False(t, subErr.HoldLost)
}

func TestSubmit_HoldLost(t *testing.T) {
	tests := []struct {
		name string
		resp *models.OrderResponse
	}{
		{"expired code", &models.OrderResponse{Message: "Hold expired", Code: models.OrderCodeHoldExpired, HTTPStatus: http.StatusBadRequest}},
		{"conflict code", &models.OrderResponse{Message: "Seat sold", Code: models.OrderCodeHoldConflict}},
		{"409", &models.OrderResponse{Message: "stale hold", HTTPStatus: http.StatusConflict}},
		{"410", &models.OrderResponse{HTTPStatus: http.StatusGone}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockOrderAPI)
			m.On("PlaceOrder", mock.Anything, mock.Anything).Return(tt.resp, nil)

			_, err := newTestSubmitter(m).Submit(context.Background(), testOrder(3*time.Hour))
			var subErr *SubmissionError
			require.ErrorAs(t, err, &subErr)
			assert.True(t, subErr.HoldLost)
			assert.NotEmpty(t, subErr.Message)
		})
	}
}

func TestSubmit_TransportFailure(t *testing.T) {
	m := new(MockOrderAPI)
	transportErr := &api.TransportError{Op: "place order", Err: errors.New("connection refused")}
	m.On("PlaceOrder", mock.Anything, mock.Anything).Return(nil, transportErr)

	_, err := newTestSubmitter(m).Submit(context.Background(), testOrder(3*time.Hour))
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.False(t, subErr.HoldLost)
	assert.True(t, api.IsTransport(err))
}

func TestReceipt_WriteQR(t *testing.T) {
	r := &Receipt{PNR: "K7Q2ZP", ProductID: "trip-1", Seats: []string{"1A"}}
	require.NoError(t, NewReceiptGenerator("").Attach(r))
	assert.False(t, r.IssuedAt.IsZero())

	dir := t.TempDir()
	path, err := r.WriteQR(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "K7Q2ZP.png"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data[:4])

	_, err = (&Receipt{PNR: "EMPTY"}).WriteQR(dir)
	assert.Error(t, err)
}

func TestEncryptAES_DiffersPerCall(t *testing.T) {
	key := make([]byte, 32)
	a, err := encryptAES([]byte("payload"), key)
	require.NoError(t, err)
	b, err := encryptAES([]byte("payload"), key)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
