package models

type DocumentType string

const (
	DocumentNationalID DocumentType = "national_id"
	DocumentPassport   DocumentType = "passport"
)

type Passenger struct {
	FirstName      string       `json:"first_name" validate:"required"`
	LastName       string       `json:"last_name" validate:"required"`
	DocumentType   DocumentType `json:"document_type" validate:"oneof=national_id passport"`
	NationalID     string       `json:"national_id,omitempty" validate:"required_if=DocumentType national_id,omitempty,len=11,number"`
	PassportNumber string       `json:"passport_number,omitempty" validate:"required_if=DocumentType passport"`
	Nationality    string       `json:"nationality,omitempty" validate:"required_if=DocumentType passport"`
	Email          string       `json:"email,omitempty" validate:"omitempty,email"`
	Phone          string       `json:"phone,omitempty"`
}

type Payment struct {
	CardHolder string `json:"card_holder" validate:"required"`
	CardNumber string `json:"card_number" validate:"credit_card"`
	Expiry     string `json:"expiry" validate:"card_expiry"` // MM/YY
	CVV        string `json:"cvv" validate:"number,min=3,max=4"`
}

type OrderRequest struct {
	ReservationID string    `json:"reservation_id"`
	ProductID     string    `json:"product_id"`
	Quantity      int       `json:"quantity"`
	Seats         []string  `json:"seats"`
	Passenger     Passenger `json:"passenger"`
	Payment       Payment   `json:"payment"`
	UnitPrice     float64   `json:"unit_price"`
	Total         float64   `json:"total"`
}

// Order failure codes the server may attach to a rejected purchase.
const (
	OrderCodeHoldExpired  = "HOLD_EXPIRED"
	OrderCodeHoldConflict = "HOLD_CONFLICT"
)

type OrderResponse struct {
	Status  bool   `json:"status"`
	PNR     string `json:"pnr,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`

	HTTPStatus int `json:"-"`
}
