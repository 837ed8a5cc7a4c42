package purchase

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"busticket/internal/models"
)

// ErrSalesClosed blocks a purchase whose departure is inside the sales cutoff,
// regardless of whether the form is valid.
var ErrSalesClosed = errors.New("sales closed for this trip")

// FieldError names one invalid form field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every invalid field of a purchase form.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return "invalid purchase form: " + strings.Join(parts, "; ")
}

// Has reports whether the given field failed validation.
func (v ValidationErrors) Has(field string) bool {
	for _, e := range v {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Form is what the passenger filled in for one purchase.
type Form struct {
	Passenger models.Passenger
	Payment   models.Payment
}

// Validator checks a purchase before anything is sent to the server. Field rules
// live in the validate tags of models.Passenger and models.Payment.
type Validator struct {
	cutoff   time.Duration
	now      func() time.Time
	validate *validator.Validate
}

func NewValidator(cutoff time.Duration) *Validator {
	if cutoff <= 0 {
		cutoff = 60 * time.Minute
	}
	v := &Validator{cutoff: cutoff, now: time.Now, validate: validator.New()}
	v.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.validate.RegisterValidation("card_expiry", func(fl validator.FieldLevel) bool {
		return v.checkExpiry(fl.Field().String()) == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// CheckSalesWindow returns ErrSalesClosed unless departure is more than the cutoff
// away.
func (v *Validator) CheckSalesWindow(departure time.Time) error {
	remaining := departure.Sub(v.now())
	if remaining <= v.cutoff {
		return fmt.Errorf("%w: departure at %s is less than %s away",
			ErrSalesClosed, departure.Format("2006-01-02 15:04"), v.cutoff)
	}
	return nil
}

// Validate checks the sales window first, then the selection and every form field.
// It returns ErrSalesClosed (wrapped) or ValidationErrors.
func (v *Validator) Validate(product models.Product, seats []string, quantity int, form Form) error {
	if err := v.CheckSalesWindow(product.DepartureTime); err != nil {
		return err
	}

	var errs ValidationErrors
	if quantity < 1 || len(seats) != quantity {
		errs = append(errs, FieldError{"seats", fmt.Sprintf("select %d seat(s), %d selected", quantity, len(seats))})
	}
	if err := v.validate.Struct(normalizeForm(form)); err != nil {
		errs = append(errs, v.fieldErrors(err)...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (v *Validator) fieldErrors(err error) ValidationErrors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationErrors{{"form", err.Error()}}
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{fe.Field(), v.message(fe)})
	}
	return out
}

func (v *Validator) message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "required"
	case "oneof":
		return fmt.Sprintf("unknown document type %q", fe.Value())
	case "email":
		return "must be a valid email address"
	case "credit_card":
		return "must be a valid card number"
	case "card_expiry":
		if err := v.checkExpiry(fmt.Sprint(fe.Value())); err != nil {
			return err.Error()
		}
	}
	switch fe.Field() {
	case "national_id":
		return "must be exactly 11 digits"
	case "cvv":
		return "must be 3 or 4 digits"
	}
	return "failed " + fe.Tag() + " check"
}

// normalizeForm trims free text and strips card number separators before the
// tag rules run.
func normalizeForm(form Form) Form {
	p := &form.Passenger
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.NationalID = strings.TrimSpace(p.NationalID)
	p.PassportNumber = strings.TrimSpace(p.PassportNumber)
	p.Nationality = strings.TrimSpace(p.Nationality)
	p.Email = strings.TrimSpace(p.Email)

	pay := &form.Payment
	pay.CardHolder = strings.TrimSpace(pay.CardHolder)
	pay.CardNumber = stripCardNumber(pay.CardNumber)
	pay.Expiry = strings.TrimSpace(pay.Expiry)
	pay.CVV = strings.TrimSpace(pay.CVV)
	return form
}

// checkExpiry accepts MM/YY; a card is usable through the last day of its expiry
// month.
func (v *Validator) checkExpiry(expiry string) error {
	parts := strings.Split(strings.TrimSpace(expiry), "/")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 || !allDigits(parts[0]) || !allDigits(parts[1]) {
		return errors.New("must be in MM/YY form")
	}
	month, _ := strconv.Atoi(parts[0])
	year, _ := strconv.Atoi(parts[1])
	if month < 1 || month > 12 {
		return errors.New("month must be between 01 and 12")
	}

	now := v.now()
	firstInvalid := time.Date(2000+year, time.Month(month)+1, 1, 0, 0, 0, 0, now.Location())
	if !now.Before(firstInvalid) {
		return errors.New("card has expired")
	}
	return nil
}

func stripCardNumber(number string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, number)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
