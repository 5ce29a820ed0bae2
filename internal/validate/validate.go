// Package validate wraps a shared go-playground validator configured with
// the platform's custom rules.
package validate

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"leadignite/api/internal/apperr"
)

var (
	promoCodePattern = regexp.MustCompile(`^[A-Z0-9_-]+$`)
	routingPattern   = regexp.MustCompile(`^\d{9}$`)

	// SupportedCurrencies lists the ISO 4217 codes payouts may use.
	SupportedCurrencies = map[string]struct{}{
		"USD": {}, "EUR": {}, "GBP": {}, "CAD": {}, "AUD": {},
	}

	validate *validator.Validate
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	// Money is compared as float for gt/lte style rules.
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	mustRegister("promocode", func(fl validator.FieldLevel) bool {
		return promoCodePattern.MatchString(fl.Field().String())
	})
	mustRegister("routing", func(fl validator.FieldLevel) bool {
		return routingPattern.MatchString(fl.Field().String())
	})
	mustRegister("currency", func(fl validator.FieldLevel) bool {
		_, ok := SupportedCurrencies[strings.ToUpper(fl.Field().String())]
		return ok
	})
	mustRegister("tzname", func(fl validator.FieldLevel) bool {
		_, err := time.LoadLocation(fl.Field().String())
		return err == nil
	})
}

func mustRegister(tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

// FieldError describes one failed rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// Struct validates v against its `validate` tags. Rule failures come back
// as a 422 *apperr.Error whose details list every failed field.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	details := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return apperr.Invalid(message(details), details)
}

// Var validates a single value against a tag expression.
func Var(field string, value any, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		details := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, FieldError{Field: field, Rule: fe.Tag(), Param: fe.Param()})
		}
		return apperr.Invalid(message(details), details)
	}
	return nil
}

// PromoCode reports whether code matches the promo code alphabet.
func PromoCode(code string) bool {
	return promoCodePattern.MatchString(code)
}

func message(details []FieldError) string {
	if len(details) == 0 {
		return "Validation failed"
	}
	first := details[0]
	if first.Param != "" {
		return "Invalid " + first.Field + " (" + first.Rule + "=" + first.Param + ")"
	}
	return "Invalid " + first.Field + " (" + first.Rule + ")"
}
