package validate

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadignite/api/internal/apperr"
)

type sample struct {
	Code     string           `json:"code" validate:"required,min=4,max=20,promocode"`
	Routing  string           `json:"routing_number" validate:"omitempty,routing"`
	Currency string           `json:"currency" validate:"omitempty,currency"`
	Amount   decimal.Decimal  `json:"amount" validate:"gt=0,lte=100"`
	Limit    *decimal.Decimal `json:"limit" validate:"omitempty,gt=0"`
	Timezone string           `json:"timezone" validate:"omitempty,tzname"`
}

func TestStructValid(t *testing.T) {
	limit := decimal.NewFromInt(5)
	err := Struct(sample{
		Code:     "SPRING_25",
		Routing:  "021000021",
		Currency: "gbp",
		Amount:   decimal.RequireFromString("99.99"),
		Limit:    &limit,
		Timezone: "America/New_York",
	})
	assert.NoError(t, err)
}

func TestStructCollectsFieldErrors(t *testing.T) {
	zero := decimal.Zero
	err := Struct(sample{
		Code:     "bad code",
		Routing:  "12345",
		Currency: "JPY",
		Amount:   decimal.NewFromInt(150),
		Limit:    &zero,
		Timezone: "Mars/Olympus",
	})
	require.Error(t, err)

	domain, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnprocessableEntity, domain.Status)

	details, ok := domain.Details.([]FieldError)
	require.True(t, ok)
	fields := map[string]string{}
	for _, d := range details {
		fields[d.Field] = d.Rule
	}
	assert.Equal(t, "promocode", fields["code"])
	assert.Equal(t, "routing", fields["routing_number"])
	assert.Equal(t, "currency", fields["currency"])
	assert.Equal(t, "lte", fields["amount"])
	assert.Equal(t, "gt", fields["limit"])
	assert.Equal(t, "tzname", fields["timezone"])
}

func TestVar(t *testing.T) {
	assert.NoError(t, Var("email", "owner@example.com", "required,email"))
	err := Var("email", "nope", "required,email")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email")
}
