package apperr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	err := Conflict("CODE_EXISTS", "Discount code already exists")
	assert.Equal(t, "CODE_EXISTS: Discount code already exists", err.Error())

	var nilErr *Error
	assert.Equal(t, "", nilErr.Error())
}

func TestStatusOfWrapped(t *testing.T) {
	wrapped := fmt.Errorf("create team: %w", NotFound("Team"))
	assert.Equal(t, http.StatusNotFound, StatusOf(wrapped))

	domain, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "Team not found", domain.Message)

	assert.Equal(t, http.StatusInternalServerError, StatusOf(fmt.Errorf("boom")))
}
