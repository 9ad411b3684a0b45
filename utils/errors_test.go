package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", NewValidationError("missing %s", "f000"), http.StatusBadRequest},
		{"conflict", NewConflictError("duplicate unique_id"), http.StatusConflict},
		{"authorization", NewAuthorizationError("service not granted"), http.StatusForbidden},
		{"provider", &ProviderError{URL: "http://x", Err: errors.New("timeout")}, http.StatusBadGateway},
		{"wrapped not found", fmt.Errorf("lookup: %w", ErrNotFound), http.StatusNotFound},
		{"invalid transition", fmt.Errorf("resolve: %w", ErrInvalidTransition), http.StatusConflict},
		{"api error", ErrTooManyRequests, http.StatusTooManyRequests},
		{"routing", &RoutingError{Op: "resolve rule", Err: errors.New("db down")}, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestTypedErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection refused")

	routingErr := &RoutingError{Op: "provision rule", Err: cause}
	assert.ErrorIs(t, routingErr, cause)
	assert.Equal(t, "provision rule: connection refused", routingErr.Error())

	persistErr := NewPersistenceError("save assessment", cause)
	var pe *PersistenceError
	assert.ErrorAs(t, persistErr, &pe)
	assert.Equal(t, "save assessment", pe.Op)

	assert.Nil(t, NewPersistenceError("noop", nil))

	conflict := NewConflictError("exists")
	assert.ErrorIs(t, conflict, ErrDuplicate)

	providerErr := &ProviderError{Err: cause}
	assert.Equal(t, "Microservice call failed: connection refused", providerErr.Error())
}

func TestValidateStruct(t *testing.T) {
	type blockRequest struct {
		IPAddress string `validate:"required,ip"`
		Reason    string `validate:"required,max=10"`
	}

	assert.NoError(t, ValidateStruct(blockRequest{IPAddress: "10.0.0.1", Reason: "abuse"}))

	err := ValidateStruct(blockRequest{IPAddress: "not-an-ip", Reason: ""})
	var ve *ValidationError
	if assert.ErrorAs(t, err, &ve) {
		assert.Equal(t, http.StatusBadRequest, ve.Code)
		assert.ElementsMatch(t, []string{"IPAddress", "Reason"}, ve.Fields)
		assert.Contains(t, ve.Message, "IPAddress: must be a valid IP address")
		assert.Contains(t, ve.Message, "Reason: is required")
	}
}
