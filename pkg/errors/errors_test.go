package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodeFollowsWrappedErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{NotFound("invoice", nil), http.StatusNotFound},
		{fmt.Errorf("failed to update invoice: %w", Validation("paid")), http.StatusUnprocessableEntity},
		{InvalidTransition("payment-pending", "completed"), http.StatusConflict},
		{Conflict("slot taken"), http.StatusConflict},
		{Unavailable(stderrors.New("dial tcp")), http.StatusServiceUnavailable},
		{Forbidden("admins only"), http.StatusForbidden},
		{stderrors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, StatusCode(tt.err), tt.err.Error())
	}
}

func TestPublicMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "internal server error", PublicMessage(stderrors.New("pq: password authentication failed")))
	assert.Equal(t, "internal server error", PublicMessage(Internal(stderrors.New("nil map"))))
	assert.Equal(t, "invoice not found", PublicMessage(fmt.Errorf("wrap: %w", NotFound("invoice", nil))))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.True(t, Retryable(stderrors.New("connection reset")))
	assert.True(t, Retryable(Unavailable(nil)))
	assert.False(t, Retryable(Validation("bad")))
	assert.False(t, Retryable(Conflict("moved")))
	assert.False(t, Retryable(Unauthorized(nil)))
}
