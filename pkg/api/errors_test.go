package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/multierr"

	"github.com/autoqa/autoqa/pkg/flow"
	"github.com/autoqa/autoqa/pkg/orchestrator"
	"github.com/autoqa/autoqa/pkg/session"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{
			name: "validation error",
			err:  &orchestrator.ValidationError{Field: "priority", Reason: "must be between 0 and 10"},
			code: http.StatusBadRequest,
		},
		{
			name: "aggregated validation errors",
			err: multierr.Combine(
				&orchestrator.ValidationError{Field: "test_id", Reason: "must not be empty"},
				&orchestrator.ValidationError{Field: "priority", Reason: "must be between 0 and 10"},
			),
			code: http.StatusBadRequest,
		},
		{
			name: "backpressure",
			err:  &flow.BackpressureError{Reason: flow.ReasonMemoryPressure, Utilization: 0.95},
			code: http.StatusTooManyRequests,
		},
		{
			name: "execution not found",
			err:  &orchestrator.NotFoundError{ExecutionID: "x"},
			code: http.StatusNotFound,
		},
		{
			name: "session not found",
			err:  &session.NotFoundError{SessionID: "x"},
			code: http.StatusNotFound,
		},
		{
			name: "shutting down",
			err:  orchestrator.ErrShuttingDown,
			code: http.StatusServiceUnavailable,
		},
		{
			name: "conflicting refresh",
			err:  session.ErrConflictingRefresh,
			code: http.StatusConflict,
		},
		{
			name: "token mismatch",
			err:  session.ErrTokenMismatch,
			code: http.StatusUnauthorized,
		},
		{
			name: "unexpected",
			err:  errors.New("disk on fire"),
			code: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpErr := mapServiceError(tt.err)
			assert.Equal(t, tt.code, httpErr.Code)
		})
	}
}
