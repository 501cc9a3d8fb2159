package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/rhqueue/internal/api/shared"
	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/resilience"
	"github.com/phrazzld/rhqueue/internal/runninghub"
	"github.com/phrazzld/rhqueue/internal/service/auth"
	"github.com/phrazzld/rhqueue/internal/store"
	"github.com/phrazzld/rhqueue/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized},
		{"token not yet valid", auth.ErrTokenNotYetValid, http.StatusUnauthorized},
		{"task not found", fmt.Errorf("cancel: %w", domain.ErrTaskNotFound), http.StatusNotFound},
		{"store not found", store.ErrTaskNotFound, http.StatusNotFound},
		{"validation", fmt.Errorf("%w: app ID cannot be empty", domain.ErrValidation), http.StatusBadRequest},
		{"invalid id", domain.ErrInvalidID, http.StatusBadRequest},
		{"index", domain.ErrResultIndexOutOfRange, http.StatusBadRequest},
		{"invalid entity", store.ErrInvalidEntity, http.StatusBadRequest},
		{"missing key", runninghub.ErrMissingAPIKey, http.StatusPreconditionFailed},
		{"breaker open", resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
		{"stopped", task.ErrSchedulerStopped, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, MapErrorToStatusCode(tc.err))
		})
	}
}

func TestGetSafeErrorMessageNeverLeaksDetails(t *testing.T) {
	t.Parallel()

	secret := errors.New("pq: password authentication failed for user rhq at 10.1.2.3")
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(secret))
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
	assert.Equal(t, "Task not found", GetSafeErrorMessage(fmt.Errorf("x: %w", domain.ErrTaskNotFound)))
	assert.Equal(t, "Not found", GetSafeErrorMessage(store.ErrTaskNotFound))
}

func TestSanitizeValidationError(t *testing.T) {
	t.Parallel()

	err := validator.New().Struct(&CreateTaskRequest{})
	assert.Equal(t, "Invalid AppID: required field", SanitizeValidationError(err))

	domainErr := fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrEmptyAppID)
	assert.Equal(t, "Invalid task data: app ID cannot be empty", SanitizeValidationError(domainErr))

	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("other")))
}

func TestHandleAPIError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		defaultMsg string
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "validation detail is shown",
			err:        fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrEmptyAppID),
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Invalid task data: app ID cannot be empty",
		},
		{
			name:       "server error uses default message",
			err:        errors.New("disk on fire"),
			defaultMsg: "Failed to create task",
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "Failed to create task",
		},
		{
			name:       "known error keeps its message",
			err:        domain.ErrTaskNotFound,
			defaultMsg: "Failed to get task",
			wantStatus: http.StatusNotFound,
			wantMsg:    "Task not found",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)

			HandleAPIError(w, r, tc.err, tc.defaultMsg)

			assert.Equal(t, tc.wantStatus, w.Code)
			var resp shared.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantMsg, resp.Error)
		})
	}
}
