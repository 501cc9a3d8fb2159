package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/rhqueue/internal/api/shared"
	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/resilience"
	"github.com/phrazzld/rhqueue/internal/runninghub"
	"github.com/phrazzld/rhqueue/internal/service/auth"
	"github.com/phrazzld/rhqueue/internal/store"
	"github.com/phrazzld/rhqueue/internal/task"
)

const unexpectedErrorMessage = "An unexpected error occurred"

// errorClass pairs the errors a client may learn about with the status and
// message it gets. Classes are matched in order; anything unmatched is a 500
// with a generic message.
type errorClass struct {
	match   func(error) bool
	status  int
	message string
}

func isAny(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

var errorClasses = []errorClass{
	{isAny(auth.ErrInvalidToken, auth.ErrExpiredToken, auth.ErrMissingToken, auth.ErrTokenNotYetValid),
		http.StatusUnauthorized, "Invalid token"},
	{isAny(domain.ErrTaskNotFound), http.StatusNotFound, "Task not found"},
	{isAny(store.ErrNotFound), http.StatusNotFound, "Not found"},
	{isAny(domain.ErrResultIndexOutOfRange), http.StatusBadRequest, "Result index out of range"},
	{isAny(domain.ErrInvalidID), http.StatusBadRequest, "Invalid ID"},
	{isAny(domain.ErrValidation, store.ErrInvalidEntity), http.StatusBadRequest, "Invalid task data"},
	{isAny(runninghub.ErrMissingAPIKey), http.StatusPreconditionFailed, "RunningHub API key is not configured"},
	{isAny(resilience.ErrCircuitOpen), http.StatusServiceUnavailable, "RunningHub is temporarily unavailable"},
	{runninghub.IsTransportFailure, http.StatusBadGateway, "RunningHub request failed"},
	{isAny(task.ErrSchedulerStopped), http.StatusServiceUnavailable, "Scheduler is shutting down"},
}

func classify(err error) (int, string) {
	if err != nil {
		for _, c := range errorClasses {
			if c.match(err) {
				return c.status, c.message
			}
		}
	}
	return http.StatusInternalServerError, unexpectedErrorMessage
}

// MapErrorToStatusCode returns the HTTP status reported for err.
func MapErrorToStatusCode(err error) int {
	status, _ := classify(err)
	return status
}

// GetSafeErrorMessage returns the client-facing message for err. It never
// includes err's own text.
func GetSafeErrorMessage(err error) string {
	_, msg := classify(err)
	return msg
}

// SanitizeValidationError turns validator output into a message naming the
// first offending field without echoing internal struct names.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", fieldPath(fe.Namespace()), tagMessage(fe.Tag()))
	}

	// Domain validation messages name fields, never values.
	if errors.Is(err, domain.ErrValidation) {
		detail := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		return "Invalid task data: " + detail
	}

	return "Validation error"
}

// fieldPath strips the struct name from a validator namespace, e.g.
// "CreateTaskRequest.Params[0].NodeID" becomes "Params[0].NodeID".
func fieldPath(namespace string) string {
	if _, rest, found := strings.Cut(namespace, "."); found {
		return rest
	}
	return namespace
}

var tagMessages = map[string]string{
	"required": "required field",
	"min":      "too short",
	"max":      "too long",
	"gte":      "out of range",
	"lte":      "out of range",
	"oneof":    "invalid value",
}

func tagMessage(tag string) string {
	if msg, ok := tagMessages[tag]; ok {
		return msg
	}
	return "validation failed"
}

// HandleAPIError writes the response for err. Validation failures carry their
// field detail; defaultMsg, when set, replaces the generic 500 message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status, msg := classify(err)
	switch {
	case status == http.StatusBadRequest && errors.Is(err, domain.ErrValidation):
		msg = SanitizeValidationError(err)
	case status == http.StatusInternalServerError && defaultMsg != "":
		msg = defaultMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}
