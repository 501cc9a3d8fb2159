package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/rhqueue/internal/domain"
)

// getPathUUID extracts and parses a UUID path parameter.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", domain.ErrInvalidID, paramName)
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s has invalid format", domain.ErrInvalidID, paramName)
	}
	return id, nil
}

// getPathIndex extracts a non-negative integer path parameter.
func getPathIndex(r *http.Request, paramName string) (int, error) {
	idx, err := strconv.Atoi(chi.URLParam(r, paramName))
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrResultIndexOutOfRange, paramName)
	}
	return idx, nil
}
