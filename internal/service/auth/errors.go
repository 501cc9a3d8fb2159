package auth

import "errors"

// Token errors. The middleware reports all of them as 401.
var (
	ErrMissingToken     = errors.New("authentication token is missing")
	ErrInvalidToken     = errors.New("invalid authentication token")
	ErrExpiredToken     = errors.New("authentication token has expired")
	ErrTokenNotYetValid = errors.New("authentication token not yet valid")

	// ErrEmptySubject is returned when minting a token without naming the client.
	ErrEmptySubject = errors.New("token subject cannot be empty")
)
