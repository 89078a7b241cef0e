package lms

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not found")
	ErrNetwork         = errors.New("network error. please check your connection")
	ErrInvalidResponse = errors.New("invalid response from learning platform")
	ErrLoginRejected   = errors.New("login failed")
	ErrInvalidToken    = errors.New("invalid access token")
	ErrTokenExpired    = errors.New("access token expired")
)

// APIError is a non-success answer from the platform.
type APIError struct {
	Op      string
	Status  int
	Message string
	Kind    error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, msg)
}

func (e *APIError) Unwrap() error { return e.Kind }
