package session

import "errors"

var (
	ErrAuthInFlight       = errors.New("another login or registration is in progress")
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrMissingToken       = errors.New("auth response carried no token")
)
