package util

import "github.com/google/uuid"

// NewRequestID returns a random id for correlating one outgoing API call.
func NewRequestID() string {
	return uuid.NewString()
}
