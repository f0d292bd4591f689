package payment

import "errors"

var (
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrQueueUnavailable = errors.New("webhook retry queue unavailable")
	ErrRetryNotFound    = errors.New("webhook retry not found")
)
