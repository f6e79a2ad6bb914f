package webhook

import "errors"

var (
	ErrMissingSecret    = errors.New("webhook secret is required")
	ErrEmptyPayload     = errors.New("webhook payload cannot be empty")
	ErrMissingHeaders   = errors.New("missing webhook signature headers")
	ErrInvalidTimestamp = errors.New("invalid webhook timestamp")
	ErrSignatureExpired = errors.New("webhook signature timestamp outside tolerance")
	ErrSignatureInvalid = errors.New("webhook signature mismatch")
)
