package postback

import "errors"

var (
	// ErrInvalidSignature is returned when a postback's credential does not
	// match the shared-secret scheme. The only error a provider should see
	// as a rejection worth retrying after fixing credentials.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrMissingParameters is returned when required wire fields are absent
	ErrMissingParameters = errors.New("missing parameters")

	// ErrInvalidPayload is returned when a request body cannot be decoded
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrTransactionFailed wraps store errors; handlers swallow it and still
	// acknowledge the provider to avoid retry storms.
	ErrTransactionFailed = errors.New("postback transaction failed")

	ErrInternal = errors.New("internal error")
)
