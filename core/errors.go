package core

import "errors"

// Transport errors
var (
	// ErrNoResponseData keeps the exact message the webapp showed for an
	// empty response body.
	ErrNoResponseData = errors.New("No response data to fetch.")
	ErrBadEnvelope    = errors.New("response body is not a JSON object")
)

// Form errors
var (
	ErrSubmitInProgress = errors.New("a form submission is already in progress")
	ErrUnknownActivity  = errors.New("unknown activity")
	ErrUnknownField     = errors.New("unknown form field")
)

// Config errors (client-side configuration)
var (
	ErrBaseURLRequired = errors.New("base URL is required")
)
