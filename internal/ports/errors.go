package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Flex Service Specific Errors
	ErrServiceUnavailable   = errors.New("statement service is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the statement service")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("statement service authentication failed (check token and query ID)")
	ErrRequestFailed        = errors.New("statement request was rejected")
	ErrReportNotReady       = errors.New("statement is not yet ready")
	ErrReportFailed         = errors.New("statement generation failed")
	ErrReportTimeout        = errors.New("statement was not ready after all poll attempts")
	ErrMalformedStatement   = errors.New("statement payload could not be parsed")

	// Exchange Rate Specific Errors
	ErrRateProviderUnavailable = errors.New("exchange rate provider is unavailable")
	ErrRateUnavailable         = errors.New("exchange rate not available for date")

	// Store Specific Errors
	ErrDuplicateEntry = errors.New("store record already exists")
	ErrDBConnection   = errors.New("store connection error")
	ErrQueryFailed    = errors.New("store query failed")
	ErrUpdateFailed   = errors.New("store update failed")
)
