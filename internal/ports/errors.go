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

	// Execution Errors
	ErrNotTriggered      = errors.New("order trigger condition not met")
	ErrExecutionFailed   = errors.New("order execution failed")
	ErrContractViolation = errors.New("ledger contract violation")
	ErrInsufficientFunds = errors.New("insufficient funds for operation")
	ErrNoPrice           = errors.New("no price available for symbol")

	// Price Feed Errors
	ErrFeedUnavailable  = errors.New("price feed is unavailable")
	ErrConnectionFailed = errors.New("failed to connect to the price feed")
	ErrRateLimited      = errors.New("API rate limit exceeded")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
