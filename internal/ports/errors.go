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

	// Evaluation Errors
	ErrSymbolMismatch  = errors.New("bar symbol does not match the engine instrument")
	ErrEvaluationPanic = errors.New("evaluation panicked")

	// Execution Errors
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrPositionNotFound     = errors.New("position not found")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrNoMarketPrice        = errors.New("no market price observed for symbol")

	// Market Data Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrFeedClosed           = errors.New("bar feed closed")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)
