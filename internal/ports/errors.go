package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these so that callers
// can branch with errors.Is without knowing the venue's numeric codes.
var (
	// General errors
	ErrNotFound           = errors.New("resource not found")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Exchange errors, grouped by how the gateway treats them.
	// Retryable: the gateway retries these internally before giving up.
	ErrExchangeUnavailable = errors.New("exchange API is unavailable")
	ErrRateLimited         = errors.New("API rate limit exceeded")
	ErrClockSkew           = errors.New("request timestamp outside the server recv window")

	// Fail-fast: retrying cannot help, the caller must change something.
	ErrInsufficientFunds = errors.New("insufficient funds for operation")
	ErrOrderRejected     = errors.New("order rejected by the exchange")
	ErrInvalidInput      = errors.New("invalid request parameters or symbol")

	// ErrInternal covers failures that are neither venue rejections nor
	// recognized API codes (transport faults, decode failures). The original
	// cause is always wrapped alongside it.
	ErrInternal = errors.New("internal gateway error")

	// Database errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)

// IsRetryable reports whether the error belongs to the retryable class of the
// exchange taxonomy. Exhausted retries still return the same class, so this
// also tells a caller whether trying again later is reasonable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrClockSkew) ||
		errors.Is(err, ErrExchangeUnavailable) ||
		errors.Is(err, ErrInternal)
}
