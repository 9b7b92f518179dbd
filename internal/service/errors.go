package service

// Error represents a custom error with code and message
type Error struct {
	Code    string
	Message string
}

// Error implements the error interface
func (e Error) Error() string {
	return e.Message
}

// NewError creates a new error
func NewError(code, message string) Error {
	return Error{Code: code, Message: message}
}

var (
	// ErrLockNotAcquired is returned when the account lock stayed busy for
	// every attempt. Callers may retry the request.
	ErrLockNotAcquired = NewError("lock_unavailable", "failed to acquire lock")
	ErrInvalidAmount   = NewError("invalid_amount", "charge amount must not be negative")
	ErrInvalidAccount  = NewError("invalid_account", "account must not be empty")
	ErrCorruptBalance  = NewError("corrupt_balance", "stored balance is not an integer")

	ErrCircuitBreakerOpen = NewError("circuit_breaker_open", "circuit breaker is open")
)
