package protocol

import "errors"

// Sentinel errors for settlement operations. Every member of this taxonomy
// aborts the whole call with zero persisted effect; nothing is retried
// internally.
var (
	// ErrSignatureInvalid indicates the intent signature does not recover to
	// the intent's operator, or is malformed.
	ErrSignatureInvalid = errors.New("settlement: invalid signature")

	// ErrIntentExpired indicates the execution time is past the deadline.
	ErrIntentExpired = errors.New("settlement: intent expired")

	// ErrIntentAlreadyUsed indicates the (operator, id) pair was consumed by
	// an earlier settlement.
	ErrIntentAlreadyUsed = errors.New("settlement: intent already used")

	// ErrNonceInvalid indicates a relayed call carried a nonce other than the
	// signer's next expected one.
	ErrNonceInvalid = errors.New("settlement: invalid nonce")

	// ErrInsufficientFunds indicates the payer's contribution cannot cover
	// the recipient amount plus the operator fee.
	ErrInsufficientFunds = errors.New("settlement: insufficient funds")

	// ErrAuthorizationInvalid indicates a gasless pull authorization failed
	// verification or was already consumed.
	ErrAuthorizationInvalid = errors.New("settlement: invalid authorization")

	// ErrSlippageExceeded indicates the venue would require more input than
	// the payer's declared ceiling.
	ErrSlippageExceeded = errors.New("settlement: slippage exceeded")

	// ErrSwapFailed indicates the exchange venue failed to perform the
	// conversion. All venue failure modes surface uniformly as this error.
	ErrSwapFailed = errors.New("settlement: swap failed")

	// ErrPaused indicates payment-initiating calls are suspended.
	ErrPaused = errors.New("settlement: paused")

	// ErrUnauthorized indicates the caller lacks the required capability.
	ErrUnauthorized = errors.New("settlement: unauthorized")

	// ErrReentrantCall indicates an entry point was re-entered by a nested
	// call before the outer call resolved.
	ErrReentrantCall = errors.New("settlement: reentrant call")

	// ErrInvalidIntent indicates a structurally malformed intent that could
	// never settle regardless of signatures or balances.
	ErrInvalidIntent = errors.New("settlement: invalid intent")
)

// ErrorCode represents settlement error codes for programmatic handling.
type ErrorCode string

const (
	ErrCodeSignatureInvalid     ErrorCode = "SIGNATURE_INVALID"
	ErrCodeIntentExpired        ErrorCode = "INTENT_EXPIRED"
	ErrCodeIntentAlreadyUsed    ErrorCode = "INTENT_ALREADY_USED"
	ErrCodeNonceInvalid         ErrorCode = "NONCE_INVALID"
	ErrCodeInsufficientFunds    ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeAuthorizationInvalid ErrorCode = "AUTHORIZATION_INVALID"
	ErrCodeSlippageExceeded     ErrorCode = "SLIPPAGE_EXCEEDED"
	ErrCodeSwapFailed           ErrorCode = "SWAP_FAILED"
	ErrCodePaused               ErrorCode = "PAUSED"
	ErrCodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrCodeReentrantCall        ErrorCode = "REENTRANT_CALL"
	ErrCodeInvalidIntent        ErrorCode = "INVALID_INTENT"
)

// CodeOf maps an error to its ErrorCode by unwrapping to the taxonomy
// sentinel. Unknown errors map to the empty code.
func CodeOf(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrSignatureInvalid):
		return ErrCodeSignatureInvalid
	case errors.Is(err, ErrIntentExpired):
		return ErrCodeIntentExpired
	case errors.Is(err, ErrIntentAlreadyUsed):
		return ErrCodeIntentAlreadyUsed
	case errors.Is(err, ErrNonceInvalid):
		return ErrCodeNonceInvalid
	case errors.Is(err, ErrInsufficientFunds):
		return ErrCodeInsufficientFunds
	case errors.Is(err, ErrAuthorizationInvalid):
		return ErrCodeAuthorizationInvalid
	case errors.Is(err, ErrSlippageExceeded):
		return ErrCodeSlippageExceeded
	case errors.Is(err, ErrSwapFailed):
		return ErrCodeSwapFailed
	case errors.Is(err, ErrPaused):
		return ErrCodePaused
	case errors.Is(err, ErrUnauthorized):
		return ErrCodeUnauthorized
	case errors.Is(err, ErrReentrantCall):
		return ErrCodeReentrantCall
	case errors.Is(err, ErrInvalidIntent):
		return ErrCodeInvalidIntent
	}
	return ""
}

// SettlementError provides structured error information around a taxonomy
// sentinel.
type SettlementError struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context.
	Details map[string]interface{}

	// Err is the underlying error, normally a taxonomy sentinel.
	Err error
}

// Error implements the error interface.
func (e *SettlementError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *SettlementError) Unwrap() error {
	return e.Err
}

// NewSettlementError creates a new SettlementError with the given code,
// message, and underlying sentinel.
func NewSettlementError(code ErrorCode, message string, err error) *SettlementError {
	return &SettlementError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds additional context to the error.
// Lazily initializes the Details map if nil.
func (e *SettlementError) WithDetails(key string, value interface{}) *SettlementError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}
