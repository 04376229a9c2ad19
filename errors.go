package checkout

import (
	"errors"
	"fmt"
)

// CheckoutError represents a checkout-specific error
type CheckoutError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeInvalidClientToken        = "invalid_client_token"
	ErrCodeMissingClientToken        = "missing_client_token"
	ErrCodePaymentDeclined           = "payment_declined"
	ErrCodePaymentFailed             = "payment_failed"
	ErrCodePaymentCancelled          = "payment_cancelled"
	ErrCodeProtocolViolation         = "protocol_violation"
	ErrCodeTransportError            = "transport_error"
	ErrCodeSessionUpdateFailed       = "session_update_failed"
	ErrCodeUnsupportedPaymentMethod  = "unsupported_payment_method"
	ErrCodeMissingRequiredParameters = "missing_required_parameters"
)

// NewCheckoutError creates a new checkout error
func NewCheckoutError(code, message string, details map[string]interface{}) *CheckoutError {
	return &CheckoutError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ErrorCode extracts the checkout error code from err, or "" if err is not a CheckoutError.
func ErrorCode(err error) string {
	var ce *CheckoutError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsTransportError reports whether err is a retryable transport failure,
// as opposed to a business decline or a precondition failure.
func IsTransportError(err error) bool {
	return ErrorCode(err) == ErrCodeTransportError
}

// IsDeclined reports whether err is a terminal business decline.
func IsDeclined(err error) bool {
	return ErrorCode(err) == ErrCodePaymentDeclined
}
