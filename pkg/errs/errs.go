package errs

import "errors"

// Error taxonomy shared by the checkout, ledger and webhook paths.
// Callers wrap these with fmt.Errorf("...: %w") and match with errors.Is.
var (
	// ErrValidation marks malformed input. Fatal for the request.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing course, purchase or gateway session.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a uniqueness violation on an active purchase.
	// For completed enrollments it is success-equivalent.
	ErrConflict = errors.New("conflict")
	// ErrGatewayUnavailable marks a timeout or 5xx from the payment provider. Retryable.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected marks a request the payment provider refused as invalid. Fatal.
	ErrGatewayRejected = errors.New("payment gateway rejected request")
	// ErrSignatureInvalid marks a webhook payload that failed authentication.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrInvalidTransition marks an illegal purchase status transition.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrBusy marks a checkout that could not obtain its per user/course lock in time. Retryable.
	ErrBusy = errors.New("resource busy")
)

// Retryable reports whether the caller may retry the operation as-is.
func Retryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, ErrBusy)
}
