// Package gateway is the boundary to the external payment provider: it
// creates and inspects hosted checkout sessions and authenticates the
// provider's webhook deliveries.
package gateway

import (
	"context"
	"net/http"
	"time"
)

type SessionStatus string

const (
	SessionStatusOpen     SessionStatus = "open"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusExpired  SessionStatus = "expired"
)

type PaymentStatus string

const (
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusNoPaymentRequired PaymentStatus = "no_payment_required"
)

// Metadata travels with the session and comes back on every event for it.
type Metadata struct {
	PurchaseID string
	UserID     string
	CourseID   string
}

type CreateSessionRequest struct {
	AmountMinor int64
	Currency    string
	ProductName string
	SuccessURL  string
	CancelURL   string
	Metadata    Metadata
	// IdempotencyKey makes a retried create return the same session.
	IdempotencyKey string
}

type Session struct {
	ID              string
	URL             string
	Status          SessionStatus
	PaymentStatus   PaymentStatus
	PaymentIntentID string
	PaymentMethod   string
	AmountTotal     int64
	Metadata        Metadata
	ExpiresAt       time.Time
}

// Paid reports whether the session completed with funds captured or none due.
func (s *Session) Paid() bool {
	return s != nil && s.Status == SessionStatusComplete &&
		(s.PaymentStatus == PaymentStatusPaid || s.PaymentStatus == PaymentStatusNoPaymentRequired)
}

// EventKind is the provider-neutral meaning of a webhook event.
type EventKind string

const (
	EventKindPaymentSucceeded EventKind = "payment_succeeded"
	EventKindPaymentFailed    EventKind = "payment_failed"
	EventKindSessionExpired   EventKind = "session_expired"
	EventKindRefunded         EventKind = "refunded"
	// EventKindIgnored covers events that carry no ledger transition, such
	// as a completed session whose asynchronous payment is still settling.
	EventKindIgnored EventKind = "ignored"
)

type Event struct {
	ID   string
	Type string
	Kind EventKind
	// SessionID is empty for refunds, which reference the payment intent.
	SessionID       string
	PaymentIntentID string
	ReceiptURL      string
	PaymentMethod   string
	Metadata        Metadata
	Created         time.Time
}

// Gateway calls carry a bounded timeout. Errors are classified as
// errs.ErrGatewayUnavailable (retryable), errs.ErrGatewayRejected (fatal)
// or errs.ErrNotFound.
type Gateway interface {
	Name() string
	CreateSession(ctx context.Context, req *CreateSessionRequest) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// ExpireSession closes an open session so it can no longer be paid.
	ExpireSession(ctx context.Context, sessionID string) error
	// ParseEvent authenticates a webhook delivery and decodes it.
	// Authentication failures wrap errs.ErrSignatureInvalid.
	ParseEvent(payload []byte, header http.Header) (*Event, error)
}
