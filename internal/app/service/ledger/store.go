// Package ledger is the durable record of purchase attempts and the only
// writer of purchase status and enrollment edges.
package ledger

import (
	"context"

	"github.com/fatflowers/academy/internal/models"
	"github.com/fatflowers/academy/pkg/types"
)

// ReasonDuplicatePayment marks a purchase closed because the pair was already
// enrolled through another purchase when it completed.
const ReasonDuplicatePayment = "duplicate_payment"

// Annotation is merged into the purchase metadata by a transition.
type Annotation struct {
	PaymentIntentID string
	ReceiptURL      string
	PaymentMethod   string
	EventID         string
	Reason          string
	OperatorID      string
}

type TransitionResult struct {
	// Purchase is the record as it stands after the call.
	Purchase *models.Purchase
	From     types.PurchaseStatus
	// Applied is false when the record already had the target status, which
	// happens for duplicate deliveries and lost races.
	Applied bool
}

type ScanRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanResponse struct {
	Items []*models.Purchase `json:"items"`
	Total int64              `json:"total"`
}

// ScanFields are the purchase columns admin listings may filter and sort on.
var ScanFields = map[string]bool{
	"id":                true,
	"user_id":           true,
	"course_id":         true,
	"educator_id":       true,
	"status":            true,
	"session_id":        true,
	"payment_intent_id": true,
	"amount_minor":      true,
	"created_at":        true,
	"completed_at":      true,
}

// Store errors wrap the errs taxonomy:
//   - errs.ErrNotFound for missing records,
//   - errs.ErrConflict when a write would break a uniqueness invariant (a
//     second pending or completed purchase for a pair, a reused session id),
//   - errs.ErrInvalidTransition for edges outside the state machine.
type Store interface {
	// Create inserts a new pending purchase. ID and timestamps are filled in
	// when empty.
	Create(ctx context.Context, p *models.Purchase) error
	FindByID(ctx context.Context, id string) (*models.Purchase, error)
	FindBySession(ctx context.Context, sessionID string) (*models.Purchase, error)
	FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Purchase, error)
	// FindActiveForUserCourse returns the completed purchase for the pair if
	// any, else the pending one.
	FindActiveForUserCourse(ctx context.Context, userID, courseID string) (*models.Purchase, error)
	// TransitionStatus is the only mutation path for status. It applies the
	// enrollment edge effects of the transition atomically with it.
	TransitionStatus(ctx context.Context, id string, to types.PurchaseStatus, ann *Annotation) (*TransitionResult, error)

	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
	// ListEnrollments returns active edges, most recently enrolled first.
	ListEnrollments(ctx context.Context, userID string) ([]*models.Enrollment, error)
	// ListCompletedByEducator returns completed purchases, most recent first.
	ListCompletedByEducator(ctx context.Context, educatorID string) ([]*models.Purchase, error)
	Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error)
}

// maxTransitionAttempts bounds the re-read loop after a lost conditional update.
const maxTransitionAttempts = 3

func mergeAnnotation(meta *models.PurchaseMetadata, ann *Annotation) *models.PurchaseMetadata {
	out := &models.PurchaseMetadata{}
	if meta != nil {
		*out = *meta
	}
	if ann == nil {
		return out
	}
	if ann.PaymentIntentID != "" {
		out.PaymentIntentID = ann.PaymentIntentID
	}
	if ann.ReceiptURL != "" {
		out.ReceiptURL = ann.ReceiptURL
	}
	if ann.PaymentMethod != "" {
		out.PaymentMethod = ann.PaymentMethod
	}
	if ann.EventID != "" {
		out.EventID = ann.EventID
	}
	if ann.Reason != "" {
		out.Reason = ann.Reason
	}
	if ann.OperatorID != "" {
		out.OperatorID = ann.OperatorID
	}
	return out
}

func annotationMetadata(ann *Annotation) *models.PurchaseMetadata {
	return mergeAnnotation(nil, ann)
}
