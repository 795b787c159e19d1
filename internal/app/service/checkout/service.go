// Package checkout turns a user's intent to buy a course into at most one
// outstanding payment session per user/course pair.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fatflowers/academy/internal/app/service/catalog"
	"github.com/fatflowers/academy/internal/app/service/ledger"
	"github.com/fatflowers/academy/internal/models"
	"github.com/fatflowers/academy/internal/platform/gateway"
	"github.com/fatflowers/academy/internal/platform/lock"
	"github.com/fatflowers/academy/pkg/config"
	"github.com/fatflowers/academy/pkg/errs"
	"github.com/fatflowers/academy/pkg/logctx"
	"github.com/fatflowers/academy/pkg/metrics"
	"github.com/fatflowers/academy/pkg/tool"
	"github.com/fatflowers/academy/pkg/types"
)

var tracer = otel.Tracer("github.com/fatflowers/academy/internal/app/service/checkout")

// Projector receives every transition this package commits.
type Projector interface {
	Project(ctx context.Context, res *ledger.TransitionResult)
}

type Result struct {
	AlreadyEnrolled bool   `json:"already_enrolled"`
	RedirectURL     string `json:"redirect_url,omitempty"`
	PurchaseID      string `json:"purchase_id,omitempty"`
	// PaymentProcessing is set when the gateway accepted a delayed payment
	// method and confirmation is still outstanding.
	PaymentProcessing bool `json:"payment_processing,omitempty"`

	outcome string
}

const (
	outcomeAlreadyEnrolled = "already_enrolled"
	outcomeReused          = "reused"
	outcomeCreated         = "created"
	outcomeFree            = "free"
	outcomeProcessing      = "processing"
	outcomeError           = "error"

	maxInitiateAttempts = 3
)

// errRetry asks Initiate to re-read the ledger.
var errRetry = errors.New("purchase changed concurrently")

type Service struct {
	cfg       *config.Config
	log       *zap.SugaredLogger
	store     ledger.Store
	catalog   catalog.Lookup
	gw        gateway.Gateway
	locker    lock.Locker
	projector Projector
	metrics   *metrics.Business
}

func NewService(cfg *config.Config, log *zap.SugaredLogger, store ledger.Store, lookup catalog.Lookup,
	gw gateway.Gateway, locker lock.Locker, projector Projector, m *metrics.Business) *Service {
	return &Service{cfg: cfg, log: log, store: store, catalog: lookup, gw: gw, locker: locker, projector: projector, metrics: m}
}

// Initiate returns alreadyEnrolled, the redirect URL of a usable session, or
// an error. Calls for the same pair are serialized, so duplicate clicks share
// one session. Gateway timeouts surface as errs.ErrGatewayUnavailable and
// never change the ledger.
func (s *Service) Initiate(ctx context.Context, userID, courseID string) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "checkout.initiate")
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("course.id", courseID))
	defer func() {
		outcome := outcomeError
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			outcome = resultOutcome(res)
		}
		span.SetAttributes(attribute.String("checkout.outcome", outcome))
		span.End()
		s.metrics.CheckoutOutcome(outcome)
	}()

	if userID == "" || courseID == "" {
		return nil, fmt.Errorf("initiate checkout: %w: user and course are required", errs.ErrValidation)
	}
	log := logctx.FromCtx(ctx, s.log).With("course_id", courseID)

	course, err := s.catalog.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !course.Published {
		return nil, fmt.Errorf("course %s: %w: not published", courseID, errs.ErrNotFound)
	}

	release, err := s.locker.Acquire(ctx, tool.CacheKey("checkout", userID, courseID), s.cfg.Checkout.LockTTL, s.cfg.Checkout.LockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	for attempt := 0; attempt < maxInitiateAttempts; attempt++ {
		active, err := s.store.FindActiveForUserCourse(ctx, userID, courseID)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		if active != nil {
			if active.Status == types.PurchaseStatusCompleted {
				return &Result{AlreadyEnrolled: true, PurchaseID: active.ID}, nil
			}
			res, err := s.resumePending(ctx, log, active)
			if errors.Is(err, errRetry) {
				continue
			}
			if err != nil || res != nil {
				return res, err
			}
			// The pending purchase is closed; start over with a new one.
		}

		res, err := s.startPurchase(ctx, log, userID, course)
		if errors.Is(err, errs.ErrConflict) {
			log.Infow("concurrent checkout created a purchase first, re-reading", "attempt", attempt)
			continue
		}
		return res, err
	}
	return nil, fmt.Errorf("initiate checkout: %w: purchase kept changing", errs.ErrBusy)
}

// resumePending re-checks the gateway for a pending purchase. A nil result
// with nil error means the purchase was closed as failed.
func (s *Service) resumePending(ctx context.Context, log *zap.SugaredLogger, p *models.Purchase) (*Result, error) {
	if p.SessionID == nil {
		// A free purchase interrupted before completion.
		if err := s.complete(ctx, log, p, &ledger.Annotation{PaymentMethod: "free", Reason: "free_course"}); err != nil {
			return nil, err
		}
		return &Result{AlreadyEnrolled: true, PurchaseID: p.ID}, nil
	}

	sess, err := s.gw.GetSession(ctx, *p.SessionID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		log.Warnw("gateway no longer knows pending session, closing purchase", "purchase_id", p.ID, "session_id", *p.SessionID)
		return nil, s.fail(ctx, p, "session_not_found")
	case err != nil:
		return nil, err
	}

	switch {
	case sess.Paid():
		// The webhook has not landed yet; apply the same transition it would.
		ann := &ledger.Annotation{
			PaymentIntentID: sess.PaymentIntentID,
			PaymentMethod:   sess.PaymentMethod,
			Reason:          "checkout_recheck",
		}
		if err := s.complete(ctx, log, p, ann); err != nil {
			return nil, err
		}
		return &Result{AlreadyEnrolled: true, PurchaseID: p.ID}, nil
	case sess.Status == gateway.SessionStatusOpen:
		return &Result{RedirectURL: sess.URL, PurchaseID: p.ID, outcome: outcomeReused}, nil
	case sess.Status == gateway.SessionStatusComplete:
		return &Result{PaymentProcessing: true, PurchaseID: p.ID}, nil
	default:
		return nil, s.fail(ctx, p, "session_expired")
	}
}

func (s *Service) fail(ctx context.Context, p *models.Purchase, reason string) error {
	res, err := s.store.TransitionStatus(ctx, p.ID, types.PurchaseStatusFailed, &ledger.Annotation{Reason: reason})
	if errors.Is(err, errs.ErrInvalidTransition) {
		// Completed or canceled concurrently.
		return errRetry
	}
	if err != nil {
		return err
	}
	s.projector.Project(ctx, res)
	return nil
}

// complete applies pending -> completed. A conflicting completed purchase for
// the pair means the user is enrolled already, which is the desired state; the
// losing purchase is closed as failed so it stops blocking new checkouts.
func (s *Service) complete(ctx context.Context, log *zap.SugaredLogger, p *models.Purchase, ann *ledger.Annotation) error {
	res, err := s.store.TransitionStatus(ctx, p.ID, types.PurchaseStatusCompleted, ann)
	if errors.Is(err, errs.ErrConflict) {
		log.Warnw("pair already has a completed purchase", "purchase_id", p.ID)
		s.closeDuplicate(ctx, log, p, ann)
		return nil
	}
	if errors.Is(err, errs.ErrInvalidTransition) {
		return errRetry
	}
	if err != nil {
		return err
	}
	s.projector.Project(ctx, res)
	return nil
}

func (s *Service) closeDuplicate(ctx context.Context, log *zap.SugaredLogger, p *models.Purchase, ann *ledger.Annotation) {
	dup := &ledger.Annotation{Reason: ledger.ReasonDuplicatePayment}
	if ann != nil {
		dup.PaymentIntentID = ann.PaymentIntentID
	}
	res, err := s.store.TransitionStatus(ctx, p.ID, types.PurchaseStatusFailed, dup)
	if err != nil {
		log.Warnw("could not close duplicate purchase", "purchase_id", p.ID, "err", err)
		return
	}
	s.projector.Project(ctx, res)
}

func (s *Service) startPurchase(ctx context.Context, log *zap.SugaredLogger, userID string, course *models.Course) (*Result, error) {
	currency := course.Currency
	if currency == "" {
		currency = s.cfg.Stripe.Currency
	}
	p := &models.Purchase{
		ID:          tool.GenerateUUIDV7(),
		UserID:      userID,
		CourseID:    course.ID,
		EducatorID:  course.EducatorID,
		AmountMinor: course.DiscountedPriceMinor(),
		Currency:    currency,
	}

	if p.AmountMinor == 0 {
		if err := s.store.Create(ctx, p); err != nil {
			return nil, err
		}
		if err := s.complete(ctx, log, p, &ledger.Annotation{PaymentMethod: "free", Reason: "free_course"}); err != nil {
			return nil, err
		}
		log.Infow("free course enrolled", "purchase_id", p.ID)
		return &Result{AlreadyEnrolled: true, PurchaseID: p.ID, outcome: outcomeFree}, nil
	}

	sess, err := s.gw.CreateSession(ctx, &gateway.CreateSessionRequest{
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		ProductName: course.Title,
		SuccessURL:  s.cfg.Stripe.SuccessURL,
		CancelURL:   s.cfg.Stripe.CancelURL,
		Metadata: gateway.Metadata{
			PurchaseID: p.ID,
			UserID:     userID,
			CourseID:   course.ID,
		},
		IdempotencyKey: "checkout:" + p.ID,
	})
	if err != nil {
		return nil, err
	}

	p.SessionID = &sess.ID
	if err := s.store.Create(ctx, p); err != nil {
		s.expireDetached(ctx, log, sess.ID)
		return nil, err
	}
	log.Infow("checkout session created", "purchase_id", p.ID, "session_id", sess.ID, "amount_minor", p.AmountMinor)
	return &Result{RedirectURL: sess.URL, PurchaseID: p.ID}, nil
}

// expireDetached closes a session we could not record. It outlives ctx so a
// cancelled request still cleans up.
func (s *Service) expireDetached(ctx context.Context, log *zap.SugaredLogger, sessionID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.gw.ExpireSession(ctx, sessionID); err != nil {
		log.Warnw("failed to expire orphaned checkout session", "session_id", sessionID, "err", err)
	}
}

// Cancel is the administrative pending|completed -> canceled transition. An
// open session is expired first so it cannot be paid after cancellation.
func (s *Service) Cancel(ctx context.Context, purchaseID, operatorID, reason string) (*models.Purchase, error) {
	log := logctx.FromCtx(ctx, s.log).With("purchase_id", purchaseID, "operator_id", operatorID)
	p, err := s.store.FindByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if !p.Status.CanTransitionTo(types.PurchaseStatusCanceled) && p.Status != types.PurchaseStatusCanceled {
		return nil, fmt.Errorf("cancel purchase %s: %w: status %s", purchaseID, errs.ErrInvalidTransition, p.Status)
	}

	if p.Status == types.PurchaseStatusPending && p.SessionID != nil {
		err := s.gw.ExpireSession(ctx, *p.SessionID)
		switch {
		case err == nil, errors.Is(err, errs.ErrNotFound):
		case errors.Is(err, errs.ErrGatewayRejected):
			// Not open any more: it may have been paid a moment ago.
			sess, gerr := s.gw.GetSession(ctx, *p.SessionID)
			if gerr != nil {
				return nil, gerr
			}
			if sess.Paid() {
				return nil, fmt.Errorf("cancel purchase %s: %w: session already paid, refund instead", purchaseID, errs.ErrInvalidTransition)
			}
		default:
			return nil, err
		}
	}

	if reason == "" {
		reason = "admin_cancel"
	}
	res, err := s.store.TransitionStatus(ctx, purchaseID, types.PurchaseStatusCanceled, &ledger.Annotation{OperatorID: operatorID, Reason: reason})
	if err != nil {
		return nil, err
	}
	s.projector.Project(ctx, res)
	log.Infow("purchase canceled", "from", res.From, "applied", res.Applied)
	return res.Purchase, nil
}

func resultOutcome(res *Result) string {
	switch {
	case res == nil:
		return outcomeError
	case res.outcome != "":
		return res.outcome
	case res.PaymentProcessing:
		return outcomeProcessing
	case res.AlreadyEnrolled:
		return outcomeAlreadyEnrolled
	default:
		return outcomeCreated
	}
}
