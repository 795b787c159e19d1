// Package notification_handler reconciles payment gateway webhooks into
// ledger transitions. Deliveries are at-least-once; every outcome short of a
// storage failure is acknowledged so the gateway stops retrying.
package notification_handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/academy/internal/app/service/ledger"
	"github.com/fatflowers/academy/internal/models"
	"github.com/fatflowers/academy/internal/platform/gateway"
	"github.com/fatflowers/academy/pkg/errs"
	"github.com/fatflowers/academy/pkg/logctx"
	"github.com/fatflowers/academy/pkg/metrics"
	"github.com/fatflowers/academy/pkg/types"
)

var tracer = otel.Tracer("github.com/fatflowers/academy/internal/app/service/notification_handler")

type Outcome string

const (
	// OutcomeApplied means this delivery performed the transition.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the record already had the target status.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means the event carries no ledger transition.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeAlreadyEnrolled means another purchase for the pair completed
	// first. The user is enrolled; this payment needs a manual refund.
	OutcomeAlreadyEnrolled Outcome = "already_enrolled"
	// OutcomeStale means the event asks for an edge the record can no
	// longer take, e.g. expiry after completion.
	OutcomeStale Outcome = "stale"
)

type Result struct {
	Outcome    Outcome              `json:"outcome"`
	EventID    string               `json:"event_id"`
	EventType  string               `json:"event_type"`
	PurchaseID string               `json:"purchase_id,omitempty"`
	Status     types.PurchaseStatus `json:"status,omitempty"`
}

type Projector interface {
	Project(ctx context.Context, res *ledger.TransitionResult)
}

type Recorder interface {
	Save(ctx context.Context, entry *models.PaymentNotificationLog)
}

type NotificationHandler struct {
	gw        gateway.Gateway
	store     ledger.Store
	projector Projector
	notif     Recorder
	metrics   *metrics.Business
	Logger    *zap.SugaredLogger
}

func NewNotificationHandler(gw gateway.Gateway, store ledger.Store, projector Projector, notif Recorder, m *metrics.Business, log *zap.SugaredLogger) *NotificationHandler {
	return &NotificationHandler{gw: gw, store: store, projector: projector, notif: notif, metrics: m, Logger: log}
}

var targets = map[gateway.EventKind]types.PurchaseStatus{
	gateway.EventKindPaymentSucceeded: types.PurchaseStatusCompleted,
	gateway.EventKindPaymentFailed:    types.PurchaseStatusFailed,
	gateway.EventKindSessionExpired:   types.PurchaseStatusFailed,
	gateway.EventKindRefunded:         types.PurchaseStatusRefunded,
}

// HandleNotification authenticates and applies one webhook delivery.
// Errors wrap errs.ErrSignatureInvalid or errs.ErrValidation (reject),
// errs.ErrNotFound (unprocessable) or a storage failure (retry).
func (h *NotificationHandler) HandleNotification(ctx context.Context, payload []byte, header http.Header) (res *Result, resErr error) {
	ctx, span := tracer.Start(ctx, "webhook.reconcile")
	log := logctx.FromCtx(ctx, h.Logger).With("provider", h.gw.Name())
	defer func() {
		outcome := "error"
		if resErr != nil {
			span.RecordError(resErr)
			span.SetStatus(codes.Error, resErr.Error())
		} else {
			outcome = string(res.Outcome)
		}
		span.SetAttributes(attribute.String("webhook.outcome", outcome))
		span.End()
		h.metrics.WebhookOutcome(outcome)
	}()

	ev, err := h.gw.ParseEvent(payload, header)
	if err != nil {
		if errors.Is(err, errs.ErrSignatureInvalid) {
			log.Warnw("webhook_signature_invalid", "remote_payload_bytes", len(payload), "err", err)
		} else {
			log.Errorw("webhook payload rejected", "err", err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("webhook.event_id", ev.ID), attribute.String("webhook.event_type", ev.Type))
	log = log.With("event_id", ev.ID, "event_type", ev.Type)

	h.notif.Save(ctx, h.logEntry(ctx, ev, payload, models.PaymentNotificationLogStatusReceived))
	defer func() {
		entry := h.logEntry(ctx, ev, payload, models.PaymentNotificationLogStatusHandled)
		resMap := map[string]any{"result": res}
		if resErr != nil {
			entry.Status = models.PaymentNotificationLogStatusHandleFailed
			resMap["error"] = resErr.Error()
		}
		resBytes, _ := json.Marshal(resMap)
		result := datatypes.JSON(resBytes)
		entry.Result = &result
		h.notif.Save(ctx, entry)
	}()

	res = &Result{Outcome: OutcomeIgnored, EventID: ev.ID, EventType: ev.Type}
	target, ok := targets[ev.Kind]
	if !ok {
		log.Debugw("webhook event ignored", "kind", ev.Kind)
		return res, nil
	}

	p, err := h.findPurchase(ctx, ev)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			log.Errorw("webhook references unknown purchase", "session_id", ev.SessionID, "payment_intent_id", ev.PaymentIntentID)
		}
		return nil, err
	}
	res.PurchaseID = p.ID
	log = log.With("purchase_id", p.ID, "user_id", p.UserID, "course_id", p.CourseID)
	if ev.Metadata.PurchaseID != "" && ev.Metadata.PurchaseID != p.ID {
		log.Warnw("webhook metadata disagrees with ledger", "metadata_purchase_id", ev.Metadata.PurchaseID)
	}

	tr, err := h.store.TransitionStatus(ctx, p.ID, target, &ledger.Annotation{
		PaymentIntentID: ev.PaymentIntentID,
		ReceiptURL:      ev.ReceiptURL,
		PaymentMethod:   ev.PaymentMethod,
		EventID:         ev.ID,
		Reason:          ev.Type,
	})
	switch {
	case errors.Is(err, errs.ErrConflict) && target == types.PurchaseStatusCompleted:
		log.Warnw("payment completed for a pair that is already enrolled, refund required")
		res.Outcome = OutcomeAlreadyEnrolled
		res.Status = p.Status
		dup, err := h.store.TransitionStatus(ctx, p.ID, types.PurchaseStatusFailed, &ledger.Annotation{
			PaymentIntentID: ev.PaymentIntentID,
			EventID:         ev.ID,
			Reason:          ledger.ReasonDuplicatePayment,
		})
		if err != nil {
			log.Warnw("could not close duplicate purchase", "err", err)
			return res, nil
		}
		h.projector.Project(ctx, dup)
		res.Status = dup.Purchase.Status
		return res, nil
	case errors.Is(err, errs.ErrInvalidTransition):
		log.Errorw("webhook asks for an illegal transition, acknowledging", "from", p.Status, "to", target)
		res.Outcome = OutcomeStale
		res.Status = p.Status
		return res, nil
	case err != nil:
		log.Errorw("webhook transition failed", "to", target, "err", err)
		return nil, fmt.Errorf("apply %s to purchase %s: %w", target, p.ID, err)
	}

	res.Status = tr.Purchase.Status
	if !tr.Applied {
		log.Infow("duplicate webhook delivery acknowledged", "status", tr.Purchase.Status)
		res.Outcome = OutcomeDuplicate
		return res, nil
	}
	h.projector.Project(ctx, tr)
	log.Infow("webhook applied", "from", tr.From, "to", tr.Purchase.Status)
	res.Outcome = OutcomeApplied
	return res, nil
}

func (h *NotificationHandler) logEntry(ctx context.Context, ev *gateway.Event, payload []byte, status models.PaymentNotificationLogStatus) *models.PaymentNotificationLog {
	return &models.PaymentNotificationLog{
		ProviderID:       h.gw.Name(),
		EventID:          ev.ID,
		EventType:        ev.Type,
		SessionID:        lo.EmptyableToPtr(ev.SessionID),
		UserID:           lo.EmptyableToPtr(ev.Metadata.UserID),
		TraceID:          logctx.TraceID(ctx),
		NotificationTime: ev.Created,
		Data:             datatypes.JSON(payload),
		Status:           status,
	}
}

func (h *NotificationHandler) findPurchase(ctx context.Context, ev *gateway.Event) (*models.Purchase, error) {
	if ev.SessionID != "" {
		return h.store.FindBySession(ctx, ev.SessionID)
	}
	if ev.PaymentIntentID != "" {
		p, err := h.store.FindByPaymentIntent(ctx, ev.PaymentIntentID)
		if !errors.Is(err, errs.ErrNotFound) || ev.Metadata.PurchaseID == "" {
			return p, err
		}
	}
	if ev.Metadata.PurchaseID != "" {
		return h.store.FindByID(ctx, ev.Metadata.PurchaseID)
	}
	return nil, fmt.Errorf("event %s: %w: no session or payment reference", ev.ID, errs.ErrValidation)
}
