package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/academy/pkg/config"
	"github.com/fatflowers/academy/pkg/errs"
	"github.com/fatflowers/academy/pkg/metrics"
)

const (
	ProviderStripe = "stripe"

	signatureHeader = "Stripe-Signature"

	metaPurchaseID = "purchase_id"
	metaUserID     = "user_id"
	metaCourseID   = "course_id"
)

var tracer = otel.Tracer("github.com/fatflowers/academy/internal/platform/gateway")

type Stripe struct {
	api           *client.API
	webhookSecret string
	timeout       time.Duration
	metrics       *metrics.Business
}

type StripeOptions struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	// APIBase replaces https://api.stripe.com when set.
	APIBase string
	Logger  *zap.SugaredLogger
	Metrics *metrics.Business
}

func NewStripe(opts StripeOptions) *Stripe {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	bc := &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: timeout},
		// Only transport-level retries here; idempotency keys make them safe.
		MaxNetworkRetries: stripe.Int64(1),
	}
	if opts.APIBase != "" {
		bc.URL = stripe.String(opts.APIBase)
	}
	if opts.Logger != nil {
		bc.LeveledLogger = opts.Logger
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, bc),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, bc),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, bc),
	}
	return &Stripe{
		api:           client.New(opts.SecretKey, backends),
		webhookSecret: opts.WebhookSecret,
		timeout:       timeout,
		metrics:       opts.Metrics,
	}
}

func newStripeFromConfig(cfg *cfgpkg.Config, l *zap.SugaredLogger, m *metrics.Business) Gateway {
	return NewStripe(StripeOptions{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Timeout:       cfg.Stripe.Timeout,
		APIBase:       cfg.Stripe.APIBase,
		Logger:        l.Named("stripe"),
		Metrics:       m,
	})
}

var Module = fx.Options(
	fx.Provide(newStripeFromConfig),
)

func (s *Stripe) Name() string { return ProviderStripe }

func (s *Stripe) CreateSession(ctx context.Context, req *CreateSessionRequest) (sess *Session, err error) {
	ctx, done := s.begin(ctx, "create_session")
	defer func() { done(err) }()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.Metadata.PurchaseID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(req.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.ProductName),
					},
					UnitAmount: stripe.Int64(req.AmountMinor),
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadataMap(req.Metadata),
		},
	}
	for k, v := range metadataMap(req.Metadata) {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	cs, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classify("create session", err)
	}
	return toSession(cs), nil
}

func (s *Stripe) GetSession(ctx context.Context, sessionID string) (sess *Session, err error) {
	ctx, done := s.begin(ctx, "get_session")
	defer func() { done(err) }()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := s.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, classify("get session", err)
	}
	return toSession(cs), nil
}

func (s *Stripe) ExpireSession(ctx context.Context, sessionID string) (err error) {
	ctx, done := s.begin(ctx, "expire_session")
	defer func() { done(err) }()

	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err = s.api.CheckoutSessions.Expire(sessionID, params); err != nil {
		return classify("expire session", err)
	}
	return nil
}

func (s *Stripe) ParseEvent(payload []byte, header http.Header) (*Event, error) {
	sig := header.Get(signatureHeader)
	if sig == "" {
		return nil, fmt.Errorf("%w: missing %s header", errs.ErrSignatureInvalid, signatureHeader)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, sig, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSignatureInvalid, err)
	}
	if ev.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", errs.ErrValidation, ev.ID)
	}

	out := &Event{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Kind:    EventKindIgnored,
		Created: time.Unix(ev.Created, 0).UTC(),
	}

	switch ev.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("%w: decode checkout session: %v", errs.ErrValidation, err)
		}
		if cs.ID == "" {
			return nil, fmt.Errorf("%w: event %s without session id", errs.ErrValidation, ev.ID)
		}
		sess := toSession(&cs)
		out.SessionID = sess.ID
		out.PaymentIntentID = sess.PaymentIntentID
		out.PaymentMethod = sess.PaymentMethod
		out.Metadata = sess.Metadata
		out.Kind = sessionEventKind(string(ev.Type), sess)
	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("%w: decode charge: %v", errs.ErrValidation, err)
		}
		// Webhook charges carry payment_intent as a bare id, so only the
		// charge's own metadata is available here.
		if ch.PaymentIntent != nil {
			out.PaymentIntentID = ch.PaymentIntent.ID
		}
		out.Metadata = metadataFrom(ch.Metadata)
		out.ReceiptURL = ch.ReceiptURL
		// Partial refunds keep access.
		if ch.Refunded && out.PaymentIntentID != "" {
			out.Kind = EventKindRefunded
		}
	}
	return out, nil
}

func sessionEventKind(eventType string, sess *Session) EventKind {
	switch eventType {
	case "checkout.session.completed":
		if sess.Paid() {
			return EventKindPaymentSucceeded
		}
		// Delayed payment methods confirm with async_payment_succeeded later.
		return EventKindIgnored
	case "checkout.session.async_payment_succeeded":
		return EventKindPaymentSucceeded
	case "checkout.session.async_payment_failed":
		return EventKindPaymentFailed
	case "checkout.session.expired":
		return EventKindSessionExpired
	}
	return EventKindIgnored
}

// begin bounds ctx by the gateway timeout and opens a span; done records the
// outcome on the span and the latency histogram.
func (s *Stripe) begin(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	ctx, span := tracer.Start(ctx, "stripe."+op)
	span.SetAttributes(attribute.String("gateway.provider", ProviderStripe))
	return ctx, func(err error) {
		result := resultLabel(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		span.End()
		cancel()
		s.metrics.ObserveGateway(op, result, metrics.MillisecondsSince(start))
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrGatewayRejected):
		return "rejected"
	default:
		return "unavailable"
	}
}

// classify maps provider errors onto the error taxonomy. Anything that is not
// a structured API error (timeouts, resets, DNS) is retryable.
func classify(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("%s: %w: %s", op, errs.ErrNotFound, se.Msg)
		case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%s: %w: %s", op, errs.ErrGatewayUnavailable, se.Msg)
		default:
			return fmt.Errorf("%s: %w: %s", op, errs.ErrGatewayRejected, se.Msg)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, errs.ErrGatewayUnavailable, err)
}

func toSession(cs *stripe.CheckoutSession) *Session {
	sess := &Session{
		ID:            cs.ID,
		URL:           cs.URL,
		Status:        SessionStatus(cs.Status),
		PaymentStatus: PaymentStatus(cs.PaymentStatus),
		AmountTotal:   cs.AmountTotal,
		Metadata:      metadataFrom(cs.Metadata),
		PaymentMethod: "card",
	}
	if cs.PaymentIntent != nil {
		sess.PaymentIntentID = cs.PaymentIntent.ID
	}
	if len(cs.PaymentMethodTypes) > 0 {
		sess.PaymentMethod = cs.PaymentMethodTypes[0]
	}
	if sess.Metadata.PurchaseID == "" {
		sess.Metadata.PurchaseID = cs.ClientReferenceID
	}
	if cs.ExpiresAt > 0 {
		sess.ExpiresAt = time.Unix(cs.ExpiresAt, 0).UTC()
	}
	return sess
}

func metadataMap(m Metadata) map[string]string {
	return map[string]string{
		metaPurchaseID: m.PurchaseID,
		metaUserID:     m.UserID,
		metaCourseID:   m.CourseID,
	}
}

func metadataFrom(m map[string]string) Metadata {
	return Metadata{
		PurchaseID: m[metaPurchaseID],
		UserID:     m[metaUserID],
		CourseID:   m[metaCourseID],
	}
}
