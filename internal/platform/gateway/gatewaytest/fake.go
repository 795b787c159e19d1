// Package gatewaytest provides an in-memory payment gateway for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/fatflowers/academy/internal/platform/gateway"
	"github.com/fatflowers/academy/pkg/errs"
)

// Fake records created sessions and lets tests drive their status. Events
// are passed as JSON-encoded gateway.Event and authenticated with a shared
// token header.
type Fake struct {
	mu       sync.Mutex
	sessions map[string]*gateway.Session
	seq      int

	// CreateErr and GetErr, when set, are returned instead of calling through.
	CreateErr error
	GetErr    error
	// CreateDelay simulates a slow provider.
	CreateDelay time.Duration

	CreateCalls int
	GetCalls    int
	ExpireCalls int
}

const FakeSignatureHeader = "X-Fake-Signature"
const FakeSignature = "ok"

func NewFake() *Fake {
	return &Fake{sessions: map[string]*gateway.Session{}}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) CreateSession(ctx context.Context, req *gateway.CreateSessionRequest) (*gateway.Session, error) {
	f.mu.Lock()
	f.CreateCalls++
	err, delay := f.CreateErr, f.CreateDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", errs.ErrGatewayUnavailable, ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("cs_test_%d", f.seq)
	s := &gateway.Session{
		ID:            id,
		URL:           "https://pay.example/" + id,
		Status:        gateway.SessionStatusOpen,
		PaymentStatus: gateway.PaymentStatusUnpaid,
		AmountTotal:   req.AmountMinor,
		Metadata:      req.Metadata,
		PaymentMethod: "card",
		ExpiresAt:     time.Now().Add(24 * time.Hour),
	}
	f.sessions[id] = s
	cp := *s
	return &cp, nil
}

func (f *Fake) GetSession(ctx context.Context, sessionID string) (*gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCalls++
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("get session: %w", errs.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (f *Fake) ExpireSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ExpireCalls++
	s, ok := f.sessions[sessionID]
	if !ok {
		return fmt.Errorf("expire session: %w", errs.ErrNotFound)
	}
	if s.Status != gateway.SessionStatusOpen {
		return fmt.Errorf("expire session: %w: not open", errs.ErrGatewayRejected)
	}
	s.Status = gateway.SessionStatusExpired
	return nil
}

func (f *Fake) ParseEvent(payload []byte, header http.Header) (*gateway.Event, error) {
	if header.Get(FakeSignatureHeader) != FakeSignature {
		return nil, fmt.Errorf("%w: bad fake signature", errs.ErrSignatureInvalid)
	}
	var ev gateway.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	return &ev, nil
}

// SetStatus moves a session to the given state, as the provider would.
func (f *Fake) SetStatus(sessionID string, status gateway.SessionStatus, payment gateway.PaymentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.Status = status
		s.PaymentStatus = payment
		if payment == gateway.PaymentStatusPaid && s.PaymentIntentID == "" {
			s.PaymentIntentID = "pi_" + sessionID
		}
	}
}

func (f *Fake) Session(sessionID string) *gateway.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// SessionCount is the number of sessions ever created.
func (f *Fake) SessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// SignedHeader returns a header accepted by Fake.ParseEvent.
func SignedHeader() http.Header {
	h := http.Header{}
	h.Set(FakeSignatureHeader, FakeSignature)
	return h
}

// EncodeEvent marshals ev for Fake.ParseEvent.
func EncodeEvent(ev *gateway.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}

// StripeSignature builds a Stripe-Signature header value for payload signed
// with secret at time ts.
func StripeSignature(secret string, payload []byte, ts time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	}).Header
}
