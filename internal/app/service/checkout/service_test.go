package checkout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/academy/internal/app/service/catalog"
	"github.com/fatflowers/academy/internal/app/service/ledger"
	"github.com/fatflowers/academy/internal/models"
	"github.com/fatflowers/academy/internal/platform/gateway"
	"github.com/fatflowers/academy/internal/platform/gateway/gatewaytest"
	"github.com/fatflowers/academy/internal/platform/lock"
	"github.com/fatflowers/academy/pkg/config"
	"github.com/fatflowers/academy/pkg/errs"
	"github.com/fatflowers/academy/pkg/types"
)

type recordingProjector struct {
	mu      sync.Mutex
	results []*ledger.TransitionResult
}

func (r *recordingProjector) Project(_ context.Context, res *ledger.TransitionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

type fixture struct {
	svc       *Service
	store     *ledger.MemoryStore
	gw        *gatewaytest.Fake
	locker    lock.Locker
	projector *recordingProjector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Stripe: config.StripeConfig{
			Currency:   "usd",
			SuccessURL: "https://app/success",
			CancelURL:  "https://app/cancel",
		},
		Checkout: config.CheckoutConfig{LockTTL: time.Second, LockWait: 2 * time.Second},
	}
	courses := catalog.Static{
		"c-1":    {ID: "c-1", Title: "Go Basics", EducatorID: "e-1", PriceMinor: 10000, DiscountPercent: 10, Published: true},
		"c-free": {ID: "c-free", Title: "Intro", EducatorID: "e-1", PriceMinor: 0, Published: true},
		"c-hid":  {ID: "c-hid", Title: "Draft", EducatorID: "e-1", PriceMinor: 500},
	}
	f := &fixture{
		store:     ledger.NewMemoryStore(),
		gw:        gatewaytest.NewFake(),
		locker:    lock.NewMemoryLocker(),
		projector: &recordingProjector{},
	}
	f.svc = NewService(cfg, zap.NewNop().Sugar(), f.store, courses, f.gw, f.locker, f.projector, nil)
	return f
}

func TestInitiate_DiscountedPriceCreatesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)
	require.False(t, res.AlreadyEnrolled)
	require.NotEmpty(t, res.RedirectURL)

	purchases := f.store.Purchases("u-1", "c-1")
	require.Len(t, purchases, 1)
	p := purchases[0]
	require.Equal(t, types.PurchaseStatusPending, p.Status)
	require.Equal(t, int64(9000), p.AmountMinor)
	require.Equal(t, "usd", p.Currency)
	require.Equal(t, res.PurchaseID, p.ID)

	sess := f.gw.Session(*p.SessionID)
	require.NotNil(t, sess)
	require.Equal(t, int64(9000), sess.AmountTotal)
	require.Equal(t, gateway.Metadata{PurchaseID: p.ID, UserID: "u-1", CourseID: "c-1"}, sess.Metadata)

	// Gateway later confirms; the ledger grants access.
	_, err = f.store.TransitionStatus(ctx, p.ID, types.PurchaseStatusCompleted, nil)
	require.NoError(t, err)
	ok, err := f.store.IsEnrolled(ctx, "u-1", "c-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInitiate_SecondCallReusesOpenSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)
	second, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)

	require.Equal(t, first.RedirectURL, second.RedirectURL)
	require.Equal(t, first.PurchaseID, second.PurchaseID)
	require.Equal(t, 1, f.gw.CreateCalls)
	require.Len(t, f.store.Purchases("u-1", "c-1"), 1)
}

func TestInitiate_ConcurrentCallsShareOneSession(t *testing.T) {
	f := newFixture(t)
	f.gw.CreateDelay = 10 * time.Millisecond

	const n = 10
	urls := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Initiate(context.Background(), "u-1", "c-1")
			if assert.NoError(t, err) {
				urls[i] = res.RedirectURL
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, lo.Uniq(urls), 1)
	require.NotEmpty(t, urls[0])
	require.Equal(t, 1, f.gw.SessionCount())
	require.Len(t, f.store.Purchases("u-1", "c-1"), 1)
}

func TestInitiate_ExpiredSessionFailsAndStartsOver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)
	old, err := f.store.FindByID(ctx, first.PurchaseID)
	require.NoError(t, err)
	f.gw.SetStatus(*old.SessionID, gateway.SessionStatusExpired, gateway.PaymentStatusUnpaid)

	second, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)
	require.NotEqual(t, first.RedirectURL, second.RedirectURL)
	require.NotEqual(t, first.PurchaseID, second.PurchaseID)

	old, err = f.store.FindByID(ctx, first.PurchaseID)
	require.NoError(t, err)
	require.Equal(t, types.PurchaseStatusFailed, old.Status)
	require.Equal(t, "session_expired", old.GetMetadata().Reason)

	fresh, err := f.store.FindByID(ctx, second.PurchaseID)
	require.NoError(t, err)
	require.Equal(t, types.PurchaseStatusPending, fresh.Status)
	require.Equal(t, 2, f.gw.SessionCount())
}

func TestInitiate_AlreadyEnrolledSkipsGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)
	_, err = f.store.TransitionStatus(ctx, first.PurchaseID, types.PurchaseStatusCompleted, nil)
	require.NoError(t, err)
	creates, gets := f.gw.CreateCalls, f.gw.GetCalls

	res, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)
	require.True(t, res.AlreadyEnrolled)
	require.Empty(t, res.RedirectURL)
	require.Equal(t, creates, f.gw.CreateCalls)
	require.Equal(t, gets, f.gw.GetCalls)
}

func TestInitiate_PaidPendingCompletesInline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)
	p, err := f.store.FindByID(ctx, first.PurchaseID)
	require.NoError(t, err)
	f.gw.SetStatus(*p.SessionID, gateway.SessionStatusComplete, gateway.PaymentStatusPaid)

	res, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)
	require.True(t, res.AlreadyEnrolled)

	p, err = f.store.FindByID(ctx, first.PurchaseID)
	require.NoError(t, err)
	require.Equal(t, types.PurchaseStatusCompleted, p.Status)
	require.Equal(t, "pi_"+*p.SessionID, *p.PaymentIntentID)
	require.Len(t, f.projector.results, 1)
	require.True(t, f.projector.results[0].Applied)
}

func TestInitiate_DelayedPaymentReportsProcessing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)
	p, err := f.store.FindByID(ctx, first.PurchaseID)
	require.NoError(t, err)
	f.gw.SetStatus(*p.SessionID, gateway.SessionStatusComplete, gateway.PaymentStatusUnpaid)

	res, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)
	require.True(t, res.PaymentProcessing)
	require.False(t, res.AlreadyEnrolled)
	require.Equal(t, first.PurchaseID, res.PurchaseID)
}

func TestInitiate_GatewayUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gw.CreateErr = fmt.Errorf("create session: %w: timeout", errs.ErrGatewayUnavailable)
	_, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.ErrorIs(t, err, errs.ErrGatewayUnavailable)
	require.True(t, errs.Retryable(err))
	require.Empty(t, f.store.Purchases("u-1", "c-1"))

	f.gw.CreateErr = nil
	first, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)

	f.gw.GetErr = fmt.Errorf("get session: %w: timeout", errs.ErrGatewayUnavailable)
	_, err = f.svc.Initiate(ctx, "u-1", "c-1")
	require.ErrorIs(t, err, errs.ErrGatewayUnavailable)

	p, err := f.store.FindByID(ctx, first.PurchaseID)
	require.NoError(t, err)
	require.Equal(t, types.PurchaseStatusPending, p.Status, "a timeout never fails the purchase")
}

func TestInitiate_FreeCourseEnrollsWithoutGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, "u-1", "c-free")
	require.NoError(t, err)
	require.True(t, res.AlreadyEnrolled)
	require.Zero(t, f.gw.CreateCalls)

	p, err := f.store.FindByID(ctx, res.PurchaseID)
	require.NoError(t, err)
	require.Equal(t, types.PurchaseStatusCompleted, p.Status)
	require.Nil(t, p.SessionID)
	require.Equal(t, "free", p.GetMetadata().PaymentMethod)

	ok, err := f.store.IsEnrolled(ctx, "u-1", "c-free")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInitiate_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, "u-1", "c-missing")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.Initiate(ctx, "u-1", "c-hid")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.Initiate(ctx, "", "c-1")
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Zero(t, f.gw.CreateCalls)
}

func TestInitiate_LockWaitIsBounded(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.Checkout.LockWait = 50 * time.Millisecond

	release, err := f.locker.Acquire(context.Background(), "checkout:u-1:c-1", time.Second, time.Second)
	require.NoError(t, err)
	defer release()

	_, err = f.svc.Initiate(context.Background(), "u-1", "c-1")
	require.ErrorIs(t, err, errs.ErrBusy)
	require.True(t, errs.Retryable(err))
}

func TestInitiate_ConflictOnCreateReReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Another instance recorded a pending purchase between our read and write.
	racer := &models.Purchase{UserID: "u-1", CourseID: "c-1", EducatorID: "e-1", AmountMinor: 9000, Currency: "usd"}
	sess, err := f.gw.CreateSession(ctx, &gateway.CreateSessionRequest{AmountMinor: 9000})
	require.NoError(t, err)
	racer.SessionID = &sess.ID
	store := &raceStore{MemoryStore: f.store, racer: racer}
	f.svc.store = store

	res, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)
	require.Equal(t, racer.ID, res.PurchaseID)
	require.Equal(t, sess.URL, res.RedirectURL)
	require.Len(t, f.store.Purchases("u-1", "c-1"), 1)
	require.Equal(t, 1, f.gw.ExpireCalls, "our orphaned session is expired")
}

// raceStore inserts racer right before the first Create call.
type raceStore struct {
	*ledger.MemoryStore
	racer *models.Purchase
	once  sync.Once
}

func (r *raceStore) Create(ctx context.Context, p *models.Purchase) error {
	r.once.Do(func() {
		_ = r.MemoryStore.Create(ctx, r.racer)
	})
	return r.MemoryStore.Create(ctx, p)
}

// conflictStore fails the first completion as if another purchase for the
// pair had completed first.
type conflictStore struct {
	*ledger.MemoryStore
	once sync.Once
}

func (c *conflictStore) TransitionStatus(ctx context.Context, id string, to types.PurchaseStatus, ann *ledger.Annotation) (*ledger.TransitionResult, error) {
	hit := false
	if to == types.PurchaseStatusCompleted {
		c.once.Do(func() { hit = true })
	}
	if hit {
		return nil, fmt.Errorf("transition purchase: %w: pair already enrolled", errs.ErrConflict)
	}
	return c.MemoryStore.TransitionStatus(ctx, id, to, ann)
}

func TestInitiate_CompletionConflictClosesLoser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.store = &conflictStore{MemoryStore: f.store}

	res, err := f.svc.Initiate(ctx, "u-1", "c-free")
	require.NoError(t, err)
	require.True(t, res.AlreadyEnrolled)

	p, err := f.store.FindByID(ctx, res.PurchaseID)
	require.NoError(t, err)
	require.Equal(t, types.PurchaseStatusFailed, p.Status)
	require.Equal(t, ledger.ReasonDuplicatePayment, p.GetMetadata().Reason)
	require.Len(t, f.projector.results, 1)
	require.Equal(t, types.PurchaseStatusFailed, f.projector.results[0].Purchase.Status)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)
	p, err := f.svc.Cancel(ctx, pending.PurchaseID, "admin-1", "")
	require.NoError(t, err)
	require.Equal(t, types.PurchaseStatusCanceled, p.Status)
	require.Equal(t, "admin-1", p.GetMetadata().OperatorID)
	require.Equal(t, gateway.SessionStatusExpired, f.gw.Session(*p.SessionID).Status)

	// Cancelling a completed purchase revokes access.
	res, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)
	_, err = f.store.TransitionStatus(ctx, res.PurchaseID, types.PurchaseStatusCompleted, nil)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, res.PurchaseID, "admin-1", "chargeback")
	require.NoError(t, err)
	ok, err := f.store.IsEnrolled(ctx, "u-1", "c-1")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = f.svc.Cancel(ctx, "missing", "admin-1", "")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCancel_PaidSessionIsNotCanceled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Initiate(ctx, "u-1", "c-1")
	require.NoError(t, err)
	p, err := f.store.FindByID(ctx, res.PurchaseID)
	require.NoError(t, err)
	f.gw.SetStatus(*p.SessionID, gateway.SessionStatusComplete, gateway.PaymentStatusPaid)

	_, err = f.svc.Cancel(ctx, res.PurchaseID, "admin-1", "")
	require.ErrorIs(t, err, errs.ErrInvalidTransition)

	p, err = f.store.FindByID(ctx, res.PurchaseID)
	require.NoError(t, err)
	require.Equal(t, types.PurchaseStatusPending, p.Status)
}
