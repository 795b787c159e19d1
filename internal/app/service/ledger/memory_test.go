package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/academy/internal/models"
	"github.com/fatflowers/academy/pkg/errs"
	"github.com/fatflowers/academy/pkg/types"
)

func newPending(t *testing.T, s Store, user, course, session string) *models.Purchase {
	t.Helper()
	p := &models.Purchase{
		UserID:      user,
		CourseID:    course,
		EducatorID:  "edu-1",
		AmountMinor: 9000,
		Currency:    "usd",
	}
	if session != "" {
		p.SessionID = lo.ToPtr(session)
	}
	require.NoError(t, s.Create(context.Background(), p))
	require.NotEmpty(t, p.ID)
	require.Equal(t, types.PurchaseStatusPending, p.Status)
	return p
}

func TestMemoryStore_CreateEnforcesUniqueness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newPending(t, s, "u1", "c1", "cs_1")

	err := s.Create(ctx, &models.Purchase{UserID: "u1", CourseID: "c1", SessionID: lo.ToPtr("cs_2")})
	require.ErrorIs(t, err, errs.ErrConflict, "second pending purchase for the pair")

	err = s.Create(ctx, &models.Purchase{UserID: "u2", CourseID: "c1", SessionID: lo.ToPtr("cs_1")})
	require.ErrorIs(t, err, errs.ErrConflict, "reused session id")

	err = s.Create(ctx, &models.Purchase{UserID: "u2", CourseID: "c1", Status: types.PurchaseStatusCompleted})
	require.ErrorIs(t, err, errs.ErrValidation)

	err = s.Create(ctx, &models.Purchase{UserID: "u2", CourseID: "c1", AmountMinor: -1})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestMemoryStore_Lookups(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	p := newPending(t, s, "u1", "c1", "cs_1")

	got, err := s.FindBySession(ctx, "cs_1")
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)

	_, err = s.FindBySession(ctx, "cs_missing")
	require.ErrorIs(t, err, errs.ErrNotFound)

	got, err = s.FindActiveForUserCourse(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Equal(t, types.PurchaseStatusPending, got.Status)

	_, err = s.FindActiveForUserCourse(ctx, "u1", "c2")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = s.TransitionStatus(ctx, p.ID, types.PurchaseStatusCompleted, &Annotation{PaymentIntentID: "pi_1", ReceiptURL: "https://r"})
	require.NoError(t, err)

	got, err = s.FindByPaymentIntent(ctx, "pi_1")
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)
	require.Equal(t, "https://r", got.GetMetadata().ReceiptURL)
}

func TestMemoryStore_TransitionStateMachine(t *testing.T) {
	ctx := context.Background()
	for _, from := range types.AllPurchaseStatuses {
		for _, to := range types.AllPurchaseStatuses {
			if from == to {
				continue
			}
			s := NewMemoryStore()
			p := newPending(t, s, "u", "c", "")
			if from != types.PurchaseStatusPending {
				driveTo(t, s, p.ID, from)
			}
			_, err := s.TransitionStatus(ctx, p.ID, to, nil)
			if from.CanTransitionTo(to) {
				require.NoError(t, err, "%s -> %s", from, to)
			} else {
				require.ErrorIs(t, err, errs.ErrInvalidTransition, "%s -> %s", from, to)
				cur, err := s.FindByID(ctx, p.ID)
				require.NoError(t, err)
				require.Equal(t, from, cur.Status, "rejected transition must not mutate")
			}
		}
	}
}

func driveTo(t *testing.T, s Store, id string, status types.PurchaseStatus) {
	t.Helper()
	ctx := context.Background()
	switch status {
	case types.PurchaseStatusCompleted, types.PurchaseStatusFailed, types.PurchaseStatusCanceled:
		_, err := s.TransitionStatus(ctx, id, status, nil)
		require.NoError(t, err)
	case types.PurchaseStatusRefunded:
		_, err := s.TransitionStatus(ctx, id, types.PurchaseStatusCompleted, nil)
		require.NoError(t, err)
		_, err = s.TransitionStatus(ctx, id, types.PurchaseStatusRefunded, nil)
		require.NoError(t, err)
	}
}

func TestMemoryStore_CompletionGrantsOnceAndIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	p := newPending(t, s, "u1", "c1", "cs_1")

	res, err := s.TransitionStatus(ctx, p.ID, types.PurchaseStatusCompleted, &Annotation{EventID: "evt_1"})
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, types.PurchaseStatusPending, res.From)
	require.NotNil(t, res.Purchase.CompletedAt)
	completedAt := *res.Purchase.CompletedAt

	res, err = s.TransitionStatus(ctx, p.ID, types.PurchaseStatusCompleted, &Annotation{EventID: "evt_1"})
	require.NoError(t, err)
	require.False(t, res.Applied)
	require.Equal(t, completedAt, *res.Purchase.CompletedAt, "completedAt is set exactly once")

	enrolled, err := s.IsEnrolled(ctx, "u1", "c1")
	require.NoError(t, err)
	require.True(t, enrolled)
	require.Len(t, s.Logs(p.ID), 1)
}

func TestMemoryStore_ConcurrentCompletionAppliesOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	p := newPending(t, s, "u1", "c1", "cs_1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.TransitionStatus(ctx, p.ID, types.PurchaseStatusCompleted, nil)
			if err != nil {
				t.Errorf("transition: %v", err)
				return
			}
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, applied)
	require.Len(t, s.Logs(p.ID), 1)
}

func TestMemoryStore_SecondCompletedForPairConflicts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	first := newPending(t, s, "u1", "c1", "cs_1")
	_, err := s.TransitionStatus(ctx, first.ID, types.PurchaseStatusFailed, nil)
	require.NoError(t, err)
	second := newPending(t, s, "u1", "c1", "cs_2")

	_, err = s.TransitionStatus(ctx, second.ID, types.PurchaseStatusCompleted, nil)
	require.NoError(t, err)

	// A record that was pending before the other completed (e.g. written by an
	// older deployment) must not produce a second completed entry.
	stale := &models.Purchase{ID: "stale", UserID: "u1", CourseID: "c1", SessionID: lo.ToPtr("cs_3"), Status: types.PurchaseStatusPending}
	s.mu.Lock()
	s.purchases[stale.ID] = stale
	s.mu.Unlock()

	_, err = s.TransitionStatus(ctx, stale.ID, types.PurchaseStatusCompleted, nil)
	require.ErrorIs(t, err, errs.ErrConflict)

	completed := lo.Filter(s.Purchases("u1", "c1"), func(p *models.Purchase, _ int) bool {
		return p.Status == types.PurchaseStatusCompleted
	})
	require.Len(t, completed, 1)
}

func TestMemoryStore_RefundRevokesAndKeepsAuditTrail(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	p := newPending(t, s, "u1", "c1", "cs_1")
	_, err := s.TransitionStatus(ctx, p.ID, types.PurchaseStatusCompleted, nil)
	require.NoError(t, err)

	res, err := s.TransitionStatus(ctx, p.ID, types.PurchaseStatusRefunded, &Annotation{Reason: "requested_by_customer"})
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, "requested_by_customer", res.Purchase.GetMetadata().Reason)

	enrolled, err := s.IsEnrolled(ctx, "u1", "c1")
	require.NoError(t, err)
	require.False(t, enrolled)

	list, err := s.ListEnrollments(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, list)

	// Record survives; a new purchase may start.
	require.Len(t, s.Purchases("u1", "c1"), 1)
	newPending(t, s, "u1", "c1", "cs_2")

	logs := s.Logs(p.ID)
	require.Len(t, logs, 2)
	require.Equal(t, types.PurchaseStatusCompleted, logs[1].From)
	require.Equal(t, types.PurchaseStatusRefunded, logs[1].To)
}

func TestMemoryStore_ListEnrollmentsMostRecentFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, c := range []string{"c1", "c2", "c3"} {
		p := newPending(t, s, "u1", c, "")
		_, err := s.TransitionStatus(ctx, p.ID, types.PurchaseStatusCompleted, nil)
		require.NoError(t, err)
	}
	list, err := s.ListEnrollments(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"c3", "c2", "c1"}, lo.Map(list, func(e *models.Enrollment, _ int) string { return e.CourseID }))
}

func TestMemoryStore_Scan(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i, u := range []string{"u1", "u2", "u3"} {
		p := newPending(t, s, u, "c1", "")
		if i > 0 {
			_, err := s.TransitionStatus(ctx, p.ID, types.PurchaseStatusCompleted, nil)
			require.NoError(t, err)
		}
	}
	resp, err := s.Scan(ctx, &ScanRequest{Filters: []*types.CommonFilter{
		{Field: "status", Operator: types.CommonFilterOperatorEq, Values: []any{"completed"}},
	}})
	require.NoError(t, err)
	require.EqualValues(t, 2, resp.Total)
	require.Equal(t, "u3", resp.Items[0].UserID)

	_, err = s.Scan(ctx, &ScanRequest{Filters: []*types.CommonFilter{
		{Field: "metadata", Operator: types.CommonFilterOperatorEq, Values: []any{"x"}},
	}})
	require.True(t, errors.Is(err, errs.ErrValidation))
}
