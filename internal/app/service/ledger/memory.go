package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"gorm.io/datatypes"

	"github.com/fatflowers/academy/internal/models"
	"github.com/fatflowers/academy/pkg/errs"
	"github.com/fatflowers/academy/pkg/types"
)

// MemoryStore is a process-local Store with the same invariants as the
// postgres one. A single mutex stands in for the database's row locks and
// unique indexes.
type MemoryStore struct {
	mu          sync.Mutex
	purchases   map[string]*models.Purchase
	enrollments map[string]*models.Enrollment
	logs        []*models.PurchaseLog
	seq         int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		purchases:   map[string]*models.Purchase{},
		enrollments: map[string]*models.Enrollment{},
	}
}

func pairKey(userID, courseID string) string { return userID + "\x00" + courseID }

func clonePurchase(p *models.Purchase) *models.Purchase {
	cp := *p
	cp.Metadata = datatypes.NewJSONType(mergeAnnotation(p.GetMetadata(), nil))
	return &cp
}

func (m *MemoryStore) Create(_ context.Context, p *models.Purchase) error {
	if err := prepareCreate(p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.purchases[p.ID]; ok {
		return fmt.Errorf("create purchase: %w: duplicate id %s", errs.ErrConflict, p.ID)
	}
	for _, other := range m.purchases {
		if p.SessionID != nil && other.SessionID != nil && *other.SessionID == *p.SessionID {
			return fmt.Errorf("create purchase: %w: session %s already recorded", errs.ErrConflict, *p.SessionID)
		}
		if other.UserID == p.UserID && other.CourseID == p.CourseID && other.Status == types.PurchaseStatusPending {
			return fmt.Errorf("create purchase: %w: pair already has a pending purchase", errs.ErrConflict)
		}
	}
	m.seq++
	now := time.Now().UTC().Add(time.Duration(m.seq))
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.purchases[p.ID] = clonePurchase(p)
	return nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (*models.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok {
		return nil, fmt.Errorf("find purchase by id: %w", errs.ErrNotFound)
	}
	return clonePurchase(p), nil
}

func (m *MemoryStore) FindBySession(_ context.Context, sessionID string) (*models.Purchase, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("find purchase by session: %w: empty session id", errs.ErrValidation)
	}
	return m.find("find purchase by session", func(p *models.Purchase) bool {
		return p.SessionID != nil && *p.SessionID == sessionID
	})
}

func (m *MemoryStore) FindByPaymentIntent(_ context.Context, paymentIntentID string) (*models.Purchase, error) {
	if paymentIntentID == "" {
		return nil, fmt.Errorf("find purchase by payment intent: %w: empty id", errs.ErrValidation)
	}
	return m.find("find purchase by payment intent", func(p *models.Purchase) bool {
		return p.PaymentIntentID != nil && *p.PaymentIntentID == paymentIntentID
	})
}

func (m *MemoryStore) find(op string, match func(*models.Purchase) bool) (*models.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.purchases {
		if match(p) {
			return clonePurchase(p), nil
		}
	}
	return nil, fmt.Errorf("%s: %w", op, errs.ErrNotFound)
}

func (m *MemoryStore) FindActiveForUserCourse(_ context.Context, userID, courseID string) (*models.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending *models.Purchase
	for _, p := range m.purchases {
		if p.UserID != userID || p.CourseID != courseID {
			continue
		}
		switch p.Status {
		case types.PurchaseStatusCompleted:
			return clonePurchase(p), nil
		case types.PurchaseStatusPending:
			pending = p
		}
	}
	if pending == nil {
		return nil, fmt.Errorf("find active purchase: %w", errs.ErrNotFound)
	}
	return clonePurchase(pending), nil
}

func (m *MemoryStore) TransitionStatus(_ context.Context, id string, to types.PurchaseStatus, ann *Annotation) (*TransitionResult, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("transition %s: %w: unknown status %q", id, errs.ErrInvalidTransition, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.purchases[id]
	if !ok {
		return nil, fmt.Errorf("find purchase by id: %w", errs.ErrNotFound)
	}
	if cur.Status == to {
		return &TransitionResult{Purchase: clonePurchase(cur), From: cur.Status}, nil
	}
	if !cur.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("transition %s: %w: %s -> %s", id, errs.ErrInvalidTransition, cur.Status, to)
	}
	if to == types.PurchaseStatusCompleted {
		for _, other := range m.purchases {
			if other.ID != id && other.UserID == cur.UserID && other.CourseID == cur.CourseID && other.Status == types.PurchaseStatusCompleted {
				return nil, fmt.Errorf("transition %s: %w: pair already has a completed purchase", id, errs.ErrConflict)
			}
		}
	}

	m.seq++
	now := time.Now().UTC().Add(time.Duration(m.seq))
	from := cur.Status
	next := clonePurchase(cur)
	next.Status = to
	next.UpdatedAt = now
	next.Metadata = datatypes.NewJSONType(mergeAnnotation(cur.GetMetadata(), ann))
	if to == types.PurchaseStatusCompleted {
		next.CompletedAt = &now
		if ann != nil && ann.PaymentIntentID != "" && next.PaymentIntentID == nil {
			pi := ann.PaymentIntentID
			next.PaymentIntentID = &pi
		}
	}

	key := pairKey(cur.UserID, cur.CourseID)
	switch {
	case to.GrantsEnrollment():
		edge, ok := m.enrollments[key]
		if !ok {
			edge = &models.Enrollment{ID: fmt.Sprintf("enr-%d", m.seq), UserID: cur.UserID, CourseID: cur.CourseID}
			m.enrollments[key] = edge
		}
		edge.PurchaseID = id
		edge.EnrolledAt = now
		edge.RevokedAt = nil
		edge.UpdatedAt = now
	case from == types.PurchaseStatusCompleted && to.RevokesEnrollment():
		if edge, ok := m.enrollments[key]; ok && edge.PurchaseID == id && edge.RevokedAt == nil {
			edge.RevokedAt = &now
			edge.UpdatedAt = now
		}
	}

	m.purchases[id] = next
	m.logs = append(m.logs, &models.PurchaseLog{
		ID:         fmt.Sprintf("log-%d", m.seq),
		PurchaseID: id,
		UserID:     cur.UserID,
		From:       from,
		To:         to,
		Extra:      datatypes.NewJSONType(annotationMetadata(ann)),
		CreatedAt:  now,
	})
	return &TransitionResult{Purchase: clonePurchase(next), From: from, Applied: true}, nil
}

func (m *MemoryStore) IsEnrolled(_ context.Context, userID, courseID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enrollments[pairKey(userID, courseID)].Active(), nil
}

func (m *MemoryStore) ListEnrollments(_ context.Context, userID string) ([]*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := lo.FilterMap(lo.Values(m.enrollments), func(e *models.Enrollment, _ int) (*models.Enrollment, bool) {
		if e.UserID != userID || !e.Active() {
			return nil, false
		}
		cp := *e
		return &cp, true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.After(out[j].EnrolledAt) })
	return out, nil
}

func (m *MemoryStore) ListCompletedByEducator(_ context.Context, educatorID string) ([]*models.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := lo.FilterMap(lo.Values(m.purchases), func(p *models.Purchase, _ int) (*models.Purchase, bool) {
		if p.EducatorID != educatorID || p.Status != types.PurchaseStatusCompleted {
			return nil, false
		}
		return clonePurchase(p), true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(*out[j].CompletedAt) })
	return out, nil
}

// Scan supports equality filters only, which is what tests need.
func (m *MemoryStore) Scan(_ context.Context, req *ScanRequest) (*ScanResponse, error) {
	if err := normalizeScan(req); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	items := lo.Filter(lo.Values(m.purchases), func(p *models.Purchase, _ int) bool {
		for _, f := range req.Filters {
			if f.Operator != types.CommonFilterOperatorEq || len(f.Values) == 0 {
				continue
			}
			if fmt.Sprint(f.Values[0]) != memoryField(p, f.Field) {
				return false
			}
		}
		return true
	})
	sort.Slice(items, func(i, j int) bool {
		if req.SortOrder == "asc" {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	total := int64(len(items))
	items = lo.Slice(items, req.From, req.From+req.Size)
	return &ScanResponse{
		Items: lo.Map(items, func(p *models.Purchase, _ int) *models.Purchase { return clonePurchase(p) }),
		Total: total,
	}, nil
}

func memoryField(p *models.Purchase, field string) string {
	switch field {
	case "id":
		return p.ID
	case "user_id":
		return p.UserID
	case "course_id":
		return p.CourseID
	case "educator_id":
		return p.EducatorID
	case "status":
		return string(p.Status)
	case "session_id":
		return lo.FromPtr(p.SessionID)
	case "payment_intent_id":
		return lo.FromPtr(p.PaymentIntentID)
	}
	return ""
}

// Logs returns the transition log of a purchase in order.
func (m *MemoryStore) Logs(purchaseID string) []*models.PurchaseLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Filter(m.logs, func(l *models.PurchaseLog, _ int) bool { return l.PurchaseID == purchaseID })
}

// Purchases returns every record for the pair, regardless of status.
func (m *MemoryStore) Purchases(userID, courseID string) []*models.Purchase {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := lo.FilterMap(lo.Values(m.purchases), func(p *models.Purchase, _ int) (*models.Purchase, bool) {
		return clonePurchase(p), p.UserID == userID && p.CourseID == courseID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
