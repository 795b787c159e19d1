package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/academy/internal/models"
	"github.com/fatflowers/academy/pkg/errs"
	"github.com/fatflowers/academy/pkg/logctx"
	"github.com/fatflowers/academy/pkg/tool"
	"github.com/fatflowers/academy/pkg/types"
)

var tracer = otel.Tracer("github.com/fatflowers/academy/internal/app/service/ledger")

// errLostRace marks a conditional update that matched no row.
var errLostRace = errors.New("purchase changed concurrently")

type GormStore struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewGormStore(db *gorm.DB, log *zap.SugaredLogger) *GormStore {
	return &GormStore{db: db, log: log}
}

func (s *GormStore) Create(ctx context.Context, p *models.Purchase) error {
	if err := prepareCreate(p); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return translate("create purchase", err)
	}
	return nil
}

func prepareCreate(p *models.Purchase) error {
	if p == nil {
		return fmt.Errorf("create purchase: %w: nil purchase", errs.ErrValidation)
	}
	if p.UserID == "" || p.CourseID == "" {
		return fmt.Errorf("create purchase: %w: user and course are required", errs.ErrValidation)
	}
	if p.AmountMinor < 0 {
		return fmt.Errorf("create purchase: %w: negative amount", errs.ErrValidation)
	}
	if p.Status == "" {
		p.Status = types.PurchaseStatusPending
	}
	if p.Status != types.PurchaseStatusPending {
		return fmt.Errorf("create purchase: %w: new purchases start pending, got %s", errs.ErrValidation, p.Status)
	}
	if p.SessionID != nil && *p.SessionID == "" {
		p.SessionID = nil
	}
	if p.ID == "" {
		p.ID = tool.GenerateUUIDV7()
	}
	if p.Metadata.Data() == nil {
		p.Metadata = datatypes.NewJSONType(&models.PurchaseMetadata{})
	}
	return nil
}

func (s *GormStore) FindByID(ctx context.Context, id string) (*models.Purchase, error) {
	return s.findOne(ctx, "find purchase by id", "id = ?", id)
}

func (s *GormStore) FindBySession(ctx context.Context, sessionID string) (*models.Purchase, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("find purchase by session: %w: empty session id", errs.ErrValidation)
	}
	return s.findOne(ctx, "find purchase by session", "session_id = ?", sessionID)
}

func (s *GormStore) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Purchase, error) {
	if paymentIntentID == "" {
		return nil, fmt.Errorf("find purchase by payment intent: %w: empty id", errs.ErrValidation)
	}
	return s.findOne(ctx, "find purchase by payment intent", "payment_intent_id = ?", paymentIntentID)
}

func (s *GormStore) findOne(ctx context.Context, op string, query string, args ...interface{}) (*models.Purchase, error) {
	var p models.Purchase
	if err := s.db.WithContext(ctx).Where(query, args...).First(&p).Error; err != nil {
		return nil, translate(op, err)
	}
	return &p, nil
}

func (s *GormStore) FindActiveForUserCourse(ctx context.Context, userID, courseID string) (*models.Purchase, error) {
	var p models.Purchase
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND course_id = ? AND status IN ?", userID, courseID,
			[]string{string(types.PurchaseStatusCompleted), string(types.PurchaseStatusPending)}).
		Order("CASE WHEN status = 'completed' THEN 0 ELSE 1 END").
		Take(&p).Error
	if err != nil {
		return nil, translate("find active purchase", err)
	}
	return &p, nil
}

func (s *GormStore) TransitionStatus(ctx context.Context, id string, to types.PurchaseStatus, ann *Annotation) (res *TransitionResult, err error) {
	ctx, span := tracer.Start(ctx, "ledger.transition_status")
	span.SetAttributes(attribute.String("purchase.id", id), attribute.String("purchase.to", string(to)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Bool("purchase.applied", res.Applied))
		}
		span.End()
	}()

	if !to.Valid() {
		return nil, fmt.Errorf("transition %s: %w: unknown status %q", id, errs.ErrInvalidTransition, to)
	}

	lostRace := false
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		cur, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Status == to {
			return &TransitionResult{Purchase: cur, From: cur.Status, Applied: false}, nil
		}
		if !cur.Status.CanTransitionTo(to) {
			return nil, fmt.Errorf("transition %s: %w: %s -> %s", id, errs.ErrInvalidTransition, cur.Status, to)
		}
		if lostRace && to == types.PurchaseStatusCompleted {
			// The NOT EXISTS guard, not a status change, stopped the update.
			taken, err := s.completedExists(ctx, cur)
			if err != nil {
				return nil, err
			}
			if taken {
				return nil, fmt.Errorf("transition %s: %w: pair already has a completed purchase", id, errs.ErrConflict)
			}
		}

		next, err := s.apply(ctx, cur, to, ann)
		if errors.Is(err, errLostRace) {
			lostRace = true
			logctx.FromCtx(ctx, s.log).Debugw("purchase transition lost race, re-reading", "purchase_id", id, "to", to, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		return &TransitionResult{Purchase: next, From: cur.Status, Applied: true}, nil
	}
	return nil, fmt.Errorf("transition %s: %w: too many concurrent updates", id, errs.ErrBusy)
}

// apply runs the conditional update and its edge effects in one transaction.
func (s *GormStore) apply(ctx context.Context, cur *models.Purchase, to types.PurchaseStatus, ann *Annotation) (*models.Purchase, error) {
	now := time.Now().UTC()
	next := *cur
	next.Status = to
	next.UpdatedAt = now
	next.Metadata = datatypes.NewJSONType(mergeAnnotation(cur.GetMetadata(), ann))

	updates := map[string]interface{}{
		"status":     to,
		"metadata":   next.Metadata,
		"updated_at": now,
	}
	if to == types.PurchaseStatusCompleted {
		next.CompletedAt = &now
		updates["completed_at"] = now
		if ann != nil && ann.PaymentIntentID != "" && cur.PaymentIntentID == nil {
			pi := ann.PaymentIntentID
			next.PaymentIntentID = &pi
			updates["payment_intent_id"] = pi
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Purchase{}).Where("id = ? AND status = ?", cur.ID, cur.Status)
		if to == types.PurchaseStatusCompleted {
			q = q.Where("NOT EXISTS (SELECT 1 FROM purchase other WHERE other.user_id = ? AND other.course_id = ? AND other.status = ? AND other.id <> ?)",
				cur.UserID, cur.CourseID, types.PurchaseStatusCompleted, cur.ID)
		}
		r := q.Updates(updates)
		if r.Error != nil {
			return translate("update purchase status", r.Error)
		}
		if r.RowsAffected == 0 {
			return errLostRace
		}

		if err := tx.Create(&models.PurchaseLog{
			ID:         tool.GenerateUUIDV7(),
			PurchaseID: cur.ID,
			UserID:     cur.UserID,
			From:       cur.Status,
			To:         to,
			Extra:      datatypes.NewJSONType(annotationMetadata(ann)),
		}).Error; err != nil {
			return translate("create purchase log", err)
		}

		switch {
		case to.GrantsEnrollment():
			return grantEnrollment(tx, cur, now)
		case cur.Status == types.PurchaseStatusCompleted && to.RevokesEnrollment():
			return revokeEnrollment(tx, cur, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &next, nil
}

func grantEnrollment(tx *gorm.DB, p *models.Purchase, now time.Time) error {
	edge := &models.Enrollment{
		ID:         tool.GenerateUUIDV7(),
		UserID:     p.UserID,
		CourseID:   p.CourseID,
		PurchaseID: p.ID,
		EnrolledAt: now,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"purchase_id": p.ID,
			"enrolled_at": now,
			"revoked_at":  nil,
			"updated_at":  now,
		}),
	}).Create(edge).Error
	if err != nil {
		return translate("grant enrollment", err)
	}
	return nil
}

func revokeEnrollment(tx *gorm.DB, p *models.Purchase, now time.Time) error {
	err := tx.Model(&models.Enrollment{}).
		Where("user_id = ? AND course_id = ? AND purchase_id = ? AND revoked_at IS NULL", p.UserID, p.CourseID, p.ID).
		Updates(map[string]interface{}{"revoked_at": now, "updated_at": now}).Error
	if err != nil {
		return translate("revoke enrollment", err)
	}
	return nil
}

func (s *GormStore) completedExists(ctx context.Context, p *models.Purchase) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("user_id = ? AND course_id = ? AND status = ? AND id <> ?", p.UserID, p.CourseID, types.PurchaseStatusCompleted, p.ID).
		Count(&n).Error
	if err != nil {
		return false, translate("count completed purchases", err)
	}
	return n > 0, nil
}

func (s *GormStore) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Enrollment{}).
		Where("user_id = ? AND course_id = ? AND revoked_at IS NULL", userID, courseID).
		Count(&n).Error
	if err != nil {
		return false, translate("count enrollments", err)
	}
	return n > 0, nil
}

func (s *GormStore) ListEnrollments(ctx context.Context, userID string) ([]*models.Enrollment, error) {
	var rows []*models.Enrollment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Order("enrolled_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, translate("list enrollments", err)
	}
	return rows, nil
}

func (s *GormStore) ListCompletedByEducator(ctx context.Context, educatorID string) ([]*models.Purchase, error) {
	var rows []*models.Purchase
	err := s.db.WithContext(ctx).
		Where("educator_id = ? AND status = ?", educatorID, types.PurchaseStatusCompleted).
		Order("completed_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, translate("list completed purchases", err)
	}
	return rows, nil
}

// filtersAnd combines CommonFilters into a single clause.Expression.
type filtersAnd struct{ filters []*types.CommonFilter }

func (w filtersAnd) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w.filters))
	for _, f := range w.filters {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}

func (s *GormStore) Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	if err := normalizeScan(req); err != nil {
		return nil, err
	}

	tx := s.db.WithContext(ctx).Model(&models.Purchase{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{filtersAnd{filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count purchases: %w", err)
	}

	var rows []*models.Purchase
	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"}}})
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	return &ScanResponse{Items: rows, Total: total}, nil
}

func normalizeScan(req *ScanRequest) error {
	if req == nil {
		return fmt.Errorf("scan purchases: %w: nil request", errs.ErrValidation)
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.Size > 100 {
		req.Size = 100
	}
	if req.From < 0 {
		req.From = 0
	}
	if req.SortBy == "" {
		req.SortBy = "created_at"
	}
	if !ScanFields[req.SortBy] {
		return fmt.Errorf("scan purchases: %w: cannot sort by %s", errs.ErrValidation, req.SortBy)
	}
	for _, f := range req.Filters {
		if err := f.Validate(ScanFields); err != nil {
			return fmt.Errorf("scan purchases: %w: %v", errs.ErrValidation, err)
		}
	}
	return nil
}

func translate(op string, err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.As(err, &pgErr) && pgErr.Code == "23505":
		return fmt.Errorf("%s: %w: %v", op, errs.ErrConflict, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
