// Package catalog resolves course identifiers to price and ownership.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/academy/internal/models"
	"github.com/fatflowers/academy/pkg/config"
	"github.com/fatflowers/academy/pkg/errs"
	"github.com/fatflowers/academy/pkg/types"
)

type Lookup interface {
	// GetCourse returns errs.ErrNotFound for unknown ids.
	GetCourse(ctx context.Context, courseID string) (*models.Course, error)
	// GetCourses returns the courses that exist, keyed by id. Missing ids
	// are simply absent.
	GetCourses(ctx context.Context, courseIDs []string) (map[string]*models.Course, error)
	ListByEducator(ctx context.Context, educatorID string) ([]*models.Course, error)
}

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

func (s *Service) GetCourse(ctx context.Context, courseID string) (*models.Course, error) {
	if courseID == "" {
		return nil, fmt.Errorf("get course: %w: empty id", errs.ErrValidation)
	}
	var c models.Course
	if err := s.db.WithContext(ctx).Where("id = ?", courseID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("course %s: %w", courseID, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("get course %s: %w", courseID, err)
	}
	return &c, nil
}

func (s *Service) GetCourses(ctx context.Context, courseIDs []string) (map[string]*models.Course, error) {
	ids := lo.Uniq(lo.Compact(courseIDs))
	if len(ids) == 0 {
		return map[string]*models.Course{}, nil
	}
	var rows []*models.Course
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get courses: %w", err)
	}
	return lo.KeyBy(rows, func(c *models.Course) string { return c.ID }), nil
}

func (s *Service) ListByEducator(ctx context.Context, educatorID string) ([]*models.Course, error) {
	var rows []*models.Course
	if err := s.db.WithContext(ctx).Where("educator_id = ?", educatorID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list courses by educator: %w", err)
	}
	return rows, nil
}

// Seed upserts the configured courses. Price changes only affect purchases
// created afterwards, since purchases snapshot their amount.
func (s *Service) Seed(ctx context.Context, cfg *config.Config) error {
	if len(cfg.Courses) == 0 {
		return nil
	}
	rows := lo.Map(cfg.Courses, func(c *types.Course, _ int) *models.Course {
		m := models.CourseFromSeed(c)
		if m.Currency == "" {
			m.Currency = cfg.Stripe.Currency
		}
		return m
	})
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "description", "thumbnail", "educator_id", "educator_name",
			"price_minor", "discount_percent", "currency", "updated_at",
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("seed courses: %w", err)
	}
	s.log.Infow("course catalog seeded", "count", len(rows))
	return nil
}

func newLookup(s *Service) Lookup { return s }

func seed(lc fx.Lifecycle, s *Service, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Seed(ctx, cfg)
		},
	})
}

// Module exposes the catalog via Fx and seeds it from configuration on start.
var Module = fx.Options(
	fx.Provide(NewService, newLookup),
	fx.Invoke(seed),
)

// Static is an in-memory Lookup.
type Static map[string]*models.Course

func (s Static) GetCourse(_ context.Context, courseID string) (*models.Course, error) {
	c, ok := s[courseID]
	if !ok {
		return nil, fmt.Errorf("course %s: %w", courseID, errs.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s Static) GetCourses(_ context.Context, courseIDs []string) (map[string]*models.Course, error) {
	out := map[string]*models.Course{}
	for _, id := range courseIDs {
		if c, ok := s[id]; ok {
			cp := *c
			out[id] = &cp
		}
	}
	return out, nil
}

func (s Static) ListByEducator(_ context.Context, educatorID string) ([]*models.Course, error) {
	return lo.FilterMap(lo.Values(s), func(c *models.Course, _ int) (*models.Course, bool) {
		return c, c.EducatorID == educatorID
	}), nil
}
