// Package statistics derives educator earnings from completed ledger records.
package statistics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"

	"github.com/fatflowers/academy/internal/app/service/catalog"
	"github.com/fatflowers/academy/internal/app/service/ledger"
	"github.com/fatflowers/academy/internal/models"
)

const recentEnrollmentLimit = 5

type RecentEnrollment struct {
	PurchaseID  string    `json:"purchase_id"`
	UserID      string    `json:"user_id"`
	CourseID    string    `json:"course_id"`
	CourseTitle string    `json:"course_title"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	EnrolledAt  time.Time `json:"enrolled_at"`
}

type Dashboard struct {
	// TotalEarnings sums completed purchases per currency, in minor units.
	TotalEarnings     map[string]int64    `json:"total_earnings"`
	TotalStudents     int                 `json:"total_students"`
	TotalCourses      int                 `json:"total_courses"`
	RecentEnrollments []*RecentEnrollment `json:"recent_enrollments"`
}

type Service struct {
	store  ledger.Store
	lookup catalog.Lookup
}

func New(store ledger.Store, lookup catalog.Lookup) *Service {
	return &Service{store: store, lookup: lookup}
}

// GetDashboard aggregates the educator's completed purchases. Refunded and
// canceled purchases no longer count towards earnings or students.
func (s *Service) GetDashboard(ctx context.Context, educatorID string) (*Dashboard, error) {
	purchases, courses, err := s.load(ctx, educatorID)
	if err != nil {
		return nil, err
	}

	titles := courseTitles(courses)
	earnings := map[string]int64{}
	for _, p := range purchases {
		earnings[p.Currency] += p.AmountMinor
	}

	recent := lo.Map(lo.Subset(purchases, 0, recentEnrollmentLimit), func(p *models.Purchase, _ int) *RecentEnrollment {
		return &RecentEnrollment{
			PurchaseID:  p.ID,
			UserID:      p.UserID,
			CourseID:    p.CourseID,
			CourseTitle: titles[p.CourseID],
			AmountMinor: p.AmountMinor,
			Currency:    p.Currency,
			EnrolledAt:  completedAt(p),
		}
	})

	return &Dashboard{
		TotalEarnings:     earnings,
		TotalStudents:     len(lo.Uniq(lo.Map(purchases, func(p *models.Purchase, _ int) string { return p.UserID }))),
		TotalCourses:      len(courses),
		RecentEnrollments: recent,
	}, nil
}

type EnrolledStudent struct {
	UserID      string    `json:"user_id"`
	CourseID    string    `json:"course_id"`
	CourseTitle string    `json:"course_title"`
	PurchaseID  string    `json:"purchase_id"`
	EnrolledAt  time.Time `json:"enrolled_at"`
}

// ListEnrolledStudents returns one row per completed purchase across the
// educator's courses, most recently enrolled first.
func (s *Service) ListEnrolledStudents(ctx context.Context, educatorID string) ([]*EnrolledStudent, error) {
	purchases, courses, err := s.load(ctx, educatorID)
	if err != nil {
		return nil, err
	}
	titles := courseTitles(courses)
	return lo.Map(purchases, func(p *models.Purchase, _ int) *EnrolledStudent {
		return &EnrolledStudent{
			UserID:      p.UserID,
			CourseID:    p.CourseID,
			CourseTitle: titles[p.CourseID],
			PurchaseID:  p.ID,
			EnrolledAt:  completedAt(p),
		}
	}), nil
}

// load fetches completed purchases and the educator's courses concurrently.
// Purchases come back sorted by completion time, newest first.
func (s *Service) load(ctx context.Context, educatorID string) ([]*models.Purchase, []*models.Course, error) {
	var (
		wg         sync.WaitGroup
		purchases  []*models.Purchase
		courses    []*models.Course
		pErr, cErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		purchases, pErr = s.store.ListCompletedByEducator(ctx, educatorID)
	}()
	go func() {
		defer wg.Done()
		courses, cErr = s.lookup.ListByEducator(ctx, educatorID)
	}()
	wg.Wait()
	if pErr != nil {
		return nil, nil, fmt.Errorf("list completed purchases: %w", pErr)
	}
	if cErr != nil {
		return nil, nil, fmt.Errorf("list educator courses: %w", cErr)
	}
	sort.SliceStable(purchases, func(i, j int) bool {
		return completedAt(purchases[i]).After(completedAt(purchases[j]))
	})
	return purchases, courses, nil
}

func courseTitles(courses []*models.Course) map[string]string {
	return lo.SliceToMap(courses, func(c *models.Course) (string, string) { return c.ID, c.Title })
}

func completedAt(p *models.Purchase) time.Time {
	if p.CompletedAt != nil {
		return *p.CompletedAt
	}
	return p.UpdatedAt
}

var Module = fx.Options(
	fx.Provide(New),
)
