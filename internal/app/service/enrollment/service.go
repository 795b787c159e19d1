// Package enrollment projects completed purchases into the user-facing
// enrollment view and carries the after-commit effects of a transition.
package enrollment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fatflowers/academy/internal/app/service/catalog"
	"github.com/fatflowers/academy/internal/app/service/ledger"
	"github.com/fatflowers/academy/internal/models"
	"github.com/fatflowers/academy/internal/platform/cache"
	"github.com/fatflowers/academy/internal/platform/events"
	"github.com/fatflowers/academy/pkg/config"
	"github.com/fatflowers/academy/pkg/logctx"
	"github.com/fatflowers/academy/pkg/tool"
	"github.com/fatflowers/academy/pkg/types"
)

type CourseSummary struct {
	CourseID     string    `json:"course_id"`
	Title        string    `json:"title,omitempty"`
	Thumbnail    string    `json:"thumbnail,omitempty"`
	EducatorName string    `json:"educator_name,omitempty"`
	EnrolledAt   time.Time `json:"enrolled_at"`
	// Available is false when the course has left the catalog.
	Available bool `json:"available"`
}

type Service struct {
	store     ledger.Store
	catalog   catalog.Lookup
	cache     cache.Cache
	publisher events.Publisher
	log       *zap.SugaredLogger
	ttl       time.Duration
}

func NewService(cfg *config.Config, log *zap.SugaredLogger, store ledger.Store, lookup catalog.Lookup, c cache.Cache, p events.Publisher) *Service {
	ttl := cfg.Cache.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{store: store, catalog: lookup, cache: c, publisher: p, log: log, ttl: ttl}
}

func generationKey(userID string) string {
	return tool.CacheKey("academy", "enrollments-gen", userID)
}

func enrolledKey(gen, userID, courseID string) string {
	return tool.CacheKey("academy", "enrolled", userID, gen, courseID)
}

func listKey(gen, userID string) string {
	return tool.CacheKey("academy", "enrollments", userID, gen)
}

// generation returns the user's current cache generation. Views are stored
// under the generation read before the ledger read, so a transition projected
// in between bumps the generation and strands the stale fill. ok is false when
// the generation is unknown and the cache must not be written.
func (s *Service) generation(ctx context.Context, userID string) (string, bool) {
	raw, hit, err := s.cache.Get(ctx, generationKey(userID))
	if err != nil {
		logctx.FromCtx(ctx, s.log).Warnw("enrollment cache generation read failed", "user_id", userID, "err", err)
		return "", false
	}
	if !hit {
		return "0", true
	}
	return string(raw), true
}

func (s *Service) generationTTL() time.Duration {
	return max(24*time.Hour, 2*s.ttl)
}

// IsEnrolled reports whether the user may access the course. Only positive
// answers are cached; a negative answer always consults the ledger so a fresh
// enrollment is visible immediately.
func (s *Service) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	log := logctx.FromCtx(ctx, s.log)
	gen, cacheable := s.generation(ctx, userID)
	key := enrolledKey(gen, userID, courseID)
	if cacheable {
		if _, hit, err := s.cache.Get(ctx, key); err != nil {
			log.Warnw("enrollment cache read failed", "key", key, "err", err)
		} else if hit {
			return true, nil
		}
	}

	ok, err := s.store.IsEnrolled(ctx, userID, courseID)
	if err != nil {
		return false, err
	}
	if ok && cacheable {
		if err := s.cache.Set(ctx, key, []byte("1"), s.ttl); err != nil {
			log.Warnw("enrollment cache write failed", "key", key, "err", err)
		}
	}
	return ok, nil
}

// ListEnrolled returns the user's courses, most recently enrolled first.
// Courses missing from the catalog are kept and marked unavailable.
func (s *Service) ListEnrolled(ctx context.Context, userID string) ([]*CourseSummary, error) {
	log := logctx.FromCtx(ctx, s.log)
	gen, cacheable := s.generation(ctx, userID)
	key := listKey(gen, userID)
	if cacheable {
		if raw, hit, err := s.cache.Get(ctx, key); err != nil {
			log.Warnw("enrollment cache read failed", "key", key, "err", err)
		} else if hit {
			var cached []*CourseSummary
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
			log.Warnw("discarding undecodable enrollment cache entry", "key", key)
		}
	}

	edges, err := s.store.ListEnrollments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	courses, err := s.catalog.GetCourses(ctx, lo.Map(edges, func(e *models.Enrollment, _ int) string { return e.CourseID }))
	if err != nil {
		return nil, fmt.Errorf("resolve enrolled courses: %w", err)
	}

	out := lo.Map(edges, func(e *models.Enrollment, _ int) *CourseSummary {
		sum := &CourseSummary{CourseID: e.CourseID, EnrolledAt: e.EnrolledAt}
		if c, ok := courses[e.CourseID]; ok {
			sum.Title = c.Title
			sum.Thumbnail = c.Thumbnail
			sum.EducatorName = c.EducatorName
			sum.Available = true
		}
		return sum
	})

	if !cacheable {
		return out, nil
	}
	if raw, err := json.Marshal(out); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
			log.Warnw("enrollment cache write failed", "key", key, "err", err)
		}
	}
	return out, nil
}

// Invalidate moves the user to a fresh cache generation, orphaning every
// view filled under the previous one including fills still in flight.
func (s *Service) Invalidate(ctx context.Context, userID, courseID string) {
	log := logctx.FromCtx(ctx, s.log)
	prev, known := s.generation(ctx, userID)
	if _, err := s.cache.Incr(ctx, generationKey(userID), s.generationTTL()); err != nil {
		log.Warnw("enrollment cache generation bump failed", "user_id", userID, "course_id", courseID, "err", err)
	}
	if !known {
		return
	}
	if err := s.cache.Delete(ctx, enrolledKey(prev, userID, courseID), listKey(prev, userID)); err != nil {
		log.Warnw("enrollment cache invalidation failed", "user_id", userID, "course_id", courseID, "err", err)
	}
}

var eventTypes = map[types.PurchaseStatus]events.PurchaseEventType{
	types.PurchaseStatusCompleted: events.PurchaseCompleted,
	types.PurchaseStatusFailed:    events.PurchaseFailed,
	types.PurchaseStatusRefunded:  events.PurchaseRefunded,
	types.PurchaseStatusCanceled:  events.PurchaseCanceled,
}

// Project runs after a committed transition: it invalidates cached views and
// publishes the purchase event. Neither step can undo the commit, so failures
// are logged only. Unapplied transitions are ignored.
func (s *Service) Project(ctx context.Context, res *ledger.TransitionResult) {
	if res == nil || !res.Applied || res.Purchase == nil {
		return
	}
	p := res.Purchase
	s.Invalidate(ctx, p.UserID, p.CourseID)

	typ, ok := eventTypes[p.Status]
	if !ok {
		return
	}
	ev := &events.PurchaseEvent{
		Type:        typ,
		PurchaseID:  p.ID,
		UserID:      p.UserID,
		CourseID:    p.CourseID,
		EducatorID:  p.EducatorID,
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		OccurredAt:  p.UpdatedAt,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("publish purchase event failed", "purchase_id", p.ID, "type", typ, "err", err)
	}
}
