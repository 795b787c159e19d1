package notification_log

import (
	"context"
	"sync"

	"github.com/fatflowers/academy/internal/models"
	"github.com/fatflowers/academy/pkg/logctx"
	"github.com/fatflowers/academy/pkg/tool"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	log     *zap.SugaredLogger
	pending sync.WaitGroup
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Save asynchronously persists a payment notification log. Nil input is ignored.
// The write is detached from ctx cancellation so it survives the request.
func (s *Service) Save(ctx context.Context, entry *models.PaymentNotificationLog) {
	if entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = tool.GenerateUUIDV7()
	}
	if entry.TraceID == "" {
		entry.TraceID = logctx.TraceID(ctx)
	}
	bg := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.db.WithContext(bg).Create(entry).Error; err != nil {
			logctx.FromCtx(bg, s.log).Errorf("failed to save notification log: %v", err)
		}
	}()
}

// Wait blocks until queued writes finish or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func registerFlush(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.Hook{
		OnStop: s.Wait,
	})
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerFlush),
)
