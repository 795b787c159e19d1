package notification_handler

import (
	"go.uber.org/fx"

	"github.com/fatflowers/academy/internal/app/service/enrollment"
	notificationlog "github.com/fatflowers/academy/internal/app/service/notification_log"
)

func asProjector(e *enrollment.Service) Projector { return e }

func asRecorder(s *notificationlog.Service) Recorder { return s }

var Module = fx.Options(
	fx.Provide(NewNotificationHandler, asProjector, asRecorder),
)
