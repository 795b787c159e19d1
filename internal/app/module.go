package app

import (
	"time"

	"github.com/fatflowers/academy/internal/app/api/server"
	"github.com/fatflowers/academy/internal/app/service/catalog"
	"github.com/fatflowers/academy/internal/app/service/checkout"
	"github.com/fatflowers/academy/internal/app/service/enrollment"
	"github.com/fatflowers/academy/internal/app/service/ledger"
	notificationhandler "github.com/fatflowers/academy/internal/app/service/notification_handler"
	notificationlog "github.com/fatflowers/academy/internal/app/service/notification_log"
	"github.com/fatflowers/academy/internal/app/service/statistics"
	"github.com/fatflowers/academy/internal/platform/cache"
	"github.com/fatflowers/academy/internal/platform/db"
	"github.com/fatflowers/academy/internal/platform/events"
	"github.com/fatflowers/academy/internal/platform/gateway"
	"github.com/fatflowers/academy/internal/platform/lock"
	"github.com/fatflowers/academy/internal/platform/tracing"
	"github.com/fatflowers/academy/pkg/config"
	"github.com/fatflowers/academy/pkg/logger"
	"github.com/fatflowers/academy/pkg/metrics"

	"go.uber.org/fx"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	metrics.Module,
	tracing.Module,
	db.Module,
	cache.Module,
	lock.Module,
	events.Module,
	gateway.Module,
	catalog.Module,
	ledger.Module,
	enrollment.Module,
	checkout.Module,
	statistics.Module,
	notificationlog.Module,
	notificationhandler.Module,
	server.Module,
)
