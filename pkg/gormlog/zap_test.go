package gormlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestShortCaller(t *testing.T) {
	require.Equal(t, "internal/platform/db/postgres.go:38", shortCaller("/Users/alex/repo/internal/platform/db/postgres.go:38"))
	require.Equal(t, "b/c/d.go:1", shortCaller("/a/b/c/d.go:1"))
	require.Equal(t, "", shortCaller(""))
}

func TestTrace_IgnoresRecordNotFound(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := New(zap.New(core).Sugar(), time.Second)

	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 0 }, gorm.ErrRecordNotFound)
	require.Equal(t, 0, logs.FilterMessage("gorm_trace").Len())

	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 0 }, errors.New("boom"))
	require.Equal(t, 1, logs.FilterMessage("gorm_trace").Len())
}
