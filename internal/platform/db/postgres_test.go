package db

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/academy/pkg/config"
	"gorm.io/gorm"
)

func TestNewDB_EmptyDSN(t *testing.T) {
	_, err := NewDB(zap.NewNop().Sugar(), &cfgpkg.Config{})
	require.ErrorIs(t, err, gorm.ErrInvalidDB)
}

func TestPartialIndexesCoverActiveStatuses(t *testing.T) {
	require.Len(t, partialIndexes, 2)
	require.Contains(t, partialIndexes[0], "status = 'completed'")
	require.Contains(t, partialIndexes[1], "status = 'pending'")
}
