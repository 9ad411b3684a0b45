package db

import (
	"errors"
	"testing"

	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestGormConfig_LogsThroughApplicationLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	utils.SetDefault(zap.New(core))
	t.Cleanup(func() { utils.SetDefault(zap.NewNop()) })

	gdb := openTestDB(t)
	require.NoError(t, CreateSchemaMigrator(gdb).Up())
	logs.TakeAll()

	err := gdb.Where("app_id = ?", "UNKNOWN").First(&models.Client{}).Error
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	assert.Zero(t, logs.Len(), "a missing row is not an error worth logging")

	require.Error(t, gdb.Exec("SELECT * FROM no_such_table").Error)
	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Contains(t, entries[0].Message, "no_such_table")
}
