package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn: mockDB,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	return mockDB, mock, gormDB
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	logger := zap.NewNop()
	config := PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 1 * time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}

	manager, err := NewPoolManager(gormDB, config, logger)
	require.NoError(t, err)

	assert.NotNil(t, manager)
	assert.NotNil(t, manager.db)
	assert.NotNil(t, manager.logger)
	assert.Equal(t, config, manager.config)
}

func TestPoolManager_GetDB(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	logger := zap.NewNop()
	config := PoolConfig{
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}

	manager, err := NewPoolManager(gormDB, config, logger)
	require.NoError(t, err)

	db := manager.DB()

	assert.NotNil(t, db)
	assert.Equal(t, gormDB, db)
}

func TestPoolManager_HealthCheck(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	logger := zap.NewNop()
	config := PoolConfig{
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}

	manager, err := NewPoolManager(gormDB, config, logger)
	require.NoError(t, err)

	ctx := context.Background()
	mock.ExpectPing()

	err = manager.Ping(ctx)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_HealthCheckFailed(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	logger := zap.NewNop()
	config := PoolConfig{
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}

	manager, err := NewPoolManager(gormDB, config, logger)
	require.NoError(t, err)

	ctx := context.Background()
	mock.ExpectPing().WillReturnError(sql.ErrConnDone)

	err = manager.Ping(ctx)
	assert.Error(t, err)
}

func TestPoolManager_GetStats(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	logger := zap.NewNop()
	config := PoolConfig{
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}

	manager, err := NewPoolManager(gormDB, config, logger)
	require.NoError(t, err)

	stats := manager.GetStats()
	assert.GreaterOrEqual(t, stats.MaxOpenConnections, 0)
	assert.GreaterOrEqual(t, stats.OpenConnections, 0)
	assert.GreaterOrEqual(t, stats.InUse, 0)
	assert.GreaterOrEqual(t, stats.Idle, 0)
}

func TestPoolManager_WithTransaction(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	logger := zap.NewNop()
	config := PoolConfig{
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}

	manager, err := NewPoolManager(gormDB, config, logger)
	require.NoError(t, err)

	ctx := context.Background()
	mock.ExpectBegin()
	mock.ExpectCommit()

	err = manager.WithTransaction(ctx, func(tx *gorm.DB) error {
		return nil
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRollback(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	logger := zap.NewNop()
	config := PoolConfig{
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}

	manager, err := NewPoolManager(gormDB, config, logger)
	require.NoError(t, err)

	ctx := context.Background()
	mock.ExpectBegin()
	mock.ExpectRollback()

	err = manager.WithTransaction(ctx, func(tx *gorm.DB) error {
		return assert.AnError
	})

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry_RetriesOnDeadlockThenSucceeds(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	logger := zap.NewNop()
	manager, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, logger)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	attempt := 0
	err = manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		attempt++
		if attempt == 1 {
			return errors.New("deadlock detected")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, attempt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry_NonRetryableFailsImmediately(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	logger := zap.NewNop()
	manager, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, logger)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	attempt := 0
	err = manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		attempt++
		return assert.AnError
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempt, "a non-retryable error must not be retried")
}

func TestPoolManager_Close(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)

	logger := zap.NewNop()
	config := PoolConfig{
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}

	manager, err := NewPoolManager(gormDB, config, logger)
	require.NoError(t, err)

	mock.ExpectClose()

	err = manager.Close()
	assert.NoError(t, err)
	assert.NoError(t, manager.Close(), "Close must be idempotent")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_HealthCheckLoopRuns(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	logger := zap.NewNop()
	config := PoolConfig{
		MaxOpenConns:        10,
		MaxIdleConns:        5,
		HealthCheckInterval: 50 * time.Millisecond,
	}

	mock.ExpectPing()
	mock.ExpectPing()
	mock.ExpectPing()

	_, err := NewPoolManager(gormDB, config, logger)
	require.NoError(t, err)

	// The health-check loop runs in its own goroutine; give it enough
	// ticks to fire without asserting a strict expectation count.
	time.Sleep(200 * time.Millisecond)
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: PoolConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 1 * time.Hour,
				ConnMaxIdleTime: 30 * time.Minute,
			},
			wantErr: false,
		},
		{
			name: "invalid max open conns",
			config: PoolConfig{
				MaxOpenConns: 0,
				MaxIdleConns: 5,
			},
			wantErr: true,
		},
		{
			name: "invalid max idle conns",
			config: PoolConfig{
				MaxOpenConns: 10,
				MaxIdleConns: 0,
			},
			wantErr: true,
		},
		{
			name: "idle > open",
			config: PoolConfig{
				MaxOpenConns: 5,
				MaxIdleConns: 10,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
