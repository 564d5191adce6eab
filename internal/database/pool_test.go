package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/codexmirror/config"
	"github.com/BaSui01/codexmirror/testutil"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// =============================================================================
// 🧪 Pool 测试
// =============================================================================

func newMockPool(t *testing.T) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	cfg := DefaultPoolConfig()
	cfg.HealthCheckInterval = 0
	pool, err := NewPool(gormDB, "postgres", cfg, zap.NewNop())
	require.NoError(t, err)
	return pool, mock
}

func TestNewPool_Validation(t *testing.T) {
	_, err := NewPool(nil, "sqlite", DefaultPoolConfig(), nil)
	assert.Error(t, err)

	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{name: "valid", config: PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}},
		{name: "zero open", config: PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5}, wantErr: true},
		{name: "zero idle", config: PoolConfig{MaxOpenConns: 10, MaxIdleConns: 0}, wantErr: true},
		{name: "idle above open", config: PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, wantErr: true},
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

func TestPool_Ping(t *testing.T) {
	pool, mock := newMockPool(t)

	mock.ExpectPing()
	assert.NoError(t, pool.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Error(t, pool.Ping(context.Background()))

	mock.ExpectClose()
	require.NoError(t, pool.Close())
	assert.ErrorIs(t, pool.Ping(context.Background()), ErrClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPool_CloseIsIdempotent(t *testing.T) {
	pool, mock := newMockPool(t)

	mock.ExpectClose()
	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPool_Stats(t *testing.T) {
	pool, _ := newMockPool(t)

	stats := pool.Stats()
	assert.Equal(t, DefaultPoolConfig().MaxOpenConns, stats.MaxOpenConnections)
	assert.GreaterOrEqual(t, stats.Idle, 0)
}

func TestPool_WithTransaction(t *testing.T) {
	pool, mock := newMockPool(t)

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, pool.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectRollback()
	err := pool.WithTransaction(context.Background(), func(*gorm.DB) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPool_WithTransactionRetry(t *testing.T) {
	t.Run("retries busy database", func(t *testing.T) {
		pool, mock := newMockPool(t)
		for range 2 {
			mock.ExpectBegin()
			mock.ExpectRollback()
		}
		mock.ExpectBegin()
		mock.ExpectCommit()

		calls := 0
		err := pool.WithTransactionRetry(context.Background(), 3, func(*gorm.DB) error {
			calls++
			if calls < 3 {
				return errors.New("database is locked (5) (SQLITE_BUSY)")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gives up on permanent error", func(t *testing.T) {
		pool, mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		calls := 0
		err := pool.WithTransactionRetry(context.Background(), 3, func(*gorm.DB) error {
			calls++
			return errors.New("unique constraint violated")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("wraps exhausted retries", func(t *testing.T) {
		pool, mock := newMockPool(t)
		for range 2 {
			mock.ExpectBegin()
			mock.ExpectRollback()
		}

		err := pool.WithTransactionRetry(context.Background(), 2, func(*gorm.DB) error {
			return errors.New("deadlock detected")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 2 attempts")
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"), true},
		{errors.New("could not serialize access: SQLSTATE 40001"), true},
		{errors.New("database is locked"), true},
		{errors.New("driver: bad connection"), true},
		{errors.New("syntax error at or near"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryable(tt.err), "%v", tt.err)
	}
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "reports.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", SQLiteDSN("reports.db"))
	assert.Equal(t, "file:r.db?mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", SQLiteDSN("file:r.db?mode=rwc"))

	dsn := PostgresDSN(config.DatabaseConfig{Host: "db", Port: 5432, Name: "mirror", User: "svc", Password: "pw"})
	assert.Equal(t, "host=db port=5432 dbname=mirror sslmode=disable user=svc password=pw", dsn)

	_, err := Dialector(config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	cfg := testutil.SQLiteConfig(t, "pool.db")
	cfg.MaxIdleConns = 50

	pool, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Ping(ctx))
	assert.Equal(t, "sqlite", pool.Driver())
	assert.Equal(t, cfg.MaxOpenConns, pool.Stats().MaxOpenConnections)

	var one int
	require.NoError(t, pool.DB().WithContext(ctx).Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}
