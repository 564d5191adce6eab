package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/codexmirror/config"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrClosed 连接池已关闭
var ErrClosed = errors.New("database pool is closed")

// =============================================================================
// 🗄️ 连接池
// =============================================================================

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns        int
	MaxOpenConns        int
	ConnMaxLifetime     time.Duration
	ConnMaxIdleTime     time.Duration
	HealthCheckInterval time.Duration
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        5,
		MaxOpenConns:        10,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: time.Minute,
	}
}

// Validate 检查连接数设置
func (c PoolConfig) Validate() error {
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive, got %d", c.MaxOpenConns)
	}
	if c.MaxIdleConns <= 0 {
		return fmt.Errorf("max_idle_conns must be positive, got %d", c.MaxIdleConns)
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns (%d) exceeds max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// Pool 持有 GORM 实例与底层 sql.DB
type Pool struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	driver string
	config PoolConfig
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// Open 按配置拨号并返回连接池
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	pc := DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		pc.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		pc.MaxIdleConns = min(cfg.MaxIdleConns, pc.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.ConnMaxLifetime = cfg.ConnMaxLifetime
	}

	pool, err := NewPool(db, cfg.Driver, pc, logger)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return pool, nil
}

// Dialector 为支持的驱动构造 GORM dialector
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(SQLiteDSN(cfg.Name)), nil
	case "postgres":
		return postgres.Open(PostgresDSN(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// SQLiteDSN 为文件路径追加 busy_timeout 与 WAL 设置
func SQLiteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// PostgresDSN 拼接 key=value 形式的连接串
func PostgresDSN(cfg config.DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts := []string{
		"host=" + cfg.Host,
		fmt.Sprintf("port=%d", cfg.Port),
		"dbname=" + cfg.Name,
		"sslmode=" + sslMode,
	}
	if cfg.User != "" {
		parts = append(parts, "user="+cfg.User)
	}
	if cfg.Password != "" {
		parts = append(parts, "password="+cfg.Password)
	}
	return strings.Join(parts, " ")
}

// NewPool 包装已打开的 GORM 实例并应用连接池设置
func NewPool(db *gorm.DB, driver string, config PoolConfig, logger *zap.Logger) (*Pool, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	p := &Pool{
		db:     db,
		sqlDB:  sqlDB,
		driver: driver,
		config: config,
		logger: logger.With(zap.String("component", "db_pool"), zap.String("driver", driver)),
		stop:   make(chan struct{}),
	}
	if config.HealthCheckInterval > 0 {
		go p.healthCheckLoop()
	}

	p.logger.Info("database pool initialized",
		zap.Int("max_idle_conns", config.MaxIdleConns),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Duration("conn_max_lifetime", config.ConnMaxLifetime),
	)
	return p, nil
}

// DB 返回 GORM 实例
func (p *Pool) DB() *gorm.DB { return p.db }

// SQL 返回底层 sql.DB，迁移器直接使用它
func (p *Pool) SQL() *sql.DB { return p.sqlDB }

// Driver 返回驱动名
func (p *Pool) Driver() string { return p.driver }

// Ping 检查数据库连接
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return p.sqlDB.PingContext(ctx)
}

// Close 停止健康检查并关闭连接
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.stop)
	p.logger.Info("closing database pool")
	return p.sqlDB.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (p *Pool) healthCheckLoop() {
	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := p.Ping(ctx)
		cancel()
		switch {
		case errors.Is(err, ErrClosed):
			return
		case err != nil:
			p.logger.Error("database health check failed", zap.Error(err))
		default:
			stats := p.Stats()
			p.logger.Debug("database health check passed",
				zap.Int("open_connections", stats.OpenConnections),
				zap.Int("in_use", stats.InUse),
				zap.Int("idle", stats.Idle),
			)
		}
	}
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// PoolStats 连接池统计信息
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// Stats 返回连接池统计
func (p *Pool) Stats() PoolStats {
	s := p.sqlDB.Stats()
	return PoolStats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
	}
}

// =============================================================================
// 🔄 事务
// =============================================================================

// TxFunc 事务回调
type TxFunc func(tx *gorm.DB) error

// WithTransaction 在单个事务中执行 fn，fn 返回错误时回滚
func (p *Pool) WithTransaction(ctx context.Context, fn TxFunc) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return p.db.WithContext(ctx).Transaction(fn)
}

// WithTransactionRetry 在可重试错误（锁冲突、连接中断）上以指数退避重试事务
func (p *Pool) WithTransactionRetry(ctx context.Context, maxAttempts int, fn TxFunc) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := range maxAttempts {
		err := p.WithTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == maxAttempts-1 {
			break
		}

		p.logger.Warn("transaction failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)
		backoff := time.Duration(1<<uint(attempt)) * 50 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	if !IsRetryable(lastErr) {
		return lastErr
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxAttempts, lastErr)
}

// retryableMarkers 可重试错误的特征文本（PostgreSQL 与 SQLite）
var retryableMarkers = []string{
	"deadlock",
	"serialization failure",
	"40001",
	"database is locked",
	"sqlite_busy",
	"connection reset",
	"connection refused",
	"broken pipe",
	"bad connection",
	"lock timeout",
}

// IsRetryable 判断事务错误是否值得重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
