// Package cache provides a small key/value cache backed by Redis, or by
// process memory when Redis is not configured.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/codexmirror/internal/tlsutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 缓存管理器
// =============================================================================

// ErrCacheMiss 缓存未命中错误
var ErrCacheMiss = errors.New("cache miss")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("cache manager is closed")

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Config 缓存配置。Addr 为空时使用进程内缓存。
type Config struct {
	Addr                string        `yaml:"addr" json:"addr" env:"ADDR"`
	Password            string        `yaml:"password" json:"-" env:"PASSWORD"`
	DB                  int           `yaml:"db" json:"db" env:"DB"`
	KeyPrefix           string        `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`
	DefaultTTL          time.Duration `yaml:"default_ttl" json:"default_ttl" env:"DEFAULT_TTL"`
	MaxRetries          int           `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`
	PoolSize            int           `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	// 使用 TLS 连接 Redis
	TLS bool `yaml:"tls" json:"tls" env:"TLS"`
}

// DefaultConfig 返回默认缓存配置（进程内）
func DefaultConfig() Config {
	return Config{
		KeyPrefix:           "codexmirror:",
		DefaultTTL:          5 * time.Minute,
		MaxRetries:          3,
		PoolSize:            10,
		HealthCheckInterval: 30 * time.Second,
	}
}

type backend interface {
	get(ctx context.Context, key string) (string, error)
	set(ctx context.Context, key, value string, ttl time.Duration) error
	del(ctx context.Context, keys ...string) error
	ping(ctx context.Context) error
	close() error
}

// Manager 缓存管理器
type Manager struct {
	backend backend
	kind    string
	config  Config
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// NewManager connects to Redis and fails if it is unreachable.
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: config.MaxRetries,
		PoolSize:   config.PoolSize,
	}
	if config.TLS {
		opts.TLSConfig = tlsutil.ClientConfig()
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := newManager(&redisBackend{client: client}, "redis", config, logger)
	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}
	m.logger.Info("cache manager initialized", zap.String("addr", config.Addr))
	return m, nil
}

// NewMemory returns a process-local Manager.
func NewMemory(config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newManager(newMemoryBackend(time.Now), "memory", config, logger)
}

// Open uses Redis when configured and reachable, and process memory
// otherwise.
func Open(config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Addr == "" {
		return NewMemory(config, logger)
	}
	m, err := NewManager(config, logger)
	if err != nil {
		logger.Warn("redis unavailable, falling back to memory cache", zap.String("addr", config.Addr), zap.Error(err))
		return NewMemory(config, logger)
	}
	return m
}

func newManager(b backend, kind string, config Config, logger *zap.Logger) *Manager {
	return &Manager{
		backend: b,
		kind:    kind,
		config:  config,
		logger:  logger.With(zap.String("component", "cache"), zap.String("backend", kind)),
		stop:    make(chan struct{}),
	}
}

// Backend names the storage in use: "redis" or "memory".
func (m *Manager) Backend() string { return m.kind }

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Get 获取缓存值
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", ErrClosed
	}

	val, err := m.backend.get(ctx, m.config.KeyPrefix+key)
	if err != nil && !IsCacheMiss(err) {
		m.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("cache get failed: %w", err)
	}
	return val, err
}

// Set 设置缓存值，ttl 为 0 时使用默认过期时间
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}

	if err := m.backend.set(ctx, m.config.KeyPrefix+key, value, ttl); err != nil {
		m.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// GetJSON 获取 JSON 缓存值
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// SetJSON 设置 JSON 缓存值
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return m.Set(ctx, key, string(data), ttl)
}

// Delete 删除缓存值
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = m.config.KeyPrefix + k
	}
	if err := m.backend.del(ctx, prefixed...); err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// Ping 检查后端连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return m.backend.ping(ctx)
}

// Close 关闭缓存管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stop)
	m.logger.Info("closing cache manager")
	return m.backend.close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Ping(ctx); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Error("cache health check failed", zap.Error(err))
		}
		cancel()
	}
}

// =============================================================================
// 🔌 后端实现
// =============================================================================

type redisBackend struct {
	client *redis.Client
}

func (r *redisBackend) get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

func (r *redisBackend) set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisBackend) del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *redisBackend) ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }
func (r *redisBackend) close() error                   { return r.client.Close() }

type memoryEntry struct {
	value   string
	expires time.Time
}

type memoryBackend struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

func newMemoryBackend(now func() time.Time) *memoryBackend {
	return &memoryBackend{now: now, entries: make(map[string]memoryEntry)}
}

func (b *memoryBackend) get(_ context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return "", ErrCacheMiss
	}
	if !e.expires.IsZero() && !b.now().Before(e.expires) {
		delete(b.entries, key)
		return "", ErrCacheMiss
	}
	return e.value, nil
}

func (b *memoryBackend) set(_ context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = b.now().Add(ttl)
	}
	b.entries[key] = e
	return nil
}

func (b *memoryBackend) del(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.entries, k)
	}
	return nil
}

func (b *memoryBackend) ping(context.Context) error { return nil }
func (b *memoryBackend) close() error               { return nil }
