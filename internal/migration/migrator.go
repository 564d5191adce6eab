package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// TableName 版本表名
const TableName = "schema_migrations"

// Dialect 数据库方言
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect 解析驱动名
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database dialect %q", driver)
	}
}

func (d Dialect) dir() string { return "migrations/" + string(d) }

// Status 单个迁移的状态
type Status struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Dirty   bool   `json:"dirty"`
}

// Info 迁移摘要
type Info struct {
	CurrentVersion uint `json:"current_version"`
	Dirty          bool `json:"dirty"`
	Total          int  `json:"total"`
	Applied        int  `json:"applied"`
	Pending        int  `json:"pending"`
}

// =============================================================================
// 🧱 Migrator
// =============================================================================

// Migrator 在已打开的 sql.DB 上执行内嵌迁移。它不拥有该连接池。
type Migrator struct {
	dialect Dialect
	migrate *migrate.Migrate
	source  source.Driver
	driver  database.Driver
	logger  *zap.Logger
}

// New 创建迁移器。postgres 使用独立连接，sqlite 直接复用 db。
func New(ctx context.Context, db *sql.DB, dialect Dialect, logger *zap.Logger) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	src, err := iofs.New(migrationsFS, dialect.dir())
	if err != nil {
		return nil, fmt.Errorf("load %s migrations: %w", dialect, err)
	}

	var drv database.Driver
	switch dialect {
	case DialectSQLite:
		drv, err = sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: TableName})
	case DialectPostgres:
		var conn *sql.Conn
		conn, err = db.Conn(ctx)
		if err == nil {
			drv, err = postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: TableName})
			if err != nil {
				_ = conn.Close()
			}
		}
	default:
		err = fmt.Errorf("unsupported database dialect %q", dialect)
	}
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("create %s migration driver: %w", dialect, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(dialect), drv)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	named := logger.With(zap.String("component", "migration"), zap.String("dialect", string(dialect)))
	m.Log = migrateLogger{named.Sugar()}

	return &Migrator{
		dialect: dialect,
		migrate: m,
		source:  src,
		driver:  drv,
		logger:  named,
	}, nil
}

// Up 应用全部待执行迁移
func (m *Migrator) Up(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	v, _, _ := m.Version(ctx)
	m.logger.Info("migrations applied", zap.Uint("version", v))
	return nil
}

// Down 回滚最近一个迁移
func (m *Migrator) Down(ctx context.Context) error {
	return m.Steps(ctx, -1)
}

// Steps 正数前进、负数回滚 n 步
func (m *Migrator) Steps(ctx context.Context, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.migrate.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration steps(%d) failed: %w", n, err)
	}
	return nil
}

// Force 强制设置版本，用于修复 dirty 状态
func (m *Migrator) Force(ctx context.Context, version int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

// Version 当前版本；尚未迁移时返回 0
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}

// Status 列出内嵌迁移及其应用状态
func (m *Migrator) Status(ctx context.Context) ([]Status, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := available(m.dialect)
	if err != nil {
		return nil, err
	}
	out := make([]Status, len(files))
	for i, f := range files {
		out[i] = Status{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		}
	}
	return out, nil
}

// Info 返回迁移摘要
func (m *Migrator) Info(ctx context.Context) (*Info, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	info := &Info{CurrentVersion: current, Dirty: dirty, Total: len(statuses)}
	for _, s := range statuses {
		if s.Applied {
			info.Applied++
		}
	}
	info.Pending = info.Total - info.Applied
	return info, nil
}

// Close 释放迁移源。sqlite 驱动与调用方共享 db，不能关闭。
func (m *Migrator) Close() error {
	err := m.source.Close()
	if m.dialect == DialectPostgres {
		err = errors.Join(err, m.driver.Close())
	}
	return err
}

// =============================================================================
// 📂 内嵌迁移文件
// =============================================================================

type migrationFile struct {
	version uint
	name    string
}

// available 解析 <version>_<name>.up.sql 文件名
func available(d Dialect) ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrationsFS, d.dir())
	if err != nil {
		return nil, err
	}
	var files []migrationFile
	for _, e := range entries {
		name := path.Base(e.Name())
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		versionPart, rest, ok := strings.Cut(strings.TrimSuffix(name, ".up.sql"), "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(versionPart, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, migrationFile{version: uint(v), name: rest})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// migrateLogger 把 golang-migrate 的日志转到 zap
type migrateLogger struct {
	s *zap.SugaredLogger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.s.Debugf(strings.TrimSpace(format), v...)
}

func (l migrateLogger) Verbose() bool { return false }
