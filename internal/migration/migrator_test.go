package migration

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/BaSui01/codexmirror/internal/database"
	"github.com/BaSui01/codexmirror/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openSQLite(t *testing.T) *database.Pool {
	t.Helper()
	pool, err := database.Open(testutil.SQLiteConfig(t, "migrate.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func newSQLiteMigrator(t *testing.T) (*Migrator, *database.Pool) {
	t.Helper()
	pool := openSQLite(t)
	m, err := New(context.Background(), pool.SQL(), DialectSQLite, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, pool
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{in: "sqlite", want: DialectSQLite},
		{in: "SQLite3", want: DialectSQLite},
		{in: "postgres", want: DialectPostgres},
		{in: " postgresql ", want: DialectPostgres},
		{in: "mysql", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDialect(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAvailable_SortedAndPaired(t *testing.T) {
	for _, d := range []Dialect{DialectSQLite, DialectPostgres} {
		files, err := available(d)
		require.NoError(t, err)
		require.Len(t, files, 2, d)
		assert.Equal(t, uint(1), files[0].version)
		assert.Equal(t, "create_council_reports", files[0].name)
		assert.Equal(t, uint(2), files[1].version)

		for _, f := range files {
			down := fmt.Sprintf("%s/%06d_%s.down.sql", d.dir(), f.version, f.name)
			_, err := migrationsFS.ReadFile(down)
			assert.NoError(t, err, "missing %s", down)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), nil, DialectSQLite, nil)
	assert.Error(t, err)

	pool := openSQLite(t)
	_, err = New(context.Background(), pool.SQL(), Dialect("mysql"), nil)
	assert.Error(t, err)
}

func TestMigrator_SQLiteLifecycle(t *testing.T) {
	m, pool := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx), "second up is a no-op")

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Info{CurrentVersion: 2, Total: 2, Applied: 2}, info)
	assert.True(t, pool.DB().Migrator().HasTable("council_reports"))

	require.NoError(t, m.Down(ctx))
	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[1].Applied)

	require.NoError(t, m.Steps(ctx, -1))
	assert.False(t, pool.DB().Migrator().HasTable("council_reports"))

	// 迁移器关闭后共享的连接池仍可用
	require.NoError(t, m.Close())
	assert.NoError(t, pool.Ping(ctx))
}

func TestMigrator_CancelledContext(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Up(ctx), context.Canceled)
	assert.ErrorIs(t, m.Steps(ctx, 1), context.Canceled)
}

func TestCLI(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	ctx := context.Background()
	var out bytes.Buffer
	cli := NewCLI(m, &out)

	require.NoError(t, cli.RunStatus(ctx))
	assert.Regexp(t, `000001\s+create_council_reports\s+pending`, out.String())
	assert.Contains(t, out.String(), "Total: 2, Applied: 0, Pending: 2")

	out.Reset()
	require.NoError(t, cli.RunUp(ctx))
	assert.Contains(t, out.String(), "Migrations complete. Current version: 2")

	out.Reset()
	require.NoError(t, cli.RunDown(ctx, 1))
	assert.Contains(t, out.String(), "Rollback complete. Current version: 1")

	assert.Error(t, cli.RunDown(ctx, 0))

	out.Reset()
	require.NoError(t, cli.RunForce(ctx, 2))
	assert.Contains(t, out.String(), "Version forced to 2")
}
