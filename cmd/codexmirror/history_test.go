package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/codexmirror/archive"
	"github.com/BaSui01/codexmirror/council"
	"github.com/BaSui01/codexmirror/internal/database"
	"github.com/BaSui01/codexmirror/internal/migration"
	"github.com/BaSui01/codexmirror/orchestrator"
	"github.com/BaSui01/codexmirror/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeArchiveConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "codexmirror.yaml")
	yaml := fmt.Sprintf("database:\n  driver: sqlite\n  name: %s\n  auto_migrate: false\nlog:\n  level: error\n",
		filepath.Join(dir, "archive.db"))
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestRenderHistory(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		renderHistory(&buf, &archive.Page{Limit: 20})
		assert.Contains(t, buf.String(), "Archived reports (0-0 of 0)")
		assert.Contains(t, buf.String(), "No reports archived yet.")
	})

	t.Run("items", func(t *testing.T) {
		page := &archive.Page{
			Items: []archive.Summary{
				{InvocationID: "inv-2", Task: strings.Repeat("x", 120), Agents: 3, Degraded: 1, PrePhase: true},
				{InvocationID: "inv-1", Task: "check   the\nlogs", Agents: 3},
			},
			Total:  7,
			Limit:  2,
			Offset: 2,
		}
		var buf bytes.Buffer
		renderHistory(&buf, page)
		out := buf.String()

		assert.Contains(t, out, "Archived reports (3-4 of 7)")
		assert.Contains(t, out, "inv-2  2/3 agents  pre-phase")
		assert.Contains(t, out, "inv-1  3/3 agents\n")
		assert.Contains(t, out, "check the logs")
		assert.Contains(t, out, strings.Repeat("x", 95)+"…")
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b", truncate(" a\t b ", 10))
	assert.Equal(t, "héll…", truncate("héllo world", 5))
}

func TestRunMigrationAction_Errors(t *testing.T) {
	cli := migration.NewCLI(nil, io.Discard)
	ctx := testutil.TestContext(t)

	assert.ErrorContains(t, runMigrationAction(ctx, cli, "sideways", "", 1), "unknown migrate action")
	assert.ErrorContains(t, runMigrationAction(ctx, cli, "force", "two", 1), "force needs a version number")
}

func TestOpenDatabase_NotConfigured(t *testing.T) {
	_, _, _, err := openDatabase("")
	assert.ErrorContains(t, err, "not configured")
}

func TestMigrateAndHistory_SQLite(t *testing.T) {
	ctx := testutil.TestContextWithTimeout(t, 30*time.Second)
	path := writeArchiveConfig(t)

	var out bytes.Buffer
	require.NoError(t, runMigrate(ctx, []string{"-config", path}, &out))
	assert.Regexp(t, `000001\s+create_council_reports\s+pending`, out.String())

	out.Reset()
	require.NoError(t, runMigrate(ctx, []string{"-config", path, "up"}, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, runHistory(ctx, []string{"-config", path}, &out))
	assert.Contains(t, out.String(), "No reports archived yet.")

	// 直接写入一份报告
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	pool, err := database.Open(cfg.Database, zap.NewNop())
	require.NoError(t, err)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	report := &orchestrator.Report{
		InvocationID: "inv-cli",
		Task:         "assess the rollout",
		Outcomes: []council.Outcome{
			{Agent: council.Agent{Name: "strategist"}, Verdict: &council.Verdict{CoreAnalysis: "tight", ConfidenceScore: 0.5}},
		},
		Synthesis:  "Proceed.",
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
	}
	require.NoError(t, archive.NewStore(pool.DB(), zap.NewNop()).Archive(ctx, report))
	require.NoError(t, pool.Close())

	out.Reset()
	require.NoError(t, runHistory(ctx, []string{"-config", path}, &out))
	assert.Contains(t, out.String(), "Archived reports (1-1 of 1)")
	assert.Contains(t, out.String(), "inv-cli  1/1 agents")

	out.Reset()
	require.NoError(t, runHistory(ctx, []string{"-config", path, "inv-cli"}, &out))
	assert.Contains(t, out.String(), "Council report inv-cli")
	assert.Contains(t, out.String(), "Proceed.")

	assert.Error(t, runHistory(ctx, []string{"-config", path, "missing"}, io.Discard))

	out.Reset()
	require.NoError(t, runMigrate(ctx, []string{"-config", path, "-steps", "2", "down"}, &out))
	assert.Contains(t, out.String(), "Current version: 0")
}
