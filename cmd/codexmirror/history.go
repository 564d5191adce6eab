package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/BaSui01/codexmirror/archive"
	"github.com/BaSui01/codexmirror/config"
	"github.com/BaSui01/codexmirror/internal/database"
	"github.com/BaSui01/codexmirror/internal/migration"
	"go.uber.org/zap"
)

// openDatabase 为 history / migrate 打开归档库，不装配网关
func openDatabase(configPath string) (*config.Config, *database.Pool, *zap.Logger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if !cfg.Database.Enabled() {
		return nil, nil, nil, errors.New("report archive is not configured (set database.driver)")
	}
	cfg.Log.OutputPaths = []string{"stderr"}
	logger := initLogger(cfg.Log)

	pool, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, pool, logger, nil
}

// =============================================================================
// 🗃️ history 命令
// =============================================================================

func runHistory(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	limit := fs.Int("limit", archive.DefaultLimit, "Number of reports to list")
	offset := fs.Int("offset", 0, "Skip the newest n reports")
	_ = fs.Parse(args)

	cfg, pool, logger, err := openDatabase(*configPath)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := migrateUp(ctx, pool, logger); err != nil {
			return err
		}
	}
	store := archive.NewStore(pool.DB(), logger)

	if id := fs.Arg(0); id != "" {
		entry, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		renderReport(out, &entry.Report)
		return nil
	}

	page, err := store.List(ctx, archive.Query{Limit: *limit, Offset: *offset})
	if err != nil {
		return err
	}
	renderHistory(out, page)
	return nil
}

// =============================================================================
// 🧱 migrate 命令
// =============================================================================

func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	steps := fs.Int("steps", 1, "Number of migrations to roll back with down")
	_ = fs.Parse(args)

	action := fs.Arg(0)
	if action == "" {
		action = "status"
	}

	_, pool, logger, err := openDatabase(*configPath)
	if err != nil {
		return err
	}
	defer pool.Close()

	dialect, err := migration.ParseDialect(pool.Driver())
	if err != nil {
		return err
	}
	m, err := migration.New(ctx, pool.SQL(), dialect, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	return runMigrationAction(ctx, migration.NewCLI(m, out), action, fs.Arg(1), *steps)
}

// runMigrationAction 执行一个 migrate 子动作
func runMigrationAction(ctx context.Context, cli *migration.CLI, action, arg string, steps int) error {
	switch action {
	case "up":
		return cli.RunUp(ctx)
	case "down":
		return cli.RunDown(ctx, steps)
	case "status":
		return cli.RunStatus(ctx)
	case "force":
		version, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("force needs a version number: %w", err)
		}
		return cli.RunForce(ctx, version)
	default:
		return fmt.Errorf("unknown migrate action %q (want up, down, status or force)", action)
	}
}
