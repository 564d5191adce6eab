// =============================================================================
// codexmirror 主入口
// =============================================================================
// HTTP 服务与命令行工具共用一套组件装配
//
// 使用方法:
//
//	codexmirror serve                          # 启动服务
//	codexmirror serve -config config.yaml      # 指定配置文件
//	codexmirror run -web -deep "<task>"        # 调度一次 council
//	codexmirror image -out shot.png "<prompt>" # 生成图像
//	codexmirror video -out clip.mp4 "<prompt>" # 生成视频
//	codexmirror brief                          # 系统简报
//	codexmirror history                        # 归档报告
//	codexmirror migrate up                     # 归档表迁移
//	codexmirror health                         # 健康检查
//	codexmirror version                        # 显示版本信息
// =============================================================================

// @title codexmirror API
// @version 1.0.0
// @description Multi-agent advisory council: fan a task out to a roster of
// @description specialist agents, synthesize their verdicts and generate media.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BaSui01/codexmirror/config"
	"github.com/BaSui01/codexmirror/internal/telemetry"
	"github.com/BaSui01/codexmirror/internal/tlsutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "run":
		err = runDispatch(ctx, os.Args[2:], os.Stdout)
	case "image":
		err = runImage(ctx, os.Args[2:], os.Stdout)
	case "video":
		err = runVideo(ctx, os.Args[2:], os.Stdout)
	case "brief":
		err = runBrief(ctx, os.Args[2:], os.Stdout)
	case "history":
		err = runHistory(ctx, os.Args[2:], os.Stdout)
	case "migrate":
		err = runMigrate(ctx, os.Args[2:], os.Stdout)
	case "health":
		err = runHealthCheck(ctx, os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting codexmirror",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	gw, err := newGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, gw, logger)
	if err != nil {
		return err
	}

	if err := NewServer(a, providers).Run(ctx); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}

	logger.Info("codexmirror stopped")
	return nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	_ = fs.Parse(args)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(*addr, "/")+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := tlsutil.HTTPClient(5 * time.Second).Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	fmt.Println("OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("codexmirror %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`codexmirror - multi-agent advisory council

Usage:
  codexmirror <command> [options] [arguments]

Commands:
  serve     Start the HTTP server
  run       Dispatch a task to the council and print the report
  image     Generate an image from a prompt
  video     Generate a video from a prompt
  brief     Print the proactive system briefing
  history   List archived council reports, or show one by id
  migrate   Manage the report archive schema (up, down, status, force)
  health    Check server health
  version   Show version information
  help      Show this help message

Common options:
  -config <path>    Path to configuration file (YAML)

Options for 'run':
  -web              Ground answers in web search
  -geo              Ground answers in map data
  -deep             Use the deep reasoning tier
  -prephase         Hold the dispatch behind the pre-phase gate
  -file <path>      Attach a file to the task

Options for 'history':
  -limit <n>        Number of reports to list (default 20)
  -offset <n>       Skip the newest n reports

Options for 'migrate':
  -steps <n>        Number of migrations to roll back with 'down' (default 1)

Options for 'image' and 'video':
  -out <path>       Write the generated bytes to a file
  -seed <path>      Seed image for 'video'

Examples:
  codexmirror serve -config /etc/codexmirror/config.yaml
  codexmirror run -web "Assess the Q3 supply chain risk"
  codexmirror video -seed frame.png -out clip.mp4 "Slow pan across the skyline"
  codexmirror migrate -config config.yaml status
  codexmirror history -limit 5
  codexmirror health -addr http://localhost:8080`)
}

// =============================================================================
// 🔧 配置与日志
// =============================================================================

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
