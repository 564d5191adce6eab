package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BaSui01/codexmirror/media"
	"github.com/BaSui01/codexmirror/orchestrator"
	"github.com/BaSui01/codexmirror/tactical"
	"github.com/BaSui01/codexmirror/types"
	"go.uber.org/zap"
)

// gateWatchInterval CLI 轮询 gate 进度的间隔
const gateWatchInterval = 250 * time.Millisecond

// =============================================================================
// 🧰 CLI 公共装配
// =============================================================================

// cliApp 为一次性命令加载配置并装配组件。日志统一写到 stderr，stdout 只留给报告。
func cliApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Log.OutputPaths = []string{"stderr"}
	logger := initLogger(cfg.Log)

	gw, err := newGateway(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, gw, logger)
}

// readAsset 读取要附带的文件；path 为空时返回 nil
func readAsset(path string) (*types.Asset, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	asset := types.NewAsset(filepath.Base(path), raw, "")
	if err := asset.Validate(); err != nil {
		return nil, err
	}
	return asset, nil
}

// writeArtifact 把生成的字节写入 path
func writeArtifact(art *media.Artifact, path string) error {
	if path == "" {
		return nil
	}
	if art.Size() == 0 {
		return errors.New("artifact has no payload to save")
	}
	if err := os.WriteFile(path, art.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// promptArg 把剩余参数拼成一句话
func promptArg(fs *flag.FlagSet, what string) (string, error) {
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return "", fmt.Errorf("missing %s", what)
	}
	return text, nil
}

// =============================================================================
// 🏛️ run 命令
// =============================================================================

func runDispatch(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	web := fs.Bool("web", false, "Ground answers in web search")
	geo := fs.Bool("geo", false, "Ground answers in map data")
	deep := fs.Bool("deep", false, "Use the deep reasoning tier")
	prePhase := fs.Bool("prephase", false, "Hold the dispatch behind the pre-phase gate")
	file := fs.String("file", "", "File to attach to the task")
	_ = fs.Parse(args)

	// 任务为空时分析附件或当前系统指标
	task := strings.Join(fs.Args(), " ")
	asset, err := readAsset(*file)
	if err != nil {
		return err
	}

	a, err := cliApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	a.orchestrator.SetPrePhase(*prePhase)
	if *prePhase {
		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		go watchGate(watchCtx, a.orchestrator, out)
	}

	report, err := a.orchestrator.Dispatch(ctx, orchestrator.Request{
		Task:  task,
		Asset: asset,
		Modes: tactical.Modes{WebContext: *web, GeoContext: *geo, DeepReasoning: *deep},
	})
	if err != nil {
		return err
	}

	renderReport(out, report)
	return nil
}

// stateSource 供 watchGate 读取状态
type stateSource interface {
	State() orchestrator.State
}

// watchGate 在 gate 消息变化时打印一行进度
func watchGate(ctx context.Context, src stateSource, out io.Writer) {
	ticker := time.NewTicker(gateWatchInterval)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := src.State()
			if st.Gate == nil || st.Gate.Message == "" || st.Gate.Message == last {
				continue
			}
			last = st.Gate.Message
			printStatus(out, "◆", fmt.Sprintf("[%d/%d] %s", st.Gate.Stage+1, st.Gate.Stages, last), dimColor)
		}
	}
}

// =============================================================================
// 🎬 image / video 命令
// =============================================================================

func runImage(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("image", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	outPath := fs.String("out", "", "Write the image to this file")
	_ = fs.Parse(args)

	prompt, err := promptArg(fs, "prompt")
	if err != nil {
		return err
	}

	a, err := cliApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	art, err := a.orchestrator.GenerateImage(ctx, prompt)
	if err != nil {
		return err
	}
	if err := writeArtifact(art, *outPath); err != nil {
		return err
	}
	renderArtifact(out, art, *outPath)
	return nil
}

func runVideo(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("video", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	outPath := fs.String("out", "", "Write the video to this file")
	seedPath := fs.String("seed", "", "Seed image for the first frame")
	_ = fs.Parse(args)

	prompt, err := promptArg(fs, "prompt")
	if err != nil {
		return err
	}
	seed, err := readAsset(*seedPath)
	if err != nil {
		return err
	}

	a, err := cliApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	progress := func(msg string) {
		printStatus(out, "…", msg, dimColor)
	}
	art, err := a.orchestrator.GenerateVideo(ctx, prompt, seed, progress)
	if err != nil {
		return err
	}
	if err := writeArtifact(art, *outPath); err != nil {
		return err
	}
	renderArtifact(out, art, *outPath)
	return nil
}

// =============================================================================
// 📰 brief 命令
// =============================================================================

func runBrief(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("brief", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	refresh := fs.Bool("refresh", false, "Ignore the cached briefing")
	_ = fs.Parse(args)

	a, err := cliApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if *refresh {
		if err := a.briefer.Invalidate(ctx); err != nil {
			a.logger.Warn("invalidate briefing cache", zap.Error(err))
		}
	}

	renderBriefing(out, a.briefer.Brief(ctx))
	return nil
}
