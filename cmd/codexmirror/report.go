package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BaSui01/codexmirror/archive"
	"github.com/BaSui01/codexmirror/council"
	"github.com/BaSui01/codexmirror/media"
	"github.com/BaSui01/codexmirror/orchestrator"
	"github.com/fatih/color"
)

// =============================================================================
// 🎨 终端渲染
// =============================================================================

var (
	headerColor   = color.New(color.FgCyan, color.Bold)
	agentColor    = color.New(color.Bold)
	okColor       = color.New(color.FgGreen)
	warnColor     = color.New(color.FgYellow)
	degradedColor = color.New(color.FgRed)
	dimColor      = color.New(color.Faint)
)

// printStatus 输出一行带符号的状态
func printStatus(w io.Writer, symbol, msg string, c *color.Color) {
	c.Fprintf(w, "%s ", symbol)
	fmt.Fprintln(w, msg)
}

// confidenceColor 按置信度选择颜色
func confidenceColor(score float64) *color.Color {
	switch {
	case score >= 0.75:
		return okColor
	case score >= 0.4:
		return warnColor
	default:
		return degradedColor
	}
}

// renderReport 输出一次调度的完整报告：各 agent 结论在前，合成决策在后
func renderReport(w io.Writer, r *orchestrator.Report) {
	headerColor.Fprintf(w, "Council report %s\n", r.InvocationID)
	dimColor.Fprintf(w, "Task: %s\n", r.Task)
	if r.PrePhase {
		dimColor.Fprintln(w, "Pre-phase gate: passed")
	}
	fmt.Fprintln(w)

	for _, o := range r.Outcomes {
		renderOutcome(w, o)
	}

	if r.Degraded > 0 {
		printStatus(w, "!", fmt.Sprintf("%d of %d agents degraded", r.Degraded, len(r.Outcomes)), degradedColor)
		fmt.Fprintln(w)
	}

	headerColor.Fprintln(w, "Synthesis")
	fmt.Fprintln(w, strings.TrimSpace(r.Synthesis))
	dimColor.Fprintf(w, "\nCompleted in %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}

func renderOutcome(w io.Writer, o council.Outcome) {
	label := o.Agent.Label
	if label == "" {
		label = o.Agent.Name
	}
	if o.Agent.Icon != "" {
		label = o.Agent.Icon + " " + label
	}

	if !o.OK() {
		agentColor.Fprint(w, label)
		degradedColor.Fprintln(w, "  [degraded]")
		if o.Error != nil {
			degradedColor.Fprintf(w, "  %s\n\n", o.Error.Diagnostic)
		}
		return
	}

	score := o.Confidence()
	agentColor.Fprint(w, label)
	confidenceColor(score).Fprintf(w, "  confidence %.0f%%\n", score*100)
	fmt.Fprintf(w, "  %s\n", strings.TrimSpace(o.Verdict.CoreAnalysis))
	okColor.Fprint(w, "  → ")
	fmt.Fprintf(w, "%s\n\n", strings.TrimSpace(o.Verdict.KeyRecommendation))
}

// renderBriefing 输出系统简报
func renderBriefing(w io.Writer, b orchestrator.Briefing) {
	headerColor.Fprintln(w, "System briefing")
	if b.Fallback {
		warnColor.Fprintln(w, "(analysis unavailable, showing fallback)")
	}
	fmt.Fprintln(w, b.Overview)
	fmt.Fprintln(w)
	agentColor.Fprint(w, "Key insight: ")
	fmt.Fprintln(w, b.KeyInsight)

	if len(b.SuggestedActions) > 0 {
		fmt.Fprintln(w)
		agentColor.Fprintln(w, "Suggested actions:")
		for i, action := range b.SuggestedActions {
			fmt.Fprintf(w, "  %d. %s\n", i+1, action)
		}
	}
}

// renderArtifact 输出生成结果摘要；path 为空表示未写入文件
func renderArtifact(w io.Writer, art *media.Artifact, path string) {
	printStatus(w, "✓", fmt.Sprintf("%s generated (%s, %d bytes)", art.Kind, art.MIMEType, art.Size()), okColor)
	dimColor.Fprintf(w, "  id: %s\n", art.ID)
	if path != "" {
		fmt.Fprintf(w, "  saved to %s\n", path)
	}
}

// renderHistory 输出一页归档摘要，最新的在前
func renderHistory(w io.Writer, page *archive.Page) {
	headerColor.Fprintf(w, "Archived reports (%d-%d of %d)\n",
		min(int64(page.Offset+1), page.Total), int64(page.Offset)+int64(len(page.Items)), page.Total)
	if len(page.Items) == 0 {
		dimColor.Fprintln(w, "No reports archived yet.")
		return
	}
	for _, item := range page.Items {
		c := okColor
		if item.Degraded > 0 {
			c = warnColor
		}
		c.Fprintf(w, "%s  ", item.FinishedAt.Local().Format(time.DateTime))
		agentColor.Fprint(w, item.InvocationID)
		fmt.Fprintf(w, "  %d/%d agents", item.Agents-item.Degraded, item.Agents)
		if item.PrePhase {
			dimColor.Fprint(w, "  pre-phase")
		}
		fmt.Fprintf(w, "\n  %s\n", truncate(item.Task, 96))
	}
}

// truncate 按 rune 截断并追加省略号
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
