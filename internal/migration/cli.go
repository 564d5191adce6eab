package migration

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
)

// Runner 是 CLI 依赖的迁移操作
type Runner interface {
	Up(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Force(ctx context.Context, version int) error
	Status(ctx context.Context) ([]Status, error)
	Info(ctx context.Context) (*Info, error)
}

// CLI 把迁移操作格式化输出到终端
type CLI struct {
	runner Runner
	out    io.Writer
}

// NewCLI 创建 CLI
func NewCLI(r Runner, out io.Writer) *CLI {
	return &CLI{runner: r, out: out}
}

// RunUp 应用全部待执行迁移
func (c *CLI) RunUp(ctx context.Context) error {
	fmt.Fprintln(c.out, "Running migrations...")
	if err := c.runner.Up(ctx); err != nil {
		return err
	}
	return c.printVersion(ctx, "Migrations complete.")
}

// RunDown 回滚 n 个迁移
func (c *CLI) RunDown(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("rollback count must be positive, got %d", n)
	}
	fmt.Fprintf(c.out, "Rolling back %d migration(s)...\n", n)
	if err := c.runner.Steps(ctx, -n); err != nil {
		return err
	}
	return c.printVersion(ctx, "Rollback complete.")
}

// RunForce 强制设置版本
func (c *CLI) RunForce(ctx context.Context, version int) error {
	if err := c.runner.Force(ctx, version); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Version forced to %d\n", version)
	return nil
}

// RunStatus 打印每个迁移的状态和汇总
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.runner.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, s := range statuses {
		status := "pending"
		switch {
		case s.Dirty:
			status = "dirty"
		case s.Applied:
			status = "applied"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, status)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	info, err := c.runner.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\nTotal: %d, Applied: %d, Pending: %d\n", info.Total, info.Applied, info.Pending)
	return nil
}

func (c *CLI) printVersion(ctx context.Context, prefix string) error {
	info, err := c.runner.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s Current version: %d\n", prefix, info.CurrentVersion)
	return nil
}
