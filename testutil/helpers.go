package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/codexmirror/config"
)

// =============================================================================
// 🎯 上下文
// =============================================================================

// TestContext 返回 30s 超时的上下文，测试结束时取消
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 同 TestContext，超时自定
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// ⏱️ 异步等待
// =============================================================================

// pollStep 轮询条件的间隔
const pollStep = 5 * time.Millisecond

// AssertEventuallyTrue 在 timeout 内条件未成立则标记失败
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// WaitFor 轮询 condition 直到成立或超时，返回最后一次结果
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(pollStep)
	}
	return condition()
}

// WaitForChannel 从 ch 取一个值；超时返回零值与 false
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// =============================================================================
// 🗃️ 归档库
// =============================================================================

// SQLiteConfig 返回指向临时目录中 name 文件的 sqlite 归档配置。
// 文件随 t.TempDir 一起清理；迁移是否自动执行由调用方决定。
func SQLiteConfig(t *testing.T, name string) config.DatabaseConfig {
	t.Helper()
	cfg := config.DefaultDatabaseConfig()
	cfg.Driver = "sqlite"
	cfg.Name = filepath.Join(t.TempDir(), name)
	return cfg
}
