/*
Package testutil 提供 codexmirror 测试的共享工具和辅助函数。

# 核心能力

  - TestContext / TestContextWithTimeout / CancelledContext：测试结束即取消
  - AssertEventuallyTrue / WaitFor / WaitForChannel：等待 goroutine 侧的变化
  - SQLiteConfig：临时文件上的归档库配置

# 子包

  - testutil/mocks: MockGateway（llm.Gateway 模拟，含视频轮询脚本）
  - testutil/fixtures: 结构化裁决与简报 JSON 样例
*/
package testutil
