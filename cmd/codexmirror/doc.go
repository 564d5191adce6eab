// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 codexmirror 的服务端与命令行入口。

# 概述

所有子命令共用 newApp 装配的组件：Gemini 网关（重试、熔断、限流包装）、
council 调度与合成、媒体工作流、编排器和系统简报。配置了
database.driver 时，成功的调度会写入报告归档（SQLite 或 Postgres）。

# 子命令

  - serve：HTTP API 与独立的 Prometheus /metrics 端口，信号触发优雅关闭
  - run：调度一次 council，在终端输出各 agent 结论与合成决策
  - image：生成图像，-out 写入文件
  - video：生成视频并逐行输出轮询进度
  - brief：输出系统简报，-refresh 丢弃缓存
  - history：列出归档报告，或按调用 ID 输出一份完整报告
  - migrate：归档库迁移，up / down / status / force <version>
  - health：请求运行中服务的 /health
  - version：构建信息（Version、BuildTime、GitCommit 通过 ldflags 注入）

# 中间件链

Recovery → RequestID → SecurityHeaders → RequestLogger → Metrics →
OTelTracing → RateLimiter（按 IP）→ Authenticate（X-API-Key 或 HS256 JWT）。
健康检查与版本端点不需要认证。
*/
package main
