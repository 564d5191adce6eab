// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 codexmirror HTTP API 的请求处理器实现。

# 概述

所有 Handler 均遵循标准 net/http 接口，依赖窄接口（Council、Briefer、
MediaService）而不是具体的编排器，便于用替身测试。

# 核心类型

  - CouncilHandler：调度、建议操作、状态、名册、pre-phase 开关与提前结束、系统简报
  - MediaHandler：图像、视频（阻塞与 websocket 进度流）、当前媒体内容
  - HealthHandler：/health, /healthz, /ready, /version
  - HistoryHandler：归档报告列表与详情；未配置归档时返回 503
  - Response：统一 JSON 响应结构（success + data + error + timestamp + request_id）
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码与字节数

# 错误映射

types.Error 自带 HTTPStatus 时优先使用，否则按错误码映射。
被新调用取代或被取消的调度返回 409。
*/
package handlers
