// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package llm 定义生成式后端的统一网关契约。

# 核心接口

  - [Gateway]：组合 [StructuredGenerator]、[TextGenerator]、
    [ImageGenerator] 与 [VideoGenerator]，上层只依赖这一个接口
  - [StructuredRequest] / [Schema]：按 JSON Schema 约束的结构化调用，
    可通过 [Tool] 打开网页检索或地图检索增强
  - [VideoJob]：长耗时视频生成的提交、轮询与下载句柄

# 错误语义

后端错误统一映射为 [Error]，错误码复用 types 包；[MapHTTPStatus]
把 HTTP 状态码归类为可重试或客户端错误，[IsRetryable] 供重试层判断。

# 弹性封装

[Resilient] 在任意 Gateway 外层叠加 retry 子包的指数退避与
circuitbreaker 子包的熔断器，可选地按 RequestsPerSecond 限流，并通过
[CallObserver] 上报每次调用的耗时与结果（observability 子包提供
Prometheus 实现）。视频轮询失败即视为任务终止，不做重试。

具体后端实现位于 providers/gemini。
*/
package llm
