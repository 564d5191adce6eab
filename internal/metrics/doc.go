/*
包 metrics 基于 Prometheus client_golang 提供指标采集。

Collector 同时实现 llm.CallObserver、council.Observer 与 media.Observer，
由 cmd/codexmirror 在启动时注入各组件；HTTP 中间件调用 RecordHTTPRequest。
指标通过独立端口的 /metrics 暴露。
*/
package metrics
