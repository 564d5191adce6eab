/*
包 observability 以 OpenTelemetry meter 记录网关调用指标。

Metrics 实现 llm.CallObserver，按 provider / operation / status 统计
调用次数、错误码与耗时；Fanout 将同一次调用通知给多个观察者
（例如同时写入 Prometheus Collector 与 OTel meter）。
*/
package observability
