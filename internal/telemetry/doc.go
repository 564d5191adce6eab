// Package telemetry 封装 OpenTelemetry SDK 初始化：OTLP/gRPC 导出 trace 与 metric，
// 并注册为全局 Provider。禁用时保留 noop 实现，不连接任何外部服务。
package telemetry
