/*
Package orchestrator 是调用方可见状态的唯一写入者。

# 调用流程

	Dispatch ─┬─ pre-phase 关闭 → Dispatcher → Synthesizer → Report
	          └─ pre-phase 开启 → gate.Run → (hook) Dispatcher → Synthesizer → Report

每次调用（Dispatch、GenerateImage、GenerateVideo）开始前都会清空上一次的
outcomes、synthesis、error、media 与 progress。新调用会取消上一次调用的
context，旧调用的写入通过代计数器丢弃，返回 PIPELINE_FAILED。

输入校验失败不会清空状态，也不会发起任何网关调用。

# Briefer

Briefer 将系统指标快照发送给网关，生成 {overview, key_insight,
suggested_actions} 简报；失败时返回固定的 FallbackBriefing。成功结果通过
internal/cache 缓存。
*/
package orchestrator
