/*
Package council 实现多代理并行研判与最终合成。

Dispatcher 对名册（Roster）中的每个代理并发发起一次结构化网关调用，
单个代理的错误、panic 或畸形响应都会被隔离为固定诊断信息的 ErrorResult
（置信度 0），不会影响其他代理；结果严格按名册顺序返回。

Synthesizer 将有序结果统一渲染为文本向量，并发起唯一一次文本网关调用；
调用失败时返回 SynthesisFailure 哨兵字符串，而不是错误。
*/
package council
