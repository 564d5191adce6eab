// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供并行扇出原语。

[FanOut] 把同一输入分发给一组 [Task]，基于 errgroup 并发执行，可通过
[WithConcurrencyLimit] 限制并发度。单个任务的错误或 panic 只记录在它自己的
[TaskResult] 中（panic 转为 [PanicError]），不会取消其他任务；结果按任务
输入顺序返回，与完成先后无关。

council 包的代理研判即构建在 FanOut 之上。
*/
package workflow
