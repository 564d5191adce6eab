/*
Package types 提供 codexmirror 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、council、media、
orchestrator、api 等上层模块提供统一的类型契约。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - Asset：用户上传的文件（base64 文本 + MIME 类型 + 显示名）

# 主要能力

  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - 常用错误构造：NewInvalidRequestError / NewMediaError / NewPipelineError
  - 文件接入：NewAsset 自动探测 MIME 类型，Asset.Bytes 解码
*/
package types
