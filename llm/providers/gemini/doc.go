/*
# 概述

包 gemini 提供 Google Gemini 的 llm.Gateway 实现。该包通过
google.golang.org/genai SDK 调用 Gemini API，负责结构化输出、文本合成、
Imagen 图像生成与 Veo 视频长任务。

# 核心结构体

  - Gateway：持有 genai.Client、http.Client 与 Config
  - Config：API Key、BaseURL、各能力默认模型与视频参数

# 构造函数

  - New(ctx, cfg, logger)：创建实例；缺少 API Key 时返回 UNAUTHORIZED 错误

# 支持能力

  - 结构化输出（responseSchema；启用检索工具时改为提示词约束）
  - Google Search / Google Maps 检索增强
  - 思考预算（ThinkingConfig.ThinkingBudget）
  - 图像生成（imagen-4.0-generate-001，1 张，PNG，1:1）
  - 视频生成（veo-3.1-fast-generate-preview，720p，16:9），
    通过 GetVideosOperation 轮询，结果以 x-goog-api-key 认证下载

# 错误映射

SDK 的 genai.APIError 与下载的 HTTP 状态统一映射为 llm.Error，
429/5xx 标记为可重试。
*/
package gemini
