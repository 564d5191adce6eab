// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package tlsutil 集中提供 TLS 配置：API 监听器、Gemini HTTP 客户端和
// Redis 连接共用同一套加固设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
