// Package ctxkeys holds the request-scoped values shared between the HTTP
// layer, the orchestrator and the gateway.
package ctxkeys

import (
	"context"

	"go.uber.org/zap"
)

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey    contextKey = "request_id"
	subjectKey      contextKey = "subject"
	invocationIDKey contextKey = "invocation_id"
)

// WithRequestID 设置请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	return lookup(ctx, requestIDKey)
}

// WithSubject 设置认证后的调用方
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// Subject 获取认证后的调用方
func Subject(ctx context.Context) (string, bool) {
	return lookup(ctx, subjectKey)
}

// WithInvocationID 设置编排调用 ID
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey, id)
}

// InvocationID 获取编排调用 ID
func InvocationID(ctx context.Context) (string, bool) {
	return lookup(ctx, invocationIDKey)
}

// Fields 把 ctx 中已有的值转成日志字段
func Fields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	for _, k := range []contextKey{requestIDKey, invocationIDKey, subjectKey} {
		if v, ok := lookup(ctx, k); ok {
			fields = append(fields, zap.String(string(k), v))
		}
	}
	return fields
}

func lookup(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
