package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/codexmirror/api/handlers"
	"github.com/BaSui01/codexmirror/config"
	"github.com/BaSui01/codexmirror/internal/ctxkeys"
	"github.com/BaSui01/codexmirror/internal/metrics"
	"github.com/BaSui01/codexmirror/types"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个在最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			h = middlewares[i](h)
		}
	}
	return h
}

// Recovery panic 恢复中间件
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)
					handlers.WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 为每个请求分配 X-Request-ID；客户端提供的值会被保留
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(handlers.RequestIDHeader)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			w.Header().Set(handlers.RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithRequestID(r.Context(), id)))
		})
	}
}

// SecurityHeaders 添加常见安全响应头
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'self'")
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			fields := append([]zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Int64("bytes", rw.Bytes),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}, ctxkeys.Fields(r.Context())...)
			logger.Info("request", fields...)
		})
	}
}

// =============================================================================
// 📊 Metrics
// =============================================================================

// MetricsMiddleware 通过 metrics.Collector 记录 HTTP 指标。
// 不在 routes 中的路径统一记为 "unmatched"，避免标签基数失控。
func MetricsMiddleware(collector *metrics.Collector, routes []string) Middleware {
	label := routeLabeler(routes)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			collector.RecordHTTPRequest(r.Method, label(r.URL.Path), rw.StatusCode, time.Since(start), rw.Bytes)
		})
	}
}

// routeLabeler 把请求路径映射到已注册路由；带通配段的路由按前缀归并
func routeLabeler(routes []string) func(string) string {
	known := make(map[string]struct{}, len(routes))
	var templated [][2]string
	for _, p := range routes {
		if i := strings.IndexByte(p, '{'); i >= 0 {
			templated = append(templated, [2]string{p[:i], p})
			continue
		}
		known[p] = struct{}{}
	}
	return func(path string) string {
		if _, ok := known[path]; ok {
			return path
		}
		for _, t := range templated {
			if rest, ok := strings.CutPrefix(path, t[0]); ok && rest != "" && !strings.Contains(rest, "/") {
				return t[1]
			}
		}
		return "unmatched"
	}
}

// =============================================================================
// 🔭 OTelTracing
// =============================================================================

// OTelTracing 为每个请求创建 server span，并从请求头提取上游 trace 上下文
func OTelTracing() Middleware {
	tracer := otel.Tracer("github.com/BaSui01/codexmirror/http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
			if rw.StatusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.StatusCode))
			}
		})
	}
}

// =============================================================================
// 🚦 RateLimiter
// =============================================================================

// RateLimiter 基于 IP 的请求限流中间件；rps <= 0 时不限流
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)
	// 后台清理过期 visitor
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for ip, v := range visitors {
					if time.Since(v.lastSeen) > 3*time.Minute {
						delete(visitors, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			mu.Lock()
			v, exists := visitors[ip]
			if !exists {
				v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
				visitors[ip] = v
			}
			v.lastSeen = time.Now()
			mu.Unlock()

			if !v.limiter.Allow() {
				logger.Debug("rate limited", zap.String("ip", ip))
				handlers.WriteError(w, types.NewError(types.ErrRateLimited, "too many requests").WithRetryable(true), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// 🔐 认证
// =============================================================================

// Authenticate 接受 X-API-Key 或 Authorization: Bearer <JWT>。
// 两者都未配置时返回 nil（不启用认证）。skipPaths 中的路径不需要认证。
func Authenticate(auth config.AuthConfig, skipPaths []string, logger *zap.Logger) Middleware {
	keys := make([][]byte, 0, len(auth.APIKeys))
	for _, k := range auth.APIKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}
	var verifier *jwtVerifier
	if auth.JWTSecret != "" {
		verifier = newJWTVerifier(auth)
	}
	if len(keys) == 0 && verifier == nil {
		return nil
	}

	skipSet := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skipSet[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipSet[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			if key := apiKeyFrom(r, auth.AllowQueryKey); key != "" && len(keys) > 0 {
				if matchKey(keys, key) {
					next.ServeHTTP(w, r.WithContext(ctxkeys.WithSubject(r.Context(), "api-key")))
					return
				}
				unauthorized(w, "invalid API key")
				return
			}

			if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && verifier != nil {
				subject, err := verifier.verify(bearer)
				if err != nil {
					logger.Debug("JWT validation failed", zap.Error(err))
					unauthorized(w, "invalid or expired token")
					return
				}
				next.ServeHTTP(w, r.WithContext(ctxkeys.WithSubject(r.Context(), subject)))
				return
			}

			unauthorized(w, "missing credentials")
		})
	}
}

func apiKeyFrom(r *http.Request, allowQuery bool) string {
	key := r.Header.Get("X-API-Key")
	if key == "" && allowQuery {
		key = r.URL.Query().Get("api_key")
	}
	return key
}

func matchKey(keys [][]byte, candidate string) bool {
	c := []byte(candidate)
	matched := 0
	for _, k := range keys {
		matched |= subtle.ConstantTimeCompare(k, c)
	}
	return matched == 1
}

func unauthorized(w http.ResponseWriter, message string) {
	handlers.WriteError(w, types.NewError(types.ErrUnauthorized, message), nil)
}

// jwtVerifier 校验 HS256 令牌
type jwtVerifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

func newJWTVerifier(auth config.AuthConfig) *jwtVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if auth.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(auth.JWTIssuer))
	}
	if auth.JWTAudience != "" {
		opts = append(opts, jwt.WithAudience(auth.JWTAudience))
	}
	return &jwtVerifier{secret: []byte(auth.JWTSecret), opts: opts}
}

func (v *jwtVerifier) verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, v.opts...)
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("token is not valid")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}
