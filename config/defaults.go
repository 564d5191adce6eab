// =============================================================================
// 📦 codexmirror 默认配置
// =============================================================================
// 默认值与原始前端保持一致：模型、温度、轮询间隔、阶段节奏
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Gemini:    DefaultGeminiConfig(),
		Council:   CouncilConfig{},
		Media:     DefaultMediaConfig(),
		Gate:      DefaultGateConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Briefing:  DefaultBriefingConfig(),
		Metrics:   DefaultMetricsConfig(),
		Retry:     DefaultRetryConfig(),
		Breaker:   DefaultBreakerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    15 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultGeminiConfig 返回默认网关配置
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		BaseURL:              "https://generativelanguage.googleapis.com",
		StandardModel:        "gemini-2.5-flash",
		DeepModel:            "gemini-2.5-pro",
		SynthesisModel:       "gemini-2.5-pro",
		ThinkingBudget:       32768,
		AgentTemperature:     0.5,
		SynthesisTemperature: 0.7,
		TopP:                 0.95,
		CallTimeout:          2 * time.Minute,
		SynthesisTimeout:     2 * time.Minute,
		DownloadTimeout:      5 * time.Minute,
	}
}

// DefaultMediaConfig 返回默认媒体配置
func DefaultMediaConfig() MediaConfig {
	return MediaConfig{
		ImageModel:       "imagen-4.0-generate-001",
		ImageAspectRatio: "1:1",
		VideoModel:       "veo-3.1-fast-generate-preview",
		VideoResolution:  "720p",
		VideoAspectRatio: "16:9",
		PollInterval:     10 * time.Second,
		VideoTimeout:     10 * time.Minute,
	}
}

// DefaultGateConfig 返回默认门控配置，Stages 为空表示使用内置文案
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Interval:      2 * time.Second,
		TrailingDelay: 2 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置（不配置地址，使用进程内缓存）
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		PoolSize:            10,
		KeyPrefix:           "codexmirror:",
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认归档配置（不配置驱动，不归档）
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Name:            "codexmirror.db",
		Port:            5432,
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		AutoMigrate:     true,
		Retention:       30 * 24 * time.Hour,
	}
}

// DefaultBriefingConfig 返回默认简报配置
func DefaultBriefingConfig() BriefingConfig {
	return BriefingConfig{
		Model:       "gemini-2.5-pro",
		Temperature: 0.7,
		Timeout:     time.Minute,
		TTL:         5 * time.Minute,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Namespace: "codexmirror"}
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// DefaultBreakerConfig 返回默认熔断配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "codexmirror",
		SampleRate:   0.1,
		Insecure:     true,
	}
}
