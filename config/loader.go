// =============================================================================
// 📦 codexmirror 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CODEXMIRROR").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 是环境变量前缀
const DefaultEnvPrefix = "CODEXMIRROR"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 codexmirror 的完整配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Gemini    GeminiConfig    `yaml:"gemini" env:"GEMINI"`
	Council   CouncilConfig   `yaml:"council" env:"COUNCIL"`
	Media     MediaConfig     `yaml:"media" env:"MEDIA"`
	Gate      GateConfig      `yaml:"gate" env:"GATE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Briefing  BriefingConfig  `yaml:"briefing" env:"BRIEFING"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
	Retry     RetryConfig     `yaml:"retry" env:"RETRY"`
	Breaker   BreakerConfig   `yaml:"breaker" env:"BREAKER"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时，需覆盖一次完整的视频生成
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// TLS 证书（可选）
	CertFile string `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
	// websocket 允许的 Origin 模式，为空时只接受同源
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	// 认证
	Auth AuthConfig `yaml:"auth" env:"AUTH"`
}

// AuthConfig API 认证配置。APIKeys 与 JWTSecret 都为空时不启用认证。
type AuthConfig struct {
	APIKeys       []string `yaml:"api_keys" env:"API_KEYS"`
	AllowQueryKey bool     `yaml:"allow_query_key" env:"ALLOW_QUERY_KEY"`
	JWTSecret     string   `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer     string   `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	JWTAudience   string   `yaml:"jwt_audience" env:"JWT_AUDIENCE"`
}

// GeminiConfig 网关配置
type GeminiConfig struct {
	// API Key，为空时回退到 GEMINI_API_KEY
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型分级
	StandardModel  string `yaml:"standard_model" env:"STANDARD_MODEL"`
	DeepModel      string `yaml:"deep_model" env:"DEEP_MODEL"`
	SynthesisModel string `yaml:"synthesis_model" env:"SYNTHESIS_MODEL"`
	ThinkingBudget int32  `yaml:"thinking_budget" env:"THINKING_BUDGET"`
	// 采样参数
	AgentTemperature     float32 `yaml:"agent_temperature" env:"AGENT_TEMPERATURE"`
	SynthesisTemperature float32 `yaml:"synthesis_temperature" env:"SYNTHESIS_TEMPERATURE"`
	TopP                 float32 `yaml:"top_p" env:"TOP_P"`
	// 超时
	CallTimeout      time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	SynthesisTimeout time.Duration `yaml:"synthesis_timeout" env:"SYNTHESIS_TIMEOUT"`
	DownloadTimeout  time.Duration `yaml:"download_timeout" env:"DOWNLOAD_TIMEOUT"`
	// 出站限流，0 表示不限
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" env:"BURST"`
}

// CouncilConfig 名册与合成配置
type CouncilConfig struct {
	// RosterFile 为空时使用内置名册
	RosterFile string `yaml:"roster_file" env:"ROSTER_FILE"`
	// 合成提示词（为空使用内置值）
	SynthesisFraming string `yaml:"synthesis_framing" env:"SYNTHESIS_FRAMING"`
	PrePhaseFraming  string `yaml:"pre_phase_framing" env:"PRE_PHASE_FRAMING"`
	// 启动时是否开启 pre-phase
	PrePhase bool `yaml:"pre_phase" env:"PRE_PHASE"`
}

// MediaConfig 媒体生成配置
type MediaConfig struct {
	ImageModel       string        `yaml:"image_model" env:"IMAGE_MODEL"`
	ImageAspectRatio string        `yaml:"image_aspect_ratio" env:"IMAGE_ASPECT_RATIO"`
	VideoModel       string        `yaml:"video_model" env:"VIDEO_MODEL"`
	VideoResolution  string        `yaml:"video_resolution" env:"VIDEO_RESOLUTION"`
	VideoAspectRatio string        `yaml:"video_aspect_ratio" env:"VIDEO_ASPECT_RATIO"`
	PollInterval     time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	VideoTimeout     time.Duration `yaml:"video_timeout" env:"VIDEO_TIMEOUT"`
}

// GateConfig pre-phase 门控配置
type GateConfig struct {
	// 为空使用内置阶段文案
	Stages        []string      `yaml:"stages" env:"STAGES"`
	Interval      time.Duration `yaml:"interval" env:"INTERVAL"`
	TrailingDelay time.Duration `yaml:"trailing_delay" env:"TRAILING_DELAY"`
}

// RedisConfig Redis 配置。Addr 为空时使用进程内缓存。
type RedisConfig struct {
	Addr                string        `yaml:"addr" env:"ADDR"`
	Password            string        `yaml:"password" env:"PASSWORD"`
	DB                  int           `yaml:"db" env:"DB"`
	PoolSize            int           `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix           string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	TLS                 bool          `yaml:"tls" env:"TLS"`
}

// DatabaseConfig 报告归档数据库配置。Driver 为空时不归档。
type DatabaseConfig struct {
	// 驱动类型: sqlite, postgres
	Driver string `yaml:"driver" env:"DRIVER"`
	// sqlite 为文件路径，postgres 为库名
	Name     string `yaml:"name" env:"NAME"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 连接池
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时执行迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	// 报告保留时长，0 表示永久保留
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
}

// Enabled 是否配置了归档数据库
func (c DatabaseConfig) Enabled() bool {
	return c.Driver != ""
}

// BriefingConfig 简报配置
type BriefingConfig struct {
	Model       string        `yaml:"model" env:"MODEL"`
	Temperature float32       `yaml:"temperature" env:"TEMPERATURE"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	TTL         time.Duration `yaml:"ttl" env:"TTL"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Prometheus 命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// procfs 挂载点，为空使用 /proc
	ProcRoot string `yaml:"proc_root" env:"PROC_ROOT"`
}

// RetryConfig 网关重试配置
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
	Jitter       bool          `yaml:"jitter" env:"JITTER"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	Threshold        int           `yaml:"threshold" env:"THRESHOLD"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" env:"RESET_TIMEOUT"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls" env:"HALF_OPEN_MAX_CALLS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 不使用 TLS 连接 collector
	Insecure bool `yaml:"insecure" env:"INSECURE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
	lookupEnv  func(string) (string, bool)
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
		lookupEnv:  os.LookupEnv,
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 兼容通用的 GEMINI_API_KEY
	if cfg.Gemini.APIKey == "" {
		if key, ok := l.lookupEnv("GEMINI_API_KEY"); ok {
			cfg.Gemini.APIKey = strings.TrimSpace(key)
		}
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := l.lookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if !validPort(c.Server.HTTPPort) {
		errs = append(errs, "invalid HTTP port")
	}
	if !validPort(c.Server.MetricsPort) {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.HTTPPort == c.Server.MetricsPort {
		errs = append(errs, "http_port and metrics_port must differ")
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		errs = append(errs, "cert_file and key_file must be set together")
	}

	if c.Gemini.AgentTemperature < 0 || c.Gemini.AgentTemperature > 2 {
		errs = append(errs, "gemini.agent_temperature must be between 0 and 2")
	}
	if c.Gemini.SynthesisTemperature < 0 || c.Gemini.SynthesisTemperature > 2 {
		errs = append(errs, "gemini.synthesis_temperature must be between 0 and 2")
	}
	if c.Gemini.TopP <= 0 || c.Gemini.TopP > 1 {
		errs = append(errs, "gemini.top_p must be in (0, 1]")
	}
	if c.Gemini.ThinkingBudget < 0 {
		errs = append(errs, "gemini.thinking_budget must not be negative")
	}
	if c.Gemini.CallTimeout <= 0 || c.Gemini.SynthesisTimeout <= 0 {
		errs = append(errs, "gemini timeouts must be positive")
	}

	if c.Media.PollInterval <= 0 {
		errs = append(errs, "media.poll_interval must be positive")
	}
	if c.Media.VideoTimeout < c.Media.PollInterval {
		errs = append(errs, "media.video_timeout must be at least one poll interval")
	}
	if c.Gate.Interval <= 0 {
		errs = append(errs, "gate.interval must be positive")
	}
	if c.Gate.TrailingDelay < 0 {
		errs = append(errs, "gate.trailing_delay must not be negative")
	}

	switch c.Database.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown database driver %q", c.Database.Driver))
	}
	if c.Database.Driver != "" && c.Database.Name == "" {
		errs = append(errs, "database.name is required")
	}
	if c.Database.Retention < 0 {
		errs = append(errs, "database.retention must not be negative")
	}

	if c.Retry.MaxRetries < 0 {
		errs = append(errs, "retry.max_retries must not be negative")
	}
	if c.Breaker.Threshold <= 0 {
		errs = append(errs, "breaker.threshold must be positive")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("unknown log format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validPort(p int) bool { return p > 0 && p <= 65535 }
