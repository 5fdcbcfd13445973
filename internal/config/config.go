// Package config 服务配置：YAML 文件叠加环境变量，由 viper 解析
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Backend       BackendConfig       `mapstructure:"backend"`
	Generation    GenerationConfig    `mapstructure:"generation"`
	TemplateCache TemplateCacheConfig `mapstructure:"template_cache"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Messaging     MessagingConfig     `mapstructure:"messaging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Security      SecurityConfig      `mapstructure:"security"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Env     string `mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout 为 0 表示不限制（SSE 长连接）
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// BackendConfig 后端 API 配置
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// TemplatePath 模板查询路径，%s 为模板 ID
	TemplatePath string `mapstructure:"template_path"`
	// StreamPath 生成流路径
	StreamPath string `mapstructure:"stream_path"`
	// DocumentPath 文档（信件）集合路径
	DocumentPath string `mapstructure:"document_path"`
	// RequestTimeout 普通请求超时（不作用于生成流）
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// ServiceToken 服务间调用凭证；为空时使用调用方转发的 token
	ServiceToken string `mapstructure:"service_token"`
}

// GenerationConfig 生成会话配置
type GenerationConfig struct {
	// TransportMode backend | direct
	TransportMode string `mapstructure:"transport_mode"`
	// MinChars 完成时少于该字符数视为空结果
	MinChars int `mapstructure:"min_chars"`
	// PersistTimeout 单次持久化调用超时
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
	// BindingStore memory | redis
	BindingStore string `mapstructure:"binding_store"`
	// AuditEnabled 是否写入会话审计表
	AuditEnabled bool `mapstructure:"audit_enabled"`
	// PublishEvents 是否发布 letter_persisted 消息
	PublishEvents bool `mapstructure:"publish_events"`
	// DirectProvider direct 模式使用的 LLM provider
	DirectProvider string `mapstructure:"direct_provider"`
	// RetainTTL 空闲目标的最近会话保留时长，过期后仅保留后端绑定
	RetainTTL time.Duration `mapstructure:"retain_ttl"`
	// RetainLimit 保留的空闲目标数上限
	RetainLimit int `mapstructure:"retain_limit"`
}

// TemplateCacheConfig 模板缓存配置
type TemplateCacheConfig struct {
	// SourceMode remote | static，启动时确定
	SourceMode string `mapstructure:"source_mode"`
	// SharedEnabled 是否启用 Redis 二级缓存
	SharedEnabled bool          `mapstructure:"shared_enabled"`
	SharedTTL     time.Duration `mapstructure:"shared_ttl"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	// WatchVersions 是否消费模板版本变更消息
	WatchVersions bool `mapstructure:"watch_versions"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LLMConfig LLM 配置（direct 模式）
type LLMConfig struct {
	DefaultProvider string                    `mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig LLM 提供商配置
type ProviderConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen        int           `mapstructure:"max_len"`
	ConsumerName  string        `mapstructure:"consumer_name"`
	BlockTimeout  time.Duration `mapstructure:"block_timeout"`
	ClaimInterval time.Duration `mapstructure:"claim_interval"`
	RetryLimit    int           `mapstructure:"retry_limit"`
	RetryBackoff  BackoffConfig `mapstructure:"retry_backoff"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}
