package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// placeholder 匹配 ${VAR} 与 ${VAR:default}
var placeholder = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load 从 CONFIG_DIR（缺省 configs）加载配置
func Load() (*Config, error) {
	dir, ok := os.LookupEnv("CONFIG_DIR")
	if !ok || dir == "" {
		dir = "configs"
	}
	return LoadFrom(dir)
}

// LoadFrom 依次叠加：内置默认值、config.yaml、config.<APP_ENV>.yaml、环境变量
// 环境变量名为键路径大写并以 _ 连接，如 GENERATION_MIN_CHARS
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	files := []struct {
		name     string
		optional bool
	}{
		{"config.yaml", false},
		{"config." + env + ".yaml", true},
	}
	for _, f := range files {
		if err := mergeFile(v, filepath.Join(dir, f.name), f.optional); err != nil {
			return nil, err
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile 展开占位符后合并进 viper
func mergeFile(v *viper.Viper, path string, optional bool) error {
	raw, err := os.ReadFile(path)
	switch {
	case optional && errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := v.MergeConfig(bytes.NewReader(expandEnv(raw))); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// expandEnv 未设置且无缺省值的变量保持原样，便于排查
func expandEnv(raw []byte) []byte {
	return placeholder.ReplaceAllFunc(raw, func(m []byte) []byte {
		sub := placeholder.FindSubmatchIndex(m)
		name := string(m[sub[2]:sub[3]])
		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		if sub[4] >= 0 {
			return m[sub[4]:sub[5]]
		}
		return m
	})
}

var defaults = map[string]any{
	"app.name":    "letter-stream-engine",
	"app.version": "v0.0.0",
	"app.env":     "development",

	"server.http.host":          "0.0.0.0",
	"server.http.port":          8080,
	"server.http.read_timeout":  "30s",
	"server.http.write_timeout": "0s",
	"server.http.idle_timeout":  "120s",

	"backend.base_url":        "http://localhost:3000",
	"backend.template_path":   "/api/prompt-templates/%s",
	"backend.stream_path":     "/api/letters/generate/stream",
	"backend.document_path":   "/api/letters",
	"backend.request_timeout": "15s",
	"backend.service_token":   "",

	"generation.transport_mode":  TransportModeBackend,
	"generation.min_chars":       1,
	"generation.persist_timeout": "20s",
	"generation.binding_store":   BindingStoreMemory,
	"generation.audit_enabled":   false,
	"generation.publish_events":  false,
	"generation.direct_provider": "",
	"generation.retain_ttl":      "15m",
	"generation.retain_limit":    1024,

	"template_cache.source_mode":    SourceModeRemote,
	"template_cache.shared_enabled": false,
	"template_cache.shared_ttl":     "1h",
	"template_cache.key_prefix":     "tpl:",
	"template_cache.watch_versions": false,

	"database.postgres.host":               "localhost",
	"database.postgres.port":               5432,
	"database.postgres.user":               "postgres",
	"database.postgres.password":           "",
	"database.postgres.database":           "letter_engine",
	"database.postgres.ssl_mode":           "disable",
	"database.postgres.max_open_conns":     20,
	"database.postgres.max_idle_conns":     5,
	"database.postgres.conn_max_lifetime":  "30m",
	"database.postgres.conn_max_idle_time": "5m",
	"database.postgres.auto_migrate":       true,

	"cache.redis.enabled":        false,
	"cache.redis.host":           "localhost",
	"cache.redis.port":           6379,
	"cache.redis.password":       "",
	"cache.redis.db":             0,
	"cache.redis.pool_size":      20,
	"cache.redis.min_idle_conns": 2,
	"cache.redis.dial_timeout":   "5s",
	"cache.redis.read_timeout":   "3s",
	"cache.redis.write_timeout":  "3s",

	// consumer_name 为空时以主机名和进程号生成
	"messaging.redis_stream.max_len":                  100000,
	"messaging.redis_stream.consumer_name":            "",
	"messaging.redis_stream.block_timeout":            "5s",
	"messaging.redis_stream.claim_interval":           "30s",
	"messaging.redis_stream.retry_limit":              3,
	"messaging.redis_stream.retry_backoff.initial":    "1s",
	"messaging.redis_stream.retry_backoff.max":        "30s",
	"messaging.redis_stream.retry_backoff.multiplier": 2.0,

	"observability.logging.level":       "info",
	"observability.logging.format":      "json",
	"observability.tracing.enabled":     false,
	"observability.tracing.endpoint":    "localhost:4317",
	"observability.tracing.sample_rate": 1.0,
	"observability.metrics.enabled":     true,
	"observability.metrics.path":        "/metrics",
}
