package config

import "fmt"

// 传输模式
const (
	TransportModeBackend = "backend"
	TransportModeDirect  = "direct"
)

// 模板来源模式
const (
	SourceModeRemote = "remote"
	SourceModeStatic = "static"
)

// 绑定存储
const (
	BindingStoreMemory = "memory"
	BindingStoreRedis  = "redis"
)

// Validate 校验互相依赖的配置项
func (c *Config) Validate() error {
	switch c.Generation.TransportMode {
	case TransportModeBackend, TransportModeDirect:
	default:
		return fmt.Errorf("invalid generation.transport_mode: %q", c.Generation.TransportMode)
	}

	switch c.TemplateCache.SourceMode {
	case SourceModeRemote, SourceModeStatic:
	default:
		return fmt.Errorf("invalid template_cache.source_mode: %q", c.TemplateCache.SourceMode)
	}

	switch c.Generation.BindingStore {
	case BindingStoreMemory:
	case BindingStoreRedis:
		if !c.Cache.Redis.Enabled {
			return fmt.Errorf("generation.binding_store=redis requires cache.redis.enabled")
		}
	default:
		return fmt.Errorf("invalid generation.binding_store: %q", c.Generation.BindingStore)
	}

	if c.TemplateCache.SharedEnabled && !c.Cache.Redis.Enabled {
		return fmt.Errorf("template_cache.shared_enabled requires cache.redis.enabled")
	}
	if c.TemplateCache.WatchVersions && !c.Cache.Redis.Enabled {
		return fmt.Errorf("template_cache.watch_versions requires cache.redis.enabled")
	}
	if c.Generation.PublishEvents && !c.Cache.Redis.Enabled {
		return fmt.Errorf("generation.publish_events requires cache.redis.enabled")
	}

	if c.Generation.TransportMode == TransportModeDirect {
		name := c.Generation.DirectProvider
		if name == "" {
			name = c.LLM.DefaultProvider
		}
		if _, ok := c.LLM.Providers[name]; !ok {
			return fmt.Errorf("direct transport requires llm provider %q", name)
		}
	}
	if c.Generation.MinChars < 1 {
		c.Generation.MinChars = 1
	}
	return nil
}
