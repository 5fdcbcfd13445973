// Package main 模板版本变更通知工具：向模板事件流发布 template_changed 消息，
// 开启 template_cache.watch_versions 的 letter-engine 实例收到后失效本地缓存
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"letter-stream-engine/internal/config"
	"letter-stream-engine/internal/infrastructure/messaging"
	"letter-stream-engine/internal/infrastructure/persistence/redis"
	"letter-stream-engine/pkg/logger"
)

func main() {
	var (
		configDir  string
		templateID string
		version    int
	)
	flag.StringVar(&configDir, "config-dir", "", "配置目录；缺省读取 CONFIG_DIR 或 ./configs")
	flag.StringVar(&templateID, "template", "", "变更的模板 ID（必填）")
	flag.IntVar(&version, "version", 0, "模板新版本号；0 表示无条件失效")
	flag.Parse()

	_ = godotenv.Load()

	if templateID == "" {
		fmt.Fprintln(os.Stderr, "-template is required")
		flag.Usage()
		os.Exit(2)
	}

	var (
		cfg *config.Config
		err error
	)
	if configDir != "" {
		cfg, err = config.LoadFrom(configDir)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 通知只依赖 Redis Stream，不受 cache.redis.enabled 开关影响
	cfg.Cache.Redis.Enabled = true
	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Fatal(ctx, "failed to init redis", err)
	}
	defer func() { _ = redisClient.Close() }()

	producer := messaging.NewProducer(redisClient.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
	id, err := producer.PublishTemplateChanged(ctx, messaging.TemplateChangedMessage{
		TemplateID: templateID,
		Version:    version,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to publish template change", err, "template_id", templateID)
	}
	logger.Info(ctx, "template change published",
		"template_id", templateID,
		"version", version,
		"stream_id", id,
	)
}
