// Package postgres 会话审计表的 PostgreSQL 实现（GORM）
package postgres

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"letter-stream-engine/internal/config"
	"letter-stream-engine/internal/domain/entity"
	"letter-stream-engine/pkg/logger"
	"letter-stream-engine/pkg/tracer"
)

var pgTracer = otel.Tracer("postgres")

// Client PostgreSQL 客户端
type Client struct {
	db *gorm.DB
}

// slogWriter 将 GORM 日志转入结构化日志
type slogWriter struct{}

func (slogWriter) Printf(format string, args ...interface{}) {
	logger.Warn(context.Background(), "gorm", "detail", fmt.Sprintf(format, args...))
}

// DSN 由配置拼接连接串
func DSN(cfg *config.PostgresConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
}

// NewClient 打开连接池；AutoMigrate 开启时建表
func NewClient(cfg *config.PostgresConfig) (*Client, error) {
	db, err := gorm.Open(postgres.Open(DSN(cfg)), &gorm.Config{
		Logger: gormlogger.New(slogWriter{}, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(&entity.SessionRecord{}); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to migrate %s: %w", entity.SessionRecord{}.TableName(), err)
		}
	}
	return &Client{db: db}, nil
}

// DB GORM 实例
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Close 关闭连接池
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HealthCheck 健康检查
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, span := pgTracer.Start(ctx, "postgres.HealthCheck")
	defer span.End()

	sqlDB, err := c.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		tracer.Fail(span, err)
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
