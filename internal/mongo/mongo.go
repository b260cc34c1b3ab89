package mongo

import (
	"context"
	"fmt"
	"time"

	"go_forum/internal/config"
	"go_forum/internal/logger"

	"github.com/codeGROOVE-dev/retry"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Client 封装 MongoDB 客户端及其配置
type Client struct {
	*mongo.Client
	dbName string
}

// Config 定义 MongoDB 连接配置
type Config struct {
	URI      string        // MongoDB 连接 URI，例如 "mongodb://localhost:27017"
	Database string        // 数据库名称
	Timeout  time.Duration // 单次连接超时时间
	Attempts uint          // 连接尝试次数，默认 3
}

// InitFromConfig 根据应用配置初始化客户端
func InitFromConfig(cfg *config.Config) (*Client, error) {
	return NewClient(Config{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDBName,
	})
}

// NewClient 初始化 MongoDB 客户端
func NewClient(cfg Config) (*Client, error) {
	// 验证配置参数
	if cfg.URI == "" {
		return nil, fmt.Errorf("MongoDB URI cannot be empty")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name cannot be empty")
	}

	// 设置客户端选项
	clientOptions := options.Client().ApplyURI(cfg.URI)

	// 设置默认超时时间（如果未提供）
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}

	// 连接并验证，失败时有限次重试
	var client *mongo.Client
	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()

			c, err := mongo.Connect(ctx, clientOptions)
			if err != nil {
				return fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := c.Ping(ctx, readpref.Primary()); err != nil {
				_ = c.Disconnect(context.Background())
				return fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			client = c
			return nil
		},
		retry.Attempts(cfg.Attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(time.Second),
		retry.OnRetry(func(n uint, err error) {
			logger.L().Warnf("MongoDB connect attempt %d failed: %v", n+1, err)
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Client{
		Client: client,
		dbName: cfg.Database,
	}, nil
}

// Close 关闭 MongoDB 客户端连接
func (c *Client) Close(ctx context.Context) error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Disconnect(ctx)
}

// Database 返回指定数据库的句柄
func (c *Client) Database() *mongo.Database {
	if c.Client == nil {
		return nil
	}
	return c.Client.Database(c.dbName)
}

// Ping 验证与 MongoDB 的连接
func (c *Client) Ping(ctx context.Context) error {
	if c.Client == nil {
		return fmt.Errorf("MongoDB client is not initialized")
	}
	return c.Client.Ping(ctx, readpref.Primary())
}
