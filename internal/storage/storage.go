package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"career-agent-go/internal/config"
)

// Storage 存储管理器，聚合所有存储相关依赖。
// 各组件均为可选，未配置或初始化失败时为 nil。
type Storage struct {
	// 对象存储：索引快照、简历归档
	MinIO *MinIO

	// 消息队列：语料变更事件
	RabbitMQ *RabbitMQ

	// 关系型数据库：语料、索引代、审计、outbox
	MySQL *MySQL

	// 键值存储：画像与向量缓存、重建锁
	Redis *Redis
}

// NewStorage 创建存储管理器，允许部分组件初始化失败
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	storage := &Storage{}
	var err error
	var initErrors []string
	configured := 0

	componentLogger := func(prefix string) *log.Logger {
		if cfg.Logger.Level == "debug" {
			return log.New(os.Stderr, prefix, log.LstdFlags|log.Lshortfile)
		}
		return log.New(io.Discard, "", 0)
	}

	if cfg.MinIO.Endpoint != "" {
		configured++
		storage.MinIO, err = NewMinIO(&cfg.MinIO, componentLogger("[MinIOStorage] "))
		if err != nil {
			log.Printf("警告: 初始化MinIO失败: %v", err)
			initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
		}
	}

	if cfg.RabbitMQ.URL != "" {
		configured++
		storage.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ, componentLogger("[RabbitMQ] "))
		if err == nil {
			err = storage.RabbitMQ.EnsureCorpusTopology()
		}
		if err != nil {
			log.Printf("警告: 初始化RabbitMQ失败: %v", err)
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		}
	}

	if cfg.MySQL.Host != "" {
		configured++
		storage.MySQL, err = NewMySQL(&cfg.MySQL)
		if err != nil {
			log.Printf("警告: 初始化MySQL失败: %v", err)
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		}
	}

	if cfg.Redis.Address != "" {
		configured++
		storage.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			log.Printf("警告: 初始化Redis失败: %v", err)
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	}

	if configured > 0 && len(initErrors) == configured {
		return nil, fmt.Errorf("所有存储组件初始化失败: %s", strings.Join(initErrors, "; "))
	}
	if len(initErrors) > 0 {
		log.Printf("警告: 以下存储组件初始化失败: %s", strings.Join(initErrors, "; "))
	}
	return storage, nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			log.Printf("关闭RabbitMQ连接失败: %v", err)
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			log.Printf("关闭MySQL连接失败: %v", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Printf("关闭Redis连接失败: %v", err)
		}
	}
	// MinIO 客户端无需显式关闭
}
