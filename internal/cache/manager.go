package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config Redis 连接配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 返回默认连接配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		DB:                  0,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Manager Redis 连接管理器。连接失败不阻止启动：共享缓存层
// 在连接恢复前按不可用处理，健康检查循环持续探测。
type Manager struct {
	redis   *redis.Client
	config  Config
	logger  *zap.Logger
	healthy atomic.Bool

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
}

// NewManager 创建连接管理器并做一次启动探测。
func NewManager(config Config, logger *zap.Logger) *Manager {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	m := &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "redis")),
		stop:   make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// 启动时 Redis 不可达：共享层降级，等健康检查拉回
		m.logger.Warn("redis unreachable at startup, shared tier degraded",
			zap.String("addr", config.Addr),
			zap.Error(err))
	} else {
		m.healthy.Store(true)
		m.logger.Info("redis connected",
			zap.String("addr", config.Addr),
			zap.Int("pool_size", config.PoolSize))
	}

	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}
	return m
}

// Client 返回底层 Redis 客户端，供共享缓存层使用。
func (m *Manager) Client() *redis.Client { return m.redis }

// Healthy 返回最近一次探测的结果。
func (m *Manager) Healthy() bool { return m.healthy.Load() }

// Ping 主动探测连接。
func (m *Manager) Ping(ctx context.Context) error {
	err := m.redis.Ping(ctx).Err()
	m.healthy.Store(err == nil)
	return err
}

// Close 停止健康检查并释放连接。
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stop)
	m.logger.Info("closing redis connection")
	return m.redis.Close()
}

func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			was := m.healthy.Load()
			err := m.Ping(ctx)
			cancel()

			switch {
			case err != nil && was:
				m.logger.Warn("redis health check failed", zap.Error(err))
			case err == nil && !was:
				m.logger.Info("redis connection recovered")
			}
		}
	}
}
