package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Cache:     DefaultCacheConfig(),
		Routing:   DefaultRoutingConfig(),
		Breaker:   DefaultBreakerConfig(),
		Dispatch:  DefaultDispatchConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Pool:      DefaultPoolConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Mongo:     DefaultMongoConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		MaxConns:        1024,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Hot: HotCacheConfig{
			Enabled:  true,
			Capacity: 2048,
			TTL:      5 * time.Minute,
		},
		Shared: SharedCacheConfig{
			Enabled:   true,
			TTL:       time.Hour,
			KeyPrefix: "gateflow:cache:",
			Semantic: SemanticMatchConfig{
				Enabled:       true,
				Threshold:     0.85,
				Authoritative: false,
				MaxCandidates: 512,
				ScanCount:     256,
			},
		},
		Archive: ArchiveCacheConfig{
			Enabled: false,
			Backend: "gorm",
			TTL:     720 * time.Hour,
		},
	}
}

// DefaultRoutingConfig 返回默认路由配置
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		CostWeight:        0.3,
		PerfWeight:        0.3,
		ReliabilityWeight: 0.4,
		MaxAttempts:       3,
	}
}

// DefaultBreakerConfig 返回默认熔断配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		EWMAAlpha:        0.3,
		ProbeInterval:    0,
	}
}

// DefaultDispatchConfig 返回默认调度配置
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		CallTimeout:    30 * time.Second,
		RequestTimeout: 120 * time.Second,
		EmbedTimeout:   10 * time.Second,
		MemoCapacity:   4096,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Enabled:    true,
		BaseURL:    "https://api.openai.com",
		APIKey:     "",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    10 * time.Second,
	}
}

// DefaultPoolConfig 返回默认工作池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:     64,
		QueueSize:   1024,
		IdleTimeout: 60 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		Password:            "",
		DB:                  0,
		PoolSize:            10,
		MinIdleConns:        2,
		MaxRetries:          3,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "gateflow",
		Password:        "",
		Name:            "gateflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认 Mongo 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "gateflow",
		Collection: "cache_entries",
		Timeout:    10 * time.Second,
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
		ServiceName:  "gateflow",
		SampleRate:   0.1,
	}
}
