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

// Config 是 GateFlow 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Cache 三级缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Routing 路由评分配置
	Routing RoutingConfig `yaml:"routing" env:"ROUTING"`

	// Breaker 熔断与健康追踪配置
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`

	// Dispatch 请求调度配置
	Dispatch DispatchConfig `yaml:"dispatch" env:"DISPATCH"`

	// Embedding 嵌入客户端配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Providers 上游 Provider 列表
	Providers []ProviderConfig `yaml:"providers" env:"-"`

	// Pool 后台工作池配置
	Pool PoolConfig `yaml:"pool" env:"POOL"`

	// Redis 共享缓存后端配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 归档数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Mongo 归档 Mongo 后端配置（backend=mongo 时生效）
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 最大并发连接数
	MaxConns int `yaml:"max_conns" env:"MAX_CONNS"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 空闲连接超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每客户端限流速率（请求/秒），0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发上限
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 准入 API Key 列表，为空时不启用 Key 校验
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// JWT 签名密钥，为空时不启用 JWT 校验
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// TLS 证书与私钥路径，同时非空时以 HTTPS 启动
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// CacheConfig 三级缓存配置
type CacheConfig struct {
	Hot     HotCacheConfig     `yaml:"hot" env:"HOT"`
	Shared  SharedCacheConfig  `yaml:"shared" env:"SHARED"`
	Archive ArchiveCacheConfig `yaml:"archive" env:"ARCHIVE"`
}

// HotCacheConfig 进程内 LRU 层配置
type HotCacheConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Capacity int           `yaml:"capacity" env:"CAPACITY"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// SharedCacheConfig Redis 共享层配置
type SharedCacheConfig struct {
	Enabled   bool                `yaml:"enabled" env:"ENABLED"`
	TTL       time.Duration       `yaml:"ttl" env:"TTL"`
	KeyPrefix string              `yaml:"key_prefix" env:"KEY_PREFIX"`
	Semantic  SemanticMatchConfig `yaml:"semantic" env:"SEMANTIC"`
}

// SemanticMatchConfig 语义近似匹配配置
type SemanticMatchConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 余弦相似度阈值
	Threshold float64 `yaml:"threshold" env:"THRESHOLD"`
	// 语义命中是否视同精确命中（否则响应带近似标记）
	Authoritative bool `yaml:"authoritative" env:"AUTHORITATIVE"`
	// 单次近邻扫描的候选上限
	MaxCandidates int `yaml:"max_candidates" env:"MAX_CANDIDATES"`
	// 每轮 SCAN 的 COUNT 提示值
	ScanCount int64 `yaml:"scan_count" env:"SCAN_COUNT"`
}

// ArchiveCacheConfig 长尾归档层配置
type ArchiveCacheConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 后端类型: gorm, mongo
	Backend string        `yaml:"backend" env:"BACKEND"`
	TTL     time.Duration `yaml:"ttl" env:"TTL"`
}

// RoutingConfig 路由评分配置
type RoutingConfig struct {
	// 三项子分权重，之和必须为 1
	CostWeight        float64 `yaml:"cost_weight" env:"COST_WEIGHT"`
	PerfWeight        float64 `yaml:"perf_weight" env:"PERF_WEIGHT"`
	ReliabilityWeight float64 `yaml:"reliability_weight" env:"RELIABILITY_WEIGHT"`
	// 单次未命中调用的最大上游尝试数
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
}

// BreakerConfig 熔断与健康追踪配置
type BreakerConfig struct {
	// 连续失败多少次后熔断
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// Open -> HalfOpen 的冷却时长
	Cooldown time.Duration `yaml:"cooldown" env:"COOLDOWN"`
	// 延迟 EWMA 衰减系数
	EWMAAlpha float64 `yaml:"ewma_alpha" env:"EWMA_ALPHA"`
	// 主动探活间隔，0 表示关闭
	ProbeInterval time.Duration `yaml:"probe_interval" env:"PROBE_INTERVAL"`
}

// DispatchConfig 请求调度配置
type DispatchConfig struct {
	// 单次上游调用超时
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	// 整个请求（含降级链）的总预算
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// 异步嵌入调用超时
	EmbedTimeout time.Duration `yaml:"embed_timeout" env:"EMBED_TIMEOUT"`
	// 进程内向量备忘容量
	MemoCapacity int `yaml:"memo_capacity" env:"MEMO_CAPACITY"`
}

// EmbeddingConfig 嵌入客户端配置
type EmbeddingConfig struct {
	Enabled    bool          `yaml:"enabled" env:"ENABLED"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	Model      string        `yaml:"model" env:"MODEL"`
	Dimensions int           `yaml:"dimensions" env:"DIMENSIONS"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// ProviderConfig 单个上游 Provider 配置
type ProviderConfig struct {
	// 名称，需全局唯一
	Name string `yaml:"name"`
	// 适配器类型: openai, anthropic
	Type string `yaml:"type"`
	// 基础 URL，留空用适配器默认值
	BaseURL string `yaml:"base_url"`
	// API Key
	APIKey string `yaml:"api_key"`
	// 默认模型（请求未指定时使用）
	Model string `yaml:"model"`
	// HTTP 客户端超时
	Timeout time.Duration `yaml:"timeout"`
	// 能力列表，为空视为仅支持 chat
	Capabilities []string `yaml:"capabilities"`
	// 每千 Token 的美元价格，用于成本评分
	InputPrice  float64 `yaml:"input_price"`
	OutputPrice float64 `yaml:"output_price"`
}

// PoolConfig 后台工作池配置
type PoolConfig struct {
	// 最大 worker 数
	Workers int `yaml:"workers" env:"WORKERS"`
	// 任务队列长度
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// worker 空闲回收时间
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 命令最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 后台健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig Mongo 归档后端配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 连接超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
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
}

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "GATEFLOW",
		validators: make([]func(*Config) error, 0),
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
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
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

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
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
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server addr must not be empty")
	}
	if c.Server.MaxConns < 0 {
		errs = append(errs, "server max_conns must be non-negative")
	}

	if c.Cache.Hot.Enabled && c.Cache.Hot.Capacity <= 0 {
		errs = append(errs, "hot cache capacity must be positive")
	}
	if c.Cache.Shared.Semantic.Enabled {
		if c.Cache.Shared.Semantic.Threshold <= 0 || c.Cache.Shared.Semantic.Threshold > 1 {
			errs = append(errs, "semantic threshold must be in (0, 1]")
		}
	}
	switch c.Cache.Archive.Backend {
	case "", "gorm", "mongo":
	default:
		errs = append(errs, fmt.Sprintf("unknown archive backend %q", c.Cache.Archive.Backend))
	}

	sum := c.Routing.CostWeight + c.Routing.PerfWeight + c.Routing.ReliabilityWeight
	if sum < 0.999 || sum > 1.001 {
		errs = append(errs, fmt.Sprintf("routing weights must sum to 1, got %.3f", sum))
	}
	if c.Routing.MaxAttempts <= 0 {
		errs = append(errs, "routing max_attempts must be positive")
	}

	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, "breaker failure_threshold must be positive")
	}
	if c.Breaker.EWMAAlpha <= 0 || c.Breaker.EWMAAlpha > 1 {
		errs = append(errs, "breaker ewma_alpha must be in (0, 1]")
	}

	if c.Dispatch.CallTimeout <= 0 {
		errs = append(errs, "dispatch call_timeout must be positive")
	}
	if c.Dispatch.RequestTimeout < c.Dispatch.CallTimeout {
		errs = append(errs, "dispatch request_timeout must not be shorter than call_timeout")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, "provider name must not be empty")
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("duplicate provider name %q", p.Name))
		}
		seen[p.Name] = true
		switch p.Type {
		case "openai", "anthropic":
		default:
			errs = append(errs, fmt.Sprintf("provider %s: unknown type %q", p.Name, p.Type))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
