// =============================================================================
// 📦 roadmapflow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
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

// DefaultEnvPrefix 环境变量前缀，例如 ROADMAPFLOW_WORKFLOW_MAX_RETRY
const DefaultEnvPrefix = "ROADMAPFLOW"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 roadmapflow 的完整配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Workflow  WorkflowConfig  `yaml:"workflow" env:"WORKFLOW"`
	Content   ContentConfig   `yaml:"content" env:"CONTENT"`
	Agent     AgentConfig     `yaml:"agent" env:"AGENT"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Mongo     MongoConfig     `yaml:"mongo" env:"MONGO"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Queue     QueueConfig     `yaml:"queue" env:"QUEUE"`
	MQTT      MQTTConfig      `yaml:"mqtt" env:"MQTT"`
	Notify    NotifyConfig    `yaml:"notify" env:"NOTIFY"`
	Auth      AuthConfig      `yaml:"auth" env:"AUTH"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 最大并发连接数，0 表示不限制
	MaxConnections int `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	// 每秒请求数限制（可热更新）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求上限（可热更新）
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// WorkflowConfig 路由与审核配置
type WorkflowConfig struct {
	// 校验失败后的最大修改次数
	MaxRetry int `yaml:"max_retry" env:"MAX_RETRY"`
	// 修改总次数上限（含审核驳回），0 表示 2*max_retry
	MaxTotalEdits int `yaml:"max_total_edits" env:"MAX_TOTAL_EDITS"`

	SkipValidation  bool `yaml:"skip_validation" env:"SKIP_VALIDATION"`
	SkipHumanReview bool `yaml:"skip_human_review" env:"SKIP_HUMAN_REVIEW"`
	// 审核超时提示阈值，仅用于 stale-reviews 与状态查询
	ReviewTimeout time.Duration `yaml:"review_timeout" env:"REVIEW_TIMEOUT"`
	// roadmap_id 冲突重试次数
	RoadmapIDAttempts int `yaml:"roadmap_id_attempts" env:"ROADMAP_ID_ATTEMPTS"`
}

// ContentConfig 内容生成配置
type ContentConfig struct {
	// 同时生成的概念数
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
	// Key 最低剩余配额
	MinQuota      int  `yaml:"min_quota" env:"MIN_QUOTA"`
	SkipTutorial  bool `yaml:"skip_tutorial" env:"SKIP_TUTORIAL"`
	SkipResources bool `yaml:"skip_resources" env:"SKIP_RESOURCES"`
	SkipQuiz      bool `yaml:"skip_quiz" env:"SKIP_QUIZ"`
}

// AgentConfig 远程 Agent 服务配置
type AgentConfig struct {
	// Agent 服务地址
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// Bearer Token
	APIToken string `yaml:"api_token" env:"API_TOKEN"`
	// 单次调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 客户端侧限速
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" env:"BURST"`
	// 限流类错误的重试
	MaxRetries      int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialInterval time.Duration `yaml:"initial_interval" env:"INITIAL_INTERVAL"`
	MaxInterval     time.Duration `yaml:"max_interval" env:"MAX_INTERVAL"`
	// 幂等缓存
	Idempotency IdempotencyConfig `yaml:"idempotency" env:"IDEMPOTENCY"`
}

// IdempotencyConfig Agent 调用幂等缓存
type IdempotencyConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// memory / redis
	Backend  string        `yaml:"backend" env:"BACKEND"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
	Capacity uint64        `yaml:"capacity" env:"CAPACITY"`
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
	// 启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
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
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时执行迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// MongoConfig MongoDB 配置（检查点文档存储）
type MongoConfig struct {
	URI        string `yaml:"uri" env:"URI"`
	Database   string `yaml:"database" env:"DATABASE"`
	Collection string `yaml:"collection" env:"COLLECTION"`
}

// StoreConfig 各存储族的后端选择
type StoreConfig struct {
	// memory / redis / database
	Tasks string `yaml:"tasks" env:"TASKS"`
	// memory / redis / database / mongo
	Checkpoints string `yaml:"checkpoints" env:"CHECKPOINTS"`
	// memory / database
	Catalog string `yaml:"catalog" env:"CATALOG"`
	// Redis key 前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 检查点过期时间（仅 redis）
	CheckpointTTL time.Duration `yaml:"checkpoint_ttl" env:"CHECKPOINT_TTL"`
}

// QueueConfig 作业队列与 worker 配置
type QueueConfig struct {
	// memory / redis
	Backend   string `yaml:"backend" env:"BACKEND"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// BLMOVE 单次阻塞时长
	PollTimeout time.Duration `yaml:"poll_timeout" env:"POLL_TIMEOUT"`
	// worker 并发度
	MaxParallel    int           `yaml:"max_parallel" env:"MAX_PARALLEL"`
	DrainTimeout   time.Duration `yaml:"drain_timeout" env:"DRAIN_TIMEOUT"`
	RecoverOnStart bool          `yaml:"recover_on_start" env:"RECOVER_ON_START"`
	// 消费者与任务租约时长；worker 失联超过该时长后其作业才会被其他 worker 接管
	LeaseTTL time.Duration `yaml:"lease_ttl" env:"LEASE_TTL"`
	// 任务租约被占用时的最长等待
	LockWait time.Duration `yaml:"lock_wait" env:"LOCK_WAIT"`
}

// MQTTConfig MQTT 进度推送配置
type MQTTConfig struct {
	Enabled     bool          `yaml:"enabled" env:"ENABLED"`
	BrokerURL   string        `yaml:"broker_url" env:"BROKER_URL"`
	ClientID    string        `yaml:"client_id" env:"CLIENT_ID"`
	Username    string        `yaml:"username" env:"USERNAME"`
	Password    string        `yaml:"password" env:"PASSWORD"`
	TopicPrefix string        `yaml:"topic_prefix" env:"TOPIC_PREFIX"`
	QoS         byte          `yaml:"qos" env:"QOS"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// NotifyConfig 进度通知配置
type NotifyConfig struct {
	// 通过 Redis Pub/Sub 跨进程转发事件
	Redis bool `yaml:"redis" env:"REDIS"`
	// Pub/Sub 频道前缀
	ChannelPrefix string `yaml:"channel_prefix" env:"CHANNEL_PREFIX"`
	// 每个 WebSocket 订阅者的缓冲区
	BufferSize int `yaml:"buffer_size" env:"BUFFER_SIZE"`
	// 事件同时写入日志
	Log bool `yaml:"log" env:"LOG"`
}

// AuthConfig 审核人认证配置
type AuthConfig struct {
	// HMAC 签名密钥，为空时不校验（仅限开发环境）
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error（可热更新）
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

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
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

// ConfigPath returns the file the loader reads, if any.
func (l *Loader) ConfigPath() string { return l.configPath }

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量，最后执行 Validate 与自定义验证器
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
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

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

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

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, "rate limit must not be negative")
	}

	if c.Workflow.MaxRetry < 1 {
		errs = append(errs, "workflow.max_retry must be at least 1")
	}
	if c.Workflow.MaxTotalEdits != 0 && c.Workflow.MaxTotalEdits < c.Workflow.MaxRetry {
		errs = append(errs, "workflow.max_total_edits must be 0 or at least max_retry")
	}
	if c.Workflow.ReviewTimeout < 0 {
		errs = append(errs, "workflow.review_timeout must not be negative")
	}

	if c.Content.Concurrency < 1 {
		errs = append(errs, "content.concurrency must be at least 1")
	}
	if c.Content.SkipTutorial && c.Content.SkipResources && c.Content.SkipQuiz {
		errs = append(errs, "content: at least one content type must be enabled")
	}

	if c.Agent.Idempotency.Enabled && !oneOf(c.Agent.Idempotency.Backend, "memory", "redis") {
		errs = append(errs, "agent.idempotency.backend must be memory or redis")
	}

	if !oneOf(c.Store.Tasks, "memory", "redis", "database") {
		errs = append(errs, "store.tasks must be memory, redis or database")
	}
	if !oneOf(c.Store.Checkpoints, "memory", "redis", "database", "mongo") {
		errs = append(errs, "store.checkpoints must be memory, redis, database or mongo")
	}
	if !oneOf(c.Store.Catalog, "memory", "database") {
		errs = append(errs, "store.catalog must be memory or database")
	}
	if !oneOf(c.Queue.Backend, "memory", "redis") {
		errs = append(errs, "queue.backend must be memory or redis")
	}
	if c.Queue.MaxParallel < 1 {
		errs = append(errs, "queue.max_parallel must be at least 1")
	}
	if c.Queue.LeaseTTL < time.Second {
		errs = append(errs, "queue.lease_ttl must be at least 1s")
	}
	if c.NeedsDatabase() && !oneOf(c.Database.Driver, "postgres", "mysql", "sqlite") {
		errs = append(errs, "database.driver must be postgres, mysql or sqlite")
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		errs = append(errs, "mqtt.broker_url is required when mqtt is enabled")
	}
	if !oneOf(c.Log.Level, "debug", "info", "warn", "error") {
		errs = append(errs, "log.level must be debug, info, warn or error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// NeedsRedis reports whether any component is configured to use Redis.
func (c *Config) NeedsRedis() bool {
	return c.Store.Tasks == "redis" || c.Store.Checkpoints == "redis" ||
		c.Queue.Backend == "redis" || c.Notify.Redis ||
		(c.Agent.Idempotency.Enabled && c.Agent.Idempotency.Backend == "redis")
}

// NeedsDatabase reports whether any store family uses the relational database.
func (c *Config) NeedsDatabase() bool {
	return c.Store.Tasks == "database" || c.Store.Checkpoints == "database" || c.Store.Catalog == "database"
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
