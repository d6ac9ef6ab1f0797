// =============================================================================
// 📦 roadmapflow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Workflow:  DefaultWorkflowConfig(),
		Content:   DefaultContentConfig(),
		Agent:     DefaultAgentConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Mongo:     DefaultMongoConfig(),
		Store:     DefaultStoreConfig(),
		Queue:     DefaultQueueConfig(),
		MQTT:      DefaultMQTTConfig(),
		Notify:    DefaultNotifyConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxConnections:  1000,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultWorkflowConfig 返回默认工作流配置
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		MaxRetry:          3,
		ReviewTimeout:     24 * time.Hour,
		RoadmapIDAttempts: 5,
	}
}

// DefaultContentConfig 返回默认内容生成配置
func DefaultContentConfig() ContentConfig {
	return ContentConfig{
		Concurrency: 4,
		MinQuota:    1,
	}
}

// DefaultAgentConfig 返回默认 Agent 配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		BaseURL:         "http://localhost:9000",
		Timeout:         2 * time.Minute,
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Idempotency: IdempotencyConfig{
			Enabled:  true,
			Backend:  "memory",
			TTL:      time.Hour,
			Capacity: 10000,
		},
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "roadmapflow",
		Password:        "",
		Name:            "roadmapflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "roadmapflow",
		Collection: "checkpoints",
	}
}

// DefaultStoreConfig 返回默认存储配置（全部内存，适合开发）
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Tasks:       "memory",
		Checkpoints: "memory",
		Catalog:     "memory",
		KeyPrefix:   "roadmapflow:",
	}
}

// DefaultQueueConfig 返回默认队列配置
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Backend:        "memory",
		KeyPrefix:      "roadmapflow:queue:",
		PollTimeout:    time.Second,
		MaxParallel:    4,
		DrainTimeout:   30 * time.Second,
		RecoverOnStart: true,
		LeaseTTL:       30 * time.Second,
		LockWait:       5 * time.Second,
	}
}

// DefaultMQTTConfig 返回默认 MQTT 配置
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		BrokerURL:   "tcp://localhost:1883",
		ClientID:    "roadmapflow",
		TopicPrefix: "roadmapflow/tasks",
		QoS:         1,
		Timeout:     5 * time.Second,
	}
}

// DefaultNotifyConfig 返回默认通知配置
func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{
		ChannelPrefix: "roadmapflow:events:",
		BufferSize:    64,
		Log:           true,
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
		ServiceName:  "roadmapflow",
		SampleRate:   0.1,
	}
}
