package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Config 同步服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	Sync struct {
		// Change-feed streams consumed by the sync handlers
		Streams struct {
			RealtimeLinks string // realtime link presence created/deleted
			DocLinks      string // DeviceLink document created / status transition
			DeviceDoc     string // Device document updates (desiredConfig)
			DeviceState   string // realtime device-state transitions
			Dispense      string // raw hardware dispense events
			Critical      string // CriticalEvent record creations
		}
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int64
	}

	Tasks struct {
		// Delayed verification queue (Redis sorted set)
		QueueKey     string
		PollInterval time.Duration
		// Fixed delay between alarm onset and dose verification
		VerifyDelay time.Duration
		MaxAttempts int
		// Callback endpoint the dispatcher POSTs due tasks to
		VerifyURL    string
		SharedSecret string
	}

	Push struct {
		GatewayURL string
		Timeout    time.Duration
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量 + 默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "pildhora")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "pildhora-sync")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.Sync.Streams.RealtimeLinks = getEnv("STREAM_RT_LINKS", "pildhora:links:rt")
	cfg.Sync.Streams.DocLinks = getEnv("STREAM_DOC_LINKS", "pildhora:links:doc")
	cfg.Sync.Streams.DeviceDoc = getEnv("STREAM_DEVICE_DOC", "pildhora:device:doc")
	cfg.Sync.Streams.DeviceState = getEnv("STREAM_DEVICE_STATE", "pildhora:device:state")
	cfg.Sync.Streams.Dispense = getEnv("STREAM_DISPENSE", "pildhora:device:dispense")
	cfg.Sync.Streams.Critical = getEnv("STREAM_CRITICAL", "pildhora:critical")
	cfg.Sync.ConsumerGroup = getEnv("SYNC_CONSUMER_GROUP", "pildhora-sync")
	cfg.Sync.ConsumerName = getEnv("SYNC_CONSUMER_NAME", defaultConsumerName())
	cfg.Sync.BatchSize = int64(getEnvInt("SYNC_BATCH_SIZE", 10))

	cfg.Tasks.QueueKey = getEnv("TASKS_QUEUE_KEY", "pildhora:tasks:dose-verify")
	cfg.Tasks.PollInterval = getEnvDuration("TASKS_POLL_INTERVAL", 5*time.Second)
	cfg.Tasks.VerifyDelay = getEnvDuration("TASKS_VERIFY_DELAY", 30*time.Minute)
	cfg.Tasks.MaxAttempts = getEnvInt("TASKS_MAX_ATTEMPTS", 3)
	cfg.Tasks.VerifyURL = getEnv("TASKS_VERIFY_URL", "http://localhost:8090/tasks/api/v1/verify-dose")
	cfg.Tasks.SharedSecret = getEnv("TASKS_SHARED_SECRET", "")

	cfg.Push.GatewayURL = getEnv("PUSH_GATEWAY_URL", "")
	cfg.Push.Timeout = getEnvDuration("PUSH_TIMEOUT", 10*time.Second)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func defaultConsumerName() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "pildhora-sync-1"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
