package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/db"
	"arenaoj/internal/common/mq"
	"arenaoj/internal/common/storage"
	"arenaoj/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	RequiredAcks  int           `yaml:"requiredAcks"`
	Compression   string        `yaml:"compression"`
	JudgeTopic    string        `yaml:"judgeTopic"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	PrefetchCount int           `yaml:"prefetchCount"`
	Concurrency   int           `yaml:"concurrency"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	DeadLetter    string        `yaml:"deadLetterTopic"`
	MessageTTL    time.Duration `yaml:"messageTTL"`
}

// ExecutorConfig holds execution service client settings.
type ExecutorConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	MaxRetries     int           `yaml:"maxRetries"`
	RetryDelay     time.Duration `yaml:"retryDelay"`
	MaxRetryDelay  time.Duration `yaml:"maxRetryDelay"`
	NetworkMargin  time.Duration `yaml:"networkMargin"`
	MaxOutputBytes int64         `yaml:"maxOutputBytes"`
}

// BundleConfig holds problem bundle store settings.
type BundleConfig struct {
	Bucket    string        `yaml:"bucket"`
	KeyPrefix string        `yaml:"keyPrefix"`
	TTL       time.Duration `yaml:"ttl"`
	LockWait  time.Duration `yaml:"lockWait"`
}

// SubmitConfig holds submission intake settings.
type SubmitConfig struct {
	SourceBucket    string        `yaml:"sourceBucket"`
	SourceKeyPrefix string        `yaml:"sourceKeyPrefix"`
	Workers         int           `yaml:"workers"`
	RateLimitMax    int           `yaml:"rateLimitMax"`
	RateLimitWindow time.Duration `yaml:"rateLimitWindow"`
}

// JudgeConfig holds judging pipeline settings.
type JudgeConfig struct {
	MaxCodeBytes int           `yaml:"maxCodeBytes"`
	TimeLimit    time.Duration `yaml:"timeLimit"`
}

// SchedulerConfig holds lifecycle scheduler settings.
type SchedulerConfig struct {
	Horizon       time.Duration `yaml:"horizon"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// RealtimeConfig holds WebSocket endpoint settings.
type RealtimeConfig struct {
	JWTSecret string        `yaml:"jwtSecret"`
	TokenTTL  time.Duration `yaml:"tokenTTL"`
}

// RankingConfig holds leaderboard store settings.
type RankingConfig struct {
	KeyPrefix    string        `yaml:"keyPrefix"`
	RetentionPad time.Duration `yaml:"retentionPad"`
	OpTimeout    time.Duration `yaml:"opTimeout"`
}

// TimeoutsConfig holds per-dependency call timeouts.
type TimeoutsConfig struct {
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	MQ      time.Duration `yaml:"mq"`
	Storage time.Duration `yaml:"storage"`
}

// AppConfig holds arena-server config.
type AppConfig struct {
	Server    ServerConfig        `yaml:"server"`
	Logger    logger.Config       `yaml:"logger"`
	Database  db.Config           `yaml:"database"`
	Redis     cache.RedisConfig   `yaml:"redis"`
	Kafka     KafkaConfig         `yaml:"kafka"`
	MinIO     storage.MinIOConfig `yaml:"minio"`
	Executor  ExecutorConfig      `yaml:"executor"`
	Bundles   BundleConfig        `yaml:"bundles"`
	Submit    SubmitConfig        `yaml:"submit"`
	Judge     JudgeConfig         `yaml:"judge"`
	Scheduler SchedulerConfig     `yaml:"scheduler"`
	Realtime  RealtimeConfig      `yaml:"realtime"`
	Ranking   RankingConfig       `yaml:"ranking"`
	Timeouts  TimeoutsConfig      `yaml:"timeouts"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Database.Driver)) {
	case "", db.DriverMySQL:
		if cfg.Database.MySQL.DSN == "" {
			return nil, fmt.Errorf("database mysql dsn is required")
		}
	case db.DriverPostgreSQL, "postgresql":
		if cfg.Database.Postgres.DSN == "" {
			return nil, fmt.Errorf("database postgres dsn is required")
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	applyRedisDefaults(&cfg.Redis)
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Executor.BaseURL == "" {
		return nil, fmt.Errorf("executor base url is required")
	}
	if cfg.Realtime.JWTSecret == "" {
		return nil, fmt.Errorf("realtime jwt secret is required")
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Kafka.JudgeTopic == "" {
		cfg.Kafka.JudgeTopic = "arena.judge.tasks"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "arena-judge-workers"
	}
	if cfg.Kafka.DeadLetter == "" {
		cfg.Kafka.DeadLetter = "arena.judge.dead"
	}
	if cfg.Bundles.Bucket == "" {
		cfg.Bundles.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Submit.SourceBucket == "" {
		cfg.Submit.SourceBucket = cfg.MinIO.Bucket
	}
	if cfg.Realtime.TokenTTL == 0 {
		cfg.Realtime.TokenTTL = 24 * time.Hour
	}
	return &cfg, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	cfg := mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		ReadTimeout:  k.ReadTimeout,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
	}
	cfg.Compression = parseCompression(k.Compression)
	return cfg
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}
