package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Scheduler   SchedulerConfig
	Store       StoreConfig
	Redis       RedisConfig
	Database    DatabaseConfig
	Generation  GenerationConfig
	PostProcess PostProcessConfig
	Upload      UploadConfig
	Storage     StorageConfig
	YouTube     YouTubeConfig
	Metadata    MetadataConfig
	Notify      NotifyConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig
	Tracing     TracingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	UploadDir       string
	MaxUploadBytes  int64
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	JWTSecret string
}

// RateLimitConfig holds per-user API rate limits
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// SchedulerConfig holds the pipeline scheduler configuration
type SchedulerConfig struct {
	Interval           time.Duration
	GenerationLeadTime time.Duration
	MaxConcurrentUsers int
	WorkDir            string
	RemoveAfterUpload  bool
}

// StoreConfig selects the persistent queue store backend
type StoreConfig struct {
	Backend string // file, redis, postgres
	Dir     string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// GenerationConfig holds the AI video generation backend configuration
type GenerationConfig struct {
	BaseURL      string
	APIToken     string
	Model        string
	PollInterval time.Duration
	Timeout      time.Duration
	OutputDir    string
}

// PostProcessConfig holds ffmpeg post-processing configuration
type PostProcessConfig struct {
	FFmpegPath string
	FontPath   string
	OutputDir  string
	MusicDir   string // background tracks jobs may reference
}

// UploadConfig selects the publish backend
type UploadConfig struct {
	Backend string // youtube, objectstore
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	URLExpiry       time.Duration
}

// YouTubeConfig holds OAuth client configuration for YouTube uploads
type YouTubeConfig struct {
	ClientID     string
	ClientSecret string
	CategoryID   string
}

// MetadataConfig holds the OpenAI metadata writer configuration
type MetadataConfig struct {
	Enabled bool
	APIKey  string
	Model   string
}

// NotifyConfig holds batch completion notification targets
type NotifyConfig struct {
	Timeout       time.Duration
	WebhookURL    string
	WebhookSecret string
	AMQP          AMQPConfig
	SMS           SMSConfig
}

// AMQPConfig holds RabbitMQ configuration for batch events
type AMQPConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
	Exchange string
}

// SMSConfig holds Twilio configuration for batch summaries
type SMSConfig struct {
	Enabled    bool
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	JaegerEndpoint string
	SampleRate     float64
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Scheduler.GenerationLeadTime < 0 {
		return fmt.Errorf("scheduler.generationLeadTime must not be negative")
	}
	switch c.Store.Backend {
	case "file", "redis", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Upload.Backend {
	case "youtube", "objectstore":
	default:
		return fmt.Errorf("unknown upload backend %q", c.Upload.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "5m")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.uploadDir", "/tmp/shorts/uploads")
	v.SetDefault("server.maxUploadBytes", 512*1024*1024) // 512MB

	v.SetDefault("auth.jwtSecret", "")

	v.SetDefault("rateLimit.requestsPerSecond", 10)
	v.SetDefault("rateLimit.burst", 20)

	// Scheduler defaults
	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.generationLeadTime", "5m")
	v.SetDefault("scheduler.maxConcurrentUsers", 4)
	v.SetDefault("scheduler.workDir", "/tmp/shorts/work")
	v.SetDefault("scheduler.removeAfterUpload", true)

	// Store defaults
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.dir", "./data/queues")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.keyPrefix", "shorts")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "shorts")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 1)

	// Generation defaults
	v.SetDefault("generation.baseURL", "https://api.replicate.com/v1")
	v.SetDefault("generation.model", "")
	v.SetDefault("generation.pollInterval", "5s")
	v.SetDefault("generation.timeout", "10m")
	v.SetDefault("generation.outputDir", "/tmp/shorts/generated")

	// Post-processing defaults
	v.SetDefault("postprocess.ffmpegPath", "ffmpeg")
	v.SetDefault("postprocess.fontPath", "")
	v.SetDefault("postprocess.outputDir", "/tmp/shorts/processed")
	v.SetDefault("postprocess.musicDir", "/var/lib/shorts/music")

	v.SetDefault("upload.backend", "youtube")

	// Storage defaults
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "shorts")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.urlExpiry", "168h")

	v.SetDefault("youtube.categoryID", "22")

	v.SetDefault("metadata.enabled", false)
	v.SetDefault("metadata.model", "gpt-4o-mini")

	// Notification defaults
	v.SetDefault("notify.timeout", "15s")
	v.SetDefault("notify.amqp.enabled", false)
	v.SetDefault("notify.amqp.host", "localhost")
	v.SetDefault("notify.amqp.port", 5672)
	v.SetDefault("notify.amqp.user", "guest")
	v.SetDefault("notify.amqp.password", "guest")
	v.SetDefault("notify.amqp.vhost", "/")
	v.SetDefault("notify.amqp.exchange", "shorts.events")
	v.SetDefault("notify.sms.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "shorts-scheduler")
	v.SetDefault("tracing.jaegerEndpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.sampleRate", 1.0)
}
