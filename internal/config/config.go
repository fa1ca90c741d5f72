package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Shopify  ShopifyConfig
	Sync     SyncConfig
	Storage  StorageConfig
	Kafka    KafkaConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port            string
	Mode            string // debug | release | test
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string // silent | error | warn | info
}

type ShopifyConfig struct {
	APIVersion        string
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	Timeout           time.Duration
}

// SyncConfig 同步引擎参数
type SyncConfig struct {
	BatchSize           int
	BatchDelay          time.Duration
	MediaPollTimeout    time.Duration
	MediaPollInterval   time.Duration
	DeleteDetachedMedia bool
	MediaPreflight      bool
	RetryAttempts       int
	RetryBaseDelay      time.Duration

	// 失败重试定时任务
	ScheduleEnabled bool
	RetrySchedule   string
	LocationRefresh string
}

type StorageConfig struct {
	Provider  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string
	CDNDomain string
	BasePath  string
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    []string
	StockTopic string
	EventTopic string
	GroupID    string
}

type LogConfig struct {
	Level    string
	Encoding string
}

// Load 加载配置
// 优先级: 环境变量 > config.yaml > 默认值
// .env 文件 (若存在) 会先被注入到进程环境变量
func Load(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors_origins", "*")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.dsn", "host=localhost user=shopsync password=shopsync dbname=shopsync port=5432 sslmode=disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("shopify.api_version", "2024-10")
	v.SetDefault("shopify.requests_per_second", 2.0)
	v.SetDefault("shopify.burst", 4)
	v.SetDefault("shopify.max_retries", 3)
	v.SetDefault("shopify.timeout", 30*time.Second)

	v.SetDefault("sync.batch_size", 3)
	v.SetDefault("sync.batch_delay", 5*time.Second)
	v.SetDefault("sync.media_poll_timeout", 60*time.Second)
	v.SetDefault("sync.media_poll_interval", time.Second)
	v.SetDefault("sync.delete_detached_media", false)
	v.SetDefault("sync.media_preflight", false)
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("sync.retry_base_delay", 200*time.Millisecond)
	v.SetDefault("sync.schedule_enabled", true)
	v.SetDefault("sync.retry_schedule", "0 */10 * * * *")
	v.SetDefault("sync.location_refresh", "0 0 */6 * * *")

	v.SetDefault("storage.provider", "s3")
	v.SetDefault("storage.base_path", "catalog")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.stock_topic", "inventory.stock-changed")
	v.SetDefault("kafka.event_topic", "catalog.sync-events")
	v.SetDefault("kafka.group_id", "shopify-sync")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			Mode:            v.GetString("server.mode"),
			CORSOrigins:     splitList(v.GetString("server.cors_origins")),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			DSN:             v.GetString("database.dsn"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			LogLevel:        v.GetString("database.log_level"),
		},
		Shopify: ShopifyConfig{
			APIVersion:        v.GetString("shopify.api_version"),
			RequestsPerSecond: v.GetFloat64("shopify.requests_per_second"),
			Burst:             v.GetInt("shopify.burst"),
			MaxRetries:        v.GetInt("shopify.max_retries"),
			Timeout:           v.GetDuration("shopify.timeout"),
		},
		Sync: SyncConfig{
			BatchSize:           v.GetInt("sync.batch_size"),
			BatchDelay:          v.GetDuration("sync.batch_delay"),
			MediaPollTimeout:    v.GetDuration("sync.media_poll_timeout"),
			MediaPollInterval:   v.GetDuration("sync.media_poll_interval"),
			DeleteDetachedMedia: v.GetBool("sync.delete_detached_media"),
			MediaPreflight:      v.GetBool("sync.media_preflight"),
			RetryAttempts:       v.GetInt("sync.retry_attempts"),
			RetryBaseDelay:      v.GetDuration("sync.retry_base_delay"),
			ScheduleEnabled:     v.GetBool("sync.schedule_enabled"),
			RetrySchedule:       v.GetString("sync.retry_schedule"),
			LocationRefresh:     v.GetString("sync.location_refresh"),
		},
		Storage: StorageConfig{
			Provider:  v.GetString("storage.provider"),
			Bucket:    v.GetString("storage.bucket"),
			Region:    v.GetString("storage.region"),
			AccessKey: v.GetString("storage.access_key"),
			SecretKey: v.GetString("storage.secret_key"),
			Endpoint:  v.GetString("storage.endpoint"),
			CDNDomain: v.GetString("storage.cdn_domain"),
			BasePath:  v.GetString("storage.base_path"),
		},
		Kafka: KafkaConfig{
			Enabled:    v.GetBool("kafka.enabled"),
			Brokers:    splitList(v.GetString("kafka.brokers")),
			StockTopic: v.GetString("kafka.stock_topic"),
			EventTopic: v.GetString("kafka.event_topic"),
			GroupID:    v.GetString("kafka.group_id"),
		},
		Log: LogConfig{
			Level:    v.GetString("log.level"),
			Encoding: v.GetString("log.encoding"),
		},
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
