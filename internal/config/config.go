package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Kafka    KafkaConfig
	Realtime RealtimeConfig
}

var (
	configInstance *Config
	once           sync.Once
)

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	DSN string
}

type RedisConfig struct {
	URI          string
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

type JWTConfig struct {
	Secret         string
	ExpirationTime time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Enabled bool
}

// RealtimeConfig exposes the realtime core's tunables. These defaults come
// from the production deployment; treat them as knobs, not law.
type RealtimeConfig struct {
	MaxBatchSize            int
	BatchTimeout            time.Duration
	DedupHorizon            time.Duration
	PointDedupWindow        time.Duration
	NotificationDedupWindow time.Duration
	UnicastThreshold        int
	EphemeralRoomTTL        time.Duration
	OfflineGrace            time.Duration
	ReaperInterval          time.Duration
	SilenceTimeout          time.Duration
	OfflineRetention        time.Duration
	ReaperBatchLimit        int
	AdminUsers              []string
}

func LoadConfig() (*Config, error) {
	once.Do(func() {
		viper.SetDefault("SERVER_PORT", "5000")
		viper.SetDefault("SERVER_READ_TIMEOUT", 30*time.Second)
		viper.SetDefault("SERVER_WRITE_TIMEOUT", 30*time.Second)
		viper.SetDefault("SERVER_IDLE_TIMEOUT", 60*time.Second)
		viper.SetDefault("JWT_SECRET", "secret")
		viper.SetDefault("JWT_EXPIRE", "24h")
		viper.SetDefault("MYSQL_DSN", "root:password@tcp(127.0.0.1:3306)/hogwarts?charset=utf8mb4&parseTime=True&loc=Local")
		viper.SetDefault("REDIS_URL", "redis://127.0.0.1:6379/0")
		viper.SetDefault("REDIS_MAX_RETRIES", 3)
		viper.SetDefault("REDIS_POOL_SIZE", 100)
		viper.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
		viper.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
		viper.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
		viper.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
		viper.SetDefault("KAFKA_BROKERS", "")
		viper.SetDefault("KAFKA_TOPIC", "house-points")
		viper.SetDefault("KAFKA_GROUP_ID", "be-web-realtime")
		viper.SetDefault("ADMIN_USERS_CSV", "hungpro,vipro")
		viper.SetDefault("RT_MAX_BATCH_SIZE", 10)
		viper.SetDefault("RT_BATCH_TIMEOUT", 100*time.Millisecond)
		viper.SetDefault("RT_DEDUP_HORIZON", 30*time.Second)
		viper.SetDefault("RT_POINT_DEDUP_WINDOW", 5*time.Second)
		viper.SetDefault("RT_NOTIFICATION_DEDUP_WINDOW", 60*time.Second)
		viper.SetDefault("RT_UNICAST_THRESHOLD", 20)
		viper.SetDefault("RT_EPHEMERAL_ROOM_TTL", 5*time.Second)
		viper.SetDefault("RT_OFFLINE_GRACE", 5*time.Second)
		viper.SetDefault("RT_REAPER_INTERVAL", 45*time.Second)
		viper.SetDefault("RT_SILENCE_TIMEOUT", 2*time.Minute)
		viper.SetDefault("RT_OFFLINE_RETENTION", 24*time.Hour)
		viper.SetDefault("RT_REAPER_BATCH_LIMIT", 500)
		viper.AutomaticEnv()

		var brokers []string
		if raw := viper.GetString("KAFKA_BROKERS"); raw != "" {
			brokers = strings.Split(raw, ",")
		}

		configInstance = &Config{
			Server: ServerConfig{
				Host:         viper.GetString("SERVER_HOST"),
				Port:         viper.GetString("SERVER_PORT"),
				ReadTimeout:  viper.GetDuration("SERVER_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("SERVER_WRITE_TIMEOUT"),
				IdleTimeout:  viper.GetDuration("SERVER_IDLE_TIMEOUT"),
			},
			Database: DatabaseConfig{
				DSN: viper.GetString("MYSQL_DSN"),
			},
			Redis: RedisConfig{
				URI:          viper.GetString("REDIS_URL"),
				MaxRetries:   viper.GetInt("REDIS_MAX_RETRIES"),
				DialTimeout:  viper.GetDuration("REDIS_DIAL_TIMEOUT"),
				ReadTimeout:  viper.GetDuration("REDIS_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("REDIS_WRITE_TIMEOUT"),
				PoolSize:     viper.GetInt("REDIS_POOL_SIZE"),
				MinIdleConns: viper.GetInt("REDIS_MIN_IDLE_CONNS"),
			},
			JWT: JWTConfig{
				Secret:         viper.GetString("JWT_SECRET"),
				ExpirationTime: viper.GetDuration("JWT_EXPIRE"),
			},
			Kafka: KafkaConfig{
				Brokers: brokers,
				Topic:   viper.GetString("KAFKA_TOPIC"),
				GroupID: viper.GetString("KAFKA_GROUP_ID"),
				Enabled: len(brokers) > 0,
			},
			Realtime: RealtimeConfig{
				MaxBatchSize:            viper.GetInt("RT_MAX_BATCH_SIZE"),
				BatchTimeout:            viper.GetDuration("RT_BATCH_TIMEOUT"),
				DedupHorizon:            viper.GetDuration("RT_DEDUP_HORIZON"),
				PointDedupWindow:        viper.GetDuration("RT_POINT_DEDUP_WINDOW"),
				NotificationDedupWindow: viper.GetDuration("RT_NOTIFICATION_DEDUP_WINDOW"),
				UnicastThreshold:        viper.GetInt("RT_UNICAST_THRESHOLD"),
				EphemeralRoomTTL:        viper.GetDuration("RT_EPHEMERAL_ROOM_TTL"),
				OfflineGrace:            viper.GetDuration("RT_OFFLINE_GRACE"),
				ReaperInterval:          viper.GetDuration("RT_REAPER_INTERVAL"),
				SilenceTimeout:          viper.GetDuration("RT_SILENCE_TIMEOUT"),
				OfflineRetention:        viper.GetDuration("RT_OFFLINE_RETENTION"),
				ReaperBatchLimit:        viper.GetInt("RT_REAPER_BATCH_LIMIT"),
				AdminUsers:              strings.Split(viper.GetString("ADMIN_USERS_CSV"), ","),
			},
		}
	})

	return configInstance, nil
}
