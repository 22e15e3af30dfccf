package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	ShipTrack ShipTrackConfig `yaml:"shiptrack"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	ShipmentEventsTopicName string `yaml:"shipment_events_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type UserConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

type ShipTrackConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	WorkerHTTPAddr     string `yaml:"worker_http_addr"`
	StorageDriver      string `yaml:"storage_driver"` // "postgres" (default) | "memory"
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	LogLevel           string `yaml:"log_level"`

	TrackCacheTTLSeconds    int `yaml:"track_cache_ttl_seconds"`
	TrackRateLimitPerMinute int `yaml:"track_rate_limit_per_minute"`

	SweepSchedule   string `yaml:"sweep_schedule"`
	SweepBatchSize  int    `yaml:"sweep_batch_size"`
	SweepMaxBatches int    `yaml:"sweep_max_batches"`

	JWTSecret       string       `yaml:"jwt_secret"`
	TokenTTLSeconds int          `yaml:"token_ttl_seconds"`
	Users           []UserConfig `yaml:"users"`
}

// secrets read from the environment; they win over the YAML values when set
type envOverrides struct {
	JWTSecret  string `env:"SHIPTRACK_JWT_SECRET"`
	DBPassword string `env:"SHIPTRACK_DB_PASSWORD"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if err := config.applyEnv(os.Getenv("SHIPTRACK_ENV_FILE")); err != nil {
		return nil, err
	}
	config.applyDefaults()
	return &config, nil
}

// applyEnv loads an optional dotenv file and overlays the secrets. A missing default ".env" is fine;
// an explicitly named file must exist.
func (c *Config) applyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}

	var o envOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	if o.JWTSecret != "" {
		c.ShipTrack.JWTSecret = o.JWTSecret
	}
	if o.DBPassword != "" {
		c.Database.Password = o.DBPassword
	}
	return nil
}

func (c *Config) applyDefaults() {
	st := &c.ShipTrack
	if st.HTTPAddr == "" {
		st.HTTPAddr = ":8080"
	}
	if st.WorkerHTTPAddr == "" {
		st.WorkerHTTPAddr = ":8081"
	}
	if st.StorageDriver == "" {
		st.StorageDriver = StorageDriverPostgres
	}
	if st.KafkaConsumerGroup == "" {
		st.KafkaConsumerGroup = "shiptrack-api"
	}
	if st.LogLevel == "" {
		st.LogLevel = "info"
	}
	if c.Kafka.ShipmentEventsTopicName == "" {
		c.Kafka.ShipmentEventsTopicName = "shipment.events"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
}

func (c *Config) PostgresConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.Username, c.Database.Password),
		Host:     net.JoinHostPort(c.Database.Host, strconv.Itoa(c.Database.Port)),
		Path:     "/" + c.Database.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.Database.SSLMode),
	}
	return u.String()
}

// RedisAddr is empty when no redis host is configured.
func (c *Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return net.JoinHostPort(c.Redis.Host, strconv.Itoa(c.Redis.Port))
}

// KafkaBrokers is empty when no kafka host is configured.
func (c *Config) KafkaBrokers() []string {
	if c.Kafka.Host == "" {
		return nil
	}
	return []string{net.JoinHostPort(c.Kafka.Host, strconv.Itoa(c.Kafka.Port))}
}

func (c ShipTrackConfig) TrackCacheTTL() time.Duration {
	return time.Duration(c.TrackCacheTTLSeconds) * time.Second
}

func (c ShipTrackConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}
