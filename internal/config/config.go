// Package config loads the service configuration from defaults, an
// optional YAML file and VARIANTLY_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite", "postgres", "redis".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// DSN is the SQLite path or Postgres DSN for the SQL backends.
	DSN   string      `mapstructure:"dsn" yaml:"dsn"`
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig represents Redis connection configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address" yaml:"address"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// AnalyticsConfig selects and configures the analytics sink.
type AnalyticsConfig struct {
	// Sink is one of "none", "log", "kafka".
	Sink  string      `mapstructure:"sink" yaml:"sink"`
	Kafka KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
}

// KafkaConfig represents Kafka producer configuration.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

// Config represents the application configuration.
type Config struct {
	LogLevel  string          `mapstructure:"log_level" yaml:"log_level"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Analytics AnalyticsConfig `mapstructure:"analytics" yaml:"analytics"`
}

// LoadConfig loads the application configuration.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.dsn", "variantly.db")
	v.SetDefault("store.redis.address", "localhost:6379")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("analytics.sink", "log")
	v.SetDefault("analytics.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("analytics.kafka.topic", "variantly.events")

	v.SetConfigName("variantly")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/variantly")

	v.SetEnvPrefix("VARIANTLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
