package config

import (
	"net"
	"strconv"
	"time"

	"github.com/af-corp/thinkrelay/internal/pricing"
	"github.com/af-corp/thinkrelay/internal/provider"
	"github.com/af-corp/thinkrelay/internal/stream"
)

// Config is one immutable configuration snapshot. Callers must not modify a
// snapshot obtained from a Loader.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Stream    StreamConfig    `yaml:"stream"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host             string        `yaml:"host" validate:"required"`
	Port             int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	CORS             CORSConfig    `yaml:"cors"`
}

func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

type PricingConfig struct {
	DeepSeek  pricing.ReasoningPricing `yaml:"deepseek"`
	Anthropic pricing.ResponsePricing  `yaml:"anthropic"`
}

type StreamConfig struct {
	ChannelCapacity int `yaml:"channel_capacity" validate:"min=1"`
}

type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + net.JoinHostPort(d.Host, strconv.Itoa(d.Port)) + "/" + d.Name + "?sslmode=disable"
}

type RedisConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat string `yaml:"log_format"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             3000,
			ReadTimeout:      30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-DeepSeek-API-Token", "X-Anthropic-API-Token"},
			},
		},
		Providers: ProvidersConfig{
			Reasoning: EndpointConfig{BaseURL: provider.DeepSeekURL},
			Response:  EndpointConfig{BaseURL: provider.AnthropicURL},
		},
		Pricing: PricingConfig{
			DeepSeek:  pricing.DefaultReasoning(),
			Anthropic: pricing.DefaultResponse(),
		},
		Stream: StreamConfig{ChannelCapacity: stream.DefaultCapacity},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "thinkrelay",
			User:            "thinkrelay",
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			PoolSize:  20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}
