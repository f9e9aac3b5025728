// Package config loads server configuration from a CONFIG_ENV-selected YAML
// file over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds every recognized option from spec.md §6.
type Config struct {
	Host              string `mapstructure:"host"`
	TCPPort           int    `mapstructure:"tcp_port"`
	UDPPort           int    `mapstructure:"udp_port"`
	MaxFrameBytes     int    `mapstructure:"max_frame_bytes"`
	MaxMeetings       int    `mapstructure:"max_meetings"`
	SessionQueueBytes int64  `mapstructure:"session_queue_bytes"`
	InitialSsthresh   int    `mapstructure:"initial_ssthresh"`
	BaseChunkBytes    int    `mapstructure:"base_chunk_bytes"`
	AckTimeoutMs      int    `mapstructure:"ack_timeout_ms"`
	MaxRetries        int    `mapstructure:"max_retries"`
	IdleTimeoutMs     int    `mapstructure:"idle_timeout_ms"`

	AdminPort   int    `mapstructure:"admin_port"`
	AdminSecret string `mapstructure:"admin_secret"`
}

func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutMs) * time.Millisecond
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// Load mirrors the teacher's config.Load: a CONFIG_ENV-selected YAML file with
// defaults, unmarshalled into a typed struct. Missing config files are not
// fatal — defaults apply and the file is reported once.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("tcp_port", 5000)
	v.SetDefault("udp_port", 5001)
	v.SetDefault("max_frame_bytes", 32*1024*1024)
	v.SetDefault("max_meetings", 10000)
	v.SetDefault("session_queue_bytes", 64*1024*1024)
	v.SetDefault("initial_ssthresh", 8)
	v.SetDefault("base_chunk_bytes", 8192)
	v.SetDefault("ack_timeout_ms", 2000)
	v.SetDefault("max_retries", 5)
	v.SetDefault("idle_timeout_ms", 120000)
	v.SetDefault("admin_port", 8090)
	v.SetDefault("admin_secret", "change-me")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		log.Info().Str("module", "config").Msg("config file changed on disk; restart to apply listener changes")
	})
	v.WatchConfig()

	log.Info().Str("module", "config").
		Str("host", cfg.Host).
		Int("tcp_port", cfg.TCPPort).
		Int("udp_port", cfg.UDPPort).
		Int("admin_port", cfg.AdminPort).
		Msg("config ready")

	return &cfg, nil
}
