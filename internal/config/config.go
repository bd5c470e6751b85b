// Package config loads the engine's YAML configuration file, with
// NZBENGINE_-prefixed environment variables overriding any field.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/datallboy/gonzb/internal/domain"
)

type Config struct {
	Servers  []ServerConfig `mapstructure:"servers" yaml:"servers"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	ID                  string   `mapstructure:"id" yaml:"id"`
	Host                string   `mapstructure:"host" yaml:"host"`
	Port                int      `mapstructure:"port" yaml:"port"`
	Username            string   `mapstructure:"username" yaml:"username"`
	Password            string   `mapstructure:"password" yaml:"password"`
	TLS                 bool     `mapstructure:"tls" yaml:"tls"`
	InsecureSkipVerify  bool     `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	MaxConnection       int      `mapstructure:"max_connections" yaml:"max_connections"`
	Priority            int      `mapstructure:"priority" yaml:"priority"`
	RetryAttempts       int      `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoffMs      int      `mapstructure:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	ArticleTimeoutMs    int      `mapstructure:"article_timeout_ms" yaml:"article_timeout_ms"`
	SendGroup           bool     `mapstructure:"send_group" yaml:"send_group"`
	FallbackProviderIDs []string `mapstructure:"fallback_provider_ids" yaml:"fallback_provider_ids"`
}

type DownloadConfig struct {
	OutDir             string `mapstructure:"out_dir" yaml:"out_dir"`
	SegmentConcurrency int    `mapstructure:"segment_concurrency" yaml:"segment_concurrency"`
	AutoExtract        bool   `mapstructure:"auto_extract" yaml:"auto_extract"`
}

type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
	MaxSizeMB     int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups    int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// Load reads path (defaulting to "./config.yaml") as YAML, applies
// NZBENGINE_ environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if path == "config.yaml" {
			if _, errEx := os.Stat("config.yaml.example"); errEx == nil {
				return nil, fmt.Errorf("configuration file 'config.yaml' not found\n\n" +
					"to fix this, run:\n" +
					"  cp config.yaml.example config.yaml\n" +
					"then edit it with your Usenet provider credentials")
			}
		}
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	v := viper.New()

	v.SetDefault("download.out_dir", "./downloads")
	v.SetDefault("download.segment_concurrency", 0)
	v.SetDefault("store.sqlite_path", "./data/nzbengine.db")
	v.SetDefault("log.path", "./logs/nzbengine.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	v.SetEnvPrefix("NZBENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("at least one server must be configured")
	}

	ids := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("server[%d] requires a unique id", i)
		}
		if ids[s.ID] {
			return fmt.Errorf("server %s: duplicate id", s.ID)
		}
		ids[s.ID] = true

		if s.Host == "" {
			return fmt.Errorf("server %s: host is required", s.ID)
		}
		if s.Port == 0 {
			return fmt.Errorf("server %s: port is required", s.ID)
		}
		if s.TLS && s.Port == 119 {
			fmt.Printf("warning: server %s has TLS enabled but port set to 119 (standard non-TLS)\n", s.ID)
		}
		if s.MaxConnection <= 0 {
			c.Servers[i].MaxConnection = 10
		}
		if s.Priority == 0 {
			c.Servers[i].Priority = 1
		}
		if s.RetryAttempts <= 0 {
			c.Servers[i].RetryAttempts = 3
		}
		if s.RetryBackoffMs <= 0 {
			c.Servers[i].RetryBackoffMs = 2000
		}
		if s.ArticleTimeoutMs <= 0 {
			c.Servers[i].ArticleTimeoutMs = 15000
		}
	}

	if c.Download.OutDir == "" {
		c.Download.OutDir = "./downloads"
	}

	return nil
}

// ToProviderConfigs converts the parsed server list into the
// domain.ProviderConfig shape internal/pool and internal/fallback consume.
func (c *Config) ToProviderConfigs() []domain.ProviderConfig {
	out := make([]domain.ProviderConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		out = append(out, domain.ProviderConfig{
			ID:                  s.ID,
			Host:                s.Host,
			Port:                s.Port,
			Username:            s.Username,
			Password:            s.Password,
			TLS:                 s.TLS,
			InsecureSkipVerify:  s.InsecureSkipVerify,
			MaxConnection:       s.MaxConnection,
			Priority:            s.Priority,
			RetryAttempts:       s.RetryAttempts,
			RetryBackoffMs:      s.RetryBackoffMs,
			ArticleTimeout:      time.Duration(s.ArticleTimeoutMs) * time.Millisecond,
			SendGroup:           s.SendGroup,
			FallbackProviderIDs: s.FallbackProviderIDs,
		})
	}
	return out
}
