package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Strategy names accepted in group definitions.
const (
	StrategyWeighted = "weighted"
	StrategyPriority = "priority"
)

// Backend names accepted in the backend section.
const (
	BackendSQS   = "sqs"
	BackendRedis = "redis"
)

// Config is the full worker configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
	Groups   []GroupConfig  `mapstructure:"groups"`
}

// AppConfig identifies the process.
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// BackendConfig selects and configures the queue backend.
type BackendConfig struct {
	Type  string      `mapstructure:"type"` // sqs | redis
	SQS   SQSConfig   `mapstructure:"sqs"`
	Redis RedisConfig `mapstructure:"redis"`
}

// SQSConfig configures the SQS client. Endpoint and static credentials
// are for SQS-compatible local servers; leave them empty to use the
// default AWS resolution chain.
type SQSConfig struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// RedisConfig configures the redis-backed development backend.
type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	Visibility time.Duration `mapstructure:"visibility"` // default lease duration
}

// ShutdownConfig bounds the hard-stop drain.
type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultsConfig supplies group-level fallbacks.
type DefaultsConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Delay       time.Duration `mapstructure:"delay"`
}

// GroupConfig defines one processing group.
type GroupConfig struct {
	Name              string        `mapstructure:"name"`
	Concurrency       int           `mapstructure:"concurrency"`
	Delay             time.Duration `mapstructure:"delay"`
	Strategy          string        `mapstructure:"strategy"` // weighted | priority
	WaitTime          time.Duration `mapstructure:"wait_time"`
	AutoDelete        bool          `mapstructure:"auto_delete"`
	Batch             bool          `mapstructure:"batch"`
	RetryIntervals    []int         `mapstructure:"retry_intervals"` // seconds per attempt
	ExtendVisibility  bool          `mapstructure:"extend_visibility"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	Parser            string        `mapstructure:"parser"` // raw | json | text
	Queues            []QueueConfig `mapstructure:"queues"`
}

// QueueConfig defines one queue inside a group.
type QueueConfig struct {
	Name   string `mapstructure:"name"`
	URL    string `mapstructure:"url"`
	Weight int    `mapstructure:"weight"`
}

// Load reads the YAML config file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Shutdown.Timeout <= 0 {
		c.Shutdown.Timeout = 25 * time.Second
	}
	if c.Defaults.Concurrency <= 0 {
		c.Defaults.Concurrency = 25
	}
	if c.Defaults.Delay <= 0 {
		c.Defaults.Delay = time.Second
	}
	if c.Backend.Redis.Visibility <= 0 {
		c.Backend.Redis.Visibility = 30 * time.Second
	}
	for i := range c.Groups {
		g := &c.Groups[i]
		if g.Concurrency <= 0 {
			g.Concurrency = c.Defaults.Concurrency
		}
		if g.Delay <= 0 {
			g.Delay = c.Defaults.Delay
		}
		if g.Strategy == "" {
			g.Strategy = StrategyWeighted
		}
		for j := range g.Queues {
			if g.Queues[j].Weight <= 0 {
				g.Queues[j].Weight = 1
			}
		}
	}
}

// Validate checks the configuration. Any violation aborts startup.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	switch c.Backend.Type {
	case BackendSQS:
		if c.Backend.SQS.Region == "" {
			return fmt.Errorf("backend.sqs.region is required")
		}
	case BackendRedis:
		if c.Backend.Redis.Addr == "" {
			return fmt.Errorf("backend.redis.addr is required")
		}
	default:
		return fmt.Errorf("backend.type must be %q or %q, got %q", BackendSQS, BackendRedis, c.Backend.Type)
	}
	if len(c.Groups) == 0 {
		return fmt.Errorf("at least one group is required")
	}
	seen := make(map[string]bool)
	for _, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("group name is required")
		}
		if seen[g.Name] {
			return fmt.Errorf("group %q defined twice", g.Name)
		}
		seen[g.Name] = true
		if g.Strategy != StrategyWeighted && g.Strategy != StrategyPriority {
			return fmt.Errorf("group %q: unknown strategy %q", g.Name, g.Strategy)
		}
		if len(g.Queues) == 0 {
			return fmt.Errorf("group %q has no queues", g.Name)
		}
		if g.Batch && len(g.RetryIntervals) > 0 {
			return fmt.Errorf("group %q: retry_intervals and batch are mutually exclusive", g.Name)
		}
		if g.Batch && g.ExtendVisibility {
			return fmt.Errorf("group %q: extend_visibility and batch are mutually exclusive", g.Name)
		}
		if g.ExtendVisibility && g.VisibilityTimeout <= 0 {
			return fmt.Errorf("group %q: extend_visibility requires visibility_timeout", g.Name)
		}
		for _, q := range g.Queues {
			if q.Name == "" {
				return fmt.Errorf("group %q: queue name is required", g.Name)
			}
		}
	}
	return nil
}
