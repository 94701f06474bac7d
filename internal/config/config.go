package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// maxGracePeriod 离线宽限期上限，受时间轮轮长约束
const maxGracePeriod = 59 * time.Second

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Auth        AuthConfig        `yaml:"auth"`
	Presence    PresenceConfig    `yaml:"presence"`
	Stats       StatsConfig       `yaml:"stats"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Addr   string `yaml:"addr"`
	NodeID string `yaml:"node_id"`
}

type GatewayConfig struct {
	HeartbeatTimeout       time.Duration `yaml:"heartbeat_timeout"`
	HeartbeatCheckInterval time.Duration `yaml:"heartbeat_check_interval"`
	GracePeriod            time.Duration `yaml:"grace_period"`
	// 单连接入站消息限流：窗口内最多允许 MessageRateLimit 条
	MessageRateLimit  int           `yaml:"message_rate_limit"`
	MessageRateWindow time.Duration `yaml:"message_rate_window"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	Workers           int           `yaml:"workers"`
	WorkerQueueSize   int           `yaml:"worker_queue_size"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type AuthConfig struct {
	TokenSecret string        `yaml:"token_secret"`
	TokenExpire time.Duration `yaml:"token_expire"`
}

type PresenceConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type StatsConfig struct {
	DailyRetention time.Duration `yaml:"daily_retention"`
	// 语言允许列表之外的输入归并为 other，约束热力图键空间
	LanguageAllowList []string `yaml:"language_allow_list"`
}

type LeaderboardConfig struct {
	Retention time.Duration `yaml:"retention"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Gateway.GracePeriod > maxGracePeriod {
		return fmt.Errorf("gateway.grace_period %s exceeds maximum %s", c.Gateway.GracePeriod, maxGracePeriod)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.NodeID == "" {
		c.Server.NodeID = "radar-1"
	}
	if c.Gateway.HeartbeatTimeout <= 0 {
		c.Gateway.HeartbeatTimeout = 90 * time.Second
	}
	if c.Gateway.HeartbeatCheckInterval <= 0 {
		c.Gateway.HeartbeatCheckInterval = 30 * time.Second
	}
	if c.Gateway.GracePeriod <= 0 {
		c.Gateway.GracePeriod = 45 * time.Second
	}
	if c.Gateway.MessageRateLimit <= 0 {
		c.Gateway.MessageRateLimit = 60
	}
	if c.Gateway.MessageRateWindow <= 0 {
		c.Gateway.MessageRateWindow = 10 * time.Second
	}
	if c.Gateway.WriteTimeout <= 0 {
		c.Gateway.WriteTimeout = 10 * time.Second
	}
	if c.Gateway.Workers <= 0 {
		c.Gateway.Workers = 32
	}
	if c.Gateway.WorkerQueueSize <= 0 {
		c.Gateway.WorkerQueueSize = 1024
	}
	if c.Presence.TTL <= 0 {
		c.Presence.TTL = 2 * time.Minute
	}
	if c.Stats.DailyRetention <= 0 {
		c.Stats.DailyRetention = 14 * 24 * time.Hour
	}
	if c.Leaderboard.Retention <= 0 {
		c.Leaderboard.Retention = 21 * 24 * time.Hour
	}
	if c.Auth.TokenExpire <= 0 {
		c.Auth.TokenExpire = 24 * time.Hour
	}
}

// ApplyEnv 环境变量覆盖（机密项不落在配置文件里）
func (c *Config) ApplyEnv() {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("PG_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("TOKEN_SECRET"); v != "" {
		c.Auth.TokenSecret = v
	}
}
