package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Addr            string `mapstructure:"addr"`
	FrontendURL     string `mapstructure:"frontend_url"`
	ShutdownSeconds int    `mapstructure:"shutdown_seconds"`
}

type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `mapstructure:"conn_max_lifetime_seconds"`
}

type JWTConfig struct {
	Secret     string `mapstructure:"secret"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type RedisConfig struct {
	Addr             string `mapstructure:"addr"`
	Password         string `mapstructure:"password"`
	DB               int    `mapstructure:"db"`
	MemberTTLSeconds int    `mapstructure:"member_ttl_seconds"`
}

type FilesConfig struct {
	Dir            string `mapstructure:"dir"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

type WSConfig struct {
	PingSeconds      int     `mapstructure:"ping_seconds"`
	PongSeconds      int     `mapstructure:"pong_seconds"`
	WriteSeconds     int     `mapstructure:"write_seconds"`
	MaxMessageBytes  int64   `mapstructure:"max_message_bytes"`
	SendBuffer       int     `mapstructure:"send_buffer"`
	OpTimeoutSeconds int     `mapstructure:"op_timeout_seconds"`
	RatePerSecond    float64 `mapstructure:"rate_per_second"`
	RateBurst        int     `mapstructure:"rate_burst"`
}

type LogConfig struct {
	Dev bool `mapstructure:"dev"`
}

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	DB     DBConfig     `mapstructure:"db"`
	JWT    JWTConfig    `mapstructure:"jwt"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Files  FilesConfig  `mapstructure:"files"`
	WS     WSConfig     `mapstructure:"ws"`
	Log    LogConfig    `mapstructure:"log"`
}

var defaults = map[string]any{
	"server.addr":                  ":3030",
	"server.frontend_url":          "http://localhost:5173",
	"server.shutdown_seconds":      15,
	"db.dsn":                       "",
	"db.max_open_conns":            25,
	"db.max_idle_conns":            25,
	"db.conn_max_lifetime_seconds": 300,
	"jwt.secret":                   "",
	"jwt.ttl_seconds":              86400,
	"redis.addr":                   "",
	"redis.password":               "",
	"redis.db":                     0,
	"redis.member_ttl_seconds":     300,
	"files.dir":                    "./files",
	"files.max_upload_bytes":       10 << 20,
	"ws.ping_seconds":              54,
	"ws.pong_seconds":              60,
	"ws.write_seconds":             10,
	"ws.max_message_bytes":         4096,
	"ws.send_buffer":               256,
	"ws.op_timeout_seconds":        10,
	"ws.rate_per_second":           10.0,
	"ws.rate_burst":                20,
	"log.dev":                      false,
}

// Load reads the optional config file at path and applies environment
// overrides on top of it: "db.dsn" is overridden by DB_DSN and so on.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DB.DSN == "" {
		return errors.New("db.dsn (DB_DSN) is not set")
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret (JWT_SECRET) is not set")
	}
	if c.WS.PingSeconds >= c.WS.PongSeconds {
		return errors.New("ws.ping_seconds must be less than ws.pong_seconds")
	}
	if c.WS.SendBuffer <= 0 {
		return errors.New("ws.send_buffer must be positive")
	}
	return nil
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}

func (c *Config) ConnMaxLifetime() time.Duration {
	return time.Duration(c.DB.ConnMaxLifetimeSeconds) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWT.TTLSeconds) * time.Second
}

func (c *Config) MemberTTL() time.Duration {
	return time.Duration(c.Redis.MemberTTLSeconds) * time.Second
}

func (c *Config) PingPeriod() time.Duration {
	return time.Duration(c.WS.PingSeconds) * time.Second
}

func (c *Config) PongWait() time.Duration {
	return time.Duration(c.WS.PongSeconds) * time.Second
}

func (c *Config) WriteWait() time.Duration {
	return time.Duration(c.WS.WriteSeconds) * time.Second
}

func (c *Config) OpTimeout() time.Duration {
	return time.Duration(c.WS.OpTimeoutSeconds) * time.Second
}
