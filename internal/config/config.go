package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"ipshow/internal/observability/logging"
)

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Config is the full runtime configuration.
type Config struct {
	Host     string         `koanf:"host"`
	Port     int            `koanf:"port"`
	WebRoot  string         `koanf:"webroot"`
	Log      LogConfig      `koanf:"log"`
	Token    TokenConfig    `koanf:"token"`
	Redis    RedisConfig    `koanf:"redis"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	TLS      TLSConfig      `koanf:"tls"`
	Shutdown ShutdownConfig `koanf:"shutdown"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type TokenConfig struct {
	Driver string `koanf:"driver"`
	// TTL of zero keeps issued tokens until they are used.
	TTL           time.Duration `koanf:"ttl"`
	PurgeInterval time.Duration `koanf:"purge_interval"`
}

type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Prefix   string        `koanf:"prefix"`
	Timeout  time.Duration `koanf:"timeout"`
	PoolSize int           `koanf:"pool_size"`
	TLS      RedisTLS      `koanf:"tls"`
}

type RedisTLS struct {
	CAFile             string `koanf:"ca_file"`
	CertFile           string `koanf:"cert_file"`
	KeyFile            string `koanf:"key_file"`
	ServerName         string `koanf:"server_name"`
	InsecureSkipVerify bool   `koanf:"insecure_skip_verify"`
}

type MetricsConfig struct {
	// Addr enables the metrics listener when set.
	Addr string `koanf:"addr"`
}

type TLSConfig struct {
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type ShutdownConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// Defaults returns the flattened default values keyed by koanf path.
func Defaults() map[string]any {
	return map[string]any{
		"host":                           "",
		"port":                           80,
		"webroot":                        "web",
		"log.level":                      "info",
		"log.format":                     string(logging.FormatJSON),
		"token.driver":                   DriverMemory,
		"token.ttl":                      time.Duration(0),
		"token.purge_interval":           time.Minute,
		"redis.addr":                     "",
		"redis.username":                 "",
		"redis.password":                 "",
		"redis.db":                       0,
		"redis.prefix":                   "ipshow:token:",
		"redis.timeout":                  2 * time.Second,
		"redis.pool_size":                0,
		"redis.tls.ca_file":              "",
		"redis.tls.cert_file":            "",
		"redis.tls.key_file":             "",
		"redis.tls.server_name":          "",
		"redis.tls.insecure_skip_verify": false,
		"metrics.addr":                   "",
		"tls.cert_file":                  "",
		"tls.key_file":                   "",
		"shutdown.timeout":               10 * time.Second,
	}
}

// Keys lists every recognised configuration key.
func Keys() []string {
	defaults := Defaults()
	keys := make([]string, 0, len(defaults))
	for key := range defaults {
		keys = append(keys, key)
	}
	return keys
}

// Addr is the public listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.WebRoot) == "" {
		errs = append(errs, errors.New("webroot is required"))
	}
	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch logging.LogFormat(c.Log.Format) {
	case logging.FormatJSON, logging.FormatText:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	switch c.Token.Driver {
	case DriverMemory:
	case DriverRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis token driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown token driver %q", c.Token.Driver))
	}
	if c.Token.TTL < 0 {
		errs = append(errs, errors.New("token.ttl must not be negative"))
	}
	if c.Token.TTL > 0 && c.Token.PurgeInterval <= 0 {
		errs = append(errs, errors.New("token.purge_interval must be positive when token.ttl is set"))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}
	if c.Metrics.Addr != "" && c.Metrics.Addr == c.Addr() {
		errs = append(errs, errors.New("metrics.addr must differ from the public address"))
	}
	return errors.Join(errs...)
}
