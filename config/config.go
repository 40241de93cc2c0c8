// Package config loads chatgenie's settings. Values come from defaults, then an optional YAML file, then
// the environment (including a .env file), then command-line flags.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "CHATGENIE_"

type Config struct {
	// RedisAddress selects the Redis backend. If empty, everything is kept in memory.
	RedisAddress string `yaml:"redis_address"`

	// DataDir holds the attachment database. If empty, attachments are kept in memory.
	DataDir string `yaml:"data_dir"`

	HTTPAddress string `yaml:"http_address"`

	// PublicURL prefixes attachment URLs.
	PublicURL string `yaml:"public_url"`

	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`

	PresenceTTL       time.Duration `yaml:"presence_ttl"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReapInterval      time.Duration `yaml:"reap_interval"`

	BcryptCost int    `yaml:"bcrypt_cost"`
	LogLevel   string `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		HTTPAddress:       "127.0.0.1:8080",
		PublicURL:         "http://127.0.0.1:8080",
		SessionTTL:        30 * 24 * time.Hour,
		PresenceTTL:       30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		ReapInterval:      5 * time.Second,
		LogLevel:          "info",
	}
}

// Load reads the configuration. The file at path is optional; if path is empty no file is read. A .env
// file in the working directory is loaded into the environment if present.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "error reading config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "error parsing config file")
		}
	}

	// a missing .env file is fine
	_ = godotenv.Load()

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type field struct {
	name   string
	usage  string
	str    *string
	dur    *time.Duration
	number *int
}

func (c *Config) fields() []field {
	return []field{
		{name: "redis-address", usage: "use the redis server at this address for storage and notifications", str: &c.RedisAddress},
		{name: "data-dir", usage: "persist attachments in this directory", str: &c.DataDir},
		{name: "http-address", usage: "address to listen on", str: &c.HTTPAddress},
		{name: "public-url", usage: "URL the server is reachable at", str: &c.PublicURL},
		{name: "jwt-secret", usage: "secret used to sign session tokens", str: &c.JWTSecret},
		{name: "session-ttl", usage: "lifetime of session tokens", dur: &c.SessionTTL},
		{name: "presence-ttl", usage: "how long a user stays online without a heartbeat", dur: &c.PresenceTTL},
		{name: "heartbeat-interval", usage: "how often clients refresh their presence", dur: &c.HeartbeatInterval},
		{name: "reap-interval", usage: "how often disconnected users are marked offline", dur: &c.ReapInterval},
		{name: "bcrypt-cost", usage: "cost of password hashes", number: &c.BcryptCost},
		{name: "log-level", usage: "log level", str: &c.LogLevel},
	}
}

func envName(name string) string {
	ret := []byte(EnvPrefix)
	for i := 0; i < len(name); i++ {
		switch b := name[i]; {
		case b == '-':
			ret = append(ret, '_')
		case b >= 'a' && b <= 'z':
			ret = append(ret, b-'a'+'A')
		default:
			ret = append(ret, b)
		}
	}
	return string(ret)
}

func (f field) set(value string) error {
	switch {
	case f.str != nil:
		*f.str = value
	case f.dur != nil:
		d, err := time.ParseDuration(value)
		if err != nil {
			return errors.Wrapf(err, "invalid %v", f.name)
		}
		*f.dur = d
	case f.number != nil:
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid %v", f.name)
		}
		*f.number = n
	}
	return nil
}

// ApplyEnv overrides settings with CHATGENIE_* variables, e.g. CHATGENIE_REDIS_ADDRESS.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, f := range c.fields() {
		if value, ok := lookup(envName(f.name)); ok && value != "" {
			if err := f.set(value); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddFlags defines a flag for every setting.
func AddFlags(flags *pflag.FlagSet) {
	defaults := Default()
	for _, f := range defaults.fields() {
		switch {
		case f.str != nil:
			flags.String(f.name, *f.str, f.usage)
		case f.dur != nil:
			flags.Duration(f.name, *f.dur, f.usage)
		case f.number != nil:
			flags.Int(f.name, *f.number, f.usage)
		}
	}
}

// ApplyFlags overrides settings with the flags defined by AddFlags that were set explicitly.
func (c *Config) ApplyFlags(flags *pflag.FlagSet) error {
	for _, f := range c.fields() {
		if flag := flags.Lookup(f.name); flag != nil && flag.Changed {
			if err := f.set(flag.Value.String()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Config) Validate() error {
	for _, f := range c.fields() {
		if f.dur != nil && *f.dur <= 0 {
			return errors.Errorf("%v must be positive", f.name)
		}
	}
	if c.HeartbeatInterval >= c.PresenceTTL {
		return errors.New("heartbeat-interval must be shorter than presence-ttl")
	}
	if c.BcryptCost < 0 {
		return errors.New("bcrypt-cost must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "invalid log-level")
	}
	return nil
}

// Logger returns a logger at the configured level.
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	return logger
}
