// Package config loads the command line configuration from an optional
// YAML file and BROADCAST_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/casualjim/broadcast/pkg/natsx"
	"github.com/casualjim/broadcast/pkg/redisx"
	"github.com/spf13/viper"
)

// ErrUnknownTransport is returned for a transport other than local, nats
// or redis.
var ErrUnknownTransport = errors.New("unknown transport")

const (
	TransportLocal = "local"
	TransportNATS  = "nats"
	TransportRedis = "redis"
)

type Config struct {
	Transport string        `mapstructure:"transport"`
	NATS      NATS          `mapstructure:"nats"`
	Redis     redisx.Config `mapstructure:"redis"`
	Log       Log           `mapstructure:"log"`
}

type NATS struct {
	URL string `mapstructure:"url"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

// Load reads file when it is set, or broadcast.yaml from the working
// directory or ./config when present. Environment variables override the
// file, e.g. BROADCAST_REDIS_ADDR overrides redis.addr.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BROADCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("broadcast")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	redis := redisx.FromEnv()
	v.SetDefault("transport", TransportLocal)
	v.SetDefault("nats.url", natsx.URL())
	v.SetDefault("redis.addr", redis.Addr)
	v.SetDefault("redis.password", redis.Password)
	v.SetDefault("redis.db", redis.DB)
	v.SetDefault("log.level", "info")
}

// Validate reports an ErrUnknownTransport for a transport that is not one of
// local, nats or redis.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportLocal, TransportNATS, TransportRedis:
		return nil
	default:
		return fmt.Errorf("%w %q, expected local, nats or redis", ErrUnknownTransport, c.Transport)
	}
}
