// Package config loads caller and node settings from YAML with environment
// overrides.
//
//	node: alice.os
//	process: sign:sign:sys
//	defaultTimeout: 30s
//	codec: binary
//	balancer: consistent_hash
//	rateLimit: {rps: 200, burst: 50}
//	registry:
//	  endpoints: [127.0.0.1:2379]
//	  ttl: 10
//	  cacheSize: 256
//	  cacheTTL: 5s
//	listen: ":9000"
//	advertise: 127.0.0.1:9000
//	metrics: ":9100"
//	log: {level: info}
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"caller-rpc/address"
	"caller-rpc/codec"
	"caller-rpc/dispatch"
	"caller-rpc/loadbalance"
	"caller-rpc/logging"

	"gopkg.in/yaml.v3"
)

const envPrefix = "CALLERRPC_"

type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type Registry struct {
	Endpoints []string      `yaml:"endpoints"`
	TTL       int64         `yaml:"ttl"`
	CacheSize int           `yaml:"cacheSize"`
	CacheTTL  time.Duration `yaml:"cacheTTL"`
}

type Config struct {
	Node           string         `yaml:"node"`
	Process        string         `yaml:"process"`
	DefaultTimeout time.Duration  `yaml:"defaultTimeout"`
	Codec          string         `yaml:"codec"`
	Balancer       string         `yaml:"balancer"`
	RateLimit      RateLimit      `yaml:"rateLimit"`
	Registry       Registry       `yaml:"registry"`
	Listen         string         `yaml:"listen"`
	Advertise      string         `yaml:"advertise"`
	Metrics        string         `yaml:"metrics"`
	Log            logging.Config `yaml:"log"`
}

func Default() Config {
	return Config{
		DefaultTimeout: dispatch.DefaultTimeout,
		Codec:          "json",
		Balancer:       "round_robin",
		Registry: Registry{
			Endpoints: []string{"127.0.0.1:2379"},
			TTL:       10,
			CacheSize: 256,
			CacheTTL:  5 * time.Second,
		},
		Listen: ":9000",
		Log:    logging.Config{Level: "info"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides replaces fields from CALLERRPC_* variables.
func ApplyEnvOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("NODE", &cfg.Node)
	str("PROCESS", &cfg.Process)
	str("CODEC", &cfg.Codec)
	str("BALANCER", &cfg.Balancer)
	str("LISTEN", &cfg.Listen)
	str("ADVERTISE", &cfg.Advertise)
	str("METRICS", &cfg.Metrics)
	str("LOG_LEVEL", &cfg.Log.Level)

	if v, ok := os.LookupEnv(envPrefix + "DEFAULT_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %sDEFAULT_TIMEOUT: %w", envPrefix, err)
		}
		cfg.DefaultTimeout = d
	}
	if v, ok := os.LookupEnv(envPrefix + "RATE_LIMIT_RPS"); ok {
		rps, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("config: %sRATE_LIMIT_RPS: %w", envPrefix, err)
		}
		cfg.RateLimit.RPS = rps
	}
	if v, ok := os.LookupEnv(envPrefix + "RATE_LIMIT_BURST"); ok {
		burst, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %sRATE_LIMIT_BURST: %w", envPrefix, err)
		}
		cfg.RateLimit.Burst = burst
	}
	if v, ok := os.LookupEnv(envPrefix + "REGISTRY_ENDPOINTS"); ok {
		cfg.Registry.Endpoints = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	if c.Node == "" {
		errs = append(errs, errors.New("config: node is required"))
	}
	if c.Process == "" {
		errs = append(errs, errors.New("config: process is required"))
	}
	if c.DefaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("config: defaultTimeout must be positive, got %s", c.DefaultTimeout))
	}
	if _, err := codec.ParseCodecType(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if _, err := loadbalance.ByName(c.Balancer); err != nil {
		errs = append(errs, err)
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("config: rateLimit values must not be negative"))
	}
	if c.Registry.TTL <= 0 {
		errs = append(errs, errors.New("config: registry.ttl must be positive"))
	}
	return errors.Join(errs...)
}

// Self is the address this process calls from, or serves at.
func (c Config) Self() address.Address {
	return address.New(c.Node, c.Process)
}

func (c Config) CodecType() codec.CodecType {
	ct, _ := codec.ParseCodecType(c.Codec)
	return ct
}

// CallerOptions turns the caller-side settings into dispatch options.
func (c Config) CallerOptions() []dispatch.Option {
	return []dispatch.Option{
		dispatch.WithDefaultTimeout(c.DefaultTimeout),
		dispatch.WithRateLimit(c.RateLimit.RPS, c.RateLimit.Burst),
	}
}

// NewBalancer builds the configured load-balancing strategy.
func (c Config) NewBalancer() (loadbalance.Balancer, error) {
	return loadbalance.ByName(c.Balancer)
}
