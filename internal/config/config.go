// Package config handles application configuration from an optional YAML
// file and environment variables
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/stoik/email-risk/internal/domain/detection"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "EMAIL_RISK_"

// Artifact backends
const (
	BackendRedis  = "redis"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	Artifacts ArtifactsConfig  `yaml:"artifacts"`
	Resolver  ResolverConfig   `yaml:"resolver"`
	Storage   StorageConfig    `yaml:"storage"`
	Decision  detection.Config `yaml:"decision"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AdminToken      string        `yaml:"admin_token"` // empty disables admin auth
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBatchSize    int           `yaml:"max_batch_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// ArtifactsConfig selects the model artifact store and its keys
type ArtifactsConfig struct {
	Backend      string        `yaml:"backend"`
	RedisURL     string        `yaml:"redis_url"`
	Prefix       string        `yaml:"prefix"`
	Dir          string        `yaml:"dir"`
	TTL          time.Duration `yaml:"ttl"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	Keys         ArtifactKeys  `yaml:"keys"`
}

// ArtifactKeys are the store keys of every artifact kind.
// N-gram tables live at NgramPrefix + "<order>_<class>.json".
type ArtifactKeys struct {
	DecisionTree string `yaml:"decision_tree"`
	RandomForest string `yaml:"random_forest"`
	Calibration  string `yaml:"calibration"`
	Heuristics   string `yaml:"heuristics"`
	NgramPrefix  string `yaml:"ngram_prefix"`
}

// ResolverConfig configures the DNS-over-HTTPS MX resolver
type ResolverConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Endpoint    string        `yaml:"endpoint"`
	Timeout     time.Duration `yaml:"timeout"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	Concurrency int           `yaml:"concurrency"`
	QPS         float64       `yaml:"qps"`
}

// StorageConfig configures the assessment audit log.
// An empty DatabaseURL keeps assessments in memory.
type StorageConfig struct {
	DatabaseURL    string `yaml:"database_url"`
	Migrate        bool   `yaml:"migrate"`
	MemoryCapacity int    `yaml:"memory_capacity"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			MaxBatchSize:    1000,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Artifacts: ArtifactsConfig{
			Backend:      BackendFile,
			Prefix:       "email-risk:",
			Dir:          "./artifacts",
			TTL:          60 * time.Second,
			FetchTimeout: 5 * time.Second,
			Keys: ArtifactKeys{
				DecisionTree: "decision_tree.json",
				RandomForest: "random_forest.json",
				Calibration:  "calibration.json",
				Heuristics:   "risk_heuristics.json",
				NgramPrefix:  "ngram_",
			},
		},
		Resolver: ResolverConfig{
			Enabled:     true,
			Endpoint:    "https://cloudflare-dns.com/dns-query",
			Timeout:     500 * time.Millisecond,
			CacheTTL:    15 * time.Minute,
			Concurrency: 8,
		},
		Storage:  StorageConfig{Migrate: true, MemoryCapacity: 10000},
		Decision: detection.DefaultConfig(),
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment overrides. A .env file is loaded when present.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	num := func(name string, dst *float64) {
		if v, ok := lookup(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("ADDR", &c.Server.Addr)
	str("ADMIN_TOKEN", &c.Server.AdminToken)
	dur("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	integer("MAX_BATCH_SIZE", &c.Server.MaxBatchSize)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	str("ARTIFACT_BACKEND", &c.Artifacts.Backend)
	str("REDIS_URL", &c.Artifacts.RedisURL)
	str("ARTIFACT_PREFIX", &c.Artifacts.Prefix)
	str("ARTIFACT_DIR", &c.Artifacts.Dir)
	dur("MODEL_TTL", &c.Artifacts.TTL)
	dur("MODEL_FETCH_TIMEOUT", &c.Artifacts.FetchTimeout)
	str("KEY_DECISION_TREE", &c.Artifacts.Keys.DecisionTree)
	str("KEY_RANDOM_FOREST", &c.Artifacts.Keys.RandomForest)
	str("KEY_CALIBRATION", &c.Artifacts.Keys.Calibration)
	str("KEY_HEURISTICS", &c.Artifacts.Keys.Heuristics)
	str("KEY_NGRAM_PREFIX", &c.Artifacts.Keys.NgramPrefix)

	boolean("RESOLVER_ENABLED", &c.Resolver.Enabled)
	str("DOH_ENDPOINT", &c.Resolver.Endpoint)
	dur("DOH_TIMEOUT", &c.Resolver.Timeout)
	dur("MX_CACHE_TTL", &c.Resolver.CacheTTL)
	integer("RESOLVER_CONCURRENCY", &c.Resolver.Concurrency)
	num("RESOLVER_QPS", &c.Resolver.QPS)

	str("DATABASE_URL", &c.Storage.DatabaseURL)
	boolean("DB_MIGRATE", &c.Storage.Migrate)
	integer("MEMORY_CAPACITY", &c.Storage.MemoryCapacity)

	num("WARN_THRESHOLD", &c.Decision.WarnThreshold)
	num("BLOCK_THRESHOLD", &c.Decision.BlockThreshold)
	num("SEQUENCE_WEIGHT", &c.Decision.SequenceWeight)
	num("OOD_ENTROPY_LOW", &c.Decision.OODEntropyLow)
	num("OOD_ENTROPY_HIGH", &c.Decision.OODEntropyHigh)
	num("OOD_MAX_RISK", &c.Decision.OODMaxRisk)

	return errors.Join(errs...)
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server addr is required")
	}
	if c.Server.MaxBatchSize <= 0 {
		return errors.New("max batch size must be positive")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	switch c.Artifacts.Backend {
	case BackendRedis:
		if c.Artifacts.RedisURL == "" {
			return fmt.Errorf("%sREDIS_URL is required for the redis artifact backend", EnvPrefix)
		}
	case BackendFile:
		if c.Artifacts.Dir == "" {
			return errors.New("artifact dir is required for the file artifact backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown artifact backend %q", c.Artifacts.Backend)
	}
	if c.Artifacts.TTL <= 0 || c.Artifacts.FetchTimeout <= 0 {
		return errors.New("model ttl and fetch timeout must be positive")
	}
	k := c.Artifacts.Keys
	if k.DecisionTree == "" || k.RandomForest == "" || k.Calibration == "" || k.Heuristics == "" || k.NgramPrefix == "" {
		return errors.New("every artifact key must be set")
	}

	if c.Resolver.Enabled {
		u, err := url.Parse(c.Resolver.Endpoint)
		if err != nil || u.Scheme != "https" && u.Scheme != "http" || u.Host == "" {
			return fmt.Errorf("invalid DoH endpoint %q", c.Resolver.Endpoint)
		}
		if c.Resolver.Timeout <= 0 || c.Resolver.CacheTTL <= 0 {
			return errors.New("resolver timeout and cache ttl must be positive")
		}
		if c.Resolver.Concurrency <= 0 {
			return errors.New("resolver concurrency must be positive")
		}
		if c.Resolver.QPS < 0 {
			return errors.New("resolver qps must not be negative")
		}
	}

	if err := c.Decision.Validate(); err != nil {
		return fmt.Errorf("invalid decision config: %w", err)
	}
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}
