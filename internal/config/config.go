package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by LoadConfig. Nested
// keys are separated by a double underscore: ANAGRAMD_DATABASE__HOST.
const EnvPrefix = "ANAGRAMD_"

type Config struct {
	Primary       Primary              `koanf:"primary" validate:"required"`
	Server        ServerConfig         `koanf:"server" validate:"required"`
	Database      DatabaseConfig       `koanf:"database" validate:"required"`
	API           APIConfig            `koanf:"api" validate:"required"`
	Words         WordsConfig          `koanf:"words" validate:"required"`
	Seed          SeedConfig           `koanf:"seed"`
	Store         StoreConfig          `koanf:"store"`
	Cache         CacheConfig          `koanf:"cache"`
	Events        EventsConfig         `koanf:"events"`
	Storage       *StorageConfig       `koanf:"storage"`
	Observability *ObservabilityConfig `koanf:"observability"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required,oneof=development staging production test"`
}

type ServerConfig struct {
	Port               string        `koanf:"port" validate:"required"`
	ReadTimeout        time.Duration `koanf:"read_timeout" validate:"required"`
	WriteTimeout       time.Duration `koanf:"write_timeout" validate:"required"`
	IdleTimeout        time.Duration `koanf:"idle_timeout" validate:"required"`
	ShutdownTimeout    time.Duration `koanf:"shutdown_timeout" validate:"required"`
	CORSAllowedOrigins []string      `koanf:"cors_allowed_origins" validate:"required"`
}

type DatabaseConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"required"`
	User            string        `koanf:"user" validate:"required"`
	Password        string        `koanf:"password"`
	Name            string        `koanf:"name" validate:"required"`
	SSLMode         string        `koanf:"ssl_mode" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"required"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time" validate:"required"`
	ConnectRetries  int           `koanf:"connect_retries" validate:"min=0"`
}

// URL returns a pgx-compatible connection URL.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + strconv.Itoa(d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type APIConfig struct {
	Version string `koanf:"version" validate:"required"`
}

// Prefix returns the versioned path prefix, e.g. /api/v1.
func (a APIConfig) Prefix() string {
	return "/api/" + a.Version
}

type WordsConfig struct {
	MaxLength         int    `koanf:"max_length" validate:"required,min=1"`
	SignatureStrategy string `koanf:"signature_strategy" validate:"required,oneof=sorted frequency"`
	DatasetPath       string `koanf:"dataset_path"`
}

type SeedConfig struct {
	Enabled   bool `koanf:"enabled"`
	BatchSize int  `koanf:"batch_size" validate:"min=0"`
	Workers   int  `koanf:"workers" validate:"min=0"`
}

type StoreConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

type CacheConfig struct {
	Backend string      `koanf:"backend" validate:"omitempty,oneof=none memory redis"`
	Redis   RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	PoolSize int           `koanf:"pool_size"`
	TTL      time.Duration `koanf:"ttl"`
}

type EventsConfig struct {
	Brokers    []string `koanf:"brokers"`
	Topic      string   `koanf:"topic"`
	BufferSize int      `koanf:"buffer_size" validate:"min=0"`
}

// Enabled reports whether request-log events are published.
func (e EventsConfig) Enabled() bool {
	return len(e.Brokers) > 0 && e.Topic != ""
}

type StorageConfig struct {
	O3 *O3Config `koanf:"o3"`
}

// O3Config configures the S3-compatible bucket used for request-log archives.
type O3Config struct {
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
}

// Default returns the configuration used for every key that is not set.
func Default() *Config {
	return &Config{
		Primary: Primary{Env: "development"},
		Server: ServerConfig{
			Port:               "8000",
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       15 * time.Second,
			IdleTimeout:        60 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			CORSAllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "anagram",
			Name:            "anagram",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnectRetries:  5,
		},
		API: APIConfig{Version: "v1"},
		Words: WordsConfig{
			MaxLength:         200,
			SignatureStrategy: "sorted",
			DatasetPath:       "dataset/words_dataset.txt",
		},
		Seed: SeedConfig{
			Enabled:   true,
			BatchSize: 1000,
			Workers:   4,
		},
		Store: StoreConfig{Timeout: 5 * time.Second},
		Cache: CacheConfig{
			Backend: "none",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				TTL:      10 * time.Minute,
			},
		},
		Events: EventsConfig{
			Topic:      "anagram-requests",
			BufferSize: 10000,
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// and ANAGRAMD_* environment variables, in that order of precedence.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env variables: %w", err)
	}

	mainConfig := Default()
	if err := k.Unmarshal("", mainConfig); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := mainConfig.Validate(); err != nil {
		return nil, err
	}
	return mainConfig, nil
}

// Validate checks struct tags and fills derived defaults.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Observability is a pointer so a missing section can be told apart from
	// an empty one.
	if c.Observability == nil {
		c.Observability = DefaultObservabilityConfig()
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "anagramd"
	}
	c.Observability.Environment = c.Primary.Env

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "none"
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return errors.New("invalid config: cache.redis.addr is required for the redis backend")
	}
	return nil
}

// O3 returns the archive bucket config, or nil when archiving is disabled.
func (c *Config) O3() *O3Config {
	if c.Storage == nil || c.Storage.O3 == nil {
		return nil
	}
	if c.Storage.O3.Endpoint == "" || c.Storage.O3.Bucket == "" {
		return nil
	}
	return c.Storage.O3
}
