package devicekit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendS3       = "s3"
)

// Config is the configuration of the devicekit server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Photos   PhotosConfig   `yaml:"photos"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the store.
type DatabaseConfig struct {
	Backend     string     `yaml:"backend"` // postgres or memory
	URL         string     `yaml:"url"`
	AutoMigrate bool       `yaml:"auto_migrate"`
	Pool        PoolConfig `yaml:"pool"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Algorithm string        `yaml:"algorithm"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// PhotosConfig configures plant photo storage.
type PhotosConfig struct {
	Backend      string `yaml:"backend"` // s3, memory or empty to disable
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Backend:     BackendPostgres,
			AutoMigrate: true,
			Pool:        DefaultPoolConfig(),
		},
		Auth: AuthConfig{
			Algorithm: "HS256",
			TokenTTL:  24 * time.Hour,
		},
		Photos: PhotosConfig{
			Bucket:       "plant-photos",
			Region:       "us-east-1",
			UsePathStyle: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file at path
// (skipped when path is empty), a .env file in the working directory if
// present, and DEVICEKIT_* environment variables, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables looked up by lookup.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(target *string, keys ...string) {
		for _, key := range keys {
			if v, ok := lookup(key); ok && v != "" {
				*target = v
				return
			}
		}
	}
	var errs []error
	dur := func(target *time.Duration, key string) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*target = d
		}
	}
	boolean := func(target *bool, key string) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*target = b
		}
	}
	integer := func(target *int, key string) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*target = n
		}
	}

	str(&c.Server.Address, "DEVICEKIT_SERVER_ADDRESS")
	dur(&c.Server.ReadTimeout, "DEVICEKIT_SERVER_READ_TIMEOUT")
	dur(&c.Server.WriteTimeout, "DEVICEKIT_SERVER_WRITE_TIMEOUT")
	dur(&c.Server.ShutdownTimeout, "DEVICEKIT_SERVER_SHUTDOWN_TIMEOUT")

	str(&c.Database.Backend, "DEVICEKIT_DATABASE_BACKEND")
	str(&c.Database.URL, "DEVICEKIT_DATABASE_URL", "DATABASE_URL")
	boolean(&c.Database.AutoMigrate, "DEVICEKIT_DATABASE_AUTO_MIGRATE")
	integer(&c.Database.Pool.MaxOpenConnections, "DEVICEKIT_DATABASE_MAX_OPEN_CONNECTIONS")
	integer(&c.Database.Pool.MaxIdleConnections, "DEVICEKIT_DATABASE_MAX_IDLE_CONNECTIONS")

	str(&c.Auth.JWTSecret, "DEVICEKIT_JWT_SECRET", "JWT_SECRET")
	str(&c.Auth.Algorithm, "DEVICEKIT_JWT_ALGORITHM", "JWT_ALG")
	dur(&c.Auth.TokenTTL, "DEVICEKIT_JWT_TOKEN_TTL")

	str(&c.Photos.Backend, "DEVICEKIT_PHOTOS_BACKEND")
	str(&c.Photos.Endpoint, "DEVICEKIT_PHOTOS_ENDPOINT", "MINIO_ENDPOINT")
	str(&c.Photos.Bucket, "DEVICEKIT_PHOTOS_BUCKET", "MINIO_BUCKET_NAME")
	str(&c.Photos.Region, "DEVICEKIT_PHOTOS_REGION")
	str(&c.Photos.AccessKey, "DEVICEKIT_PHOTOS_ACCESS_KEY", "MINIO_ACCESS_KEY")
	str(&c.Photos.SecretKey, "DEVICEKIT_PHOTOS_SECRET_KEY", "MINIO_SECRET_KEY")
	boolean(&c.Photos.UsePathStyle, "DEVICEKIT_PHOTOS_USE_PATH_STYLE")

	str(&c.Log.Level, "DEVICEKIT_LOG_LEVEL")
	str(&c.Log.Format, "DEVICEKIT_LOG_FORMAT")

	return errors.Join(errs...)
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}

	switch c.Database.Backend {
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres backend"))
		}
		if err := c.Database.Pool.Validate(); err != nil {
			errs = append(errs, err)
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("database.backend must be %q or %q", BackendPostgres, BackendMemory))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	switch strings.ToUpper(c.Auth.Algorithm) {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Errorf("auth.algorithm %q is not supported", c.Auth.Algorithm))
	}

	switch c.Photos.Backend {
	case "", BackendMemory:
	case BackendS3:
		if c.Photos.Bucket == "" {
			errs = append(errs, errors.New("photos.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("photos.backend must be %q, %q or empty", BackendS3, BackendMemory))
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if len(errs) > 0 {
		return NewError(ErrInvalidInput, "invalid configuration").WithCause(errors.Join(errs...))
	}
	return nil
}

// NewLogger creates a logrus logger from the log settings.
func NewLogger(cfg LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
