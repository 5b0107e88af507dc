package devicekit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, BackendPostgres, cfg.Database.Backend)
	assert.Equal(t, "HS256", cfg.Auth.Algorithm)
	assert.Empty(t, cfg.Photos.Backend)

	// No secret and no database URL
	assert.True(t, IsInvalidInput(cfg.Validate()))
}

// TestConfigApplyEnv tests environment overrides and fallbacks
func TestConfigApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.applyEnv(envLookup(map[string]string{
		"DEVICEKIT_SERVER_ADDRESS":        ":9090",
		"DEVICEKIT_SERVER_READ_TIMEOUT":   "5s",
		"DATABASE_URL":                    "postgres://localhost/devicekit",
		"DEVICEKIT_DATABASE_AUTO_MIGRATE": "false",
		"DEVICEKIT_JWT_SECRET":            "primary",
		"JWT_SECRET":                      "fallback",
		"JWT_ALG":                         "HS512",
		"DEVICEKIT_PHOTOS_BACKEND":        BackendS3,
		"MINIO_ENDPOINT":                  "http://minio:9000",
		"MINIO_BUCKET_NAME":               "photos",
		"DEVICEKIT_LOG_LEVEL":             "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "postgres://localhost/devicekit", cfg.Database.URL)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "primary", cfg.Auth.JWTSecret)
	assert.Equal(t, "HS512", cfg.Auth.Algorithm)
	assert.Equal(t, BackendS3, cfg.Photos.Backend)
	assert.Equal(t, "http://minio:9000", cfg.Photos.Endpoint)
	assert.Equal(t, "photos", cfg.Photos.Bucket)
	assert.Equal(t, "debug", cfg.Log.Level)

	require.NoError(t, cfg.Validate())
}

func TestConfigApplyEnvInvalidValues(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.applyEnv(envLookup(map[string]string{
		"DEVICEKIT_SERVER_READ_TIMEOUT":          "soon",
		"DEVICEKIT_DATABASE_AUTO_MIGRATE":        "maybe",
		"DEVICEKIT_DATABASE_MAX_OPEN_CONNECTIONS": "many",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEVICEKIT_SERVER_READ_TIMEOUT")
	assert.Contains(t, err.Error(), "DEVICEKIT_DATABASE_AUTO_MIGRATE")
	assert.Contains(t, err.Error(), "DEVICEKIT_DATABASE_MAX_OPEN_CONNECTIONS")
}

// TestConfigValidate tests validation of inconsistent settings
func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Database.Backend = BackendMemory
		cfg.Auth.JWTSecret = "secret"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Postgres without URL", func(c *Config) { c.Database.Backend = BackendPostgres }},
		{"Unknown backend", func(c *Config) { c.Database.Backend = "sqlite" }},
		{"Missing secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"Asymmetric algorithm", func(c *Config) { c.Auth.Algorithm = "RS256" }},
		{"S3 without bucket", func(c *Config) { c.Photos.Backend = BackendS3; c.Photos.Bucket = "" }},
		{"Unknown photo backend", func(c *Config) { c.Photos.Backend = "ftp" }},
		{"Bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"Empty address", func(c *Config) { c.Server.Address = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, IsInvalidInput(err))
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devicekit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ":7070"
  write_timeout: 45s
database:
  backend: memory
auth:
  jwt_secret: from-file
log:
  level: warn
  format: json
`), 0o600))

	t.Chdir(dir)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, 45*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, BackendMemory, cfg.Database.Backend)
	assert.Equal(t, "warn", cfg.Log.Level)
	// Unset values keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	_, err = NewLogger(LogConfig{Level: "nope"})
	assert.Error(t, err)
}
