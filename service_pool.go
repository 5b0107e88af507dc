package devicekit

import (
	"fmt"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/sirupsen/logrus"
)

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConnections    int           `yaml:"max_open_connections"`
	MaxIdleConnections    int           `yaml:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `yaml:"connection_max_lifetime"`
	ConnectionMaxIdleTime time.Duration `yaml:"connection_max_idle_time"`
}

// DefaultPoolConfig returns pool settings suited to a small API server.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConnections:    20,
		MaxIdleConnections:    5,
		ConnectionMaxLifetime: 30 * time.Minute,
		ConnectionMaxIdleTime: 5 * time.Minute,
	}
}

// Validate checks the pool settings for consistency.
func (c PoolConfig) Validate() error {
	if c.MaxOpenConnections <= 0 {
		return NewError(ErrInvalidInput, "max_open_connections must be positive")
	}
	if c.MaxIdleConnections < 0 || c.MaxIdleConnections > c.MaxOpenConnections {
		return NewError(ErrInvalidInput, "max_idle_connections must be between 0 and max_open_connections")
	}
	return nil
}

// PoolService manages the connection pool of a dbkit database.
type PoolService struct {
	db     *dbkit.DBKit
	logger logrus.FieldLogger
}

// NewPoolService creates a pool manager for db.
func NewPoolService(db *dbkit.DBKit, logger logrus.FieldLogger) *PoolService {
	return &PoolService{db: db, logger: logger}
}

// ConfigureConnectionPool updates the database connection pool settings.
func (ps *PoolService) ConfigureConnectionPool(config PoolConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	bunDB := ps.db.Bun()
	if bunDB == nil {
		return fmt.Errorf("database instance not available")
	}

	bunDB.SetMaxOpenConns(config.MaxOpenConnections)
	bunDB.SetMaxIdleConns(config.MaxIdleConnections)
	bunDB.SetConnMaxLifetime(config.ConnectionMaxLifetime)
	bunDB.SetConnMaxIdleTime(config.ConnectionMaxIdleTime)

	ps.logger.WithFields(logrus.Fields{
		"max_open":      config.MaxOpenConnections,
		"max_idle":      config.MaxIdleConnections,
		"max_lifetime":  config.ConnectionMaxLifetime,
		"max_idle_time": config.ConnectionMaxIdleTime,
	}).Info("connection pool configured")

	return nil
}

// GetPoolStats returns connection pool statistics for monitoring.
func (ps *PoolService) GetPoolStats() dbkit.PoolStats {
	return dbkit.PoolStatsFromSQL(ps.db.Stats())
}

// ResetConnectionPool resets the connection pool to default settings.
func (ps *PoolService) ResetConnectionPool() error {
	return ps.ConfigureConnectionPool(DefaultPoolConfig())
}
