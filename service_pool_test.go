package devicekit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPoolConfigValidate tests connection pool settings validation
func TestPoolConfigValidate(t *testing.T) {
	require.NoError(t, DefaultPoolConfig().Validate())

	tests := []struct {
		name   string
		config PoolConfig
		valid  bool
	}{
		{"Zero open connections", PoolConfig{MaxOpenConnections: 0}, false},
		{"Negative idle connections", PoolConfig{MaxOpenConnections: 5, MaxIdleConnections: -1}, false},
		{"More idle than open", PoolConfig{MaxOpenConnections: 5, MaxIdleConnections: 6}, false},
		{"No idle connections", PoolConfig{MaxOpenConnections: 5}, true},
		{"Idle equals open", PoolConfig{MaxOpenConnections: 5, MaxIdleConnections: 5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, IsInvalidInput(err))
			}
		})
	}
}

// TestMigrations tests the migration list is well formed
func TestMigrations(t *testing.T) {
	migrations := Migrations()
	require.NotEmpty(t, migrations)

	seen := map[string]bool{}
	for i, m := range migrations {
		assert.False(t, seen[m.ID], "duplicate migration %s", m.ID)
		seen[m.ID] = true
		assert.True(t, strings.HasPrefix(m.ID, "devicekit-"))
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, strings.TrimSpace(m.SQL))
		if i > 0 {
			assert.Less(t, migrations[i-1].ID, m.ID, "migrations must be ordered")
		}
	}

	all := ""
	for _, m := range migrations {
		all += m.SQL
	}
	assert.Contains(t, all, "PRIMARY KEY (user_id, microcontroller_id)")
	assert.Contains(t, all, "ON DELETE CASCADE")
	assert.Contains(t, all, "ON DELETE SET NULL")
	assert.Contains(t, all, "unique_id TEXT NOT NULL UNIQUE")
}
