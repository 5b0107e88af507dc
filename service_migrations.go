package devicekit

import (
	"github.com/fernandezvara/dbkit"
)

// Migrations returns all database migrations required by devicekit.
// Use db.Migrate(ctx, devicekit.Migrations()) to run them.
func Migrations() []dbkit.Migration {
	return []dbkit.Migration{
		{
			ID:          "devicekit-001",
			Description: "Create plants table",
			SQL: `
                CREATE TABLE IF NOT EXISTS plants (
                    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
                    name TEXT NOT NULL,
                    location TEXT,
                    owner_user_id TEXT,
                    image_url TEXT,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                )`,
		},
		{
			ID:          "devicekit-002",
			Description: "Create microcontrollers table",
			SQL: `
                CREATE TABLE IF NOT EXISTS microcontrollers (
                    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
                    unique_id TEXT NOT NULL UNIQUE,
                    type TEXT NOT NULL,
                    location TEXT,
                    enabled BOOLEAN NOT NULL DEFAULT TRUE,
                    plant_id UUID REFERENCES plants(id) ON DELETE SET NULL,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                )`,
		},
		{
			ID:          "devicekit-003",
			Description: "Create user_microcontrollers table",
			SQL: `
                CREATE TABLE IF NOT EXISTS user_microcontrollers (
                    user_id TEXT NOT NULL,
                    microcontroller_id UUID NOT NULL REFERENCES microcontrollers(id) ON DELETE CASCADE,
                    role TEXT NOT NULL DEFAULT 'viewer',
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    PRIMARY KEY (user_id, microcontroller_id)
                )`,
		},
		{
			ID:          "devicekit-004",
			Description: "Create association_audit_log table",
			SQL: `
                CREATE TABLE IF NOT EXISTS association_audit_log (
                    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
                    timestamp TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    actor_id TEXT NOT NULL,
                    action TEXT NOT NULL,
                    target_user_id TEXT NOT NULL,
                    microcontroller_id UUID NOT NULL,
                    role TEXT NOT NULL,
                    ip_address TEXT,
                    user_agent TEXT,
                    request_id TEXT
                )`,
		},
		{
			ID:          "devicekit-005",
			Description: "Index devices by plant",
			SQL:         `CREATE INDEX IF NOT EXISTS idx_microcontrollers_plant_id ON microcontrollers (plant_id)`,
		},
		{
			ID:          "devicekit-006",
			Description: "Index associations by device",
			SQL:         `CREATE INDEX IF NOT EXISTS idx_user_microcontrollers_microcontroller_id ON user_microcontrollers (microcontroller_id)`,
		},
		{
			ID:          "devicekit-007",
			Description: "Index plants by owner",
			SQL:         `CREATE INDEX IF NOT EXISTS idx_plants_owner_user_id ON plants (owner_user_id)`,
		},
		{
			ID:          "devicekit-008",
			Description: "Index audit log by timestamp",
			SQL:         `CREATE INDEX IF NOT EXISTS idx_association_audit_log_timestamp ON association_audit_log (timestamp DESC)`,
		},
	}
}
