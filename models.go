package devicekit

import (
	"time"

	"github.com/uptrace/bun"
)

// Device is a physical microcontroller or sensor in the catalog.
// ID and UniqueID never change after registration.
type Device struct {
	bun.BaseModel `bun:"table:microcontrollers,alias:d"`

	ID        string    `bun:"id,pk,type:uuid" json:"id"`
	UniqueID  string    `bun:"unique_id,notnull" json:"unique_id"`
	Type      string    `bun:"type,notnull" json:"type"`
	Location  *string   `bun:"location" json:"location"`
	Enabled   bool      `bun:"enabled,notnull" json:"enabled"`
	PlantID   *string   `bun:"plant_id,type:uuid" json:"plant_id"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// Plant is a plant record in the catalog. Devices point at plants, never the
// other way around.
type Plant struct {
	bun.BaseModel `bun:"table:plants,alias:p"`

	ID          string    `bun:"id,pk,type:uuid" json:"id"`
	Name        string    `bun:"name,notnull" json:"name"`
	Location    *string   `bun:"location" json:"location"`
	OwnerUserID *string   `bun:"owner_user_id" json:"owner_user_id"`
	ImageURL    *string   `bun:"image_url" json:"image_url"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// UserDevice associates a user with a device under exactly one role.
// There is at most one row per (UserID, DeviceID).
type UserDevice struct {
	bun.BaseModel `bun:"table:user_microcontrollers,alias:um"`

	UserID    string    `bun:"user_id,pk" json:"user_id"`
	DeviceID  string    `bun:"microcontroller_id,pk,type:uuid" json:"microcontroller_id"`
	Role      Role      `bun:"role,notnull" json:"role"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// DeviceView is one row of a user's device listing: the device, the user's
// role on it and the plant it is assigned to, if any.
type DeviceView struct {
	Device Device
	Role   Role
	Plant  *Plant
}

// DeviceUpdate holds the fields a partial device update may change.
// Nil fields keep their stored value; an empty PlantID clears the plant.
type DeviceUpdate struct {
	Location *string
	PlantID  *string
	Type     *string
}

// IsEmpty reports whether the update changes nothing.
func (u DeviceUpdate) IsEmpty() bool {
	return u.Location == nil && u.PlantID == nil && u.Type == nil
}

// apply merges the update into d.
func (u DeviceUpdate) apply(d *Device) {
	if u.Location != nil {
		d.Location = stringPtr(*u.Location)
	}
	if u.PlantID != nil {
		if *u.PlantID == "" {
			d.PlantID = nil
		} else {
			d.PlantID = stringPtr(*u.PlantID)
		}
	}
	if u.Type != nil {
		d.Type = *u.Type
	}
}

func stringPtr(s string) *string {
	return &s
}

// DeviceRegistration is the input for adding a device to the catalog.
type DeviceRegistration struct {
	UniqueID string
	Type     string
	Location *string
	PlantID  *string
	Enabled  *bool // defaults to true
}

// PlantUpdate holds the fields a partial plant update may change.
type PlantUpdate struct {
	Name     *string
	Location *string
}

// AssociationAuditLog records every association created or removed.
type AssociationAuditLog struct {
	bun.BaseModel `bun:"table:association_audit_log,alias:aal"`

	ID        string    `bun:"id,pk,type:uuid" json:"id"`
	Timestamp time.Time `bun:"timestamp,notnull,default:current_timestamp" json:"timestamp"`

	// Who performed the action
	ActorID string `bun:"actor_id,notnull" json:"actor_id"`

	Action       string `bun:"action,notnull" json:"action"`
	TargetUserID string `bun:"target_user_id,notnull" json:"target_user_id"`
	DeviceID     string `bun:"microcontroller_id,notnull" json:"microcontroller_id"`
	Role         string `bun:"role,notnull" json:"role"`

	// Request metadata for forensics
	IPAddress string `bun:"ip_address" json:"ip_address,omitempty"`
	UserAgent string `bun:"user_agent" json:"user_agent,omitempty"`
	RequestID string `bun:"request_id" json:"request_id,omitempty"`
}

// AuditAction represents the type of action in the audit log.
type AuditAction string

const (
	AuditActionAssociated   AuditAction = "associated"
	AuditActionUnassociated AuditAction = "unassociated"
)

// AuditEntry is used to create new audit log entries.
type AuditEntry struct {
	ActorID      string
	Action       AuditAction
	TargetUserID string
	DeviceID     string
	Role         Role
	IPAddress    string
	UserAgent    string
	RequestID    string
}

// ToModel converts an AuditEntry to an AssociationAuditLog model.
func (e *AuditEntry) ToModel() *AssociationAuditLog {
	return &AssociationAuditLog{
		ActorID:      e.ActorID,
		Action:       string(e.Action),
		TargetUserID: e.TargetUserID,
		DeviceID:     e.DeviceID,
		Role:         string(e.Role),
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		RequestID:    e.RequestID,
		Timestamp:    time.Now().UTC(),
	}
}
