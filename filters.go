package devicekit

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// DeviceFilter narrows a user's device listing. Every non-empty field must
// match (AND); empty fields impose no restriction. Matching is a
// case-insensitive substring test.
type DeviceFilter struct {
	// Filter by device type
	Type string

	// Filter by the name of the plant the device is assigned to.
	// Devices without a plant never match while this is set.
	Name string

	// Filter by device location
	Location string
}

// NewDeviceFilter creates an empty DeviceFilter that matches every device.
func NewDeviceFilter() DeviceFilter {
	return DeviceFilter{}
}

// WithType sets the device type filter.
func (f DeviceFilter) WithType(deviceType string) DeviceFilter {
	f.Type = deviceType
	return f
}

// WithName sets the plant name filter.
func (f DeviceFilter) WithName(plantName string) DeviceFilter {
	f.Name = plantName
	return f
}

// WithLocation sets the device location filter.
func (f DeviceFilter) WithLocation(location string) DeviceFilter {
	f.Location = location
	return f
}

// IsEmpty reports whether the filter imposes no restriction.
func (f DeviceFilter) IsEmpty() bool {
	return f.Type == "" && f.Name == "" && f.Location == ""
}

// Match applies the filter to a device and its plant in memory.
func (f DeviceFilter) Match(device Device, plant *Plant) bool {
	if f.Type != "" && !containsFold(device.Type, f.Type) {
		return false
	}
	if f.Name != "" && (plant == nil || !containsFold(plant.Name, f.Name)) {
		return false
	}
	if f.Location != "" && (device.Location == nil || !containsFold(*device.Location, f.Location)) {
		return false
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern turns a literal substring into an ILIKE pattern.
func likePattern(substr string) string {
	return "%" + likeEscaper.Replace(substr) + "%"
}

// deviceRow is the flat shape of one row of the device listing query.
type deviceRow struct {
	ID        string    `bun:"id"`
	UniqueID  string    `bun:"unique_id"`
	Type      string    `bun:"type"`
	Location  *string   `bun:"location"`
	Enabled   bool      `bun:"enabled"`
	PlantID   *string   `bun:"plant_id"`
	CreatedAt time.Time `bun:"created_at"`
	Role      Role      `bun:"role"`

	// Columns of the outer-joined plant; PlantRef is NULL when the device
	// has no plant or its reference dangles.
	PlantRef         *string    `bun:"plant_ref"`
	PlantName        *string    `bun:"plant_name"`
	PlantLocation    *string    `bun:"plant_location"`
	PlantOwnerUserID *string    `bun:"plant_owner_user_id"`
	PlantImageURL    *string    `bun:"plant_image_url"`
	PlantCreatedAt   *time.Time `bun:"plant_created_at"`
}

func (r deviceRow) view() DeviceView {
	v := DeviceView{
		Device: Device{
			ID:        r.ID,
			UniqueID:  r.UniqueID,
			Type:      r.Type,
			Location:  r.Location,
			Enabled:   r.Enabled,
			PlantID:   r.PlantID,
			CreatedAt: r.CreatedAt,
		},
		Role: r.Role,
	}
	if r.PlantRef != nil {
		p := &Plant{
			ID:          *r.PlantRef,
			Location:    r.PlantLocation,
			OwnerUserID: r.PlantOwnerUserID,
			ImageURL:    r.PlantImageURL,
		}
		if r.PlantName != nil {
			p.Name = *r.PlantName
		}
		if r.PlantCreatedAt != nil {
			p.CreatedAt = *r.PlantCreatedAt
		}
		v.Plant = p
	}
	return v
}

// composeDeviceQuery builds the listing query for userID: devices the user
// has any association with, their role, and the plant joined on the
// device's plant reference.
func composeDeviceQuery(db bun.IDB, userID string, filter DeviceFilter) *bun.SelectQuery {
	q := db.NewSelect().
		TableExpr("microcontrollers AS d").
		ColumnExpr("d.id, d.unique_id, d.type, d.location, d.enabled, d.plant_id, d.created_at").
		ColumnExpr("um.role").
		ColumnExpr("p.id AS plant_ref, p.name AS plant_name, p.location AS plant_location").
		ColumnExpr("p.owner_user_id AS plant_owner_user_id, p.image_url AS plant_image_url, p.created_at AS plant_created_at").
		Join("JOIN user_microcontrollers AS um ON um.microcontroller_id = d.id").
		Join("LEFT JOIN plants AS p ON p.id = d.plant_id").
		Where("um.user_id = ?", userID)

	if filter.Type != "" {
		q = q.Where("d.type ILIKE ?", likePattern(filter.Type))
	}
	if filter.Name != "" {
		q = q.Where("p.name ILIKE ?", likePattern(filter.Name))
	}
	if filter.Location != "" {
		q = q.Where("d.location ILIKE ?", likePattern(filter.Location))
	}

	return q.OrderExpr("d.created_at, d.id")
}

// AuditLogFilter provides options for filtering audit log queries.
type AuditLogFilter struct {
	// Filter by actor who performed the action
	ActorID string

	// Filter by target user of the action
	TargetUserID string

	// Filter by device
	DeviceID string

	// Filter by action type ("associated" or "unassociated")
	Action string

	// Filter by time range
	Since time.Time
	Until time.Time

	// Pagination
	Limit  int
	Offset int
}

// NewAuditLogFilter creates a new AuditLogFilter with default values.
func NewAuditLogFilter() AuditLogFilter {
	return AuditLogFilter{
		Limit: 100,
	}
}

// WithActor sets the actor ID filter.
func (f AuditLogFilter) WithActor(actorID string) AuditLogFilter {
	f.ActorID = actorID
	return f
}

// WithTargetUser sets the target user ID filter.
func (f AuditLogFilter) WithTargetUser(userID string) AuditLogFilter {
	f.TargetUserID = userID
	return f
}

// WithDevice sets the device filter.
func (f AuditLogFilter) WithDevice(deviceID string) AuditLogFilter {
	f.DeviceID = deviceID
	return f
}

// WithAction sets the action filter.
func (f AuditLogFilter) WithAction(action AuditAction) AuditLogFilter {
	f.Action = string(action)
	return f
}

// WithTimeRange sets the time range filter.
func (f AuditLogFilter) WithTimeRange(since, until time.Time) AuditLogFilter {
	f.Since = since
	f.Until = until
	return f
}

// WithPagination sets both limit and offset.
func (f AuditLogFilter) WithPagination(limit, offset int) AuditLogFilter {
	f.Limit = limit
	f.Offset = offset
	return f
}

// effectiveLimit returns the page size, falling back to 100.
func (f AuditLogFilter) effectiveLimit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Match applies the filter to an audit entry in memory.
func (f AuditLogFilter) Match(e AssociationAuditLog) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.TargetUserID != "" && e.TargetUserID != f.TargetUserID {
		return false
	}
	if f.DeviceID != "" && e.DeviceID != f.DeviceID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}
