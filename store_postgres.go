package devicekit

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/fernandezvara/dbkit"
)

// PostgresStore is the Store backed by PostgreSQL through bun.
// It holds either the pool or, inside Transaction, the open transaction.
type PostgresStore struct {
	db bun.IDB
}

// NewPostgresStore creates a store over a bun database handle.
//
// Example:
//
//	db, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	store := devicekit.NewPostgresStore(db.Bun())
func NewPostgresStore(db bun.IDB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Transaction runs fn inside a database transaction. Nested calls use a
// savepoint of the enclosing transaction.
func (s *PostgresStore) Transaction(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &PostgresStore{db: tx})
	})
}

// dbErr wraps a store failure that has no domain meaning in ErrDatabaseError.
func dbErr(err error) error {
	if err == nil {
		return nil
	}
	return NewError(ErrDatabaseError, "").WithCause(err)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || dbkit.IsNotFound(err)
}

// ============================================================================
// ASSOCIATIONS
// ============================================================================

// GetAssociation returns the association for (userID, deviceID).
func (s *PostgresStore) GetAssociation(ctx context.Context, userID, deviceID string) (*UserDevice, error) {
	var assoc UserDevice
	err := s.db.NewSelect().Model(&assoc).
		Where("user_id = ? AND microcontroller_id = ?", userID, deviceID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, NewError(ErrNotFound, "association not found").WithUser(userID).WithDevice(deviceID)
		}
		return nil, dbErr(dbkit.WithErr1(err, "GetAssociation").Err())
	}
	return &assoc, nil
}

// CreateAssociation inserts a new association. The primary key on
// (user_id, microcontroller_id) turns a duplicate into ErrAssociationExists.
func (s *PostgresStore) CreateAssociation(ctx context.Context, assoc *UserDevice) error {
	result, err := s.db.NewInsert().Model(assoc).Exec(ctx)
	if err != nil && dbkit.IsDuplicate(err) {
		return NewError(ErrAssociationExists, "association already exists").
			WithUser(assoc.UserID).
			WithDevice(assoc.DeviceID)
	}
	return dbErr(dbkit.WithErr(result, err, "CreateAssociation").Err())
}

// DeleteAssociation removes the association for (userID, deviceID) and
// reports whether one existed.
func (s *PostgresStore) DeleteAssociation(ctx context.Context, userID, deviceID string) (bool, error) {
	result, err := s.db.NewDelete().Model((*UserDevice)(nil)).
		Where("user_id = ? AND microcontroller_id = ?", userID, deviceID).
		Exec(ctx)
	if err = dbErr(dbkit.WithErr(result, err, "DeleteAssociation").Err()); err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, dbErr(err)
	}
	return rows > 0, nil
}

// ListDeviceAssociations returns every association of a device.
func (s *PostgresStore) ListDeviceAssociations(ctx context.Context, deviceID string) ([]UserDevice, error) {
	var assocs []UserDevice
	err := dbErr(dbkit.WithErr1(s.db.NewSelect().Model(&assocs).
		Where("microcontroller_id = ?", deviceID).
		Order("created_at").
		Scan(ctx), "ListDeviceAssociations").Err())
	if err != nil {
		return nil, err
	}
	return assocs, nil
}

// ListDevicesForUser runs the composed listing query for userID.
func (s *PostgresStore) ListDevicesForUser(ctx context.Context, userID string, filter DeviceFilter) ([]DeviceView, error) {
	var rows []deviceRow
	err := dbErr(dbkit.WithErr1(composeDeviceQuery(s.db, userID, filter).Scan(ctx, &rows), "ListDevicesForUser").Err())
	if err != nil {
		return nil, err
	}

	views := make([]DeviceView, 0, len(rows))
	for _, r := range rows {
		views = append(views, r.view())
	}
	return views, nil
}

// ============================================================================
// DEVICES
// ============================================================================

// CreateDevice inserts a device. A duplicate unique_id yields ErrConflict.
func (s *PostgresStore) CreateDevice(ctx context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	result, err := s.db.NewInsert().Model(device).Exec(ctx)
	if err != nil && dbkit.IsDuplicate(err) {
		return NewError(ErrConflict, "device unique_id already registered").WithDevice(device.UniqueID)
	}
	return dbErr(dbkit.WithErr(result, err, "CreateDevice").Err())
}

// GetDevice returns a device by ID.
func (s *PostgresStore) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	return s.selectDevice(ctx, deviceID, false)
}

// LockDevice returns a device by ID and holds FOR UPDATE on its row. Outside
// Transaction the lock ends with the statement.
func (s *PostgresStore) LockDevice(ctx context.Context, deviceID string) (*Device, error) {
	return s.selectDevice(ctx, deviceID, true)
}

func (s *PostgresStore) selectDevice(ctx context.Context, deviceID string, lock bool) (*Device, error) {
	var device Device
	q := s.db.NewSelect().Model(&device).Where("id = ?", deviceID).Limit(1)
	if lock {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, NewError(ErrNotFound, "device not found").WithDevice(deviceID)
		}
		return nil, dbErr(dbkit.WithErr1(err, "GetDevice").Err())
	}
	return &device, nil
}

// ListDevices returns the whole device catalog.
func (s *PostgresStore) ListDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	err := dbErr(dbkit.WithErr1(s.db.NewSelect().Model(&devices).
		Order("created_at", "id").
		Scan(ctx), "ListDevices").Err())
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// SaveDevice writes the mutable fields of device.
func (s *PostgresStore) SaveDevice(ctx context.Context, device *Device) error {
	result, err := s.db.NewUpdate().Model(device).
		Column("type", "location", "enabled", "plant_id").
		WherePK().
		Exec(ctx)
	if err = dbErr(dbkit.WithErr(result, err, "SaveDevice").Err()); err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return dbErr(err)
	}
	if rows == 0 {
		return NewError(ErrNotFound, "device not found").WithDevice(device.ID)
	}
	return nil
}

// ListDevicesByPlant returns the devices assigned to a plant.
func (s *PostgresStore) ListDevicesByPlant(ctx context.Context, plantID string) ([]Device, error) {
	var devices []Device
	err := dbErr(dbkit.WithErr1(s.db.NewSelect().Model(&devices).
		Where("plant_id = ?", plantID).
		Order("created_at").
		Scan(ctx), "ListDevicesByPlant").Err())
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// ============================================================================
// PLANTS
// ============================================================================

// CreatePlant inserts a plant.
func (s *PostgresStore) CreatePlant(ctx context.Context, plant *Plant) error {
	if plant.ID == "" {
		plant.ID = uuid.NewString()
	}
	result, err := s.db.NewInsert().Model(plant).Exec(ctx)
	return dbErr(dbkit.WithErr(result, err, "CreatePlant").Err())
}

// GetPlant returns a plant by ID.
func (s *PostgresStore) GetPlant(ctx context.Context, plantID string) (*Plant, error) {
	var plant Plant
	err := s.db.NewSelect().Model(&plant).Where("id = ?", plantID).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, NewError(ErrNotFound, "plant not found").WithPlant(plantID)
		}
		return nil, dbErr(dbkit.WithErr1(err, "GetPlant").Err())
	}
	return &plant, nil
}

// ListPlants returns all plants, or those owned by ownerUserID.
func (s *PostgresStore) ListPlants(ctx context.Context, ownerUserID string) ([]Plant, error) {
	var plants []Plant
	q := s.db.NewSelect().Model(&plants)
	if ownerUserID != "" {
		q = q.Where("owner_user_id = ?", ownerUserID)
	}
	err := dbErr(dbkit.WithErr1(q.Order("created_at").Scan(ctx), "ListPlants").Err())
	if err != nil {
		return nil, err
	}
	return plants, nil
}

// SavePlant writes the mutable fields of plant.
func (s *PostgresStore) SavePlant(ctx context.Context, plant *Plant) error {
	result, err := s.db.NewUpdate().Model(plant).
		Column("name", "location", "image_url").
		WherePK().
		Exec(ctx)
	if err = dbErr(dbkit.WithErr(result, err, "SavePlant").Err()); err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return dbErr(err)
	}
	if rows == 0 {
		return NewError(ErrNotFound, "plant not found").WithPlant(plant.ID)
	}
	return nil
}

// DeletePlant clears the plant reference of its devices, then removes the plant.
func (s *PostgresStore) DeletePlant(ctx context.Context, plantID string) (bool, error) {
	result, err := s.db.NewUpdate().Model((*Device)(nil)).
		Set("plant_id = NULL").
		Where("plant_id = ?", plantID).
		Exec(ctx)
	if err = dbErr(dbkit.WithErr(result, err, "UnassignPlantDevices").Err()); err != nil {
		return false, err
	}

	result, err = s.db.NewDelete().Model((*Plant)(nil)).Where("id = ?", plantID).Exec(ctx)
	if err = dbErr(dbkit.WithErr(result, err, "DeletePlant").Err()); err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, dbErr(err)
	}
	return rows > 0, nil
}

// ============================================================================
// AUDIT LOG
// ============================================================================

// InsertAudit stores an audit entry.
func (s *PostgresStore) InsertAudit(ctx context.Context, entry *AssociationAuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.NewInsert().Model(entry).Exec(ctx)
	return dbErr(dbkit.WithErr1(err, "LogAudit").Err())
}

// ListAudit retrieves audit log entries, newest first.
func (s *PostgresStore) ListAudit(ctx context.Context, filter AuditLogFilter) ([]AssociationAuditLog, error) {
	var logs []AssociationAuditLog
	q := s.db.NewSelect().Model(&logs)
	if filter.ActorID != "" {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.TargetUserID != "" {
		q = q.Where("target_user_id = ?", filter.TargetUserID)
	}
	if filter.DeviceID != "" {
		q = q.Where("microcontroller_id = ?", filter.DeviceID)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("timestamp <= ?", filter.Until)
	}

	q = q.Limit(filter.effectiveLimit())
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	q = q.Order("timestamp DESC")
	err := dbErr(dbkit.WithErr1(q.Scan(ctx), "ListAudit").Err())
	if err != nil {
		return nil, err
	}
	return logs, nil
}
