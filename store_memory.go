package devicekit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type assocKey struct {
	userID   string
	deviceID string
}

type memoryState struct {
	devices map[string]Device
	plants  map[string]Plant
	assocs  map[assocKey]UserDevice
	audit   []AssociationAuditLog
}

func newMemoryState() *memoryState {
	return &memoryState{
		devices: make(map[string]Device),
		plants:  make(map[string]Plant),
		assocs:  make(map[assocKey]UserDevice),
	}
}

func (st *memoryState) clone() *memoryState {
	c := &memoryState{
		devices: make(map[string]Device, len(st.devices)),
		plants:  make(map[string]Plant, len(st.plants)),
		assocs:  make(map[assocKey]UserDevice, len(st.assocs)),
		audit:   append([]AssociationAuditLog(nil), st.audit...),
	}
	for k, v := range st.devices {
		c.devices[k] = v
	}
	for k, v := range st.plants {
		c.plants[k] = v
	}
	for k, v := range st.assocs {
		c.assocs[k] = v
	}
	return c
}

// MemoryStore is an in-process Store. Transactions work on a copy of the
// state that replaces the live state only when the unit of work succeeds.
// It is meant for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

// Transaction runs fn against a snapshot and commits it if fn succeeds.
// Transactions are serialized.
func (s *MemoryStore) Transaction(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, &memoryRepo{state: snapshot}); err != nil {
		return err
	}
	s.state = snapshot
	return nil
}

func (s *MemoryStore) reader() *memoryRepo {
	return &memoryRepo{state: s.state}
}

func (s *MemoryStore) GetAssociation(ctx context.Context, userID, deviceID string) (*UserDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetAssociation(ctx, userID, deviceID)
}

func (s *MemoryStore) CreateAssociation(ctx context.Context, assoc *UserDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().CreateAssociation(ctx, assoc)
}

func (s *MemoryStore) DeleteAssociation(ctx context.Context, userID, deviceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().DeleteAssociation(ctx, userID, deviceID)
}

func (s *MemoryStore) ListDeviceAssociations(ctx context.Context, deviceID string) ([]UserDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListDeviceAssociations(ctx, deviceID)
}

func (s *MemoryStore) ListDevicesForUser(ctx context.Context, userID string, filter DeviceFilter) ([]DeviceView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListDevicesForUser(ctx, userID, filter)
}

func (s *MemoryStore) CreateDevice(ctx context.Context, device *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().CreateDevice(ctx, device)
}

func (s *MemoryStore) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetDevice(ctx, deviceID)
}

func (s *MemoryStore) LockDevice(ctx context.Context, deviceID string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().LockDevice(ctx, deviceID)
}

func (s *MemoryStore) ListDevices(ctx context.Context) ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListDevices(ctx)
}

func (s *MemoryStore) SaveDevice(ctx context.Context, device *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().SaveDevice(ctx, device)
}

func (s *MemoryStore) ListDevicesByPlant(ctx context.Context, plantID string) ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListDevicesByPlant(ctx, plantID)
}

func (s *MemoryStore) CreatePlant(ctx context.Context, plant *Plant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().CreatePlant(ctx, plant)
}

func (s *MemoryStore) GetPlant(ctx context.Context, plantID string) (*Plant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetPlant(ctx, plantID)
}

func (s *MemoryStore) ListPlants(ctx context.Context, ownerUserID string) ([]Plant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListPlants(ctx, ownerUserID)
}

func (s *MemoryStore) SavePlant(ctx context.Context, plant *Plant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().SavePlant(ctx, plant)
}

func (s *MemoryStore) DeletePlant(ctx context.Context, plantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().DeletePlant(ctx, plantID)
}

func (s *MemoryStore) InsertAudit(ctx context.Context, entry *AssociationAuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().InsertAudit(ctx, entry)
}

func (s *MemoryStore) ListAudit(ctx context.Context, filter AuditLogFilter) ([]AssociationAuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListAudit(ctx, filter)
}

// memoryRepo implements Repository over a state without locking; the
// caller holds the store lock.
type memoryRepo struct {
	state *memoryState
}

func (r *memoryRepo) GetAssociation(_ context.Context, userID, deviceID string) (*UserDevice, error) {
	assoc, ok := r.state.assocs[assocKey{userID, deviceID}]
	if !ok {
		return nil, NewError(ErrNotFound, "association not found").WithUser(userID).WithDevice(deviceID)
	}
	return &assoc, nil
}

func (r *memoryRepo) CreateAssociation(_ context.Context, assoc *UserDevice) error {
	key := assocKey{assoc.UserID, assoc.DeviceID}
	if _, exists := r.state.assocs[key]; exists {
		return NewError(ErrAssociationExists, "association already exists").
			WithUser(assoc.UserID).
			WithDevice(assoc.DeviceID)
	}
	// Mirrors the foreign key on microcontroller_id.
	if _, ok := r.state.devices[assoc.DeviceID]; !ok {
		return NewError(ErrNotFound, "device not found").WithDevice(assoc.DeviceID)
	}
	if assoc.CreatedAt.IsZero() {
		assoc.CreatedAt = time.Now().UTC()
	}
	r.state.assocs[key] = *assoc
	return nil
}

func (r *memoryRepo) DeleteAssociation(_ context.Context, userID, deviceID string) (bool, error) {
	key := assocKey{userID, deviceID}
	if _, ok := r.state.assocs[key]; !ok {
		return false, nil
	}
	delete(r.state.assocs, key)
	return true, nil
}

func (r *memoryRepo) ListDeviceAssociations(_ context.Context, deviceID string) ([]UserDevice, error) {
	var out []UserDevice
	for k, a := range r.state.assocs {
		if k.deviceID == deviceID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryRepo) ListDevicesForUser(_ context.Context, userID string, filter DeviceFilter) ([]DeviceView, error) {
	views := []DeviceView{}
	for k, a := range r.state.assocs {
		if k.userID != userID {
			continue
		}
		device, ok := r.state.devices[k.deviceID]
		if !ok {
			continue
		}
		var plant *Plant
		if device.PlantID != nil {
			if p, ok := r.state.plants[*device.PlantID]; ok {
				plant = &p
			}
		}
		if !filter.Match(device, plant) {
			continue
		}
		views = append(views, DeviceView{Device: device, Role: a.Role, Plant: plant})
	}
	sort.Slice(views, func(i, j int) bool {
		di, dj := views[i].Device, views[j].Device
		if di.CreatedAt.Equal(dj.CreatedAt) {
			return di.ID < dj.ID
		}
		return di.CreatedAt.Before(dj.CreatedAt)
	})
	return views, nil
}

func (r *memoryRepo) CreateDevice(_ context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	if _, exists := r.state.devices[device.ID]; exists {
		return NewError(ErrConflict, "device already exists").WithDevice(device.ID)
	}
	for _, d := range r.state.devices {
		if d.UniqueID == device.UniqueID {
			return NewError(ErrConflict, "device unique_id already registered").WithDevice(device.UniqueID)
		}
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}
	r.state.devices[device.ID] = *device
	return nil
}

func (r *memoryRepo) GetDevice(_ context.Context, deviceID string) (*Device, error) {
	device, ok := r.state.devices[deviceID]
	if !ok {
		return nil, NewError(ErrNotFound, "device not found").WithDevice(deviceID)
	}
	return &device, nil
}

// LockDevice is GetDevice; memory transactions are already serialized.
func (r *memoryRepo) LockDevice(ctx context.Context, deviceID string) (*Device, error) {
	return r.GetDevice(ctx, deviceID)
}

func (r *memoryRepo) ListDevices(_ context.Context) ([]Device, error) {
	devices := make([]Device, 0, len(r.state.devices))
	for _, d := range r.state.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		if !devices[i].CreatedAt.Equal(devices[j].CreatedAt) {
			return devices[i].CreatedAt.Before(devices[j].CreatedAt)
		}
		return devices[i].ID < devices[j].ID
	})
	return devices, nil
}

func (r *memoryRepo) SaveDevice(_ context.Context, device *Device) error {
	stored, ok := r.state.devices[device.ID]
	if !ok {
		return NewError(ErrNotFound, "device not found").WithDevice(device.ID)
	}
	stored.Type = device.Type
	stored.Location = device.Location
	stored.Enabled = device.Enabled
	stored.PlantID = device.PlantID
	r.state.devices[device.ID] = stored
	return nil
}

func (r *memoryRepo) ListDevicesByPlant(_ context.Context, plantID string) ([]Device, error) {
	var out []Device
	for _, d := range r.state.devices {
		if d.PlantID != nil && *d.PlantID == plantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepo) CreatePlant(_ context.Context, plant *Plant) error {
	if plant.ID == "" {
		plant.ID = uuid.NewString()
	}
	if _, exists := r.state.plants[plant.ID]; exists {
		return NewError(ErrConflict, "plant already exists").WithPlant(plant.ID)
	}
	if plant.CreatedAt.IsZero() {
		plant.CreatedAt = time.Now().UTC()
	}
	r.state.plants[plant.ID] = *plant
	return nil
}

func (r *memoryRepo) GetPlant(_ context.Context, plantID string) (*Plant, error) {
	plant, ok := r.state.plants[plantID]
	if !ok {
		return nil, NewError(ErrNotFound, "plant not found").WithPlant(plantID)
	}
	return &plant, nil
}

func (r *memoryRepo) ListPlants(_ context.Context, ownerUserID string) ([]Plant, error) {
	var out []Plant
	for _, p := range r.state.plants {
		if ownerUserID != "" && (p.OwnerUserID == nil || *p.OwnerUserID != ownerUserID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepo) SavePlant(_ context.Context, plant *Plant) error {
	stored, ok := r.state.plants[plant.ID]
	if !ok {
		return NewError(ErrNotFound, "plant not found").WithPlant(plant.ID)
	}
	stored.Name = plant.Name
	stored.Location = plant.Location
	stored.ImageURL = plant.ImageURL
	r.state.plants[plant.ID] = stored
	return nil
}

func (r *memoryRepo) DeletePlant(_ context.Context, plantID string) (bool, error) {
	if _, ok := r.state.plants[plantID]; !ok {
		return false, nil
	}
	for id, d := range r.state.devices {
		if d.PlantID != nil && *d.PlantID == plantID {
			d.PlantID = nil
			r.state.devices[id] = d
		}
	}
	delete(r.state.plants, plantID)
	return true, nil
}

func (r *memoryRepo) InsertAudit(_ context.Context, entry *AssociationAuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	r.state.audit = append(r.state.audit, *entry)
	return nil
}

func (r *memoryRepo) ListAudit(_ context.Context, filter AuditLogFilter) ([]AssociationAuditLog, error) {
	var matched []AssociationAuditLog
	for i := len(r.state.audit) - 1; i >= 0; i-- {
		if filter.Match(r.state.audit[i]) {
			matched = append(matched, r.state.audit[i])
		}
	}
	offset := max(filter.Offset, 0)
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit := filter.effectiveLimit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
