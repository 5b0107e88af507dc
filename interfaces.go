package devicekit

import (
	"context"
	"io"
)

// Repository is the persistence port for devices, plants and associations.
// Lookups of a single record return an error matching ErrNotFound when the
// record does not exist.
type Repository interface {
	AssociationRepository
	CatalogRepository
	AuditRepository
}

// AssociationRepository owns the (user, device, role) triples.
type AssociationRepository interface {
	GetAssociation(ctx context.Context, userID, deviceID string) (*UserDevice, error)
	// CreateAssociation returns an error matching ErrAssociationExists when
	// the pair is already present.
	CreateAssociation(ctx context.Context, assoc *UserDevice) error
	DeleteAssociation(ctx context.Context, userID, deviceID string) (bool, error)
	ListDeviceAssociations(ctx context.Context, deviceID string) ([]UserDevice, error)
	ListDevicesForUser(ctx context.Context, userID string, filter DeviceFilter) ([]DeviceView, error)
}

// CatalogRepository owns device and plant records.
type CatalogRepository interface {
	CreateDevice(ctx context.Context, device *Device) error
	GetDevice(ctx context.Context, deviceID string) (*Device, error)
	// LockDevice is GetDevice that also holds the device row until the
	// enclosing transaction ends.
	LockDevice(ctx context.Context, deviceID string) (*Device, error)
	// ListDevices returns every registered device, oldest first.
	ListDevices(ctx context.Context) ([]Device, error)
	// SaveDevice writes the mutable device fields: type, location, enabled and plant.
	SaveDevice(ctx context.Context, device *Device) error
	ListDevicesByPlant(ctx context.Context, plantID string) ([]Device, error)

	CreatePlant(ctx context.Context, plant *Plant) error
	GetPlant(ctx context.Context, plantID string) (*Plant, error)
	// ListPlants returns every plant, or only those owned by ownerUserID when it is set.
	ListPlants(ctx context.Context, ownerUserID string) ([]Plant, error)
	SavePlant(ctx context.Context, plant *Plant) error
	// DeletePlant removes a plant and clears the plant reference of its devices.
	DeletePlant(ctx context.Context, plantID string) (bool, error)
}

// AuditRepository stores association audit entries.
type AuditRepository interface {
	InsertAudit(ctx context.Context, entry *AssociationAuditLog) error
	ListAudit(ctx context.Context, filter AuditLogFilter) ([]AssociationAuditLog, error)
}

// Store is a Repository that can run a unit of work atomically.
// fn receives a Repository bound to the transaction; if fn returns an error
// nothing it wrote is kept.
type Store interface {
	Repository
	Transaction(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

// PhotoStore keeps plant photos in object storage.
type PhotoStore interface {
	Put(ctx context.Context, key string, content io.Reader, size int64, contentType string) error
	// Get returns the object and its content type. A missing key yields an
	// error matching ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
}

// IdentityResolver turns a bearer credential into an Identity.
// Implementations return an error matching ErrUnauthenticated for any
// credential they cannot validate.
type IdentityResolver interface {
	Resolve(ctx context.Context, bearer string) (Identity, error)
}

// TransactionMonitor defines the transaction monitoring interface
type TransactionMonitor interface {
	GetTransactionMetrics() TransactionMetrics
	ResetTransactionMetrics()
	IsTransactionHealthy() bool
}
