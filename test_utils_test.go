package devicekit

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/stretchr/testify/require"
)

// TestDataHelper provides utilities for setting up test data
type TestDataHelper struct {
	service *Service
	photos  *MemoryPhotoStore
	ctx     context.Context
	t       *testing.T
}

// NewTestDataHelper creates a helper over a fresh in-memory store with an
// in-memory photo store.
func NewTestDataHelper(t *testing.T) *TestDataHelper {
	photos := NewMemoryPhotoStore()
	return &TestDataHelper{
		service: NewService(NewMemoryStore(), WithPhotoStore(photos)),
		photos:  photos,
		ctx:     context.Background(),
		t:       t,
	}
}

// NewDatabaseTestDataHelper creates a helper over the test database, or
// skips the test when it is not available.
func NewDatabaseTestDataHelper(t *testing.T) *TestDataHelper {
	if !requireDatabase(t) {
		return nil
	}

	ctx := context.Background()
	db, err := setupTestDatabase(ctx)
	require.NoError(t, err, "failed to setup test database")
	t.Cleanup(func() { db.Close() })

	photos := NewMemoryPhotoStore()
	return &TestDataHelper{
		service: NewService(NewPostgresStore(db.Bun()), WithPhotoStore(photos)),
		photos:  photos,
		ctx:     ctx,
		t:       t,
	}
}

var testSeq atomic.Int64

// CreateTestUser creates a test user with a unique ID
func (h *TestDataHelper) CreateTestUser(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), testSeq.Add(1))
}

// CreateTestDevice registers a device with a unique unique_id.
func (h *TestDataHelper) CreateTestDevice(deviceType string) *Device {
	h.t.Helper()
	device, err := h.service.RegisterDevice(h.ctx, DeviceRegistration{
		UniqueID: h.CreateTestUser("UID"),
		Type:     deviceType,
	})
	require.NoError(h.t, err)
	return device
}

// CreateTestPlant creates a plant owned by ownerID.
func (h *TestDataHelper) CreateTestPlant(ownerID, name string) *Plant {
	h.t.Helper()
	plant, err := h.service.CreatePlant(h.ctx, ownerID, name, nil)
	require.NoError(h.t, err)
	return plant
}

// Associate creates an association and fails the test on error.
func (h *TestDataHelper) Associate(userID, deviceID string, role Role) *UserDevice {
	h.t.Helper()
	assoc, err := h.service.Associate(h.ctx, userID, deviceID, nil, role)
	require.NoError(h.t, err)
	return assoc
}

// AssertPermissionGranted asserts that identity holds at least minRole on deviceID.
func (h *TestDataHelper) AssertPermissionGranted(identity Identity, deviceID string, minRole Role) {
	h.t.Helper()
	ok, err := h.service.HasPermission(h.ctx, identity, deviceID, minRole)
	require.NoError(h.t, err)
	require.True(h.t, ok, "expected %s to hold %s on %s", identity.UserID, minRole, deviceID)
}

// AssertPermissionDenied asserts that identity does not hold minRole on deviceID.
func (h *TestDataHelper) AssertPermissionDenied(identity Identity, deviceID string, minRole Role) {
	h.t.Helper()
	ok, err := h.service.HasPermission(h.ctx, identity, deviceID, minRole)
	require.NoError(h.t, err)
	require.False(h.t, ok, "expected %s not to hold %s on %s", identity.UserID, minRole, deviceID)
}

// AssertAssociationCount asserts how many users are associated with deviceID.
func (h *TestDataHelper) AssertAssociationCount(deviceID string, expected int) {
	h.t.Helper()
	assocs, err := h.service.ListDeviceUsers(h.ctx, deviceID)
	require.NoError(h.t, err)
	require.Len(h.t, assocs, expected)
}

// isDatabaseAvailable checks if the test database is available
func isDatabaseAvailable() bool {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		return false
	}

	db, err := dbkit.New(dbkit.Config{URL: dbURL})
	if err != nil {
		return false
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.IsHealthy(ctx)
}

// requireDatabase skips the test if database is not available
// Use this as: if !requireDatabase(t) { return }
func requireDatabase(t testing.TB) bool {
	t.Helper()
	if !isDatabaseAvailable() {
		t.Log("Database not available - set TEST_DATABASE_URL to run this test")
		t.Skip("database not available")
		return false
	}
	return true
}

// setupTestDatabase connects to the test database and runs migrations
func setupTestDatabase(ctx context.Context) (*dbkit.DBKit, error) {
	db, err := dbkit.New(dbkit.Config{URL: os.Getenv("TEST_DATABASE_URL")})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if _, err := db.Migrate(ctx, Migrations()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}
